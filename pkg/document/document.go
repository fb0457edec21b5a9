package document

import (
	"sort"

	"github.com/quillboard/quillboard/internal/protocol"
)

// Document is the CRDT state for one collaboratively edited file: a
// Position-ordered run of Symbols, the TextBlocks those symbols' newlines
// terminate, and the TextLists some of those blocks belong to.
//
// A Document is not safe for concurrent use on its own — exactly like the
// kolabpad state it descends from, serialization is the caller's job (a
// Workspace holds the one Document that matters and applies operations to
// it one at a time).
//
// Six invariants hold across every operation defined here:
//  1. symbols is always sorted by Position.
//  2. the document always ends with at least one newline symbol (the
//     sentinel block is never fully removable).
//  3. every TextBlock present in blocks is terminated by exactly one
//     newline symbol in symbols, and vice versa.
//  4. a block's ListID is non-nil iff it appears in that list's Members.
//  5. blockCounters/listCounters are monotonically increasing per author
//     and are never reused, so (Counter, AuthorID) pairs are unique.
//  6. REMOTE operations (AddSymbol, RemoveSymbol, ApplySymbolFormat,
//     ApplyBlockFormat, EditBlockList) are idempotent: applying the same
//     message twice leaves the document unchanged the second time.
type Document struct {
	URI string

	symbols []Symbol
	blocks  map[TextBlockID]*TextBlock
	lists   map[TextListID]*TextList

	// blockByPos recovers a newline symbol's TextBlockID from its
	// Position without a scan, used when a symbol is removed. Keyed by
	// Position.key() since Position itself is not comparable.
	blockByPos map[string]TextBlockID

	blockCounters map[uint32]uint64
	listCounters  map[uint32]uint64
}

// NewDocument creates a document containing a single empty block: the
// sentinel trailing newline every document must have per invariant 2.
func NewDocument(uri string) *Document {
	d := &Document{
		URI:           uri,
		blocks:        make(map[TextBlockID]*TextBlock),
		lists:         make(map[TextListID]*TextList),
		blockByPos:    make(map[string]TextBlockID),
		blockCounters: make(map[uint32]uint64),
		listCounters:  make(map[uint32]uint64),
	}
	pos := NewPositionBetween(Begin, End, protocol.SystemAuthorID)
	sym := Symbol{Char: '\n', AuthorID: protocol.SystemAuthorID, Pos: pos}
	d.insertSymbolAndBlock(sym)
	return d
}

// Len returns the number of symbols (including newlines) in the document.
func (d *Document) Len() int { return len(d.symbols) }

// Text returns the document's full plain-text contents.
func (d *Document) Text() string {
	out := make([]rune, len(d.symbols))
	for i, s := range d.symbols {
		out[i] = s.Char
	}
	return string(out)
}

// SymbolAt returns the symbol at a plain-text index.
func (d *Document) SymbolAt(index int) Symbol { return d.symbols[index] }

// IndexOf returns the plain-text index of the symbol at pos, if present.
func (d *Document) IndexOf(pos Position) (int, bool) { return d.indexOfPos(pos) }

func (d *Document) neighbors(index int) (Position, Position) {
	before := Begin
	if index > 0 {
		before = d.symbols[index-1].Pos
	}
	after := End
	if index < len(d.symbols) {
		after = d.symbols[index].Pos
	}
	return before, after
}

func (d *Document) indexOfPos(pos Position) (int, bool) {
	i := sort.Search(len(d.symbols), func(i int) bool {
		return !d.symbols[i].Pos.Less(pos)
	})
	if i < len(d.symbols) && d.symbols[i].Pos.Equal(pos) {
		return i, true
	}
	return i, false
}

func (d *Document) nextBlockCounter(authorID uint32) uint64 {
	d.blockCounters[authorID]++
	return d.blockCounters[authorID]
}

func (d *Document) nextListCounter(authorID uint32) uint64 {
	d.listCounters[authorID]++
	return d.listCounters[authorID]
}

// insertSymbolAndBlock is the single place a newline symbol's TextBlockID
// is minted, shared by both the LOCAL and REMOTE insertion paths so every
// replica assigns the same id to the same newline (see TextBlockID).
func (d *Document) insertSymbolAndBlock(sym Symbol) (int, *TextBlock) {
	i := sort.Search(len(d.symbols), func(i int) bool {
		return sym.Pos.Less(d.symbols[i].Pos)
	})
	d.symbols = append(d.symbols, Symbol{})
	copy(d.symbols[i+1:], d.symbols[i:])
	d.symbols[i] = sym

	var block *TextBlock
	if sym.IsNewline() {
		id := TextBlockID{Counter: d.nextBlockCounter(sym.AuthorID), AuthorID: sym.AuthorID}
		block = &TextBlock{ID: id, NewlinePos: sym.Pos}
		d.blocks[id] = block
		d.blockByPos[sym.Pos.key()] = id
	}
	return i, block
}

// AddCharAtIndex is the LOCAL counterpart: it mints a fresh Position
// between the symbols straddling index and inserts ch there. Returns the
// minted Symbol so the caller can broadcast it as a CharInsert message.
func (d *Document) AddCharAtIndex(index int, ch rune, authorID uint32, format protocol.CharFormat) Symbol {
	before, after := d.neighbors(index)
	pos := NewPositionBetween(before, after, authorID)
	sym := Symbol{Char: ch, Format: format.Clone(), AuthorID: authorID, Pos: pos}
	d.insertSymbolAndBlock(sym)
	return sym
}

// AddSymbol is the REMOTE counterpart: inserts a symbol whose Position was
// minted by its originating author. A second delivery of the identical
// symbol is a no-op (invariant 6).
func (d *Document) AddSymbol(sym Symbol) bool {
	if _, ok := d.indexOfPos(sym.Pos); ok {
		return false
	}
	d.insertSymbolAndBlock(sym)
	return true
}

func (d *Document) removeAt(i int) Symbol {
	sym := d.symbols[i]
	d.symbols = append(d.symbols[:i], d.symbols[i+1:]...)
	if sym.IsNewline() {
		if id, ok := d.blockByPos[sym.Pos.key()]; ok {
			delete(d.blockByPos, sym.Pos.key())
			d.detachBlock(id)
		}
	}
	return sym
}

func (d *Document) detachBlock(id TextBlockID) {
	block, ok := d.blocks[id]
	if !ok {
		return
	}
	if block.ListID != nil {
		if l, ok := d.lists[*block.ListID]; ok {
			l.removeMember(id)
			if len(l.Members) == 0 {
				delete(d.lists, *block.ListID)
			}
		}
	}
	delete(d.blocks, id)
}

// RemoveAtIndex is the LOCAL counterpart: removes the symbol at index and
// returns it so the caller can broadcast its Position as a CharDelete
// message.
func (d *Document) RemoveAtIndex(index int) Symbol {
	return d.removeAt(index)
}

// RemoveSymbol is the REMOTE counterpart: removes the symbol at pos if
// still present. A second delivery (the symbol already gone) is a no-op.
func (d *Document) RemoveSymbol(pos Position) bool {
	i, ok := d.indexOfPos(pos)
	if !ok {
		return false
	}
	d.removeAt(i)
	return true
}

func mergeFormat(base, patch protocol.Format) (protocol.Format, bool) {
	merged := base.Clone()
	if merged == nil {
		merged = protocol.Format{}
	}
	dirty := false
	for k, v := range patch {
		if existing, ok := merged[k]; !ok || string(existing) != string(v) {
			merged[k] = v
			dirty = true
		}
	}
	return merged, dirty
}

// ChangeSymbolFormat is the LOCAL counterpart: merges format into every
// symbol in [start, end), returning the Positions that actually changed so
// the caller can broadcast one CharFormat message per changed symbol
// (format operations are broadcast to every participant, the originator
// included, to keep a single global order).
func (d *Document) ChangeSymbolFormat(start, end int, format protocol.CharFormat) []Position {
	var changed []Position
	if end > len(d.symbols) {
		end = len(d.symbols)
	}
	for i := start; i < end; i++ {
		merged, dirty := mergeFormat(d.symbols[i].Format, format)
		if dirty {
			d.symbols[i].Format = merged
			changed = append(changed, d.symbols[i].Pos)
		}
	}
	return changed
}

// ApplySymbolFormat is the REMOTE counterpart: replaces the format of the
// symbol at pos. Idempotent: if the symbol's format already equals format,
// nothing changes (mirrors the source's early-out before reapplying an
// already-applied format).
func (d *Document) ApplySymbolFormat(pos Position, format protocol.CharFormat) bool {
	i, ok := d.indexOfPos(pos)
	if !ok {
		return false
	}
	if d.symbols[i].Format.Equal(format) {
		return false
	}
	d.symbols[i].Format = format.Clone()
	return true
}

// Block looks up a block by id.
func (d *Document) Block(id TextBlockID) (*TextBlock, bool) {
	b, ok := d.blocks[id]
	return b, ok
}

// BlockContaining returns the id of the block the symbol at index belongs
// to: the block terminated by the first newline at or after index.
func (d *Document) BlockContaining(index int) TextBlockID {
	for i := index; i < len(d.symbols); i++ {
		if d.symbols[i].IsNewline() {
			if id, ok := d.blockByPos[d.symbols[i].Pos.key()]; ok {
				return id
			}
		}
	}
	panic("document: no terminating newline found, invariant 2 violated")
}

// GetBlocksBetween returns, in document order, the ids of every block that
// overlaps the text range [start, end] — including the block containing
// start even if its own newline lies after end.
func (d *Document) GetBlocksBetween(start, end int) []TextBlockID {
	if len(d.symbols) == 0 {
		return nil
	}
	if start < 0 {
		start = 0
	}
	if end >= len(d.symbols) {
		end = len(d.symbols) - 1
	}
	var ids []TextBlockID
	i := start
	for {
		id := d.BlockContaining(i)
		ids = append(ids, id)
		block := d.blocks[id]
		ni, ok := d.indexOfPos(block.NewlinePos)
		if !ok || ni >= len(d.symbols)-1 || ni >= end {
			break
		}
		i = ni + 1
	}
	return ids
}

// ChangeBlockFormat is the LOCAL counterpart: merges format into every
// block overlapping [start, end] and returns the ids that changed so the
// caller can broadcast one BlockEdit-style message per block.
func (d *Document) ChangeBlockFormat(start, end int, format protocol.BlockFormat) []TextBlockID {
	var changed []TextBlockID
	for _, id := range d.GetBlocksBetween(start, end) {
		block := d.blocks[id]
		merged, dirty := mergeFormat(block.Format, format)
		if dirty {
			block.Format = merged
			changed = append(changed, id)
		}
	}
	return changed
}

// ApplyBlockFormat is the REMOTE counterpart: idempotent, mirrors
// ApplySymbolFormat at block granularity.
func (d *Document) ApplyBlockFormat(id TextBlockID, format protocol.BlockFormat) bool {
	block, ok := d.blocks[id]
	if !ok {
		return false
	}
	if block.Format.Equal(format) {
		return false
	}
	block.Format = format.Clone()
	return true
}

// CreateList is the LOCAL counterpart: mints a fresh TextListID and an
// empty list with the given format. Blocks are assigned to it afterward
// via EditBlockList.
func (d *Document) CreateList(authorID uint32, format protocol.ListFormat) *TextList {
	id := TextListID{Counter: d.nextListCounter(authorID), AuthorID: authorID}
	l := &TextList{ID: id, Format: format.Clone()}
	d.lists[id] = l
	return l
}

// List looks up a list by id.
func (d *Document) List(id TextListID) (*TextList, bool) {
	l, ok := d.lists[id]
	return l, ok
}

// ApplyListFormat is the REMOTE counterpart to a list's own format (style,
// start number, indent): merges the wire's ListEditMsg.Format into the
// list's stored format. Idempotent, mirroring ApplyBlockFormat. A list
// lazily created by EditBlockList starts with a nil Format, so the first
// ListEdit carrying that list id is what actually gives it a style.
func (d *Document) ApplyListFormat(id TextListID, format protocol.ListFormat) bool {
	l, ok := d.lists[id]
	if !ok || len(format) == 0 {
		return false
	}
	merged, dirty := mergeFormat(l.Format, format)
	if !dirty {
		return false
	}
	l.Format = merged
	return true
}

// EditBlockList is both the LOCAL and REMOTE list-membership operation
// (ListEdit on the wire carries the list id explicitly, so unlike blocks
// there is no convergence concern splitting LOCAL from REMOTE here).
// Idempotent: re-assigning a block to the list it already belongs to (or
// re-clearing an already-unlisted block) is a no-op, mirroring the
// source's early-out when the block is gone or already matching.
func (d *Document) EditBlockList(blockID TextBlockID, listID *TextListID) bool {
	block, ok := d.blocks[blockID]
	if !ok {
		return false
	}
	switch {
	case block.ListID == nil && listID == nil:
		return false
	case block.ListID != nil && listID != nil && *block.ListID == *listID:
		return false
	}

	if block.ListID != nil {
		if old, ok := d.lists[*block.ListID]; ok {
			old.removeMember(blockID)
			if len(old.Members) == 0 {
				delete(d.lists, *block.ListID)
			}
		}
	}

	if listID != nil {
		l, ok := d.lists[*listID]
		if !ok {
			l = &TextList{ID: *listID}
			d.lists[*listID] = l
		}
		if l.indexOf(blockID) < 0 {
			l.Members = append(l.Members, blockID)
		}
		id := *listID
		block.ListID = &id
	} else {
		block.ListID = nil
	}
	return true
}
