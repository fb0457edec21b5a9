package editor

import (
	"github.com/quillboard/quillboard/internal/protocol"
	"github.com/quillboard/quillboard/pkg/document"
)

// Selection describes a contiguous run of symbols authored by the same
// user, as returned by GenerateExtraSelections — the data a client uses to
// paint "who typed what" highlighting.
type Selection struct {
	AuthorID uint32
	Start    int
	End      int
}

// DocumentEditor is the LOCAL/REMOTE operation surface over a Document,
// generalized from the source's DocumentEditor: LOCAL methods take a
// plain-text index (as a cursor in a widget would) and mint whatever the
// CRDT needs; REMOTE methods take the identifiers a wire message already
// carries. Every mutation is mirrored to View.
//
// bulkInsert and bulkDelete are deliberately not implemented: the source
// leaves them as empty stubs, and paste/multi-delete is out of scope here
// too — large insertions are just a sequence of AddCharAtIndex calls.
type DocumentEditor struct {
	Doc      *document.Document
	View     View
	AuthorID uint32
}

// New returns an editor over doc acting on behalf of authorID. View
// defaults to NoopView when nil.
func New(doc *document.Document, authorID uint32, view View) *DocumentEditor {
	if view == nil {
		view = NoopView{}
	}
	return &DocumentEditor{Doc: doc, View: view, AuthorID: authorID}
}

// AddCharAtIndex is LOCAL: insert ch at a cursor index.
func (e *DocumentEditor) AddCharAtIndex(index int, ch rune, format protocol.CharFormat) document.Symbol {
	sym := e.Doc.AddCharAtIndex(index, ch, e.AuthorID, format)
	e.View.CharInserted(index, sym)
	return sym
}

// DeleteCharAtIndex is LOCAL: remove the symbol at a cursor index.
func (e *DocumentEditor) DeleteCharAtIndex(index int) document.Symbol {
	sym := e.Doc.RemoveAtIndex(index)
	e.View.CharRemoved(index, sym.Pos)
	return sym
}

// AddSymbol is REMOTE: apply a CharInsert message received from a peer.
// isLast marks sym as the view's own trailing terminator: the view always
// maintains one trailing newline natively, so the Document is still
// updated but the view is not notified of this particular insertion.
func (e *DocumentEditor) AddSymbol(sym document.Symbol, isLast bool) bool {
	if !e.Doc.AddSymbol(sym) {
		return false
	}
	if isLast {
		return true
	}
	idx, _ := e.Doc.IndexOf(sym.Pos)
	e.View.CharInserted(idx, sym)
	return true
}

// RemoveSymbol is REMOTE: apply a CharDelete message received from a peer.
func (e *DocumentEditor) RemoveSymbol(pos document.Position) bool {
	idx, found := e.Doc.IndexOf(pos)
	if !found {
		return false
	}
	e.Doc.RemoveSymbol(pos)
	e.View.CharRemoved(idx, pos)
	return true
}

// ChangeSymbolFormat is LOCAL: merge format into every symbol in [start,end).
func (e *DocumentEditor) ChangeSymbolFormat(start, end int, format protocol.CharFormat) []document.Position {
	changed := e.Doc.ChangeSymbolFormat(start, end, format)
	if len(changed) > 0 {
		e.View.CharFormatted(changed, format)
	}
	return changed
}

// ApplySymbolFormat is REMOTE: apply a CharFormat message. Idempotent.
func (e *DocumentEditor) ApplySymbolFormat(pos document.Position, format protocol.CharFormat) bool {
	if !e.Doc.ApplySymbolFormat(pos, format) {
		return false
	}
	e.View.CharFormatted([]document.Position{pos}, format)
	return true
}

// ChangeBlockFormat is LOCAL: merge format into every block overlapping
// [start, end].
func (e *DocumentEditor) ChangeBlockFormat(start, end int, format protocol.BlockFormat) []document.TextBlockID {
	changed := e.Doc.ChangeBlockFormat(start, end, format)
	if len(changed) > 0 {
		e.View.BlockFormatted(changed, format)
	}
	return changed
}

// ChangeBlockAlignment is LOCAL sugar over ChangeBlockFormat.
func (e *DocumentEditor) ChangeBlockAlignment(start, end int, alignment int64) []document.TextBlockID {
	return e.ChangeBlockFormat(start, end, protocol.Format{}.SetInt(protocol.PropAlignment, alignment))
}

// ChangeBlockLineHeight is LOCAL sugar over ChangeBlockFormat.
func (e *DocumentEditor) ChangeBlockLineHeight(start, end int, height float64, heightType int64) []document.TextBlockID {
	f := protocol.Format{}.
		SetFloat(protocol.PropLineHeight, height).
		SetInt(protocol.PropLineHeightType, heightType)
	return e.ChangeBlockFormat(start, end, f)
}

// ApplyBlockFormat is REMOTE: apply a BlockEdit format message. Idempotent.
func (e *DocumentEditor) ApplyBlockFormat(id document.TextBlockID, format protocol.BlockFormat) bool {
	if !e.Doc.ApplyBlockFormat(id, format) {
		return false
	}
	e.View.BlockFormatted([]document.TextBlockID{id}, format)
	return true
}

// CreateList is LOCAL: start a new, empty list.
func (e *DocumentEditor) CreateList(format protocol.ListFormat) *document.TextList {
	return e.Doc.CreateList(e.AuthorID, format)
}

// AssignBlockToList is LOCAL: add a block to an existing list.
func (e *DocumentEditor) AssignBlockToList(blockID document.TextBlockID, listID document.TextListID) bool {
	return e.ListEditBlock(blockID, &listID)
}

// RemoveBlockFromList is LOCAL: detach a block from whatever list it is in.
func (e *DocumentEditor) RemoveBlockFromList(blockID document.TextBlockID) bool {
	return e.ListEditBlock(blockID, nil)
}

// ListEditBlock is both LOCAL and REMOTE (ListEdit carries the list id on
// the wire either way, see document.Document.EditBlockList). Idempotent.
func (e *DocumentEditor) ListEditBlock(blockID document.TextBlockID, listID *document.TextListID) bool {
	if !e.Doc.EditBlockList(blockID, listID) {
		return false
	}
	e.View.ListChanged(blockID, listID)
	return true
}

func containsBlock(ids []document.TextBlockID, id document.TextBlockID) bool {
	for _, x := range ids {
		if x == id {
			return true
		}
	}
	return false
}

// ToggleList is LOCAL: apply or remove list membership for every block in
// [start, end]. style == protocol.ListStyleUndefined removes the selected
// blocks from whatever list they're in; any other style gathers the
// selected blocks into a single freshly created list carrying that style.
//
// A selected run that only covers part of an existing list splits that
// list: the untouched trailing blocks move to a new list of their own so
// the toggle doesn't disturb them, mirroring the source's selectionBegun/
// selectionEnded walk over each touched list.
func (e *DocumentEditor) ToggleList(start, end int, style int64) {
	blockIDs := e.Doc.GetBlocksBetween(start, end)
	e.splitTrailingMembers(blockIDs)

	if style == int64(protocol.ListStyleUndefined) {
		for _, id := range blockIDs {
			e.RemoveBlockFromList(id)
		}
		return
	}

	format := protocol.Format{}.SetInt(protocol.PropListStyle, style)
	newList := e.Doc.CreateList(e.AuthorID, format)
	for _, id := range blockIDs {
		e.AssignBlockToList(id, newList.ID)
	}
}

// splitTrailingMembers walks every list touched by blockIDs and, for each
// one, moves the run of members after the last selected member into a
// fresh list of its own (inheriting the old list's format) so that
// untouched trailing blocks are never disturbed by whatever ToggleList
// does next to the selected blocks, whether that's reassignment to a new
// list or plain removal.
func (e *DocumentEditor) splitTrailingMembers(blockIDs []document.TextBlockID) {
	touched := map[document.TextListID]bool{}
	for _, id := range blockIDs {
		block, ok := e.Doc.Block(id)
		if !ok || block.ListID == nil {
			continue
		}
		lid := *block.ListID
		if touched[lid] {
			continue
		}
		touched[lid] = true

		list, ok := e.Doc.List(lid)
		if !ok {
			continue
		}
		lastSelected := -1
		for i, m := range list.Members {
			if containsBlock(blockIDs, m) {
				lastSelected = i
			}
		}
		if lastSelected >= 0 && lastSelected+1 < len(list.Members) {
			trailing := append([]document.TextBlockID{}, list.Members[lastSelected+1:]...)
			newList := e.Doc.CreateList(e.AuthorID, list.Format.Clone())
			for _, m := range trailing {
				e.ListEditBlock(m, &newList.ID)
			}
		}
	}
}

// GenerateExtraSelections groups the document's symbols into contiguous
// runs by author, for a client to render as per-author highlighting.
func (e *DocumentEditor) GenerateExtraSelections() []Selection {
	n := e.Doc.Len()
	if n == 0 {
		return nil
	}
	var sels []Selection
	start := 0
	author := e.Doc.SymbolAt(0).AuthorID
	for i := 1; i < n; i++ {
		a := e.Doc.SymbolAt(i).AuthorID
		if a != author {
			sels = append(sels, Selection{AuthorID: author, Start: start, End: i})
			start = i
			author = a
		}
	}
	sels = append(sels, Selection{AuthorID: author, Start: start, End: n})
	return sels
}
