package document

import "github.com/quillboard/quillboard/internal/protocol"

// Snapshot is the serializable form of a Document, written to and read
// from the database between server restarts. It captures every piece of
// state needed to resume editing exactly where the document left off,
// including the per-author counters (without which newly reconnecting
// replicas could mint TextBlockIDs that collide with ones already on
// disk).
type Snapshot struct {
	URI           string            `json:"uri"`
	Symbols       []Symbol          `json:"symbols"`
	Blocks        []TextBlock       `json:"blocks"`
	Lists         []TextList        `json:"lists"`
	BlockCounters map[uint32]uint64 `json:"blockCounters"`
	ListCounters  map[uint32]uint64 `json:"listCounters"`
}

// Snapshot captures the current state of the document for persistence.
func (d *Document) Snapshot() Snapshot {
	blocks := make([]TextBlock, 0, len(d.blocks))
	for _, b := range d.blocks {
		blocks = append(blocks, *b.clone())
	}
	lists := make([]TextList, 0, len(d.lists))
	for _, l := range d.lists {
		lists = append(lists, *l.clone())
	}
	symbols := make([]Symbol, len(d.symbols))
	for i, s := range d.symbols {
		symbols[i] = s.clone()
	}
	blockCounters := make(map[uint32]uint64, len(d.blockCounters))
	for k, v := range d.blockCounters {
		blockCounters[k] = v
	}
	listCounters := make(map[uint32]uint64, len(d.listCounters))
	for k, v := range d.listCounters {
		listCounters[k] = v
	}
	return Snapshot{
		URI:           d.URI,
		Symbols:       symbols,
		Blocks:        blocks,
		Lists:         lists,
		BlockCounters: blockCounters,
		ListCounters:  listCounters,
	}
}

// Restore rebuilds a Document from a persisted Snapshot.
func Restore(snap Snapshot) *Document {
	d := &Document{
		URI:           snap.URI,
		blocks:        make(map[TextBlockID]*TextBlock, len(snap.Blocks)),
		lists:         make(map[TextListID]*TextList, len(snap.Lists)),
		blockByPos:    make(map[string]TextBlockID, len(snap.Blocks)),
		blockCounters: make(map[uint32]uint64, len(snap.BlockCounters)),
		listCounters:  make(map[uint32]uint64, len(snap.ListCounters)),
	}
	d.symbols = make([]Symbol, len(snap.Symbols))
	copy(d.symbols, snap.Symbols)
	for k, v := range snap.BlockCounters {
		d.blockCounters[k] = v
	}
	for k, v := range snap.ListCounters {
		d.listCounters[k] = v
	}
	for _, b := range snap.Blocks {
		cp := b.clone()
		d.blocks[cp.ID] = cp
		d.blockByPos[cp.NewlinePos.key()] = cp.ID
	}
	for _, l := range snap.Lists {
		d.lists[l.ID] = l.clone()
	}
	if len(d.symbols) == 0 {
		// Never persisted empty; fall back to a fresh sentinel block so
		// invariant 2 still holds.
		pos := NewPositionBetween(Begin, End, protocol.SystemAuthorID)
		d.insertSymbolAndBlock(Symbol{Char: '\n', AuthorID: protocol.SystemAuthorID, Pos: pos})
	}
	return d
}
