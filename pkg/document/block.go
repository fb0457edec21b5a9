package document

import "github.com/quillboard/quillboard/internal/protocol"

// Wire returns the protocol.BlockRef wire form of this id.
func (id TextBlockID) Wire() protocol.BlockRef {
	return protocol.BlockRef{Counter: id.Counter, AuthorID: id.AuthorID}
}

// BlockIDFromWire is the inverse of TextBlockID.Wire.
func BlockIDFromWire(r protocol.BlockRef) TextBlockID {
	return TextBlockID{Counter: r.Counter, AuthorID: r.AuthorID}
}

// TextBlockID identifies a block by the (Counter, AuthorID) pair of the
// newline symbol that terminates it: Counter is the ordinal of that
// newline among all newlines ever authored by AuthorID. Every replica
// derives the same Counter for the same newline because each author's own
// messages are delivered to every other replica in the order that author
// sent them (TCP/WebSocket per-connection ordering) and a Workspace
// serializes delivery to one consumer at a time — so "the Nth newline
// authored by A" names the same block everywhere without putting a block
// id on the wire.
type TextBlockID struct {
	Counter  uint64
	AuthorID uint32
}

// TextBlock carries the block-level format (alignment, line height,
// indent, margins) and, when the block is a member of a list, the id of
// that list.
type TextBlock struct {
	ID     TextBlockID
	Format protocol.BlockFormat
	ListID *TextListID

	// NewlinePos is the Position of the newline symbol terminating this
	// block, kept so the Document can go from block to symbol index
	// without a linear scan. Not part of the block's logical identity
	// (ID is), but persisted alongside it to rebuild that index on load.
	NewlinePos Position
}

func (b *TextBlock) clone() *TextBlock {
	if b == nil {
		return nil
	}
	cp := &TextBlock{ID: b.ID, Format: b.Format.Clone(), NewlinePos: b.NewlinePos}
	if b.ListID != nil {
		id := *b.ListID
		cp.ListID = &id
	}
	return cp
}

// InList reports whether the block currently belongs to a list.
func (b *TextBlock) InList() bool { return b.ListID != nil }
