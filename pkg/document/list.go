package document

import "github.com/quillboard/quillboard/internal/protocol"

// TextListID identifies a list the same way TextBlockID identifies a
// block: by the (Counter, AuthorID) pair assigned when the list was
// created. Unlike blocks, ListEdit messages carry the list id directly on
// the wire, so no convergence trick is needed here — the counter is simply
// how the authoring replica names its own lists.
type TextListID struct {
	Counter  uint64
	AuthorID uint32
}

// TextList carries list-level format (style, start number, indent) and
// the ordered membership of blocks currently assigned to it.
type TextList struct {
	ID      TextListID
	Format  protocol.ListFormat
	Members []TextBlockID
}

// Wire returns the protocol.ListRef wire form of this id.
func (id TextListID) Wire() protocol.ListRef {
	return protocol.ListRef{Counter: id.Counter, AuthorID: id.AuthorID}
}

// ListIDFromWire is the inverse of TextListID.Wire.
func ListIDFromWire(r protocol.ListRef) TextListID {
	return TextListID{Counter: r.Counter, AuthorID: r.AuthorID}
}

func (l *TextList) clone() *TextList {
	if l == nil {
		return nil
	}
	cp := &TextList{ID: l.ID, Format: l.Format.Clone()}
	cp.Members = make([]TextBlockID, len(l.Members))
	copy(cp.Members, l.Members)
	return cp
}

func (l *TextList) indexOf(id TextBlockID) int {
	for i, m := range l.Members {
		if m == id {
			return i
		}
	}
	return -1
}

func (l *TextList) removeMember(id TextBlockID) {
	i := l.indexOf(id)
	if i < 0 {
		return
	}
	l.Members = append(l.Members[:i], l.Members[i+1:]...)
}
