package document

import "github.com/quillboard/quillboard/internal/protocol"

// Symbol is a single character cell. Its identity is the pair (Pos,
// AuthorID) — immutable once minted — while Format may be changed in place
// by a later CharFormat operation without affecting ordering.
type Symbol struct {
	Char     rune
	Format   protocol.CharFormat
	AuthorID uint32
	Pos      Position
}

// IsNewline reports whether this symbol terminates a TextBlock. A document
// always carries exactly one newline symbol per block, including the
// sentinel trailing newline created with the document itself.
func (s Symbol) IsNewline() bool { return s.Char == '\n' }

func (s Symbol) clone() Symbol {
	s.Format = s.Format.Clone()
	return s
}
