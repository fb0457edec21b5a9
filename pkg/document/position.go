// Package document implements the fractional-position CRDT described by
// the symbol/block/list data model: an ordered sequence of character cells
// that converges under arbitrary interleaving of remote operations.
package document

import (
	"encoding/json"
	"fmt"
)

// Base is the digit radix used when minting new positions. A power of two
// near 64 keeps the common case (inserting into an empty gap) shallow.
const Base uint64 = 64

// level is one rung of a Position: a density digit plus the id of the
// author who minted it. Spec §3 describes a position as a plain digit
// array terminated by a single author id; that is exactly what a
// single-level Position looks like on the wire (see MarshalJSON). A
// Position grows a second level only when two authors independently mint
// the identical digit at the same depth between the same neighbors — at
// that point the
// digit-only tiebreak the spec describes is no longer sufficient to keep
// the density invariant, so each level carries its own author so a later
// insert can still land strictly between two such siblings.
type level struct {
	Digit  uint64
	Author uint32
}

// Position is a dense, totally-ordered identifier for a Symbol.
// Comparison is lexicographic level by level, each level compared first by
// Digit, then — only when digits tie — by Author.
type Position struct {
	levels []level
}

// Begin and End are the virtual sentinel positions bounding generation:
// nothing is ever inserted exactly at either value, they only serve as the
// "P" and "Q" arguments when inserting at the very start or end.
var (
	Begin = Position{levels: []level{{Digit: 0, Author: 0}}}
	End   = Position{levels: []level{{Digit: Base, Author: 0}}}
)

func levelAt(levels []level, i int, defDigit uint64, defAuthor uint32) (uint64, uint32) {
	if i < len(levels) {
		return levels[i].Digit, levels[i].Author
	}
	return defDigit, defAuthor
}

// Compare returns -1, 0 or 1 as p is less than, equal to, or greater than
// q. A Position shorter than the other is padded with (digit 0, author 0)
// for the comparison, same on both sides — this is never ambiguous in
// practice because every extra level a Position carries beyond another's
// was only appended once the two had already tied on every shallower
// level, so a real, non-zero level always wins the comparison.
func (p Position) Compare(q Position) int {
	n := len(p.levels)
	if len(q.levels) > n {
		n = len(q.levels)
	}
	for i := 0; i < n; i++ {
		pd, pa := levelAt(p.levels, i, 0, 0)
		qd, qa := levelAt(q.levels, i, 0, 0)
		if pd != qd {
			if pd < qd {
				return -1
			}
			return 1
		}
		if pa != qa {
			if pa < qa {
				return -1
			}
			return 1
		}
	}
	return 0
}

// Less reports whether p sorts strictly before q.
func (p Position) Less(q Position) bool { return p.Compare(q) < 0 }

// Equal reports whether p and q are the same position.
func (p Position) Equal(q Position) bool { return p.Compare(q) == 0 }

// Author returns the id of the user who minted the deepest (most recently
// appended) level of this position — the "authorId" the spec refers to as
// the position's trailing component.
func (p Position) Author() uint32 {
	if len(p.levels) == 0 {
		return 0
	}
	return p.levels[len(p.levels)-1].Author
}

// Clone returns a copy whose internal slice does not alias p's.
func (p Position) Clone() Position {
	out := make([]level, len(p.levels))
	copy(out, p.levels)
	return Position{levels: out}
}

// NewPositionBetween mints a fresh position R such that P < R < Q, per the
// digit-walk algorithm of spec §4.1: walk both positions level by level;
// the first depth with a digit gap of at least two picks a value strictly
// inside that gap and the walk is done. Absent a digit gap, the shared
// digit is kept and the walk goes one level deeper — UNLESS the two
// positions' authors already diverge at this tied digit (the collision
// case: two authors independently minted the same digit between the same
// neighbors), in which case an author gap is tried next, and failing that
// P's (digit, author) pair is carried forward unchanged and Q is treated
// as no longer constraining anything deeper (it was already determined
// greater at this shallower level). The final, deepest level minted always
// carries the calling author's id.
func NewPositionBetween(p, q Position, author uint32) Position {
	if !p.Less(q) {
		panic(fmt.Sprintf("document: NewPositionBetween requires p < q, got %v, %v", p, q))
	}

	var result []level
	qPassed := false
	for depth := 0; ; depth++ {
		pd, pa := levelAt(p.levels, depth, 0, 0)
		var qd uint64
		var qa uint32
		if qPassed {
			qd, qa = Base, ^uint32(0)
		} else {
			qd, qa = levelAt(q.levels, depth, Base, ^uint32(0))
		}

		if qd-pd > 1 {
			mid := pd + (qd-pd)/2
			result = append(result, level{Digit: mid, Author: author})
			return Position{levels: result}
		}

		if qd == pd {
			if !qPassed && qa > pa+1 {
				mid := pa + (qa-pa)/2
				result = append(result, level{Digit: pd, Author: mid})
				return Position{levels: result}
			}
			result = append(result, level{Digit: pd, Author: pa})
			if !qPassed && qa > pa {
				qPassed = true
			}
			continue
		}

		// qd == pd+1: no digit room, but we're still strictly inside P's
		// bucket; carry P's level forward and treat Q as passed.
		result = append(result, level{Digit: pd, Author: pa})
		qPassed = true
	}
}

// MarshalJSON encodes a Position as a flat array of uint64s: each level
// contributes its digit then its author, e.g. a single-level position
// [32, 1] reads exactly as spec §3's "[d1, ..., dk, authorId]" — a
// multi-level position (the rare collision case above) simply repeats the
// pattern, [d1, a1, d2, a2, ...].
func (p Position) MarshalJSON() ([]byte, error) {
	out := make([]uint64, 0, len(p.levels)*2)
	for _, lv := range p.levels {
		out = append(out, lv.Digit, uint64(lv.Author))
	}
	return json.Marshal(out)
}

// UnmarshalJSON decodes the flat [d1, a1, d2, a2, ...] array produced by
// MarshalJSON back into a Position.
func (p *Position) UnmarshalJSON(data []byte) error {
	var raw []uint64
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	if len(raw) == 0 || len(raw)%2 != 0 {
		return fmt.Errorf("document: malformed position %v", raw)
	}
	levels := make([]level, 0, len(raw)/2)
	for i := 0; i < len(raw); i += 2 {
		levels = append(levels, level{Digit: raw[i], Author: uint32(raw[i+1])})
	}
	p.levels = levels
	return nil
}

// Wire returns the same flat [d1, a1, d2, a2, ...] encoding as MarshalJSON,
// for embedding a Position inside a protocol message field typed []uint64
// (protocol cannot import document, see protocol.BlockRef).
func (p Position) Wire() []uint64 {
	out := make([]uint64, 0, len(p.levels)*2)
	for _, lv := range p.levels {
		out = append(out, lv.Digit, uint64(lv.Author))
	}
	return out
}

// PositionFromWire decodes the []uint64 produced by Wire back into a
// Position.
func PositionFromWire(raw []uint64) (Position, error) {
	if len(raw) == 0 || len(raw)%2 != 0 {
		return Position{}, fmt.Errorf("document: malformed position %v", raw)
	}
	levels := make([]level, 0, len(raw)/2)
	for i := 0; i < len(raw); i += 2 {
		levels = append(levels, level{Digit: raw[i], Author: uint32(raw[i+1])})
	}
	return Position{levels: levels}, nil
}

func (p Position) String() string {
	return fmt.Sprintf("%v", p.levels)
}

// key returns a canonical comparable encoding of p, used where a Position
// needs to be a map key — Position itself holds a slice and so is not
// directly comparable.
func (p Position) key() string {
	var b []byte
	for _, lv := range p.levels {
		b = fmt.Appendf(b, "%d:%d;", lv.Digit, lv.Author)
	}
	return string(b)
}
