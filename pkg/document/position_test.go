package document

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPositionOrdering(t *testing.T) {
	p := NewPositionBetween(Begin, End, 1)
	assert.True(t, Begin.Less(p))
	assert.True(t, p.Less(End))
}

func TestPositionDenseBetweenRepeatedInserts(t *testing.T) {
	lo, hi := Begin, End
	var prev Position
	for i := 0; i < 200; i++ {
		mid := NewPositionBetween(lo, hi, uint32(i%5))
		assert.True(t, lo.Less(mid))
		assert.True(t, mid.Less(hi))
		if i > 0 {
			assert.True(t, prev.Less(mid) || mid.Less(prev))
		}
		prev = mid
		hi = mid
	}
}

// TestPositionAuthorCollision reproduces two authors independently minting
// the identical digit between the same neighbors (Alice gets [32,1], Bob
// gets [32,2]) and checks a later insert can still land strictly between
// them even though their digits tie.
func TestPositionAuthorCollision(t *testing.T) {
	alice := NewPositionBetween(Begin, End, 1)
	bob := NewPositionBetween(Begin, End, 2)

	lo, hi := alice, bob
	if bob.Less(alice) {
		lo, hi = bob, alice
	}
	require.True(t, lo.Less(hi))

	mid := NewPositionBetween(lo, hi, 3)
	assert.True(t, lo.Less(mid))
	assert.True(t, mid.Less(hi))
}

func TestPositionNewPositionBetweenPanicsOnBadOrder(t *testing.T) {
	p := NewPositionBetween(Begin, End, 1)
	assert.Panics(t, func() {
		NewPositionBetween(p, p, 1)
	})
	assert.Panics(t, func() {
		NewPositionBetween(End, Begin, 1)
	})
}

func TestPositionJSONRoundTrip(t *testing.T) {
	p := NewPositionBetween(Begin, End, 7)

	data, err := json.Marshal(p)
	require.NoError(t, err)

	var got Position
	require.NoError(t, json.Unmarshal(data, &got))
	assert.True(t, p.Equal(got))
}

func TestPositionWireRoundTrip(t *testing.T) {
	p := NewPositionBetween(Begin, End, 7)
	wire := p.Wire()

	got, err := PositionFromWire(wire)
	require.NoError(t, err)
	assert.True(t, p.Equal(got))
}

func TestPositionSingleLevelMatchesSpecShape(t *testing.T) {
	// A single insert between the sentinels always produces one level, so
	// its wire shape is exactly [digit, authorId].
	p := NewPositionBetween(Begin, End, 1)
	data, err := json.Marshal(p)
	require.NoError(t, err)

	var raw []uint64
	require.NoError(t, json.Unmarshal(data, &raw))
	assert.Len(t, raw, 2)
	assert.Equal(t, uint64(1), raw[1])
}

func TestPositionUnmarshalRejectsOddLength(t *testing.T) {
	var p Position
	err := json.Unmarshal([]byte(`[1,2,3]`), &p)
	assert.Error(t, err)
}

func TestPositionCloneIndependence(t *testing.T) {
	p := NewPositionBetween(Begin, End, 1)
	cp := p.Clone()
	assert.True(t, p.Equal(cp))
}
