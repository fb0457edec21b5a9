package document

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/quillboard/quillboard/internal/protocol"
)

func TestNewDocumentStartsWithSentinelNewline(t *testing.T) {
	d := NewDocument("doc-1")
	require.Equal(t, 1, d.Len())
	assert.Equal(t, "\n", d.Text())
}

func TestAddCharAtIndexInsertsAndOrders(t *testing.T) {
	d := NewDocument("doc-1")
	d.AddCharAtIndex(0, 'H', 1, nil)
	d.AddCharAtIndex(1, 'i', 1, nil)
	assert.Equal(t, "Hi\n", d.Text())
}

func TestAddSymbolIsIdempotent(t *testing.T) {
	d := NewDocument("doc-1")
	sym := d.AddCharAtIndex(0, 'x', 1, nil)

	// Simulate a remote replica that already has this symbol (e.g. the
	// author's own echo, or a duplicate delivery) reapplying it.
	ok := d.AddSymbol(sym)
	assert.False(t, ok, "re-adding an already-present symbol must be a no-op")
	assert.Equal(t, "x\n", d.Text())
}

func TestRemoveSymbolIsIdempotent(t *testing.T) {
	d := NewDocument("doc-1")
	sym := d.AddCharAtIndex(0, 'x', 1, nil)

	assert.True(t, d.RemoveSymbol(sym.Pos))
	assert.False(t, d.RemoveSymbol(sym.Pos), "removing an already-gone symbol must be a no-op")
	assert.Equal(t, "\n", d.Text())
}

func TestRemoveAtIndexDetachesBlockFromList(t *testing.T) {
	d := NewDocument("doc-1")
	d.AddCharAtIndex(0, 'a', 1, nil)
	d.AddCharAtIndex(1, '\n', 1, nil)
	d.AddCharAtIndex(2, 'b', 1, nil)

	blockID := d.BlockContaining(0)
	list := d.CreateList(1, protocol.Format{}.SetInt(protocol.PropListStyle, int64(protocol.ListStyleDisc)))
	require.True(t, d.EditBlockList(blockID, &list.ID))

	// Find and remove the newline that terminates blockID.
	block, ok := d.Block(blockID)
	require.True(t, ok)
	idx, ok := d.IndexOf(block.NewlinePos)
	require.True(t, ok)
	d.RemoveAtIndex(idx)

	_, stillThere := d.Block(blockID)
	assert.False(t, stillThere, "removing a block's newline must remove the block")
	_, listStillThere := d.List(list.ID)
	assert.False(t, listStillThere, "list with no remaining members must be cleaned up")
}

func TestChangeSymbolFormatReturnsOnlyChangedPositions(t *testing.T) {
	d := NewDocument("doc-1")
	d.AddCharAtIndex(0, 'a', 1, nil)
	d.AddCharAtIndex(1, 'b', 1, nil)

	bold := protocol.Format{}.SetBool(protocol.PropBold, true)
	changed := d.ChangeSymbolFormat(0, 2, bold)
	assert.Len(t, changed, 2)

	// Reapplying the identical format is a no-op on the LOCAL path too
	// (mergeFormat reports dirty only on an actual value change), so a
	// second identical call returns nothing changed.
	changed2 := d.ChangeSymbolFormat(0, 2, bold)
	assert.Empty(t, changed2)
}

func TestApplySymbolFormatIsIdempotent(t *testing.T) {
	d := NewDocument("doc-1")
	sym := d.AddCharAtIndex(0, 'a', 1, nil)

	bold := protocol.Format{}.SetBool(protocol.PropBold, true)
	assert.True(t, d.ApplySymbolFormat(sym.Pos, bold))
	assert.False(t, d.ApplySymbolFormat(sym.Pos, bold), "reapplying the same format must be a no-op")
}

func TestChangeBlockFormatCoversOverlappingBlocks(t *testing.T) {
	d := NewDocument("doc-1")
	d.AddCharAtIndex(0, 'a', 1, nil)
	d.AddCharAtIndex(1, '\n', 1, nil)
	d.AddCharAtIndex(2, 'b', 1, nil)

	align := protocol.Format{}.SetInt(protocol.PropAlignment, 1)
	changed := d.ChangeBlockFormat(0, 3, align)
	assert.Len(t, changed, 2, "both blocks spanning [0,3] should be touched")
}

func TestApplyBlockFormatIsIdempotent(t *testing.T) {
	d := NewDocument("doc-1")
	blockID := d.BlockContaining(0)

	align := protocol.Format{}.SetInt(protocol.PropAlignment, 1)
	assert.True(t, d.ApplyBlockFormat(blockID, align))
	assert.False(t, d.ApplyBlockFormat(blockID, align))
}

func TestEditBlockListAssignAndClear(t *testing.T) {
	d := NewDocument("doc-1")
	blockID := d.BlockContaining(0)
	list := d.CreateList(1, nil)

	assert.True(t, d.EditBlockList(blockID, &list.ID))
	assert.False(t, d.EditBlockList(blockID, &list.ID), "re-assigning the same list is a no-op")

	block, _ := d.Block(blockID)
	require.NotNil(t, block.ListID)
	assert.Equal(t, list.ID, *block.ListID)

	assert.True(t, d.EditBlockList(blockID, nil))
	assert.False(t, d.EditBlockList(blockID, nil), "clearing an already-unlisted block is a no-op")

	block, _ = d.Block(blockID)
	assert.Nil(t, block.ListID)
	_, stillExists := d.List(list.ID)
	assert.False(t, stillExists, "emptied list must be removed")
}

func TestGetBlocksBetweenSpansMultipleBlocks(t *testing.T) {
	d := NewDocument("doc-1")
	d.AddCharAtIndex(0, 'a', 1, nil)
	d.AddCharAtIndex(1, '\n', 1, nil)
	d.AddCharAtIndex(2, 'b', 1, nil)
	d.AddCharAtIndex(3, '\n', 1, nil)
	d.AddCharAtIndex(4, 'c', 1, nil)

	ids := d.GetBlocksBetween(0, 4)
	assert.Len(t, ids, 3)
}

func TestSnapshotRestoreRoundTrip(t *testing.T) {
	d := NewDocument("doc-1")
	d.AddCharAtIndex(0, 'a', 1, nil)
	d.AddCharAtIndex(1, '\n', 1, nil)
	d.AddCharAtIndex(2, 'b', 2, nil)

	blockID := d.BlockContaining(0)
	list := d.CreateList(1, protocol.Format{}.SetInt(protocol.PropListStyle, int64(protocol.ListStyleDecimal)))
	require.True(t, d.EditBlockList(blockID, &list.ID))

	snap := d.Snapshot()
	restored := Restore(snap)

	assert.Equal(t, d.Text(), restored.Text())
	assert.Equal(t, d.Len(), restored.Len())

	restoredBlock, ok := restored.Block(blockID)
	require.True(t, ok)
	require.NotNil(t, restoredBlock.ListID)
	assert.Equal(t, list.ID, *restoredBlock.ListID)

	// A freshly minted block on the restored replica must not collide with
	// ids minted before persistence.
	sym := restored.AddCharAtIndex(restored.Len(), '\n', 1, nil)
	newBlockID := restored.BlockContaining(restored.Len() - 1)
	assert.NotEqual(t, blockID, newBlockID)
	_ = sym
}

func TestRestoreEmptySnapshotFallsBackToSentinel(t *testing.T) {
	restored := Restore(Snapshot{URI: "doc-1"})
	assert.Equal(t, 1, restored.Len())
	assert.Equal(t, "\n", restored.Text())
}
