package editor

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/quillboard/quillboard/internal/protocol"
	"github.com/quillboard/quillboard/pkg/document"
)

type recordingView struct {
	inserted []document.Symbol
	removed  []document.Position
}

func (v *recordingView) CharInserted(index int, sym document.Symbol) { v.inserted = append(v.inserted, sym) }
func (v *recordingView) CharRemoved(index int, pos document.Position) { v.removed = append(v.removed, pos) }
func (v *recordingView) CharFormatted([]document.Position, protocol.CharFormat)     {}
func (v *recordingView) BlockFormatted([]document.TextBlockID, protocol.BlockFormat) {}
func (v *recordingView) ListChanged(document.TextBlockID, *document.TextListID)      {}

func TestAddCharAtIndexNotifiesView(t *testing.T) {
	doc := document.NewDocument("doc-1")
	view := &recordingView{}
	e := New(doc, 1, view)

	e.AddCharAtIndex(0, 'h', nil)
	require.Len(t, view.inserted, 1)
	assert.Equal(t, 'h', view.inserted[0].Char)
	assert.Equal(t, "h\n", doc.Text())
}

func TestRemoteAddSymbolRejectsDuplicate(t *testing.T) {
	doc := document.NewDocument("doc-1")
	e := New(doc, 1, nil)

	sym := e.AddCharAtIndex(0, 'x', nil)
	assert.False(t, e.AddSymbol(sym, false), "a replayed CharInsert must not double-insert")
}

func TestDeleteCharAtIndexNotifiesView(t *testing.T) {
	doc := document.NewDocument("doc-1")
	view := &recordingView{}
	e := New(doc, 1, view)

	e.AddCharAtIndex(0, 'x', nil)
	e.DeleteCharAtIndex(0)
	require.Len(t, view.removed, 1)
	assert.Equal(t, "\n", doc.Text())
}

func TestToggleListGathersSelectedBlocks(t *testing.T) {
	doc := document.NewDocument("doc-1")
	e := New(doc, 1, nil)

	e.AddCharAtIndex(0, 'a', nil)
	e.AddCharAtIndex(1, '\n', nil)
	e.AddCharAtIndex(2, 'b', nil)
	e.AddCharAtIndex(3, '\n', nil)
	e.AddCharAtIndex(4, 'c', nil)

	e.ToggleList(0, 4, int64(protocol.ListStyleDisc))

	ids := doc.GetBlocksBetween(0, 4)
	var listID *document.TextListID
	for _, id := range ids {
		block, ok := doc.Block(id)
		require.True(t, ok)
		require.NotNil(t, block.ListID, "every selected block must join the new list")
		if listID == nil {
			listID = block.ListID
		} else {
			assert.Equal(t, *listID, *block.ListID, "every selected block must join the same list")
		}
	}
}

func TestToggleListUndefinedRemovesMembership(t *testing.T) {
	doc := document.NewDocument("doc-1")
	e := New(doc, 1, nil)

	e.AddCharAtIndex(0, 'a', nil)
	e.ToggleList(0, 0, int64(protocol.ListStyleDisc))

	blockID := doc.BlockContaining(0)
	block, _ := doc.Block(blockID)
	require.NotNil(t, block.ListID)

	e.ToggleList(0, 0, int64(protocol.ListStyleUndefined))
	block, _ = doc.Block(blockID)
	assert.Nil(t, block.ListID)
}

func TestToggleListUndefinedSplitsTrailingMembers(t *testing.T) {
	doc := document.NewDocument("doc-1")
	e := New(doc, 1, nil)

	// Five one-character blocks: b1..b5.
	e.AddCharAtIndex(0, 'a', nil)
	e.AddCharAtIndex(1, '\n', nil)
	e.AddCharAtIndex(2, 'b', nil)
	e.AddCharAtIndex(3, '\n', nil)
	e.AddCharAtIndex(4, 'c', nil)
	e.AddCharAtIndex(5, '\n', nil)
	e.AddCharAtIndex(6, 'd', nil)
	e.AddCharAtIndex(7, '\n', nil)
	e.AddCharAtIndex(8, 'e', nil)

	ids := doc.GetBlocksBetween(0, 9)
	require.Len(t, ids, 5)
	b1, b2, b3, b4, b5 := ids[0], ids[1], ids[2], ids[3], ids[4]

	e.ToggleList(0, 9, int64(protocol.ListStyleDisc))
	b1Block, _ := doc.Block(b1)
	originalListID := *b1Block.ListID

	// Remove only b2, b3's membership; b4, b5 trail the selection and
	// must split into a fresh list rather than being left dangling in a
	// list whose split point no longer matches the toggled run.
	e.ToggleList(2, 4, int64(protocol.ListStyleUndefined))

	b2Block, _ := doc.Block(b2)
	b3Block, _ := doc.Block(b3)
	assert.Nil(t, b2Block.ListID, "b2 must lose list membership")
	assert.Nil(t, b3Block.ListID, "b3 must lose list membership")

	b1Block, _ = doc.Block(b1)
	require.NotNil(t, b1Block.ListID)
	assert.Equal(t, originalListID, *b1Block.ListID, "b1 stays in the original list")

	b4Block, _ := doc.Block(b4)
	b5Block, _ := doc.Block(b5)
	require.NotNil(t, b4Block.ListID, "b4 must remain listed")
	require.NotNil(t, b5Block.ListID, "b5 must remain listed")
	assert.Equal(t, *b4Block.ListID, *b5Block.ListID, "b4 and b5 join the same split-off list")
	assert.NotEqual(t, originalListID, *b4Block.ListID, "the trailing run must split into a fresh list, not stay in the original")
}

func TestGenerateExtraSelectionsGroupsByAuthor(t *testing.T) {
	doc := document.NewDocument("doc-1")
	e1 := New(doc, 1, nil)
	e2 := New(doc, 2, nil)

	e1.AddCharAtIndex(0, 'a', nil)
	e1.AddCharAtIndex(1, 'b', nil)
	e2.AddCharAtIndex(2, 'c', nil)

	sels := e1.GenerateExtraSelections()
	require.Len(t, sels, 3, "author 1's run, author 2's run, and the trailing sentinel's own run")
	assert.Equal(t, uint32(1), sels[0].AuthorID)
	assert.Equal(t, 0, sels[0].Start)
	assert.Equal(t, 2, sels[0].End)
	assert.Equal(t, uint32(2), sels[1].AuthorID)
}
