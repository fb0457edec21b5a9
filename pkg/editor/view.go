// Package editor sits between the raw CRDT document model and a concrete
// rich-text widget: it is the same split the source drew between
// DocumentEditor (data) and the Qt text widget it kept in sync
// (view/QTextDocument). A server only ever needs the data half — it has no
// widget to paint — but every operation still reports through View so a
// client embedding this package can drive its own editor component without
// re-deriving these decisions.
package editor

import (
	"github.com/quillboard/quillboard/internal/protocol"
	"github.com/quillboard/quillboard/pkg/document"
)

// View receives a notification for each document mutation the editor
// performs, LOCAL or REMOTE. Implementations must not block.
type View interface {
	CharInserted(index int, sym document.Symbol)
	CharRemoved(index int, pos document.Position)
	CharFormatted(positions []document.Position, format protocol.CharFormat)
	BlockFormatted(ids []document.TextBlockID, format protocol.BlockFormat)
	ListChanged(blockID document.TextBlockID, listID *document.TextListID)
}

// NoopView discards every notification. It is the default View for
// server-side use, where nothing renders a widget.
type NoopView struct{}

func (NoopView) CharInserted(int, document.Symbol)                          {}
func (NoopView) CharRemoved(int, document.Position)                         {}
func (NoopView) CharFormatted([]document.Position, protocol.CharFormat)     {}
func (NoopView) BlockFormatted([]document.TextBlockID, protocol.BlockFormat) {}
func (NoopView) ListChanged(document.TextBlockID, *document.TextListID)     {}
