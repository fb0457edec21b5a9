package server

import (
	"errors"
	"sync/atomic"
	"time"

	"github.com/quillboard/quillboard/internal/protocol"
	"github.com/quillboard/quillboard/pkg/document"
)

// errWorkspaceClosed is returned by a Workspace method submitted after (or
// racing) the workspace's last participant leaving.
var errWorkspaceClosed = errors.New("server: workspace closed")

// Participant is one client currently joined to a Workspace. Outbox is a
// buffered, drop-when-full channel fed by Workspace.broadcast and drained
// by the connection goroutine that owns this participant's socket —
// generalized from the kolabpad subscriber-channel pattern so a slow
// reader can never stall the workspace's single consumer.
type Participant struct {
	ClientID uint32
	Nickname string
	Icon     string
	Outbox   chan *protocol.ServerMsg
}

// Workspace is the live, in-memory home of one open document: exactly one
// goroutine (run) ever touches doc or participants, so every operation
// below is funneled through the cmds channel instead of a mutex. This is
// the "true single-consumer command queue" the OT history array's mutex
// alone didn't give the source: CharFormat/BlockEdit/ListEdit operations
// need a single, total, server-imposed order across all participants, not
// just mutual exclusion between them.
type Workspace struct {
	URI   string
	Name  string
	Owner string

	doc          *document.Document
	participants map[uint32]*Participant

	cmds chan func()
	done chan struct{}

	lastActivity atomic.Int64

	broadcastBufferSize int

	// persist is invoked with the final snapshot when the last participant
	// leaves. The frontend supplies this so the workspace package itself
	// doesn't need a *database.Database dependency.
	persist func(document.Snapshot)
}

// NewWorkspace starts a Workspace's executor goroutine over doc.
func NewWorkspace(uri, name, owner string, doc *document.Document, broadcastBufferSize int, persist func(document.Snapshot)) *Workspace {
	w := &Workspace{
		URI:                 uri,
		Name:                name,
		Owner:               owner,
		doc:                 doc,
		participants:        make(map[uint32]*Participant),
		cmds:                make(chan func(), 64),
		done:                make(chan struct{}),
		broadcastBufferSize: broadcastBufferSize,
		persist:             persist,
	}
	w.lastActivity.Store(time.Now().Unix())
	go w.run()
	return w
}

func (w *Workspace) run() {
	for {
		select {
		case cmd := <-w.cmds:
			cmd()
		case <-w.done:
			return
		}
	}
}

// submit runs fn on the executor goroutine and waits for it to finish,
// giving every caller sequential, total-order semantics. Returns
// errWorkspaceClosed if the workspace has already shut down.
func (w *Workspace) submit(fn func()) error {
	ack := make(chan struct{})
	select {
	case w.cmds <- func() { fn(); close(ack) }:
	case <-w.done:
		return errWorkspaceClosed
	}
	select {
	case <-ack:
		w.lastActivity.Store(time.Now().Unix())
		return nil
	case <-w.done:
		return errWorkspaceClosed
	}
}

// LastActivity reports the unix time of the last successfully submitted
// operation, used by the frontend's idle-document cleaner.
func (w *Workspace) LastActivity() time.Time {
	return time.Unix(w.lastActivity.Load(), 0)
}

func (w *Workspace) broadcast(msg *protocol.ServerMsg, originator uint32, includeOriginator bool) {
	for id, p := range w.participants {
		if !includeOriginator && id == originator {
			continue
		}
		select {
		case p.Outbox <- msg:
		default:
			// Slow reader: drop rather than block the single consumer.
		}
	}
}

// Join adds clientID to the workspace, returning the current document
// snapshot and the roster of already-present participants so the caller
// can bootstrap the new connection (one DocumentSnapshot message plus one
// PresenceAdd per existing participant), and broadcasts PresenceAdd for
// the new arrival to everyone already in the room.
func (w *Workspace) Join(clientID uint32, nickname, icon string) (document.Snapshot, []Participant, <-chan *protocol.ServerMsg, error) {
	var snap document.Snapshot
	var others []Participant
	outbox := make(chan *protocol.ServerMsg, w.broadcastBufferSize)

	err := w.submit(func() {
		snap = w.doc.Snapshot()
		for _, p := range w.participants {
			others = append(others, *p)
		}
		w.participants[clientID] = &Participant{ClientID: clientID, Nickname: nickname, Icon: icon, Outbox: outbox}
		w.broadcast(protocol.NewPresenceAddMsg(clientID, nickname, icon), clientID, false)
	})
	if err != nil {
		return document.Snapshot{}, nil, nil, err
	}
	return snap, others, outbox, nil
}

// Leave removes clientID from the workspace, closing its Outbox so the
// connection's write pump exits, and reports the number of participants
// remaining. When the count reaches zero the workspace
// persists a final snapshot and shuts down its executor; the frontend is
// responsible for then removing it from the live-workspace table.
func (w *Workspace) Leave(clientID uint32) (remaining int, err error) {
	err = w.submit(func() {
		if p, ok := w.participants[clientID]; ok {
			close(p.Outbox)
		}
		delete(w.participants, clientID)
		w.broadcast(protocol.NewPresenceRemoveMsg(clientID), clientID, false)
		remaining = len(w.participants)
		if remaining == 0 {
			snap := w.doc.Snapshot()
			if w.persist != nil {
				w.persist(snap)
			}
			close(w.done)
		}
	})
	if errors.Is(err, errWorkspaceClosed) {
		return 0, nil
	}
	return remaining, err
}

// UpdatePresence re-broadcasts clientID's nickname/icon after an account
// update, so participants mid-session see a live nickname change.
func (w *Workspace) UpdatePresence(clientID uint32, nickname, icon string) error {
	return w.submit(func() {
		p, ok := w.participants[clientID]
		if !ok {
			return
		}
		p.Nickname, p.Icon = nickname, icon
		w.broadcast(protocol.NewPresenceUpdateMsg(clientID, nickname, icon), clientID, true)
	})
}

// InsertChar applies a REMOTE character insertion: authorID's own replica
// already minted pos (via its local DocumentEditor.AddCharAtIndex) before
// putting this message on the wire, so the workspace's canonical Document
// only ever calls AddSymbol, never AddCharAtIndex. Broadcasting excludes
// the originator, which already holds this edit in its own local state.
// A duplicate delivery (AddSymbol returns false) is silently dropped
// rather than re-broadcast, matching invariant 6.
func (w *Workspace) InsertChar(authorID uint32, pos document.Position, ch rune, format protocol.CharFormat, isLast bool) error {
	return w.submit(func() {
		sym := document.Symbol{Char: ch, Format: format.Clone(), AuthorID: authorID, Pos: pos}
		if !w.doc.AddSymbol(sym) {
			return
		}
		msg := &protocol.ServerMsg{CharInsert: &protocol.CharInsertMsg{
			Pos:      pos.Wire(),
			Char:     ch,
			AuthorID: authorID,
			Format:   format,
			IsLast:   isLast,
		}}
		w.broadcast(msg, authorID, false)
	})
}

// DeleteChar applies a REMOTE deletion of the symbol at pos (see
// InsertChar) and broadcasts it, excluding the originator.
func (w *Workspace) DeleteChar(authorID uint32, pos document.Position) error {
	return w.submit(func() {
		if !w.doc.RemoveSymbol(pos) {
			return
		}
		msg := &protocol.ServerMsg{CharDelete: &protocol.CharDeleteMsg{Pos: pos.Wire()}}
		w.broadcast(msg, authorID, false)
	})
}

// FormatChar applies a REMOTE format change to the symbol at pos. The
// sender computed this one-symbol-at-a-time from its own LOCAL
// ChangeSymbolFormat range edit, so the wire granularity here is always a
// single Position. Broadcast to every participant, the originator
// included: format operations share a single server-imposed order so
// every replica converges regardless of delivery order, which a
// sender-exclusive broadcast alone cannot guarantee.
func (w *Workspace) FormatChar(authorID uint32, pos document.Position, format protocol.CharFormat) error {
	return w.submit(func() {
		if !w.doc.ApplySymbolFormat(pos, format) {
			return
		}
		msg := &protocol.ServerMsg{CharFormat: &protocol.CharFormatMsg{Pos: pos.Wire(), Format: format}}
		w.broadcast(msg, authorID, true)
	})
}

// FormatBlock applies a REMOTE format change to one block (see
// FormatChar for why the wire granularity is single, not a range).
// Broadcast to every participant, the originator included.
func (w *Workspace) FormatBlock(authorID uint32, id document.TextBlockID, format protocol.BlockFormat) error {
	return w.submit(func() {
		if !w.doc.ApplyBlockFormat(id, format) {
			return
		}
		msg := &protocol.ServerMsg{BlockEdit: &protocol.BlockEditMsg{Block: id.Wire(), Format: format}}
		w.broadcast(msg, authorID, true)
	})
}

// ApplyListEdit assigns or clears a block's list membership. When listID
// is non-nil and names a list the document hasn't seen yet, the list is
// created lazily (document.Document.EditBlockList does this) and format
// gives it its style; a client driving a multi-block "toggle list" UI
// gesture sends one ListEdit per affected block, all carrying the same
// freshly minted list id, matching DocumentEditor.ToggleList's LOCAL
// shape. Broadcast to everyone, originator included, for the same
// convergence reason as FormatChar.
func (w *Workspace) ApplyListEdit(authorID uint32, blockID document.TextBlockID, listID *document.TextListID, format protocol.ListFormat) error {
	return w.submit(func() {
		changed := w.doc.EditBlockList(blockID, listID)
		formatChanged := listID != nil && len(format) > 0 && w.doc.ApplyListFormat(*listID, format)
		if !changed && !formatChanged {
			return
		}
		msg := &protocol.ServerMsg{ListEdit: &protocol.ListEditMsg{Block: blockID.Wire(), Format: format}}
		if listID != nil {
			ref := listID.Wire()
			msg.ListEdit.List = &ref
		}
		w.broadcast(msg, authorID, true)
	})
}

// MoveCursor broadcasts a cursor/selection update, excluding the
// originator (a client already knows where its own cursor is).
func (w *Workspace) MoveCursor(authorID uint32, index int, selection *int) error {
	return w.submit(func() {
		msg := &protocol.ServerMsg{CursorMove: &protocol.CursorMoveMsg{AuthorID: authorID, Index: index, Selection: selection}}
		w.broadcast(msg, authorID, false)
	})
}

// Snapshot returns the document's current persisted form, routed through
// the executor so it never races a concurrent mutation.
func (w *Workspace) Snapshot() (document.Snapshot, error) {
	var snap document.Snapshot
	err := w.submit(func() { snap = w.doc.Snapshot() })
	return snap, err
}

// UserCount reports how many participants currently hold this workspace
// open.
func (w *Workspace) UserCount() (int, error) {
	var n int
	err := w.submit(func() { n = len(w.participants) })
	if errors.Is(err, errWorkspaceClosed) {
		return 0, nil
	}
	return n, err
}

// Kill tears the workspace down without persisting, for document deletion
// while participants are still connected (DocumentRemoveRequest). Each
// participant's Outbox is closed so their connection's write pump exits
// and the socket can report the removal, rather than hanging forever
// waiting on a channel nobody will send to again.
func (w *Workspace) Kill() {
	_ = w.submit(func() {
		for _, p := range w.participants {
			close(p.Outbox)
		}
		w.participants = map[uint32]*Participant{}
	})
	select {
	case <-w.done:
	default:
		close(w.done)
	}
}
