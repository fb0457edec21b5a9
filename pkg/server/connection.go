package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"nhooyr.io/websocket"
	"nhooyr.io/websocket/wsjson"

	"github.com/quillboard/quillboard/internal/protocol"
	"github.com/quillboard/quillboard/pkg/document"
	"github.com/quillboard/quillboard/pkg/logger"
)

func marshalSnapshot(snap document.Snapshot) (json.RawMessage, error) {
	return json.Marshal(snap)
}

// Connection owns one accepted WebSocket for its whole lifetime, driving
// its Session through the CONNECTED/CHALLENGED/AUTHENTICATED/IN_WORKSPACE
// state machine and dispatching every inbound message to the frontend.
type Connection struct {
	srv     *Server
	sess    *Session
	conn    *websocket.Conn
	readTO  time.Duration
	writeTO time.Duration
}

func newConnection(srv *Server, conn *websocket.Conn, clientID uint32) *Connection {
	return &Connection{
		srv:     srv,
		sess:    NewSession(clientID, conn),
		conn:    conn,
		readTO:  srv.config.WSReadTimeout,
		writeTO: srv.config.WSWriteTimeout,
	}
}

// Handle runs the connection's read loop until the socket closes or ctx is
// canceled. It always leaves the session in DISCONNECTED state on return.
func (c *Connection) Handle(ctx context.Context) error {
	defer c.cleanup()

	for {
		readCtx, cancel := context.WithTimeout(ctx, c.readTO)
		var msg protocol.ClientMsg
		err := wsjson.Read(readCtx, c.conn, &msg)
		cancel()
		if err != nil {
			if websocket.CloseStatus(err) == websocket.StatusNormalClosure {
				return nil
			}
			if errors.Is(ctx.Err(), context.Canceled) {
				return ctx.Err()
			}
			return fmt.Errorf("read message: %w", err)
		}

		if err := c.dispatch(ctx, &msg); err != nil {
			logger.Error("client %d: %v", c.sess.ClientID, err)
			return err
		}
	}
}

func (c *Connection) cleanup() {
	if c.sess.State() == StateInWorkspace {
		ws := c.sess.Workspace()
		if _, err := ws.Leave(c.sess.ClientID); err != nil {
			logger.Error("leave workspace %s: %v", ws.URI, err)
		}
	}
	c.sess.state = StateDisconnected
}

// dispatch routes one inbound message according to the session's current
// state. An inbound message that doesn't fit the current state is a
// protocol error, reported back rather than silently dropped.
func (c *Connection) dispatch(ctx context.Context, msg *protocol.ClientMsg) error {
	switch {
	case msg.Login != nil:
		return c.handleLogin(ctx, msg.Login)
	case msg.Unlock != nil:
		return c.handleUnlock(ctx, msg.Unlock)
	case msg.AccountCreate != nil:
		return c.handleAccountCreate(ctx, msg.AccountCreate)
	case msg.AccountUpdate != nil:
		return c.handleAccountUpdate(ctx, msg.AccountUpdate)
	case msg.DocumentCreate != nil:
		return c.handleDocumentCreate(ctx, msg.DocumentCreate)
	case msg.DocumentOpen != nil:
		return c.handleDocumentOpen(ctx, msg.DocumentOpen)
	case msg.DocumentRemove != nil:
		return c.handleDocumentRemove(ctx, msg.DocumentRemove)
	case msg.DocumentClose != nil:
		return c.handleDocumentClose(ctx, msg.DocumentClose)
	case msg.Logout != nil:
		return c.handleLogout(ctx)
	case msg.CharInsert != nil:
		return c.handleCharInsert(ctx, msg.CharInsert)
	case msg.CharDelete != nil:
		return c.handleCharDelete(ctx, msg.CharDelete)
	case msg.CharFormat != nil:
		return c.handleCharFormat(ctx, msg.CharFormat)
	case msg.BlockEdit != nil:
		return c.handleBlockEdit(ctx, msg.BlockEdit)
	case msg.ListEdit != nil:
		return c.handleListEdit(ctx, msg.ListEdit)
	case msg.CursorMove != nil:
		return c.handleCursorMove(ctx, msg.CursorMove)
	}
	return nil
}

func (c *Connection) fail(ctx context.Context, kind protocol.ErrorKind, message string) error {
	return c.sess.Send(ctx, protocol.NewFailureMsg(kind, message))
}

func (c *Connection) handleLogin(ctx context.Context, req *protocol.LoginRequest) error {
	if c.sess.State() != StateConnected {
		return c.fail(ctx, protocol.ErrProtocol, "login not expected in this state")
	}
	user, nonce, err := c.srv.BeginLogin(req.Username)
	if err != nil {
		return c.fail(ctx, protocol.ErrAuth, "no such account")
	}
	c.sess.BeginChallenge(req.Username, nonce)
	return c.sess.Send(ctx, protocol.NewChallengeMsg(user.Salt, nonce))
}

func (c *Connection) handleUnlock(ctx context.Context, req *protocol.UnlockRequest) error {
	if c.sess.State() != StateChallenged {
		return c.fail(ctx, protocol.ErrProtocol, "unlock not expected in this state")
	}
	user, err := c.srv.VerifyLogin(c.sess.pendingUsername, c.sess.nonce, req.Response)
	if err != nil {
		c.sess.Deny()
		return c.sess.Send(ctx, protocol.NewDeniedMsg("incorrect password"))
	}
	c.sess.Grant(user)
	return c.sess.Send(ctx, protocol.NewGrantedMsg(c.sess.ClientID, user.Nickname))
}

func (c *Connection) handleAccountCreate(ctx context.Context, req *protocol.AccountCreateRequest) error {
	if c.sess.State() != StateConnected {
		return c.fail(ctx, protocol.ErrProtocol, "account create not expected in this state")
	}
	user, err := c.srv.CreateAccount(req.Username, req.Password, req.Nickname)
	if err != nil {
		return c.fail(ctx, protocol.ErrResource, err.Error())
	}
	c.sess.Grant(user)
	return c.sess.Send(ctx, protocol.NewGrantedMsg(c.sess.ClientID, user.Nickname))
}

func (c *Connection) handleAccountUpdate(ctx context.Context, req *protocol.AccountUpdateRequest) error {
	if c.sess.User() == nil {
		return c.fail(ctx, protocol.ErrProtocol, "must be authenticated")
	}
	user, err := c.srv.UpdateAccount(c.sess.User().Username, req)
	if err != nil {
		return c.fail(ctx, protocol.ErrResource, err.Error())
	}
	c.sess.user = user
	if ws := c.sess.Workspace(); ws != nil {
		_ = ws.UpdatePresence(c.sess.ClientID, user.Nickname, user.Icon)
	}
	return nil
}

func (c *Connection) handleDocumentCreate(ctx context.Context, req *protocol.DocumentCreateRequest) error {
	if c.sess.User() == nil {
		return c.fail(ctx, protocol.ErrProtocol, "must be authenticated")
	}
	uri, err := c.srv.CreateDocument(c.sess.User().Username, req.Name)
	if err != nil {
		return c.fail(ctx, protocol.ErrResource, err.Error())
	}
	return c.sess.Send(ctx, protocol.NewDocumentCreatedMsg(uri, req.Name))
}

func (c *Connection) handleDocumentOpen(ctx context.Context, req *protocol.DocumentOpenRequest) error {
	if c.sess.User() == nil {
		return c.fail(ctx, protocol.ErrProtocol, "must be authenticated")
	}
	if c.sess.State() == StateInWorkspace {
		return c.fail(ctx, protocol.ErrProtocol, "already in a workspace, close it first")
	}

	ws, err := c.srv.OpenDocument(req.URI, c.sess.User().Username)
	if err != nil {
		return c.fail(ctx, protocol.ErrResource, err.Error())
	}

	snap, others, outbox, err := ws.Join(c.sess.ClientID, c.sess.User().Nickname, c.sess.User().Icon)
	if err != nil {
		return c.fail(ctx, protocol.ErrResource, "workspace closed, try again")
	}
	c.sess.EnterWorkspace(ws)
	go c.pump(outbox)

	data, err := marshalSnapshot(snap)
	if err != nil {
		return fmt.Errorf("marshal snapshot: %w", err)
	}
	if err := c.sess.Send(ctx, protocol.NewDocumentSnapshotMsg(ws.URI, data)); err != nil {
		return err
	}
	for _, p := range others {
		if err := c.sess.Send(ctx, protocol.NewPresenceAddMsg(p.ClientID, p.Nickname, p.Icon)); err != nil {
			return err
		}
	}
	return nil
}

func (c *Connection) handleDocumentRemove(ctx context.Context, req *protocol.DocumentRemoveRequest) error {
	if c.sess.User() == nil {
		return c.fail(ctx, protocol.ErrProtocol, "must be authenticated")
	}
	if err := c.srv.RemoveDocument(req.URI, c.sess.User().Username); err != nil {
		return c.fail(ctx, protocol.ErrResource, err.Error())
	}
	return nil
}

func (c *Connection) handleDocumentClose(ctx context.Context, req *protocol.DocumentCloseRequest) error {
	ws := c.sess.Workspace()
	if ws == nil || ws.URI != req.URI {
		return c.fail(ctx, protocol.ErrProtocol, "not in that workspace")
	}
	if _, err := ws.Leave(c.sess.ClientID); err != nil {
		return err
	}
	c.sess.LeaveWorkspace()
	return nil
}

func (c *Connection) handleLogout(ctx context.Context) error {
	if ws := c.sess.Workspace(); ws != nil {
		_, _ = ws.Leave(c.sess.ClientID)
	}
	c.sess.Logout()
	return nil
}

func (c *Connection) requireWorkspace(ctx context.Context) (*Workspace, error) {
	ws := c.sess.Workspace()
	if ws == nil {
		return nil, c.fail(ctx, protocol.ErrProtocol, "not in a workspace")
	}
	return ws, nil
}

func (c *Connection) handleCharInsert(ctx context.Context, msg *protocol.CharInsertMsg) error {
	ws, err := c.requireWorkspace(ctx)
	if err != nil || ws == nil {
		return err
	}
	if msg.AuthorID != c.sess.ClientID {
		return c.fail(ctx, protocol.ErrProtocol, "authorId must match session")
	}
	pos, err := document.PositionFromWire(msg.Pos)
	if err != nil {
		return c.fail(ctx, protocol.ErrProtocol, "malformed position")
	}
	return ws.InsertChar(msg.AuthorID, pos, msg.Char, msg.Format, msg.IsLast)
}

func (c *Connection) handleCharDelete(ctx context.Context, msg *protocol.CharDeleteMsg) error {
	ws, err := c.requireWorkspace(ctx)
	if err != nil || ws == nil {
		return err
	}
	pos, err := document.PositionFromWire(msg.Pos)
	if err != nil {
		return c.fail(ctx, protocol.ErrProtocol, "malformed position")
	}
	return ws.DeleteChar(c.sess.ClientID, pos)
}

func (c *Connection) handleCharFormat(ctx context.Context, msg *protocol.CharFormatMsg) error {
	ws, err := c.requireWorkspace(ctx)
	if err != nil || ws == nil {
		return err
	}
	pos, err := document.PositionFromWire(msg.Pos)
	if err != nil {
		return c.fail(ctx, protocol.ErrProtocol, "malformed position")
	}
	return ws.FormatChar(c.sess.ClientID, pos, msg.Format)
}

func (c *Connection) handleBlockEdit(ctx context.Context, msg *protocol.BlockEditMsg) error {
	ws, err := c.requireWorkspace(ctx)
	if err != nil || ws == nil {
		return err
	}
	return ws.FormatBlock(c.sess.ClientID, document.BlockIDFromWire(msg.Block), msg.Format)
}

func (c *Connection) handleListEdit(ctx context.Context, msg *protocol.ListEditMsg) error {
	ws, err := c.requireWorkspace(ctx)
	if err != nil || ws == nil {
		return err
	}
	var listID *document.TextListID
	if msg.List != nil {
		id := document.ListIDFromWire(*msg.List)
		listID = &id
	}
	return ws.ApplyListEdit(c.sess.ClientID, document.BlockIDFromWire(msg.Block), listID, msg.Format)
}

func (c *Connection) handleCursorMove(ctx context.Context, msg *protocol.CursorMoveMsg) error {
	ws, err := c.requireWorkspace(ctx)
	if err != nil || ws == nil {
		return err
	}
	return ws.MoveCursor(c.sess.ClientID, msg.Index, msg.Selection)
}

// pump forwards a workspace's broadcast outbox to this connection's
// socket until the outbox is closed, either by Workspace.Kill or by
// Workspace.Leave when the session leaves the workspace (its successor
// Join call never reuses this channel, so draining to closure is always
// correct here).
func (c *Connection) pump(outbox <-chan *protocol.ServerMsg) {
	for msg := range outbox {
		if err := c.sess.Send(context.Background(), msg); err != nil {
			logger.Error("client %d: broadcast send: %v", c.sess.ClientID, err)
			return
		}
	}
}
