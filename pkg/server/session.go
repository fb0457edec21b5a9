package server

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"nhooyr.io/websocket"

	"github.com/quillboard/quillboard/internal/protocol"
	"github.com/quillboard/quillboard/pkg/database"
)

// SessionState is the per-connection authentication/workspace state
// machine: DISCONNECTED -> CONNECTED -> CHALLENGED -> AUTHENTICATED, with
// AUTHENTICATED <-> IN_WORKSPACE transitions on document open/close. Any
// state but DISCONNECTED can fail back to CONNECTED on a rejected
// credential or an explicit Logout.
type SessionState int

const (
	StateDisconnected SessionState = iota
	StateConnected
	StateChallenged
	StateAuthenticated
	StateInWorkspace
)

func (s SessionState) String() string {
	switch s {
	case StateDisconnected:
		return "DISCONNECTED"
	case StateConnected:
		return "CONNECTED"
	case StateChallenged:
		return "CHALLENGED"
	case StateAuthenticated:
		return "AUTHENTICATED"
	case StateInWorkspace:
		return "IN_WORKSPACE"
	default:
		return "UNKNOWN"
	}
}

// Session is the server-side state of one connected socket. ClientID also
// serves as the CRDT authorId for every Document operation this connection
// originates: a reconnect is a fresh author, which the fractional-position
// scheme handles without any special-casing.
//
// A Session's pending-login state (the spec's "pending-login table keyed
// by socket") is just the nonce/pendingUsername fields below — since each
// connection is already handled by its own goroutine, a map keyed by
// socket would only be indirection around what the goroutine's own stack
// already owns.
type Session struct {
	ClientID uint32
	conn     *websocket.Conn
	sendMu   sync.Mutex

	state           SessionState
	user            *database.UserRecord
	pendingUsername string
	nonce           []byte
	workspace       *Workspace
}

// NewSession starts a session in CONNECTED state for a freshly accepted
// socket.
func NewSession(clientID uint32, conn *websocket.Conn) *Session {
	return &Session{ClientID: clientID, conn: conn, state: StateConnected}
}

func (s *Session) State() SessionState { return s.state }

// User returns the authenticated user record, or nil before AUTHENTICATED.
func (s *Session) User() *database.UserRecord { return s.user }

// Workspace returns the joined workspace, or nil outside IN_WORKSPACE.
func (s *Session) Workspace() *Workspace { return s.workspace }

// BeginChallenge transitions CONNECTED -> CHALLENGED, recording the
// username the client is trying to authenticate as and the nonce it must
// fold into its response.
func (s *Session) BeginChallenge(username string, nonce []byte) {
	s.pendingUsername = username
	s.nonce = nonce
	s.state = StateChallenged
}

// Grant transitions CHALLENGED -> AUTHENTICATED on a successful Unlock.
func (s *Session) Grant(user *database.UserRecord) {
	s.user = user
	s.nonce = nil
	s.pendingUsername = ""
	s.state = StateAuthenticated
}

// Deny transitions a failed challenge back to CONNECTED so the client may
// retry (LoginRequest again) without reopening the socket.
func (s *Session) Deny() {
	s.nonce = nil
	s.pendingUsername = ""
	s.state = StateConnected
}

// EnterWorkspace transitions AUTHENTICATED -> IN_WORKSPACE.
func (s *Session) EnterWorkspace(ws *Workspace) {
	s.workspace = ws
	s.state = StateInWorkspace
}

// LeaveWorkspace transitions IN_WORKSPACE -> AUTHENTICATED, e.g. on
// DocumentClose.
func (s *Session) LeaveWorkspace() {
	s.workspace = nil
	s.state = StateAuthenticated
}

// Logout transitions back to CONNECTED from any authenticated state,
// mirroring the source's distinct Logout signal (see
// protocol.LogoutRequest).
func (s *Session) Logout() {
	s.user = nil
	s.workspace = nil
	s.state = StateConnected
}

// Send marshals and writes msg to the client. Safe for concurrent callers
// (the workspace broadcaster and this connection's own read loop both
// write to the same socket).
func (s *Session) Send(ctx context.Context, msg *protocol.ServerMsg) error {
	s.sendMu.Lock()
	defer s.sendMu.Unlock()

	data, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("marshal: %w", err)
	}

	writeCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()
	return s.conn.Write(writeCtx, websocket.MessageText, data)
}
