package server

import (
	"context"
	"encoding/json"
	"fmt"
	"math/rand"
	"net/http"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"nhooyr.io/websocket"

	"github.com/quillboard/quillboard/internal/protocol"
	"github.com/quillboard/quillboard/pkg/auth"
	"github.com/quillboard/quillboard/pkg/database"
	"github.com/quillboard/quillboard/pkg/document"
	"github.com/quillboard/quillboard/pkg/logger"
)

// Config carries the frontend's runtime knobs, read from the environment
// by cmd/server the same way the source's Config did.
type Config struct {
	BroadcastBufferSize int
	WSReadTimeout       time.Duration
	WSWriteTimeout      time.Duration
	PersistInterval     time.Duration
}

// Server owns the process-wide registries the source's ServerState held
// (a document map) plus the user/workspace registries a session-and-
// account model needs on top of that: a user registry (the database
// itself, sessions don't cache it), a document registry keyed by URI (the
// database again, for documents not currently open), and the live
// Workspace table below. A connection's own Session is its pending-login
// table entry; see session.go.
type Server struct {
	db     *database.Database
	config Config
	mux    *http.ServeMux

	startTime time.Time

	mu         sync.Mutex
	workspaces map[string]*Workspace

	nextClientID atomic.Uint32
}

// NewServer wires the HTTP routes and returns a ready-to-run frontend.
func NewServer(db *database.Database, config Config) *Server {
	s := &Server{
		db:         db,
		config:     config,
		mux:        http.NewServeMux(),
		startTime:  time.Now(),
		workspaces: make(map[string]*Workspace),
	}
	s.mux.HandleFunc("/api/socket", s.handleSocket)
	s.mux.HandleFunc("/api/stats", s.handleStats)
	return s
}

// ServeHTTP implements http.Handler.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.mux.ServeHTTP(w, r)
}

// Stats reports coarse server-wide counters, mirroring the source's
// /api/stats endpoint.
type Stats struct {
	StartTime      int64 `json:"startTime"`
	LiveWorkspaces int   `json:"liveWorkspaces"`
	DatabaseDocs   int   `json:"databaseDocs"`
}

func (s *Server) handleStats(w http.ResponseWriter, r *http.Request) {
	s.mu.Lock()
	live := len(s.workspaces)
	s.mu.Unlock()

	dbCount, err := s.db.CountDocuments()
	if err != nil {
		logger.Error("count documents: %v", err)
	}

	stats := Stats{StartTime: s.startTime.Unix(), LiveWorkspaces: live, DatabaseDocs: dbCount}
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(stats)
}

// handleSocket upgrades to a WebSocket and runs the connection to
// completion. Every other protocol step (login, account, document
// lifecycle) happens over that socket, not over separate HTTP routes.
func (s *Server) handleSocket(w http.ResponseWriter, r *http.Request) {
	conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{CompressionMode: websocket.CompressionDisabled})
	if err != nil {
		logger.Error("websocket accept: %v", err)
		return
	}
	defer conn.Close(websocket.StatusNormalClosure, "")

	clientID := s.nextClientID.Add(1)
	c := newConnection(s, conn, clientID)
	if err := c.Handle(r.Context()); err != nil {
		logger.Debug("client %d disconnected: %v", clientID, err)
	}
}

// BeginLogin looks up username and returns a fresh challenge nonce. The
// caller (connection.go) holds the nonce in Session, never the database.
func (s *Server) BeginLogin(username string) (*database.UserRecord, []byte, error) {
	user, err := s.db.LoadUser(username)
	if err != nil {
		return nil, nil, err
	}
	if user == nil {
		return nil, nil, fmt.Errorf("server: no such user %q", username)
	}
	return user, auth.GenerateNonce(), nil
}

// VerifyLogin checks an UnlockRequest's response against the stored
// credential and the nonce issued for this challenge.
func (s *Server) VerifyLogin(username string, nonce, response []byte) (*database.UserRecord, error) {
	user, err := s.db.LoadUser(username)
	if err != nil {
		return nil, err
	}
	if user == nil {
		return nil, fmt.Errorf("server: no such user %q", username)
	}
	if !auth.VerifyResponse(user.PasswordHash, nonce, response) {
		return nil, fmt.Errorf("server: incorrect password")
	}
	return user, nil
}

// CreateAccount registers a new account with a freshly salted credential,
// supplemented from original_source's richer signup flow (nickname set at
// creation, rather than only patchable afterward).
func (s *Server) CreateAccount(username, password, nickname string) (*database.UserRecord, error) {
	if existing, err := s.db.LoadUser(username); err != nil {
		return nil, err
	} else if existing != nil {
		return nil, fmt.Errorf("server: username %q is taken", username)
	}

	salt := auth.GenerateSalt()
	user := &database.UserRecord{
		Username:     username,
		Salt:         salt,
		PasswordHash: auth.HashPassword(password, salt),
		Nickname:     nickname,
	}
	if err := s.db.CreateUser(user); err != nil {
		return nil, err
	}
	return user, nil
}

// UpdateAccount patches the caller's own profile/credential fields.
func (s *Server) UpdateAccount(username string, req *protocol.AccountUpdateRequest) (*database.UserRecord, error) {
	var passwordHash []byte
	if req.Password != nil {
		user, err := s.db.LoadUser(username)
		if err != nil {
			return nil, err
		}
		if user == nil {
			return nil, fmt.Errorf("server: no such user %q", username)
		}
		passwordHash = auth.HashPassword(*req.Password, user.Salt)
	}
	if err := s.db.UpdateUser(username, req.Nickname, req.Icon, passwordHash); err != nil {
		return nil, err
	}
	return s.db.LoadUser(username)
}

// CreateDocument mints a fresh document URI in the source's
// <owner>_<counter>_<slug> form, persists an empty document under it, and
// brings it live immediately so the creator can open it without a round
// trip through the database.
func (s *Server) CreateDocument(owner, name string) (string, error) {
	user, err := s.db.LoadUser(owner)
	if err != nil {
		return "", err
	}
	if user == nil {
		return "", fmt.Errorf("server: no such user %q", owner)
	}

	counter := len(user.OwnedDocs) + 1
	slug := strings.ReplaceAll(uuid.New().String(), "-", "")[:8]
	uri := fmt.Sprintf("%s_%d_%s", owner, counter, slug)

	doc := document.NewDocument(uri)
	pdoc := &database.PersistedDocument{URI: uri, Name: name, Owner: owner, Snap: doc.Snapshot()}
	if err := s.db.StoreDocument(pdoc); err != nil {
		return "", err
	}
	if err := s.db.AddOwnedDocument(owner, uri); err != nil {
		return "", err
	}

	s.mu.Lock()
	s.workspaces[uri] = NewWorkspace(uri, name, owner, doc, s.config.BroadcastBufferSize, s.persistFunc(uri, name, owner))
	s.mu.Unlock()
	go s.persistLoop(uri)

	return uri, nil
}

// OpenDocument returns the live Workspace for uri, restoring it from the
// database if it isn't already open. A URI doubles as its own share
// token: any
// authenticated user who knows it may open it, and doing so other than as
// the owner records it in their shared-documents list.
func (s *Server) OpenDocument(uri, requester string) (*Workspace, error) {
	s.mu.Lock()
	ws, ok := s.workspaces[uri]
	s.mu.Unlock()
	if ok {
		s.recordAccess(uri, requester)
		return ws, nil
	}

	pdoc, err := s.db.LoadDocument(uri)
	if err != nil {
		return nil, err
	}
	if pdoc == nil {
		return nil, fmt.Errorf("server: no such document %q", uri)
	}

	s.mu.Lock()
	if existing, ok := s.workspaces[uri]; ok {
		s.mu.Unlock()
		s.recordAccess(uri, requester)
		return existing, nil
	}
	doc := document.Restore(pdoc.Snap)
	ws = NewWorkspace(uri, pdoc.Name, pdoc.Owner, doc, s.config.BroadcastBufferSize, s.persistFunc(uri, pdoc.Name, pdoc.Owner))
	s.workspaces[uri] = ws
	s.mu.Unlock()
	go s.persistLoop(uri)

	s.recordAccess(uri, requester)
	return ws, nil
}

func (s *Server) recordAccess(uri, requester string) {
	user, err := s.db.LoadUser(requester)
	if err != nil || user == nil {
		return
	}
	for _, u := range user.OwnedDocs {
		if u == uri {
			return
		}
	}
	for _, u := range user.SharedDocs {
		if u == uri {
			return
		}
	}
	if err := s.db.AddSharedDocument(requester, uri); err != nil {
		logger.Error("record shared document %s for %s: %v", uri, requester, err)
	}
}

// RemoveDocument deletes a document the caller owns, tearing down any
// live Workspace without a final persist (there is nothing left to keep).
func (s *Server) RemoveDocument(uri, requester string) error {
	pdoc, err := s.db.LoadDocument(uri)
	if err != nil {
		return err
	}
	if pdoc == nil {
		return fmt.Errorf("server: no such document %q", uri)
	}
	if pdoc.Owner != requester {
		return fmt.Errorf("server: only the owner may remove a document")
	}

	s.mu.Lock()
	ws, ok := s.workspaces[uri]
	delete(s.workspaces, uri)
	s.mu.Unlock()
	if ok {
		ws.Kill()
	}

	return s.db.DeleteDocument(uri)
}

// persistFunc builds the callback a Workspace invokes exactly once, when
// its last participant leaves.
func (s *Server) persistFunc(uri, name, owner string) func(document.Snapshot) {
	return func(snap document.Snapshot) {
		pdoc := &database.PersistedDocument{URI: uri, Name: name, Owner: owner, Snap: snap}
		if err := s.db.StoreDocument(pdoc); err != nil {
			logger.Error("persist document %s: %v", uri, err)
		}
		s.mu.Lock()
		delete(s.workspaces, uri)
		s.mu.Unlock()
	}
}

// persistLoop periodically snapshots a live workspace to the database, a
// crash-durability safety net on top of the persist-on-last-leave
// guarantee, generalized from the source's jittered per-document
// persister goroutine.
func (s *Server) persistLoop(uri string) {
	interval := s.config.PersistInterval
	if interval <= 0 {
		interval = 5 * time.Second
	}

	for {
		jitter := time.Duration(rand.Int63n(int64(interval)))
		time.Sleep(interval + jitter)

		s.mu.Lock()
		ws, ok := s.workspaces[uri]
		s.mu.Unlock()
		if !ok {
			return
		}

		snap, err := ws.Snapshot()
		if err != nil {
			return // workspace closed between the lookup and the call
		}
		if err := s.db.StoreDocument(&database.PersistedDocument{URI: uri, Name: ws.Name, Owner: ws.Owner, Snap: snap}); err != nil {
			logger.Error("periodic persist of %s: %v", uri, err)
		}
	}
}

// StartCleaner periodically evicts idle workspaces (no operation in
// maxIdle) after giving them a final persist, mirroring the source's
// StartCleaner/cleanupExpiredDocuments sweep.
func (s *Server) StartCleaner(ctx context.Context, interval, maxIdle time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.cleanupIdleWorkspaces(maxIdle)
		}
	}
}

func (s *Server) cleanupIdleWorkspaces(maxIdle time.Duration) {
	now := time.Now()

	s.mu.Lock()
	var idle []string
	for uri, ws := range s.workspaces {
		if n, _ := ws.UserCount(); n == 0 && now.Sub(ws.LastActivity()) > maxIdle {
			idle = append(idle, uri)
		}
	}
	s.mu.Unlock()

	for _, uri := range idle {
		s.mu.Lock()
		ws, ok := s.workspaces[uri]
		if ok {
			delete(s.workspaces, uri)
		}
		s.mu.Unlock()
		if !ok {
			continue
		}
		snap, err := ws.Snapshot()
		if err == nil {
			if err := s.db.StoreDocument(&database.PersistedDocument{URI: uri, Name: ws.Name, Owner: ws.Owner, Snap: snap}); err != nil {
				logger.Error("cleanup persist of %s: %v", uri, err)
			}
		}
		ws.Kill()
		logger.Info("cleaner evicted idle workspace %s", uri)
	}
}

// ListenAndServe starts the HTTP server.
func (s *Server) ListenAndServe(addr string) error {
	logger.Info("server listening on %s", addr)
	return http.ListenAndServe(addr, s)
}

// Shutdown persists and tears down every live workspace.
func (s *Server) Shutdown(ctx context.Context) error {
	s.mu.Lock()
	uris := make([]string, 0, len(s.workspaces))
	for uri := range s.workspaces {
		uris = append(uris, uri)
	}
	s.mu.Unlock()

	for _, uri := range uris {
		s.mu.Lock()
		ws, ok := s.workspaces[uri]
		s.mu.Unlock()
		if !ok {
			continue
		}
		if snap, err := ws.Snapshot(); err == nil {
			if err := s.db.StoreDocument(&database.PersistedDocument{URI: uri, Name: ws.Name, Owner: ws.Owner, Snap: snap}); err != nil {
				logger.Error("shutdown persist of %s: %v", uri, err)
			}
		}
		ws.Kill()
	}
	return nil
}
