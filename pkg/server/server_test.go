package server

import (
	"context"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"nhooyr.io/websocket"
	"nhooyr.io/websocket/wsjson"

	"github.com/quillboard/quillboard/internal/protocol"
	"github.com/quillboard/quillboard/pkg/auth"
	"github.com/quillboard/quillboard/pkg/database"
)

// testServer creates a test frontend over an in-memory SQLite database.
func testServer(t *testing.T) *Server {
	t.Helper()

	db, err := database.New(":memory:")
	if err != nil {
		t.Fatalf("create test database: %v", err)
	}
	t.Cleanup(func() { db.Close() })

	return NewServer(db, Config{
		BroadcastBufferSize: 256,
		WSReadTimeout:       5 * time.Minute,
		WSWriteTimeout:      5 * time.Second,
		PersistInterval:     time.Hour, // keep the periodic safety net out of the test's way
	})
}

func dial(t *testing.T, ts *httptest.Server) *websocket.Conn {
	t.Helper()

	url := "ws" + strings.TrimPrefix(ts.URL, "http") + "/api/socket"
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	conn, _, err := websocket.Dial(ctx, url, nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	t.Cleanup(func() { conn.Close(websocket.StatusNormalClosure, "") })
	return conn
}

func send(t *testing.T, conn *websocket.Conn, msg *protocol.ClientMsg) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := wsjson.Write(ctx, conn, msg); err != nil {
		t.Fatalf("write: %v", err)
	}
}

func recv(t *testing.T, conn *websocket.Conn) *protocol.ServerMsg {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	var msg protocol.ServerMsg
	if err := wsjson.Read(ctx, conn, &msg); err != nil {
		t.Fatalf("read: %v", err)
	}
	return &msg
}

// signup registers a fresh account and returns the connection already in
// AUTHENTICATED state (account creation auto-grants, see
// Connection.handleAccountCreate).
func signup(t *testing.T, ts *httptest.Server, username string) *websocket.Conn {
	t.Helper()
	conn := dial(t, ts)
	send(t, conn, &protocol.ClientMsg{AccountCreate: &protocol.AccountCreateRequest{
		Username: username, Password: "hunter2", Nickname: username,
	}})
	msg := recv(t, conn)
	if msg.Granted == nil {
		t.Fatalf("expected Granted, got %+v", msg)
	}
	return conn
}

func TestAccountCreateGrantsSession(t *testing.T) {
	server := testServer(t)
	ts := httptest.NewServer(server)
	defer ts.Close()

	signup(t, ts, "alice")
}

func TestAccountCreateRejectsDuplicateUsername(t *testing.T) {
	server := testServer(t)
	ts := httptest.NewServer(server)
	defer ts.Close()

	signup(t, ts, "bob")

	conn := dial(t, ts)
	send(t, conn, &protocol.ClientMsg{AccountCreate: &protocol.AccountCreateRequest{
		Username: "bob", Password: "whatever", Nickname: "Bob2",
	}})
	msg := recv(t, conn)
	if msg.Failure == nil {
		t.Fatalf("expected Failure for duplicate username, got %+v", msg)
	}
}

func TestLoginChallengeResponseFlow(t *testing.T) {
	server := testServer(t)
	ts := httptest.NewServer(server)
	defer ts.Close()

	signup(t, ts, "carol").Close(websocket.StatusNormalClosure, "")

	conn := dial(t, ts)
	send(t, conn, &protocol.ClientMsg{Login: &protocol.LoginRequest{Username: "carol"}})
	challenge := recv(t, conn)
	if challenge.Challenge == nil {
		t.Fatalf("expected Challenge, got %+v", challenge)
	}

	user, err := server.db.LoadUser("carol")
	if err != nil || user == nil {
		t.Fatalf("load user: %v", err)
	}
	response := auth.Respond(user.PasswordHash, challenge.Challenge.Nonce)

	send(t, conn, &protocol.ClientMsg{Unlock: &protocol.UnlockRequest{Response: response}})
	granted := recv(t, conn)
	if granted.Granted == nil {
		t.Fatalf("expected Granted, got %+v", granted)
	}
}

func TestLoginWrongPasswordIsDenied(t *testing.T) {
	server := testServer(t)
	ts := httptest.NewServer(server)
	defer ts.Close()

	signup(t, ts, "dave").Close(websocket.StatusNormalClosure, "")

	conn := dial(t, ts)
	send(t, conn, &protocol.ClientMsg{Login: &protocol.LoginRequest{Username: "dave"}})
	challenge := recv(t, conn)

	wrongResponse := auth.Respond([]byte("not the real hash"), challenge.Challenge.Nonce)
	send(t, conn, &protocol.ClientMsg{Unlock: &protocol.UnlockRequest{Response: wrongResponse}})
	denied := recv(t, conn)
	if denied.Denied == nil {
		t.Fatalf("expected Denied, got %+v", denied)
	}
}

func TestDocumentCreateAndOpenDeliversSnapshot(t *testing.T) {
	server := testServer(t)
	ts := httptest.NewServer(server)
	defer ts.Close()

	conn := signup(t, ts, "erin")
	send(t, conn, &protocol.ClientMsg{DocumentCreate: &protocol.DocumentCreateRequest{Name: "notes"}})
	created := recv(t, conn)
	if created.DocumentCreated == nil {
		t.Fatalf("expected DocumentCreated, got %+v", created)
	}
	uri := created.DocumentCreated.URI

	send(t, conn, &protocol.ClientMsg{DocumentOpen: &protocol.DocumentOpenRequest{URI: uri}})
	snap := recv(t, conn)
	if snap.DocumentSnapshot == nil {
		t.Fatalf("expected DocumentSnapshot, got %+v", snap)
	}
	if snap.DocumentSnapshot.URI != uri {
		t.Errorf("snapshot URI = %q, want %q", snap.DocumentSnapshot.URI, uri)
	}
}

func TestCharInsertBroadcastsExcludingOriginator(t *testing.T) {
	server := testServer(t)
	ts := httptest.NewServer(server)
	defer ts.Close()

	owner := signup(t, ts, "frank")
	send(t, owner, &protocol.ClientMsg{DocumentCreate: &protocol.DocumentCreateRequest{Name: "shared"}})
	uri := recv(t, owner).DocumentCreated.URI

	send(t, owner, &protocol.ClientMsg{DocumentOpen: &protocol.DocumentOpenRequest{URI: uri}})
	recv(t, owner) // DocumentSnapshot

	guest := signup(t, ts, "grace")
	send(t, guest, &protocol.ClientMsg{DocumentOpen: &protocol.DocumentOpenRequest{URI: uri}})
	recv(t, guest)                     // DocumentSnapshot
	ownerJoinNotice := recv(t, owner)  // PresenceAdd for grace
	if ownerJoinNotice.PresenceAdd == nil {
		t.Fatalf("expected PresenceAdd, got %+v", ownerJoinNotice)
	}

	pos := []uint64{1, 1}
	send(t, owner, &protocol.ClientMsg{CharInsert: &protocol.CharInsertMsg{
		Pos: pos, Char: 'h', AuthorID: 1,
	}})

	msg := recv(t, guest)
	if msg.CharInsert == nil || msg.CharInsert.Char != 'h' {
		t.Fatalf("expected guest to receive the insert, got %+v", msg)
	}
}

func TestCharFormatBroadcastsIncludingOriginator(t *testing.T) {
	server := testServer(t)
	ts := httptest.NewServer(server)
	defer ts.Close()

	owner := signup(t, ts, "ivan")
	send(t, owner, &protocol.ClientMsg{DocumentCreate: &protocol.DocumentCreateRequest{Name: "shared"}})
	uri := recv(t, owner).DocumentCreated.URI

	send(t, owner, &protocol.ClientMsg{DocumentOpen: &protocol.DocumentOpenRequest{URI: uri}})
	recv(t, owner) // DocumentSnapshot

	guest := signup(t, ts, "judy")
	send(t, guest, &protocol.ClientMsg{DocumentOpen: &protocol.DocumentOpenRequest{URI: uri}})
	recv(t, guest) // DocumentSnapshot
	recv(t, owner) // PresenceAdd for judy

	pos := []uint64{1, 1}
	send(t, owner, &protocol.ClientMsg{CharInsert: &protocol.CharInsertMsg{
		Pos: pos, Char: 'h', AuthorID: 1,
	}})
	recv(t, guest) // CharInsert echoed to judy, excluding the originator

	format := protocol.CharFormat{}.SetBool(protocol.PropBold, true)
	send(t, owner, &protocol.ClientMsg{CharFormat: &protocol.CharFormatMsg{Pos: pos, Format: format}})

	// Unlike CharInsert, a CharFormat is server-ordered and must echo back
	// to the sender as well as every other participant.
	ownerEcho := recv(t, owner)
	if ownerEcho.CharFormat == nil || !ownerEcho.CharFormat.Format.Equal(format) {
		t.Fatalf("expected the originator to receive its own CharFormat echo, got %+v", ownerEcho)
	}

	guestMsg := recv(t, guest)
	if guestMsg.CharFormat == nil || !guestMsg.CharFormat.Format.Equal(format) {
		t.Fatalf("expected the guest to receive the CharFormat broadcast, got %+v", guestMsg)
	}
}

func TestDocumentCloseReturnsToAuthenticated(t *testing.T) {
	server := testServer(t)
	ts := httptest.NewServer(server)
	defer ts.Close()

	conn := signup(t, ts, "heidi")
	send(t, conn, &protocol.ClientMsg{DocumentCreate: &protocol.DocumentCreateRequest{Name: "scratch"}})
	uri := recv(t, conn).DocumentCreated.URI

	send(t, conn, &protocol.ClientMsg{DocumentOpen: &protocol.DocumentOpenRequest{URI: uri}})
	recv(t, conn)

	send(t, conn, &protocol.ClientMsg{DocumentClose: &protocol.DocumentCloseRequest{URI: uri}})

	// A CharInsert sent outside a workspace must be rejected.
	send(t, conn, &protocol.ClientMsg{CharInsert: &protocol.CharInsertMsg{Pos: []uint64{1, 1}, Char: 'x', AuthorID: 1}})
	msg := recv(t, conn)
	if msg.Failure == nil {
		t.Fatalf("expected Failure after DocumentClose, got %+v", msg)
	}
}
