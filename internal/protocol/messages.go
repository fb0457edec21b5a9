// Package protocol defines the WebSocket message protocol between client
// and server: a tagged union of request/response structs, each
// JSON-marshaled with exactly one field set, mirroring the source's
// ClientMsg/ServerMsg convention.
package protocol

import "encoding/json"

// BlockRef and ListRef are the wire form of a document.TextBlockID /
// document.TextListID. They live here, not in pkg/document, because this
// package cannot import document (document already imports protocol for
// Format) — document provides Wire()/FromWire() conversions instead.
type BlockRef struct {
	Counter  uint64 `json:"counter"`
	AuthorID uint32 `json:"authorId"`
}

type ListRef struct {
	Counter  uint64 `json:"counter"`
	AuthorID uint32 `json:"authorId"`
}

// LoginRequest begins authentication for an existing account.
type LoginRequest struct {
	Username string `json:"username"`
}

// ChallengeMsg answers LoginRequest with a random salt and nonce. The
// nonce must be folded into the client's response so a captured response
// can't be replayed against a later session.
type ChallengeMsg struct {
	Salt  []byte `json:"salt"`
	Nonce []byte `json:"nonce"`
}

// UnlockRequest answers a Challenge with hash(hash(password, salt), nonce).
type UnlockRequest struct {
	Response []byte `json:"response"`
}

// GrantedMsg tells the client authentication succeeded.
type GrantedMsg struct {
	UserID   uint32 `json:"userId"`
	Nickname string `json:"nickname"`
}

// DeniedMsg tells the client authentication failed.
type DeniedMsg struct {
	Reason string `json:"reason"`
}

// AccountCreateRequest registers a new account. The server salts and
// hashes Password itself; it never reaches the database in the clear.
type AccountCreateRequest struct {
	Username string `json:"username"`
	Password string `json:"password"`
	Nickname string `json:"nickname"`
}

// AccountUpdateRequest patches the caller's own account. Nil fields are
// left unchanged.
type AccountUpdateRequest struct {
	Nickname *string `json:"nickname,omitempty"`
	Icon     *string `json:"icon,omitempty"`
	Password *string `json:"password,omitempty"`
}

// DocumentCreateRequest creates a new document owned by the caller.
type DocumentCreateRequest struct {
	Name string `json:"name"`
}

// DocumentCreatedMsg reports the URI assigned to a newly created document.
type DocumentCreatedMsg struct {
	URI  string `json:"uri"`
	Name string `json:"name"`
}

// DocumentOpenRequest joins the workspace for an existing document.
type DocumentOpenRequest struct {
	URI string `json:"uri"`
}

// DocumentRemoveRequest deletes a document the caller owns.
type DocumentRemoveRequest struct {
	URI string `json:"uri"`
}

// DocumentCloseRequest leaves a document's workspace without logging out,
// returning the session to AUTHENTICATED.
type DocumentCloseRequest struct {
	URI string `json:"uri"`
}

// LogoutRequest ends the session. Kept distinct from DocumentCloseRequest:
// the source's MessageHandler dispatches logout and document-close through
// separate signals, and a client may want to sign out without first
// closing every open document.
type LogoutRequest struct{}

// CharInsertMsg carries one inserted symbol. Pos is the flattened
// [digit, author, ...] array produced by document.Position.Wire(). IsLast
// marks the symbol as the view's own trailing terminator, so a receiving
// DocumentEditor mutates its Document but skips notifying the view (the
// view always maintains one trailing newline natively).
type CharInsertMsg struct {
	Pos      []uint64   `json:"pos"`
	Char     rune       `json:"char"`
	AuthorID uint32     `json:"authorId"`
	Format   CharFormat `json:"format,omitempty"`
	IsLast   bool       `json:"isLast,omitempty"`
}

// CharDeleteMsg carries the Position of a removed symbol.
type CharDeleteMsg struct {
	Pos []uint64 `json:"pos"`
}

// CharFormatMsg carries a format change for one symbol. Broadcast to
// every participant including the sender, so format operations share one
// global order.
type CharFormatMsg struct {
	Pos    []uint64   `json:"pos"`
	Format CharFormat `json:"format"`
}

// BlockEditMsg carries a block-level format change.
type BlockEditMsg struct {
	Block  BlockRef    `json:"block"`
	Format BlockFormat `json:"format"`
}

// ListEditMsg carries a block's list membership change. List is nil when
// the block is being removed from whatever list it was in.
type ListEditMsg struct {
	Block  BlockRef   `json:"block"`
	List   *ListRef   `json:"list,omitempty"`
	Format ListFormat `json:"format,omitempty"`
}

// CursorMoveMsg broadcasts a cursor/selection update.
type CursorMoveMsg struct {
	AuthorID  uint32 `json:"authorId"`
	Index     int    `json:"index"`
	Selection *int   `json:"selection,omitempty"`
}

// PresenceMsg announces a user joining or updating their presence in a
// workspace.
type PresenceMsg struct {
	UserID   uint32 `json:"userId"`
	Nickname string `json:"nickname"`
	Icon     string `json:"icon,omitempty"`
}

// PresenceRemoveMsg announces a user leaving a workspace.
type PresenceRemoveMsg struct {
	UserID uint32 `json:"userId"`
}

// DocumentSnapshotMsg bootstraps a newly joined client with the full
// document state. Snapshot holds a document.Snapshot serialized by the
// caller — this package cannot reference that type directly (see BlockRef).
type DocumentSnapshotMsg struct {
	URI      string          `json:"uri"`
	Snapshot json.RawMessage `json:"snapshot"`
}

// FailureMsg reports a rejected request.
type FailureMsg struct {
	Kind    ErrorKind `json:"kind"`
	Message string    `json:"message"`
}

// ClientMsg is the tagged union of every message a client may send. Only
// one field should be set per message.
type ClientMsg struct {
	Login          *LoginRequest          `json:"Login,omitempty"`
	Unlock         *UnlockRequest         `json:"Unlock,omitempty"`
	AccountCreate  *AccountCreateRequest  `json:"AccountCreate,omitempty"`
	AccountUpdate  *AccountUpdateRequest  `json:"AccountUpdate,omitempty"`
	DocumentCreate *DocumentCreateRequest `json:"DocumentCreate,omitempty"`
	DocumentOpen   *DocumentOpenRequest   `json:"DocumentOpen,omitempty"`
	DocumentRemove *DocumentRemoveRequest `json:"DocumentRemove,omitempty"`
	DocumentClose  *DocumentCloseRequest  `json:"DocumentClose,omitempty"`
	Logout         *LogoutRequest         `json:"Logout,omitempty"`
	CharInsert     *CharInsertMsg         `json:"CharInsert,omitempty"`
	CharDelete     *CharDeleteMsg         `json:"CharDelete,omitempty"`
	CharFormat     *CharFormatMsg         `json:"CharFormat,omitempty"`
	BlockEdit      *BlockEditMsg          `json:"BlockEdit,omitempty"`
	ListEdit       *ListEditMsg           `json:"ListEdit,omitempty"`
	CursorMove     *CursorMoveMsg         `json:"CursorMove,omitempty"`
}

// ServerMsg is the tagged union of every message the server may send.
type ServerMsg struct {
	Challenge        *ChallengeMsg        `json:"Challenge,omitempty"`
	Granted          *GrantedMsg          `json:"Granted,omitempty"`
	Denied           *DeniedMsg           `json:"Denied,omitempty"`
	DocumentCreated  *DocumentCreatedMsg  `json:"DocumentCreated,omitempty"`
	DocumentSnapshot *DocumentSnapshotMsg `json:"DocumentSnapshot,omitempty"`
	CharInsert       *CharInsertMsg       `json:"CharInsert,omitempty"`
	CharDelete       *CharDeleteMsg       `json:"CharDelete,omitempty"`
	CharFormat       *CharFormatMsg       `json:"CharFormat,omitempty"`
	BlockEdit        *BlockEditMsg        `json:"BlockEdit,omitempty"`
	ListEdit         *ListEditMsg         `json:"ListEdit,omitempty"`
	CursorMove       *CursorMoveMsg       `json:"CursorMove,omitempty"`
	PresenceAdd      *PresenceMsg         `json:"PresenceAdd,omitempty"`
	PresenceUpdate   *PresenceMsg         `json:"PresenceUpdate,omitempty"`
	PresenceRemove   *PresenceRemoveMsg   `json:"PresenceRemove,omitempty"`
	Failure          *FailureMsg          `json:"Failure,omitempty"`
}

// MarshalJSON implements custom JSON marshaling for ServerMsg.
// We need to ensure only one field is present in the JSON output.
func (m *ServerMsg) MarshalJSON() ([]byte, error) {
	result := make(map[string]interface{})

	switch {
	case m.Challenge != nil:
		result["Challenge"] = m.Challenge
	case m.Granted != nil:
		result["Granted"] = m.Granted
	case m.Denied != nil:
		result["Denied"] = m.Denied
	case m.DocumentCreated != nil:
		result["DocumentCreated"] = m.DocumentCreated
	case m.DocumentSnapshot != nil:
		result["DocumentSnapshot"] = m.DocumentSnapshot
	case m.CharInsert != nil:
		result["CharInsert"] = m.CharInsert
	case m.CharDelete != nil:
		result["CharDelete"] = m.CharDelete
	case m.CharFormat != nil:
		result["CharFormat"] = m.CharFormat
	case m.BlockEdit != nil:
		result["BlockEdit"] = m.BlockEdit
	case m.ListEdit != nil:
		result["ListEdit"] = m.ListEdit
	case m.CursorMove != nil:
		result["CursorMove"] = m.CursorMove
	case m.PresenceAdd != nil:
		result["PresenceAdd"] = m.PresenceAdd
	case m.PresenceUpdate != nil:
		result["PresenceUpdate"] = m.PresenceUpdate
	case m.PresenceRemove != nil:
		result["PresenceRemove"] = m.PresenceRemove
	case m.Failure != nil:
		result["Failure"] = m.Failure
	}

	return json.Marshal(result)
}

// UnmarshalJSON implements custom JSON unmarshaling for ClientMsg.
func (m *ClientMsg) UnmarshalJSON(data []byte) error {
	var raw map[string]json.RawMessage
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}

	if v, ok := raw["Login"]; ok {
		m.Login = new(LoginRequest)
		return json.Unmarshal(v, m.Login)
	}
	if v, ok := raw["Unlock"]; ok {
		m.Unlock = new(UnlockRequest)
		return json.Unmarshal(v, m.Unlock)
	}
	if v, ok := raw["AccountCreate"]; ok {
		m.AccountCreate = new(AccountCreateRequest)
		return json.Unmarshal(v, m.AccountCreate)
	}
	if v, ok := raw["AccountUpdate"]; ok {
		m.AccountUpdate = new(AccountUpdateRequest)
		return json.Unmarshal(v, m.AccountUpdate)
	}
	if v, ok := raw["DocumentCreate"]; ok {
		m.DocumentCreate = new(DocumentCreateRequest)
		return json.Unmarshal(v, m.DocumentCreate)
	}
	if v, ok := raw["DocumentOpen"]; ok {
		m.DocumentOpen = new(DocumentOpenRequest)
		return json.Unmarshal(v, m.DocumentOpen)
	}
	if v, ok := raw["DocumentRemove"]; ok {
		m.DocumentRemove = new(DocumentRemoveRequest)
		return json.Unmarshal(v, m.DocumentRemove)
	}
	if v, ok := raw["DocumentClose"]; ok {
		m.DocumentClose = new(DocumentCloseRequest)
		return json.Unmarshal(v, m.DocumentClose)
	}
	if _, ok := raw["Logout"]; ok {
		m.Logout = &LogoutRequest{}
	}
	if v, ok := raw["CharInsert"]; ok {
		m.CharInsert = new(CharInsertMsg)
		return json.Unmarshal(v, m.CharInsert)
	}
	if v, ok := raw["CharDelete"]; ok {
		m.CharDelete = new(CharDeleteMsg)
		return json.Unmarshal(v, m.CharDelete)
	}
	if v, ok := raw["CharFormat"]; ok {
		m.CharFormat = new(CharFormatMsg)
		return json.Unmarshal(v, m.CharFormat)
	}
	if v, ok := raw["BlockEdit"]; ok {
		m.BlockEdit = new(BlockEditMsg)
		return json.Unmarshal(v, m.BlockEdit)
	}
	if v, ok := raw["ListEdit"]; ok {
		m.ListEdit = new(ListEditMsg)
		return json.Unmarshal(v, m.ListEdit)
	}
	if v, ok := raw["CursorMove"]; ok {
		m.CursorMove = new(CursorMoveMsg)
		return json.Unmarshal(v, m.CursorMove)
	}

	return nil
}

// Helper constructors for server messages.

func NewChallengeMsg(salt, nonce []byte) *ServerMsg {
	return &ServerMsg{Challenge: &ChallengeMsg{Salt: salt, Nonce: nonce}}
}

func NewGrantedMsg(userID uint32, nickname string) *ServerMsg {
	return &ServerMsg{Granted: &GrantedMsg{UserID: userID, Nickname: nickname}}
}

func NewDeniedMsg(reason string) *ServerMsg {
	return &ServerMsg{Denied: &DeniedMsg{Reason: reason}}
}

func NewDocumentCreatedMsg(uri, name string) *ServerMsg {
	return &ServerMsg{DocumentCreated: &DocumentCreatedMsg{URI: uri, Name: name}}
}

func NewDocumentSnapshotMsg(uri string, snapshot json.RawMessage) *ServerMsg {
	return &ServerMsg{DocumentSnapshot: &DocumentSnapshotMsg{URI: uri, Snapshot: snapshot}}
}

func NewPresenceAddMsg(userID uint32, nickname, icon string) *ServerMsg {
	return &ServerMsg{PresenceAdd: &PresenceMsg{UserID: userID, Nickname: nickname, Icon: icon}}
}

func NewPresenceUpdateMsg(userID uint32, nickname, icon string) *ServerMsg {
	return &ServerMsg{PresenceUpdate: &PresenceMsg{UserID: userID, Nickname: nickname, Icon: icon}}
}

func NewPresenceRemoveMsg(userID uint32) *ServerMsg {
	return &ServerMsg{PresenceRemove: &PresenceRemoveMsg{UserID: userID}}
}

func NewFailureMsg(kind ErrorKind, message string) *ServerMsg {
	return &ServerMsg{Failure: &FailureMsg{Kind: kind, Message: message}}
}
