// Package database provides SQLite persistence for documents and user
// accounts.
package database

import (
	"database/sql"
	"encoding/json"
	"fmt"

	_ "github.com/mattn/go-sqlite3"

	"github.com/quillboard/quillboard/pkg/document"
)

// PersistedDocument is a document row: its canonical Snapshot plus the
// metadata (name, owner) that isn't part of the CRDT state itself.
type PersistedDocument struct {
	URI   string
	Name  string
	Owner string
	Snap  document.Snapshot
}

// UserRecord is a user row: the salted credential plus the profile fields
// supplemented from the original source's richer account flow (nickname,
// icon) and the owned/shared document indexes §6 "Persisted state" names.
type UserRecord struct {
	Username     string
	Salt         []byte
	PasswordHash []byte
	Nickname     string
	Icon         string
	OwnedDocs    []string
	SharedDocs   []string
}

// Database wraps a SQLite connection.
type Database struct {
	db *sql.DB
}

// New creates a new database connection and runs migrations.
func New(uri string) (*Database, error) {
	db, err := sql.Open("sqlite3", uri)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	if err := migrate(db); err != nil {
		db.Close()
		return nil, fmt.Errorf("migrate: %w", err)
	}

	return &Database{db: db}, nil
}

// Close closes the database connection.
func (d *Database) Close() error {
	return d.db.Close()
}

// LoadDocument retrieves a document's persisted snapshot and metadata.
// Returns (nil, nil) if the document does not exist.
func (d *Database) LoadDocument(uri string) (*PersistedDocument, error) {
	var doc PersistedDocument
	var snapJSON string

	err := d.db.QueryRow(
		"SELECT uri, name, owner, snapshot FROM document WHERE uri = ?",
		uri,
	).Scan(&doc.URI, &doc.Name, &doc.Owner, &snapJSON)

	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("query: %w", err)
	}

	if err := json.Unmarshal([]byte(snapJSON), &doc.Snap); err != nil {
		return nil, fmt.Errorf("decode snapshot: %w", err)
	}

	return &doc, nil
}

// StoreDocument saves a document's snapshot (INSERT or UPDATE).
func (d *Database) StoreDocument(doc *PersistedDocument) error {
	snapJSON, err := json.Marshal(doc.Snap)
	if err != nil {
		return fmt.Errorf("encode snapshot: %w", err)
	}

	_, err = d.db.Exec(`
		INSERT INTO document (uri, name, owner, snapshot)
		VALUES (?, ?, ?, ?)
		ON CONFLICT(uri) DO UPDATE SET
			name = excluded.name,
			snapshot = excluded.snapshot
	`, doc.URI, doc.Name, doc.Owner, string(snapJSON))
	if err != nil {
		return fmt.Errorf("exec: %w", err)
	}
	return nil
}

// CountDocuments returns the total number of documents in the database.
func (d *Database) CountDocuments() (int, error) {
	var count int
	err := d.db.QueryRow("SELECT COUNT(*) FROM document").Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("count: %w", err)
	}
	return count, nil
}

// DeleteDocument removes a document from the database.
func (d *Database) DeleteDocument(uri string) error {
	_, err := d.db.Exec("DELETE FROM document WHERE uri = ?", uri)
	if err != nil {
		return fmt.Errorf("delete: %w", err)
	}
	return nil
}

// LoadUser retrieves a user account by username. Returns (nil, nil) if no
// such account exists.
func (d *Database) LoadUser(username string) (*UserRecord, error) {
	var u UserRecord
	var ownedJSON, sharedJSON string

	err := d.db.QueryRow(
		"SELECT username, salt, password_hash, nickname, icon, owned_docs, shared_docs FROM user WHERE username = ?",
		username,
	).Scan(&u.Username, &u.Salt, &u.PasswordHash, &u.Nickname, &u.Icon, &ownedJSON, &sharedJSON)

	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("query: %w", err)
	}

	if err := json.Unmarshal([]byte(ownedJSON), &u.OwnedDocs); err != nil {
		return nil, fmt.Errorf("decode owned_docs: %w", err)
	}
	if err := json.Unmarshal([]byte(sharedJSON), &u.SharedDocs); err != nil {
		return nil, fmt.Errorf("decode shared_docs: %w", err)
	}

	return &u, nil
}

// CreateUser inserts a new user account. Fails if the username is taken.
func (d *Database) CreateUser(u *UserRecord) error {
	owned, shared := u.OwnedDocs, u.SharedDocs
	if owned == nil {
		owned = []string{}
	}
	if shared == nil {
		shared = []string{}
	}
	ownedJSON, err := json.Marshal(owned)
	if err != nil {
		return fmt.Errorf("encode owned_docs: %w", err)
	}
	sharedJSON, err := json.Marshal(shared)
	if err != nil {
		return fmt.Errorf("encode shared_docs: %w", err)
	}

	_, err = d.db.Exec(`
		INSERT INTO user (username, salt, password_hash, nickname, icon, owned_docs, shared_docs)
		VALUES (?, ?, ?, ?, ?, ?, ?)
	`, u.Username, u.Salt, u.PasswordHash, u.Nickname, u.Icon, string(ownedJSON), string(sharedJSON))
	if err != nil {
		return fmt.Errorf("exec: %w", err)
	}
	return nil
}

// UpdateUser patches an existing account's mutable profile fields. Nil
// pointers leave the corresponding column unchanged.
func (d *Database) UpdateUser(username string, nickname, icon *string, passwordHash []byte) error {
	if nickname != nil {
		if _, err := d.db.Exec("UPDATE user SET nickname = ? WHERE username = ?", *nickname, username); err != nil {
			return fmt.Errorf("update nickname: %w", err)
		}
	}
	if icon != nil {
		if _, err := d.db.Exec("UPDATE user SET icon = ? WHERE username = ?", *icon, username); err != nil {
			return fmt.Errorf("update icon: %w", err)
		}
	}
	if passwordHash != nil {
		if _, err := d.db.Exec("UPDATE user SET password_hash = ? WHERE username = ?", passwordHash, username); err != nil {
			return fmt.Errorf("update password_hash: %w", err)
		}
	}
	return nil
}

// AddOwnedDocument records uri as owned by username.
func (d *Database) AddOwnedDocument(username, uri string) error {
	return d.appendDocRef(username, "owned_docs", uri)
}

// AddSharedDocument records uri as shared with username.
func (d *Database) AddSharedDocument(username, uri string) error {
	return d.appendDocRef(username, "shared_docs", uri)
}

func (d *Database) appendDocRef(username, column, uri string) error {
	u, err := d.LoadUser(username)
	if err != nil {
		return err
	}
	if u == nil {
		return fmt.Errorf("database: no such user %q", username)
	}

	var list []string
	switch column {
	case "owned_docs":
		list = u.OwnedDocs
	case "shared_docs":
		list = u.SharedDocs
	}
	for _, existing := range list {
		if existing == uri {
			return nil
		}
	}
	list = append(list, uri)

	encoded, err := json.Marshal(list)
	if err != nil {
		return fmt.Errorf("encode %s: %w", column, err)
	}
	query := fmt.Sprintf("UPDATE user SET %s = ? WHERE username = ?", column)
	if _, err := d.db.Exec(query, string(encoded), username); err != nil {
		return fmt.Errorf("exec: %w", err)
	}
	return nil
}
