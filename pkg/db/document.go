package db

import (
	"context"
	"time"

	"github.com/pkg/errors"
)

var (
	ErrDocumentNotFound = errors.New("document not found")
	ErrSnapshotNotFound = errors.New("snapshot not found")
	ErrVersionConflict  = errors.New("version mismatch")
)

// Document represents a document in the collaborative editor
type Document struct {
	ID             string    `json:"id"`
	OwnerID        string    `json:"owner_id"`
	Title          string    `json:"title"`
	Content        string    `json:"content"`
	InitialContent string    `json:"-"`
	Version        uint64    `json:"version"`
	CreatedAt      time.Time `json:"created_at"`
	UpdatedAt      time.Time `json:"updated_at"`
}

// DocumentState is the authoritative text and version of one document.
type DocumentState struct {
	DocumentID string `json:"documentId"`
	Content    string `json:"content"`
	Version    uint64 `json:"version"`
}

// OpLogEntry is one accepted primitive operation. Position is the clamped
// index the operation was applied at and Payload the exact text it inserted
// or removed, so the log replays without the original content.
type OpLogEntry struct {
	ID          int64     `json:"id"`
	DocumentID  string    `json:"document_id"`
	UserID      string    `json:"user_id"`
	BaseVersion uint64    `json:"base_version"`
	Type        string    `json:"type"`
	Position    int       `json:"position"`
	Payload     string    `json:"payload"`
	CreatedAt   time.Time `json:"created_at"`
}

// Snapshot is a full-text checkpoint of a document.
type Snapshot struct {
	ID              int64     `json:"id"`
	DocumentID      string    `json:"document_id"`
	CreatedByUserID string    `json:"created_by"`
	Version         uint64    `json:"version"`
	SnapshotText    string    `json:"snapshot_text"`
	CreatedAt       time.Time `json:"created_at"`
}

// Access is what the permission check needs to know about a user and a
// document. Role is empty when the user has no explicit grant.
type Access struct {
	OwnerID string
	Role    string
}

// Commit is everything one accepted submission writes. It is applied
// atomically: content, version, log entries and the optional snapshot.
type Commit struct {
	DocumentID  string
	BaseVersion uint64
	NextVersion uint64
	Content     string
	Entries     []OpLogEntry
	Snapshot    *Snapshot
	At          time.Time
}

// IDocumentStore is the persistence surface used by the services.
type IDocumentStore interface {
	CreateDocument(ctx context.Context, ownerID, title, content string) (*Document, error)
	GetDocument(ctx context.Context, id string) (*Document, error)
	ListDocuments(ctx context.Context, userID string) ([]*Document, error)
	DeleteDocument(ctx context.Context, id string) error

	LoadState(ctx context.Context, id string) (DocumentState, error)
	CommitOperations(ctx context.Context, c Commit) error
	ListOpLog(ctx context.Context, documentID string) ([]OpLogEntry, error)
	ListSnapshots(ctx context.Context, documentID string) ([]Snapshot, error)
	GetSnapshot(ctx context.Context, documentID string, id int64) (*Snapshot, error)

	GetAccess(ctx context.Context, documentID, userID string) (Access, error)
	GrantRole(ctx context.Context, documentID, userID, role string) error
}
