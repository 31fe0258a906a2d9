// Package collab is the authoritative document state store. Every submission
// for one document runs inside that document's critical section and is
// accepted only against the current version.
package collab

import (
	"context"
	"log/slog"
	"time"

	"collab-sync/pkg/apperr"
	"collab-sync/pkg/auth"
	"collab-sync/pkg/db"
	"collab-sync/pkg/ot"

	"github.com/pkg/errors"
)

const DefaultSnapshotInterval = 20

// ApplyRequest is one client submission.
type ApplyRequest struct {
	UserID      string
	DocumentID  string
	BaseVersion uint64
	Operations  []ot.Operation
}

// ApplyResult is the accepted submission and the state it produced.
type ApplyResult struct {
	Operations []ot.Operation
	Version    uint64
	Content    string
}

type Service struct {
	store            db.IDocumentStore
	access           auth.Checker
	locks            *keyedMutex
	snapshotInterval uint64
	now              func() time.Time
	logger           *slog.Logger
}

type Option func(*Service)

// WithSnapshotInterval sets how many versions separate snapshots. Zero
// disables snapshots.
func WithSnapshotInterval(n uint64) Option {
	return func(s *Service) { s.snapshotInterval = n }
}

func WithClock(now func() time.Time) Option {
	return func(s *Service) { s.now = now }
}

func WithLogger(l *slog.Logger) Option {
	return func(s *Service) { s.logger = l }
}

func NewService(store db.IDocumentStore, access auth.Checker, opts ...Option) *Service {
	s := &Service{
		store:            store,
		access:           access,
		locks:            newKeyedMutex(),
		snapshotInterval: DefaultSnapshotInterval,
		now:              time.Now,
		logger:           slog.Default(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// ApplyUserOperations validates and commits a batch of operations. A batch
// whose BaseVersion is not the current version is rejected with a Conflict
// and nothing is written. An empty batch changes nothing and returns the
// current state.
func (s *Service) ApplyUserOperations(ctx context.Context, req ApplyRequest) (ApplyResult, error) {
	if err := ot.Validate(req.Operations); err != nil {
		return ApplyResult{}, apperr.Wrap(apperr.Invalid, err, "Invalid operations")
	}
	if err := s.access.RequireAccess(ctx, req.UserID, req.DocumentID, auth.RoleEdit); err != nil {
		return ApplyResult{}, err
	}

	unlock := s.locks.Lock(req.DocumentID)
	defer unlock()

	state, err := s.loadState(ctx, req.DocumentID)
	if err != nil {
		return ApplyResult{}, err
	}
	if state.Version != req.BaseVersion {
		return ApplyResult{}, apperr.New(apperr.Conflict, "Version mismatch")
	}
	return s.commit(ctx, req.UserID, state, req.Operations)
}

// commit must be called with the document's lock held.
func (s *Service) commit(ctx context.Context, userID string, state db.DocumentState, ops []ot.Operation) (ApplyResult, error) {
	if len(ops) == 0 {
		return ApplyResult{Operations: ops, Version: state.Version, Content: state.Content}, nil
	}

	content := state.Content
	entries := make([]db.OpLogEntry, 0, len(ops))
	for i, op := range ops {
		position, payload := ot.Effective(content, op)
		entries = append(entries, db.OpLogEntry{
			DocumentID:  state.DocumentID,
			UserID:      userID,
			BaseVersion: state.Version + uint64(i),
			Type:        string(op.Type),
			Position:    position,
			Payload:     payload,
		})
		content = ot.Apply(content, op)
	}

	next := state.Version + uint64(len(ops))
	c := db.Commit{
		DocumentID:  state.DocumentID,
		BaseVersion: state.Version,
		NextVersion: next,
		Content:     content,
		Entries:     entries,
		At:          s.now(),
	}
	if s.snapshotInterval > 0 && next%s.snapshotInterval == 0 {
		c.Snapshot = &db.Snapshot{
			DocumentID:      state.DocumentID,
			CreatedByUserID: userID,
			Version:         next,
			SnapshotText:    content,
		}
	}

	if err := s.store.CommitOperations(ctx, c); err != nil {
		switch {
		case errors.Is(err, db.ErrVersionConflict):
			return ApplyResult{}, apperr.Wrap(apperr.Conflict, err, "Version mismatch")
		case errors.Is(err, db.ErrDocumentNotFound):
			return ApplyResult{}, apperr.Wrap(apperr.NotFound, err, "Document not found")
		}
		s.logger.Error("commit failed", "document", state.DocumentID, "base", state.Version, "err", err)
		return ApplyResult{}, apperr.Wrap(apperr.Internal, err, "commit operations")
	}

	s.logger.Debug("operations committed",
		"document", state.DocumentID, "user", userID, "version", next, "snapshot", c.Snapshot != nil)
	return ApplyResult{Operations: ops, Version: next, Content: content}, nil
}

// LoadDocumentState returns the current content and version.
func (s *Service) LoadDocumentState(ctx context.Context, documentID string) (db.DocumentState, error) {
	return s.loadState(ctx, documentID)
}

func (s *Service) loadState(ctx context.Context, documentID string) (db.DocumentState, error) {
	state, err := s.store.LoadState(ctx, documentID)
	if err != nil {
		if errors.Is(err, db.ErrDocumentNotFound) {
			return db.DocumentState{}, apperr.Wrap(apperr.NotFound, err, "Document not found")
		}
		return db.DocumentState{}, apperr.Wrap(apperr.Internal, err, "load document state")
	}
	return state, nil
}
