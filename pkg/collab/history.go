package collab

import (
	"context"

	"collab-sync/pkg/apperr"
	"collab-sync/pkg/auth"
	"collab-sync/pkg/db"
	"collab-sync/pkg/ot"

	"github.com/pkg/errors"
)

// ListSnapshots returns the document's checkpoints, newest first.
func (s *Service) ListSnapshots(ctx context.Context, userID, documentID string) ([]db.Snapshot, error) {
	if err := s.access.RequireAccess(ctx, userID, documentID, auth.RoleView); err != nil {
		return nil, err
	}
	snaps, err := s.store.ListSnapshots(ctx, documentID)
	if err != nil {
		return nil, apperr.Wrap(apperr.Internal, err, "list snapshots")
	}
	return snaps, nil
}

// RestoreSnapshot brings the document back to a snapshot's text. The change is
// committed as ordinary operations against the current version, so it is
// logged and versioned like any other edit.
func (s *Service) RestoreSnapshot(ctx context.Context, userID, documentID string, snapshotID int64) (ApplyResult, error) {
	if err := s.access.RequireAccess(ctx, userID, documentID, auth.RoleEdit); err != nil {
		return ApplyResult{}, err
	}

	snap, err := s.store.GetSnapshot(ctx, documentID, snapshotID)
	if err != nil {
		if errors.Is(err, db.ErrSnapshotNotFound) {
			return ApplyResult{}, apperr.Wrap(apperr.NotFound, err, "Snapshot not found")
		}
		return ApplyResult{}, apperr.Wrap(apperr.Internal, err, "get snapshot")
	}

	unlock := s.locks.Lock(documentID)
	defer unlock()

	state, err := s.loadState(ctx, documentID)
	if err != nil {
		return ApplyResult{}, err
	}
	edit := ot.Diff(state.Content, snap.SnapshotText)
	return s.commit(ctx, userID, state, edit.Ops)
}

// OpLog returns the document's accepted operations in commit order.
func (s *Service) OpLog(ctx context.Context, userID, documentID string) ([]db.OpLogEntry, error) {
	if err := s.access.RequireAccess(ctx, userID, documentID, auth.RoleView); err != nil {
		return nil, err
	}
	entries, err := s.store.ListOpLog(ctx, documentID)
	if err != nil {
		return nil, apperr.Wrap(apperr.Internal, err, "list op log")
	}
	return entries, nil
}

// Replay rebuilds a document's text from its initial content and op log.
func (s *Service) Replay(ctx context.Context, documentID string) (string, error) {
	doc, err := s.store.GetDocument(ctx, documentID)
	if err != nil {
		if errors.Is(err, db.ErrDocumentNotFound) {
			return "", apperr.Wrap(apperr.NotFound, err, "Document not found")
		}
		return "", apperr.Wrap(apperr.Internal, err, "get document")
	}
	entries, err := s.store.ListOpLog(ctx, documentID)
	if err != nil {
		return "", apperr.Wrap(apperr.Internal, err, "list op log")
	}

	content := doc.InitialContent
	for _, e := range entries {
		content = ot.Apply(content, entryOperation(e))
	}
	return content, nil
}

func entryOperation(e db.OpLogEntry) ot.Operation {
	if e.Type == string(ot.OpDelete) {
		return ot.Delete(e.Position, ot.Length(e.Payload))
	}
	return ot.Insert(e.Position, e.Payload)
}
