package db

import (
	"context"
	"database/sql"

	"github.com/pkg/errors"
)

// CommitOperations writes one accepted submission. The document row is only
// updated while it is still at c.BaseVersion; otherwise nothing is written
// and ErrVersionConflict is returned.
func (s *Store) CommitOperations(ctx context.Context, c Commit) error {
	at := formatTime(c.At)
	if c.At.IsZero() {
		at = formatTime(s.now())
	}

	return retryOnContention(func() error {
		tx, err := s.db.BeginTxx(ctx, nil)
		if err != nil {
			return errors.Wrap(err, "begin tx")
		}
		defer tx.Rollback() //nolint:errcheck // rollback after commit is a no-op

		res, err := tx.ExecContext(ctx, s.q(`
			UPDATE documents SET content = ?, version = ?, updated_at = ?
			WHERE id = ? AND version = ?`),
			c.Content, c.NextVersion, at, c.DocumentID, c.BaseVersion)
		if err != nil {
			return errors.Wrap(err, "update document")
		}
		n, err := res.RowsAffected()
		if err != nil {
			return errors.Wrap(err, "failed to get rows affected")
		}
		if n == 0 {
			var exists int
			err := tx.GetContext(ctx, &exists, s.q(`SELECT COUNT(*) FROM documents WHERE id = ?`), c.DocumentID)
			if err != nil {
				return errors.Wrap(err, "check document")
			}
			if exists == 0 {
				return ErrDocumentNotFound
			}
			return ErrVersionConflict
		}

		for _, e := range c.Entries {
			_, err := tx.ExecContext(ctx, s.q(`
				INSERT INTO op_log (document_id, user_id, base_version, op_type, position, payload, created_at)
				VALUES (?, ?, ?, ?, ?, ?, ?)`),
				c.DocumentID, e.UserID, e.BaseVersion, e.Type, e.Position, e.Payload, at)
			if err != nil {
				return errors.Wrap(err, "insert op log entry")
			}
		}

		if c.Snapshot != nil {
			_, err := tx.ExecContext(ctx, s.q(`
				INSERT INTO snapshots (document_id, created_by, version, snapshot_text, created_at)
				VALUES (?, ?, ?, ?, ?)`),
				c.DocumentID, c.Snapshot.CreatedByUserID, c.Snapshot.Version, c.Snapshot.SnapshotText, at)
			if err != nil {
				return errors.Wrap(err, "insert snapshot")
			}
		}

		return tx.Commit()
	})
}

type opLogRow struct {
	ID          int64  `db:"id"`
	DocumentID  string `db:"document_id"`
	UserID      string `db:"user_id"`
	BaseVersion uint64 `db:"base_version"`
	Type        string `db:"op_type"`
	Position    int    `db:"position"`
	Payload     string `db:"payload"`
	CreatedAt   string `db:"created_at"`
}

// ListOpLog returns every logged operation of a document in commit order.
func (s *Store) ListOpLog(ctx context.Context, documentID string) ([]OpLogEntry, error) {
	var rows []opLogRow
	err := s.db.SelectContext(ctx, &rows, s.q(`
		SELECT id, document_id, user_id, base_version, op_type, position, payload, created_at
		FROM op_log WHERE document_id = ? ORDER BY id ASC`), documentID)
	if err != nil {
		return nil, errors.Wrap(err, "failed to list op log")
	}

	entries := make([]OpLogEntry, 0, len(rows))
	for _, r := range rows {
		created, err := parseTime(r.CreatedAt)
		if err != nil {
			return nil, errors.Wrapf(err, "parse created_at for op %d", r.ID)
		}
		entries = append(entries, OpLogEntry{
			ID:          r.ID,
			DocumentID:  r.DocumentID,
			UserID:      r.UserID,
			BaseVersion: r.BaseVersion,
			Type:        r.Type,
			Position:    r.Position,
			Payload:     r.Payload,
			CreatedAt:   created,
		})
	}
	return entries, nil
}

type snapshotRow struct {
	ID           int64  `db:"id"`
	DocumentID   string `db:"document_id"`
	CreatedBy    string `db:"created_by"`
	Version      uint64 `db:"version"`
	SnapshotText string `db:"snapshot_text"`
	CreatedAt    string `db:"created_at"`
}

func (r snapshotRow) toSnapshot() (Snapshot, error) {
	created, err := parseTime(r.CreatedAt)
	if err != nil {
		return Snapshot{}, errors.Wrapf(err, "parse created_at for snapshot %d", r.ID)
	}
	return Snapshot{
		ID:              r.ID,
		DocumentID:      r.DocumentID,
		CreatedByUserID: r.CreatedBy,
		Version:         r.Version,
		SnapshotText:    r.SnapshotText,
		CreatedAt:       created,
	}, nil
}

const snapshotColumns = `id, document_id, created_by, version, snapshot_text, created_at`

// ListSnapshots returns a document's snapshots, newest first.
func (s *Store) ListSnapshots(ctx context.Context, documentID string) ([]Snapshot, error) {
	var rows []snapshotRow
	err := s.db.SelectContext(ctx, &rows, s.q(`
		SELECT `+snapshotColumns+` FROM snapshots
		WHERE document_id = ? ORDER BY id DESC`), documentID)
	if err != nil {
		return nil, errors.Wrap(err, "failed to list snapshots")
	}

	snapshots := make([]Snapshot, 0, len(rows))
	for _, r := range rows {
		snap, err := r.toSnapshot()
		if err != nil {
			return nil, err
		}
		snapshots = append(snapshots, snap)
	}
	return snapshots, nil
}

func (s *Store) GetSnapshot(ctx context.Context, documentID string, id int64) (*Snapshot, error) {
	var row snapshotRow
	err := s.db.GetContext(ctx, &row, s.q(`
		SELECT `+snapshotColumns+` FROM snapshots
		WHERE document_id = ? AND id = ?`), documentID, id)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrSnapshotNotFound
		}
		return nil, errors.Wrap(err, "failed to get snapshot")
	}
	snap, err := row.toSnapshot()
	if err != nil {
		return nil, err
	}
	return &snap, nil
}
