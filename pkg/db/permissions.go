package db

import (
	"context"
	"database/sql"

	"github.com/pkg/errors"
)

// GetAccess returns the owner of documentID and the role granted to userID,
// if any.
func (s *Store) GetAccess(ctx context.Context, documentID, userID string) (Access, error) {
	var row struct {
		OwnerID string         `db:"owner_id"`
		Role    sql.NullString `db:"role"`
	}
	err := s.db.GetContext(ctx, &row, s.q(`
		SELECT d.owner_id, p.role
		FROM documents d
		LEFT JOIN permissions p ON p.document_id = d.id AND p.user_id = ?
		WHERE d.id = ?`), userID, documentID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return Access{}, ErrDocumentNotFound
		}
		return Access{}, errors.Wrap(err, "failed to get access")
	}
	return Access{OwnerID: row.OwnerID, Role: row.Role.String}, nil
}

// GrantRole sets userID's role on documentID, replacing any previous grant.
func (s *Store) GrantRole(ctx context.Context, documentID, userID, role string) error {
	return retryOnContention(func() error {
		tx, err := s.db.BeginTxx(ctx, nil)
		if err != nil {
			return errors.Wrap(err, "begin tx")
		}
		defer tx.Rollback() //nolint:errcheck // rollback after commit is a no-op

		var exists int
		if err := tx.GetContext(ctx, &exists, s.q(`SELECT COUNT(*) FROM documents WHERE id = ?`), documentID); err != nil {
			return errors.Wrap(err, "check document")
		}
		if exists == 0 {
			return ErrDocumentNotFound
		}

		_, err = tx.ExecContext(ctx, s.q(`
			INSERT INTO permissions (document_id, user_id, role) VALUES (?, ?, ?)
			ON CONFLICT (document_id, user_id) DO UPDATE SET role = excluded.role`),
			documentID, userID, role)
		if err != nil {
			return errors.Wrap(err, "failed to grant role")
		}
		return tx.Commit()
	})
}
