package auth

import (
	"context"
	"strings"

	"collab-sync/pkg/apperr"
	"collab-sync/pkg/db"

	"github.com/pkg/errors"
)

// Role is a document permission level. Higher roles include lower ones.
type Role int

const (
	RoleNone Role = iota
	RoleView
	RoleComment
	RoleEdit
)

func (r Role) String() string {
	switch r {
	case RoleView:
		return "VIEW"
	case RoleComment:
		return "COMMENT"
	case RoleEdit:
		return "EDIT"
	default:
		return "NONE"
	}
}

// ParseRole accepts VIEW, COMMENT or EDIT in any case.
func ParseRole(s string) (Role, error) {
	switch strings.ToUpper(strings.TrimSpace(s)) {
	case "VIEW":
		return RoleView, nil
	case "COMMENT":
		return RoleComment, nil
	case "EDIT":
		return RoleEdit, nil
	}
	return RoleNone, apperr.New(apperr.Invalid, "Unknown role "+s)
}

// Checker decides whether a user may act on a document.
type Checker interface {
	RequireAccess(ctx context.Context, userID, documentID string, min Role) error
}

// AccessReader is the part of the document store the checker reads.
type AccessReader interface {
	GetAccess(ctx context.Context, documentID, userID string) (db.Access, error)
}

// StoreChecker answers access checks from the permissions table. The owner
// satisfies every role.
type StoreChecker struct {
	store AccessReader
}

func NewStoreChecker(store AccessReader) *StoreChecker {
	return &StoreChecker{store: store}
}

func (c *StoreChecker) RequireAccess(ctx context.Context, userID, documentID string, min Role) error {
	acc, err := c.store.GetAccess(ctx, documentID, userID)
	if err != nil {
		if errors.Is(err, db.ErrDocumentNotFound) {
			return apperr.Wrap(apperr.NotFound, err, "Document not found")
		}
		return apperr.Wrap(apperr.Internal, err, "access check failed")
	}
	if acc.OwnerID == userID {
		return nil
	}
	role, err := ParseRole(acc.Role)
	if err != nil || role < min {
		return apperr.New(apperr.Forbidden, "Insufficient permissions: "+min.String()+" required")
	}
	return nil
}
