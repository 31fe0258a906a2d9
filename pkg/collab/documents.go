package collab

import (
	"context"
	"strings"

	"collab-sync/pkg/apperr"
	"collab-sync/pkg/auth"
	"collab-sync/pkg/db"

	"github.com/pkg/errors"
)

func (s *Service) CreateDocument(ctx context.Context, ownerID, title, content string) (*db.Document, error) {
	title = strings.TrimSpace(title)
	if title == "" {
		title = "Untitled"
	}
	doc, err := s.store.CreateDocument(ctx, ownerID, title, content)
	if err != nil {
		return nil, apperr.Wrap(apperr.Internal, err, "create document")
	}
	s.logger.Info("document created", "document", doc.ID, "owner", ownerID)
	return doc, nil
}

func (s *Service) GetDocument(ctx context.Context, userID, documentID string) (*db.Document, error) {
	if err := s.access.RequireAccess(ctx, userID, documentID, auth.RoleView); err != nil {
		return nil, err
	}
	doc, err := s.store.GetDocument(ctx, documentID)
	if err != nil {
		if errors.Is(err, db.ErrDocumentNotFound) {
			return nil, apperr.Wrap(apperr.NotFound, err, "Document not found")
		}
		return nil, apperr.Wrap(apperr.Internal, err, "get document")
	}
	return doc, nil
}

func (s *Service) ListDocuments(ctx context.Context, userID string) ([]*db.Document, error) {
	docs, err := s.store.ListDocuments(ctx, userID)
	if err != nil {
		return nil, apperr.Wrap(apperr.Internal, err, "list documents")
	}
	return docs, nil
}

// DeleteDocument is allowed for the owner only.
func (s *Service) DeleteDocument(ctx context.Context, userID, documentID string) error {
	if err := s.requireOwner(ctx, userID, documentID); err != nil {
		return err
	}

	unlock := s.locks.Lock(documentID)
	defer unlock()

	if err := s.store.DeleteDocument(ctx, documentID); err != nil {
		if errors.Is(err, db.ErrDocumentNotFound) {
			return apperr.Wrap(apperr.NotFound, err, "Document not found")
		}
		return apperr.Wrap(apperr.Internal, err, "delete document")
	}
	s.logger.Info("document deleted", "document", documentID, "user", userID)
	return nil
}

// GrantRole gives targetUserID a role on the document. Only the owner may
// share a document.
func (s *Service) GrantRole(ctx context.Context, userID, documentID, targetUserID string, role auth.Role) error {
	if strings.TrimSpace(targetUserID) == "" {
		return apperr.New(apperr.Invalid, "userId is required")
	}
	if role == auth.RoleNone {
		return apperr.New(apperr.Invalid, "role is required")
	}
	if err := s.requireOwner(ctx, userID, documentID); err != nil {
		return err
	}
	if err := s.store.GrantRole(ctx, documentID, targetUserID, role.String()); err != nil {
		if errors.Is(err, db.ErrDocumentNotFound) {
			return apperr.Wrap(apperr.NotFound, err, "Document not found")
		}
		return apperr.Wrap(apperr.Internal, err, "grant role")
	}
	return nil
}

func (s *Service) requireOwner(ctx context.Context, userID, documentID string) error {
	acc, err := s.store.GetAccess(ctx, documentID, userID)
	if err != nil {
		if errors.Is(err, db.ErrDocumentNotFound) {
			return apperr.Wrap(apperr.NotFound, err, "Document not found")
		}
		return apperr.Wrap(apperr.Internal, err, "access check failed")
	}
	if acc.OwnerID != userID {
		return apperr.New(apperr.Forbidden, "Only the owner can do this")
	}
	return nil
}
