package auth

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"collab-sync/pkg/apperr"
	"collab-sync/pkg/db"

	"github.com/dgrijalva/jwt-go"
)

func TestSignAndVerify(t *testing.T) {
	v := NewJWTVerifier("secret")
	token, err := v.Sign(Identity{UserID: "user-1", Email: "a@example.com"})
	if err != nil {
		t.Fatalf("Sign: %v", err)
	}

	id, err := v.VerifyToken(token)
	if err != nil {
		t.Fatalf("VerifyToken: %v", err)
	}
	if id.UserID != "user-1" || id.Email != "a@example.com" {
		t.Fatalf("identity = %+v", id)
	}
}

func TestVerifyRejects(t *testing.T) {
	v := NewJWTVerifier("secret")
	other, _ := NewJWTVerifier("other").Sign(Identity{UserID: "user-1", Email: "a@example.com"})
	noEmail, _ := v.Sign(Identity{UserID: "user-1"})

	expired, _ := jwt.NewWithClaims(jwt.SigningMethodHS256, Claims{
		ID:             "user-1",
		Email:          "a@example.com",
		StandardClaims: jwt.StandardClaims{ExpiresAt: time.Now().Add(-time.Hour).Unix()},
	}).SignedString([]byte("secret"))

	noSubject, _ := jwt.NewWithClaims(jwt.SigningMethodHS256, Claims{}).SignedString([]byte("secret"))

	tests := []struct {
		name  string
		token string
	}{
		{"empty", ""},
		{"garbage", "not-a-token"},
		{"wrong secret", other},
		{"expired", expired},
		{"no user id", noSubject},
		{"no email", noEmail},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := v.VerifyToken(tt.token)
			if !apperr.Is(err, apperr.Unauthorized) {
				t.Fatalf("expected Unauthorized, got %v", err)
			}
		})
	}
}

func TestTokenFromRequest(t *testing.T) {
	tests := []struct {
		name   string
		header string
		url    string
		want   string
	}{
		{"bearer header", "Bearer abc", "/ws", "abc"},
		{"query parameter", "", "/ws?token=xyz", "xyz"},
		{"header wins", "Bearer abc", "/ws?token=xyz", "abc"},
		{"non-bearer header", "Basic abc", "/ws", ""},
		{"none", "", "/ws", ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := httptest.NewRequest(http.MethodGet, tt.url, nil)
			if tt.header != "" {
				r.Header.Set("Authorization", tt.header)
			}
			if got := TokenFromRequest(r); got != tt.want {
				t.Fatalf("got %q, want %q", got, tt.want)
			}
		})
	}
}

func TestMiddleware(t *testing.T) {
	v := NewJWTVerifier("secret")
	token, _ := v.Sign(Identity{UserID: "user-1", Email: "a@example.com"})

	var seen Identity
	h := Middleware(v, func(w http.ResponseWriter, err error) {
		http.Error(w, apperr.Message(err), apperr.Status(err))
	})(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		seen, _ = IdentityFrom(r.Context())
	}))

	r := httptest.NewRequest(http.MethodGet, "/api/documents", nil)
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, r)
	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("status = %d, want 401", rec.Code)
	}

	r = httptest.NewRequest(http.MethodGet, "/api/documents", nil)
	r.Header.Set("Authorization", "Bearer "+token)
	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, r)
	if rec.Code != http.StatusOK || seen.UserID != "user-1" {
		t.Fatalf("status = %d, identity = %+v", rec.Code, seen)
	}
}

type fakeAccess map[string]db.Access

func (f fakeAccess) GetAccess(_ context.Context, documentID, userID string) (db.Access, error) {
	acc, ok := f[documentID]
	if !ok {
		return db.Access{}, db.ErrDocumentNotFound
	}
	if userID != "grantee" {
		acc.Role = ""
	}
	return acc, nil
}

func TestRequireAccess(t *testing.T) {
	c := NewStoreChecker(fakeAccess{
		"viewable":    {OwnerID: "owner", Role: "VIEW"},
		"commentable": {OwnerID: "owner", Role: "comment"},
		"editable":    {OwnerID: "owner", Role: "EDIT"},
	})

	tests := []struct {
		name string
		user string
		doc  string
		min  Role
		want apperr.Kind
		ok   bool
	}{
		{"owner always passes", "owner", "viewable", RoleEdit, 0, true},
		{"view satisfies view", "grantee", "viewable", RoleView, 0, true},
		{"view below edit", "grantee", "viewable", RoleEdit, apperr.Forbidden, false},
		{"comment satisfies view", "grantee", "commentable", RoleView, 0, true},
		{"comment below edit", "grantee", "commentable", RoleEdit, apperr.Forbidden, false},
		{"edit satisfies edit", "grantee", "editable", RoleEdit, 0, true},
		{"no grant", "stranger", "editable", RoleView, apperr.Forbidden, false},
		{"missing document", "owner", "missing", RoleView, apperr.NotFound, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := c.RequireAccess(context.Background(), tt.user, tt.doc, tt.min)
			if tt.ok {
				if err != nil {
					t.Fatalf("unexpected error: %v", err)
				}
				return
			}
			if !apperr.Is(err, tt.want) {
				t.Fatalf("expected %v, got %v", tt.want, err)
			}
		})
	}
}

func TestParseRole(t *testing.T) {
	if r, err := ParseRole(" edit "); err != nil || r != RoleEdit {
		t.Fatalf("ParseRole(edit) = %v, %v", r, err)
	}
	if _, err := ParseRole("OWNER"); !apperr.Is(err, apperr.Invalid) {
		t.Fatalf("expected Invalid, got %v", err)
	}
	if !(RoleView < RoleComment && RoleComment < RoleEdit) {
		t.Fatal("role ordering broken")
	}
}
