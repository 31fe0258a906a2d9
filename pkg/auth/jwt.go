// Package auth holds the two collaborators the sync core consumes from the
// outside: bearer token verification and document role checks.
package auth

import (
	"context"
	"net/http"
	"strings"
	"time"

	"collab-sync/pkg/apperr"

	"github.com/dgrijalva/jwt-go"
)

// Identity is the authenticated caller.
type Identity struct {
	UserID string `json:"userId"`
	Email  string `json:"email"`
}

// Verifier turns a bearer token into an Identity.
type Verifier interface {
	VerifyToken(token string) (Identity, error)
}

type Claims struct {
	ID    string `json:"id"`
	Email string `json:"email"`
	jwt.StandardClaims
}

// JWTVerifier verifies and issues HS256 tokens signed with a shared secret.
type JWTVerifier struct {
	secret []byte
	ttl    time.Duration
}

func NewJWTVerifier(secret string) *JWTVerifier {
	return &JWTVerifier{secret: []byte(secret), ttl: 7 * 24 * time.Hour}
}

// Sign issues a token for id. Issuance belongs to the account service; this
// is used by tools and tests.
func (v *JWTVerifier) Sign(id Identity) (string, error) {
	now := time.Now()
	claims := Claims{
		ID:    id.UserID,
		Email: id.Email,
		StandardClaims: jwt.StandardClaims{
			IssuedAt:  now.Unix(),
			ExpiresAt: now.Add(v.ttl).Unix(),
		},
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return token.SignedString(v.secret)
}

func (v *JWTVerifier) VerifyToken(token string) (Identity, error) {
	if token == "" {
		return Identity{}, apperr.New(apperr.Unauthorized, "Missing token")
	}
	parsed, err := jwt.ParseWithClaims(token, &Claims{}, func(t *jwt.Token) (interface{}, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, apperr.New(apperr.Unauthorized, "Unexpected signing method")
		}
		return v.secret, nil
	})
	if err != nil {
		return Identity{}, apperr.Wrap(apperr.Unauthorized, err, "Invalid token")
	}
	claims, ok := parsed.Claims.(*Claims)
	if !ok || !parsed.Valid || claims.ID == "" || claims.Email == "" {
		return Identity{}, apperr.New(apperr.Unauthorized, "Invalid token")
	}
	return Identity{UserID: claims.ID, Email: claims.Email}, nil
}

// TokenFromRequest reads the bearer token from the Authorization header, or
// from the token query parameter for browser websocket clients.
func TokenFromRequest(r *http.Request) string {
	if h := r.Header.Get("Authorization"); h != "" {
		if token, ok := strings.CutPrefix(h, "Bearer "); ok {
			return strings.TrimSpace(token)
		}
		return ""
	}
	return r.URL.Query().Get("token")
}

type ctxKey struct{}

func WithIdentity(ctx context.Context, id Identity) context.Context {
	return context.WithValue(ctx, ctxKey{}, id)
}

// IdentityFrom returns the identity stored by Middleware.
func IdentityFrom(ctx context.Context) (Identity, bool) {
	id, ok := ctx.Value(ctxKey{}).(Identity)
	return id, ok
}

// Middleware rejects requests without a valid token and stores the caller's
// identity in the request context.
func Middleware(v Verifier, onError func(http.ResponseWriter, error)) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			id, err := v.VerifyToken(TokenFromRequest(r))
			if err != nil {
				onError(w, err)
				return
			}
			next.ServeHTTP(w, r.WithContext(WithIdentity(r.Context(), id)))
		})
	}
}
