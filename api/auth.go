package api

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/golang-jwt/jwt/v5"

	"github.com/xraph/credit"
)

// Claims are the bearer token claims issued by the identity provider. The
// subject is the client id.
type Claims struct {
	Role string `json:"role,omitempty"`
	Name string `json:"name,omitempty"`
	jwt.RegisteredClaims
}

// Identity is the authenticated caller.
type Identity struct {
	ClientID string
	Role     string
	Name     string
}

type identityKey struct{}

// IdentityFrom returns the caller stored by Authenticator.Middleware.
func IdentityFrom(ctx context.Context) (Identity, bool) {
	id, ok := ctx.Value(identityKey{}).(Identity)
	return id, ok
}

// Authenticator verifies HS256 bearer tokens.
type Authenticator struct {
	secret    []byte
	issuer    string
	adminRole string
}

// NewAuthenticator returns an Authenticator for tokens signed with secret.
// An empty issuer accepts any issuer.
func NewAuthenticator(secret, issuer, adminRole string) (*Authenticator, error) {
	if secret == "" {
		return nil, errors.New("api: jwt secret is required")
	}
	if adminRole == "" {
		adminRole = "admin"
	}
	return &Authenticator{secret: []byte(secret), issuer: issuer, adminRole: adminRole}, nil
}

// Verify parses and validates a raw token.
func (a *Authenticator) Verify(raw string) (Identity, error) {
	opts := []jwt.ParserOption{
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithExpirationRequired(),
	}
	if a.issuer != "" {
		opts = append(opts, jwt.WithIssuer(a.issuer))
	}

	claims := &Claims{}
	if _, err := jwt.ParseWithClaims(raw, claims, func(*jwt.Token) (any, error) {
		return a.secret, nil
	}, opts...); err != nil {
		return Identity{}, fmt.Errorf("%w: %w", credit.ErrUnauthorized, err)
	}
	if strings.TrimSpace(claims.Subject) == "" {
		return Identity{}, fmt.Errorf("%w: token has no subject", credit.ErrUnauthorized)
	}
	return Identity{ClientID: claims.Subject, Role: claims.Role, Name: claims.Name}, nil
}

// Middleware rejects requests without a valid bearer token.
func (a *Authenticator) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		header := r.Header.Get("Authorization")
		if len(header) < 7 || !strings.EqualFold(header[:7], "bearer ") {
			writeError(w, r, fmt.Errorf("%w: missing bearer token", credit.ErrUnauthorized))
			return
		}

		id, err := a.Verify(strings.TrimSpace(header[7:]))
		if err != nil {
			writeError(w, r, err)
			return
		}
		ctx := context.WithValue(r.Context(), identityKey{}, id)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// RequireAdmin rejects callers without the admin role.
func (a *Authenticator) RequireAdmin(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id, ok := IdentityFrom(r.Context())
		if !ok || id.Role != a.adminRole {
			writeError(w, r, credit.ErrForbidden)
			return
		}
		next.ServeHTTP(w, r)
	})
}
