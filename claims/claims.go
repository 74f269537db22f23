// Package claims resolves signed identity tokens into principals.
//
// Resolution is fail-safe, not fail-open: an absent, malformed, expired
// or badly signed token yields the anonymous principal instead of an
// error, and the evaluator then denies. The surrounding request never
// fails because of a bad token.
package claims

import (
	"log/slog"
	"net/http"
	"strings"

	"github.com/golang-jwt/jwt/v5"

	"github.com/xraph/rowguard"
)

// ServiceRoleClaim is the role claim value privileged backend tokens
// carry. Kept alongside rowguard.RoleService because issuers in the wild
// write it with the underscore.
const ServiceRoleClaim = "service_role"

// Claims is the token payload the resolver understands. Subject carries
// the principal id; Role carries the trust level.
type Claims struct {
	Role string `json:"role,omitempty"`
	jwt.RegisteredClaims
}

// Principal maps verified claims onto a principal.
func (c *Claims) Principal() rowguard.Principal {
	switch c.Role {
	case ServiceRoleClaim, string(rowguard.RoleService):
		return rowguard.Principal{ID: c.Subject, Role: rowguard.RoleService}
	}
	if c.Subject == "" {
		return rowguard.Anonymous()
	}
	return rowguard.Principal{ID: c.Subject, Role: rowguard.RoleAuthenticated}
}

// Resolver verifies bearer tokens and produces principals.
type Resolver struct {
	keyFunc jwt.Keyfunc
	parser  *jwt.Parser
	logger  *slog.Logger
}

// Option is a functional option for the Resolver.
type Option func(*Resolver)

// WithLogger sets the structured logger. Rejected tokens are traced at
// debug level; they are expected noise, not incidents.
func WithLogger(l *slog.Logger) Option { return func(r *Resolver) { r.logger = l } }

// NewResolver creates a resolver verifying HS256 signatures with the
// given shared secret.
func NewResolver(secret []byte, opts ...Option) (*Resolver, error) {
	if len(secret) == 0 {
		return nil, jwt.ErrInvalidKey
	}
	r := &Resolver{
		keyFunc: func(*jwt.Token) (any, error) { return secret, nil },
		parser:  jwt.NewParser(jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()})),
		logger:  slog.Default(),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r, nil
}

// Resolve verifies one token. Any verification failure yields the
// anonymous principal.
func (r *Resolver) Resolve(token string) rowguard.Principal {
	if token == "" {
		return rowguard.Anonymous()
	}
	var c Claims
	if _, err := r.parser.ParseWithClaims(token, &c, r.keyFunc); err != nil {
		r.logger.Debug("token rejected", slog.String("error", err.Error()))
		return rowguard.Anonymous()
	}
	return c.Principal()
}

// ResolveRequest resolves the request's bearer token.
func (r *Resolver) ResolveRequest(req *http.Request) rowguard.Principal {
	return r.Resolve(TokenFromRequest(req))
}

const bearerPrefix = "bearer "

// TokenFromRequest extracts the bearer token from the Authorization
// header, or "" when there is none.
func TokenFromRequest(req *http.Request) string {
	h := req.Header.Get("Authorization")
	if len(h) >= len(bearerPrefix) && strings.EqualFold(h[:len(bearerPrefix)], bearerPrefix) {
		return strings.TrimSpace(h[len(bearerPrefix):])
	}
	return ""
}
