// Package auth decides, once per WebSocket handshake, whether the request may
// connect and which identity it carries.
package auth

import (
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/Tyrowin/gocluster/internal/registry"
)

var (
	// ErrInvalidToken covers malformed, badly signed, and expired tokens.
	ErrInvalidToken = errors.New("auth: invalid token")
	// ErrMisconfigured is returned when a token arrives but no verifier is set.
	ErrMisconfigured = errors.New("auth: token verification is not configured")
	// ErrMissingSecret is returned when building a verifier without a key.
	ErrMissingSecret = errors.New("auth: missing signing secret")
)

// Error is the handshake rejection reason.
type Error struct {
	Err error
}

func (e *Error) Error() string {
	return "auth: unauthorized: " + e.Err.Error()
}

func (e *Error) Unwrap() error {
	return e.Err
}

// Identity is a verified token.
type Identity struct {
	Subject string
	Claims  map[string]any
}

// Verifier checks a signed token.
type Verifier interface {
	Verify(token string) (Identity, error)
}

// DefaultTokenParam is the query parameter carrying the token.
const DefaultTokenParam = "token"

// Gate extracts and verifies the optional handshake token.
type Gate struct {
	verifier Verifier
	param    string
}

// NewGate returns a gate. A nil verifier accepts anonymous connections only.
func NewGate(v Verifier, param string) *Gate {
	if param == "" {
		param = DefaultTokenParam
	}
	return &Gate{verifier: v, param: param}
}

// Token returns the token of r from the query parameter, falling back to an
// Authorization bearer header.
func (g *Gate) Token(r *http.Request) string {
	if tok := strings.TrimSpace(r.URL.Query().Get(g.param)); tok != "" {
		return tok
	}
	authz := strings.TrimSpace(r.Header.Get("Authorization"))
	if len(authz) > len("bearer ") && strings.EqualFold(authz[:len("bearer ")], "bearer ") {
		return strings.TrimSpace(authz[len("bearer "):])
	}
	return ""
}

// Authenticate returns nil for an anonymous request, the verified user when a
// valid token is present, and an *Error otherwise. A failed verification is
// never downgraded to anonymous.
func (g *Gate) Authenticate(r *http.Request) (*registry.User, error) {
	tok := g.Token(r)
	if tok == "" {
		return nil, nil
	}
	if g.verifier == nil {
		return nil, &Error{Err: ErrMisconfigured}
	}
	id, err := g.verifier.Verify(tok)
	if err != nil {
		return nil, &Error{Err: err}
	}
	if id.Subject == "" {
		return nil, &Error{Err: fmt.Errorf("%w: empty subject", ErrInvalidToken)}
	}
	return UserFromIdentity(id), nil
}

// UserFromIdentity maps well known claims onto a registry user.
func UserFromIdentity(id Identity) *registry.User {
	u := &registry.User{ID: id.Subject, Claims: id.Claims}
	u.Type = claimString(id.Claims, "type", "userType")
	u.Username = claimString(id.Claims, "username", "preferred_username", "name")
	u.DisplayName = claimString(id.Claims, "displayName", "name")
	u.Email = claimString(id.Claims, "email")
	return u
}

func claimString(claims map[string]any, keys ...string) string {
	for _, k := range keys {
		if s, ok := claims[k].(string); ok && s != "" {
			return s
		}
	}
	return ""
}
