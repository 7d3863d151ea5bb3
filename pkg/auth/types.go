package auth

import (
	"errors"

	"github.com/vango-dev/conduit/pkg/connection"
)

var (
	// ErrUnknownBackend is returned by NewBackend for an unrecognized name.
	ErrUnknownBackend = errors.New("auth: unknown backend")

	// ErrSessionExpired indicates a signed auth cookie past its expiry.
	ErrSessionExpired = errors.New("auth: session expired")

	// ErrInvalidToken indicates an auth cookie that failed verification.
	ErrInvalidToken = errors.New("auth: invalid token")

	// ErrNoConnection is returned when synchronizing outside a connection.
	ErrNoConnection = errors.New("auth: no connection")
)

// Principal represents the authenticated identity.
// Intentionally minimal, there is no catch-all claims map.
type Principal struct {
	// User identity
	ID    string `json:"id"`
	Email string `json:"email,omitempty"`
	Name  string `json:"name,omitempty"`

	// Authorization
	Roles []string `json:"roles,omitempty"`

	// Expiration, zero for none.
	ExpiresAtUnixMs int64 `json:"expires_at_unix_ms,omitempty"`
}

// Anonymous is the principal of an unauthenticated visitor.
var Anonymous = Principal{}

// UserID implements connection.User.
func (p Principal) UserID() string { return p.ID }

// IsAnonymous implements connection.User.
func (p Principal) IsAnonymous() bool { return p.ID == "" }

// HasRole reports whether p carries role.
func (p Principal) HasRole(role string) bool {
	for _, r := range p.Roles {
		if r == role {
			return true
		}
	}
	return false
}

var _ connection.User = Principal{}
