package auth

import (
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// Backend names accepted by the configuration.
const (
	BackendNone   = "none"
	BackendHeader = "header"
	BackendJWT    = "jwt"
)

// Cookie and header defaults.
const (
	DefaultAuthCookie    = "conduit_auth"
	DefaultSessionCookie = "conduit_session"
	DefaultUserHeader    = "X-Forwarded-User"
	DefaultTokenTTL      = 14 * 24 * time.Hour
)

// Backend derives the user principal of a request. A request without
// credentials yields Anonymous and a nil error.
type Backend interface {
	Authenticate(r *http.Request) (Principal, error)
}

// Issuer is a Backend that can also write and clear its own credentials.
// The auth bridge uses it to align the HTTP session with a login or logout
// performed over the persistent connection.
type Issuer interface {
	Backend
	Issue(w http.ResponseWriter, r *http.Request, p Principal) error
	Clear(w http.ResponseWriter, r *http.Request)
}

// BackendNames returns the built-in backend names.
func BackendNames() []string {
	return []string{BackendNone, BackendHeader, BackendJWT}
}

// BackendOptions carries the settings the built-in backends read.
type BackendOptions struct {
	Secret []byte
	Header string
}

// NewBackend returns the built-in backend called name. The empty name is
// treated as "none".
func NewBackend(name string, opts BackendOptions) (Backend, error) {
	switch name {
	case "", BackendNone:
		return NoneBackend{}, nil
	case BackendHeader:
		return HeaderBackend{Header: opts.Header}, nil
	case BackendJWT:
		return NewJWTBackend(opts.Secret)
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownBackend, name)
	}
}

// NoneBackend treats every request as anonymous.
type NoneBackend struct{}

// Authenticate implements Backend.
func (NoneBackend) Authenticate(*http.Request) (Principal, error) {
	return Anonymous, nil
}

// HeaderBackend trusts a header set by an authenticating reverse proxy.
type HeaderBackend struct {
	// Header defaults to X-Forwarded-User.
	Header string
}

// Authenticate implements Backend.
func (b HeaderBackend) Authenticate(r *http.Request) (Principal, error) {
	name := b.Header
	if name == "" {
		name = DefaultUserHeader
	}
	id := strings.TrimSpace(r.Header.Get(name))
	if id == "" {
		return Anonymous, nil
	}
	return Principal{ID: id}, nil
}

// JWTBackend stores the principal in an HS256-signed cookie.
type JWTBackend struct {
	secret     []byte
	cookieName string
	ttl        time.Duration
	now        func() time.Time
}

// JWTOption configures a JWTBackend.
type JWTOption func(*JWTBackend)

// WithCookieName sets the auth cookie name.
func WithCookieName(name string) JWTOption {
	return func(b *JWTBackend) {
		if name != "" {
			b.cookieName = name
		}
	}
}

// WithTokenTTL sets how long issued cookies stay valid.
func WithTokenTTL(ttl time.Duration) JWTOption {
	return func(b *JWTBackend) {
		if ttl > 0 {
			b.ttl = ttl
		}
	}
}

// WithJWTClock replaces time.Now.
func WithJWTClock(now func() time.Time) JWTOption {
	return func(b *JWTBackend) {
		b.now = now
	}
}

// NewJWTBackend creates a backend signing with secret.
func NewJWTBackend(secret []byte, opts ...JWTOption) (*JWTBackend, error) {
	if len(secret) == 0 {
		return nil, errors.New("auth: jwt backend requires a secret")
	}
	b := &JWTBackend{
		secret:     secret,
		cookieName: DefaultAuthCookie,
		ttl:        DefaultTokenTTL,
		now:        time.Now,
	}
	for _, opt := range opts {
		opt(b)
	}
	return b, nil
}

// CookieName returns the auth cookie name.
func (b *JWTBackend) CookieName() string {
	return b.cookieName
}

type claims struct {
	jwt.RegisteredClaims
	Email string   `json:"email,omitempty"`
	Name  string   `json:"name,omitempty"`
	Roles []string `json:"roles,omitempty"`
}

// Sign returns a signed token for p.
func (b *JWTBackend) Sign(p Principal) (string, time.Time, error) {
	now := b.now()
	exp := now.Add(b.ttl)
	if p.ExpiresAtUnixMs > 0 {
		if at := time.UnixMilli(p.ExpiresAtUnixMs); at.Before(exp) {
			exp = at
		}
	}
	c := claims{
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   p.ID,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(exp),
		},
		Email: p.Email,
		Name:  p.Name,
		Roles: p.Roles,
	}
	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, c).SignedString(b.secret)
	if err != nil {
		return "", time.Time{}, fmt.Errorf("signing auth token: %w", err)
	}
	return signed, exp, nil
}

// Parse verifies a signed token and returns its principal.
func (b *JWTBackend) Parse(token string) (Principal, error) {
	var c claims
	_, err := jwt.ParseWithClaims(token, &c, func(*jwt.Token) (any, error) {
		return b.secret, nil
	},
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithTimeFunc(b.now),
	)
	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return Anonymous, ErrSessionExpired
		}
		return Anonymous, fmt.Errorf("%w: %v", ErrInvalidToken, err)
	}
	if c.Subject == "" {
		return Anonymous, fmt.Errorf("%w: missing subject", ErrInvalidToken)
	}
	p := Principal{ID: c.Subject, Email: c.Email, Name: c.Name, Roles: c.Roles}
	if c.ExpiresAt != nil {
		p.ExpiresAtUnixMs = c.ExpiresAt.UnixMilli()
	}
	return p, nil
}

// Authenticate implements Backend.
func (b *JWTBackend) Authenticate(r *http.Request) (Principal, error) {
	cookie, err := r.Cookie(b.cookieName)
	if err != nil || cookie.Value == "" {
		return Anonymous, nil
	}
	return b.Parse(cookie.Value)
}

// Issue implements Issuer.
func (b *JWTBackend) Issue(w http.ResponseWriter, r *http.Request, p Principal) error {
	token, exp, err := b.Sign(p)
	if err != nil {
		return err
	}
	http.SetCookie(w, &http.Cookie{
		Name:     b.cookieName,
		Value:    token,
		Path:     "/",
		Expires:  exp,
		HttpOnly: true,
		Secure:   r.TLS != nil,
		SameSite: http.SameSiteLaxMode,
	})
	return nil
}

// Clear implements Issuer.
func (b *JWTBackend) Clear(w http.ResponseWriter, r *http.Request) {
	http.SetCookie(w, expiredCookie(b.cookieName, r))
}

func expiredCookie(name string, r *http.Request) *http.Cookie {
	return &http.Cookie{
		Name:     name,
		Value:    "",
		Path:     "/",
		MaxAge:   -1,
		HttpOnly: true,
		Secure:   r != nil && r.TLS != nil,
		SameSite: http.SameSiteLaxMode,
	}
}

var (
	_ Backend = NoneBackend{}
	_ Backend = HeaderBackend{}
	_ Issuer  = (*JWTBackend)(nil)
)
