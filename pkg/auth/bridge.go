package auth

import (
	"log/slog"
	"net/http"
	"regexp"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/vango-dev/conduit/pkg/cache"
	"github.com/vango-dev/conduit/pkg/connection"
)

// ScopeSessionKey is the scope entry holding the HTTP session key the
// connection was opened with.
const ScopeSessionKey = "session_key"

// DefaultTimeout is how long a pending synchronization waits for the client.
const DefaultTimeout = 30 * time.Second

const tokenPrefix = "conduit:auth:"

var tokenRe = regexp.MustCompile(`^[0-9a-f]{32}$`)

// pending is a synchronization waiting for the client to hit the bridge
// endpoint.
type pending struct {
	SessionKey string
	Principal  Principal
	Logout     bool
}

// Bridge hands the outcome of a login or logout performed over the
// persistent connection back to the HTTP session. A sync token is minted
// per change and kept in the cache for the timeout; the client redeems it
// with a plain GET that carries the response cookies.
type Bridge struct {
	cache         cache.Cache
	issuer        Issuer
	timeout       time.Duration
	basePath      string
	sessionCookie string
	logger        *slog.Logger
}

// BridgeOption configures a Bridge.
type BridgeOption func(*Bridge)

// WithTimeout sets the synchronization window. Default: 30s.
func WithTimeout(d time.Duration) BridgeOption {
	return func(b *Bridge) {
		if d > 0 {
			b.timeout = d
		}
	}
}

// WithBasePath sets the prefix the bridge endpoint is mounted under.
// Default: /_conduit/.
func WithBasePath(p string) BridgeOption {
	return func(b *Bridge) {
		if p != "" {
			b.basePath = "/" + strings.Trim(p, "/") + "/"
		}
	}
}

// WithIssuer sets the backend that writes auth cookies on redemption.
func WithIssuer(i Issuer) BridgeOption {
	return func(b *Bridge) {
		b.issuer = i
	}
}

// WithSessionCookie sets the session key cookie name.
func WithSessionCookie(name string) BridgeOption {
	return func(b *Bridge) {
		if name != "" {
			b.sessionCookie = name
		}
	}
}

// WithBridgeLogger sets the logger.
func WithBridgeLogger(l *slog.Logger) BridgeOption {
	return func(b *Bridge) {
		if l != nil {
			b.logger = l
		}
	}
}

// NewBridge creates a bridge storing tokens in c.
func NewBridge(c cache.Cache, opts ...BridgeOption) *Bridge {
	b := &Bridge{
		cache:         c,
		timeout:       DefaultTimeout,
		basePath:      "/_conduit/",
		sessionCookie: DefaultSessionCookie,
		logger:        slog.Default(),
	}
	for _, opt := range opts {
		opt(b)
	}
	b.logger = b.logger.With("component", "auth")
	return b
}

// Timeout returns the synchronization window.
func (b *Bridge) Timeout() time.Duration {
	return b.timeout
}

// SessionCookie returns the session key cookie name.
func (b *Bridge) SessionCookie() string {
	return b.sessionCookie
}

// URL returns the redemption URL of token.
func (b *Bridge) URL(token string) string {
	return b.basePath + "auth/" + token
}

// Synchronize records that conn switched to p, or logged out when p is nil,
// and returns the token the client must redeem.
func (b *Bridge) Synchronize(conn *connection.Connection, p *Principal) (string, error) {
	if conn == nil {
		return "", ErrNoConnection
	}
	key := conn.Scope.String(ScopeSessionKey)
	if key == "" {
		key = NewSessionKey()
	}
	entry := pending{SessionKey: key}
	if p == nil || p.IsAnonymous() {
		entry.Logout = true
	} else {
		entry.Principal = *p
	}
	token := newToken()
	b.cache.Set(tokenPrefix+token, entry, b.timeout)
	b.logger.Debug("session sync pending", "token", token, "logout", entry.Logout)
	return token, nil
}

// Cancel drops a pending token.
func (b *Bridge) Cancel(token string) {
	b.cache.Delete(tokenPrefix + token)
}

// Handler serves GET /{token}, to be mounted at <base>/auth.
func (b *Bridge) Handler() http.Handler {
	r := chi.NewRouter()
	r.Get("/{token}", b.redeem)
	return r
}

func (b *Bridge) redeem(w http.ResponseWriter, r *http.Request) {
	token := chi.URLParam(r, "token")
	if !tokenRe.MatchString(token) {
		http.NotFound(w, r)
		return
	}
	v, ok := b.cache.Take(tokenPrefix + token)
	if !ok {
		http.NotFound(w, r)
		return
	}
	entry, ok := v.(pending)
	if !ok {
		http.NotFound(w, r)
		return
	}

	http.SetCookie(w, &http.Cookie{
		Name:     b.sessionCookie,
		Value:    entry.SessionKey,
		Path:     "/",
		HttpOnly: true,
		Secure:   r.TLS != nil,
		SameSite: http.SameSiteLaxMode,
	})
	if b.issuer != nil {
		if entry.Logout {
			b.issuer.Clear(w, r)
		} else if err := b.issuer.Issue(w, r, entry.Principal); err != nil {
			b.logger.Error("issuing auth cookie failed", "error", err)
			http.Error(w, http.StatusText(http.StatusInternalServerError), http.StatusInternalServerError)
			return
		}
	}
	w.Header().Set("Cache-Control", "no-store")
	w.WriteHeader(http.StatusNoContent)
}

// NewSessionKey mints an HTTP session key.
func NewSessionKey() string {
	return newToken()
}

func newToken() string {
	return strings.ReplaceAll(uuid.NewString(), "-", "")
}

func (b *Bridge) afterTimeout(fn func()) *time.Timer {
	return time.AfterFunc(b.timeout, fn)
}
