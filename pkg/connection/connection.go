// Package connection describes the transport a layout is attached to.
//
// A Connection is built once by the session consumer and installed into the
// layout; hooks read it but never modify it.
package connection

import (
	"net/url"
	"sync"

	"github.com/vango-dev/conduit/pkg/layout"
)

// PrivateKey is the scope sub-key holding per-connection private state.
const PrivateKey = "conduit"

// Carrier exposes out-of-band operations on the underlying transport.
type Carrier interface {
	// Close closes the transport normally.
	Close() error

	// Disconnect closes the transport with the given close code.
	Disconnect(code int) error

	// ComponentID returns the dotted identifier of the root component.
	ComponentID() string

	// User returns the authenticated principal, or nil.
	User() User
}

// User is an authenticated principal.
type User interface {
	// UserID returns the serialized primary key.
	UserID() string

	// IsAnonymous reports whether the principal is a placeholder for an
	// unauthenticated visitor.
	IsAnonymous() bool
}

// Location is the page path the connection was opened for.
type Location struct {
	Pathname string `json:"pathname"`
	Search   string `json:"search"`
}

// NewLocation builds a Location, prefixing a non-empty query with "?".
func NewLocation(path, rawQuery string) Location {
	loc := Location{Pathname: path}
	if rawQuery != "" {
		loc.Search = "?" + rawQuery
	}
	return loc
}

// URL returns pathname and search joined.
func (l Location) URL() string {
	return l.Pathname + l.Search
}

// Query parses Search.
func (l Location) Query() url.Values {
	q, _ := url.ParseQuery(trimQuestion(l.Search))
	return q
}

func trimQuestion(s string) string {
	if len(s) > 0 && s[0] == '?' {
		return s[1:]
	}
	return s
}

// Scope is a read-only view of the transport scope.
type Scope struct {
	values map[string]any
}

// NewScope copies values into a Scope.
func NewScope(values map[string]any) Scope {
	cp := make(map[string]any, len(values))
	for k, v := range values {
		cp[k] = v
	}
	return Scope{values: cp}
}

// Get returns a scope value.
func (s Scope) Get(key string) (any, bool) {
	v, ok := s.values[key]
	return v, ok
}

// String returns a string scope value, or "".
func (s Scope) String(key string) string {
	v, _ := s.values[key].(string)
	return v
}

// Keys returns the scope keys.
func (s Scope) Keys() []string {
	keys := make([]string, 0, len(s.values))
	for k := range s.values {
		keys = append(keys, k)
	}
	return keys
}

// Private returns the per-connection private store, if present.
func (s Scope) Private() *Private {
	p, _ := s.values[PrivateKey].(*Private)
	return p
}

// Private holds state hooks share within one connection.
type Private struct {
	id string

	mu     sync.Mutex
	values map[string]any
}

// NewPrivate creates a private store identified by the session uuid.
func NewPrivate(id string) *Private {
	return &Private{id: id, values: make(map[string]any)}
}

// ID returns the session uuid.
func (p *Private) ID() string {
	return p.id
}

// Load returns a stored value.
func (p *Private) Load(key string) (any, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	v, ok := p.values[key]
	return v, ok
}

// Store sets a value.
func (p *Private) Store(key string, v any) {
	p.mu.Lock()
	p.values[key] = v
	p.mu.Unlock()
}

// LoadOrStore returns the existing value for key or stores v.
func (p *Private) LoadOrStore(key string, v any) (actual any, loaded bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if cur, ok := p.values[key]; ok {
		return cur, true
	}
	p.values[key] = v
	return v, false
}

// Delete removes a value.
func (p *Private) Delete(key string) {
	p.mu.Lock()
	delete(p.values, key)
	p.mu.Unlock()
}

// Connection is attached to every render of a session.
type Connection struct {
	Scope    Scope
	Location Location
	Carrier  Carrier
}

type contextKey struct{}

// Install makes conn available to hooks of a layout.
func Install(conn *Connection) layout.Option {
	return layout.WithValue(contextKey{}, conn)
}

// FromScope returns the connection installed in the layout rendering s, or
// nil.
func FromScope(s *layout.Scope) *Connection {
	c, _ := s.Value(contextKey{}).(*Connection)
	return c
}

// userKey is the private-store key of a user set after connect.
const userKey = "user"

// User returns the connection's current principal: one set with SetUser,
// then the scope's "user" entry, then the carrier's. It is nil when none is
// known.
func (c *Connection) User() User {
	if c == nil {
		return nil
	}
	if p := c.Scope.Private(); p != nil {
		if v, ok := p.Load(userKey); ok {
			u, _ := v.(User)
			return u
		}
	}
	if v, ok := c.Scope.Get("user"); ok {
		if u, ok := v.(User); ok && u != nil {
			return u
		}
	}
	if c.Carrier != nil {
		return c.Carrier.User()
	}
	return nil
}

// SetUser replaces the principal seen by later reads of User. It is a no-op
// when the scope has no private store.
func (c *Connection) SetUser(u User) {
	if c == nil {
		return
	}
	if p := c.Scope.Private(); p != nil {
		p.Store(userKey, u)
	}
}
