package vtest

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/vango-dev/conduit/pkg/registry"
	"github.com/vango-dev/conduit/pkg/store"
)

// ErrSessionExpired is returned by Reconnect when the stored parameters
// are gone or older than the reconnect window.
var ErrSessionExpired = errors.New("vtest: component session expired or not found")

// Session is a prepared component session: its parameters are stored the
// way the server stores them before a client connects.
type Session struct {
	ID          string
	Constructor *registry.Constructor
	Store       store.Store

	// MaxAge is the reconnect window. Default: 259200 seconds.
	MaxAge time.Duration
}

// Prepare binds args and kwargs to c and stores them under a new id.
//
// Example:
//
//	st := store.NewMemoryStore()
//	sess := vtest.Prepare(t, st, Greeter(), nil, map[string]any{"name": "ada"})
//	h, err := sess.Reconnect(t)
func Prepare(t testing.TB, st store.Store, c *registry.Constructor, args []any, kwargs map[string]any) *Session {
	t.Helper()
	if _, err := c.Bind(args, kwargs); err != nil {
		t.Fatalf("vtest: binding %s: %v", c.Name, err)
	}
	id := store.NewID()
	if err := store.PutParams(context.Background(), st, id, store.Params{Args: args, Kwargs: kwargs}); err != nil {
		t.Fatalf("vtest: storing %s: %v", c.Name, err)
	}
	return &Session{ID: id, Constructor: c, Store: st, MaxAge: 259200 * time.Second}
}

// Reconnect resumes the stored parameters, constructs the component and
// mounts it, as a client reconnecting with the session id would.
func (s *Session) Reconnect(t testing.TB, opts ...Option) (*Harness, error) {
	t.Helper()
	p, err := store.ResumeParams(context.Background(), s.Store, s.ID, s.MaxAge)
	if errors.Is(err, store.ErrNotFound) {
		return nil, ErrSessionExpired
	}
	if err != nil {
		return nil, err
	}
	root, err := s.Constructor.New(p.Args, p.Kwargs)
	if err != nil {
		return nil, err
	}
	return Mount(t, root, append([]Option{WithStore(s.Store)}, opts...)...), nil
}
