package hooks

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/vango-dev/conduit/pkg/connection"
	"github.com/vango-dev/conduit/pkg/layout"
	"github.com/vango-dev/conduit/pkg/store"
)

// running drives a layout's render loop in the background.
type running struct {
	l    *layout.Layout
	mu   sync.Mutex
	errs []*layout.RenderError
}

func (r *running) renderErrors() []*layout.RenderError {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]*layout.RenderError(nil), r.errs...)
}

func newTestRuntime(t *testing.T) *Runtime {
	t.Helper()
	rt := NewRuntime(4)
	rt.Store = store.NewMemoryStore()
	t.Cleanup(func() { _ = rt.Close() })
	return rt
}

func run(t *testing.T, root *layout.Component, rt *Runtime, opts ...layout.Option) *running {
	t.Helper()
	r := &running{}
	opts = append(opts,
		Install(rt),
		layout.OnRenderError(func(e *layout.RenderError) {
			r.mu.Lock()
			r.errs = append(r.errs, e)
			r.mu.Unlock()
		}))
	r.l = layout.NewLayout(root, opts...)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		defer close(done)
		for {
			if _, err := r.l.Render(ctx); err != nil {
				return
			}
		}
	}()
	t.Cleanup(func() {
		cancel()
		_ = r.l.Close()
		<-done
	})
	return r
}

func eventually(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(2 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %s", what)
}

// box is a mutex-guarded value shared between a component and its test.
type box[T any] struct {
	mu sync.Mutex
	v  T
}

func (b *box[T]) Set(v T) {
	b.mu.Lock()
	b.v = v
	b.mu.Unlock()
}

func (b *box[T]) Get() T {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.v
}

type testUser struct {
	id   string
	anon bool
}

func (u testUser) UserID() string    { return u.id }
func (u testUser) IsAnonymous() bool { return u.anon }

type testCarrier struct {
	user connection.User
}

func (c *testCarrier) Close() error          { return nil }
func (c *testCarrier) Disconnect(int) error  { return nil }
func (c *testCarrier) ComponentID() string   { return "test.root" }
func (c *testCarrier) User() connection.User { return c.user }

func withUser(u connection.User) layout.Option {
	return connection.Install(&connection.Connection{
		Scope:    connection.NewScope(map[string]any{connection.PrivateKey: connection.NewPrivate("abc")}),
		Location: connection.NewLocation("/page", "a=1"),
		Carrier:  &testCarrier{user: u},
	})
}
