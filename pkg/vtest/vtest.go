package vtest

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/vango-dev/conduit/pkg/auth"
	"github.com/vango-dev/conduit/pkg/connection"
	"github.com/vango-dev/conduit/pkg/hooks"
	"github.com/vango-dev/conduit/pkg/layout"
	"github.com/vango-dev/conduit/pkg/store"
	"github.com/vango-dev/conduit/pkg/vdom"
)

// DefaultWait bounds how long Flush waits for a render.
const DefaultWait = 2 * time.Second

// Option configures a Harness.
type Option func(*config)

type config struct {
	user     connection.User
	location connection.Location
	scope    map[string]any
	runtime  *hooks.Runtime
	bridge   *auth.Bridge
	store    store.Store
	wait     time.Duration
	opts     []layout.Option
}

// WithUser sets the connection user.
//
// Example:
//
//	h := vtest.Mount(t, Dashboard(), vtest.WithUser(auth.Principal{ID: "42"}))
func WithUser(u connection.User) Option {
	return func(c *config) { c.user = u }
}

// WithLocation sets the page location seen by UseLocation.
func WithLocation(path, rawQuery string) Option {
	return func(c *config) { c.location = connection.NewLocation(path, rawQuery) }
}

// WithScope adds a scope value.
func WithScope(key string, v any) Option {
	return func(c *config) { c.scope[key] = v }
}

// WithRuntime installs rt instead of a fresh one.
func WithRuntime(rt *hooks.Runtime) Option {
	return func(c *config) { c.runtime = rt }
}

// WithBridge installs an auth bridge so UseAuth works.
func WithBridge(b *auth.Bridge) Option {
	return func(c *config) { c.bridge = b }
}

// WithStore sets the store of the fresh runtime.
func WithStore(s store.Store) Option {
	return func(c *config) { c.store = s }
}

// WithWait changes how long Flush waits for a render.
func WithWait(d time.Duration) Option {
	return func(c *config) { c.wait = d }
}

// WithLayoutOption passes opt to the layout.
func WithLayoutOption(opt layout.Option) Option {
	return func(c *config) { c.opts = append(c.opts, opt) }
}

// Harness drives a layout without a transport. It keeps the client's view
// of the model by applying every update at its path.
type Harness struct {
	t       testing.TB
	layout  *layout.Layout
	conn    *connection.Connection
	carrier *Carrier
	wait    time.Duration

	model   *vdom.Model
	updates []layout.Update
}

// Mount renders root and returns a harness holding the first update. The
// layout is closed when the test ends.
//
// Example:
//
//	h := vtest.Mount(t, Counter())
//	h.Click("onclick")
//	h.ExpectText("count=1")
func Mount(t testing.TB, root *layout.Component, opts ...Option) *Harness {
	t.Helper()
	cfg := &config{scope: map[string]any{}, wait: DefaultWait}
	for _, opt := range opts {
		opt(cfg)
	}

	rt := cfg.runtime
	if rt == nil {
		rt = hooks.NewRuntime(2)
		rt.Store = cfg.store
		if rt.Store == nil {
			rt.Store = store.NewMemoryStore()
		}
		t.Cleanup(func() { _ = rt.Close() })
	}

	id := store.NewID()
	values := map[string]any{
		"type":                "websocket",
		connection.PrivateKey: connection.NewPrivate(id),
	}
	if cfg.user != nil {
		values["user"] = cfg.user
	}
	for k, v := range cfg.scope {
		values[k] = v
	}
	carrier := &Carrier{ID: root.ComponentName(), Principal: cfg.user}
	conn := &connection.Connection{
		Scope:    connection.NewScope(values),
		Location: cfg.location,
		Carrier:  carrier,
	}

	lopts := []layout.Option{hooks.Install(rt), connection.Install(conn)}
	if cfg.bridge != nil {
		lopts = append(lopts, auth.Install(cfg.bridge))
	}
	lopts = append(lopts, cfg.opts...)

	h := &Harness{
		t:       t,
		layout:  layout.NewLayout(root, lopts...),
		conn:    conn,
		carrier: carrier,
		wait:    cfg.wait,
	}
	t.Cleanup(func() { _ = h.layout.Close() })
	h.Flush()
	return h
}

// Layout returns the layout under test.
func (h *Harness) Layout() *layout.Layout { return h.layout }

// Connection returns the connection installed in the layout.
func (h *Harness) Connection() *connection.Connection { return h.conn }

// Carrier returns the fake transport.
func (h *Harness) Carrier() *Carrier { return h.carrier }

// Model returns the client-side model after all flushed updates.
func (h *Harness) Model() *vdom.Model { return h.model }

// Updates returns every update flushed so far.
func (h *Harness) Updates() []layout.Update { return h.updates }

// Text returns the text content of the model.
func (h *Harness) Text() string { return h.model.TextContent() }

// Flush waits for the next update and applies it.
func (h *Harness) Flush() layout.Update {
	h.t.Helper()
	u, err := h.next(h.wait)
	if err != nil {
		h.t.Fatalf("vtest: waiting for render: %v", err)
	}
	return u
}

// TryFlush applies the next update if one arrives within d.
func (h *Harness) TryFlush(d time.Duration) (layout.Update, bool) {
	u, err := h.next(d)
	return u, err == nil
}

// FlushUntil flushes until the model text equals want.
func (h *Harness) FlushUntil(want string) {
	h.t.Helper()
	deadline := time.Now().Add(h.wait)
	for h.Text() != want {
		left := time.Until(deadline)
		if left <= 0 {
			h.t.Fatalf("vtest: text = %q, want %q", h.Text(), want)
		}
		if _, err := h.next(left); err != nil {
			h.t.Fatalf("vtest: text = %q, want %q: %v", h.Text(), want, err)
		}
	}
}

func (h *Harness) next(d time.Duration) (layout.Update, error) {
	ctx, cancel := context.WithTimeout(context.Background(), d)
	defer cancel()
	u, err := h.layout.Render(ctx)
	if err != nil {
		return u, err
	}
	if err := h.apply(u); err != nil {
		return u, err
	}
	h.updates = append(h.updates, u)
	return u, nil
}

// apply replaces the sub-tree at u.Path.
func (h *Harness) apply(u layout.Update) error {
	if u.Path == "" {
		h.model = u.Model
		return nil
	}
	parts := strings.Split(strings.TrimPrefix(u.Path, "/"), "/")
	if len(parts)%2 != 0 {
		return fmt.Errorf("malformed path %q", u.Path)
	}
	node := h.model
	for i := 0; i < len(parts); i += 2 {
		idx, err := strconv.Atoi(parts[i+1])
		if parts[i] != "children" || err != nil || node == nil || idx >= len(node.Children) {
			return fmt.Errorf("path %q does not resolve", u.Path)
		}
		if i+2 == len(parts) {
			node.Children[idx] = u.Model
			return nil
		}
		node = node.Child(idx)
	}
	return nil
}

// Fire delivers event to the first handler registered for it, for example
// "onclick", with data as the payload.
func (h *Harness) Fire(event string, data ...any) {
	h.t.Helper()
	target := h.Target(event)
	if target == "" {
		h.t.Fatalf("vtest: no %s handler in model", event)
	}
	h.Deliver(target, data...)
}

// Click fires onclick and flushes the resulting render.
func (h *Harness) Click() layout.Update {
	h.t.Helper()
	h.Fire("onclick")
	return h.Flush()
}

// Deliver sends an event for target.
func (h *Harness) Deliver(target string, data ...any) {
	h.t.Helper()
	if data == nil {
		data = []any{}
	}
	ev := layout.Event{Type: layout.TypeLayoutEvent, Target: target, Data: data}
	if err := h.layout.Deliver(context.Background(), ev); err != nil {
		h.t.Fatalf("vtest: deliver: %v", err)
	}
}

// Target returns the target of the first handler for event, or "".
func (h *Harness) Target(event string) string {
	node := h.model.Find(func(m *vdom.Model) bool {
		_, ok := m.EventHandlers[event]
		return ok
	})
	if node == nil {
		return ""
	}
	return node.EventHandlers[event].Target
}

// Find returns the first element with tag.
func (h *Harness) Find(tag string) *vdom.Model {
	return h.model.Find(func(m *vdom.Model) bool { return m.TagName == tag })
}

// =============================================================================
// Assertions
// =============================================================================

// ExpectText asserts the model text equals want.
func (h *Harness) ExpectText(want string) {
	h.t.Helper()
	if got := h.Text(); got != want {
		h.t.Errorf("expected text %q, got %q", want, got)
	}
}

// ExpectContains asserts the model text contains expected.
func (h *Harness) ExpectContains(expected string) {
	h.t.Helper()
	if got := h.Text(); !strings.Contains(got, expected) {
		h.t.Errorf("expected text to contain %q, got:\n%s", expected, truncate(got, 500))
	}
}

// ExpectNotContains asserts the model text does not contain unexpected.
func (h *Harness) ExpectNotContains(unexpected string) {
	h.t.Helper()
	if got := h.Text(); strings.Contains(got, unexpected) {
		h.t.Errorf("expected text to NOT contain %q, got:\n%s", unexpected, truncate(got, 500))
	}
}

// ExpectElement asserts the model contains an element with tag.
func (h *Harness) ExpectElement(tag string) *vdom.Model {
	h.t.Helper()
	m := h.Find(tag)
	if m == nil {
		h.t.Errorf("expected a <%s> element", tag)
	}
	return m
}

// ExpectAttribute asserts some element carries attr=value.
func (h *Harness) ExpectAttribute(attr string, value any) {
	h.t.Helper()
	m := h.model.Find(func(m *vdom.Model) bool {
		v, ok := m.Attributes[attr]
		return ok && fmt.Sprint(v) == fmt.Sprint(value)
	})
	if m == nil {
		h.t.Errorf("expected attribute %s=%v not found", attr, value)
	}
}

func truncate(s string, max int) string {
	if len(s) <= max {
		return s
	}
	return s[:max] + "..."
}

// =============================================================================
// Carrier
// =============================================================================

// Carrier is a connection.Carrier that records how it was closed.
type Carrier struct {
	ID        string
	Principal connection.User

	mu     sync.Mutex
	closed bool
	code   int
}

// Close implements connection.Carrier.
func (c *Carrier) Close() error {
	return c.Disconnect(1000)
}

// Disconnect implements connection.Carrier.
func (c *Carrier) Disconnect(code int) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.closed {
		c.closed, c.code = true, code
	}
	return nil
}

// ComponentID implements connection.Carrier.
func (c *Carrier) ComponentID() string { return c.ID }

// User implements connection.Carrier.
func (c *Carrier) User() connection.User { return c.Principal }

// Closed reports whether the component closed its connection, and with
// which code.
func (c *Carrier) Closed() (int, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.code, c.closed
}
