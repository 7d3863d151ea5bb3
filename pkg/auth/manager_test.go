package auth

import (
	"context"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/vango-dev/conduit/pkg/cache"
	"github.com/vango-dev/conduit/pkg/connection"
	"github.com/vango-dev/conduit/pkg/layout"
	"github.com/vango-dev/conduit/pkg/vdom"
)

// recordHandler keeps every log record.
type recordHandler struct {
	mu      sync.Mutex
	records []slog.Record
}

func (h *recordHandler) Enabled(context.Context, slog.Level) bool { return true }
func (h *recordHandler) WithAttrs([]slog.Attr) slog.Handler       { return h }
func (h *recordHandler) WithGroup(string) slog.Handler            { return h }

func (h *recordHandler) Handle(_ context.Context, r slog.Record) error {
	h.mu.Lock()
	h.records = append(h.records, r)
	h.mu.Unlock()
	return nil
}

func (h *recordHandler) has(level slog.Level, msg string) bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	for _, r := range h.records {
		if r.Level == level && r.Message == msg {
			return true
		}
	}
	return false
}

type fixture struct {
	bridge  *Bridge
	conn    *connection.Connection
	l       *layout.Layout
	updates chan layout.Update
	auth    chan Auth
}

func newFixture(t *testing.T, timeout time.Duration, logs *recordHandler) *fixture {
	t.Helper()
	f := &fixture{
		bridge: NewBridge(cache.NewMemory(cache.WithCleanupInterval(0)),
			WithTimeout(timeout), WithBridgeLogger(slog.New(logs))),
		conn:    newConn("sess-1"),
		updates: make(chan layout.Update, 16),
		auth:    make(chan Auth, 16),
	}
	root := layout.New("test.Root", func(s *layout.Scope) *vdom.VNode {
		f.auth <- UseAuth(s)
		return vdom.Div(SessionManager())
	})
	f.l = layout.NewLayout(root, Install(f.bridge), connection.Install(f.conn))

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		defer close(done)
		for {
			u, err := f.l.Render(ctx)
			if err != nil {
				return
			}
			f.updates <- u
		}
	}()
	t.Cleanup(func() {
		cancel()
		_ = f.l.Close()
		<-done
	})
	return f
}

func (f *fixture) next(t *testing.T) layout.Update {
	t.Helper()
	select {
	case u := <-f.updates:
		return u
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for an update")
		return layout.Update{}
	}
}

func (f *fixture) login(t *testing.T, p Principal) {
	t.Helper()
	var a Auth
	select {
	case a = <-f.auth:
	case <-time.After(time.Second):
		t.Fatal("root never rendered")
	}
	if err := a.Login(context.Background(), p); err != nil {
		t.Fatalf("Login: %v", err)
	}
}

func syncElement(m *vdom.Model) *vdom.Model {
	return m.Find(func(n *vdom.Model) bool { return n.TagName == SyncElement })
}

func TestSessionManagerIdleRendersNothing(t *testing.T) {
	f := newFixture(t, time.Second, &recordHandler{})
	if el := syncElement(f.next(t).Model); el != nil {
		t.Errorf("idle manager rendered %+v", el)
	}
}

func TestSessionManagerSuccess(t *testing.T) {
	f := newFixture(t, time.Minute, &recordHandler{})
	f.next(t)
	f.login(t, Principal{ID: "42"})

	if u := f.conn.User(); u == nil || u.UserID() != "42" {
		t.Fatalf("connection user = %v after login", u)
	}

	u := f.next(t)
	el := syncElement(u.Model)
	if el == nil {
		t.Fatalf("pending sync not rendered: %+v", u.Model)
	}
	url, _ := el.Attributes["url"].(string)
	token := url[len("/_conduit/auth/"):]
	if redeem(t, f.bridge, token).StatusCode != 204 {
		t.Fatal("token not redeemable")
	}

	if err := f.l.Deliver(context.Background(), layout.Event{
		Type:   layout.TypeLayoutEvent,
		Target: el.EventHandlers["onsuccess"].Target,
	}); err != nil {
		t.Fatal(err)
	}
	if el := syncElement(f.next(t).Model); el != nil {
		t.Error("manager did not return to idle after success")
	}
}

func TestSessionManagerTimeout(t *testing.T) {
	logs := &recordHandler{}
	f := newFixture(t, 50*time.Millisecond, logs)
	f.next(t)
	f.login(t, Principal{ID: "42"})

	el := syncElement(f.next(t).Model)
	if el == nil {
		t.Fatal("pending sync not rendered")
	}
	url, _ := el.Attributes["url"].(string)

	if el := syncElement(f.next(t).Model); el != nil {
		t.Error("manager did not return to idle after timeout")
	}
	if !logs.has(slog.LevelWarn, "client did not synchronize the session within AUTH_TIMEOUT") {
		t.Error("timeout warning not logged")
	}
	if resp := redeem(t, f.bridge, url[len("/_conduit/auth/"):]); resp.StatusCode != 404 {
		t.Errorf("timed out token status = %d, want 404", resp.StatusCode)
	}
	if u := f.conn.User(); u == nil || u.UserID() != "42" {
		t.Errorf("connection user = %v, want login kept", u)
	}
}

func TestLogoutSetsAnonymous(t *testing.T) {
	f := newFixture(t, time.Minute, &recordHandler{})
	f.next(t)
	a := <-f.auth
	if err := a.Logout(context.Background()); err != nil {
		t.Fatal(err)
	}
	if u := f.conn.User(); u == nil || !u.IsAnonymous() {
		t.Errorf("user after logout = %v", u)
	}
	if el := syncElement(f.next(t).Model); el == nil {
		t.Error("logout did not request a sync")
	}
}
