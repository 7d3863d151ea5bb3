package auth

import (
	"context"
	"sync"

	"github.com/vango-dev/conduit/pkg/connection"
	"github.com/vango-dev/conduit/pkg/layout"
	"github.com/vango-dev/conduit/pkg/vdom"
)

// SessionManagerName is the component name of the session manager.
const SessionManagerName = "conduit.auth.SessionManager"

// SyncElement is the tag the client resolves into a background request.
const SyncElement = "conduit-http-request"

type bridgeKey struct{}

// Install makes b available to SessionManager and UseAuth in a layout.
func Install(b *Bridge) layout.Option {
	return layout.WithValue(bridgeKey{}, b)
}

// BridgeFrom returns the bridge installed in the scope's layout, or nil.
func BridgeFrom(s *layout.Scope) *Bridge {
	b, _ := s.Value(bridgeKey{}).(*Bridge)
	return b
}

// syncSignal passes pending tokens from UseAuth to the session manager of
// the same connection.
type syncSignal struct {
	mu       sync.Mutex
	token    string
	listener func(string)
}

func (g *syncSignal) request(token string) {
	g.mu.Lock()
	g.token = token
	fn := g.listener
	g.mu.Unlock()
	if fn != nil {
		fn(token)
	}
}

// subscribe installs fn and replays a token requested before it mounted.
func (g *syncSignal) subscribe(fn func(string)) func() {
	g.mu.Lock()
	g.listener = fn
	token := g.token
	g.mu.Unlock()
	if token != "" {
		fn(token)
	}
	return func() {
		g.mu.Lock()
		g.listener = nil
		g.mu.Unlock()
	}
}

// settle clears token if it is still the current one.
func (g *syncSignal) settle(token string) {
	g.mu.Lock()
	if g.token == token {
		g.token = ""
	}
	g.mu.Unlock()
}

const signalKey = "auth-sync"

func signalOf(conn *connection.Connection) *syncSignal {
	if conn == nil {
		return nil
	}
	p := conn.Scope.Private()
	if p == nil {
		return nil
	}
	v, _ := p.LoadOrStore(signalKey, &syncSignal{})
	return v.(*syncSignal)
}

// SessionManager returns the component that completes session
// synchronization. It renders nothing while idle. With a sync pending it
// renders an element telling the client to fetch the bridge URL; the
// element's success event, or the timeout, returns it to idle.
func SessionManager() *layout.Component {
	return layout.New(SessionManagerName, renderSessionManager)
}

func renderSessionManager(s *layout.Scope) *vdom.VNode {
	b := BridgeFrom(s)
	sig := signalOf(connection.FromScope(s))
	token := layout.UseState(s, "")

	layout.UseEffect(s, func() func() {
		if sig == nil {
			return nil
		}
		return sig.subscribe(token.Set)
	})

	current := token.Get()
	layout.UseEffect(s, func() func() {
		if current == "" || b == nil {
			return nil
		}
		timer := b.afterTimeout(func() {
			b.logger.Warn("client did not synchronize the session within AUTH_TIMEOUT",
				"timeout", b.timeout)
			b.Cancel(current)
			reset(sig, token, current)
		})
		return func() { timer.Stop() }
	}, current)

	if current == "" || b == nil {
		return nil
	}
	return vdom.CustomElement(SyncElement,
		vdom.AttrOf("url", b.URL(current)),
		vdom.AttrOf("method", "GET"),
		vdom.On("success", func() { reset(sig, token, current) }),
	)
}

func reset(sig *syncSignal, token layout.State[string], current string) {
	if sig != nil {
		sig.settle(current)
	}
	token.Update(func(cur string) string {
		if cur == current {
			return ""
		}
		return cur
	})
}

// Auth is returned by UseAuth.
type Auth struct {
	// Login switches the connection to p and asks the session manager to
	// carry the change to the HTTP session.
	Login func(ctx context.Context, p Principal) error

	// Logout switches the connection to Anonymous and clears the HTTP
	// session's credentials the same way.
	Logout func(ctx context.Context) error
}

// UseAuth returns login and logout functions for the current connection.
// A SessionManager must be mounted in the same layout for the HTTP side to
// follow.
func UseAuth(s *layout.Scope) Auth {
	b := BridgeFrom(s)
	conn := connection.FromScope(s)
	sig := signalOf(conn)

	apply := func(p *Principal) error {
		if conn == nil {
			return ErrNoConnection
		}
		if p == nil {
			conn.SetUser(Anonymous)
		} else {
			conn.SetUser(*p)
		}
		if b == nil || sig == nil {
			return nil
		}
		token, err := b.Synchronize(conn, p)
		if err != nil {
			return err
		}
		sig.request(token)
		return nil
	}

	return Auth{
		Login: func(_ context.Context, p Principal) error {
			return apply(&p)
		},
		Logout: func(context.Context) error {
			return apply(nil)
		},
	}
}
