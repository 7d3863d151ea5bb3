// Package auth derives user principals for persistent connections and
// keeps the HTTP session in step with logins made over them.
//
// # Backends
//
// A Backend reads the principal from the upgrade request:
//
//   - none: every visitor is anonymous
//   - header: a trusted reverse proxy names the user in X-Forwarded-User
//   - jwt: an HS256-signed cookie written by this package
//
// # Session synchronization
//
// A login performed inside a component changes the connection's user at
// once, but the browser's cookies are only set by an HTTP response. UseAuth
// records the change with the Bridge, which stores a one-time token in the
// cache for AUTH_TIMEOUT. The SessionManager component, mounted somewhere in
// the same tree, renders an element telling the client to GET
//
//	<base>/auth/<token>
//
// whose 204 response carries the session key cookie and, for backends that
// implement Issuer, the auth cookie or its removal.
//
//	root := layout.New("app.Root", func(s *layout.Scope) *vdom.VNode {
//	    a := auth.UseAuth(s)
//	    return vdom.Div(
//	        auth.SessionManager(),
//	        vdom.Button(vdom.OnClick(func(ctx context.Context, _ []any) error {
//	            return a.Login(ctx, auth.Principal{ID: "42"})
//	        }), "Log in"),
//	    )
//	})
//
// If the client never redeems the token the manager logs a warning and goes
// back to idle; the connection keeps the new user either way.
package auth
