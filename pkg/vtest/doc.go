// Package vtest mounts components without a transport.
//
// A Harness renders a component through a real layout, keeps the model a
// client would hold, and delivers events by handler name:
//
//	func TestCounter(t *testing.T) {
//	    h := vtest.Mount(t, Counter())
//	    h.ExpectText("count=0")
//	    h.Click()
//	    h.ExpectText("count=1")
//	}
//
// Connection state is set with options:
//
//	h := vtest.Mount(t, Profile(),
//	    vtest.WithUser(auth.Principal{ID: "42", Name: "Ada"}),
//	    vtest.WithLocation("/profile/", "tab=settings"))
//
// # Component Sessions
//
// Prepare stores constructor parameters the way the server does before a
// client connects; Reconnect resumes them:
//
//	sess := vtest.Prepare(t, st, Greeter(), nil, map[string]any{"name": "ada"})
//	h, err := sess.Reconnect(t)
//
// Reconnect returns ErrSessionExpired once the parameters are older than
// Session.MaxAge.
package vtest
