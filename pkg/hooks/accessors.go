package hooks

import (
	"github.com/vango-dev/conduit/pkg/connection"
	"github.com/vango-dev/conduit/pkg/layout"
)

// UseConnection returns the connection the layout is attached to, or nil
// outside a live connection.
func UseConnection(s *layout.Scope) *connection.Connection {
	return connection.FromScope(s)
}

// UseScope returns the connection scope.
func UseScope(s *layout.Scope) connection.Scope {
	if conn := connection.FromScope(s); conn != nil {
		return conn.Scope
	}
	return connection.NewScope(nil)
}

// UseLocation returns the page location of the connection.
func UseLocation(s *layout.Scope) connection.Location {
	if conn := connection.FromScope(s); conn != nil {
		return conn.Location
	}
	return connection.Location{}
}

// UseOrigin returns the Origin header of the connection request, or "".
func UseOrigin(s *layout.Scope) string {
	return UseScope(s).String("origin")
}

// UseRootID returns the component session id of the root component.
func UseRootID(s *layout.Scope) string {
	if p := UseScope(s).Private(); p != nil {
		return p.ID()
	}
	return ""
}
