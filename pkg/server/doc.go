// Package server accepts persistent connections and runs one session
// consumer per connection.
//
// A page render calls PrepareComponent, which registers the component,
// checks the arguments against its signature and, when the constructor
// takes parameters, stores them under a fresh session uuid. The page then
// points the client at
//
//	/<websocket_url>/<component_id>/<uuid>/
//
// and the consumer for that connection moves through
//
//	Accepting → Authenticating → Resolving → Constructing → Serving → Closed
//
// Accepting upgrades the request. Authenticating derives the principal
// with the configured auth.Backend and mints a session key cookie when the
// request has none. Resolving looks the component up in the registry.
// Constructing reads the stored parameters, at most RECONNECT_MAX old, and
// builds the root component. Serving runs layout.Serve with an unbounded
// inbound queue until either side stops.
//
// # Wire format
//
// Inbound text frames:
//
//	{"type": "layout-event", "target": "<handler id>", "data": [...]}
//
// Outbound text frames:
//
//	{"type": "layout-update", "path": "<instance path>", "model": {...}}
//
// # HTTP endpoints
//
// Handler also mounts, under the base path:
//
//	GET <base>web_module/<path>   JavaScript modules (pkg/webmodule)
//	GET <base>iframe/<dotted>     embedded views (pkg/views)
//	GET <base>auth/<token>        session synchronization (pkg/auth)
//	GET <base>client.js           the client bundle, when configured
package server
