// Package middleware provides the runtime's Prometheus metrics and
// OpenTelemetry tracing.
//
// # Prometheus Metrics
//
// NewMetrics registers the collectors:
//   - conduit_connections_active: live session consumers
//   - conduit_connections_total: finished connections by outcome
//   - conduit_updates_sent_total: layout updates written to clients
//   - conduit_events_received_total: client events queued for delivery
//   - conduit_event_duration_seconds: time to deliver one event
//   - conduit_cleaner_deleted_total: rows removed by the cleaner, by kind
//   - conduit_cleaner_duration_seconds: cleaner pass duration
//   - conduit_http_requests_total: requests to the HTTP endpoints
//
// A nil *Metrics records nothing, so callers never check for it.
//
//	m := middleware.NewMetrics(middleware.WithNamespace("myapp"))
//	r.Handle("/metrics", promhttp.Handler())
//
// # OpenTelemetry
//
// The tracer comes from the global provider. Configure it in main before
// starting the server:
//
//	otel.SetTracerProvider(tp)
//
// Connections, cleaner passes and HTTP endpoints each get a span.
package middleware
