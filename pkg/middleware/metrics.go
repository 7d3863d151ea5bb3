package middleware

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// MetricsConfig configures the Prometheus collectors.
type MetricsConfig struct {
	// Namespace is the metrics namespace (default: "conduit").
	Namespace string

	// Subsystem is the metrics subsystem (default: "").
	Subsystem string

	// ConstLabels are constant labels added to all metrics.
	ConstLabels prometheus.Labels

	// Buckets are the histogram buckets for durations.
	// Default: prometheus.DefBuckets
	Buckets []float64

	// Registry is the Prometheus registry to use.
	// Default: prometheus.DefaultRegisterer
	Registry prometheus.Registerer
}

// MetricsOption configures NewMetrics.
type MetricsOption func(*MetricsConfig)

// WithNamespace sets the metrics namespace.
func WithNamespace(namespace string) MetricsOption {
	return func(c *MetricsConfig) {
		c.Namespace = namespace
	}
}

// WithSubsystem sets the metrics subsystem.
func WithSubsystem(subsystem string) MetricsOption {
	return func(c *MetricsConfig) {
		c.Subsystem = subsystem
	}
}

// WithConstLabels sets constant labels for all metrics.
func WithConstLabels(labels prometheus.Labels) MetricsOption {
	return func(c *MetricsConfig) {
		c.ConstLabels = labels
	}
}

// WithBuckets sets the histogram buckets.
func WithBuckets(buckets []float64) MetricsOption {
	return func(c *MetricsConfig) {
		c.Buckets = buckets
	}
}

// WithRegistry sets the Prometheus registry.
func WithRegistry(registry prometheus.Registerer) MetricsOption {
	return func(c *MetricsConfig) {
		c.Registry = registry
	}
}

func defaultMetricsConfig() MetricsConfig {
	return MetricsConfig{
		Namespace: "conduit",
		Buckets:   prometheus.DefBuckets,
		Registry:  prometheus.DefaultRegisterer,
	}
}

// Connection outcomes.
const (
	OutcomeServed            = "served"
	OutcomeNotRegistered     = "not_registered"
	OutcomeExpired           = "expired"
	OutcomeConstructionError = "construction_error"
	OutcomeDispatchError     = "dispatch_error"
)

// Metrics holds the runtime collectors.
type Metrics struct {
	connectionsActive prometheus.Gauge
	connectionsTotal  *prometheus.CounterVec
	updatesSent       prometheus.Counter
	eventsReceived    prometheus.Counter
	eventDuration     prometheus.Histogram
	cleanerDeleted    *prometheus.CounterVec
	cleanerDuration   prometheus.Histogram
	httpRequests      *prometheus.CounterVec
}

// NewMetrics creates and registers the collectors. Registering twice with
// the same registry panics, as promauto does.
func NewMetrics(opts ...MetricsOption) *Metrics {
	config := defaultMetricsConfig()
	for _, opt := range opts {
		opt(&config)
	}
	factory := promauto.With(config.Registry)

	return &Metrics{
		connectionsActive: factory.NewGauge(prometheus.GaugeOpts{
			Namespace:   config.Namespace,
			Subsystem:   config.Subsystem,
			Name:        "connections_active",
			Help:        "Number of live session consumers",
			ConstLabels: config.ConstLabels,
		}),

		connectionsTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace:   config.Namespace,
			Subsystem:   config.Subsystem,
			Name:        "connections_total",
			Help:        "Finished connections by outcome",
			ConstLabels: config.ConstLabels,
		}, []string{"outcome"}),

		updatesSent: factory.NewCounter(prometheus.CounterOpts{
			Namespace:   config.Namespace,
			Subsystem:   config.Subsystem,
			Name:        "updates_sent_total",
			Help:        "Layout updates written to clients",
			ConstLabels: config.ConstLabels,
		}),

		eventsReceived: factory.NewCounter(prometheus.CounterOpts{
			Namespace:   config.Namespace,
			Subsystem:   config.Subsystem,
			Name:        "events_received_total",
			Help:        "Client events queued for delivery",
			ConstLabels: config.ConstLabels,
		}),

		eventDuration: factory.NewHistogram(prometheus.HistogramOpts{
			Namespace:   config.Namespace,
			Subsystem:   config.Subsystem,
			Name:        "event_duration_seconds",
			Help:        "Time to deliver one client event",
			ConstLabels: config.ConstLabels,
			Buckets:     config.Buckets,
		}),

		cleanerDeleted: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace:   config.Namespace,
			Subsystem:   config.Subsystem,
			Name:        "cleaner_deleted_total",
			Help:        "Rows removed by the cleaner",
			ConstLabels: config.ConstLabels,
		}, []string{"kind"}),

		cleanerDuration: factory.NewHistogram(prometheus.HistogramOpts{
			Namespace:   config.Namespace,
			Subsystem:   config.Subsystem,
			Name:        "cleaner_duration_seconds",
			Help:        "Cleaner pass duration in seconds",
			ConstLabels: config.ConstLabels,
			Buckets:     config.Buckets,
		}),

		httpRequests: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace:   config.Namespace,
			Subsystem:   config.Subsystem,
			Name:        "http_requests_total",
			Help:        "Requests to the runtime's HTTP endpoints",
			ConstLabels: config.ConstLabels,
		}, []string{"endpoint", "code"}),
	}
}

// =============================================================================
// Recording
// =============================================================================

// ConnectionOpened records a consumer entering the serving state.
func (m *Metrics) ConnectionOpened() {
	if m != nil {
		m.connectionsActive.Inc()
	}
}

// ConnectionClosed records a consumer leaving the serving state.
func (m *Metrics) ConnectionClosed() {
	if m != nil {
		m.connectionsActive.Dec()
	}
}

// ConnectionFinished counts a finished connection by outcome.
func (m *Metrics) ConnectionFinished(outcome string) {
	if m != nil {
		m.connectionsTotal.WithLabelValues(outcome).Inc()
	}
}

// UpdateSent counts one outbound layout update.
func (m *Metrics) UpdateSent() {
	if m != nil {
		m.updatesSent.Inc()
	}
}

// EventReceived counts one inbound event.
func (m *Metrics) EventReceived() {
	if m != nil {
		m.eventsReceived.Inc()
	}
}

// EventDelivered records how long delivering an event took.
func (m *Metrics) EventDelivered(d time.Duration) {
	if m != nil {
		m.eventDuration.Observe(d.Seconds())
	}
}

// Cleaned records rows deleted by the cleaner.
func (m *Metrics) Cleaned(kind string, n int) {
	if m != nil && n > 0 {
		m.cleanerDeleted.WithLabelValues(kind).Add(float64(n))
	}
}

// CleanerPass records the duration of a cleaner pass.
func (m *Metrics) CleanerPass(d time.Duration) {
	if m != nil {
		m.cleanerDuration.Observe(d.Seconds())
	}
}
