package middleware

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	dto "github.com/prometheus/client_model/go"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

func counterValue(t *testing.T, c prometheus.Counter) float64 {
	t.Helper()
	var m dto.Metric
	if err := c.Write(&m); err != nil {
		t.Fatalf("counter Write() error: %v", err)
	}
	return m.GetCounter().GetValue()
}

func gaugeValue(t *testing.T, g prometheus.Gauge) float64 {
	t.Helper()
	var m dto.Metric
	if err := g.Write(&m); err != nil {
		t.Fatalf("gauge Write() error: %v", err)
	}
	return m.GetGauge().GetValue()
}

func histogramCount(t *testing.T, h prometheus.Histogram) uint64 {
	t.Helper()
	var m dto.Metric
	if err := h.Write(&m); err != nil {
		t.Fatalf("histogram Write() error: %v", err)
	}
	return m.GetHistogram().GetSampleCount()
}

func TestMetricsRecording(t *testing.T) {
	m := NewMetrics(WithRegistry(prometheus.NewRegistry()), WithNamespace("test"))

	m.ConnectionOpened()
	m.ConnectionOpened()
	m.ConnectionClosed()
	if v := gaugeValue(t, m.connectionsActive); v != 1 {
		t.Errorf("connections_active = %v, want 1", v)
	}

	m.ConnectionFinished(OutcomeExpired)
	if v := counterValue(t, m.connectionsTotal.WithLabelValues(OutcomeExpired)); v != 1 {
		t.Errorf("connections_total{expired} = %v", v)
	}

	m.UpdateSent()
	m.EventReceived()
	m.EventDelivered(5 * time.Millisecond)
	if counterValue(t, m.updatesSent) != 1 || counterValue(t, m.eventsReceived) != 1 {
		t.Error("update/event counters not incremented")
	}
	if histogramCount(t, m.eventDuration) != 1 {
		t.Error("event duration not observed")
	}

	m.Cleaned("sessions", 3)
	m.Cleaned("user_data", 0)
	m.CleanerPass(time.Second)
	if v := counterValue(t, m.cleanerDeleted.WithLabelValues("sessions")); v != 3 {
		t.Errorf("cleaner_deleted_total{sessions} = %v", v)
	}
	if histogramCount(t, m.cleanerDuration) != 1 {
		t.Error("cleaner pass not observed")
	}
}

func TestNilMetricsIsNoop(t *testing.T) {
	var m *Metrics
	m.ConnectionOpened()
	m.ConnectionClosed()
	m.ConnectionFinished(OutcomeServed)
	m.UpdateSent()
	m.EventReceived()
	m.EventDelivered(time.Second)
	m.Cleaned("sessions", 1)
	m.CleanerPass(time.Second)
}

func TestInstrument(t *testing.T) {
	m := NewMetrics(WithRegistry(prometheus.NewRegistry()))
	var sawSpan bool
	h := Instrument("web_module", m, NewTracer())(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		sawSpan = trace.SpanFromContext(r.Context()) != nil
		http.Error(w, "bad", http.StatusBadRequest)
	}))

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/web_module/x.js", nil))

	if rec.Code != http.StatusBadRequest {
		t.Errorf("code = %d", rec.Code)
	}
	if !sawSpan {
		t.Error("handler saw no span")
	}
	if v := counterValue(t, m.httpRequests.WithLabelValues("web_module", "400")); v != 1 {
		t.Errorf("http_requests_total = %v", v)
	}
}

func TestInstrumentFilter(t *testing.T) {
	called := false
	tr := NewTracer(
		WithRequestFilter(func(r *http.Request) bool { return r.URL.Path != "/healthz" }),
		WithAttributeExtractor(func(*http.Request) []attribute.KeyValue {
			return []attribute.KeyValue{attribute.String("test.attr", "ok")}
		}),
	)
	h := Instrument("health", nil, tr)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		called = true
	}))
	h.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/healthz", nil))
	if !called {
		t.Error("filtered request did not reach the handler")
	}
}

func TestTracerStartEnd(t *testing.T) {
	var nilTracer *Tracer
	ctx, span := nilTracer.Start(context.Background(), "noop", ConnectionAttrs("a.b", "123")...)
	if ctx == nil || span == nil {
		t.Fatal("nil tracer returned no span")
	}
	End(span, errors.New("boom"))

	_, span = NewTracer(WithTracerName("test")).Start(context.Background(), "real")
	End(span, nil)
}
