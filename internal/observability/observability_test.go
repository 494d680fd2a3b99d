package observability

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"go.opentelemetry.io/otel/trace/noop"

	"github.com/widgetapps/iiot-worker-mqtt-alerts/internal/engine"
	"github.com/widgetapps/iiot-worker-mqtt-alerts/internal/model"
)

var _ engine.Recorder = (*Metrics)(nil)

func TestMetricsRecordsPipeline(t *testing.T) {
	reg := prometheus.NewRegistry()
	m, err := NewMetrics(reg)
	if err != nil {
		t.Fatalf("new metrics: %v", err)
	}

	m.Reading("pressure", engine.OutcomeNotified)
	m.Reading("pressure", engine.OutcomeNotified)
	m.Debounce("won")
	m.Notification(model.ChannelEmail, "sent", 3)
	m.Notification(model.ChannelSMS, "skipped", 0)
	m.Evaluation(15 * time.Millisecond)

	if v := testutil.ToFloat64(m.readings.WithLabelValues("pressure", "notified")); v != 2 {
		t.Fatalf("readings = %v, want 2", v)
	}
	if v := testutil.ToFloat64(m.debounce.WithLabelValues("won")); v != 1 {
		t.Fatalf("debounce = %v, want 1", v)
	}
	if v := testutil.ToFloat64(m.notifications.WithLabelValues("email", "sent")); v != 3 {
		t.Fatalf("notifications = %v, want 3", v)
	}
	if n := testutil.CollectAndCount(m.evaluation); n != 1 {
		t.Fatalf("evaluation series = %d, want 1", n)
	}
	if n := testutil.CollectAndCount(m.notifications); n != 1 {
		t.Fatalf("zero counts must not be recorded, got %d series", n)
	}

	if _, err := NewMetrics(reg); err == nil {
		t.Fatalf("double registration must fail")
	}
}

func TestMiddlewareCountsByRoutePattern(t *testing.T) {
	m, err := NewMetrics(prometheus.NewRegistry())
	if err != nil {
		t.Fatalf("new metrics: %v", err)
	}

	r := chi.NewRouter()
	r.Use(m.Middleware(noop.NewTracerProvider().Tracer("test"), "alert-worker"))
	r.Get("/api/messages/{id}", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	})

	for _, id := range []string{"a", "b"} {
		rec := httptest.NewRecorder()
		r.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/messages/"+id, nil))
		if rec.Code != http.StatusNotFound {
			t.Fatalf("unexpected status %d", rec.Code)
		}
		if rec.Header().Get("Trace-ID") == "" {
			t.Fatalf("missing Trace-ID header")
		}
	}
	if v := testutil.ToFloat64(m.requests.WithLabelValues("alert-worker", "/api/messages/{id}", "GET", "404")); v != 2 {
		t.Fatalf("requests = %v, want 2", v)
	}
}
