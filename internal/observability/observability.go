package observability

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracehttp"
	otelprom "go.opentelemetry.io/otel/exporters/prometheus"
	"go.opentelemetry.io/otel/propagation"
	otelmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/resource"
	"go.opentelemetry.io/otel/sdk/trace"
	oteltrace "go.opentelemetry.io/otel/trace"

	"github.com/widgetapps/iiot-worker-mqtt-alerts/internal/engine"
	"github.com/widgetapps/iiot-worker-mqtt-alerts/internal/model"
)

// Metrics implements engine.Recorder on Prometheus collectors.
type Metrics struct {
	readings      *prometheus.CounterVec
	notifications *prometheus.CounterVec
	debounce      *prometheus.CounterVec
	evaluation    prometheus.Histogram
	requests      *prometheus.CounterVec
}

func NewMetrics(reg prometheus.Registerer) (*Metrics, error) {
	m := &Metrics{
		readings: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "alert_readings_total",
			Help: "Readings evaluated by sensor kind and outcome.",
		}, []string{"kind", "outcome"}),
		notifications: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "alert_notifications_total",
			Help: "Notification recipients by channel and delivery status.",
		}, []string{"channel", "status"}),
		debounce: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "alert_debounce_total",
			Help: "Cooldown decisions: ineligible, won or lost.",
		}, []string{"result"}),
		evaluation: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "alert_evaluation_seconds",
			Help:    "Time spent evaluating one reading, dispatch included.",
			Buckets: prometheus.DefBuckets,
		}),
		requests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "http_requests_total",
			Help: "Total requests by service, endpoint, method, and status.",
		}, []string{"service", "endpoint", "method", "status"}),
	}
	for _, c := range []prometheus.Collector{m.readings, m.notifications, m.debounce, m.evaluation, m.requests} {
		if err := reg.Register(c); err != nil {
			return nil, err
		}
	}
	return m, nil
}

func (m *Metrics) Reading(kind string, outcome engine.Outcome) {
	m.readings.WithLabelValues(kind, string(outcome)).Inc()
}

func (m *Metrics) Debounce(result string) { m.debounce.WithLabelValues(result).Inc() }

func (m *Metrics) Notification(channel model.Channel, status string, n int) {
	if n <= 0 {
		return
	}
	m.notifications.WithLabelValues(string(channel), status).Add(float64(n))
}

func (m *Metrics) Evaluation(d time.Duration) { m.evaluation.Observe(d.Seconds()) }

// Setup installs the global propagator and the meter and tracer providers.
// Spans are exported over OTLP/HTTP only when otlpEndpoint is set.
func Setup(ctx context.Context, serviceName, otlpEndpoint string) (shutdown func(context.Context) error, promHandler http.Handler, tracer oteltrace.Tracer, err error) {
	otel.SetTextMapPropagator(propagation.NewCompositeTextMapPropagator(propagation.TraceContext{}, propagation.Baggage{}))

	promExporter, err := otelprom.New()
	if err != nil {
		return nil, nil, nil, fmt.Errorf("create prometheus exporter: %w", err)
	}
	meterProvider := otelmetric.NewMeterProvider(otelmetric.WithReader(promExporter))
	otel.SetMeterProvider(meterProvider)

	res, err := resource.New(ctx, resource.WithAttributes(attribute.String("service.name", serviceName)))
	if err != nil {
		return nil, nil, nil, fmt.Errorf("create otel resource: %w", err)
	}

	opts := []trace.TracerProviderOption{trace.WithResource(res)}
	if otlpEndpoint != "" {
		exp, err := otlptracehttp.New(ctx, otlptracehttp.WithEndpointURL(otlpEndpoint))
		if err != nil {
			return nil, nil, nil, fmt.Errorf("create otlp exporter: %w", err)
		}
		opts = append(opts, trace.WithBatcher(exp))
	}
	tp := trace.NewTracerProvider(opts...)
	otel.SetTracerProvider(tp)

	shutdown = func(ctx context.Context) error {
		return errors.Join(tp.Shutdown(ctx), meterProvider.Shutdown(ctx))
	}
	return shutdown, promhttp.Handler(), otel.Tracer(serviceName), nil
}

// Middleware traces each request and counts it by chi route pattern.
func (m *Metrics) Middleware(tracer oteltrace.Tracer, serviceName string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if r.URL.Path == "/metrics" {
				next.ServeHTTP(w, r)
				return
			}

			ctx := otel.GetTextMapPropagator().Extract(r.Context(), propagation.HeaderCarrier(r.Header))
			ctx, span := tracer.Start(ctx, r.Method+" "+r.URL.Path)
			defer span.End()
			span.SetAttributes(
				attribute.String("http.method", r.Method),
				attribute.String("http.target", r.URL.Path),
				attribute.String("service.name", serviceName),
			)
			if rid := middleware.GetReqID(ctx); rid != "" {
				span.SetAttributes(attribute.String("http.request_id", rid))
			}
			w.Header().Set("Trace-ID", span.SpanContext().TraceID().String())

			rw := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
			next.ServeHTTP(rw, r.WithContext(ctx))

			endpoint := r.URL.Path
			if rc := chi.RouteContext(r.Context()); rc != nil && rc.RoutePattern() != "" {
				endpoint = rc.RoutePattern()
			}
			span.SetAttributes(attribute.Int("http.status_code", rw.status))
			m.requests.WithLabelValues(serviceName, endpoint, r.Method, strconv.Itoa(rw.status)).Inc()
		})
	}
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(code int) {
	r.status = code
	r.ResponseWriter.WriteHeader(code)
}

// Hijack lets websocket upgrades pass through the recorder.
func (r *statusRecorder) Hijack() (net.Conn, *bufio.ReadWriter, error) {
	h, ok := r.ResponseWriter.(http.Hijacker)
	if !ok {
		return nil, nil, errors.New("response writer does not support hijacking")
	}
	r.status = http.StatusSwitchingProtocols
	return h.Hijack()
}
