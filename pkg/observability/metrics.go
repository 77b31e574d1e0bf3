package observability

import (
	"context"
	"net/http"
	"strconv"
	"time"

	"github.com/aretw0/tendril/pkg/domain"
	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "tendril"

// Metrics holds the collectors of one agent.
type Metrics struct {
	registry *prometheus.Registry

	messages     *prometheus.CounterVec
	predictions  *prometheus.CounterVec
	confidence   *prometheus.HistogramVec
	actions      *prometheus.CounterVec
	rejections   *prometheus.CounterVec
	failures     *prometheus.CounterVec
	circuitBreak prometheus.Counter
	sessions     prometheus.Counter

	requests        *prometheus.CounterVec
	requestDuration *prometheus.HistogramVec
	inFlight        prometheus.Gauge
}

// NewMetrics registers the collectors on a private registry.
func NewMetrics() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		messages: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "messages_total",
			Help:      "User messages handled, by input channel and intent.",
		}, []string{"channel", "intent"}),
		predictions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "predictions_total",
			Help:      "Actions predicted by the policy ensemble.",
		}, []string{"action", "policy"}),
		confidence: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "prediction_confidence",
			Help:      "Confidence of the winning prediction.",
			Buckets:   []float64{0.1, 0.3, 0.5, 0.7, 0.9, 1},
		}, []string{"policy"}),
		actions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "actions_executed_total",
			Help:      "Actions executed.",
		}, []string{"action"}),
		rejections: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "actions_rejected_total",
			Help:      "Actions that rejected execution.",
		}, []string{"action"}),
		failures: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "actions_failed_total",
			Help:      "Actions that returned an error.",
		}, []string{"action"}),
		circuitBreak: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "circuit_breaks_total",
			Help:      "Messages stopped by the prediction limit.",
		}),
		sessions: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "sessions_started_total",
			Help:      "Conversation sessions started.",
		}),
		requests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "http",
			Name:      "requests_total",
			Help:      "HTTP requests processed.",
		}, []string{"method", "route", "status"}),
		requestDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "http",
			Name:      "request_duration_seconds",
			Help:      "HTTP request duration in seconds.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"method", "route"}),
		inFlight: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "http",
			Name:      "in_flight_requests",
			Help:      "HTTP requests being served.",
		}),
	}
	m.registry.MustRegister(
		m.messages, m.predictions, m.confidence, m.actions, m.rejections,
		m.failures, m.circuitBreak, m.sessions,
		m.requests, m.requestDuration, m.inFlight,
	)
	return m
}

// Registry returns the underlying registry.
func (m *Metrics) Registry() *prometheus.Registry { return m.registry }

// Handler serves the metrics in the exposition format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// Hooks returns lifecycle hooks feeding the collectors.
func (m *Metrics) Hooks() domain.LifecycleHooks {
	return domain.LifecycleHooks{
		OnMessage: func(_ context.Context, u *domain.UserUttered) {
			m.messages.WithLabelValues(u.InputChannel, u.Intent.Name).Inc()
		},
		OnPrediction: func(_ context.Context, p domain.PredictionEvent) {
			m.predictions.WithLabelValues(p.Action, p.Policy).Inc()
			m.confidence.WithLabelValues(p.Policy).Observe(p.Confidence)
		},
		OnActionExecuted: func(_ context.Context, e *domain.ActionExecuted) {
			m.actions.WithLabelValues(e.ActionName).Inc()
		},
		OnActionRejected: func(_ context.Context, e *domain.ActionExecutionRejected) {
			m.rejections.WithLabelValues(e.ActionName).Inc()
		},
		OnActionFailed: func(_ context.Context, action string, _ error) {
			m.failures.WithLabelValues(action).Inc()
		},
		OnCircuitBreak: func(context.Context, string) {
			m.circuitBreak.Inc()
		},
		OnSessionStart: func(context.Context, string) {
			m.sessions.Inc()
		},
	}
}

// Middleware records request counts and latencies. Routes are labelled by
// their chi pattern so sender ids do not leak into label values.
func (m *Metrics) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}

		m.inFlight.Inc()
		defer m.inFlight.Dec()

		next.ServeHTTP(rec, r)

		route := "unmatched"
		if rctx := chi.RouteContext(r.Context()); rctx != nil && rctx.RoutePattern() != "" {
			route = rctx.RoutePattern()
		}
		m.requests.WithLabelValues(r.Method, route, strconv.Itoa(rec.status)).Inc()
		m.requestDuration.WithLabelValues(r.Method, route).Observe(time.Since(start).Seconds())
	})
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (w *statusRecorder) WriteHeader(status int) {
	w.status = status
	w.ResponseWriter.WriteHeader(status)
}

func (w *statusRecorder) Flush() {
	if f, ok := w.ResponseWriter.(http.Flusher); ok {
		f.Flush()
	}
}
