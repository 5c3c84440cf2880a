package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds the collectors of one process. Each instance owns its
// registry so tests can build as many as they like.
type Metrics struct {
	Registry *prometheus.Registry

	HTTPRequestDuration *prometheus.HistogramVec
	TemplatesApplied    *prometheus.CounterVec
	DeliverablesCreated prometheus.Counter
	EventsPublished     *prometheus.CounterVec
	RealtimeFallbacks   prometheus.Counter
	OverdueDetected     prometheus.Counter
}

func New() *Metrics {
	reg := prometheus.NewRegistry()
	m := &Metrics{
		Registry: reg,
		HTTPRequestDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "ugchub_http_request_duration_seconds",
				Help:    "HTTP request duration in seconds",
				Buckets: prometheus.ExponentialBuckets(0.001, 2, 12),
			},
			[]string{"method", "path", "status"},
		),
		TemplatesApplied: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "ugchub_templates_applied_total",
				Help: "Deliverable templates applied to approved applications",
			},
			[]string{"template"},
		),
		DeliverablesCreated: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "ugchub_deliverables_created_total",
			Help: "Deliverables persisted by template application",
		}),
		EventsPublished: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "ugchub_events_published_total",
				Help: "Domain events pushed to subscribers and the outbound exchange",
			},
			[]string{"type", "result"},
		),
		RealtimeFallbacks: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "ugchub_realtime_fallbacks_total",
			Help: "Times a realtime follower lost its subscription and fell back to polling",
		}),
		OverdueDetected: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "ugchub_overdue_deliverables_detected_total",
			Help: "Deliverables first detected past their due date by the sweep",
		}),
	}
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		m.HTTPRequestDuration,
		m.TemplatesApplied,
		m.DeliverablesCreated,
		m.EventsPublished,
		m.RealtimeFallbacks,
		m.OverdueDetected,
	)
	return m
}

func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.Registry, promhttp.HandlerOpts{Registry: m.Registry})
}

// Middleware records request durations labelled by chi route pattern.
func (m *Metrics) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)
		path := r.URL.Path
		if rctx := chi.RouteContext(r.Context()); rctx != nil {
			if p := rctx.RoutePattern(); p != "" {
				path = p
			}
		}
		status := ww.Status()
		if status == 0 {
			status = http.StatusOK
		}
		m.HTTPRequestDuration.WithLabelValues(r.Method, path, strconv.Itoa(status)).Observe(time.Since(start).Seconds())
	})
}

// The helpers below accept a nil receiver so callers can run without metrics.

func (m *Metrics) TemplateApplied(templateID string, deliverables int) {
	if m == nil {
		return
	}
	m.TemplatesApplied.WithLabelValues(templateID).Inc()
	m.DeliverablesCreated.Add(float64(deliverables))
}

func (m *Metrics) EventPublished(evtType string, err error) {
	if m == nil {
		return
	}
	result := "ok"
	if err != nil {
		result = "error"
	}
	m.EventsPublished.WithLabelValues(evtType, result).Inc()
}

func (m *Metrics) Fallback() {
	if m == nil {
		return
	}
	m.RealtimeFallbacks.Inc()
}

func (m *Metrics) Overdue(n int) {
	if m == nil {
		return
	}
	m.OverdueDetected.Add(float64(n))
}
