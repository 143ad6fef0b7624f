// Package metrics holds the Prometheus collectors of the lifecycle service.
package metrics

import (
	"strconv"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics groups every collector.  Build one per registry with New.
type Metrics struct {
	StatusTransitions    *prometheus.CounterVec
	NotificationsCreated *prometheus.CounterVec
	NotificationFailures *prometheus.CounterVec
	RenewalsCreated      *prometheus.CounterVec
	RenewalDecisions     *prometheus.CounterVec
	Escalations          prometheus.Counter
	LifecycleRuns        *prometheus.CounterVec
	EventsForwarded      *prometheus.CounterVec
	HTTPLatency          *prometheus.HistogramVec
}

// New registers the collectors on reg.
func New(reg prometheus.Registerer) *Metrics {
	f := promauto.With(reg)
	return &Metrics{
		StatusTransitions: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: "contracts",
			Subsystem: "lifecycle",
			Name:      "status_transitions_total",
			Help:      "Contract actual_status transitions applied by the status engine.",
		}, []string{"from", "to"}),
		NotificationsCreated: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: "contracts",
			Subsystem: "notifications",
			Name:      "created_total",
			Help:      "Notifications written, by type.",
		}, []string{"type"}),
		NotificationFailures: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: "contracts",
			Subsystem: "notifications",
			Name:      "failures_total",
			Help:      "Notifications that could not be written, by type.",
		}, []string{"type"}),
		RenewalsCreated: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: "contracts",
			Subsystem: "renewals",
			Name:      "created_total",
			Help:      "Renewal requests created, split by automatic and manual.",
		}, []string{"kind"}),
		RenewalDecisions: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: "contracts",
			Subsystem: "renewals",
			Name:      "decisions_total",
			Help:      "Renewal requests approved or rejected.",
		}, []string{"status"}),
		Escalations: f.NewCounter(prometheus.CounterOpts{
			Namespace: "contracts",
			Subsystem: "renewals",
			Name:      "escalations_total",
			Help:      "Renewal requests escalated to a supervisor.",
		}),
		LifecycleRuns: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: "contracts",
			Subsystem: "lifecycle",
			Name:      "runs_total",
			Help:      "Lifecycle runs by action and result (ok, skipped, error).",
		}, []string{"action", "result"}),
		EventsForwarded: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: "contracts",
			Subsystem: "events",
			Name:      "forwarded_total",
			Help:      "Domain events forwarded to the broker, by event and result.",
		}, []string{"event", "result"}),
		HTTPLatency: f.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "contracts",
			Subsystem: "http",
			Name:      "request_duration_seconds",
			Help:      "Latency of HTTP requests by route and status code.",
			Buckets:   []float64{0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5},
		}, []string{"method", "route", "code"}),
	}
}

// Middleware records request latency per matched route.
func (m *Metrics) Middleware() echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			start := time.Now()
			err := next(c)
			status := c.Response().Status
			if err != nil {
				if he, ok := err.(*echo.HTTPError); ok {
					status = he.Code
				}
			}
			m.HTTPLatency.WithLabelValues(c.Request().Method, c.Path(), strconv.Itoa(status)).
				Observe(time.Since(start).Seconds())
			return err
		}
	}
}
