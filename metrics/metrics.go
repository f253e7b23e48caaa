package metrics

import (
	"context"

	auth "github.com/ecofy/ecofy-auth"
	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/adaptor"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics counts auth activity. It implements auth.ActivitySink.
type Metrics struct {
	Events            *prometheus.CounterVec
	StatusTransitions *prometheus.CounterVec
	Logins            *prometheus.CounterVec
	Registrations     *prometheus.CounterVec
}

var _ auth.ActivitySink = (*Metrics)(nil)

// New creates a new Metrics instance registered with reg.
func New(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)
	return &Metrics{
		Events: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "ecofy_auth_activity_events_total",
			Help: "Total number of auth activity events by type",
		}, []string{"event"}),
		StatusTransitions: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "ecofy_principal_status_transitions_total",
			Help: "Total number of applied principal status transitions",
		}, []string{"kind", "from", "to"}),
		Logins: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "ecofy_auth_logins_total",
			Help: "Total number of login attempts by principal kind and result",
		}, []string{"kind", "result"}),
		Registrations: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "ecofy_principal_registrations_total",
			Help: "Total number of principals created",
		}, []string{"kind"}),
	}
}

// Record implements auth.ActivitySink.
func (m *Metrics) Record(_ context.Context, event auth.ActivityEvent) error {
	m.Events.WithLabelValues(string(event.EventType)).Inc()

	kind := string(event.Subject.Kind)
	switch event.EventType {
	case auth.ActivityEventStatusChanged:
		m.StatusTransitions.WithLabelValues(kind, string(event.FromStatus), string(event.ToStatus)).Inc()
	case auth.ActivityEventLoginSuccess:
		m.Logins.WithLabelValues(kind, "success").Inc()
	case auth.ActivityEventLoginFailure:
		m.Logins.WithLabelValues(kind, "failure").Inc()
	case auth.ActivityEventRegistered:
		m.Registrations.WithLabelValues(kind).Inc()
	}
	return nil
}

// Handler exposes the metrics gathered by g as a Fiber handler.
func Handler(g prometheus.Gatherer) fiber.Handler {
	return adaptor.HTTPHandler(promhttp.HandlerFor(g, promhttp.HandlerOpts{}))
}
