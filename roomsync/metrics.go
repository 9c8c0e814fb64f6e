package roomsync

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// metrics holds the Prometheus collectors of one client.
type metrics struct {
	eventsTotal     *prometheus.CounterVec
	malformedTotal  *prometheus.CounterVec
	errorsTotal     *prometheus.CounterVec
	duplicatesTotal prometheus.Counter
	staleTotal      prometheus.Counter
	switchesTotal   prometheus.Counter
	onlineUsers     prometheus.Gauge
}

// newMetrics registers the collectors on reg. A nil reg gets a private
// registry so that several clients can live in one process.
func newMetrics(reg prometheus.Registerer) *metrics {
	if reg == nil {
		reg = prometheus.NewRegistry()
	}
	factory := promauto.With(reg)

	return &metrics{
		eventsTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "roomsync",
			Name:      "events_total",
			Help:      "Channel events delivered to the active room, by category",
		}, []string{"category"}),

		malformedTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "roomsync",
			Name:      "malformed_events_total",
			Help:      "Channel events dropped because their payload was malformed",
		}, []string{"category"}),

		errorsTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "roomsync",
			Name:      "errors_total",
			Help:      "Errors surfaced to the caller, by code",
		}, []string{"code"}),

		duplicatesTotal: factory.NewCounter(prometheus.CounterOpts{
			Namespace: "roomsync",
			Name:      "duplicate_messages_total",
			Help:      "Messages discarded because their id was already present",
		}),

		staleTotal: factory.NewCounter(prometheus.CounterOpts{
			Namespace: "roomsync",
			Name:      "stale_deliveries_total",
			Help:      "Deliveries dropped because their room was torn down",
		}),

		switchesTotal: factory.NewCounter(prometheus.CounterOpts{
			Namespace: "roomsync",
			Name:      "room_switches_total",
			Help:      "Room activations started",
		}),

		onlineUsers: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: "roomsync",
			Name:      "online_users",
			Help:      "Users currently online in the active room",
		}),
	}
}
