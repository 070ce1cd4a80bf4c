// Package metrics registers the process-wide counters. No scraping
// endpoint is mounted; operators attach an exporter to the default
// registry out of band.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

var (
	// ActiveConnections tracks currently open WebSocket connections.
	ActiveConnections = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: "planhub",
		Subsystem: "ws",
		Name:      "active_connections",
		Help:      "Number of open WebSocket connections.",
	})

	// DroppedMessages counts outbound messages dropped because a
	// connection's send queue overflowed.
	DroppedMessages = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "planhub",
		Subsystem: "ws",
		Name:      "dropped_messages_total",
		Help:      "Outbound WebSocket messages dropped due to slow consumers.",
	})

	// EmailsSent counts emails dispatched by the background scheduler.
	EmailsSent = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "planhub",
		Subsystem: "scheduler",
		Name:      "emails_sent_total",
		Help:      "Emails dispatched by background jobs.",
	})
)

func init() {
	prometheus.MustRegister(ActiveConnections, DroppedMessages, EmailsSent)
}
