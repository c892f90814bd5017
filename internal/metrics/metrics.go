// Package metrics exposes the Prometheus instrumentation for
// requests dispatched per opcode, watch events delivered,
// ring corruption resets, and active guest count.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	RequestsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "xenstored",
		Name:      "requests_total",
		Help:      "Requests dispatched, by opcode and outcome.",
	}, []string{"opcode", "outcome"})

	WatchEventsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "xenstored",
		Name:      "watch_events_total",
		Help:      "WATCH_EVENT frames delivered to guests.",
	})

	RingResetsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "xenstored",
		Name:      "ring_resets_total",
		Help:      "Ring corruption resets (producer/consumer delta exceeded capacity).",
	})

	ActiveGuests = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: "xenstored",
		Name:      "active_guests",
		Help:      "Number of guests with a live worker.",
	})
)
