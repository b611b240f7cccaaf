// Package metrics provides Prometheus instrumentation for the match
// application. It exposes gauges for connection and room counts, counters
// for swipe/match/message throughput, and histograms for request latency.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// ConnectionsTotal tracks the current number of active WebSocket connections.
	ConnectionsTotal = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "matchapp_connections_total",
		Help: "Current number of active WebSocket connections",
	})

	// ActiveRooms tracks the number of realtime rooms with at least one
	// local member.
	ActiveRooms = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "matchapp_active_rooms",
		Help: "Current number of rooms with local members",
	})

	// SwipesTotal counts recorded swipes, labeled by action:
	// "like", "dislike", or "superlike".
	SwipesTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "matchapp_swipes_total",
		Help: "Total number of swipe judgments recorded",
	}, []string{"action"})

	// MatchesTotal counts mutual matches created.
	MatchesTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "matchapp_matches_total",
		Help: "Total number of mutual matches created",
	})

	// MessagesTotal counts chat messages, labeled by outcome:
	// "sent", "rejected", or "rate_limited".
	MessagesTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "matchapp_messages_total",
		Help: "Total number of chat messages processed",
	}, []string{"outcome"})

	// RealtimeEventsRelayed counts events relayed through rooms, labeled by
	// server message type.
	RealtimeEventsRelayed = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "matchapp_realtime_events_relayed_total",
		Help: "Total number of realtime events relayed to room members",
	}, []string{"type"})

	// RequestDuration records HTTP request latency in seconds by route.
	RequestDuration = prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "matchapp_request_duration_seconds",
		Help:    "HTTP request latency in seconds",
		Buckets: []float64{.001, .005, .01, .025, .05, .1, .25, .5, 1},
	}, []string{"route"})
)

func init() {
	prometheus.MustRegister(
		ConnectionsTotal,
		ActiveRooms,
		SwipesTotal,
		MatchesTotal,
		MessagesTotal,
		RealtimeEventsRelayed,
		RequestDuration,
	)
}

// Handler returns the Prometheus metrics HTTP handler.
func Handler() http.Handler {
	return promhttp.Handler()
}
