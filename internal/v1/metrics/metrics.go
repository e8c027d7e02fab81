// Package metrics exposes the Prometheus collectors scraped by the health
// endpoint's sibling /metrics route. Declared here, next to nothing else, so
// that every package that wants to record something imports metrics instead
// of constructing its own registry.
//
// Naming convention: namespace_subsystem_name
//   - namespace: confession_party (application-level grouping)
//   - subsystem: gateway, room, game, matchmaking, cache, rate_limit
//   - name: specific metric (connections_active, actions_total, etc.)
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// ActiveConnections tracks the current number of attached WebSocket
	// connections (Gauge - current state).
	ActiveConnections = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: "confession_party",
		Subsystem: "gateway",
		Name:      "connections_active",
		Help:      "Current number of attached WebSocket connections",
	})

	// ActiveRooms tracks the current number of non-empty rooms (Gauge).
	ActiveRooms = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: "confession_party",
		Subsystem: "room",
		Name:      "rooms_active",
		Help:      "Current number of active rooms",
	})

	// RoomPlayers tracks the number of players in each room (GaugeVec,
	// current count per room rather than a historical distribution).
	RoomPlayers = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: "confession_party",
		Subsystem: "room",
		Name:      "players_count",
		Help:      "Number of players currently in each room",
	}, []string{"room_code"})

	// GatewayEvents tracks the total number of client events processed by
	// the transport gateway (CounterVec - cumulative).
	GatewayEvents = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "confession_party",
		Subsystem: "gateway",
		Name:      "events_total",
		Help:      "Total client events processed by the gateway",
	}, []string{"event", "status"})

	// EventProcessingDuration tracks time spent handling one client event
	// end to end (HistogramVec - latency distribution).
	EventProcessingDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "confession_party",
		Subsystem: "gateway",
		Name:      "event_processing_seconds",
		Help:      "Time spent processing one client event",
		Buckets:   []float64{.001, .005, .01, .025, .05, .1, .25, .5, 1},
	}, []string{"event"})

	// ActiveGames tracks the current number of in-progress game instances
	// (Gauge), labeled by game type.
	ActiveGames = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: "confession_party",
		Subsystem: "game",
		Name:      "instances_active",
		Help:      "Current number of in-progress game instances",
	}, []string{"game_type"})

	// GameActionsTotal tracks the total number of game actions accepted by
	// the scheduler's per-game queues (CounterVec).
	GameActionsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "confession_party",
		Subsystem: "game",
		Name:      "actions_total",
		Help:      "Total game actions processed, by game type and outcome",
	}, []string{"game_type", "status"})

	// GameActionQueueDepth tracks the current depth of a game's action
	// queue (GaugeVec), a leading indicator of a stuck or overloaded
	// executor goroutine.
	GameActionQueueDepth = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: "confession_party",
		Subsystem: "game",
		Name:      "action_queue_depth",
		Help:      "Current number of queued actions awaiting a game's executor",
	}, []string{"game_id"})

	// GamesEndedTotal tracks completed games by how they ended.
	GamesEndedTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "confession_party",
		Subsystem: "game",
		Name:      "ended_total",
		Help:      "Total games ended, by game type and end reason",
	}, []string{"game_type", "reason"})

	// MatchesStartedTotal tracks matches selected by the matchmaker.
	MatchesStartedTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "confession_party",
		Subsystem: "matchmaking",
		Name:      "matches_started_total",
		Help:      "Total matches started by the matchmaker, by selected game type",
	}, []string{"game_type"})

	// CircuitBreakerState tracks the current state of the cache circuit
	// breaker (GaugeVec). 0: Closed (healthy), 1: Open (tripped), 2:
	// Half-Open (probing).
	CircuitBreakerState = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: "confession_party",
		Subsystem: "circuit_breaker",
		Name:      "state",
		Help:      "Current state of the cache circuit breaker (0: Closed, 1: Open, 2: Half-Open)",
	}, []string{"service"})

	// CircuitBreakerFailures tracks requests rejected by an open circuit
	// breaker.
	CircuitBreakerFailures = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "confession_party",
		Subsystem: "circuit_breaker",
		Name:      "failures_total",
		Help:      "Total requests rejected by the circuit breaker",
	}, []string{"service"})

	// RateLimitExceeded tracks requests rejected by the per-event token
	// bucket limiter.
	RateLimitExceeded = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "confession_party",
		Subsystem: "rate_limit",
		Name:      "exceeded_total",
		Help:      "Total events rejected for exceeding their rate limit",
	}, []string{"event"})

	// RateLimitChecks tracks every event checked against the limiter,
	// whether accepted or rejected.
	RateLimitChecks = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "confession_party",
		Subsystem: "rate_limit",
		Name:      "checks_total",
		Help:      "Total events checked against the rate limiter",
	}, []string{"event"})

	// CacheOperationsTotal tracks cache store calls (CounterVec).
	CacheOperationsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "confession_party",
		Subsystem: "cache",
		Name:      "operations_total",
		Help:      "Total cache operations, by operation and outcome",
	}, []string{"operation", "status"})

	// CacheOperationDuration tracks cache store call latency.
	CacheOperationDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "confession_party",
		Subsystem: "cache",
		Name:      "operation_duration_seconds",
		Help:      "Duration of cache operations",
		Buckets:   prometheus.DefBuckets,
	}, []string{"operation"})
)

// IncConnection records a newly attached WebSocket connection.
func IncConnection() {
	ActiveConnections.Inc()
}

// DecConnection records a detached WebSocket connection.
func DecConnection() {
	ActiveConnections.Dec()
}
