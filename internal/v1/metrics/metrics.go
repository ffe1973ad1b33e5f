package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics for the dice game server.
//
// Naming convention: namespace_subsystem_name
// - namespace: dicee (application-level grouping)
// - subsystem: websocket, room, game, ai, circuit_breaker, rate_limit, redis
// - name: specific metric (connections_active, events_total, etc.)
//
// Metric Types:
// - Gauge: Current state (connections, rooms, players)
// - Counter: Cumulative events (messages processed, errors)
// - Histogram: Latency distributions (processing time)

var (
	// ActiveWebSocketConnections tracks the current number of active WebSocket connections.
	ActiveWebSocketConnections = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: "dicee",
		Subsystem: "websocket",
		Name:      "connections_active",
		Help:      "Current number of active WebSocket connections",
	})

	// ActiveRooms tracks the current number of active rooms.
	ActiveRooms = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: "dicee",
		Subsystem: "room",
		Name:      "rooms_active",
		Help:      "Current number of active rooms",
	})

	// RoomOccupants tracks the number of connections in each room, split by role.
	RoomOccupants = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: "dicee",
		Subsystem: "room",
		Name:      "occupants_count",
		Help:      "Number of connections in each room",
	}, []string{"room_code", "role"})

	// ActiveGames tracks the number of rooms currently mid-game.
	ActiveGames = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: "dicee",
		Subsystem: "game",
		Name:      "active_total",
		Help:      "Current number of rooms with a game in progress",
	})

	// WebsocketEvents tracks the total number of WebSocket command/event dispatches.
	WebsocketEvents = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "dicee",
		Subsystem: "websocket",
		Name:      "events_total",
		Help:      "Total WebSocket events processed",
	}, []string{"event_type", "status"})

	// MessageProcessingDuration tracks the time spent processing a dispatched command.
	MessageProcessingDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "dicee",
		Subsystem: "websocket",
		Name:      "message_processing_seconds",
		Help:      "Time spent processing WebSocket messages",
		Buckets:   []float64{.001, .005, .01, .025, .05, .1, .25, .5, 1},
	}, []string{"event_type"})

	// AlarmFires tracks alarm callbacks fired, labeled by AlarmData.type.
	AlarmFires = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "dicee",
		Subsystem: "alarm",
		Name:      "fires_total",
		Help:      "Total number of scheduled alarm callbacks fired",
	}, []string{"alarm_type"})

	// AITurnRetries tracks AI watchdog retries by outcome.
	AITurnRetries = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "dicee",
		Subsystem: "ai",
		Name:      "turn_retries_total",
		Help:      "Total number of AI turn watchdog retries",
	}, []string{"outcome"})

	// SpectatorReactionsRejected tracks reactions dropped by the per-spectator rate limiter.
	SpectatorReactionsRejected = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "dicee",
		Subsystem: "spectator",
		Name:      "reactions_rejected_total",
		Help:      "Total spectator reactions rejected by the in-actor rate limiter",
	}, []string{"reason"})

	// CircuitBreakerState tracks the current state of the circuit breaker (GaugeVec).
	// 0: Closed (Healthy), 1: Open (Failure), 2: Half-Open (Recovering)
	CircuitBreakerState = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: "dicee",
		Subsystem: "circuit_breaker",
		Name:      "state",
		Help:      "Current state of the circuit breaker (0: Closed, 1: Open, 2: Half-Open)",
	}, []string{"service"})

	// CircuitBreakerFailures tracks the total number of requests rejected by the circuit breaker.
	CircuitBreakerFailures = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "dicee",
		Subsystem: "circuit_breaker",
		Name:      "failures_total",
		Help:      "Total requests rejected by the circuit breaker",
	}, []string{"service"})

	// RateLimitExceeded tracks the total number of requests that exceeded the rate limit.
	RateLimitExceeded = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "dicee",
		Subsystem: "rate_limit",
		Name:      "exceeded_total",
		Help:      "Total number of requests that exceeded the rate limit",
	}, []string{"endpoint", "reason"})

	// RateLimitRequests tracks the total number of requests checked against the rate limiter.
	RateLimitRequests = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "dicee",
		Subsystem: "rate_limit",
		Name:      "requests_total",
		Help:      "Total number of requests checked against the rate limiter",
	}, []string{"endpoint"})

	// RedisOperationsTotal tracks the total number of Redis operations.
	RedisOperationsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "dicee",
		Subsystem: "redis",
		Name:      "operations_total",
		Help:      "Total number of Redis operations",
	}, []string{"operation", "status"})

	// RedisOperationDuration tracks the duration of Redis operations.
	RedisOperationDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "dicee",
		Subsystem: "redis",
		Name:      "operation_duration_seconds",
		Help:      "Duration of Redis operations",
		Buckets:   prometheus.DefBuckets,
	}, []string{"operation"})
)

func IncConnection() {
	ActiveWebSocketConnections.Inc()
}

func DecConnection() {
	ActiveWebSocketConnections.Dec()
}
