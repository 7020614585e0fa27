// Package metrics provides Prometheus metrics collection for the actor platform
package metrics

import (
	"os"
	"strings"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Metrics holds all Prometheus metrics for the actor platform
type Metrics struct {
	// Actor command metrics
	ActorCommandsTotal   *prometheus.CounterVec
	ActorCommandDuration *prometheus.HistogramVec
	ActorsActive         *prometheus.GaugeVec

	// Stream bus metrics
	StreamPublishTotal *prometheus.CounterVec
	StreamConsumeTotal *prometheus.CounterVec
	StreamLagGauge     *prometheus.GaugeVec

	// Resilience metrics
	CircuitBreakerState *prometheus.GaugeVec
	RetryAttemptsTotal  *prometheus.CounterVec

	// Error metrics
	ErrorsTotal *prometheus.CounterVec

	// Inventory domain metrics
	InventoryMovementsTotal *prometheus.CounterVec
	InventoryOnHandGauge    *prometheus.GaugeVec

	// Service health
	ServiceUptime prometheus.Gauge
	ServiceInfo   *prometheus.GaugeVec
}

// New creates a new Metrics instance with all collectors registered
func New(serviceName string) *Metrics {
	return NewWithRegistry(serviceName, prometheus.DefaultRegisterer)
}

// NewWithRegistry creates a new Metrics instance with a custom registry
func NewWithRegistry(serviceName string, registerer prometheus.Registerer) *Metrics {
	m := &Metrics{
		ActorCommandsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "actor_commands_total",
				Help: "Total number of actor commands dispatched",
			},
			[]string{"service", "actor_kind", "command", "status"},
		),
		ActorCommandDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "actor_command_duration_seconds",
				Help:    "Actor command handling duration in seconds",
				Buckets: []float64{.001, .005, .01, .025, .05, .1, .25, .5, 1, 2.5, 5},
			},
			[]string{"service", "actor_kind", "command"},
		),
		ActorsActive: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "actors_active",
				Help: "Number of currently activated actors",
			},
			[]string{"service", "actor_kind"},
		),

		StreamPublishTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "stream_publish_total",
				Help: "Total number of stream bus publish attempts",
			},
			[]string{"service", "namespace", "status"},
		),
		StreamConsumeTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "stream_consume_total",
				Help: "Total number of stream bus messages consumed",
			},
			[]string{"service", "namespace", "status"},
		),
		StreamLagGauge: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "stream_consumer_lag",
				Help: "Pending entries for a consumer group, as last observed",
			},
			[]string{"service", "namespace", "consumer_group"},
		),

		CircuitBreakerState: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "circuit_breaker_state",
				Help: "Circuit breaker state: 0=closed, 1=open, 2=half-open",
			},
			[]string{"service", "breaker"},
		),
		RetryAttemptsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "retry_attempts_total",
				Help: "Total number of retry attempts by outcome",
			},
			[]string{"service", "operation", "outcome"},
		),

		ErrorsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "errors_total",
				Help: "Total number of errors by taxonomy kind",
			},
			[]string{"service", "kind", "operation"},
		),

		InventoryMovementsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "inventory_movements_total",
				Help: "Total number of inventory ledger movements",
			},
			[]string{"service", "movement_type"},
		),
		InventoryOnHandGauge: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "inventory_on_hand",
				Help: "Last observed on-hand quantity for an ingredient at a site",
			},
			[]string{"service", "site_id", "ingredient_id"},
		),

		ServiceUptime: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: "service_uptime_seconds",
				Help: "Service uptime in seconds",
			},
		),
		ServiceInfo: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "service_info",
				Help: "Service information",
			},
			[]string{"service", "version", "environment"},
		),
	}

	if registerer != nil {
		registerer.MustRegister(
			m.ActorCommandsTotal,
			m.ActorCommandDuration,
			m.ActorsActive,
			m.StreamPublishTotal,
			m.StreamConsumeTotal,
			m.StreamLagGauge,
			m.CircuitBreakerState,
			m.RetryAttemptsTotal,
			m.ErrorsTotal,
			m.InventoryMovementsTotal,
			m.InventoryOnHandGauge,
			m.ServiceUptime,
			m.ServiceInfo,
		)
	}

	m.ServiceInfo.WithLabelValues(serviceName, "1.0.0", getEnvironment()).Set(1)

	return m
}

// RecordActorCommand records an actor command dispatch
func (m *Metrics) RecordActorCommand(service, actorKind, command, status string, duration time.Duration) {
	m.ActorCommandsTotal.WithLabelValues(service, actorKind, command, status).Inc()
	m.ActorCommandDuration.WithLabelValues(service, actorKind, command).Observe(duration.Seconds())
}

// SetActorsActive sets the gauge of currently activated actors for a kind
func (m *Metrics) SetActorsActive(service, actorKind string, count int) {
	m.ActorsActive.WithLabelValues(service, actorKind).Set(float64(count))
}

// RecordStreamPublish records a stream bus publish outcome
func (m *Metrics) RecordStreamPublish(service, namespace, status string) {
	m.StreamPublishTotal.WithLabelValues(service, namespace, status).Inc()
}

// RecordStreamConsume records a stream bus consume outcome
func (m *Metrics) RecordStreamConsume(service, namespace, status string) {
	m.StreamConsumeTotal.WithLabelValues(service, namespace, status).Inc()
}

// SetStreamLag records the last observed pending-entries count for a consumer group
func (m *Metrics) SetStreamLag(service, namespace, consumerGroup string, lag int64) {
	m.StreamLagGauge.WithLabelValues(service, namespace, consumerGroup).Set(float64(lag))
}

// SetCircuitBreakerState records the numeric state of a named circuit breaker
func (m *Metrics) SetCircuitBreakerState(service, breaker string, state int) {
	m.CircuitBreakerState.WithLabelValues(service, breaker).Set(float64(state))
}

// RecordRetryAttempt records a retry attempt outcome ("succeeded", "failed", "exhausted")
func (m *Metrics) RecordRetryAttempt(service, operation, outcome string) {
	m.RetryAttemptsTotal.WithLabelValues(service, operation, outcome).Inc()
}

// RecordError records an error by taxonomy kind
func (m *Metrics) RecordError(service, kind, operation string) {
	m.ErrorsTotal.WithLabelValues(service, kind, operation).Inc()
}

// RecordInventoryMovement records an inventory ledger movement
func (m *Metrics) RecordInventoryMovement(service, movementType string) {
	m.InventoryMovementsTotal.WithLabelValues(service, movementType).Inc()
}

// SetInventoryOnHand records the last observed on-hand quantity
func (m *Metrics) SetInventoryOnHand(service, siteID, ingredientID string, qty float64) {
	m.InventoryOnHandGauge.WithLabelValues(service, siteID, ingredientID).Set(qty)
}

// UpdateUptime updates the service uptime
func (m *Metrics) UpdateUptime(startTime time.Time) {
	m.ServiceUptime.Set(time.Since(startTime).Seconds())
}

func getEnvironment() string {
	env := os.Getenv("APP_ENV")
	if env == "" {
		env = os.Getenv("ENVIRONMENT")
	}
	if env == "" {
		return "development"
	}
	return strings.ToLower(env)
}

func isProduction() bool {
	return getEnvironment() == "production"
}

// Enabled returns whether Prometheus metrics should be exposed.
//
// Defaults:
// - production: disabled unless explicitly enabled via METRICS_ENABLED
// - non-production: enabled unless explicitly disabled via METRICS_ENABLED
func Enabled() bool {
	raw := strings.ToLower(strings.TrimSpace(os.Getenv("METRICS_ENABLED")))
	if raw == "" {
		return !isProduction()
	}
	switch raw {
	case "1", "true", "yes", "on":
		return true
	default:
		return false
	}
}

// Global metrics instance
var (
	globalMetrics *Metrics
	globalMu      sync.Mutex
)

// Init initializes the global metrics instance
func Init(serviceName string) *Metrics {
	globalMu.Lock()
	defer globalMu.Unlock()

	if globalMetrics == nil {
		globalMetrics = New(serviceName)
	}
	return globalMetrics
}

// Global returns the global metrics instance
func Global() *Metrics {
	globalMu.Lock()
	defer globalMu.Unlock()

	if globalMetrics == nil {
		globalMetrics = New("unknown")
	}
	return globalMetrics
}
