// Package config holds the plain configuration structs the composition
// root fills in programmatically. File and environment-variable binding
// are out of scope; callers construct these directly (e.g. from flags in
// cmd/posd, or from a test fixture).
package config

import "time"

// ActorHostConfig configures the actor runtime's host loop.
type ActorHostConfig struct {
	// MailboxSize bounds the number of queued commands per activated actor
	// before Dispatch blocks the caller.
	MailboxSize int
	// IdleDeactivateAfter deactivates an actor that has received no commands
	// for this long. Zero disables idle deactivation.
	IdleDeactivateAfter time.Duration
}

// DefaultActorHostConfig returns sensible defaults.
func DefaultActorHostConfig() ActorHostConfig {
	return ActorHostConfig{
		MailboxSize:         64,
		IdleDeactivateAfter: 15 * time.Minute,
	}
}

// StreamBusConfig configures the Redis-Streams-backed stream bus.
type StreamBusConfig struct {
	Addr            string
	ConsumerGroup   string
	ConsumerName    string
	BlockTimeout    time.Duration
	ClaimMinIdle    time.Duration
	MaxPendingBatch int64
}

// DefaultStreamBusConfig returns sensible defaults.
func DefaultStreamBusConfig() StreamBusConfig {
	return StreamBusConfig{
		Addr:            "localhost:6379",
		ConsumerGroup:   "retailcore",
		BlockTimeout:    5 * time.Second,
		ClaimMinIdle:    30 * time.Second,
		MaxPendingBatch: 64,
	}
}

// RetryConfig configures the fixed backoff schedule used by external calls.
type RetryConfig struct {
	ScheduleSeconds []int
	JitterFraction  float64
	MaxAttempts     int
}

// DefaultRetryConfig returns the schedule from the retry/circuit-breaker
// design: 1,2,4,8,16 seconds, ±25% jitter, 5 attempts.
func DefaultRetryConfig() RetryConfig {
	return RetryConfig{
		ScheduleSeconds: []int{1, 2, 4, 8, 16},
		JitterFraction:  0.25,
		MaxAttempts:     5,
	}
}

// CircuitBreakerConfig configures a per-processor circuit breaker.
type CircuitBreakerConfig struct {
	TripThreshold int
	ResetAfter    time.Duration
}

// DefaultCircuitBreakerConfig returns the defaults: trip after 5
// consecutive failures, reopen a half-open probe after 30 seconds.
func DefaultCircuitBreakerConfig() CircuitBreakerConfig {
	return CircuitBreakerConfig{
		TripThreshold: 5,
		ResetAfter:    30 * time.Second,
	}
}

// IdempotencyConfig configures the idempotency service's TTL and eviction
// policy.
type IdempotencyConfig struct {
	DefaultTTL      time.Duration
	MaxLiveKeys     int
	EvictionPercent float64
	CleanupInitial  time.Duration
	CleanupPeriod   time.Duration
}

// DefaultIdempotencyConfig returns the defaults: 24h TTL, 10 000 live keys,
// 10% eviction, first cleanup after 15 minutes then hourly.
func DefaultIdempotencyConfig() IdempotencyConfig {
	return IdempotencyConfig{
		DefaultTTL:      24 * time.Hour,
		MaxLiveKeys:     10000,
		EvictionPercent: 0.10,
		CleanupInitial:  15 * time.Minute,
		CleanupPeriod:   time.Hour,
	}
}

// FiscalConfig configures the TSE actor and cloud-TSS bridge.
type FiscalConfig struct {
	Region          string // "DE", "AT", "IT"
	Environment     string // "Test" or "Production"
	ExternalEnabled bool
	APIKey          string
	APISecret       string
	TokenRefreshLeeway time.Duration
}

// DefaultFiscalConfig returns the internal-signing-only default.
func DefaultFiscalConfig() FiscalConfig {
	return FiscalConfig{
		Region:             "DE",
		Environment:        "Test",
		ExternalEnabled:    false,
		TokenRefreshLeeway: 5 * time.Minute,
	}
}

// ExpiryMonitorConfig configures the expiry scan's urgency thresholds.
type ExpiryMonitorConfig struct {
	CriticalDays int
	UrgentDays   int
	WarnDays     int
	AlertsEnabled bool
}

// DefaultExpiryMonitorConfig returns the defaults: critical within 1 day,
// urgent within 3 days, warning within 7 days.
func DefaultExpiryMonitorConfig() ExpiryMonitorConfig {
	return ExpiryMonitorConfig{
		CriticalDays:  1,
		UrgentDays:    3,
		WarnDays:      7,
		AlertsEnabled: true,
	}
}

// ABCClassifierConfig configures the ABC classification thresholds.
type ABCClassifierConfig struct {
	AThresholdPercent  float64
	BThresholdPercent  float64
	AnalysisPeriodDays int
}

// DefaultABCClassifierConfig returns the defaults: A up to 80% cumulative
// value, B up to 95%, the remainder C, measured over a trailing 90 days.
func DefaultABCClassifierConfig() ABCClassifierConfig {
	return ABCClassifierConfig{AThresholdPercent: 80, BThresholdPercent: 95, AnalysisPeriodDays: 90}
}

// ReorderConfig configures the reorder-suggestion generator.
type ReorderConfig struct {
	AnalysisPeriodDays int
	DefaultLeadTimeDays float64
	OrderingCost       float64
	HoldingCostPerUnit float64
}

// DefaultReorderConfig returns the defaults: a 30-day usage window.
func DefaultReorderConfig() ReorderConfig {
	return ReorderConfig{AnalysisPeriodDays: 30, DefaultLeadTimeDays: 2}
}

// DatabaseConfig configures the Postgres connection used for the
// event-log and snapshot-state backends.
type DatabaseConfig struct {
	DSN             string
	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxLifetime time.Duration
}

// DefaultDatabaseConfig returns sensible pool defaults.
func DefaultDatabaseConfig() DatabaseConfig {
	return DatabaseConfig{
		MaxOpenConns:    20,
		MaxIdleConns:    5,
		ConnMaxLifetime: time.Hour,
	}
}
