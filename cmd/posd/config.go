package main

import (
	"os"
	"strconv"
	"strings"

	"github.com/darkvelocity/retailcore/internal/platform/config"
)

// Config is the composition root's fully-resolved settings, built from
// flags and environment variables; an environment variable that is set
// takes precedence over the matching flag. There is no file/config
// layer: the nested settings groups are the plain structs
// internal/platform/config defines.
type Config struct {
	DSN       string
	RedisAddr string
	Migrate   bool

	LogLevel  string
	LogFormat string

	OrgIDs []string

	ActorHost      config.ActorHostConfig
	StreamBus      config.StreamBusConfig
	Retry          config.RetryConfig
	CircuitBreaker config.CircuitBreakerConfig
	Idempotency    config.IdempotencyConfig
	Fiscal         config.FiscalConfig
	ExpiryMonitor  config.ExpiryMonitorConfig
	ABCClassifier  config.ABCClassifierConfig
	Reorder        config.ReorderConfig

	IdempotencyCleanupCron string
	AnalyzerSweepCron      string

	// AnalyzerRefs lists the inventory aggregates the expiry/ABC/reorder
	// sweeps run against, as "orgID:siteID:ingredientID" triples. There is
	// no ingredient catalog aggregate in this build, so the sweep scope is
	// configured directly rather than discovered.
	AnalyzerRefs []string
}

// DefaultConfig returns every platform default, with connection settings
// left for flags/env to fill in.
func DefaultConfig() Config {
	return Config{
		Migrate:                true,
		LogLevel:               "info",
		LogFormat:              "json",
		ActorHost:              config.DefaultActorHostConfig(),
		StreamBus:              config.DefaultStreamBusConfig(),
		Retry:                  config.DefaultRetryConfig(),
		CircuitBreaker:         config.DefaultCircuitBreakerConfig(),
		Idempotency:            config.DefaultIdempotencyConfig(),
		Fiscal:                 config.DefaultFiscalConfig(),
		ExpiryMonitor:          config.DefaultExpiryMonitorConfig(),
		ABCClassifier:          config.DefaultABCClassifierConfig(),
		Reorder:                config.DefaultReorderConfig(),
		IdempotencyCleanupCron: "0 * * * *",
		AnalyzerSweepCron:      "0 */6 * * *",
	}
}

func envOr(key, fallback string) string {
	if v := strings.TrimSpace(os.Getenv(key)); v != "" {
		return v
	}
	return fallback
}

func envOrBool(key string, fallback bool) bool {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return fallback
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return fallback
	}
	return b
}

func splitCSV(v string) []string {
	v = strings.TrimSpace(v)
	if v == "" {
		return nil
	}
	parts := strings.Split(v, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}
