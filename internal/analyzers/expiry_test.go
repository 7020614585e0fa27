package analyzers

import (
	"context"
	"testing"
	"time"

	"github.com/darkvelocity/retailcore/internal/platform/clock"
	"github.com/darkvelocity/retailcore/internal/platform/config"
	"github.com/darkvelocity/retailcore/internal/platform/money"
)

func TestClassifyExpiryBoundaries(t *testing.T) {
	cfg := config.DefaultExpiryMonitorConfig() // critical=1, urgent=3, warn=7
	cases := []struct {
		days float64
		want ExpirySeverity
	}{
		{-1.0 / 86400, ExpirySeverityExpired}, // one second in the past
		{0, ExpirySeverityCritical},           // now + 0 stays Critical
		{1, ExpirySeverityCritical},
		{2, ExpirySeverityUrgent},
		{3, ExpirySeverityUrgent},
		{5, ExpirySeverityWarning},
		{7, ExpirySeverityWarning},
		{8, ExpirySeverityNormal},
	}
	for _, c := range cases {
		if got := classifyExpiry(c.days, cfg); got != c.want {
			t.Errorf("classifyExpiry(%v) = %s, want %s", c.days, got, c.want)
		}
	}
}

func TestScanClassifiesAndCapsAlerts(t *testing.T) {
	now := time.Date(2026, 6, 1, 12, 0, 0, 0, time.UTC)
	c := clock.Fixed{At: now}
	host := newTestHost(t, c)
	ctx := context.Background()

	ref := IngredientRef{OrgID: "org1", SiteID: "site1", IngredientID: "ing1"}
	seedIngredient(t, ctx, host, ref)

	for i := 0; i < 12; i++ {
		expiry := now.Add(time.Duration(i) * time.Hour) // all within the critical window
		receiveBatch(t, ctx, host, ref, "B"+string(rune('A'+i)), money.NewFromInt(1), money.NewFromInt(1), &expiry)
	}

	m := NewExpiryMonitor(host, c, config.DefaultExpiryMonitorConfig())
	alerts, err := m.Scan(ctx, []IngredientRef{ref})
	if err != nil {
		t.Fatalf("Scan: %v", err)
	}
	if len(alerts) != maxAlertsPerScan {
		t.Fatalf("expected scan capped at %d alerts, got %d", maxAlertsPerScan, len(alerts))
	}
}

func TestScanDisabledReturnsNoAlerts(t *testing.T) {
	now := time.Now()
	c := clock.Fixed{At: now}
	host := newTestHost(t, c)
	ctx := context.Background()

	ref := IngredientRef{OrgID: "org1", SiteID: "site1", IngredientID: "ing1"}
	seedIngredient(t, ctx, host, ref)
	past := now.Add(-time.Hour)
	receiveBatch(t, ctx, host, ref, "B1", money.NewFromInt(5), money.NewFromInt(1), &past)

	cfg := config.DefaultExpiryMonitorConfig()
	cfg.AlertsEnabled = false
	m := NewExpiryMonitor(host, c, cfg)

	alerts, err := m.Scan(ctx, []IngredientRef{ref})
	if err != nil {
		t.Fatalf("Scan: %v", err)
	}
	if len(alerts) != 0 {
		t.Fatalf("expected no alerts when disabled, got %d", len(alerts))
	}
}

func TestWriteOffExpiredOnlyTargetsPastBatches(t *testing.T) {
	now := time.Date(2026, 6, 1, 12, 0, 0, 0, time.UTC)
	c := clock.Fixed{At: now}
	host := newTestHost(t, c)
	ctx := context.Background()

	ref := IngredientRef{OrgID: "org1", SiteID: "site1", IngredientID: "ing1"}
	seedIngredient(t, ctx, host, ref)

	past := now.Add(-time.Hour)
	future := now.Add(24 * time.Hour)
	receiveBatch(t, ctx, host, ref, "B1", money.NewFromInt(5), money.NewFromInt(2), &past)
	receiveBatch(t, ctx, host, ref, "B2", money.NewFromInt(5), money.NewFromInt(2), &future)

	m := NewExpiryMonitor(host, c, config.DefaultExpiryMonitorConfig())
	results, err := m.WriteOffExpired(ctx, []IngredientRef{ref}, "mgr1")
	if err != nil {
		t.Fatalf("WriteOffExpired: %v", err)
	}
	if len(results) != 1 {
		t.Fatalf("expected one write-off result, got %d", len(results))
	}
	if results[0].Err != nil {
		t.Fatalf("unexpected dispatch error: %v", results[0].Err)
	}
	if len(results[0].Alerts) != 1 || results[0].Alerts[0].BatchNumber != "B1" {
		t.Fatalf("expected only B1 written off, got %+v", results[0].Alerts)
	}
}
