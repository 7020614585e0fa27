package main

import (
	"context"
	"encoding/base64"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/darkvelocity/retailcore/infrastructure/crypto"
	"github.com/darkvelocity/retailcore/infrastructure/logging"
	"github.com/darkvelocity/retailcore/pkg/version"
)

// resolveFiscalSecret returns the cloud-TSS API secret, decrypting it if
// SECRET_ENCRYPTION_KEY is set and FISCAL_API_SECRET_ENCRYPTED holds an
// envelope-encrypted value. Falls back to the plaintext FISCAL_API_SECRET
// env var for local/test environments with no encryption key configured.
func resolveFiscalSecret(logger *logging.Logger) string {
	encrypted := os.Getenv("FISCAL_API_SECRET_ENCRYPTED")
	keyB64 := os.Getenv("SECRET_ENCRYPTION_KEY")
	if encrypted == "" || keyB64 == "" {
		return os.Getenv("FISCAL_API_SECRET")
	}

	masterKey, err := base64.StdEncoding.DecodeString(keyB64)
	if err != nil {
		logger.Fatal(context.Background(), "decode SECRET_ENCRYPTION_KEY", err)
	}
	plaintext, err := crypto.DecryptEnvelope(masterKey, []byte("fiscal-api-secret"), "fiscal-cloud-credentials", []byte(encrypted))
	if err != nil {
		logger.Fatal(context.Background(), "decrypt FISCAL_API_SECRET_ENCRYPTED", err)
	}
	return string(plaintext)
}

func resolveConfig() Config {
	cfg := DefaultConfig()

	showVersion := flag.Bool("version", false, "print version information and exit")
	dsn := flag.String("dsn", "", "Postgres connection string (used when DATABASE_URL is unset)")
	redisAddr := flag.String("redis-addr", "", "Redis address (used when REDIS_ADDR is unset)")
	migrate := flag.Bool("migrate", cfg.Migrate, "apply schema migrations on startup")
	logLevel := flag.String("log-level", cfg.LogLevel, "log level (debug, info, warn, error)")
	logFormat := flag.String("log-format", cfg.LogFormat, "log format (json, text)")
	orgIDs := flag.String("org-ids", "", "comma-separated organization ids to run the fiscal coordinator for")
	analyzerRefs := flag.String("analyzer-refs", "", "comma-separated orgID:siteID:ingredientID triples the analyzer sweep covers")
	idempotencyCleanupCron := flag.String("idempotency-cleanup-cron", cfg.IdempotencyCleanupCron, "cron spec for idempotency key cleanup")
	analyzerSweepCron := flag.String("analyzer-sweep-cron", cfg.AnalyzerSweepCron, "cron spec for the expiry/ABC/reorder sweep")
	fiscalRegion := flag.String("fiscal-region", cfg.Fiscal.Region, "TSE cloud region (DE, AT, IT)")
	fiscalEnv := flag.String("fiscal-environment", cfg.Fiscal.Environment, "TSE cloud environment (Test, Production)")
	fiscalExternal := flag.Bool("fiscal-external-enabled", cfg.Fiscal.ExternalEnabled, "forward TSE transactions to the cloud TSS bridge")

	flag.Parse()

	if *showVersion {
		fmt.Println(version.FullVersion())
		os.Exit(0)
	}

	cfg.DSN = envOr("DATABASE_URL", *dsn)
	cfg.RedisAddr = envOr("REDIS_ADDR", *redisAddr)
	if cfg.RedisAddr != "" {
		cfg.StreamBus.Addr = cfg.RedisAddr
	}
	cfg.Migrate = envOrBool("POSD_MIGRATE", *migrate)
	cfg.LogLevel = envOr("LOG_LEVEL", *logLevel)
	cfg.LogFormat = envOr("LOG_FORMAT", *logFormat)
	cfg.OrgIDs = splitCSV(envOr("ORG_IDS", *orgIDs))
	cfg.AnalyzerRefs = splitCSV(envOr("ANALYZER_REFS", *analyzerRefs))
	cfg.IdempotencyCleanupCron = envOr("IDEMPOTENCY_CLEANUP_CRON", *idempotencyCleanupCron)
	cfg.AnalyzerSweepCron = envOr("ANALYZER_SWEEP_CRON", *analyzerSweepCron)
	cfg.Fiscal.Region = envOr("FISCAL_REGION", *fiscalRegion)
	cfg.Fiscal.Environment = envOr("FISCAL_ENVIRONMENT", *fiscalEnv)
	cfg.Fiscal.ExternalEnabled = envOrBool("FISCAL_EXTERNAL_ENABLED", *fiscalExternal)
	cfg.Fiscal.APIKey = os.Getenv("FISCAL_API_KEY")

	return cfg
}

func main() {
	cfg := resolveConfig()
	logger := logging.New("posd", cfg.LogLevel, cfg.LogFormat)
	cfg.Fiscal.APISecret = resolveFiscalSecret(logger)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	app, err := New(ctx, cfg, logger)
	if err != nil {
		logger.Fatal(ctx, "build application", err)
	}

	if err := app.Start(ctx); err != nil {
		logger.Fatal(ctx, "start application", err)
	}

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	<-sigCh

	logger.Info(ctx, "shutting down", nil)

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()
	if err := app.Stop(shutdownCtx); err != nil {
		logger.Error(shutdownCtx, "graceful shutdown failed", err, nil)
	}
}
