package main

import (
	"context"
	"database/sql"
	"fmt"
	"sync"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/darkvelocity/retailcore/infrastructure/logging"
	"github.com/darkvelocity/retailcore/infrastructure/metrics"
	"github.com/darkvelocity/retailcore/internal/actor"
	"github.com/darkvelocity/retailcore/internal/analyzers"
	"github.com/darkvelocity/retailcore/internal/eventlog"
	"github.com/darkvelocity/retailcore/internal/fiscal"
	"github.com/darkvelocity/retailcore/internal/idempotency"
	"github.com/darkvelocity/retailcore/internal/inventory"
	"github.com/darkvelocity/retailcore/internal/platform"
	"github.com/darkvelocity/retailcore/internal/platform/clock"
	"github.com/darkvelocity/retailcore/internal/platform/database"
	"github.com/darkvelocity/retailcore/internal/platform/migrations"
	"github.com/darkvelocity/retailcore/internal/platform/money"
	"github.com/darkvelocity/retailcore/internal/registry"
	"github.com/darkvelocity/retailcore/internal/stocktake"
	"github.com/darkvelocity/retailcore/internal/streambus"
	"github.com/darkvelocity/retailcore/internal/transfer"
)

// App is the composition root: it owns every long-lived connection and
// background goroutine the process runs, and knows how to bring them up
// and tear them down in the right order.
type App struct {
	cfg      Config
	logger   *logging.Logger
	metrics  *metrics.Metrics
	db       *sql.DB
	bus      *streambus.Bus
	registry *platform.Registry

	inventoryHost   *actor.Host
	transferHost    *actor.Host
	stocktakeHost   *actor.Host
	fiscalHost      *actor.Host
	deviceHost      *actor.Host
	transactionHost *actor.Host
	locationHost    *actor.Host

	idempotencySvc     *idempotency.Service
	idempotencyCleanup *idempotency.CleanupScheduler

	coordinator *fiscal.Coordinator
	cron        *cron.Cron

	expiryMonitor *analyzers.ExpiryMonitor
	abcClassifier *analyzers.ABCClassifier
	reorderGen    *analyzers.ReorderGenerator
	analyzerRefs  []analyzers.IngredientRef

	wg        sync.WaitGroup
	cancelFns []context.CancelFunc
}

// New connects to Postgres and Redis, applies migrations, and wires
// every aggregate host, the fiscal cloud bridge, and the analyzer
// sweeps. It does not start any background goroutine; call Start.
func New(ctx context.Context, cfg Config, logger *logging.Logger) (*App, error) {
	db, err := database.Open(ctx, cfg.DSN)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	if cfg.Migrate {
		if err := migrations.Apply(ctx, db); err != nil {
			db.Close()
			return nil, fmt.Errorf("apply migrations: %w", err)
		}
	}

	bus := streambus.New(cfg.StreamBus)
	reg := platform.NewRegistry()
	reg.SetStorage(newSQLStorageDriver(db))
	reg.SetQueue(newStreamQueueDriver(bus))

	c := clock.System{}
	rnd := clock.CryptoRandomness{}
	m := metrics.New("posd")

	store := eventlog.NewPostgresStore(db, c)

	inventoryHost := actor.NewHost("inventory", inventory.NewFactory(store, bus, inventory.NewEngine(c, rnd)), cfg.ActorHost, logger, m)

	transferEngine := transfer.NewEngine(c)
	transferHost := actor.NewHost("transfer", transfer.NewFactory(store, bus, transferEngine, moverResolver(inventoryHost)), cfg.ActorHost, logger, m)

	stocktakeEngine := stocktake.NewEngine()
	stocktakeHost := actor.NewHost("stocktake", wrappedStocktakeFactory(store, bus, stocktakeEngine, inventoryHost), cfg.ActorHost, logger, m)

	fiscalEngine := fiscal.NewEngine(c, rnd)
	fiscalHost := actor.NewHost("fiscal", fiscal.NewFactory(store, bus, fiscalEngine), cfg.ActorHost, logger, m)

	deviceHost := actor.NewHost("fiscaldeviceregistry", registry.NewDeviceRegistryFactory(store, c, registry.NewDeviceRegistryEngine()), cfg.ActorHost, logger, m)
	transactionHost := actor.NewHost("fiscaltransactionregistry", registry.NewTransactionRegistryFactory(store, registry.NewTransactionRegistryEngine()), cfg.ActorHost, logger, m)
	locationHost := actor.NewHost("locationtree", registry.NewLocationTreeFactory(store, registry.NewLocationTreeEngine()), cfg.ActorHost, logger, m)

	idemStore := idempotency.NewPostgresStore(db)
	idemSvc := idempotency.New(idemStore, cfg.Idempotency, c, rnd)
	idemCleanup, err := idempotency.NewCleanupScheduler(idemSvc, cfg.IdempotencyCleanupCron, cfg.Idempotency.CleanupInitial, logger)
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("build idempotency cleanup scheduler: %w", err)
	}

	cloud, err := fiscal.NewHTTPCloudClient(cfg.Fiscal, cfg.Retry, cfg.CircuitBreaker)
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("build fiscal cloud client: %w", err)
	}
	coordinator := fiscal.NewCoordinator(bus, cloud, logger)

	refs, err := parseIngredientRefs(cfg.AnalyzerRefs)
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("parse analyzer refs: %w", err)
	}

	return &App{
		cfg:                cfg,
		logger:             logger,
		metrics:            m,
		db:                 db,
		bus:                bus,
		registry:           reg,
		inventoryHost:      inventoryHost,
		transferHost:       transferHost,
		stocktakeHost:      stocktakeHost,
		fiscalHost:         fiscalHost,
		deviceHost:         deviceHost,
		transactionHost:    transactionHost,
		locationHost:       locationHost,
		idempotencySvc:     idemSvc,
		idempotencyCleanup: idemCleanup,
		coordinator:        coordinator,
		cron:               cron.New(),
		expiryMonitor:      analyzers.NewExpiryMonitor(inventoryHost, c, cfg.ExpiryMonitor),
		abcClassifier:      analyzers.NewABCClassifier(inventoryHost, c, cfg.ABCClassifier),
		reorderGen:         analyzers.NewReorderGenerator(inventoryHost, c, cfg.Reorder),
		analyzerRefs:       refs,
	}, nil
}

func parseIngredientRefs(triples []string) ([]analyzers.IngredientRef, error) {
	refs := make([]analyzers.IngredientRef, 0, len(triples))
	for _, t := range triples {
		parts := actor.Split(t)
		if len(parts) != 3 || parts[0] == "" || parts[1] == "" || parts[2] == "" {
			return nil, fmt.Errorf("analyzer ref %q must be \"orgID:siteID:ingredientID\"", t)
		}
		refs = append(refs, analyzers.IngredientRef{OrgID: parts[0], SiteID: parts[1], IngredientID: parts[2]})
	}
	return refs, nil
}

// moverResolver builds a transfer.MoverResolver that reaches the source
// or destination inventory aggregate through host.Dispatch, keyed
// "orgID:siteID:ingredientID:inventory".
func moverResolver(host *actor.Host) transfer.MoverResolver {
	return func(ctx context.Context, orgID, siteID, ingredientID string) transfer.InventoryMover {
		return hostMover{ctx: ctx, host: host, key: actor.Join(orgID, siteID, ingredientID, "inventory")}
	}
}

type hostMover struct {
	ctx  context.Context
	host *actor.Host
	key  string
}

func (m hostMover) TransferOut(ingredientID string, qty money.Decimal) (money.Decimal, error) {
	result, err := m.host.Dispatch(m.ctx, m.key, actor.Command{Name: inventory.CmdTransferOut, Payload: inventory.TransferOutParams{
		Qty: qty,
	}})
	if err != nil {
		return money.Zero, err
	}
	breakdown := result.([]inventory.BatchConsumption)
	return weightedUnitCost(breakdown), nil
}

func (m hostMover) ReceiveTransfer(ingredientID string, qty, unitCost money.Decimal) error {
	_, err := m.host.Dispatch(m.ctx, m.key, actor.Command{Name: inventory.CmdReceiveTransfer, Payload: inventory.ReceiveTransferParams{
		Qty:      qty,
		UnitCost: unitCost,
	}})
	return err
}

func weightedUnitCost(breakdown []inventory.BatchConsumption) money.Decimal {
	if len(breakdown) == 0 {
		return money.Zero
	}
	totalQty := money.Zero
	totalCost := money.Zero
	for _, b := range breakdown {
		totalQty = money.Add(totalQty, b.Qty)
		totalCost = money.Add(totalCost, b.Cost)
	}
	if !money.IsPositive(totalQty) {
		return breakdown[0].UnitCost
	}
	return money.DivOrZero(totalCost, totalQty)
}

// wrappedStocktakeFactory derives a per-org/site InventoryAdjuster from
// the activation key before delegating to stocktake.NewFactory, since
// InventoryAdjuster.AdjustQuantity has no org/site parameter of its own.
func wrappedStocktakeFactory(store eventlog.Store, bus *streambus.Bus, engine *stocktake.Engine, invHost *actor.Host) actor.Factory {
	return func(key string) actor.Handler {
		parts := actor.Split(key)
		var orgID, siteID string
		if len(parts) >= 2 {
			orgID, siteID = parts[0], parts[1]
		}
		adjuster := hostAdjuster{host: invHost, orgID: orgID, siteID: siteID}
		return stocktake.NewFactory(store, bus, engine, adjuster)(key)
	}
}

type hostAdjuster struct {
	host          *actor.Host
	orgID, siteID string
}

func (a hostAdjuster) AdjustQuantity(ingredientID string, newQty money.Decimal, reason, by, approvedBy string) error {
	key := actor.Join(a.orgID, a.siteID, ingredientID, "inventory")
	_, err := a.host.Dispatch(context.Background(), key, actor.Command{Name: inventory.CmdAdjustQuantity, Payload: inventory.AdjustQuantityParams{
		NewQty:     newQty,
		Reason:     reason,
		By:         by,
		ApprovedBy: approvedBy,
	}})
	return err
}

// Start launches every background goroutine: one fiscal coordinator
// consumer per configured organization, the idempotency cleanup
// scheduler, and the analyzer sweep cron.
func (a *App) Start(ctx context.Context) error {
	if err := a.registry.StartAll(ctx); err != nil {
		return fmt.Errorf("start platform drivers: %w", err)
	}

	for _, orgID := range a.cfg.OrgIDs {
		orgID := orgID
		coordCtx, cancel := context.WithCancel(ctx)
		a.cancelFns = append(a.cancelFns, cancel)
		a.wg.Add(1)
		go func() {
			defer a.wg.Done()
			if err := a.coordinator.Run(coordCtx, orgID, "posd"); err != nil && coordCtx.Err() == nil {
				a.logger.Error(coordCtx, "fiscal coordinator stopped", err, map[string]interface{}{"org_id": orgID})
			}
		}()
	}

	a.idempotencyCleanup.Start()

	if _, err := a.cron.AddFunc(a.cfg.AnalyzerSweepCron, a.runAnalyzerSweep); err != nil {
		return fmt.Errorf("schedule analyzer sweep: %w", err)
	}
	a.cron.Start()

	return nil
}

func (a *App) runAnalyzerSweep() {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Minute)
	defer cancel()

	if len(a.analyzerRefs) == 0 {
		return
	}

	if alerts, err := a.expiryMonitor.Scan(ctx, a.analyzerRefs); err != nil {
		a.logger.Error(ctx, "expiry scan failed", err, nil)
	} else if len(alerts) > 0 {
		a.logger.Info(ctx, "expiry scan found alerts", map[string]interface{}{"count": len(alerts)})
	}

	if classes, err := a.abcClassifier.Classify(ctx, a.analyzerRefs, analyzers.ValueCombined, nil); err != nil {
		a.logger.Error(ctx, "abc classification failed", err, nil)
	} else {
		a.logger.Info(ctx, "abc classification complete", map[string]interface{}{"count": len(classes)})
	}

	params := make([]analyzers.ReorderParams, len(a.analyzerRefs))
	for i, ref := range a.analyzerRefs {
		params[i] = analyzers.ReorderParams{Ref: ref}
	}
	if suggestions, err := a.reorderGen.Generate(ctx, params); err != nil {
		a.logger.Error(ctx, "reorder generation failed", err, nil)
	} else {
		urgent := 0
		for _, s := range suggestions {
			if s.Urgency == analyzers.UrgencyCritical || s.Urgency == analyzers.UrgencyOutOfStock {
				urgent++
			}
		}
		a.logger.Info(ctx, "reorder sweep complete", map[string]interface{}{"count": len(suggestions), "urgent": urgent})
	}
}

// Stop cancels every background goroutine, closes every host, and
// releases the stream bus and database connections.
func (a *App) Stop(ctx context.Context) error {
	cronCtx := a.cron.Stop()
	<-cronCtx.Done()

	a.idempotencyCleanup.Stop()

	for _, cancel := range a.cancelFns {
		cancel()
	}
	a.wg.Wait()

	for _, h := range []*actor.Host{a.inventoryHost, a.transferHost, a.stocktakeHost, a.fiscalHost, a.deviceHost, a.transactionHost, a.locationHost} {
		h.Close(ctx)
	}

	if err := a.registry.StopAll(ctx); err != nil {
		a.logger.Error(ctx, "stop platform drivers", err, nil)
	}

	return nil
}
