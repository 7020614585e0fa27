package analyzers

import (
	"context"
	"testing"
	"time"

	"github.com/darkvelocity/retailcore/infrastructure/logging"
	"github.com/darkvelocity/retailcore/internal/actor"
	"github.com/darkvelocity/retailcore/internal/eventlog"
	"github.com/darkvelocity/retailcore/internal/inventory"
	"github.com/darkvelocity/retailcore/internal/platform/clock"
	"github.com/darkvelocity/retailcore/internal/platform/config"
	"github.com/darkvelocity/retailcore/internal/platform/money"
)

func newTestHost(t *testing.T, c clock.Clock) *actor.Host {
	t.Helper()
	store := eventlog.NewMemoryStore(c)
	engine := inventory.NewEngine(c, clock.CryptoRandomness{})
	factory := inventory.NewFactory(store, nil, engine)
	logger := logging.New("analyzers-test", "error", "text")
	return actor.NewHost("inventory", factory, config.DefaultActorHostConfig(), logger, nil)
}

func seedIngredient(t *testing.T, ctx context.Context, host *actor.Host, ref IngredientRef) {
	t.Helper()
	_, err := host.Dispatch(ctx, ref.inventoryKey(), actor.Command{
		Name: inventory.CmdInitialize,
		Payload: inventory.InitParams{
			OrgID: ref.OrgID, SiteID: ref.SiteID, IngredientID: ref.IngredientID,
			Name: ref.IngredientID, Unit: "kg", Category: "produce",
			ReorderPoint: money.NewFromInt(10), ParLevel: money.NewFromInt(50),
		},
	})
	if err != nil {
		t.Fatalf("seed initialize: %v", err)
	}
}

func receiveBatch(t *testing.T, ctx context.Context, host *actor.Host, ref IngredientRef, batchNumber string, qty, unitCost money.Decimal, expiry *time.Time) {
	t.Helper()
	_, err := host.Dispatch(ctx, ref.inventoryKey(), actor.Command{
		Name: inventory.CmdReceive,
		Payload: inventory.ReceiveParams{
			BatchNumber: batchNumber, Qty: qty, UnitCost: unitCost, ExpiryDate: expiry,
		},
	})
	if err != nil {
		t.Fatalf("seed receive: %v", err)
	}
}
