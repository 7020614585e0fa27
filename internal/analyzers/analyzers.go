// Package analyzers implements the cross-actor scans that read (and
// occasionally write) every registered ingredient's inventory aggregate:
// expiry monitoring, ABC classification, and reorder-suggestion
// generation. Each scanner fans out over a caller-supplied list of
// ingredients through the actor host's Dispatch, the same path any other
// command takes — there is no back door into an aggregate's state.
package analyzers

import (
	"context"
	"fmt"

	"github.com/darkvelocity/retailcore/internal/actor"
	"github.com/darkvelocity/retailcore/internal/inventory"
)

// IngredientRef identifies one inventory aggregate to scan.
type IngredientRef struct {
	OrgID        string
	SiteID       string
	IngredientID string
}

func (r IngredientRef) inventoryKey() string {
	return fmt.Sprintf("%s:%s:%s:inventory", r.OrgID, r.SiteID, r.IngredientID)
}

// snapshot dispatches a Snapshot query to one ingredient's inventory actor.
func snapshot(ctx context.Context, host *actor.Host, ref IngredientRef) (inventory.Snapshot, error) {
	result, err := host.Dispatch(ctx, ref.inventoryKey(), actor.Command{Name: inventory.CmdSnapshot})
	if err != nil {
		return inventory.Snapshot{}, err
	}
	snap, ok := result.(inventory.Snapshot)
	if !ok {
		return inventory.Snapshot{}, fmt.Errorf("inventory snapshot: unexpected result type %T", result)
	}
	return snap, nil
}
