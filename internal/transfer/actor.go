package transfer

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/darkvelocity/retailcore/internal/actor"
	"github.com/darkvelocity/retailcore/internal/eventlog"
	"github.com/darkvelocity/retailcore/internal/platform/apierr"
	"github.com/darkvelocity/retailcore/internal/platform/money"
	"github.com/darkvelocity/retailcore/internal/streambus"
)

// Command names dispatched through the actor host.
const (
	CmdRequest         = "Request"
	CmdApprove         = "Approve"
	CmdReject          = "Reject"
	CmdShip            = "Ship"
	CmdReceiveItem     = "ReceiveItem"
	CmdFinalizeReceipt = "FinalizeReceipt"
	CmdCancel          = "Cancel"
)

const streamNamespace = "transfer.lifecycle"

const (
	eventRequested    = "TransferRequested"
	eventApproved     = "TransferApproved"
	eventRejected     = "TransferRejected"
	eventShipped      = "TransferShipped"
	eventItemReceived = "TransferItemReceived"
	eventFinalized    = "TransferReceiptFinalized"
	eventCancelled    = "TransferCancelled"
)

// ReceiveItemParams is the payload for CmdReceiveItem.
type ReceiveItemParams struct {
	IngredientID string
	ReceivedQty  money.Decimal
}

// CancelParams is the payload for CmdCancel.
type CancelParams struct {
	CancelledBy string
}

// MoverResolver resolves the InventoryMover that reaches the inventory
// actor for one ingredient at one site, keyed the same way the actor
// host keys inventory aggregates ({orgID}:{siteID}:{ingredientID}).
type MoverResolver func(ctx context.Context, orgID, siteID, ingredientID string) InventoryMover

// Actor hosts one transfer aggregate, debiting and crediting inventory
// through a MoverResolver that reaches the source/destination inventory
// actors for the transfer's ingredient lines.
type Actor struct {
	key     string
	store   eventlog.Store
	bus     *streambus.Bus
	engine  *Engine
	resolve MoverResolver
	state   *State
	ctx     context.Context
}

// NewFactory returns an actor.Factory for transfer aggregates.
func NewFactory(store eventlog.Store, bus *streambus.Bus, engine *Engine, resolve MoverResolver) actor.Factory {
	return func(key string) actor.Handler {
		return &Actor{key: key, store: store, bus: bus, engine: engine, resolve: resolve}
	}
}

// OnActivate replays the transfer's event log into a fresh State.
func (a *Actor) OnActivate(ctx context.Context, key string) error {
	parts := actor.Split(key)
	if err := actor.ValidateArity("transfer", parts, 4); err != nil {
		return err
	}

	events, err := a.store.Load(ctx, key)
	if err != nil {
		return err
	}
	state := &State{}
	_, _, err = eventlog.Replay(state, events, a.transition)
	if err != nil {
		return fmt.Errorf("replay transfer %s: %w", key, err)
	}
	a.state = state
	return nil
}

func (a *Actor) transition(state *State, eventType string, payload json.RawMessage) (*State, error) {
	switch eventType {
	case eventRequested:
		var p RequestParams
		json.Unmarshal(payload, &p)
		state.OrgID, state.SiteID, state.TransferID = p.OrgID, p.SiteID, p.TransferID
		state.SourceSiteID, state.DestinationSiteID = p.SourceSiteID, p.DestinationSiteID
		state.Lines = p.Lines
		state.RequestedBy = p.RequestedBy
		state.Status = StatusRequested
	case eventApproved:
		var p struct{ ApprovedBy string }
		json.Unmarshal(payload, &p)
		state.ApprovedBy = p.ApprovedBy
		state.Status = StatusApproved
	case eventRejected:
		state.Status = StatusRejected
	case eventShipped:
		var p struct {
			Lines             []Line
			TotalShippedValue money.Decimal
		}
		json.Unmarshal(payload, &p)
		state.Lines = p.Lines
		state.TotalShippedValue = p.TotalShippedValue
		state.Status = StatusShipped
	case eventItemReceived:
		var p struct {
			IngredientID string
			Received     Line
		}
		json.Unmarshal(payload, &p)
		for i := range state.Lines {
			if state.Lines[i].IngredientID == p.IngredientID {
				state.Lines[i] = p.Received
				break
			}
		}
	case eventFinalized:
		var p struct {
			Lines              []Line
			TotalReceivedValue money.Decimal
			TotalVarianceValue money.Decimal
		}
		json.Unmarshal(payload, &p)
		state.Lines = p.Lines
		state.TotalReceivedValue = p.TotalReceivedValue
		state.TotalVarianceValue = p.TotalVarianceValue
		state.Status = StatusReceived
	case eventCancelled:
		state.Status = StatusCancelled
	}
	return state, nil
}

// HandleCommand dispatches one transfer command.
func (a *Actor) HandleCommand(ctx context.Context, cmd actor.Command) (any, error) {
	a.ctx = ctx
	var (
		eventType string
		payload   any
		err       error
	)

	switch cmd.Name {
	case CmdRequest:
		p := cmd.Payload.(RequestParams)
		err = a.engine.Request(a.state, p)
		eventType, payload = eventRequested, p
	case CmdApprove:
		by := cmd.Payload.(string)
		err = a.engine.Approve(a.state, by)
		eventType, payload = eventApproved, struct{ ApprovedBy string }{by}
	case CmdReject:
		by := cmd.Payload.(string)
		err = a.engine.Reject(a.state, by)
		eventType, payload = eventRejected, struct{}{}
	case CmdShip:
		err = a.engine.Ship(a.state, a.sourceMover())
		if err == nil {
			eventType, payload = eventShipped, struct {
				Lines             []Line
				TotalShippedValue money.Decimal
			}{a.state.Lines, a.state.TotalShippedValue}
		}
	case CmdReceiveItem:
		p := cmd.Payload.(ReceiveItemParams)
		err = a.engine.ReceiveItem(a.state, p.IngredientID, p.ReceivedQty)
		if err == nil {
			var found Line
			for _, l := range a.state.Lines {
				if l.IngredientID == p.IngredientID {
					found = l
					break
				}
			}
			eventType, payload = eventItemReceived, struct {
				IngredientID string
				Received     Line
			}{p.IngredientID, found}
		}
	case CmdFinalizeReceipt:
		err = a.engine.FinalizeReceipt(a.state, a.destinationMover())
		if err == nil {
			eventType, payload = eventFinalized, struct {
				Lines              []Line
				TotalReceivedValue money.Decimal
				TotalVarianceValue money.Decimal
			}{a.state.Lines, a.state.TotalReceivedValue, a.state.TotalVarianceValue}
		}
	case CmdCancel:
		p := cmd.Payload.(CancelParams)
		err = a.engine.Cancel(a.state, a.sourceMover(), p.CancelledBy)
		eventType, payload = eventCancelled, struct{}{}
	default:
		return nil, apierr.New(apierr.PreconditionViolation, "UNKNOWN_COMMAND", fmt.Sprintf("unknown transfer command %q", cmd.Name))
	}
	if err != nil {
		return nil, err
	}

	if err := a.commit(ctx, eventType, payload); err != nil {
		return nil, err
	}
	return a.state, nil
}

// siteMover fans TransferOut/ReceiveTransfer for one site out to the
// per-ingredient inventory actor the resolver reaches; each call looks
// up a fresh mover because every ingredient line lives in its own actor.
type siteMover struct {
	ctx    context.Context
	orgID  string
	siteID string
	resolve MoverResolver
}

func (m siteMover) TransferOut(ingredientID string, qty money.Decimal) (money.Decimal, error) {
	return m.resolve(m.ctx, m.orgID, m.siteID, ingredientID).TransferOut(ingredientID, qty)
}

func (m siteMover) ReceiveTransfer(ingredientID string, qty, unitCost money.Decimal) error {
	return m.resolve(m.ctx, m.orgID, m.siteID, ingredientID).ReceiveTransfer(ingredientID, qty, unitCost)
}

func (a *Actor) sourceMover() InventoryMover {
	return siteMover{ctx: a.ctx, orgID: a.state.OrgID, siteID: a.state.SourceSiteID, resolve: a.resolve}
}

func (a *Actor) destinationMover() InventoryMover {
	return siteMover{ctx: a.ctx, orgID: a.state.OrgID, siteID: a.state.DestinationSiteID, resolve: a.resolve}
}

func (a *Actor) commit(ctx context.Context, eventType string, payload any) error {
	expectedSeq, err := a.store.LastSequence(ctx, a.key)
	if err != nil {
		return apierr.ErrPersistenceFailure("read transfer sequence", err)
	}
	body, err := json.Marshal(payload)
	if err != nil {
		return apierr.ErrPersistenceFailure("marshal transfer event", err)
	}
	if err := a.store.Append(ctx, a.key, expectedSeq, []eventlog.NewEvent{{EventType: eventType, Payload: json.RawMessage(body)}}); err != nil {
		return err
	}

	if a.bus != nil {
		// Stream publish failures are logged and swallowed upstream; they
		// never roll back the already-committed event log.
		_ = a.bus.Publish(ctx, streamNamespace, a.state.OrgID, streambus.Envelope{
			AggregateKey: a.key,
			EventType:    eventType,
			Payload:      body,
		})
	}
	return nil
}

// OnDeactivate has nothing to flush: every command already commits to
// the event log before returning.
func (a *Actor) OnDeactivate(ctx context.Context) error { return nil }
