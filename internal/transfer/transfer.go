// Package transfer is the inventory-transfer state machine: a set of
// lines moving from one site to another through request, approval,
// shipment, and receipt.
package transfer

import (
	"fmt"

	"github.com/darkvelocity/retailcore/internal/platform/apierr"
	"github.com/darkvelocity/retailcore/internal/platform/clock"
	"github.com/darkvelocity/retailcore/internal/platform/money"
)

// Status is one state in the transfer's lifecycle.
type Status string

const (
	StatusRequested Status = "Requested"
	StatusApproved  Status = "Approved"
	StatusShipped   Status = "Shipped"
	StatusReceived  Status = "Received"
	StatusRejected  Status = "Rejected"
	StatusCancelled Status = "Cancelled"
)

// Line is one ingredient line on a transfer.
type Line struct {
	IngredientID string
	Requested    money.Decimal
	Shipped      money.Decimal
	Received     money.Decimal
	UnitCost     money.Decimal
	HasCount     bool
}

// Variance is received minus shipped for the line.
func (l Line) Variance() money.Decimal {
	return money.Add(l.Received, l.Shipped.Neg())
}

// State is the full state of one transfer aggregate.
type State struct {
	OrgID              string
	SiteID             string
	TransferID         string
	SourceSiteID       string
	DestinationSiteID  string
	Status             Status
	Lines              []Line
	RequestedBy        string
	ApprovedBy         string
	TotalShippedValue  money.Decimal
	TotalReceivedValue money.Decimal
	TotalVarianceValue money.Decimal
	Version            int64
}

// Engine applies transfer commands; it never touches inventory directly —
// InventoryMover abstracts the caller-supplied side effect so transfer
// stays a pure state machine the way the other aggregates do.
type Engine struct {
	Clock clock.Clock
}

// NewEngine builds a transfer Engine.
func NewEngine(c clock.Clock) *Engine {
	if c == nil {
		c = clock.System{}
	}
	return &Engine{Clock: c}
}

// InventoryMover is the seam through which the transfer actor debits the
// source site and credits the destination site. It is implemented by the
// composition root dispatching TransferOut/ReceiveTransfer commands to
// the relevant inventory actors.
type InventoryMover interface {
	TransferOut(ingredientID string, qty money.Decimal) (unitCost money.Decimal, err error)
	ReceiveTransfer(ingredientID string, qty, unitCost money.Decimal) error
}

// RequestParams is the payload for Request.
type RequestParams struct {
	OrgID             string
	SiteID            string
	TransferID        string
	SourceSiteID      string
	DestinationSiteID string
	Lines             []Line
	RequestedBy       string
}

// Request creates a transfer in the Requested state. At least one line is
// required, and the source and destination sites must differ.
func (e *Engine) Request(s *State, p RequestParams) error {
	if len(p.Lines) == 0 {
		return apierr.ErrPreconditionViolation("a transfer requires at least one line")
	}
	if p.SourceSiteID == p.DestinationSiteID {
		return apierr.ErrPreconditionViolation("transfer source and destination must differ")
	}
	s.OrgID, s.SiteID, s.TransferID = p.OrgID, p.SiteID, p.TransferID
	s.SourceSiteID, s.DestinationSiteID = p.SourceSiteID, p.DestinationSiteID
	s.Lines = p.Lines
	s.RequestedBy = p.RequestedBy
	s.Status = StatusRequested
	return nil
}

func (s *State) requireStatus(command string, want Status) error {
	if s.Status != want {
		return apierr.ErrInvalidStateTransition(s.TransferID, string(s.Status), command)
	}
	return nil
}

// Approve transitions Requested -> Approved.
func (e *Engine) Approve(s *State, approvedBy string) error {
	if err := s.requireStatus("Approve", StatusRequested); err != nil {
		return err
	}
	s.ApprovedBy = approvedBy
	s.Status = StatusApproved
	return nil
}

// Reject transitions Requested -> Rejected (terminal).
func (e *Engine) Reject(s *State, rejectedBy string) error {
	if err := s.requireStatus("Reject", StatusRequested); err != nil {
		return err
	}
	s.Status = StatusRejected
	return nil
}

// Ship transitions Approved -> Shipped, debiting the source site for each
// line via mover and recording the WAC mover returns as the line's cost.
func (e *Engine) Ship(s *State, mover InventoryMover) error {
	if err := s.requireStatus("Ship", StatusApproved); err != nil {
		return err
	}

	total := money.Zero
	for i := range s.Lines {
		line := &s.Lines[i]
		unitCost, err := mover.TransferOut(line.IngredientID, line.Requested)
		if err != nil {
			return err
		}
		line.Shipped = line.Requested
		line.UnitCost = unitCost
		total = money.Add(total, money.Mul(line.Shipped, unitCost))
	}
	s.TotalShippedValue = total
	s.Status = StatusShipped
	return nil
}

// ReceiveItem records a counted receipt for one line.
func (e *Engine) ReceiveItem(s *State, ingredientID string, receivedQty money.Decimal) error {
	if err := s.requireStatus("ReceiveItem", StatusShipped); err != nil {
		return err
	}
	for i := range s.Lines {
		if s.Lines[i].IngredientID == ingredientID {
			s.Lines[i].Received = receivedQty
			s.Lines[i].HasCount = true
			return nil
		}
	}
	return apierr.ErrPreconditionViolation(fmt.Sprintf("transfer has no line for ingredient %s", ingredientID))
}

// FinalizeReceipt fills in any line with no recorded count as "received
// exactly what was shipped", credits the destination site for each line
// at its recorded unit cost, and transitions to Received (terminal).
func (e *Engine) FinalizeReceipt(s *State, mover InventoryMover) error {
	if err := s.requireStatus("FinalizeReceipt", StatusShipped); err != nil {
		return err
	}

	receivedTotal := money.Zero
	varianceTotal := money.Zero
	for i := range s.Lines {
		line := &s.Lines[i]
		if !line.HasCount {
			line.Received = line.Shipped
			line.HasCount = true
		}
		if err := mover.ReceiveTransfer(line.IngredientID, line.Received, line.UnitCost); err != nil {
			return err
		}
		receivedTotal = money.Add(receivedTotal, money.Mul(line.Received, line.UnitCost))
		varianceTotal = money.Add(varianceTotal, money.Mul(line.Variance(), line.UnitCost))
	}
	s.TotalReceivedValue = receivedTotal
	s.TotalVarianceValue = varianceTotal
	s.Status = StatusReceived
	return nil
}

// Cancel aborts the transfer. A Requested transfer is rejected, not
// cancelled. From Shipped, it compensates by crediting the source back
// for everything shipped; from Received it is forbidden.
func (e *Engine) Cancel(s *State, mover InventoryMover, cancelledBy string) error {
	switch s.Status {
	case StatusApproved:
		s.Status = StatusCancelled
		return nil
	case StatusShipped:
		if err := e.returnStockToSource(s, mover); err != nil {
			return err
		}
		s.Status = StatusCancelled
		return nil
	case StatusReceived:
		return apierr.ErrInvalidStateTransition(s.TransferID, string(s.Status), "Cancelled")
	default:
		return apierr.ErrInvalidStateTransition(s.TransferID, string(s.Status), "Cancelled")
	}
}

// returnStockToSource compensates a cancelled-after-ship transfer by
// crediting the source site back for every shipped line.
func (e *Engine) returnStockToSource(s *State, mover InventoryMover) error {
	for _, line := range s.Lines {
		if !line.Shipped.IsPositive() {
			continue
		}
		if err := mover.ReceiveTransfer(line.IngredientID, line.Shipped, line.UnitCost); err != nil {
			return err
		}
	}
	return nil
}
