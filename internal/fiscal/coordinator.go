package fiscal

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/darkvelocity/retailcore/infrastructure/logging"
	"github.com/darkvelocity/retailcore/internal/platform/apierr"
	"github.com/darkvelocity/retailcore/internal/streambus"
)

func unmarshalEnvelope(d streambus.Delivery, out any) error {
	return json.Unmarshal(d.Envelope.Payload, out)
}

// Coordinator subscribes to fiscal-tse-events and forwards each
// TseTransactionStarted/TseTransactionFinished to the configured cloud
// TSS. A failed forward is logged as a warning and the delivery is
// acknowledged; the coordinator publishes no completion or failure event.
type Coordinator struct {
	bus        *streambus.Bus
	cloud      ITseCloudClient
	logger     *logging.Logger
	tssByOrgID map[string]string
}

// NewCoordinator builds a Coordinator forwarding TSE events to cloud.
func NewCoordinator(bus *streambus.Bus, cloud ITseCloudClient, logger *logging.Logger) *Coordinator {
	return &Coordinator{bus: bus, cloud: cloud, logger: logger, tssByOrgID: map[string]string{}}
}

// Run consumes fiscal-tse-events for one org/tenant's stream until ctx
// is cancelled, dispatching each delivery to handleEvent.
func (c *Coordinator) Run(ctx context.Context, orgID, consumerName string) error {
	return c.bus.Consume(ctx, streamNamespace, orgID, consumerName, c.handleEvent)
}

func (c *Coordinator) handleEvent(ctx context.Context, d streambus.Delivery) error {
	switch d.Envelope.EventType {
	case "TseTransactionStarted":
		return c.forwardStart(ctx, d)
	case "TseTransactionFinished":
		return c.forwardFinish(ctx, d)
	default:
		return nil
	}
}

func (c *Coordinator) forwardStart(ctx context.Context, d streambus.Delivery) error {
	var evt struct {
		TransactionNumber int64
		ProcessType       string
		ProcessData       string
		ClientID          string `json:"clientId"`
	}
	if err := unmarshalEnvelope(d, &evt); err != nil {
		return err
	}

	orgID := orgIDFromKey(d.Envelope.AggregateKey)
	tssID, err := c.resolveTSS(ctx, orgID)
	if err != nil {
		c.logFailure(orgID, evt.TransactionNumber, err)
		return nil // publish failures never roll back the committed TSE event
	}

	_, err = c.cloud.StartTransaction(ctx, tssID, StartTransactionParams{
		ProcessType: evt.ProcessType,
		ProcessData: evt.ProcessData,
		ClientID:    evt.ClientID,
	})
	if err != nil {
		c.logFailure(orgID, evt.TransactionNumber, err)
		return nil
	}
	return nil
}

func (c *Coordinator) forwardFinish(ctx context.Context, d streambus.Delivery) error {
	var evt struct {
		TransactionNumber int64
		ProcessType       string
		ProcessData       string
	}
	if err := unmarshalEnvelope(d, &evt); err != nil {
		return err
	}

	orgID := orgIDFromKey(d.Envelope.AggregateKey)
	tssID, err := c.resolveTSS(ctx, orgID)
	if err != nil {
		c.logFailure(orgID, evt.TransactionNumber, err)
		return nil
	}

	receipt, err := ParseProcessDataToReceipt(evt.ProcessType, evt.ProcessData)
	if err != nil {
		c.logFailure(orgID, evt.TransactionNumber, err)
		return nil
	}

	externalTxID := fmt.Sprintf("%d", evt.TransactionNumber)
	if _, err := c.cloud.FinishTransaction(ctx, tssID, externalTxID, receipt); err != nil {
		c.logFailure(orgID, evt.TransactionNumber, err)
		return nil
	}
	return nil
}

// resolveTSS caches the cloud-assigned TSS id per org, looking it up on
// first reference the way OnActivate caches configuration for an
// activation's lifetime.
func (c *Coordinator) resolveTSS(ctx context.Context, orgID string) (string, error) {
	if id, ok := c.tssByOrgID[orgID]; ok {
		return id, nil
	}
	id, err := c.cloud.GetTSS(ctx, orgID)
	if err != nil {
		return "", err
	}
	c.tssByOrgID[orgID] = id
	return id, nil
}

func (c *Coordinator) logFailure(orgID string, txNumber int64, err error) {
	if c.logger == nil {
		return
	}
	c.logger.WithFields(map[string]any{
		"org_id":             orgID,
		"transaction_number": txNumber,
		"error":              err.Error(),
		"error_kind":         apierr.KindOf(err),
	}).Warn("cloud-TSS forward failed")
}

func orgIDFromKey(key string) string {
	for i, c := range key {
		if c == ':' {
			return key[:i]
		}
	}
	return key
}
