package main

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"github.com/darkvelocity/retailcore/internal/platform"
	"github.com/darkvelocity/retailcore/internal/streambus"
)

// sqlStorageDriver adapts *sql.DB to platform.StorageDriver so the
// event log and idempotency stores can be started, stopped, and
// health-checked alongside every other boundary the process owns.
type sqlStorageDriver struct {
	db *sql.DB
}

func newSQLStorageDriver(db *sql.DB) *sqlStorageDriver {
	return &sqlStorageDriver{db: db}
}

func (d *sqlStorageDriver) Name() string { return "postgres" }

func (d *sqlStorageDriver) Start(ctx context.Context) error { return d.db.PingContext(ctx) }

func (d *sqlStorageDriver) Stop(ctx context.Context) error { return d.db.Close() }

func (d *sqlStorageDriver) Ping(ctx context.Context) error { return d.db.PingContext(ctx) }

func (d *sqlStorageDriver) Type() string { return "postgres" }

func (d *sqlStorageDriver) DB() any { return d.db }

func (d *sqlStorageDriver) Transaction(ctx context.Context, fn func(tx platform.StorageTx) error) error {
	tx, err := d.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	if err := fn(&sqlStorageTx{tx: tx}); err != nil {
		_ = tx.Rollback()
		return err
	}
	return tx.Commit()
}

func (d *sqlStorageDriver) Migrate(ctx context.Context) error {
	return fmt.Errorf("migrations are applied at startup, not via the driver")
}

func (d *sqlStorageDriver) Stats() platform.StorageStats {
	s := d.db.Stats()
	return platform.StorageStats{
		OpenConnections: s.OpenConnections,
		InUse:           s.InUse,
		Idle:            s.Idle,
		MaxOpen:         s.MaxOpenConnections,
		WaitCount:       s.WaitCount,
		WaitDuration:    s.WaitDuration,
	}
}

type sqlStorageTx struct {
	tx *sql.Tx
}

func (t *sqlStorageTx) Exec(ctx context.Context, query string, args ...any) (int64, error) {
	res, err := t.tx.ExecContext(ctx, query, args...)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

func (t *sqlStorageTx) Query(ctx context.Context, query string, args ...any) (platform.Rows, error) {
	rows, err := t.tx.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	return rows, nil
}

func (t *sqlStorageTx) QueryRow(ctx context.Context, query string, args ...any) platform.Row {
	return t.tx.QueryRowContext(ctx, query, args...)
}

func (t *sqlStorageTx) Commit() error { return t.tx.Commit() }

func (t *sqlStorageTx) Rollback() error { return t.tx.Rollback() }

// streamQueueDriver adapts *streambus.Bus to platform.QueueDriver. Topics
// are addressed as "namespace/tenantKey" since the bus itself keys
// streams by that pair rather than a single flat name.
type streamQueueDriver struct {
	bus *streambus.Bus
}

func newStreamQueueDriver(bus *streambus.Bus) *streamQueueDriver {
	return &streamQueueDriver{bus: bus}
}

func splitTopic(topic string) (namespace, tenantKey string, err error) {
	parts := strings.SplitN(topic, "/", 2)
	if len(parts) != 2 || parts[0] == "" || parts[1] == "" {
		return "", "", fmt.Errorf("queue topic %q must be \"namespace/tenantKey\"", topic)
	}
	return parts[0], parts[1], nil
}

func (d *streamQueueDriver) Name() string { return "streambus" }

func (d *streamQueueDriver) Start(ctx context.Context) error { return nil }

func (d *streamQueueDriver) Stop(ctx context.Context) error { return d.bus.Close() }

func (d *streamQueueDriver) Ping(ctx context.Context) error { return nil }

func (d *streamQueueDriver) Publish(ctx context.Context, topic string, message []byte) error {
	namespace, tenantKey, err := splitTopic(topic)
	if err != nil {
		return err
	}
	return d.bus.Publish(ctx, namespace, tenantKey, streambus.Envelope{
		AggregateKey: tenantKey,
		EventType:    "raw",
		Payload:      message,
		PublishedAt:  time.Now(),
	})
}

func (d *streamQueueDriver) Subscribe(ctx context.Context, topic, group string, handler platform.MessageHandler) (platform.Subscription, error) {
	namespace, tenantKey, err := splitTopic(topic)
	if err != nil {
		return nil, err
	}
	subCtx, cancel := context.WithCancel(ctx)
	errCh := make(chan error, 1)
	go func() {
		errCh <- d.bus.Consume(subCtx, namespace, tenantKey, group, func(ctx context.Context, del streambus.Delivery) error {
			return handler(ctx, &platform.Message{
				ID:        del.MessageID,
				Topic:     topic,
				Body:      del.Envelope.Payload,
				Timestamp: del.Envelope.PublishedAt,
			})
		})
	}()
	return &streamSubscription{cancel: cancel, errCh: errCh}, nil
}

func (d *streamQueueDriver) CreateTopic(ctx context.Context, topic string) error {
	namespace, tenantKey, err := splitTopic(topic)
	if err != nil {
		return err
	}
	return d.bus.EnsureGroup(ctx, namespace, tenantKey)
}

func (d *streamQueueDriver) TopicStats(ctx context.Context, topic string) (*platform.TopicStats, error) {
	namespace, tenantKey, err := splitTopic(topic)
	if err != nil {
		return nil, err
	}
	pending, err := d.bus.PendingCount(ctx, namespace, tenantKey)
	if err != nil {
		return nil, err
	}
	return &platform.TopicStats{PendingCount: pending}, nil
}

type streamSubscription struct {
	cancel context.CancelFunc
	errCh  chan error
}

func (s *streamSubscription) Unsubscribe() error {
	s.cancel()
	return nil
}

func (s *streamSubscription) Err() <-chan error { return s.errCh }
