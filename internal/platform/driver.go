// Package platform provides driver interfaces for the platform's storage
// and queue boundaries, and a small registry the composition root uses to
// start, stop, and health-check them together.
package platform

import (
	"context"
	"time"
)

// Driver is the base interface for all platform drivers.
// Every driver must be nameable, startable, stoppable, and health-checkable.
type Driver interface {
	// Name returns the driver name for identification.
	Name() string

	// Start initializes the driver and establishes connections.
	Start(ctx context.Context) error

	// Stop gracefully shuts down the driver.
	Stop(ctx context.Context) error

	// Ping checks if the driver's connection is healthy.
	Ping(ctx context.Context) error
}

// =====================================================
// Storage Drivers
// =====================================================

// StorageDriver provides persistent storage capabilities. The event-log and
// snapshot-state backends for the actor runtime are implemented against this
// interface, backed in production by Postgres.
type StorageDriver interface {
	Driver

	// Type returns the storage type (postgres, memory, etc.).
	Type() string

	// DB returns the underlying database connection for advanced queries.
	// Use with caution; prefer the typed methods.
	DB() any

	// Transaction executes operations within a database transaction.
	Transaction(ctx context.Context, fn func(tx StorageTx) error) error

	// Migrate runs database migrations.
	Migrate(ctx context.Context) error

	// Stats returns storage statistics.
	Stats() StorageStats
}

// StorageTx represents a storage transaction.
type StorageTx interface {
	// Exec executes a write query.
	Exec(ctx context.Context, query string, args ...any) (int64, error)

	// Query executes a read query.
	Query(ctx context.Context, query string, args ...any) (Rows, error)

	// QueryRow executes a query expecting a single row.
	QueryRow(ctx context.Context, query string, args ...any) Row

	// Commit commits the transaction.
	Commit() error

	// Rollback aborts the transaction.
	Rollback() error
}

// Rows represents query result rows.
type Rows interface {
	// Next advances to the next row.
	Next() bool

	// Scan reads columns into dest.
	Scan(dest ...any) error

	// Close releases the rows.
	Close() error

	// Err returns any error from iteration.
	Err() error
}

// Row represents a single result row.
type Row interface {
	// Scan reads columns into dest.
	Scan(dest ...any) error
}

// StorageStats holds storage metrics.
type StorageStats struct {
	OpenConnections int
	InUse           int
	Idle            int
	MaxOpen         int
	WaitCount       int64
	WaitDuration    time.Duration
}

// =====================================================
// Queue Drivers
// =====================================================

// QueueDriver provides durable, at-least-once message delivery. The stream
// bus (per-organization, per-namespace domain streams) is implemented
// against this interface, backed in production by Redis Streams.
type QueueDriver interface {
	Driver

	// Publish sends a message to a topic.
	Publish(ctx context.Context, topic string, message []byte) error

	// Subscribe registers a consumer group for a topic.
	Subscribe(ctx context.Context, topic, group string, handler MessageHandler) (Subscription, error)

	// CreateTopic creates a topic if it doesn't exist.
	CreateTopic(ctx context.Context, topic string) error

	// TopicStats returns topic statistics.
	TopicStats(ctx context.Context, topic string) (*TopicStats, error)
}

// Message represents a queue message.
type Message struct {
	ID        string
	Topic     string
	Body      []byte
	Timestamp time.Time
	Headers   map[string]string
	Attempts  int
}

// MessageHandler processes queue messages. Returning an error leaves the
// message unacknowledged so it is redelivered.
type MessageHandler func(ctx context.Context, msg *Message) error

// Subscription represents an active subscription that can be cancelled.
type Subscription interface {
	// Unsubscribe cancels the subscription.
	Unsubscribe() error

	// Err returns the subscription error channel.
	Err() <-chan error
}

// TopicStats holds topic metrics.
type TopicStats struct {
	MessageCount  int64
	ConsumerCount int
	PendingCount  int64
}

// =====================================================
// Driver Registry
// =====================================================

// Registry manages platform drivers for the composition root.
type Registry struct {
	storage StorageDriver
	queue   QueueDriver
	custom  map[string]Driver
}

// NewRegistry creates a new driver registry.
func NewRegistry() *Registry {
	return &Registry{
		custom: make(map[string]Driver),
	}
}

// SetStorage sets the storage driver.
func (r *Registry) SetStorage(d StorageDriver) { r.storage = d }

// Storage returns the storage driver.
func (r *Registry) Storage() StorageDriver { return r.storage }

// SetQueue sets the queue driver.
func (r *Registry) SetQueue(d QueueDriver) { r.queue = d }

// Queue returns the queue driver.
func (r *Registry) Queue() QueueDriver { return r.queue }

// Register adds a custom driver.
func (r *Registry) Register(name string, d Driver) {
	r.custom[name] = d
}

// Get retrieves a custom driver by name.
func (r *Registry) Get(name string) (Driver, bool) {
	d, ok := r.custom[name]
	return d, ok
}

// StartAll starts all registered drivers.
func (r *Registry) StartAll(ctx context.Context) error {
	for _, d := range r.allDrivers() {
		if d == nil {
			continue
		}
		if err := d.Start(ctx); err != nil {
			return err
		}
	}
	return nil
}

// StopAll stops all registered drivers in reverse order.
func (r *Registry) StopAll(ctx context.Context) error {
	drivers := r.allDrivers()
	var lastErr error
	for i := len(drivers) - 1; i >= 0; i-- {
		if drivers[i] == nil {
			continue
		}
		if err := drivers[i].Stop(ctx); err != nil {
			lastErr = err
		}
	}
	return lastErr
}

// PingAll checks health of all drivers.
func (r *Registry) PingAll(ctx context.Context) map[string]error {
	results := make(map[string]error)
	for _, d := range r.allDrivers() {
		if d == nil {
			continue
		}
		results[d.Name()] = d.Ping(ctx)
	}
	return results
}

func (r *Registry) allDrivers() []Driver {
	result := []Driver{r.storage, r.queue}
	for _, d := range r.custom {
		result = append(result, d)
	}
	return result
}
