// Package idempotency lets command handlers recognize a retried request
// and return the original result instead of re-executing a side effect.
// Keys are scoped per organization, carry a TTL, and are capped at a
// maximum live-key count per organization with oldest-first eviction.
package idempotency

import (
	"context"
	"crypto/sha256"
	"database/sql"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/jmoiron/sqlx"

	"github.com/darkvelocity/retailcore/internal/platform/apierr"
	"github.com/darkvelocity/retailcore/internal/platform/clock"
	"github.com/darkvelocity/retailcore/internal/platform/config"
)

// Record is the stored state of one idempotency key.
type Record struct {
	OrgID           string
	Key             string
	Operation       string
	RelatedEntityID string
	GeneratedAt     time.Time
	ExpiresAt       time.Time
	Used            bool
	Successful      bool
	ResultHash      string
}

// Store persists idempotency records.
type Store interface {
	Get(ctx context.Context, orgID, key string) (*Record, error)
	Insert(ctx context.Context, r Record) error
	MarkUsed(ctx context.Context, orgID, key string, successful bool, resultHash string) error
	CountLive(ctx context.Context, orgID string, now time.Time) (int, error)
	EvictOldest(ctx context.Context, orgID string, n int) (int, error)
	DeleteExpired(ctx context.Context, now time.Time) (int, error)
}

// Service implements generateKey/check/markUsed/tryAcquire/cleanupExpired
// against a Store, enforcing the per-organization TTL and live-key cap.
type Service struct {
	store Store
	cfg   config.IdempotencyConfig
	clock clock.Clock
	rand  clock.Randomness
}

// New builds a Service from the configured TTL and eviction policy.
func New(store Store, cfg config.IdempotencyConfig, c clock.Clock, r clock.Randomness) *Service {
	if c == nil {
		c = clock.System{}
	}
	if r == nil {
		r = clock.CryptoRandomness{}
	}
	return &Service{store: store, cfg: cfg, clock: c, rand: r}
}

// GenerateKey produces a fresh, unpredictable idempotency key for an
// operation. Callers store the returned key alongside their request so a
// retried call can present it back to Check/TryAcquire.
func (s *Service) GenerateKey(operation string) string {
	return fmt.Sprintf("%s-%s", operation, s.rand.HexToken(16))
}

// Check reports whether key has already been used for orgID, and if so,
// whether the prior attempt succeeded.
func (s *Service) Check(ctx context.Context, orgID, key string) (*Record, error) {
	r, err := s.store.Get(ctx, orgID, key)
	if err != nil {
		return nil, apierr.ErrPersistenceFailure("idempotency lookup", err)
	}
	if r == nil {
		return nil, nil
	}
	if s.clock.Now().After(r.ExpiresAt) {
		return nil, nil
	}
	return r, nil
}

// TryAcquire atomically registers key as in-flight for orgID, enforcing
// the per-organization live-key cap by evicting the oldest keys first.
// It returns (true, nil) when the caller may proceed, and (false, nil)
// when the key is already in use (the caller should instead return the
// prior result via Check).
func (s *Service) TryAcquire(ctx context.Context, orgID, key, operation, relatedEntityID string) (bool, error) {
	existing, err := s.Check(ctx, orgID, key)
	if err != nil {
		return false, err
	}
	if existing != nil {
		return false, nil
	}

	live, err := s.store.CountLive(ctx, orgID, s.clock.Now())
	if err != nil {
		return false, apierr.ErrPersistenceFailure("count live idempotency keys", err)
	}
	if live >= s.cfg.MaxLiveKeys {
		evictCount := int(float64(s.cfg.MaxLiveKeys) * s.cfg.EvictionPercent)
		if evictCount < 1 {
			evictCount = 1
		}
		if _, err := s.store.EvictOldest(ctx, orgID, evictCount); err != nil {
			return false, apierr.ErrPersistenceFailure("evict idempotency keys", err)
		}
	}

	now := s.clock.Now()
	r := Record{
		OrgID:           orgID,
		Key:             key,
		Operation:       operation,
		RelatedEntityID: relatedEntityID,
		GeneratedAt:     now,
		ExpiresAt:       now.Add(s.cfg.DefaultTTL),
	}
	if err := s.store.Insert(ctx, r); err != nil {
		return false, apierr.ErrPersistenceFailure("insert idempotency key", err)
	}
	return true, nil
}

// MarkUsed records the outcome of the operation the key guarded. resultHash
// lets a retried caller verify it is replaying the identical request, not
// reusing the key for a different one.
func (s *Service) MarkUsed(ctx context.Context, orgID, key string, successful bool, result any) error {
	hash, err := hashResult(result)
	if err != nil {
		return err
	}
	if err := s.store.MarkUsed(ctx, orgID, key, successful, hash); err != nil {
		return apierr.ErrPersistenceFailure("mark idempotency key used", err)
	}
	return nil
}

func hashResult(result any) (string, error) {
	body, err := json.Marshal(result)
	if err != nil {
		return "", fmt.Errorf("marshal result for idempotency hash: %w", err)
	}
	sum := sha256.Sum256(body)
	return hex.EncodeToString(sum[:]), nil
}

// CleanupExpired removes every idempotency key past its TTL across all
// organizations, and returns the number removed.
func (s *Service) CleanupExpired(ctx context.Context) (int, error) {
	n, err := s.store.DeleteExpired(ctx, s.clock.Now())
	if err != nil {
		return 0, apierr.ErrPersistenceFailure("cleanup expired idempotency keys", err)
	}
	return n, nil
}

// PostgresStore is the production Store, backed by the idempotency_keys
// table.
type PostgresStore struct {
	db *sqlx.DB
}

// NewPostgresStore wraps an existing *sql.DB connection.
func NewPostgresStore(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: sqlx.NewDb(db, "postgres")}
}

func (p *PostgresStore) Get(ctx context.Context, orgID, key string) (*Record, error) {
	var r Record
	var resultHash sql.NullString
	var successful sql.NullBool
	err := p.db.QueryRowxContext(ctx,
		`SELECT org_id, key, operation, related_entity_id, generated_at, expires_at, used, successful, result_hash
		 FROM idempotency_keys WHERE org_id = $1 AND key = $2`, orgID, key).
		Scan(&r.OrgID, &r.Key, &r.Operation, &r.RelatedEntityID, &r.GeneratedAt, &r.ExpiresAt, &r.Used, &successful, &resultHash)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	r.Successful = successful.Bool
	r.ResultHash = resultHash.String
	return &r, nil
}

func (p *PostgresStore) Insert(ctx context.Context, r Record) error {
	_, err := p.db.ExecContext(ctx,
		`INSERT INTO idempotency_keys (org_id, key, operation, related_entity_id, generated_at, expires_at, used)
		 VALUES ($1, $2, $3, $4, $5, $6, FALSE)`,
		r.OrgID, r.Key, r.Operation, r.RelatedEntityID, r.GeneratedAt, r.ExpiresAt)
	return err
}

func (p *PostgresStore) MarkUsed(ctx context.Context, orgID, key string, successful bool, resultHash string) error {
	_, err := p.db.ExecContext(ctx,
		`UPDATE idempotency_keys SET used = TRUE, successful = $3, result_hash = $4
		 WHERE org_id = $1 AND key = $2`, orgID, key, successful, resultHash)
	return err
}

func (p *PostgresStore) CountLive(ctx context.Context, orgID string, now time.Time) (int, error) {
	var n int
	err := p.db.GetContext(ctx, &n,
		`SELECT COUNT(*) FROM idempotency_keys WHERE org_id = $1 AND expires_at > $2`, orgID, now)
	return n, err
}

func (p *PostgresStore) EvictOldest(ctx context.Context, orgID string, n int) (int, error) {
	res, err := p.db.ExecContext(ctx,
		`DELETE FROM idempotency_keys WHERE (org_id, key) IN (
		   SELECT org_id, key FROM idempotency_keys WHERE org_id = $1
		   ORDER BY generated_at ASC LIMIT $2)`, orgID, n)
	if err != nil {
		return 0, err
	}
	affected, _ := res.RowsAffected()
	return int(affected), nil
}

func (p *PostgresStore) DeleteExpired(ctx context.Context, now time.Time) (int, error) {
	res, err := p.db.ExecContext(ctx, `DELETE FROM idempotency_keys WHERE expires_at <= $1`, now)
	if err != nil {
		return 0, err
	}
	affected, _ := res.RowsAffected()
	return int(affected), nil
}

// MemoryStore is an in-process Store for tests.
type MemoryStore struct {
	mu      sync.Mutex
	records map[string]map[string]*Record
}

// NewMemoryStore builds an empty in-memory idempotency store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{records: make(map[string]map[string]*Record)}
}

func (m *MemoryStore) Get(ctx context.Context, orgID, key string) (*Record, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	org, ok := m.records[orgID]
	if !ok {
		return nil, nil
	}
	r, ok := org[key]
	if !ok {
		return nil, nil
	}
	copy := *r
	return &copy, nil
}

func (m *MemoryStore) Insert(ctx context.Context, r Record) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	org, ok := m.records[r.OrgID]
	if !ok {
		org = make(map[string]*Record)
		m.records[r.OrgID] = org
	}
	copy := r
	org[r.Key] = &copy
	return nil
}

func (m *MemoryStore) MarkUsed(ctx context.Context, orgID, key string, successful bool, resultHash string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	org, ok := m.records[orgID]
	if !ok {
		return fmt.Errorf("idempotency key %s/%s not found", orgID, key)
	}
	r, ok := org[key]
	if !ok {
		return fmt.Errorf("idempotency key %s/%s not found", orgID, key)
	}
	r.Used = true
	r.Successful = successful
	r.ResultHash = resultHash
	return nil
}

func (m *MemoryStore) CountLive(ctx context.Context, orgID string, now time.Time) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	org := m.records[orgID]
	n := 0
	for _, r := range org {
		if r.ExpiresAt.After(now) {
			n++
		}
	}
	return n, nil
}

func (m *MemoryStore) EvictOldest(ctx context.Context, orgID string, n int) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	org, ok := m.records[orgID]
	if !ok {
		return 0, nil
	}
	keys := make([]string, 0, len(org))
	for k := range org {
		keys = append(keys, k)
	}
	sort.Slice(keys, func(i, j int) bool { return org[keys[i]].GeneratedAt.Before(org[keys[j]].GeneratedAt) })

	evicted := 0
	for _, k := range keys {
		if evicted >= n {
			break
		}
		delete(org, k)
		evicted++
	}
	return evicted, nil
}

func (m *MemoryStore) DeleteExpired(ctx context.Context, now time.Time) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	n := 0
	for _, org := range m.records {
		for k, r := range org {
			if !r.ExpiresAt.After(now) {
				delete(org, k)
				n++
			}
		}
	}
	return n, nil
}
