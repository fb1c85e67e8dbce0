package webhook

import (
	"context"
	"sync"
	"time"

	"github.com/VetGrid/vetgrid-identity-core/pkg/clients/redis"
	vgerr "github.com/VetGrid/vetgrid-identity-core/pkg/errors"
)

// DeliveryLog is the seen-set the ingress consults before dispatching a
// delivery. The provider's transport is at-least-once, so the same
// delivery id can arrive more than once; the log absorbs redeliveries
// without re-running their side effects.
//
// Retention is bounded. A redelivery that arrives after its id has been
// evicted is dispatched again; the reconciler's provider-timestamp
// comparison makes that reprocessing a no-op.
type DeliveryLog interface {
	// MarkSeen records the delivery id and reports whether this call was
	// the first sighting. A false return means the id was already
	// recorded and the delivery must not be dispatched again.
	MarkSeen(ctx context.Context, deliveryID string) (bool, error)

	// Forget releases a previously recorded id so a redelivery can be
	// dispatched. The ingress calls it when dispatch fails after the id
	// was claimed; otherwise the provider's retry would be absorbed as a
	// duplicate and the event lost.
	Forget(ctx context.Context, deliveryID string) error
}

// ---------------------------------------------------------------------------
// MemoryLog
// ---------------------------------------------------------------------------

// DefaultMemoryLogCapacity bounds the in-memory seen-set. At typical
// provider delivery rates this covers well over a day of retention.
const DefaultMemoryLogCapacity = 4096

// MemoryLog is an in-process [DeliveryLog] for single-replica
// deployments and tests. Retention is bounded by entry count: once the
// ring is full, each new id evicts the oldest.
//
// MemoryLog is safe for concurrent use.
type MemoryLog struct {
	mu   sync.Mutex
	seen map[string]struct{}
	ring []string
	next int
}

var _ DeliveryLog = (*MemoryLog)(nil)

// NewMemoryLog creates a MemoryLog holding at most capacity ids. A
// non-positive capacity selects [DefaultMemoryLogCapacity].
func NewMemoryLog(capacity int) *MemoryLog {
	if capacity <= 0 {
		capacity = DefaultMemoryLogCapacity
	}
	return &MemoryLog{
		seen: make(map[string]struct{}, capacity),
		ring: make([]string, capacity),
	}
}

// MarkSeen implements [DeliveryLog].
func (l *MemoryLog) MarkSeen(_ context.Context, deliveryID string) (bool, error) {
	if deliveryID == "" {
		return false, vgerr.New(vgerr.CodeValidationRequired, "webhook: delivery id must not be empty")
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	if _, ok := l.seen[deliveryID]; ok {
		return false, nil
	}

	// The ring slot being reused may hold an id that Forget already
	// released; deleting it again is harmless.
	if evicted := l.ring[l.next]; evicted != "" {
		delete(l.seen, evicted)
	}
	l.ring[l.next] = deliveryID
	l.next = (l.next + 1) % len(l.ring)
	l.seen[deliveryID] = struct{}{}
	return true, nil
}

// Forget implements [DeliveryLog]. The id's ring slot is left in place
// and recycled on its own schedule.
func (l *MemoryLog) Forget(_ context.Context, deliveryID string) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	delete(l.seen, deliveryID)
	return nil
}

// Len returns the number of ids currently recorded. Intended for tests.
func (l *MemoryLog) Len() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.seen)
}

// ---------------------------------------------------------------------------
// RedisLog
// ---------------------------------------------------------------------------

// RedisLogConfig holds the configuration for [RedisLog].
type RedisLogConfig struct {
	// KeyPrefix namespaces the seen-set keys so the delivery log can
	// share a Redis database with the session cache. Defaults to
	// "vetgrid:delivery".
	KeyPrefix string `json:"key_prefix" env:"WEBHOOK_DEDUPE_PREFIX" envDefault:"vetgrid:delivery"`

	// Retention is how long a delivery id stays recorded. It should
	// exceed the provider's redelivery window. Defaults to 24 hours.
	Retention time.Duration `json:"retention" env:"WEBHOOK_DEDUPE_RETENTION" envDefault:"24h"`
}

// Validate checks the configuration for logical correctness and returns
// a *[vgerr.Error] with code [vgerr.CodeValidation] if any field is invalid.
func (c *RedisLogConfig) Validate() *vgerr.Error {
	if c.KeyPrefix == "" {
		return vgerr.New(vgerr.CodeValidation, "webhook: key prefix must not be empty")
	}
	if c.Retention <= 0 {
		return vgerr.New(vgerr.CodeValidation, "webhook: retention must be positive")
	}
	return nil
}

// DefaultRedisLogConfig returns a RedisLogConfig with sensible defaults.
func DefaultRedisLogConfig() RedisLogConfig {
	return RedisLogConfig{
		KeyPrefix: "vetgrid:delivery",
		Retention: 24 * time.Hour,
	}
}

// RedisLog is a [DeliveryLog] backed by a shared Redis instance, for
// deployments where any replica may receive any delivery. Each id is a
// key claimed with SETNX; Redis key expiry enforces retention.
type RedisLog struct {
	config RedisLogConfig
	client *redis.Client
}

var _ DeliveryLog = (*RedisLog)(nil)

// NewRedisLog creates a RedisLog on top of an existing client.
func NewRedisLog(cfg RedisLogConfig, client *redis.Client) (*RedisLog, error) {
	if cfg.KeyPrefix == "" {
		cfg.KeyPrefix = DefaultRedisLogConfig().KeyPrefix
	}
	if cfg.Retention == 0 {
		cfg.Retention = DefaultRedisLogConfig().Retention
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if client == nil {
		return nil, vgerr.New(vgerr.CodeValidation, "webhook: redis client must not be nil")
	}
	return &RedisLog{config: cfg, client: client}, nil
}

// MarkSeen implements [DeliveryLog]. The SETNX claim is atomic across
// replicas: exactly one replica sees true for a given id within the
// retention window.
func (l *RedisLog) MarkSeen(ctx context.Context, deliveryID string) (bool, error) {
	if deliveryID == "" {
		return false, vgerr.New(vgerr.CodeValidationRequired, "webhook: delivery id must not be empty")
	}
	return l.client.SetNX(ctx, l.key(deliveryID), "1", l.config.Retention)
}

// Forget implements [DeliveryLog].
func (l *RedisLog) Forget(ctx context.Context, deliveryID string) error {
	_, err := l.client.Del(ctx, l.key(deliveryID))
	return err
}

func (l *RedisLog) key(deliveryID string) string {
	return l.config.KeyPrefix + ":" + deliveryID
}
