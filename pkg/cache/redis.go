package cache

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	goredis "github.com/redis/go-redis/v9"

	"github.com/VetGrid/vetgrid-identity-core/pkg/auth"
	"github.com/VetGrid/vetgrid-identity-core/pkg/clients/redis"
	vgerr "github.com/VetGrid/vetgrid-identity-core/pkg/errors"
)

// RedisConfig holds the configuration for [Redis].
type RedisConfig struct {
	// KeyPrefix namespaces all cache keys so the session cache can share
	// a Redis database with other tenants. Defaults to "vetgrid:session".
	KeyPrefix string `json:"key_prefix" env:"CACHE_KEY_PREFIX" envDefault:"vetgrid:session"`

	// IndexTTL is the expiry on each subject's fingerprint index set,
	// refreshed on every write. It must be at least as long as the
	// longest session entry TTL so the index never expires before a
	// member entry. Defaults to 15 minutes, the authenticator's upper
	// bound on entry TTLs.
	IndexTTL time.Duration `json:"index_ttl" env:"CACHE_INDEX_TTL" envDefault:"15m"`
}

// Validate checks the configuration for logical correctness and returns
// a *[vgerr.Error] with code [vgerr.CodeValidation] if any field is invalid.
func (c *RedisConfig) Validate() *vgerr.Error {
	if c.KeyPrefix == "" {
		return vgerr.New(vgerr.CodeValidation, "cache: key prefix must not be empty")
	}
	if c.IndexTTL <= 0 {
		return vgerr.New(vgerr.CodeValidation, "cache: index TTL must be positive")
	}
	return nil
}

// DefaultRedisConfig returns a RedisConfig with sensible defaults.
func DefaultRedisConfig() RedisConfig {
	return RedisConfig{
		KeyPrefix: "vetgrid:session",
		IndexTTL:  15 * time.Minute,
	}
}

// Redis is an [auth.VerificationCache] backed by a shared Redis
// instance, for deployments where several replicas must agree on which
// sessions are live.
//
// Entries are stored as JSON strings under
// "<prefix>:<fingerprint>" with their TTL enforced by Redis key expiry.
// A set under "<prefix>:subject:<subject>" indexes each subject's
// fingerprints so InvalidateUser can drop all of them in one pass.
type Redis struct {
	config RedisConfig
	client *redis.Client
}

var _ auth.VerificationCache = (*Redis)(nil)

// NewRedis creates a Redis session cache on top of an existing client.
func NewRedis(cfg RedisConfig, client *redis.Client) (*Redis, error) {
	if cfg.KeyPrefix == "" {
		cfg.KeyPrefix = DefaultRedisConfig().KeyPrefix
	}
	if cfg.IndexTTL == 0 {
		cfg.IndexTTL = DefaultRedisConfig().IndexTTL
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if client == nil {
		return nil, vgerr.New(vgerr.CodeValidation, "cache: redis client must not be nil")
	}
	return &Redis{config: cfg, client: client}, nil
}

// Get implements [auth.VerificationCache]. Missing and expired keys are
// misses; Redis enforces expiry, so no client-side time check is needed.
func (r *Redis) Get(ctx context.Context, fingerprint string) (*auth.CachedVerification, bool, error) {
	val, err := r.client.Get(ctx, r.entryKey(fingerprint))
	if err != nil {
		if errors.Is(err, goredis.Nil) {
			return nil, false, nil
		}
		return nil, false, err
	}

	var v auth.CachedVerification
	if err := json.Unmarshal([]byte(val), &v); err != nil {
		// A corrupt entry is dropped so it cannot fail every subsequent
		// read of the same token.
		_, _ = r.client.Del(ctx, r.entryKey(fingerprint))
		return nil, false, vgerr.Wrap(err, vgerr.CodeInternal, "cache: corrupt session entry")
	}
	return &v, true, nil
}

// Put implements [auth.VerificationCache]. A non-positive ttl stores
// nothing. The subject index set's expiry is refreshed on every write.
func (r *Redis) Put(ctx context.Context, fingerprint string, v *auth.CachedVerification, ttl time.Duration) error {
	if v == nil {
		return vgerr.New(vgerr.CodeValidation, "cache: verification must not be nil")
	}
	if ttl <= 0 {
		return nil
	}

	data, err := json.Marshal(v)
	if err != nil {
		return vgerr.Wrap(err, vgerr.CodeInternal, "cache: failed to encode session entry")
	}
	if err := r.client.Set(ctx, r.entryKey(fingerprint), data, ttl); err != nil {
		return err
	}

	if subject := v.User.ExternalID; subject != "" {
		if _, err := r.client.SAdd(ctx, r.subjectKey(subject), fingerprint); err != nil {
			return err
		}
		if _, err := r.client.Expire(ctx, r.subjectKey(subject), r.config.IndexTTL); err != nil {
			return err
		}
	}
	return nil
}

// InvalidateUser implements [auth.VerificationCache]. Every fingerprint
// in the subject's index set is deleted along with the set itself.
// Unknown subjects are a no-op.
func (r *Redis) InvalidateUser(ctx context.Context, subject string) error {
	members, err := r.client.SMembers(ctx, r.subjectKey(subject))
	if err != nil {
		return err
	}

	keys := make([]string, 0, len(members)+1)
	for _, fingerprint := range members {
		keys = append(keys, r.entryKey(fingerprint))
	}
	keys = append(keys, r.subjectKey(subject))

	_, err = r.client.Del(ctx, keys...)
	return err
}

func (r *Redis) entryKey(fingerprint string) string {
	return r.config.KeyPrefix + ":" + fingerprint
}

func (r *Redis) subjectKey(subject string) string {
	return r.config.KeyPrefix + ":subject:" + subject
}
