package redis

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	vgerr "github.com/VetGrid/vetgrid-identity-core/pkg/errors"
)

// tracerName is the OpenTelemetry instrumentation scope for this package,
// following the module-path convention for OTel instrumentation libraries.
const tracerName = "github.com/VetGrid/vetgrid-identity-core/pkg/clients/redis"

// Cmdable is the subset of Redis commands the identity core issues. It is
// satisfied by [*redis.Client] and by mocks, which lets [NewFromClient]
// inject a fake for unit tests that never touch a real server.
//
// The surface is deliberately small: string operations carry session
// entries and webhook delivery markers, and set operations maintain the
// per-subject fingerprint index. Commands nothing in the core issues are
// not part of the contract.
type Cmdable interface {
	// Set stores a string value under key with an optional expiration.
	Set(ctx context.Context, key string, value interface{}, expiration time.Duration) *redis.StatusCmd

	// SetNX stores a value under key only when the key is absent, with an
	// optional expiration.
	SetNX(ctx context.Context, key string, value interface{}, expiration time.Duration) *redis.BoolCmd

	// Get returns the string value stored under key.
	Get(ctx context.Context, key string) *redis.StringCmd

	// Del removes one or more keys.
	Del(ctx context.Context, keys ...string) *redis.IntCmd

	// Expire attaches an expiration to a key.
	Expire(ctx context.Context, key string, expiration time.Duration) *redis.BoolCmd

	// SAdd inserts members into the set stored at key.
	SAdd(ctx context.Context, key string, members ...interface{}) *redis.IntCmd

	// SMembers lists every member of the set stored at key.
	SMembers(ctx context.Context, key string) *redis.StringSliceCmd

	// Ping checks the server connection.
	Ping(ctx context.Context) *redis.StatusCmd

	// Close releases the connection resources.
	Close() error
}

// Compile-time check that the real go-redis client still satisfies the
// narrowed command surface.
var _ Cmdable = (*redis.Client)(nil)

// Client wraps a [Cmdable] (normally [*redis.Client]) and layers
// OpenTelemetry tracing and platform error classification over every
// command. The session cache and the webhook delivery log both talk to
// Redis exclusively through this wrapper, so spans and error codes stay
// uniform across the identity core.
//
// A Client is safe for concurrent use. Create one per Redis instance and
// share it; construct with [NewClient] in production or [NewFromClient]
// in tests.
type Client struct {
	cmdable Cmdable
	config  *Config
	tracer  trace.Tracer
	dbIndex int
}

// NewClient connects to Redis with pooling configured from cfg. The
// configuration is validated first, and connectivity is proven with a
// ping before the client is handed back, so a misconfigured cache fails
// at startup rather than on the first token verification.
//
// Call [Client.Close] when done to release the pool.
//
// Error codes returned:
//   - [vgerr.CodeValidation]: invalid configuration
//   - [vgerr.CodeUnavailableDependency]: cannot reach Redis
//
// Example:
//
//	cfg := redis.DefaultConfig()
//	cfg.Password = redis.Secret(os.Getenv("REDIS_PASSWORD"))
//	client, err := redis.NewClient(ctx, *cfg)
//	if err != nil {
//	    return fmt.Errorf("connecting to redis: %w", err)
//	}
//	defer client.Close()
func NewClient(ctx context.Context, cfg Config) (*Client, error) {
	if err := cfg.Validate(); err != nil {
		return nil, vgerr.Wrap(err, vgerr.CodeValidation,
			"redis: invalid configuration")
	}

	var opts *redis.Options
	if cfg.URI != "" {
		var err error
		opts, err = redis.ParseURL(cfg.URI)
		if err != nil {
			return nil, vgerr.Wrap(err, vgerr.CodeValidation,
				"redis: failed to parse connection URI")
		}
		// Pool settings from cfg win over whatever the URI implies.
		opts.PoolSize = cfg.PoolSize
		opts.MinIdleConns = cfg.MinIdleConns
		opts.MaxRetries = cfg.MaxRetries
		if cfg.DialTimeout > 0 {
			opts.DialTimeout = cfg.DialTimeout
		}
		if cfg.ReadTimeout > 0 {
			opts.ReadTimeout = cfg.ReadTimeout
		}
		if cfg.WriteTimeout > 0 {
			opts.WriteTimeout = cfg.WriteTimeout
		}
	} else {
		opts = &redis.Options{
			Addr:         fmt.Sprintf("%s:%d", cfg.Host, cfg.Port),
			Password:     cfg.Password.Value(),
			DB:           cfg.DB,
			PoolSize:     cfg.PoolSize,
			MinIdleConns: cfg.MinIdleConns,
			MaxRetries:   cfg.MaxRetries,
			DialTimeout:  cfg.DialTimeout,
			ReadTimeout:  cfg.ReadTimeout,
			WriteTimeout: cfg.WriteTimeout,
		}
		if cfg.TLSEnabled {
			opts.TLSConfig = &tls.Config{
				MinVersion: tls.VersionTLS12,
			}
		}
	}

	rdb := redis.NewClient(opts)

	// Prove connectivity before handing the client out.
	if err := rdb.Ping(ctx).Err(); err != nil {
		_ = rdb.Close()
		return nil, vgerr.Wrap(err, vgerr.CodeUnavailableDependency,
			"redis: failed to connect to server")
	}

	dbIndex := cfg.DB
	if cfg.URI != "" {
		dbIndex = opts.DB
	}

	return &Client{
		cmdable: rdb,
		config:  &cfg,
		tracer:  otel.Tracer(tracerName),
		dbIndex: dbIndex,
	}, nil
}

// NewFromClient wraps an existing [Cmdable]. Tests pass a mock here;
// nothing is validated and no ping is issued.
//
// A nil cfg is replaced with a zero-value config.
//
// Example (testing):
//
//	mock := &mockCmdable{}
//	client := redis.NewFromClient(mock, nil)
func NewFromClient(cmdable Cmdable, cfg *Config) *Client {
	if cfg == nil {
		cfg = &Config{}
	}
	return &Client{
		cmdable: cmdable,
		config:  cfg,
		tracer:  otel.Tracer(tracerName),
		dbIndex: cfg.DB,
	}
}

// Set stores a string value under key with an optional expiration. The
// session cache uses this to persist serialized principals keyed by
// token fingerprint, with the TTL carrying the staleness bound.
//
// All errors come back as [*vgerr.Error]:
//   - [vgerr.CodeTimeoutDatabase] when the context deadline expires
//   - [vgerr.CodeInternalDatabase] for every other Redis failure
//
// Example:
//
//	err := client.Set(ctx, "vetgrid:session:"+fingerprint, data, 15*time.Minute)
func (c *Client) Set(ctx context.Context, key string, value interface{}, expiration time.Duration) error {
	ctx, span := c.startSpan(ctx, "Set", fmt.Sprintf("SET %s", key))
	err := c.cmdable.Set(ctx, key, value, expiration).Err()
	finishSpan(span, err)
	if err != nil {
		return wrapError(err, "redis: set failed")
	}
	return nil
}

// SetNX stores a value under key only when the key is absent and reports
// whether the write happened. The webhook delivery log leans on the
// atomicity here: the first worker to mark a delivery ID wins, every
// replay sees false. The expiration applies only on a successful write.
//
// Example:
//
//	first, err := client.SetNX(ctx, "vetgrid:delivery:"+deliveryID, "1", 24*time.Hour)
func (c *Client) SetNX(ctx context.Context, key string, value interface{}, expiration time.Duration) (bool, error) {
	ctx, span := c.startSpan(ctx, "SetNX", fmt.Sprintf("SETNX %s", key))
	val, err := c.cmdable.SetNX(ctx, key, value, expiration).Result()
	finishSpan(span, err)
	if err != nil {
		return false, wrapError(err, "redis: setnx failed")
	}
	return val, nil
}

// Get returns the string value stored under key. A missing key surfaces
// as [redis.Nil] (wrapped); callers that treat absence as a cache miss
// unwrap with errors.Is.
//
// Example:
//
//	val, err := client.Get(ctx, "vetgrid:session:"+fingerprint)
//	if errors.Is(err, redis.Nil) {
//	    // cache miss, fall through to verification
//	}
func (c *Client) Get(ctx context.Context, key string) (string, error) {
	ctx, span := c.startSpan(ctx, "Get", fmt.Sprintf("GET %s", key))
	val, err := c.cmdable.Get(ctx, key).Result()
	finishSpan(span, err)
	if err != nil {
		return "", wrapError(err, "redis: get failed")
	}
	return val, nil
}

// Del removes one or more keys and reports how many existed. Session
// invalidation deletes a subject's fingerprint entries in one call.
//
// Example:
//
//	deleted, err := client.Del(ctx, keys...)
func (c *Client) Del(ctx context.Context, keys ...string) (int64, error) {
	ctx, span := c.startSpan(ctx, "Del", fmt.Sprintf("DEL %v", keys))
	val, err := c.cmdable.Del(ctx, keys...).Result()
	finishSpan(span, err)
	if err != nil {
		return 0, wrapError(err, "redis: del failed")
	}
	return val, nil
}

// Expire attaches an expiration to a key and reports whether the key
// exists. The subject index refreshes its retention this way on every
// session insert.
//
// Example:
//
//	ok, err := client.Expire(ctx, "vetgrid:session:subject:"+subject, time.Hour)
func (c *Client) Expire(ctx context.Context, key string, expiration time.Duration) (bool, error) {
	ctx, span := c.startSpan(ctx, "Expire", fmt.Sprintf("EXPIRE %s %v", key, expiration))
	val, err := c.cmdable.Expire(ctx, key, expiration).Result()
	finishSpan(span, err)
	if err != nil {
		return false, wrapError(err, "redis: expire failed")
	}
	return val, nil
}

// SAdd inserts members into the set stored at key, returning the count
// of members that were not already present. The session cache indexes
// each subject's active fingerprints this way so invalidation can find
// them without a scan.
//
// Example:
//
//	added, err := client.SAdd(ctx, "vetgrid:session:subject:"+subject, fingerprint)
func (c *Client) SAdd(ctx context.Context, key string, members ...interface{}) (int64, error) {
	ctx, span := c.startSpan(ctx, "SAdd", fmt.Sprintf("SADD %s", key))
	val, err := c.cmdable.SAdd(ctx, key, members...).Result()
	finishSpan(span, err)
	if err != nil {
		return 0, wrapError(err, "redis: sadd failed")
	}
	return val, nil
}

// SMembers lists every member of the set stored at key. An absent key
// yields an empty slice, not an error.
//
// Example:
//
//	fingerprints, err := client.SMembers(ctx, "vetgrid:session:subject:"+subject)
func (c *Client) SMembers(ctx context.Context, key string) ([]string, error) {
	ctx, span := c.startSpan(ctx, "SMembers", fmt.Sprintf("SMEMBERS %s", key))
	val, err := c.cmdable.SMembers(ctx, key).Result()
	finishSpan(span, err)
	if err != nil {
		return nil, wrapError(err, "redis: smembers failed")
	}
	return val, nil
}

// Health pings the server to prove the connection is alive, applying
// [DefaultHealthTimeout] when the caller's context has no deadline.
//
// Returns nil when Redis answers, otherwise a [*vgerr.Error] with code
// [vgerr.CodeUnavailableDependency]. Readiness probes call this.
//
// Example:
//
//	if err := client.Health(ctx); err != nil {
//	    log.Warn("redis health check failed", "error", err)
//	}
func (c *Client) Health(ctx context.Context) error {
	ctx, span := c.startSpan(ctx, "Health", "PING")

	// Bound the ping if the caller did not.
	if _, hasDeadline := ctx.Deadline(); !hasDeadline {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, DefaultHealthTimeout)
		defer cancel()
	}

	err := c.cmdable.Ping(ctx).Err()
	finishSpan(span, err)
	if err != nil {
		return vgerr.Wrap(err, vgerr.CodeUnavailableDependency,
			"redis: health check failed")
	}
	return nil
}

// Close releases all connection resources. The client must not be used
// afterwards. Calling Close more than once is safe.
func (c *Client) Close() error {
	return c.cmdable.Close()
}

// Client exposes the underlying [Cmdable] for callers that need a raw
// command the wrapper does not carry. Do not close it directly; use
// [Client.Close].
func (c *Client) Client() Cmdable {
	return c.cmdable
}

// startSpan opens a client span carrying the standard database semantic
// attributes: https://opentelemetry.io/docs/specs/semconv/database/
func (c *Client) startSpan(ctx context.Context, operationName, statement string) (context.Context, trace.Span) {
	ctx, span := c.tracer.Start(ctx, "redis."+operationName,
		trace.WithSpanKind(trace.SpanKindClient),
	)
	span.SetAttributes(
		attribute.String("db.system", "redis"),
		attribute.Int("db.redis.database_index", c.dbIndex),
		attribute.String("db.statement", truncateStatement(statement)),
	)
	return ctx, span
}

// finishSpan records err on the span (status Error) or marks it OK, then
// ends it.
func finishSpan(span trace.Span, err error) {
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	} else {
		span.SetStatus(codes.Ok, "")
	}
	span.End()
}

// wrapError classifies a Redis failure as a platform [*vgerr.Error] so
// callers can make retry decisions through [vgerr.IsTimeout] and
// [vgerr.IsRetryable].
//
// [context.DeadlineExceeded] maps to [vgerr.CodeTimeoutDatabase]
// (retryable). [context.Canceled] maps to [vgerr.CodeInternalDatabase]
// (not retryable): the caller walked away, so retrying does no good.
func wrapError(err error, message string) *vgerr.Error {
	if err == nil {
		return nil
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return vgerr.Wrap(err, vgerr.CodeTimeoutDatabase, message)
	}
	return vgerr.Wrap(err, vgerr.CodeInternalDatabase, message)
}
