// Package postgres provides the PostgreSQL client behind the identity
// core's user store, wrapping pgxpool with OpenTelemetry tracing and
// typed error classification.
//
// # Role in the Identity Core
//
// The user store keeps synchronized copies of identity provider users
// in PostgreSQL. This package owns the connection to that database:
// pooling, TLS, tracing, and the translation of driver errors into
// platform error codes. The method surface matches what the user store
// issues, which is single-row reads, statement execution, and health
// checks. The raw pool behind [Client.Pool] covers anything beyond
// that.
//
// # Connection Management
//
// The client uses pgxpool. The pool replaces failed connections on its
// own and probes idle ones every [Config.HealthCheckPeriod], so callers
// do not retry connection-level failures themselves.
//
// # Configuration
//
//	cfg := postgres.DefaultConfig()
//	cfg.Password = postgres.Secret(os.Getenv("POSTGRES_PASSWORD"))
//	client, err := postgres.NewClient(ctx, *cfg)
//	if err != nil {
//	    return err
//	}
//	defer client.Close()
//
// For tests, [NewFromPool] accepts a pgxmock pool:
//
//	mock, _ := pgxmock.NewPool()
//	client := postgres.NewFromPool(mock, nil)
//
// # OpenTelemetry Tracing
//
// Every operation opens a client span carrying db.system, db.name, and
// db.statement attributes. Statements are truncated before they land on
// a span so parameter-adjacent values cannot leak whole into telemetry.
//
// # Kubernetes Integration
//
// On VetGrid the identity store's PostgreSQL runs behind a Service at
// postgres.vetgrid-identity.svc.cluster.local:5432, with credentials
// injected by the External Secrets Operator from Vault. Linkerd carries
// mTLS on the wire via the opaque port annotation
// (config.linkerd.io/opaque-ports: "5432"). Managed databases outside
// the mesh use [SSLModeVerifyCA] or [SSLModeVerifyFull] with
// [Config.SSLRootCert] instead.
package postgres

import (
	"context"
	"errors"
	"net/url"
	"strings"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	vgerr "github.com/VetGrid/vetgrid-identity-core/pkg/errors"
)

// tracerName is the OpenTelemetry instrumentation scope for this
// package, following the module path convention.
const tracerName = "github.com/VetGrid/vetgrid-identity-core/pkg/clients/postgres"

// Pool is the slice of the pgx v5 pool API the user store relies on.
// [*pgxpool.Pool] satisfies it without adaptation, and so does pgxmock,
// which is what [NewFromPool] exists for.
type Pool interface {
	// QueryRow executes a query expected to return at most one row.
	// Errors are deferred until the returned pgx.Row is scanned.
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row

	// Exec executes a statement that returns no rows (INSERT, UPDATE,
	// DELETE, DDL).
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)

	// Ping verifies the database connection is alive.
	Ping(ctx context.Context) error

	// Close releases all pool resources.
	Close()
}

var _ Pool = (*pgxpool.Pool)(nil)

// Client wraps a [Pool] with tracing and error classification. Safe for
// concurrent use; create one per database and share it.
//
// Use [NewClient] in production and [NewFromPool] in tests.
type Client struct {
	pool         Pool
	config       *Config
	tracer       trace.Tracer
	databaseName string
}

// NewClient validates cfg, establishes the connection pool, wires TLS
// when a custom CA is configured, and verifies connectivity with a
// ping. Call [Client.Close] when done.
//
// Error codes returned:
//   - [vgerr.CodeValidation]: invalid configuration
//   - [vgerr.CodeInternalConfiguration]: TLS setup failure
//   - [vgerr.CodeUnavailableDependency]: database unreachable
func NewClient(ctx context.Context, cfg Config) (*Client, error) {
	if err := cfg.Validate(); err != nil {
		return nil, vgerr.Wrap(err, vgerr.CodeValidation,
			"postgres: invalid configuration")
	}

	poolCfg, err := pgxpool.ParseConfig(cfg.ConnectionString())
	if err != nil {
		return nil, vgerr.Wrap(err, vgerr.CodeValidation,
			"postgres: failed to parse connection string")
	}

	poolCfg.MaxConns = cfg.MaxConns
	poolCfg.MinConns = cfg.MinConns
	poolCfg.MaxConnLifetime = cfg.MaxConnLifetime
	poolCfg.MaxConnIdleTime = cfg.MaxConnIdleTime
	poolCfg.HealthCheckPeriod = cfg.HealthCheckPeriod

	tlsCfg, err := cfg.tlsConfig()
	if err != nil {
		return nil, vgerr.Wrap(err, vgerr.CodeInternalConfiguration,
			"postgres: failed to configure TLS")
	}
	if tlsCfg != nil {
		poolCfg.ConnConfig.TLSConfig = tlsCfg
	}

	pool, err := pgxpool.NewWithConfig(ctx, poolCfg)
	if err != nil {
		return nil, vgerr.Wrap(err, vgerr.CodeUnavailableDependency,
			"postgres: failed to create connection pool")
	}

	// Fail construction, not the first query, when the database is down.
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, vgerr.Wrap(err, vgerr.CodeUnavailableDependency,
			"postgres: failed to connect to database")
	}

	// The db.name span attribute comes from the URI path when the URI
	// form is in use.
	dbName := cfg.Database
	if cfg.URI != "" {
		if u, parseErr := url.Parse(cfg.URI); parseErr == nil {
			dbName = strings.TrimPrefix(u.Path, "/")
		}
	}

	return &Client{
		pool:         pool,
		config:       &cfg,
		tracer:       otel.Tracer(tracerName),
		databaseName: dbName,
	}, nil
}

// NewFromPool builds a Client on an existing [Pool], typically a
// pgxmock pool in tests. The cfg is stored without validation; nil
// means a zero-value Config.
func NewFromPool(pool Pool, cfg *Config) *Client {
	if cfg == nil {
		cfg = &Config{}
	}
	return &Client{
		pool:         pool,
		config:       cfg,
		tracer:       otel.Tracer(tracerName),
		databaseName: cfg.Database,
	}
}

// QueryRow executes a single-row query with tracing. The returned
// [pgx.Row] is never nil; pgx defers errors until Scan, so the span
// covers query execution only and scan-time errors belong to the
// caller.
//
//	row := client.QueryRow(ctx, "SELECT role FROM users WHERE external_id = $1", extID)
//	if err := row.Scan(&role); errors.Is(err, pgx.ErrNoRows) {
//	    // unknown user
//	}
func (c *Client) QueryRow(ctx context.Context, sql string, args ...any) pgx.Row {
	ctx, span := c.startSpan(ctx, "QueryRow", sql)
	defer span.End()

	return c.pool.QueryRow(ctx, sql, args...)
}

// Exec executes a statement that returns no rows, with tracing. The
// command tag reports rows affected, which the user store's guarded
// updates use to tell a stale write from an applied one.
//
// Errors come back as [*vgerr.Error]:
//   - [vgerr.CodeTimeoutDatabase] when the context deadline expired
//   - [vgerr.CodeInternalDatabase] for everything else
func (c *Client) Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error) {
	ctx, span := c.startSpan(ctx, "Exec", sql)

	tag, err := c.pool.Exec(ctx, sql, args...)
	finishSpan(span, err)
	if err != nil {
		return tag, wrapError(err, "postgres: exec failed")
	}
	return tag, nil
}

// Health pings the database, applying [DefaultHealthTimeout] when the
// caller's context carries no deadline. A failure comes back as
// [vgerr.CodeUnavailableDependency], which readiness probes report
// as-is.
func (c *Client) Health(ctx context.Context) error {
	ctx, span := c.startSpan(ctx, "Health", "SELECT 1")

	if _, hasDeadline := ctx.Deadline(); !hasDeadline {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, DefaultHealthTimeout)
		defer cancel()
	}

	err := c.pool.Ping(ctx)
	finishSpan(span, err)
	if err != nil {
		return vgerr.Wrap(err, vgerr.CodeUnavailableDependency,
			"postgres: health check failed")
	}
	return nil
}

// Close releases the connection pool. Safe to call more than once. In-
// flight queries should finish or be canceled first, since the pool
// waits for acquired connections on the way down.
func (c *Client) Close() {
	c.pool.Close()
}

// Pool exposes the underlying [Pool] for operations the wrapped surface
// does not cover. Close through [Client.Close], not the pool.
func (c *Client) Pool() Pool {
	return c.pool
}

// startSpan opens a client span with the database semantic attributes.
// https://opentelemetry.io/docs/specs/semconv/database/
func (c *Client) startSpan(ctx context.Context, operationName, sql string) (context.Context, trace.Span) {
	ctx, span := c.tracer.Start(ctx, "postgres."+operationName,
		trace.WithSpanKind(trace.SpanKindClient),
	)
	span.SetAttributes(
		attribute.String("db.system", "postgresql"),
		attribute.String("db.name", c.databaseName),
		attribute.String("db.statement", truncateSQL(sql)),
	)
	return ctx, span
}

// finishSpan records err on the span if set, fixes the span status, and
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

// wrapError classifies a driver error as a platform [*vgerr.Error].
// [context.DeadlineExceeded] maps to [vgerr.CodeTimeoutDatabase], which
// is retryable. [context.Canceled] maps to [vgerr.CodeInternalDatabase]
// like any other failure: the caller walked away, so retrying does no
// good.
func wrapError(err error, message string) *vgerr.Error {
	if err == nil {
		return nil
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return vgerr.Wrap(err, vgerr.CodeTimeoutDatabase, message)
	}
	return vgerr.Wrap(err, vgerr.CodeInternalDatabase, message)
}
