//go:build integration

// Package containers starts the real backing services the integration
// suites run against: PostgreSQL for the user store and Redis for the
// session and key caches. Both helpers hand back a container handle and
// a ready-to-use connection string; the caller owns termination.
//
// The package carries the "integration" build tag so Docker and the
// testcontainers machinery stay out of unit test builds. Callers must
// carry the same tag.
package containers

import (
	"context"
	"fmt"

	tcpostgres "github.com/testcontainers/testcontainers-go/modules/postgres"
	tcredis "github.com/testcontainers/testcontainers-go/modules/redis"
)

// Container defaults. Alpine images keep pulls small and startup fast;
// the credentials are throwaway values for ephemeral local containers,
// nothing like the Vault-issued ones in a real deployment.
const (
	DefaultPostgresImage    = "docker.io/postgres:16-alpine"
	DefaultPostgresDatabase = "vetgrid_test"
	DefaultPostgresUser     = "testuser"
	DefaultPostgresPassword = "testpassword"

	DefaultRedisImage = "docker.io/redis:7-alpine"
)

// PostgresResult is a started PostgreSQL container plus a URI-format
// connection string for [postgres.Config.URI]. ConnString carries
// sslmode=disable since the mapped localhost port speaks no TLS.
// Terminate the container when done:
//
//	defer result.Container.Terminate(ctx)
type PostgresResult struct {
	Container  *tcpostgres.PostgresContainer
	ConnString string
}

// StartPostgres runs a PostgreSQL 16 container and waits for it to
// accept connections. On any failure after startup, the container is
// terminated before the error returns, so the caller only ever cleans
// up a usable result.
func StartPostgres(ctx context.Context) (*PostgresResult, error) {
	container, err := tcpostgres.Run(ctx,
		DefaultPostgresImage,
		tcpostgres.WithDatabase(DefaultPostgresDatabase),
		tcpostgres.WithUsername(DefaultPostgresUser),
		tcpostgres.WithPassword(DefaultPostgresPassword),
		tcpostgres.BasicWaitStrategies(),
	)
	if err != nil {
		return nil, fmt.Errorf("containers: failed to start postgres container: %w", err)
	}

	connStr, err := container.ConnectionString(ctx, "sslmode=disable")
	if err != nil {
		_ = container.Terminate(ctx)
		return nil, fmt.Errorf("containers: failed to get connection string: %w", err)
	}

	return &PostgresResult{
		Container:  container,
		ConnString: connStr,
	}, nil
}

// RedisResult is a started Redis container plus a redis:// connection
// string for the cache client configuration. Terminate the container
// when done:
//
//	defer result.Container.Terminate(ctx)
type RedisResult struct {
	Container  *tcredis.RedisContainer
	ConnString string
}

// StartRedis runs an unauthenticated Redis 7 container. Same contract
// as [StartPostgres]: a non-nil result is connected and owned by the
// caller.
func StartRedis(ctx context.Context) (*RedisResult, error) {
	container, err := tcredis.Run(ctx, DefaultRedisImage)
	if err != nil {
		return nil, fmt.Errorf("containers: failed to start redis container: %w", err)
	}

	connStr, err := container.ConnectionString(ctx)
	if err != nil {
		_ = container.Terminate(ctx)
		return nil, fmt.Errorf("containers: failed to get redis connection string: %w", err)
	}

	return &RedisResult{
		Container:  container,
		ConnString: connStr,
	}, nil
}
