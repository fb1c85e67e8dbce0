// Package redis provides the Redis client used by the identity core,
// wrapping go-redis with OpenTelemetry tracing, platform error
// classification, and configuration management.
//
// # Role in the Identity Core
//
// Two components sit on this client: the session cache stores verified
// principals keyed by token fingerprint, and the webhook delivery log
// marks processed delivery IDs for replay protection. Both reach Redis
// only through this wrapper so their spans and error codes match the
// rest of the platform.
//
// # Configuration
//
// Create a client with [NewClient] and a [Config]:
//
//	cfg := redis.DefaultConfig()
//	cfg.Password = redis.Secret("my-password")
//	client, err := redis.NewClient(ctx, *cfg)
//	if err != nil {
//	    log.Fatal(err)
//	}
//	defer client.Close()
//
// For testing, inject a mock with [NewFromClient]:
//
//	mock := &mockCmdable{}
//	client := redis.NewFromClient(mock, &redis.Config{DB: 0})
//
// # OpenTelemetry Tracing
//
// Every command opens a span with the standard database semantic
// attributes (db.system, db.redis.database_index, db.statement).
// Statements are truncated to 100 characters before they reach the
// span, which keeps session fingerprints and delivery IDs from leaking
// whole into telemetry.
//
// # Kubernetes Integration
//
// VetGrid deploys the identity core's Redis behind a Kubernetes Service
// at redis.vetgrid-identity.svc.cluster.local:6379. Credentials are
// injected by the External Secrets Operator from Vault.
package redis

import (
	"fmt"
	"net/url"
	"time"
)

// maxStatementTruncateLen caps the length of command statements recorded
// on trace spans. Anything longer is cut so key material and PII cannot
// leak whole into telemetry systems. 100 is intentionally conservative.
const maxStatementTruncateLen = 100

// Connection pool and timeout defaults tuned for the identity core's
// Kubernetes deployment, where Redis sits behind a Service in the same
// namespace and traffic is dominated by small reads on the hot
// verification path.
const (
	// DefaultHost is the Service DNS name for the identity core's
	// Redis, resolving to the ClusterIP in the vetgrid-identity
	// namespace.
	DefaultHost = "redis.vetgrid-identity.svc.cluster.local"

	// DefaultPort is the standard Redis port.
	DefaultPort = 6379

	// DefaultDB is the database index. Redis numbers databases 0-15
	// by default.
	DefaultDB = 0

	// DefaultPoolSize caps the connection pool. Sized for the burst
	// of parallel session lookups the middleware produces without
	// starving Redis of connections.
	DefaultPoolSize = 25

	// DefaultMinIdleConns keeps a few connections warm so a burst of
	// verifications does not pay dial latency.
	DefaultMinIdleConns = 5

	// DefaultMaxRetries bounds per-command retries. Three absorbs
	// transient network blips without hiding a real outage.
	DefaultMaxRetries = 3

	// DefaultDialTimeout bounds new connection establishment.
	DefaultDialTimeout = 10 * time.Second

	// DefaultReadTimeout bounds waiting for a command response.
	DefaultReadTimeout = 5 * time.Second

	// DefaultWriteTimeout bounds writing a command to the connection.
	DefaultWriteTimeout = 5 * time.Second

	// DefaultHealthTimeout bounds a health check ping when the
	// caller's context carries no deadline.
	DefaultHealthTimeout = 5 * time.Second
)

// Secret is a string type that keeps the Redis password out of logs.
// [Secret.String] and [Secret.GoString] return a redacted placeholder;
// [Secret.Value] hands back the real value.
//
// Security: this is defense against accidental leakage through log
// output, error messages, and serialized configuration. It is not
// encryption at rest; secret storage belongs to a secret manager (Vault
// via External Secrets Operator on VetGrid).
type Secret string

// redacted is the placeholder returned by Secret's string methods.
const redacted = "[REDACTED]"

// String returns "[REDACTED]" so the password cannot leak through logs.
func (s Secret) String() string {
	return redacted
}

// GoString returns "[REDACTED]" for fmt.Sprintf("%#v", secret) safety.
func (s Secret) GoString() string {
	return redacted
}

// Value returns the real secret. Do not log, serialize, or store the
// returned string.
func (s Secret) Value() string {
	return string(s)
}

// MarshalText implements encoding.TextMarshaler, emitting "[REDACTED]"
// so the secret never lands in JSON or YAML output.
func (s Secret) MarshalText() ([]byte, error) {
	return []byte(redacted), nil
}

// Config carries the Redis connection settings. Both URI and structured
// forms are supported; a non-empty [Config.URI] wins over the individual
// Host, Port, DB, and Password fields.
//
// On VetGrid these values arrive as environment variables injected by
// the External Secrets Operator; the env struct tags document the
// variable each field answers to.
//
// # URI-Based Configuration
//
//	cfg := &redis.Config{URI: "redis://:password@localhost:6379/0"}
//	client, err := redis.NewClient(ctx, *cfg)
//
// # Structured Configuration
//
//	cfg := redis.DefaultConfig()
//	cfg.Host = "redis.example.com"
//	cfg.Password = redis.Secret("my-password")
//	client, err := redis.NewClient(ctx, *cfg)
type Config struct {
	// URI is a Redis connection string such as
	// "redis://:password@host:6379/0". Both "redis://" and "rediss://"
	// (TLS) schemes are accepted. When set, Host, Port, DB, and
	// Password are ignored.
	// Environment variable: REDIS_URI
	URI string `json:"uri,omitempty" env:"REDIS_URI"`

	// Host is the Redis server hostname or IP address.
	// Default: "redis.vetgrid-identity.svc.cluster.local"
	// Environment variable: REDIS_HOST
	Host string `json:"host,omitempty" env:"REDIS_HOST"`

	// Port is the Redis server port.
	// Default: 6379
	// Environment variable: REDIS_PORT
	Port int `json:"port,omitempty" env:"REDIS_PORT"`

	// DB is the database index (0-15 by default).
	// Default: 0
	// Environment variable: REDIS_DB
	DB int `json:"db" env:"REDIS_DB"`

	// Password is the Redis password, typed as [Secret] so it cannot
	// leak through logging or serialization.
	// Environment variable: REDIS_PASSWORD
	Password Secret `json:"-" env:"REDIS_PASSWORD"`

	// PoolSize caps the number of pooled connections.
	// Default: 25
	// Environment variable: REDIS_POOL_SIZE
	PoolSize int `json:"pool_size,omitempty" env:"REDIS_POOL_SIZE"`

	// MinIdleConns is how many idle connections stay warm in the
	// pool, sparing burst traffic the dial latency.
	// Default: 5
	// Environment variable: REDIS_MIN_IDLE_CONNS
	MinIdleConns int `json:"min_idle_conns,omitempty" env:"REDIS_MIN_IDLE_CONNS"`

	// MaxRetries bounds per-command retries. Use -1 to disable
	// retries entirely.
	// Default: 3
	// Environment variable: REDIS_MAX_RETRIES
	MaxRetries int `json:"max_retries,omitempty" env:"REDIS_MAX_RETRIES"`

	// DialTimeout bounds establishing a new connection.
	// Default: 10s
	// Environment variable: REDIS_DIAL_TIMEOUT
	DialTimeout time.Duration `json:"dial_timeout,omitempty" env:"REDIS_DIAL_TIMEOUT"`

	// ReadTimeout bounds waiting for a command response.
	// Default: 5s
	// Environment variable: REDIS_READ_TIMEOUT
	ReadTimeout time.Duration `json:"read_timeout,omitempty" env:"REDIS_READ_TIMEOUT"`

	// WriteTimeout bounds writing a command to the connection.
	// Default: 5s
	// Environment variable: REDIS_WRITE_TIMEOUT
	WriteTimeout time.Duration `json:"write_timeout,omitempty" env:"REDIS_WRITE_TIMEOUT"`

	// TLSEnabled turns on TLS for the connection. A URI with the
	// "rediss://" scheme enables TLS on its own.
	// Default: false
	// Environment variable: REDIS_TLS_ENABLED
	TLSEnabled bool `json:"tls_enabled,omitempty" env:"REDIS_TLS_ENABLED"`
}

// DefaultConfig returns the settings for the identity core's standard
// Kubernetes deployment. Override fields as needed before handing the
// config to [NewClient].
//
// Default values:
//   - Host: redis.vetgrid-identity.svc.cluster.local
//   - Port: 6379
//   - DB: 0
//   - PoolSize: 25, MinIdleConns: 5
//   - MaxRetries: 3
//   - DialTimeout: 10s, ReadTimeout: 5s, WriteTimeout: 5s
func DefaultConfig() *Config {
	return &Config{
		Host:         DefaultHost,
		Port:         DefaultPort,
		DB:           DefaultDB,
		PoolSize:     DefaultPoolSize,
		MinIdleConns: DefaultMinIdleConns,
		MaxRetries:   DefaultMaxRetries,
		DialTimeout:  DefaultDialTimeout,
		ReadTimeout:  DefaultReadTimeout,
		WriteTimeout: DefaultWriteTimeout,
	}
}

// Validate fills zero-valued pool and timeout fields with defaults and
// rejects invalid values, returning the first problem found.
//
// When [Config.URI] is set the structured fields (Host, Port, DB) are
// not checked, since the URI wins. Pool and timeout defaults apply
// either way.
//
// Validation rules:
//   - URI (if set) must carry the redis:// or rediss:// scheme
//   - Port must fall in 1..65535
//   - PoolSize must be >= 1
//   - MinIdleConns must be >= 0 and must not exceed PoolSize
//   - Duration fields must not be negative
func (c *Config) Validate() error {
	// Pool and timeout defaults apply for both URI and structured forms.
	c.applyDefaults()

	if c.URI != "" {
		// URI form: the string must parse and carry a Redis scheme.
		u, err := url.Parse(c.URI)
		if err != nil {
			return fmt.Errorf("redis: config URI is invalid: %w", err)
		}
		if u.Scheme != "redis" && u.Scheme != "rediss" {
			return fmt.Errorf("redis: config URI scheme must be redis:// or rediss://, got %q", u.Scheme)
		}
		return nil
	}

	// Structured form.
	if c.Host == "" {
		c.Host = DefaultHost
	}
	if c.Port == 0 {
		c.Port = DefaultPort
	}
	if c.Port < 1 || c.Port > 65535 {
		return fmt.Errorf("redis: config port must be between 1 and 65535, got %d", c.Port)
	}
	if c.PoolSize < 1 {
		return fmt.Errorf("redis: config pool_size must be >= 1, got %d", c.PoolSize)
	}
	if c.MinIdleConns < 0 {
		return fmt.Errorf("redis: config min_idle_conns must be >= 0, got %d", c.MinIdleConns)
	}
	if c.PoolSize < c.MinIdleConns {
		return fmt.Errorf("redis: config pool_size (%d) must be >= min_idle_conns (%d)", c.PoolSize, c.MinIdleConns)
	}
	if c.DialTimeout < 0 {
		return fmt.Errorf("redis: config dial_timeout must not be negative, got %v", c.DialTimeout)
	}
	if c.ReadTimeout < 0 {
		return fmt.Errorf("redis: config read_timeout must not be negative, got %v", c.ReadTimeout)
	}
	if c.WriteTimeout < 0 {
		return fmt.Errorf("redis: config write_timeout must not be negative, got %v", c.WriteTimeout)
	}

	return nil
}

// applyDefaults fills zero-valued pool and timeout fields.
func (c *Config) applyDefaults() {
	if c.PoolSize == 0 {
		c.PoolSize = DefaultPoolSize
	}
	if c.MinIdleConns == 0 {
		c.MinIdleConns = DefaultMinIdleConns
	}
	if c.MaxRetries == 0 {
		c.MaxRetries = DefaultMaxRetries
	}
	if c.DialTimeout == 0 {
		c.DialTimeout = DefaultDialTimeout
	}
	if c.ReadTimeout == 0 {
		c.ReadTimeout = DefaultReadTimeout
	}
	if c.WriteTimeout == 0 {
		c.WriteTimeout = DefaultWriteTimeout
	}
}

// truncateStatement cuts a command statement down to
// [maxStatementTruncateLen] runes before it goes on a span, appending
// "..." when something was dropped. Rune-aware so multi-byte UTF-8
// never splits.
func truncateStatement(s string) string {
	runes := []rune(s)
	if len(runes) <= maxStatementTruncateLen {
		return s
	}
	return string(runes[:maxStatementTruncateLen]) + "..."
}
