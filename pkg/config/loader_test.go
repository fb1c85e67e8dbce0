package config

import (
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	vgerr "github.com/VetGrid/vetgrid-identity-core/pkg/errors"
)

// ===========================================================================
// Test Types
// ===========================================================================

// testSecret mimics auth.Secret: a named string type whose String()
// redacts the value. Declared locally so the loader tests do not import
// the auth package.
type testSecret string

func (s testSecret) String() string { return "[REDACTED]" }
func (s testSecret) Value() string  { return string(s) }

// endpointConfig exercises the four scalar kinds the identity core's
// real configs are built from.
type endpointConfig struct {
	Issuer    string        `env:"ISSUER" envDefault:"https://accounts.vetgrid.example" yaml:"issuer" json:"issuer"`
	CacheSize int           `env:"CACHE_SIZE" envDefault:"10000" yaml:"cache_size" json:"cache_size"`
	Strict    bool          `env:"STRICT" envDefault:"false" yaml:"strict" json:"strict"`
	ClockSkew time.Duration `env:"CLOCK_SKEW" envDefault:"30s" yaml:"clock_skew" json:"clock_skew"`
}

type requiredConfig struct {
	Audience  string `env:"AUDIENCE" required:"true"`
	CacheSize int    `env:"CACHE_SIZE"`
}

type signingConfig struct {
	Issuer string     `env:"ISSUER"`
	Secret testSecret `env:"WEBHOOK_SECRET"`
}

type serviceConfig struct {
	Service string           `env:"SERVICE"`
	Keyring keyringSubConfig `env:"KEYRING"`
}

type keyringSubConfig struct {
	URL     string     `env:"URL" yaml:"url" json:"url"`
	Retries int        `env:"RETRIES" yaml:"retries" json:"retries"`
	Secret  testSecret `env:"SECRET"`
}

type audienceConfig struct {
	Audiences []string `env:"AUDIENCES" envDefault:"vetgrid-api,vetgrid-admin,vetgrid-portal"`
}

type sweepConfig struct {
	BatchSize int32 `env:"SWEEP_BATCH" envDefault:"500"`
}

type ttlConfig struct {
	Issuer string        `env:"ISSUER"`
	TTL    time.Duration `env:"TTL"`
}

func (c *ttlConfig) Validate() error {
	if c.TTL < 0 || c.TTL > 15*time.Minute {
		return vgerr.Newf(vgerr.CodeValidation,
			"config: ttl %s is out of range [0, 15m]", c.TTL)
	}
	return nil
}

type labelConfig struct {
	Label string `env:"LABEL"`
}

func (c *labelConfig) Validate() error {
	if c.Label == "" {
		return errors.New("label is required")
	}
	return nil
}

type nestedRequiredConfig struct {
	Service string                `env:"SERVICE"`
	Keyring nestedRequiredKeyring `env:"KEYRING"`
}

type nestedRequiredKeyring struct {
	URL string `env:"URL" required:"true"`
}

// writeConfigFile drops content into the test's temp directory and
// returns the path, failing the test on a write error.
func writeConfigFile(t *testing.T, name, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatalf("writeConfigFile() error: %v", err)
	}
	return path
}

// ===========================================================================
// Builder
// ===========================================================================

// TestNew_ReturnsNonNilLoader verifies that New returns a usable Loader.
func TestNew_ReturnsNonNilLoader(t *testing.T) {
	if New() == nil {
		t.Fatal("New() = nil, want non-nil Loader")
	}
}

// TestLoader_WithEnvPrefix_Chaining verifies WithEnvPrefix returns the
// receiver so calls chain.
func TestLoader_WithEnvPrefix_Chaining(t *testing.T) {
	l := New()
	if l.WithEnvPrefix("GATEWAY") != l {
		t.Error("WithEnvPrefix() did not return the same Loader")
	}
}

// TestLoader_WithFile_Chaining verifies WithFile returns the receiver
// so calls chain.
func TestLoader_WithFile_Chaining(t *testing.T) {
	l := New()
	if l.WithFile("identity.yaml") != l {
		t.Error("WithFile() did not return the same Loader")
	}
}

// ===========================================================================
// Input validation
// ===========================================================================

// TestLoader_Load_NilPointer verifies a nil pointer is rejected.
func TestLoader_Load_NilPointer(t *testing.T) {
	err := New().Load((*endpointConfig)(nil))
	if err == nil {
		t.Fatal("Load(nil) expected error, got nil")
	}
	if !vgerr.IsInternal(err) {
		t.Errorf("IsInternal() = false, want true for nil pointer")
	}
}

// TestLoader_Load_NonPointer verifies a struct value (not a pointer) is
// rejected.
func TestLoader_Load_NonPointer(t *testing.T) {
	err := New().Load(endpointConfig{})
	if err == nil {
		t.Fatal("Load(struct) expected error, got nil")
	}
	if !vgerr.IsInternal(err) {
		t.Errorf("IsInternal() = false, want true for non-pointer")
	}
}

// TestLoader_Load_PointerToNonStruct verifies a pointer to a non-struct
// is rejected.
func TestLoader_Load_PointerToNonStruct(t *testing.T) {
	n := 42
	err := New().Load(&n)
	if err == nil {
		t.Fatal("Load(*int) expected error, got nil")
	}
	if !vgerr.IsInternal(err) {
		t.Errorf("IsInternal() = false, want true for non-struct pointer")
	}
}

// ===========================================================================
// Defaults
// ===========================================================================

// TestLoader_Load_Defaults_Applied verifies envDefault fills zero-valued
// string, int, bool, and Duration fields.
func TestLoader_Load_Defaults_Applied(t *testing.T) {
	var cfg endpointConfig
	if err := New().Load(&cfg); err != nil {
		t.Fatalf("Load() error: %v", err)
	}

	if cfg.Issuer != "https://accounts.vetgrid.example" {
		t.Errorf("Issuer = %q, want %q", cfg.Issuer, "https://accounts.vetgrid.example")
	}
	if cfg.CacheSize != 10000 {
		t.Errorf("CacheSize = %d, want %d", cfg.CacheSize, 10000)
	}
	if cfg.Strict != false {
		t.Errorf("Strict = %v, want false", cfg.Strict)
	}
	if cfg.ClockSkew != 30*time.Second {
		t.Errorf("ClockSkew = %v, want %v", cfg.ClockSkew, 30*time.Second)
	}
}

// TestLoader_Load_Defaults_NotOverwriteExisting verifies envDefault
// leaves pre-populated fields alone.
func TestLoader_Load_Defaults_NotOverwriteExisting(t *testing.T) {
	cfg := endpointConfig{Issuer: "https://staging.vetgrid.example", CacheSize: 250}
	if err := New().Load(&cfg); err != nil {
		t.Fatalf("Load() error: %v", err)
	}

	if cfg.Issuer != "https://staging.vetgrid.example" {
		t.Errorf("Issuer = %q, want the pre-set value back", cfg.Issuer)
	}
	if cfg.CacheSize != 250 {
		t.Errorf("CacheSize = %d, want the pre-set 250 back", cfg.CacheSize)
	}
}

// TestLoader_Load_Defaults_Slice verifies a comma-separated envDefault
// populates a string slice.
func TestLoader_Load_Defaults_Slice(t *testing.T) {
	var cfg audienceConfig
	if err := New().Load(&cfg); err != nil {
		t.Fatalf("Load() error: %v", err)
	}

	want := []string{"vetgrid-api", "vetgrid-admin", "vetgrid-portal"}
	if len(cfg.Audiences) != len(want) {
		t.Fatalf("Audiences length = %d, want %d", len(cfg.Audiences), len(want))
	}
	for i := range want {
		if cfg.Audiences[i] != want[i] {
			t.Errorf("Audiences[%d] = %q, want %q", i, cfg.Audiences[i], want[i])
		}
	}
}

// TestLoader_Load_Defaults_Int32 verifies int32 fields parse from
// envDefault.
func TestLoader_Load_Defaults_Int32(t *testing.T) {
	var cfg sweepConfig
	if err := New().Load(&cfg); err != nil {
		t.Fatalf("Load() error: %v", err)
	}

	if cfg.BatchSize != 500 {
		t.Errorf("BatchSize = %d, want 500", cfg.BatchSize)
	}
}

// ===========================================================================
// YAML files
// ===========================================================================

// TestLoader_Load_YAMLFile verifies values load from a YAML file.
func TestLoader_Load_YAMLFile(t *testing.T) {
	path := writeConfigFile(t, "identity.yaml", `
issuer: https://file.vetgrid.example
cache_size: 2048
strict: true
clock_skew: 10s
`)

	var cfg endpointConfig
	if err := New().WithFile(path).Load(&cfg); err != nil {
		t.Fatalf("Load() error: %v", err)
	}

	if cfg.Issuer != "https://file.vetgrid.example" {
		t.Errorf("Issuer = %q, want %q", cfg.Issuer, "https://file.vetgrid.example")
	}
	if cfg.CacheSize != 2048 {
		t.Errorf("CacheSize = %d, want %d", cfg.CacheSize, 2048)
	}
	if cfg.Strict != true {
		t.Errorf("Strict = %v, want true", cfg.Strict)
	}
	if cfg.ClockSkew != 10*time.Second {
		t.Errorf("ClockSkew = %v, want %v", cfg.ClockSkew, 10*time.Second)
	}
}

// TestLoader_Load_YAMLFile_OverridesDefaults verifies file values beat
// envDefault values.
func TestLoader_Load_YAMLFile_OverridesDefaults(t *testing.T) {
	path := writeConfigFile(t, "identity.yaml", `
issuer: https://override.vetgrid.example
cache_size: 64
`)

	var cfg endpointConfig
	if err := New().WithFile(path).Load(&cfg); err != nil {
		t.Fatalf("Load() error: %v", err)
	}

	if cfg.Issuer != "https://override.vetgrid.example" {
		t.Errorf("Issuer = %q, want the file value (file beats default)", cfg.Issuer)
	}
	if cfg.CacheSize != 64 {
		t.Errorf("CacheSize = %d, want 64 (file beats default)", cfg.CacheSize)
	}
}

// TestLoader_Load_MissingFile_NoError verifies a missing config file is
// not an error; the file layer is optional.
func TestLoader_Load_MissingFile_NoError(t *testing.T) {
	var cfg endpointConfig
	err := New().WithFile("/nonexistent/path/identity.yaml").Load(&cfg)
	if err != nil {
		t.Fatalf("Load() with missing file error: %v (expected nil)", err)
	}

	// Defaults still apply.
	if cfg.Issuer != "https://accounts.vetgrid.example" {
		t.Errorf("Issuer = %q, want the default back", cfg.Issuer)
	}
}

// TestLoader_Load_YMLExtension verifies the .yml spelling works too.
func TestLoader_Load_YMLExtension(t *testing.T) {
	path := writeConfigFile(t, "identity.yml", `
issuer: https://yml.vetgrid.example
`)

	var cfg endpointConfig
	if err := New().WithFile(path).Load(&cfg); err != nil {
		t.Fatalf("Load() with .yml error: %v", err)
	}

	if cfg.Issuer != "https://yml.vetgrid.example" {
		t.Errorf("Issuer = %q, want %q", cfg.Issuer, "https://yml.vetgrid.example")
	}
}

// ===========================================================================
// JSON files
// ===========================================================================

// TestLoader_Load_JSONFile verifies values load from a JSON file.
func TestLoader_Load_JSONFile(t *testing.T) {
	path := writeConfigFile(t, "identity.json", `{
  "issuer": "https://json.vetgrid.example",
  "cache_size": 4096,
  "strict": true
}`)

	var cfg endpointConfig
	if err := New().WithFile(path).Load(&cfg); err != nil {
		t.Fatalf("Load() error: %v", err)
	}

	if cfg.Issuer != "https://json.vetgrid.example" {
		t.Errorf("Issuer = %q, want %q", cfg.Issuer, "https://json.vetgrid.example")
	}
	if cfg.CacheSize != 4096 {
		t.Errorf("CacheSize = %d, want %d", cfg.CacheSize, 4096)
	}
}

// TestLoader_Load_UnsupportedExtension verifies an unrecognized config
// format is reported as a configuration error.
func TestLoader_Load_UnsupportedExtension(t *testing.T) {
	path := writeConfigFile(t, "identity.toml", `issuer = "test"`)

	var cfg endpointConfig
	err := New().WithFile(path).Load(&cfg)
	if err == nil {
		t.Fatal("Load() with .toml expected error, got nil")
	}
	if !vgerr.IsInternal(err) {
		t.Errorf("IsInternal() = false, want true for unsupported extension")
	}
}

// ===========================================================================
// File safety
// ===========================================================================

// TestLoader_Load_DirectoryTraversal verifies paths with traversal
// sequences are rejected before any read.
func TestLoader_Load_DirectoryTraversal(t *testing.T) {
	var cfg endpointConfig
	err := New().WithFile("../../../etc/passwd").Load(&cfg)
	if err == nil {
		t.Fatal("Load() with directory traversal expected error, got nil")
	}
	if !vgerr.IsInternal(err) {
		t.Errorf("IsInternal() = false, want true for directory traversal")
	}
}

// ===========================================================================
// Environment variables
// ===========================================================================

// TestLoader_Load_EnvOverridesFile verifies env beats file.
func TestLoader_Load_EnvOverridesFile(t *testing.T) {
	path := writeConfigFile(t, "identity.yaml", `
issuer: https://file.vetgrid.example
cache_size: 2048
`)

	t.Setenv("ISSUER", "https://env.vetgrid.example")
	t.Setenv("CACHE_SIZE", "8192")

	var cfg endpointConfig
	if err := New().WithFile(path).Load(&cfg); err != nil {
		t.Fatalf("Load() error: %v", err)
	}

	if cfg.Issuer != "https://env.vetgrid.example" {
		t.Errorf("Issuer = %q, want the env value (env beats file)", cfg.Issuer)
	}
	if cfg.CacheSize != 8192 {
		t.Errorf("CacheSize = %d, want 8192 (env beats file)", cfg.CacheSize)
	}
}

// TestLoader_Load_EnvOverridesDefault verifies env beats envDefault.
func TestLoader_Load_EnvOverridesDefault(t *testing.T) {
	t.Setenv("ISSUER", "https://env-only.vetgrid.example")

	var cfg endpointConfig
	if err := New().Load(&cfg); err != nil {
		t.Fatalf("Load() error: %v", err)
	}

	if cfg.Issuer != "https://env-only.vetgrid.example" {
		t.Errorf("Issuer = %q, want the env value (env beats default)", cfg.Issuer)
	}
}

// TestLoader_Load_EnvPrefix verifies WithEnvPrefix prepends the prefix
// on every lookup.
func TestLoader_Load_EnvPrefix(t *testing.T) {
	t.Setenv("GATEWAY_ISSUER", "https://prefixed.vetgrid.example")
	t.Setenv("GATEWAY_CACHE_SIZE", "777")

	var cfg endpointConfig
	if err := New().WithEnvPrefix("GATEWAY").Load(&cfg); err != nil {
		t.Fatalf("Load() error: %v", err)
	}

	if cfg.Issuer != "https://prefixed.vetgrid.example" {
		t.Errorf("Issuer = %q, want %q", cfg.Issuer, "https://prefixed.vetgrid.example")
	}
	if cfg.CacheSize != 777 {
		t.Errorf("CacheSize = %d, want %d", cfg.CacheSize, 777)
	}
}

// TestLoader_Load_EnvPrefix_UppercaseNormalization verifies a lowercase
// prefix is uppercased before lookup.
func TestLoader_Load_EnvPrefix_UppercaseNormalization(t *testing.T) {
	t.Setenv("GATEWAY_ISSUER", "https://upper.vetgrid.example")

	var cfg endpointConfig
	if err := New().WithEnvPrefix("gateway").Load(&cfg); err != nil {
		t.Fatalf("Load() error: %v", err)
	}

	if cfg.Issuer != "https://upper.vetgrid.example" {
		t.Errorf("Issuer = %q, want %q (prefix should be uppercased)",
			cfg.Issuer, "https://upper.vetgrid.example")
	}
}

// TestLoader_Load_EnvNotSet_KeepsFileValue verifies an unset variable
// does not clear the file layer's value.
func TestLoader_Load_EnvNotSet_KeepsFileValue(t *testing.T) {
	path := writeConfigFile(t, "identity.yaml", `
issuer: https://file.vetgrid.example
`)

	// ISSUER deliberately not set.

	var cfg endpointConfig
	if err := New().WithFile(path).Load(&cfg); err != nil {
		t.Fatalf("Load() error: %v", err)
	}

	if cfg.Issuer != "https://file.vetgrid.example" {
		t.Errorf("Issuer = %q, want the file value (unset env must not clear it)",
			cfg.Issuer)
	}
}

// ===========================================================================
// Type parsing
// ===========================================================================

// TestLoader_Load_Types runs one case per supported field kind, parsed
// from an environment variable.
func TestLoader_Load_Types(t *testing.T) {
	tests := []struct {
		name    string
		envKey  string
		envVal  string
		loadCfg func(t *testing.T) error
	}{
		{
			name:   "string",
			envKey: "ISSUER",
			envVal: "https://types.vetgrid.example",
			loadCfg: func(t *testing.T) error {
				var cfg endpointConfig
				err := New().Load(&cfg)
				if err == nil && cfg.Issuer != "https://types.vetgrid.example" {
					t.Errorf("Issuer = %q, want %q", cfg.Issuer, "https://types.vetgrid.example")
				}
				return err
			},
		},
		{
			name:   "int",
			envKey: "CACHE_SIZE",
			envVal: "1234",
			loadCfg: func(t *testing.T) error {
				var cfg endpointConfig
				err := New().Load(&cfg)
				if err == nil && cfg.CacheSize != 1234 {
					t.Errorf("CacheSize = %d, want %d", cfg.CacheSize, 1234)
				}
				return err
			},
		},
		{
			name:   "int32",
			envKey: "SWEEP_BATCH",
			envVal: "50",
			loadCfg: func(t *testing.T) error {
				var cfg sweepConfig
				err := New().Load(&cfg)
				if err == nil && cfg.BatchSize != 50 {
					t.Errorf("BatchSize = %d, want %d", cfg.BatchSize, 50)
				}
				return err
			},
		},
		{
			name:   "bool_true",
			envKey: "STRICT",
			envVal: "true",
			loadCfg: func(t *testing.T) error {
				var cfg endpointConfig
				err := New().Load(&cfg)
				if err == nil && !cfg.Strict {
					t.Error("Strict = false, want true")
				}
				return err
			},
		},
		{
			name:   "bool_1",
			envKey: "STRICT",
			envVal: "1",
			loadCfg: func(t *testing.T) error {
				var cfg endpointConfig
				err := New().Load(&cfg)
				if err == nil && !cfg.Strict {
					t.Error("Strict = false, want true (from '1')")
				}
				return err
			},
		},
		{
			name:   "duration",
			envKey: "CLOCK_SKEW",
			envVal: "1m30s",
			loadCfg: func(t *testing.T) error {
				var cfg endpointConfig
				err := New().Load(&cfg)
				if err == nil && cfg.ClockSkew != 90*time.Second {
					t.Errorf("ClockSkew = %v, want %v", cfg.ClockSkew, 90*time.Second)
				}
				return err
			},
		},
		{
			name:   "slice",
			envKey: "AUDIENCES",
			envVal: "api, admin, portal",
			loadCfg: func(t *testing.T) error {
				var cfg audienceConfig
				err := New().Load(&cfg)
				if err == nil {
					want := []string{"api", "admin", "portal"}
					if len(cfg.Audiences) != len(want) {
						t.Fatalf("Audiences length = %d, want %d", len(cfg.Audiences), len(want))
					}
					for i := range want {
						if cfg.Audiences[i] != want[i] {
							t.Errorf("Audiences[%d] = %q, want %q", i, cfg.Audiences[i], want[i])
						}
					}
				}
				return err
			},
		},
		{
			name:   "named_string_secret",
			envKey: "WEBHOOK_SECRET",
			envVal: "whsec_parse",
			loadCfg: func(t *testing.T) error {
				var cfg signingConfig
				err := New().Load(&cfg)
				if err == nil {
					if cfg.Secret.Value() != "whsec_parse" {
						t.Errorf("Secret.Value() = %q, want %q", cfg.Secret.Value(), "whsec_parse")
					}
					if cfg.Secret.String() != "[REDACTED]" {
						t.Errorf("Secret.String() = %q, want %q", cfg.Secret.String(), "[REDACTED]")
					}
				}
				return err
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Setenv(tt.envKey, tt.envVal)
			if err := tt.loadCfg(t); err != nil {
				t.Fatalf("Load() error: %v", err)
			}
		})
	}
}

// ===========================================================================
// Secret fields
// ===========================================================================

// TestLoader_Load_SecretFromEnv verifies named string types are set from
// the environment with Value() returning the material and String()
// staying redacted.
func TestLoader_Load_SecretFromEnv(t *testing.T) {
	t.Setenv("WEBHOOK_SECRET", "whsec_f00d")

	var cfg signingConfig
	if err := New().Load(&cfg); err != nil {
		t.Fatalf("Load() error: %v", err)
	}

	if cfg.Secret.Value() != "whsec_f00d" {
		t.Errorf("Secret.Value() = %q, want %q", cfg.Secret.Value(), "whsec_f00d")
	}
	if cfg.Secret.String() != "[REDACTED]" {
		t.Errorf("Secret.String() = %q, want %q", cfg.Secret.String(), "[REDACTED]")
	}
}

// ===========================================================================
// Nested structs
// ===========================================================================

// TestLoader_Load_NestedStruct_Env verifies nested fields resolve with
// the parent's env tag as their prefix.
func TestLoader_Load_NestedStruct_Env(t *testing.T) {
	t.Setenv("SERVICE", "identity-core")
	t.Setenv("KEYRING_URL", "https://keys.vetgrid.example/jwks.json")
	t.Setenv("KEYRING_RETRIES", "3")
	t.Setenv("KEYRING_SECRET", "ring-secret")

	var cfg serviceConfig
	if err := New().Load(&cfg); err != nil {
		t.Fatalf("Load() error: %v", err)
	}

	if cfg.Service != "identity-core" {
		t.Errorf("Service = %q, want %q", cfg.Service, "identity-core")
	}
	if cfg.Keyring.URL != "https://keys.vetgrid.example/jwks.json" {
		t.Errorf("Keyring.URL = %q, want %q",
			cfg.Keyring.URL, "https://keys.vetgrid.example/jwks.json")
	}
	if cfg.Keyring.Retries != 3 {
		t.Errorf("Keyring.Retries = %d, want %d", cfg.Keyring.Retries, 3)
	}
	if cfg.Keyring.Secret.Value() != "ring-secret" {
		t.Errorf("Keyring.Secret.Value() = %q, want %q",
			cfg.Keyring.Secret.Value(), "ring-secret")
	}
}

// TestLoader_Load_NestedStruct_WithPrefix verifies the global prefix
// stacks in front of the nested prefix.
func TestLoader_Load_NestedStruct_WithPrefix(t *testing.T) {
	t.Setenv("GATEWAY_KEYRING_URL", "https://stacked.vetgrid.example/jwks.json")
	t.Setenv("GATEWAY_KEYRING_RETRIES", "7")

	var cfg serviceConfig
	if err := New().WithEnvPrefix("GATEWAY").Load(&cfg); err != nil {
		t.Fatalf("Load() error: %v", err)
	}

	if cfg.Keyring.URL != "https://stacked.vetgrid.example/jwks.json" {
		t.Errorf("Keyring.URL = %q, want %q",
			cfg.Keyring.URL, "https://stacked.vetgrid.example/jwks.json")
	}
	if cfg.Keyring.Retries != 7 {
		t.Errorf("Keyring.Retries = %d, want %d", cfg.Keyring.Retries, 7)
	}
}

// TestLoader_Load_NestedStruct_File verifies nested fields load from a
// nested YAML mapping. The YAML keys follow the child's yaml tags; the
// parent key follows the Go field name.
func TestLoader_Load_NestedStruct_File(t *testing.T) {
	path := writeConfigFile(t, "identity.yaml", `
service: identity-core
keyring:
  url: https://yaml.vetgrid.example/jwks.json
  retries: 5
`)

	var cfg serviceConfig
	if err := New().WithFile(path).Load(&cfg); err != nil {
		t.Fatalf("Load() error: %v", err)
	}

	if cfg.Service != "identity-core" {
		t.Errorf("Service = %q, want %q", cfg.Service, "identity-core")
	}
	if cfg.Keyring.URL != "https://yaml.vetgrid.example/jwks.json" {
		t.Errorf("Keyring.URL = %q, want %q",
			cfg.Keyring.URL, "https://yaml.vetgrid.example/jwks.json")
	}
	if cfg.Keyring.Retries != 5 {
		t.Errorf("Keyring.Retries = %d, want %d", cfg.Keyring.Retries, 5)
	}
}

// ===========================================================================
// Required fields
// ===========================================================================

// TestLoader_Load_RequiredField_Set verifies a populated required field
// passes.
func TestLoader_Load_RequiredField_Set(t *testing.T) {
	t.Setenv("AUDIENCE", "vetgrid-api")

	var cfg requiredConfig
	if err := New().Load(&cfg); err != nil {
		t.Fatalf("Load() error: %v", err)
	}

	if cfg.Audience != "vetgrid-api" {
		t.Errorf("Audience = %q, want %q", cfg.Audience, "vetgrid-api")
	}
}

// TestLoader_Load_RequiredField_Missing verifies a zero-valued required
// field fails with CodeValidationRequired.
func TestLoader_Load_RequiredField_Missing(t *testing.T) {
	var cfg requiredConfig
	err := New().Load(&cfg)
	if err == nil {
		t.Fatal("Load() expected error for missing required field, got nil")
	}

	var vgErr *vgerr.Error
	if !errors.As(err, &vgErr) {
		t.Fatalf("error type = %T, want *vgerr.Error", err)
	}
	if vgErr.Code != vgerr.CodeValidationRequired {
		t.Errorf("error code = %q, want %q", vgErr.Code, vgerr.CodeValidationRequired)
	}
}

// TestLoader_Load_RequiredField_ErrorIsValidation verifies the missing
// required error classifies as validation.
func TestLoader_Load_RequiredField_ErrorIsValidation(t *testing.T) {
	var cfg requiredConfig
	err := New().Load(&cfg)
	if err == nil {
		t.Fatal("Load() expected error, got nil")
	}
	if !vgerr.IsValidation(err) {
		t.Error("IsValidation() = false, want true for required field violation")
	}
}

// TestLoader_Load_NestedRequiredField_Missing verifies the required
// check walks into nested structs.
func TestLoader_Load_NestedRequiredField_Missing(t *testing.T) {
	var cfg nestedRequiredConfig
	err := New().Load(&cfg)
	if err == nil {
		t.Fatal("Load() expected error for nested required field, got nil")
	}
	if !vgerr.IsValidation(err) {
		t.Error("IsValidation() = false, want true for nested required field")
	}
}

// ===========================================================================
// Validator interface
// ===========================================================================

// TestLoader_Load_Validator_Called verifies Validate() runs after tag
// validation and passes for a value in range.
func TestLoader_Load_Validator_Called(t *testing.T) {
	t.Setenv("ISSUER", "https://accounts.vetgrid.example")
	t.Setenv("TTL", "5m")

	var cfg ttlConfig
	if err := New().Load(&cfg); err != nil {
		t.Fatalf("Load() error: %v (Validate should accept 5m)", err)
	}

	if cfg.TTL != 5*time.Minute {
		t.Errorf("TTL = %v, want %v", cfg.TTL, 5*time.Minute)
	}
}

// TestLoader_Load_Validator_ReturnsError verifies a Validate() failure
// surfaces through Load.
func TestLoader_Load_Validator_ReturnsError(t *testing.T) {
	t.Setenv("ISSUER", "https://accounts.vetgrid.example")
	t.Setenv("TTL", "24h") // over the 15m ceiling

	var cfg ttlConfig
	err := New().Load(&cfg)
	if err == nil {
		t.Fatal("Load() expected error from Validate, got nil")
	}
	if !vgerr.IsValidation(err) {
		t.Errorf("IsValidation() = false, want true for Validate error")
	}
}

// TestLoader_Load_Validator_StdlibError verifies a plain errors.New from
// Validate() comes back wrapped as a validation error.
func TestLoader_Load_Validator_StdlibError(t *testing.T) {
	// LABEL left unset so Validate fails.
	var cfg labelConfig
	err := New().Load(&cfg)
	if err == nil {
		t.Fatal("Load() expected error from Validate, got nil")
	}
	if !vgerr.IsValidation(err) {
		t.Errorf("IsValidation() = false, want true for wrapped stdlib error")
	}
}

// TestLoader_Load_Validator_NotCalledOnRequiredFailure verifies the
// required tag check fails first. requiredConfig does not implement
// Validator, so a CodeValidationRequired result proves the tag check
// returned before any Validate call could have happened.
func TestLoader_Load_Validator_NotCalledOnRequiredFailure(t *testing.T) {
	var c requiredConfig
	err := New().Load(&c)
	if err == nil {
		t.Fatal("Load() expected error, got nil")
	}
	var vgErr *vgerr.Error
	if !errors.As(err, &vgErr) {
		t.Fatalf("error type = %T, want *vgerr.Error", err)
	}
	if vgErr.Code != vgerr.CodeValidationRequired {
		t.Errorf("error code = %q, want %q (required must fail before Validate)",
			vgErr.Code, vgerr.CodeValidationRequired)
	}
}

// ===========================================================================
// Layer precedence
// ===========================================================================

// TestLoader_Load_PriorityOrder verifies the full chain: env beats file
// beats default.
func TestLoader_Load_PriorityOrder(t *testing.T) {
	path := writeConfigFile(t, "identity.yaml", `
issuer: https://file.vetgrid.example
cache_size: 2048
`)

	t.Setenv("ISSUER", "https://env.vetgrid.example")
	// CACHE_SIZE deliberately unset so the file value survives.

	var cfg endpointConfig
	if err := New().WithFile(path).Load(&cfg); err != nil {
		t.Fatalf("Load() error: %v", err)
	}

	if cfg.Issuer != "https://env.vetgrid.example" {
		t.Errorf("Issuer = %q, want the env value (env beats file)", cfg.Issuer)
	}
	if cfg.CacheSize != 2048 {
		t.Errorf("CacheSize = %d, want 2048 (file beats default)", cfg.CacheSize)
	}
	if cfg.ClockSkew != 30*time.Second {
		t.Errorf("ClockSkew = %v, want %v (default only)", cfg.ClockSkew, 30*time.Second)
	}
}

// TestLoader_Load_FileOverridesDefault verifies the file layer beats
// envDefault.
func TestLoader_Load_FileOverridesDefault(t *testing.T) {
	path := writeConfigFile(t, "identity.yaml", `
issuer: https://file-only.vetgrid.example
`)

	var cfg endpointConfig
	if err := New().WithFile(path).Load(&cfg); err != nil {
		t.Fatalf("Load() error: %v", err)
	}

	if cfg.Issuer != "https://file-only.vetgrid.example" {
		t.Errorf("Issuer = %q, want the file value (file beats default)", cfg.Issuer)
	}
}

// TestLoader_Load_DefaultOnly verifies envDefault alone populates the
// struct when no file or env layer contributes.
func TestLoader_Load_DefaultOnly(t *testing.T) {
	var cfg endpointConfig
	if err := New().Load(&cfg); err != nil {
		t.Fatalf("Load() error: %v", err)
	}

	if cfg.Issuer != "https://accounts.vetgrid.example" {
		t.Errorf("Issuer = %q, want the default", cfg.Issuer)
	}
	if cfg.CacheSize != 10000 {
		t.Errorf("CacheSize = %d, want the default 10000", cfg.CacheSize)
	}
}

// ===========================================================================
// MustLoad
// ===========================================================================

// TestMustLoad_Success verifies MustLoad hands back the populated value.
func TestMustLoad_Success(t *testing.T) {
	cfg := MustLoad[endpointConfig](New())

	if cfg.Issuer != "https://accounts.vetgrid.example" {
		t.Errorf("Issuer = %q, want the default", cfg.Issuer)
	}
	if cfg.CacheSize != 10000 {
		t.Errorf("CacheSize = %d, want the default 10000", cfg.CacheSize)
	}
}

// TestMustLoad_Panics verifies MustLoad panics with a descriptive string
// when loading fails.
func TestMustLoad_Panics(t *testing.T) {
	defer func() {
		r := recover()
		if r == nil {
			t.Fatal("MustLoad() expected panic, got none")
		}
		msg, ok := r.(string)
		if !ok {
			t.Fatalf("panic value type = %T, want string", r)
		}
		if msg == "" {
			t.Error("panic message is empty, want descriptive message")
		}
	}()

	_ = MustLoad[requiredConfig](New())
}

// ===========================================================================
// Parse failures
// ===========================================================================

// TestLoader_Load_InvalidInt_FromEnv verifies a non-numeric int value is
// an error.
func TestLoader_Load_InvalidInt_FromEnv(t *testing.T) {
	t.Setenv("CACHE_SIZE", "not-a-number")

	var cfg endpointConfig
	err := New().Load(&cfg)
	if err == nil {
		t.Fatal("Load() expected error for invalid int, got nil")
	}
	if !vgerr.IsInternal(err) {
		t.Errorf("IsInternal() = false, want true for parse error")
	}
}

// TestLoader_Load_InvalidBool_FromEnv verifies a malformed bool value is
// an error.
func TestLoader_Load_InvalidBool_FromEnv(t *testing.T) {
	t.Setenv("STRICT", "not-a-bool")

	var cfg endpointConfig
	err := New().Load(&cfg)
	if err == nil {
		t.Fatal("Load() expected error for invalid bool, got nil")
	}
	if !vgerr.IsInternal(err) {
		t.Errorf("IsInternal() = false, want true for parse error")
	}
}

// TestLoader_Load_InvalidDuration_FromEnv verifies a malformed duration
// value is an error.
func TestLoader_Load_InvalidDuration_FromEnv(t *testing.T) {
	t.Setenv("CLOCK_SKEW", "not-a-duration")

	var cfg endpointConfig
	err := New().Load(&cfg)
	if err == nil {
		t.Fatal("Load() expected error for invalid duration, got nil")
	}
	if !vgerr.IsInternal(err) {
		t.Errorf("IsInternal() = false, want true for parse error")
	}
}

// TestLoader_Load_InvalidYAML_File verifies malformed YAML is an error.
func TestLoader_Load_InvalidYAML_File(t *testing.T) {
	path := writeConfigFile(t, "bad.yaml", `
issuer: [invalid yaml
  missing closing bracket
`)

	var cfg endpointConfig
	err := New().WithFile(path).Load(&cfg)
	if err == nil {
		t.Fatal("Load() expected error for malformed YAML, got nil")
	}
	if !vgerr.IsInternal(err) {
		t.Errorf("IsInternal() = false, want true for YAML parse error")
	}
}

// TestLoader_Load_InvalidJSON_File verifies malformed JSON is an error.
func TestLoader_Load_InvalidJSON_File(t *testing.T) {
	path := writeConfigFile(t, "bad.json", `{"issuer": invalid}`)

	var cfg endpointConfig
	err := New().WithFile(path).Load(&cfg)
	if err == nil {
		t.Fatal("Load() expected error for malformed JSON, got nil")
	}
	if !vgerr.IsInternal(err) {
		t.Errorf("IsInternal() = false, want true for JSON parse error")
	}
}
