// Package config loads configuration for VetGrid platform services from
// three layers, each overriding the one below it:
//
//	envDefault struct tags  (lowest priority)
//	YAML/JSON config file  (medium priority)
//	Environment variables  (highest priority)
//
// The layering matches how the platform deploys: defaults live in code,
// a mounted config file carries per-environment overrides, and env vars
// injected from ConfigMaps or Secrets have the final word.
//
// # Struct Tags
//
// Three tags drive the loader:
//
//   - `env:"VAR_NAME"` names the environment variable for a field
//   - `envDefault:"value"` fills the field when it is still zero
//   - `required:"true"` rejects a config whose field is zero after all layers
//
// File loading goes through the YAML and JSON unmarshalers directly, so
// fields that should be file-settable also need `yaml` or `json` tags.
//
// # Usage
//
//	type GatewayConfig struct {
//	    Issuer   string        `env:"ISSUER" yaml:"issuer" required:"true"`
//	    Audience string        `env:"AUDIENCE" yaml:"audience" required:"true"`
//	    CacheTTL time.Duration `env:"CACHE_TTL" envDefault:"5m" yaml:"cache_ttl"`
//	    Debug    bool          `env:"DEBUG" envDefault:"false" yaml:"debug"`
//	}
//
//	cfg := config.MustLoad[GatewayConfig](
//	    config.New().WithEnvPrefix("VETGRID").WithFile("config.yaml"),
//	)
package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"reflect"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	vgerr "github.com/VetGrid/vetgrid-identity-core/pkg/errors"
)

// durationType is the reflect.Type of time.Duration, held once. A
// Duration field reports Kind() == Int64, so the traversal needs the
// type itself to tell it apart from plain integers.
var durationType = reflect.TypeOf(time.Duration(0))

// Loader resolves configuration through the layered model described in
// the package documentation. Build one with [New], shape it with
// [Loader.WithEnvPrefix] and [Loader.WithFile], then call
// [Loader.Load].
//
// A Loader is not safe for concurrent use; build one per Load call.
type Loader struct {
	envPrefix string
	filePath  string
}

// New returns a [Loader] that reads environment variables only, with no
// prefix and no file layer.
func New() *Loader {
	return &Loader{}
}

// WithEnvPrefix sets a prefix joined with an underscore to every name
// from an "env" struct tag: WithEnvPrefix("GATEWAY") makes a field
// tagged `env:"ISSUER"` read GATEWAY_ISSUER.
//
// The prefix is uppercased; an empty prefix leaves names untouched.
// WithEnvPrefix returns the Loader for chaining.
func (l *Loader) WithEnvPrefix(prefix string) *Loader {
	l.envPrefix = strings.ToUpper(prefix)
	return l
}

// WithFile adds a file layer. The format follows the extension: .yaml
// and .yml parse as YAML, .json as JSON, anything else fails the Load.
// A file that does not exist is skipped, not an error, so one binary
// can run with and without a mounted config.
//
// Paths containing ".." are rejected at load time. WithFile returns
// the Loader for chaining.
func (l *Loader) WithFile(path string) *Loader {
	l.filePath = path
	return l
}

// Load fills the given struct pointer, resolving each field through the
// layers in order:
//
//  1. envDefault struct tags (lowest priority)
//  2. YAML/JSON file values (if configured with [Loader.WithFile])
//  3. Environment variables from "env" struct tags (highest priority)
//
// After resolution the struct is checked: fields tagged
// `required:"true"` must be non-zero, and a struct implementing
// [Validator] has its Validate method called last.
//
// cfg must be a non-nil struct pointer. Failures come back as a
// [*vgerr.Error]: [vgerr.CodeInternalConfiguration] for loading
// problems, [vgerr.CodeValidationRequired] or [vgerr.CodeValidation]
// for validation ones.
func (l *Loader) Load(cfg any) error {
	rv := reflect.ValueOf(cfg)
	if rv.Kind() != reflect.Pointer || rv.IsNil() {
		return vgerr.New(vgerr.CodeInternalConfiguration,
			"config: Load requires a non-nil pointer to a struct")
	}

	rv = rv.Elem()
	if rv.Kind() != reflect.Struct {
		return vgerr.New(vgerr.CodeInternalConfiguration,
			"config: Load requires a pointer to a struct")
	}

	// Step 1: Apply envDefault tags to zero-valued fields.
	if err := applyDefaults(rv); err != nil {
		return err
	}

	// Step 2: Load from file (if configured).
	if l.filePath != "" {
		if err := l.loadFile(cfg); err != nil {
			return err
		}
	}

	// Step 3: Apply environment variables (highest priority).
	if err := applyEnv(rv, l.envPrefix); err != nil {
		return err
	}

	// Step 4: Validate required fields and custom Validator.
	return validate(cfg, rv)
}

// MustLoad allocates a zero T, loads into it, and returns the populated
// value, panicking on any load or validation failure. Meant for process
// startup, where a broken configuration should stop the binary before
// it serves anything.
//
// T must be a struct type.
//
// Example:
//
//	cfg := config.MustLoad[GatewayConfig](config.New().WithEnvPrefix("GATEWAY"))
func MustLoad[T any](loader *Loader) T {
	var cfg T
	if err := loader.Load(&cfg); err != nil {
		panic(fmt.Sprintf("config: MustLoad failed: %v", err))
	}
	return cfg
}

// loadFile reads the configured file and unmarshals it over the struct.
// A missing file is skipped. The path is checked for traversal
// sequences before any read.
func (l *Loader) loadFile(cfg any) error {
	if strings.Contains(l.filePath, "..") {
		return vgerr.New(vgerr.CodeInternalConfiguration,
			"config: file path must not contain directory traversal (..) sequences")
	}

	data, err := os.ReadFile(l.filePath)
	if err != nil {
		if os.IsNotExist(err) {
			return nil // Missing file is not an error.
		}
		return vgerr.Wrapf(err, vgerr.CodeInternalConfiguration,
			"config: failed to read file %q", l.filePath)
	}

	ext := strings.ToLower(filepath.Ext(l.filePath))

	switch ext {
	case ".yaml", ".yml":
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return vgerr.Wrapf(err, vgerr.CodeInternalConfiguration,
				"config: failed to parse YAML file %q", l.filePath)
		}
	case ".json":
		if err := json.Unmarshal(data, cfg); err != nil {
			return vgerr.Wrapf(err, vgerr.CodeInternalConfiguration,
				"config: failed to parse JSON file %q", l.filePath)
		}
	default:
		return vgerr.Newf(vgerr.CodeInternalConfiguration,
			"config: unsupported file extension %q (use .yaml, .yml, or .json)", ext)
	}

	return nil
}

// applyDefaults walks the struct and writes each envDefault tag into
// its field, but only when the field still holds its zero value.
func applyDefaults(rv reflect.Value) error {
	rt := rv.Type()

	for i := 0; i < rt.NumField(); i++ {
		field := rv.Field(i)
		sf := rt.Field(i)

		if !field.CanSet() {
			continue
		}

		// Recurse into nested structs.
		if field.Kind() == reflect.Struct && sf.Type != durationType {
			if err := applyDefaults(field); err != nil {
				return err
			}
			continue
		}

		tag := sf.Tag.Get("envDefault")
		if tag == "" {
			continue
		}

		// Only set if the field is currently zero-valued.
		if !field.IsZero() {
			continue
		}

		if err := setField(field, tag); err != nil {
			return vgerr.Wrapf(err, vgerr.CodeInternalConfiguration,
				"config: failed to apply default for field %q", sf.Name)
		}
	}

	return nil
}

// applyEnv walks the struct and sets fields from the environment
// variables their "env" tags name. A nested struct's parent tag joins
// the prefix with "_", so `env:"KEYRING"` over `env:"URL"` resolves
// KEYRING_URL.
//
// prefix carries the global prefix from [Loader.WithEnvPrefix] plus
// whatever nested tags have accumulated on the way down.
func applyEnv(rv reflect.Value, prefix string) error {
	rt := rv.Type()

	for i := 0; i < rt.NumField(); i++ {
		field := rv.Field(i)
		sf := rt.Field(i)

		if !field.CanSet() {
			continue
		}

		envTag := sf.Tag.Get("env")

		// Recurse into nested structs. The parent's env tag becomes
		// part of the prefix for child fields.
		if field.Kind() == reflect.Struct && sf.Type != durationType {
			nestedPrefix := prefix
			if envTag != "" {
				if nestedPrefix != "" {
					nestedPrefix = nestedPrefix + "_" + envTag
				} else {
					nestedPrefix = envTag
				}
			}
			if err := applyEnv(field, nestedPrefix); err != nil {
				return err
			}
			continue
		}

		if envTag == "" {
			continue
		}

		envKey := envTag
		if prefix != "" {
			envKey = prefix + "_" + envTag
		}

		val, ok := os.LookupEnv(envKey)
		if !ok {
			continue
		}

		if err := setField(field, val); err != nil {
			return vgerr.Wrapf(err, vgerr.CodeInternalConfiguration,
				"config: failed to set field %q from env var %q", sf.Name, envKey)
		}
	}

	return nil
}

// setField parses value and writes it into the field according to its
// kind. Supported kinds:
//
//   - string, including named string types like auth.Secret
//   - bool
//   - int, int8, int16, int32, int64
//   - time.Duration (via time.ParseDuration)
//   - []string (split on commas, entries trimmed)
//
// Anything else, or a value that fails to parse, is an error.
func setField(field reflect.Value, value string) error {
	// Duration first: its kind is Int64 but the text form needs
	// time.ParseDuration, not ParseInt.
	if field.Type() == durationType {
		d, err := time.ParseDuration(value)
		if err != nil {
			return fmt.Errorf("cannot parse duration %q: %w", value, err)
		}
		field.SetInt(int64(d))
		return nil
	}

	switch field.Kind() {
	case reflect.String:
		// Covers plain strings and named types with a string
		// underlying kind (auth.Secret, postgres.SSLMode).
		field.SetString(value)

	case reflect.Bool:
		b, err := strconv.ParseBool(value)
		if err != nil {
			return fmt.Errorf("cannot parse bool %q: %w", value, err)
		}
		field.SetBool(b)

	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
		bitSize := field.Type().Bits()
		n, err := strconv.ParseInt(value, 10, bitSize)
		if err != nil {
			return fmt.Errorf("cannot parse integer %q: %w", value, err)
		}
		field.SetInt(n)

	case reflect.Slice:
		if field.Type().Elem().Kind() == reflect.String {
			parts := strings.Split(value, ",")
			for i := range parts {
				parts[i] = strings.TrimSpace(parts[i])
			}
			// Build the slice with the field's own type so named
			// slice types work; Set panics if handed a plain
			// []string for a named type.
			slice := reflect.MakeSlice(field.Type(), len(parts), len(parts))
			for i, p := range parts {
				slice.Index(i).SetString(p)
			}
			field.Set(slice)
		} else {
			return fmt.Errorf("unsupported slice element type %s", field.Type().Elem().Kind())
		}

	default:
		return fmt.Errorf("unsupported field type %s", field.Kind())
	}

	return nil
}
