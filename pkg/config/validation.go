package config

import (
	"reflect"

	vgerr "github.com/VetGrid/vetgrid-identity-core/pkg/errors"
)

// Validator lets a configuration struct check rules the tags cannot
// express. When the struct handed to [Loader.Load] implements it,
// Validate runs after the `required` tag pass has succeeded.
//
// Validate reports the first problem it finds, or nil. A returned
// [*vgerr.Error] passes through untouched; any other error comes back
// wrapped under [vgerr.CodeValidation].
//
// Example:
//
//	type SessionCacheConfig struct {
//	    TTL time.Duration `env:"TTL" envDefault:"5m"`
//	}
//
//	func (c *SessionCacheConfig) Validate() error {
//	    if c.TTL > 15*time.Minute {
//	        return vgerr.Newf(vgerr.CodeValidation,
//	            "config: ttl %s exceeds the 15m ceiling", c.TTL)
//	    }
//	    return nil
//	}
type Validator interface {
	Validate() error
}

// validate runs the required-tag pass, then the struct's own Validate
// when it has one. cfg is the original interface value, needed for the
// Validator assertion; rv is the dereferenced struct value.
func validate(cfg any, rv reflect.Value) error {
	if err := validateRequired(rv, ""); err != nil {
		return err
	}

	if v, ok := cfg.(Validator); ok {
		if err := v.Validate(); err != nil {
			if _, isTyped := vgerr.AsError(err); isTyped {
				return err
			}
			return vgerr.Wrap(err, vgerr.CodeValidation,
				"config: custom validation failed")
		}
	}

	return nil
}

// validateRequired walks the struct and fails on the first field tagged
// `required:"true"` that still holds its zero value. path accumulates
// the dotted field path for the error message ("Keyring.URL").
func validateRequired(rv reflect.Value, path string) error {
	rt := rv.Type()

	for i := 0; i < rt.NumField(); i++ {
		field := rv.Field(i)
		sf := rt.Field(i)

		if !field.CanSet() {
			continue
		}

		fieldPath := sf.Name
		if path != "" {
			fieldPath = path + "." + sf.Name
		}

		// Recurse into nested structs. Opaque types like time.Time
		// contribute nothing: their fields are unexported and fail
		// the CanSet check above.
		if field.Kind() == reflect.Struct {
			if err := validateRequired(field, fieldPath); err != nil {
				return err
			}
			continue
		}

		if sf.Tag.Get("required") != "true" {
			continue
		}

		if field.IsZero() {
			return vgerr.Newf(vgerr.CodeValidationRequired,
				"config: required field %q is empty", fieldPath)
		}
	}

	return nil
}
