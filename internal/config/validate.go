package config

import (
	"errors"
	"fmt"
	"reflect"
	"strings"

	"github.com/go-playground/validator/v10"
	"github.com/robfig/cron/v3"
)

// ValidationError represents a single validation issue with a config.
type ValidationError struct {
	Field   string
	Message string
}

func (e ValidationError) Error() string {
	return fmt.Sprintf("%s: %s", e.Field, e.Message)
}

var validate = newValidator()

func newValidator() *validator.Validate {
	v := validator.New()
	// Report yaml field names so errors match the file the user edits.
	v.RegisterTagNameFunc(func(f reflect.StructField) string {
		name := strings.SplitN(f.Tag.Get("yaml"), ",", 2)[0]
		if name == "-" {
			return ""
		}
		return name
	})
	return v
}

// Validate checks a Config for structural and semantic errors.
// It returns a slice of all validation errors found (empty if valid).
func Validate(cfg *Config) []ValidationError {
	var errs []ValidationError

	if err := validate.Struct(cfg); err != nil {
		var verrs validator.ValidationErrors
		if !errors.As(err, &verrs) {
			return []ValidationError{{Field: "config", Message: err.Error()}}
		}
		for _, fe := range verrs {
			errs = append(errs, ValidationError{
				Field:   fieldPath(fe.Namespace()),
				Message: tagMessage(fe),
			})
		}
	}

	// Backend-specific requirements
	if cfg.Store.Backend == "postgres" && cfg.Store.PostgresURL == "" {
		errs = append(errs, ValidationError{
			Field:   "store.postgres_url",
			Message: "is required for the postgres backend (or set DATABASE_URL)",
		})
	}

	// Durations
	for _, d := range []struct {
		field string
		value string
	}{
		{"compliance.timeout", cfg.Compliance.Timeout},
		{"jitter.tick", cfg.Jitter.Tick},
		{"providers.compliance.timeout", cfg.Providers.Compliance.Timeout},
		{"providers.custody.timeout", cfg.Providers.Custody.Timeout},
		{"providers.swap.timeout", cfg.Providers.Swap.Timeout},
		{"providers.pool.timeout", cfg.Providers.Pool.Timeout},
		{"providers.offramp.timeout", cfg.Providers.Offramp.Timeout},
	} {
		v, err := Duration(d.value)
		if err != nil || v < 0 {
			errs = append(errs, ValidationError{Field: d.field, Message: fmt.Sprintf("invalid duration %q", d.value)})
		}
	}
	if tick, err := Duration(cfg.Jitter.Tick); err == nil && tick == 0 {
		errs = append(errs, ValidationError{Field: "jitter.tick", Message: "must be positive"})
	}

	if !cfg.Watcher.Disabled {
		parser := cron.NewParser(cron.Second | cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor)
		if _, err := parser.Parse(cfg.Watcher.Schedule); err != nil {
			errs = append(errs, ValidationError{
				Field:   "watcher.schedule",
				Message: fmt.Sprintf("invalid cron schedule %q: %v", cfg.Watcher.Schedule, err),
			})
		}
	}

	// The off-ramp signature is only meaningful with a hosted flow.
	if cfg.Providers.Offramp.SecretKey != "" && cfg.Providers.Offramp.HostedURL == "" {
		errs = append(errs, ValidationError{
			Field:   "providers.offramp.hosted_url",
			Message: "is required when secret_key is set",
		})
	}

	return errs
}

// fieldPath turns "Config.wallet.address" into "wallet.address".
func fieldPath(ns string) string {
	if i := strings.IndexByte(ns, '.'); i >= 0 {
		return ns[i+1:]
	}
	return ns
}

func tagMessage(fe validator.FieldError) string {
	switch fe.Tag() {
	case "required":
		return "is required"
	case "oneof":
		return fmt.Sprintf("must be one of: %s", fe.Param())
	case "url":
		return fmt.Sprintf("invalid URL %q", fe.Value())
	case "len":
		return fmt.Sprintf("must be %s characters", fe.Param())
	case "alpha":
		return "must be letters only"
	case "gte":
		return fmt.Sprintf("must be at least %s", fe.Param())
	case "lte":
		return fmt.Sprintf("must be at most %s", fe.Param())
	}
	return fmt.Sprintf("failed %q", fe.Tag())
}
