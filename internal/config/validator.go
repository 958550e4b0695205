package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
)

// RegisterCustomValidators registers fluxgate-specific validation rules.
// Must be called before validating Config.
func RegisterCustomValidators(v *validator.Validate) error {
	// duration: validates Go duration strings like "250ms" or "24h"
	if err := v.RegisterValidation("duration", validateDuration); err != nil {
		return fmt.Errorf("failed to register duration validator: %w", err)
	}
	return nil
}

// validateDuration validates a positive Go duration string.
func validateDuration(fl validator.FieldLevel) bool {
	d, err := time.ParseDuration(fl.Field().String())
	return err == nil && d > 0
}

// Validate validates the Config using struct tags and custom cross-field
// rules. Returns an error with actionable messages on failure.
func (c *Config) Validate() error {
	v := validator.New(validator.WithRequiredStructEnabled())

	if err := RegisterCustomValidators(v); err != nil {
		return err
	}

	if err := v.Struct(c); err != nil {
		return formatValidationErrors(err)
	}

	if err := c.validateStoreBackend(); err != nil {
		return err
	}

	if err := c.validatePolicyNames(); err != nil {
		return err
	}

	return nil
}

// validateStoreBackend ensures backend-specific settings are present.
func (c *Config) validateStoreBackend() error {
	if c.Store.Backend == "redis" && c.Store.Redis.Addr == "" {
		return errors.New("store: backend \"redis\" requires store.redis.addr")
	}
	return nil
}

// validatePolicyNames ensures policy names are unique across the global
// list and all route lists. Two policies sharing a name would also share
// bucket state for the same client.
func (c *Config) validatePolicyNames() error {
	seen := make(map[string]struct{})
	check := func(where string, policies []PolicyConfig) error {
		for _, p := range policies {
			if _, dup := seen[p.Name]; dup {
				return fmt.Errorf("%s: duplicate policy name %q", where, p.Name)
			}
			seen[p.Name] = struct{}{}
		}
		return nil
	}

	if err := check("rate_limit.policies", c.RateLimit.Policies); err != nil {
		return err
	}
	for i, route := range c.RateLimit.Routes {
		if err := check(fmt.Sprintf("rate_limit.routes[%d]", i), route.Policies); err != nil {
			return err
		}
	}
	return nil
}

// formatValidationErrors converts validator.ValidationErrors to
// user-friendly messages.
func formatValidationErrors(err error) error {
	var validationErrors validator.ValidationErrors
	if errors.As(err, &validationErrors) {
		var messages []string
		for _, e := range validationErrors {
			messages = append(messages, formatSingleValidationError(e))
		}
		return errors.New(strings.Join(messages, "; "))
	}
	return err
}

// formatSingleValidationError creates a user-friendly message for a single
// validation error.
func formatSingleValidationError(e validator.FieldError) string {
	field := e.Namespace()
	tag := e.Tag()

	switch tag {
	case "required":
		return fmt.Sprintf("%s is required", field)
	case "min":
		return fmt.Sprintf("%s must be at least %s", field, e.Param())
	case "max":
		return fmt.Sprintf("%s must be at most %s", field, e.Param())
	case "gte":
		return fmt.Sprintf("%s must be >= %s", field, e.Param())
	case "gt":
		return fmt.Sprintf("%s must be > %s", field, e.Param())
	case "oneof":
		return fmt.Sprintf("%s must be one of: %s", field, e.Param())
	case "startswith":
		return fmt.Sprintf("%s must start with %q", field, e.Param())
	case "url":
		return fmt.Sprintf("%s must be a valid URL", field)
	case "hostname_port":
		return fmt.Sprintf("%s must be a valid host:port", field)
	case "duration":
		return fmt.Sprintf("%s must be a positive duration like \"250ms\" or \"24h\"", field)
	default:
		return fmt.Sprintf("%s failed validation: %s", field, tag)
	}
}
