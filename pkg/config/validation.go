package config

import (
	"errors"
	"fmt"

	"github.com/go-playground/validator/v10"
)

var validate = validator.New()

// Validate checks the configuration against the struct-level validation
// rules. It returns an error naming every failing field and the rule it
// broke.
func Validate(cfg *Config) error {
	if err := validate.Struct(cfg); err != nil {
		var verrs validator.ValidationErrors
		if errors.As(err, &verrs) {
			return fmt.Errorf("invalid configuration: %w", formatValidationErrors(verrs))
		}
		return fmt.Errorf("invalid configuration: %w", err)
	}

	// Cross-field rules validator tags cannot express.
	if cfg.Maintenance.DiskWarnPercent > cfg.Maintenance.DiskErrorPercent {
		return fmt.Errorf("invalid configuration: maintenance disk_warn_percent (%.0f) exceeds disk_error_percent (%.0f)",
			cfg.Maintenance.DiskWarnPercent, cfg.Maintenance.DiskErrorPercent)
	}

	return nil
}

// formatValidationErrors flattens validator errors into one readable message.
func formatValidationErrors(verrs validator.ValidationErrors) error {
	msg := ""
	for i, fe := range verrs {
		if i > 0 {
			msg += "; "
		}
		msg += fmt.Sprintf("%s failed on the '%s' rule", fe.Namespace(), fe.Tag())
	}
	return fmt.Errorf("%s", msg)
}
