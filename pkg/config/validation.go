package config

import (
	"fmt"

	"github.com/go-playground/validator/v10"
)

// Validate checks the configuration against the struct validation tags.
func Validate(cfg *Config) error {
	validate := validator.New()

	if err := validate.Struct(cfg); err != nil {
		if errs, ok := err.(validator.ValidationErrors); ok {
			return fmt.Errorf("invalid configuration: %w", errs)
		}
		return fmt.Errorf("validation error: %w", err)
	}

	return nil
}
