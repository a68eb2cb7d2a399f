package config

import (
	_ "embed"
	"errors"
	"fmt"
	"strings"

	"github.com/metalagman/pilotsim/internal/schemacheck"
)

// ErrInvalidSettings is returned when a config file violates the schema.
var ErrInvalidSettings = errors.New("config schema validation failed")

//go:embed schema.json
var schemaJSON string

var settingsSchema = schemacheck.MustCompile(schemaJSON)

// ValidateSettings checks the settings read from a config file. Values from
// the environment are not included since they arrive as strings.
func ValidateSettings(settings map[string]any) error {
	violations, err := settingsSchema.Violations(settings)
	if err != nil {
		return fmt.Errorf("validate config schema: %w", err)
	}
	if len(violations) > 0 {
		return fmt.Errorf("%w: %s", ErrInvalidSettings, strings.Join(violations, "; "))
	}
	return nil
}
