package workbook

import (
	"bytes"
	_ "embed"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/metalagman/pilotsim/internal/schemacheck"
	"github.com/pelletier/go-toml/v2"
	"gopkg.in/yaml.v3"
)

//go:embed schema.json
var schemaJSON string

var workbookSchema = schemacheck.MustCompile(schemaJSON)

// Format is a workbook file encoding.
type Format string

// Supported formats.
const (
	FormatJSON Format = "json"
	FormatYAML Format = "yaml"
	FormatTOML Format = "toml"
)

// FormatFromPath guesses the encoding from a file extension.
func FormatFromPath(path string) (Format, error) {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".json":
		return FormatJSON, nil
	case ".yaml", ".yml":
		return FormatYAML, nil
	case ".toml":
		return FormatTOML, nil
	default:
		return "", fmt.Errorf("unsupported workbook extension %q", filepath.Ext(path))
	}
}

// LoadFile reads, validates and decodes a workbook file. The result is not
// resolved; call Resolve to fill defaults.
func LoadFile(path string) (*Workbook, error) {
	format, err := FormatFromPath(path)
	if err != nil {
		return nil, err
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read workbook: %w", err)
	}
	return Parse(data, format)
}

// Parse decodes raw workbook bytes.
func Parse(data []byte, format Format) (*Workbook, error) {
	raw := map[string]any{}
	switch format {
	case FormatJSON:
		dec := json.NewDecoder(bytes.NewReader(data))
		dec.UseNumber()
		if err := dec.Decode(&raw); err != nil {
			return nil, fmt.Errorf("decode workbook json: %w", err)
		}
	case FormatYAML:
		if err := yaml.Unmarshal(data, &raw); err != nil {
			return nil, fmt.Errorf("decode workbook yaml: %w", err)
		}
	case FormatTOML:
		if err := toml.Unmarshal(data, &raw); err != nil {
			return nil, fmt.Errorf("decode workbook toml: %w", err)
		}
	default:
		return nil, fmt.Errorf("unsupported workbook format %q", format)
	}
	return FromSettings(raw)
}

// FromSettings validates a generic document against the workbook schema and
// decodes it.
func FromSettings(raw map[string]any) (*Workbook, error) {
	if err := ValidateSchema(raw); err != nil {
		return nil, err
	}
	buf, err := json.Marshal(raw)
	if err != nil {
		return nil, fmt.Errorf("encode workbook: %w", err)
	}
	var wb Workbook
	if err := json.Unmarshal(buf, &wb); err != nil {
		return nil, fmt.Errorf("decode workbook: %w", err)
	}
	if err := wb.Validate(); err != nil {
		return nil, err
	}
	return &wb, nil
}

// ValidateSchema checks a generic document against the embedded schema.
func ValidateSchema(raw map[string]any) error {
	violations, err := workbookSchema.Violations(raw)
	if err != nil {
		return fmt.Errorf("validate workbook schema: %w", err)
	}
	if len(violations) > 0 {
		return fmt.Errorf("%w: schema: %s", ErrInvalid, strings.Join(violations, "; "))
	}
	return nil
}
