package llm

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/santhosh-tekuri/jsonschema/v5"
)

// ErrMalformed is returned when a completion is not a valid reply.
var ErrMalformed = errors.New("malformed completion")

const nextStateSchema = `{
	"type": "object",
	"properties": {
		"phase": {"type": "string"},
		"state_deltas": {
			"type": "array",
			"items": {"type": "object", "required": ["key"], "properties": {"key": {"type": "string"}}}
		}
	}
}`

var (
	verdictSchema = jsonschema.MustCompileString("verdict.json", `{
		"type": "object",
		"required": ["normalized"],
		"properties": {
			"normalized": {"type": "number", "minimum": 0, "maximum": 1},
			"score_delta": {"type": "number"},
			"safety_flag": {"type": "boolean"},
			"block_reason": {"type": "string"},
			"mandatory_readback_missing": {"type": "array", "items": {"type": "string"}},
			"components": {
				"type": "array",
				"items": {
					"type": "object",
					"required": ["code", "score"],
					"properties": {
						"code": {"type": "string", "minLength": 1},
						"score": {"type": "number", "minimum": 0, "maximum": 1},
						"weight": {"type": "number"},
						"delta": {"type": "number"}
					}
				}
			}
		}
	}`)

	atcSchema = jsonschema.MustCompileString("atc.json", `{
		"type": "object",
		"required": ["transmission"],
		"properties": {
			"transmission": {"type": "string", "minLength": 1},
			"expected_readback": {"type": "array", "items": {"type": "string"}},
			"next_state": `+nextStateSchema+`,
			"hold_short": {"type": "boolean"},
			"tts_tone": {"type": "string"}
		}
	}`)

	trafficSchema = jsonschema.MustCompileString("traffic.json", `{
		"type": "object",
		"required": ["transmission"],
		"properties": {
			"transmission": {"type": "string", "minLength": 1},
			"source_callsign": {"type": "string"},
			"expected_readback": {"type": "array", "items": {"type": "string"}},
			"next_state": `+nextStateSchema+`,
			"tts_tone": {"type": "string"},
			"attributes": {"type": "object", "additionalProperties": {"type": "string"}}
		}
	}`)
)

// decode extracts the JSON object from a completion, validates it and
// unmarshals it into out.
func decode(schema *jsonschema.Schema, output string, out any) error {
	raw, ok := extractJSON([]byte(output))
	if !ok {
		return fmt.Errorf("%w: no json object", ErrMalformed)
	}

	var doc any
	if err := json.Unmarshal(raw, &doc); err != nil {
		return fmt.Errorf("%w: %w", ErrMalformed, err)
	}
	if err := schema.Validate(doc); err != nil {
		return fmt.Errorf("%w: %w", ErrMalformed, err)
	}
	if err := json.Unmarshal(raw, out); err != nil {
		return fmt.Errorf("%w: %w", ErrMalformed, err)
	}
	return nil
}

func extractJSON(data []byte) ([]byte, bool) {
	start := bytes.IndexByte(data, '{')
	end := bytes.LastIndexByte(data, '}')
	if start == -1 || end == -1 || start >= end {
		return nil, false
	}
	return data[start : end+1], true
}
