package schemacheck

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testSchema = `{
  "type": "object",
  "properties": {
    "name": {"type": "string"},
    "port": {"type": "integer", "minimum": 1}
  },
  "required": ["name"],
  "additionalProperties": false
}`

func TestViolations(t *testing.T) {
	t.Parallel()

	s := MustCompile(testSchema)

	got, err := s.Violations(map[string]any{"name": "tower", "port": 8080})
	require.NoError(t, err)
	assert.Empty(t, got)

	got, err = s.Violations(map[string]any{"port": 0, "extra": true})
	require.NoError(t, err)
	require.Len(t, got, 3)
	assert.IsIncreasing(t, got)
}

func TestCompileRejectsMalformedSchema(t *testing.T) {
	t.Parallel()

	_, err := Compile(`{"type": 12`)
	require.Error(t, err)
	assert.Panics(t, func() { MustCompile(`{"type": 12`) })
}
