package logging

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestWriter_ConsoleOnly(t *testing.T) {
	t.Parallel()

	_, ok := Writer("").(zerolog.ConsoleWriter)
	assert.True(t, ok)
}

func TestWriter_WritesFile(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "pilotsim.log")
	logger := zerolog.New(Writer(path))
	logger.Info().Str("session_id", "s-1").Msg("session opened")

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Contains(t, string(data), `"session_id":"s-1"`)
	assert.Contains(t, string(data), `"message":"session opened"`)
}
