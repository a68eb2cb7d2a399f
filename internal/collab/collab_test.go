package collab

import (
	"encoding/json"
	"testing"

	"github.com/metalagman/pilotsim/internal/statebag"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestVerdictMissing(t *testing.T) {
	t.Parallel()

	v := Verdict{Components: []ComponentScore{
		{Code: "RUNWAY", Score: 0},
		{Code: "CALLSIGN", Score: 0.9},
		{Code: "RUNWAY", Score: 0},
		{Code: "", Score: 0},
		{Code: "HOLDING_POINT", Score: 0},
	}}
	assert.Equal(t, []string{"RUNWAY", "HOLDING_POINT"}, v.Missing())
	assert.Empty(t, Verdict{}.Missing())
}

func TestFallbacksHoldPhase(t *testing.T) {
	t.Parallel()

	atc := FallbackATC("taxi")
	phase, ok := atc.NextState.PhaseOf()
	require.True(t, ok)
	assert.Equal(t, "taxi", phase)
	assert.Equal(t, UnclearText, atc.Transmission)

	traffic := FallbackTraffic("taxi")
	phase, ok = traffic.NextState.PhaseOf()
	require.True(t, ok)
	assert.Equal(t, "taxi", phase)
	assert.Equal(t, FallbackTrafficCallsign, traffic.SourceCallsign)
	assert.Equal(t, "traffic", traffic.Attributes["role"])

	v := NeutralVerdict()
	assert.InDelta(t, 0.5, v.Normalized, 1e-9)
	assert.False(t, v.SafetyFlag)
}

func TestDifficultyText(t *testing.T) {
	t.Parallel()

	data, err := json.Marshal(map[string]Difficulty{"d": Advanced})
	require.NoError(t, err)
	assert.JSONEq(t, `{"d":"advanced"}`, string(data))

	var d Difficulty
	require.NoError(t, d.UnmarshalText([]byte("Basic")))
	assert.Equal(t, Basic, d)
	require.Error(t, d.UnmarshalText([]byte("extreme")))
}

func TestATCReplyJSON(t *testing.T) {
	t.Parallel()

	var r ATCReply
	require.NoError(t, json.Unmarshal([]byte(`{
		"transmission": "VH-ABC, line up runway 34",
		"next_state": {"phase": "lineup", "cleared": true}
	}`), &r))
	phase, ok := r.NextState.PhaseOf()
	require.True(t, ok)
	assert.Equal(t, "lineup", phase)
	assert.True(t, r.NextState["cleared"].Equal(statebag.Bool(true)))
}
