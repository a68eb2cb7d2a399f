package workbook

import (
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const sampleYAML = `
meta:
  id: circuit-1
  title: Circuit departure
phases:
  - id: taxi
    name: Taxi
    primary_freq_mhz: 121.9
    required_components: [CALLSIGN, RUNWAY]
    expected_readback: [RUNWAY, HOLDING_POINT]
    next_state:
      phase: lineup
    safety_gates:
      - id: no_hold_short
        trigger: {lhs: hold_short_acknowledged, op: missing}
        action: warn
    branches:
      - id: give_way
        probability: 0.3
        guard:
          - {lhs: traffic_active, op: "==", rhs: true}
        effects:
          - {key: give_way_to, value: VH-XYZ}
  - id: lineup
    entry_criteria:
      - {lhs: verdict.normalized, op: ">=", rhs: 0.5}
    responder_map:
      random_interject_prob: 0.2
rubric:
  version: v2
  readback_policy:
    block_on_missing: [RUNWAY]
context_resolved:
  airport:
    icao: YSCN
    tower_active: true
    tower_mhz: 118.1
  traffic_snapshot:
    density: light
    actors:
      - callsign: VH-XYZ
      - callsign: VH-QQQ
    conflicts:
      - {with_callsign: VH-QQQ, time_to_conflict_s: 120}
      - {with_callsign: VH-XYZ, time_to_conflict_s: 60}
`

const sampleTOML = `
[[phases]]
id = "ctaf_call"
primary_freq_mhz = 126.7

[[phases.safety_gates]]
id = "runway_required"
action = "block"
override = "state the runway"
trigger = { lhs = "verdict.components.RUNWAY.score", op = "<=", rhs = 0 }
`

func TestParse_YAML(t *testing.T) {
	t.Parallel()

	wb, err := Parse([]byte(sampleYAML), FormatYAML)
	require.NoError(t, err)

	require.Len(t, wb.Phases, 2)
	taxi, err := wb.Phase("taxi")
	require.NoError(t, err)
	assert.InDelta(t, 121.9, taxi.PrimaryFreqMHz, 1e-9)
	phaseID, ok := taxi.NextState.PhaseOf()
	require.True(t, ok)
	assert.Equal(t, "lineup", phaseID)
	require.Len(t, taxi.Branches, 1)
	assert.Equal(t, "VH-XYZ", taxi.Branches[0].Effects[0].Value.Text())
	assert.Equal(t, ActionWarn, taxi.SafetyGates[0].Action)

	lineup, err := wb.Phase("lineup")
	require.NoError(t, err)
	assert.InDelta(t, 0.2, lineup.ResponderMap.RandomInterjectProbability, 1e-9)

	assert.True(t, wb.TowerActive())
	assert.Equal(t, []string{"RUNWAY"}, wb.ReadbackPolicy().BlockOnMissing)
}

func TestParse_TOML(t *testing.T) {
	t.Parallel()

	wb, err := Parse([]byte(sampleTOML), FormatTOML)
	require.NoError(t, err)
	p, err := wb.Phase("ctaf_call")
	require.NoError(t, err)
	require.Len(t, p.SafetyGates, 1)
	assert.Equal(t, ActionBlock, p.SafetyGates[0].Action)
	assert.Equal(t, "verdict.components.RUNWAY.score <= 0", p.SafetyGates[0].Trigger.String())
}

func TestParse_SchemaRejectsBadOperator(t *testing.T) {
	t.Parallel()

	_, err := Parse([]byte(`{"phases":[{"id":"a","entry_criteria":[{"lhs":"x","op":"!="}]}]}`), FormatJSON)
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrInvalid))
}

func TestValidate_UnknownPhaseReference(t *testing.T) {
	t.Parallel()

	_, err := Parse([]byte(`{"phases":[{"id":"a","next_state":{"phase":"nowhere"}}]}`), FormatJSON)
	require.ErrorIs(t, err, ErrInvalid)
	assert.Contains(t, err.Error(), `unknown phase "nowhere"`)
}

func TestValidate_DuplicatePhase(t *testing.T) {
	t.Parallel()

	wb := &Workbook{Phases: []Phase{{ID: "a"}, {ID: "a"}}}
	err := wb.Validate()
	require.ErrorIs(t, err, ErrInvalid)
	assert.Contains(t, err.Error(), "duplicate phase")
}

func TestPhase_Unknown(t *testing.T) {
	t.Parallel()

	wb := &Workbook{Phases: []Phase{{ID: "a"}}}
	_, err := wb.Phase("b")
	require.ErrorIs(t, err, ErrUnknownPhase)
	assert.False(t, wb.HasPhase("b"))
	assert.True(t, wb.HasPhase("a"))
}

func TestNearestConflict(t *testing.T) {
	t.Parallel()

	wb, err := Parse([]byte(sampleYAML), FormatYAML)
	require.NoError(t, err)

	c, ok := wb.NearestConflict()
	require.True(t, ok)
	assert.Equal(t, "VH-XYZ", c.WithCallsign)
	assert.True(t, wb.ConflictImminent())

	wb.Context.TrafficSnapshot.Conflicts = []Conflict{{WithCallsign: "VH-QQQ", TimeToConflictS: 91}}
	assert.False(t, wb.ConflictImminent())
	wb.Context.TrafficSnapshot.Conflicts[0].TimeToConflictS = 90
	assert.True(t, wb.ConflictImminent())
}

func TestLoadFile(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "scenario.yml")
	require.NoError(t, os.WriteFile(path, []byte(sampleYAML), 0o600))

	wb, err := LoadFile(path)
	require.NoError(t, err)
	assert.Equal(t, "circuit-1", wb.Meta.ID)

	_, err = LoadFile(filepath.Join(t.TempDir(), "scenario.ini"))
	require.Error(t, err)
}

func TestResolve_FillsDefaults(t *testing.T) {
	t.Parallel()

	wb := Resolve(nil, ResolveOptions{ScenarioID: "s1", PrimaryFrequency: "119.1 MHz", Seed: 7})

	require.Len(t, wb.Phases, 1)
	assert.Equal(t, "phase_1", wb.Phases[0].ID)
	assert.InDelta(t, 119.1, wb.Phases[0].PrimaryFreqMHz, 1e-9)
	assert.Equal(t, "s1", wb.Meta.ID)
	assert.Equal(t, "UNKNOWN", wb.RunwayInUse())
	assert.False(t, wb.TowerActive())

	w := wb.Context.Weather
	require.NotNil(t, w)
	assert.GreaterOrEqual(t, w.WindDirDeg, 10)
	assert.Less(t, w.WindDirDeg, 360)
	assert.GreaterOrEqual(t, w.QNHHpa, 1008)
	assert.Less(t, w.QNHHpa, 1020)
	assert.GreaterOrEqual(t, w.CloudBaseMAGL, 600)
	assert.Less(t, w.CloudBaseMAGL, 1200)
	assert.Equal(t, AtisText(*w), wb.Context.AtisText)

	require.Len(t, wb.Traffic().Actors, 1)
	assert.Equal(t, "VH-ABC", wb.Traffic().Actors[0].Callsign)
	assert.Empty(t, wb.Traffic().Conflicts)

	require.NotNil(t, wb.Tolerance)
	require.NotNil(t, wb.Rubric)
}

func TestResolve_DeterministicWeather(t *testing.T) {
	t.Parallel()

	a := Resolve(nil, ResolveOptions{Seed: 99})
	b := Resolve(nil, ResolveOptions{Seed: 99})
	assert.Equal(t, *a.Context.Weather, *b.Context.Weather)
}

func TestResolve_KeepsDeclaredValues(t *testing.T) {
	t.Parallel()

	wb, err := Parse([]byte(sampleYAML), FormatYAML)
	require.NoError(t, err)
	wb = Resolve(wb, ResolveOptions{Seed: 1})

	assert.Equal(t, "circuit-1", wb.Meta.ID)
	assert.Len(t, wb.Phases, 2)
	assert.Len(t, wb.Traffic().Actors, 2)
	assert.Len(t, wb.Traffic().Conflicts, 2)
	assert.Equal(t, "v2", wb.Rubric.Version)
	assert.InDelta(t, 118.1, wb.Airport().CTAFMHz, 1e-9)
}

func TestResolve_SynthesisesConflict(t *testing.T) {
	t.Parallel()

	wb := &Workbook{Context: &Context{TrafficSnapshot: &TrafficSnapshot{
		Actors: []TrafficActor{{Callsign: "A"}, {Callsign: "B"}},
	}}}
	wb = Resolve(wb, ResolveOptions{})
	c, ok := wb.NearestConflict()
	require.True(t, ok)
	assert.Equal(t, "A", c.WithCallsign)
	assert.Equal(t, "pattern_merge", c.Event)
}

func TestAtisText(t *testing.T) {
	t.Parallel()

	got := AtisText(Weather{WindDirDeg: 240, WindSpeedMps: 5, VisKm: 9.6, QNHHpa: 1013})
	assert.Equal(t, "Wind 240 at 9 knots. Visibility 10 km. QNH 1013 hPa.", got)
}
