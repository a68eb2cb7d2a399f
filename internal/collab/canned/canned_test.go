package canned

import (
	"context"
	"testing"

	"github.com/metalagman/pilotsim/internal/collab"
	"github.com/metalagman/pilotsim/internal/statebag"
	"github.com/metalagman/pilotsim/internal/workbook"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func scoringContext() collab.ScoringContext {
	return collab.ScoringContext{
		PhaseID:          "taxi",
		Required:         []string{"CALLSIGN", "RUNWAY", "HOLDING_POINT"},
		ExpectedReadback: []string{"RUNWAY", "HOLDING_POINT"},
		Tolerance: &workbook.Tolerance{
			Strictness: 0.6,
			Synonyms:   map[string][]string{"runway": {"rwy"}},
		},
		Rubric: &workbook.Rubric{
			Version:        "v2",
			SafetyCap:      0.4,
			SafetyCritical: []string{"HOLDING_POINT"},
			ReadbackPolicy: workbook.ReadbackPolicy{BlockOnMissing: []string{"RUNWAY"}},
		},
		ReadbackPolicy: workbook.ReadbackPolicy{BlockOnMissing: []string{"RUNWAY"}},
		Context:        collab.PhaseContext{Callsign: "VH-ABC"},
		TowerActive:    true,
	}
}

func TestScorer_FullReadback(t *testing.T) {
	t.Parallel()

	v, err := NewScorer().Score(context.Background(), "Taxi to holding point Alpha, runway 34, VH-ABC", scoringContext(), collab.Medium)
	require.NoError(t, err)
	assert.Empty(t, v.Missing())
	assert.InDelta(t, 1.0, v.Normalized, 1e-9)
	assert.Equal(t, 5, v.ScoreDelta)
	assert.Equal(t, "v2", v.RubricVersion)
	assert.Equal(t, "runway, holding point, VH-ABC", v.ExemplarReadback)
}

func TestScorer_SynonymAndCallsignSuffix(t *testing.T) {
	t.Parallel()

	v, err := NewScorer().Score(context.Background(), "rwy three four, hold short, ABC", scoringContext(), collab.Medium)
	require.NoError(t, err)
	assert.Empty(t, v.Missing())
}

func TestScorer_MissingSafetyCriticalCaps(t *testing.T) {
	t.Parallel()

	v, err := NewScorer().Score(context.Background(), "runway 34, VH-ABC", scoringContext(), collab.Medium)
	require.NoError(t, err)
	assert.Equal(t, []string{"HOLDING_POINT"}, v.Missing())
	assert.InDelta(t, 0.4, v.Normalized, 1e-9)
	require.Len(t, v.Critical, 1)

	var hp collab.ComponentScore
	for _, c := range v.Components {
		if c.Code == "HOLDING_POINT" {
			hp = c
		}
	}
	assert.Equal(t, "critical", hp.Severity)
	assert.Equal(t, "Readback", hp.Category)
}

func TestScorer_NonToweredUsesBroadcastComponents(t *testing.T) {
	t.Parallel()

	sc := scoringContext()
	sc.TowerActive = false
	sc.BroadcastRequired = []string{"POSITION", "INTENTIONS"}
	v, err := NewScorer().Score(context.Background(), "VH-ABC joining downwind", sc, collab.Medium)
	require.NoError(t, err)
	assert.Equal(t, []string{"INTENTIONS"}, v.Missing())
}

func TestScorer_PartialMatchRespectsStrictness(t *testing.T) {
	t.Parallel()

	sc := scoringContext()
	sc.Required = []string{"HOLDING_POINT"}
	sc.Rubric.SafetyCritical = nil

	v, err := NewScorer().Score(context.Background(), "to the point", sc, collab.Basic)
	require.NoError(t, err)
	assert.Empty(t, v.Missing())
	assert.InDelta(t, 0.5, v.Normalized, 1e-9)

	v, err = NewScorer().Score(context.Background(), "to the point", sc, collab.Advanced)
	require.NoError(t, err)
	assert.Equal(t, []string{"HOLDING_POINT"}, v.Missing())
}

func TestScorer_Cancelled(t *testing.T) {
	t.Parallel()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := NewScorer().Score(ctx, "x", scoringContext(), collab.Medium)
	require.ErrorIs(t, err, context.Canceled)
}

func TestController_TemplateAndScript(t *testing.T) {
	t.Parallel()

	pc := collab.PhaseContext{
		PhaseID:          "taxi",
		Callsign:         "VH-ABC",
		ExpectedReadback: []string{"RUNWAY"},
		NextStateTemplate: statebag.Delta{
			"phase":      statebag.String("lineup"),
			"hold_short": statebag.Bool(true),
		},
	}
	reply, err := NewController().Next(context.Background(), "ready", pc, collab.Medium, collab.Load{ControllerPersona: collab.PersonaNormal})
	require.NoError(t, err)
	assert.Equal(t, "VH-ABC, roger, continue", reply.Transmission)
	assert.True(t, reply.HoldShort)
	phase, ok := reply.NextState.PhaseOf()
	require.True(t, ok)
	assert.Equal(t, "lineup", phase)

	reply.NextState["phase"] = statebag.String("mutated")
	assert.Equal(t, "lineup", pc.NextStateTemplate["phase"].Text())

	pc.ScriptedTransmission = "VH-ABC, give way to the Cessna on final"
	reply, err = NewController().Next(context.Background(), "ready", pc, collab.Medium, collab.Load{})
	require.NoError(t, err)
	assert.Equal(t, pc.ScriptedTransmission, reply.Transmission)
}

func TestTraffic_NearestActor(t *testing.T) {
	t.Parallel()

	alt := 305.0
	tc := collab.TrafficContext{
		PhaseID:     "downwind",
		Mode:        "TRAFFIC_NEAREST",
		RunwayInUse: "34",
		Snapshot: workbook.TrafficSnapshot{Actors: []workbook.TrafficActor{
			{Callsign: "VH-AAA", Intent: "circuit_base"},
			{Callsign: "VH-XYZ", Type: "PA28", Intent: "circuit_downwind", AltMMSL: &alt},
		}},
		TargetCallsign: "VH-XYZ",
		ConflictEvent:  "pattern_merge",
	}
	reply, err := NewTraffic().Next(context.Background(), "", tc, collab.Medium)
	require.NoError(t, err)
	assert.Equal(t, "VH-XYZ", reply.SourceCallsign)
	assert.Equal(t, "Traffic, VH-XYZ, PA28, downwind runway 34, 1000 feet, looking for traffic.", reply.Transmission)
	assert.Equal(t, collab.ToneUrgent, reply.TTSTone)
	assert.Equal(t, "downwind", reply.Attributes["direction"])
}

func TestTraffic_NoActors(t *testing.T) {
	t.Parallel()

	reply, err := NewTraffic().Next(context.Background(), "", collab.TrafficContext{RunwayInUse: "16"}, collab.Medium)
	require.NoError(t, err)
	assert.Equal(t, collab.FallbackTrafficCallsign, reply.SourceCallsign)
	assert.Equal(t, "Traffic, aircraft in the circuit, runway 16.", reply.Transmission)
}
