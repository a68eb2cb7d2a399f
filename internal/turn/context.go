package turn

import (
	"github.com/metalagman/pilotsim/internal/collab"
	"github.com/metalagman/pilotsim/internal/router"
	"github.com/metalagman/pilotsim/internal/statebag"
	"github.com/metalagman/pilotsim/internal/workbook"
)

func (t *run) phaseContext(state statebag.Bag, b *workbook.Branch) collab.PhaseContext {
	pc := collab.PhaseContext{
		PhaseID:                     t.phase.ID,
		Callsign:                    t.callsign,
		Resolved:                    t.wb.Context,
		ReadbackPolicy:              t.wb.ReadbackPolicy(),
		RequiredComponents:          t.phase.RequiredComponents,
		BroadcastRequiredComponents: t.phase.BroadcastRequiredComponents,
		ExpectedReadback:            t.phase.ExpectedReadback,
		SafetyGates:                 t.phase.SafetyGates,
		GlobalGates:                 t.wb.GlobalSafetyGates,
		NextStateTemplate:           t.phase.NextState,
		State:                       state,
		RandomSeed:                  t.seed,
	}
	if b != nil {
		pc.BranchID = b.ID
		pc.ScriptedTransmission = b.Transmission
		if len(b.ExpectedReadback) > 0 {
			pc.ExpectedReadback = b.ExpectedReadback
		}
		if len(b.RequiredComponents) > 0 {
			pc.RequiredComponents = b.RequiredComponents
		}
	}
	return pc
}

func (t *run) scoringContext() collab.ScoringContext {
	return collab.ScoringContext{
		PhaseID:           t.phase.ID,
		Required:          t.phase.RequiredComponents,
		BroadcastRequired: t.phase.BroadcastRequiredComponents,
		ExpectedReadback:  t.phase.ExpectedReadback,
		Tolerance:         t.wb.Tolerance,
		Rubric:            t.wb.Rubric,
		ReadbackPolicy:    t.wb.ReadbackPolicy(),
		Context:           t.phaseContext(t.req.State, nil),
		TowerActive:       t.wb.TowerActive(),
	}
}

// trafficContext builds the traffic payload for mode. The nearest mode
// targets the closest imminent conflict; the random mode picks an actor
// from the turn's context seed.
func (t *run) trafficContext(mode router.Speaker, state statebag.Bag, b *workbook.Branch) collab.TrafficContext {
	snapshot := t.wb.Traffic()
	tc := collab.TrafficContext{
		PhaseID:                     t.phase.ID,
		Mode:                        string(mode),
		Callsign:                    t.callsign,
		RunwayInUse:                 t.wb.RunwayInUse(),
		CTAFMHz:                     t.wb.Airport().CTAFMHz,
		Snapshot:                    snapshot,
		BroadcastRequiredComponents: t.phase.BroadcastRequiredComponents,
		Tolerance:                   t.wb.Tolerance,
		NextStateTemplate:           t.phase.NextState,
		State:                       state,
	}

	switch mode {
	case router.TrafficNearest:
		if c, ok := t.wb.NearestConflict(); ok {
			tc.TargetCallsign = c.WithCallsign
			tc.ConflictEvent = c.Event
		}
	case router.TrafficRandom:
		if n := len(snapshot.Actors); n > 0 {
			tc.TargetCallsign = snapshot.Actors[int(t.seed%int64(n))].Callsign
		}
	}

	if b != nil {
		tc.ScriptedTransmission = b.Transmission
		if len(b.RequiredComponents) > 0 {
			tc.BroadcastRequiredComponents = b.RequiredComponents
		}
	}
	return tc
}

func (t *run) load() collab.Load {
	congestion := t.req.Difficulty.Congestion
	return collab.Load{
		TrafficDensity:    congestion,
		Clarity:           1 - congestion,
		ControllerPersona: t.persona,
		RFQuality:         t.wb.Traffic().Density,
	}
}

func (t *run) atcTransmission(reply collab.ATCReply) Transmission {
	freq := t.phase.PrimaryFreqMHz
	if freq == 0 {
		freq = t.wb.Airport().TowerMHz
	}
	return Transmission{
		Source:     SourceATC,
		FreqMHz:    freq,
		Text:       reply.Transmission,
		Tone:       toneOr(reply.TTSTone),
		Persona:    t.persona,
		Attributes: map[string]string{"direction": "N/A"},
	}
}

func (t *run) trafficTransmission(reply collab.TrafficReply) Transmission {
	return TrafficTransmission(t.wb, reply)
}

// TrafficTransmission renders a traffic reply as a timeline entry on the
// tower frequency when a tower is active, otherwise on CTAF.
func TrafficTransmission(wb *workbook.Workbook, reply collab.TrafficReply) Transmission {
	callsign := reply.SourceCallsign
	if callsign == "" {
		callsign = collab.FallbackTrafficCallsign
	}
	airport := wb.Airport()
	freq := airport.CTAFMHz
	if airport.TowerActive {
		freq = airport.TowerMHz
	}
	attrs := reply.Attributes
	if len(attrs) == 0 {
		attrs = map[string]string{"role": "traffic"}
	}
	return Transmission{
		Source:     trafficPrefix + callsign,
		FreqMHz:    freq,
		Text:       reply.Transmission,
		Tone:       toneOr(reply.TTSTone),
		Persona:    collab.PersonaConcise,
		Attributes: attrs,
	}
}

func toneOr(tone string) string {
	if tone == "" {
		return collab.ToneProfessional
	}
	return tone
}
