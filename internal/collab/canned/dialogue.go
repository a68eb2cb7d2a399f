package canned

import (
	"context"
	"fmt"
	"maps"
	"math"
	"strings"

	"github.com/metalagman/pilotsim/internal/collab"
	"github.com/metalagman/pilotsim/internal/workbook"
)

const metresToFeet = 3.28084

// New returns the full canned collaborator set.
func New() collab.Set {
	return collab.Set{
		Scorer:     NewScorer(),
		Controller: NewController(),
		Traffic:    NewTraffic(),
	}
}

// Controller answers with the scripted transmission or a short
// acknowledgement, and proposes the phase's next-state template.
type Controller struct{}

// NewController returns a scripted controller.
func NewController() *Controller {
	return &Controller{}
}

// Next implements collab.Controller.
func (c *Controller) Next(ctx context.Context, transcript string, pc collab.PhaseContext, d collab.Difficulty, load collab.Load) (collab.ATCReply, error) {
	if err := ctx.Err(); err != nil {
		return collab.ATCReply{}, err
	}

	text := pc.ScriptedTransmission
	if text == "" {
		text = acknowledgement(pc.Callsign, load.ControllerPersona)
	}

	reply := collab.ATCReply{
		Transmission:     text,
		ExpectedReadback: pc.ExpectedReadback,
		NextState:        maps.Clone(pc.NextStateTemplate),
		TTSTone:          collab.ToneProfessional,
	}
	if v, ok := pc.NextStateTemplate["hold_short"]; ok {
		reply.HoldShort, _ = v.AsBool()
	}
	if pc.Resolved != nil && pc.Resolved.TrafficSnapshot != nil {
		for _, cf := range pc.Resolved.TrafficSnapshot.Conflicts {
			if cf.TimeToConflictS <= workbook.ConflictHorizonSeconds {
				reply.TTSTone = collab.ToneUrgent
				break
			}
		}
	}
	return reply, nil
}

func acknowledgement(callsign, persona string) string {
	prefix := ""
	if callsign != "" {
		prefix = callsign + ", "
	}
	switch persona {
	case collab.PersonaConcise:
		return prefix + "roger"
	case collab.PersonaHighWorkload:
		return prefix + "roger, standby"
	default:
		return prefix + "roger, continue"
	}
}

// Traffic broadcasts position reports for actors in the traffic snapshot.
type Traffic struct{}

// NewTraffic returns a snapshot-driven traffic agent.
func NewTraffic() *Traffic {
	return &Traffic{}
}

// Next implements collab.TrafficAgent.
func (t *Traffic) Next(ctx context.Context, transcript string, tc collab.TrafficContext, d collab.Difficulty) (collab.TrafficReply, error) {
	if err := ctx.Err(); err != nil {
		return collab.TrafficReply{}, err
	}

	reply := collab.TrafficReply{
		SourceCallsign: collab.FallbackTrafficCallsign,
		NextState:      maps.Clone(tc.NextStateTemplate),
		TTSTone:        collab.ToneProfessional,
		Attributes:     map[string]string{"role": "traffic"},
	}

	if tc.ScriptedTransmission != "" {
		reply.Transmission = tc.ScriptedTransmission
		return reply, nil
	}

	actor, ok := pickActor(tc)
	if !ok {
		reply.Transmission = fmt.Sprintf("Traffic, aircraft in the circuit, runway %s.", tc.RunwayInUse)
		return reply, nil
	}

	position := positionOf(actor.Intent)
	parts := []string{"Traffic", actor.Callsign}
	if actor.Type != "" {
		parts = append(parts, actor.Type)
	}
	leg := position
	if tc.RunwayInUse != "" {
		leg += " runway " + tc.RunwayInUse
	}
	parts = append(parts, leg)
	if actor.AltMMSL != nil {
		parts = append(parts, fmt.Sprintf("%d feet", int(math.Round(*actor.AltMMSL*metresToFeet/100)*100)))
	}
	if tc.ConflictEvent != "" {
		parts = append(parts, "looking for traffic")
		reply.TTSTone = collab.ToneUrgent
	}

	reply.Transmission = strings.Join(parts, ", ") + "."
	reply.SourceCallsign = actor.Callsign
	reply.Attributes["direction"] = position
	return reply, nil
}

func pickActor(tc collab.TrafficContext) (workbook.TrafficActor, bool) {
	actors := tc.Snapshot.Actors
	if len(actors) == 0 {
		return workbook.TrafficActor{}, false
	}
	if tc.TargetCallsign != "" {
		for _, a := range actors {
			if strings.EqualFold(a.Callsign, tc.TargetCallsign) {
				return a, true
			}
		}
	}
	return actors[0], true
}

func positionOf(intent string) string {
	intent = strings.ToLower(intent)
	for _, leg := range []string{"downwind", "crosswind", "upwind", "base", "final", "overhead"} {
		if strings.Contains(intent, leg) {
			return leg
		}
	}
	if intent == "" {
		return "in the circuit"
	}
	return strings.ReplaceAll(intent, "_", " ")
}
