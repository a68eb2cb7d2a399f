// Package collab defines the contracts of the language-service collaborators
// the turn orchestrator depends on, and the safe replies used when they fail.
package collab

import (
	"context"

	"github.com/metalagman/pilotsim/internal/statebag"
)

// Scorer assesses a trainee transmission.
type Scorer interface {
	Score(ctx context.Context, transcript string, sc ScoringContext, d Difficulty) (Verdict, error)
}

// Controller produces the ATC reply.
type Controller interface {
	Next(ctx context.Context, transcript string, pc PhaseContext, d Difficulty, load Load) (ATCReply, error)
}

// TrafficAgent produces a traffic pilot broadcast.
type TrafficAgent interface {
	Next(ctx context.Context, transcript string, tc TrafficContext, d Difficulty) (TrafficReply, error)
}

// Set bundles the three collaborators.
type Set struct {
	Scorer     Scorer
	Controller Controller
	Traffic    TrafficAgent
}

const (
	// UnclearText is spoken when a transmission could not be processed.
	UnclearText = "say again, transmission unclear"
	// FallbackTrafficCallsign identifies a generic traffic broadcast.
	FallbackTrafficCallsign = "TRAFFIC"
	fallbackTrafficText     = "Traffic, aircraft in the circuit."
)

// NeutralVerdict is used when scoring fails.
func NeutralVerdict() Verdict {
	return Verdict{
		Critical:    []string{"Scoring error"},
		Normalized:  0.5,
		BlockReason: "System error",
	}
}

// FallbackATC is a non-advancing controller reply for phaseID.
func FallbackATC(phaseID string) ATCReply {
	return ATCReply{
		Transmission: UnclearText,
		NextState:    holdPhase(phaseID),
		TTSTone:      ToneProfessional,
	}
}

// FallbackTraffic is a non-advancing generic traffic broadcast for phaseID.
func FallbackTraffic(phaseID string) TrafficReply {
	return TrafficReply{
		Transmission:   fallbackTrafficText,
		SourceCallsign: FallbackTrafficCallsign,
		NextState:      holdPhase(phaseID),
		TTSTone:        ToneProfessional,
		Attributes:     map[string]string{"role": "traffic"},
	}
}

func holdPhase(phaseID string) statebag.Delta {
	return statebag.Delta{statebag.PhaseKey: statebag.String(phaseID)}
}
