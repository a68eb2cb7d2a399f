// Package router decides who answers the trainee on a given turn.
package router

import (
	"github.com/metalagman/pilotsim/internal/rng"
	"github.com/metalagman/pilotsim/internal/workbook"
)

// Speaker is the party that produces the reply.
type Speaker string

// Speakers, also used as traffic collaborator modes.
const (
	ATC            Speaker = "ATC"
	CTAF           Speaker = "CTAF"
	TrafficNearest Speaker = "TRAFFIC_NEAREST"
	TrafficRandom  Speaker = "TRAFFIC_RANDOM"
)

// IsTraffic reports whether the traffic collaborator answers.
func (s Speaker) IsTraffic() bool {
	return s == CTAF || s == TrafficNearest || s == TrafficRandom
}

// Choose picks the responder. The order is fixed: an active tower always
// answers; otherwise an imminent conflict brings in the nearest aircraft;
// otherwise a random aircraft may interject; otherwise a generic CTAF
// broadcast. The random source is consulted only when the first two rules
// do not apply. The silence flag does not change the outcome.
func Choose(wb *workbook.Workbook, phase *workbook.Phase, _, conflictImminent bool, r rng.Source) Speaker {
	if wb.TowerActive() {
		return ATC
	}
	if conflictImminent {
		return TrafficNearest
	}
	var prob float64
	if phase != nil {
		prob = phase.ResponderMap.RandomInterjectProbability
	}
	if r.Float64() < prob {
		return TrafficRandom
	}
	return CTAF
}
