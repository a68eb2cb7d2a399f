package workbook

import (
	"errors"
	"fmt"
	"sort"
	"strings"

	"github.com/metalagman/pilotsim/internal/criterion"
	"github.com/metalagman/pilotsim/internal/statebag"
)

var (
	// ErrUnknownPhase is returned when a phase id is not in the catalogue.
	ErrUnknownPhase = errors.New("unknown phase")
	// ErrInvalid is returned when a workbook fails validation.
	ErrInvalid = errors.New("invalid workbook")
)

// Phase returns the phase with the given id.
func (w *Workbook) Phase(id string) (*Phase, error) {
	for i := range w.Phases {
		if w.Phases[i].ID == id {
			return &w.Phases[i], nil
		}
	}
	return nil, fmt.Errorf("phase %q: %w", id, ErrUnknownPhase)
}

// HasPhase reports whether id is in the catalogue.
func (w *Workbook) HasPhase(id string) bool {
	_, err := w.Phase(id)
	return err == nil
}

// TowerActive reports whether the aerodrome has an active tower.
func (w *Workbook) TowerActive() bool {
	return w.Context != nil && w.Context.Airport != nil && w.Context.Airport.TowerActive
}

// Airport returns the resolved airport or an empty one.
func (w *Workbook) Airport() Airport {
	if w.Context == nil || w.Context.Airport == nil {
		return Airport{}
	}
	return *w.Context.Airport
}

// Traffic returns the traffic snapshot or an empty one.
func (w *Workbook) Traffic() TrafficSnapshot {
	if w.Context == nil || w.Context.TrafficSnapshot == nil {
		return TrafficSnapshot{}
	}
	return *w.Context.TrafficSnapshot
}

// RunwayInUse returns the active runway designator.
func (w *Workbook) RunwayInUse() string {
	if w.Context == nil {
		return ""
	}
	return w.Context.RunwayInUse
}

// ReadbackPolicy returns the rubric readback policy or an empty one.
func (w *Workbook) ReadbackPolicy() ReadbackPolicy {
	if w.Rubric == nil {
		return ReadbackPolicy{}
	}
	return w.Rubric.ReadbackPolicy
}

// ConflictImminent reports whether any conflict is within the horizon.
func (w *Workbook) ConflictImminent() bool {
	_, ok := w.NearestConflict()
	return ok
}

// NearestConflict returns the imminent conflict with the smallest
// time-to-conflict.
func (w *Workbook) NearestConflict() (Conflict, bool) {
	var (
		best  Conflict
		found bool
	)
	for _, c := range w.Traffic().Conflicts {
		if c.TimeToConflictS > ConflictHorizonSeconds {
			continue
		}
		if !found || c.TimeToConflictS < best.TimeToConflictS {
			best, found = c, true
		}
	}
	return best, found
}

// Actor returns the traffic actor with the given callsign.
func (w *Workbook) Actor(callsign string) (TrafficActor, bool) {
	for _, a := range w.Traffic().Actors {
		if strings.EqualFold(a.Callsign, callsign) {
			return a, true
		}
	}
	return TrafficActor{}, false
}

// Validate checks structural integrity: unique phase ids, known operators and
// gate actions, and that every phase referenced by a template or branch
// effect exists.
func (w *Workbook) Validate() error {
	if len(w.Phases) == 0 {
		return fmt.Errorf("%w: no phases", ErrInvalid)
	}

	var problems []string
	seen := make(map[string]bool, len(w.Phases))
	for _, p := range w.Phases {
		if strings.TrimSpace(p.ID) == "" {
			problems = append(problems, "phase with empty id")
			continue
		}
		if seen[p.ID] {
			problems = append(problems, fmt.Sprintf("duplicate phase %q", p.ID))
		}
		seen[p.ID] = true
	}

	for _, g := range w.GlobalSafetyGates {
		problems = append(problems, checkGate("global", g)...)
	}

	for _, p := range w.Phases {
		where := fmt.Sprintf("phase %q", p.ID)
		problems = append(problems, checkCriteria(where+" entry", p.EntryCriteria)...)
		for _, g := range p.SafetyGates {
			problems = append(problems, checkGate(where, g)...)
		}
		if id, ok := p.NextState.PhaseOf(); ok && !seen[id] {
			problems = append(problems, fmt.Sprintf("%s next_state references unknown phase %q", where, id))
		}
		if p.ResponderMap.RandomInterjectProbability < 0 || p.ResponderMap.RandomInterjectProbability > 1 {
			problems = append(problems, fmt.Sprintf("%s random_interject_prob out of range", where))
		}
		for _, b := range p.Branches {
			bwhere := fmt.Sprintf("%s branch %q", where, b.ID)
			if b.Probability < 0 || b.Probability > 1 {
				problems = append(problems, bwhere+" probability out of range")
			}
			problems = append(problems, checkCriteria(bwhere+" guard", b.Guard)...)
			for _, eff := range b.Effects {
				if eff.Key != statebag.PhaseKey {
					continue
				}
				id, _ := eff.Value.AsString()
				if !seen[id] {
					problems = append(problems, fmt.Sprintf("%s effect references unknown phase %q", bwhere, id))
				}
			}
		}
	}

	if len(problems) == 0 {
		return nil
	}
	sort.Strings(problems)
	return fmt.Errorf("%w: %s", ErrInvalid, strings.Join(problems, "; "))
}

func checkGate(where string, g SafetyGate) []string {
	var out []string
	switch g.Action {
	case ActionBlock, ActionWarn, ActionCoach:
	default:
		out = append(out, fmt.Sprintf("%s gate %q has unknown action %q", where, g.ID, g.Action))
	}
	out = append(out, checkCriteria(fmt.Sprintf("%s gate %q", where, g.ID), []criterion.Criterion{g.Trigger})...)
	return out
}

func checkCriteria(where string, list []criterion.Criterion) []string {
	var out []string
	for _, c := range list {
		if !c.Op.Valid() {
			out = append(out, fmt.Sprintf("%s has unknown operator %q", where, c.Op))
		}
		if strings.TrimSpace(c.LHS) == "" {
			out = append(out, where+" has empty lhs")
		}
	}
	return out
}
