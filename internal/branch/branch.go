// Package branch selects a scripted deviation within a phase.
package branch

import (
	"github.com/metalagman/pilotsim/internal/criterion"
	"github.com/metalagman/pilotsim/internal/rng"
	"github.com/metalagman/pilotsim/internal/statebag"
	"github.com/metalagman/pilotsim/internal/workbook"
)

// Resolve returns the selected branch or nil.
//
// With variability <= 0 or no branches nothing is drawn. Otherwise exactly one
// draw p is taken and branches are walked in declaration order accumulating
// probability*variability; the first branch with p <= acc wins. A branch
// whose guard does not hold against src is skipped and adds no mass.
func Resolve(phase *workbook.Phase, src criterion.Source, r rng.Source, variability float64) *workbook.Branch {
	if phase == nil || variability <= 0 || len(phase.Branches) == 0 {
		return nil
	}
	p := r.Float64()
	var acc float64
	for i := range phase.Branches {
		b := &phase.Branches[i]
		if !criterion.All(b.Guard, src) {
			continue
		}
		acc += b.Probability * variability
		if p <= acc {
			return b
		}
	}
	return nil
}

// Effects converts a branch's effects into a state delta.
func Effects(b *workbook.Branch) statebag.Delta {
	if b == nil || len(b.Effects) == 0 {
		return nil
	}
	out := make(statebag.Delta, len(b.Effects))
	for _, eff := range b.Effects {
		out[eff.Key] = eff.Value
	}
	return out
}
