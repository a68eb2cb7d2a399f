// Package gate decides whether a scored transmission blocks phase advancement.
package gate

import (
	"fmt"
	"slices"

	"github.com/metalagman/pilotsim/internal/collab"
	"github.com/metalagman/pilotsim/internal/criterion"
	"github.com/metalagman/pilotsim/internal/statebag"
	"github.com/metalagman/pilotsim/internal/workbook"
)

// ReasonMandatoryMissing is used when the verdict carries no reason.
const ReasonMandatoryMissing = "mandatory item missing"

// Decision is the outcome of a gate check.
type Decision struct {
	Block     bool
	Reason    string
	Missing   []string
	Triggered []string
	Warnings  []string
	Coaching  []string
}

// Evaluate applies the readback policy and the safety gates.
//
// The turn blocks when a zero-scored component is listed in BlockOnMissing,
// when the verdict raises its safety flag, or when a triggered gate has the
// block action. Global gates are evaluated before phase gates, both against
// state merged with the verdict. A bias above 1 escalates warn gates to
// block.
func Evaluate(wb *workbook.Workbook, phase *workbook.Phase, v collab.Verdict, state criterion.Source, bias float64) Decision {
	policy := wb.ReadbackPolicy()
	d := Decision{Missing: v.Missing()}

	policyBlock := v.SafetyFlag
	for _, code := range d.Missing {
		if slices.Contains(policy.BlockOnMissing, code) {
			policyBlock = true
		}
		if slices.Contains(policy.WarnOnMissing, code) {
			d.Warnings = append(d.Warnings, "readback missing: "+code)
		}
	}
	if policyBlock {
		d.Block = true
		d.Reason = v.BlockReason
		if d.Reason == "" {
			d.Reason = ReasonMandatoryMissing
		}
	}

	src := criterion.Sources{VerdictSource(v, d.Missing), state}
	gates := slices.Clone(wb.GlobalSafetyGates)
	if phase != nil {
		gates = append(gates, phase.SafetyGates...)
	}
	for _, g := range gates {
		if !criterion.Evaluate(g.Trigger, src) {
			continue
		}
		d.Triggered = append(d.Triggered, g.ID)
		action := g.Action
		if action == workbook.ActionWarn && bias > 1 {
			action = workbook.ActionBlock
		}
		switch action {
		case workbook.ActionBlock:
			if !d.Block {
				d.Block = true
				d.Reason = gateText(g)
			}
		case workbook.ActionWarn:
			d.Warnings = append(d.Warnings, gateText(g))
		case workbook.ActionCoach:
			d.Coaching = append(d.Coaching, coachText(g))
		}
	}
	return d
}

func gateText(g workbook.SafetyGate) string {
	if g.Override != "" {
		return g.Override
	}
	return fmt.Sprintf("safety gate %s triggered", g.ID)
}

func coachText(g workbook.SafetyGate) string {
	if g.Override != "" {
		return g.Override
	}
	return "review: " + g.Trigger.String()
}

// VerdictSource exposes a verdict under the "verdict." path prefix:
// normalized, score_delta, safety_flag, block_reason, missing and
// components.<CODE>.{score,weight,delta,severity,category}.
func VerdictSource(v collab.Verdict, missing []string) criterion.Source {
	comps := make(map[string]statebag.Value, len(v.Components))
	for _, c := range v.Components {
		if c.Code == "" {
			continue
		}
		comps[c.Code] = statebag.Object(map[string]statebag.Value{
			"score":    statebag.Number(c.Score),
			"weight":   statebag.Number(c.Weight),
			"delta":    statebag.Number(c.Delta),
			"severity": statebag.String(c.Severity),
			"category": statebag.String(c.Category),
		})
	}
	fields := map[string]statebag.Value{
		"normalized":  statebag.Number(v.Normalized),
		"score_delta": statebag.Number(float64(v.ScoreDelta)),
		"safety_flag": statebag.Bool(v.SafetyFlag),
		"missing":     statebag.Strings(missing...),
		"components":  statebag.Object(comps),
	}
	if v.BlockReason != "" {
		fields["block_reason"] = statebag.String(v.BlockReason)
	}
	return statebag.New(map[string]statebag.Value{"verdict": statebag.Object(fields)})
}
