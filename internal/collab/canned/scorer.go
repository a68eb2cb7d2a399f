// Package canned implements deterministic, rule-based collaborators used for
// offline sessions, tests and as a reference for the collaborator contracts.
package canned

import (
	"context"
	"math"
	"slices"
	"strings"
	"unicode"

	"github.com/metalagman/pilotsim/internal/collab"
)

const (
	defaultStrictness = 0.6
	severityCritical  = "critical"
	severityMajor     = "major"
	severityMinor     = "minor"
	categoryReadback  = "Readback"
	categoryPhrase    = "PhraseAccuracy"
	codeCallsign      = "CALLSIGN"
)

// defaultKeywords covers common component codes when a workbook does not
// define slot keywords.
var defaultKeywords = map[string][]string{
	"RUNWAY":        {"runway"},
	"HOLDING_POINT": {"holding point", "hold short"},
	"QNH":           {"qnh"},
	"SQUAWK":        {"squawk"},
	"TAXIWAY":       {"taxiway", "via"},
	"ALTITUDE":      {"feet", "altitude", "climb", "descend"},
	"POSITION":      {"downwind", "base", "final", "crosswind", "upwind", "overhead"},
	"INTENTIONS":    {"intentions", "full stop", "touch and go", "departing", "inbound"},
	"AIRCRAFT_TYPE": {"cessna", "piper", "c172", "pa28"},
	"LOCATION":      {"traffic"},
}

// Scorer matches component keywords in the transcript.
type Scorer struct{}

// NewScorer returns a keyword scorer.
func NewScorer() *Scorer {
	return &Scorer{}
}

// Score implements collab.Scorer.
func (s *Scorer) Score(ctx context.Context, transcript string, sc collab.ScoringContext, d collab.Difficulty) (collab.Verdict, error) {
	if err := ctx.Err(); err != nil {
		return collab.Verdict{}, err
	}

	codes := componentCodes(sc)
	text := normalize(transcript)
	strictness := strictnessFor(sc, d)

	var safetyCritical []string
	version := ""
	if sc.Rubric != nil {
		safetyCritical = sc.Rubric.SafetyCritical
		version = sc.Rubric.Version
	}

	v := collab.Verdict{RubricVersion: version}
	if len(codes) == 0 {
		if strings.TrimSpace(text) != "" {
			v.Normalized = 1
		}
		v.ScoreDelta = scoreDelta(v.Normalized)
		return v, nil
	}

	var (
		total, earned float64
		cappedBy      []string
	)
	for _, code := range codes {
		score := slotScore(text, keywordsFor(code, sc), strictness)
		weight := weightFor(code, sc, len(codes))
		severity := severityMinor
		switch {
		case slices.Contains(safetyCritical, code):
			severity = severityCritical
		case slices.Contains(sc.ReadbackPolicy.BlockOnMissing, code):
			severity = severityMajor
		}
		category := categoryPhrase
		if slices.Contains(sc.ExpectedReadback, code) {
			category = categoryReadback
		}
		comp := collab.ComponentScore{
			Code:     code,
			Category: category,
			Severity: severity,
			Weight:   weight,
			Score:    score,
			Delta:    round2(weight * score * 10),
		}
		if score == 0 {
			comp.Detail = "not found in transmission"
			v.Improvements = append(v.Improvements, "include "+humanize(code))
			if severity == severityCritical {
				cappedBy = append(cappedBy, code)
				v.Critical = append(v.Critical, humanize(code)+" omitted")
			}
		}
		v.Components = append(v.Components, comp)
		total += weight
		earned += weight * score
	}

	if total > 0 {
		v.Normalized = round2(earned / total)
	}
	if len(cappedBy) > 0 && sc.Rubric != nil && sc.Rubric.SafetyCap > 0 {
		v.Normalized = math.Min(v.Normalized, sc.Rubric.SafetyCap)
	}
	v.ScoreDelta = scoreDelta(v.Normalized)
	v.ExemplarReadback = exemplar(sc)
	return v, nil
}

func componentCodes(sc collab.ScoringContext) []string {
	var src []string
	if !sc.TowerActive && len(sc.BroadcastRequired) > 0 {
		src = sc.BroadcastRequired
	} else {
		src = sc.Required
	}
	out := make([]string, 0, len(src))
	for _, code := range src {
		code = strings.TrimSpace(code)
		if code != "" && !slices.Contains(out, code) {
			out = append(out, code)
		}
	}
	return out
}

func strictnessFor(sc collab.ScoringContext, d collab.Difficulty) float64 {
	s := defaultStrictness
	if sc.Tolerance != nil && sc.Tolerance.Strictness > 0 {
		s = sc.Tolerance.Strictness
	}
	switch d {
	case collab.Basic:
		s *= 0.8
	case collab.Advanced:
		s = math.Min(1, s+0.2)
	}
	return s
}

func keywordsFor(code string, sc collab.ScoringContext) []string {
	var base []string
	if sc.Tolerance != nil {
		if def, ok := sc.Tolerance.SlotDefinitions[code]; ok && len(def.Keywords) > 0 {
			base = def.Keywords
		}
	}
	if len(base) == 0 && code == codeCallsign && sc.Context.Callsign != "" {
		base = callsignForms(sc.Context.Callsign)
	}
	if len(base) == 0 {
		base = defaultKeywords[code]
	}
	if len(base) == 0 {
		base = []string{humanize(code)}
	}

	out := make([]string, 0, len(base))
	for _, kw := range base {
		out = append(out, normalize(kw))
		if sc.Tolerance != nil {
			for _, syn := range sc.Tolerance.Synonyms[kw] {
				out = append(out, normalize(syn))
			}
		}
	}
	return out
}

func callsignForms(callsign string) []string {
	forms := []string{callsign}
	if i := strings.LastIndex(callsign, "-"); i >= 0 && i < len(callsign)-1 {
		forms = append(forms, callsign[i+1:])
	}
	return forms
}

func weightFor(code string, sc collab.ScoringContext, n int) float64 {
	if sc.Rubric != nil {
		if w, ok := sc.Rubric.Weights[code]; ok && w > 0 {
			return w
		}
	}
	return round2(1 / float64(n))
}

// slotScore is 1 when any keyword is fully present, the best partial token
// coverage when it reaches strictness, and 0 otherwise.
func slotScore(text string, keywords []string, strictness float64) float64 {
	tokens := strings.Fields(text)
	padded := " " + text + " "
	var best float64
	for _, kw := range keywords {
		if kw == "" {
			continue
		}
		if strings.Contains(padded, " "+kw+" ") {
			return 1
		}
		parts := strings.Fields(kw)
		if len(parts) < 2 {
			continue
		}
		var hit int
		for _, p := range parts {
			if slices.Contains(tokens, p) {
				hit++
			}
		}
		best = math.Max(best, float64(hit)/float64(len(parts)))
	}
	if best >= strictness {
		return round2(best)
	}
	return 0
}

func normalize(s string) string {
	s = strings.ToLower(s)
	s = strings.Map(func(r rune) rune {
		if unicode.IsLetter(r) || unicode.IsDigit(r) || r == '.' {
			return r
		}
		return ' '
	}, s)
	return strings.Join(strings.Fields(s), " ")
}

func humanize(code string) string {
	return strings.ToLower(strings.ReplaceAll(code, "_", " "))
}

func exemplar(sc collab.ScoringContext) string {
	if len(sc.ExpectedReadback) == 0 {
		return ""
	}
	parts := make([]string, 0, len(sc.ExpectedReadback)+1)
	for _, item := range sc.ExpectedReadback {
		parts = append(parts, humanize(item))
	}
	if sc.Context.Callsign != "" {
		parts = append(parts, sc.Context.Callsign)
	}
	return strings.Join(parts, ", ")
}

func scoreDelta(normalized float64) int {
	return int(math.Round(normalized*10)) - 5
}

func round2(f float64) float64 {
	return math.Round(f*100) / 100
}
