// Package llm implements the language-service collaborators on top of a
// one-shot text completion backend.
package llm

import (
	"context"
	"fmt"
	"math"
	"slices"
	"strings"

	"github.com/metalagman/pilotsim/internal/collab"
	"github.com/metalagman/pilotsim/internal/statebag"
	"github.com/rs/zerolog/log"
)

// Completer sends a system instruction and an input and returns raw text.
type Completer interface {
	Name() string
	Complete(ctx context.Context, instructions, input string) (string, error)
}

// New builds the full collaborator set on one backend.
func New(c Completer) collab.Set {
	return collab.Set{
		Scorer:     &Scorer{c: c},
		Controller: &Controller{c: c},
		Traffic:    &Traffic{c: c},
	}
}

// Scorer asks the backend to grade a transmission.
type Scorer struct {
	c Completer
}

// NewScorer returns a backend-driven scorer.
func NewScorer(c Completer) *Scorer {
	return &Scorer{c: c}
}

type verdictWire struct {
	Normalized       float64                 `json:"normalized"`
	ScoreDelta       float64                 `json:"score_delta"`
	SafetyFlag       bool                    `json:"safety_flag"`
	BlockReason      string                  `json:"block_reason"`
	Missing          []string                `json:"mandatory_readback_missing"`
	Components       []collab.ComponentScore `json:"components"`
	Critical         []string                `json:"critical"`
	Improvements     []string                `json:"improvements"`
	ExemplarReadback string                  `json:"exemplar_readback"`
}

// Score implements collab.Scorer.
func (s *Scorer) Score(ctx context.Context, transcript string, sc collab.ScoringContext, d collab.Difficulty) (collab.Verdict, error) {
	input := fmt.Sprintf("DIFFICULTY: %s\nSTUDENT: %q\nSTATE:\n%s", d, transcript, collab.Payload(sc))
	out, err := s.c.Complete(ctx, instructorPrompt, input)
	if err != nil {
		return collab.Verdict{}, fmt.Errorf("score transmission: %w", err)
	}

	var w verdictWire
	if err := decode(verdictSchema, out, &w); err != nil {
		return collab.Verdict{}, fmt.Errorf("score transmission: %w", err)
	}

	v := collab.Verdict{
		Critical:         w.Critical,
		Improvements:     w.Improvements,
		ExemplarReadback: w.ExemplarReadback,
		Normalized:       w.Normalized,
		ScoreDelta:       int(math.Round(w.ScoreDelta)),
		BlockReason:      strings.TrimSpace(w.BlockReason),
		Components:       w.Components,
		SafetyFlag:       w.SafetyFlag,
	}
	if sc.Rubric != nil {
		v.RubricVersion = sc.Rubric.Version
	}
	if v.SafetyFlag && v.BlockReason == "" {
		v.BlockReason = "Safety concern"
	}

	// Listed omissions count as zero-scored components so the block policy
	// sees them.
	have := v.Missing()
	for _, code := range w.Missing {
		code = strings.TrimSpace(code)
		if code == "" || slices.Contains(have, code) {
			continue
		}
		v.Components = append(v.Components, collab.ComponentScore{
			Code:     code,
			Category: "Readback",
			Severity: "major",
			Detail:   "reported missing",
		})
		have = append(have, code)
	}
	return v, nil
}

// Controller asks the backend for the ATC reply.
type Controller struct {
	c Completer
}

// NewController returns a backend-driven controller.
func NewController(c Completer) *Controller {
	return &Controller{c: c}
}

type atcWire struct {
	Transmission     string         `json:"transmission"`
	ExpectedReadback []string       `json:"expected_readback"`
	NextState        map[string]any `json:"next_state"`
	HoldShort        bool           `json:"hold_short"`
	TTSTone          string         `json:"tts_tone"`
}

// Next implements collab.Controller.
func (c *Controller) Next(ctx context.Context, transcript string, pc collab.PhaseContext, d collab.Difficulty, load collab.Load) (collab.ATCReply, error) {
	input := fmt.Sprintf("DIFFICULTY: %s\nLOAD:\n%s\nSTUDENT: %q\nSTATE:\n%s", d, collab.Payload(load), transcript, collab.Payload(pc))
	out, err := c.c.Complete(ctx, controllerPrompt, input)
	if err != nil {
		return collab.ATCReply{}, fmt.Errorf("atc reply: %w", err)
	}

	var w atcWire
	if err := decode(atcSchema, out, &w); err != nil {
		return collab.ATCReply{}, fmt.Errorf("atc reply: %w", err)
	}
	next, err := nextState(w.NextState)
	if err != nil {
		return collab.ATCReply{}, fmt.Errorf("atc reply: %w", err)
	}
	return collab.ATCReply{
		Transmission:     w.Transmission,
		ExpectedReadback: w.ExpectedReadback,
		NextState:        next,
		HoldShort:        w.HoldShort,
		TTSTone:          tone(w.TTSTone),
	}, nil
}

// Traffic asks the backend for a traffic broadcast.
type Traffic struct {
	c Completer
}

// NewTraffic returns a backend-driven traffic agent.
func NewTraffic(c Completer) *Traffic {
	return &Traffic{c: c}
}

type trafficWire struct {
	Transmission     string            `json:"transmission"`
	SourceCallsign   string            `json:"source_callsign"`
	ExpectedReadback []string          `json:"expected_readback"`
	NextState        map[string]any    `json:"next_state"`
	TTSTone          string            `json:"tts_tone"`
	Attributes       map[string]string `json:"attributes"`
}

// Next implements collab.TrafficAgent.
func (t *Traffic) Next(ctx context.Context, transcript string, tc collab.TrafficContext, d collab.Difficulty) (collab.TrafficReply, error) {
	input := fmt.Sprintf("DIFFICULTY: %s\nSTATE:\n%s\nSTUDENT: %q", d, collab.Payload(tc), transcript)
	out, err := t.c.Complete(ctx, trafficPrompt, input)
	if err != nil {
		return collab.TrafficReply{}, fmt.Errorf("traffic reply: %w", err)
	}

	var w trafficWire
	if err := decode(trafficSchema, out, &w); err != nil {
		return collab.TrafficReply{}, fmt.Errorf("traffic reply: %w", err)
	}
	next, err := nextState(w.NextState)
	if err != nil {
		return collab.TrafficReply{}, fmt.Errorf("traffic reply: %w", err)
	}

	src := strings.TrimSpace(w.SourceCallsign)
	if src == "" {
		src = collab.FallbackTrafficCallsign
	}
	attrs := w.Attributes
	if len(attrs) == 0 {
		attrs = map[string]string{"role": "traffic"}
	}
	return collab.TrafficReply{
		Transmission:     w.Transmission,
		SourceCallsign:   src,
		ExpectedReadback: w.ExpectedReadback,
		NextState:        next,
		TTSTone:          tone(w.TTSTone),
		Attributes:       attrs,
	}, nil
}

// nextState flattens {"phase": ..., "state_deltas": [{key, value}]} into a
// plain delta. An empty phase is dropped.
func nextState(raw map[string]any) (statebag.Delta, error) {
	if len(raw) == 0 {
		return nil, nil
	}
	deltas, _ := raw["state_deltas"].([]any)
	flat := make(map[string]any, len(raw)+len(deltas))
	for k, v := range raw {
		if k == "state_deltas" {
			continue
		}
		flat[k] = v
	}
	for _, item := range deltas {
		entry, ok := item.(map[string]any)
		if !ok {
			continue
		}
		key, _ := entry["key"].(string)
		if key == "" {
			continue
		}
		flat[key] = entry["value"]
	}
	if p, ok := flat[statebag.PhaseKey].(string); ok && strings.TrimSpace(p) == "" {
		delete(flat, statebag.PhaseKey)
	}

	d, err := statebag.DeltaFromMap(flat)
	if err != nil {
		log.Debug().Err(err).Msg("llm: unusable next_state")
		return nil, fmt.Errorf("%w: next_state: %w", ErrMalformed, err)
	}
	return d, nil
}

func tone(s string) string {
	switch s = strings.ToLower(strings.TrimSpace(s)); s {
	case collab.ToneCalm, collab.ToneUrgent, collab.ToneProfessional:
		return s
	default:
		return collab.ToneProfessional
	}
}
