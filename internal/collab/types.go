package collab

import (
	"encoding/json"
	"fmt"
	"slices"
	"strings"

	"github.com/metalagman/pilotsim/internal/statebag"
	"github.com/metalagman/pilotsim/internal/workbook"
)

// Difficulty is the coarse difficulty passed to collaborators.
type Difficulty int

// Difficulty levels.
const (
	Basic Difficulty = iota
	Medium
	Advanced
)

func (d Difficulty) String() string {
	switch d {
	case Basic:
		return "basic"
	case Advanced:
		return "advanced"
	default:
		return "medium"
	}
}

// MarshalText implements encoding.TextMarshaler.
func (d Difficulty) MarshalText() ([]byte, error) {
	return []byte(d.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (d *Difficulty) UnmarshalText(text []byte) error {
	switch strings.ToLower(strings.TrimSpace(string(text))) {
	case "basic":
		*d = Basic
	case "medium", "":
		*d = Medium
	case "advanced":
		*d = Advanced
	default:
		return fmt.Errorf("unknown difficulty %q", text)
	}
	return nil
}

// Tones.
const (
	ToneProfessional = "professional"
	ToneCalm         = "calm"
	ToneUrgent       = "urgent"
)

// Controller personas.
const (
	PersonaConcise      = "concise"
	PersonaNormal       = "normal"
	PersonaHighWorkload = "high_workload"
)

// Load describes controller workload for the ATC collaborator.
type Load struct {
	TrafficDensity    float64 `json:"traffic_density"`
	Clarity           float64 `json:"clarity"`
	ControllerPersona string  `json:"controller_persona"`
	RFQuality         string  `json:"rf_quality,omitempty"`
}

// ComponentScore is one scored slot of a transmission.
type ComponentScore struct {
	Code     string  `json:"code"`
	Category string  `json:"category,omitempty"`
	Severity string  `json:"severity,omitempty"`
	Weight   float64 `json:"weight"`
	Score    float64 `json:"score"`
	Delta    float64 `json:"delta"`
	Detail   string  `json:"detail,omitempty"`
}

// Verdict is the scoring collaborator's assessment.
type Verdict struct {
	Critical         []string         `json:"critical,omitempty"`
	Improvements     []string         `json:"improvements,omitempty"`
	ExemplarReadback string           `json:"exemplar_readback,omitempty"`
	Normalized       float64          `json:"normalized"`
	ScoreDelta       int              `json:"score_delta"`
	BlockReason      string           `json:"block_reason,omitempty"`
	Components       []ComponentScore `json:"components,omitempty"`
	SafetyFlag       bool             `json:"safety_flag"`
	RubricVersion    string           `json:"rubric_version,omitempty"`
}

// Missing returns the codes of components scored exactly zero, in
// declaration order without duplicates.
func (v Verdict) Missing() []string {
	var out []string
	for _, c := range v.Components {
		if c.Code == "" || c.Score != 0 {
			continue
		}
		if !slices.Contains(out, c.Code) {
			out = append(out, c.Code)
		}
	}
	return out
}

// ATCReply is the controller collaborator's answer.
type ATCReply struct {
	Transmission     string         `json:"transmission"`
	ExpectedReadback []string       `json:"expected_readback,omitempty"`
	NextState        statebag.Delta `json:"next_state,omitempty"`
	HoldShort        bool           `json:"hold_short,omitempty"`
	TTSTone          string         `json:"tts_tone,omitempty"`
}

// TrafficReply is the traffic collaborator's answer.
type TrafficReply struct {
	Transmission     string            `json:"transmission"`
	SourceCallsign   string            `json:"source_callsign"`
	ExpectedReadback []string          `json:"expected_readback,omitempty"`
	NextState        statebag.Delta    `json:"next_state,omitempty"`
	TTSTone          string            `json:"tts_tone,omitempty"`
	Attributes       map[string]string `json:"attributes,omitempty"`
}

// ScoringContext is the instructor payload sent with a transcript.
type ScoringContext struct {
	PhaseID           string                  `json:"phase"`
	Required          []string                `json:"required"`
	BroadcastRequired []string                `json:"broadcast_required,omitempty"`
	ExpectedReadback  []string                `json:"expected_readback,omitempty"`
	Tolerance         *workbook.Tolerance     `json:"tolerance,omitempty"`
	Rubric            *workbook.Rubric        `json:"rubric,omitempty"`
	ReadbackPolicy    workbook.ReadbackPolicy `json:"readback_policy"`
	Context           PhaseContext            `json:"context"`
	TowerActive       bool                    `json:"tower_active"`
}

// PhaseContext is the working context of a turn.
type PhaseContext struct {
	PhaseID                     string                  `json:"phase_id"`
	Callsign                    string                  `json:"callsign,omitempty"`
	Resolved                    *workbook.Context       `json:"context_resolved,omitempty"`
	ReadbackPolicy              workbook.ReadbackPolicy `json:"readback_policy"`
	RequiredComponents          []string                `json:"required_components,omitempty"`
	BroadcastRequiredComponents []string                `json:"broadcast_required_components,omitempty"`
	ExpectedReadback            []string                `json:"expected_readback,omitempty"`
	SafetyGates                 []workbook.SafetyGate   `json:"safety_gates,omitempty"`
	GlobalGates                 []workbook.SafetyGate   `json:"global_gates,omitempty"`
	NextStateTemplate           statebag.Delta          `json:"next_state_template,omitempty"`
	State                       statebag.Bag            `json:"state"`
	BranchID                    string                  `json:"branch_id,omitempty"`
	ScriptedTransmission        string                  `json:"scripted_transmission,omitempty"`
	RandomSeed                  int64                   `json:"random_seed"`
}

// TrafficContext is the payload sent to the traffic collaborator.
type TrafficContext struct {
	PhaseID                     string                   `json:"phase_id"`
	Mode                        string                   `json:"mode"`
	Callsign                    string                   `json:"callsign,omitempty"`
	RunwayInUse                 string                   `json:"runway_in_use,omitempty"`
	CTAFMHz                     float64                  `json:"ctaf_mhz,omitempty"`
	Snapshot                    workbook.TrafficSnapshot `json:"traffic_snapshot"`
	BroadcastRequiredComponents []string                 `json:"broadcast_required_components,omitempty"`
	Tolerance                   *workbook.Tolerance      `json:"tolerance,omitempty"`
	TargetCallsign              string                   `json:"target_callsign,omitempty"`
	ConflictEvent               string                   `json:"conflict_event,omitempty"`
	ScriptedTransmission        string                   `json:"scripted_transmission,omitempty"`
	NextStateTemplate           statebag.Delta           `json:"next_state_template,omitempty"`
	State                       statebag.Bag             `json:"state"`
}

// Payload renders any context as indented JSON for prompts and logs.
func Payload(v any) string {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return "{}"
	}
	return string(data)
}
