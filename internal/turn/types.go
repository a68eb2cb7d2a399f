package turn

import (
	"strings"

	"github.com/metalagman/pilotsim/internal/collab"
	"github.com/metalagman/pilotsim/internal/router"
	"github.com/metalagman/pilotsim/internal/statebag"
)

// Level is the trainee-facing difficulty.
type Level string

// Levels.
const (
	Easy   Level = "easy"
	Medium Level = "medium"
	Hard   Level = "hard"
)

// Difficulty maps the level onto the collaborator scale.
func (l Level) Difficulty() collab.Difficulty {
	switch Level(strings.ToLower(string(l))) {
	case Easy:
		return collab.Basic
	case Hard:
		return collab.Advanced
	default:
		return collab.Medium
	}
}

// Profile tunes a turn.
type Profile struct {
	Level             Level   `json:"level"`
	ParsingStrictness float64 `json:"parsing_strictness"`
	Congestion        float64 `json:"congestion"`
	Variability       float64 `json:"variability"`
	SafetyGateBias    float64 `json:"safety_gate_bias"`
}

// DefaultProfile is used when a caller does not supply one.
func DefaultProfile() Profile {
	return Profile{
		Level:             Medium,
		ParsingStrictness: 0.6,
		Congestion:        0.4,
		Variability:       0.3,
		SafetyGateBias:    1.0,
	}
}

// Request is one trainee turn.
type Request struct {
	SessionID         string       `json:"session_id"`
	TurnIndex         int          `json:"turn_index"`
	PhaseID           string       `json:"phase_id"`
	Callsign          string       `json:"callsign,omitempty"`
	Transcript        string       `json:"transcript"`
	State             statebag.Bag `json:"state"`
	Difficulty        Profile      `json:"difficulty"`
	Seed              *int64       `json:"seed,omitempty"`
	ControllerPersona string       `json:"controller_persona,omitempty"`
}

// Transmission sources.
const (
	SourceATC     = "ATC"
	SourceSystem  = "SYSTEM"
	trafficPrefix = "TRAFFIC:"
)

// Transmission is one timeline entry.
type Transmission struct {
	Source     string            `json:"source"`
	FreqMHz    float64           `json:"freq_mhz"`
	Text       string            `json:"text"`
	Tone       string            `json:"tone"`
	Persona    string            `json:"persona,omitempty"`
	Attributes map[string]string `json:"attributes,omitempty"`
}

// IsTraffic reports whether a traffic aircraft transmitted.
func (t Transmission) IsTraffic() bool {
	return strings.HasPrefix(t.Source, trafficPrefix)
}

// Response is the outcome of a turn.
type Response struct {
	PhaseID          string               `json:"phase_id"`
	NextPhaseID      string               `json:"next_phase_id"`
	Blocked          bool                 `json:"blocked"`
	BlockReason      string               `json:"block_reason,omitempty"`
	Speaker          router.Speaker       `json:"speaker"`
	BranchID         string               `json:"branch_id,omitempty"`
	Timeline         []Transmission       `json:"timeline"`
	Verdict          *collab.Verdict      `json:"verdict,omitempty"`
	ATC              *collab.ATCReply     `json:"atc,omitempty"`
	Traffic          *collab.TrafficReply `json:"traffic,omitempty"`
	UpdatedState     statebag.Bag         `json:"updated_state"`
	MandatoryMissing []string             `json:"mandatory_missing,omitempty"`
	ReadbackCoverage *float64             `json:"readback_coverage,omitempty"`
	TTSTone          string               `json:"tts_tone"`
	Warnings         []string             `json:"warnings,omitempty"`
	Coaching         []string             `json:"coaching,omitempty"`
	Degraded         bool                 `json:"degraded,omitempty"`
}
