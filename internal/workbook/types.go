// Package workbook defines the per-session scenario definition: the phase
// catalogue, safety gates, rubric and the resolved environmental context.
package workbook

import (
	"github.com/metalagman/pilotsim/internal/criterion"
	"github.com/metalagman/pilotsim/internal/statebag"
)

// ConflictHorizonSeconds is the time-to-conflict at or below which a traffic
// conflict counts as imminent.
const ConflictHorizonSeconds = 90

// Workbook is read-only once a session starts.
type Workbook struct {
	Meta              *Meta        `json:"meta,omitempty"`
	Phases            []Phase      `json:"phases"`
	GlobalSafetyGates []SafetyGate `json:"global_safety_gates,omitempty"`
	Rubric            *Rubric      `json:"rubric,omitempty"`
	Tolerance         *Tolerance   `json:"tolerance,omitempty"`
	Context           *Context     `json:"context_resolved,omitempty"`
}

// Meta identifies a scenario.
type Meta struct {
	ID      string `json:"id"`
	Title   string `json:"title,omitempty"`
	Author  string `json:"author,omitempty"`
	Version string `json:"version,omitempty"`
}

// Phase is one step of a scenario.
type Phase struct {
	ID                          string                `json:"id"`
	Name                        string                `json:"name,omitempty"`
	PrimaryFreqMHz              float64               `json:"primary_freq_mhz,omitempty"`
	RequiredComponents          []string              `json:"required_components,omitempty"`
	BroadcastRequiredComponents []string              `json:"broadcast_required_components,omitempty"`
	ExpectedReadback            []string              `json:"expected_readback,omitempty"`
	EntryCriteria               []criterion.Criterion `json:"entry_criteria,omitempty"`
	SafetyGates                 []SafetyGate          `json:"safety_gates,omitempty"`
	NextState                   statebag.Delta        `json:"next_state,omitempty"`
	Branches                    []Branch              `json:"branches,omitempty"`
	ResponderMap                ResponderMap          `json:"responder_map"`
}

// ResponderMap tunes who answers in a phase.
type ResponderMap struct {
	RandomInterjectProbability float64 `json:"random_interject_prob,omitempty"`
}

// Branch is a scripted, probabilistic deviation within a phase.
type Branch struct {
	ID                 string                `json:"id"`
	Probability        float64               `json:"probability"`
	Guard              []criterion.Criterion `json:"guard,omitempty"`
	Effects            []StateDelta          `json:"effects,omitempty"`
	Transmission       string                `json:"transmission,omitempty"`
	ExpectedReadback   []string              `json:"expected_readback,omitempty"`
	RequiredComponents []string              `json:"required_components,omitempty"`
}

// StateDelta replaces one top-level state key.
type StateDelta struct {
	Key   string         `json:"key"`
	Value statebag.Value `json:"value"`
}

// GateAction is what a triggered safety gate does.
type GateAction string

// Gate actions.
const (
	ActionBlock GateAction = "block"
	ActionWarn  GateAction = "warn"
	ActionCoach GateAction = "coach"
)

// SafetyGate fires its action when Trigger holds.
type SafetyGate struct {
	ID       string              `json:"id"`
	Trigger  criterion.Criterion `json:"trigger"`
	Action   GateAction          `json:"action"`
	Override string              `json:"override,omitempty"`
}

// Rubric holds scoring configuration consumed by the scoring collaborator.
type Rubric struct {
	Version        string             `json:"version,omitempty"`
	Weights        map[string]float64 `json:"weights,omitempty"`
	SafetyCap      float64            `json:"safety_cap,omitempty"`
	SafetyCritical []string           `json:"safety_critical,omitempty"`
	ReadbackPolicy ReadbackPolicy     `json:"readback_policy"`
}

// ReadbackPolicy lists components whose absence blocks or warns.
type ReadbackPolicy struct {
	BlockOnMissing []string `json:"block_on_missing,omitempty"`
	WarnOnMissing  []string `json:"warn_on_missing,omitempty"`
}

// Tolerance configures how leniently transmissions are matched.
type Tolerance struct {
	Strictness      float64                   `json:"strictness,omitempty"`
	SlotDefinitions map[string]SlotDefinition `json:"slot_definitions,omitempty"`
	Synonyms        map[string][]string       `json:"synonyms,omitempty"`
}

// SlotDefinition describes how a component is recognised in a transcript.
type SlotDefinition struct {
	Keywords []string `json:"keywords,omitempty"`
	Units    string   `json:"units,omitempty"`
}

// Context is the environment resolved at session start.
type Context struct {
	Airport         *Airport         `json:"airport,omitempty"`
	RunwayInUse     string           `json:"runway_in_use,omitempty"`
	Weather         *Weather         `json:"weather_si,omitempty"`
	AtisText        string           `json:"atis_txt,omitempty"`
	TrafficSnapshot *TrafficSnapshot `json:"traffic_snapshot,omitempty"`
}

// Airport describes the aerodrome.
type Airport struct {
	ICAO          string   `json:"icao,omitempty"`
	Name          string   `json:"name,omitempty"`
	TowerActive   bool     `json:"tower_active"`
	TowerMHz      float64  `json:"tower_mhz,omitempty"`
	GroundMHz     float64  `json:"ground_mhz,omitempty"`
	AtisMHz       float64  `json:"atis_mhz,omitempty"`
	ApproachMHz   float64  `json:"approach_mhz,omitempty"`
	CTAFMHz       float64  `json:"ctaf_mhz,omitempty"`
	LatDeg        float64  `json:"lat_deg,omitempty"`
	LonDeg        float64  `json:"lon_deg,omitempty"`
	ElevationMMSL *float64 `json:"elevation_m_msl,omitempty"`
}

// Weather is stored in SI units.
type Weather struct {
	WindDirDeg    int     `json:"wind_dir_deg"`
	WindSpeedMps  float64 `json:"wind_speed_mps"`
	VisKm         float64 `json:"vis_km"`
	QNHHpa        int     `json:"qnh_hpa"`
	TempC         int     `json:"temp_c"`
	CloudBaseMAGL int     `json:"cloud_base_m_agl"`
}

// TrafficSnapshot lists other aircraft and predicted conflicts.
type TrafficSnapshot struct {
	Density   string         `json:"density,omitempty"`
	Actors    []TrafficActor `json:"actors,omitempty"`
	Conflicts []Conflict     `json:"conflicts,omitempty"`
}

// TrafficActor is another aircraft in the scenario.
type TrafficActor struct {
	Callsign string   `json:"callsign"`
	Type     string   `json:"type,omitempty"`
	Intent   string   `json:"intent,omitempty"`
	AltMMSL  *float64 `json:"alt_m_msl,omitempty"`
	GsMps    *float64 `json:"gs_mps,omitempty"`
	EtaS     *float64 `json:"eta_s,omitempty"`
}

// Conflict is a predicted loss of separation with an actor.
type Conflict struct {
	WithCallsign    string  `json:"with_callsign"`
	Event           string  `json:"event,omitempty"`
	TimeToConflictS float64 `json:"time_to_conflict_s"`
}
