package workbook

import (
	"fmt"
	"math"
	"strconv"
	"strings"

	"github.com/metalagman/pilotsim/internal/rng"
)

const (
	defaultPhaseID     = "phase_1"
	defaultPrimaryFreq = 118.700
	defaultRunway      = "UNKNOWN"
	defaultStrictness  = 0.6
	defaultSafetyCap   = 0.6
	defaultRubric      = "v1"
	densityLight       = "light"
	mpsToKnots         = 1.94
)

// ResolveOptions carries scenario metadata used to fill workbook gaps.
type ResolveOptions struct {
	ScenarioID       string
	Name             string
	PrimaryFrequency string
	TrafficDensity   string
	Seed             uint64
}

// Resolve fills every default the orchestrator relies on: meta, at least one
// phase, airport context, runway, seeded weather, ATIS text, a traffic
// snapshot, tolerance and rubric. Declared values are never overwritten.
// Generated values depend only on opts.Seed.
func Resolve(wb *Workbook, opts ResolveOptions) *Workbook {
	if wb == nil {
		wb = &Workbook{}
	}
	r := rng.New(opts.Seed)

	if wb.Meta == nil {
		wb.Meta = &Meta{ID: opts.ScenarioID, Author: "system"}
	}

	if len(wb.Phases) == 0 {
		name := opts.Name
		if name == "" {
			name = "Phase 1"
		}
		freq, ok := ParseFreq(opts.PrimaryFrequency)
		if !ok {
			freq = defaultPrimaryFreq
		}
		wb.Phases = []Phase{{ID: defaultPhaseID, Name: name, PrimaryFreqMHz: freq}}
	}

	if wb.Context == nil {
		wb.Context = &Context{}
	}
	ctx := wb.Context
	if ctx.Airport == nil {
		ctx.Airport = &Airport{}
	}
	if ctx.Airport.CTAFMHz == 0 {
		switch {
		case ctx.Airport.GroundMHz > 0:
			ctx.Airport.CTAFMHz = ctx.Airport.GroundMHz
		case ctx.Airport.TowerMHz > 0:
			ctx.Airport.CTAFMHz = ctx.Airport.TowerMHz
		}
	}
	if strings.TrimSpace(ctx.RunwayInUse) == "" {
		ctx.RunwayInUse = defaultRunway
	}

	if ctx.Weather == nil {
		ctx.Weather = &Weather{
			WindDirDeg:    10 + r.Intn(350),
			WindSpeedMps:  4 + r.Float64()*6,
			VisKm:         8 + r.Float64()*4,
			QNHHpa:        1008 + r.Intn(12),
			TempC:         14 + r.Intn(10),
			CloudBaseMAGL: 600 + r.Intn(600),
		}
	}
	if ctx.AtisText == "" {
		ctx.AtisText = AtisText(*ctx.Weather)
	}

	if ctx.TrafficSnapshot == nil {
		ctx.TrafficSnapshot = &TrafficSnapshot{}
	}
	snap := ctx.TrafficSnapshot
	if d := strings.TrimSpace(opts.TrafficDensity); d != "" {
		snap.Density = strings.ToLower(d)
	}
	if len(snap.Actors) == 0 && snap.Density != densityLight {
		snap.Actors = append(snap.Actors, TrafficActor{
			Callsign: "VH-ABC",
			Type:     "C172",
			Intent:   "circuit_downwind",
			AltMMSL:  ptr(1000.0),
			GsMps:    ptr(30.0),
			EtaS:     ptr(90.0),
		})
	}
	if len(snap.Actors) > 1 && len(snap.Conflicts) == 0 {
		snap.Conflicts = append(snap.Conflicts, Conflict{
			WithCallsign:    snap.Actors[0].Callsign,
			Event:           "pattern_merge",
			TimeToConflictS: 80,
		})
	}

	if wb.Tolerance == nil {
		wb.Tolerance = &Tolerance{Strictness: defaultStrictness}
	}
	if wb.Rubric == nil {
		wb.Rubric = &Rubric{Version: defaultRubric, SafetyCap: defaultSafetyCap}
	}
	return wb
}

// AtisText synthesises a short ATIS broadcast from weather.
func AtisText(w Weather) string {
	kt := int(w.WindSpeedMps * mpsToKnots)
	return fmt.Sprintf("Wind %d at %d knots. Visibility %.0f km. QNH %d hPa.",
		w.WindDirDeg, kt, math.Round(w.VisKm), w.QNHHpa)
}

// ParseFreq parses "118.7" or "118.7 MHz" style frequencies.
func ParseFreq(s string) (float64, bool) {
	s = strings.TrimSpace(s)
	if s == "" {
		return 0, false
	}
	if f, err := strconv.ParseFloat(s, 64); err == nil {
		return f, true
	}
	fields := strings.Fields(s)
	if len(fields) > 1 {
		if f, err := strconv.ParseFloat(fields[0], 64); err == nil {
			return f, true
		}
	}
	return 0, false
}

func ptr[T any](v T) *T { return &v }
