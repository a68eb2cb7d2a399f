// Package turn runs the per-turn state machine of a training session:
// silence handling, scoring, gating, branching, routing, reply dispatch,
// phase advance and state merge.
package turn

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/metalagman/pilotsim/internal/branch"
	"github.com/metalagman/pilotsim/internal/collab"
	"github.com/metalagman/pilotsim/internal/criterion"
	"github.com/metalagman/pilotsim/internal/gate"
	"github.com/metalagman/pilotsim/internal/rng"
	"github.com/metalagman/pilotsim/internal/router"
	"github.com/metalagman/pilotsim/internal/statebag"
	"github.com/metalagman/pilotsim/internal/workbook"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"golang.org/x/sync/errgroup"
)

// DefaultCollaboratorTimeout bounds a single collaborator call.
const DefaultCollaboratorTimeout = 20 * time.Second

const (
	highWorkloadCongestion = 0.65
	defaultCallsign        = "Aircraft calling"
	sayAgainReadback       = "Say again readback. Clearance is as follows, read back in full."
)

// Collaborator names reported to the observer.
const (
	CollaboratorScorer     = "scorer"
	CollaboratorController = "controller"
	CollaboratorTraffic    = "traffic"
)

// Observer is notified about processed turns and collaborator fallbacks.
type Observer interface {
	ObserveTurn(resp Response, elapsed time.Duration)
	ObserveFallback(collaborator string)
}

// Config configures an Orchestrator.
type Config struct {
	CollaboratorTimeout time.Duration
	Observer            Observer
}

// Orchestrator processes turns. It keeps no per-session state and may be
// shared between sessions.
type Orchestrator struct {
	set      collab.Set
	timeout  time.Duration
	observer Observer
	logger   zerolog.Logger
}

// New returns an orchestrator over the given collaborators.
func New(set collab.Set, cfg Config) *Orchestrator {
	timeout := cfg.CollaboratorTimeout
	if timeout <= 0 {
		timeout = DefaultCollaboratorTimeout
	}
	return &Orchestrator{
		set:      set,
		timeout:  timeout,
		observer: cfg.Observer,
		logger:   log.With().Str("component", "turn").Logger(),
	}
}

// Process runs one turn against wb.
//
// An unknown request phase is a configuration error and is returned wrapped
// with workbook.ErrUnknownPhase. Collaborator failures never surface as
// errors: they are replaced by non-advancing fallback replies and the
// response is marked degraded. If ctx is cancelled the turn is abandoned and
// ctx.Err() is returned without a response.
func (o *Orchestrator) Process(ctx context.Context, wb *workbook.Workbook, req Request) (Response, error) {
	started := time.Now()

	phase, err := wb.Phase(req.PhaseID)
	if err != nil {
		return Response{}, fmt.Errorf("process turn: %w", err)
	}

	r := rng.ForTurn(req.SessionID, req.TurnIndex, req.Seed)
	t := &run{
		o:        o,
		wb:       wb,
		phase:    phase,
		req:      req,
		rng:      r,
		seed:     int64(r.Uint32()),
		conflict: wb.ConflictImminent(),
		callsign: callsignOf(req),
		persona:  personaOf(req),
		logger: o.logger.With().
			Str("session_id", req.SessionID).
			Int("turn_index", req.TurnIndex).
			Str("phase_id", phase.ID).
			Logger(),
	}

	var resp Response
	if strings.TrimSpace(req.Transcript) == "" {
		resp, err = t.silence(ctx)
	} else {
		resp, err = t.live(ctx)
	}
	if err != nil {
		return Response{}, err
	}
	if err := ctx.Err(); err != nil {
		return Response{}, err
	}

	resp.PhaseID = phase.ID
	if resp.TTSTone == "" {
		resp.TTSTone = collab.ToneProfessional
	}

	t.logger.Info().
		Str("speaker", string(resp.Speaker)).
		Str("next_phase_id", resp.NextPhaseID).
		Bool("blocked", resp.Blocked).
		Bool("degraded", resp.Degraded).
		Int("transmissions", len(resp.Timeline)).
		Msg("turn processed")
	if o.observer != nil {
		o.observer.ObserveTurn(resp, time.Since(started))
	}
	return resp, nil
}

// run holds everything derived for a single turn.
type run struct {
	o        *Orchestrator
	wb       *workbook.Workbook
	phase    *workbook.Phase
	req      Request
	rng      *rng.Rand
	seed     int64
	conflict bool
	callsign string
	persona  string
	logger   zerolog.Logger
}

func (t *run) silence(ctx context.Context) (Response, error) {
	speaker := router.Choose(t.wb, t.phase, true, t.conflict, t.rng)
	state := t.req.State

	if speaker == router.ATC {
		reply := collab.ATCReply{
			Transmission: t.callsign + ", say intentions.",
			NextState:    holdDelta(t.phase.ID),
			TTSTone:      collab.ToneProfessional,
		}
		return Response{
			NextPhaseID:  t.phase.ID,
			Speaker:      speaker,
			Timeline:     []Transmission{t.atcTransmission(reply)},
			ATC:          &reply,
			UpdatedState: state.Merge(nil, t.phase.ID),
			TTSTone:      reply.TTSTone,
		}, nil
	}

	tc := t.trafficContext(speaker, state, nil)
	tc.NextStateTemplate = nil
	reply, degraded, err := t.traffic(ctx, "", tc)
	if err != nil {
		return Response{}, err
	}

	next, updated, warnings := t.resolveNext(state, reply.NextState, nil, reply.NextState)
	return Response{
		NextPhaseID:  next,
		Speaker:      speaker,
		Timeline:     []Transmission{t.trafficTransmission(reply)},
		Traffic:      &reply,
		UpdatedState: updated,
		TTSTone:      reply.TTSTone,
		Warnings:     warnings,
		Degraded:     degraded,
	}, nil
}

func (t *run) live(ctx context.Context) (Response, error) {
	state := t.req.State

	verdict, failed, err := call(ctx, t, CollaboratorScorer,
		func(c context.Context) (collab.Verdict, error) {
			return t.o.set.Scorer.Score(c, t.req.Transcript, t.scoringContext(), t.req.Difficulty.Level.Difficulty())
		},
		collab.NeutralVerdict,
	)
	if err != nil {
		return Response{}, err
	}
	if failed {
		return t.unclear(verdict), nil
	}

	missing := verdict.Missing()
	coverage := verdict.Normalized
	decision := gate.Evaluate(t.wb, t.phase, verdict, state, t.req.Difficulty.SafetyGateBias)
	resp := Response{
		Verdict:          &verdict,
		MandatoryMissing: missing,
		ReadbackCoverage: &coverage,
		Warnings:         decision.Warnings,
		Coaching:         decision.Coaching,
	}
	if decision.Block {
		return t.blocked(ctx, resp, decision.Reason)
	}

	b := branch.Resolve(t.phase, state, t.rng, t.req.Difficulty.Variability)
	effects := branch.Effects(b)
	working := state.Merge(effects, t.phase.ID)
	if b != nil {
		resp.BranchID = b.ID
		t.logger.Debug().Str("branch_id", b.ID).Msg("branch selected")
	}

	speaker := router.Choose(t.wb, t.phase, false, t.conflict, t.rng)
	resp.Speaker = speaker

	var (
		atc       *collab.ATCReply
		primary   *collab.TrafficReply
		secondary *collab.TrafficReply
		degraded  [2]bool
	)
	g, gctx := errgroup.WithContext(ctx)
	if speaker == router.ATC {
		pc := t.phaseContext(working, b)
		load := t.load()
		g.Go(func() error {
			reply, fb, err := call(gctx, t, CollaboratorController,
				func(c context.Context) (collab.ATCReply, error) {
					return t.o.set.Controller.Next(c, t.req.Transcript, pc, t.req.Difficulty.Level.Difficulty(), load)
				},
				func() collab.ATCReply { return collab.FallbackATC(t.phase.ID) },
			)
			if err != nil {
				return err
			}
			atc, degraded[0] = &reply, fb
			return nil
		})
		if t.conflict {
			tc := t.trafficContext(router.TrafficNearest, working, nil)
			g.Go(func() error {
				reply, fb, err := t.traffic(gctx, t.req.Transcript, tc)
				if err != nil {
					return err
				}
				secondary, degraded[1] = &reply, fb
				return nil
			})
		}
	} else {
		tc := t.trafficContext(speaker, working, b)
		g.Go(func() error {
			reply, fb, err := t.traffic(gctx, t.req.Transcript, tc)
			if err != nil {
				return err
			}
			primary, degraded[0] = &reply, fb
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return Response{}, ctxErr
		}
		return Response{}, err
	}

	var atcNext, trafficNext statebag.Delta
	if atc != nil {
		atcNext = atc.NextState
		resp.ATC = atc
		resp.Timeline = append(resp.Timeline, t.atcTransmission(*atc))
		resp.TTSTone = atc.TTSTone
	}
	if primary != nil {
		trafficNext = primary.NextState
		resp.Traffic = primary
		resp.Timeline = append(resp.Timeline, t.trafficTransmission(*primary))
		resp.TTSTone = primary.TTSTone
	}
	if secondary != nil {
		resp.Traffic = secondary
		resp.Timeline = append(resp.Timeline, t.trafficTransmission(*secondary))
	}

	chosen := trafficNext
	if atc != nil {
		chosen = atcNext
	}
	base, proposals := working, []statebag.Delta{atcNext, trafficNext, effects}
	if degraded[0] {
		// The scripted event was never transmitted, so it leaves no trace.
		base, proposals = state, []statebag.Delta{atcNext, trafficNext}
		resp.BranchID = ""
	}
	next, updated, warnings := t.resolveNext(base, chosen, gate.VerdictSource(verdict, missing), proposals...)
	resp.NextPhaseID = next
	resp.UpdatedState = updated
	resp.Warnings = append(resp.Warnings, warnings...)
	resp.Degraded = degraded[0] || degraded[1]
	return resp, nil
}

// unclear is the non-advancing reply used when scoring failed.
func (t *run) unclear(neutral collab.Verdict) Response {
	resp := Response{
		NextPhaseID:  t.phase.ID,
		Verdict:      &neutral,
		UpdatedState: t.req.State.Merge(nil, t.phase.ID),
		TTSTone:      collab.ToneProfessional,
		Degraded:     true,
	}
	if t.wb.TowerActive() {
		reply := collab.FallbackATC(t.phase.ID)
		resp.Speaker = router.ATC
		resp.ATC = &reply
		resp.Timeline = []Transmission{t.atcTransmission(reply)}
		return resp
	}
	resp.Timeline = []Transmission{{
		Source:  SourceSystem,
		FreqMHz: t.wb.Airport().CTAFMHz,
		Text:    collab.UnclearText,
		Tone:    collab.ToneProfessional,
	}}
	return resp
}

func (t *run) blocked(ctx context.Context, resp Response, reason string) (Response, error) {
	resp.Blocked = true
	resp.BlockReason = reason
	resp.NextPhaseID = t.phase.ID
	resp.UpdatedState = t.req.State.Merge(nil, t.phase.ID)
	t.logger.Info().Str("reason", reason).Strs("missing", resp.MandatoryMissing).Msg("turn blocked")

	if t.wb.TowerActive() {
		reply := collab.ATCReply{
			Transmission:     sayAgainReadback,
			ExpectedReadback: t.phase.ExpectedReadback,
			NextState:        holdDelta(t.phase.ID),
			HoldShort:        true,
			TTSTone:          collab.ToneProfessional,
		}
		resp.Speaker = router.ATC
		resp.ATC = &reply
		resp.Timeline = []Transmission{t.atcTransmission(reply)}
		resp.TTSTone = reply.TTSTone
		return resp, nil
	}

	tc := t.trafficContext(router.CTAF, t.req.State, nil)
	reply, degraded, err := t.traffic(ctx, t.req.Transcript, tc)
	if err != nil {
		return Response{}, err
	}
	resp.Speaker = router.CTAF
	resp.UpdatedState = t.req.State.Merge(reply.NextState, t.phase.ID)
	resp.Traffic = &reply
	resp.Timeline = []Transmission{t.trafficTransmission(reply)}
	resp.TTSTone = reply.TTSTone
	resp.Degraded = degraded
	return resp, nil
}

// resolveNext picks the next phase from proposals in priority order and
// merges delta over base. A proposal naming an unknown phase is skipped. A
// candidate other than the current phase must satisfy its entry criteria
// against the merged state, otherwise the phase holds.
func (t *run) resolveNext(base statebag.Bag, delta statebag.Delta, verdict criterion.Source, proposals ...statebag.Delta) (string, statebag.Bag, []string) {
	current := t.phase.ID
	next := current
	for _, p := range proposals {
		id, ok := p.PhaseOf()
		if !ok {
			continue
		}
		if !t.wb.HasPhase(id) {
			t.logger.Warn().Str("proposed_phase", id).Msg("ignoring unknown proposed phase")
			continue
		}
		next = id
		break
	}

	merged := base.Merge(delta, next)
	if next == current {
		return next, merged, nil
	}

	candidate, err := t.wb.Phase(next)
	if err != nil {
		return current, base.Merge(delta, current), nil
	}
	src := criterion.Sources{merged, verdict}
	if failed, ok := criterion.FirstFailing(candidate.EntryCriteria, src); ok {
		warning := fmt.Sprintf("entry criteria for phase %s not met: %s", next, failed)
		t.logger.Warn().Str("candidate_phase", next).Str("criterion", failed.String()).Msg("holding phase")
		return current, base.Merge(delta, current), []string{warning}
	}
	return next, merged, nil
}

func (t *run) traffic(ctx context.Context, transcript string, tc collab.TrafficContext) (collab.TrafficReply, bool, error) {
	return call(ctx, t, CollaboratorTraffic,
		func(c context.Context) (collab.TrafficReply, error) {
			return t.o.set.Traffic.Next(c, transcript, tc, t.req.Difficulty.Level.Difficulty())
		},
		func() collab.TrafficReply { return collab.FallbackTraffic(t.phase.ID) },
	)
}

// call runs fn under the collaborator timeout. A failure yields the
// fallback and true; only cancellation of ctx itself is returned as an
// error.
func call[T any](ctx context.Context, t *run, name string, fn func(context.Context) (T, error), fallback func() T) (T, bool, error) {
	cctx, cancel := context.WithTimeout(ctx, t.o.timeout)
	defer cancel()

	type result struct {
		out T
		err error
	}
	done := make(chan result, 1)
	go func() {
		out, err := fn(cctx)
		done <- result{out: out, err: err}
	}()

	var res result
	select {
	case res = <-done:
	case <-cctx.Done():
		res.err = cctx.Err()
	}
	if res.err == nil {
		return res.out, false, nil
	}
	if err := ctx.Err(); err != nil {
		var zero T
		return zero, false, err
	}

	t.logger.Warn().Err(res.err).Str("collaborator", name).Msg("collaborator failed, using fallback")
	if t.o.observer != nil {
		t.o.observer.ObserveFallback(name)
	}
	return fallback(), true, nil
}

func holdDelta(phaseID string) statebag.Delta {
	return statebag.Delta{statebag.PhaseKey: statebag.String(phaseID)}
}

func callsignOf(req Request) string {
	if cs := strings.TrimSpace(req.Callsign); cs != "" {
		return cs
	}
	if v, ok := req.State.Get("callsign"); ok {
		if cs, ok := v.AsString(); ok && strings.TrimSpace(cs) != "" {
			return strings.TrimSpace(cs)
		}
	}
	return defaultCallsign
}

func personaOf(req Request) string {
	if p := strings.TrimSpace(req.ControllerPersona); p != "" {
		return p
	}
	if req.Difficulty.Congestion > highWorkloadCongestion {
		return collab.PersonaHighWorkload
	}
	return collab.PersonaNormal
}
