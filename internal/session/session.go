// Package session owns live training sessions. Each session is a handle that
// serializes its turns, carries its own cancellation and optionally runs
// ambient traffic broadcasts until it is closed.
package session

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/metalagman/pilotsim/internal/collab"
	"github.com/metalagman/pilotsim/internal/router"
	"github.com/metalagman/pilotsim/internal/statebag"
	"github.com/metalagman/pilotsim/internal/turn"
	"github.com/metalagman/pilotsim/internal/workbook"
	"github.com/rs/zerolog"
)

var (
	// ErrNotFound is returned for an unknown or evicted session id.
	ErrNotFound = errors.New("session not found")
	// ErrClosed is returned when a closed session receives a turn.
	ErrClosed = errors.New("session closed")
)

const maxAmbient = 32

// Processor runs a single turn.
type Processor interface {
	Process(ctx context.Context, wb *workbook.Workbook, req turn.Request) (turn.Response, error)
}

// Recorder persists session activity.
type Recorder interface {
	CreateSession(ctx context.Context, info Info) error
	RecordTurn(ctx context.Context, req turn.Request, resp turn.Response) error
	RecordAmbient(ctx context.Context, sessionID string, tx turn.Transmission) error
	CloseSession(ctx context.Context, sessionID string) error
}

// Info is a point-in-time view of a session.
type Info struct {
	ID         string       `json:"id"`
	ScenarioID string       `json:"scenario_id,omitempty"`
	Callsign   string       `json:"callsign,omitempty"`
	PhaseID    string       `json:"phase_id"`
	TurnIndex  int          `json:"turn_index"`
	State      statebag.Bag `json:"state"`
	Profile    turn.Profile `json:"difficulty"`
	CreatedAt  time.Time    `json:"created_at"`
	Closed     bool         `json:"closed"`
}

// TurnOptions adjusts a single turn.
type TurnOptions struct {
	Seed              *int64
	ControllerPersona string
	Profile           *turn.Profile
}

// Handle is one live session. Turns on a handle run one at a time.
type Handle struct {
	id         string
	scenarioID string
	callsign   string
	createdAt  time.Time
	wb         *workbook.Workbook
	proc       Processor
	rec        Recorder
	timeout    time.Duration
	logger     zerolog.Logger

	ctx       context.Context
	cancel    context.CancelFunc
	done      chan struct{}
	closeOnce sync.Once
	turnMu    sync.Mutex

	mu        sync.Mutex
	profile   turn.Profile
	phaseID   string
	state     statebag.Bag
	turnIndex int
	closed    bool
	ambient   []turn.Transmission
}

// ID returns the session id.
func (h *Handle) ID() string { return h.id }

// Workbook returns the session's scenario.
func (h *Handle) Workbook() *workbook.Workbook { return h.wb }

// Info returns a snapshot of the session.
func (h *Handle) Info() Info {
	h.mu.Lock()
	defer h.mu.Unlock()
	return Info{
		ID:         h.id,
		ScenarioID: h.scenarioID,
		Callsign:   h.callsign,
		PhaseID:    h.phaseID,
		TurnIndex:  h.turnIndex,
		State:      h.state,
		Profile:    h.profile,
		CreatedAt:  h.createdAt,
		Closed:     h.closed,
	}
}

// Ambient returns the most recent background broadcasts, oldest first.
func (h *Handle) Ambient() []turn.Transmission {
	h.mu.Lock()
	defer h.mu.Unlock()
	out := make([]turn.Transmission, len(h.ambient))
	copy(out, h.ambient)
	return out
}

// Turn processes a trainee transmission. Concurrent calls are serialized.
// Closing the handle cancels a turn in flight. The session state only
// changes when the turn completes.
func (h *Handle) Turn(ctx context.Context, transcript string, opts TurnOptions) (turn.Response, error) {
	h.turnMu.Lock()
	defer h.turnMu.Unlock()

	h.mu.Lock()
	closed := h.closed || h.ctx.Err() != nil
	req := turn.Request{
		SessionID:         h.id,
		TurnIndex:         h.turnIndex + 1,
		PhaseID:           h.phaseID,
		Callsign:          h.callsign,
		Transcript:        transcript,
		State:             h.state,
		Difficulty:        h.profile,
		Seed:              opts.Seed,
		ControllerPersona: opts.ControllerPersona,
	}
	h.mu.Unlock()
	if closed {
		return turn.Response{}, ErrClosed
	}
	if opts.Profile != nil {
		req.Difficulty = *opts.Profile
	}

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	stop := context.AfterFunc(h.ctx, cancel)
	defer stop()

	resp, err := h.proc.Process(ctx, h.wb, req)
	if err != nil {
		if h.ctx.Err() != nil {
			return turn.Response{}, ErrClosed
		}
		return turn.Response{}, fmt.Errorf("session %s turn %d: %w", h.id, req.TurnIndex, err)
	}

	if h.rec != nil {
		rctx, rcancel := context.WithTimeout(context.WithoutCancel(ctx), h.timeout)
		if err := h.rec.RecordTurn(rctx, req, resp); err != nil {
			h.logger.Error().Err(err).Int("turn_index", req.TurnIndex).Msg("record turn")
		}
		rcancel()
	}

	h.mu.Lock()
	h.turnIndex = req.TurnIndex
	h.phaseID = resp.NextPhaseID
	h.state = resp.UpdatedState
	h.mu.Unlock()
	return resp, nil
}

// Close stops background work and rejects further turns. It is safe to call
// more than once.
func (h *Handle) Close() {
	h.closeOnce.Do(func() {
		h.cancel()
		<-h.done

		h.mu.Lock()
		h.closed = true
		h.mu.Unlock()

		if h.rec != nil {
			ctx, cancel := context.WithTimeout(context.Background(), h.timeout)
			defer cancel()
			if err := h.rec.CloseSession(ctx, h.id); err != nil {
				h.logger.Error().Err(err).Msg("record session close")
			}
		}
		h.logger.Info().Msg("session closed")
	})
}

func (h *Handle) ambientLoop(agent collab.TrafficAgent, every time.Duration) {
	defer close(h.done)

	ticker := time.NewTicker(every)
	defer ticker.Stop()
	for {
		select {
		case <-h.ctx.Done():
			return
		case <-ticker.C:
			h.broadcast(agent)
		}
	}
}

// broadcast asks the traffic agent for one background CTAF call. It reads
// the session state but never changes it.
func (h *Handle) broadcast(agent collab.TrafficAgent) {
	h.mu.Lock()
	phaseID, state, level := h.phaseID, h.state, h.profile.Level
	h.mu.Unlock()

	tc := collab.TrafficContext{
		PhaseID:     phaseID,
		Mode:        string(router.CTAF),
		Callsign:    h.callsign,
		RunwayInUse: h.wb.RunwayInUse(),
		CTAFMHz:     h.wb.Airport().CTAFMHz,
		Snapshot:    h.wb.Traffic(),
		Tolerance:   h.wb.Tolerance,
		State:       state,
	}
	ctx, cancel := context.WithTimeout(h.ctx, h.timeout)
	defer cancel()

	reply, err := agent.Next(ctx, "", tc, level.Difficulty())
	if err != nil {
		if h.ctx.Err() == nil {
			h.logger.Debug().Err(err).Msg("ambient broadcast failed")
		}
		return
	}
	tx := turn.TrafficTransmission(h.wb, reply)

	h.mu.Lock()
	h.ambient = append(h.ambient, tx)
	if len(h.ambient) > maxAmbient {
		h.ambient = h.ambient[len(h.ambient)-maxAmbient:]
	}
	h.mu.Unlock()

	if h.rec != nil {
		if err := h.rec.RecordAmbient(ctx, h.id, tx); err != nil {
			h.logger.Error().Err(err).Msg("record ambient broadcast")
		}
	}
}
