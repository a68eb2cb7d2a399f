package session

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	lru "github.com/hashicorp/golang-lru/v2"
	"github.com/metalagman/pilotsim/internal/collab"
	"github.com/metalagman/pilotsim/internal/statebag"
	"github.com/metalagman/pilotsim/internal/turn"
	"github.com/metalagman/pilotsim/internal/workbook"
	"github.com/rs/zerolog/log"
)

const (
	// DefaultMaxOpen bounds the number of live sessions.
	DefaultMaxOpen = 256
	defaultTimeout = 20 * time.Second
)

// Config configures a Registry.
type Config struct {
	MaxOpen int
	// AmbientInterval enables background traffic broadcasts when positive.
	AmbientInterval time.Duration
	// Timeout bounds background collaborator and recorder calls.
	Timeout time.Duration
	// Ambient produces background broadcasts. Nil disables them.
	Ambient collab.TrafficAgent
	// OnChange is called with the number of open sessions.
	OnChange func(open int)
}

// OpenOptions describes a new session.
type OpenOptions struct {
	Callsign string
	// PhaseID is the starting phase; the first phase when empty.
	PhaseID string
	State   statebag.Bag
	Profile *turn.Profile
}

// Registry looks up session handles by id. When more than MaxOpen sessions
// are open the least recently used one is closed.
type Registry struct {
	proc  Processor
	rec   Recorder
	cfg   Config
	cache *lru.Cache[string, *Handle]
}

// NewRegistry returns an empty registry.
func NewRegistry(proc Processor, rec Recorder, cfg Config) (*Registry, error) {
	if cfg.MaxOpen <= 0 {
		cfg.MaxOpen = DefaultMaxOpen
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = defaultTimeout
	}
	r := &Registry{proc: proc, rec: rec, cfg: cfg}
	cache, err := lru.NewWithEvict(cfg.MaxOpen, func(_ string, h *Handle) {
		go h.Close()
	})
	if err != nil {
		return nil, fmt.Errorf("create session cache: %w", err)
	}
	r.cache = cache
	return r, nil
}

// Open starts a session on wb.
func (r *Registry) Open(ctx context.Context, wb *workbook.Workbook, opts OpenOptions) (*Handle, error) {
	if len(wb.Phases) == 0 {
		return nil, fmt.Errorf("open session: %w: no phases", workbook.ErrInvalid)
	}
	phaseID := opts.PhaseID
	if phaseID == "" {
		phaseID = wb.Phases[0].ID
	}
	if _, err := wb.Phase(phaseID); err != nil {
		return nil, fmt.Errorf("open session: %w", err)
	}

	profile := turn.DefaultProfile()
	if opts.Profile != nil {
		profile = *opts.Profile
	}
	var delta statebag.Delta
	if opts.Callsign != "" {
		delta = statebag.Delta{"callsign": statebag.String(opts.Callsign)}
	}

	id := uuid.NewString()
	hctx, cancel := context.WithCancel(context.Background())
	h := &Handle{
		id:        id,
		callsign:  opts.Callsign,
		createdAt: time.Now().UTC(),
		wb:        wb,
		proc:      r.proc,
		rec:       r.rec,
		timeout:   r.cfg.Timeout,
		logger:    log.With().Str("component", "session").Str("session_id", id).Logger(),
		ctx:       hctx,
		cancel:    cancel,
		done:      make(chan struct{}),
		profile:   profile,
		phaseID:   phaseID,
		state:     opts.State.Merge(delta, phaseID),
	}
	if wb.Meta != nil {
		h.scenarioID = wb.Meta.ID
	}

	if r.rec != nil {
		if err := r.rec.CreateSession(ctx, h.Info()); err != nil {
			cancel()
			return nil, fmt.Errorf("open session: %w", err)
		}
	}

	if r.cfg.Ambient != nil && r.cfg.AmbientInterval > 0 {
		go h.ambientLoop(r.cfg.Ambient, r.cfg.AmbientInterval)
	} else {
		close(h.done)
	}

	r.cache.Add(id, h)
	r.changed()
	h.logger.Info().Str("phase_id", phaseID).Msg("session opened")
	return h, nil
}

// Get returns the handle for id.
func (r *Registry) Get(id string) (*Handle, error) {
	h, ok := r.cache.Get(id)
	if !ok {
		return nil, fmt.Errorf("session %s: %w", id, ErrNotFound)
	}
	return h, nil
}

// Close closes and forgets the session.
func (r *Registry) Close(id string) error {
	h, ok := r.cache.Peek(id)
	if !ok {
		return fmt.Errorf("session %s: %w", id, ErrNotFound)
	}
	r.cache.Remove(id)
	h.Close()
	r.changed()
	return nil
}

// CloseAll closes every open session.
func (r *Registry) CloseAll() {
	for _, h := range r.cache.Values() {
		h.Close()
	}
	r.cache.Purge()
	r.changed()
}

// List returns a snapshot of every open session, least recently used first.
func (r *Registry) List() []Info {
	handles := r.cache.Values()
	out := make([]Info, 0, len(handles))
	for _, h := range handles {
		out = append(out, h.Info())
	}
	return out
}

// Len returns the number of open sessions.
func (r *Registry) Len() int {
	return r.cache.Len()
}

func (r *Registry) changed() {
	if r.cfg.OnChange != nil {
		r.cfg.OnChange(r.cache.Len())
	}
}
