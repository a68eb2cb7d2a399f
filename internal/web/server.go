// Package web serves the pilotsim HTTP API and a small session overview page.
package web

import (
	"context"
	"embed"
	"encoding/json"
	"errors"
	"fmt"
	"html/template"
	"io"
	"net/http"

	"github.com/metalagman/pilotsim/internal/db"
	"github.com/metalagman/pilotsim/internal/session"
	"github.com/metalagman/pilotsim/internal/statebag"
	"github.com/metalagman/pilotsim/internal/turn"
	"github.com/metalagman/pilotsim/internal/voice"
	"github.com/metalagman/pilotsim/internal/workbook"
	"github.com/rs/zerolog/log"
)

const maxBodyBytes = 1 << 20

// Scenarios resolves a named scenario.
type Scenarios interface {
	Get(name string) (*workbook.Workbook, error)
}

// History reads stored session timelines.
type History interface {
	Timeline(ctx context.Context, sessionID string) ([]db.TimelineEntry, error)
	Events(ctx context.Context, sessionID string) ([]db.Event, error)
}

// Speaker synthesizes a transmission to audio.
type Speaker interface {
	Speak(ctx context.Context, tx turn.Transmission) ([]byte, error)
}

// Metrics instruments the API.
type Metrics interface {
	Handler() http.Handler
	Middleware(next http.Handler) http.Handler
}

// Deps are the server collaborators. Only Sessions is required.
type Deps struct {
	Sessions  *session.Registry
	Scenarios Scenarios
	History   History
	Voice     Speaker
	Metrics   Metrics
}

// Server provides the HTTP handlers.
type Server struct {
	deps  Deps
	index *template.Template
}

//go:embed templates/*.html
var templatesFS embed.FS

// NewServer creates a new web server.
func NewServer(deps Deps) (*Server, error) {
	if deps.Sessions == nil {
		return nil, errors.New("session registry is required")
	}
	tmpl, err := template.ParseFS(templatesFS, "templates/index.html")
	if err != nil {
		return nil, fmt.Errorf("parse templates: %w", err)
	}
	return &Server{deps: deps, index: tmpl}, nil
}

// Routes returns the router for the API.
func (s *Server) Routes() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /{$}", s.handleIndex)
	mux.HandleFunc("GET /healthz", s.handleHealth)
	mux.HandleFunc("POST /sessions", s.handleCreateSession)
	mux.HandleFunc("GET /sessions", s.handleListSessions)
	mux.HandleFunc("GET /sessions/{id}", s.handleGetSession)
	mux.HandleFunc("DELETE /sessions/{id}", s.handleDeleteSession)
	mux.HandleFunc("POST /sessions/{id}/turns", s.handleTurn)
	mux.HandleFunc("GET /sessions/{id}/timeline", s.handleTimeline)
	mux.HandleFunc("POST /speech", s.handleSpeech)
	if s.deps.Metrics != nil {
		mux.Handle("GET /metrics", s.deps.Metrics.Handler())
		return s.deps.Metrics.Middleware(mux)
	}
	return mux
}

type createSessionRequest struct {
	Scenario   string          `json:"scenario,omitempty"`
	Workbook   json.RawMessage `json:"workbook,omitempty"`
	Callsign   string          `json:"callsign,omitempty"`
	PhaseID    string          `json:"phase_id,omitempty"`
	State      map[string]any  `json:"state,omitempty"`
	Difficulty *turn.Profile   `json:"difficulty,omitempty"`
	Seed       uint64          `json:"seed,omitempty"`
}

type turnRequest struct {
	Transcript        string        `json:"transcript"`
	Seed              *int64        `json:"seed,omitempty"`
	ControllerPersona string        `json:"controller_persona,omitempty"`
	Difficulty        *turn.Profile `json:"difficulty,omitempty"`
}

type sessionView struct {
	session.Info
	Ambient []turn.Transmission `json:"ambient,omitempty"`
}

type timelineView struct {
	SessionID     string             `json:"session_id"`
	Transmissions []db.TimelineEntry `json:"transmissions"`
	Events        []db.Event         `json:"events"`
}

func (s *Server) handleIndex(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	if err := s.index.Execute(w, s.deps.Sessions.List()); err != nil {
		log.Error().Err(err).Msg("render index")
	}
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{"status": "ok", "open_sessions": s.deps.Sessions.Len()})
}

func (s *Server) handleCreateSession(w http.ResponseWriter, r *http.Request) {
	var req createSessionRequest
	if err := decodeBody(r, &req); err != nil {
		writeError(w, err)
		return
	}

	wb, err := s.workbookFor(req)
	if err != nil {
		writeError(w, err)
		return
	}
	state, err := statebag.FromMap(req.State)
	if err != nil {
		writeError(w, badRequest(fmt.Errorf("decode state: %w", err)))
		return
	}

	h, err := s.deps.Sessions.Open(r.Context(), wb, session.OpenOptions{
		Callsign: req.Callsign,
		PhaseID:  req.PhaseID,
		State:    state,
		Profile:  req.Difficulty,
	})
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, sessionView{Info: h.Info()})
}

func (s *Server) workbookFor(req createSessionRequest) (*workbook.Workbook, error) {
	switch {
	case len(req.Workbook) > 0:
		wb, err := workbook.Parse(req.Workbook, workbook.FormatJSON)
		if err != nil {
			return nil, err
		}
		return workbook.Resolve(wb, workbook.ResolveOptions{ScenarioID: req.Scenario, Seed: req.Seed}), nil
	case req.Scenario != "":
		if s.deps.Scenarios == nil {
			return nil, badRequest(errors.New("no scenario library configured"))
		}
		return s.deps.Scenarios.Get(req.Scenario)
	default:
		return nil, badRequest(errors.New("scenario or workbook is required"))
	}
}

func (s *Server) handleListSessions(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, s.deps.Sessions.List())
}

func (s *Server) handleGetSession(w http.ResponseWriter, r *http.Request) {
	h, err := s.deps.Sessions.Get(r.PathValue("id"))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, sessionView{Info: h.Info(), Ambient: h.Ambient()})
}

func (s *Server) handleDeleteSession(w http.ResponseWriter, r *http.Request) {
	if err := s.deps.Sessions.Close(r.PathValue("id")); err != nil {
		writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleTurn(w http.ResponseWriter, r *http.Request) {
	h, err := s.deps.Sessions.Get(r.PathValue("id"))
	if err != nil {
		writeError(w, err)
		return
	}
	var req turnRequest
	if err := decodeBody(r, &req); err != nil {
		writeError(w, err)
		return
	}
	resp, err := h.Turn(r.Context(), req.Transcript, session.TurnOptions{
		Seed:              req.Seed,
		ControllerPersona: req.ControllerPersona,
		Profile:           req.Difficulty,
	})
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) handleTimeline(w http.ResponseWriter, r *http.Request) {
	if s.deps.History == nil {
		writeJSON(w, http.StatusNotImplemented, errorBody{Error: "session history is not configured"})
		return
	}
	id := r.PathValue("id")
	txs, err := s.deps.History.Timeline(r.Context(), id)
	if err != nil {
		writeError(w, err)
		return
	}
	events, err := s.deps.History.Events(r.Context(), id)
	if err != nil {
		writeError(w, err)
		return
	}
	if len(txs) == 0 && len(events) == 0 {
		writeError(w, fmt.Errorf("session %s: %w", id, db.ErrNotFound))
		return
	}
	writeJSON(w, http.StatusOK, timelineView{SessionID: id, Transmissions: txs, Events: events})
}

func (s *Server) handleSpeech(w http.ResponseWriter, r *http.Request) {
	if s.deps.Voice == nil {
		writeJSON(w, http.StatusNotImplemented, errorBody{Error: "speech synthesis is disabled"})
		return
	}
	var tx turn.Transmission
	if err := decodeBody(r, &tx); err != nil {
		writeError(w, err)
		return
	}
	audio, err := s.deps.Voice.Speak(r.Context(), tx)
	if err != nil {
		writeError(w, err)
		return
	}
	w.Header().Set("Content-Type", voice.ContentType)
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(audio)
}

type errorBody struct {
	Error string `json:"error"`
}

type badRequestError struct {
	err error
}

func (e badRequestError) Error() string { return e.err.Error() }
func (e badRequestError) Unwrap() error { return e.err }

func badRequest(err error) error {
	return badRequestError{err: err}
}

func decodeBody(r *http.Request, v any) error {
	dec := json.NewDecoder(io.LimitReader(r.Body, maxBodyBytes))
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil {
		return badRequest(fmt.Errorf("decode request: %w", err))
	}
	return nil
}

func statusOf(err error) int {
	var bad badRequestError
	switch {
	case errors.As(err, &bad):
		return http.StatusBadRequest
	case errors.Is(err, session.ErrNotFound), errors.Is(err, db.ErrNotFound), errors.Is(err, workbook.ErrNoScenario):
		return http.StatusNotFound
	case errors.Is(err, session.ErrClosed):
		return http.StatusConflict
	case errors.Is(err, workbook.ErrUnknownPhase), errors.Is(err, workbook.ErrInvalid),
		errors.Is(err, voice.ErrEmpty), errors.Is(err, voice.ErrRejected):
		return http.StatusUnprocessableEntity
	case errors.Is(err, voice.ErrUnavailable):
		return http.StatusServiceUnavailable
	case errors.Is(err, context.DeadlineExceeded):
		return http.StatusGatewayTimeout
	default:
		return http.StatusInternalServerError
	}
}

func writeError(w http.ResponseWriter, err error) {
	code := statusOf(err)
	if code >= http.StatusInternalServerError {
		log.Error().Err(err).Int("status", code).Msg("request failed")
	}
	writeJSON(w, code, errorBody{Error: err.Error()})
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.Debug().Err(err).Msg("write response")
	}
}
