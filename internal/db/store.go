package db

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/metalagman/pilotsim/internal/session"
	"github.com/metalagman/pilotsim/internal/turn"
)

// ErrNotFound is returned when a session has no record.
var ErrNotFound = errors.New("not found")

// Session statuses.
const (
	StatusOpen   = "open"
	StatusClosed = "closed"
)

var _ session.Recorder = (*Store)(nil)

// Store records sessions, turns, transmissions and events. It implements
// session.Recorder.
type Store struct {
	db *sql.DB
}

// NewStore creates a store on an open database.
func NewStore(db *sql.DB) *Store {
	return &Store{db: db}
}

// DB returns the underlying database handle.
func (s *Store) DB() *sql.DB {
	return s.db
}

// SessionRecord is a stored session row.
type SessionRecord struct {
	ID         string `json:"id"`
	ScenarioID string `json:"scenario_id,omitempty"`
	Callsign   string `json:"callsign,omitempty"`
	PhaseID    string `json:"phase_id"`
	TurnIndex  int    `json:"turn_index"`
	Status     string `json:"status"`
	CreatedAt  string `json:"created_at"`
	ClosedAt   string `json:"closed_at,omitempty"`
}

// TimelineEntry is a stored transmission. TurnIndex is zero for ambient
// broadcasts.
type TimelineEntry struct {
	Seq       int               `json:"seq"`
	TurnIndex int               `json:"turn_index,omitempty"`
	TS        string            `json:"ts"`
	Tx        turn.Transmission `json:"transmission"`
}

// Event is a session timeline event.
type Event struct {
	Seq      int    `json:"seq"`
	TS       string `json:"ts"`
	Type     string `json:"type"`
	Message  string `json:"message"`
	DataJSON string `json:"data,omitempty"`
}

// CreateSession inserts the session and a session_opened event.
func (s *Store) CreateSession(ctx context.Context, info session.Info) error {
	difficulty, err := json.Marshal(info.Profile)
	if err != nil {
		return fmt.Errorf("encode difficulty: %w", err)
	}
	return s.inTx(ctx, "create session", func(tx *sql.Tx) error {
		if _, err := tx.ExecContext(ctx, `INSERT INTO sessions(session_id, scenario_id, callsign, phase_id, turn_index, status, difficulty_json, created_at)
			VALUES(?, ?, ?, ?, ?, ?, ?, ?)`,
			info.ID, nullableString(info.ScenarioID), nullableString(info.Callsign), info.PhaseID, info.TurnIndex,
			StatusOpen, string(difficulty), info.CreatedAt.UTC().Format(time.RFC3339)); err != nil {
			return fmt.Errorf("insert session: %w", err)
		}
		return s.insertEvent(ctx, tx, info.ID, "session_opened", "session opened in phase "+info.PhaseID, "")
	})
}

// RecordTurn stores a processed turn with its timeline and events, and moves
// the session to the next phase, in one transaction.
func (s *Store) RecordTurn(ctx context.Context, req turn.Request, resp turn.Response) error {
	payload, err := json.Marshal(resp)
	if err != nil {
		return fmt.Errorf("encode turn response: %w", err)
	}
	var (
		coverage   any
		scoreDelta any
	)
	if resp.ReadbackCoverage != nil {
		coverage = *resp.ReadbackCoverage
	}
	if resp.Verdict != nil {
		scoreDelta = resp.Verdict.ScoreDelta
	}
	now := time.Now().UTC().Format(time.RFC3339)

	return s.inTx(ctx, "record turn", func(tx *sql.Tx) error {
		if _, err := tx.ExecContext(ctx, `INSERT INTO turns(session_id, turn_index, phase_id, next_phase_id, speaker, transcript, blocked, block_reason, branch_id, degraded, coverage, score_delta, response_json, created_at)
			VALUES(?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
			req.SessionID, req.TurnIndex, resp.PhaseID, resp.NextPhaseID, nullableString(string(resp.Speaker)),
			nullableString(req.Transcript), resp.Blocked, nullableString(resp.BlockReason), nullableString(resp.BranchID),
			resp.Degraded, coverage, scoreDelta, string(payload), now); err != nil {
			return fmt.Errorf("insert turn: %w", err)
		}
		for _, t := range resp.Timeline {
			if err := s.insertTransmission(ctx, tx, req.SessionID, req.TurnIndex, t); err != nil {
				return err
			}
		}
		for _, ev := range turnEvents(resp) {
			if err := s.insertEvent(ctx, tx, req.SessionID, ev.Type, ev.Message, ev.DataJSON); err != nil {
				return err
			}
		}
		if _, err := tx.ExecContext(ctx, `UPDATE sessions SET phase_id=?, turn_index=? WHERE session_id=?`,
			resp.NextPhaseID, req.TurnIndex, req.SessionID); err != nil {
			return fmt.Errorf("update session: %w", err)
		}
		return nil
	})
}

// RecordAmbient stores a background broadcast.
func (s *Store) RecordAmbient(ctx context.Context, sessionID string, t turn.Transmission) error {
	return s.inTx(ctx, "record ambient", func(tx *sql.Tx) error {
		return s.insertTransmission(ctx, tx, sessionID, 0, t)
	})
}

// CloseSession marks the session closed.
func (s *Store) CloseSession(ctx context.Context, sessionID string) error {
	now := time.Now().UTC().Format(time.RFC3339)
	return s.inTx(ctx, "close session", func(tx *sql.Tx) error {
		if _, err := tx.ExecContext(ctx, `UPDATE sessions SET status=?, closed_at=? WHERE session_id=?`,
			StatusClosed, now, sessionID); err != nil {
			return fmt.Errorf("update session: %w", err)
		}
		return s.insertEvent(ctx, tx, sessionID, "session_closed", "session closed", "")
	})
}

// GetSession returns the stored session.
func (s *Store) GetSession(ctx context.Context, sessionID string) (SessionRecord, error) {
	row := s.db.QueryRowContext(ctx, `SELECT session_id, COALESCE(scenario_id, ''), COALESCE(callsign, ''), phase_id, turn_index, status, created_at, COALESCE(closed_at, '')
		FROM sessions WHERE session_id=?`, sessionID)
	var rec SessionRecord
	if err := row.Scan(&rec.ID, &rec.ScenarioID, &rec.Callsign, &rec.PhaseID, &rec.TurnIndex, &rec.Status, &rec.CreatedAt, &rec.ClosedAt); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return SessionRecord{}, fmt.Errorf("session %s: %w", sessionID, ErrNotFound)
		}
		return SessionRecord{}, fmt.Errorf("read session: %w", err)
	}
	return rec, nil
}

// Timeline returns every stored transmission of a session in order.
func (s *Store) Timeline(ctx context.Context, sessionID string) ([]TimelineEntry, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT seq, COALESCE(turn_index, 0), ts, source, COALESCE(freq_mhz, 0), text, COALESCE(tone, ''), COALESCE(persona, ''), COALESCE(attributes_json, '')
		FROM transmissions WHERE session_id=? ORDER BY seq`, sessionID)
	if err != nil {
		return nil, fmt.Errorf("query timeline: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var out []TimelineEntry
	for rows.Next() {
		var (
			e     TimelineEntry
			attrs string
		)
		if err := rows.Scan(&e.Seq, &e.TurnIndex, &e.TS, &e.Tx.Source, &e.Tx.FreqMHz, &e.Tx.Text, &e.Tx.Tone, &e.Tx.Persona, &attrs); err != nil {
			return nil, fmt.Errorf("scan timeline: %w", err)
		}
		if attrs != "" {
			if err := json.Unmarshal([]byte(attrs), &e.Tx.Attributes); err != nil {
				return nil, fmt.Errorf("decode attributes: %w", err)
			}
		}
		out = append(out, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("read timeline: %w", err)
	}
	return out, nil
}

// Events returns the session's events in order.
func (s *Store) Events(ctx context.Context, sessionID string) ([]Event, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT seq, ts, type, message, COALESCE(data_json, '') FROM events WHERE session_id=? ORDER BY seq`, sessionID)
	if err != nil {
		return nil, fmt.Errorf("query events: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var out []Event
	for rows.Next() {
		var ev Event
		if err := rows.Scan(&ev.Seq, &ev.TS, &ev.Type, &ev.Message, &ev.DataJSON); err != nil {
			return nil, fmt.Errorf("scan event: %w", err)
		}
		out = append(out, ev)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("read events: %w", err)
	}
	return out, nil
}

func turnEvents(resp turn.Response) []Event {
	var out []Event
	switch {
	case resp.Blocked:
		out = append(out, Event{Type: "turn_blocked", Message: resp.BlockReason, DataJSON: jsonString(resp.MandatoryMissing)})
	case resp.NextPhaseID != resp.PhaseID:
		out = append(out, Event{Type: "phase_advanced", Message: resp.PhaseID + " -> " + resp.NextPhaseID})
	}
	if resp.BranchID != "" {
		out = append(out, Event{Type: "branch_taken", Message: resp.BranchID})
	}
	if resp.Degraded {
		out = append(out, Event{Type: "turn_degraded", Message: "collaborator fallback used"})
	}
	for _, w := range resp.Warnings {
		out = append(out, Event{Type: "warning", Message: w})
	}
	for _, c := range resp.Coaching {
		out = append(out, Event{Type: "coaching", Message: c})
	}
	return out
}

func (s *Store) inTx(ctx context.Context, what string, fn func(tx *sql.Tx) error) error {
	tx, err := s.db.BeginTx(ctx, &sql.TxOptions{})
	if err != nil {
		return fmt.Errorf("begin %s: %w", what, err)
	}
	if err := fn(tx); err != nil {
		_ = tx.Rollback()
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit %s: %w", what, err)
	}
	return nil
}

func (s *Store) insertTransmission(ctx context.Context, tx *sql.Tx, sessionID string, turnIndex int, t turn.Transmission) error {
	seq, err := nextSeq(ctx, tx, "transmissions", sessionID)
	if err != nil {
		return err
	}
	var turnIdx any
	if turnIndex > 0 {
		turnIdx = turnIndex
	}
	ts := time.Now().UTC().Format(time.RFC3339)
	if _, err := tx.ExecContext(ctx, `INSERT INTO transmissions(session_id, seq, turn_index, source, freq_mhz, text, tone, persona, attributes_json, ts)
		VALUES(?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		sessionID, seq, turnIdx, t.Source, t.FreqMHz, t.Text, nullableString(t.Tone), nullableString(t.Persona),
		nullableString(jsonString(t.Attributes)), ts); err != nil {
		return fmt.Errorf("insert transmission: %w", err)
	}
	return nil
}

func (s *Store) insertEvent(ctx context.Context, tx *sql.Tx, sessionID, typ, message, dataJSON string) error {
	seq, err := nextSeq(ctx, tx, "events", sessionID)
	if err != nil {
		return err
	}
	ts := time.Now().UTC().Format(time.RFC3339)
	if _, err := tx.ExecContext(ctx, `INSERT INTO events(session_id, seq, ts, type, message, data_json) VALUES(?, ?, ?, ?, ?, ?)`,
		sessionID, seq, ts, typ, message, nullableString(dataJSON)); err != nil {
		return fmt.Errorf("insert event: %w", err)
	}
	return nil
}

// nextSeq is only called with the fixed table names above.
func nextSeq(ctx context.Context, tx *sql.Tx, table, sessionID string) (int, error) {
	var seq int
	row := tx.QueryRowContext(ctx, `SELECT COALESCE(MAX(seq), 0) FROM `+table+` WHERE session_id=?`, sessionID)
	if err := row.Scan(&seq); err != nil {
		return 0, fmt.Errorf("read %s seq: %w", table, err)
	}
	return seq + 1, nil
}

func jsonString(v any) string {
	switch x := v.(type) {
	case []string:
		if len(x) == 0 {
			return ""
		}
	case map[string]string:
		if len(x) == 0 {
			return ""
		}
	}
	data, err := json.Marshal(v)
	if err != nil {
		return ""
	}
	return string(data)
}

func nullableString(value string) any {
	if value == "" {
		return nil
	}
	return value
}
