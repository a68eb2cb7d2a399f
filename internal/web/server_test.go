package web

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"

	"github.com/metalagman/pilotsim/internal/collab/canned"
	"github.com/metalagman/pilotsim/internal/db"
	"github.com/metalagman/pilotsim/internal/metrics"
	"github.com/metalagman/pilotsim/internal/router"
	"github.com/metalagman/pilotsim/internal/session"
	"github.com/metalagman/pilotsim/internal/turn"
	"github.com/metalagman/pilotsim/internal/voice"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const towerWorkbook = `{
	"meta": {"id": "yscn-taxi"},
	"phases": [
		{"id": "taxi", "primary_freq_mhz": 121.9, "required_components": ["RUNWAY"], "next_state": {"phase": "lineup"}},
		{"id": "lineup"}
	],
	"rubric": {"version": "v1", "readback_policy": {"block_on_missing": ["RUNWAY"]}},
	"context_resolved": {
		"airport": {"icao": "YSCN", "tower_active": true, "tower_mhz": 118.1},
		"runway_in_use": "35",
		"traffic_snapshot": {"density": "light", "actors": []}
	}
}`

type fakeSpeaker struct {
	got turn.Transmission
	err error
}

func (f *fakeSpeaker) Speak(_ context.Context, tx turn.Transmission) ([]byte, error) {
	f.got = tx
	return []byte("ID3"), f.err
}

type fixture struct {
	handler http.Handler
	store   *db.Store
	speaker *fakeSpeaker
}

func newFixture(t *testing.T) fixture {
	t.Helper()

	conn, err := db.Open(context.Background(), filepath.Join(t.TempDir(), "web.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = conn.Close() })
	store := db.NewStore(conn)

	reg, err := session.NewRegistry(turn.New(canned.New(), turn.Config{}), store, session.Config{})
	require.NoError(t, err)
	t.Cleanup(reg.CloseAll)

	collector, err := metrics.NewCollector(prometheus.NewRegistry())
	require.NoError(t, err)

	speaker := &fakeSpeaker{}
	srv, err := NewServer(Deps{Sessions: reg, History: store, Voice: speaker, Metrics: collector})
	require.NoError(t, err)
	return fixture{handler: srv.Routes(), store: store, speaker: speaker}
}

func (f fixture) do(t *testing.T, method, path, body string) *httptest.ResponseRecorder {
	t.Helper()
	rr := httptest.NewRecorder()
	f.handler.ServeHTTP(rr, httptest.NewRequest(method, path, bytes.NewBufferString(body)))
	return rr
}

func (f fixture) openSession(t *testing.T) session.Info {
	t.Helper()
	rr := f.do(t, http.MethodPost, "/sessions", `{"callsign": "VH-ABC", "workbook": `+towerWorkbook+`}`)
	require.Equal(t, http.StatusCreated, rr.Code, rr.Body.String())
	var info session.Info
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &info))
	return info
}

func TestServer_SessionTurnFlow(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	info := f.openSession(t)
	assert.NotEmpty(t, info.ID)
	assert.Equal(t, "taxi", info.PhaseID)
	assert.Equal(t, "yscn-taxi", info.ScenarioID)

	rr := f.do(t, http.MethodPost, "/sessions/"+info.ID+"/turns", `{"transcript": "VH-ABC taxi runway 35", "seed": 7}`)
	require.Equal(t, http.StatusOK, rr.Code, rr.Body.String())
	var resp turn.Response
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &resp))
	assert.False(t, resp.Blocked)
	assert.Equal(t, router.ATC, resp.Speaker)
	assert.Equal(t, "lineup", resp.NextPhaseID)
	require.NotEmpty(t, resp.Timeline)
	assert.Equal(t, turn.SourceATC, resp.Timeline[0].Source)

	rr = f.do(t, http.MethodGet, "/sessions/"+info.ID, "")
	require.Equal(t, http.StatusOK, rr.Code)
	var got session.Info
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &got))
	assert.Equal(t, "lineup", got.PhaseID)
	assert.Equal(t, 1, got.TurnIndex)

	rr = f.do(t, http.MethodGet, "/sessions/"+info.ID+"/timeline", "")
	require.Equal(t, http.StatusOK, rr.Code)
	var tl timelineView
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &tl))
	require.NotEmpty(t, tl.Transmissions)
	assert.Equal(t, "session_opened", tl.Events[0].Type)

	rr = f.do(t, http.MethodDelete, "/sessions/"+info.ID, "")
	assert.Equal(t, http.StatusNoContent, rr.Code)
	rr = f.do(t, http.MethodGet, "/sessions/"+info.ID, "")
	assert.Equal(t, http.StatusNotFound, rr.Code)
	rr = f.do(t, http.MethodPost, "/sessions/"+info.ID+"/turns", `{"transcript": "hello"}`)
	assert.Equal(t, http.StatusNotFound, rr.Code)

	rec, err := f.store.GetSession(context.Background(), info.ID)
	require.NoError(t, err)
	assert.Equal(t, db.StatusClosed, rec.Status)
}

func TestServer_BlockedTurn(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	info := f.openSession(t)

	rr := f.do(t, http.MethodPost, "/sessions/"+info.ID+"/turns", `{"transcript": "VH-ABC ready"}`)
	require.Equal(t, http.StatusOK, rr.Code)
	var resp turn.Response
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &resp))
	assert.True(t, resp.Blocked)
	assert.Equal(t, "taxi", resp.NextPhaseID)
	assert.Equal(t, []string{"RUNWAY"}, resp.MandatoryMissing)
}

func TestServer_CreateSessionErrors(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	tests := []struct {
		name string
		body string
		want int
	}{
		{name: "malformed", body: `{`, want: http.StatusBadRequest},
		{name: "unknown field", body: `{"workbok": {}}`, want: http.StatusBadRequest},
		{name: "no source", body: `{"callsign": "VH-ABC"}`, want: http.StatusBadRequest},
		{name: "no library", body: `{"scenario": "circuit"}`, want: http.StatusBadRequest},
		{name: "unknown phase", body: `{"phase_id": "final", "workbook": ` + towerWorkbook + `}`, want: http.StatusUnprocessableEntity},
		{name: "invalid workbook", body: `{"workbook": {"phases": [{"id": "a", "next_state": {"phase": "nowhere"}}]}}`, want: http.StatusUnprocessableEntity},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rr := f.do(t, http.MethodPost, "/sessions", tt.body)
			assert.Equal(t, tt.want, rr.Code, rr.Body.String())
			var body errorBody
			require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &body))
			assert.NotEmpty(t, body.Error)
		})
	}
}

func TestServer_Speech(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	rr := f.do(t, http.MethodPost, "/speech", `{"source": "ATC", "text": "VH-ABC, hold position", "tone": "urgent"}`)
	require.Equal(t, http.StatusOK, rr.Code)
	assert.Equal(t, voice.ContentType, rr.Header().Get("Content-Type"))
	assert.Equal(t, "ID3", rr.Body.String())
	assert.Equal(t, "urgent", f.speaker.got.Tone)

	f.speaker.err = voice.ErrUnavailable
	rr = f.do(t, http.MethodPost, "/speech", `{"source": "ATC", "text": "again"}`)
	assert.Equal(t, http.StatusServiceUnavailable, rr.Code)
}

func TestServer_HealthIndexAndMetrics(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	info := f.openSession(t)

	rr := f.do(t, http.MethodGet, "/healthz", "")
	require.Equal(t, http.StatusOK, rr.Code)
	assert.JSONEq(t, `{"status": "ok", "open_sessions": 1}`, rr.Body.String())

	rr = f.do(t, http.MethodGet, "/", "")
	require.Equal(t, http.StatusOK, rr.Code)
	assert.Contains(t, rr.Body.String(), info.ID)

	rr = f.do(t, http.MethodGet, "/metrics", "")
	require.Equal(t, http.StatusOK, rr.Code)
	assert.Contains(t, rr.Body.String(), `pilotsim_http_requests_total{code="201",route="POST /sessions"} 1`)
}

func TestServer_TimelineUnknownSession(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	rr := f.do(t, http.MethodGet, "/sessions/nope/timeline", "")
	assert.Equal(t, http.StatusNotFound, rr.Code)
}
