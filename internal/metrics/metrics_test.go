package metrics

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/metalagman/pilotsim/internal/router"
	"github.com/metalagman/pilotsim/internal/turn"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCollector_ObservesTurns(t *testing.T) {
	t.Parallel()

	c, err := NewCollector(prometheus.NewRegistry())
	require.NoError(t, err)

	c.ObserveTurn(turn.Response{Speaker: router.ATC}, 40*time.Millisecond)
	c.ObserveTurn(turn.Response{Speaker: router.ATC, Blocked: true}, 10*time.Millisecond)
	c.ObserveTurn(turn.Response{Degraded: true}, time.Millisecond)
	c.ObserveFallback("scorer")
	c.ObserveFallback("scorer")
	c.SetOpenSessions(3)

	assert.InDelta(t, 1, testutil.ToFloat64(c.Turns.WithLabelValues("ATC", "false", "false")), 1e-9)
	assert.InDelta(t, 1, testutil.ToFloat64(c.Turns.WithLabelValues("ATC", "true", "false")), 1e-9)
	assert.InDelta(t, 1, testutil.ToFloat64(c.Turns.WithLabelValues("none", "false", "true")), 1e-9)
	assert.InDelta(t, 2, testutil.ToFloat64(c.Fallbacks.WithLabelValues("scorer")), 1e-9)
	assert.InDelta(t, 3, testutil.ToFloat64(c.OpenSessions), 1e-9)
	assert.Equal(t, 2, testutil.CollectAndCount(c.TurnDurations))
}

func TestCollector_ReusesRegisteredCollectors(t *testing.T) {
	t.Parallel()

	reg := prometheus.NewRegistry()
	first, err := NewCollector(reg)
	require.NoError(t, err)
	second, err := NewCollector(reg)
	require.NoError(t, err)

	second.ObserveFallback("controller")
	assert.InDelta(t, 1, testutil.ToFloat64(first.Fallbacks.WithLabelValues("controller")), 1e-9)
}

func TestCollector_HandlerAndMiddleware(t *testing.T) {
	t.Parallel()

	c, err := NewCollector(prometheus.NewRegistry())
	require.NoError(t, err)

	mux := http.NewServeMux()
	mux.HandleFunc("GET /sessions/{id}", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	})
	mux.Handle("GET /metrics", c.Handler())
	h := c.Middleware(mux)

	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/sessions/abc", nil))
	assert.Equal(t, http.StatusNotFound, rr.Code)
	assert.InDelta(t, 1, testutil.ToFloat64(c.HTTPRequests.WithLabelValues("GET /sessions/{id}", "404")), 1e-9)

	c.SetOpenSessions(2)
	rr = httptest.NewRecorder()
	h.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	require.Equal(t, http.StatusOK, rr.Code)
	assert.Contains(t, rr.Body.String(), "pilotsim_open_sessions 2")
	assert.Contains(t, rr.Body.String(), `pilotsim_http_requests_total{code="404",route="GET /sessions/{id}"} 1`)
}
