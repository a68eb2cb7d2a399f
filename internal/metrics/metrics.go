// Package metrics exposes Prometheus metrics for turns, collaborator
// fallbacks, open sessions and the HTTP API.
package metrics

import (
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/metalagman/pilotsim/internal/turn"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Collector bundles the pilotsim metrics. It implements turn.Observer.
type Collector struct {
	gatherer prometheus.Gatherer

	Turns         *prometheus.CounterVec
	TurnDurations *prometheus.HistogramVec
	Fallbacks     *prometheus.CounterVec
	OpenSessions  prometheus.Gauge
	HTTPRequests  *prometheus.CounterVec
}

var _ turn.Observer = (*Collector)(nil)

// NewCollector registers the metrics against reg, defaulting to the global
// registry when nil. Registering twice on the same registry reuses the
// existing collectors.
func NewCollector(reg prometheus.Registerer) (*Collector, error) {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	gatherer := prometheus.DefaultGatherer
	if g, ok := reg.(prometheus.Gatherer); ok {
		gatherer = g
	}

	turns, err := register(reg, prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "pilotsim_turns_total",
		Help: "Processed turns, labeled by speaker, blocked and degraded.",
	}, []string{"speaker", "blocked", "degraded"}))
	if err != nil {
		return nil, err
	}
	durations, err := register(reg, prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "pilotsim_turn_duration_seconds",
		Help:    "Turn processing latency in seconds.",
		Buckets: []float64{0.005, 0.01, 0.05, 0.1, 0.25, 0.5, 1, 2, 5, 10, 20},
	}, []string{"speaker"}))
	if err != nil {
		return nil, err
	}
	fallbacks, err := register(reg, prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "pilotsim_collaborator_fallbacks_total",
		Help: "Collaborator calls replaced by a fallback, labeled by collaborator.",
	}, []string{"collaborator"}))
	if err != nil {
		return nil, err
	}
	open, err := register(reg, prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "pilotsim_open_sessions",
		Help: "Current number of open sessions.",
	}))
	if err != nil {
		return nil, err
	}
	requests, err := register(reg, prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "pilotsim_http_requests_total",
		Help: "Handled HTTP requests, labeled by route and status code.",
	}, []string{"route", "code"}))
	if err != nil {
		return nil, err
	}

	return &Collector{
		gatherer:      gatherer,
		Turns:         turns,
		TurnDurations: durations,
		Fallbacks:     fallbacks,
		OpenSessions:  open,
		HTTPRequests:  requests,
	}, nil
}

// ObserveTurn records a completed turn.
func (c *Collector) ObserveTurn(resp turn.Response, elapsed time.Duration) {
	if c == nil {
		return
	}
	speaker := string(resp.Speaker)
	if speaker == "" {
		speaker = "none"
	}
	c.Turns.WithLabelValues(speaker, strconv.FormatBool(resp.Blocked), strconv.FormatBool(resp.Degraded)).Inc()
	c.TurnDurations.WithLabelValues(speaker).Observe(elapsed.Seconds())
}

// ObserveFallback records a collaborator fallback.
func (c *Collector) ObserveFallback(collaborator string) {
	if c == nil {
		return
	}
	c.Fallbacks.WithLabelValues(collaborator).Inc()
}

// SetOpenSessions updates the open sessions gauge.
func (c *Collector) SetOpenSessions(n int) {
	if c == nil {
		return
	}
	c.OpenSessions.Set(float64(n))
}

// Handler exposes a ready-to-use /metrics handler.
func (c *Collector) Handler() http.Handler {
	return promhttp.HandlerFor(c.gatherer, promhttp.HandlerOpts{})
}

// Middleware counts requests by matched route pattern.
func (c *Collector) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		sw := &statusWriter{ResponseWriter: w, code: http.StatusOK}
		next.ServeHTTP(sw, r)
		route := r.Pattern
		if route == "" {
			route = "unmatched"
		}
		c.HTTPRequests.WithLabelValues(route, strconv.Itoa(sw.code)).Inc()
	})
}

type statusWriter struct {
	http.ResponseWriter
	code int
}

func (w *statusWriter) WriteHeader(code int) {
	w.code = code
	w.ResponseWriter.WriteHeader(code)
}

func register[T prometheus.Collector](reg prometheus.Registerer, c T) (T, error) {
	if err := reg.Register(c); err != nil {
		var are prometheus.AlreadyRegisteredError
		if errors.As(err, &are) {
			if existing, ok := are.ExistingCollector.(T); ok {
				return existing, nil
			}
			return c, fmt.Errorf("collector already registered with incompatible type: %w", err)
		}
		return c, fmt.Errorf("register collector: %w", err)
	}
	return c, nil
}
