package main

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"net"
	"net/http"
	"time"

	"github.com/metalagman/pilotsim/internal/collab"
	"github.com/metalagman/pilotsim/internal/config"
	"github.com/metalagman/pilotsim/internal/db"
	"github.com/metalagman/pilotsim/internal/metrics"
	"github.com/metalagman/pilotsim/internal/session"
	"github.com/metalagman/pilotsim/internal/turn"
	"github.com/metalagman/pilotsim/internal/voice"
	"github.com/metalagman/pilotsim/internal/web"
	"github.com/metalagman/pilotsim/internal/workbook"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
	"go.uber.org/fx"
	"go.uber.org/fx/fxevent"
)

const shutdownTimeout = 10 * time.Second

func serveCmd() *cobra.Command {
	var (
		addr      string
		scenarios string
	)
	cmd := &cobra.Command{
		Use:          "serve",
		Short:        "Serve the training API",
		SilenceUsage: true,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg := appConfig
			if addr != "" {
				cfg.Server.Addr = addr
			}
			app := fx.New(
				fx.WithLogger(func() fxevent.Logger {
					return fxLogger{logger: log.With().Str("component", "fx").Logger()}
				}),
				fx.Supply(cfg, workbook.NewLibrary(scenarios)),
				fx.Provide(
					newDatabase,
					newStore,
					newCollaborators,
					newMetrics,
					newOrchestrator,
					newRegistry,
					newServer,
				),
				fx.Invoke(runHTTPServer),
			)
			if err := app.Err(); err != nil {
				return fmt.Errorf("assemble server: %w", err)
			}
			app.Run()
			return nil
		},
	}
	cmd.Flags().StringVar(&addr, "addr", "", "listen address, overrides server.addr")
	cmd.Flags().StringVar(&scenarios, "scenarios", "scenarios", "directory of named workbook files")
	return cmd
}

func newDatabase(lc fx.Lifecycle, cfg config.Config) (*sql.DB, error) {
	conn, closeFn, err := openDB(context.Background(), cfg)
	if err != nil {
		return nil, err
	}
	lc.Append(fx.StopHook(closeFn))
	return conn, nil
}

func newStore(conn *sql.DB, cfg config.Config) *db.Store {
	store := db.NewStore(conn)
	res, err := store.PruneSessions(context.Background(), retentionPolicy(cfg), false)
	if err != nil {
		log.Warn().Err(err).Msg("prune sessions")
	} else if res.Deleted > 0 {
		log.Info().Int("deleted", res.Deleted).Msg("pruned old sessions")
	}
	return store
}

func newCollaborators(cfg config.Config) (collab.Set, error) {
	set, err := collaborators(context.Background(), cfg.Collaborators)
	if err != nil {
		return collab.Set{}, fmt.Errorf("create collaborators: %w", err)
	}
	log.Info().Str("backend", cfg.Collaborators.Backend).Msg("collaborators ready")
	return set, nil
}

func newMetrics() (*metrics.Collector, error) {
	return metrics.NewCollector(nil)
}

func newOrchestrator(cfg config.Config, set collab.Set, m *metrics.Collector) *turn.Orchestrator {
	return turn.New(set, turn.Config{
		CollaboratorTimeout: cfg.Collaborators.Timeout,
		Observer:            m,
	})
}

func newRegistry(lc fx.Lifecycle, cfg config.Config, o *turn.Orchestrator, store *db.Store, set collab.Set, m *metrics.Collector) (*session.Registry, error) {
	reg, err := session.NewRegistry(o, store, session.Config{
		MaxOpen:         cfg.Sessions.MaxOpen,
		AmbientInterval: cfg.Sessions.AmbientInterval,
		Timeout:         cfg.Collaborators.Timeout,
		Ambient:         set.Traffic,
		OnChange:        m.SetOpenSessions,
	})
	if err != nil {
		return nil, err
	}
	lc.Append(fx.StopHook(reg.CloseAll))
	return reg, nil
}

func newServer(cfg config.Config, reg *session.Registry, store *db.Store, lib *workbook.Library, m *metrics.Collector) (*web.Server, error) {
	deps := web.Deps{
		Sessions:  reg,
		Scenarios: lib,
		History:   store,
		Metrics:   m,
	}
	if cfg.Voice.Enabled {
		deps.Voice = voice.New(voice.Config{
			Region:  cfg.Voice.Region,
			VoiceID: cfg.Voice.VoiceID,
			Engine:  cfg.Voice.Engine,
		})
	}
	return web.NewServer(deps)
}

func runHTTPServer(lc fx.Lifecycle, cfg config.Config, srv *web.Server) {
	httpServer := &http.Server{
		Addr:              cfg.Server.Addr,
		Handler:           srv.Routes(),
		ReadHeaderTimeout: 10 * time.Second,
	}
	lc.Append(fx.Hook{
		OnStart: func(context.Context) error {
			ln, err := net.Listen("tcp", httpServer.Addr)
			if err != nil {
				return fmt.Errorf("listen %s: %w", httpServer.Addr, err)
			}
			log.Info().Str("addr", ln.Addr().String()).Msg("serving")
			go func() {
				if err := httpServer.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
					log.Error().Err(err).Msg("http server stopped")
				}
			}()
			return nil
		},
		OnStop: func(ctx context.Context) error {
			ctx, cancel := context.WithTimeout(ctx, shutdownTimeout)
			defer cancel()
			return httpServer.Shutdown(ctx)
		},
	})
}

// fxLogger routes fx lifecycle events to zerolog.
type fxLogger struct {
	logger zerolog.Logger
}

func (l fxLogger) LogEvent(event fxevent.Event) {
	switch e := event.(type) {
	case *fxevent.OnStartExecuted:
		l.result(e.Err).Str("callee", e.FunctionName).Dur("runtime", e.Runtime).Msg("start hook")
	case *fxevent.OnStopExecuted:
		l.result(e.Err).Str("callee", e.FunctionName).Dur("runtime", e.Runtime).Msg("stop hook")
	case *fxevent.Provided:
		if e.Err != nil {
			l.logger.Error().Err(e.Err).Str("constructor", e.ConstructorName).Msg("provide failed")
		}
	case *fxevent.Invoked:
		if e.Err != nil {
			l.logger.Error().Err(e.Err).Str("function", e.FunctionName).Msg("invoke failed")
		}
	case *fxevent.Started:
		l.result(e.Err).Msg("application started")
	case *fxevent.Stopped:
		l.result(e.Err).Msg("application stopped")
	}
}

func (l fxLogger) result(err error) *zerolog.Event {
	if err != nil {
		return l.logger.Error().Err(err)
	}
	return l.logger.Debug()
}
