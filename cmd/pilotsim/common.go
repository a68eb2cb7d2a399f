package main

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/metalagman/pilotsim/internal/collab"
	"github.com/metalagman/pilotsim/internal/collab/canned"
	"github.com/metalagman/pilotsim/internal/collab/llm"
	"github.com/metalagman/pilotsim/internal/collab/llm/geminiapi"
	"github.com/metalagman/pilotsim/internal/collab/llm/openaiapi"
	"github.com/metalagman/pilotsim/internal/config"
	"github.com/metalagman/pilotsim/internal/db"
)

func openDB(ctx context.Context, cfg config.Config) (*sql.DB, func(), error) {
	path := cfg.Database.Path
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, func() {}, fmt.Errorf("create database dir: %w", err)
		}
	}
	conn, err := db.Open(ctx, path)
	if err != nil {
		return nil, func() {}, err
	}
	return conn, func() { _ = conn.Close() }, nil
}

func retentionPolicy(cfg config.Config) db.RetentionPolicy {
	return db.RetentionPolicy{KeepLast: cfg.Retention.KeepLast, KeepDays: cfg.Retention.KeepDays}
}

func collaborators(ctx context.Context, cfg config.CollaboratorsConfig) (collab.Set, error) {
	switch cfg.Backend {
	case config.BackendOpenAI:
		client, err := openaiapi.NewClient(openaiapi.Config{
			Model:     cfg.Model,
			BaseURL:   cfg.BaseURL,
			APIKey:    cfg.APIKey,
			APIKeyEnv: cfg.APIKeyEnv,
			Timeout:   cfg.Timeout,
		}, nil)
		if err != nil {
			return collab.Set{}, err
		}
		return llm.New(client), nil
	case config.BackendGemini:
		client, err := geminiapi.NewClient(ctx, geminiapi.Config{
			Model:     cfg.Model,
			BaseURL:   cfg.BaseURL,
			APIKey:    cfg.APIKey,
			APIKeyEnv: cfg.APIKeyEnv,
			Timeout:   cfg.Timeout,
		}, nil)
		if err != nil {
			return collab.Set{}, err
		}
		return llm.New(client), nil
	default:
		return canned.New(), nil
	}
}

func printJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	if err := enc.Encode(v); err != nil {
		return fmt.Errorf("write output: %w", err)
	}
	return nil
}
