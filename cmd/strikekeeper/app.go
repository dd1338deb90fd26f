package main

import (
	"context"
	"errors"
	"fmt"

	"strikekeeper/internal/config"
	"strikekeeper/internal/database/boltstore"
	"strikekeeper/internal/database/sqlitestore"
	"strikekeeper/internal/metrics"
	"strikekeeper/internal/platform"
	"strikekeeper/internal/strikes"

	"github.com/rs/zerolog/log"
)

type configKey struct{}

func withConfig(ctx context.Context, cfg *config.Config) context.Context {
	if ctx == nil {
		ctx = context.Background()
	}
	return context.WithValue(ctx, configKey{}, cfg)
}

func configFrom(ctx context.Context) (*config.Config, error) {
	cfg, ok := ctx.Value(configKey{}).(*config.Config)
	if !ok {
		return nil, errors.New("configuration not loaded")
	}
	return cfg, nil
}

// app bundles the collaborators every command needs.
type app struct {
	cfg        *config.Config
	store      strikes.Store
	engine     *strikes.Engine
	summarizer *strikes.Summarizer
}

func openApp(ctx context.Context) (*app, error) {
	cfg, err := configFrom(ctx)
	if err != nil {
		return nil, err
	}

	store, err := openStore(cfg)
	if err != nil {
		return nil, err
	}

	var resolver strikes.Resolver
	if cfg.Platform.DirectoryFile != "" {
		dir, err := platform.NewDirectory(cfg.Platform.DirectoryFile)
		if err != nil {
			store.Close()
			return nil, fmt.Errorf("load directory: %w", err)
		}
		resolver = dir
	}

	enforcer := platform.NewLogEnforcer(cfg.Platform.DenyEnforcement)
	clock := strikes.SystemClock{}

	return &app{
		cfg:   cfg,
		store: store,
		engine: strikes.NewEngine(store, enforcer, strikes.EngineConfig{
			ResetWindow: cfg.Strikes.ResetWindow,
			Clock:       clock,
		}),
		summarizer: strikes.NewSummarizer(store, resolver, clock),
	}, nil
}

func (a *app) Close() {
	if err := a.store.Close(); err != nil {
		log.Warn().Err(err).Msg("Failed to close store")
	}
}

// statsSource adapts the store's counts for the metrics collector.
func (a *app) statsSource(ctx context.Context) (metrics.Stats, error) {
	s, err := a.store.Stats(ctx)
	if err != nil {
		return metrics.Stats{}, err
	}
	return metrics.Stats{
		TotalStrikes:        s.TotalStrikes,
		ActiveStrikes:       s.ActiveStrikes,
		UsersWithStrikes:    s.UsersWithStrikes,
		UsersWithViolations: s.UsersWithViolations,
	}, nil
}

func openStore(cfg *config.Config) (strikes.Store, error) {
	switch cfg.Store.Backend {
	case config.BackendSQLite:
		store, err := sqlitestore.Open(sqlitestore.Options{
			Path:        cfg.Store.Path,
			LockTimeout: cfg.Store.LockTimeout,
		})
		if err != nil {
			return nil, err
		}
		log.Debug().Str("path", cfg.Store.Path).Str("backend", cfg.Store.Backend).Msg("Database opened")
		return store, nil
	default:
		db, err := boltstore.Open(boltstore.Options{
			Path:        cfg.Store.Path,
			LockTimeout: cfg.Store.LockTimeout,
		})
		if err != nil {
			return nil, err
		}
		log.Debug().Str("path", cfg.Store.Path).Str("backend", cfg.Store.Backend).Msg("Database opened")
		return db.StrikeStore(), nil
	}
}
