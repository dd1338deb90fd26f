package main

import (
	"context"
	"errors"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"strikekeeper/internal/dashboard"
	"strikekeeper/internal/metrics"
	"strikekeeper/internal/platform"
	"strikekeeper/internal/routing"
	"strikekeeper/internal/tracing"

	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"
)

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Run the sweep and dashboard loops and the ops server",
	Args:  cobra.NoArgs,
	RunE:  runDaemon,
}

func runDaemon(cmd *cobra.Command, args []string) error {
	ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	a, err := openApp(ctx)
	if err != nil {
		return err
	}
	defer a.Close()

	log.Info().
		Str("backend", a.cfg.Store.Backend).
		Str("path", a.cfg.Store.Path).
		Dur("reset_window", a.cfg.Strikes.ResetWindow).
		Msg("Starting strikekeeper")

	if a.cfg.OTEL {
		tp, err := tracing.Init(ctx, tracing.OptionsFromEnv())
		if err != nil {
			log.Warn().Err(err).Msg("Failed to initialise tracing, continuing without it")
		} else {
			defer func() {
				shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
				defer cancel()
				if err := tp.Shutdown(shutdownCtx); err != nil {
					log.Warn().Err(err).Msg("Failed to flush traces")
				}
			}()
		}
	}

	metrics.StartCollector(ctx, a.statsSource, 30*time.Second)

	publisher := platform.NewFilePublisher(a.cfg.Platform.DashboardDir, platform.DefaultSurface)
	refresher := dashboard.NewRefresher(a.store, a.summarizer, publisher, nil)
	runner := dashboard.NewRunner(a.engine, refresher, dashboard.RunnerConfig{
		SweepInterval:   a.cfg.Loops.SweepInterval,
		SweepStartDelay: a.cfg.Loops.SweepStartDelay,
		RefreshInterval: a.cfg.Loops.DashboardInterval,
	})

	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return runner.Run(ctx)
	})

	if a.cfg.OpsAddr != "" {
		srv := &http.Server{
			Addr: a.cfg.OpsAddr,
			Handler: routing.SetupRouter(routing.Config{
				Engine:     a.engine,
				Summarizer: a.summarizer,
				Store:      a.store,
				Logger:     log.Logger,
			}),
			ReadHeaderTimeout: 5 * time.Second,
		}

		g.Go(func() error {
			log.Info().Str("address", srv.Addr).Msg("Ops server listening")
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				return err
			}
			return nil
		})
		g.Go(func() error {
			<-ctx.Done()
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			return srv.Shutdown(shutdownCtx)
		})
	}

	err = g.Wait()
	log.Info().Msg("strikekeeper stopped")
	return err
}
