package dashboard

import (
	"context"
	"time"

	"strikekeeper/internal/metrics"

	"github.com/rs/zerolog/log"
	"golang.org/x/sync/errgroup"
)

// Sweeper expires strikes whose reset window has passed.
type Sweeper interface {
	SweepExpired(ctx context.Context) (int, error)
}

// RunnerConfig sets the loop cadences.
type RunnerConfig struct {
	SweepInterval   time.Duration
	SweepStartDelay time.Duration
	RefreshInterval time.Duration
}

// Runner drives the periodic expiry sweep and dashboard refresh.
type Runner struct {
	sweeper   Sweeper
	refresher *Refresher
	cfg       RunnerConfig
}

// NewRunner creates a Runner. refresher may be nil to run only the sweep.
func NewRunner(sweeper Sweeper, refresher *Refresher, cfg RunnerConfig) *Runner {
	if cfg.SweepInterval <= 0 {
		cfg.SweepInterval = 30 * time.Second
	}
	if cfg.RefreshInterval <= 0 {
		cfg.RefreshInterval = 30 * time.Second
	}
	return &Runner{sweeper: sweeper, refresher: refresher, cfg: cfg}
}

// Run blocks until ctx is cancelled. A failed iteration is logged and the
// loop carries on.
func (r *Runner) Run(ctx context.Context) error {
	g, ctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		loop(ctx, "sweep", r.cfg.SweepStartDelay, r.cfg.SweepInterval, func(ctx context.Context) error {
			_, err := r.sweeper.SweepExpired(ctx)
			return err
		})
		return nil
	})

	if r.refresher != nil {
		g.Go(func() error {
			loop(ctx, "dashboard", 0, r.cfg.RefreshInterval, r.refresher.Refresh)
			return nil
		})
	}

	return g.Wait()
}

func loop(ctx context.Context, name string, delay, interval time.Duration, fn func(context.Context) error) {
	if delay > 0 {
		timer := time.NewTimer(delay)
		select {
		case <-ctx.Done():
			timer.Stop()
			return
		case <-timer.C:
		}
	}

	log.Info().Str("loop", name).Dur("interval", interval).Msg("dashboard: loop started")

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		metrics.LoopIterationsTotal.WithLabelValues(name).Inc()
		if err := fn(ctx); err != nil && ctx.Err() == nil {
			metrics.LoopErrorsTotal.WithLabelValues(name).Inc()
			log.Error().Err(err).Str("loop", name).Msg("dashboard: loop iteration failed")
		}

		select {
		case <-ctx.Done():
			log.Info().Str("loop", name).Msg("dashboard: loop stopped")
			return
		case <-ticker.C:
		}
	}
}
