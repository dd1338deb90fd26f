package metrics

import (
	"context"
	"time"

	"github.com/rs/zerolog/log"
)

// Stats is a snapshot of store counts. A negative field means unavailable.
type Stats struct {
	TotalStrikes        int
	ActiveStrikes       int
	UsersWithStrikes    int
	UsersWithViolations int
}

// StatsSource returns the current store counts.
type StatsSource func(ctx context.Context) (Stats, error)

// StartCollector launches a goroutine that periodically updates gauge metrics.
// It runs every interval until the context is cancelled.
func StartCollector(ctx context.Context, src StatsSource, interval time.Duration) {
	collect(ctx, src)

	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()

		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				collect(ctx, src)
			}
		}
	}()

	log.Info().Dur("interval", interval).Msg("Metrics collector started")
}

func collect(ctx context.Context, src StatsSource) {
	if src == nil {
		return
	}
	stats, err := src(ctx)
	if err != nil {
		log.Warn().Err(err).Msg("metrics: failed to collect store stats")
		return
	}
	setGauge(TotalStrikes, stats.TotalStrikes)
	setGauge(ActiveStrikes, stats.ActiveStrikes)
	setGauge(UsersWithStrikes, stats.UsersWithStrikes)
	setGauge(UsersWithViolations, stats.UsersWithViolations)
}

type gauge interface{ Set(float64) }

func setGauge(g gauge, v int) {
	if v >= 0 {
		g.Set(float64(v))
	}
}
