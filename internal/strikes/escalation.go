package strikes

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"strikekeeper/internal/metrics"

	"github.com/disgoorg/snowflake/v2"
	"github.com/rs/zerolog/log"
)

// MaxPunishment applies to any violation count past the end of the table.
const MaxPunishment = 1440 * time.Minute

// Punishment is one tier of the escalation table.
type Punishment struct {
	Violation int           `json:"violation"`
	Duration  time.Duration `json:"duration"`
}

var punishmentTable = []Punishment{
	{Violation: 1, Duration: 5 * time.Minute},
	{Violation: 2, Duration: 10 * time.Minute},
	{Violation: 3, Duration: 60 * time.Minute},
	{Violation: 4, Duration: 120 * time.Minute},
	{Violation: 5, Duration: 180 * time.Minute},
	{Violation: 6, Duration: 1440 * time.Minute},
}

// PunishmentTable returns a copy of the escalation table, ordered by violation.
func PunishmentTable() []Punishment {
	result := make([]Punishment, len(punishmentTable))
	copy(result, punishmentTable)
	return result
}

// PunishmentFor returns the suspension length for the given lifetime
// violation count. Counts without a table entry get MaxPunishment.
func PunishmentFor(violationCount int) time.Duration {
	for _, p := range punishmentTable {
		if p.Violation == violationCount {
			return p.Duration
		}
	}
	return MaxPunishment
}

// Outcome describes what the Applier did for one issued strike.
type Outcome struct {
	ViolationCount int           `json:"violation_count"`
	Escalated      bool          `json:"escalated"`
	Duration       time.Duration `json:"duration,omitempty"`
	Enforced       bool          `json:"enforced"`
	EnforcementErr error         `json:"-"`
}

// Applier turns an active strike count into violation bookkeeping and a
// timed suspension request.
type Applier struct {
	store    Store
	enforcer Enforcer
}

// NewApplier creates an Applier. A nil enforcer records escalations without
// asking the platform for anything.
func NewApplier(store Store, enforcer Enforcer) *Applier {
	return &Applier{store: store, enforcer: enforcer}
}

// Apply escalates when activeCount has reached EscalationThreshold. The
// violation count is persisted before enforcement is attempted and stands
// whatever the platform answers; only store failures are returned as errors.
func (a *Applier) Apply(ctx context.Context, user snowflake.ID, activeCount int) (Outcome, error) {
	if activeCount < EscalationThreshold {
		count, err := a.store.GetViolationCount(ctx, user)
		if err != nil {
			return Outcome{}, err
		}
		return Outcome{ViolationCount: count}, nil
	}

	count, err := a.store.IncrementViolationCount(ctx, user)
	if err != nil {
		return Outcome{}, err
	}

	d := PunishmentFor(count)
	out := Outcome{ViolationCount: count, Escalated: true, Duration: d}
	metrics.EscalationsTotal.WithLabelValues(strconv.Itoa(int(d.Minutes()))).Inc()

	logger := log.With().
		Str("user_id", user.String()).
		Int("active_strikes", activeCount).
		Int("violation_count", count).
		Dur("duration", d).
		Logger()

	if a.enforcer == nil {
		metrics.EnforcementTotal.WithLabelValues("skipped").Inc()
		logger.Warn().Msg("strikes: no enforcer configured, suspension not applied")
		return out, nil
	}

	reason := fmt.Sprintf("Reached %d strikes (Violation #%d)", activeCount, count)
	err = a.enforcer.ApplyTimedSuspension(ctx, user, d, reason)
	switch {
	case err == nil:
		out.Enforced = true
		metrics.EnforcementTotal.WithLabelValues("applied").Inc()
		logger.Info().Msg("strikes: user suspended")
	case errors.Is(err, ErrEnforcementDenied):
		out.EnforcementErr = err
		metrics.EnforcementTotal.WithLabelValues("denied").Inc()
		logger.Error().Err(err).Msg("strikes: missing permissions to suspend user")
	default:
		out.EnforcementErr = err
		metrics.EnforcementTotal.WithLabelValues("failed").Inc()
		logger.Error().Err(err).Msg("strikes: failed to suspend user")
	}

	return out, nil
}
