package strikes

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"time"
	"unicode/utf8"

	"strikekeeper/internal/metrics"
	"strikekeeper/internal/tracing"

	"github.com/disgoorg/snowflake/v2"
	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
	"go.opentelemetry.io/otel/trace"
)

// EngineConfig configures an Engine.
type EngineConfig struct {
	// ResetWindow is how long a strike stays active. Zero means DefaultResetWindow.
	ResetWindow time.Duration

	// Clock drives expiry sweeps. Nil means SystemClock.
	Clock Clock
}

// Engine runs the strike lifecycle: issuing, removing, resetting and expiring
// strikes, and escalating punishments. It keeps no strike state of its own;
// every call reads the store.
type Engine struct {
	store       Store
	applier     *Applier
	clock       Clock
	resetWindow time.Duration
}

// NewEngine creates an Engine on top of store. enforcer may be nil.
func NewEngine(store Store, enforcer Enforcer, cfg EngineConfig) *Engine {
	if cfg.ResetWindow <= 0 {
		cfg.ResetWindow = DefaultResetWindow
	}
	if cfg.Clock == nil {
		cfg.Clock = SystemClock{}
	}
	return &Engine{
		store:       store,
		applier:     NewApplier(store, enforcer),
		clock:       cfg.Clock,
		resetWindow: cfg.ResetWindow,
	}
}

// ResetWindow returns the configured strike lifetime.
func (e *Engine) ResetWindow() time.Duration {
	return e.resetWindow
}

// IssueStrike records a new strike and escalates when the user now holds
// EscalationThreshold or more active strikes. If the strike was stored but
// escalation bookkeeping failed, the result still carries the strike and the
// returned error says so.
func (e *Engine) IssueStrike(ctx context.Context, req IssueRequest) (IssueResult, error) {
	ctx, span := tracing.StrikeSpan(ctx, "issue", req.User.String())
	defer span.End()

	reason, err := validateIssue(req)
	if err != nil {
		log.Warn().Err(err).Str("user_id", req.User.String()).Msg("strikes: rejected strike request")
		tracing.EndWithError(span, err)
		return IssueResult{}, err
	}

	strikeID, activeCount, err := e.store.AddStrike(ctx, req.User, req.Moderator, reason, e.resetWindow)
	if err != nil {
		e.storeFailure(span, "issue", req.User, err)
		return IssueResult{}, err
	}
	metrics.StrikesIssuedTotal.Inc()

	log.Info().
		Uint64("strike_id", strikeID).
		Str("user_id", req.User.String()).
		Str("moderator_id", req.Moderator.String()).
		Int("active_strikes", activeCount).
		Str("reason", reason).
		Msg("strikes: strike issued")

	result := IssueResult{
		StrikeID:    strikeID,
		ActiveCount: activeCount,
		NextReset:   e.clock.Now().Add(e.resetWindow),
	}

	outcome, err := e.applier.Apply(ctx, req.User, activeCount)
	if err != nil {
		e.storeFailure(span, "escalate", req.User, err)
		return result, fmt.Errorf("strike %d recorded but escalation failed: %w", strikeID, err)
	}
	result.ViolationCount = outcome.ViolationCount
	if outcome.Escalated {
		result.Escalation = &outcome
	}

	if info, err := e.store.GetUserInfo(ctx, req.User); err == nil && info.NextReset != nil {
		result.NextReset = *info.NextReset
	}

	e.audit(ctx, AuditEntry{
		Action:  AuditActionIssueStrike,
		UserID:  req.User,
		ActorID: req.Moderator,
		Reason:  reason,
		Details: map[string]string{
			"strike_id":      strconv.FormatUint(strikeID, 10),
			"active_strikes": strconv.Itoa(activeCount),
		},
	})
	if outcome.Escalated {
		details := map[string]string{
			"violation_count": strconv.Itoa(outcome.ViolationCount),
			"duration":        outcome.Duration.String(),
			"enforced":        strconv.FormatBool(outcome.Enforced),
		}
		if outcome.EnforcementErr != nil {
			details["enforcement_error"] = outcome.EnforcementErr.Error()
		}
		e.audit(ctx, AuditEntry{
			Action:    AuditActionEscalate,
			UserID:    req.User,
			Reason:    fmt.Sprintf("Reached %d strikes (Violation #%d)", activeCount, outcome.ViolationCount),
			Details:   details,
			Automatic: true,
		})
	}

	return result, nil
}

// RemoveOneStrike deactivates the user's most recently issued active strike.
// Removed is false when the user had none. The violation count is untouched.
func (e *Engine) RemoveOneStrike(ctx context.Context, user, moderator snowflake.ID) (RemoveResult, error) {
	ctx, span := tracing.StrikeSpan(ctx, "remove", user.String())
	defer span.End()

	strike, err := e.store.DeactivateLatestStrike(ctx, user)
	if err != nil {
		e.storeFailure(span, "remove", user, err)
		return RemoveResult{}, err
	}

	info, err := e.store.GetUserInfo(ctx, user)
	if err != nil {
		e.storeFailure(span, "remove", user, err)
		if strike != nil {
			return RemoveResult{Removed: true, StrikeID: strike.ID}, err
		}
		return RemoveResult{}, err
	}

	result := RemoveResult{
		ActiveCount:    info.ActiveCount,
		ViolationCount: info.ViolationCount,
	}
	if strike == nil {
		return result, nil
	}

	result.Removed = true
	result.StrikeID = strike.ID
	metrics.StrikesRemovedTotal.WithLabelValues("removed").Inc()

	log.Info().
		Uint64("strike_id", strike.ID).
		Str("user_id", user.String()).
		Str("moderator_id", moderator.String()).
		Int("active_strikes", info.ActiveCount).
		Msg("strikes: strike removed")

	e.audit(ctx, AuditEntry{
		Action:  AuditActionRemoveStrike,
		UserID:  user,
		ActorID: moderator,
		Reason:  "Strike manually removed",
		Details: map[string]string{
			"strike_id":      strconv.FormatUint(strike.ID, 10),
			"active_strikes": strconv.Itoa(info.ActiveCount),
		},
	})

	return result, nil
}

// ResetAllStrikes deactivates every active strike the user holds.
// The violation count is untouched.
func (e *Engine) ResetAllStrikes(ctx context.Context, user, moderator snowflake.ID) (ResetResult, error) {
	ctx, span := tracing.StrikeSpan(ctx, "reset", user.String())
	defer span.End()

	removed, err := e.store.DeactivateAllActive(ctx, user)
	if err != nil {
		e.storeFailure(span, "reset", user, err)
		return ResetResult{}, err
	}

	violations, err := e.store.GetViolationCount(ctx, user)
	if err != nil {
		e.storeFailure(span, "reset", user, err)
		return ResetResult{StrikesRemoved: removed}, err
	}

	result := ResetResult{StrikesRemoved: removed, ViolationCount: violations}
	if removed == 0 {
		return result, nil
	}
	metrics.StrikesRemovedTotal.WithLabelValues("reset").Add(float64(removed))

	log.Info().
		Str("user_id", user.String()).
		Str("moderator_id", moderator.String()).
		Int("strikes_removed", removed).
		Msg("strikes: all strikes reset")

	e.audit(ctx, AuditEntry{
		Action:  AuditActionResetStrikes,
		UserID:  user,
		ActorID: moderator,
		Reason:  "All strikes manually reset",
		Details: map[string]string{"strikes_removed": strconv.Itoa(removed)},
	})

	return result, nil
}

// SweepExpired deactivates every strike whose expiry has passed. Expiry never
// escalates.
func (e *Engine) SweepExpired(ctx context.Context) (int, error) {
	ctx, span := tracing.StrikeSpan(ctx, "sweep", "")
	defer span.End()

	now := e.clock.Now()
	n, err := e.store.ExpireDueStrikes(ctx, now)
	if err != nil {
		metrics.StoreErrorsTotal.WithLabelValues("sweep").Inc()
		tracing.EndWithError(span, err)
		log.Error().Err(err).Msg("strikes: failed to expire strikes")
		return 0, err
	}
	if n == 0 {
		return 0, nil
	}
	metrics.StrikesRemovedTotal.WithLabelValues("expired").Add(float64(n))
	log.Info().Int("count", n).Msg("strikes: expired strikes reset")

	e.audit(ctx, AuditEntry{
		Action:    AuditActionExpireStrikes,
		Reason:    "Reset window elapsed",
		Details:   map[string]string{"count": strconv.Itoa(n)},
		Automatic: true,
	})

	return n, nil
}

// GetUserStrikeInfo returns the user's current standing.
func (e *Engine) GetUserStrikeInfo(ctx context.Context, user snowflake.ID) (UserInfo, error) {
	return e.store.GetUserInfo(ctx, user)
}

// GetAllActiveStrikes returns every active strike across all users.
func (e *Engine) GetAllActiveStrikes(ctx context.Context) ([]ActiveStrike, error) {
	return e.store.GetAllActiveStrikes(ctx)
}

// AuditLog returns the most recent audit entries, newest first.
func (e *Engine) AuditLog(ctx context.Context, limit int) ([]AuditEntry, error) {
	return e.store.ListAuditLog(ctx, limit)
}

func (e *Engine) storeFailure(span trace.Span, op string, user snowflake.ID, err error) {
	metrics.StoreErrorsTotal.WithLabelValues(op).Inc()
	tracing.EndWithError(span, err)
	log.Error().Err(err).Str("op", op).Str("user_id", user.String()).Msg("strikes: store operation failed")
}

// audit records entry; a failure is logged and does not undo the action.
func (e *Engine) audit(ctx context.Context, entry AuditEntry) {
	entry.ID = uuid.NewString()
	entry.Timestamp = e.clock.Now()
	if err := e.store.LogAction(ctx, entry); err != nil {
		log.Warn().Err(err).Str("action", string(entry.Action)).Msg("strikes: failed to write audit entry")
	}
}

func validateIssue(req IssueRequest) (string, error) {
	if req.User == 0 {
		return "", invalidf("user id is required")
	}
	if req.User == req.Moderator {
		return "", invalidf("moderators cannot strike themselves")
	}
	reason := strings.TrimSpace(req.Reason)
	if reason == "" {
		return "", invalidf("reason is required")
	}
	if utf8.RuneCountInString(reason) > MaxReasonLength {
		return "", invalidf("reason exceeds %d characters", MaxReasonLength)
	}
	return reason, nil
}
