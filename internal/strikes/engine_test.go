package strikes_test

import (
	"context"
	"errors"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"strikekeeper/internal/database"
	"strikekeeper/internal/database/boltstore"
	"strikekeeper/internal/database/storetest"
	"strikekeeper/internal/strikes"

	"github.com/disgoorg/snowflake/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const (
	member    = snowflake.ID(111)
	moderator = snowflake.ID(999)
)

type suspension struct {
	User     snowflake.ID
	Duration time.Duration
	Reason   string
}

// recordingEnforcer remembers every suspension it was asked for.
type recordingEnforcer struct {
	mu    sync.Mutex
	calls []suspension
	err   error
}

func (e *recordingEnforcer) ApplyTimedSuspension(ctx context.Context, user snowflake.ID, d time.Duration, reason string) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.calls = append(e.calls, suspension{User: user, Duration: d, Reason: reason})
	return e.err
}

func (e *recordingEnforcer) Calls() []suspension {
	e.mu.Lock()
	defer e.mu.Unlock()
	return append([]suspension(nil), e.calls...)
}

func setupTestEngine(t *testing.T, enforcer strikes.Enforcer) (*strikes.Engine, strikes.Store, *storetest.Clock) {
	clock := storetest.NewClock(time.Date(2024, 6, 1, 9, 0, 0, 0, time.UTC))

	db, err := boltstore.Open(boltstore.Options{
		Path: filepath.Join(t.TempDir(), "strikes.db"),
		Now:  clock.Now,
	})
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	store := db.StrikeStore()
	engine := strikes.NewEngine(store, enforcer, strikes.EngineConfig{Clock: clock})
	return engine, store, clock
}

func issue(t *testing.T, engine *strikes.Engine, reason string) strikes.IssueResult {
	t.Helper()
	result, err := engine.IssueStrike(context.Background(), strikes.IssueRequest{
		User:      member,
		Moderator: moderator,
		Reason:    reason,
	})
	require.NoError(t, err)
	return result
}

func TestIssueStrikeEscalation(t *testing.T) {
	enforcer := &recordingEnforcer{}
	engine, _, clock := setupTestEngine(t, enforcer)

	first := issue(t, engine, "spam")
	assert.Equal(t, 1, first.ActiveCount)
	assert.Equal(t, 0, first.ViolationCount)
	assert.Nil(t, first.Escalation)
	assert.True(t, first.NextReset.Equal(clock.Now().Add(strikes.DefaultResetWindow)))

	clock.Advance(time.Minute)
	second := issue(t, engine, "more spam")
	assert.Equal(t, 2, second.ActiveCount)
	assert.Nil(t, second.Escalation)
	assert.True(t, second.NextReset.Equal(first.NextReset), "next reset is the earliest expiry")
	assert.Empty(t, enforcer.Calls())

	third := issue(t, engine, "even more spam")
	assert.Equal(t, 3, third.ActiveCount)
	assert.Equal(t, 1, third.ViolationCount)
	require.NotNil(t, third.Escalation)
	assert.Equal(t, 5*time.Minute, third.Escalation.Duration)
	assert.True(t, third.Escalation.Enforced)

	fourth := issue(t, engine, "still spamming")
	assert.Equal(t, 4, fourth.ActiveCount)
	assert.Equal(t, 2, fourth.ViolationCount)
	require.NotNil(t, fourth.Escalation)
	assert.Equal(t, 10*time.Minute, fourth.Escalation.Duration)

	calls := enforcer.Calls()
	require.Len(t, calls, 2)
	assert.Equal(t, suspension{User: member, Duration: 5 * time.Minute, Reason: "Reached 3 strikes (Violation #1)"}, calls[0])
	assert.Equal(t, suspension{User: member, Duration: 10 * time.Minute, Reason: "Reached 4 strikes (Violation #2)"}, calls[1])
}

func TestIssueStrikeEnforcementDenied(t *testing.T) {
	enforcer := &recordingEnforcer{err: strikes.ErrEnforcementDenied}
	engine, store, _ := setupTestEngine(t, enforcer)

	issue(t, engine, "one")
	issue(t, engine, "two")
	result := issue(t, engine, "three")

	require.NotNil(t, result.Escalation)
	assert.False(t, result.Escalation.Enforced)
	assert.ErrorIs(t, result.Escalation.EnforcementErr, strikes.ErrEnforcementDenied)
	assert.Equal(t, 1, result.ViolationCount)

	count, err := store.GetViolationCount(context.Background(), member)
	require.NoError(t, err)
	assert.Equal(t, 1, count, "denied enforcement keeps the violation")
}

func TestIssueStrikeWithoutEnforcer(t *testing.T) {
	engine, _, _ := setupTestEngine(t, nil)

	issue(t, engine, "one")
	issue(t, engine, "two")
	result := issue(t, engine, "three")

	require.NotNil(t, result.Escalation)
	assert.False(t, result.Escalation.Enforced)
	assert.Equal(t, 1, result.ViolationCount)
}

func TestIssueStrikeValidation(t *testing.T) {
	engine, store, _ := setupTestEngine(t, nil)
	ctx := context.Background()

	tests := []struct {
		name string
		req  strikes.IssueRequest
	}{
		{"missing user", strikes.IssueRequest{Moderator: moderator, Reason: "spam"}},
		{"self strike", strikes.IssueRequest{User: moderator, Moderator: moderator, Reason: "spam"}},
		{"blank reason", strikes.IssueRequest{User: member, Moderator: moderator, Reason: "   "}},
		{"long reason", strikes.IssueRequest{User: member, Moderator: moderator, Reason: strings.Repeat("x", strikes.MaxReasonLength+1)}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := engine.IssueStrike(ctx, tt.req)
			assert.ErrorIs(t, err, strikes.ErrInvalidRequest)
		})
	}

	info, err := store.GetUserInfo(ctx, member)
	require.NoError(t, err)
	assert.Equal(t, 0, info.ActiveCount, "rejected requests store nothing")
}

func TestIssueStrikeTrimsReason(t *testing.T) {
	engine, store, _ := setupTestEngine(t, nil)

	issue(t, engine, "  spam  ")

	active, err := store.GetActiveStrikes(context.Background(), member)
	require.NoError(t, err)
	require.Len(t, active, 1)
	assert.Equal(t, "spam", active[0].Reason)
}

func TestRemoveOneStrike(t *testing.T) {
	engine, _, clock := setupTestEngine(t, nil)
	ctx := context.Background()

	first := issue(t, engine, "first")
	clock.Advance(time.Minute)
	second := issue(t, engine, "second")

	result, err := engine.RemoveOneStrike(ctx, member, moderator)
	require.NoError(t, err)
	assert.True(t, result.Removed)
	assert.Equal(t, second.StrikeID, result.StrikeID, "the latest strike goes first")
	assert.Equal(t, 1, result.ActiveCount)

	result, err = engine.RemoveOneStrike(ctx, member, moderator)
	require.NoError(t, err)
	assert.True(t, result.Removed)
	assert.Equal(t, first.StrikeID, result.StrikeID)
	assert.Equal(t, 0, result.ActiveCount)

	result, err = engine.RemoveOneStrike(ctx, member, moderator)
	require.NoError(t, err)
	assert.False(t, result.Removed)
	assert.Equal(t, 0, result.ActiveCount)
}

func TestResetAllStrikesKeepsViolations(t *testing.T) {
	engine, _, _ := setupTestEngine(t, &recordingEnforcer{})
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		issue(t, engine, "spam")
	}

	result, err := engine.ResetAllStrikes(ctx, member, moderator)
	require.NoError(t, err)
	assert.Equal(t, 3, result.StrikesRemoved)
	assert.Equal(t, 1, result.ViolationCount)

	result, err = engine.ResetAllStrikes(ctx, member, moderator)
	require.NoError(t, err)
	assert.Equal(t, 0, result.StrikesRemoved)

	info, err := engine.GetUserStrikeInfo(ctx, member)
	require.NoError(t, err)
	assert.Equal(t, 0, info.ActiveCount)
	assert.Nil(t, info.NextReset)
	assert.Equal(t, 1, info.ViolationCount)

	// Counting starts over, but the next escalation is violation #2.
	issue(t, engine, "again")
	issue(t, engine, "again")
	again := issue(t, engine, "again")
	require.NotNil(t, again.Escalation)
	assert.Equal(t, 2, again.ViolationCount)
	assert.Equal(t, 10*time.Minute, again.Escalation.Duration)
}

func TestSweepExpired(t *testing.T) {
	enforcer := &recordingEnforcer{}
	engine, _, clock := setupTestEngine(t, enforcer)
	ctx := context.Background()

	issue(t, engine, "old")
	clock.Advance(time.Hour)
	issue(t, engine, "newer")

	n, err := engine.SweepExpired(ctx)
	require.NoError(t, err)
	assert.Equal(t, 0, n)

	clock.Advance(strikes.DefaultResetWindow - 30*time.Minute)
	n, err = engine.SweepExpired(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	info, err := engine.GetUserStrikeInfo(ctx, member)
	require.NoError(t, err)
	assert.Equal(t, 1, info.ActiveCount)

	clock.Advance(time.Hour)
	n, err = engine.SweepExpired(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, n)
	assert.Empty(t, enforcer.Calls(), "expiry never escalates")
}

func TestViolationCountIsMonotonic(t *testing.T) {
	engine, _, clock := setupTestEngine(t, &recordingEnforcer{})
	ctx := context.Background()

	last := 0
	for round := 0; round < 3; round++ {
		for i := 0; i < 4; i++ {
			result := issue(t, engine, "spam")
			assert.GreaterOrEqual(t, result.ViolationCount, last)
			last = result.ViolationCount
		}
		_, err := engine.RemoveOneStrike(ctx, member, moderator)
		require.NoError(t, err)
		_, err = engine.ResetAllStrikes(ctx, member, moderator)
		require.NoError(t, err)
		clock.Advance(strikes.DefaultResetWindow * 2)
		_, err = engine.SweepExpired(ctx)
		require.NoError(t, err)

		info, err := engine.GetUserStrikeInfo(ctx, member)
		require.NoError(t, err)
		assert.Equal(t, last, info.ViolationCount)
	}
	assert.Equal(t, 6, last)
}

func TestConcurrentIssuance(t *testing.T) {
	enforcer := &recordingEnforcer{}
	engine, _, _ := setupTestEngine(t, enforcer)
	ctx := context.Background()

	const workers = 10
	results := make(chan strikes.IssueResult, workers)
	var wg sync.WaitGroup
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			result, err := engine.IssueStrike(ctx, strikes.IssueRequest{User: member, Moderator: moderator, Reason: "race"})
			assert.NoError(t, err)
			results <- result
		}()
	}
	wg.Wait()
	close(results)

	seen := make(map[int]bool)
	escalations := 0
	for r := range results {
		assert.False(t, seen[r.ActiveCount], "active count %d seen twice", r.ActiveCount)
		seen[r.ActiveCount] = true
		if r.Escalation != nil {
			escalations++
		}
	}
	assert.Equal(t, workers-strikes.EscalationThreshold+1, escalations)

	info, err := engine.GetUserStrikeInfo(ctx, member)
	require.NoError(t, err)
	assert.Equal(t, workers, info.ActiveCount)
	assert.Equal(t, escalations, info.ViolationCount)
	assert.Len(t, enforcer.Calls(), escalations)
}

func TestAuditTrail(t *testing.T) {
	engine, _, clock := setupTestEngine(t, &recordingEnforcer{})
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		issue(t, engine, "spam")
	}
	clock.Advance(time.Second)
	_, err := engine.RemoveOneStrike(ctx, member, moderator)
	require.NoError(t, err)

	entries, err := engine.AuditLog(ctx, 10)
	require.NoError(t, err)
	require.Len(t, entries, 5)

	assert.Equal(t, strikes.AuditActionRemoveStrike, entries[0].Action)
	assert.Equal(t, moderator, entries[0].ActorID)

	actions := make(map[strikes.AuditAction]int)
	for _, e := range entries {
		assert.NotEmpty(t, e.ID)
		actions[e.Action]++
	}
	assert.Equal(t, 3, actions[strikes.AuditActionIssueStrike])
	assert.Equal(t, 1, actions[strikes.AuditActionEscalate])
}

func TestStoreErrorsPropagate(t *testing.T) {
	ctx := context.Background()
	failure := strikes.NewStoreError("test", errors.New("disk full"))

	t.Run("add strike", func(t *testing.T) {
		incremented := false
		store := &database.MockStore{
			AddStrikeFunc: func(ctx context.Context, userID, moderatorID snowflake.ID, reason string, resetWindow time.Duration) (uint64, int, error) {
				return 0, 0, failure
			},
			IncrementViolationCountFunc: func(ctx context.Context, userID snowflake.ID) (int, error) {
				incremented = true
				return 1, nil
			},
		}
		engine := strikes.NewEngine(store, nil, strikes.EngineConfig{})

		_, err := engine.IssueStrike(ctx, strikes.IssueRequest{User: member, Moderator: moderator, Reason: "spam"})
		assert.ErrorIs(t, err, strikes.ErrStore)
		assert.False(t, incremented)
	})

	t.Run("escalation after strike recorded", func(t *testing.T) {
		enforcer := &recordingEnforcer{}
		store := &database.MockStore{
			AddStrikeFunc: func(ctx context.Context, userID, moderatorID snowflake.ID, reason string, resetWindow time.Duration) (uint64, int, error) {
				return 17, 3, nil
			},
			IncrementViolationCountFunc: func(ctx context.Context, userID snowflake.ID) (int, error) {
				return 0, failure
			},
		}
		engine := strikes.NewEngine(store, enforcer, strikes.EngineConfig{})

		result, err := engine.IssueStrike(ctx, strikes.IssueRequest{User: member, Moderator: moderator, Reason: "spam"})
		assert.ErrorIs(t, err, strikes.ErrStore)
		assert.Equal(t, uint64(17), result.StrikeID)
		assert.Equal(t, 3, result.ActiveCount)
		assert.Empty(t, enforcer.Calls())
	})

	t.Run("sweep", func(t *testing.T) {
		store := &database.MockStore{
			ExpireDueStrikesFunc: func(ctx context.Context, now time.Time) (int, error) {
				return 0, failure
			},
		}
		engine := strikes.NewEngine(store, nil, strikes.EngineConfig{})

		_, err := engine.SweepExpired(ctx)
		assert.ErrorIs(t, err, strikes.ErrStore)
	})

	t.Run("reset", func(t *testing.T) {
		store := &database.MockStore{
			DeactivateAllActiveFunc: func(ctx context.Context, userID snowflake.ID) (int, error) {
				return 0, failure
			},
		}
		engine := strikes.NewEngine(store, nil, strikes.EngineConfig{})

		_, err := engine.ResetAllStrikes(ctx, member, moderator)
		assert.ErrorIs(t, err, strikes.ErrStore)
	})

	t.Run("audit failure does not fail the action", func(t *testing.T) {
		store := &database.MockStore{
			AddStrikeFunc: func(ctx context.Context, userID, moderatorID snowflake.ID, reason string, resetWindow time.Duration) (uint64, int, error) {
				return 1, 1, nil
			},
			LogActionFunc: func(ctx context.Context, entry strikes.AuditEntry) error {
				return failure
			},
		}
		engine := strikes.NewEngine(store, nil, strikes.EngineConfig{})

		result, err := engine.IssueStrike(ctx, strikes.IssueRequest{User: member, Moderator: moderator, Reason: "spam"})
		require.NoError(t, err)
		assert.Equal(t, uint64(1), result.StrikeID)
	})
}
