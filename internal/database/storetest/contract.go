// Package storetest holds the behavioural tests every strikes.Store backend
// must pass.
package storetest

import (
	"context"
	"sync"
	"testing"
	"time"

	"strikekeeper/internal/strikes"

	"github.com/disgoorg/snowflake/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// Clock is a settable time source shared between a store and its test.
type Clock struct {
	mu  sync.Mutex
	now time.Time
}

// NewClock returns a clock frozen at t.
func NewClock(t time.Time) *Clock {
	return &Clock{now: t}
}

func (c *Clock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

// Advance moves the clock forward by d.
func (c *Clock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

// Factory opens a fresh, empty store stamped by clock.
type Factory func(t *testing.T, clock *Clock) strikes.Store

const (
	userA     = snowflake.ID(1001)
	userB     = snowflake.ID(1002)
	moderator = snowflake.ID(9001)
	window    = 72 * time.Hour
)

// Run exercises the full strikes.Store contract against stores from newStore.
func Run(t *testing.T, newStore Factory) {
	ctx := context.Background()
	start := time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)

	t.Run("add strike counts active strikes", func(t *testing.T) {
		clock := NewClock(start)
		store := newStore(t, clock)

		id1, n, err := store.AddStrike(ctx, userA, moderator, "spam", window)
		require.NoError(t, err)
		assert.Equal(t, 1, n)

		clock.Advance(time.Second)
		id2, n, err := store.AddStrike(ctx, userA, moderator, "flood", window)
		require.NoError(t, err)
		assert.Equal(t, 2, n)
		assert.NotEqual(t, id1, id2)

		_, n, err = store.AddStrike(ctx, userB, moderator, "other", window)
		require.NoError(t, err)
		assert.Equal(t, 1, n, "counts are per user")

		active, err := store.GetActiveStrikes(ctx, userA)
		require.NoError(t, err)
		require.Len(t, active, 2)
		assert.Equal(t, id2, active[0].ID, "newest first")
		assert.Equal(t, "flood", active[0].Reason)
		assert.Equal(t, moderator, active[0].ModeratorID)
		assert.True(t, active[0].Active)
		assert.True(t, active[1].ExpiresAt.Equal(start.Add(window)))
	})

	t.Run("user info reports earliest expiry", func(t *testing.T) {
		clock := NewClock(start)
		store := newStore(t, clock)

		info, err := store.GetUserInfo(ctx, userA)
		require.NoError(t, err)
		assert.Equal(t, 0, info.ActiveCount)
		assert.Nil(t, info.NextReset)
		assert.Equal(t, 0, info.ViolationCount)

		_, _, err = store.AddStrike(ctx, userA, moderator, "first", window)
		require.NoError(t, err)
		clock.Advance(time.Hour)
		_, _, err = store.AddStrike(ctx, userA, moderator, "second", window)
		require.NoError(t, err)
		_, err = store.IncrementViolationCount(ctx, userA)
		require.NoError(t, err)

		info, err = store.GetUserInfo(ctx, userA)
		require.NoError(t, err)
		assert.Equal(t, 2, info.ActiveCount)
		require.NotNil(t, info.NextReset)
		assert.True(t, info.NextReset.Equal(start.Add(window)))
		assert.Equal(t, 1, info.ViolationCount)
	})

	t.Run("expire due strikes uses strict comparison", func(t *testing.T) {
		clock := NewClock(start)
		store := newStore(t, clock)

		_, _, err := store.AddStrike(ctx, userA, moderator, "old", window)
		require.NoError(t, err)
		clock.Advance(time.Hour)
		_, _, err = store.AddStrike(ctx, userA, moderator, "new", window)
		require.NoError(t, err)

		n, err := store.ExpireDueStrikes(ctx, start.Add(window))
		require.NoError(t, err)
		assert.Equal(t, 0, n, "a strike expiring exactly now stays active")

		n, err = store.ExpireDueStrikes(ctx, start.Add(window+time.Minute))
		require.NoError(t, err)
		assert.Equal(t, 1, n)

		active, err := store.GetActiveStrikes(ctx, userA)
		require.NoError(t, err)
		require.Len(t, active, 1)
		assert.Equal(t, "new", active[0].Reason)

		n, err = store.ExpireDueStrikes(ctx, start.Add(window+time.Minute))
		require.NoError(t, err)
		assert.Equal(t, 0, n, "expiry is idempotent")
	})

	t.Run("deactivate strike by id", func(t *testing.T) {
		store := newStore(t, NewClock(start))

		id, _, err := store.AddStrike(ctx, userA, moderator, "spam", window)
		require.NoError(t, err)

		changed, err := store.DeactivateStrike(ctx, id)
		require.NoError(t, err)
		assert.True(t, changed)

		changed, err = store.DeactivateStrike(ctx, id)
		require.NoError(t, err)
		assert.False(t, changed)

		changed, err = store.DeactivateStrike(ctx, id+100)
		require.NoError(t, err)
		assert.False(t, changed)
	})

	t.Run("deactivate latest strike", func(t *testing.T) {
		clock := NewClock(start)
		store := newStore(t, clock)

		removed, err := store.DeactivateLatestStrike(ctx, userA)
		require.NoError(t, err)
		assert.Nil(t, removed)

		id1, _, err := store.AddStrike(ctx, userA, moderator, "first", window)
		require.NoError(t, err)
		clock.Advance(time.Minute)
		id2, _, err := store.AddStrike(ctx, userA, moderator, "second", window)
		require.NoError(t, err)

		before, err := store.GetActiveStrikes(ctx, userA)
		require.NoError(t, err)
		require.Len(t, before, 2)

		clock.Advance(time.Hour)
		removed, err = store.DeactivateLatestStrike(ctx, userA)
		require.NoError(t, err)
		require.NotNil(t, removed)
		assert.Equal(t, id2, removed.ID)
		assert.False(t, removed.Active)
		assert.True(t, removed.ExpiresAt.Equal(before[0].ExpiresAt))

		info, err := store.GetUserInfo(ctx, userA)
		require.NoError(t, err)
		assert.Equal(t, 1, info.ActiveCount)

		after, err := store.GetActiveStrikes(ctx, userA)
		require.NoError(t, err)
		require.Len(t, after, 1)
		assert.Equal(t, id1, after[0].ID)
		assert.True(t, after[0].ExpiresAt.Equal(before[1].ExpiresAt), "surviving strike keeps its expiry")
	})

	t.Run("deactivate all active leaves violations", func(t *testing.T) {
		clock := NewClock(start)
		store := newStore(t, clock)

		for i := 0; i < 3; i++ {
			_, _, err := store.AddStrike(ctx, userA, moderator, "spam", window)
			require.NoError(t, err)
		}
		_, _, err := store.AddStrike(ctx, userB, moderator, "other", window)
		require.NoError(t, err)
		_, err = store.IncrementViolationCount(ctx, userA)
		require.NoError(t, err)

		clock.Advance(time.Hour)
		n, err := store.DeactivateAllActive(ctx, userA)
		require.NoError(t, err)
		assert.Equal(t, 3, n)

		others, err := store.GetActiveStrikes(ctx, userB)
		require.NoError(t, err)
		require.Len(t, others, 1)
		assert.True(t, others[0].ExpiresAt.Equal(start.Add(window)), "other users' strikes keep their expiry")

		n, err = store.DeactivateAllActive(ctx, userA)
		require.NoError(t, err)
		assert.Equal(t, 0, n)

		count, err := store.GetViolationCount(ctx, userA)
		require.NoError(t, err)
		assert.Equal(t, 1, count)
	})

	t.Run("violation records", func(t *testing.T) {
		clock := NewClock(start)
		store := newStore(t, clock)

		record, err := store.GetViolationRecord(ctx, userA)
		require.NoError(t, err)
		assert.Nil(t, record)

		count, err := store.GetViolationCount(ctx, userA)
		require.NoError(t, err)
		assert.Equal(t, 0, count)

		for want := 1; want <= 3; want++ {
			clock.Advance(time.Minute)
			got, err := store.IncrementViolationCount(ctx, userA)
			require.NoError(t, err)
			assert.Equal(t, want, got)
		}

		record, err = store.GetViolationRecord(ctx, userA)
		require.NoError(t, err)
		require.NotNil(t, record)
		assert.Equal(t, userA, record.UserID)
		assert.Equal(t, 3, record.Count)
		assert.True(t, record.LastEscalationAt.Equal(start.Add(3*time.Minute)))
	})

	t.Run("all active strikes grouped by user", func(t *testing.T) {
		clock := NewClock(start)
		store := newStore(t, clock)

		_, _, err := store.AddStrike(ctx, userB, moderator, "b1", window)
		require.NoError(t, err)
		clock.Advance(time.Second)
		_, _, err = store.AddStrike(ctx, userA, moderator, "a1", window)
		require.NoError(t, err)
		clock.Advance(time.Second)
		_, _, err = store.AddStrike(ctx, userA, moderator, "a2", window)
		require.NoError(t, err)
		_, err = store.IncrementViolationCount(ctx, userA)
		require.NoError(t, err)

		all, err := store.GetAllActiveStrikes(ctx)
		require.NoError(t, err)
		require.Len(t, all, 3)

		assert.Equal(t, userA, all[0].UserID)
		assert.Equal(t, "a2", all[0].Reason)
		assert.Equal(t, 1, all[0].ViolationCount)
		assert.Equal(t, "a1", all[1].Reason)
		assert.Equal(t, userB, all[2].UserID)
		assert.Equal(t, 0, all[2].ViolationCount)
	})

	t.Run("summary anchor", func(t *testing.T) {
		store := newStore(t, NewClock(start))

		anchor, err := store.GetSummaryAnchor(ctx)
		require.NoError(t, err)
		assert.Nil(t, anchor)

		require.NoError(t, store.SaveSummaryAnchor(ctx, strikes.SummaryAnchor{SurfaceID: "mod-log", ArtifactID: "1"}))
		require.NoError(t, store.SaveSummaryAnchor(ctx, strikes.SummaryAnchor{SurfaceID: "mod-log", ArtifactID: "2"}))

		anchor, err = store.GetSummaryAnchor(ctx)
		require.NoError(t, err)
		require.NotNil(t, anchor)
		assert.Equal(t, strikes.SummaryAnchor{SurfaceID: "mod-log", ArtifactID: "2"}, *anchor)

		colons := strikes.SummaryAnchor{SurfaceID: "guild:1:channel:2", ArtifactID: "message:3"}
		require.NoError(t, store.SaveSummaryAnchor(ctx, colons))

		anchor, err = store.GetSummaryAnchor(ctx)
		require.NoError(t, err)
		require.NotNil(t, anchor)
		assert.Equal(t, colons, *anchor)
	})

	t.Run("audit log newest first", func(t *testing.T) {
		store := newStore(t, NewClock(start))

		for i, action := range []strikes.AuditAction{
			strikes.AuditActionIssueStrike,
			strikes.AuditActionEscalate,
			strikes.AuditActionRemoveStrike,
		} {
			err := store.LogAction(ctx, strikes.AuditEntry{
				ID:        string(action),
				Action:    action,
				UserID:    userA,
				ActorID:   moderator,
				Reason:    "reason",
				Details:   map[string]string{"n": string(rune('0' + i))},
				Timestamp: start.Add(time.Duration(i) * time.Minute),
				Automatic: action == strikes.AuditActionEscalate,
			})
			require.NoError(t, err)
		}

		entries, err := store.ListAuditLog(ctx, 2)
		require.NoError(t, err)
		require.Len(t, entries, 2)
		assert.Equal(t, strikes.AuditActionRemoveStrike, entries[0].Action)
		assert.Equal(t, strikes.AuditActionEscalate, entries[1].Action)
		assert.True(t, entries[1].Automatic)
		assert.Equal(t, "1", entries[1].Details["n"])
		assert.Equal(t, userA, entries[0].UserID)
		assert.Equal(t, moderator, entries[0].ActorID)
	})

	t.Run("audit log breaks timestamp ties by write order", func(t *testing.T) {
		store := newStore(t, NewClock(start))

		// IDs sort opposite to write order so ordering cannot come from them.
		for _, e := range []struct {
			id     string
			action strikes.AuditAction
		}{
			{"f0000000-first", strikes.AuditActionIssueStrike},
			{"10000000-second", strikes.AuditActionEscalate},
			{"00000000-third", strikes.AuditActionRemoveStrike},
		} {
			err := store.LogAction(ctx, strikes.AuditEntry{
				ID:        e.id,
				Action:    e.action,
				UserID:    userA,
				Timestamp: start,
			})
			require.NoError(t, err)
		}

		entries, err := store.ListAuditLog(ctx, 10)
		require.NoError(t, err)
		require.Len(t, entries, 3)
		assert.Equal(t, "00000000-third", entries[0].ID)
		assert.Equal(t, "10000000-second", entries[1].ID)
		assert.Equal(t, "f0000000-first", entries[2].ID)
	})

	t.Run("stats", func(t *testing.T) {
		store := newStore(t, NewClock(start))

		id, _, err := store.AddStrike(ctx, userA, moderator, "a1", window)
		require.NoError(t, err)
		_, _, err = store.AddStrike(ctx, userA, moderator, "a2", window)
		require.NoError(t, err)
		_, _, err = store.AddStrike(ctx, userB, moderator, "b1", window)
		require.NoError(t, err)
		_, err = store.DeactivateStrike(ctx, id)
		require.NoError(t, err)
		_, err = store.IncrementViolationCount(ctx, userB)
		require.NoError(t, err)

		stats, err := store.Stats(ctx)
		require.NoError(t, err)
		assert.Equal(t, strikes.StoreStats{
			TotalStrikes:        3,
			ActiveStrikes:       2,
			UsersWithStrikes:    2,
			UsersWithViolations: 1,
		}, stats)
	})

	t.Run("concurrent adds get distinct counts", func(t *testing.T) {
		store := newStore(t, NewClock(start))

		const workers = 8
		counts := make(chan int, workers)
		var wg sync.WaitGroup
		for i := 0; i < workers; i++ {
			wg.Add(1)
			go func() {
				defer wg.Done()
				_, n, err := store.AddStrike(ctx, userA, moderator, "race", window)
				assert.NoError(t, err)
				counts <- n
			}()
		}
		wg.Wait()
		close(counts)

		seen := make(map[int]bool)
		for n := range counts {
			assert.False(t, seen[n], "count %d returned twice", n)
			seen[n] = true
		}
		for n := 1; n <= workers; n++ {
			assert.True(t, seen[n], "missing count %d", n)
		}
	})
}

// Opener opens the store kept at path, creating it if needed. Closing is
// left to the caller.
type Opener func(t *testing.T, path string, clock *Clock) strikes.Store

// RunReopen checks that state written by one store instance is visible to a
// later instance opened on the same path.
func RunReopen(t *testing.T, path string, open Opener) {
	ctx := context.Background()
	start := time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)
	clock := NewClock(start)

	store := open(t, path, clock)
	id1, _, err := store.AddStrike(ctx, userA, moderator, "first", window)
	require.NoError(t, err)
	clock.Advance(time.Minute)
	id2, _, err := store.AddStrike(ctx, userA, moderator, "second", window)
	require.NoError(t, err)
	removed, err := store.DeactivateLatestStrike(ctx, userA)
	require.NoError(t, err)
	require.NotNil(t, removed)
	_, err = store.IncrementViolationCount(ctx, userA)
	require.NoError(t, err)
	require.NoError(t, store.SaveSummaryAnchor(ctx, strikes.SummaryAnchor{SurfaceID: "mod-log", ArtifactID: "7"}))
	require.NoError(t, store.LogAction(ctx, strikes.AuditEntry{
		ID:        "entry",
		Action:    strikes.AuditActionIssueStrike,
		UserID:    userA,
		Timestamp: start,
	}))
	require.NoError(t, store.Close())

	clock.Advance(time.Hour)
	store = open(t, path, clock)
	defer store.Close()

	active, err := store.GetActiveStrikes(ctx, userA)
	require.NoError(t, err)
	require.Len(t, active, 1)
	assert.Equal(t, id1, active[0].ID)
	assert.True(t, active[0].ExpiresAt.Equal(start.Add(window)))

	count, err := store.GetViolationCount(ctx, userA)
	require.NoError(t, err)
	assert.Equal(t, 1, count)

	anchor, err := store.GetSummaryAnchor(ctx)
	require.NoError(t, err)
	require.NotNil(t, anchor)
	assert.Equal(t, "7", anchor.ArtifactID)

	entries, err := store.ListAuditLog(ctx, 10)
	require.NoError(t, err)
	require.Len(t, entries, 1)

	id3, n, err := store.AddStrike(ctx, userA, moderator, "third", window)
	require.NoError(t, err)
	assert.Equal(t, 2, n)
	assert.Greater(t, id3, id2, "ids keep increasing across reopen")
}
