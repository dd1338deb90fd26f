package strikes_test

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"testing"
	"time"

	"strikekeeper/internal/database"
	"strikekeeper/internal/strikes"

	"github.com/disgoorg/snowflake/v2"
	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type mapResolver map[snowflake.ID]strikes.Identity

func (r mapResolver) ResolveUser(ctx context.Context, id snowflake.ID) (strikes.Identity, error) {
	identity, ok := r[id]
	if !ok {
		return strikes.Identity{}, fmt.Errorf("user %s: %w", id, strikes.ErrNotFound)
	}
	return identity, nil
}

func TestSummarizerBuild(t *testing.T) {
	now := time.Date(2024, 6, 1, 12, 0, 0, 0, time.UTC)
	long := strings.Repeat("a", 60)

	active := []strikes.ActiveStrike{
		{Strike: strikes.Strike{ID: 3, UserID: 20, ModeratorID: 90, Reason: long, IssuedAt: now.Add(-time.Hour), ExpiresAt: now.Add(71 * time.Hour), Active: true}, ViolationCount: 1},
		{Strike: strikes.Strike{ID: 1, UserID: 20, ModeratorID: 91, Reason: "first", IssuedAt: now.Add(-2 * time.Hour), ExpiresAt: now.Add(70 * time.Hour), Active: true}, ViolationCount: 1},
		{Strike: strikes.Strike{ID: 2, UserID: 10, ModeratorID: 92, Reason: "spam", IssuedAt: now, ExpiresAt: now.Add(72 * time.Hour), Active: true}},
	}
	store := &database.MockStore{
		GetAllActiveStrikesFunc: func(ctx context.Context) ([]strikes.ActiveStrike, error) {
			return active, nil
		},
	}
	resolver := mapResolver{
		20: {ID: 20, Username: "spammer", DisplayName: "Spammer"},
		90: {ID: 90, Username: "mod"},
	}

	summarizer := strikes.NewSummarizer(store, resolver, strikes.ClockFunc(func() time.Time { return now }))
	got, err := summarizer.Build(context.Background())
	require.NoError(t, err)

	want := strikes.Summary{
		GeneratedAt: now,
		Users: []strikes.UserSummary{
			{
				UserID:          20,
				User:            "Spammer",
				ActiveCount:     2,
				ViolationCount:  1,
				LastReason:      strings.Repeat("a", 47) + "...",
				LastModeratorID: 90,
				LastModerator:   "mod",
				NextReset:       now.Add(70 * time.Hour),
			},
			{
				UserID:          10,
				User:            "Unknown User (10)",
				ActiveCount:     1,
				LastReason:      "spam",
				LastModeratorID: 92,
				LastModerator:   "Unknown (92)",
				NextReset:       now.Add(72 * time.Hour),
			},
		},
	}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("summary mismatch (-want +got):\n%s", diff)
	}
	assert.False(t, got.Empty())
}

func TestSummarizerEmptyAndErrors(t *testing.T) {
	ctx := context.Background()

	summary, err := strikes.NewSummarizer(&database.MockStore{}, nil, nil).Build(ctx)
	require.NoError(t, err)
	assert.True(t, summary.Empty())

	failing := &database.MockStore{
		GetAllActiveStrikesFunc: func(ctx context.Context) ([]strikes.ActiveStrike, error) {
			return nil, strikes.NewStoreError("get_all_active_strikes", errors.New("closed"))
		},
	}
	_, err = strikes.NewSummarizer(failing, nil, nil).Build(ctx)
	assert.ErrorIs(t, err, strikes.ErrStore)
}

func TestTruncateReason(t *testing.T) {
	tests := []struct {
		name  string
		input string
		want  string
	}{
		{"short", "spam", "spam"},
		{"exactly fifty", strings.Repeat("b", 50), strings.Repeat("b", 50)},
		{"fifty one", strings.Repeat("c", 51), strings.Repeat("c", 47) + "..."},
		{"multibyte", strings.Repeat("é", 55), strings.Repeat("é", 47) + "..."},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, strikes.TruncateReason(tt.input))
		})
	}
}
