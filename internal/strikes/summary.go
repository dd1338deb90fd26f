package strikes

import (
	"context"
	"fmt"
	"time"
	"unicode/utf8"

	"github.com/disgoorg/snowflake/v2"
	"github.com/rs/zerolog/log"
)

const (
	reasonDisplayLimit = 50
	reasonTruncateAt   = 47
)

// UserSummary is one user's row in the live summary.
type UserSummary struct {
	UserID          snowflake.ID `json:"user_id"`
	User            string       `json:"user"`
	ActiveCount     int          `json:"active_strikes"`
	ViolationCount  int          `json:"violation_count"`
	LastReason      string       `json:"last_reason"`
	LastModeratorID snowflake.ID `json:"last_moderator_id"`
	LastModerator   string       `json:"last_moderator"`
	NextReset       time.Time    `json:"next_reset"`
}

// Summary is a point-in-time view of all active strikes, grouped by user.
type Summary struct {
	GeneratedAt time.Time     `json:"generated_at"`
	Users       []UserSummary `json:"users"`
}

// Empty reports whether no user holds an active strike.
func (s Summary) Empty() bool {
	return len(s.Users) == 0
}

// Summarizer builds Summary views from the store.
type Summarizer struct {
	store    Store
	resolver Resolver
	clock    Clock
}

// NewSummarizer creates a Summarizer. resolver may be nil, in which case
// every identity is shown as a placeholder.
func NewSummarizer(store Store, resolver Resolver, clock Clock) *Summarizer {
	if clock == nil {
		clock = SystemClock{}
	}
	return &Summarizer{store: store, resolver: resolver, clock: clock}
}

// Build reads all active strikes and groups them by user, keeping the store's
// user order. Identity lookups that fail degrade to placeholders.
func (s *Summarizer) Build(ctx context.Context) (Summary, error) {
	strikes, err := s.store.GetAllActiveStrikes(ctx)
	if err != nil {
		return Summary{}, err
	}

	summary := Summary{GeneratedAt: s.clock.Now()}
	index := make(map[snowflake.ID]int)

	for _, st := range strikes {
		i, seen := index[st.UserID]
		if !seen {
			// Strikes arrive newest first per user, so the first one is the latest.
			index[st.UserID] = len(summary.Users)
			summary.Users = append(summary.Users, UserSummary{
				UserID:          st.UserID,
				ActiveCount:     1,
				ViolationCount:  st.ViolationCount,
				LastReason:      TruncateReason(st.Reason),
				LastModeratorID: st.ModeratorID,
				NextReset:       st.ExpiresAt,
			})
			continue
		}
		u := &summary.Users[i]
		u.ActiveCount++
		if st.ExpiresAt.Before(u.NextReset) {
			u.NextReset = st.ExpiresAt
		}
	}

	for i := range summary.Users {
		u := &summary.Users[i]
		u.User = s.displayName(ctx, u.UserID, "Unknown User (%s)")
		u.LastModerator = s.displayName(ctx, u.LastModeratorID, "Unknown (%s)")
	}

	return summary, nil
}

func (s *Summarizer) displayName(ctx context.Context, id snowflake.ID, placeholder string) string {
	if s.resolver != nil {
		identity, err := s.resolver.ResolveUser(ctx, id)
		if err == nil {
			if name := identity.Display(); name != "" {
				return name
			}
		} else {
			log.Debug().Err(err).Str("user_id", id.String()).Msg("strikes: identity lookup failed")
		}
	}
	return fmt.Sprintf(placeholder, id)
}

// TruncateReason shortens reasons longer than the display limit to 47
// characters followed by an ellipsis.
func TruncateReason(reason string) string {
	if utf8.RuneCountInString(reason) <= reasonDisplayLimit {
		return reason
	}
	runes := []rune(reason)
	return string(runes[:reasonTruncateAt]) + "..."
}
