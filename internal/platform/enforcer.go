package platform

import (
	"context"
	"fmt"
	"time"

	"strikekeeper/internal/strikes"

	"github.com/disgoorg/snowflake/v2"
	"github.com/rs/zerolog/log"
)

// LogEnforcer records suspension requests in the log instead of applying
// them. With deny set it refuses every request the way a platform does when
// the bot lacks the moderation privilege.
type LogEnforcer struct {
	deny bool
}

var _ strikes.Enforcer = (*LogEnforcer)(nil)

// NewLogEnforcer creates a LogEnforcer.
func NewLogEnforcer(deny bool) *LogEnforcer {
	return &LogEnforcer{deny: deny}
}

func (e *LogEnforcer) ApplyTimedSuspension(ctx context.Context, user snowflake.ID, d time.Duration, reason string) error {
	if e.deny {
		return fmt.Errorf("suspend %s: %w", user, strikes.ErrEnforcementDenied)
	}

	log.Info().
		Str("user_id", user.String()).
		Dur("duration", d).
		Time("until", time.Now().Add(d)).
		Str("reason", reason).
		Msg("platform: timed suspension applied")
	return nil
}
