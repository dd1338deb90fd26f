package strikes

import (
	"context"
	"time"

	"github.com/disgoorg/snowflake/v2"
)

// Identity is the display information of a platform user.
type Identity struct {
	ID          snowflake.ID `json:"id"`
	Username    string       `json:"username"`
	DisplayName string       `json:"display_name,omitempty"`
}

// Display returns the best human-readable name for the identity.
func (i Identity) Display() string {
	if i.DisplayName != "" {
		return i.DisplayName
	}
	return i.Username
}

// Resolver looks up platform identities. It returns ErrNotFound (possibly
// wrapped) when the identity cannot be resolved.
type Resolver interface {
	ResolveUser(ctx context.Context, id snowflake.ID) (Identity, error)
}

// Enforcer applies punishments on the chat platform. ApplyTimedSuspension
// returns ErrEnforcementDenied when the platform refuses for lack of privilege.
type Enforcer interface {
	ApplyTimedSuspension(ctx context.Context, user snowflake.ID, d time.Duration, reason string) error
}

// Clock supplies the current time for expiry decisions.
type Clock interface {
	Now() time.Time
}

// SystemClock reads the wall clock.
type SystemClock struct{}

func (SystemClock) Now() time.Time { return time.Now() }

// ClockFunc adapts a function to the Clock interface.
type ClockFunc func() time.Time

func (f ClockFunc) Now() time.Time { return f() }
