package strikes

import (
	"time"

	"github.com/disgoorg/snowflake/v2"
)

const (
	// EscalationThreshold is the number of simultaneously active strikes
	// at which an issued strike triggers a punishment.
	EscalationThreshold = 3

	// DefaultResetWindow is how long a strike stays active.
	DefaultResetWindow = 72 * time.Hour

	// MaxReasonLength bounds the free-text reason on a strike.
	MaxReasonLength = 500
)

// Strike is one disciplinary mark. Everything except Active is fixed at
// creation; Active goes from true to false once and never back.
type Strike struct {
	ID          uint64       `json:"id"`
	UserID      snowflake.ID `json:"user_id"`
	ModeratorID snowflake.ID `json:"moderator_id"`
	Reason      string       `json:"reason"`
	IssuedAt    time.Time    `json:"issued_at"`
	ExpiresAt   time.Time    `json:"expires_at"`
	Active      bool         `json:"active"`
}

// ActiveStrike is a strike annotated with its owner's lifetime violation count.
type ActiveStrike struct {
	Strike
	ViolationCount int `json:"violation_count"`
}

// ViolationRecord is the cumulative escalation counter for one user.
type ViolationRecord struct {
	UserID           snowflake.ID `json:"user_id"`
	Count            int          `json:"violation_count"`
	LastEscalationAt time.Time    `json:"last_escalation_at"`
}

// UserInfo is the strike standing of a single user.
type UserInfo struct {
	ActiveCount    int        `json:"active_strikes"`
	NextReset      *time.Time `json:"next_reset,omitempty"` // earliest expiry among active strikes
	ViolationCount int        `json:"violation_count"`
}

// NearThreshold reports whether the next strike will trigger a punishment.
func (u UserInfo) NearThreshold() bool {
	return u.ActiveCount >= EscalationThreshold-1
}

// SummaryAnchor identifies the single live summary artifact.
type SummaryAnchor struct {
	SurfaceID  string `json:"surface_id"`
	ArtifactID string `json:"artifact_id"`
}

// StoreStats holds aggregate counts used by the metrics collector.
type StoreStats struct {
	TotalStrikes        int
	ActiveStrikes       int
	UsersWithStrikes    int
	UsersWithViolations int
}

// AuditAction is a kind of recorded strike action.
type AuditAction string

const (
	AuditActionIssueStrike   AuditAction = "issue_strike"
	AuditActionRemoveStrike  AuditAction = "remove_strike"
	AuditActionResetStrikes  AuditAction = "reset_strikes"
	AuditActionExpireStrikes AuditAction = "expire_strikes"
	AuditActionEscalate      AuditAction = "escalate"
)

// AuditEntry is one entry in the moderation log.
type AuditEntry struct {
	ID        string            `json:"id"`
	Action    AuditAction       `json:"action"`
	UserID    snowflake.ID      `json:"user_id"`  // 0 for bulk system actions
	ActorID   snowflake.ID      `json:"actor_id"` // 0 when the system acted
	Reason    string            `json:"reason"`
	Details   map[string]string `json:"details,omitempty"`
	Timestamp time.Time         `json:"timestamp"`
	Automatic bool              `json:"automatic"`
}

// IssueRequest describes a strike a moderator wants to issue.
type IssueRequest struct {
	User      snowflake.ID
	Moderator snowflake.ID
	Reason    string
}

// IssueResult is returned by Engine.IssueStrike.
type IssueResult struct {
	StrikeID       uint64    `json:"strike_id"`
	ActiveCount    int       `json:"active_strikes"`
	ViolationCount int       `json:"violation_count"`
	NextReset      time.Time `json:"next_reset"`
	Escalation     *Outcome  `json:"escalation,omitempty"`
}

// RemoveResult is returned by Engine.RemoveOneStrike.
type RemoveResult struct {
	Removed        bool   `json:"removed"`
	StrikeID       uint64 `json:"strike_id,omitempty"`
	ActiveCount    int    `json:"active_strikes"`
	ViolationCount int    `json:"violation_count"`
}

// ResetResult is returned by Engine.ResetAllStrikes.
type ResetResult struct {
	StrikesRemoved int `json:"strikes_removed"`
	ViolationCount int `json:"violation_count"`
}
