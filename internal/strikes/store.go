package strikes

import (
	"context"
	"time"

	"github.com/disgoorg/snowflake/v2"
)

// Store defines the persistence interface for strike data.
// Implementations must be safe for concurrent use, must serialise all
// mutations through a single writer, and must report failures as StoreError.
type Store interface {
	// Strikes
	AddStrike(ctx context.Context, userID, moderatorID snowflake.ID, reason string, resetWindow time.Duration) (uint64, int, error)
	GetActiveStrikes(ctx context.Context, userID snowflake.ID) ([]Strike, error)
	GetUserInfo(ctx context.Context, userID snowflake.ID) (UserInfo, error)
	GetAllActiveStrikes(ctx context.Context) ([]ActiveStrike, error)
	ExpireDueStrikes(ctx context.Context, now time.Time) (int, error)
	DeactivateStrike(ctx context.Context, strikeID uint64) (bool, error)
	DeactivateLatestStrike(ctx context.Context, userID snowflake.ID) (*Strike, error)
	DeactivateAllActive(ctx context.Context, userID snowflake.ID) (int, error)

	// Violations
	IncrementViolationCount(ctx context.Context, userID snowflake.ID) (int, error)
	GetViolationCount(ctx context.Context, userID snowflake.ID) (int, error)
	GetViolationRecord(ctx context.Context, userID snowflake.ID) (*ViolationRecord, error)

	// Summary anchor
	SaveSummaryAnchor(ctx context.Context, anchor SummaryAnchor) error
	GetSummaryAnchor(ctx context.Context) (*SummaryAnchor, error)

	// Audit log
	LogAction(ctx context.Context, entry AuditEntry) error
	ListAuditLog(ctx context.Context, limit int) ([]AuditEntry, error)

	Stats(ctx context.Context) (StoreStats, error)
	Close() error
}
