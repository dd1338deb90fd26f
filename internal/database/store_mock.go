package database

import (
	"context"
	"time"

	"strikekeeper/internal/strikes"

	"github.com/disgoorg/snowflake/v2"
)

// MockStore is a mock implementation of strikes.Store for testing.
// Uses function fields to allow tests to inject custom behavior.
type MockStore struct {
	// Strike operations
	AddStrikeFunc              func(ctx context.Context, userID, moderatorID snowflake.ID, reason string, resetWindow time.Duration) (uint64, int, error)
	GetActiveStrikesFunc       func(ctx context.Context, userID snowflake.ID) ([]strikes.Strike, error)
	GetUserInfoFunc            func(ctx context.Context, userID snowflake.ID) (strikes.UserInfo, error)
	GetAllActiveStrikesFunc    func(ctx context.Context) ([]strikes.ActiveStrike, error)
	ExpireDueStrikesFunc       func(ctx context.Context, now time.Time) (int, error)
	DeactivateStrikeFunc       func(ctx context.Context, strikeID uint64) (bool, error)
	DeactivateLatestStrikeFunc func(ctx context.Context, userID snowflake.ID) (*strikes.Strike, error)
	DeactivateAllActiveFunc    func(ctx context.Context, userID snowflake.ID) (int, error)

	// Violation operations
	IncrementViolationCountFunc func(ctx context.Context, userID snowflake.ID) (int, error)
	GetViolationCountFunc       func(ctx context.Context, userID snowflake.ID) (int, error)
	GetViolationRecordFunc      func(ctx context.Context, userID snowflake.ID) (*strikes.ViolationRecord, error)

	// Anchor and audit operations
	SaveSummaryAnchorFunc func(ctx context.Context, anchor strikes.SummaryAnchor) error
	GetSummaryAnchorFunc  func(ctx context.Context) (*strikes.SummaryAnchor, error)
	LogActionFunc         func(ctx context.Context, entry strikes.AuditEntry) error
	ListAuditLogFunc      func(ctx context.Context, limit int) ([]strikes.AuditEntry, error)

	StatsFunc func(ctx context.Context) (strikes.StoreStats, error)
	CloseFunc func() error
}

var _ strikes.Store = (*MockStore)(nil)

// AddStrike calls the mock function or returns zero values if not set
func (m *MockStore) AddStrike(ctx context.Context, userID, moderatorID snowflake.ID, reason string, resetWindow time.Duration) (uint64, int, error) {
	if m.AddStrikeFunc != nil {
		return m.AddStrikeFunc(ctx, userID, moderatorID, reason, resetWindow)
	}
	return 0, 0, nil
}

// GetActiveStrikes calls the mock function or returns nil if not set
func (m *MockStore) GetActiveStrikes(ctx context.Context, userID snowflake.ID) ([]strikes.Strike, error) {
	if m.GetActiveStrikesFunc != nil {
		return m.GetActiveStrikesFunc(ctx, userID)
	}
	return nil, nil
}

// GetUserInfo calls the mock function or returns an empty UserInfo if not set
func (m *MockStore) GetUserInfo(ctx context.Context, userID snowflake.ID) (strikes.UserInfo, error) {
	if m.GetUserInfoFunc != nil {
		return m.GetUserInfoFunc(ctx, userID)
	}
	return strikes.UserInfo{}, nil
}

// GetAllActiveStrikes calls the mock function or returns nil if not set
func (m *MockStore) GetAllActiveStrikes(ctx context.Context) ([]strikes.ActiveStrike, error) {
	if m.GetAllActiveStrikesFunc != nil {
		return m.GetAllActiveStrikesFunc(ctx)
	}
	return nil, nil
}

// ExpireDueStrikes calls the mock function or returns 0 if not set
func (m *MockStore) ExpireDueStrikes(ctx context.Context, now time.Time) (int, error) {
	if m.ExpireDueStrikesFunc != nil {
		return m.ExpireDueStrikesFunc(ctx, now)
	}
	return 0, nil
}

// DeactivateStrike calls the mock function or returns false if not set
func (m *MockStore) DeactivateStrike(ctx context.Context, strikeID uint64) (bool, error) {
	if m.DeactivateStrikeFunc != nil {
		return m.DeactivateStrikeFunc(ctx, strikeID)
	}
	return false, nil
}

// DeactivateLatestStrike calls the mock function or returns nil if not set
func (m *MockStore) DeactivateLatestStrike(ctx context.Context, userID snowflake.ID) (*strikes.Strike, error) {
	if m.DeactivateLatestStrikeFunc != nil {
		return m.DeactivateLatestStrikeFunc(ctx, userID)
	}
	return nil, nil
}

// DeactivateAllActive calls the mock function or returns 0 if not set
func (m *MockStore) DeactivateAllActive(ctx context.Context, userID snowflake.ID) (int, error) {
	if m.DeactivateAllActiveFunc != nil {
		return m.DeactivateAllActiveFunc(ctx, userID)
	}
	return 0, nil
}

// IncrementViolationCount calls the mock function or returns 0 if not set
func (m *MockStore) IncrementViolationCount(ctx context.Context, userID snowflake.ID) (int, error) {
	if m.IncrementViolationCountFunc != nil {
		return m.IncrementViolationCountFunc(ctx, userID)
	}
	return 0, nil
}

// GetViolationCount calls the mock function or returns 0 if not set
func (m *MockStore) GetViolationCount(ctx context.Context, userID snowflake.ID) (int, error) {
	if m.GetViolationCountFunc != nil {
		return m.GetViolationCountFunc(ctx, userID)
	}
	return 0, nil
}

// GetViolationRecord calls the mock function or returns nil if not set
func (m *MockStore) GetViolationRecord(ctx context.Context, userID snowflake.ID) (*strikes.ViolationRecord, error) {
	if m.GetViolationRecordFunc != nil {
		return m.GetViolationRecordFunc(ctx, userID)
	}
	return nil, nil
}

// SaveSummaryAnchor calls the mock function or returns nil if not set
func (m *MockStore) SaveSummaryAnchor(ctx context.Context, anchor strikes.SummaryAnchor) error {
	if m.SaveSummaryAnchorFunc != nil {
		return m.SaveSummaryAnchorFunc(ctx, anchor)
	}
	return nil
}

// GetSummaryAnchor calls the mock function or returns nil if not set
func (m *MockStore) GetSummaryAnchor(ctx context.Context) (*strikes.SummaryAnchor, error) {
	if m.GetSummaryAnchorFunc != nil {
		return m.GetSummaryAnchorFunc(ctx)
	}
	return nil, nil
}

// LogAction calls the mock function or returns nil if not set
func (m *MockStore) LogAction(ctx context.Context, entry strikes.AuditEntry) error {
	if m.LogActionFunc != nil {
		return m.LogActionFunc(ctx, entry)
	}
	return nil
}

// ListAuditLog calls the mock function or returns nil if not set
func (m *MockStore) ListAuditLog(ctx context.Context, limit int) ([]strikes.AuditEntry, error) {
	if m.ListAuditLogFunc != nil {
		return m.ListAuditLogFunc(ctx, limit)
	}
	return nil, nil
}

// Stats calls the mock function or returns empty stats if not set
func (m *MockStore) Stats(ctx context.Context) (strikes.StoreStats, error) {
	if m.StatsFunc != nil {
		return m.StatsFunc(ctx)
	}
	return strikes.StoreStats{}, nil
}

// Close calls the mock function or returns nil if not set
func (m *MockStore) Close() error {
	if m.CloseFunc != nil {
		return m.CloseFunc()
	}
	return nil
}
