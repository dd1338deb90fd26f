package boltstore

import (
	"context"
	"encoding/binary"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"time"

	"strikekeeper/internal/database"
	"strikekeeper/internal/strikes"
	"strikekeeper/internal/tracing"

	"github.com/disgoorg/snowflake/v2"
	bolt "go.etcd.io/bbolt"
)

const anchorKey = "summary_anchor"

// StrikeStore provides persistent storage for strikes, violation counts,
// the summary anchor and the audit log.
type StrikeStore struct {
	db   *bolt.DB
	gate *database.WriteGate
	now  func() time.Time
}

// Ensure StrikeStore implements the interface at compile time.
var _ strikes.Store = (*StrikeStore)(nil)

// update runs fn in a read-write transaction behind the write gate.
func (s *StrikeStore) update(ctx context.Context, op string, fn func(tx *bolt.Tx) error) error {
	ctx, span := tracing.StoreSpan(ctx, "bolt", op)
	defer span.End()

	err := s.gate.Do(ctx, op, func() error {
		return s.db.Update(fn)
	})
	err = strikes.NewStoreError(op, err)
	tracing.EndWithError(span, err)
	return err
}

func (s *StrikeStore) view(op string, fn func(tx *bolt.Tx) error) error {
	return strikes.NewStoreError(op, s.db.View(fn))
}

// AddStrike inserts a new active strike and returns its ID together with the
// user's resulting active strike count.
func (s *StrikeStore) AddStrike(ctx context.Context, userID, moderatorID snowflake.ID, reason string, resetWindow time.Duration) (uint64, int, error) {
	var id uint64
	var count int

	err := s.update(ctx, "add_strike", func(tx *bolt.Tx) error {
		bucket := tx.Bucket(BucketStrikes)
		if bucket == nil {
			return fmt.Errorf("bucket not found: %s", BucketStrikes)
		}

		seq, err := bucket.NextSequence()
		if err != nil {
			return err
		}

		now := s.now()
		strike := strikes.Strike{
			ID:          seq,
			UserID:      userID,
			ModeratorID: moderatorID,
			Reason:      reason,
			IssuedAt:    now,
			ExpiresAt:   now.Add(resetWindow),
			Active:      true,
		}
		if err := putStrike(tx, strike); err != nil {
			return err
		}
		if err := tx.Bucket(BucketActiveByUser).Put(userKey(userID, seq), nil); err != nil {
			return err
		}
		if err := tx.Bucket(BucketActiveByExpiry).Put(expiryKey(strike.ExpiresAt, seq), itob(uint64(userID))); err != nil {
			return err
		}

		id = seq
		count = countPrefix(tx.Bucket(BucketActiveByUser), itob(uint64(userID)))
		return nil
	})
	if err != nil {
		return 0, 0, err
	}
	return id, count, nil
}

// GetActiveStrikes returns the user's active strikes, newest first.
func (s *StrikeStore) GetActiveStrikes(ctx context.Context, userID snowflake.ID) ([]strikes.Strike, error) {
	var result []strikes.Strike

	err := s.view("get_active_strikes", func(tx *bolt.Tx) error {
		var err error
		result, err = activeStrikesForUser(tx, userID)
		return err
	})

	return result, err
}

// GetUserInfo returns the active count, earliest active expiry and violation
// count for a user, all read from one transaction.
func (s *StrikeStore) GetUserInfo(ctx context.Context, userID snowflake.ID) (strikes.UserInfo, error) {
	var info strikes.UserInfo

	err := s.view("get_user_info", func(tx *bolt.Tx) error {
		active, err := activeStrikesForUser(tx, userID)
		if err != nil {
			return err
		}
		info.ActiveCount = len(active)
		for _, st := range active {
			if info.NextReset == nil || st.ExpiresAt.Before(*info.NextReset) {
				expires := st.ExpiresAt
				info.NextReset = &expires
			}
		}

		record, err := getViolation(tx, userID)
		if err != nil {
			return err
		}
		if record != nil {
			info.ViolationCount = record.Count
		}
		return nil
	})
	if err != nil {
		return strikes.UserInfo{}, err
	}

	return info, nil
}

// GetAllActiveStrikes returns all active strikes ordered by user ID and then
// newest first, each annotated with the user's violation count.
func (s *StrikeStore) GetAllActiveStrikes(ctx context.Context) ([]strikes.ActiveStrike, error) {
	var result []strikes.ActiveStrike

	err := s.view("get_all_active_strikes", func(tx *bolt.Tx) error {
		byUser := make(map[snowflake.ID][]strikes.Strike)
		var order []snowflake.ID

		cursor := tx.Bucket(BucketActiveByUser).Cursor()
		for k, _ := cursor.First(); k != nil; k, _ = cursor.Next() {
			userID, strikeID := splitUserKey(k)
			strike, err := getStrike(tx, strikeID)
			if err != nil {
				return err
			}
			if strike == nil {
				continue
			}
			if _, ok := byUser[userID]; !ok {
				order = append(order, userID)
			}
			byUser[userID] = append(byUser[userID], *strike)
		}

		for _, userID := range order {
			record, err := getViolation(tx, userID)
			if err != nil {
				return err
			}
			violations := 0
			if record != nil {
				violations = record.Count
			}

			userStrikes := byUser[userID]
			sortNewestFirst(userStrikes)
			for _, st := range userStrikes {
				result = append(result, strikes.ActiveStrike{Strike: st, ViolationCount: violations})
			}
		}
		return nil
	})

	return result, err
}

// ExpireDueStrikes deactivates every active strike with ExpiresAt before now.
func (s *StrikeStore) ExpireDueStrikes(ctx context.Context, now time.Time) (int, error) {
	var count int

	err := s.update(ctx, "expire_due_strikes", func(tx *bolt.Tx) error {
		var due []uint64
		cursor := tx.Bucket(BucketActiveByExpiry).Cursor()
		limit := expiryPrefix(now)
		for k, _ := cursor.First(); k != nil && string(k[:8]) < string(limit); k, _ = cursor.Next() {
			due = append(due, binary.BigEndian.Uint64(k[8:]))
		}

		for _, id := range due {
			strike, err := getStrike(tx, id)
			if err != nil {
				return err
			}
			if strike == nil || !strike.Active || !strike.ExpiresAt.Before(now) {
				continue
			}
			if err := deactivate(tx, strike); err != nil {
				return err
			}
			count++
		}
		return nil
	})
	if err != nil {
		return 0, err
	}
	return count, nil
}

// DeactivateStrike deactivates a single strike by ID. It reports false when
// the strike is unknown or already inactive.
func (s *StrikeStore) DeactivateStrike(ctx context.Context, strikeID uint64) (bool, error) {
	var changed bool

	err := s.update(ctx, "deactivate_strike", func(tx *bolt.Tx) error {
		strike, err := getStrike(tx, strikeID)
		if err != nil || strike == nil || !strike.Active {
			return err
		}
		changed = true
		return deactivate(tx, strike)
	})
	if err != nil {
		return false, err
	}
	return changed, nil
}

// DeactivateLatestStrike deactivates the user's most recent active strike in
// a single transaction and returns it, or nil when there was none.
func (s *StrikeStore) DeactivateLatestStrike(ctx context.Context, userID snowflake.ID) (*strikes.Strike, error) {
	var removed *strikes.Strike

	err := s.update(ctx, "deactivate_latest_strike", func(tx *bolt.Tx) error {
		active, err := activeStrikesForUser(tx, userID)
		if err != nil || len(active) == 0 {
			return err
		}
		latest := active[0]
		if err := deactivate(tx, &latest); err != nil {
			return err
		}
		removed = &latest
		return nil
	})
	if err != nil {
		return nil, err
	}
	return removed, nil
}

// DeactivateAllActive deactivates every active strike of a user.
func (s *StrikeStore) DeactivateAllActive(ctx context.Context, userID snowflake.ID) (int, error) {
	var count int

	err := s.update(ctx, "deactivate_all_active", func(tx *bolt.Tx) error {
		active, err := activeStrikesForUser(tx, userID)
		if err != nil {
			return err
		}
		for i := range active {
			if err := deactivate(tx, &active[i]); err != nil {
				return err
			}
		}
		count = len(active)
		return nil
	})
	if err != nil {
		return 0, err
	}
	return count, nil
}

// IncrementViolationCount adds one to the user's violation count, creating
// the record on first use, and returns the new value.
func (s *StrikeStore) IncrementViolationCount(ctx context.Context, userID snowflake.ID) (int, error) {
	var count int

	err := s.update(ctx, "increment_violation_count", func(tx *bolt.Tx) error {
		record, err := getViolation(tx, userID)
		if err != nil {
			return err
		}
		if record == nil {
			record = &strikes.ViolationRecord{UserID: userID}
		}
		record.Count++
		record.LastEscalationAt = s.now()

		data, err := json.Marshal(record)
		if err != nil {
			return fmt.Errorf("failed to marshal violation record: %w", err)
		}
		count = record.Count
		return tx.Bucket(BucketViolations).Put(itob(uint64(userID)), data)
	})
	if err != nil {
		return 0, err
	}
	return count, nil
}

// GetViolationCount returns the user's violation count, 0 if none recorded.
func (s *StrikeStore) GetViolationCount(ctx context.Context, userID snowflake.ID) (int, error) {
	record, err := s.GetViolationRecord(ctx, userID)
	if err != nil || record == nil {
		return 0, err
	}
	return record.Count, nil
}

// GetViolationRecord returns the user's violation record, or nil if none.
func (s *StrikeStore) GetViolationRecord(ctx context.Context, userID snowflake.ID) (*strikes.ViolationRecord, error) {
	var record *strikes.ViolationRecord

	err := s.view("get_violation_record", func(tx *bolt.Tx) error {
		var err error
		record, err = getViolation(tx, userID)
		return err
	})

	return record, err
}

// SaveSummaryAnchor overwrites the stored summary anchor.
func (s *StrikeStore) SaveSummaryAnchor(ctx context.Context, anchor strikes.SummaryAnchor) error {
	return s.update(ctx, "save_summary_anchor", func(tx *bolt.Tx) error {
		data, err := database.EncodeAnchor(anchor)
		if err != nil {
			return err
		}
		return tx.Bucket(BucketBotState).Put([]byte(anchorKey), data)
	})
}

// GetSummaryAnchor returns the stored summary anchor, or nil if none is
// stored or the stored value is malformed.
func (s *StrikeStore) GetSummaryAnchor(ctx context.Context) (*strikes.SummaryAnchor, error) {
	var anchor *strikes.SummaryAnchor

	err := s.view("get_summary_anchor", func(tx *bolt.Tx) error {
		if data := tx.Bucket(BucketBotState).Get([]byte(anchorKey)); data != nil {
			anchor = database.DecodeAnchor(data)
		}
		return nil
	})

	return anchor, err
}

// LogAction stores a strike action in the audit log.
func (s *StrikeStore) LogAction(ctx context.Context, entry strikes.AuditEntry) error {
	return s.update(ctx, "log_action", func(tx *bolt.Tx) error {
		bucket := tx.Bucket(BucketAuditLog)
		if bucket == nil {
			return fmt.Errorf("bucket not found: %s", BucketAuditLog)
		}

		data, err := json.Marshal(entry)
		if err != nil {
			return fmt.Errorf("failed to marshal audit entry: %w", err)
		}

		seq, err := bucket.NextSequence()
		if err != nil {
			return fmt.Errorf("failed to allocate audit sequence: %w", err)
		}

		// Zero-padded timestamp then insertion sequence keeps byte order
		// chronological, with ties in write order
		key := fmt.Sprintf("%020d:%020d", entry.Timestamp.UnixNano(), seq)

		return bucket.Put([]byte(key), data)
	})
}

// ListAuditLog returns the most recent audit log entries, newest first.
func (s *StrikeStore) ListAuditLog(ctx context.Context, limit int) ([]strikes.AuditEntry, error) {
	var entries []strikes.AuditEntry

	err := s.view("list_audit_log", func(tx *bolt.Tx) error {
		cursor := tx.Bucket(BucketAuditLog).Cursor()
		for k, v := cursor.Last(); k != nil && len(entries) < limit; k, v = cursor.Prev() {
			var entry strikes.AuditEntry
			if err := json.Unmarshal(v, &entry); err != nil {
				continue // Skip malformed entries
			}
			entries = append(entries, entry)
		}
		return nil
	})

	return entries, err
}

// Stats returns aggregate counts for metrics.
func (s *StrikeStore) Stats(ctx context.Context) (strikes.StoreStats, error) {
	var stats strikes.StoreStats

	err := s.view("stats", func(tx *bolt.Tx) error {
		stats.TotalStrikes = tx.Bucket(BucketStrikes).Stats().KeyN

		var lastUser []byte
		cursor := tx.Bucket(BucketActiveByUser).Cursor()
		for k, _ := cursor.First(); k != nil; k, _ = cursor.Next() {
			stats.ActiveStrikes++
			if lastUser == nil || string(lastUser) != string(k[:8]) {
				stats.UsersWithStrikes++
				lastUser = append(lastUser[:0], k[:8]...)
			}
		}

		return tx.Bucket(BucketViolations).ForEach(func(k, v []byte) error {
			var record strikes.ViolationRecord
			if err := json.Unmarshal(v, &record); err != nil {
				return nil // Skip malformed entries
			}
			if record.Count > 0 {
				stats.UsersWithViolations++
			}
			return nil
		})
	})

	return stats, err
}

// Close closes the underlying database.
func (s *StrikeStore) Close() error {
	return s.db.Close()
}

// ========== transaction helpers ==========

func activeStrikesForUser(tx *bolt.Tx, userID snowflake.ID) ([]strikes.Strike, error) {
	var result []strikes.Strike

	prefix := itob(uint64(userID))
	cursor := tx.Bucket(BucketActiveByUser).Cursor()
	for k, _ := cursor.Seek(prefix); k != nil && hasPrefix(k, prefix); k, _ = cursor.Next() {
		_, strikeID := splitUserKey(k)
		strike, err := getStrike(tx, strikeID)
		if err != nil {
			return nil, err
		}
		if strike != nil && strike.Active {
			result = append(result, *strike)
		}
	}

	sortNewestFirst(result)
	return result, nil
}

func getStrike(tx *bolt.Tx, id uint64) (*strikes.Strike, error) {
	data := tx.Bucket(BucketStrikes).Get(itob(id))
	if data == nil {
		return nil, nil
	}
	var strike strikes.Strike
	if err := json.Unmarshal(data, &strike); err != nil {
		return nil, fmt.Errorf("failed to unmarshal strike %d: %w", id, err)
	}
	return &strike, nil
}

func putStrike(tx *bolt.Tx, strike strikes.Strike) error {
	data, err := json.Marshal(strike)
	if err != nil {
		return fmt.Errorf("failed to marshal strike: %w", err)
	}
	return tx.Bucket(BucketStrikes).Put(itob(strike.ID), data)
}

// deactivate flips the Active flag and drops the strike from both indexes.
// ExpiresAt and every other field are written back unchanged.
func deactivate(tx *bolt.Tx, strike *strikes.Strike) error {
	if !strike.Active {
		return errors.New("strike already inactive")
	}
	strike.Active = false
	if err := putStrike(tx, *strike); err != nil {
		return err
	}
	if err := tx.Bucket(BucketActiveByUser).Delete(userKey(strike.UserID, strike.ID)); err != nil {
		return err
	}
	return tx.Bucket(BucketActiveByExpiry).Delete(expiryKey(strike.ExpiresAt, strike.ID))
}

func getViolation(tx *bolt.Tx, userID snowflake.ID) (*strikes.ViolationRecord, error) {
	data := tx.Bucket(BucketViolations).Get(itob(uint64(userID)))
	if data == nil {
		return nil, nil
	}
	var record strikes.ViolationRecord
	if err := json.Unmarshal(data, &record); err != nil {
		return nil, fmt.Errorf("failed to unmarshal violation record: %w", err)
	}
	return &record, nil
}

func sortNewestFirst(list []strikes.Strike) {
	sort.SliceStable(list, func(i, j int) bool {
		if !list[i].IssuedAt.Equal(list[j].IssuedAt) {
			return list[i].IssuedAt.After(list[j].IssuedAt)
		}
		return list[i].ID > list[j].ID
	})
}

// ========== key encoding ==========

func itob(v uint64) []byte {
	b := make([]byte, 8)
	binary.BigEndian.PutUint64(b, v)
	return b
}

func userKey(userID snowflake.ID, strikeID uint64) []byte {
	return append(itob(uint64(userID)), itob(strikeID)...)
}

func splitUserKey(k []byte) (snowflake.ID, uint64) {
	return snowflake.ID(binary.BigEndian.Uint64(k[:8])), binary.BigEndian.Uint64(k[8:16])
}

// expiryPrefix encodes t so that byte order matches time order. Times before
// the Unix epoch clamp to zero.
func expiryPrefix(t time.Time) []byte {
	nanos := t.UnixNano()
	if nanos < 0 {
		nanos = 0
	}
	return itob(uint64(nanos))
}

func expiryKey(expiresAt time.Time, strikeID uint64) []byte {
	return append(expiryPrefix(expiresAt), itob(strikeID)...)
}

func countPrefix(bucket *bolt.Bucket, prefix []byte) int {
	count := 0
	cursor := bucket.Cursor()
	for k, _ := cursor.Seek(prefix); k != nil && hasPrefix(k, prefix); k, _ = cursor.Next() {
		count++
	}
	return count
}

// hasPrefix checks if a byte slice has a given prefix.
func hasPrefix(s, prefix []byte) bool {
	if len(s) < len(prefix) {
		return false
	}
	for i, b := range prefix {
		if s[i] != b {
			return false
		}
	}
	return true
}
