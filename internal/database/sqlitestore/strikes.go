// Package sqlitestore provides a SQLite-backed strike store.
package sqlitestore

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"strikekeeper/internal/database"
	"strikekeeper/internal/strikes"
	"strikekeeper/internal/tracing"

	"github.com/XSAM/otelsql"
	"github.com/disgoorg/snowflake/v2"
	"go.opentelemetry.io/otel/attribute"
	_ "modernc.org/sqlite"
)

const anchorKey = "summary_anchor"

const schema = `
CREATE TABLE IF NOT EXISTS strikes (
	id           INTEGER PRIMARY KEY AUTOINCREMENT,
	user_id      INTEGER NOT NULL,
	moderator_id INTEGER NOT NULL,
	reason       TEXT    NOT NULL,
	issued_at    INTEGER NOT NULL,
	expires_at   INTEGER NOT NULL,
	active       INTEGER NOT NULL DEFAULT 1
);
CREATE INDEX IF NOT EXISTS idx_strikes_user_active ON strikes(user_id, active);
CREATE INDEX IF NOT EXISTS idx_strikes_active_expiry ON strikes(active, expires_at);

CREATE TABLE IF NOT EXISTS violations (
	user_id            INTEGER PRIMARY KEY,
	violation_count    INTEGER NOT NULL DEFAULT 0,
	last_escalation_at INTEGER NOT NULL DEFAULT 0
);

CREATE TABLE IF NOT EXISTS bot_state (
	key   TEXT PRIMARY KEY,
	value TEXT NOT NULL
);

CREATE TABLE IF NOT EXISTS audit_log (
	id        TEXT PRIMARY KEY,
	action    TEXT    NOT NULL,
	user_id   INTEGER NOT NULL DEFAULT 0,
	actor_id  INTEGER NOT NULL DEFAULT 0,
	reason    TEXT    NOT NULL DEFAULT '',
	details   TEXT    NOT NULL DEFAULT '{}',
	timestamp INTEGER NOT NULL,
	automatic INTEGER NOT NULL DEFAULT 0
);
CREATE INDEX IF NOT EXISTS idx_audit_log_timestamp ON audit_log(timestamp);
`

// Options configures the SQLite store.
type Options struct {
	// Path to the database file. Parent directories will be created if needed.
	Path string

	// LockTimeout bounds how long a mutation waits for the write gate.
	// It also becomes SQLite's busy_timeout.
	LockTimeout time.Duration

	// Now stamps new strikes. If nil, time.Now is used.
	Now func() time.Time
}

// StrikeStore implements strikes.Store using SQLite.
type StrikeStore struct {
	db   *sql.DB
	gate *database.WriteGate
	now  func() time.Time
}

// Ensure StrikeStore implements the interface at compile time.
var _ strikes.Store = (*StrikeStore)(nil)

// Open opens or creates the database at opts.Path and applies the schema.
func Open(opts Options) (*StrikeStore, error) {
	if opts.Path == "" {
		return nil, fmt.Errorf("database path is required")
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	gate := database.NewWriteGate(opts.LockTimeout)

	dir := filepath.Dir(opts.Path)
	if dir != "" && dir != "." {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return nil, fmt.Errorf("failed to create database directory: %w", err)
		}
	}

	dsn := fmt.Sprintf("file:%s?_pragma=busy_timeout(%d)&_pragma=journal_mode(WAL)&_pragma=foreign_keys(1)",
		opts.Path, gate.Timeout().Milliseconds())

	db, err := otelsql.Open("sqlite", dsn,
		otelsql.WithAttributes(attribute.String("db.system", "sqlite")))
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	// All writes go through the gate; one connection keeps SQLite from
	// returning SQLITE_BUSY to readers racing a writer.
	db.SetMaxOpenConns(1)

	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to apply schema: %w", err)
	}

	return &StrikeStore{db: db, gate: gate, now: opts.Now}, nil
}

// update runs fn in a transaction behind the write gate.
func (s *StrikeStore) update(ctx context.Context, op string, fn func(tx *sql.Tx) error) error {
	ctx, span := tracing.StoreSpan(ctx, "sqlite", op)
	defer span.End()

	err := s.gate.Do(ctx, op, func() error {
		tx, err := s.db.BeginTx(ctx, nil)
		if err != nil {
			return err
		}
		if err := fn(tx); err != nil {
			_ = tx.Rollback()
			return err
		}
		return tx.Commit()
	})
	err = strikes.NewStoreError(op, err)
	tracing.EndWithError(span, err)
	return err
}

// ========== Strikes ==========

func (s *StrikeStore) AddStrike(ctx context.Context, userID, moderatorID snowflake.ID, reason string, resetWindow time.Duration) (uint64, int, error) {
	var id int64
	var count int

	err := s.update(ctx, "add_strike", func(tx *sql.Tx) error {
		now := s.now()
		res, err := tx.ExecContext(ctx, `
			INSERT INTO strikes (user_id, moderator_id, reason, issued_at, expires_at, active)
			VALUES (?, ?, ?, ?, ?, 1)
		`, int64(userID), int64(moderatorID), reason, now.UnixNano(), now.Add(resetWindow).UnixNano())
		if err != nil {
			return fmt.Errorf("insert strike: %w", err)
		}
		if id, err = res.LastInsertId(); err != nil {
			return err
		}
		return tx.QueryRowContext(ctx,
			`SELECT COUNT(*) FROM strikes WHERE user_id = ? AND active = 1`, int64(userID)).Scan(&count)
	})
	if err != nil {
		return 0, 0, err
	}
	return uint64(id), count, nil
}

func (s *StrikeStore) GetActiveStrikes(ctx context.Context, userID snowflake.ID) ([]strikes.Strike, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, user_id, moderator_id, reason, issued_at, expires_at, active
		FROM strikes WHERE user_id = ? AND active = 1
		ORDER BY issued_at DESC, id DESC
	`, int64(userID))
	if err != nil {
		return nil, strikes.NewStoreError("get_active_strikes", err)
	}
	defer rows.Close()

	var result []strikes.Strike
	for rows.Next() {
		st, err := scanStrike(rows)
		if err != nil {
			return nil, strikes.NewStoreError("get_active_strikes", err)
		}
		result = append(result, st)
	}
	return result, strikes.NewStoreError("get_active_strikes", rows.Err())
}

func (s *StrikeStore) GetUserInfo(ctx context.Context, userID snowflake.ID) (strikes.UserInfo, error) {
	var info strikes.UserInfo
	var earliest sql.NullInt64

	err := s.db.QueryRowContext(ctx, `
		SELECT
			(SELECT COUNT(*) FROM strikes WHERE user_id = ?1 AND active = 1),
			(SELECT MIN(expires_at) FROM strikes WHERE user_id = ?1 AND active = 1),
			COALESCE((SELECT violation_count FROM violations WHERE user_id = ?1), 0)
	`, int64(userID)).Scan(&info.ActiveCount, &earliest, &info.ViolationCount)
	if err != nil {
		return strikes.UserInfo{}, strikes.NewStoreError("get_user_info", err)
	}
	if earliest.Valid {
		t := time.Unix(0, earliest.Int64)
		info.NextReset = &t
	}
	return info, nil
}

func (s *StrikeStore) GetAllActiveStrikes(ctx context.Context) ([]strikes.ActiveStrike, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT s.id, s.user_id, s.moderator_id, s.reason, s.issued_at, s.expires_at, s.active,
		       COALESCE(v.violation_count, 0)
		FROM strikes s
		LEFT JOIN violations v ON v.user_id = s.user_id
		WHERE s.active = 1
		ORDER BY s.user_id, s.issued_at DESC, s.id DESC
	`)
	if err != nil {
		return nil, strikes.NewStoreError("get_all_active_strikes", err)
	}
	defer rows.Close()

	var result []strikes.ActiveStrike
	for rows.Next() {
		var a strikes.ActiveStrike
		var id, user, mod, issued, expires int64
		var active int
		if err := rows.Scan(&id, &user, &mod, &a.Reason, &issued, &expires, &active, &a.ViolationCount); err != nil {
			return nil, strikes.NewStoreError("get_all_active_strikes", err)
		}
		a.Strike = buildStrike(id, user, mod, a.Reason, issued, expires, active)
		result = append(result, a)
	}
	return result, strikes.NewStoreError("get_all_active_strikes", rows.Err())
}

func (s *StrikeStore) ExpireDueStrikes(ctx context.Context, now time.Time) (int, error) {
	var n int64
	err := s.update(ctx, "expire_due_strikes", func(tx *sql.Tx) error {
		res, err := tx.ExecContext(ctx,
			`UPDATE strikes SET active = 0 WHERE active = 1 AND expires_at < ?`, now.UnixNano())
		if err != nil {
			return err
		}
		n, err = res.RowsAffected()
		return err
	})
	if err != nil {
		return 0, err
	}
	return int(n), nil
}

func (s *StrikeStore) DeactivateStrike(ctx context.Context, strikeID uint64) (bool, error) {
	var n int64
	err := s.update(ctx, "deactivate_strike", func(tx *sql.Tx) error {
		res, err := tx.ExecContext(ctx,
			`UPDATE strikes SET active = 0 WHERE id = ? AND active = 1`, int64(strikeID))
		if err != nil {
			return err
		}
		n, err = res.RowsAffected()
		return err
	})
	if err != nil {
		return false, err
	}
	return n > 0, nil
}

func (s *StrikeStore) DeactivateLatestStrike(ctx context.Context, userID snowflake.ID) (*strikes.Strike, error) {
	var removed *strikes.Strike

	err := s.update(ctx, "deactivate_latest_strike", func(tx *sql.Tx) error {
		row := tx.QueryRowContext(ctx, `
			SELECT id, user_id, moderator_id, reason, issued_at, expires_at, active
			FROM strikes WHERE user_id = ? AND active = 1
			ORDER BY issued_at DESC, id DESC LIMIT 1
		`, int64(userID))
		st, err := scanStrike(row)
		if errors.Is(err, sql.ErrNoRows) {
			return nil
		}
		if err != nil {
			return err
		}
		if _, err := tx.ExecContext(ctx, `UPDATE strikes SET active = 0 WHERE id = ?`, int64(st.ID)); err != nil {
			return err
		}
		st.Active = false
		removed = &st
		return nil
	})
	if err != nil {
		return nil, err
	}
	return removed, nil
}

func (s *StrikeStore) DeactivateAllActive(ctx context.Context, userID snowflake.ID) (int, error) {
	var n int64
	err := s.update(ctx, "deactivate_all_active", func(tx *sql.Tx) error {
		res, err := tx.ExecContext(ctx,
			`UPDATE strikes SET active = 0 WHERE user_id = ? AND active = 1`, int64(userID))
		if err != nil {
			return err
		}
		n, err = res.RowsAffected()
		return err
	})
	if err != nil {
		return 0, err
	}
	return int(n), nil
}

// ========== Violations ==========

func (s *StrikeStore) IncrementViolationCount(ctx context.Context, userID snowflake.ID) (int, error) {
	var count int
	err := s.update(ctx, "increment_violation_count", func(tx *sql.Tx) error {
		_, err := tx.ExecContext(ctx, `
			INSERT INTO violations (user_id, violation_count, last_escalation_at)
			VALUES (?, 1, ?)
			ON CONFLICT(user_id) DO UPDATE SET
				violation_count    = violation_count + 1,
				last_escalation_at = excluded.last_escalation_at
		`, int64(userID), s.now().UnixNano())
		if err != nil {
			return fmt.Errorf("increment violations: %w", err)
		}
		return tx.QueryRowContext(ctx,
			`SELECT violation_count FROM violations WHERE user_id = ?`, int64(userID)).Scan(&count)
	})
	if err != nil {
		return 0, err
	}
	return count, nil
}

func (s *StrikeStore) GetViolationCount(ctx context.Context, userID snowflake.ID) (int, error) {
	record, err := s.GetViolationRecord(ctx, userID)
	if err != nil || record == nil {
		return 0, err
	}
	return record.Count, nil
}

func (s *StrikeStore) GetViolationRecord(ctx context.Context, userID snowflake.ID) (*strikes.ViolationRecord, error) {
	var count int
	var last int64
	err := s.db.QueryRowContext(ctx,
		`SELECT violation_count, last_escalation_at FROM violations WHERE user_id = ?`, int64(userID)).Scan(&count, &last)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, strikes.NewStoreError("get_violation_record", err)
	}
	return &strikes.ViolationRecord{
		UserID:           userID,
		Count:            count,
		LastEscalationAt: time.Unix(0, last),
	}, nil
}

// ========== Summary anchor ==========

func (s *StrikeStore) SaveSummaryAnchor(ctx context.Context, anchor strikes.SummaryAnchor) error {
	data, err := database.EncodeAnchor(anchor)
	if err != nil {
		return strikes.NewStoreError("save_summary_anchor", err)
	}
	return s.update(ctx, "save_summary_anchor", func(tx *sql.Tx) error {
		_, err := tx.ExecContext(ctx, `
			INSERT INTO bot_state (key, value) VALUES (?, ?)
			ON CONFLICT(key) DO UPDATE SET value = excluded.value
		`, anchorKey, string(data))
		return err
	})
}

func (s *StrikeStore) GetSummaryAnchor(ctx context.Context) (*strikes.SummaryAnchor, error) {
	var value string
	err := s.db.QueryRowContext(ctx, `SELECT value FROM bot_state WHERE key = ?`, anchorKey).Scan(&value)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, strikes.NewStoreError("get_summary_anchor", err)
	}
	return database.DecodeAnchor([]byte(value)), nil
}

// ========== Audit log ==========

func (s *StrikeStore) LogAction(ctx context.Context, entry strikes.AuditEntry) error {
	details, err := json.Marshal(entry.Details)
	if err != nil {
		return strikes.NewStoreError("log_action", fmt.Errorf("marshal details: %w", err))
	}
	automatic := 0
	if entry.Automatic {
		automatic = 1
	}
	return s.update(ctx, "log_action", func(tx *sql.Tx) error {
		_, err := tx.ExecContext(ctx, `
			INSERT INTO audit_log (id, action, user_id, actor_id, reason, details, timestamp, automatic)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		`, entry.ID, string(entry.Action), int64(entry.UserID), int64(entry.ActorID), entry.Reason,
			string(details), entry.Timestamp.UnixNano(), automatic)
		return err
	})
}

func (s *StrikeStore) ListAuditLog(ctx context.Context, limit int) ([]strikes.AuditEntry, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, action, user_id, actor_id, reason, details, timestamp, automatic
		FROM audit_log ORDER BY timestamp DESC, rowid DESC LIMIT ?
	`, limit)
	if err != nil {
		return nil, strikes.NewStoreError("list_audit_log", err)
	}
	defer rows.Close()

	var entries []strikes.AuditEntry
	for rows.Next() {
		var e strikes.AuditEntry
		var action, details string
		var user, actor, ts int64
		var automatic int
		if err := rows.Scan(&e.ID, &action, &user, &actor, &e.Reason, &details, &ts, &automatic); err != nil {
			return nil, strikes.NewStoreError("list_audit_log", err)
		}
		e.Action = strikes.AuditAction(action)
		e.UserID = snowflake.ID(user)
		e.ActorID = snowflake.ID(actor)
		e.Timestamp = time.Unix(0, ts)
		e.Automatic = automatic == 1
		_ = json.Unmarshal([]byte(details), &e.Details)
		entries = append(entries, e)
	}
	return entries, strikes.NewStoreError("list_audit_log", rows.Err())
}

// ========== Stats ==========

func (s *StrikeStore) Stats(ctx context.Context) (strikes.StoreStats, error) {
	var stats strikes.StoreStats
	err := s.db.QueryRowContext(ctx, `
		SELECT
			(SELECT COUNT(*) FROM strikes),
			(SELECT COUNT(*) FROM strikes WHERE active = 1),
			(SELECT COUNT(DISTINCT user_id) FROM strikes WHERE active = 1),
			(SELECT COUNT(*) FROM violations WHERE violation_count > 0)
	`).Scan(&stats.TotalStrikes, &stats.ActiveStrikes, &stats.UsersWithStrikes, &stats.UsersWithViolations)
	if err != nil {
		return strikes.StoreStats{}, strikes.NewStoreError("stats", err)
	}
	return stats, nil
}

// Close closes the database connection.
func (s *StrikeStore) Close() error {
	return s.db.Close()
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanStrike(row rowScanner) (strikes.Strike, error) {
	var id, user, mod, issued, expires int64
	var reason string
	var active int
	if err := row.Scan(&id, &user, &mod, &reason, &issued, &expires, &active); err != nil {
		return strikes.Strike{}, err
	}
	return buildStrike(id, user, mod, reason, issued, expires, active), nil
}

func buildStrike(id, user, mod int64, reason string, issued, expires int64, active int) strikes.Strike {
	return strikes.Strike{
		ID:          uint64(id),
		UserID:      snowflake.ID(user),
		ModeratorID: snowflake.ID(mod),
		Reason:      reason,
		IssuedAt:    time.Unix(0, issued),
		ExpiresAt:   time.Unix(0, expires),
		Active:      active == 1,
	}
}
