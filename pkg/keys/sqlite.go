package keys

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	_ "modernc.org/sqlite" // SQLite driver
)

// SQLiteStore implements Store on a SQLite database.
//
// Each mutation runs as a single transaction over one row, so concurrent
// writers never overwrite each other's fields. The pool is pinned to one
// connection because SQLite only supports a single writer.
type SQLiteStore struct {
	db *sql.DB
	mu sync.Mutex

	now func() time.Time
}

// SQLiteConfig configures the SQLite store.
type SQLiteConfig struct {
	// Path is the database file path.
	Path string

	// BusyTimeout is how long to wait for locks before failing.
	// Default: 5 seconds
	BusyTimeout time.Duration

	// WALMode enables write-ahead logging.
	WALMode bool
}

const keysSchema = `
CREATE TABLE IF NOT EXISTS api_keys (
	seq INTEGER PRIMARY KEY AUTOINCREMENT,
	id TEXT NOT NULL UNIQUE,
	secret TEXT NOT NULL UNIQUE,
	name TEXT NOT NULL DEFAULT '',
	enabled INTEGER NOT NULL DEFAULT 1,
	created_at INTEGER NOT NULL,
	updated_at INTEGER NOT NULL,
	usage_count INTEGER NOT NULL DEFAULT 0,
	last_used INTEGER,
	quota_status TEXT NOT NULL DEFAULT 'unknown',
	last_check_time INTEGER,
	last_check_result TEXT
);

CREATE INDEX IF NOT EXISTS idx_api_keys_enabled ON api_keys(enabled);
`

const selectColumns = `id, secret, name, enabled, created_at, updated_at, usage_count,
	last_used, quota_status, last_check_time, last_check_result`

// NewSQLiteStore opens (and if needed creates) a SQLite key store.
func NewSQLiteStore(cfg SQLiteConfig) (*SQLiteStore, error) {
	if cfg.Path == "" {
		return nil, fmt.Errorf("sqlite path cannot be empty")
	}
	if cfg.BusyTimeout == 0 {
		cfg.BusyTimeout = 5 * time.Second
	}

	if dir := filepath.Dir(cfg.Path); dir != "." && dir != "" {
		if err := os.MkdirAll(dir, 0o750); err != nil {
			return nil, fmt.Errorf("failed to create database directory %q: %w", dir, err)
		}
	}

	pragmas := []string{fmt.Sprintf("_pragma=busy_timeout(%d)", cfg.BusyTimeout.Milliseconds())}
	if cfg.WALMode {
		pragmas = append(pragmas, "_pragma=journal_mode(WAL)")
	}
	dsn := fmt.Sprintf("file:%s?%s", cfg.Path, strings.Join(pragmas, "&"))

	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(0)

	if _, err := db.Exec(keysSchema); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to initialize schema: %w", err)
	}

	return &SQLiteStore{db: db, now: time.Now}, nil
}

// Add creates a new enabled record.
func (s *SQLiteStore) Add(ctx context.Context, name, secret string) (KeyRecord, error) {
	secret = strings.TrimSpace(secret)
	if secret == "" {
		return KeyRecord{}, ErrEmptySecret
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return KeyRecord{}, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck

	var count int
	if err := tx.QueryRowContext(ctx, `SELECT COUNT(*) FROM api_keys WHERE secret = ?`, secret).Scan(&count); err != nil {
		return KeyRecord{}, fmt.Errorf("failed to check secret uniqueness: %w", err)
	}
	if count > 0 {
		return KeyRecord{}, ErrDuplicateSecret
	}

	now := s.now()
	rec := KeyRecord{
		ID:          uuid.NewString(),
		Secret:      secret,
		Name:        name,
		Enabled:     true,
		CreatedAt:   now,
		UpdatedAt:   now,
		QuotaStatus: QuotaUnknown,
	}

	_, err = tx.ExecContext(ctx, `
		INSERT INTO api_keys (id, secret, name, enabled, created_at, updated_at, quota_status)
		VALUES (?, ?, ?, 1, ?, ?, ?)`,
		rec.ID, rec.Secret, rec.Name, now.UnixNano(), now.UnixNano(), string(rec.QuotaStatus),
	)
	if err != nil {
		return KeyRecord{}, fmt.Errorf("failed to insert key: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return KeyRecord{}, fmt.Errorf("failed to commit key: %w", err)
	}
	return rec, nil
}

// List returns all records in insertion order.
func (s *SQLiteStore) List(ctx context.Context) ([]KeyRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	rows, err := s.db.QueryContext(ctx, `SELECT `+selectColumns+` FROM api_keys ORDER BY seq`)
	if err != nil {
		return nil, fmt.Errorf("failed to list keys: %w", err)
	}
	defer rows.Close()

	var out []KeyRecord
	for rows.Next() {
		rec, err := scanRecord(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate keys: %w", err)
	}
	return out, nil
}

// Get returns a single record.
func (s *SQLiteStore) Get(ctx context.Context, id string) (KeyRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	row := s.db.QueryRowContext(ctx, `SELECT `+selectColumns+` FROM api_keys WHERE id = ?`, id)
	return scanRecord(row)
}

// Update applies a partial update.
func (s *SQLiteStore) Update(ctx context.Context, id string, patch Patch) (KeyRecord, error) {
	return s.mutate(ctx, id, func(rec *KeyRecord) {
		patch.apply(rec)
	})
}

// Toggle flips Enabled.
func (s *SQLiteStore) Toggle(ctx context.Context, id string) (KeyRecord, error) {
	return s.mutate(ctx, id, func(rec *KeyRecord) {
		rec.Enabled = !rec.Enabled
	})
}

// RecordUsage increments UsageCount and sets LastUsed.
func (s *SQLiteStore) RecordUsage(ctx context.Context, id string, at time.Time) (KeyRecord, error) {
	return s.mutate(ctx, id, func(rec *KeyRecord) {
		rec.UsageCount++
		rec.LastUsed = &at
	})
}

// Delete removes a record.
func (s *SQLiteStore) Delete(ctx context.Context, id string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	res, err := s.db.ExecContext(ctx, `DELETE FROM api_keys WHERE id = ?`, id)
	if err != nil {
		return false, fmt.Errorf("failed to delete key: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("failed to read affected rows: %w", err)
	}
	return n > 0, nil
}

// Close closes the database.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

// mutate loads, changes and writes back one row inside a transaction.
func (s *SQLiteStore) mutate(ctx context.Context, id string, fn func(*KeyRecord)) (KeyRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return KeyRecord{}, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck

	rec, err := scanRecord(tx.QueryRowContext(ctx, `SELECT `+selectColumns+` FROM api_keys WHERE id = ?`, id))
	if err != nil {
		return KeyRecord{}, err
	}

	fn(&rec)
	rec.UpdatedAt = s.now()

	var checkJSON sql.NullString
	if rec.LastCheckResult != nil {
		b, err := json.Marshal(rec.LastCheckResult)
		if err != nil {
			return KeyRecord{}, fmt.Errorf("failed to marshal check result: %w", err)
		}
		checkJSON = sql.NullString{String: string(b), Valid: true}
	}

	_, err = tx.ExecContext(ctx, `
		UPDATE api_keys SET
			name = ?, enabled = ?, updated_at = ?, usage_count = ?, last_used = ?,
			quota_status = ?, last_check_time = ?, last_check_result = ?
		WHERE id = ?`,
		rec.Name, boolToInt(rec.Enabled), rec.UpdatedAt.UnixNano(), rec.UsageCount,
		nullTime(rec.LastUsed), string(rec.QuotaStatus), nullTime(rec.LastCheckTime), checkJSON,
		id,
	)
	if err != nil {
		return KeyRecord{}, fmt.Errorf("failed to update key: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return KeyRecord{}, fmt.Errorf("failed to commit key update: %w", err)
	}
	return rec, nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanRecord(row rowScanner) (KeyRecord, error) {
	var (
		rec                 KeyRecord
		enabled             int
		createdAt           int64
		updatedAt           int64
		lastUsed, lastCheck sql.NullInt64
		quota               string
		checkJSON           sql.NullString
	)

	err := row.Scan(&rec.ID, &rec.Secret, &rec.Name, &enabled, &createdAt, &updatedAt,
		&rec.UsageCount, &lastUsed, &quota, &lastCheck, &checkJSON)
	if errors.Is(err, sql.ErrNoRows) {
		return KeyRecord{}, ErrNotFound
	}
	if err != nil {
		return KeyRecord{}, fmt.Errorf("failed to scan key: %w", err)
	}

	rec.Enabled = enabled != 0
	rec.CreatedAt = time.Unix(0, createdAt)
	rec.UpdatedAt = time.Unix(0, updatedAt)
	rec.QuotaStatus = QuotaStatus(quota)
	if lastUsed.Valid {
		t := time.Unix(0, lastUsed.Int64)
		rec.LastUsed = &t
	}
	if lastCheck.Valid {
		t := time.Unix(0, lastCheck.Int64)
		rec.LastCheckTime = &t
	}
	if checkJSON.Valid && checkJSON.String != "" {
		var res CheckResult
		if err := json.Unmarshal([]byte(checkJSON.String), &res); err != nil {
			return KeyRecord{}, fmt.Errorf("corrupt check result for key %s: %w", rec.ID, err)
		}
		rec.LastCheckResult = &res
	}
	return rec, nil
}

func nullTime(t *time.Time) sql.NullInt64 {
	if t == nil {
		return sql.NullInt64{}
	}
	return sql.NullInt64{Int64: t.UnixNano(), Valid: true}
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
