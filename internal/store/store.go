// Package store persists explanation audit records, API keys, settings,
// and per-identity token usage, backed by SQLite. Writes on the explain
// path are fire-and-forget: callers log failures and move on.
package store

import (
	"context"
	"crypto/sha256"
	"database/sql"
	"encoding/hex"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	_ "modernc.org/sqlite"
)

// ErrNotFound is returned when a lookup matches nothing.
var ErrNotFound = errors.New("not found")

// Store wraps the SQLite database.
type Store struct {
	db *sqlx.DB
}

// New creates a store under dataDir. Pass empty string for in-memory,
// which is what tests use.
func New(dataDir string) (*Store, error) {
	var dsn string
	if dataDir == "" {
		dsn = ":memory:?_journal_mode=WAL"
	} else {
		if err := os.MkdirAll(dataDir, 0755); err != nil {
			return nil, fmt.Errorf("create data dir: %w", err)
		}
		dsn = filepath.Join(dataDir, "querylens.db") + "?_journal_mode=WAL&_busy_timeout=5000"
	}

	db, err := sqlx.Connect("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	db.SetMaxOpenConns(1) // SQLite doesn't support concurrent writes

	s := &Store{db: db}
	if err := s.migrate(); err != nil {
		return nil, fmt.Errorf("migrate database: %w", err)
	}
	return s, nil
}

// Close closes the underlying database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

// Ping verifies the database is reachable, for readiness checks.
func (s *Store) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

func (s *Store) migrate() error {
	const schema = `
	CREATE TABLE IF NOT EXISTS explanations (
		id             INTEGER PRIMARY KEY AUTOINCREMENT,
		query_hash     TEXT NOT NULL,
		query_pattern  TEXT NOT NULL,
		sql_text       TEXT NOT NULL,
		sanitized_sql  TEXT NOT NULL,
		dialect        TEXT NOT NULL,
		explanation    TEXT NOT NULL,
		confidence     TEXT NOT NULL,
		created_at     TIMESTAMP NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_explanations_hash ON explanations(query_hash);

	CREATE TABLE IF NOT EXISTS api_keys (
		id          INTEGER PRIMARY KEY AUTOINCREMENT,
		name        TEXT NOT NULL UNIQUE,
		key_hash    TEXT NOT NULL UNIQUE,
		created_at  TIMESTAMP NOT NULL,
		revoked_at  TIMESTAMP
	);

	CREATE TABLE IF NOT EXISTS settings (
		key    TEXT PRIMARY KEY,
		value  TEXT NOT NULL
	);

	CREATE TABLE IF NOT EXISTS token_usage (
		identity  TEXT NOT NULL,
		day       TEXT NOT NULL,
		tokens    INTEGER NOT NULL DEFAULT 0,
		PRIMARY KEY (identity, day)
	);`
	_, err := s.db.Exec(schema)
	return err
}

// ---------------------------------------------------------------------------
// Explanation audit records
// ---------------------------------------------------------------------------

// ExplanationRecord is one computed explanation, persisted for audit and
// cache warming.
type ExplanationRecord struct {
	ID           int64     `db:"id"`
	QueryHash    string    `db:"query_hash"`
	QueryPattern string    `db:"query_pattern"`
	SQL          string    `db:"sql_text"`
	SanitizedSQL string    `db:"sanitized_sql"`
	Dialect      string    `db:"dialect"`
	Explanation  string    `db:"explanation"` // serialized ExplanationResult
	Confidence   string    `db:"confidence"`
	CreatedAt    time.Time `db:"created_at"`
}

// SaveExplanation inserts an audit record.
func (s *Store) SaveExplanation(ctx context.Context, rec *ExplanationRecord) error {
	rec.CreatedAt = time.Now().UTC()

	const q = `INSERT INTO explanations
		(query_hash, query_pattern, sql_text, sanitized_sql, dialect, explanation, confidence, created_at)
		VALUES
		(:query_hash, :query_pattern, :sql_text, :sanitized_sql, :dialect, :explanation, :confidence, :created_at)`

	result, err := s.db.NamedExecContext(ctx, q, rec)
	if err != nil {
		return fmt.Errorf("insert explanation: %w", err)
	}
	rec.ID, _ = result.LastInsertId()
	return nil
}

// LatestExplanation returns the most recent record for a query hash.
func (s *Store) LatestExplanation(ctx context.Context, queryHash string) (*ExplanationRecord, error) {
	var rec ExplanationRecord
	const q = `SELECT * FROM explanations WHERE query_hash = ? ORDER BY id DESC LIMIT 1`
	if err := s.db.GetContext(ctx, &rec, q, queryHash); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("query explanation: %w", err)
	}
	return &rec, nil
}

// CountExplanations returns the number of stored audit records.
func (s *Store) CountExplanations(ctx context.Context) (int64, error) {
	var n int64
	err := s.db.GetContext(ctx, &n, `SELECT COUNT(*) FROM explanations`)
	return n, err
}

// ---------------------------------------------------------------------------
// API keys
// ---------------------------------------------------------------------------

// APIKey is the stored metadata of an issued key. The key itself is only
// ever held as a SHA-256 hash.
type APIKey struct {
	ID        int64      `db:"id"`
	Name      string     `db:"name"`
	KeyHash   string     `db:"key_hash"`
	CreatedAt time.Time  `db:"created_at"`
	RevokedAt *time.Time `db:"revoked_at"`
}

func hashKey(key string) string {
	sum := sha256.Sum256([]byte(key))
	return hex.EncodeToString(sum[:])
}

// CreateAPIKey mints a new key for name and returns the plaintext once.
func (s *Store) CreateAPIKey(ctx context.Context, name string) (string, error) {
	plaintext := "qlk_" + strings.ReplaceAll(uuid.New().String(), "-", "")

	const q = `INSERT INTO api_keys (name, key_hash, created_at) VALUES (?, ?, ?)`
	if _, err := s.db.ExecContext(ctx, q, name, hashKey(plaintext), time.Now().UTC()); err != nil {
		return "", fmt.Errorf("insert api key: %w", err)
	}
	return plaintext, nil
}

// ValidateAPIKey resolves a plaintext key to its name. Revoked and unknown
// keys return ErrNotFound.
func (s *Store) ValidateAPIKey(ctx context.Context, key string) (string, error) {
	var name string
	const q = `SELECT name FROM api_keys WHERE key_hash = ? AND revoked_at IS NULL`
	if err := s.db.GetContext(ctx, &name, q, hashKey(key)); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return "", ErrNotFound
		}
		return "", fmt.Errorf("query api key: %w", err)
	}
	return name, nil
}

// ListAPIKeys returns all keys, including revoked ones.
func (s *Store) ListAPIKeys(ctx context.Context) ([]APIKey, error) {
	var keys []APIKey
	if err := s.db.SelectContext(ctx, &keys, `SELECT * FROM api_keys ORDER BY id`); err != nil {
		return nil, fmt.Errorf("list api keys: %w", err)
	}
	return keys, nil
}

// RevokeAPIKey marks the named key revoked.
func (s *Store) RevokeAPIKey(ctx context.Context, name string) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE api_keys SET revoked_at = ? WHERE name = ? AND revoked_at IS NULL`,
		time.Now().UTC(), name)
	if err != nil {
		return fmt.Errorf("revoke api key: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

// ---------------------------------------------------------------------------
// Settings
// ---------------------------------------------------------------------------

// GetSetting returns the value for key, or ErrNotFound.
func (s *Store) GetSetting(ctx context.Context, key string) (string, error) {
	var value string
	if err := s.db.GetContext(ctx, &value, `SELECT value FROM settings WHERE key = ?`, key); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return "", ErrNotFound
		}
		return "", fmt.Errorf("query setting: %w", err)
	}
	return value, nil
}

// SetSetting upserts key to value.
func (s *Store) SetSetting(ctx context.Context, key, value string) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO settings (key, value) VALUES (?, ?)
		 ON CONFLICT(key) DO UPDATE SET value = excluded.value`, key, value)
	if err != nil {
		return fmt.Errorf("set setting: %w", err)
	}
	return nil
}

// ---------------------------------------------------------------------------
// Token usage
// ---------------------------------------------------------------------------

// UsageDay formats a timestamp as the UTC calendar day used for budgeting.
func UsageDay(t time.Time) string {
	return t.UTC().Format("2006-01-02")
}

// AddTokenUsage accumulates tokens for an identity on a given day.
func (s *Store) AddTokenUsage(ctx context.Context, identity, day string, tokens int) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO token_usage (identity, day, tokens) VALUES (?, ?, ?)
		 ON CONFLICT(identity, day) DO UPDATE SET tokens = tokens + excluded.tokens`,
		identity, day, tokens)
	if err != nil {
		return fmt.Errorf("add token usage: %w", err)
	}
	return nil
}

// TokenUsage returns the tokens an identity has consumed on a given day.
// Unknown identities report zero.
func (s *Store) TokenUsage(ctx context.Context, identity, day string) (int, error) {
	var tokens int
	err := s.db.GetContext(ctx, &tokens,
		`SELECT tokens FROM token_usage WHERE identity = ? AND day = ?`, identity, day)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("query token usage: %w", err)
	}
	return tokens, nil
}
