package store

import (
	"context"
	"database/sql"
	"fmt"
	"strings"

	_ "modernc.org/sqlite" // SQLite driver

	"github.com/l0p7/uriguard/internal/policy"
)

const sqliteSchema = `
CREATE TABLE IF NOT EXISTS circuit_breaker_policy (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	uri TEXT NOT NULL,
	timeout_millis INTEGER NOT NULL DEFAULT 1000,
	max_concurrent_requests INTEGER NOT NULL DEFAULT 10,
	error_threshold_percent INTEGER NOT NULL DEFAULT 50,
	force_closed INTEGER NOT NULL DEFAULT 0,
	fallback_status INTEGER NOT NULL DEFAULT 0,
	fallback_body TEXT NOT NULL DEFAULT ''
);

CREATE TABLE IF NOT EXISTS blacklist_rule (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	uri TEXT NOT NULL,
	name TEXT NOT NULL DEFAULT '',
	dimensions TEXT NOT NULL DEFAULT '',
	reason TEXT NOT NULL DEFAULT ''
);
`

// SQLite reads policy tables from a local database through the pure-Go
// modernc driver. Rows are returned in id order.
type SQLite struct {
	db *sql.DB
}

// OpenSQLite opens (creating if needed) the database at path. Call Migrate
// before the first load on a fresh database.
func OpenSQLite(path string) (*SQLite, error) {
	if strings.TrimSpace(path) == "" {
		return nil, fmt.Errorf("store: sqlite path required")
	}
	dsn := fmt.Sprintf("file:%s?_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)", path)
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("store: open sqlite %s: %w", path, err)
	}
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	return &SQLite{db: db}, nil
}

// Migrate creates the policy tables if they do not exist.
func (s *SQLite) Migrate(ctx context.Context) error {
	if _, err := s.db.ExecContext(ctx, sqliteSchema); err != nil {
		return fmt.Errorf("store: sqlite migrate: %w", err)
	}
	return nil
}

func (s *SQLite) LoadCircuitBreakers(ctx context.Context) ([]policy.Record[policy.CircuitBreaker], error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT uri, timeout_millis, max_concurrent_requests, error_threshold_percent,
		       force_closed, fallback_status, fallback_body
		FROM circuit_breaker_policy ORDER BY id`)
	if err != nil {
		return nil, fmt.Errorf("store: sqlite query circuit breakers: %w", err)
	}
	defer rows.Close()

	var out []policy.Record[policy.CircuitBreaker]
	for rows.Next() {
		var (
			rec         policy.Record[policy.CircuitBreaker]
			forceClosed int
		)
		if err := rows.Scan(&rec.Pattern,
			&rec.Payload.TimeoutMillis,
			&rec.Payload.MaxConcurrentRequests,
			&rec.Payload.ErrorThresholdPercent,
			&forceClosed,
			&rec.Payload.FallbackStatus,
			&rec.Payload.FallbackBody,
		); err != nil {
			return nil, fmt.Errorf("store: sqlite scan circuit breaker: %w", err)
		}
		rec.Payload.ForceClosed = forceClosed != 0
		out = append(out, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("store: sqlite iterate circuit breakers: %w", err)
	}
	return out, nil
}

func (s *SQLite) LoadBlacklistRules(ctx context.Context) ([]policy.Record[policy.BlacklistRule], error) {
	rows, err := s.db.QueryContext(ctx, `SELECT uri, name, dimensions, reason FROM blacklist_rule ORDER BY id`)
	if err != nil {
		return nil, fmt.Errorf("store: sqlite query blacklist: %w", err)
	}
	defer rows.Close()

	var out []policy.Record[policy.BlacklistRule]
	for rows.Next() {
		var (
			rec        policy.Record[policy.BlacklistRule]
			dimensions string
		)
		if err := rows.Scan(&rec.Pattern, &rec.Payload.Name, &dimensions, &rec.Payload.Reason); err != nil {
			return nil, fmt.Errorf("store: sqlite scan blacklist rule: %w", err)
		}
		rec.Payload.Dimensions = splitDimensions(dimensions)
		out = append(out, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("store: sqlite iterate blacklist: %w", err)
	}
	return out, nil
}

// InsertCircuitBreaker appends a policy row.
func (s *SQLite) InsertCircuitBreaker(ctx context.Context, rec policy.Record[policy.CircuitBreaker]) error {
	forceClosed := 0
	if rec.Payload.ForceClosed {
		forceClosed = 1
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO circuit_breaker_policy
			(uri, timeout_millis, max_concurrent_requests, error_threshold_percent, force_closed, fallback_status, fallback_body)
		VALUES (?, ?, ?, ?, ?, ?, ?)`,
		rec.Pattern,
		rec.Payload.TimeoutMillis,
		rec.Payload.MaxConcurrentRequests,
		rec.Payload.ErrorThresholdPercent,
		forceClosed,
		rec.Payload.FallbackStatus,
		rec.Payload.FallbackBody,
	)
	if err != nil {
		return fmt.Errorf("store: sqlite insert circuit breaker: %w", err)
	}
	return nil
}

// InsertBlacklistRule appends a blacklist row.
func (s *SQLite) InsertBlacklistRule(ctx context.Context, rec policy.Record[policy.BlacklistRule]) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO blacklist_rule (uri, name, dimensions, reason) VALUES (?, ?, ?, ?)`,
		rec.Pattern, rec.Payload.Name, strings.Join(rec.Payload.Dimensions, ","), rec.Payload.Reason,
	)
	if err != nil {
		return fmt.Errorf("store: sqlite insert blacklist rule: %w", err)
	}
	return nil
}

func (s *SQLite) Close() error {
	return s.db.Close()
}

func splitDimensions(raw string) []string {
	if strings.TrimSpace(raw) == "" {
		return nil
	}
	parts := strings.Split(raw, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}
