// Package history records one row per catalog build so operators can see
// how the published manifest evolved. SQLite and PostgreSQL are supported.
package history

import (
	"context"
	"database/sql"
	"fmt"
	"strconv"
	"strings"
	"time"

	_ "github.com/lib/pq"
	_ "modernc.org/sqlite"

	"github.com/AbdurrudbA/snl-data-dictionaries/internal/metrics"
)

// Build is one recorded catalog build.
type Build struct {
	ID           int64     `json:"id"`
	GeneratedAt  time.Time `json:"generatedAt"`
	Categories   int       `json:"categories"`
	Files        int       `json:"files"`
	Skipped      int       `json:"skipped"`
	DurationMS   int64     `json:"durationMs"`
	ManifestHash string    `json:"manifestHash"`
}

type dialect struct {
	driver string
	idType string
}

var dialects = map[string]dialect{
	"sqlite":   {driver: "sqlite", idType: "INTEGER PRIMARY KEY AUTOINCREMENT"},
	"postgres": {driver: "postgres", idType: "BIGSERIAL PRIMARY KEY"},
}

// placeholder returns the n-th (1-based) bind parameter.
func (d dialect) placeholder(n int) string {
	if d.driver == "postgres" {
		return "$" + strconv.Itoa(n)
	}
	return "?"
}

func (d dialect) placeholders(n int) string {
	ph := make([]string, n)
	for i := range ph {
		ph[i] = d.placeholder(i + 1)
	}
	return strings.Join(ph, ", ")
}

// Store persists build records.
type Store struct {
	db      *sql.DB
	dialect dialect
}

// Open connects to the database and creates the builds table if needed.
// driver is "sqlite" or "postgres".
func Open(ctx context.Context, driver, dsn string) (*Store, error) {
	d, ok := dialects[driver]
	if !ok {
		return nil, fmt.Errorf("unknown history driver %q", driver)
	}

	db, err := sql.Open(d.driver, dsn)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	if d.driver == "sqlite" {
		// A :memory: database exists per connection.
		db.SetMaxOpenConns(1)
	} else {
		db.SetMaxOpenConns(10)
		db.SetMaxIdleConns(2)
		db.SetConnMaxLifetime(5 * time.Minute)
	}

	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}

	s := &Store{db: db, dialect: d}
	if err := s.migrate(ctx); err != nil {
		_ = db.Close()
		return nil, err
	}
	return s, nil
}

func (s *Store) migrate(ctx context.Context) error {
	start := time.Now()
	defer func() { metrics.RecordDBQuery("migrate", time.Since(start)) }()

	stmt := `CREATE TABLE IF NOT EXISTS builds (
		id ` + s.dialect.idType + `,
		generated_at BIGINT NOT NULL,
		categories INTEGER NOT NULL,
		files INTEGER NOT NULL,
		skipped INTEGER NOT NULL,
		duration_ms BIGINT NOT NULL,
		manifest_hash TEXT NOT NULL
	)`
	if _, err := s.db.ExecContext(ctx, stmt); err != nil {
		return fmt.Errorf("create builds table: %w", err)
	}
	return nil
}

// Close closes the database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

// Driver returns the configured driver name.
func (s *Store) Driver() string {
	return s.dialect.driver
}

// Record inserts b and returns its assigned ID.
func (s *Store) Record(ctx context.Context, b Build) (int64, error) {
	start := time.Now()
	defer func() { metrics.RecordDBQuery("record_build", time.Since(start)) }()

	query := `INSERT INTO builds (generated_at, categories, files, skipped, duration_ms, manifest_hash)
		VALUES (` + s.dialect.placeholders(6) + `)`
	args := []any{b.GeneratedAt.UTC().UnixMilli(), b.Categories, b.Files, b.Skipped, b.DurationMS, b.ManifestHash}

	if s.dialect.driver == "postgres" {
		var id int64
		if err := s.db.QueryRowContext(ctx, query+" RETURNING id", args...).Scan(&id); err != nil {
			return 0, fmt.Errorf("insert build: %w", err)
		}
		return id, nil
	}

	res, err := s.db.ExecContext(ctx, query, args...)
	if err != nil {
		return 0, fmt.Errorf("insert build: %w", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return 0, fmt.Errorf("insert build: %w", err)
	}
	return id, nil
}

// Recent returns up to limit builds, newest first.
func (s *Store) Recent(ctx context.Context, limit int) ([]Build, error) {
	start := time.Now()
	defer func() { metrics.RecordDBQuery("recent_builds", time.Since(start)) }()

	if limit <= 0 {
		limit = 20
	}

	rows, err := s.db.QueryContext(ctx,
		`SELECT id, generated_at, categories, files, skipped, duration_ms, manifest_hash
		 FROM builds ORDER BY generated_at DESC, id DESC LIMIT `+s.dialect.placeholder(1), limit)
	if err != nil {
		return nil, fmt.Errorf("query builds: %w", err)
	}
	defer rows.Close()

	builds := []Build{}
	for rows.Next() {
		var b Build
		var ms int64
		if err := rows.Scan(&b.ID, &ms, &b.Categories, &b.Files, &b.Skipped, &b.DurationMS, &b.ManifestHash); err != nil {
			return nil, fmt.Errorf("scan build: %w", err)
		}
		b.GeneratedAt = time.UnixMilli(ms).UTC()
		builds = append(builds, b)
	}
	return builds, rows.Err()
}

// Latest returns the most recent build, or sql.ErrNoRows when none exist.
func (s *Store) Latest(ctx context.Context) (Build, error) {
	builds, err := s.Recent(ctx, 1)
	if err != nil {
		return Build{}, err
	}
	if len(builds) == 0 {
		return Build{}, sql.ErrNoRows
	}
	return builds[0], nil
}
