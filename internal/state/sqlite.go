package state

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite"
)

var errNotOpen = errors.New("database not opened")

// ErrNotFound is returned for unknown record ids.
var ErrNotFound = errors.New("record not found")

// SQLiteStore implements Store using SQLite.
type SQLiteStore struct {
	db   *sql.DB
	path string
}

var _ Store = (*SQLiteStore)(nil)

// NewSQLiteStore creates a new SQLite state store instance.
func NewSQLiteStore() *SQLiteStore {
	return &SQLiteStore{}
}

// Open opens the SQLite database at path, creating its directory.
// Use ":memory:" for an in-memory database.
func (s *SQLiteStore) Open(path string) error {
	dsn := "file::memory:?_pragma=foreign_keys(1)"
	if path != ":memory:" {
		if dir := filepath.Dir(path); dir != "." {
			if err := os.MkdirAll(dir, 0o755); err != nil {
				return fmt.Errorf("failed to create state directory: %w", err)
			}
		}
		dsn = fmt.Sprintf("file:%s?_pragma=foreign_keys(1)&_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)", path)
	}

	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return fmt.Errorf("failed to open sqlite database: %w", err)
	}
	// one connection keeps an in-memory database alive and serializes writers
	db.SetMaxOpenConns(1)

	if err := db.Ping(); err != nil {
		_ = db.Close()
		return fmt.Errorf("failed to ping sqlite database: %w", err)
	}
	s.db = db
	s.path = path
	return nil
}

// Close closes the SQLite database connection.
func (s *SQLiteStore) Close() error {
	if s.db != nil {
		return s.db.Close()
	}
	return nil
}

// OpenAndMigrate opens path and applies migrations.
func OpenAndMigrate(path string) (*SQLiteStore, error) {
	s := NewSQLiteStore()
	if err := s.Open(path); err != nil {
		return nil, err
	}
	if err := s.Migrate(); err != nil {
		_ = s.Close()
		return nil, err
	}
	return s, nil
}

// RecordCompile stores rec, assigning an id and timestamp when unset.
func (s *SQLiteStore) RecordCompile(ctx context.Context, rec *CompileRecord) error {
	if s.db == nil {
		return errNotOpen
	}
	if rec.ID == "" {
		rec.ID = generateID()
	}
	if rec.CreatedAt.IsZero() {
		rec.CreatedAt = time.Now().UTC()
	}
	if rec.Origin == "" {
		rec.Origin = OriginCLI
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO compiles (id, fingerprint, query_name, dialect, origin, sql, cte_count, duration_ms, status, error, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		rec.ID, rec.Fingerprint, rec.QueryName, rec.Dialect, rec.Origin, rec.SQL, rec.CTECount,
		rec.Duration.Milliseconds(), rec.Status, nullString(rec.Error), rec.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to record compile: %w", err)
	}
	return nil
}

const compileColumns = `id, fingerprint, query_name, dialect, origin, sql, cte_count, duration_ms, status, error, created_at`

type scanner interface {
	Scan(dest ...any) error
}

func scanCompile(row scanner) (*CompileRecord, error) {
	rec := &CompileRecord{}
	var durationMS int64
	var errMsg sql.NullString
	if err := row.Scan(&rec.ID, &rec.Fingerprint, &rec.QueryName, &rec.Dialect, &rec.Origin, &rec.SQL,
		&rec.CTECount, &durationMS, &rec.Status, &errMsg, &rec.CreatedAt); err != nil {
		return nil, err
	}
	rec.Duration = time.Duration(durationMS) * time.Millisecond
	rec.Error = errMsg.String
	return rec, nil
}

// GetCompile retrieves a compile by id. A unique id prefix is accepted.
func (s *SQLiteStore) GetCompile(ctx context.Context, id string) (*CompileRecord, error) {
	if s.db == nil {
		return nil, errNotOpen
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+compileColumns+` FROM compiles WHERE id = ? OR id LIKE ? ORDER BY id = ? DESC LIMIT 2`,
		id, id+"%", id)
	if err != nil {
		return nil, fmt.Errorf("failed to get compile: %w", err)
	}
	defer rows.Close()

	var found []*CompileRecord
	for rows.Next() {
		rec, err := scanCompile(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan compile: %w", err)
		}
		found = append(found, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	switch {
	case len(found) == 0:
		return nil, fmt.Errorf("compile %s: %w", id, ErrNotFound)
	case len(found) > 1 && found[0].ID != id:
		return nil, fmt.Errorf("compile id prefix %q is ambiguous", id)
	}
	return found[0], nil
}

// ListCompiles returns matching compiles, newest first.
func (s *SQLiteStore) ListCompiles(ctx context.Context, filter HistoryFilter) ([]*CompileRecord, error) {
	if s.db == nil {
		return nil, errNotOpen
	}
	query := `SELECT ` + compileColumns + ` FROM compiles WHERE 1=1`
	var args []any
	if filter.QueryName != "" {
		query += ` AND query_name = ?`
		args = append(args, filter.QueryName)
	}
	if filter.Fingerprint != "" {
		query += ` AND fingerprint = ?`
		args = append(args, filter.Fingerprint)
	}
	if filter.Status != "" {
		query += ` AND status = ?`
		args = append(args, filter.Status)
	}
	query += ` ORDER BY created_at DESC, id`
	if filter.Limit > 0 {
		query += fmt.Sprintf(` LIMIT %d`, filter.Limit)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list compiles: %w", err)
	}
	defer rows.Close()

	var out []*CompileRecord
	for rows.Next() {
		rec, err := scanCompile(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan compile: %w", err)
		}
		out = append(out, rec)
	}
	return out, rows.Err()
}

// Stats aggregates compiles per fingerprint, most recent first.
func (s *SQLiteStore) Stats(ctx context.Context) ([]*FingerprintStats, error) {
	if s.db == nil {
		return nil, errNotOpen
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT fingerprint, MAX(query_name), COUNT(*),
		       SUM(CASE WHEN status = 'failed' THEN 1 ELSE 0 END),
		       CAST(AVG(duration_ms) AS INTEGER), MAX(created_at)
		FROM compiles
		GROUP BY fingerprint
		ORDER BY MAX(created_at) DESC`)
	if err != nil {
		return nil, fmt.Errorf("failed to compute stats: %w", err)
	}
	defer rows.Close()

	var out []*FingerprintStats
	for rows.Next() {
		st := &FingerprintStats{}
		var avgMS int64
		var lastSeen string
		if err := rows.Scan(&st.Fingerprint, &st.QueryName, &st.Compiles, &st.Failures, &avgMS, &lastSeen); err != nil {
			return nil, fmt.Errorf("failed to scan stats: %w", err)
		}
		st.AvgDuration = time.Duration(avgMS) * time.Millisecond
		st.LastSeen = parseTime(lastSeen)
		out = append(out, st)
	}
	return out, rows.Err()
}

// Prune deletes all but the newest keep compiles and returns how many
// were removed.
func (s *SQLiteStore) Prune(ctx context.Context, keep int) (int64, error) {
	if s.db == nil {
		return 0, errNotOpen
	}
	if keep < 0 {
		return 0, fmt.Errorf("keep must not be negative, got %d", keep)
	}
	res, err := s.db.ExecContext(ctx,
		`DELETE FROM compiles WHERE id NOT IN (SELECT id FROM compiles ORDER BY created_at DESC, id LIMIT ?)`, keep)
	if err != nil {
		return 0, fmt.Errorf("failed to prune history: %w", err)
	}
	return res.RowsAffected()
}

// RecordExecution stores rec, assigning an id and timestamp when unset.
func (s *SQLiteStore) RecordExecution(ctx context.Context, rec *ExecutionRecord) error {
	if s.db == nil {
		return errNotOpen
	}
	if rec.ID == "" {
		rec.ID = generateID()
	}
	if rec.CreatedAt.IsZero() {
		rec.CreatedAt = time.Now().UTC()
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO executions (id, compile_id, target, row_count, duration_ms, status, error, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		rec.ID, rec.CompileID, rec.Target, rec.RowCount, rec.Duration.Milliseconds(), rec.Status,
		nullString(rec.Error), rec.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to record execution: %w", err)
	}
	return nil
}

// ListExecutions returns the executions of a compile, newest first.
func (s *SQLiteStore) ListExecutions(ctx context.Context, compileID string) ([]*ExecutionRecord, error) {
	if s.db == nil {
		return nil, errNotOpen
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, compile_id, target, row_count, duration_ms, status, error, created_at
		 FROM executions WHERE compile_id = ? ORDER BY created_at DESC, id`, compileID)
	if err != nil {
		return nil, fmt.Errorf("failed to list executions: %w", err)
	}
	defer rows.Close()

	var out []*ExecutionRecord
	for rows.Next() {
		rec := &ExecutionRecord{}
		var durationMS int64
		var errMsg sql.NullString
		if err := rows.Scan(&rec.ID, &rec.CompileID, &rec.Target, &rec.RowCount, &durationMS, &rec.Status, &errMsg, &rec.CreatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan execution: %w", err)
		}
		rec.Duration = time.Duration(durationMS) * time.Millisecond
		rec.Error = errMsg.String
		out = append(out, rec)
	}
	return out, rows.Err()
}

func nullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}

// parseTime reads timestamps returned by aggregates, which the driver
// hands back as text.
func parseTime(s string) time.Time {
	for _, layout := range []string{"2006-01-02 15:04:05.999999999 -0700 MST", "2006-01-02 15:04:05.999999999-07:00", time.RFC3339Nano, "2006-01-02 15:04:05"} {
		if t, err := time.Parse(layout, s); err == nil {
			return t
		}
	}
	return time.Time{}
}
