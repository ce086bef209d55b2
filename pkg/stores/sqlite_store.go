package stores

import (
	"context"
	"database/sql"
	"embed"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/golang-migrate/migrate/v4"
	"github.com/golang-migrate/migrate/v4/database/sqlite"
	"github.com/golang-migrate/migrate/v4/source/iofs"

	"github.com/openfroyo/tfdriver/pkg/engine"

	// SQLite driver
	_ "modernc.org/sqlite"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

// ErrNotFound is returned when a record does not exist.
var ErrNotFound = errors.New("not found")

// DefaultListLimit caps ListExecutions when the filter sets no limit.
const DefaultListLimit = 50

// SQLiteStore implements the Store interface using SQLite
type SQLiteStore struct {
	db   *sql.DB
	path string
	cfg  Config
	now  func() time.Time
}

var _ Store = (*SQLiteStore)(nil)

// Config holds SQLite store configuration
type Config struct {
	Path            string
	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxLifetime time.Duration
}

// NewSQLiteStore creates a new SQLite store instance
func NewSQLiteStore(cfg Config) (*SQLiteStore, error) {
	if cfg.Path == "" {
		return nil, fmt.Errorf("database path is required")
	}

	// Set defaults
	if cfg.MaxOpenConns == 0 {
		cfg.MaxOpenConns = 4
	}
	if cfg.MaxIdleConns == 0 {
		cfg.MaxIdleConns = 2
	}
	if cfg.ConnMaxLifetime == 0 {
		cfg.ConnMaxLifetime = 5 * time.Minute
	}
	// Every connection to :memory: opens a separate database.
	if cfg.Path == ":memory:" {
		cfg.MaxOpenConns = 1
		cfg.MaxIdleConns = 1
		cfg.ConnMaxLifetime = 0
	}

	return &SQLiteStore{
		path: cfg.Path,
		cfg:  cfg,
		now:  time.Now,
	}, nil
}

// Init opens the database connection and enables WAL mode.
func (s *SQLiteStore) Init(ctx context.Context) error {
	dsn := s.path + "?_pragma=foreign_keys(1)&_pragma=busy_timeout(5000)&_pragma=synchronous(NORMAL)"
	if s.path != ":memory:" {
		dsn += "&_pragma=journal_mode(WAL)"
	}

	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return fmt.Errorf("failed to open database: %w", err)
	}

	db.SetMaxOpenConns(s.cfg.MaxOpenConns)
	db.SetMaxIdleConns(s.cfg.MaxIdleConns)
	db.SetConnMaxLifetime(s.cfg.ConnMaxLifetime)

	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return fmt.Errorf("failed to ping database: %w", err)
	}

	s.db = db
	return nil
}

// Open creates, initializes and migrates a store in one call.
func Open(ctx context.Context, path string) (*SQLiteStore, error) {
	store, err := NewSQLiteStore(Config{Path: path})
	if err != nil {
		return nil, err
	}
	if err := store.Init(ctx); err != nil {
		return nil, err
	}
	if err := store.Migrate(ctx); err != nil {
		_ = store.Close()
		return nil, err
	}
	return store, nil
}

// Close closes the database connection
func (s *SQLiteStore) Close() error {
	if s.db != nil {
		return s.db.Close()
	}
	return nil
}

// Migrate runs database migrations.
func (s *SQLiteStore) Migrate(_ context.Context) error {
	if s.db == nil {
		return fmt.Errorf("database not initialized")
	}

	sourceDriver, err := iofs.New(migrationsFS, "migrations")
	if err != nil {
		return fmt.Errorf("failed to create migration source: %w", err)
	}

	driver, err := sqlite.WithInstance(s.db, &sqlite.Config{})
	if err != nil {
		return fmt.Errorf("failed to create database driver: %w", err)
	}

	m, err := migrate.NewWithInstance("iofs", sourceDriver, "sqlite", driver)
	if err != nil {
		return fmt.Errorf("failed to create migration instance: %w", err)
	}

	if err := m.Up(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return fmt.Errorf("failed to run migrations: %w", err)
	}

	return nil
}

// RecordExecution stores a finished execution. It implements engine.Recorder.
func (s *SQLiteStore) RecordExecution(ctx context.Context, result *engine.ExecutionResult) error {
	if result == nil {
		return fmt.Errorf("execution result is nil")
	}
	return s.InsertExecution(ctx, FromResult(result))
}

// FromResult converts an execution result into a history record.
func FromResult(result *engine.ExecutionResult) *Execution {
	exec := &Execution{
		ID:         result.ID,
		Operation:  result.Operation.String(),
		WorkDir:    result.WorkingDir,
		Binary:     result.Binary,
		Args:       result.Args,
		Success:    result.Success,
		ExitCode:   result.ExitCode,
		ErrorClass: string(result.ErrorClass),
		Message:    result.Message,
		Attempts:   result.Attempts,
		HasChanges: result.HasChanges,
		StartedAt:  result.StartedAt,
		Duration:   result.Duration,
	}
	if result.Error != "" {
		msg := result.Error
		exec.Error = &msg
	}
	if result.Changes != nil {
		if data, err := json.Marshal(result.Changes); err == nil {
			changes := string(data)
			exec.Changes = &changes
		}
	}
	return exec
}

// InsertExecution creates a new execution record
func (s *SQLiteStore) InsertExecution(ctx context.Context, exec *Execution) error {
	if exec.ID == "" {
		return fmt.Errorf("execution id is required")
	}
	args, err := json.Marshal(exec.Args)
	if err != nil {
		return fmt.Errorf("failed to encode args: %w", err)
	}
	if exec.CreatedAt.IsZero() {
		exec.CreatedAt = s.now().UTC()
	}

	query := `
		INSERT INTO executions (
			id, operation, work_dir, binary_path, args, success, exit_code,
			error_class, error, message, attempts, has_changes, changes,
			started_at, duration_ms, created_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`

	_, err = s.db.ExecContext(ctx, query,
		exec.ID,
		exec.Operation,
		exec.WorkDir,
		exec.Binary,
		string(args),
		exec.Success,
		exec.ExitCode,
		exec.ErrorClass,
		exec.Error,
		exec.Message,
		exec.Attempts,
		exec.HasChanges,
		exec.Changes,
		exec.StartedAt.UnixNano(),
		exec.Duration.Milliseconds(),
		exec.CreatedAt.UnixNano(),
	)
	if err != nil {
		return fmt.Errorf("failed to record execution: %w", err)
	}

	return nil
}

const executionColumns = `
	id, operation, work_dir, binary_path, args, success, exit_code,
	error_class, error, message, attempts, has_changes, changes,
	started_at, duration_ms, created_at`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanExecution(row rowScanner) (*Execution, error) {
	exec := &Execution{}
	var (
		args                 string
		startedAt, createdAt int64
		durationMs           int64
	)
	err := row.Scan(
		&exec.ID,
		&exec.Operation,
		&exec.WorkDir,
		&exec.Binary,
		&args,
		&exec.Success,
		&exec.ExitCode,
		&exec.ErrorClass,
		&exec.Error,
		&exec.Message,
		&exec.Attempts,
		&exec.HasChanges,
		&exec.Changes,
		&startedAt,
		&durationMs,
		&createdAt,
	)
	if err != nil {
		return nil, err
	}

	if err := json.Unmarshal([]byte(args), &exec.Args); err != nil {
		return nil, fmt.Errorf("failed to decode args of %s: %w", exec.ID, err)
	}
	exec.StartedAt = time.Unix(0, startedAt).UTC()
	exec.CreatedAt = time.Unix(0, createdAt).UTC()
	exec.Duration = time.Duration(durationMs) * time.Millisecond
	return exec, nil
}

// GetExecution retrieves an execution by ID
func (s *SQLiteStore) GetExecution(ctx context.Context, id string) (*Execution, error) {
	query := `SELECT ` + executionColumns + ` FROM executions WHERE id = ?`

	exec, err := scanExecution(s.db.QueryRowContext(ctx, query, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("execution %w: %s", ErrNotFound, id)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get execution: %w", err)
	}

	return exec, nil
}

// ListExecutions lists executions, most recent first.
func (s *SQLiteStore) ListExecutions(ctx context.Context, filter ExecutionFilter) ([]*Execution, error) {
	var (
		where []string
		args  []any
	)
	if filter.Operation != "" {
		where = append(where, "operation = ?")
		args = append(args, filter.Operation)
	}
	if filter.WorkDir != "" {
		where = append(where, "work_dir = ?")
		args = append(args, filter.WorkDir)
	}
	if filter.FailedOnly {
		where = append(where, "success = 0")
	}
	if !filter.Since.IsZero() {
		where = append(where, "started_at >= ?")
		args = append(args, filter.Since.UnixNano())
	}

	limit := filter.Limit
	if limit <= 0 {
		limit = DefaultListLimit
	}

	query := `SELECT ` + executionColumns + ` FROM executions`
	if len(where) > 0 {
		query += ` WHERE ` + strings.Join(where, " AND ")
	}
	query += ` ORDER BY started_at DESC LIMIT ? OFFSET ?`
	args = append(args, limit, filter.Offset)

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list executions: %w", err)
	}
	defer rows.Close()

	executions := []*Execution{}
	for rows.Next() {
		exec, err := scanExecution(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan execution: %w", err)
		}
		executions = append(executions, exec)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating executions: %w", err)
	}

	return executions, nil
}

// PruneExecutions deletes executions started before the given time and
// returns how many were removed.
func (s *SQLiteStore) PruneExecutions(ctx context.Context, before time.Time) (int64, error) {
	result, err := s.db.ExecContext(ctx, `DELETE FROM executions WHERE started_at < ?`, before.UnixNano())
	if err != nil {
		return 0, fmt.Errorf("failed to prune executions: %w", err)
	}

	rows, err := result.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("failed to get rows affected: %w", err)
	}

	return rows, nil
}

// CreateAuditEntry creates a new audit entry
func (s *SQLiteStore) CreateAuditEntry(ctx context.Context, entry *AuditEntry) error {
	if entry.Timestamp.IsZero() {
		entry.Timestamp = s.now().UTC()
	}

	query := `
		INSERT INTO audit (action, actor, target_id, details, timestamp)
		VALUES (?, ?, ?, ?, ?)
	`

	result, err := s.db.ExecContext(ctx, query,
		entry.Action,
		entry.Actor,
		entry.TargetID,
		entry.Details,
		entry.Timestamp.UnixNano(),
	)
	if err != nil {
		return fmt.Errorf("failed to create audit entry: %w", err)
	}

	id, err := result.LastInsertId()
	if err != nil {
		return fmt.Errorf("failed to get last insert id: %w", err)
	}

	entry.ID = id
	return nil
}

// ListAuditEntries lists audit entries, newest first, optionally filtered by action.
func (s *SQLiteStore) ListAuditEntries(ctx context.Context, action *string, limit, offset int) ([]*AuditEntry, error) {
	query := `SELECT id, action, actor, target_id, details, timestamp FROM audit`
	args := []any{}
	if action != nil {
		query += ` WHERE action = ?`
		args = append(args, *action)
	}
	if limit <= 0 {
		limit = DefaultListLimit
	}
	query += ` ORDER BY timestamp DESC, id DESC LIMIT ? OFFSET ?`
	args = append(args, limit, offset)

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list audit entries: %w", err)
	}
	defer rows.Close()

	entries := []*AuditEntry{}
	for rows.Next() {
		entry := &AuditEntry{}
		var ts int64
		if err := rows.Scan(&entry.ID, &entry.Action, &entry.Actor, &entry.TargetID, &entry.Details, &ts); err != nil {
			return nil, fmt.Errorf("failed to scan audit entry: %w", err)
		}
		entry.Timestamp = time.Unix(0, ts).UTC()
		entries = append(entries, entry)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating audit entries: %w", err)
	}

	return entries, nil
}

// HealthCheck verifies the database connection
func (s *SQLiteStore) HealthCheck(ctx context.Context) error {
	if s.db == nil {
		return fmt.Errorf("database not initialized")
	}

	return s.db.PingContext(ctx)
}
