// Package state implements a local, non-authoritative SQLite cache of
// runtime bookkeeping: in-flight run markers, watch-registration
// persistence, and per-provider transient-retry streaks. FileVersion
// history itself lives in manifests on the StorageProvider — deleting this
// database loses none of it, only in-process convenience state.
package state

import (
	"context"
	"database/sql"
	"embed"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"time"

	"github.com/pressly/goose/v3"
	_ "modernc.org/sqlite" // pure-Go SQLite driver, registers as "sqlite"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

const walJournalSizeLimit = 67108864 // 64 MiB

// RunStatus is the lifecycle state of a single-flight run marker.
type RunStatus string

const (
	RunStatusRunning  RunStatus = "running"
	RunStatusComplete RunStatus = "complete"
	RunStatusFailed   RunStatus = "failed"
)

// WatchRegistration is a persisted record of a game's active filesystem
// watch, surviving facade restarts so watchGame stays idempotent.
type WatchRegistration struct {
	GameID       string
	RootPath     string
	RegisteredAt time.Time
}

// Store is the SQLite-backed runtime bookkeeping cache.
type Store struct {
	db     *sql.DB
	logger *slog.Logger
	now    func() time.Time

	runStmts   runStatements
	watchStmts watchStatements
	retryStmts retryStatements
}

type runStatements struct {
	upsertStart, finish, get *sql.Stmt
}

type watchStatements struct {
	upsert, delete, list *sql.Stmt
}

type retryStatements struct {
	incrementFailure, reset, get *sql.Stmt
}

// Open creates a Store backed by the SQLite database at dbPath, applying
// pragmas and pending migrations. Use ":memory:" for tests.
func Open(dbPath string, logger *slog.Logger) (*Store, error) {
	logger.Info("opening state database", "path", dbPath)

	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("state: open sqlite: %w", err)
	}

	if err := setPragmas(context.Background(), db); err != nil {
		db.Close()
		return nil, err
	}

	if err := runMigrations(context.Background(), db, logger); err != nil {
		db.Close()
		return nil, err
	}

	s := &Store{db: db, logger: logger, now: time.Now}

	if err := s.prepareStatements(context.Background()); err != nil {
		db.Close()
		return nil, fmt.Errorf("state: prepare statements: %w", err)
	}

	logger.Info("state database ready", "path", dbPath)

	return s, nil
}

func setPragmas(ctx context.Context, db *sql.DB) error {
	pragmas := []string{
		"PRAGMA journal_mode = WAL",
		"PRAGMA synchronous = FULL",
		"PRAGMA foreign_keys = ON",
		fmt.Sprintf("PRAGMA journal_size_limit = %d", walJournalSizeLimit),
	}

	for _, p := range pragmas {
		if _, err := db.ExecContext(ctx, p); err != nil {
			return fmt.Errorf("state: set pragma %q: %w", p, err)
		}
	}

	return nil
}

func runMigrations(ctx context.Context, db *sql.DB, logger *slog.Logger) error {
	subFS, err := fs.Sub(migrationsFS, "migrations")
	if err != nil {
		return fmt.Errorf("state: creating migration sub-filesystem: %w", err)
	}

	provider, err := goose.NewProvider(goose.DialectSQLite3, db, subFS)
	if err != nil {
		return fmt.Errorf("state: creating migration provider: %w", err)
	}

	results, err := provider.Up(ctx)
	if err != nil {
		return fmt.Errorf("state: running migrations: %w", err)
	}

	for _, r := range results {
		logger.Info("applied migration",
			slog.String("source", r.Source.Path),
			slog.Int64("duration_ms", r.Duration.Milliseconds()),
		)
	}

	return nil
}

func (s *Store) prepareStatements(ctx context.Context) error {
	var err error

	if s.runStmts.upsertStart, err = s.db.PrepareContext(ctx, sqlUpsertRunStart); err != nil {
		return fmt.Errorf("prepare upsertRunStart: %w", err)
	}

	if s.runStmts.finish, err = s.db.PrepareContext(ctx, sqlFinishRun); err != nil {
		return fmt.Errorf("prepare finishRun: %w", err)
	}

	if s.runStmts.get, err = s.db.PrepareContext(ctx, sqlGetRun); err != nil {
		return fmt.Errorf("prepare getRun: %w", err)
	}

	if s.watchStmts.upsert, err = s.db.PrepareContext(ctx, sqlUpsertWatch); err != nil {
		return fmt.Errorf("prepare upsertWatch: %w", err)
	}

	if s.watchStmts.delete, err = s.db.PrepareContext(ctx, sqlDeleteWatch); err != nil {
		return fmt.Errorf("prepare deleteWatch: %w", err)
	}

	if s.watchStmts.list, err = s.db.PrepareContext(ctx, sqlListWatches); err != nil {
		return fmt.Errorf("prepare listWatches: %w", err)
	}

	if s.retryStmts.incrementFailure, err = s.db.PrepareContext(ctx, sqlIncrementRetryStreak); err != nil {
		return fmt.Errorf("prepare incrementRetryStreak: %w", err)
	}

	if s.retryStmts.reset, err = s.db.PrepareContext(ctx, sqlResetRetryStreak); err != nil {
		return fmt.Errorf("prepare resetRetryStreak: %w", err)
	}

	if s.retryStmts.get, err = s.db.PrepareContext(ctx, sqlGetRetryStreak); err != nil {
		return fmt.Errorf("prepare getRetryStreak: %w", err)
	}

	return nil
}

const (
	sqlUpsertRunStart = `INSERT INTO run_markers (game_id, started_at, finished_at, status)
		VALUES (?, ?, NULL, ?)
		ON CONFLICT(game_id) DO UPDATE SET
			started_at = excluded.started_at,
			finished_at = NULL,
			status = excluded.status`

	sqlFinishRun = `UPDATE run_markers SET finished_at = ?, status = ? WHERE game_id = ?`

	sqlGetRun = `SELECT started_at, finished_at, status FROM run_markers WHERE game_id = ?`

	sqlUpsertWatch = `INSERT INTO watch_registrations (game_id, root_path, registered_at)
		VALUES (?, ?, ?)
		ON CONFLICT(game_id) DO UPDATE SET
			root_path = excluded.root_path,
			registered_at = excluded.registered_at`

	sqlDeleteWatch = `DELETE FROM watch_registrations WHERE game_id = ?`

	sqlListWatches = `SELECT game_id, root_path, registered_at FROM watch_registrations`

	sqlIncrementRetryStreak = `INSERT INTO transient_retry_streaks (provider_key, consecutive, last_failure_at)
		VALUES (?, 1, ?)
		ON CONFLICT(provider_key) DO UPDATE SET
			consecutive = consecutive + 1,
			last_failure_at = excluded.last_failure_at`

	sqlResetRetryStreak = `INSERT INTO transient_retry_streaks (provider_key, consecutive, last_failure_at)
		VALUES (?, 0, NULL)
		ON CONFLICT(provider_key) DO UPDATE SET consecutive = 0, last_failure_at = NULL`

	sqlGetRetryStreak = `SELECT consecutive FROM transient_retry_streaks WHERE provider_key = ?`
)

// StartRun records that a run for gameID has begun, overwriting any prior
// marker for the same game. A marker left in RunStatusRunning across a
// process restart indicates the previous run was interrupted.
func (s *Store) StartRun(ctx context.Context, gameID string) error {
	_, err := s.runStmts.upsertStart.ExecContext(ctx, gameID, s.now().UnixNano(), string(RunStatusRunning))
	if err != nil {
		return fmt.Errorf("state: start run %s: %w", gameID, err)
	}

	return nil
}

// FinishRun marks the run for gameID complete with the given terminal status.
func (s *Store) FinishRun(ctx context.Context, gameID string, status RunStatus) error {
	_, err := s.runStmts.finish.ExecContext(ctx, s.now().UnixNano(), string(status), gameID)
	if err != nil {
		return fmt.Errorf("state: finish run %s: %w", gameID, err)
	}

	return nil
}

// WasInterrupted reports whether gameID's last recorded run never reached a
// terminal status — i.e. the process exited (crashed) mid-run.
func (s *Store) WasInterrupted(ctx context.Context, gameID string) (bool, error) {
	var (
		startedAt  int64
		finishedAt sql.NullInt64
		status     string
	)

	err := s.runStmts.get.QueryRowContext(ctx, gameID).Scan(&startedAt, &finishedAt, &status)
	if errors.Is(err, sql.ErrNoRows) {
		return false, nil
	}

	if err != nil {
		return false, fmt.Errorf("state: get run %s: %w", gameID, err)
	}

	return status == string(RunStatusRunning) && !finishedAt.Valid, nil
}

// RegisterWatch persists that gameID has an active watch rooted at rootPath.
func (s *Store) RegisterWatch(ctx context.Context, gameID, rootPath string) error {
	_, err := s.watchStmts.upsert.ExecContext(ctx, gameID, rootPath, s.now().UnixNano())
	if err != nil {
		return fmt.Errorf("state: register watch %s: %w", gameID, err)
	}

	return nil
}

// UnregisterWatch removes gameID's persisted watch registration, if any.
func (s *Store) UnregisterWatch(ctx context.Context, gameID string) error {
	_, err := s.watchStmts.delete.ExecContext(ctx, gameID)
	if err != nil {
		return fmt.Errorf("state: unregister watch %s: %w", gameID, err)
	}

	return nil
}

// ListWatchRegistrations returns every persisted watch registration, used
// to re-establish watches after a facade restart.
func (s *Store) ListWatchRegistrations(ctx context.Context) ([]WatchRegistration, error) {
	rows, err := s.watchStmts.list.QueryContext(ctx)
	if err != nil {
		return nil, fmt.Errorf("state: list watch registrations: %w", err)
	}
	defer rows.Close()

	var regs []WatchRegistration

	for rows.Next() {
		var (
			gameID, rootPath string
			registeredAtNano int64
		)

		if err := rows.Scan(&gameID, &rootPath, &registeredAtNano); err != nil {
			return nil, fmt.Errorf("state: scan watch registration: %w", err)
		}

		regs = append(regs, WatchRegistration{
			GameID:       gameID,
			RootPath:     rootPath,
			RegisteredAt: time.Unix(0, registeredAtNano),
		})
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("state: iterate watch registrations: %w", err)
	}

	return regs, nil
}

// RecordTransientFailure increments providerKey's consecutive-transient-
// failure streak, used to widen backoff across process restarts.
func (s *Store) RecordTransientFailure(ctx context.Context, providerKey string) error {
	_, err := s.retryStmts.incrementFailure.ExecContext(ctx, providerKey, s.now().UnixNano())
	if err != nil {
		return fmt.Errorf("state: record transient failure %s: %w", providerKey, err)
	}

	return nil
}

// ResetTransientStreak clears providerKey's transient-failure streak after
// a successful call.
func (s *Store) ResetTransientStreak(ctx context.Context, providerKey string) error {
	_, err := s.retryStmts.reset.ExecContext(ctx, providerKey)
	if err != nil {
		return fmt.Errorf("state: reset transient streak %s: %w", providerKey, err)
	}

	return nil
}

// TransientStreak returns providerKey's current consecutive-failure count,
// or 0 if none has been recorded.
func (s *Store) TransientStreak(ctx context.Context, providerKey string) (int, error) {
	var streak int

	err := s.retryStmts.get.QueryRowContext(ctx, providerKey).Scan(&streak)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, nil
	}

	if err != nil {
		return 0, fmt.Errorf("state: get transient streak %s: %w", providerKey, err)
	}

	return streak, nil
}

// Close closes all prepared statements and the underlying database handle.
func (s *Store) Close() error {
	stmts := []*sql.Stmt{
		s.runStmts.upsertStart, s.runStmts.finish, s.runStmts.get,
		s.watchStmts.upsert, s.watchStmts.delete, s.watchStmts.list,
		s.retryStmts.incrementFailure, s.retryStmts.reset, s.retryStmts.get,
	}

	for _, stmt := range stmts {
		if stmt != nil {
			if err := stmt.Close(); err != nil {
				s.logger.Warn("error closing prepared statement", "error", err)
			}
		}
	}

	if err := s.db.Close(); err != nil {
		return fmt.Errorf("state: close database: %w", err)
	}

	return nil
}
