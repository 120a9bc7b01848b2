package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/ashureev/coldcall/internal/domain"
	"github.com/ashureev/coldcall/internal/shared"
	_ "modernc.org/sqlite"
)

// SQLiteStore implements Repository using SQLite.
type SQLiteStore struct {
	db    *sql.DB
	retry shared.RetryPolicy
}

// NewSQLite creates a new SQLite-backed repository.
func NewSQLite(dbPath string) (*SQLiteStore, error) {
	if err := os.MkdirAll(filepath.Dir(dbPath), 0755); err != nil {
		return nil, fmt.Errorf("create database directory: %w", err)
	}

	// Open database with WAL mode for better concurrency.
	dsn := dbPath + "?_pragma=journal_mode(WAL)&_pragma=synchronous(NORMAL)&_pragma=busy_timeout(5000)&_pragma=foreign_keys(1)"
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	db.SetMaxOpenConns(8)
	db.SetMaxIdleConns(4)
	db.SetConnMaxLifetime(5 * time.Minute)

	if err := db.Ping(); err != nil {
		return nil, fmt.Errorf("ping database: %w", err)
	}

	store := &SQLiteStore{db: db, retry: shared.DefaultRetryPolicy}
	if err := store.initSchema(); err != nil {
		return nil, fmt.Errorf("initialize schema: %w", err)
	}

	return store, nil
}

func (s *SQLiteStore) initSchema() error {
	query := `
	CREATE TABLE IF NOT EXISTS calls (
		call_id TEXT PRIMARY KEY,
		caller_id TEXT NOT NULL,
		session_id TEXT NOT NULL,
		status TEXT NOT NULL,
		stage TEXT NOT NULL,
		turn_count INTEGER NOT NULL DEFAULT 0,
		max_turns INTEGER NOT NULL,
		reason TEXT,
		next_action TEXT,
		final_text TEXT,
		generator TEXT NOT NULL DEFAULT '',
		started_at INTEGER NOT NULL,
		ended_at INTEGER,
		updated_at INTEGER NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_calls_started ON calls(started_at);
	CREATE INDEX IF NOT EXISTS idx_calls_status ON calls(status, updated_at);

	CREATE TABLE IF NOT EXISTS call_turns (
		call_id TEXT NOT NULL REFERENCES calls(call_id) ON DELETE CASCADE,
		seq INTEGER NOT NULL,
		user_text TEXT NOT NULL,
		assistant_text TEXT NOT NULL DEFAULT '',
		created_at INTEGER NOT NULL,
		PRIMARY KEY (call_id, seq)
	);
	`
	if _, err := s.db.Exec(query); err != nil {
		return fmt.Errorf("create schema: %w", err)
	}
	return nil
}

// Ping verifies database connectivity.
func (s *SQLiteStore) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// Close closes the database connection.
func (s *SQLiteStore) Close() error {
	if err := s.db.Close(); err != nil {
		return fmt.Errorf("close database: %w", err)
	}
	return nil
}

// SaveCall creates or updates a call record.
func (s *SQLiteStore) SaveCall(ctx context.Context, call *domain.CallRecord) error {
	query := `
	INSERT INTO calls (
		call_id, caller_id, session_id, status, stage, turn_count, max_turns,
		reason, next_action, final_text, generator, started_at, ended_at, updated_at
	) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	ON CONFLICT(call_id) DO UPDATE SET
		status = excluded.status,
		stage = excluded.stage,
		turn_count = excluded.turn_count,
		reason = COALESCE(excluded.reason, calls.reason),
		next_action = COALESCE(excluded.next_action, calls.next_action),
		final_text = COALESCE(excluded.final_text, calls.final_text),
		ended_at = COALESCE(excluded.ended_at, calls.ended_at),
		updated_at = excluded.updated_at`

	var endedAt interface{}
	if call.EndedAt != nil {
		endedAt = call.EndedAt.Unix()
	}
	if call.UpdatedAt.IsZero() {
		call.UpdatedAt = time.Now()
	}

	return shared.RetryOnConflict(ctx, s.retry, "save call", func(ctx context.Context) error {
		_, err := s.db.ExecContext(ctx, query,
			call.ID, call.CallerID, call.SessionID, string(call.Status), call.Stage,
			call.TurnCount, call.MaxTurns,
			nullIfEmpty(call.Reason), nullIfEmpty(call.NextAction), nullIfEmpty(call.FinalText),
			call.Generator, call.StartedAt.Unix(), endedAt, call.UpdatedAt.Unix(),
		)
		return err
	})
}

// AppendTurn stores one turn. Re-appending the same seq updates the reply text.
func (s *SQLiteStore) AppendTurn(ctx context.Context, turn *domain.TurnRecord) error {
	query := `
	INSERT INTO call_turns (call_id, seq, user_text, assistant_text, created_at)
	VALUES (?, ?, ?, ?, ?)
	ON CONFLICT(call_id, seq) DO UPDATE SET assistant_text = excluded.assistant_text`

	if turn.CreatedAt.IsZero() {
		turn.CreatedAt = time.Now()
	}
	return shared.RetryOnConflict(ctx, s.retry, "append turn", func(ctx context.Context) error {
		_, err := s.db.ExecContext(ctx, query,
			turn.CallID, turn.Seq, turn.UserText, turn.AssistantText, turn.CreatedAt.Unix(),
		)
		return err
	})
}

const callColumns = `call_id, caller_id, session_id, status, stage, turn_count, max_turns,
	reason, next_action, final_text, generator, started_at, ended_at, updated_at`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanCall(row rowScanner) (*domain.CallRecord, error) {
	var call domain.CallRecord
	var status string
	var reason, nextAction, finalText sql.NullString
	var endedAt sql.NullInt64
	var startedAt, updatedAt int64

	if err := row.Scan(
		&call.ID, &call.CallerID, &call.SessionID, &status, &call.Stage,
		&call.TurnCount, &call.MaxTurns,
		&reason, &nextAction, &finalText, &call.Generator,
		&startedAt, &endedAt, &updatedAt,
	); err != nil {
		return nil, err
	}

	call.Status = domain.CallStatus(status)
	call.Reason = reason.String
	call.NextAction = nextAction.String
	call.FinalText = finalText.String
	call.StartedAt = time.Unix(startedAt, 0)
	call.UpdatedAt = time.Unix(updatedAt, 0)
	if endedAt.Valid {
		ts := time.Unix(endedAt.Int64, 0)
		call.EndedAt = &ts
	}
	return &call, nil
}

// GetCall retrieves a call by ID.
func (s *SQLiteStore) GetCall(ctx context.Context, callID string) (*domain.CallRecord, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+callColumns+` FROM calls WHERE call_id = ?`, callID)
	call, err := scanCall(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("scan call row: %w", err)
	}
	return call, nil
}

// ListCalls returns the most recently started calls, newest first.
func (s *SQLiteStore) ListCalls(ctx context.Context, limit int) ([]*domain.CallRecord, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+callColumns+` FROM calls ORDER BY started_at DESC, call_id DESC LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("query calls: %w", err)
	}
	defer func() {
		if closeErr := rows.Close(); closeErr != nil {
			slog.Warn("failed to close calls rows", "error", closeErr)
		}
	}()

	var calls []*domain.CallRecord
	for rows.Next() {
		call, err := scanCall(rows)
		if err != nil {
			return nil, fmt.Errorf("scan call row: %w", err)
		}
		calls = append(calls, call)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate calls: %w", err)
	}
	return calls, nil
}

// ListTurns returns the turns of a call in order.
func (s *SQLiteStore) ListTurns(ctx context.Context, callID string) ([]*domain.TurnRecord, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT call_id, seq, user_text, assistant_text, created_at
		FROM call_turns WHERE call_id = ? ORDER BY seq`, callID)
	if err != nil {
		return nil, fmt.Errorf("query turns: %w", err)
	}
	defer func() {
		if closeErr := rows.Close(); closeErr != nil {
			slog.Warn("failed to close turns rows", "error", closeErr)
		}
	}()

	var turns []*domain.TurnRecord
	for rows.Next() {
		var turn domain.TurnRecord
		var createdAt int64
		if err := rows.Scan(&turn.CallID, &turn.Seq, &turn.UserText, &turn.AssistantText, &createdAt); err != nil {
			return nil, fmt.Errorf("scan turn row: %w", err)
		}
		turn.CreatedAt = time.Unix(createdAt, 0)
		turns = append(turns, &turn)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate turns: %w", err)
	}
	return turns, nil
}

// AbandonInProgressCalls marks calls left in progress as abandoned.
func (s *SQLiteStore) AbandonInProgressCalls(ctx context.Context, now time.Time) (int64, error) {
	res, err := s.db.ExecContext(ctx,
		`UPDATE calls SET status = ?, ended_at = ?, updated_at = ? WHERE status = ?`,
		string(domain.CallAbandoned), now.Unix(), now.Unix(), string(domain.CallInProgress))
	if err != nil {
		return 0, fmt.Errorf("abandon in-progress calls: %w", err)
	}
	return res.RowsAffected()
}

// CleanupExpiredCalls removes finished calls older than the retention window.
func (s *SQLiteStore) CleanupExpiredCalls(ctx context.Context, retention time.Duration) (int64, error) {
	threshold := time.Now().Add(-retention).Unix()
	res, err := s.db.ExecContext(ctx,
		`DELETE FROM calls WHERE status != ? AND updated_at < ?`,
		string(domain.CallInProgress), threshold)
	if err != nil {
		return 0, fmt.Errorf("cleanup expired calls: %w", err)
	}
	return res.RowsAffected()
}

func nullIfEmpty(s string) interface{} {
	if s == "" {
		return nil
	}
	return s
}
