package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/Muscled-clients-repo/unpuzzle-mvp-sub002/internal/domain"
	"github.com/Muscled-clients-repo/unpuzzle-mvp-sub002/internal/shared"
	_ "modernc.org/sqlite"
)

// SQLiteStore implements Repository using SQLite.
type SQLiteStore struct {
	db         *sql.DB
	snapshotMu sync.Mutex // serializes snapshot writes to avoid SQLITE_BUSY
	retry      shared.RetryPolicy
}

// NewSQLite creates a new SQLite-backed repository.
func NewSQLite(dbPath string) (*SQLiteStore, error) {
	if err := os.MkdirAll(filepath.Dir(dbPath), 0755); err != nil {
		return nil, fmt.Errorf("create database directory: %w", err)
	}

	// Open database with WAL mode for better concurrency.
	dsn := dbPath + "?_journal=WAL&_sync=NORMAL&_busy_timeout=5000"
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	db.SetMaxOpenConns(25)
	db.SetMaxIdleConns(5)
	db.SetConnMaxLifetime(5 * time.Minute)

	if err := db.Ping(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}

	store := &SQLiteStore{db: db, retry: shared.DefaultRetryPolicy}
	if err := store.initSchema(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("initialize schema: %w", err)
	}

	return store, nil
}

func (s *SQLiteStore) initSchema() error {
	query := `
	PRAGMA busy_timeout = 5000;
	CREATE TABLE IF NOT EXISTS users (
		user_id TEXT PRIMARY KEY,
		username TEXT NOT NULL,
		last_seen_at INTEGER NOT NULL,
		created_at INTEGER NOT NULL,
		updated_at INTEGER NOT NULL
	);

	CREATE TABLE IF NOT EXISTS reflections (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		user_id TEXT NOT NULL,
		session_id TEXT NOT NULL,
		video_id TEXT NOT NULL,
		type TEXT NOT NULL,
		video_timestamp REAL NOT NULL,
		payload_json TEXT NOT NULL,
		created_at INTEGER NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_reflections_user_video ON reflections(user_id, video_id);

	CREATE TABLE IF NOT EXISTS quiz_results (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		user_id TEXT NOT NULL,
		session_id TEXT NOT NULL,
		video_id TEXT NOT NULL,
		video_timestamp REAL NOT NULL,
		score INTEGER NOT NULL,
		total INTEGER NOT NULL,
		answers_json TEXT NOT NULL,
		completed_at INTEGER NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_quiz_results_user ON quiz_results(user_id);

	CREATE TABLE IF NOT EXISTS session_snapshots (
		session_id TEXT PRIMARY KEY,
		user_id TEXT NOT NULL,
		video_id TEXT NOT NULL,
		context_json TEXT NOT NULL,
		created_at INTEGER NOT NULL,
		updated_at INTEGER NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_session_snapshots_updated ON session_snapshots(updated_at);
	CREATE INDEX IF NOT EXISTS idx_session_snapshots_user_video ON session_snapshots(user_id, video_id);
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

// GetUser retrieves a user by their user ID.
func (s *SQLiteStore) GetUser(ctx context.Context, userID string) (*domain.User, error) {
	query := `
		SELECT user_id, username, last_seen_at, created_at, updated_at
		FROM users WHERE user_id = ?`

	row := s.db.QueryRowContext(ctx, query, userID)

	var user domain.User
	var lastSeen, createdAt, updatedAt int64

	err := row.Scan(&user.UserID, &user.Username, &lastSeen, &createdAt, &updatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("scan user row: %w", err)
	}

	user.LastSeenAt = time.Unix(lastSeen, 0)
	user.CreatedAt = time.Unix(createdAt, 0)
	user.UpdatedAt = time.Unix(updatedAt, 0)

	return &user, nil
}

// UpsertUser creates or updates a user record.
func (s *SQLiteStore) UpsertUser(ctx context.Context, user *domain.User) error {
	query := `
	INSERT INTO users (user_id, username, last_seen_at, created_at, updated_at)
	VALUES (?, ?, ?, ?, ?)
	ON CONFLICT(user_id) DO UPDATE SET
		username = excluded.username,
		last_seen_at = excluded.last_seen_at,
		updated_at = excluded.updated_at`

	return shared.RetryOnConflict(ctx, "upsert user", s.retry, func() error {
		_, err := s.db.ExecContext(ctx, query,
			user.UserID, user.Username, user.LastSeenAt.Unix(),
			user.CreatedAt.Unix(), user.UpdatedAt.Unix(),
		)
		if err != nil {
			return fmt.Errorf("upsert user: %w", err)
		}
		return nil
	})
}

// UpdateLastSeen updates the last_seen_at timestamp for a user.
func (s *SQLiteStore) UpdateLastSeen(ctx context.Context, userID string, lastSeen time.Time) error {
	query := `UPDATE users SET last_seen_at = ?, updated_at = ? WHERE user_id = ?`
	result, err := s.db.ExecContext(ctx, query, lastSeen.Unix(), time.Now().Unix(), userID)
	if err != nil {
		return fmt.Errorf("update last_seen: %w", err)
	}

	rows, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("get rows affected: %w", err)
	}
	if rows == 0 {
		slog.Warn("UpdateLastSeen affected 0 rows", "user_id", userID)
	}

	return nil
}

// SaveReflection stores a submitted reflection.
func (s *SQLiteStore) SaveReflection(ctx context.Context, rec *domain.ReflectionRecord) error {
	payload, err := json.Marshal(rec.Payload)
	if err != nil {
		return fmt.Errorf("encode reflection payload: %w", err)
	}
	if rec.CreatedAt.IsZero() {
		rec.CreatedAt = time.Now()
	}

	query := `
		INSERT INTO reflections (
			user_id, session_id, video_id, type, video_timestamp, payload_json, created_at
		) VALUES (?, ?, ?, ?, ?, ?, ?)`

	return shared.RetryOnConflict(ctx, "save reflection", s.retry, func() error {
		res, err := s.db.ExecContext(ctx, query,
			rec.UserID, rec.SessionID, rec.VideoID, string(rec.Type),
			rec.VideoTimestamp, string(payload), rec.CreatedAt.Unix(),
		)
		if err != nil {
			return fmt.Errorf("insert reflection: %w", err)
		}
		id, err := res.LastInsertId()
		if err != nil {
			return fmt.Errorf("reflection id: %w", err)
		}
		rec.ID = id
		return nil
	})
}

// ListReflections returns reflections matching filter, newest first.
func (s *SQLiteStore) ListReflections(ctx context.Context, filter ReflectionFilter) ([]domain.ReflectionRecord, error) {
	var (
		where []string
		args  []any
	)
	if filter.UserID != "" {
		where = append(where, "user_id = ?")
		args = append(args, filter.UserID)
	}
	if filter.VideoID != "" {
		where = append(where, "video_id = ?")
		args = append(args, filter.VideoID)
	}

	query := `
		SELECT id, user_id, session_id, video_id, type, video_timestamp, payload_json, created_at
		FROM reflections`
	if len(where) > 0 {
		query += " WHERE " + strings.Join(where, " AND ")
	}
	query += " ORDER BY created_at DESC, id DESC"
	if filter.Limit > 0 {
		query += " LIMIT ?"
		args = append(args, filter.Limit)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query reflections: %w", err)
	}
	defer func() {
		if closeErr := rows.Close(); closeErr != nil {
			slog.Warn("failed to close reflection rows", "error", closeErr)
		}
	}()

	var out []domain.ReflectionRecord
	for rows.Next() {
		var rec domain.ReflectionRecord
		var kind, payload string
		var createdAt int64

		if err := rows.Scan(
			&rec.ID, &rec.UserID, &rec.SessionID, &rec.VideoID,
			&kind, &rec.VideoTimestamp, &payload, &createdAt,
		); err != nil {
			return nil, fmt.Errorf("scan reflection row: %w", err)
		}
		if err := json.Unmarshal([]byte(payload), &rec.Payload); err != nil {
			return nil, fmt.Errorf("decode reflection %d payload: %w", rec.ID, err)
		}
		rec.Type = domain.ReflectionKind(kind)
		rec.CreatedAt = time.Unix(createdAt, 0)
		out = append(out, rec)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate reflections: %w", err)
	}

	return out, nil
}

// SaveQuizResult stores a finished quiz.
func (s *SQLiteStore) SaveQuizResult(ctx context.Context, result *domain.QuizResult) error {
	answers, err := json.Marshal(result.Answers)
	if err != nil {
		return fmt.Errorf("encode quiz answers: %w", err)
	}
	if result.CompletedAt.IsZero() {
		result.CompletedAt = time.Now()
	}

	query := `
		INSERT INTO quiz_results (
			user_id, session_id, video_id, video_timestamp, score, total, answers_json, completed_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?)`

	return shared.RetryOnConflict(ctx, "save quiz result", s.retry, func() error {
		res, err := s.db.ExecContext(ctx, query,
			result.UserID, result.SessionID, result.VideoID, result.VideoTimestamp,
			result.Score, result.Total, string(answers), result.CompletedAt.Unix(),
		)
		if err != nil {
			return fmt.Errorf("insert quiz result: %w", err)
		}
		id, err := res.LastInsertId()
		if err != nil {
			return fmt.Errorf("quiz result id: %w", err)
		}
		result.ID = id
		return nil
	})
}

// ListQuizResults returns the quiz results of a user, newest first.
func (s *SQLiteStore) ListQuizResults(ctx context.Context, userID string, limit int) ([]domain.QuizResult, error) {
	query := `
		SELECT id, user_id, session_id, video_id, video_timestamp, score, total, answers_json, completed_at
		FROM quiz_results WHERE user_id = ?
		ORDER BY completed_at DESC, id DESC`
	args := []any{userID}
	if limit > 0 {
		query += " LIMIT ?"
		args = append(args, limit)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query quiz results: %w", err)
	}
	defer func() {
		if closeErr := rows.Close(); closeErr != nil {
			slog.Warn("failed to close quiz result rows", "error", closeErr)
		}
	}()

	var out []domain.QuizResult
	for rows.Next() {
		var r domain.QuizResult
		var answers string
		var completedAt int64

		if err := rows.Scan(
			&r.ID, &r.UserID, &r.SessionID, &r.VideoID, &r.VideoTimestamp,
			&r.Score, &r.Total, &answers, &completedAt,
		); err != nil {
			return nil, fmt.Errorf("scan quiz result row: %w", err)
		}
		if err := json.Unmarshal([]byte(answers), &r.Answers); err != nil {
			return nil, fmt.Errorf("decode quiz result %d answers: %w", r.ID, err)
		}
		r.CompletedAt = time.Unix(completedAt, 0)
		out = append(out, r)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate quiz results: %w", err)
	}

	return out, nil
}

// UpsertSessionSnapshot creates or updates the snapshot of a session.
func (s *SQLiteStore) UpsertSessionSnapshot(ctx context.Context, snap *domain.SessionSnapshot) error {
	s.snapshotMu.Lock()
	defer s.snapshotMu.Unlock()

	now := time.Now()
	if snap.CreatedAt.IsZero() {
		snap.CreatedAt = now
	}
	snap.UpdatedAt = now

	query := `
		INSERT INTO session_snapshots (
			session_id, user_id, video_id, context_json, created_at, updated_at
		) VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT(session_id) DO UPDATE SET
			context_json = excluded.context_json,
			updated_at = excluded.updated_at`

	return shared.RetryOnConflict(ctx, "upsert session snapshot", s.retry, func() error {
		_, err := s.db.ExecContext(ctx, query,
			snap.SessionID, snap.UserID, snap.VideoID, snap.ContextJSON,
			snap.CreatedAt.Unix(), snap.UpdatedAt.Unix(),
		)
		if err != nil {
			return fmt.Errorf("upsert session snapshot: %w", err)
		}
		return nil
	})
}

const snapshotColumns = `session_id, user_id, video_id, context_json, created_at, updated_at`

func scanSnapshot(row *sql.Row) (*domain.SessionSnapshot, error) {
	var snap domain.SessionSnapshot
	var createdAt, updatedAt int64

	err := row.Scan(
		&snap.SessionID, &snap.UserID, &snap.VideoID,
		&snap.ContextJSON, &createdAt, &updatedAt,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("scan session snapshot: %w", err)
	}

	snap.CreatedAt = time.Unix(createdAt, 0)
	snap.UpdatedAt = time.Unix(updatedAt, 0)
	return &snap, nil
}

// GetSessionSnapshot retrieves the snapshot of a session.
func (s *SQLiteStore) GetSessionSnapshot(ctx context.Context, sessionID string) (*domain.SessionSnapshot, error) {
	query := `SELECT ` + snapshotColumns + ` FROM session_snapshots WHERE session_id = ?`
	return scanSnapshot(s.db.QueryRowContext(ctx, query, sessionID))
}

// LatestSessionSnapshot retrieves the newest snapshot for a user and video.
func (s *SQLiteStore) LatestSessionSnapshot(ctx context.Context, userID, videoID string) (*domain.SessionSnapshot, error) {
	query := `SELECT ` + snapshotColumns + ` FROM session_snapshots
		WHERE user_id = ? AND video_id = ?
		ORDER BY updated_at DESC, rowid DESC LIMIT 1`
	return scanSnapshot(s.db.QueryRowContext(ctx, query, userID, videoID))
}

// DeleteSessionSnapshot removes a session snapshot.
// Retries with exponential backoff on SQLITE_BUSY.
func (s *SQLiteStore) DeleteSessionSnapshot(ctx context.Context, sessionID string) error {
	return shared.RetryOnConflict(ctx, "delete session snapshot "+sessionID, s.retry, func() error {
		s.snapshotMu.Lock()
		defer s.snapshotMu.Unlock()

		if _, err := s.db.ExecContext(ctx, `DELETE FROM session_snapshots WHERE session_id = ?`, sessionID); err != nil {
			return fmt.Errorf("delete session snapshot: %w", err)
		}
		return nil
	})
}

// CleanupExpiredSnapshots removes snapshots older than ttl.
func (s *SQLiteStore) CleanupExpiredSnapshots(ctx context.Context, ttl time.Duration) (int64, error) {
	threshold := time.Now().Add(-ttl).Unix()
	query := `DELETE FROM session_snapshots WHERE updated_at < ?`
	result, err := s.db.ExecContext(ctx, query, threshold)
	if err != nil {
		return 0, fmt.Errorf("cleanup expired snapshots: %w", err)
	}
	return result.RowsAffected()
}
