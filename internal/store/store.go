// Package store provides data persistence interfaces and implementations.
package store

import (
	"context"
	"errors"
	"time"

	"github.com/Muscled-clients-repo/unpuzzle-mvp-sub002/internal/domain"
)

// ErrNotFound is returned when a requested record does not exist.
var ErrNotFound = errors.New("store: not found")

// ReflectionFilter narrows ListReflections. Empty fields match everything.
type ReflectionFilter struct {
	UserID  string
	VideoID string
	Limit   int
}

// Repository defines the interface for persisting learners, their reflections
// and quiz results, and the last published context of each session.
type Repository interface {
	// GetUser retrieves a user by their user ID. Returns nil, nil if absent.
	GetUser(ctx context.Context, userID string) (*domain.User, error)

	// UpsertUser creates or updates a user record.
	UpsertUser(ctx context.Context, user *domain.User) error

	// UpdateLastSeen updates the last_seen_at timestamp for a user.
	UpdateLastSeen(ctx context.Context, userID string, lastSeen time.Time) error

	// SaveReflection stores a submitted reflection and sets its ID.
	SaveReflection(ctx context.Context, rec *domain.ReflectionRecord) error

	// ListReflections returns reflections newest first.
	ListReflections(ctx context.Context, filter ReflectionFilter) ([]domain.ReflectionRecord, error)

	// SaveQuizResult stores a finished quiz and sets its ID.
	SaveQuizResult(ctx context.Context, result *domain.QuizResult) error

	// ListQuizResults returns quiz results of a user newest first.
	ListQuizResults(ctx context.Context, userID string, limit int) ([]domain.QuizResult, error)

	// UpsertSessionSnapshot creates or updates the snapshot of a session.
	UpsertSessionSnapshot(ctx context.Context, snap *domain.SessionSnapshot) error

	// GetSessionSnapshot returns ErrNotFound if the session has no snapshot.
	GetSessionSnapshot(ctx context.Context, sessionID string) (*domain.SessionSnapshot, error)

	// LatestSessionSnapshot returns the most recently updated snapshot for a
	// user and video, or ErrNotFound.
	LatestSessionSnapshot(ctx context.Context, userID, videoID string) (*domain.SessionSnapshot, error)

	// DeleteSessionSnapshot removes a session snapshot.
	DeleteSessionSnapshot(ctx context.Context, sessionID string) error

	// CleanupExpiredSnapshots removes snapshots not updated within ttl.
	CleanupExpiredSnapshots(ctx context.Context, ttl time.Duration) (int64, error)

	// Ping verifies database connectivity and returns an error if the database is unreachable.
	Ping(ctx context.Context) error

	// Close closes the database connection.
	Close() error
}
