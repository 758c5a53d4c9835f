// Package session manages independent coordinator instances, one per
// learner viewing a video.
package session

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/Muscled-clients-repo/unpuzzle-mvp-sub002/internal/agent"
	"github.com/Muscled-clients-repo/unpuzzle-mvp-sub002/internal/domain"
	"github.com/Muscled-clients-repo/unpuzzle-mvp-sub002/internal/message"
	"github.com/Muscled-clients-repo/unpuzzle-mvp-sub002/internal/metrics"
	"github.com/Muscled-clients-repo/unpuzzle-mvp-sub002/internal/store"
	"github.com/Muscled-clients-repo/unpuzzle-mvp-sub002/internal/video"
	"github.com/google/uuid"
	gocache "github.com/patrickmn/go-cache"
)

var (
	// ErrNotFound is returned for unknown or expired sessions.
	ErrNotFound = errors.New("session not found")
	// ErrClosed is returned by Create after the registry has been closed.
	ErrClosed = errors.New("session registry closed")
)

// Persistence is the subset of store.Repository sessions rely on.
type Persistence interface {
	SaveReflection(ctx context.Context, rec *domain.ReflectionRecord) error
	SaveQuizResult(ctx context.Context, result *domain.QuizResult) error
	UpsertSessionSnapshot(ctx context.Context, snap *domain.SessionSnapshot) error
	LatestSessionSnapshot(ctx context.Context, userID, videoID string) (*domain.SessionSnapshot, error)
}

const persistTimeout = 5 * time.Second

// Config controls how sessions are built and how long they live.
type Config struct {
	TTL     time.Duration
	Agent   agent.Config
	Video   video.Config
	Restore bool
}

// Options configures a Registry.
type Options struct {
	Config    Config
	Store     Persistence
	Questions agent.QuestionSource
	Metrics   metrics.Recorder
	Logger    *slog.Logger
	// OnClose runs after a session is torn down, whether destroyed or evicted.
	OnClose CloseCallback
}

// CloseCallback is called with the id of every torn down session.
type CloseCallback func(sessionID string)

// Registry owns every live session. Sessions not touched within the TTL are
// evicted; eviction and Destroy share one teardown path.
type Registry struct {
	cfg       Config
	store     Persistence
	questions agent.QuestionSource
	metrics   metrics.Recorder
	log       *slog.Logger
	cache     *gocache.Cache
	onClose   CloseCallback

	mu     sync.Mutex
	closed bool
}

// NewRegistry creates a registry. A nil store keeps everything in memory.
func NewRegistry(opts Options) *Registry {
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	rec := opts.Metrics
	if rec == nil {
		rec = metrics.Nop()
	}
	ttl := opts.Config.TTL
	if ttl <= 0 {
		ttl = time.Hour
	}
	opts.Config.TTL = ttl

	cleanup := ttl / 2
	if cleanup > time.Minute {
		cleanup = time.Minute
	}

	r := &Registry{
		cfg:       opts.Config,
		store:     opts.Store,
		questions: opts.Questions,
		metrics:   rec,
		log:       logger,
		cache:     gocache.New(ttl, cleanup),
		onClose:   opts.OnClose,
	}
	r.cache.OnEvicted(func(id string, v any) {
		if s, ok := v.(*Session); ok {
			r.teardown(s)
		}
	})
	return r
}

// Create starts a new session for a learner watching videoID.
func (r *Registry) Create(ctx context.Context, userID, videoID string) (*Session, error) {
	r.mu.Lock()
	closed := r.closed
	r.mu.Unlock()
	if closed {
		return nil, ErrClosed
	}

	id := uuid.NewString()
	info := agent.SessionInfo{UserID: userID, SessionID: id, VideoID: videoID}
	logger := r.log.With("session_id", id, "user_id", userID, "video_id", videoID)

	flag := video.NewPlaybackFlag()
	ctrl := video.NewController(flag, r.cfg.Video, logger)

	opts := agent.Options{
		Config:     r.cfg.Agent,
		Controller: ctrl,
		Messages:   message.NewManager(),
		Questions:  r.questions,
		Session:    info,
		Metrics:    r.metrics,
		Logger:     r.log.With("user_id", userID, "video_id", videoID),
	}
	if r.store != nil {
		opts.Sink = storeSink{store: r.store}
		if r.cfg.Restore {
			opts.Initial = r.restore(ctx, userID, videoID)
		}
	}

	s := newSession(id, userID, videoID, flag, agent.NewMachine(opts))
	r.cache.SetDefault(id, s)
	r.metrics.SessionOpened()
	logger.Info("Session created", "restored", opts.Initial != nil)
	return s, nil
}

// restore rebuilds the permanent timeline of the learner's last session on
// the same video. Failures fall back to a cold start.
func (r *Registry) restore(ctx context.Context, userID, videoID string) *domain.SystemContext {
	snap, err := r.store.LatestSessionSnapshot(ctx, userID, videoID)
	if errors.Is(err, store.ErrNotFound) {
		return nil
	}
	if err != nil {
		r.log.Warn("Failed to load previous session snapshot", "error", err, "user_id", userID)
		return nil
	}

	var prev domain.SystemContext
	if err := json.Unmarshal([]byte(snap.ContextJSON), &prev); err != nil {
		r.log.Warn("Discarding unreadable session snapshot", "error", err, "session_id", snap.SessionID)
		return nil
	}

	kept := message.PruneForResume(prev.Messages)
	if len(kept) == 0 {
		return nil
	}
	c := domain.NewSystemContext()
	c.Messages = kept
	c.VideoState.CurrentTime = prev.VideoState.CurrentTime
	c.VideoState.Duration = prev.VideoState.Duration
	return &c
}

// Get returns a live session and extends its lifetime.
func (r *Registry) Get(id string) (*Session, error) {
	v, ok := r.cache.Get(id)
	if !ok {
		return nil, ErrNotFound
	}
	s := v.(*Session)
	if s.Closed() {
		return nil, ErrNotFound
	}
	r.cache.SetDefault(id, s)
	if s.Closed() {
		r.cache.Delete(id)
		return nil, ErrNotFound
	}
	return s, nil
}

// Touch extends the lifetime of a session without returning it.
func (r *Registry) Touch(id string) {
	_, _ = r.Get(id)
}

// Destroy tears a session down and persists its final snapshot.
func (r *Registry) Destroy(_ context.Context, id string) error {
	if _, ok := r.cache.Get(id); !ok {
		return ErrNotFound
	}
	r.cache.Delete(id)
	return nil
}

// Len returns the number of live sessions.
func (r *Registry) Len() int {
	return r.cache.ItemCount()
}

// Close destroys every live session. Further Create calls fail.
func (r *Registry) Close() {
	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		return
	}
	r.closed = true
	r.mu.Unlock()

	for id := range r.cache.Items() {
		r.cache.Delete(id)
	}
	r.log.Info("Session registry closed")
}

func (r *Registry) teardown(s *Session) {
	if !s.close() {
		return
	}
	r.metrics.SessionClosed()
	if r.onClose != nil {
		r.onClose(s.ID)
	}

	if r.store == nil {
		r.log.Info("Session destroyed", "session_id", s.ID)
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), persistTimeout)
	defer cancel()
	if err := r.persist(ctx, s); err != nil {
		r.log.Error("Failed to persist session snapshot", "error", err, "session_id", s.ID)
		return
	}
	r.log.Info("Session destroyed", "session_id", s.ID)
}

func (r *Registry) persist(ctx context.Context, s *Session) error {
	snap, err := s.Snapshot()
	if err != nil {
		return err
	}
	if err := r.store.UpsertSessionSnapshot(ctx, snap); err != nil {
		return fmt.Errorf("save snapshot: %w", err)
	}
	return nil
}

// storeSink adapts the repository to the coordinator's persistence sink.
type storeSink struct {
	store Persistence
}

func (s storeSink) SaveReflection(ctx context.Context, rec domain.ReflectionRecord) error {
	return s.store.SaveReflection(ctx, &rec)
}

func (s storeSink) SaveQuizResult(ctx context.Context, result domain.QuizResult) error {
	return s.store.SaveQuizResult(ctx, &result)
}
