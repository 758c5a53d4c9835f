package session

import (
	"encoding/json"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/Muscled-clients-repo/unpuzzle-mvp-sub002/internal/agent"
	"github.com/Muscled-clients-repo/unpuzzle-mvp-sub002/internal/domain"
	"github.com/Muscled-clients-repo/unpuzzle-mvp-sub002/internal/video"
)

// Session is one learner watching one video.
type Session struct {
	ID        string
	UserID    string
	VideoID   string
	CreatedAt time.Time

	Flag    *video.PlaybackFlag
	Machine *agent.Machine

	closed atomic.Bool
	done   chan struct{}
}

func newSession(id, userID, videoID string, flag *video.PlaybackFlag, m *agent.Machine) *Session {
	return &Session{
		ID:        id,
		UserID:    userID,
		VideoID:   videoID,
		CreatedAt: time.Now().UTC(),
		Flag:      flag,
		Machine:   m,
		done:      make(chan struct{}),
	}
}

// Done is closed when the session is torn down.
func (s *Session) Done() <-chan struct{} {
	return s.done
}

// Closed reports whether the session has been torn down.
func (s *Session) Closed() bool {
	return s.closed.Load()
}

// close stops the machine once. It reports whether this call did the work.
func (s *Session) close() bool {
	if !s.closed.CompareAndSwap(false, true) {
		return false
	}
	s.Machine.Close()
	close(s.done)
	return true
}

// Snapshot serializes the current context for persistence.
func (s *Session) Snapshot() (*domain.SessionSnapshot, error) {
	data, err := json.Marshal(s.Machine.Context())
	if err != nil {
		return nil, fmt.Errorf("encode session context: %w", err)
	}
	return &domain.SessionSnapshot{
		SessionID:   s.ID,
		UserID:      s.UserID,
		VideoID:     s.VideoID,
		ContextJSON: string(data),
		CreatedAt:   s.CreatedAt,
	}, nil
}
