package api

import (
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/Muscled-clients-repo/unpuzzle-mvp-sub002/internal/domain"
)

// latestContext holds the newest published context. A slow SSE client skips
// intermediate states instead of stalling the coordinator.
type latestContext struct {
	mu     sync.Mutex
	value  domain.SystemContext
	notify chan struct{}
}

func newLatestContext() *latestContext {
	return &latestContext{notify: make(chan struct{}, 1)}
}

func (l *latestContext) publish(c domain.SystemContext) {
	l.mu.Lock()
	l.value = c
	l.mu.Unlock()
	select {
	case l.notify <- struct{}{}:
	default:
	}
}

func (l *latestContext) load() domain.SystemContext {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.value
}

// StreamContext handles GET /api/sessions/{sessionID}/stream. Every context
// change is sent as a "context" event carrying the full SystemContext.
func (h *Handler) StreamContext(w http.ResponseWriter, r *http.Request) {
	s, ok := h.session(w, r)
	if !ok {
		return
	}

	lastEventID := int64(0)
	idHeader := r.Header.Get("Last-Event-ID")
	if idHeader == "" {
		idHeader = r.URL.Query().Get("lastEventId")
	}
	if idHeader != "" {
		if parsed, err := strconv.ParseInt(idHeader, 10, 64); err == nil && parsed > 0 {
			lastEventID = parsed
		}
	}

	flusher, ok := w.(http.Flusher)
	if !ok {
		Error(w, http.StatusInternalServerError, "streaming not supported")
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)

	if _, err := fmt.Fprintf(w, "retry: %d\n\n", h.sse.RetryDelay.Milliseconds()); err != nil {
		slog.Warn("failed to write SSE retry header", "error", err, "session_id", s.ID)
		return
	}

	latest := newLatestContext()
	unsubscribe := s.Machine.Subscribe(latest.publish)
	defer unsubscribe()

	// Reconnecting clients resume numbering after the last id they saw; the
	// current context replaces anything they missed.
	eventID := lastEventID
	send := func(c domain.SystemContext) bool {
		data, err := json.Marshal(c)
		if err != nil {
			slog.Error("failed to encode context", "error", err, "session_id", s.ID)
			return false
		}
		eventID++
		if err := writeSSEWithID(w, eventID, "context", string(data)); err != nil {
			slog.Warn("failed to write SSE context event", "error", err, "session_id", s.ID)
			return false
		}
		flusher.Flush()
		return true
	}

	if !send(s.Machine.Context()) {
		return
	}
	slog.Info("Context stream connected", "session_id", s.ID, "user_id", s.UserID, "reconnect", lastEventID > 0)

	keepalive := time.NewTicker(h.sse.KeepaliveInterval)
	defer keepalive.Stop()

	for {
		select {
		case <-r.Context().Done():
			slog.Info("Context stream disconnected", "session_id", s.ID)
			return
		case <-s.Done():
			_ = writeSSE(w, "closed", `{"status":"closed"}`)
			flusher.Flush()
			return
		case <-latest.notify:
			if !send(latest.load()) {
				return
			}
		case <-keepalive.C:
			if err := writeSSE(w, "ping", `{"status":"alive"}`); err != nil {
				slog.Warn("failed to write SSE keepalive ping", "error", err, "session_id", s.ID)
				return
			}
			flusher.Flush()
		}
	}
}

func writeSSE(w io.Writer, event, data string) error {
	_, err := fmt.Fprintf(w, "event: %s\ndata: %s\n\n", event, data)
	return err
}

func writeSSEWithID(w io.Writer, id int64, event, data string) error {
	_, err := fmt.Fprintf(w, "id: %d\nevent: %s\ndata: %s\n\n", id, event, data)
	return err
}
