package player

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/Muscled-clients-repo/unpuzzle-mvp-sub002/internal/identity"
	"github.com/Muscled-clients-repo/unpuzzle-mvp-sub002/internal/session"
	"github.com/coder/websocket"
)

// LastSeenUpdater records learner activity.
type LastSeenUpdater interface {
	UpdateLastSeen(ctx context.Context, userID string, lastSeen time.Time) error
}

// Handler upgrades player connections and attaches them to their session.
type Handler struct {
	sessions      *session.Registry
	conns         *Connections
	users         LastSeenUpdater
	allowedOrigin string
	isDev         bool
	ackTimeout    time.Duration
}

// NewHandler creates a player handler.
func NewHandler(sessions *session.Registry, conns *Connections, allowedOrigin string, isDev bool) *Handler {
	if conns == nil {
		conns = NewConnections()
	}
	return &Handler{
		sessions:      sessions,
		conns:         conns,
		allowedOrigin: allowedOrigin,
		isDev:         isDev,
		ackTimeout:    DefaultAckTimeout,
	}
}

// SetLastSeen enables last-seen tracking on player activity.
func (h *Handler) SetLastSeen(u LastSeenUpdater) {
	h.users = u
}

// SetAckTimeout overrides how long commands wait for the browser.
func (h *Handler) SetAckTimeout(d time.Duration) {
	if d > 0 {
		h.ackTimeout = d
	}
}

// Connections returns the set of attached players.
func (h *Handler) Connections() *Connections {
	return h.conns
}

// ServeHTTP implements http.Handler for WebSocket upgrade.
func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	userID := identity.UserIDFromContext(r.Context())
	sessionID := identity.SessionIDFromContext(r.Context())
	if sessionID == "" {
		sessionID = r.URL.Query().Get("session_id")
	}
	logger := slog.With("user_id", userID, "session_id", sessionID)
	logger.Info("Player connection request", "ip", identity.RemoteIP(r))

	s, err := h.sessions.Get(sessionID)
	if errors.Is(err, session.ErrNotFound) || (err == nil && s.UserID != userID) {
		http.Error(w, "session not found", http.StatusNotFound)
		return
	}
	if err != nil {
		http.Error(w, "session unavailable", http.StatusInternalServerError)
		return
	}

	if !h.checkOrigin(r) {
		http.Error(w, "origin not allowed", http.StatusForbidden)
		return
	}

	ws, err := websocket.Accept(w, r, &websocket.AcceptOptions{
		OriginPatterns: []string{"*"},
	})
	if err != nil {
		logger.Error("Failed to accept WebSocket", "error", err)
		return
	}

	bridge := NewBridge(ws, h.ackTimeout, logger)
	h.conns.Register(s.ID, bridge)
	s.Machine.SetVideoRef(bridge)
	s.Machine.SetElementLocator(bridge.Locator())
	unsubscribe := s.Machine.Subscribe(bridge.Publish)
	bridge.Publish(s.Machine.Context())

	defer func() {
		unsubscribe()
		if h.conns.Unregister(s.ID, bridge) {
			s.Machine.SetVideoRef(nil)
			s.Machine.SetElementLocator(nil)
		}
	}()

	if err := bridge.Serve(r.Context(), s.Machine.Dispatch, func() { h.touch(s) }); err != nil {
		logger.Warn("Player connection error", "error", err)
	}
	logger.Info("Player session ended")
}

func (h *Handler) touch(s *session.Session) {
	h.sessions.Touch(s.ID)
	if h.users == nil {
		return
	}
	// Update last seen asynchronously with timeout.
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := h.users.UpdateLastSeen(ctx, s.UserID, time.Now()); err != nil {
			slog.Warn("Failed to update last seen", "error", err, "user_id", s.UserID)
		}
	}()
}

func (h *Handler) checkOrigin(r *http.Request) bool {
	if h.isDev {
		return true
	}
	origin := r.Header.Get("Origin")
	if origin == "" || h.allowedOrigin == "*" {
		return true
	}
	if origin == h.allowedOrigin {
		return true
	}
	slog.Warn("WebSocket origin rejected", "origin", origin, "allowed", h.allowedOrigin)
	return false
}
