package api

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/Muscled-clients-repo/unpuzzle-mvp-sub002/internal/agent"
	"github.com/Muscled-clients-repo/unpuzzle-mvp-sub002/internal/domain"
	"github.com/Muscled-clients-repo/unpuzzle-mvp-sub002/internal/identity"
	"github.com/Muscled-clients-repo/unpuzzle-mvp-sub002/internal/queue"
	"github.com/Muscled-clients-repo/unpuzzle-mvp-sub002/internal/session"
	"github.com/go-chi/chi/v5"
)

type createSessionRequest struct {
	VideoID string `json:"video_id"`
}

type sessionResponse struct {
	SessionID string               `json:"session_id"`
	UserID    string               `json:"user_id"`
	VideoID   string               `json:"video_id"`
	CreatedAt time.Time            `json:"created_at"`
	Context   domain.SystemContext `json:"context"`
}

func newSessionResponse(s *session.Session) sessionResponse {
	return sessionResponse{
		SessionID: s.ID,
		UserID:    s.UserID,
		VideoID:   s.VideoID,
		CreatedAt: s.CreatedAt,
		Context:   s.Machine.Context(),
	}
}

// CreateSession handles POST /api/sessions.
func (h *Handler) CreateSession(w http.ResponseWriter, r *http.Request) {
	userID := identity.UserIDFromContext(r.Context())
	if userID == "" {
		Error(w, http.StatusUnauthorized, "unauthorized")
		return
	}

	body, err := h.readBody(w, r)
	if err != nil {
		Error(w, http.StatusRequestEntityTooLarge, err.Error())
		return
	}
	var req createSessionRequest
	if err := json.Unmarshal(body, &req); err != nil {
		Error(w, http.StatusBadRequest, "invalid request body")
		return
	}
	req.VideoID = strings.TrimSpace(req.VideoID)
	if req.VideoID == "" {
		Error(w, http.StatusBadRequest, "video_id is required")
		return
	}

	s, err := h.sessions.Create(r.Context(), userID, req.VideoID)
	if err != nil {
		slog.Error("Failed to create session", "error", err, "user_id", userID)
		Error(w, http.StatusServiceUnavailable, "failed to create session")
		return
	}

	JSON(w, http.StatusCreated, newSessionResponse(s))
}

// session resolves the {sessionID} URL parameter to a session owned by the
// caller, writing a 404 otherwise.
func (h *Handler) session(w http.ResponseWriter, r *http.Request) (*session.Session, bool) {
	userID := identity.UserIDFromContext(r.Context())
	s, err := h.sessions.Get(chi.URLParam(r, "sessionID"))
	if err != nil || s.UserID != userID {
		Error(w, http.StatusNotFound, "session not found")
		return nil, false
	}
	return s, true
}

// GetSession handles GET /api/sessions/{sessionID}.
func (h *Handler) GetSession(w http.ResponseWriter, r *http.Request) {
	s, ok := h.session(w, r)
	if !ok {
		return
	}
	JSON(w, http.StatusOK, newSessionResponse(s))
}

// GetContext handles GET /api/sessions/{sessionID}/context.
func (h *Handler) GetContext(w http.ResponseWriter, r *http.Request) {
	s, ok := h.session(w, r)
	if !ok {
		return
	}
	JSON(w, http.StatusOK, s.Machine.Context())
}

// PostAction handles POST /api/sessions/{sessionID}/actions. Actions execute
// asynchronously; their effect is observed on the context stream.
func (h *Handler) PostAction(w http.ResponseWriter, r *http.Request) {
	s, ok := h.session(w, r)
	if !ok {
		return
	}

	// Rate-limit by user ID only so clients cannot bypass throttling by
	// opening more sessions.
	if h.limiter != nil && !h.limiter.Allow(s.UserID) {
		Error(w, http.StatusTooManyRequests, "rate limit exceeded")
		return
	}

	body, err := h.readBody(w, r)
	if err != nil {
		Error(w, http.StatusRequestEntityTooLarge, err.Error())
		return
	}

	action, err := agent.DecodeAction(body)
	if err != nil {
		Error(w, http.StatusBadRequest, err.Error())
		return
	}

	if err := s.Machine.Dispatch(action); err != nil {
		switch {
		case errors.Is(err, queue.ErrQueueClosed):
			Error(w, http.StatusGone, "session closed")
		case errors.Is(err, agent.ErrInvalidAction), errors.Is(err, agent.ErrUnknownAction):
			Error(w, http.StatusBadRequest, err.Error())
		default:
			slog.Error("Failed to dispatch action", "error", err, "session_id", s.ID)
			Error(w, http.StatusInternalServerError, "failed to dispatch action")
		}
		return
	}

	JSON(w, http.StatusAccepted, map[string]string{"status": "accepted", "type": string(action.Type())})
}

// DeleteSession handles DELETE /api/sessions/{sessionID}.
func (h *Handler) DeleteSession(w http.ResponseWriter, r *http.Request) {
	s, ok := h.session(w, r)
	if !ok {
		return
	}
	if err := h.sessions.Destroy(r.Context(), s.ID); err != nil && !errors.Is(err, session.ErrNotFound) {
		slog.Error("Failed to destroy session", "error", err, "session_id", s.ID)
		Error(w, http.StatusInternalServerError, "failed to destroy session")
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
