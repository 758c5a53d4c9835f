package api

import (
	"log/slog"
	"net/http"
	"strconv"

	"github.com/Muscled-clients-repo/unpuzzle-mvp-sub002/internal/domain"
	"github.com/Muscled-clients-repo/unpuzzle-mvp-sub002/internal/identity"
	"github.com/Muscled-clients-repo/unpuzzle-mvp-sub002/internal/store"
)

const (
	defaultListLimit = 50
	maxListLimit     = 500
)

func listLimit(r *http.Request) int {
	n, err := strconv.Atoi(r.URL.Query().Get("limit"))
	if err != nil || n <= 0 {
		return defaultListLimit
	}
	return min(n, maxListLimit)
}

// ListReflections handles GET /api/reflections?video_id=&limit=.
func (h *Handler) ListReflections(w http.ResponseWriter, r *http.Request) {
	userID := identity.UserIDFromContext(r.Context())
	if userID == "" {
		Error(w, http.StatusUnauthorized, "unauthorized")
		return
	}

	records, err := h.history.ListReflections(r.Context(), store.ReflectionFilter{
		UserID:  userID,
		VideoID: r.URL.Query().Get("video_id"),
		Limit:   listLimit(r),
	})
	if err != nil {
		slog.Error("Failed to list reflections", "error", err, "user_id", userID)
		Error(w, http.StatusInternalServerError, "failed to list reflections")
		return
	}
	if records == nil {
		records = []domain.ReflectionRecord{}
	}
	JSON(w, http.StatusOK, map[string]any{"reflections": records})
}

// ListQuizResults handles GET /api/quiz-results?limit=.
func (h *Handler) ListQuizResults(w http.ResponseWriter, r *http.Request) {
	userID := identity.UserIDFromContext(r.Context())
	if userID == "" {
		Error(w, http.StatusUnauthorized, "unauthorized")
		return
	}

	results, err := h.history.ListQuizResults(r.Context(), userID, listLimit(r))
	if err != nil {
		slog.Error("Failed to list quiz results", "error", err, "user_id", userID)
		Error(w, http.StatusInternalServerError, "failed to list quiz results")
		return
	}
	if results == nil {
		results = []domain.QuizResult{}
	}
	JSON(w, http.StatusOK, map[string]any{"quiz_results": results})
}
