// Package identity resolves which learner a request belongs to and which
// viewing session it names. Learners are anonymous: a long-lived cookie ties
// a browser to a learner id, and a learner row is created on first sight.
package identity

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/Muscled-clients-repo/unpuzzle-mvp-sub002/internal/domain"
	"github.com/google/uuid"
)

const (
	// LearnerCookieName carries the learner id between visits.
	LearnerCookieName = "videoagent_learner"
	// SessionHeaderName names the viewing session a request targets.
	SessionHeaderName = "X-Video-Session-ID"

	learnerPrefix    = "learner_"
	learnerCookieAge = 90 * 24 * time.Hour
)

// UserStore is the part of the repository identity needs.
type UserStore interface {
	GetUser(ctx context.Context, userID string) (*domain.User, error)
	UpsertUser(ctx context.Context, user *domain.User) error
}

// Learner is the identity attached to a request.
type Learner struct {
	ID   string
	Name string
}

type ctxKey struct{ name string }

var (
	learnerKey = ctxKey{"learner"}
	sessionKey = ctxKey{"viewing-session"}
)

// WithUser attaches the learner userID to ctx. Tests and internal callers use
// it to bypass the cookie flow.
func WithUser(ctx context.Context, userID string) context.Context {
	return context.WithValue(ctx, learnerKey, Learner{ID: userID, Name: displayName(userID)})
}

// LearnerFromContext returns the learner resolved for the request.
func LearnerFromContext(ctx context.Context) (Learner, bool) {
	l, ok := ctx.Value(learnerKey).(Learner)
	return l, ok
}

// UserIDFromContext returns the learner id, or "" for unidentified requests.
func UserIDFromContext(ctx context.Context) string {
	l, _ := LearnerFromContext(ctx)
	return l.ID
}

// SessionIDFromContext returns the viewing session named by the request.
// Anything that is not a session id yields "".
func SessionIDFromContext(ctx context.Context) string {
	id, _ := ctx.Value(sessionKey).(string)
	return id
}

func newLearnerID() string {
	return learnerPrefix + strings.ReplaceAll(uuid.NewString(), "-", "")
}

func validLearnerID(id string) bool {
	raw, ok := strings.CutPrefix(id, learnerPrefix)
	if !ok || len(raw) != 32 {
		return false
	}
	_, err := uuid.Parse(raw)
	return err == nil
}

// normalizeSessionID canonicalizes a session id; sessions are UUIDs.
func normalizeSessionID(raw string) string {
	id, err := uuid.Parse(strings.TrimSpace(raw))
	if err != nil {
		return ""
	}
	return id.String()
}

// displayName is a short handle shown in logs and history views.
func displayName(userID string) string {
	raw := strings.TrimPrefix(userID, learnerPrefix)
	if len(raw) < 8 {
		return "learner"
	}
	return "learner-" + raw[:8]
}

type resolver struct {
	users  UserStore
	secure bool
}

func (rs resolver) learnerID(w http.ResponseWriter, r *http.Request) string {
	id := newLearnerID()
	if c, err := r.Cookie(LearnerCookieName); err == nil && validLearnerID(c.Value) {
		id = c.Value
	}
	// Reissued on every request so active learners never expire.
	http.SetCookie(w, &http.Cookie{
		Name:     LearnerCookieName,
		Value:    id,
		Path:     "/",
		MaxAge:   int(learnerCookieAge.Seconds()),
		HttpOnly: true,
		SameSite: http.SameSiteLaxMode,
		Secure:   rs.secure,
	})
	return id
}

func (rs resolver) register(ctx context.Context, l Learner) error {
	existing, err := rs.users.GetUser(ctx, l.ID)
	if err != nil {
		return fmt.Errorf("look up learner: %w", err)
	}
	if existing != nil {
		return nil
	}
	now := time.Now().UTC()
	if err := rs.users.UpsertUser(ctx, &domain.User{
		UserID:     l.ID,
		Username:   l.Name,
		LastSeenAt: now,
		CreatedAt:  now,
		UpdatedAt:  now,
	}); err != nil {
		return fmt.Errorf("register learner: %w", err)
	}
	return nil
}

func requestedSession(r *http.Request) string {
	if sid := r.Header.Get(SessionHeaderName); sid != "" {
		return normalizeSessionID(sid)
	}
	return normalizeSessionID(r.URL.Query().Get("session_id"))
}

// Middleware resolves the learner for every request and the viewing session
// named by SessionHeaderName or the session_id query parameter. Cookies are
// marked Secure outside development.
func Middleware(users UserStore, isDev bool) func(http.Handler) http.Handler {
	rs := resolver{users: users, secure: !isDev}
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ctx := WithUser(r.Context(), rs.learnerID(w, r))
			l, _ := LearnerFromContext(ctx)
			if err := rs.register(ctx, l); err != nil {
				http.Error(w, `{"error":"failed to initialize learner"}`, http.StatusInternalServerError)
				return
			}
			ctx = context.WithValue(ctx, sessionKey, requestedSession(r))
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// RemoteIP returns the client address without its port.
func RemoteIP(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}
