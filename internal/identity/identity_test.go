package identity

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"

	"github.com/Muscled-clients-repo/unpuzzle-mvp-sub002/internal/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeUsers struct {
	mu     sync.Mutex
	users  map[string]*domain.User
	getErr error
}

func newFakeUsers() *fakeUsers {
	return &fakeUsers{users: map[string]*domain.User{}}
}

func (f *fakeUsers) GetUser(_ context.Context, userID string) (*domain.User, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.getErr != nil {
		return nil, f.getErr
	}
	return f.users[userID], nil
}

func (f *fakeUsers) UpsertUser(_ context.Context, user *domain.User) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.users[user.UserID] = user
	return nil
}

func serve(t *testing.T, users UserStore, isDev bool, req *http.Request) (*httptest.ResponseRecorder, string, string) {
	t.Helper()
	var gotUser, gotSession string
	h := Middleware(users, isDev)(http.HandlerFunc(func(_ http.ResponseWriter, r *http.Request) {
		gotUser = UserIDFromContext(r.Context())
		gotSession = SessionIDFromContext(r.Context())
	}))
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec, gotUser, gotSession
}

func TestMiddlewareRegistersNewLearner(t *testing.T) {
	t.Parallel()
	users := newFakeUsers()

	req := httptest.NewRequest(http.MethodGet, "/ws/player?session_id=0192F1C4-7D1E-7A4B-9D0E-1C2B3A4D5E6F", nil)
	rec, gotUser, gotSession := serve(t, users, true, req)

	require.True(t, validLearnerID(gotUser), gotUser)
	assert.Equal(t, "0192f1c4-7d1e-7a4b-9d0e-1c2b3a4d5e6f", gotSession)
	require.Contains(t, users.users, gotUser)
	assert.Equal(t, displayName(gotUser), users.users[gotUser].Username)

	cookies := rec.Result().Cookies()
	require.Len(t, cookies, 1)
	assert.Equal(t, LearnerCookieName, cookies[0].Name)
	assert.Equal(t, gotUser, cookies[0].Value)
	assert.False(t, cookies[0].Secure)
}

func TestMiddlewareKeepsReturningLearner(t *testing.T) {
	t.Parallel()
	users := newFakeUsers()
	id := newLearnerID()

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.AddCookie(&http.Cookie{Name: LearnerCookieName, Value: id})
	req.Header.Set(SessionHeaderName, "not a session")
	rec, gotUser, gotSession := serve(t, users, false, req)

	assert.Equal(t, id, gotUser)
	assert.Empty(t, gotSession)
	cookies := rec.Result().Cookies()
	require.Len(t, cookies, 1)
	assert.True(t, cookies[0].Secure)
}

func TestMiddlewareReplacesForgedCookie(t *testing.T) {
	t.Parallel()
	users := newFakeUsers()

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.AddCookie(&http.Cookie{Name: LearnerCookieName, Value: "learner_admin"})
	_, gotUser, _ := serve(t, users, true, req)

	assert.NotEqual(t, "learner_admin", gotUser)
	assert.True(t, validLearnerID(gotUser))
}

func TestMiddlewareStoreFailure(t *testing.T) {
	t.Parallel()
	users := newFakeUsers()
	users.getErr = errors.New("database is locked")

	called := false
	h := Middleware(users, true)(http.HandlerFunc(func(http.ResponseWriter, *http.Request) { called = true }))
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))

	assert.False(t, called)
	assert.Equal(t, http.StatusInternalServerError, rec.Code)
}

func TestNormalizeSessionID(t *testing.T) {
	t.Parallel()
	tests := []struct {
		in   string
		want string
	}{
		{in: "", want: ""},
		{in: "tab-1", want: ""},
		{in: "  0192f1c4-7d1e-7a4b-9d0e-1c2b3a4d5e6f  ", want: "0192f1c4-7d1e-7a4b-9d0e-1c2b3a4d5e6f"},
		{in: "0192F1C4-7D1E-7A4B-9D0E-1C2B3A4D5E6F", want: "0192f1c4-7d1e-7a4b-9d0e-1c2b3a4d5e6f"},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, normalizeSessionID(tt.in), tt.in)
	}
}

func TestWithUser(t *testing.T) {
	t.Parallel()
	ctx := WithUser(context.Background(), "learner_0123456789abcdef0123456789abcdef")
	l, ok := LearnerFromContext(ctx)
	require.True(t, ok)
	assert.Equal(t, "learner_0123456789abcdef0123456789abcdef", l.ID)
	assert.Equal(t, "learner-01234567", l.Name)
	assert.Empty(t, SessionIDFromContext(ctx))
	assert.Empty(t, UserIDFromContext(context.Background()))
}
