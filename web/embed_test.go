package web

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"testing/fstest"

	"github.com/stretchr/testify/assert"
)

func TestSPAHandler(t *testing.T) {
	files := fstest.MapFS{
		"index.html": {Data: []byte("<html>player</html>")},
		"app.js":     {Data: []byte("console.log('hi')")},
	}
	h := spaHandler(files)

	tests := []struct {
		path       string
		wantStatus int
		wantBody   string
		wantCache  string
	}{
		{"/", http.StatusOK, "player", "no-cache"},
		{"/app.js", http.StatusOK, "console.log", "public, max-age=3600"},
		{"/watch/video-1", http.StatusOK, "player", "no-cache"},
		{"/api/unknown", http.StatusNotFound, "", ""},
		{"/ws/other", http.StatusNotFound, "", ""},
	}
	for _, tt := range tests {
		t.Run(tt.path, func(t *testing.T) {
			w := httptest.NewRecorder()
			h.ServeHTTP(w, httptest.NewRequest(http.MethodGet, tt.path, nil))
			assert.Equal(t, tt.wantStatus, w.Code)
			if tt.wantBody != "" {
				assert.Contains(t, w.Body.String(), tt.wantBody)
			}
			assert.Equal(t, tt.wantCache, w.Header().Get("Cache-Control"))
		})
	}
}

func TestEmbeddedPageExists(t *testing.T) {
	w := httptest.NewRecorder()
	SPAHandler().ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/", nil))
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), "/ws/player")
}
