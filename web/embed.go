// Package web embeds the player page (dist/) and serves it as a
// single-page application.
//
// dist/index.html is a minimal reference client for the /ws/player protocol.
// A production frontend build replaces the directory contents.
package web

import (
	"embed"
	"io/fs"
	"log/slog"
	"net/http"
	"path"
	"strings"
)

//go:embed all:dist
var distFS embed.FS

// reservedPrefixes never fall back to index.html; an unknown API route must
// stay a 404 instead of returning the page.
var reservedPrefixes = []string{"api/", "ws/", "metrics"}

// SPAHandler returns an http.Handler that serves the embedded frontend.
// Existing files are served as is; any other path gets index.html so the
// client can route it.
func SPAHandler() http.Handler {
	subFS, err := fs.Sub(distFS, "dist")
	if err != nil {
		panic("web: failed to create sub filesystem: " + err.Error())
	}
	return spaHandler(subFS)
}

func spaHandler(files fs.FS) http.Handler {
	fileServer := http.FileServer(http.FS(files))

	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		name := strings.TrimPrefix(path.Clean("/"+r.URL.Path), "/")
		for _, prefix := range reservedPrefixes {
			if strings.HasPrefix(name, prefix) {
				http.NotFound(w, r)
				return
			}
		}

		if name != "" && name != "index.html" {
			if f, err := files.Open(name); err == nil {
				if closeErr := f.Close(); closeErr != nil {
					slog.Debug("web: failed to close embedded file", "path", name, "error", closeErr)
				}
				w.Header().Set("Cache-Control", "public, max-age=3600")
				fileServer.ServeHTTP(w, r)
				return
			}
		}

		// The page must be revalidated so a redeploy is picked up immediately.
		w.Header().Set("Cache-Control", "no-cache")
		r2 := r.Clone(r.Context())
		r2.URL.Path = "/"
		fileServer.ServeHTTP(w, r2)
	})
}
