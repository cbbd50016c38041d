package gateway

import (
	"net/http"
	"os"
	"path/filepath"
	"strings"
)

// spaHandler serves a pre-built single-page-app bundle. Paths that do not
// match a file on disk fall back to index.html so client-side routes deep
// link correctly.
type spaHandler struct {
	dir string
}

// NewStaticShell returns a handler serving the app shell from dir.
func NewStaticShell(dir string) http.Handler {
	return &spaHandler{dir: dir}
}

func (h *spaHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	rel := filepath.Clean(strings.TrimPrefix(r.URL.Path, "/"))
	if rel == "." || strings.HasPrefix(rel, "..") {
		rel = "index.html"
	}
	path := filepath.Join(h.dir, rel)
	if fi, err := os.Stat(path); err != nil || fi.IsDir() {
		path = filepath.Join(h.dir, "index.html")
	}
	http.ServeFile(w, r, path)
}
