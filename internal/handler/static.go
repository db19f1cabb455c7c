package handler

import (
	"net/http"
	"os"
	"path/filepath"
	"strings"

	"github.com/go-chi/chi/v5"
)

// SPAHandler serves files from staticDir and falls back to index.html for
// unknown paths. /api paths are never served from disk.
type SPAHandler struct {
	staticDir string
	basePath  string
	indexFile string
}

func NewSPAHandler(staticDir, basePath string) *SPAHandler {
	return &SPAHandler{
		staticDir: staticDir,
		basePath:  strings.TrimSuffix(basePath, "/"),
		indexFile: "index.html",
	}
}

func (h *SPAHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	path := chi.URLParam(r, "*")
	if path == "" {
		path = strings.TrimPrefix(r.URL.Path, h.basePath)
	}
	path = strings.TrimPrefix(path, "/")

	if path == "api" || strings.HasPrefix(path, "api/") {
		http.NotFound(w, r)
		return
	}

	filePath := filepath.Join(h.staticDir, filepath.FromSlash(filepath.Clean("/"+path)))

	info, err := os.Stat(filePath)
	if err == nil && !info.IsDir() {
		http.ServeFile(w, r, filePath)
		return
	}

	indexPath := filepath.Join(h.staticDir, h.indexFile)
	if _, err := os.Stat(indexPath); err != nil {
		http.NotFound(w, r)
		return
	}

	http.ServeFile(w, r, indexPath)
}

func StaticFileServer(staticDir, basePath string) http.Handler {
	return NewSPAHandler(staticDir, basePath)
}
