package server

import (
	"embed"
	"io/fs"
	"net/http"
	"os"

	"go.uber.org/zap"
)

//go:embed web/index.html web/static/*
var webFS embed.FS

// RegisterUI mounts the browser page at / and its assets at /static/.
// A non-empty staticDir is served instead of the embedded assets.
func RegisterUI(mux *http.ServeMux, staticDir string, logger *zap.Logger) {
	index, err := webFS.ReadFile("web/index.html")
	if err != nil {
		logger.Error("embedded index missing", zap.Error(err))
	}
	mux.HandleFunc("GET /{$}", func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "text/html; charset=utf-8")
		_, _ = w.Write(index)
	})

	var assets http.FileSystem
	if staticDir != "" {
		if _, err := os.Stat(staticDir); err == nil {
			assets = http.Dir(staticDir)
			logger.Info("serving static assets from disk", zap.String("dir", staticDir))
		} else {
			logger.Warn("static dir unavailable, using embedded assets", zap.String("dir", staticDir), zap.Error(err))
		}
	}
	if assets == nil {
		sub, err := fs.Sub(webFS, "web/static")
		if err != nil {
			logger.Error("embedded static fs", zap.Error(err))
			return
		}
		assets = http.FS(sub)
	}
	mux.Handle("GET /static/", http.StripPrefix("/static/", http.FileServer(assets)))
}
