// Package serve hosts the localized tree over HTTP, both for the parity
// phase (the clone must render from a real origin) and as a standalone
// preview.
package serve

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
)

// Server serves a static directory with clean URLs: /about resolves to
// about/index.html the way the deployed site would.
type Server struct {
	dir    string
	logger *slog.Logger
	http   *http.Server
}

// New creates a preview server over dir.
func New(dir string, logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.Default()
	}

	s := &Server{dir: dir, logger: logger}

	r := chi.NewRouter()
	r.Use(middleware.Recoverer)
	r.Get("/*", s.serveFile)

	s.http = &http.Server{
		Handler:           r,
		ReadHeaderTimeout: 10 * time.Second,
	}
	return s
}

// Handler exposes the router for tests.
func (s *Server) Handler() http.Handler { return s.http.Handler }

// Start listens on addr and serves in the background until Shutdown.
func (s *Server) Start(addr string) error {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("serve: listen %s: %w", addr, err)
	}
	s.logger.Info("serve: preview up", "addr", ln.Addr().String(), "dir", s.dir)
	go func() {
		if err := s.http.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.logger.Error("serve: server stopped", "error", err)
		}
	}()
	return nil
}

// Shutdown stops the server gracefully.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.http.Shutdown(ctx)
}

func (s *Server) serveFile(w http.ResponseWriter, r *http.Request) {
	// Resolve the request path inside the tree; reject escapes.
	reqPath := strings.TrimPrefix(r.URL.Path, "/")
	full := filepath.Join(s.dir, filepath.FromSlash(reqPath))
	if rel, err := filepath.Rel(s.dir, full); err != nil || strings.HasPrefix(rel, "..") {
		http.NotFound(w, r)
		return
	}

	info, err := os.Stat(full)
	switch {
	case err == nil && info.IsDir():
		full = filepath.Join(full, "index.html")
	case err != nil:
		// Clean URL: /about -> about/index.html.
		alt := filepath.Join(full, "index.html")
		if _, aerr := os.Stat(alt); aerr != nil {
			http.NotFound(w, r)
			return
		}
		full = alt
	}

	if strings.HasSuffix(full, ".mjs") {
		w.Header().Set("Content-Type", "application/javascript")
	}
	http.ServeFile(w, r, full)
}
