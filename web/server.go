// ABOUTME: portviz HTTP server: chi router exposing the model save/load API and the static front-end.
// ABOUTME: Built from an explicit config.Config; maps layout store errors to status codes at this boundary.
package web

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"net"
	"net/http"
	"os"
	"time"

	"github.com/2389-research/portviz/config"
	"github.com/2389-research/portviz/layout"
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
)

// maxModelBytes caps the size of a save request body.
const maxModelBytes = 10 << 20

const shutdownTimeout = 5 * time.Second

// ServerOption configures optional Server behavior.
type ServerOption func(*Server)

// WithLogger sets the logger used for request logs and server errors.
func WithLogger(logger *slog.Logger) ServerOption {
	return func(s *Server) {
		s.logger = logger
	}
}

// WithAssets serves static files from fsys instead of the configured static directory.
func WithAssets(fsys fs.FS) ServerOption {
	return func(s *Server) {
		s.assets = fsys
	}
}

// Server is the portviz HTTP server.
type Server struct {
	store     *layout.Store
	router    chi.Router
	addr      string
	assets    fs.FS
	indexFile string
	logger    *slog.Logger
}

// NewServer creates a Server for cfg backed by store. cfg must already be validated.
func NewServer(cfg config.Config, store *layout.Store, opts ...ServerOption) (*Server, error) {
	if store == nil {
		return nil, fmt.Errorf("store must not be nil")
	}
	if cfg.IndexFile == "" {
		return nil, fmt.Errorf("IndexFile must not be empty")
	}

	s := &Server{
		store:     store,
		addr:      cfg.Addr(),
		indexFile: cfg.IndexFile,
		logger:    slog.Default(),
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.assets == nil {
		if cfg.StaticDir == "" {
			return nil, fmt.Errorf("StaticDir must not be empty")
		}
		s.assets = os.DirFS(cfg.StaticDir)
	}

	s.router = s.buildRouter()
	return s, nil
}

// ServeHTTP delegates to the chi router, satisfying http.Handler.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.router.ServeHTTP(w, r)
}

// Addr returns the configured listen address.
func (s *Server) Addr() string {
	return s.addr
}

// buildRouter constructs the chi router with all routes and middleware.
func (s *Server) buildRouter() chi.Router {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(corsHeaders)
	r.Use(requestLogger(s.logger))
	r.Use(middleware.Recoverer)
	r.Use(middleware.GetHead)

	r.Get("/health", s.handleHealth)

	r.Route("/api", func(r chi.Router) {
		r.Options("/save-model", s.handlePreflight)
		r.Post("/save-model", s.handleSaveModel)
		r.Options("/load-model/{slug}", s.handlePreflight)
		r.Get("/load-model/{slug}", s.handleLoadModel)
		r.Get("/models", s.handleListModels)
	})

	r.Get("/", s.handleIndex)
	r.Get("/*", s.handleStatic)

	return r
}

// ListenAndServe listens on the configured address and serves until ctx is done.
func (s *Server) ListenAndServe(ctx context.Context) error {
	ln, err := net.Listen("tcp", s.addr)
	if err != nil {
		return fmt.Errorf("listen on %s: %w", s.addr, err)
	}
	return s.Serve(ctx, ln)
}

// Serve accepts connections on ln until ctx is done, then shuts down gracefully.
func (s *Server) Serve(ctx context.Context, ln net.Listener) error {
	srv := &http.Server{
		Handler:           s,
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       30 * time.Second,
		WriteTimeout:      30 * time.Second,
		IdleTimeout:       2 * time.Minute,
		ErrorLog:          slog.NewLogLogger(s.logger.Handler(), slog.LevelWarn),
	}

	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.Serve(ln)
	}()
	s.logger.Info("listening", "addr", ln.Addr().String())

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("shutdown: %w", err)
		}
		return nil
	}
}

// handleHealth returns a JSON health check response.
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// handlePreflight answers CORS preflight requests; the headers come from corsHeaders.
func (s *Server) handlePreflight(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, struct{}{})
}

// writeJSON encodes v as the JSON response body with the given status.
func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	enc := json.NewEncoder(w)
	enc.SetEscapeHTML(false)
	_ = enc.Encode(v)
}

type errorResponse struct {
	Error string `json:"error"`
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, errorResponse{Error: msg})
}

// isMaxBytesError reports whether err (or any error in its chain) is an
// *http.MaxBytesError, indicating the request body exceeded the size limit.
func isMaxBytesError(err error) bool {
	var maxErr *http.MaxBytesError
	return errors.As(err, &maxErr)
}
