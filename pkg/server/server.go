// Package server exposes the search and ingest operations over HTTP.
package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/otherjamesbrown/council-search/pkg/buildinfo"
	cserrors "github.com/otherjamesbrown/council-search/pkg/errors"
	"github.com/otherjamesbrown/council-search/pkg/ingest/task"
	"github.com/otherjamesbrown/council-search/pkg/logging"
	"github.com/otherjamesbrown/council-search/pkg/search"
	"github.com/otherjamesbrown/council-search/pkg/search/query"
	"github.com/otherjamesbrown/council-search/pkg/store"
)

const shutdownTimeout = 10 * time.Second

// Searcher answers the read endpoints.
type Searcher interface {
	Search(ctx context.Context, req query.Request) (*search.Response, error)
	TranscriptCounts(ctx context.Context) (map[string]int, error)
	Authorities(ctx context.Context) ([]store.Authority, error)
	Transcript(ctx context.Context, uid string) (string, error)
}

// Catalog registers providers and authorities.
type Catalog interface {
	AddProvider(ctx context.Context, p store.Provider) error
	AddAuthority(ctx context.Context, a store.Authority) error
}

// Loader starts background ingestion passes and reports on them.
type Loader interface {
	Trigger(mode string) error
	Status() task.Status
}

// Config holds listener settings.
type Config struct {
	Addr         string
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
}

// Deps are the services behind the routes. Health and Gatherer are optional.
type Deps struct {
	Search   Searcher
	Catalog  Catalog
	Loader   Loader
	Health   func(context.Context) error
	Gatherer prometheus.Gatherer
}

// Server is the HTTP API.
type Server struct {
	cfg    Config
	deps   Deps
	logger logging.Logger
	router chi.Router
}

// New builds the router.
func New(cfg Config, deps Deps, logger logging.Logger) *Server {
	s := &Server{
		cfg:    cfg,
		deps:   deps,
		logger: logger.With(logging.F("component", "http")),
	}
	s.router = s.routes()
	return s
}

// Handler returns the root handler.
func (s *Server) Handler() http.Handler {
	return s.router
}

func (s *Server) routes() chi.Router {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(s.requestLogger)
	r.Use(middleware.Recoverer)

	r.Get("/healthz", s.handleHealth)
	r.Get("/version", buildinfo.Handler(buildinfo.ServiceName))
	if s.deps.Gatherer != nil {
		r.Handle("/metrics", promhttp.HandlerFor(s.deps.Gatherer, promhttp.HandlerOpts{}))
	}

	r.Route("/meetings", func(r chi.Router) {
		r.Get("/search", s.handleSearch)
		r.Get("/transcript_counts_by_authority", s.handleTranscriptCounts)
		r.Get("/authorities", s.handleAuthorities)
		r.Post("/add_authority", s.handleAddAuthority)
		r.Post("/add_provider", s.handleAddProvider)
		r.Post("/load", s.handleLoad)
		r.Get("/load/status", s.handleLoadStatus)
		r.Get("/download_transcript/{uid}", s.handleDownloadTranscript)
	})

	return r
}

// requestLogger copies the chi request id into the logging context key and
// logs one line per request.
func (s *Server) requestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()
		if id := middleware.GetReqID(ctx); id != "" {
			ctx = context.WithValue(ctx, logging.RequestIDKey, id)
			r = r.WithContext(ctx)
		}

		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		start := time.Now()
		next.ServeHTTP(ww, r)

		s.logger.WithContext(ctx).Debug("HTTP request",
			logging.F("method", r.Method),
			logging.F("path", r.URL.Path),
			logging.F("status", ww.Status()),
			logging.F("bytes", ww.BytesWritten()),
			logging.F("duration_ms", time.Since(start).Milliseconds()))
	})
}

// ListenAndServe serves until ctx is cancelled, then shuts down gracefully.
func (s *Server) ListenAndServe(ctx context.Context) error {
	srv := &http.Server{
		Addr:         s.cfg.Addr,
		Handler:      s.router,
		ReadTimeout:  s.cfg.ReadTimeout,
		WriteTimeout: s.cfg.WriteTimeout,
		BaseContext:  func(net.Listener) context.Context { return ctx },
	}

	errCh := make(chan error, 1)
	go func() {
		s.logger.Info("HTTP server listening", logging.F("addr", s.cfg.Addr))
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return fmt.Errorf("http server: %w", err)
	case <-ctx.Done():
	}

	s.logger.Info("HTTP server shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), shutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("http shutdown: %w", err)
	}
	return nil
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	json.NewEncoder(w).Encode(v)
}

// statusOf maps an error to its HTTP status.
func statusOf(err error) int {
	switch {
	case cserrors.IsValidation(err):
		return http.StatusBadRequest
	case cserrors.IsNotFound(err):
		return http.StatusNotFound
	case cserrors.IsConflict(err), cserrors.IsAlreadyExists(err):
		return http.StatusConflict
	case cserrors.IsUnavailable(err):
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

func (s *Server) writeError(w http.ResponseWriter, r *http.Request, err error) {
	code := statusOf(err)
	if code >= http.StatusInternalServerError {
		s.logger.WithContext(r.Context()).Error("Request failed",
			logging.Err(err), logging.F("path", r.URL.Path))
	}
	writeJSON(w, code, map[string]string{"error": err.Error()})
}
