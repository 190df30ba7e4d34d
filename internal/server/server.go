package server

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"

	"bullionwatch/internal/cache"
	"bullionwatch/internal/notify"
)

// Snapshot freshness as reported by the API.
const (
	StatusFresh       = "fresh"
	StatusStale       = "stale"
	StatusUnavailable = "unavailable"
)

const shutdownTimeout = 10 * time.Second

// SnapshotReader exposes the most recent cached snapshot.
type SnapshotReader interface {
	Latest() (cache.Entry, bool)
}

// Controls are the user actions the API forwards to the service.
type Controls interface {
	OnRefreshRequested()
	OnAutoRefreshToggled(ctx context.Context, enabled bool) error
	AutoRefreshEnabled(ctx context.Context) (bool, error)
}

// Options configures the HTTP server.
type Options struct {
	Addr         string
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
	// AllowedOrigins feeds CORS for browser dashboards. Empty disables CORS.
	AllowedOrigins []string
	Gatherer       prometheus.Gatherer
	Clock          func() time.Time
}

// Server exposes snapshots, controls and metrics over HTTP.
type Server struct {
	router   *chi.Mux
	server   *http.Server
	snapshot SnapshotReader
	controls Controls
	hub      *Hub
	now      func() time.Time
	logger   zerolog.Logger
}

// New wires routes. hub may be nil to disable the websocket endpoint.
func New(opts Options, snapshot SnapshotReader, controls Controls, hub *Hub, logger zerolog.Logger) *Server {
	if opts.Clock == nil {
		opts.Clock = time.Now
	}
	s := &Server{
		router:   chi.NewRouter(),
		snapshot: snapshot,
		controls: controls,
		hub:      hub,
		now:      opts.Clock,
		logger:   logger.With().Str("component", "server").Logger(),
	}

	s.router.Use(middleware.Recoverer)
	s.router.Use(middleware.RequestID)
	s.router.Use(middleware.RealIP)
	s.router.Use(s.loggingMiddleware)
	if len(opts.AllowedOrigins) > 0 {
		s.router.Use(cors.Handler(cors.Options{
			AllowedOrigins: opts.AllowedOrigins,
			AllowedMethods: []string{"GET", "POST", "PUT", "OPTIONS"},
			AllowedHeaders: []string{"Accept", "Content-Type"},
			MaxAge:         300,
		}))
	}

	s.router.Get("/health", s.handleHealth)
	s.router.Route("/api", func(r chi.Router) {
		r.Use(middleware.Timeout(30 * time.Second))
		r.Get("/snapshot", s.handleSnapshot)
		r.Post("/refresh", s.handleRefresh)
		r.Get("/autorefresh", s.handleGetAutoRefresh)
		r.Put("/autorefresh", s.handlePutAutoRefresh)
	})
	if opts.Gatherer != nil {
		s.router.Handle("/metrics", promhttp.HandlerFor(opts.Gatherer, promhttp.HandlerOpts{}))
	}
	if hub != nil {
		s.router.Handle("/ws", hub)
	}

	s.server = &http.Server{
		Addr:         opts.Addr,
		Handler:      s.router,
		ReadTimeout:  opts.ReadTimeout,
		WriteTimeout: opts.WriteTimeout,
		IdleTimeout:  60 * time.Second,
	}
	return s
}

// Handler returns the router, mainly for tests.
func (s *Server) Handler() http.Handler {
	return s.router
}

// Run serves until ctx is cancelled, then shuts down gracefully.
func (s *Server) Run(ctx context.Context) error {
	errCh := make(chan error, 1)
	go func() {
		s.logger.Info().Str("addr", s.server.Addr).Msg("starting HTTP server")
		errCh <- s.server.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	s.logger.Info().Msg("shutting down HTTP server")
	if err := s.server.Shutdown(shutdownCtx); err != nil {
		return err
	}
	return nil
}

type snapshotResponse struct {
	Status     string          `json:"status"`
	AgeSeconds float64         `json:"age_seconds,omitempty"`
	Snapshot   *notify.Message `json:"snapshot,omitempty"`
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) handleSnapshot(w http.ResponseWriter, _ *http.Request) {
	entry, ok := s.snapshot.Latest()
	if !ok {
		writeJSON(w, http.StatusServiceUnavailable, snapshotResponse{Status: StatusUnavailable})
		return
	}

	now := s.now()
	msg := notify.SnapshotMessage(entry.Snapshot)
	resp := snapshotResponse{
		Status:     StatusStale,
		AgeSeconds: entry.Age(now).Seconds(),
		Snapshot:   &msg,
	}
	if entry.Fresh(now) {
		resp.Status = StatusFresh
	}
	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) handleRefresh(w http.ResponseWriter, _ *http.Request) {
	s.controls.OnRefreshRequested()
	writeJSON(w, http.StatusAccepted, map[string]string{"status": "requested"})
}

type autoRefreshBody struct {
	Enabled bool `json:"enabled"`
}

func (s *Server) handleGetAutoRefresh(w http.ResponseWriter, r *http.Request) {
	enabled, err := s.controls.AutoRefreshEnabled(r.Context())
	if err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	writeJSON(w, http.StatusOK, autoRefreshBody{Enabled: enabled})
}

func (s *Server) handlePutAutoRefresh(w http.ResponseWriter, r *http.Request) {
	var body autoRefreshBody
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	if err := s.controls.OnAutoRefreshToggled(r.Context(), body.Enabled); err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	writeJSON(w, http.StatusOK, body)
}

func (s *Server) loggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()

		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)

		s.logger.Debug().
			Str("method", r.Method).
			Str("path", r.URL.Path).
			Int("status", ww.Status()).
			Int("bytes", ww.BytesWritten()).
			Dur("duration", time.Since(start)).
			Str("request_id", middleware.GetReqID(r.Context())).
			Msg("http request")
	})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, err error) {
	writeJSON(w, status, map[string]string{"error": err.Error()})
}
