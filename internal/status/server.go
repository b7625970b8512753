package status

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/rs/zerolog"
)

// Server provides a read-only HTTP API over the collector.
type Server struct {
	collector  *Collector
	port       int
	httpServer *http.Server
	version    string
	logger     zerolog.Logger
}

// ServerConfig holds configuration for the status server.
type ServerConfig struct {
	Port    int    // HTTP server port (default: 8080)
	Version string // resque version string
	Logger  zerolog.Logger
}

// NewServer creates a new status HTTP server.
func NewServer(cfg ServerConfig, collector *Collector) *Server {
	if cfg.Port == 0 {
		cfg.Port = 8080
	}
	return &Server{
		collector: collector,
		port:      cfg.Port,
		version:   cfg.Version,
		logger:    cfg.Logger,
	}
}

// Handler returns the API routes.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/health", s.handleHealth)
	mux.HandleFunc("/stats", s.handleStats)
	mux.HandleFunc("/queues", s.handleQueues)
	mux.HandleFunc("/workers", s.handleWorkers)
	mux.HandleFunc("/failed", s.handleFailed)
	return mux
}

// Start begins listening for HTTP requests.
// This method blocks until the context is cancelled.
func (s *Server) Start(ctx context.Context) error {
	s.httpServer = &http.Server{
		Addr:         fmt.Sprintf(":%d", s.port),
		Handler:      s.Handler(),
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 30 * time.Second,
	}

	errChan := make(chan error, 1)
	go func() {
		s.logger.Info().Int("port", s.port).Msg("Status server listening")
		if err := s.httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errChan <- err
		}
	}()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return s.httpServer.Shutdown(shutdownCtx)
	case err := <-errChan:
		return err
	}
}

// Port returns the port the server is configured to listen on.
func (s *Server) Port() int {
	return s.port
}

func (s *Server) writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		s.logger.Debug().Err(err).Msg("Failed to write response")
	}
}

func (s *Server) fail(w http.ResponseWriter, what string, err error) {
	s.logger.Warn().Err(err).Str("resource", what).Msg("Status request failed")
	http.Error(w, fmt.Sprintf("Failed to collect %s: %v", what, err), http.StatusInternalServerError)
}

func allowGet(w http.ResponseWriter, r *http.Request) bool {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return false
	}
	return true
}

// handleHealth reports whether the store answers.
// GET /health
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	if !allowGet(w, r) {
		return
	}
	resp := HealthResponse{Status: HealthStatusOK, Version: s.version}
	code := http.StatusOK
	if _, err := s.collector.r.Queues(r.Context()); err != nil {
		resp.Status = HealthStatusDegraded
		resp.Error = err.Error()
		code = http.StatusServiceUnavailable
	}
	s.writeJSON(w, code, resp)
}

// handleStats returns the overview; ?host=1 adds machine vitals.
// GET /stats
func (s *Server) handleStats(w http.ResponseWriter, r *http.Request) {
	if !allowGet(w, r) {
		return
	}
	st, err := s.collector.Stats(r.Context())
	if err != nil {
		s.fail(w, "stats", err)
		return
	}
	if withHost, _ := strconv.ParseBool(r.URL.Query().Get("host")); withHost {
		st.Host = s.collector.Host(r.Context())
	}
	s.writeJSON(w, http.StatusOK, st)
}

// GET /queues
func (s *Server) handleQueues(w http.ResponseWriter, r *http.Request) {
	if !allowGet(w, r) {
		return
	}
	queues, err := s.collector.Queues(r.Context())
	if err != nil {
		s.fail(w, "queues", err)
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]any{"queues": queues})
}

// GET /workers
func (s *Server) handleWorkers(w http.ResponseWriter, r *http.Request) {
	if !allowGet(w, r) {
		return
	}
	workers, err := s.collector.Workers(r.Context())
	if err != nil {
		s.fail(w, "workers", err)
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]any{"workers": workers})
}

// handleFailed pages failures with ?offset= and ?limit= (default 20).
// GET /failed
func (s *Server) handleFailed(w http.ResponseWriter, r *http.Request) {
	if !allowGet(w, r) {
		return
	}
	offset, limit := 0, 20
	q := r.URL.Query()
	if v := q.Get("offset"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 0 {
			http.Error(w, "invalid offset", http.StatusBadRequest)
			return
		}
		offset = n
	}
	if v := q.Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 1 {
			http.Error(w, "invalid limit", http.StatusBadRequest)
			return
		}
		limit = n
	}

	page, err := s.collector.Failures(r.Context(), offset, limit)
	if errors.Is(err, ErrNotListable) {
		http.Error(w, err.Error(), http.StatusNotImplemented)
		return
	}
	if err != nil {
		s.fail(w, "failures", err)
		return
	}
	s.writeJSON(w, http.StatusOK, page)
}
