package api

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/IshaanNene/FeedStalk/internal/types"
)

// Server provides the REST surface an observer UI talks to: trigger a fetch,
// read the retained window, inspect monitor status.
type Server struct {
	mux    *http.ServeMux
	port   int
	logger *slog.Logger

	// Collaborators (set at runtime, before Start)
	requester Requester
	source    PostSource
	status    StatusProvider
	metrics   http.Handler
}

// Requester delivers a fetch command into the monitor pipeline and returns
// the reply message.
type Requester interface {
	Request(ctx context.Context, msg types.Message) (types.Message, error)
}

// PostSource exposes the retained post window.
type PostSource interface {
	State() types.RetentionState
	Reset() error
}

// StatusProvider reports the monitor session's current state.
type StatusProvider interface {
	Status() map[string]any
}

// NewServer creates a new API server.
func NewServer(port int, logger *slog.Logger) *Server {
	s := &Server{
		mux:    http.NewServeMux(),
		port:   port,
		logger: logger.With("component", "api_server"),
	}

	s.registerRoutes()
	return s
}

// SetRequester wires the fetch command path.
func (s *Server) SetRequester(r Requester) {
	s.requester = r
}

// SetPostSource wires the retained post window.
func (s *Server) SetPostSource(src PostSource) {
	s.source = src
}

// SetStatusProvider wires the monitor session status.
func (s *Server) SetStatusProvider(sp StatusProvider) {
	s.status = sp
}

// SetMetrics mounts a metrics handler at /metrics.
func (s *Server) SetMetrics(h http.Handler) {
	s.metrics = h
}

// Start starts the API server.
func (s *Server) Start() error {
	addr := fmt.Sprintf(":%d", s.port)
	s.logger.Info("API server starting", "addr", addr)

	go func() {
		if err := http.ListenAndServe(addr, s.mux); err != nil {
			s.logger.Error("API server error", "error", err)
		}
	}()

	return nil
}

// Handler returns the route mux, for mounting in tests or a parent server.
func (s *Server) Handler() http.Handler {
	return s.mux
}

func (s *Server) registerRoutes() {
	// Health
	s.mux.HandleFunc("GET /api/health", s.handleHealth)

	// Monitor control
	s.mux.HandleFunc("GET /api/status", s.handleStatus)
	s.mux.HandleFunc("POST /api/fetch", s.handleFetch)
	s.mux.HandleFunc("POST /api/reset", s.handleReset)

	// Data
	s.mux.HandleFunc("GET /api/posts", s.handlePosts)

	// Metrics
	s.mux.HandleFunc("GET /metrics", s.handleMetrics)
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	s.jsonResponse(w, http.StatusOK, map[string]string{
		"status":  "ok",
		"version": "dev",
	})
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	if s.status == nil {
		s.jsonResponse(w, http.StatusServiceUnavailable, map[string]string{"error": "monitor not initialized"})
		return
	}
	status := s.status.Status()
	if s.source != nil {
		state := s.source.State()
		status["retained"] = len(state.Posts)
		status["first_fetch"] = state.FirstFetch
		if !state.LastFetch.IsZero() {
			status["last_fetch"] = state.LastFetch.Format(time.RFC3339)
		}
	}
	s.jsonResponse(w, http.StatusOK, status)
}

func (s *Server) handleFetch(w http.ResponseWriter, r *http.Request) {
	if s.requester == nil {
		s.jsonResponse(w, http.StatusServiceUnavailable, map[string]string{"error": "monitor not initialized"})
		return
	}
	reply, err := s.requester.Request(r.Context(), types.Message{Type: types.MsgFetchRequest})
	if err != nil {
		s.jsonResponse(w, http.StatusBadGateway, types.NewFetchError(err))
		return
	}
	status := http.StatusOK
	if reply.Type == types.MsgFetchError || reply.Type == types.MsgScrapeError {
		status = http.StatusBadGateway
	}
	s.jsonResponse(w, status, reply)
}

func (s *Server) handleReset(w http.ResponseWriter, r *http.Request) {
	if s.source == nil {
		s.jsonResponse(w, http.StatusServiceUnavailable, map[string]string{"error": "store not initialized"})
		return
	}
	if err := s.source.Reset(); err != nil {
		s.jsonResponse(w, http.StatusInternalServerError, map[string]string{"error": err.Error()})
		return
	}
	s.jsonResponse(w, http.StatusOK, map[string]string{"status": "reset"})
}

func (s *Server) handlePosts(w http.ResponseWriter, r *http.Request) {
	if s.source == nil {
		s.jsonResponse(w, http.StatusServiceUnavailable, map[string]string{"error": "store not initialized"})
		return
	}
	s.jsonResponse(w, http.StatusOK, types.NewDataResponse(s.source.State(), 0))
}

func (s *Server) handleMetrics(w http.ResponseWriter, r *http.Request) {
	if s.metrics == nil {
		http.NotFound(w, r)
		return
	}
	s.metrics.ServeHTTP(w, r)
}

func (s *Server) jsonResponse(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.Header().Set("Access-Control-Allow-Origin", "*")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}
