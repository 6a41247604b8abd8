// Package api serves the read-only ops HTTP API: node status, live
// sessions, active calls, the persistent extension directory and Prometheus
// metrics. There is no write surface and no authentication.
package api

import (
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	apimw "github.com/linepbx/linepbx/internal/api/middleware"
	"github.com/linepbx/linepbx/internal/config"
	"github.com/linepbx/linepbx/internal/database"
	"github.com/linepbx/linepbx/internal/pbx"
	"github.com/linepbx/linepbx/internal/registry"
)

// SessionProvider exposes live endpoint sessions and calls.
type SessionProvider interface {
	Sessions() []registry.Session
	Calls() []registry.Call
}

// TrunkStatusProvider exposes the outbound trunk link state.
type TrunkStatusProvider interface {
	TrunkStatus() pbx.LinkStatus
}

// Server holds API handler dependencies and the chi router.
type Server struct {
	router   *chi.Mux
	cfg      *config.Config
	sessions SessionProvider
	trunk    TrunkStatusProvider
	dir      database.ExtensionDirectory // may be nil
	logger   *slog.Logger
}

// NewServer creates the HTTP handler with all routes mounted. gatherer
// serves /metrics; pass nil to omit the endpoint.
func NewServer(cfg *config.Config, sessions SessionProvider, trunk TrunkStatusProvider, dir database.ExtensionDirectory, gatherer prometheus.Gatherer, logger *slog.Logger) *Server {
	s := &Server{
		router:   chi.NewRouter(),
		cfg:      cfg,
		sessions: sessions,
		trunk:    trunk,
		dir:      dir,
		logger:   logger.With("component", "api"),
	}
	s.routes(gatherer)
	return s
}

// ServeHTTP implements http.Handler.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.router.ServeHTTP(w, r)
}

// routes configures middleware and mounts all route groups.
func (s *Server) routes(gatherer prometheus.Gatherer) {
	r := s.router

	r.Use(chimw.RequestID)
	r.Use(chimw.RealIP)
	r.Use(apimw.StructuredLogger)
	r.Use(chimw.Recoverer)

	limiter := apimw.NewIPRateLimiter(apimw.DefaultRateLimitConfig())

	r.Route("/api/v1", func(r chi.Router) {
		r.Use(limiter.Handler)
		r.Get("/health", s.handleHealth)
		r.Get("/status", s.handleStatus)
		r.Get("/endpoints", s.handleEndpoints)
		r.Get("/calls", s.handleCalls)
		r.Get("/directory", s.handleDirectory)
	})

	if gatherer != nil {
		r.Method(http.MethodGet, "/metrics", promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{}))
	}
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	s.writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// statusResponse summarizes this node's identity, dial plan and trunk link.
type statusResponse struct {
	NodeName        string         `json:"node_name"`
	LocalPrefix     string         `json:"local_prefix"`
	RemotePrefix    string         `json:"remote_prefix,omitempty"`
	IVRExtension    string         `json:"ivr_extension"`
	RegisteredCount int            `json:"registered_endpoints"`
	ActiveCalls     int            `json:"active_calls"`
	Trunk           pbx.LinkStatus `json:"trunk"`
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	sessions := s.sessions.Sessions()
	s.writeJSON(w, http.StatusOK, statusResponse{
		NodeName:        s.cfg.NodeName,
		LocalPrefix:     s.cfg.LocalPrefix,
		RemotePrefix:    s.cfg.RemotePrefix,
		IVRExtension:    s.cfg.IVRExt,
		RegisteredCount: len(sessions),
		ActiveCalls:     len(s.sessions.Calls()),
		Trunk:           s.trunk.TrunkStatus(),
	})
}

func (s *Server) handleEndpoints(w http.ResponseWriter, r *http.Request) {
	sessions := s.sessions.Sessions()
	if sessions == nil {
		sessions = []registry.Session{}
	}
	s.writeJSON(w, http.StatusOK, sessions)
}

func (s *Server) handleCalls(w http.ResponseWriter, r *http.Request) {
	calls := s.sessions.Calls()
	if calls == nil {
		calls = []registry.Call{}
	}
	s.writeJSON(w, http.StatusOK, calls)
}

func (s *Server) handleDirectory(w http.ResponseWriter, r *http.Request) {
	if s.dir == nil {
		s.writeJSON(w, http.StatusOK, []database.DirectoryEntry{})
		return
	}
	entries, err := s.dir.List(r.Context())
	if err != nil {
		s.writeError(w, http.StatusInternalServerError, "failed to list directory")
		return
	}
	if entries == nil {
		entries = []database.DirectoryEntry{}
	}
	s.writeJSON(w, http.StatusOK, entries)
}
