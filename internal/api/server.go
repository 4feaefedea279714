// Package api provides the HTTP serving surface: health and status for
// the frontend's discovery protocol, the projections board, ranked
// predictions, and the PropOllama chat endpoint. Handlers read the
// store and component state; nothing here ever calls the upstream.
package api

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/a1betting/propcore/internal/infra/sqlite"
	"github.com/a1betting/propcore/internal/ingest"
	"github.com/a1betting/propcore/internal/llm"
	"github.com/a1betting/propcore/internal/models"
)

// Deadlines per endpoint class. Store-backed reads are expected to be
// fast; scoring and chat get explicit budgets and degrade on expiry.
const (
	predictionsDeadline = 10 * time.Second
	chatDeadline        = 30 * time.Second
)

// Server is the propcore HTTP API.
type Server struct {
	store     *sqlite.DB
	engine    *ingest.Engine
	models    *models.Manager
	explainer *llm.Service

	startedAt      time.Time
	port           int
	staleThreshold time.Duration
	metricsEnabled bool
}

// NewServer wires the serving surface. staleThreshold controls when the
// projections endpoint reports "stale".
func NewServer(store *sqlite.DB, engine *ingest.Engine, models *models.Manager, explainer *llm.Service, staleThreshold time.Duration) *Server {
	if staleThreshold <= 0 {
		staleThreshold = 15 * time.Minute
	}
	return &Server{
		store:          store,
		engine:         engine,
		models:         models,
		explainer:      explainer,
		startedAt:      time.Now(),
		staleThreshold: staleThreshold,
	}
}

// EnableMetrics enables the /metrics Prometheus endpoint.
func (s *Server) EnableMetrics() { s.metricsEnabled = true }

// SetPort records the bound listener port for /health.
func (s *Server) SetPort(port int) { s.port = port }

// Handler returns the chi router with all routes mounted.
func (s *Server) Handler() http.Handler {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Timeout(60 * time.Second))
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: []string{"*"},
		AllowedMethods: []string{"GET", "POST", "OPTIONS"},
		AllowedHeaders: []string{"Content-Type"},
	}))

	r.Get("/health", s.handleHealth)
	r.Get("/status/training", s.handleTrainingStatus)
	r.Get("/status/ingestion", s.handleIngestionStatus)

	r.Route("/api", func(r chi.Router) {
		r.Get("/prizepicks/projections", s.handleProjections)
		r.Get("/predictions/prizepicks/enhanced", s.handleEnhanced)
		r.Post("/propollama/chat", s.handleChat)
	})

	if s.metricsEnabled {
		r.Handle("/metrics", promhttp.Handler())
	}

	return r
}

// writeJSON writes a JSON response.
func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

// writeError writes a structured JSON error. Only the kind is exposed;
// causes stay in the logs.
func writeError(w http.ResponseWriter, status int, kind, msg string) {
	writeJSON(w, status, map[string]any{
		"success": false,
		"error": map[string]string{
			"kind":    kind,
			"message": msg,
		},
	})
}
