// Package api serves a small local status surface for a running crawl.
package api

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/dkorolev/trademe-shop-scraper/internal/fetch"
	"github.com/dkorolev/trademe-shop-scraper/internal/pipeline"
)

// StatusProvider exposes the pipeline's progress snapshot.
type StatusProvider interface {
	Status() pipeline.Status
}

// Server hosts /health, /status and /metrics on a local port.
type Server struct {
	http     *http.Server
	provider StatusProvider
	counters *fetch.Counters
	logger   *slog.Logger
}

func NewServer(addr string, provider StatusProvider, counters *fetch.Counters, registry *prometheus.Registry) *Server {
	s := &Server{
		provider: provider,
		counters: counters,
		logger:   slog.Default().With("component", "status_api"),
	}

	r := chi.NewRouter()
	r.Use(middleware.Recoverer)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: []string{"*"},
		AllowedMethods: []string{"GET"},
	}))

	r.Get("/health", s.handleHealth)
	r.Get("/status", s.handleStatus)
	r.Handle("/metrics", promhttp.HandlerFor(registry, promhttp.HandlerOpts{}))

	s.http = &http.Server{
		Addr:         addr,
		Handler:      r,
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 10 * time.Second,
	}
	return s
}

// Start serves until the listener fails. Run it on its own goroutine.
func (s *Server) Start() {
	s.logger.Info("status server listening", "addr", s.http.Addr)
	if err := s.http.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		s.logger.Error("status server stopped", "error", err)
	}
}

// Shutdown stops the server gracefully.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.http.Shutdown(ctx)
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	s.respondJSON(w, map[string]string{"status": "ok"})
}

type statusResponse struct {
	pipeline.Status
	RequestsIssued int `json:"requests_issued"`
	UnauthBudget   int `json:"unauthenticated_budget"`
}

func (s *Server) handleStatus(w http.ResponseWriter, _ *http.Request) {
	resp := statusResponse{Status: s.provider.Status()}
	if s.counters != nil {
		resp.RequestsIssued = s.counters.RequestsIssued()
		resp.UnauthBudget = s.counters.UnauthBudget()
	}
	s.respondJSON(w, resp)
}

func (s *Server) respondJSON(w http.ResponseWriter, payload any) {
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		s.logger.Error("failed to encode response", "error", err)
	}
}
