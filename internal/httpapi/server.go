// Package httpapi implements the HTTP control plane (component H,
// external/minimal): health/status/performance endpoints, the whale
// webhook intake, and an additive Prometheus /metrics endpoint. Grounded
// on aristath-sentinel's use of github.com/go-chi/chi/v5 for the routing
// library choice and the teacher's health_check.go for the
// status-string/HEALTHY-WARNING-CRITICAL handler shape (both since
// deleted from the tree — their logic lives in internal/scheduler and
// here).
package httpapi

import (
	"encoding/json"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/marketpulse/engine/internal/domain"
	"github.com/marketpulse/engine/internal/engine"
	"github.com/marketpulse/engine/internal/ingest"
	"github.com/marketpulse/engine/internal/metrics"
)

// version is the build identifier reported on /health. Overridable at
// link time the way the teacher's build tooling pins a release tag.
var version = "dev"

// Server owns the HTTP control plane. It depends on the concrete Engine
// type rather than an interface: H sits directly atop G in the data
// flow (spec.md §2), and this package has no tests that need to fake it
// out — the engine package's own tests already cover Engine's behavior.
type Server struct {
	router       chi.Router
	eng          *engine.Engine
	webhookToken string
	startedAt    time.Time
	ready        bool
	met          *metrics.Registry
}

// Config tunes Server construction.
type Config struct {
	WebhookSecurityToken string
}

// New builds the Server and wires every route. eng may be nil before the
// core finishes initializing; handlers report 503 until SetReady(true).
func New(cfg Config, eng *engine.Engine, met *metrics.Registry) *Server {
	s := &Server{
		router:       chi.NewRouter(),
		eng:          eng,
		webhookToken: cfg.WebhookSecurityToken,
		startedAt:    time.Now(),
		met:          met,
	}

	s.router.Use(middleware.Recoverer)
	s.router.Use(middleware.RequestID)

	s.router.Get("/health", s.handleHealth)
	s.router.Get("/status", s.handleStatus)
	s.router.Get("/performance", s.handlePerformance)
	s.router.Post("/webhook/whale-transactions", s.authWebhook(s.handleWhaleWebhook))
	if met != nil {
		s.router.Handle("/metrics", promhttp.HandlerFor(met.Gatherer(), promhttp.HandlerOpts{}))
	}

	return s
}

// SetReady flips the engine-initialized flag /status and /performance
// gate on (spec.md §6: "503 when the engine is not yet initialized").
func (s *Server) SetReady(ready bool) { s.ready = ready }

func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) { s.router.ServeHTTP(w, r) }

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	online := 0
	if s.eng != nil {
		h := s.eng.SystemHealth()
		for _, st := range []domain.HealthState{h.Ingest.OrderBook, h.Ingest.Derivatives, h.Ingest.Liquidation, h.Notifier} {
			if st == domain.HealthOnline {
				online++
			}
		}
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"status":           "ok",
		"service":          "marketpulse-engine",
		"version":          version,
		"timestamp":        time.Now().UTC(),
		"running":          s.ready,
		"componentsOnline": online,
	})
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	if !s.ready || s.eng == nil {
		writeJSON(w, http.StatusServiceUnavailable, map[string]any{"error": "engine not initialized"})
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"metrics": s.eng.Metrics(),
		"health":  s.eng.SystemHealth(),
	})
}

func (s *Server) handlePerformance(w http.ResponseWriter, r *http.Request) {
	if !s.ready || s.eng == nil {
		writeJSON(w, http.StatusServiceUnavailable, map[string]any{"error": "engine not initialized"})
		return
	}
	snap := s.eng.Metrics()
	writeJSON(w, http.StatusOK, map[string]any{
		"uptimeSeconds": snap.UptimeSeconds,
		"scheduler":     snap.Scheduler,
		"classifier":    snap.Classifier,
		"logger":        snap.Logger,
	})
}

// authWebhook enforces the shared bearer token spec.md §6 requires.
func (s *Server) authWebhook(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		auth := r.Header.Get("Authorization")
		if s.webhookToken == "" || !strings.HasPrefix(auth, "Bearer ") || strings.TrimPrefix(auth, "Bearer ") != s.webhookToken {
			writeJSON(w, http.StatusUnauthorized, map[string]any{"error": "unauthorized"})
			return
		}
		next(w, r)
	}
}

func (s *Server) handleWhaleWebhook(w http.ResponseWriter, r *http.Request) {
	var payload ingest.WhaleTransactionsPayload
	if err := json.NewDecoder(r.Body).Decode(&payload); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]any{"error": "malformed payload"})
		return
	}

	if s.eng == nil {
		writeJSON(w, http.StatusServiceUnavailable, map[string]any{"error": "engine not initialized"})
		return
	}

	result := s.eng.IntakeWhale(payload)
	writeJSON(w, http.StatusOK, map[string]any{
		"transactions":   result.TransactionsProcessed,
		"receipts":       result.ReceiptsProcessed,
		"intentsEmitted": len(result.Intents),
	})
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}
