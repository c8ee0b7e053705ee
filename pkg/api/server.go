// Package api implements the spec.md §6 HTTP surface: the one boundary
// external callers use to drive C1-C8. Grounded on the teacher's
// pkg/api/server.go (http.ServeMux wrapper, /health and /ready probes,
// queue-backed job submission) and generalized from single-purpose job
// routes to the full models/predictions/deployments/ab-tests route table,
// using Go 1.25's method-and-wildcard ServeMux patterns in place of the
// teacher's manual path-prefix slicing.
//
// Authentication, API-key checks, and request routing/validation beyond
// what's needed to decode a JSON body are out of scope (spec.md §6
// "OUT OF SCOPE") - callers are expected to sit behind a gateway that
// authenticates the request and forwards the caller's identity in the
// X-User-ID header, which this package trusts only as a rate-limit key.
package api

import (
	"encoding/json"
	"fmt"
	"log"
	"net/http"
	"time"

	"github.com/mlforge/core/pkg/apierr"
	"github.com/mlforge/core/pkg/deployment"
	"github.com/mlforge/core/pkg/incremental"
	"github.com/mlforge/core/pkg/metadatastore"
	"github.com/mlforge/core/pkg/monitor"
	"github.com/mlforge/core/pkg/prediction"
	"github.com/mlforge/core/pkg/queue"
	"github.com/mlforge/core/pkg/registry"
	"github.com/mlforge/core/pkg/storage"
)

// RateLimitConfig mirrors the AI_RATE_LIMIT_* variables from pkg/config.
type RateLimitConfig struct {
	Predict int
	Batch   int
	Window  time.Duration
}

// Server wires every component's public surface to spec.md §6's routes.
type Server struct {
	store       metadatastore.MetadataStore
	storageSvc  *storage.Service
	queue       *queue.Queue
	registry    *registry.Service
	deployment  *deployment.Service
	incremental *incremental.Service
	monitor     *monitor.Service
	prediction  *prediction.Service

	predictLimiter *perKeyLimiter
	batchLimiter   *perKeyLimiter

	port string
	mux  *http.ServeMux
}

// NewServer builds the HTTP surface. Only the ready, stats and feedback
// handlers check their service for nil (feedback skips the incremental feed
// when it is nil); every other route calls its service without a nil check.
func NewServer(
	store metadatastore.MetadataStore,
	storageSvc *storage.Service,
	q *queue.Queue,
	reg *registry.Service,
	dep *deployment.Service,
	inc *incremental.Service,
	mon *monitor.Service,
	pred *prediction.Service,
	rateCfg RateLimitConfig,
	port string,
) *Server {
	s := &Server{
		store:          store,
		storageSvc:     storageSvc,
		queue:          q,
		registry:       reg,
		deployment:     dep,
		incremental:    inc,
		monitor:        mon,
		prediction:     pred,
		predictLimiter: newPerKeyLimiter(rateCfg.Predict, rateCfg.Window),
		batchLimiter:   newPerKeyLimiter(rateCfg.Batch, rateCfg.Window),
		port:           port,
		mux:            http.NewServeMux(),
	}
	s.registerRoutes()
	return s
}

func (s *Server) registerRoutes() {
	s.mux.HandleFunc("GET /health", s.handleHealth)
	s.mux.HandleFunc("GET /ready", s.handleReady)
	s.mux.HandleFunc("GET /ai/stats", s.handleStats)

	s.mux.HandleFunc("POST /ai/models", s.handleCreateModel)
	s.mux.HandleFunc("GET /ai/models", s.handleListModels)
	s.mux.HandleFunc("GET /ai/models/{id}", s.handleGetModel)
	s.mux.HandleFunc("DELETE /ai/models/{id}", s.handleDeleteModel)
	s.mux.HandleFunc("POST /ai/models/{id}/train", s.handleTrainModel)
	s.mux.HandleFunc("GET /ai/models/{id}/versions", s.handleListVersions)
	s.mux.HandleFunc("POST /ai/models/{id}/promote", s.handlePromote)
	s.mux.HandleFunc("POST /ai/models/{id}/archive", s.handleArchive)
	s.mux.HandleFunc("GET /ai/models/{id}/best-version", s.handleBestVersion)
	s.mux.HandleFunc("POST /ai/models/{id}/evaluate", s.handleEvaluate)
	s.mux.HandleFunc("POST /ai/models/{id}/feature-importance", s.handleFeatureImportance)

	s.mux.HandleFunc("POST /ai/predict", s.handlePredict)
	s.mux.HandleFunc("POST /ai/predict/batch", s.handleBatchPredict)
	s.mux.HandleFunc("GET /ai/predictions", s.handleListPredictions)
	s.mux.HandleFunc("POST /ai/predictions/{id}/feedback", s.handleFeedback)

	s.mux.HandleFunc("POST /ai/models/{id}/incremental-update", s.handleIncrementalUpdate)
	s.mux.HandleFunc("GET /ai/models/{id}/incremental-history", s.handleIncrementalHistory)

	s.mux.HandleFunc("POST /ai/ab-tests", s.handleStartABTest)
	s.mux.HandleFunc("GET /ai/ab-tests/{id}", s.handleGetABTest)
	s.mux.HandleFunc("POST /ai/ab-tests/{id}/stop", s.handleStopABTest)

	s.mux.HandleFunc("GET /ai/models/{id}/health", s.handleModelHealth)
	s.mux.HandleFunc("POST /ai/models/{id}/drift", s.handleDrift)
	s.mux.HandleFunc("POST /ai/models/{id}/deploy", s.handleDeploy)
	s.mux.HandleFunc("POST /ai/models/{id}/rollback", s.handleRollback)
	s.mux.HandleFunc("GET /ai/models/{id}/deployments", s.handleDeploymentHistory)

	s.mux.HandleFunc("POST /ai/models/{id}/automl", s.handleAutoML)

	// No embedding cache or transformer registry service was built for this
	// implementation (see DESIGN.md): C1 computes embeddings inline per
	// training run with no standalone cacheable store, and nothing in
	// SPEC_FULL.md introduces a transformer registry. These routes are kept
	// in the table and answered explicitly rather than silently dropped.
	s.mux.HandleFunc("POST /ai/embeddings/cache/warmup", s.handleUnsupported)
	s.mux.HandleFunc("GET /ai/embeddings/cache/stats", s.handleUnsupported)
	s.mux.HandleFunc("GET /ai/transformers", s.handleUnsupported)
	s.mux.HandleFunc("POST /ai/transformers", s.handleUnsupported)
}

// Start runs the HTTP server, blocking until it exits.
func (s *Server) Start() error {
	addr := fmt.Sprintf(":%s", s.port)
	log.Printf("[api] listening on %s", addr)
	return http.ListenAndServe(addr, s.mux)
}

// Handler exposes the underlying mux, for tests that want httptest.Server
// without going through Start's blocking ListenAndServe.
func (s *Server) Handler() http.Handler {
	return s.mux
}

func writeEnvelope(w http.ResponseWriter, status int, env apierr.Envelope) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(env)
}

func writeOK(w http.ResponseWriter, data interface{}) {
	writeEnvelope(w, http.StatusOK, apierr.Ok(data))
}

func writeCreated(w http.ResponseWriter, data interface{}) {
	writeEnvelope(w, http.StatusCreated, apierr.Ok(data))
}

func writeErr(w http.ResponseWriter, err error) {
	env, status := apierr.Fail(err)
	writeEnvelope(w, status, env)
}

func decodeBody(r *http.Request, dst interface{}) error {
	if err := json.NewDecoder(r.Body).Decode(dst); err != nil {
		return apierr.Validation("invalid request body: %v", err)
	}
	return nil
}

// callerKey identifies the caller for rate limiting only; see the package
// doc comment on why authentication itself is out of scope here.
func callerKey(r *http.Request) string {
	if u := r.Header.Get("X-User-ID"); u != "" {
		return u
	}
	return "anonymous"
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeOK(w, map[string]string{"status": "healthy"})
}

func (s *Server) handleReady(w http.ResponseWriter, r *http.Request) {
	if s.queue != nil {
		if _, err := s.queue.QueueLength(); err != nil {
			writeEnvelope(w, http.StatusServiceUnavailable, apierr.Envelope{Status: "error", Message: err.Error()})
			return
		}
	}
	writeOK(w, map[string]string{"status": "ready"})
}

func (s *Server) handleStats(w http.ResponseWriter, r *http.Request) {
	stats := map[string]interface{}{}
	if s.queue != nil {
		if n, err := s.queue.QueueLength(); err == nil {
			stats["queue_length"] = n
		}
	}
	if s.deployment != nil {
		stats["active_models"] = len(s.deployment.ActiveModelIDs())
	}
	if s.monitor != nil {
		stats["recent_alerts"] = len(s.monitor.RecentAlerts())
	}
	writeOK(w, stats)
}

func (s *Server) handleUnsupported(w http.ResponseWriter, r *http.Request) {
	writeErr(w, apierr.Wrap(apierr.KindValidation,
		"this deployment has no embedding cache or transformer registry service backing this route", nil))
}
