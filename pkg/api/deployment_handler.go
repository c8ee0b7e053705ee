package api

import (
	"net/http"

	"github.com/mlforge/core/pkg/apierr"
	"github.com/mlforge/core/pkg/models"
)

func (s *Server) handleModelHealth(w http.ResponseWriter, r *http.Request) {
	report, err := s.monitor.Health(r.PathValue("id"))
	if err != nil {
		writeErr(w, err)
		return
	}
	writeOK(w, report)
}

type driftRequest struct {
	Reference             map[string][]float64      `json:"reference,omitempty"`
	Current               map[string][]float64      `json:"current,omitempty"`
	CategoricalReference  map[string]map[string]int `json:"categorical_reference,omitempty"`
	CategoricalCurrent    map[string]map[string]int `json:"categorical_current,omitempty"`
}

// handleDrift runs numeric drift detection (PSI/KS/Wasserstein per feature)
// when numeric distributions are supplied, categorical chi-square drift
// when categorical counts are supplied, preferring numeric when both are
// present in the same call (spec.md §4.8.2).
func (s *Server) handleDrift(w http.ResponseWriter, r *http.Request) {
	var req driftRequest
	if err := decodeBody(r, &req); err != nil {
		writeErr(w, err)
		return
	}
	modelID := r.PathValue("id")
	if len(req.Reference) > 0 {
		report, err := s.monitor.DetectDrift(modelID, req.Reference, req.Current)
		if err != nil {
			writeErr(w, err)
			return
		}
		writeOK(w, report)
		return
	}
	if len(req.CategoricalReference) > 0 {
		writeOK(w, s.monitor.DetectCategoricalDrift(modelID, req.CategoricalReference, req.CategoricalCurrent))
		return
	}
	writeErr(w, apierr.Validation("drift request requires either numeric or categorical reference/current distributions"))
}

func (s *Server) handleDeploy(w http.ResponseWriter, r *http.Request) {
	var req models.DeployRequest
	if err := decodeBody(r, &req); err != nil {
		writeErr(w, err)
		return
	}
	dep, err := s.deployment.Deploy(r.PathValue("id"), &req)
	if err != nil {
		writeErr(w, err)
		return
	}
	writeCreated(w, dep)
}

func (s *Server) handleRollback(w http.ResponseWriter, r *http.Request) {
	dep, err := s.deployment.Rollback(r.PathValue("id"))
	if err != nil {
		writeErr(w, err)
		return
	}
	writeOK(w, dep)
}

func (s *Server) handleDeploymentHistory(w http.ResponseWriter, r *http.Request) {
	writeOK(w, s.deployment.History(r.PathValue("id")))
}
