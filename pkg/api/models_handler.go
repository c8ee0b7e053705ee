package api

import (
	"net/http"
	"strconv"
	"time"

	"github.com/google/uuid"

	"github.com/mlforge/core/pkg/apierr"
	"github.com/mlforge/core/pkg/models"
)

func (s *Server) handleCreateModel(w http.ResponseWriter, r *http.Request) {
	var req models.ModelCreateRequest
	if err := decodeBody(r, &req); err != nil {
		writeErr(w, err)
		return
	}
	if err := req.Validate(); err != nil {
		writeErr(w, apierr.Validation("%s", err.Error()))
		return
	}
	model := newModelRecord(&req)
	if err := s.store.SaveModel(model); err != nil {
		writeErr(w, apierr.Storage(err, "failed to save model %s", model.ID))
		return
	}
	writeCreated(w, model)
}

// newModelRecord exists so the handler does not need orchestrator.Service
// in scope just to register a model; CreateModel's ID-minting and status
// defaults are duplicated here at the same trivial size as the
// orchestrator's own (see pkg/orchestrator.Service.CreateModel), since both
// routes write the identical initial record shape and training is a
// separate async step dispatched through the queue either way.
func newModelRecord(req *models.ModelCreateRequest) *models.Model {
	now := time.Now().UTC()
	return &models.Model{
		ID:             uuid.New().String(),
		OwnerID:        req.OwnerID,
		Name:           req.Name,
		Description:    req.Description,
		Classification: req.Classification,
		Status:         models.ModelStatusCreated,
		Config: models.ModelConfig{
			Algorithm:    req.Algorithm,
			Parameters:   req.Parameters,
			FeatureNames: req.FeatureNames,
			TargetName:   req.TargetName,
			TextFeatures: req.TextFeatures,
			EmbeddingsOn: req.EmbeddingsOn,
		},
		TrainingData: &models.TrainingDataDescriptor{Source: req.TrainingSource},
		CreatedAt:    now,
		UpdatedAt:    now,
	}
}

func (s *Server) handleListModels(w http.ResponseWriter, r *http.Request) {
	owner := r.URL.Query().Get("owner_id")
	var (
		list []*models.Model
		err  error
	)
	if owner != "" {
		list, err = s.store.ListModelsByOwner(owner)
	} else {
		list, err = s.store.ListModels()
	}
	if err != nil {
		writeErr(w, apierr.Storage(err, "failed to list models"))
		return
	}
	writeOK(w, list)
}

func (s *Server) handleGetModel(w http.ResponseWriter, r *http.Request) {
	model, err := s.store.GetModel(r.PathValue("id"))
	if err != nil {
		writeErr(w, apierr.NotFound("model %s not found", r.PathValue("id")))
		return
	}
	writeOK(w, model)
}

func (s *Server) handleDeleteModel(w http.ResponseWriter, r *http.Request) {
	if err := s.store.DeleteModel(r.PathValue("id")); err != nil {
		writeErr(w, apierr.Storage(err, "failed to delete model %s", r.PathValue("id")))
		return
	}
	writeOK(w, map[string]string{"id": r.PathValue("id"), "status": "deleted"})
}

// handleTrainModel enqueues a training job rather than running C2
// synchronously: training is long-running and suspendable (spec.md §4.8
// "Scheduling model"), so the queue-backed worker loop runs it off the
// request path and the caller polls the job or the model's status.
func (s *Server) handleTrainModel(w http.ResponseWriter, r *http.Request) {
	modelID := r.PathValue("id")
	model, err := s.store.GetModel(modelID)
	if err != nil {
		writeErr(w, apierr.NotFound("model %s not found", modelID))
		return
	}
	job := &models.Job{
		ID:          uuid.New().String(),
		Type:        models.JobTypeModelTraining,
		Status:      models.JobStatusQueued,
		Priority:    1,
		SubmittedAt: time.Now().UTC(),
		OwnerID:     model.OwnerID,
		TaskSpec:    models.TaskSpec{ModelID: modelID, OwnerID: model.OwnerID},
	}
	if err := s.queue.Enqueue(job); err != nil {
		writeErr(w, apierr.Storage(err, "failed to enqueue training job for model %s", modelID))
		return
	}
	writeCreated(w, job)
}

func (s *Server) handleListVersions(w http.ResponseWriter, r *http.Request) {
	var stagePtr *models.Stage
	if stage := r.URL.Query().Get("stage"); stage != "" {
		st := models.Stage(stage)
		stagePtr = &st
	}
	versions, err := s.registry.ListVersions(r.PathValue("id"), stagePtr)
	if err != nil {
		writeErr(w, err)
		return
	}
	writeOK(w, versions)
}

type promoteRequest struct {
	Version string       `json:"version"`
	Stage   models.Stage `json:"stage"`
}

func (s *Server) handlePromote(w http.ResponseWriter, r *http.Request) {
	var req promoteRequest
	if err := decodeBody(r, &req); err != nil {
		writeErr(w, err)
		return
	}
	if err := s.registry.Promote(r.PathValue("id"), req.Version, req.Stage); err != nil {
		writeErr(w, err)
		return
	}
	writeOK(w, map[string]string{"status": "promoted"})
}

type archiveRequest struct {
	KeepCount int `json:"keep_count"`
}

func (s *Server) handleArchive(w http.ResponseWriter, r *http.Request) {
	var req archiveRequest
	if err := decodeBody(r, &req); err != nil {
		writeErr(w, err)
		return
	}
	if req.KeepCount <= 0 {
		req.KeepCount = 5
	}
	if err := s.registry.ArchiveOldVersions(r.PathValue("id"), req.KeepCount); err != nil {
		writeErr(w, err)
		return
	}
	writeOK(w, map[string]string{"status": "archived"})
}

func (s *Server) handleBestVersion(w http.ResponseWriter, r *http.Request) {
	metric := r.URL.Query().Get("metric")
	if metric == "" {
		metric = "accuracy"
	}
	entry, err := s.registry.BestVersion(r.PathValue("id"), metric)
	if err != nil {
		writeErr(w, err)
		return
	}
	writeOK(w, entry)
}

func (s *Server) handleListPredictions(w http.ResponseWriter, r *http.Request) {
	modelID := r.URL.Query().Get("model_id")
	if modelID == "" {
		writeErr(w, apierr.Validation("model_id query parameter is required"))
		return
	}
	limit := 50
	if l := r.URL.Query().Get("limit"); l != "" {
		if n, err := strconv.Atoi(l); err == nil && n > 0 {
			limit = n
		}
	}
	records, err := s.store.ListPredictionsByModel(modelID, limit)
	if err != nil {
		writeErr(w, apierr.Storage(err, "failed to list predictions for model %s", modelID))
		return
	}
	writeOK(w, records)
}
