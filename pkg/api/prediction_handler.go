package api

import (
	"net/http"
	"time"

	"github.com/google/uuid"

	"github.com/mlforge/core/pkg/apierr"
	"github.com/mlforge/core/pkg/models"
	"github.com/mlforge/core/pkg/prediction"
)

type predictRequest struct {
	ModelID string                 `json:"model_id"`
	Input   map[string]interface{} `json:"input"`
	Version string                 `json:"version,omitempty"`
}

// handlePredict is rate-limited per (caller, route) at AI_RATE_LIMIT_PREDICT
// requests per AI_RATE_LIMIT_WINDOW (spec.md §6).
func (s *Server) handlePredict(w http.ResponseWriter, r *http.Request) {
	if !s.predictLimiter.Allow(callerKey(r)) {
		writeErr(w, apierr.ResourceLimit(1, "predict rate limit exceeded for caller"))
		return
	}
	var req predictRequest
	if err := decodeBody(r, &req); err != nil {
		writeErr(w, err)
		return
	}
	record, err := s.prediction.Predict(prediction.Request{ModelID: req.ModelID, Input: req.Input, Version: req.Version})
	if err != nil {
		writeErr(w, err)
		return
	}
	writeOK(w, record)
}

type batchPredictRequest struct {
	ModelID string                   `json:"model_id"`
	Version string                   `json:"version,omitempty"`
	Rows    []map[string]interface{} `json:"rows"`
}

func (s *Server) handleBatchPredict(w http.ResponseWriter, r *http.Request) {
	if !s.batchLimiter.Allow(callerKey(r)) {
		writeErr(w, apierr.ResourceLimit(1, "batch predict rate limit exceeded for caller"))
		return
	}
	var req batchPredictRequest
	if err := decodeBody(r, &req); err != nil {
		writeErr(w, err)
		return
	}
	result, err := s.prediction.BatchPredict(req.ModelID, req.Version, req.Rows)
	if err != nil {
		writeErr(w, err)
		return
	}
	writeOK(w, result)
}

// handleFeedback records feedback against a prediction and always feeds C6's
// buffer; when the caller sets trigger_learning it additionally enqueues an
// immediate incremental-update job instead of waiting for the buffer
// threshold (spec.md §4.6 "Buffering").
func (s *Server) handleFeedback(w http.ResponseWriter, r *http.Request) {
	predictionID := r.PathValue("id")
	var req models.FeedbackRequest
	if err := decodeBody(r, &req); err != nil {
		writeErr(w, err)
		return
	}

	record, err := s.store.GetPrediction(predictionID)
	if err != nil {
		writeErr(w, apierr.NotFound("prediction %s not found", predictionID))
		return
	}

	entry := &models.FeedbackEntry{
		PredictionID: predictionID,
		ActualValue:  req.ActualValue,
		IsCorrect:    req.IsCorrect,
		Comment:      req.Comment,
		ProvidedBy:   req.ProviderID,
		SubmittedAt:  time.Now().UTC(),
	}
	if err := s.store.RecordFeedback(predictionID, entry); err != nil {
		writeErr(w, apierr.Storage(err, "failed to record feedback for prediction %s", predictionID))
		return
	}

	if s.incremental != nil {
		row := cloneRow(record.Input)
		row["_actual"] = req.ActualValue
		_ = s.incremental.Feed(record.ModelID, row)
	}

	if req.TriggerLearning && s.queue != nil {
		job := &models.Job{
			ID:          uuid.New().String(),
			Type:        models.JobTypeIncrementalUpdate,
			Status:      models.JobStatusQueued,
			Priority:    2,
			SubmittedAt: time.Now().UTC(),
			TaskSpec:    models.TaskSpec{ModelID: record.ModelID},
		}
		if err := s.queue.Enqueue(job); err != nil {
			writeErr(w, apierr.Storage(err, "failed to enqueue incremental update for model %s", record.ModelID))
			return
		}
	}
	writeOK(w, map[string]string{"status": "recorded"})
}

func cloneRow(row map[string]interface{}) map[string]interface{} {
	out := make(map[string]interface{}, len(row)+1)
	for k, v := range row {
		out[k] = v
	}
	return out
}

// handleIncrementalUpdate forces an immediate flush of whatever is buffered
// for the model, bypassing UpdateFrequency (spec.md §4.6 "forceIncrementalUpdate").
func (s *Server) handleIncrementalUpdate(w http.ResponseWriter, r *http.Request) {
	modelID := r.PathValue("id")
	job := &models.Job{
		ID:          uuid.New().String(),
		Type:        models.JobTypeIncrementalUpdate,
		Status:      models.JobStatusQueued,
		Priority:    2,
		SubmittedAt: time.Now().UTC(),
		TaskSpec:    models.TaskSpec{ModelID: modelID},
	}
	if err := s.queue.Enqueue(job); err != nil {
		writeErr(w, apierr.Storage(err, "failed to enqueue incremental update for model %s", modelID))
		return
	}
	writeCreated(w, job)
}

func (s *Server) handleIncrementalHistory(w http.ResponseWriter, r *http.Request) {
	writeOK(w, s.incremental.History(r.PathValue("id")))
}

type startABTestRequest struct {
	ModelID       string `json:"model_id"`
	VersionA      string `json:"version_a"`
	VersionB      string `json:"version_b"`
	TrafficSplitB int    `json:"traffic_split_b"`
	MinSamples    int    `json:"min_samples"`
}

func (s *Server) handleStartABTest(w http.ResponseWriter, r *http.Request) {
	var req startABTestRequest
	if err := decodeBody(r, &req); err != nil {
		writeErr(w, err)
		return
	}
	id := uuid.New().String()
	if err := s.registry.StartTest(id, req.ModelID, req.VersionA, req.VersionB, req.TrafficSplitB, req.MinSamples); err != nil {
		writeErr(w, err)
		return
	}
	writeCreated(w, map[string]string{"id": id})
}

func (s *Server) handleGetABTest(w http.ResponseWriter, r *http.Request) {
	metric := r.URL.Query().Get("metric")
	if metric == "" {
		metric = "accuracy"
	}
	test, err := s.registry.Results(r.PathValue("id"), metric)
	if err != nil {
		writeErr(w, err)
		return
	}
	writeOK(w, test)
}

func (s *Server) handleStopABTest(w http.ResponseWriter, r *http.Request) {
	if err := s.registry.StopTest(r.PathValue("id")); err != nil {
		writeErr(w, err)
		return
	}
	writeOK(w, map[string]string{"status": "stopped"})
}
