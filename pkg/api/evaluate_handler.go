package api

import (
	"encoding/json"
	"fmt"
	"math/rand"
	"net/http"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"

	"github.com/mlforge/core/pkg/apierr"
	"github.com/mlforge/core/pkg/dataprep"
	"github.com/mlforge/core/pkg/models"
	"github.com/mlforge/core/pkg/training"
)

// loadArtifactAndMeta fetches a published version's weights and
// preprocessing metadata, the same small pattern pkg/incremental and
// pkg/registry each repeat locally rather than share (see DESIGN.md).
func (s *Server) loadArtifactAndMeta(modelID, version string) (*training.Artifact, *models.PreprocessingMetadata, error) {
	dir, err := s.storageSvc.FetchVersion(modelID, version)
	if err != nil {
		return nil, nil, apierr.Storage(err, "failed to fetch %s/%s", modelID, version)
	}
	weights, err := os.ReadFile(filepath.Join(dir, "weights.json"))
	if err != nil {
		return nil, nil, apierr.Storage(err, "failed to read weights for %s/%s", modelID, version)
	}
	var artifact training.Artifact
	if err := json.Unmarshal(weights, &artifact); err != nil {
		return nil, nil, apierr.Storage(err, "failed to parse weights for %s/%s", modelID, version)
	}
	prep, err := os.ReadFile(filepath.Join(dir, "prep.json"))
	if err != nil {
		return nil, nil, apierr.Storage(err, "failed to read preprocessing metadata for %s/%s", modelID, version)
	}
	var meta models.PreprocessingMetadata
	if err := json.Unmarshal(prep, &meta); err != nil {
		return nil, nil, apierr.Storage(err, "failed to parse preprocessing metadata for %s/%s", modelID, version)
	}
	return &artifact, &meta, nil
}

type testSetRequest struct {
	Version string                   `json:"version"`
	Rows    []map[string]interface{} `json:"rows"`
}

func (s *Server) prepareTestSet(modelID string, req testSetRequest) (*models.Model, *training.Artifact, [][]float64, [][]float64, error) {
	model, err := s.store.GetModel(modelID)
	if err != nil {
		return nil, nil, nil, nil, apierr.NotFound("model %s not found", modelID)
	}
	version := req.Version
	if version == "" {
		version = model.CurrentVersion
	}
	artifact, meta, err := s.loadArtifactAndMeta(modelID, version)
	if err != nil {
		return nil, nil, nil, nil, err
	}
	features := make([][]float64, 0, len(req.Rows))
	labels := make([][]float64, 0, len(req.Rows))
	for _, row := range req.Rows {
		vec, err := dataprep.TransformInput(meta, row)
		if err != nil {
			continue
		}
		features = append(features, vec)
		labels = append(labels, dataprep.TransformLabel(meta, row))
	}
	if len(features) == 0 {
		return nil, nil, nil, nil, apierr.Validation("no test rows survived preprocessing for model %s", modelID)
	}
	return model, artifact, features, labels, nil
}

// handleEvaluate scores an already-trained version against a caller-supplied
// test set without retraining it (spec.md §6 "POST /ai/models/:id/evaluate").
func (s *Server) handleEvaluate(w http.ResponseWriter, r *http.Request) {
	var req testSetRequest
	if err := decodeBody(r, &req); err != nil {
		writeErr(w, err)
		return
	}
	model, artifact, features, labels, err := s.prepareTestSet(r.PathValue("id"), req)
	if err != nil {
		writeErr(w, err)
		return
	}
	numClasses := 1
	if model.Classification == models.ClassificationTask {
		numClasses = countClasses(labels)
	}
	cfg := training.Config{Algorithm: artifact.Algorithm, Classification: model.Classification, NumClasses: numClasses}
	metrics, err := training.Evaluate(artifact, features, labels, cfg)
	if err != nil {
		writeErr(w, err)
		return
	}
	writeOK(w, metrics)
}

func countClasses(labels [][]float64) int {
	if len(labels) == 0 {
		return 1
	}
	n := len(labels[0])
	if n == 0 {
		return 1
	}
	return n
}

// handleFeatureImportance computes permutation importance: for each feature
// column, shuffle it across the test rows and measure the drop in score,
// matching spec.md §6's "Permutation-based importance".
func (s *Server) handleFeatureImportance(w http.ResponseWriter, r *http.Request) {
	var req testSetRequest
	if err := decodeBody(r, &req); err != nil {
		writeErr(w, err)
		return
	}
	model, artifact, features, labels, err := s.prepareTestSet(r.PathValue("id"), req)
	if err != nil {
		writeErr(w, err)
		return
	}
	numClasses := countClasses(labels)
	cfg := training.Config{Algorithm: artifact.Algorithm, Classification: model.Classification, NumClasses: numClasses}

	base, err := training.Evaluate(artifact, features, labels, cfg)
	if err != nil {
		writeErr(w, err)
		return
	}
	baseScore := scoreHigherIsBetter(base, model.Classification)

	rng := rand.New(rand.NewSource(1))
	numFeatures := len(features[0])
	importance := make(map[string]float64, numFeatures)
	for col := 0; col < numFeatures; col++ {
		permuted := permuteColumn(features, col, rng)
		permMetrics, err := training.Evaluate(artifact, permuted, labels, cfg)
		if err != nil {
			continue
		}
		importance[featureLabel(model.Config.FeatureNames, col, numFeatures)] = baseScore - scoreHigherIsBetter(permMetrics, model.Classification)
	}
	writeOK(w, importance)
}

func scoreHigherIsBetter(p *models.PerformanceMetrics, classification models.ModelClassification) float64 {
	if classification == models.ClassificationTask {
		return p.Accuracy
	}
	return -p.RMSE
}

func featureLabel(names []string, col, numFeatures int) string {
	if len(names) == numFeatures && names[col] != "" {
		return names[col]
	}
	return fmt.Sprintf("feature_%d", col)
}

func permuteColumn(features [][]float64, col int, rng *rand.Rand) [][]float64 {
	out := make([][]float64, len(features))
	column := make([]float64, len(features))
	for i, row := range features {
		out[i] = append([]float64(nil), row...)
		column[i] = row[col]
	}
	rng.Shuffle(len(column), func(i, j int) { column[i], column[j] = column[j], column[i] })
	for i := range out {
		out[i][col] = column[i]
	}
	return out
}

// handleAutoML enqueues a budgeted hyperparameter search as a background
// job (spec.md §4.8.4): the search loop fits dozens of trial configurations
// and is long-running the same way a full training run is.
func (s *Server) handleAutoML(w http.ResponseWriter, r *http.Request) {
	modelID := r.PathValue("id")
	if _, err := s.store.GetModel(modelID); err != nil {
		writeErr(w, apierr.NotFound("model %s not found", modelID))
		return
	}
	var params map[string]interface{}
	_ = decodeBody(r, &params)

	job := &models.Job{
		ID:          uuid.New().String(),
		Type:        models.JobTypeAutoMLTrial,
		Status:      models.JobStatusQueued,
		Priority:    1,
		SubmittedAt: time.Now().UTC(),
		TaskSpec:    models.TaskSpec{ModelID: modelID, Parameters: params},
	}
	if err := s.queue.Enqueue(job); err != nil {
		writeErr(w, apierr.Storage(err, "failed to enqueue AutoML search for model %s", modelID))
		return
	}
	writeCreated(w, job)
}
