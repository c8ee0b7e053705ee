// Package orchestrator implements C2, the Training Orchestrator: given a
// create-model request and a model ID, it produces a trained, persisted,
// versioned artifact with preprocessing metadata and registered performance
// (spec.md §4.2). Grounded on the teacher's pkg/mlmodel/service.go lifecycle
// pattern (CreateModel/StartTraining/CompleteTraining/FailTraining), adapted
// to the new Model/VersionEntry shape and wired to pkg/dataprep and
// pkg/training instead of a worker-queue handoff to out-of-process code.
package orchestrator

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.mongodb.org/mongo-driver/mongo"

	"github.com/mlforge/core/pkg/apierr"
	"github.com/mlforge/core/pkg/dataprep"
	"github.com/mlforge/core/pkg/metadatastore"
	"github.com/mlforge/core/pkg/modellock"
	"github.com/mlforge/core/pkg/models"
	"github.com/mlforge/core/pkg/storage"
	"github.com/mlforge/core/pkg/storage/plugins"
	"github.com/mlforge/core/pkg/training"
)

// Config tunes the orchestrator's defaults, sourced from the AI_* variables
// in spec.md §6.
type Config struct {
	RowCap       int           // AI_TRAIN_LIMIT, default 50000
	LockTimeout  time.Duration // default 10s
	KeepVersions int           // default 5, enforced by the registry (C7), not here
	StagingDir   string        // local scratch directory for staged versions
	Seed         int64         // AI_TRAIN_SEED default
	Epochs       int           // AI_TRAIN_EPOCHS default
	BatchSize    int           // AI_BATCH_SIZE default
	LearningRate float64       // AI_LEARNING_RATE default
}

// DefaultConfig returns spec.md §6's documented defaults.
func DefaultConfig() Config {
	return Config{
		RowCap:       50000,
		LockTimeout:  10 * time.Second,
		KeepVersions: 5,
		StagingDir:   filepath.Join(os.TempDir(), "mlforge-staging"),
		Seed:         42,
		Epochs:       20,
		BatchSize:    32,
		LearningRate: 0.001,
	}
}

// Service is the Training Orchestrator.
type Service struct {
	store       metadatastore.MetadataStore
	storage     *storage.Service
	mongoClient *mongo.Client
	locks       *modellock.Registry
	cfg         Config
}

// NewService wires the orchestrator to its metadata store, storage backend,
// and (optional) Mongo client for document-store training sources. locks is
// shared with C6 (pkg/incremental) so full retrains and incremental updates
// can never race the same model's version directory.
func NewService(store metadatastore.MetadataStore, storageService *storage.Service, mongoClient *mongo.Client, locks *modellock.Registry, cfg Config) *Service {
	return &Service{
		store:       store,
		storage:     storageService,
		mongoClient: mongoClient,
		locks:       locks,
		cfg:         cfg,
	}
}

// CreateModel registers a new model record in status=created (spec.md §3
// "Lifecycle"). Training is a separate explicit step via Train.
func (s *Service) CreateModel(req *models.ModelCreateRequest) (*models.Model, error) {
	if err := req.Validate(); err != nil {
		return nil, apierr.Wrap(apierr.KindValidation, err.Error(), err)
	}

	now := time.Now().UTC()
	model := &models.Model{
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
	if err := s.store.SaveModel(model); err != nil {
		return nil, apierr.Storage(err, "failed to save model %s", model.ID)
	}
	return model, nil
}

// Train runs the full C2 pipeline for an existing model: fetch rows, prepare
// the dataset via C1, fit the configured network via pkg/training, persist
// the result via C3 under the model's advisory lock, and flip status to
// ready (or error on failure).
func (s *Service) Train(ctx context.Context, modelID string) (*models.Model, error) {
	model, err := s.store.GetModel(modelID)
	if err != nil {
		return nil, apierr.NotFound("model %s not found", modelID)
	}
	if model.Status == models.ModelStatusTraining {
		return nil, apierr.Conflict("model %s is already training", modelID)
	}

	release, err := s.locks.Acquire(modelID, s.cfg.LockTimeout)
	if err != nil {
		return nil, err
	}
	defer release()

	model.Status = models.ModelStatusTraining
	model.UpdatedAt = time.Now().UTC()
	if err := s.store.SaveModel(model); err != nil {
		return nil, apierr.Storage(err, "failed to mark model %s training", modelID)
	}

	result, meta, recordCount, hash, trainErr := s.runTraining(ctx, model)
	if trainErr != nil {
		return s.failTraining(model, trainErr)
	}

	version := nextVersion(model.CurrentVersion)
	stagingDir := filepath.Join(s.cfg.StagingDir, modelID, version)

	if err := stageVersion(stagingDir, result, meta); err != nil {
		return s.failTraining(model, apierr.Storage(err, "failed to stage version %s", version))
	}
	manifest := &models.ModelManifest{
		ModelID:      modelID,
		Version:      version,
		WeightShards: []string{"weights.json"},
		PrepFile:     "prep.json",
	}
	if err := plugins.WriteManifest(stagingDir, manifest); err != nil {
		return s.failTraining(model, apierr.Storage(err, "failed to write manifest for %s/%s", modelID, version))
	}

	uri, err := s.storage.SaveVersion(modelID, version, stagingDir)
	if err != nil {
		return s.failTraining(model, apierr.Storage(err, "failed to publish version %s", version))
	}
	_ = os.RemoveAll(stagingDir)

	now := time.Now().UTC()
	model.Versions = append(model.Versions, models.VersionEntry{
		Version:     version,
		Stage:       models.StageStaging,
		Performance: result.PerformanceMetrics,
		StorageURI:  uri,
		CreatedAt:   now,
	})
	model.CurrentVersion = version
	model.Status = models.ModelStatusReady
	model.PerformanceMetrics = result.PerformanceMetrics
	model.TrainingData.RecordCount = recordCount
	model.TrainingData.Seed = s.cfg.Seed
	model.TrainingData.DatasetHash = hash
	model.TrainingData.Epochs = result.TrainingMetrics.Epochs
	model.ErrorMessage = ""
	model.UpdatedAt = now

	if err := s.store.SaveModel(model); err != nil {
		return nil, apierr.Storage(err, "failed to save trained model %s", modelID)
	}
	return model, nil
}

func (s *Service) runTraining(ctx context.Context, model *models.Model) (*training.Result, *dataprepMeta, int, string, error) {
	source := ""
	if model.TrainingData != nil {
		source = model.TrainingData.Source
	}
	rows, err := FetchTrainingRows(ctx, s.mongoClient, source, s.cfg.RowCap)
	if err != nil {
		return nil, nil, 0, "", err
	}

	textFeatures := make(map[string]bool, len(model.Config.TextFeatures))
	for _, f := range model.Config.TextFeatures {
		textFeatures[f] = true
	}

	ds, err := dataprep.PrepareDataset(rows, dataprep.Options{
		FeatureNames:   model.Config.FeatureNames,
		TargetName:     model.Config.TargetName,
		TextFeatures:   textFeatures,
		Classification: model.Classification,
		Seed:           s.cfg.Seed,
		EmbeddingsEnabled: model.Config.EmbeddingsOn,
	})
	if err != nil {
		return nil, nil, 0, "", err
	}

	numClasses := 1
	if model.Classification == models.ClassificationTask {
		numClasses = len(ds.Metadata.TargetCategories)
		if numClasses == 0 {
			numClasses = 1
		}
	}

	trainCfg := training.Config{
		Algorithm:      model.Config.Algorithm,
		Classification: model.Classification,
		NumClasses:     numClasses,
		LearningRate:   paramFloat(model.Config.Parameters, "learning_rate", s.cfg.LearningRate),
		Epochs:         paramInt(model.Config.Parameters, "epochs", s.cfg.Epochs),
		BatchSize:      paramInt(model.Config.Parameters, "batch_size", s.cfg.BatchSize),
		Seed:           s.cfg.Seed,
	}

	result, err := training.Train(trainCfg, ds.TrainFeatures, ds.ValFeatures, ds.TrainLabels, ds.ValLabels, model.Config.FeatureNames)
	if err != nil {
		return nil, nil, 0, "", err
	}
	return result, &dataprepMeta{meta: ds.Metadata}, ds.RecordCount, ds.DatasetHash, nil
}

// dataprepMeta avoids importing dataprep's concrete type into the return
// signature of an unexported helper split across two files.
type dataprepMeta struct {
	meta *models.PreprocessingMetadata
}

func (s *Service) failTraining(model *models.Model, cause error) (*models.Model, error) {
	model.Status = models.ModelStatusError
	model.ErrorMessage = cause.Error()
	model.UpdatedAt = time.Now().UTC()
	if err := s.store.SaveModel(model); err != nil {
		return nil, apierr.Storage(err, "failed to save failed model %s", model.ID)
	}
	return nil, cause
}

func stageVersion(dir string, result *training.Result, meta *dataprepMeta) error {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return err
	}
	weights, err := json.Marshal(result.Model)
	if err != nil {
		return fmt.Errorf("failed to marshal model weights: %w", err)
	}
	if err := os.WriteFile(filepath.Join(dir, "weights.json"), weights, 0o644); err != nil {
		return err
	}
	prep, err := json.Marshal(meta.meta)
	if err != nil {
		return fmt.Errorf("failed to marshal preprocessing metadata: %w", err)
	}
	return os.WriteFile(filepath.Join(dir, "prep.json"), prep, 0o644)
}

// nextVersion bumps the minor component of a semver string for a full
// retrain. Incremental updates (C6) never mint a new version at all — per
// spec.md §9 Open Question (a), they republish in place and update the
// existing version entry's recorded performance.
func nextVersion(current string) string {
	if current == "" {
		return "1.0.0"
	}
	parts := strings.SplitN(current, ".", 3)
	if len(parts) != 3 {
		return "1.0.0"
	}
	major, err1 := strconv.Atoi(parts[0])
	minor, err2 := strconv.Atoi(parts[1])
	if err1 != nil || err2 != nil {
		return "1.0.0"
	}
	return fmt.Sprintf("%d.%d.0", major, minor+1)
}

func paramFloat(params map[string]interface{}, key string, fallback float64) float64 {
	if v, ok := params[key]; ok {
		switch n := v.(type) {
		case float64:
			return n
		case int:
			return float64(n)
		}
	}
	return fallback
}

func paramInt(params map[string]interface{}, key string, fallback int) int {
	if v, ok := params[key]; ok {
		switch n := v.(type) {
		case float64:
			return int(n)
		case int:
			return n
		}
	}
	return fallback
}
