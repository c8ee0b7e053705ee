package incremental

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/mlforge/core/pkg/apierr"
	"github.com/mlforge/core/pkg/dataprep"
	"github.com/mlforge/core/pkg/metadatastore"
	"github.com/mlforge/core/pkg/modellock"
	"github.com/mlforge/core/pkg/modelpool"
	"github.com/mlforge/core/pkg/models"
	"github.com/mlforge/core/pkg/storage"
	"github.com/mlforge/core/pkg/storage/plugins"
	"github.com/mlforge/core/pkg/training"
)

// Config tunes C6, sourced from AI_INCREMENTAL_* variables.
type Config struct {
	MaxBufferSize   int           // default 1000
	UpdateFrequency int           // default 100
	LearningRate    float64       // default 1e-4
	Epochs          int           // default 1-5; DefaultConfig picks 3
	HoldoutFraction float64       // default 0.2
	LockTimeout     time.Duration // default 10s
	StagingDir      string
	HistoryCap      int // per-model bound on update history, default 50
}

func DefaultConfig() Config {
	return Config{
		MaxBufferSize:   1000,
		UpdateFrequency: 100,
		LearningRate:    1e-4,
		Epochs:          3,
		HoldoutFraction: 0.2,
		LockTimeout:     10 * time.Second,
		StagingDir:      filepath.Join(os.TempDir(), "mlforge-incremental"),
		HistoryCap:      50,
	}
}

// UpdateRecord is one completed incremental fit (spec.md §4.6 "History").
type UpdateRecord struct {
	SamplesProcessed int                         `json:"samples_processed"`
	FinalLoss        float64                     `json:"final_loss"`
	Metrics          *models.PerformanceMetrics  `json:"metrics"`
	Timestamp        time.Time                   `json:"timestamp"`
}

// Service is the Incremental Learner (C6).
type Service struct {
	store   metadatastore.MetadataStore
	storage *storage.Service
	pool    *modelpool.Pool
	locks   *modellock.Registry
	cfg     Config

	mu      sync.Mutex
	states  map[string]*modelState
	history map[string][]UpdateRecord
}

// NewService wires C6 to the same metadata store, storage backend, model
// pool, and lock registry as C2/C5, so updates invalidate the exact entries
// C5 would otherwise serve stale (spec.md §4.6 "Update").
func NewService(store metadatastore.MetadataStore, storageService *storage.Service, pool *modelpool.Pool, locks *modellock.Registry, cfg Config) *Service {
	return &Service{
		store:   store,
		storage: storageService,
		pool:    pool,
		locks:   locks,
		cfg:     cfg,
		states:  make(map[string]*modelState),
		history: make(map[string][]UpdateRecord),
	}
}

func (s *Service) stateFor(modelID string) *modelState {
	s.mu.Lock()
	defer s.mu.Unlock()
	st, ok := s.states[modelID]
	if !ok {
		st = &modelState{buffer: newRingBuffer(s.cfg.MaxBufferSize)}
		s.states[modelID] = st
	}
	return st
}

// Feed appends one labeled row to the model's buffer and triggers an update
// once UpdateFrequency rows have accumulated, unless an update is already in
// flight (spec.md §4.6 "Buffering", "Concurrency").
func (s *Service) Feed(modelID string, row map[string]interface{}) error {
	st := s.stateFor(modelID)
	st.mu.Lock()
	st.buffer.push(row)
	ready := st.buffer.len() >= s.cfg.UpdateFrequency && !st.updating
	st.mu.Unlock()

	if !ready {
		return nil
	}
	return s.triggerUpdate(modelID, st, false)
}

// ForceUpdate runs an update immediately using whatever rows are currently
// buffered, regardless of UpdateFrequency. If an update is already in
// flight it returns without error and performs no new update (spec.md §4.6
// "Concurrency").
func (s *Service) ForceUpdate(modelID string) error {
	st := s.stateFor(modelID)
	return s.triggerUpdate(modelID, st, true)
}

func (s *Service) triggerUpdate(modelID string, st *modelState, forced bool) error {
	st.mu.Lock()
	if st.updating {
		st.mu.Unlock()
		return nil
	}
	if st.buffer.len() == 0 {
		st.mu.Unlock()
		return nil
	}
	st.updating = true
	rows := st.buffer.drain()
	st.mu.Unlock()

	err := s.runUpdate(modelID, rows)

	st.mu.Lock()
	st.updating = false
	st.mu.Unlock()

	if err != nil && !forced {
		// Buffer-driven triggers re-queue the rows on failure so they aren't
		// silently lost; forced updates leave that to the caller.
		st.mu.Lock()
		for _, r := range rows {
			st.buffer.push(r)
		}
		st.mu.Unlock()
	}
	return err
}

// runUpdate performs the actual fine-tune-and-republish cycle under the
// shared advisory lock.
func (s *Service) runUpdate(modelID string, rows []map[string]interface{}) error {
	model, err := s.store.GetModel(modelID)
	if err != nil {
		return apierr.NotFound("model %s not found", modelID)
	}
	if model.Status != models.ModelStatusReady || model.CurrentVersion == "" {
		return apierr.Wrap(apierr.KindTraining, "model "+modelID+" has no ready version to update", nil)
	}
	currentVersion := model.CurrentVersion

	release, err := s.locks.Acquire(modelID, s.cfg.LockTimeout)
	if err != nil {
		return err
	}
	defer release()

	dir, err := s.storage.FetchVersion(modelID, currentVersion)
	if err != nil {
		return apierr.Storage(err, "failed to fetch current version %s/%s", modelID, currentVersion)
	}
	artifact, err := loadArtifact(dir)
	if err != nil {
		return err
	}
	meta, err := loadMetadata(dir)
	if err != nil {
		return apierr.Storage(err, "version %s/%s is missing preprocessing metadata, cannot replay (I1)", modelID, currentVersion)
	}

	features := make([][]float64, 0, len(rows))
	labels := make([][]float64, 0, len(rows))
	for _, row := range rows {
		vec, err := dataprep.TransformInput(meta, row)
		if err != nil {
			continue
		}
		features = append(features, vec)
		labels = append(labels, dataprep.TransformLabel(meta, row))
	}
	if len(features) == 0 {
		return apierr.Validation("no buffered rows survived preprocessing for model %s", modelID)
	}

	holdout := int(float64(len(features)) * s.cfg.HoldoutFraction)
	if holdout < 1 && len(features) > 1 {
		holdout = 1
	}
	trainFeatures, trainLabels := features[holdout:], labels[holdout:]
	valFeatures, valLabels := features[:holdout], labels[:holdout]
	if len(trainFeatures) == 0 {
		trainFeatures, trainLabels = features, labels
		valFeatures, valLabels = features, labels
	}

	numClasses := len(meta.TargetCategories)
	if numClasses == 0 {
		numClasses = 1
	}
	trainCfg := training.Config{
		Algorithm:      artifact.Algorithm,
		Classification: model.Classification,
		NumClasses:     numClasses,
		LearningRate:   s.cfg.LearningRate,
		Epochs:         s.cfg.Epochs,
		BatchSize:      len(trainFeatures),
		Seed:           time.Now().UnixNano(),
	}

	result, err := training.Finetune(artifact, trainCfg, trainFeatures, valFeatures, trainLabels, valLabels, model.Config.FeatureNames)
	if err != nil {
		return apierr.Training(err, "incremental fine-tune failed for model %s", modelID)
	}

	// "Save in place" (spec.md §4.6) and Open Question (a) (spec.md §9,
	// resolved per the source's own behavior): an incremental update
	// republishes the SAME version directory and updates that version's
	// recorded performance, rather than minting a new registry entry the
	// way a full retrain (C2's nextVersion) does.
	stagingDir := filepath.Join(s.cfg.StagingDir, modelID, currentVersion)
	if err := stageVersion(stagingDir, result, meta); err != nil {
		return apierr.Storage(err, "failed to stage incremental update for %s/%s", modelID, currentVersion)
	}
	manifest := &models.ModelManifest{
		ModelID:      modelID,
		Version:      currentVersion,
		WeightShards: []string{"weights.json"},
		PrepFile:     "prep.json",
	}
	if err := plugins.WriteManifest(stagingDir, manifest); err != nil {
		return apierr.Storage(err, "failed to write manifest for %s/%s", modelID, currentVersion)
	}
	if _, err := s.storage.SaveVersion(modelID, currentVersion, stagingDir); err != nil {
		return apierr.Storage(err, "failed to republish %s/%s", modelID, currentVersion)
	}
	_ = os.RemoveAll(stagingDir)

	now := time.Now().UTC()
	for i := range model.Versions {
		if model.Versions[i].Version == currentVersion {
			model.Versions[i].Performance = result.PerformanceMetrics
			break
		}
	}
	model.PerformanceMetrics = result.PerformanceMetrics
	model.UpdatedAt = now
	if err := s.store.SaveModel(model); err != nil {
		return apierr.Storage(err, "failed to save incrementally-updated model %s", modelID)
	}

	s.pool.Invalidate(modelpool.Key{ModelID: modelID, Version: currentVersion})

	s.mu.Lock()
	hist := append(s.history[modelID], UpdateRecord{
		SamplesProcessed: len(rows),
		FinalLoss:        result.TrainingMetrics.FinalTrainLoss,
		Metrics:          result.PerformanceMetrics,
		Timestamp:        now,
	})
	if len(hist) > s.cfg.HistoryCap {
		hist = hist[len(hist)-s.cfg.HistoryCap:]
	}
	s.history[modelID] = hist
	s.mu.Unlock()

	return nil
}

// History returns the bounded per-update history for a model.
func (s *Service) History(modelID string) []UpdateRecord {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]UpdateRecord{}, s.history[modelID]...)
}

// TrackedModels returns the IDs of every model with a buffer state (fed at
// least once), for a scheduler's periodic time-based flush to iterate
// without needing to introspect buffer contents directly.
func (s *Service) TrackedModels() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	ids := make([]string, 0, len(s.states))
	for id := range s.states {
		ids = append(ids, id)
	}
	return ids
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

func stageVersion(dir string, result *training.Result, meta *models.PreprocessingMetadata) error {
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
	prep, err := json.Marshal(meta)
	if err != nil {
		return fmt.Errorf("failed to marshal preprocessing metadata: %w", err)
	}
	return os.WriteFile(filepath.Join(dir, "prep.json"), prep, 0o644)
}

