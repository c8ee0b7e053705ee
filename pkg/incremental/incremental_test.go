package incremental

import (
	"encoding/json"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/mlforge/core/pkg/modellock"
	"github.com/mlforge/core/pkg/modelpool"
	"github.com/mlforge/core/pkg/models"
	"github.com/mlforge/core/pkg/storage"
	"github.com/mlforge/core/pkg/storage/plugins"
	"github.com/mlforge/core/pkg/training"
)

func TestRingBufferDropsOldestOverCap(t *testing.T) {
	b := newRingBuffer(2)
	b.push(map[string]interface{}{"v": 1})
	b.push(map[string]interface{}{"v": 2})
	b.push(map[string]interface{}{"v": 3})
	if b.len() != 2 {
		t.Fatalf("expected capped length 2, got %d", b.len())
	}
	rows := b.drain()
	if rows[0]["v"] != 2 || rows[1]["v"] != 3 {
		t.Errorf("expected oldest row dropped, got %v", rows)
	}
	if b.len() != 0 {
		t.Error("expected buffer empty after drain")
	}
}

// fakeStore is a minimal metadatastore.MetadataStore for incremental tests.
type fakeStore struct {
	models map[string]*models.Model
}

func newFakeStore() *fakeStore { return &fakeStore{models: make(map[string]*models.Model)} }

func (f *fakeStore) SaveModel(m *models.Model) error { f.models[m.ID] = m; return nil }
func (f *fakeStore) GetModel(id string) (*models.Model, error) {
	m, ok := f.models[id]
	if !ok {
		return nil, os.ErrNotExist
	}
	return m, nil
}
func (f *fakeStore) ListModels() ([]*models.Model, error)              { return nil, nil }
func (f *fakeStore) ListModelsByOwner(string) ([]*models.Model, error) { return nil, nil }
func (f *fakeStore) DeleteModel(string) error                         { return nil }
func (f *fakeStore) SavePrediction(*models.PredictionRecord) error     { return nil }
func (f *fakeStore) GetPrediction(string) (*models.PredictionRecord, error) {
	return nil, nil
}
func (f *fakeStore) ListPredictionsByModel(string, int) ([]*models.PredictionRecord, error) {
	return nil, nil
}
func (f *fakeStore) RecordFeedback(string, *models.FeedbackEntry) error { return nil }
func (f *fakeStore) SaveDeployment(*models.Deployment) error            { return nil }
func (f *fakeStore) GetDeployment(string) (*models.Deployment, error)   { return nil, nil }
func (f *fakeStore) ListDeploymentsByModel(string) ([]*models.Deployment, error) {
	return nil, nil
}
func (f *fakeStore) SaveABTest(*models.ABTest) error              { return nil }
func (f *fakeStore) GetABTest(string) (*models.ABTest, error)     { return nil, nil }
func (f *fakeStore) ListActiveABTests() ([]*models.ABTest, error) { return nil, nil }

func setup(t *testing.T) (*Service, *fakeStore) {
	t.Helper()
	tmp := t.TempDir()

	local := plugins.NewLocalPlugin()
	if err := local.Initialize(&models.PluginConfig{ConnectionString: tmp}); err != nil {
		t.Fatal(err)
	}
	storageSvc := storage.NewService()
	storageSvc.RegisterPlugin("local", local)

	artifact := &training.Artifact{
		Algorithm: models.AlgorithmDenseNN,
		Dense:     training.BuildDenseNN(1, 2, 2, true),
	}
	meta := &models.PreprocessingMetadata{
		FeatureOrder:     []string{"a", "b"},
		TargetName:       "label",
		FeatureTypes:     map[string]models.FeatureType{"a": models.FeatureNumeric, "b": models.FeatureNumeric},
		Normalization:    []models.NormalizationStats{{Mean: 0, Std: 1}, {Mean: 0, Std: 1}},
		TargetCategories: []string{"low", "high"},
		LabelDimension:   2,
	}

	stageDir := filepath.Join(tmp, "staging")
	os.MkdirAll(stageDir, 0o755)
	weightsData, _ := json.Marshal(artifact)
	os.WriteFile(filepath.Join(stageDir, "weights.json"), weightsData, 0o644)
	prepData, _ := json.Marshal(meta)
	os.WriteFile(filepath.Join(stageDir, "prep.json"), prepData, 0o644)
	plugins.WriteManifest(stageDir, &models.ModelManifest{ModelID: "m1", Version: "1.0.0"})
	if _, err := storageSvc.SaveVersion("m1", "1.0.0", stageDir); err != nil {
		t.Fatal(err)
	}

	store := newFakeStore()
	model := &models.Model{
		ID:             "m1",
		Status:         models.ModelStatusReady,
		Classification: models.ClassificationTask,
		CurrentVersion: "1.0.0",
		Config:         models.ModelConfig{FeatureNames: []string{"a", "b"}},
		Versions: []models.VersionEntry{
			{Version: "1.0.0", Stage: models.StageProduction, CreatedAt: time.Now()},
		},
	}
	store.SaveModel(model)

	pool := modelpool.New(modelpool.DefaultConfig())
	locks := modellock.NewRegistry(filepath.Join(tmp, "locks"))
	cfg := DefaultConfig()
	cfg.StagingDir = filepath.Join(tmp, "incremental-staging")
	cfg.UpdateFrequency = 4
	cfg.Epochs = 1
	svc := NewService(store, storageSvc, pool, locks, cfg)
	return svc, store
}

func TestForceUpdateRepublishesInPlace(t *testing.T) {
	svc, store := setup(t)
	for i := 0; i < 2; i++ {
		svc.Feed("m1", map[string]interface{}{"a": float64(i), "b": float64(i + 1), "label": "low"})
	}
	if err := svc.ForceUpdate("m1"); err != nil {
		t.Fatalf("ForceUpdate failed: %v", err)
	}
	model, _ := store.GetModel("m1")
	if model.CurrentVersion != "1.0.0" {
		t.Errorf("expected version to stay 1.0.0 (save in place), got %s", model.CurrentVersion)
	}
	if model.Versions[0].Performance == nil {
		t.Error("expected the existing version entry's performance to be updated")
	}
	if len(svc.History("m1")) != 1 {
		t.Errorf("expected one history record, got %d", len(svc.History("m1")))
	}
}

func TestFeedTriggersUpdateAtThreshold(t *testing.T) {
	svc, store := setup(t)
	for i := 0; i < 4; i++ {
		if err := svc.Feed("m1", map[string]interface{}{"a": float64(i), "b": float64(i + 1), "label": "high"}); err != nil {
			t.Fatalf("Feed failed: %v", err)
		}
	}
	if len(svc.History("m1")) != 1 {
		t.Error("expected an update to have been triggered automatically at UpdateFrequency")
	}
	model, _ := store.GetModel("m1")
	if model.CurrentVersion != "1.0.0" {
		t.Error("expected version to remain unchanged by an in-place update")
	}
}

func TestForceUpdateNoBufferedRowsIsNoop(t *testing.T) {
	svc, store := setup(t)
	if err := svc.ForceUpdate("m1"); err != nil {
		t.Fatalf("expected no error, got %v", err)
	}
	model, _ := store.GetModel("m1")
	if model.CurrentVersion != "1.0.0" {
		t.Error("expected no version change with an empty buffer")
	}
}
