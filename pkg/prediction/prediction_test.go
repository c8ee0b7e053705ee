package prediction

import (
	"encoding/json"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/mlforge/core/pkg/models"
	"github.com/mlforge/core/pkg/modelpool"
	"github.com/mlforge/core/pkg/storage"
	"github.com/mlforge/core/pkg/storage/plugins"
	"github.com/mlforge/core/pkg/training"
)

// fakeStore implements metadatastore.MetadataStore with just enough behavior
// for prediction tests: an in-memory model map and a predictions slice.
type fakeStore struct {
	models      map[string]*models.Model
	predictions []*models.PredictionRecord
}

func newFakeStore() *fakeStore {
	return &fakeStore{models: make(map[string]*models.Model)}
}

func (f *fakeStore) SaveModel(m *models.Model) error { f.models[m.ID] = m; return nil }
func (f *fakeStore) GetModel(id string) (*models.Model, error) {
	m, ok := f.models[id]
	if !ok {
		return nil, os.ErrNotExist
	}
	return m, nil
}
func (f *fakeStore) ListModels() ([]*models.Model, error)                   { return nil, nil }
func (f *fakeStore) ListModelsByOwner(string) ([]*models.Model, error)      { return nil, nil }
func (f *fakeStore) DeleteModel(string) error                               { return nil }
func (f *fakeStore) SavePrediction(p *models.PredictionRecord) error {
	f.predictions = append(f.predictions, p)
	return nil
}
func (f *fakeStore) GetPrediction(string) (*models.PredictionRecord, error) { return nil, nil }
func (f *fakeStore) ListPredictionsByModel(string, int) ([]*models.PredictionRecord, error) {
	return nil, nil
}
func (f *fakeStore) RecordFeedback(string, *models.FeedbackEntry) error { return nil }
func (f *fakeStore) SaveDeployment(*models.Deployment) error            { return nil }
func (f *fakeStore) GetDeployment(string) (*models.Deployment, error)   { return nil, nil }
func (f *fakeStore) ListDeploymentsByModel(string) ([]*models.Deployment, error) {
	return nil, nil
}
func (f *fakeStore) SaveABTest(*models.ABTest) error             { return nil }
func (f *fakeStore) GetABTest(string) (*models.ABTest, error)    { return nil, nil }
func (f *fakeStore) ListActiveABTests() ([]*models.ABTest, error) { return nil, nil }

// setup builds a Service with a local storage backend containing one staged
// version (weights.json + prep.json) for modelID/version, and a model record
// pointing at it.
func setup(t *testing.T, classification models.ModelClassification) (*Service, *fakeStore) {
	t.Helper()
	tmp := t.TempDir()

	local := plugins.NewLocalPlugin()
	if err := local.Initialize(&models.PluginConfig{ConnectionString: tmp}); err != nil {
		t.Fatalf("init local plugin: %v", err)
	}
	storageSvc := storage.NewService()
	storageSvc.RegisterPlugin("local", local)

	artifact := &training.Artifact{
		Algorithm: models.AlgorithmDenseNN,
		Dense:     training.BuildDenseNN(1, 2, 2, classification == models.ClassificationTask),
	}
	meta := &models.PreprocessingMetadata{
		FeatureOrder:     []string{"a", "b"},
		TargetCategories: []string{"low", "high"},
	}

	stageDir := filepath.Join(tmp, "staging")
	if err := os.MkdirAll(stageDir, 0o755); err != nil {
		t.Fatal(err)
	}
	weightsData, _ := json.Marshal(artifact)
	if err := os.WriteFile(filepath.Join(stageDir, "weights.json"), weightsData, 0o644); err != nil {
		t.Fatal(err)
	}
	prepData, _ := json.Marshal(meta)
	if err := os.WriteFile(filepath.Join(stageDir, "prep.json"), prepData, 0o644); err != nil {
		t.Fatal(err)
	}
	if err := plugins.WriteManifest(stageDir, &models.ModelManifest{ModelID: "m1", Version: "1.0.0"}); err != nil {
		t.Fatal(err)
	}
	if _, err := storageSvc.SaveVersion("m1", "1.0.0", stageDir); err != nil {
		t.Fatalf("SaveVersion: %v", err)
	}

	store := newFakeStore()
	model := &models.Model{
		ID:             "m1",
		Status:         models.ModelStatusReady,
		Classification: classification,
		CurrentVersion: "1.0.0",
		Versions: []models.VersionEntry{
			{Version: "1.0.0", Stage: models.StageProduction, CreatedAt: time.Now()},
		},
	}
	store.SaveModel(model)

	pool := modelpool.New(modelpool.DefaultConfig())
	svc := NewService(store, storageSvc, pool, nil, DefaultConfig())
	return svc, store
}

func TestPredictClassification(t *testing.T) {
	svc, store := setup(t, models.ClassificationTask)

	record, err := svc.Predict(Request{ModelID: "m1", Input: map[string]interface{}{"a": 1.0, "b": 2.0}})
	if err != nil {
		t.Fatalf("Predict failed: %v", err)
	}
	if record.Output.Probabilities == nil {
		t.Error("expected probabilities for classification task")
	}
	if record.Version != "1.0.0" {
		t.Errorf("expected resolved version 1.0.0, got %s", record.Version)
	}
	if len(store.predictions) != 1 {
		t.Errorf("expected the prediction to be recorded, got %d records", len(store.predictions))
	}
}

func TestPredictUnknownModelFails(t *testing.T) {
	svc, _ := setup(t, models.ClassificationTask)
	_, err := svc.Predict(Request{ModelID: "does-not-exist", Input: map[string]interface{}{"a": 1.0}})
	if err == nil {
		t.Fatal("expected error for unknown model")
	}
}

func TestPredictUnknownVersionFails(t *testing.T) {
	svc, _ := setup(t, models.ClassificationTask)
	_, err := svc.Predict(Request{ModelID: "m1", Version: "9.9.9", Input: map[string]interface{}{"a": 1.0}})
	if err == nil {
		t.Fatal("expected error for unresolved version")
	}
}

func TestBatchPredictReportsPerRowErrors(t *testing.T) {
	svc, _ := setup(t, models.ClassificationTask)
	rows := []map[string]interface{}{
		{"a": 1.0, "b": 2.0},
		{"a": 3.0, "b": 4.0},
	}
	result, err := svc.BatchPredict("m1", "", rows)
	if err != nil {
		t.Fatalf("BatchPredict failed: %v", err)
	}
	if result.SuccessCount != 2 || result.ErrorCount != 0 {
		t.Errorf("expected 2 successes, got success=%d error=%d", result.SuccessCount, result.ErrorCount)
	}
}

func TestInferRegressionConfidenceInRange(t *testing.T) {
	artifact := &training.Artifact{Algorithm: models.AlgorithmGeneric, Dense: training.BuildGeneric(1, 2)}
	out := infer(artifact, []float64{0.5, 0.5}, models.RegressionTask, nil)
	if out.Confidence < 0.8 || out.Confidence >= 1.0 {
		t.Errorf("expected regression confidence in [0.8, 1.0), got %f", out.Confidence)
	}
}
