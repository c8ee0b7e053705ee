package registry

import (
	"os"
	"testing"
	"time"

	"github.com/mlforge/core/pkg/models"
)

type fakeStore struct {
	models  map[string]*models.Model
	abtests map[string]*models.ABTest
}

func newFakeStore() *fakeStore {
	return &fakeStore{models: make(map[string]*models.Model), abtests: make(map[string]*models.ABTest)}
}

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
func (f *fakeStore) SaveABTest(test *models.ABTest) error { f.abtests[test.ID] = test; return nil }
func (f *fakeStore) GetABTest(id string) (*models.ABTest, error) {
	t, ok := f.abtests[id]
	if !ok {
		return nil, os.ErrNotExist
	}
	return t, nil
}
func (f *fakeStore) ListActiveABTests() ([]*models.ABTest, error) { return nil, nil }

func modelWithVersions(versions ...models.VersionEntry) *models.Model {
	return &models.Model{ID: "m1", Versions: versions}
}

func TestPromoteToProductionArchivesPrior(t *testing.T) {
	store := newFakeStore()
	store.SaveModel(modelWithVersions(
		models.VersionEntry{Version: "1.0.0", Stage: models.StageProduction, CreatedAt: time.Now()},
		models.VersionEntry{Version: "1.1.0", Stage: models.StageStaging, CreatedAt: time.Now()},
	))
	svc := NewService(store, nil)

	if err := svc.Promote("m1", "1.1.0", models.StageProduction); err != nil {
		t.Fatalf("Promote failed: %v", err)
	}
	model, _ := store.GetModel("m1")
	if model.CurrentVersion != "1.1.0" {
		t.Errorf("expected current version 1.1.0, got %s", model.CurrentVersion)
	}
	for _, v := range model.Versions {
		if v.Version == "1.0.0" && v.Stage != models.StageArchived {
			t.Errorf("expected prior production version archived, got stage %s", v.Stage)
		}
		if v.Version == "1.1.0" && v.Stage != models.StageProduction {
			t.Errorf("expected promoted version to be production, got %s", v.Stage)
		}
	}
}

func TestListVersionsSortedDescending(t *testing.T) {
	store := newFakeStore()
	older := time.Now().Add(-time.Hour)
	newer := time.Now()
	store.SaveModel(modelWithVersions(
		models.VersionEntry{Version: "1.0.0", CreatedAt: older},
		models.VersionEntry{Version: "1.1.0", CreatedAt: newer},
	))
	svc := NewService(store, nil)

	versions, err := svc.ListVersions("m1", nil)
	if err != nil {
		t.Fatalf("ListVersions failed: %v", err)
	}
	if versions[0].Version != "1.1.0" {
		t.Errorf("expected newest version first, got %s", versions[0].Version)
	}
}

func TestBestVersionPicksHighestAccuracy(t *testing.T) {
	store := newFakeStore()
	store.SaveModel(modelWithVersions(
		models.VersionEntry{Version: "1.0.0", Performance: &models.PerformanceMetrics{Accuracy: 0.7}},
		models.VersionEntry{Version: "1.1.0", Performance: &models.PerformanceMetrics{Accuracy: 0.9}},
	))
	svc := NewService(store, nil)

	best, err := svc.BestVersion("m1", "accuracy")
	if err != nil {
		t.Fatalf("BestVersion failed: %v", err)
	}
	if best.Version != "1.1.0" {
		t.Errorf("expected 1.1.0, got %s", best.Version)
	}
}

func TestArchiveOldVersionsKeepsProductionAndTopN(t *testing.T) {
	store := newFakeStore()
	base := time.Now()
	store.SaveModel(modelWithVersions(
		models.VersionEntry{Version: "1.0.0", Stage: models.StageProduction, CreatedAt: base.Add(-4 * time.Hour)},
		models.VersionEntry{Version: "1.1.0", Stage: models.StageStaging, CreatedAt: base.Add(-3 * time.Hour)},
		models.VersionEntry{Version: "1.2.0", Stage: models.StageStaging, CreatedAt: base.Add(-2 * time.Hour)},
		models.VersionEntry{Version: "1.3.0", Stage: models.StageStaging, CreatedAt: base.Add(-1 * time.Hour)},
	))
	svc := NewService(store, nil)

	if err := svc.ArchiveOldVersions("m1", 1); err != nil {
		t.Fatalf("ArchiveOldVersions failed: %v", err)
	}
	model, _ := store.GetModel("m1")
	for _, v := range model.Versions {
		switch v.Version {
		case "1.0.0":
			if v.Stage != models.StageProduction {
				t.Error("expected production version untouched")
			}
		case "1.3.0":
			if v.Stage == models.StageArchived {
				t.Error("expected most recent non-production version kept")
			}
		case "1.1.0", "1.2.0":
			if v.Stage != models.StageArchived {
				t.Errorf("expected %s archived, got %s", v.Version, v.Stage)
			}
		}
	}
}

func TestABTestLifecycle(t *testing.T) {
	store := newFakeStore()
	svc := NewService(store, nil)

	if err := svc.StartTest("t1", "m1", "1.0.0", "1.1.0", 50, 2); err != nil {
		t.Fatalf("StartTest failed: %v", err)
	}
	for i := 0; i < 3; i++ {
		if err := svc.RecordResult("t1", "A", map[string]float64{"accuracy": 0.8}); err != nil {
			t.Fatalf("RecordResult A failed: %v", err)
		}
	}
	for i := 0; i < 3; i++ {
		if err := svc.RecordResult("t1", "B", map[string]float64{"accuracy": 0.9}); err != nil {
			t.Fatalf("RecordResult B failed: %v", err)
		}
	}
	results, err := svc.Results("t1", "accuracy")
	if err != nil {
		t.Fatalf("Results failed: %v", err)
	}
	if results.Winner != "B" {
		t.Errorf("expected B to win, got %s", results.Winner)
	}
	if results.Confidence <= 0 {
		t.Error("expected a positive confidence value")
	}
	if err := svc.StopTest("t1"); err != nil {
		t.Fatalf("StopTest failed: %v", err)
	}
	stopped, _ := store.GetABTest("t1")
	if stopped.StoppedAt == nil {
		t.Error("expected StoppedAt to be set")
	}
}

func TestRegisterVersionRejectsDuplicate(t *testing.T) {
	store := newFakeStore()
	store.SaveModel(modelWithVersions(models.VersionEntry{Version: "1.0.0"}))
	svc := NewService(store, nil)

	if err := svc.RegisterVersion("m1", "1.0.0", nil, "uri"); err == nil {
		t.Fatal("expected conflict for duplicate version")
	}
}
