package deployment

import (
	"os"
	"testing"
	"time"

	"github.com/mlforge/core/pkg/metadatastore"
	"github.com/mlforge/core/pkg/models"
	"github.com/mlforge/core/pkg/registry"
)

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

var _ metadatastore.MetadataStore = (*fakeStore)(nil)

type fakeProbe struct {
	results []models.HealthCheckResult
}

func (p *fakeProbe) Probe(string, string) []models.HealthCheckResult { return p.results }

func healthyModel(store *fakeStore, id, currentVersion string, versions ...models.VersionEntry) {
	store.SaveModel(&models.Model{
		ID:             id,
		Status:         models.ModelStatusReady,
		CurrentVersion: currentVersion,
		Versions:       versions,
	})
}

func TestDeployImmediateSucceedsAndPromotes(t *testing.T) {
	store := newFakeStore()
	healthyModel(store, "m1", "1.0.0",
		models.VersionEntry{Version: "1.0.0", Stage: models.StageProduction, CreatedAt: time.Now()},
		models.VersionEntry{Version: "1.1.0", Stage: models.StageStaging, CreatedAt: time.Now()},
	)
	reg := registry.NewService(store, nil)
	probe := &fakeProbe{results: []models.HealthCheckResult{{Name: "availability", Status: "pass"}}}
	svc := NewService(store, reg, probe, DefaultConfig())

	dep, err := svc.Deploy("m1", &models.DeployRequest{Version: "1.1.0", Stage: models.StageProduction, Strategy: models.StrategyImmediate})
	if err != nil {
		t.Fatalf("Deploy failed: %v", err)
	}
	if dep.State != models.DeploymentDeployed {
		t.Errorf("expected deployed, got %s", dep.State)
	}
	if dep.Progress != 100 {
		t.Errorf("expected progress 100, got %d", dep.Progress)
	}
	model, _ := store.GetModel("m1")
	if model.CurrentVersion != "1.1.0" {
		t.Errorf("expected promotion to update current version, got %s", model.CurrentVersion)
	}
	active, ok := svc.GetActive("m1")
	if !ok || active.ID != dep.ID {
		t.Error("expected GetActive to return the deployed deployment")
	}
}

func TestDeployFailsOnUnhealthyCheck(t *testing.T) {
	store := newFakeStore()
	healthyModel(store, "m1", "1.0.0", models.VersionEntry{Version: "1.0.0", Stage: models.StageProduction, CreatedAt: time.Now()})
	reg := registry.NewService(store, nil)
	probe := &fakeProbe{results: []models.HealthCheckResult{{Name: "availability", Status: "fail", Message: "down"}}}
	svc := NewService(store, reg, probe, DefaultConfig())

	dep, err := svc.Deploy("m1", &models.DeployRequest{Version: "1.0.0", Stage: models.StageProduction, Strategy: models.StrategyImmediate})
	if err == nil {
		t.Fatal("expected an error from failing health checks")
	}
	if dep.State != models.DeploymentFailed {
		t.Errorf("expected failed state, got %s", dep.State)
	}
}

func TestRollbackTargetsPreviousNonCurrentVersion(t *testing.T) {
	store := newFakeStore()
	older := time.Now().Add(-time.Hour)
	healthyModel(store, "m1", "1.1.0",
		models.VersionEntry{Version: "1.0.0", Stage: models.StageStaging, CreatedAt: older},
		models.VersionEntry{Version: "1.1.0", Stage: models.StageProduction, CreatedAt: time.Now()},
	)
	reg := registry.NewService(store, nil)
	probe := &fakeProbe{results: []models.HealthCheckResult{{Name: "availability", Status: "pass"}}}
	svc := NewService(store, reg, probe, DefaultConfig())

	dep, err := svc.Rollback("m1")
	if err != nil {
		t.Fatalf("Rollback failed: %v", err)
	}
	if dep.Version != "1.0.0" {
		t.Errorf("expected rollback to target 1.0.0, got %s", dep.Version)
	}
	if dep.State != models.DeploymentRolledBack {
		t.Errorf("expected rolled_back state, got %s", dep.State)
	}
	if !dep.IsRollback {
		t.Error("expected IsRollback to be set")
	}
}

func TestRollingDeploymentBatchesToFullProgress(t *testing.T) {
	store := newFakeStore()
	healthyModel(store, "m1", "1.0.0", models.VersionEntry{Version: "1.0.0", Stage: models.StageProduction, CreatedAt: time.Now()})
	reg := registry.NewService(store, nil)
	probe := &fakeProbe{results: []models.HealthCheckResult{{Name: "availability", Status: "pass"}}}
	cfg := DefaultConfig()
	cfg.RollingSlotCount = 6
	cfg.RollingBatchDivisor = 3
	svc := NewService(store, reg, probe, cfg)

	dep, err := svc.Deploy("m1", &models.DeployRequest{Version: "1.0.0", Stage: models.StageProduction, Strategy: models.StrategyRolling})
	if err != nil {
		t.Fatalf("Deploy failed: %v", err)
	}
	if dep.Progress != 100 {
		t.Errorf("expected rolling deployment to reach 100%%, got %d", dep.Progress)
	}
}

func TestCanaryRollsBackOnUnhealthyCriteria(t *testing.T) {
	store := newFakeStore()
	healthyModel(store, "m1", "1.0.0",
		models.VersionEntry{Version: "1.0.0", Stage: models.StageProduction, CreatedAt: time.Now().Add(-time.Hour)},
		models.VersionEntry{Version: "1.1.0", Stage: models.StageStaging, CreatedAt: time.Now()},
	)
	reg := registry.NewService(store, nil)
	probe := &fakeProbe{results: []models.HealthCheckResult{{Name: "error_rate", Status: "fail", Message: "too many errors"}}}
	svc := NewService(store, reg, probe, DefaultConfig())

	dep, err := svc.Deploy("m1", &models.DeployRequest{Version: "1.1.0", Stage: models.StageProduction, Strategy: models.StrategyCanary})
	if err == nil {
		t.Fatal("expected canary failure to surface an error")
	}
	if dep.State != models.DeploymentFailed {
		t.Errorf("expected failed state on canary, got %s", dep.State)
	}
	history := svc.History("m1")
	found := false
	for _, d := range history {
		if d.IsRollback {
			found = true
		}
	}
	if !found {
		t.Error("expected canary failure to have triggered an automatic rollback deployment")
	}
}

func TestEvaluateTriggers(t *testing.T) {
	triggers := []RollbackTrigger{{Metric: "error_rate", Threshold: 0.1, Operator: "gt"}}
	if EvaluateTriggers(triggers, map[string]float64{"error_rate": 0.05}) {
		t.Error("expected trigger not to fire below threshold")
	}
	if !EvaluateTriggers(triggers, map[string]float64{"error_rate": 0.2}) {
		t.Error("expected trigger to fire above threshold")
	}
}
