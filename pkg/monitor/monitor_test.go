package monitor

import (
	"os"
	"testing"
	"time"

	"github.com/mlforge/core/pkg/models"
)

type fakeStore struct {
	predictions map[string][]*models.PredictionRecord
}

func newFakeStore() *fakeStore {
	return &fakeStore{predictions: make(map[string][]*models.PredictionRecord)}
}

func (f *fakeStore) SaveModel(*models.Model) error            { return nil }
func (f *fakeStore) GetModel(string) (*models.Model, error)   { return nil, os.ErrNotExist }
func (f *fakeStore) ListModels() ([]*models.Model, error)     { return nil, nil }
func (f *fakeStore) ListModelsByOwner(string) ([]*models.Model, error) {
	return nil, nil
}
func (f *fakeStore) DeleteModel(string) error { return nil }
func (f *fakeStore) SavePrediction(r *models.PredictionRecord) error {
	f.predictions[r.ModelID] = append(f.predictions[r.ModelID], r)
	return nil
}
func (f *fakeStore) GetPrediction(string) (*models.PredictionRecord, error) { return nil, nil }
func (f *fakeStore) ListPredictionsByModel(modelID string, limit int) ([]*models.PredictionRecord, error) {
	recs := f.predictions[modelID]
	if limit > 0 && len(recs) > limit {
		recs = recs[len(recs)-limit:]
	}
	return recs, nil
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

type capturingSink struct {
	alerts []Alert
}

func (c *capturingSink) Send(a Alert) error {
	c.alerts = append(c.alerts, a)
	return nil
}

func TestDetectDriftFlagsShiftedFeature(t *testing.T) {
	store := newFakeStore()
	sink := &capturingSink{}
	svc := NewService(store, sink, DefaultConfig())

	reference := map[string][]float64{"age": {20, 21, 22, 23, 24, 25, 26, 27, 28, 29}}
	current := map[string][]float64{"age": {70, 71, 72, 73, 74, 75, 76, 77, 78, 79}}

	report, err := svc.DetectDrift("m1", reference, current)
	if err != nil {
		t.Fatalf("DetectDrift failed: %v", err)
	}
	if report.OverallScore <= 0.1 {
		t.Errorf("expected a large drift score for a fully shifted distribution, got %f", report.OverallScore)
	}
	if len(report.AffectedFeatures) != 1 || report.AffectedFeatures[0] != "age" {
		t.Errorf("expected age flagged as affected, got %v", report.AffectedFeatures)
	}
	if len(sink.alerts) != 1 {
		t.Errorf("expected one dispatched alert, got %d", len(sink.alerts))
	}
}

func TestDetectDriftStableDistributionNoAlert(t *testing.T) {
	store := newFakeStore()
	sink := &capturingSink{}
	svc := NewService(store, sink, DefaultConfig())

	values := []float64{20, 21, 22, 23, 24, 25, 26, 27, 28, 29}
	reference := map[string][]float64{"age": values}
	current := map[string][]float64{"age": append([]float64(nil), values...)}

	report, err := svc.DetectDrift("m1", reference, current)
	if err != nil {
		t.Fatalf("DetectDrift failed: %v", err)
	}
	if report.OverallScore > 0.1 {
		t.Errorf("expected near-zero drift for identical distributions, got %f", report.OverallScore)
	}
	if len(sink.alerts) != 0 {
		t.Error("expected no alert dispatched for stable distribution")
	}
}

func TestHealthComputesPercentilesAndAccuracy(t *testing.T) {
	store := newFakeStore()
	svc := NewService(store, nil, DefaultConfig())

	now := time.Now().UTC()
	for i := 0; i < 10; i++ {
		store.SavePrediction(&models.PredictionRecord{
			ModelID:      "m1",
			Timestamp:    now.Add(-time.Duration(i) * time.Second),
			ProcessingMS: float64(10 + i),
			Feedback:     &models.FeedbackEntry{IsCorrect: i%2 == 0},
		})
	}

	health, err := svc.Health("m1")
	if err != nil {
		t.Fatalf("Health failed: %v", err)
	}
	if health.P50LatencyMS <= 0 {
		t.Error("expected a positive p50 latency")
	}
	if health.Accuracy != 0.5 {
		t.Errorf("expected accuracy 0.5 from alternating feedback, got %f", health.Accuracy)
	}
	if health.ThroughputRPS <= 0 {
		t.Error("expected positive throughput for recent predictions")
	}
}

func TestChiSquareDetectsShiftedCategoricalCounts(t *testing.T) {
	reference := map[string]int{"a": 50, "b": 50}
	current := map[string]int{"a": 90, "b": 10}
	score := chiSquare(reference, current)
	if score <= 0 {
		t.Error("expected a positive chi-square score for a shifted category distribution")
	}
}
