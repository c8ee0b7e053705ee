// Package registry implements C7, the Model Registry & A/B Coordinator:
// version bookkeeping, promotion/archival, and traffic-split A/B tests
// between two versions (spec.md §4.7). Grounded on the deleted-but-read
// pipelines/ML/evaluator.go's per-class precision/recall/F1/confusion-matrix
// computation, reused here via pkg/training's ClassificationMetrics/
// RegressionMetrics for compare(); version bookkeeping follows
// pkg/orchestrator/service.go's Model/VersionEntry mutation-then-SaveModel
// idiom.
package registry

import (
	"math/rand"
	"sort"
	"time"

	"github.com/mlforge/core/pkg/apierr"
	"github.com/mlforge/core/pkg/metadatastore"
	"github.com/mlforge/core/pkg/models"
	"github.com/mlforge/core/pkg/storage"
	"github.com/mlforge/core/pkg/training"
)

// Service is the Model Registry & A/B Coordinator.
type Service struct {
	store   metadatastore.MetadataStore
	storage *storage.Service
}

func NewService(store metadatastore.MetadataStore, storageService *storage.Service) *Service {
	return &Service{store: store, storage: storageService}
}

// ProductionVersion implements prediction.VersionResolver so C5 can resolve
// the deployed version without importing this package's A/B machinery.
func (s *Service) ProductionVersion(modelID string) (string, bool) {
	model, err := s.store.GetModel(modelID)
	if err != nil {
		return "", false
	}
	for _, v := range model.Versions {
		if v.Stage == models.StageProduction {
			return v.Version, true
		}
	}
	return "", false
}

// RegisterVersion appends a development-stage entry for a version already
// saved by C2/C6. C2 itself already appends the VersionEntry on Train; this
// exists for out-of-band registrations (e.g. importing an externally
// trained artifact).
func (s *Service) RegisterVersion(modelID, version string, performance *models.PerformanceMetrics, storageURI string) error {
	model, err := s.store.GetModel(modelID)
	if err != nil {
		return apierr.NotFound("model %s not found", modelID)
	}
	for _, v := range model.Versions {
		if v.Version == version {
			return apierr.Conflict("version %s already registered for model %s", version, modelID)
		}
	}
	model.Versions = append(model.Versions, models.VersionEntry{
		Version:     version,
		Stage:       models.StageDevelopment,
		Performance: performance,
		StorageURI:  storageURI,
		CreatedAt:   time.Now().UTC(),
	})
	return s.store.SaveModel(model)
}

// Promote transitions a version's stage. Promoting to production archives
// any prior production entry and updates the model's current lifecycle
// version (spec.md §4.7 "Versioning", data-model invariant I2: at most one
// production version per model).
func (s *Service) Promote(modelID, version string, toStage models.Stage) error {
	model, err := s.store.GetModel(modelID)
	if err != nil {
		return apierr.NotFound("model %s not found", modelID)
	}

	found := false
	now := time.Now().UTC()
	for i := range model.Versions {
		if model.Versions[i].Version == version {
			found = true
			if toStage == models.StageProduction {
				promoted := now
				model.Versions[i].PromotedAt = &promoted
			}
			model.Versions[i].Stage = toStage
		} else if toStage == models.StageProduction && model.Versions[i].Stage == models.StageProduction {
			model.Versions[i].Stage = models.StageArchived
		}
	}
	if !found {
		return apierr.NotFound("version %s not found for model %s", version, modelID)
	}
	if toStage == models.StageProduction {
		model.CurrentVersion = version
	}
	model.UpdatedAt = now
	return s.store.SaveModel(model)
}

// ListVersions returns entries sorted by creation time descending, optionally
// filtered to one stage.
func (s *Service) ListVersions(modelID string, stage *models.Stage) ([]models.VersionEntry, error) {
	model, err := s.store.GetModel(modelID)
	if err != nil {
		return nil, apierr.NotFound("model %s not found", modelID)
	}
	out := make([]models.VersionEntry, 0, len(model.Versions))
	for _, v := range model.Versions {
		if stage != nil && v.Stage != *stage {
			continue
		}
		out = append(out, v)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	return out, nil
}

// BestVersion returns the version maximizing metric ("accuracy" by default;
// "r2_score" is the regression analogue). Unknown metrics are read off the
// performance struct's zero value, so callers always get a deterministic pick.
func (s *Service) BestVersion(modelID, metric string) (*models.VersionEntry, error) {
	model, err := s.store.GetModel(modelID)
	if err != nil {
		return nil, apierr.NotFound("model %s not found", modelID)
	}
	if len(model.Versions) == 0 {
		return nil, apierr.NotFound("model %s has no versions", modelID)
	}
	best := model.Versions[0]
	bestScore := metricValue(best.Performance, metric)
	for _, v := range model.Versions[1:] {
		score := metricValue(v.Performance, metric)
		if score > bestScore {
			best, bestScore = v, score
		}
	}
	return &best, nil
}

func metricValue(p *models.PerformanceMetrics, metric string) float64 {
	if p == nil {
		return 0
	}
	switch metric {
	case "r2_score":
		return p.R2Score
	case "macro_f1":
		return p.MacroF1
	case "rmse":
		return -p.RMSE // lower is better; negate so max() still picks the best
	default:
		return p.Accuracy
	}
}

// ArchiveOldVersions marks all but the top-keepCount most-recent
// non-production, non-archived versions as archived.
func (s *Service) ArchiveOldVersions(modelID string, keepCount int) error {
	model, err := s.store.GetModel(modelID)
	if err != nil {
		return apierr.NotFound("model %s not found", modelID)
	}

	eligible := make([]int, 0, len(model.Versions))
	for i, v := range model.Versions {
		if v.Stage != models.StageProduction && v.Stage != models.StageArchived {
			eligible = append(eligible, i)
		}
	}
	sort.Slice(eligible, func(a, b int) bool {
		return model.Versions[eligible[a]].CreatedAt.After(model.Versions[eligible[b]].CreatedAt)
	})
	if keepCount < 0 {
		keepCount = 0
	}
	for i := keepCount; i < len(eligible); i++ {
		model.Versions[eligible[i]].Stage = models.StageArchived
	}
	model.UpdatedAt = time.Now().UTC()
	return s.store.SaveModel(model)
}

// StartTest begins an A/B comparison between two versions of a model.
func (s *Service) StartTest(id, modelID, versionA, versionB string, trafficSplitB, minSamples int) error {
	test := &models.ABTest{
		ID:            id,
		ModelID:       modelID,
		VersionA:      versionA,
		VersionB:      versionB,
		TrafficSplitB: trafficSplitB,
		MinSamples:    minSamples,
		ResultA:       models.ABTestSideResult{Metrics: make(map[string]float64)},
		ResultB:       models.ABTestSideResult{Metrics: make(map[string]float64)},
		StartedAt:     time.Now().UTC(),
	}
	return s.store.SaveABTest(test)
}

// Route picks 'A' or 'B' by uniform random compared against the configured
// traffic split to B.
func (s *Service) Route(id string) (string, error) {
	test, err := s.store.GetABTest(id)
	if err != nil {
		return "", apierr.NotFound("ab test %s not found", id)
	}
	if rand.Intn(100) < test.TrafficSplitB {
		return "B", nil
	}
	return "A", nil
}

// RecordResult accumulates per-side running metrics for one completed
// prediction attributed to the test.
func (s *Service) RecordResult(id, side string, metrics map[string]float64) error {
	test, err := s.store.GetABTest(id)
	if err != nil {
		return apierr.NotFound("ab test %s not found", id)
	}
	target := &test.ResultA
	if side == "B" {
		target = &test.ResultB
	}
	target.Samples++
	for k, v := range metrics {
		// Running mean: newMean = oldMean + (value-oldMean)/n
		target.Metrics[k] += (v - target.Metrics[k]) / float64(target.Samples)
	}
	return s.store.SaveABTest(test)
}

// Results returns the test's current state, naming a winner once both sides
// have at least MinSamples and their primary metric ("accuracy") differs.
func (s *Service) Results(id string, primaryMetric string) (*models.ABTest, error) {
	test, err := s.store.GetABTest(id)
	if err != nil {
		return nil, apierr.NotFound("ab test %s not found", id)
	}
	if test.ResultA.Samples >= test.MinSamples && test.ResultB.Samples >= test.MinSamples {
		a, b := test.ResultA.Metrics[primaryMetric], test.ResultB.Metrics[primaryMetric]
		if a != b {
			if a > b {
				test.Winner, test.Confidence = "A", confidence(a, b)
			} else {
				test.Winner, test.Confidence = "B", confidence(b, a)
			}
		}
	}
	return test, nil
}

// confidence is a simple normalized-gap heuristic, not a statistical test:
// the spec calls for "a simple confidence value", not significance testing.
func confidence(winner, loser float64) float64 {
	if winner == 0 {
		return 0
	}
	gap := (winner - loser) / winner
	if gap > 1 {
		gap = 1
	}
	if gap < 0 {
		gap = 0
	}
	return gap
}

// StopTest finalizes a test; callers are expected to have already read
// Results before calling this, since the test record is not removed.
func (s *Service) StopTest(id string) error {
	test, err := s.store.GetABTest(id)
	if err != nil {
		return apierr.NotFound("ab test %s not found", id)
	}
	now := time.Now().UTC()
	test.StoppedAt = &now
	return s.store.SaveABTest(test)
}

// CompareResult is the outcome of evaluating two versions against the same
// held-out tensors.
type CompareResult struct {
	Winner      string // "A" or "B"
	ImprovementMagnitude float64
	MetricsA    *models.PerformanceMetrics
	MetricsB    *models.PerformanceMetrics
}

// Compare loads both versions (via C3), evaluates each against the supplied
// tensors with C2's training metrics routines, and names a winner: higher
// accuracy for classification, lower RMSE for regression.
func (s *Service) Compare(modelIDA, versionA, modelIDB, versionB string, testFeatures, testLabels [][]float64, classification models.ModelClassification, numClasses int) (*CompareResult, error) {
	artifactA, err := s.loadArtifact(modelIDA, versionA)
	if err != nil {
		return nil, err
	}
	artifactB, err := s.loadArtifact(modelIDB, versionB)
	if err != nil {
		return nil, err
	}

	metricsA := evaluateArtifact(artifactA, testFeatures, testLabels, classification, numClasses)
	metricsB := evaluateArtifact(artifactB, testFeatures, testLabels, classification, numClasses)

	result := &CompareResult{MetricsA: metricsA, MetricsB: metricsB}
	if classification == models.ClassificationTask {
		if metricsA.Accuracy >= metricsB.Accuracy {
			result.Winner = "A"
			result.ImprovementMagnitude = metricsA.Accuracy - metricsB.Accuracy
		} else {
			result.Winner = "B"
			result.ImprovementMagnitude = metricsB.Accuracy - metricsA.Accuracy
		}
		return result, nil
	}
	if metricsA.RMSE <= metricsB.RMSE {
		result.Winner = "A"
		result.ImprovementMagnitude = metricsB.RMSE - metricsA.RMSE
	} else {
		result.Winner = "B"
		result.ImprovementMagnitude = metricsA.RMSE - metricsB.RMSE
	}
	return result, nil
}

func (s *Service) loadArtifact(modelID, version string) (*training.Artifact, error) {
	dir, err := s.storage.FetchVersion(modelID, version)
	if err != nil {
		return nil, apierr.Storage(err, "failed to fetch %s/%s", modelID, version)
	}
	return loadArtifactFile(dir)
}

func evaluateArtifact(a *training.Artifact, features, labels [][]float64, classification models.ModelClassification, numClasses int) *models.PerformanceMetrics {
	if classification == models.ClassificationTask {
		predicted := make([]int, len(features))
		actual := make([]int, len(features))
		for i, f := range features {
			predicted[i] = argMax(a.Predict(f))
			actual[i] = argMax(labels[i])
		}
		accuracy, macroP, macroR, macroF1, _, confusion := training.ClassificationMetrics(predicted, actual, numClasses)
		return &models.PerformanceMetrics{
			Accuracy: accuracy, MacroPrecision: macroP, MacroRecall: macroR, MacroF1: macroF1,
			ConfusionMatrix: confusion,
		}
	}
	predicted := make([]float64, len(features))
	actual := make([]float64, len(features))
	for i, f := range features {
		out := a.Predict(f)
		if len(out) > 0 {
			predicted[i] = out[0]
		}
		if len(labels[i]) > 0 {
			actual[i] = labels[i][0]
		}
	}
	rmse, mae, r2, mape := training.RegressionMetrics(predicted, actual)
	return &models.PerformanceMetrics{RMSE: rmse, MAE: mae, R2Score: r2, MAPE: mape}
}

func argMax(v []float64) int {
	best := 0
	for i := range v {
		if v[i] > v[best] {
			best = i
		}
	}
	return best
}
