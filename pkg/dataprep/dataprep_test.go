package dataprep

import (
	"testing"

	"github.com/mlforge/core/pkg/models"
)

func sampleRows(n int) []Row {
	rows := make([]Row, 0, n)
	for i := 0; i < n; i++ {
		label := "a"
		if i%2 == 0 {
			label = "b"
		}
		rows = append(rows, Row{
			"age":      float64(20 + i%50),
			"active":   i%3 == 0,
			"city":     []string{"nyc", "sf", "la"}[i%3],
			"label":    label,
		})
	}
	return rows
}

func TestPrepareDatasetDeterministic(t *testing.T) {
	rows := sampleRows(100)
	opts := Options{
		FeatureNames:   []string{"age", "active", "city"},
		TargetName:     "label",
		Classification: models.ClassificationTask,
		Seed:           42,
	}

	a, err := PrepareDataset(rows, opts)
	if err != nil {
		t.Fatalf("PrepareDataset failed: %v", err)
	}
	b, err := PrepareDataset(rows, opts)
	if err != nil {
		t.Fatalf("PrepareDataset failed: %v", err)
	}

	if len(a.TrainFeatures) != len(b.TrainFeatures) {
		t.Fatalf("non-deterministic split sizes: %d vs %d", len(a.TrainFeatures), len(b.TrainFeatures))
	}
	for i := range a.TrainFeatures {
		for j := range a.TrainFeatures[i] {
			if a.TrainFeatures[i][j] != b.TrainFeatures[i][j] {
				t.Fatalf("non-deterministic feature at [%d][%d]", i, j)
			}
		}
	}
	if a.DatasetHash != b.DatasetHash {
		t.Errorf("dataset hash should be stable across identical runs")
	}
}

func TestPrepareDatasetSplitRatios(t *testing.T) {
	rows := sampleRows(200)
	opts := Options{
		FeatureNames:   []string{"age", "active", "city"},
		TargetName:     "label",
		Classification: models.ClassificationTask,
		Seed:           7,
	}

	ds, err := PrepareDataset(rows, opts)
	if err != nil {
		t.Fatalf("PrepareDataset failed: %v", err)
	}

	total := len(ds.TrainFeatures) + len(ds.ValFeatures) + len(ds.TestFeatures)
	if total != 200 {
		t.Fatalf("expected 200 rows split across sets, got %d", total)
	}

	trainRatio := float64(len(ds.TrainFeatures)) / float64(total)
	if trainRatio < 0.75 || trainRatio > 0.85 {
		t.Errorf("expected ~80%% train ratio, got %f", trainRatio)
	}
}

func TestPrepareDatasetEmptyFails(t *testing.T) {
	_, err := PrepareDataset(nil, Options{FeatureNames: []string{"age"}})
	if err == nil {
		t.Fatal("expected EmptyDataset error")
	}
}

func TestPrepareDatasetTargetMissingFails(t *testing.T) {
	rows := []Row{{"age": 30.0}}
	_, err := PrepareDataset(rows, Options{FeatureNames: []string{"age"}, TargetName: "missing"})
	if err == nil {
		t.Fatal("expected TargetMissing error")
	}
}

func TestTransformInputUnknownCategoryIsZeroVector(t *testing.T) {
	meta := &models.PreprocessingMetadata{
		FeatureOrder: []string{"city"},
		FeatureTypes: map[string]models.FeatureType{"city": models.FeatureCategorical},
		CategoryMaps: map[string][]string{"city": {"la", "nyc", "sf"}},
		Normalization: []models.NormalizationStats{
			{Mean: 0, Std: 1}, {Mean: 0, Std: 1}, {Mean: 0, Std: 1},
		},
	}

	out, err := TransformInput(meta, map[string]interface{}{"city": "chicago"})
	if err != nil {
		t.Fatalf("TransformInput failed: %v", err)
	}
	for _, v := range out {
		if v != 0 {
			t.Errorf("expected zero vector for unknown category, got %v", out)
		}
	}
}

func TestCategoricalCardinalityFallsBackToText(t *testing.T) {
	rows := make([]Row, 0, 150)
	for i := 0; i < 150; i++ {
		rows = append(rows, Row{"id": string(rune('a' + i%26)) + string(rune(i))})
	}
	opts := Options{FeatureNames: []string{"id"}, CategoricalCardinality: 5}
	ds, err := PrepareDataset(rows, opts)
	if err != nil {
		t.Fatalf("PrepareDataset failed: %v", err)
	}
	if ds.Metadata.FeatureTypes["id"] != models.FeatureText {
		t.Errorf("expected high-cardinality feature to be treated as text, got %s", ds.Metadata.FeatureTypes["id"])
	}
}
