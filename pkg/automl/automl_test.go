package automl

import (
	"math"
	"math/rand"
	"testing"
	"time"

	"github.com/mlforge/core/pkg/dataprep"
	"github.com/mlforge/core/pkg/models"
	"github.com/mlforge/core/pkg/training"
)

func buildDataset(t *testing.T) *dataprep.Dataset {
	t.Helper()
	rows := make([]dataprep.Row, 0, 60)
	for i := 0; i < 60; i++ {
		label := "low"
		x := float64(i % 10)
		if i%2 == 0 {
			label = "high"
			x += 5
		}
		rows = append(rows, dataprep.Row{"x": x, "y": float64(i % 3), "label": label})
	}
	ds, err := dataprep.PrepareDataset(rows, dataprep.Options{
		FeatureNames:   []string{"x", "y"},
		TargetName:     "label",
		Classification: models.ClassificationTask,
		Seed:           1,
	})
	if err != nil {
		t.Fatalf("PrepareDataset failed: %v", err)
	}
	return ds
}

func TestSearchReturnsBestTrialAndHistory(t *testing.T) {
	ds := buildDataset(t)
	space := DefaultSearchSpace(models.ClassificationTask)
	constraints := DefaultConstraints()
	constraints.MaxTrials = 4
	constraints.MaxDuration = 10 * time.Second
	constraints.NoImprovementStop = 4
	constraints.Patience = 2

	result := Search(ds, models.ClassificationTask, space, constraints)
	if result.Best == nil {
		t.Fatal("expected a best trial")
	}
	if len(result.History) == 0 {
		t.Fatal("expected a non-empty trial history")
	}
	if result.Best.Status != TrialCompleted {
		t.Errorf("expected best trial to have completed, got %s", result.Best.Status)
	}
}

func TestSearchStopsAfterNoImprovementWindow(t *testing.T) {
	ds := buildDataset(t)
	space := DefaultSearchSpace(models.ClassificationTask)
	constraints := DefaultConstraints()
	constraints.MaxTrials = 50
	constraints.MaxDuration = 30 * time.Second
	constraints.NoImprovementStop = 2

	result := Search(ds, models.ClassificationTask, space, constraints)
	if len(result.History) > 50 {
		t.Errorf("expected the trial budget to cap history length, got %d", len(result.History))
	}
	best := math.Inf(-1)
	run := 0
	for i, trial := range result.History {
		if run >= constraints.NoImprovementStop {
			t.Fatalf("trial %d ran after %d consecutive trials without improvement", i, run)
		}
		if trial.Status == TrialCompleted && trial.Score > best {
			best = trial.Score
			run = 0
		} else {
			run++
		}
	}
}

func TestPerturbStaysWithinLearningRateBounds(t *testing.T) {
	space := DefaultSearchSpace(models.ClassificationTask)
	best := training.Config{Algorithm: models.AlgorithmDenseNN, LearningRate: 0.01, BatchSize: 32, Epochs: 10, Seed: 1}
	for i := 0; i < 20; i++ {
		rng := rand.New(rand.NewSource(int64(i)))
		next := perturb(best, space, rng)
		if next.LearningRate < space.LearningRateMin || next.LearningRate > space.LearningRateMax {
			t.Errorf("perturbed learning rate %f out of bounds [%f, %f]", next.LearningRate, space.LearningRateMin, space.LearningRateMax)
		}
	}
}
