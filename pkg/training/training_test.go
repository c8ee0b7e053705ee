package training

import (
	"testing"

	"github.com/mlforge/core/pkg/models"
)

func syntheticClassificationData(n, dim, numClasses int) (features, labels [][]float64) {
	features = make([][]float64, n)
	labels = make([][]float64, n)
	for i := 0; i < n; i++ {
		cls := i % numClasses
		row := make([]float64, dim)
		for j := range row {
			row[j] = float64(cls) + 0.01*float64(j)
		}
		features[i] = row
		label := make([]float64, numClasses)
		label[cls] = 1
		labels[i] = label
	}
	return
}

func TestTrainDenseNNClassification(t *testing.T) {
	trainF, trainL := syntheticClassificationData(60, 4, 3)
	valF, valL := syntheticClassificationData(15, 4, 3)

	config := Config{
		Algorithm:      models.AlgorithmDenseNN,
		Classification: models.ClassificationTask,
		NumClasses:     3,
		LearningRate:   0.05,
		Epochs:         5,
		BatchSize:      8,
		Seed:           1,
	}

	result, err := Train(config, trainF, valF, trainL, valL, []string{"a", "b", "c", "d"})
	if err != nil {
		t.Fatalf("Train failed: %v", err)
	}
	if result.Model == nil || result.Model.Dense == nil {
		t.Fatal("expected a dense artifact")
	}
	if result.PerformanceMetrics == nil {
		t.Fatal("expected performance metrics")
	}
	if len(result.TrainingMetrics.LearningCurve) != 5 {
		t.Errorf("expected 5 learning curve points, got %d", len(result.TrainingMetrics.LearningCurve))
	}
	if len(result.FeatureImportance) != 4 {
		t.Errorf("expected 4 feature importance entries, got %d", len(result.FeatureImportance))
	}
}

func TestTrainGenericRegression(t *testing.T) {
	trainF := make([][]float64, 40)
	trainL := make([][]float64, 40)
	for i := range trainF {
		trainF[i] = []float64{float64(i) / 40.0, 0.5}
		trainL[i] = []float64{float64(i%2)}
	}

	config := Config{
		Algorithm:    models.AlgorithmGeneric,
		LearningRate: 0.05,
		Epochs:       3,
		BatchSize:    4,
		Seed:         2,
	}

	result, err := Train(config, trainF, trainF, trainL, trainL, []string{"x", "y"})
	if err != nil {
		t.Fatalf("Train failed: %v", err)
	}
	if result.Model.Dense == nil {
		t.Fatal("expected dense artifact for generic algorithm")
	}
}

func TestTrainEmptyDataFails(t *testing.T) {
	_, err := Train(Config{Algorithm: models.AlgorithmDenseNN}, nil, nil, nil, nil, nil)
	if err == nil {
		t.Fatal("expected error for empty training data")
	}
}

func TestClassificationMetricsPerfectPrediction(t *testing.T) {
	predicted := []int{0, 1, 2, 0, 1, 2}
	actual := []int{0, 1, 2, 0, 1, 2}
	accuracy, macroP, macroR, macroF1, _, _ := ClassificationMetrics(predicted, actual, 3)
	if accuracy != 1.0 || macroP != 1.0 || macroR != 1.0 || macroF1 != 1.0 {
		t.Errorf("expected perfect metrics, got acc=%f p=%f r=%f f1=%f", accuracy, macroP, macroR, macroF1)
	}
}

func TestRegressionMetricsZeroError(t *testing.T) {
	values := []float64{1, 2, 3, 4}
	rmse, mae, r2, _ := RegressionMetrics(values, values)
	if rmse != 0 || mae != 0 || r2 != 1.0 {
		t.Errorf("expected zero error metrics, got rmse=%f mae=%f r2=%f", rmse, mae, r2)
	}
}
