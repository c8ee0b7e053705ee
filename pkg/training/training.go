package training

import (
	"fmt"
	"math"
	"math/rand"

	"github.com/mlforge/core/pkg/apierr"
	"github.com/mlforge/core/pkg/models"
)

// Config is the subset of a model's training configuration C2 needs to pick
// and fit a network (spec.md §4.2, §6 AI_* variables).
type Config struct {
	Algorithm      models.Algorithm
	Classification models.ModelClassification
	NumClasses     int // classification only; ignored otherwise
	LearningRate   float64
	Epochs         int
	BatchSize      int
	Seed           int64
	Patience       int // 0 disables early stopping; otherwise stop after this many epochs with no validation-loss improvement (used by C8.4's AutoML trials)
}

// LearningCurvePoint is one recorded (epoch, loss) sample.
type LearningCurvePoint struct {
	Epoch          int     `json:"epoch"`
	TrainingLoss   float64 `json:"training_loss"`
	ValidationLoss float64 `json:"validation_loss"`
}

// TrainingMetrics records the fit's loss trajectory, for display and for
// drift/health baselines downstream.
type TrainingMetrics struct {
	Epochs         int                  `json:"epochs"`
	FinalTrainLoss float64              `json:"final_training_loss"`
	FinalValLoss   float64              `json:"final_validation_loss"`
	LearningCurve  []LearningCurvePoint `json:"learning_curve"`
}

// Artifact is the serializable trained model: either a dense Network or an
// LSTM-headed model, tagged so C3 can persist/restore the right shape.
type Artifact struct {
	Algorithm models.Algorithm  `json:"algorithm"`
	Dense     *Network          `json:"dense,omitempty"`
	LSTM      *LSTMModel        `json:"lstm,omitempty"`
}

// EnsureRNG restores the dropout RNG dropped by JSON deserialization,
// needed before C6 resumes training on a loaded artifact.
func (a *Artifact) EnsureRNG(seed int64) {
	if a.Dense != nil {
		a.Dense.EnsureRNG(seed)
	}
	if a.LSTM != nil {
		a.LSTM.Head.EnsureRNG(seed)
	}
}

// Predict runs a forward pass and returns the raw output vector.
func (a *Artifact) Predict(input []float64) []float64 {
	if a.LSTM != nil {
		return a.LSTM.Forward(input)
	}
	return a.Dense.Forward(input)
}

// Result is what C2 persists and registers after a successful fit.
type Result struct {
	Model             *Artifact
	TrainingMetrics   *TrainingMetrics
	PerformanceMetrics *models.PerformanceMetrics
	FeatureImportance map[string]float64
}

// Train builds the network for config.Algorithm per spec.md §4.2, fits it on
// (trainFeatures, trainLabels) for config.Epochs, and evaluates on
// (valFeatures, valLabels). Labels are one-hot for classification,
// single-element vectors for regression/generic, matching dataprep's
// encoding. featureNames is used only to key the feature-importance map.
func Train(config Config, trainFeatures, valFeatures [][]float64, trainLabels, valLabels [][]float64, featureNames []string) (*Result, error) {
	if len(trainFeatures) == 0 {
		return nil, apierr.Training(nil, "no training rows provided")
	}
	inputDim := len(trainFeatures[0])
	classification := config.Classification == models.ClassificationTask

	artifact := &Artifact{Algorithm: config.Algorithm}
	switch config.Algorithm {
	case models.AlgorithmDenseNN:
		artifact.Dense = BuildDenseNN(config.Seed, inputDim, config.NumClasses, classification)
	case models.AlgorithmLSTM:
		artifact.LSTM = BuildLSTM(config.Seed, inputDim, config.NumClasses)
	case models.AlgorithmGeneric:
		artifact.Dense = BuildGeneric(config.Seed, inputDim)
	default:
		return nil, apierr.Validation("unknown algorithm: %s", config.Algorithm)
	}

	return fitArtifact(artifact, config, trainFeatures, valFeatures, trainLabels, valLabels, featureNames)
}

// Finetune resumes training on an already-fitted artifact at whatever
// learning rate/epoch count config carries, without rebuilding its layers or
// refitting normalization/categories — C6's "update in place" (spec.md §4.6
// "Update"). Callers are expected to pass a reduced learning rate and a
// small epoch count.
func Finetune(artifact *Artifact, config Config, trainFeatures, valFeatures [][]float64, trainLabels, valLabels [][]float64, featureNames []string) (*Result, error) {
	if len(trainFeatures) == 0 {
		return nil, apierr.Training(nil, "no training rows provided")
	}
	artifact.EnsureRNG(config.Seed)
	return fitArtifact(artifact, config, trainFeatures, valFeatures, trainLabels, valLabels, featureNames)
}

func fitArtifact(artifact *Artifact, config Config, trainFeatures, valFeatures [][]float64, trainLabels, valLabels [][]float64, featureNames []string) (*Result, error) {
	isCrossEntropy := config.Classification == models.ClassificationTask && artifact.Algorithm != models.AlgorithmGeneric

	epochs := config.Epochs
	if epochs <= 0 {
		epochs = 10
	}
	batchSize := config.BatchSize
	if batchSize <= 0 {
		batchSize = 32
	}
	lr := config.LearningRate
	if lr <= 0 {
		lr = 0.001
	}

	curve := make([]LearningCurvePoint, 0, epochs)
	rng := rand.New(rand.NewSource(config.Seed))
	var finalTrainLoss, finalValLoss float64
	bestValLoss := math.Inf(1)
	epochsSinceImprovement := 0

	// Mini-batch SGD: gradients are applied per example (see Network.trainStep)
	// but scaled by 1/batchSize, approximating a batch-averaged update without
	// the extra bookkeeping of deferred gradient accumulation.
	batchLR := lr / float64(batchSize)
	for epoch := 0; epoch < epochs; epoch++ {
		order := rng.Perm(len(trainFeatures))
		var epochLoss float64
		for _, idx := range order {
			loss := trainStep(artifact, trainFeatures[idx], trainLabels[idx], batchLR, isCrossEntropy)
			epochLoss += loss
		}
		epochLoss /= float64(len(order))

		valLoss := evaluateLoss(artifact, valFeatures, valLabels, isCrossEntropy)
		curve = append(curve, LearningCurvePoint{Epoch: epoch, TrainingLoss: epochLoss, ValidationLoss: valLoss})
		finalTrainLoss, finalValLoss = epochLoss, valLoss

		if config.Patience > 0 {
			if valLoss < bestValLoss {
				bestValLoss = valLoss
				epochsSinceImprovement = 0
			} else {
				epochsSinceImprovement++
				if epochsSinceImprovement >= config.Patience {
					break
				}
			}
		}
	}

	perf, err := evaluate(artifact, valFeatures, valLabels, config)
	if err != nil {
		return nil, err
	}

	return &Result{
		Model: artifact,
		TrainingMetrics: &TrainingMetrics{
			Epochs:         len(curve),
			FinalTrainLoss: finalTrainLoss,
			FinalValLoss:   finalValLoss,
			LearningCurve:  curve,
		},
		PerformanceMetrics: perf,
		FeatureImportance:  featureImportance(artifact, featureNames),
	}, nil
}

func trainStep(a *Artifact, input, target []float64, lr float64, crossEntropy bool) float64 {
	if a.LSTM != nil {
		return a.LSTM.trainStep(input, target, lr)
	}
	return a.Dense.trainStep(input, target, lr, crossEntropy)
}

func evaluateLoss(a *Artifact, features, labels [][]float64, crossEntropy bool) float64 {
	if len(features) == 0 {
		return 0
	}
	var total float64
	for i, f := range features {
		out := a.Predict(f)
		target := labels[i]
		if crossEntropy {
			for j := range out {
				p := out[j]
				if p < 1e-12 {
					p = 1e-12
				}
				total -= target[j] * math.Log(p)
			}
		} else {
			for j := range out {
				diff := out[j] - target[j]
				total += diff * diff / float64(len(out))
			}
		}
	}
	return total / float64(len(features))
}

// Evaluate scores a fitted artifact against a held-out split, producing the
// macro/per-class classification metrics or regression metrics C7 stores
// against a version. Exported so the evaluate HTTP endpoint (spec.md §6
// "POST /ai/models/:id/evaluate") can score an already-trained artifact
// against a caller-supplied test set without retraining it.
func Evaluate(a *Artifact, features, labels [][]float64, config Config) (*models.PerformanceMetrics, error) {
	return evaluate(a, features, labels, config)
}

// evaluate scores the fitted artifact on a held-out split, producing the
// macro/per-class classification metrics or regression metrics C7 stores
// against the version.
func evaluate(a *Artifact, features, labels [][]float64, config Config) (*models.PerformanceMetrics, error) {
	if len(features) == 0 {
		return &models.PerformanceMetrics{}, nil
	}
	if config.Classification == models.ClassificationTask {
		predicted := make([]int, len(features))
		actual := make([]int, len(features))
		for i, f := range features {
			predicted[i] = argMax(a.Predict(f))
			actual[i] = argMax(labels[i])
		}
		accuracy, macroP, macroR, macroF1, perClassF1, confusion := ClassificationMetrics(predicted, actual, config.NumClasses)
		perClass := make(map[string]float64, len(perClassF1))
		for i, f1 := range perClassF1 {
			perClass[fmt.Sprintf("class_%d", i)] = f1
		}
		return &models.PerformanceMetrics{
			Accuracy:        accuracy,
			MacroPrecision:  macroP,
			MacroRecall:     macroR,
			MacroF1:         macroF1,
			PerClassF1:      perClass,
			ConfusionMatrix: confusion,
		}, nil
	}

	predicted := make([]float64, len(features))
	actual := make([]float64, len(features))
	for i, f := range features {
		out := a.Predict(f)
		if len(out) == 0 {
			return nil, apierr.Prediction(nil, "model produced empty output")
		}
		predicted[i] = out[0]
		actual[i] = labels[i][0]
	}
	rmse, mae, r2, mape := RegressionMetrics(predicted, actual)
	return &models.PerformanceMetrics{RMSE: rmse, MAE: mae, R2Score: r2, MAPE: mape}, nil
}

// featureImportance approximates per-feature influence as the mean absolute
// weight in the first dense layer connected to that feature — a cheap proxy
// used in lieu of a real sensitivity analysis, matching the teacher's own
// placeholder-level feature-importance computation.
func featureImportance(a *Artifact, featureNames []string) map[string]float64 {
	importance := make(map[string]float64, len(featureNames))
	var firstLayerWeights [][]float64
	switch {
	case a.Dense != nil && len(a.Dense.Layers) > 0:
		firstLayerWeights = a.Dense.Layers[0].Weights
	case a.LSTM != nil:
		firstLayerWeights = a.LSTM.Cell1.Wi
	default:
		return importance
	}
	for i, name := range featureNames {
		if i >= len(firstLayerWeights) {
			importance[name] = 0
			continue
		}
		var sum float64
		for _, w := range firstLayerWeights[i] {
			sum += math.Abs(w)
		}
		if len(firstLayerWeights[i]) > 0 {
			importance[name] = sum / float64(len(firstLayerWeights[i]))
		}
	}
	return importance
}
