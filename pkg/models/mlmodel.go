package models

import (
	"fmt"
	"time"
)

// ModelClassification is the task family a model belongs to.
type ModelClassification string

const (
	ClassificationTask ModelClassification = "classification"
	RegressionTask     ModelClassification = "regression"
	ClusteringTask     ModelClassification = "clustering"
	RecommendationTask ModelClassification = "recommendation"
	NLPTask            ModelClassification = "nlp"
	CustomTask         ModelClassification = "custom"
)

// ModelStatus is the lifecycle status of a model record.
type ModelStatus string

const (
	ModelStatusCreated  ModelStatus = "created"
	ModelStatusTraining ModelStatus = "training"
	ModelStatusReady    ModelStatus = "ready"
	ModelStatusError    ModelStatus = "error"
)

// Algorithm is the network family C2 builds for a model.
type Algorithm string

const (
	AlgorithmDenseNN Algorithm = "dense_nn"
	AlgorithmLSTM    Algorithm = "lstm"
	AlgorithmGeneric Algorithm = "generic"
)

// Stage is the promotion stage of a model version.
type Stage string

const (
	StageDevelopment Stage = "development"
	StageStaging     Stage = "staging"
	StageProduction  Stage = "production"
	StageArchived    Stage = "archived"
)

// TrainingDataDescriptor records how the training set for a version was obtained.
type TrainingDataDescriptor struct {
	Source      string `json:"source"`
	RecordCount int    `json:"record_count"`
	Seed        int64  `json:"seed"`
	DatasetHash string `json:"dataset_hash"`
	Epochs      int    `json:"epochs"`
}

// ModelConfig is the configuration chosen when a model was created.
type ModelConfig struct {
	Algorithm    Algorithm              `json:"algorithm"`
	Parameters   map[string]interface{} `json:"parameters,omitempty"`
	FeatureNames []string               `json:"feature_names"`
	TargetName   string                 `json:"target_name,omitempty"`
	TextFeatures []string               `json:"text_features,omitempty"`
	EmbeddingsOn bool                   `json:"embeddings_enabled"`
}

// PerformanceMetrics aggregates classification and regression evaluation output.
type PerformanceMetrics struct {
	Accuracy        float64            `json:"accuracy,omitempty"`
	MacroPrecision  float64            `json:"macro_precision,omitempty"`
	MacroRecall     float64            `json:"macro_recall,omitempty"`
	MacroF1         float64            `json:"macro_f1,omitempty"`
	PerClassF1      map[string]float64 `json:"per_class_f1,omitempty"`
	ConfusionMatrix [][]int            `json:"confusion_matrix,omitempty"`
	MSE             float64            `json:"mse,omitempty"`
	RMSE            float64            `json:"rmse,omitempty"`
	MAE             float64            `json:"mae,omitempty"`
	R2Score         float64            `json:"r2_score,omitempty"`
	MAPE            float64            `json:"mape,omitempty"`
}

// VersionEntry is one append-only entry in a model's version history.
type VersionEntry struct {
	Version     string                 `json:"version"`
	Stage       Stage                  `json:"stage"`
	Performance *PerformanceMetrics    `json:"performance,omitempty"`
	StorageURI  string                 `json:"storage_uri"`
	CreatedAt   time.Time              `json:"created_at"`
	PromotedAt  *time.Time             `json:"promoted_at,omitempty"`
	Metadata    map[string]interface{} `json:"metadata,omitempty"`
}

// FeedbackEntry is one submitted feedback row against a prediction.
type FeedbackEntry struct {
	PredictionID string      `json:"prediction_id"`
	ActualValue  interface{} `json:"actual_value"`
	IsCorrect    bool        `json:"is_correct"`
	Comment      string      `json:"comment,omitempty"`
	ProvidedBy   string      `json:"provided_by,omitempty"`
	SubmittedAt  time.Time   `json:"submitted_at"`
}

// Model is the top-level model record described in spec.md §3.
type Model struct {
	ID                 string                  `json:"id"`
	OwnerID            string                  `json:"owner_id"`
	Name               string                  `json:"name"`
	Description        string                  `json:"description,omitempty"`
	Classification     ModelClassification     `json:"classification"`
	Status             ModelStatus             `json:"status"`
	CurrentVersion     string                  `json:"current_version,omitempty"`
	Versions           []VersionEntry          `json:"versions"`
	TrainingData       *TrainingDataDescriptor `json:"training_data,omitempty"`
	Config             ModelConfig             `json:"config"`
	PerformanceMetrics *PerformanceMetrics     `json:"performance_metrics,omitempty"`
	FeedbackLog        []FeedbackEntry         `json:"feedback_log,omitempty"`
	CreatedAt          time.Time               `json:"created_at"`
	UpdatedAt          time.Time               `json:"updated_at"`
	ErrorMessage       string                  `json:"error_message,omitempty"`
}

// ModelCreateRequest is the payload for POST /ai/models.
type ModelCreateRequest struct {
	OwnerID        string                 `json:"owner_id"`
	Name           string                 `json:"name"`
	Description    string                 `json:"description,omitempty"`
	Classification ModelClassification    `json:"classification"`
	Algorithm      Algorithm              `json:"algorithm"`
	FeatureNames   []string               `json:"feature_names"`
	TargetName     string                 `json:"target_name,omitempty"`
	TextFeatures   []string               `json:"text_features,omitempty"`
	EmbeddingsOn   bool                   `json:"embeddings_enabled,omitempty"`
	Parameters     map[string]interface{} `json:"parameters,omitempty"`
	TrainingSource string                 `json:"training_source"`
}

// Validate checks the ModelCreateRequest for required fields and valid enums.
func (r *ModelCreateRequest) Validate() error {
	if r.OwnerID == "" {
		return fmt.Errorf("owner_id is required")
	}
	if r.Name == "" {
		return fmt.Errorf("name is required")
	}
	if len(r.FeatureNames) == 0 {
		return fmt.Errorf("feature_names is required")
	}
	if r.TrainingSource == "" {
		return fmt.Errorf("training_source is required")
	}
	validClass := map[ModelClassification]bool{
		ClassificationTask: true, RegressionTask: true, ClusteringTask: true,
		RecommendationTask: true, NLPTask: true, CustomTask: true,
	}
	if !validClass[r.Classification] {
		return fmt.Errorf("invalid classification: %s", r.Classification)
	}
	validAlgo := map[Algorithm]bool{AlgorithmDenseNN: true, AlgorithmLSTM: true, AlgorithmGeneric: true}
	if !validAlgo[r.Algorithm] {
		return fmt.Errorf("invalid algorithm: %s", r.Algorithm)
	}
	return nil
}

// ModelUpdateRequest represents a request to update a model record.
type ModelUpdateRequest struct {
	Name        *string                `json:"name,omitempty"`
	Description *string                `json:"description,omitempty"`
	Status      *ModelStatus           `json:"status,omitempty"`
	Metadata    map[string]interface{} `json:"metadata,omitempty"`
}

// ModelTrainingRequest represents a request to (re)train a model.
type ModelTrainingRequest struct {
	ModelID        string                 `json:"model_id"`
	TrainingSource string                 `json:"training_source,omitempty"`
	Parameters     map[string]interface{} `json:"parameters,omitempty"`
}

// Validate checks if the ModelTrainingRequest is valid.
func (r *ModelTrainingRequest) Validate() error {
	if r.ModelID == "" {
		return fmt.Errorf("model_id is required")
	}
	return nil
}
