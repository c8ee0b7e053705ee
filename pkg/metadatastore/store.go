package metadatastore

import "github.com/mlforge/core/pkg/models"

// MetadataStore is the interface for orchestrator metadata persistence: model
// records and their version history, prediction/feedback history, deployment
// state-machine instances, and A/B tests (spec.md §3, §4.7, §4.8). This is
// NOT the model artifact storage (see pkg/storage for weight/prep files).
type MetadataStore interface {
	// Model operations
	SaveModel(model *models.Model) error
	GetModel(id string) (*models.Model, error)
	ListModels() ([]*models.Model, error)
	ListModelsByOwner(ownerID string) ([]*models.Model, error)
	DeleteModel(id string) error

	// Prediction history operations
	SavePrediction(prediction *models.PredictionRecord) error
	GetPrediction(id string) (*models.PredictionRecord, error)
	ListPredictionsByModel(modelID string, limit int) ([]*models.PredictionRecord, error)
	RecordFeedback(predictionID string, feedback *models.FeedbackEntry) error

	// Deployment operations
	SaveDeployment(deployment *models.Deployment) error
	GetDeployment(id string) (*models.Deployment, error)
	ListDeploymentsByModel(modelID string) ([]*models.Deployment, error)

	// A/B test operations
	SaveABTest(test *models.ABTest) error
	GetABTest(id string) (*models.ABTest, error)
	ListActiveABTests() ([]*models.ABTest, error)
}
