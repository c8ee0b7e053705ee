package models

import "time"

// PredictionOutput is the payload returned to a caller for one prediction.
type PredictionOutput struct {
	Prediction    interface{}        `json:"prediction"`
	Confidence    float64            `json:"confidence"`
	Probabilities map[string]float64 `json:"probabilities,omitempty"`
	Mocked        bool               `json:"mocked,omitempty"`
}

// PredictionRecord is a persisted prediction (spec.md §3).
type PredictionRecord struct {
	ID             string                 `json:"id"`
	ModelID        string                 `json:"model_id"`
	Version        string                 `json:"version"`
	Input          map[string]interface{} `json:"input"`
	Output         PredictionOutput       `json:"output"`
	ProcessingMS   float64                `json:"processing_ms"`
	Timestamp      time.Time              `json:"timestamp"`
	Feedback       *FeedbackEntry         `json:"feedback,omitempty"`
}

// BatchPredictionItem is one row's result within a batch prediction response.
type BatchPredictionItem struct {
	Index  int               `json:"index"`
	Output *PredictionOutput `json:"output,omitempty"`
	Error  string            `json:"error,omitempty"`
}

// BatchPredictionResult is the full response to a batch-predict call.
type BatchPredictionResult struct {
	Items        []BatchPredictionItem `json:"items"`
	SuccessCount int                   `json:"success_count"`
	ErrorCount   int                   `json:"error_count"`
}

// FeedbackRequest is the payload for POST /ai/predictions/:id/feedback.
type FeedbackRequest struct {
	ActualValue      interface{} `json:"actual_value"`
	IsCorrect        bool        `json:"is_correct"`
	Comment          string      `json:"comment,omitempty"`
	ProviderID       string      `json:"provider_id,omitempty"`
	TriggerLearning  bool        `json:"trigger_learning,omitempty"`
}
