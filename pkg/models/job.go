package models

import "time"

// JobType represents the type of background job submitted to the queue.
type JobType string

const (
	JobTypeModelTraining    JobType = "model_training"
	JobTypeIncrementalUpdate JobType = "incremental_update"
	JobTypeAutoMLTrial       JobType = "automl_trial"
	JobTypeDeployment        JobType = "deployment"
)

// JobStatus represents the current status of a job.
type JobStatus string

const (
	JobStatusQueued    JobStatus = "queued"
	JobStatusExecuting JobStatus = "executing"
	JobStatusCompleted JobStatus = "completed"
	JobStatusFailed    JobStatus = "failed"
	JobStatusTimeout   JobStatus = "timeout"
	JobStatusCancelled JobStatus = "cancelled"
)

// TaskSpec contains job-specific parameters.
type TaskSpec struct {
	ModelID    string                 `json:"model_id,omitempty"`
	OwnerID    string                 `json:"owner_id,omitempty"`
	Parameters map[string]interface{} `json:"parameters"`
}

// Job represents a work unit to be executed by a worker.
type Job struct {
	ID          string     `json:"job_id"`
	Type        JobType    `json:"type"`
	Status      JobStatus  `json:"status"`
	Priority    int        `json:"priority"`
	SubmittedAt time.Time  `json:"submitted_at"`
	StartedAt   *time.Time `json:"started_at,omitempty"`
	CompletedAt *time.Time `json:"completed_at,omitempty"`
	OwnerID     string     `json:"owner_id"`
	TaskSpec    TaskSpec   `json:"task_spec"`
	ErrorMessage string    `json:"error_message,omitempty"`
}
