package queue

import (
	"testing"
	"time"

	"github.com/mlforge/core/pkg/models"
)

// TestEnqueueDequeue tests basic queue operations.
func TestEnqueueDequeue(t *testing.T) {
	t.Skip("Integration test - requires Redis")

	q, err := NewQueue("redis://localhost:6379")
	if err != nil {
		t.Fatalf("Failed to create queue: %v", err)
	}
	defer q.Close()

	job := &models.Job{
		ID:          "test-job-1",
		Type:        models.JobTypeModelTraining,
		Status:      models.JobStatusQueued,
		Priority:    1,
		SubmittedAt: time.Now(),
		OwnerID:     "test-tenant",
		TaskSpec: models.TaskSpec{
			ModelID:    "model-1",
			Parameters: map[string]interface{}{},
		},
	}

	if err := q.Enqueue(job); err != nil {
		t.Fatalf("Failed to enqueue job: %v", err)
	}

	dequeuedJob, err := q.Dequeue()
	if err != nil {
		t.Fatalf("Failed to dequeue job: %v", err)
	}

	if dequeuedJob == nil {
		t.Fatal("Dequeued job is nil")
	}

	if dequeuedJob.ID != job.ID {
		t.Errorf("Expected job ID %s, got %s", job.ID, dequeuedJob.ID)
	}
}

// TestQueueLength tests queue length tracking.
func TestQueueLength(t *testing.T) {
	t.Skip("Integration test - requires Redis")

	q, err := NewQueue("redis://localhost:6379")
	if err != nil {
		t.Fatalf("Failed to create queue: %v", err)
	}
	defer q.Close()

	initialLength, err := q.QueueLength()
	if err != nil {
		t.Fatalf("Failed to get queue length: %v", err)
	}

	job := &models.Job{
		ID:          "test-job-2",
		Type:        models.JobTypeModelTraining,
		Status:      models.JobStatusQueued,
		Priority:    1,
		SubmittedAt: time.Now(),
		OwnerID:     "test-tenant",
	}

	if err := q.Enqueue(job); err != nil {
		t.Fatalf("Failed to enqueue job: %v", err)
	}

	newLength, err := q.QueueLength()
	if err != nil {
		t.Fatalf("Failed to get queue length: %v", err)
	}

	if newLength != initialLength+1 {
		t.Errorf("Expected queue length %d, got %d", initialLength+1, newLength)
	}
}

// TestJobStatusUpdate tests job status updates.
func TestJobStatusUpdate(t *testing.T) {
	t.Skip("Integration test - requires Redis")

	q, err := NewQueue("redis://localhost:6379")
	if err != nil {
		t.Fatalf("Failed to create queue: %v", err)
	}
	defer q.Close()

	job := &models.Job{
		ID:          "test-job-3",
		Type:        models.JobTypeModelTraining,
		Status:      models.JobStatusQueued,
		Priority:    1,
		SubmittedAt: time.Now(),
		OwnerID:     "test-tenant",
	}

	if err := q.Enqueue(job); err != nil {
		t.Fatalf("Failed to enqueue job: %v", err)
	}

	if err := q.UpdateJobStatus(job.ID, models.JobStatusExecuting, ""); err != nil {
		t.Fatalf("Failed to update job status: %v", err)
	}

	updatedJob, err := q.GetJob(job.ID)
	if err != nil {
		t.Fatalf("Failed to get job: %v", err)
	}

	if updatedJob.Status != models.JobStatusExecuting {
		t.Errorf("Expected status %s, got %s", models.JobStatusExecuting, updatedJob.Status)
	}
}

// TestPriorityOrdering verifies a higher-priority job enqueued after a
// lower-priority one still dequeues first, matching the teacher's
// heap-based queue semantics reimplemented over a Redis sorted set.
func TestPriorityOrdering(t *testing.T) {
	t.Skip("Integration test - requires Redis")

	q, err := NewQueue("redis://localhost:6379")
	if err != nil {
		t.Fatalf("Failed to create queue: %v", err)
	}
	defer q.Close()

	now := time.Now()
	low := &models.Job{ID: "low-priority", Type: models.JobTypeModelTraining, Priority: 1, SubmittedAt: now}
	high := &models.Job{ID: "high-priority", Type: models.JobTypeIncrementalUpdate, Priority: 2, SubmittedAt: now}

	if err := q.Enqueue(low); err != nil {
		t.Fatalf("Failed to enqueue low-priority job: %v", err)
	}
	if err := q.Enqueue(high); err != nil {
		t.Fatalf("Failed to enqueue high-priority job: %v", err)
	}

	first, err := q.Dequeue()
	if err != nil {
		t.Fatalf("Failed to dequeue: %v", err)
	}
	if first == nil || first.ID != high.ID {
		t.Errorf("Expected high-priority job to dequeue first, got %+v", first)
	}
}
