package queue

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/mlforge/core/pkg/models"
)

// Queue is a Redis-backed priority job queue for training, incremental-
// update, AutoML-trial, and deployment jobs (spec.md §5 "parallel worker
// tasks"). It is the Redis-sorted-set analogue of the teacher's in-memory
// container/heap PriorityQueue: Enqueue computes the same "lower score
// dequeues first, older-and-higher-priority-first" score the teacher's
// heap.Push did (score = submission-time / (priority+1)) and ZADDs the job
// ID under it; Dequeue ZPOPMINs the lowest score instead of popping a heap
// root. Per-job status lives in a separate string key so GetJob/
// UpdateJobStatus work without touching the ordering set.
type Queue struct {
	client       *redis.Client
	zsetKey      string
	statusPrefix string
}

// NewQueue connects to Redis at the given URL and returns a ready queue.
func NewQueue(redisURL string) (*Queue, error) {
	opts, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, fmt.Errorf("failed to parse redis url: %w", err)
	}

	client := redis.NewClient(opts)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("failed to connect to redis: %w", err)
	}

	return &Queue{
		client:       client,
		zsetKey:      "ml:jobs:queue",
		statusPrefix: "ml:jobs:job:",
	}, nil
}

// priorityScore mirrors the teacher's PriorityQueueItem scoring: lower
// score dequeues first, so a higher Priority (larger denominator divisor)
// yields a smaller score for the same submission time and jumps the queue
// ahead of same-age lower-priority jobs.
func priorityScore(job *models.Job) float64 {
	return float64(job.SubmittedAt.Unix()) / float64(job.Priority+1)
}

// Enqueue adds a job to the priority set and records its status.
func (q *Queue) Enqueue(job *models.Job) error {
	ctx := context.Background()

	data, err := json.Marshal(job)
	if err != nil {
		return fmt.Errorf("failed to marshal job: %w", err)
	}

	if err := q.client.ZAdd(ctx, q.zsetKey, redis.Z{Score: priorityScore(job), Member: job.ID}).Err(); err != nil {
		return fmt.Errorf("failed to enqueue job: %w", err)
	}

	if err := q.client.Set(ctx, q.statusPrefix+job.ID, data, 0).Err(); err != nil {
		return fmt.Errorf("failed to record job status: %w", err)
	}

	return nil
}

// Dequeue pops the job with the lowest priority score (highest actual
// priority), or returns nil if the queue is empty.
func (q *Queue) Dequeue() (*models.Job, error) {
	ctx := context.Background()

	popped, err := q.client.ZPopMin(ctx, q.zsetKey, 1).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to dequeue job: %w", err)
	}
	if len(popped) == 0 {
		return nil, nil
	}

	jobID, ok := popped[0].Member.(string)
	if !ok {
		return nil, fmt.Errorf("malformed queue entry: %v", popped[0].Member)
	}

	return q.GetJob(jobID)
}

// GetJob returns the current recorded status for a job by ID.
func (q *Queue) GetJob(jobID string) (*models.Job, error) {
	ctx := context.Background()

	data, err := q.client.Get(ctx, q.statusPrefix+jobID).Result()
	if err == redis.Nil {
		return nil, fmt.Errorf("job not found: %s", jobID)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get job: %w", err)
	}

	var job models.Job
	if err := json.Unmarshal([]byte(data), &job); err != nil {
		return nil, fmt.Errorf("failed to unmarshal job: %w", err)
	}

	return &job, nil
}

// UpdateJobStatus updates the recorded status for a job, stamping
// started/completed timestamps as appropriate.
func (q *Queue) UpdateJobStatus(jobID string, status models.JobStatus, errorMsg string) error {
	job, err := q.GetJob(jobID)
	if err != nil {
		return err
	}

	job.Status = status
	if errorMsg != "" {
		job.ErrorMessage = errorMsg
	}

	now := time.Now().UTC()
	switch status {
	case models.JobStatusExecuting:
		job.StartedAt = &now
	case models.JobStatusCompleted, models.JobStatusFailed, models.JobStatusTimeout, models.JobStatusCancelled:
		job.CompletedAt = &now
	}

	ctx := context.Background()
	data, err := json.Marshal(job)
	if err != nil {
		return fmt.Errorf("failed to marshal job: %w", err)
	}

	if err := q.client.Set(ctx, q.statusPrefix+jobID, data, 0).Err(); err != nil {
		return fmt.Errorf("failed to update job status: %w", err)
	}

	return nil
}

// QueueLength returns the number of jobs waiting in the queue.
func (q *Queue) QueueLength() (int64, error) {
	ctx := context.Background()
	n, err := q.client.ZCard(ctx, q.zsetKey).Result()
	if err != nil {
		return 0, fmt.Errorf("failed to get queue length: %w", err)
	}
	return n, nil
}

// Close releases the underlying Redis connection.
func (q *Queue) Close() error {
	return q.client.Close()
}
