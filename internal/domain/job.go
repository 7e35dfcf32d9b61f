package domain

import (
	"time"
)

// JobStatus is the lifecycle state of a queued job.
type JobStatus string

const (
	JobStatusPending    JobStatus = "pending"
	JobStatusProcessing JobStatus = "processing"
	JobStatusCompleted  JobStatus = "completed"
	JobStatusFailed     JobStatus = "failed"
	JobStatusCancelled  JobStatus = "cancelled"
)

// IsTerminal reports whether a job in this status will never run again.
func (s JobStatus) IsTerminal() bool {
	return s == JobStatusCompleted || s == JobStatusFailed || s == JobStatusCancelled
}

// Job priorities. Jobs at PriorityHigh or above trigger an immediate
// processing attempt instead of waiting for the next periodic sweep.
const (
	PriorityLow    = 10
	PriorityNormal = 50
	PriorityHigh   = 90
	PriorityUrgent = 100
)

// Job is a durable unit of background work.
//
// Invariants: Attempts <= MaxRetries while pending; once a failure
// exhausts MaxRetries the status is failed permanently. A ScheduledAt
// in the future makes the job ineligible for pickup (retry backoff).
type Job struct {
	ID           int64          `json:"id"`
	Action       string         `json:"action"`
	Payload      map[string]any `json:"payload"`
	Provider     string         `json:"provider,omitempty"`
	BatchID      string         `json:"batch_id,omitempty"`
	Priority     int            `json:"priority"`
	Status       JobStatus      `json:"status"`
	Attempts     int            `json:"attempts"`
	MaxRetries   int            `json:"max_retries"`
	ScheduledAt  time.Time      `json:"scheduled_at"`
	StartedAt    *time.Time     `json:"started_at,omitempty"`
	CompletedAt  *time.Time     `json:"completed_at,omitempty"`
	Result       map[string]any `json:"result,omitempty"`
	ErrorMessage string         `json:"error_message,omitempty"`
	CreatedAt    time.Time      `json:"created_at"`
}

// RetryBackoff returns the delay before the next attempt: exponential
// in the number of attempts already made, capped at one hour.
func RetryBackoff(attempts int) time.Duration {
	delay := time.Duration(1<<uint(attempts)) * time.Minute
	if delay > time.Hour {
		return time.Hour
	}

	return delay
}

// BatchStatus is the derived aggregate over all jobs sharing a batch.
type BatchStatus struct {
	BatchID    string  `json:"batch_id"`
	Total      int     `json:"total"`
	Pending    int     `json:"pending"`
	Processing int     `json:"processing"`
	Completed  int     `json:"completed"`
	Failed     int     `json:"failed"`
	Cancelled  int     `json:"cancelled"`
	Progress   float64 `json:"progress"`
	IsComplete bool    `json:"is_complete"`
}

// Finalize computes the derived progress fields from the counts.
func (b *BatchStatus) Finalize() {
	b.Total = b.Pending + b.Processing + b.Completed + b.Failed + b.Cancelled
	if b.Total > 0 {
		b.Progress = float64(b.Completed+b.Failed) / float64(b.Total) * 100
	}
	b.IsComplete = b.Pending == 0 && b.Processing == 0
}

// QueueStats summarizes the whole job table for reporting.
type QueueStats struct {
	TotalJobs         int64         `json:"total_jobs"`
	Pending           int64         `json:"pending"`
	Processing        int64         `json:"processing"`
	Completed         int64         `json:"completed"`
	Failed            int64         `json:"failed"`
	TotalBatches      int64         `json:"total_batches"`
	AvgProcessingTime time.Duration `json:"avg_processing_time"`
	SuccessRate       float64       `json:"success_rate"`
}
