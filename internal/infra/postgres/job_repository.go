package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"gorm.io/gorm"

	"product-data-service/internal/domain"
)

// JobRepository implements domain.JobRepository using PostgreSQL.
type JobRepository struct {
	db *gorm.DB
}

// NewJobRepository creates a new PostgreSQL job repository.
func NewJobRepository(db *gorm.DB) *JobRepository {
	return &JobRepository{db: db}
}

// Create persists a new job and backfills its generated ID.
func (r *JobRepository) Create(ctx context.Context, job *domain.Job) error {
	model := JobFromDomain(job)

	if err := r.db.WithContext(ctx).Create(model).Error; err != nil {
		return fmt.Errorf("creating job: %w", err)
	}

	job.ID = model.ID
	job.CreatedAt = model.CreatedAt

	return nil
}

// GetByID retrieves a single job. Returns (nil, nil) when not found.
func (r *JobRepository) GetByID(ctx context.Context, id int64) (*domain.Job, error) {
	var model JobModel
	err := r.db.WithContext(ctx).Where("id = ?", id).First(&model).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}

		return nil, fmt.Errorf("getting job by id: %w", err)
	}

	return model.ToDomain(), nil
}

// FetchDue returns pending jobs whose scheduled time has passed,
// highest priority first, oldest schedule first within a priority.
func (r *JobRepository) FetchDue(ctx context.Context, limit int, now time.Time) ([]*domain.Job, error) {
	var models []JobModel
	err := r.db.WithContext(ctx).
		Where("status = ? AND scheduled_at <= ?", string(domain.JobStatusPending), now).
		Order("priority DESC, scheduled_at ASC").
		Limit(limit).
		Find(&models).Error
	if err != nil {
		return nil, fmt.Errorf("fetching due jobs: %w", err)
	}

	jobs := make([]*domain.Job, len(models))
	for i, m := range models {
		jobs[i] = m.ToDomain()
	}

	return jobs, nil
}

// MarkProcessing claims a pending job. The status guard makes the
// claim atomic: a job already claimed by another worker is skipped.
func (r *JobRepository) MarkProcessing(ctx context.Context, id int64, now time.Time) error {
	result := r.db.WithContext(ctx).Model(&JobModel{}).
		Where("id = ? AND status = ?", id, string(domain.JobStatusPending)).
		Updates(map[string]any{
			"status":     string(domain.JobStatusProcessing),
			"attempts":   gorm.Expr("attempts + 1"),
			"started_at": now,
		})
	if result.Error != nil {
		return fmt.Errorf("marking job processing: %w", result.Error)
	}
	if result.RowsAffected == 0 {
		return fmt.Errorf("job %d is not claimable", id)
	}

	return nil
}

// MarkCompleted finishes a job successfully, storing its result.
func (r *JobRepository) MarkCompleted(ctx context.Context, id int64, result map[string]any, now time.Time) error {
	model := JobFromDomain(&domain.Job{Result: result})

	err := r.db.WithContext(ctx).Model(&JobModel{}).
		Where("id = ?", id).
		Updates(map[string]any{
			"status":        string(domain.JobStatusCompleted),
			"completed_at":  now,
			"result":        model.Result,
			"error_message": "",
		}).Error
	if err != nil {
		return fmt.Errorf("marking job completed: %w", err)
	}

	return nil
}

// MarkFailed finishes a job permanently with an error message.
func (r *JobRepository) MarkFailed(ctx context.Context, id int64, errMsg string, now time.Time) error {
	err := r.db.WithContext(ctx).Model(&JobModel{}).
		Where("id = ?", id).
		Updates(map[string]any{
			"status":        string(domain.JobStatusFailed),
			"completed_at":  now,
			"error_message": errMsg,
		}).Error
	if err != nil {
		return fmt.Errorf("marking job failed: %w", err)
	}

	return nil
}

// Reschedule returns a job to pending with a future scheduled time,
// recording the failure that caused the retry.
func (r *JobRepository) Reschedule(ctx context.Context, id int64, at time.Time, errMsg string) error {
	err := r.db.WithContext(ctx).Model(&JobModel{}).
		Where("id = ?", id).
		Updates(map[string]any{
			"status":        string(domain.JobStatusPending),
			"scheduled_at":  at,
			"started_at":    nil,
			"error_message": errMsg,
		}).Error
	if err != nil {
		return fmt.Errorf("rescheduling job: %w", err)
	}

	return nil
}

// ReclaimStale returns processing jobs started before the cutoff to
// pending. Covers workers that died mid-job.
func (r *JobRepository) ReclaimStale(ctx context.Context, cutoff time.Time) (int64, error) {
	result := r.db.WithContext(ctx).Model(&JobModel{}).
		Where("status = ? AND started_at < ?", string(domain.JobStatusProcessing), cutoff).
		Updates(map[string]any{
			"status":     string(domain.JobStatusPending),
			"started_at": nil,
		})
	if result.Error != nil {
		return 0, fmt.Errorf("reclaiming stale jobs: %w", result.Error)
	}

	return result.RowsAffected, nil
}

// CancelJob cancels a job unless it already reached a terminal state
// or is currently running. Returns whether a job was cancelled.
func (r *JobRepository) CancelJob(ctx context.Context, id int64) (bool, error) {
	result := r.db.WithContext(ctx).Model(&JobModel{}).
		Where("id = ? AND status = ?", id, string(domain.JobStatusPending)).
		Update("status", string(domain.JobStatusCancelled))
	if result.Error != nil {
		return false, fmt.Errorf("cancelling job: %w", result.Error)
	}

	return result.RowsAffected > 0, nil
}

// CancelBatch cancels every pending job in a batch and returns the
// number cancelled. Running jobs finish on their own.
func (r *JobRepository) CancelBatch(ctx context.Context, batchID string) (int64, error) {
	result := r.db.WithContext(ctx).Model(&JobModel{}).
		Where("batch_id = ? AND status = ?", batchID, string(domain.JobStatusPending)).
		Update("status", string(domain.JobStatusCancelled))
	if result.Error != nil {
		return 0, fmt.Errorf("cancelling batch: %w", result.Error)
	}

	return result.RowsAffected, nil
}

// RetryFailed resets failed jobs to pending with a fresh attempt
// budget. An empty batchID retries every failed job.
func (r *JobRepository) RetryFailed(ctx context.Context, batchID string) (int64, error) {
	query := r.db.WithContext(ctx).Model(&JobModel{}).
		Where("status = ?", string(domain.JobStatusFailed))
	if batchID != "" {
		query = query.Where("batch_id = ?", batchID)
	}

	result := query.Updates(map[string]any{
		"status":        string(domain.JobStatusPending),
		"attempts":      0,
		"scheduled_at":  time.Now().UTC(),
		"started_at":    nil,
		"completed_at":  nil,
		"error_message": "",
	})
	if result.Error != nil {
		return 0, fmt.Errorf("retrying failed jobs: %w", result.Error)
	}

	return result.RowsAffected, nil
}

// BatchCounts aggregates per-status counts for a batch. Returns
// (nil, nil) when the batch has no jobs.
func (r *JobRepository) BatchCounts(ctx context.Context, batchID string) (*domain.BatchStatus, error) {
	var rows []struct {
		Status string
		Count  int
	}
	err := r.db.WithContext(ctx).Model(&JobModel{}).
		Select("status, COUNT(*) as count").
		Where("batch_id = ?", batchID).
		Group("status").
		Scan(&rows).Error
	if err != nil {
		return nil, fmt.Errorf("counting batch jobs: %w", err)
	}
	if len(rows) == 0 {
		return nil, nil
	}

	status := &domain.BatchStatus{BatchID: batchID}
	for _, row := range rows {
		switch domain.JobStatus(row.Status) {
		case domain.JobStatusPending:
			status.Pending = row.Count
		case domain.JobStatusProcessing:
			status.Processing = row.Count
		case domain.JobStatusCompleted:
			status.Completed = row.Count
		case domain.JobStatusFailed:
			status.Failed = row.Count
		case domain.JobStatusCancelled:
			status.Cancelled = row.Count
		}
	}
	status.Finalize()

	return status, nil
}

// BatchJobs lists every job in a batch in creation order.
func (r *JobRepository) BatchJobs(ctx context.Context, batchID string) ([]*domain.Job, error) {
	var models []JobModel
	err := r.db.WithContext(ctx).
		Where("batch_id = ?", batchID).
		Order("id ASC").
		Find(&models).Error
	if err != nil {
		return nil, fmt.Errorf("listing batch jobs: %w", err)
	}

	jobs := make([]*domain.Job, len(models))
	for i, m := range models {
		jobs[i] = m.ToDomain()
	}

	return jobs, nil
}

// Stats aggregates the whole job table.
func (r *JobRepository) Stats(ctx context.Context) (*domain.QueueStats, error) {
	var row struct {
		TotalJobs    int64
		Pending      int64
		Processing   int64
		Completed    int64
		Failed       int64
		TotalBatches int64
		AvgSeconds   float64
	}

	err := r.db.WithContext(ctx).Model(&JobModel{}).
		Select(`
			COUNT(*) AS total_jobs,
			COUNT(*) FILTER (WHERE status = 'pending') AS pending,
			COUNT(*) FILTER (WHERE status = 'processing') AS processing,
			COUNT(*) FILTER (WHERE status = 'completed') AS completed,
			COUNT(*) FILTER (WHERE status = 'failed') AS failed,
			COUNT(DISTINCT batch_id) FILTER (WHERE batch_id <> '') AS total_batches,
			COALESCE(AVG(EXTRACT(EPOCH FROM (completed_at - started_at))) FILTER (WHERE status = 'completed'), 0) AS avg_seconds
		`).
		Scan(&row).Error
	if err != nil {
		return nil, fmt.Errorf("aggregating queue stats: %w", err)
	}

	stats := &domain.QueueStats{
		TotalJobs:         row.TotalJobs,
		Pending:           row.Pending,
		Processing:        row.Processing,
		Completed:         row.Completed,
		Failed:            row.Failed,
		TotalBatches:      row.TotalBatches,
		AvgProcessingTime: time.Duration(row.AvgSeconds * float64(time.Second)),
	}
	if finished := stats.Completed + stats.Failed; finished > 0 {
		stats.SuccessRate = float64(stats.Completed) / float64(finished) * 100
	}

	return stats, nil
}

// DeleteTerminalBefore purges terminal jobs whose completion predates
// the cutoff. Cancelled jobs never ran, so created_at is used there.
func (r *JobRepository) DeleteTerminalBefore(ctx context.Context, cutoff time.Time) (int64, error) {
	result := r.db.WithContext(ctx).
		Where("(status IN ? AND completed_at < ?) OR (status = ? AND created_at < ?)",
			[]string{string(domain.JobStatusCompleted), string(domain.JobStatusFailed)}, cutoff,
			string(domain.JobStatusCancelled), cutoff,
		).
		Delete(&JobModel{})
	if result.Error != nil {
		return 0, fmt.Errorf("purging terminal jobs: %w", result.Error)
	}

	return result.RowsAffected, nil
}
