package postgres

import (
	"context"
	"fmt"
	"time"

	"gorm.io/gorm"

	"product-data-service/internal/domain"
)

// LogRepository implements domain.RequestLogRepository using PostgreSQL.
type LogRepository struct {
	db *gorm.DB
}

// NewLogRepository creates a new PostgreSQL request log repository.
func NewLogRepository(db *gorm.DB) *LogRepository {
	return &LogRepository{db: db}
}

// Start inserts the request half of a log entry. The response fields
// stay zero until Finish runs.
func (r *LogRepository) Start(ctx context.Context, log *domain.RequestLog) error {
	model := LogFromDomain(log)

	if err := r.db.WithContext(ctx).Create(model).Error; err != nil {
		return fmt.Errorf("starting request log: %w", err)
	}

	log.CreatedAt = model.CreatedAt

	return nil
}

// Finish completes a log entry with the response outcome.
func (r *LogRepository) Finish(ctx context.Context, id string, code int, message string, credits int, elapsed time.Duration) error {
	err := r.db.WithContext(ctx).Model(&RequestLogModel{}).
		Where("id = ?", id).
		Updates(map[string]any{
			"response_code":     code,
			"response_message":  message,
			"credits_used":      credits,
			"execution_time_ms": elapsed.Milliseconds(),
		}).Error
	if err != nil {
		return fmt.Errorf("finishing request log: %w", err)
	}

	return nil
}

// Recent lists the newest log entries.
func (r *LogRepository) Recent(ctx context.Context, limit int) ([]*domain.RequestLog, error) {
	var models []RequestLogModel
	err := r.db.WithContext(ctx).
		Order("created_at DESC").
		Limit(limit).
		Find(&models).Error
	if err != nil {
		return nil, fmt.Errorf("listing request logs: %w", err)
	}

	logs := make([]*domain.RequestLog, len(models))
	for i, m := range models {
		logs[i] = m.ToDomain()
	}

	return logs, nil
}

// PurgeBefore deletes log entries older than the cutoff.
func (r *LogRepository) PurgeBefore(ctx context.Context, cutoff time.Time) (int64, error) {
	result := r.db.WithContext(ctx).
		Where("created_at < ?", cutoff).
		Delete(&RequestLogModel{})
	if result.Error != nil {
		return 0, fmt.Errorf("purging request logs: %w", result.Error)
	}

	return result.RowsAffected, nil
}
