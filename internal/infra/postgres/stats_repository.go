package postgres

import (
	"context"
	"fmt"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"product-data-service/internal/domain"
)

// StatsRepository implements domain.StatsRepository using PostgreSQL.
type StatsRepository struct {
	db *gorm.DB
}

// NewStatsRepository creates a new PostgreSQL stats repository.
func NewStatsRepository(db *gorm.DB) *StatsRepository {
	return &StatsRepository{db: db}
}

// Load restores all persisted provider statistics keyed by provider.
func (r *StatsRepository) Load(ctx context.Context) (map[string]*domain.ProviderStats, error) {
	var models []ProviderStatsModel
	if err := r.db.WithContext(ctx).Find(&models).Error; err != nil {
		return nil, fmt.Errorf("loading provider stats: %w", err)
	}

	stats := make(map[string]*domain.ProviderStats, len(models))
	for i := range models {
		stats[models[i].Provider] = models[i].ToDomain()
	}

	return stats, nil
}

// Save upserts one provider's statistics row.
func (r *StatsRepository) Save(ctx context.Context, stats *domain.ProviderStats, capabilities []domain.Operation) error {
	model := StatsFromDomain(stats, domain.OperationNames(capabilities))

	err := r.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns: []clause.Column{{Name: "provider"}},
		DoUpdates: clause.AssignmentColumns([]string{
			"capabilities", "total_requests", "successes", "failures",
			"total_response_time_ms", "last_used", "updated_at",
		}),
	}).Create(model).Error
	if err != nil {
		return fmt.Errorf("saving provider stats: %w", err)
	}

	return nil
}
