package migrations

import (
	"github.com/go-gormigrate/gormigrate/v2"
	"gorm.io/gorm"
)

// createProviderStatsTable creates the persisted provider usage
// statistics table.
func createProviderStatsTable() *gormigrate.Migration {
	return &gormigrate.Migration{
		ID: "003_create_provider_stats",
		Migrate: func(tx *gorm.DB) error {
			return tx.Exec(`
				CREATE TABLE IF NOT EXISTS api_provider_stats (
					provider VARCHAR(50) PRIMARY KEY,
					capabilities TEXT[],
					total_requests BIGINT NOT NULL DEFAULT 0,
					successes BIGINT NOT NULL DEFAULT 0,
					failures BIGINT NOT NULL DEFAULT 0,
					total_response_time_ms BIGINT NOT NULL DEFAULT 0,
					last_used TIMESTAMP,
					updated_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP
				);
			`).Error
		},
		Rollback: func(tx *gorm.DB) error {
			return tx.Exec("DROP TABLE IF EXISTS api_provider_stats;").Error
		},
	}
}
