package migrations

import (
	"github.com/go-gormigrate/gormigrate/v2"
	"gorm.io/gorm"
)

// createQueueJobsTable creates the background job queue table.
func createQueueJobsTable() *gormigrate.Migration {
	return &gormigrate.Migration{
		ID: "001_create_queue_jobs",
		Migrate: func(tx *gorm.DB) error {
			err := tx.Exec(`
				CREATE TABLE IF NOT EXISTS api_queue_jobs (
					id BIGSERIAL PRIMARY KEY,
					action VARCHAR(100) NOT NULL,
					payload JSONB NOT NULL DEFAULT '{}',
					provider VARCHAR(50) DEFAULT '',
					batch_id VARCHAR(64) DEFAULT '',
					priority INTEGER NOT NULL DEFAULT 50,
					status VARCHAR(20) NOT NULL DEFAULT 'pending',

					-- Retry bookkeeping
					attempts INTEGER NOT NULL DEFAULT 0,
					max_retries INTEGER NOT NULL DEFAULT 3,

					-- Lifecycle timestamps
					scheduled_at TIMESTAMP NOT NULL,
					started_at TIMESTAMP,
					completed_at TIMESTAMP,

					result JSONB,
					error_message TEXT DEFAULT '',
					created_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP
				);
			`).Error
			if err != nil {
				return err
			}

			indexes := []string{
				"CREATE INDEX IF NOT EXISTS idx_jobs_status_scheduled ON api_queue_jobs(status, scheduled_at);",
				"CREATE INDEX IF NOT EXISTS idx_jobs_priority ON api_queue_jobs(priority DESC);",
				"CREATE INDEX IF NOT EXISTS idx_jobs_batch_id ON api_queue_jobs(batch_id);",
			}

			for _, idx := range indexes {
				if err := tx.Exec(idx).Error; err != nil {
					return err
				}
			}

			return nil
		},
		Rollback: func(tx *gorm.DB) error {
			return tx.Exec("DROP TABLE IF EXISTS api_queue_jobs;").Error
		},
	}
}
