package migrations

import (
	"github.com/go-gormigrate/gormigrate/v2"
	"gorm.io/gorm"
)

// createRequestLogsTable creates the upstream request audit log.
func createRequestLogsTable() *gormigrate.Migration {
	return &gormigrate.Migration{
		ID: "002_create_request_logs",
		Migrate: func(tx *gorm.DB) error {
			err := tx.Exec(`
				CREATE TABLE IF NOT EXISTS api_request_logs (
					id UUID PRIMARY KEY,
					provider VARCHAR(50) NOT NULL,
					endpoint VARCHAR(255) NOT NULL,
					method VARCHAR(10) NOT NULL,
					params JSONB,
					response_code INTEGER DEFAULT 0,
					response_message TEXT DEFAULT '',
					credits_used INTEGER NOT NULL DEFAULT 0,
					execution_time_ms BIGINT NOT NULL DEFAULT 0,
					created_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP
				);
			`).Error
			if err != nil {
				return err
			}

			indexes := []string{
				"CREATE INDEX IF NOT EXISTS idx_request_logs_provider ON api_request_logs(provider);",
				"CREATE INDEX IF NOT EXISTS idx_request_logs_created_at ON api_request_logs(created_at DESC);",
			}

			for _, idx := range indexes {
				if err := tx.Exec(idx).Error; err != nil {
					return err
				}
			}

			return nil
		},
		Rollback: func(tx *gorm.DB) error {
			return tx.Exec("DROP TABLE IF EXISTS api_request_logs;").Error
		},
	}
}
