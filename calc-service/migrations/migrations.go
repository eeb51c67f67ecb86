package migrations

import (
	"context"
	"database/sql"

	"auction-logistics/internal/platform/database"
)

const matrixOverrides = `
	CREATE TABLE IF NOT EXISTS matrix_overrides (
		id VARCHAR(32) PRIMARY KEY,
		payload LONGBLOB NOT NULL,
		version BIGINT NOT NULL DEFAULT 1,
		updated_by BIGINT NOT NULL DEFAULT 0,
		updated_at DATETIME(3) NOT NULL
	);
`

// AutoMigrate creates the calc-service tables if they do not exist.
func AutoMigrate(ctx context.Context, db *sql.DB, retries int) error {
	return database.Migrate(ctx, db, retries, matrixOverrides)
}
