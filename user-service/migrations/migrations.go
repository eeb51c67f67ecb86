package migrations

import (
	"context"
	"database/sql"

	"auction-logistics/internal/platform/database"
)

const users = `
	CREATE TABLE IF NOT EXISTS users (
		id BIGINT AUTO_INCREMENT PRIMARY KEY,
		username VARCHAR(50) NOT NULL,
		email VARCHAR(100) NOT NULL,
		password_hash VARCHAR(255) NOT NULL,
		role VARCHAR(16) NOT NULL DEFAULT 'viewer',
		created_at DATETIME(3) NOT NULL,
		UNIQUE KEY email_idx (email)
	);
`

// AutoMigrate creates the users table.
func AutoMigrate(ctx context.Context, db *sql.DB, retries int) error {
	return database.Migrate(ctx, db, retries, users)
}
