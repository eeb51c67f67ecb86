package migrations

import (
	"context"
	"database/sql"

	"auction-logistics/internal/platform/database"
)

const pipelines = `
	CREATE TABLE IF NOT EXISTS pipelines (
		id CHAR(36) PRIMARY KEY,
		name VARCHAR(100) NOT NULL,
		is_default BOOLEAN NOT NULL DEFAULT FALSE,
		created_at DATETIME(3) NOT NULL,
		updated_at DATETIME(3) NOT NULL
	);
`

const stages = `
	CREATE TABLE IF NOT EXISTS stages (
		id CHAR(36) PRIMARY KEY,
		pipeline_id CHAR(36) NOT NULL,
		name VARCHAR(100) NOT NULL,
		sort_order INT NOT NULL,
		is_closing BOOLEAN NOT NULL DEFAULT FALSE,
		is_lost BOOLEAN NOT NULL DEFAULT FALSE,
		probability INT NOT NULL DEFAULT 0,
		UNIQUE KEY uq_stage_order (pipeline_id, sort_order),
		FOREIGN KEY (pipeline_id) REFERENCES pipelines(id) ON DELETE CASCADE
	);
`

const deals = `
	CREATE TABLE IF NOT EXISTS deals (
		id CHAR(36) PRIMARY KEY,
		title VARCHAR(200) NOT NULL,
		pipeline_id CHAR(36) NOT NULL,
		stage_id CHAR(36) NOT NULL,
		amount DECIMAL(14,2) NOT NULL DEFAULT 0,
		currency CHAR(3) NOT NULL,
		contact_name VARCHAR(200) NOT NULL DEFAULT '',
		contact_email VARCHAR(200) NOT NULL DEFAULT '',
		vehicle_vin VARCHAR(17) NOT NULL DEFAULT '',
		owner_id BIGINT NOT NULL,
		outcome VARCHAR(8) NULL,
		lost_reason VARCHAR(500) NOT NULL DEFAULT '',
		is_frozen BOOLEAN NOT NULL DEFAULT FALSE,
		version BIGINT NOT NULL DEFAULT 1,
		created_at DATETIME(3) NOT NULL,
		updated_at DATETIME(3) NOT NULL,
		closed_at DATETIME(3) NULL,
		INDEX idx_deals_pipeline (pipeline_id, stage_id),
		INDEX idx_deals_owner (owner_id)
	);
`

// AutoMigrate creates the crm tables if they do not exist.
func AutoMigrate(ctx context.Context, db *sql.DB, retries int) error {
	return database.Migrate(ctx, db, retries, pipelines, stages, deals)
}
