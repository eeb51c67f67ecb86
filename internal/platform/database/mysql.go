// Package database opens MySQL connections and applies schema migrations.
package database

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	_ "github.com/go-sql-driver/mysql"

	"auction-logistics/internal/platform/config"
	"auction-logistics/internal/platform/logging"
)

var logger = logging.Component("database")

// RetryDelay is the pause between connection and migration attempts.
var RetryDelay = 3 * time.Second

// ConnectMySQL opens cfg and pings it, retrying up to cfg.Retries times.
func ConnectMySQL(ctx context.Context, cfg config.MySQL) (*sql.DB, error) {
	retries := cfg.Retries
	if retries < 1 {
		retries = 1
	}

	var db *sql.DB
	var err error
	for i := 0; i < retries; i++ {
		db, err = sql.Open("mysql", cfg.DSN())
		if err == nil {
			err = db.PingContext(ctx)
			if err == nil {
				logger.Info().Str("db", cfg.Name).Msg("connected to database")
				db.SetMaxOpenConns(25)
				db.SetMaxIdleConns(5)
				db.SetConnMaxLifetime(5 * time.Minute)
				return db, nil
			}
			_ = db.Close()
		}
		logger.Warn().Err(err).Int("attempt", i+1).Str("db", cfg.Name).
			Str("addr", cfg.Host+":"+cfg.Port).Msg("failed to connect to database")
		if i == retries-1 {
			break
		}

		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(RetryDelay):
		}
	}
	return nil, fmt.Errorf("failed to connect to DB %s at %s:%s after %d retries: %w", cfg.Name, cfg.Host, cfg.Port, retries, err)
}

// Migrate executes each statement in order, retrying a failing statement up
// to retries extra times before giving up.
func Migrate(ctx context.Context, db *sql.DB, retries int, stmts ...string) error {
	for n, stmt := range stmts {
		_, err := db.ExecContext(ctx, stmt)
		for i := 0; err != nil && i < retries; i++ {
			logger.Warn().Err(err).Int("statement", n).Int("attempt", i+1).Msg("migration failed, retrying")
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(RetryDelay):
			}
			_, err = db.ExecContext(ctx, stmt)
		}
		if err != nil {
			return fmt.Errorf("migration %d: %w", n, err)
		}
	}
	return nil
}
