package database

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"regexp"

	"auction-logistics/internal/platform/xerrors"
)

var identifier = regexp.MustCompile(`^[a-z_][a-z0-9_]*$`)

// PerformOptimisticUpdate runs fn inside a transaction guarded by the row's
// version column. The row is locked, its version compared with
// expectedVersion, fn applied, and the version bumped with a
// compare-and-increment. It returns the new version.
//
// A missing row yields xerrors.ErrNotFound; any version mismatch yields
// xerrors.ErrConcurrentModification and nothing fn wrote is committed.
func PerformOptimisticUpdate(ctx context.Context, db *sql.DB, table string, id any, expectedVersion int64, fn func(tx *sql.Tx) error) (int64, error) {
	if !identifier.MatchString(table) {
		return 0, fmt.Errorf("invalid table name %q", table)
	}

	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return 0, err
	}
	defer tx.Rollback()

	var current int64
	err = tx.QueryRowContext(ctx, fmt.Sprintf("SELECT version FROM %s WHERE id = ? FOR UPDATE", table), id).Scan(&current)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, fmt.Errorf("%s %v: %w", table, id, xerrors.ErrNotFound)
	}
	if err != nil {
		return 0, err
	}
	if current != expectedVersion {
		return 0, fmt.Errorf("%s %v at version %d, expected %d: %w", table, id, current, expectedVersion, xerrors.ErrConcurrentModification)
	}

	if err := fn(tx); err != nil {
		return 0, err
	}

	res, err := tx.ExecContext(ctx, fmt.Sprintf("UPDATE %s SET version = version + 1 WHERE id = ? AND version = ?", table), id, expectedVersion)
	if err != nil {
		return 0, err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, err
	}
	if n == 0 {
		return 0, fmt.Errorf("%s %v: %w", table, id, xerrors.ErrConcurrentModification)
	}

	if err := tx.Commit(); err != nil {
		return 0, err
	}
	return expectedVersion + 1, nil
}
