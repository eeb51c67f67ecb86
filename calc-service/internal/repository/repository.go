package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/go-sql-driver/mysql"

	"auction-logistics/calc"
	"auction-logistics/calc-service/internal/entity"
	"auction-logistics/internal/platform/database"
	"auction-logistics/internal/platform/xerrors"
)

const duplicateEntry = 1062

// MatrixRepository stores matrix overrides in the matrix_overrides table.
type MatrixRepository struct {
	db *sql.DB
}

// NewMatrixRepository creates a new instance of MatrixRepository.
func NewMatrixRepository(db *sql.DB) *MatrixRepository {
	return &MatrixRepository{db}
}

// GetOverride fetches the override for kind, xerrors.ErrNotFound when the
// embedded default is in effect.
func (r *MatrixRepository) GetOverride(ctx context.Context, kind calc.Kind) (*entity.MatrixOverride, error) {
	query := `SELECT id, payload, version, updated_by, updated_at FROM matrix_overrides WHERE id = ?`
	var o entity.MatrixOverride
	var payload []byte
	err := r.db.QueryRowContext(ctx, query, string(kind)).Scan(&o.Kind, &payload, &o.Version, &o.UpdatedBy, &o.UpdatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("matrix override %s: %w", kind, xerrors.ErrNotFound)
		}
		return nil, err
	}
	o.Rows = payload
	return &o, nil
}

// ListOverrides returns every stored override.
func (r *MatrixRepository) ListOverrides(ctx context.Context) ([]entity.MatrixOverride, error) {
	rows, err := r.db.QueryContext(ctx, `SELECT id, payload, version, updated_by, updated_at FROM matrix_overrides ORDER BY id`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []entity.MatrixOverride
	for rows.Next() {
		var o entity.MatrixOverride
		var payload []byte
		if err := rows.Scan(&o.Kind, &payload, &o.Version, &o.UpdatedBy, &o.UpdatedAt); err != nil {
			return nil, err
		}
		o.Rows = payload
		out = append(out, o)
	}
	return out, rows.Err()
}

// SaveOverride writes o. With expectedVersion zero the override is created
// at version 1; otherwise the stored version must equal expectedVersion and
// is incremented. o.Version is set to the stored version on success.
func (r *MatrixRepository) SaveOverride(ctx context.Context, o *entity.MatrixOverride, expectedVersion int64) error {
	now := time.Now().UTC()
	if expectedVersion == 0 {
		query := `INSERT INTO matrix_overrides (id, payload, version, updated_by, updated_at) VALUES (?, ?, 1, ?, ?)`
		_, err := r.db.ExecContext(ctx, query, string(o.Kind), []byte(o.Rows), o.UpdatedBy, now)
		if err != nil {
			var myErr *mysql.MySQLError
			if errors.As(err, &myErr) && myErr.Number == duplicateEntry {
				return fmt.Errorf("matrix override %s already exists: %w", o.Kind, xerrors.ErrConcurrentModification)
			}
			return err
		}
		o.Version, o.UpdatedAt = 1, now
		return nil
	}

	version, err := database.PerformOptimisticUpdate(ctx, r.db, "matrix_overrides", string(o.Kind), expectedVersion, func(tx *sql.Tx) error {
		_, err := tx.ExecContext(ctx, `UPDATE matrix_overrides SET payload = ?, updated_by = ?, updated_at = ? WHERE id = ?`,
			[]byte(o.Rows), o.UpdatedBy, now, string(o.Kind))
		return err
	})
	if err != nil {
		return err
	}
	o.Version, o.UpdatedAt = version, now
	return nil
}

// DeleteOverride drops the override for kind so the default applies again.
func (r *MatrixRepository) DeleteOverride(ctx context.Context, kind calc.Kind) error {
	res, err := r.db.ExecContext(ctx, `DELETE FROM matrix_overrides WHERE id = ?`, string(kind))
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return fmt.Errorf("matrix override %s: %w", kind, xerrors.ErrNotFound)
	}
	return nil
}
