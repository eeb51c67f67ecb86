package database

import (
	"context"
	"database/sql"
	"errors"
	"testing"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/require"

	"auction-logistics/internal/platform/xerrors"
)

func TestPerformOptimisticUpdate(t *testing.T) {
	ctx := context.Background()
	update := func(tx *sql.Tx) error {
		_, err := tx.ExecContext(ctx, "UPDATE deals SET title = ? WHERE id = ?", "new", "d1")
		return err
	}

	t.Run("success", func(t *testing.T) {
		db, mock, err := sqlmock.New()
		require.NoError(t, err)
		defer db.Close()

		mock.ExpectBegin()
		mock.ExpectQuery(`SELECT version FROM deals WHERE id = \? FOR UPDATE`).WithArgs("d1").
			WillReturnRows(sqlmock.NewRows([]string{"version"}).AddRow(3))
		mock.ExpectExec(`UPDATE deals SET title`).WithArgs("new", "d1").WillReturnResult(sqlmock.NewResult(0, 1))
		mock.ExpectExec(`UPDATE deals SET version = version \+ 1 WHERE id = \? AND version = \?`).WithArgs("d1", 3).
			WillReturnResult(sqlmock.NewResult(0, 1))
		mock.ExpectCommit()

		v, err := PerformOptimisticUpdate(ctx, db, "deals", "d1", 3, update)
		require.NoError(t, err)
		require.Equal(t, int64(4), v)
		require.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("stale version", func(t *testing.T) {
		db, mock, err := sqlmock.New()
		require.NoError(t, err)
		defer db.Close()

		mock.ExpectBegin()
		mock.ExpectQuery(`SELECT version FROM deals`).WithArgs("d1").
			WillReturnRows(sqlmock.NewRows([]string{"version"}).AddRow(5))
		mock.ExpectRollback()

		called := false
		_, err = PerformOptimisticUpdate(ctx, db, "deals", "d1", 3, func(tx *sql.Tx) error {
			called = true
			return nil
		})
		require.ErrorIs(t, err, xerrors.ErrConcurrentModification)
		require.False(t, called)
		require.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("lost race on increment", func(t *testing.T) {
		db, mock, err := sqlmock.New()
		require.NoError(t, err)
		defer db.Close()

		mock.ExpectBegin()
		mock.ExpectQuery(`SELECT version FROM deals`).WillReturnRows(sqlmock.NewRows([]string{"version"}).AddRow(3))
		mock.ExpectExec(`UPDATE deals SET title`).WillReturnResult(sqlmock.NewResult(0, 1))
		mock.ExpectExec(`UPDATE deals SET version`).WillReturnResult(sqlmock.NewResult(0, 0))
		mock.ExpectRollback()

		_, err = PerformOptimisticUpdate(ctx, db, "deals", "d1", 3, update)
		require.ErrorIs(t, err, xerrors.ErrConcurrentModification)
		require.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("missing row", func(t *testing.T) {
		db, mock, err := sqlmock.New()
		require.NoError(t, err)
		defer db.Close()

		mock.ExpectBegin()
		mock.ExpectQuery(`SELECT version FROM deals`).WillReturnError(sql.ErrNoRows)
		mock.ExpectRollback()

		_, err = PerformOptimisticUpdate(ctx, db, "deals", "nope", 1, update)
		require.ErrorIs(t, err, xerrors.ErrNotFound)
	})

	t.Run("fn error rolls back", func(t *testing.T) {
		db, mock, err := sqlmock.New()
		require.NoError(t, err)
		defer db.Close()

		mock.ExpectBegin()
		mock.ExpectQuery(`SELECT version FROM deals`).WillReturnRows(sqlmock.NewRows([]string{"version"}).AddRow(1))
		mock.ExpectRollback()

		boom := errors.New("boom")
		_, err = PerformOptimisticUpdate(ctx, db, "deals", "d1", 1, func(tx *sql.Tx) error { return boom })
		require.ErrorIs(t, err, boom)
		require.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("rejects odd table names", func(t *testing.T) {
		_, err := PerformOptimisticUpdate(ctx, nil, "deals; DROP TABLE users", "d1", 1, update)
		require.ErrorContains(t, err, "invalid table name")
	})
}
