package repository

import (
	"context"
	"database/sql"
	"encoding/json"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/go-sql-driver/mysql"
	"github.com/stretchr/testify/require"

	"auction-logistics/calc"
	"auction-logistics/calc-service/internal/entity"
	"auction-logistics/internal/platform/xerrors"
)

func newMock(t *testing.T) (*MatrixRepository, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	return NewMatrixRepository(db), mock
}

var overrideColumns = []string{"id", "payload", "version", "updated_by", "updated_at"}

func TestGetOverride(t *testing.T) {
	repo, mock := newMock(t)
	now := time.Now()

	mock.ExpectQuery(`SELECT id, payload, version, updated_by, updated_at FROM matrix_overrides WHERE id = \?`).
		WithArgs("towing").
		WillReturnRows(sqlmock.NewRows(overrideColumns).AddRow("towing", []byte(`[]`), 3, 9, now))

	o, err := repo.GetOverride(context.Background(), calc.KindTowing)
	require.NoError(t, err)
	require.Equal(t, calc.KindTowing, o.Kind)
	require.Equal(t, int64(3), o.Version)
	require.JSONEq(t, `[]`, string(o.Rows))

	mock.ExpectQuery(`FROM matrix_overrides WHERE id`).WithArgs("customs").WillReturnError(sql.ErrNoRows)
	_, err = repo.GetOverride(context.Background(), calc.KindCustoms)
	require.ErrorIs(t, err, xerrors.ErrNotFound)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestListOverrides(t *testing.T) {
	repo, mock := newMock(t)
	now := time.Now()

	mock.ExpectQuery(`FROM matrix_overrides ORDER BY id`).
		WillReturnRows(sqlmock.NewRows(overrideColumns).
			AddRow("customs", []byte(`[]`), 1, 1, now).
			AddRow("towing", []byte(`[]`), 4, 2, now))

	list, err := repo.ListOverrides(context.Background())
	require.NoError(t, err)
	require.Len(t, list, 2)
	require.Equal(t, calc.KindTowing, list[1].Kind)
}

func TestSaveOverride_Create(t *testing.T) {
	repo, mock := newMock(t)
	o := &entity.MatrixOverride{Kind: calc.KindShipping, Rows: json.RawMessage(`[]`), UpdatedBy: 5}

	mock.ExpectExec(`INSERT INTO matrix_overrides`).
		WithArgs("shipping", []byte(`[]`), int64(5), sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(0, 1))
	require.NoError(t, repo.SaveOverride(context.Background(), o, 0))
	require.Equal(t, int64(1), o.Version)

	mock.ExpectExec(`INSERT INTO matrix_overrides`).
		WillReturnError(&mysql.MySQLError{Number: 1062, Message: "Duplicate entry 'shipping'"})
	err := repo.SaveOverride(context.Background(), o, 0)
	require.ErrorIs(t, err, xerrors.ErrConcurrentModification)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestSaveOverride_Update(t *testing.T) {
	repo, mock := newMock(t)
	o := &entity.MatrixOverride{Kind: calc.KindShipping, Rows: json.RawMessage(`[]`), UpdatedBy: 5}

	mock.ExpectBegin()
	mock.ExpectQuery(`SELECT version FROM matrix_overrides WHERE id = \? FOR UPDATE`).WithArgs("shipping").
		WillReturnRows(sqlmock.NewRows([]string{"version"}).AddRow(2))
	mock.ExpectExec(`UPDATE matrix_overrides SET payload`).WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec(`UPDATE matrix_overrides SET version = version \+ 1`).WithArgs("shipping", int64(2)).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	require.NoError(t, repo.SaveOverride(context.Background(), o, 2))
	require.Equal(t, int64(3), o.Version)

	mock.ExpectBegin()
	mock.ExpectQuery(`SELECT version FROM matrix_overrides`).
		WillReturnRows(sqlmock.NewRows([]string{"version"}).AddRow(3))
	mock.ExpectRollback()

	err := repo.SaveOverride(context.Background(), o, 2)
	require.ErrorIs(t, err, xerrors.ErrConcurrentModification)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestDeleteOverride(t *testing.T) {
	repo, mock := newMock(t)

	mock.ExpectExec(`DELETE FROM matrix_overrides WHERE id = \?`).WithArgs("towing").WillReturnResult(sqlmock.NewResult(0, 1))
	require.NoError(t, repo.DeleteOverride(context.Background(), calc.KindTowing))

	mock.ExpectExec(`DELETE FROM matrix_overrides`).WithArgs("towing").WillReturnResult(sqlmock.NewResult(0, 0))
	require.ErrorIs(t, repo.DeleteOverride(context.Background(), calc.KindTowing), xerrors.ErrNotFound)
}
