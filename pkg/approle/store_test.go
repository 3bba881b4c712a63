package approle

import (
	"context"
	"errors"
	"testing"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/jmoiron/sqlx"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newMockDB(t *testing.T) (*sqlx.DB, sqlmock.Sqlmock) {
	t.Helper()
	mockDB, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { mockDB.Close() })
	return sqlx.NewDb(mockDB, "postgres"), mock
}

func TestRoleName(t *testing.T) {
	assert.Equal(t, "Application/portal", RoleName("portal"))
}

func TestStore_CreateApplicationRole(t *testing.T) {
	db, mock := newMockDB(t)
	mock.ExpectExec(`INSERT INTO app_roles \(tenant_id, name\) VALUES \(\$1, \$2\)`).
		WithArgs(int64(7), "Application/portal").
		WillReturnResult(sqlmock.NewResult(1, 1))

	s := NewStore(db)
	require.NoError(t, s.CreateApplicationRole(context.Background(), 7, "portal"))
	assert.Error(t, s.CreateApplicationRole(context.Background(), 7, " "))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestStore_Exists(t *testing.T) {
	ctx := context.Background()
	db, mock := newMockDB(t)
	mock.ExpectQuery(`SELECT id FROM app_roles`).
		WithArgs(int64(7), "Application/portal").
		WillReturnRows(sqlmock.NewRows([]string{"id"}).AddRow(3))
	mock.ExpectQuery(`SELECT id FROM app_roles`).
		WithArgs(int64(7), "Application/other").
		WillReturnRows(sqlmock.NewRows([]string{"id"}))

	s := NewStore(db)
	ok, err := s.Exists(ctx, 7, "portal")
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = s.Exists(ctx, 7, "other")
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestStore_RenameApplicationRole(t *testing.T) {
	ctx := context.Background()

	t.Run("renames", func(t *testing.T) {
		db, mock := newMockDB(t)
		mock.ExpectExec(`UPDATE app_roles SET name = \$1 WHERE tenant_id = \$2 AND name = \$3`).
			WithArgs("Application/new", int64(7), "Application/old").
			WillReturnResult(sqlmock.NewResult(0, 1))

		require.NoError(t, NewStore(db).RenameApplicationRole(ctx, 7, "old", "new"))
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("runs inside the given transaction", func(t *testing.T) {
		db, mock := newMockDB(t)
		mock.ExpectBegin()
		mock.ExpectExec(`UPDATE app_roles`).WillReturnResult(sqlmock.NewResult(0, 1))
		mock.ExpectRollback()

		tx, err := db.Beginx()
		require.NoError(t, err)
		require.NoError(t, NewStore(db).WithTx(tx).RenameApplicationRole(ctx, 7, "old", "new"))
		require.NoError(t, tx.Rollback())
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("failure", func(t *testing.T) {
		db, mock := newMockDB(t)
		mock.ExpectExec(`UPDATE app_roles`).WillReturnError(errors.New("locked"))

		assert.Error(t, NewStore(db).RenameApplicationRole(ctx, 7, "old", "new"))
	})

	t.Run("empty new name", func(t *testing.T) {
		db, _ := newMockDB(t)
		assert.Error(t, NewStore(db).RenameApplicationRole(ctx, 7, "old", ""))
	})
}

func TestStore_DeleteApplicationRole(t *testing.T) {
	db, mock := newMockDB(t)
	mock.ExpectExec(`DELETE FROM app_roles WHERE tenant_id = \$1 AND name = \$2`).
		WithArgs(int64(7), "Application/portal").
		WillReturnResult(sqlmock.NewResult(0, 0))

	require.NoError(t, NewStore(db).DeleteApplicationRole(context.Background(), 7, "portal"))
	assert.NoError(t, mock.ExpectationsWereMet())
}
