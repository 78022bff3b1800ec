package database_test

import (
	"context"
	"errors"
	"net/http"
	"testing"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"
	"github.com/stockflow/stockflow-backend/pkg/database"
	apperrors "github.com/stockflow/stockflow-backend/pkg/errors"
	"github.com/stockflow/stockflow-backend/pkg/logger"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newMockDB(t *testing.T) (*database.DB, sqlmock.Sqlmock) {
	t.Helper()
	raw, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { raw.Close() })
	return database.Wrap(sqlx.NewDb(raw, "postgres"), logger.Nop()), mock
}

func TestWithTx_Commit(t *testing.T) {
	db, mock := newMockDB(t)

	mock.ExpectBegin()
	mock.ExpectExec("UPDATE stock_item").WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	err := db.WithTx(context.Background(), func(ctx context.Context) error {
		assert.True(t, db.InTx(ctx))
		_, err := db.Querier(ctx).ExecContext(ctx, "UPDATE stock_item SET label = 'x'")
		return err
	})

	require.NoError(t, err)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestWithTx_RollbackOnError(t *testing.T) {
	db, mock := newMockDB(t)
	boom := errors.New("boom")

	mock.ExpectBegin()
	mock.ExpectRollback()

	err := db.WithTx(context.Background(), func(ctx context.Context) error {
		return boom
	})

	assert.ErrorIs(t, err, boom)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestWithTx_NestedJoinsOuterTransaction(t *testing.T) {
	db, mock := newMockDB(t)

	// a single BEGIN/COMMIT pair proves the inner call did not open its own
	mock.ExpectBegin()
	mock.ExpectExec("INSERT INTO stock_movement").WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	err := db.WithTx(context.Background(), func(ctx context.Context) error {
		return db.WithTx(ctx, func(ctx context.Context) error {
			_, err := db.Querier(ctx).ExecContext(ctx, "INSERT INTO stock_movement (id) VALUES ('m')")
			return err
		})
	})

	require.NoError(t, err)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestQuerier_OutsideTransaction(t *testing.T) {
	db, _ := newMockDB(t)
	assert.False(t, db.InTx(context.Background()))
	assert.Equal(t, db.DB, db.Querier(context.Background()))
}

func TestMapPQError(t *testing.T) {
	tests := []struct {
		name     string
		err      error
		wantCode string
		wantIs   error
		status   int
	}{
		{
			name:     "duplicate reference",
			err:      &pq.Error{Code: "23505", Constraint: "stock_item_reference_key", Detail: "Key (reference)=(VIS-10) already exists."},
			wantCode: "DUPLICATE_REFERENCE",
			wantIs:   apperrors.ErrDuplicateReference,
			status:   http.StatusConflict,
		},
		{
			name:     "negative quantity check",
			err:      &pq.Error{Code: "23514", Constraint: "stock_item_quantity_non_negative"},
			wantCode: "INSUFFICIENT_STOCK",
			wantIs:   apperrors.ErrInsufficientStock,
			status:   http.StatusUnprocessableEntity,
		},
		{
			name:     "item still referenced",
			err:      &pq.Error{Code: "23503", Message: `update or delete on table "stock_item" violates foreign key constraint`, Detail: `Key (id)=(x) is still referenced from table "stock_movement".`},
			wantCode: "CONFLICT",
			wantIs:   apperrors.ErrConflict,
			status:   http.StatusConflict,
		},
		{
			name:     "missing column value",
			err:      &pq.Error{Code: "23502", Column: "label"},
			wantCode: "VALIDATION_ERROR",
			wantIs:   apperrors.ErrValidation,
			status:   http.StatusBadRequest,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			appErr := database.MapPQError(tt.err)
			require.NotNil(t, appErr)
			assert.Equal(t, tt.wantCode, appErr.Code)
			assert.Equal(t, tt.status, appErr.StatusCode)
			assert.ErrorIs(t, appErr, tt.wantIs)
		})
	}

	t.Run("duplicate reference carries the key", func(t *testing.T) {
		appErr := database.MapPQError(&pq.Error{Code: "23505", Constraint: "stock_item_reference_key", Detail: "Key (reference)=(VIS-10) already exists."})
		assert.Equal(t, "VIS-10", appErr.Details["reference"])
	})

	t.Run("non pq errors are ignored", func(t *testing.T) {
		assert.Nil(t, database.MapPQError(errors.New("plain")))
	})
}
