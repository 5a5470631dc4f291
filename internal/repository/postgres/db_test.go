package repository_test

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/honeynil/venue-ledger/internal/models"
	repository "github.com/honeynil/venue-ledger/internal/repository/postgres"
	pkgerrors "github.com/honeynil/venue-ledger/pkg/errors"
	"github.com/lib/pq"
	"github.com/stretchr/testify/assert"
)

func TestTxManager_WithinTx(t *testing.T) {
	ctx := context.Background()
	lockQuery := regexp.QuoteMeta(`SELECT pg_advisory_xact_lock`)

	t.Run("Commit", func(t *testing.T) {
		db, mock, err := sqlmock.New()
		assert.NoError(t, err)
		defer db.Close()
		tx := repository.NewTxManager(db)
		bonus := repository.NewPostgresBonusRepository(db)

		mock.ExpectBegin()
		mock.ExpectExec(lockQuery).WithArgs(int64(7)).WillReturnResult(sqlmock.NewResult(0, 0))
		mock.ExpectCommit()

		err = tx.WithinTx(ctx, func(ctx context.Context) error {
			return bonus.LockUser(ctx, 7)
		})
		assert.NoError(t, err)
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("RollbackOnError", func(t *testing.T) {
		db, mock, err := sqlmock.New()
		assert.NoError(t, err)
		defer db.Close()
		tx := repository.NewTxManager(db)

		mock.ExpectBegin()
		mock.ExpectRollback()

		boom := errors.New("boom")
		err = tx.WithinTx(ctx, func(ctx context.Context) error { return boom })
		assert.ErrorIs(t, err, boom)
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("RollbackFailureKeepsOriginal", func(t *testing.T) {
		db, mock, err := sqlmock.New()
		assert.NoError(t, err)
		defer db.Close()
		tx := repository.NewTxManager(db)

		mock.ExpectBegin()
		mock.ExpectRollback().WillReturnError(fmt.Errorf("connection lost"))

		err = tx.WithinTx(ctx, func(ctx context.Context) error { return pkgerrors.ErrInsufficientBalance })
		assert.ErrorIs(t, err, pkgerrors.ErrInsufficientBalance)
		assert.Contains(t, err.Error(), "rollback failed")
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("NestedJoinsOuter", func(t *testing.T) {
		db, mock, err := sqlmock.New()
		assert.NoError(t, err)
		defer db.Close()
		tx := repository.NewTxManager(db)

		mock.ExpectBegin()
		mock.ExpectCommit()

		calls := 0
		err = tx.WithinTx(ctx, func(ctx context.Context) error {
			return tx.WithinTx(ctx, func(ctx context.Context) error {
				calls++
				return nil
			})
		})
		assert.NoError(t, err)
		assert.Equal(t, 1, calls)
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("SerializationFailureIsConflict", func(t *testing.T) {
		db, mock, err := sqlmock.New()
		assert.NoError(t, err)
		defer db.Close()
		tx := repository.NewTxManager(db)

		mock.ExpectBegin()
		mock.ExpectCommit().WillReturnError(&pq.Error{Code: "40001"})

		err = tx.WithinTx(ctx, func(ctx context.Context) error { return nil })
		assert.ErrorIs(t, err, pkgerrors.ErrConcurrencyConflict)
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("SpendRolledBackWithPayment", func(t *testing.T) {
		db, mock, err := sqlmock.New()
		assert.NoError(t, err)
		defer db.Close()
		tx := repository.NewTxManager(db)
		payments := repository.NewPostgresPaymentRepository(db)
		bonus := repository.NewPostgresBonusRepository(db)

		now := time.Now()
		mock.ExpectBegin()
		mock.ExpectQuery(regexp.QuoteMeta(`INSERT INTO payments`)).
			WillReturnRows(sqlmock.NewRows([]string{"id", "created_at", "updated_at"}).AddRow(1, now, now))
		mock.ExpectExec(lockQuery).WithArgs(int64(7)).WillReturnResult(sqlmock.NewResult(0, 0))
		mock.ExpectQuery(regexp.QuoteMeta(`FROM bonus_transactions`)).
			WithArgs(int64(7)).
			WillReturnRows(sqlmock.NewRows([]string{"balance"}).AddRow(int64(10)))
		mock.ExpectRollback()

		err = tx.WithinTx(ctx, func(ctx context.Context) error {
			p := newPayment()
			if err := payments.Create(ctx, p); err != nil {
				return err
			}
			if err := bonus.LockUser(ctx, p.UserID); err != nil {
				return err
			}
			balance, err := bonus.GetBalance(ctx, p.UserID)
			if err != nil {
				return err
			}
			if balance < 50 {
				return pkgerrors.ErrInsufficientBalance
			}
			return bonus.Create(ctx, &models.BonusTransaction{UserID: p.UserID, Type: models.TypeSpent, PointsChange: 50})
		})
		assert.ErrorIs(t, err, pkgerrors.ErrInsufficientBalance)
		assert.NoError(t, mock.ExpectationsWereMet())
	})
}
