package repository_test

import (
	"context"
	"database/sql"
	"fmt"
	"regexp"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/honeynil/venue-ledger/internal/models"
	repository "github.com/honeynil/venue-ledger/internal/repository/postgres"
	pkgerrors "github.com/honeynil/venue-ledger/pkg/errors"
	"github.com/stretchr/testify/assert"
)

const packageSelect = `SELECT id, user_id, package_definition_id, sessions_used, sessions_total, status, purchase_date, expiration_date FROM user_training_packages`

var packageRowColumns = []string{"id", "user_id", "package_definition_id", "sessions_used", "sessions_total", "status", "purchase_date", "expiration_date"}

func TestPostgresPackageRepository_Create(t *testing.T) {
	db, mock, err := sqlmock.New()
	assert.NoError(t, err)
	defer db.Close()
	repo := repository.NewPostgresPackageRepository(db)
	ctx := context.Background()
	query := regexp.QuoteMeta(`INSERT INTO user_training_packages (user_id, package_definition_id, sessions_used, sessions_total, status, purchase_date, expiration_date) VALUES ($1, $2, $3, $4, $5, $6, $7) RETURNING id`)

	purchased := time.Date(2026, 1, 10, 0, 0, 0, 0, time.UTC)
	expires := purchased.AddDate(0, 3, 0)

	t.Run("Success", func(t *testing.T) {
		pkg := &models.UserTrainingPackage{
			UserID:              7,
			PackageDefinitionID: 2,
			SessionsTotal:       10,
			Status:              models.PackageActive,
			PurchaseDate:        purchased,
			ExpirationDate:      expires,
		}
		mock.ExpectQuery(query).
			WithArgs(int64(7), int64(2), int32(0), int32(10), models.PackageActive, purchased, expires).
			WillReturnRows(sqlmock.NewRows([]string{"id"}).AddRow(5))

		assert.NoError(t, repo.Create(ctx, pkg))
		assert.Equal(t, int64(5), pkg.ID)
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("InvalidPackage", func(t *testing.T) {
		cases := map[string]*models.UserTrainingPackage{
			"NoSessions":     {UserID: 7, SessionsTotal: 0, Status: models.PackageActive, PurchaseDate: purchased, ExpirationDate: expires},
			"UsedOverTotal":  {UserID: 7, SessionsUsed: 4, SessionsTotal: 3, Status: models.PackageActive, PurchaseDate: purchased, ExpirationDate: expires},
			"ExpiresTooSoon": {UserID: 7, SessionsTotal: 3, Status: models.PackageActive, PurchaseDate: expires, ExpirationDate: purchased},
			"UnknownStatus":  {UserID: 7, SessionsTotal: 3, Status: "frozen", PurchaseDate: purchased, ExpirationDate: expires},
		}
		for name, pkg := range cases {
			t.Run(name, func(t *testing.T) {
				assert.ErrorIs(t, repo.Create(ctx, pkg), pkgerrors.ErrInvalidPackage)
			})
		}
	})

	t.Run("Nil", func(t *testing.T) {
		assert.ErrorIs(t, repo.Create(ctx, nil), pkgerrors.ErrNilPackage)
	})
}

func TestPostgresPackageRepository_Get(t *testing.T) {
	db, mock, err := sqlmock.New()
	assert.NoError(t, err)
	defer db.Close()
	repo := repository.NewPostgresPackageRepository(db)
	ctx := context.Background()
	purchased := time.Date(2026, 1, 10, 0, 0, 0, 0, time.UTC)
	expires := purchased.AddDate(0, 3, 0)

	t.Run("ForUpdate", func(t *testing.T) {
		mock.ExpectQuery(regexp.QuoteMeta(packageSelect + ` WHERE id = $1 FOR UPDATE`)).
			WithArgs(int64(5)).
			WillReturnRows(sqlmock.NewRows(packageRowColumns).AddRow(5, 7, 2, 3, 10, "active", purchased, expires))

		pkg, err := repo.GetByIDForUpdate(ctx, 5)
		assert.NoError(t, err)
		assert.Equal(t, &models.UserTrainingPackage{
			ID:                  5,
			UserID:              7,
			PackageDefinitionID: 2,
			SessionsUsed:        3,
			SessionsTotal:       10,
			Status:              models.PackageActive,
			PurchaseDate:        purchased,
			ExpirationDate:      expires,
		}, pkg)
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("PackageNotFound", func(t *testing.T) {
		mock.ExpectQuery(regexp.QuoteMeta(packageSelect + ` WHERE id = $1`)).
			WithArgs(int64(9)).
			WillReturnError(sql.ErrNoRows)

		pkg, err := repo.GetByID(ctx, 9)
		assert.Nil(t, pkg)
		assert.ErrorIs(t, err, pkgerrors.ErrPackageNotFound)
		assert.NoError(t, mock.ExpectationsWereMet())
	})
}

func TestPostgresPackageRepository_Update(t *testing.T) {
	db, mock, err := sqlmock.New()
	assert.NoError(t, err)
	defer db.Close()
	repo := repository.NewPostgresPackageRepository(db)
	ctx := context.Background()
	query := regexp.QuoteMeta(`UPDATE user_training_packages SET sessions_used = $1, status = $2 WHERE id = $3`)

	t.Run("Success", func(t *testing.T) {
		mock.ExpectExec(query).
			WithArgs(int32(10), models.PackageCompleted, int64(5)).
			WillReturnResult(sqlmock.NewResult(0, 1))

		err := repo.Update(ctx, &models.UserTrainingPackage{ID: 5, SessionsUsed: 10, SessionsTotal: 10, Status: models.PackageCompleted})
		assert.NoError(t, err)
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("PackageNotFound", func(t *testing.T) {
		mock.ExpectExec(query).
			WithArgs(int32(1), models.PackageActive, int64(9)).
			WillReturnResult(sqlmock.NewResult(0, 0))

		err := repo.Update(ctx, &models.UserTrainingPackage{ID: 9, SessionsUsed: 1, SessionsTotal: 10, Status: models.PackageActive})
		assert.ErrorIs(t, err, pkgerrors.ErrPackageNotFound)
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("DatabaseError", func(t *testing.T) {
		mock.ExpectExec(query).WillReturnError(fmt.Errorf("database error"))

		err := repo.Update(ctx, &models.UserTrainingPackage{ID: 5, SessionsTotal: 10, Status: models.PackageActive})
		assert.Contains(t, err.Error(), "failed to update package")
		assert.NoError(t, mock.ExpectationsWereMet())
	})
}

func TestPostgresPackageRepository_MarkExpired(t *testing.T) {
	db, mock, err := sqlmock.New()
	assert.NoError(t, err)
	defer db.Close()
	repo := repository.NewPostgresPackageRepository(db)
	ctx := context.Background()
	query := regexp.QuoteMeta(`UPDATE user_training_packages SET status = 'expired' WHERE status = 'active' AND expiration_date < $1`)
	now := time.Date(2026, 5, 1, 0, 0, 0, 0, time.UTC)

	t.Run("Success", func(t *testing.T) {
		mock.ExpectExec(query).WithArgs(now).WillReturnResult(sqlmock.NewResult(0, 3))

		n, err := repo.MarkExpired(ctx, now)
		assert.NoError(t, err)
		assert.Equal(t, int64(3), n)
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("Idempotent", func(t *testing.T) {
		mock.ExpectExec(query).WithArgs(now).WillReturnResult(sqlmock.NewResult(0, 0))

		n, err := repo.MarkExpired(ctx, now)
		assert.NoError(t, err)
		assert.Equal(t, int64(0), n)
		assert.NoError(t, mock.ExpectationsWereMet())
	})
}

func TestPostgresPackageRepository_FindUsable(t *testing.T) {
	db, mock, err := sqlmock.New()
	assert.NoError(t, err)
	defer db.Close()
	repo := repository.NewPostgresPackageRepository(db)
	ctx := context.Background()
	now := time.Date(2026, 5, 1, 0, 0, 0, 0, time.UTC)
	base := `WHERE user_id = $1 AND status = 'active' AND sessions_used < sessions_total AND expiration_date >= $2`

	t.Run("AnyDefinition", func(t *testing.T) {
		mock.ExpectQuery(regexp.QuoteMeta(base + ` ORDER BY expiration_date ASC, id ASC LIMIT 1`)).
			WithArgs(int64(7), now).
			WillReturnRows(sqlmock.NewRows(packageRowColumns).AddRow(5, 7, 2, 3, 10, "active", now.AddDate(0, -1, 0), now.AddDate(0, 1, 0)))

		pkg, err := repo.FindUsable(ctx, 7, nil, now)
		assert.NoError(t, err)
		assert.Equal(t, int64(5), pkg.ID)
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("ByDefinition", func(t *testing.T) {
		def := int64(2)
		mock.ExpectQuery(regexp.QuoteMeta(base + ` AND package_definition_id = $3 ORDER BY expiration_date ASC, id ASC LIMIT 1`)).
			WithArgs(int64(7), now, int64(2)).
			WillReturnRows(sqlmock.NewRows(packageRowColumns).AddRow(6, 7, 2, 0, 5, "active", now, now.AddDate(0, 2, 0)))

		pkg, err := repo.FindUsable(ctx, 7, &def, now)
		assert.NoError(t, err)
		assert.Equal(t, int64(6), pkg.ID)
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("None", func(t *testing.T) {
		mock.ExpectQuery(regexp.QuoteMeta(base)).
			WithArgs(int64(8), now).
			WillReturnRows(sqlmock.NewRows(packageRowColumns))

		pkg, err := repo.FindUsable(ctx, 8, nil, now)
		assert.NoError(t, err)
		assert.Nil(t, pkg)
		assert.NoError(t, mock.ExpectationsWereMet())
	})
}
