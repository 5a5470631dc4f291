package repository

import (
	"context"
	"database/sql"
	stderrors "errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/honeynil/venue-ledger/internal/models"
	pkgerrors "github.com/honeynil/venue-ledger/pkg/errors"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
)

const packageColumns = `id, user_id, package_definition_id, sessions_used, sessions_total, status, purchase_date, expiration_date`

type PostgresPackageRepository struct {
	db *sql.DB
}

func NewPostgresPackageRepository(db *sql.DB) *PostgresPackageRepository {
	return &PostgresPackageRepository{db: db}
}

func (r *PostgresPackageRepository) Create(ctx context.Context, pkg *models.UserTrainingPackage) (err error) {
	tracer := otel.Tracer("package-repository")
	ctx, span := tracer.Start(ctx, "CreatePackage")
	defer span.End()
	defer observe(span, "CreatePackage", time.Now(), &err)

	if pkg == nil {
		err = pkgerrors.ErrNilPackage
		slog.Error("failed to create package", "method", "Create", "error", err)
		return err
	}
	if err = validatePackage(pkg); err != nil {
		slog.Error("invalid package", "method", "Create", "user_id", pkg.UserID, "error", err)
		return err
	}
	span.SetAttributes(attribute.Int64("user_id", pkg.UserID), attribute.Int64("sessions_total", int64(pkg.SessionsTotal)))

	query := `INSERT INTO user_training_packages (user_id, package_definition_id, sessions_used, sessions_total, status, purchase_date, expiration_date) VALUES ($1, $2, $3, $4, $5, $6, $7) RETURNING id`
	err = executor(ctx, r.db).QueryRowContext(ctx, query,
		pkg.UserID,
		pkg.PackageDefinitionID,
		pkg.SessionsUsed,
		pkg.SessionsTotal,
		pkg.Status,
		pkg.PurchaseDate,
		pkg.ExpirationDate,
	).Scan(&pkg.ID)
	if err != nil {
		slog.Error("failed to create package", "method", "Create", "user_id", pkg.UserID, "error", err)
		return fmt.Errorf("failed to create package: %w", mapError(err))
	}

	slog.Info("package created", "method", "Create", "id", pkg.ID, "user_id", pkg.UserID, "sessions_total", pkg.SessionsTotal)
	return nil
}

func (r *PostgresPackageRepository) GetByID(ctx context.Context, id int64) (*models.UserTrainingPackage, error) {
	return r.get(ctx, "GetPackageByID", `SELECT `+packageColumns+` FROM user_training_packages WHERE id = $1`, id)
}

func (r *PostgresPackageRepository) GetByIDForUpdate(ctx context.Context, id int64) (*models.UserTrainingPackage, error) {
	return r.get(ctx, "GetPackageByIDForUpdate", `SELECT `+packageColumns+` FROM user_training_packages WHERE id = $1 FOR UPDATE`, id)
}

func (r *PostgresPackageRepository) get(ctx context.Context, method, query string, id int64) (pkg *models.UserTrainingPackage, err error) {
	tracer := otel.Tracer("package-repository")
	ctx, span := tracer.Start(ctx, method)
	span.SetAttributes(attribute.Int64("package_id", id))
	defer span.End()
	defer observe(span, method, time.Now(), &err)

	pkg, err = scanPackage(executor(ctx, r.db).QueryRowContext(ctx, query, id))
	if stderrors.Is(err, sql.ErrNoRows) {
		err = pkgerrors.ErrPackageNotFound
		slog.Error("package not found", "method", method, "package_id", id)
		return nil, err
	}
	if err != nil {
		slog.Error("failed to get package", "method", method, "package_id", id, "error", err)
		return nil, fmt.Errorf("failed to get package: %w", mapError(err))
	}
	return pkg, nil
}

func (r *PostgresPackageRepository) Update(ctx context.Context, pkg *models.UserTrainingPackage) (err error) {
	tracer := otel.Tracer("package-repository")
	ctx, span := tracer.Start(ctx, "UpdatePackage")
	defer span.End()
	defer observe(span, "UpdatePackage", time.Now(), &err)

	if pkg == nil {
		err = pkgerrors.ErrNilPackage
		return err
	}
	span.SetAttributes(attribute.Int64("package_id", pkg.ID), attribute.String("status", string(pkg.Status)))

	query := `UPDATE user_training_packages SET sessions_used = $1, status = $2 WHERE id = $3`
	res, err := executor(ctx, r.db).ExecContext(ctx, query, pkg.SessionsUsed, pkg.Status, pkg.ID)
	if err != nil {
		slog.Error("failed to update package", "method", "Update", "package_id", pkg.ID, "error", err)
		return fmt.Errorf("failed to update package: %w", mapError(err))
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to update package: %w", err)
	}
	if affected == 0 {
		err = pkgerrors.ErrPackageNotFound
		slog.Error("package not found", "method", "Update", "package_id", pkg.ID)
		return err
	}

	slog.Info("package updated", "method", "Update", "package_id", pkg.ID, "sessions_used", pkg.SessionsUsed, "status", pkg.Status)
	return nil
}

func (r *PostgresPackageRepository) MarkExpired(ctx context.Context, now time.Time) (affected int64, err error) {
	tracer := otel.Tracer("package-repository")
	ctx, span := tracer.Start(ctx, "MarkExpiredPackages")
	defer span.End()
	defer observe(span, "MarkExpiredPackages", time.Now(), &err)

	query := `UPDATE user_training_packages SET status = 'expired' WHERE status = 'active' AND expiration_date < $1`
	res, err := executor(ctx, r.db).ExecContext(ctx, query, now)
	if err != nil {
		slog.Error("failed to mark expired packages", "method", "MarkExpired", "error", err)
		return 0, fmt.Errorf("failed to mark expired packages: %w", mapError(err))
	}
	affected, err = res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("failed to mark expired packages: %w", err)
	}
	span.SetAttributes(attribute.Int64("affected", affected))
	return affected, nil
}

func (r *PostgresPackageRepository) FindUsable(ctx context.Context, userID int64, definitionID *int64, now time.Time) (pkg *models.UserTrainingPackage, err error) {
	tracer := otel.Tracer("package-repository")
	ctx, span := tracer.Start(ctx, "FindUsablePackage")
	span.SetAttributes(attribute.Int64("user_id", userID))
	defer span.End()
	defer observe(span, "FindUsablePackage", time.Now(), &err)

	query := `SELECT ` + packageColumns + ` FROM user_training_packages
		WHERE user_id = $1 AND status = 'active' AND sessions_used < sessions_total AND expiration_date >= $2`
	args := []any{userID, now}
	if definitionID != nil {
		query += ` AND package_definition_id = $3`
		args = append(args, *definitionID)
	}
	query += ` ORDER BY expiration_date ASC, id ASC LIMIT 1`

	pkg, err = scanPackage(executor(ctx, r.db).QueryRowContext(ctx, query, args...))
	if stderrors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		slog.Error("failed to find usable package", "method", "FindUsable", "user_id", userID, "error", err)
		return nil, fmt.Errorf("failed to find usable package: %w", mapError(err))
	}
	return pkg, nil
}

func scanPackage(row rowScanner) (*models.UserTrainingPackage, error) {
	var pkg models.UserTrainingPackage
	err := row.Scan(
		&pkg.ID,
		&pkg.UserID,
		&pkg.PackageDefinitionID,
		&pkg.SessionsUsed,
		&pkg.SessionsTotal,
		&pkg.Status,
		&pkg.PurchaseDate,
		&pkg.ExpirationDate,
	)
	if err != nil {
		return nil, err
	}
	return &pkg, nil
}

func validatePackage(pkg *models.UserTrainingPackage) error {
	switch {
	case pkg.UserID <= 0:
		return fmt.Errorf("%w: user_id is required", pkgerrors.ErrInvalidPackage)
	case pkg.SessionsTotal <= 0:
		return fmt.Errorf("%w: sessions_total must be positive", pkgerrors.ErrInvalidPackage)
	case pkg.SessionsUsed < 0 || pkg.SessionsUsed > pkg.SessionsTotal:
		return fmt.Errorf("%w: sessions_used out of range", pkgerrors.ErrInvalidPackage)
	case !pkg.Status.Valid():
		return fmt.Errorf("%w: unknown status %q", pkgerrors.ErrInvalidPackage, pkg.Status)
	case !pkg.ExpirationDate.After(pkg.PurchaseDate):
		return fmt.Errorf("%w: expiration_date must be after purchase_date", pkgerrors.ErrInvalidPackage)
	}
	return nil
}
