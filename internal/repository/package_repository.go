package repository

import (
	"context"
	"time"

	"github.com/honeynil/venue-ledger/internal/models"
)

type PackageRepository interface {
	Create(ctx context.Context, pkg *models.UserTrainingPackage) error
	GetByID(ctx context.Context, id int64) (*models.UserTrainingPackage, error)
	// GetByIDForUpdate reads the package and holds its row lock until the
	// surrounding transaction ends.
	GetByIDForUpdate(ctx context.Context, id int64) (*models.UserTrainingPackage, error)
	Update(ctx context.Context, pkg *models.UserTrainingPackage) error
	MarkExpired(ctx context.Context, now time.Time) (int64, error)
	FindUsable(ctx context.Context, userID int64, definitionID *int64, now time.Time) (*models.UserTrainingPackage, error)
}
