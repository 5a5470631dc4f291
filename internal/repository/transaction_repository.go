package repository

import (
	"context"

	"github.com/honeynil/venue-ledger/internal/models"
)

// BonusRepository is the storage side of the bonus ledger. Rows are only
// ever inserted.
type BonusRepository interface {
	Create(ctx context.Context, tx *models.BonusTransaction) error
	GetBalance(ctx context.Context, userID int64) (int64, error)
	// LockUser serializes balance-changing writes for one user until the
	// surrounding transaction ends.
	LockUser(ctx context.Context, userID int64) error
	ListByPayment(ctx context.Context, paymentID int64) ([]models.BonusTransaction, error)
	ListByUser(ctx context.Context, userID int64, limit, offset int) ([]models.BonusTransaction, error)
}
