package repository

import (
	"context"

	"github.com/honeynil/venue-ledger/internal/models"
)

type PaymentRepository interface {
	Create(ctx context.Context, p *models.Payment) error
	GetByID(ctx context.Context, id int64) (*models.Payment, error)
	GetByIDForUpdate(ctx context.Context, id int64) (*models.Payment, error)
	// UpdateStatus persists Status and BonusEarned and refreshes UpdatedAt.
	UpdateStatus(ctx context.Context, p *models.Payment) error
}
