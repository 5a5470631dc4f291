package models

import "time"

// BonusTransaction is one append-only row of a user's bonus ledger.
type BonusTransaction struct {
	ID           int64           `json:"id"`
	UserID       int64           `json:"user_id"`
	Type         TransactionType `json:"transaction_type"`
	PointsChange int64           `json:"points_change"`
	Description  string          `json:"description"`
	PaymentID    *int64          `json:"payment_id,omitempty"`
	CreatedAt    time.Time       `json:"created_at"`
}

type TransactionType string

const (
	TypeEarned TransactionType = "earned"
	TypeSpent  TransactionType = "spent"
)

func (t TransactionType) Valid() bool {
	return t == TypeEarned || t == TypeSpent
}
