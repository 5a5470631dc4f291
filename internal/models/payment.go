package models

import (
	"encoding/json"
	"time"

	"github.com/shopspring/decimal"
)

type Payment struct {
	ID                   int64           `json:"id"`
	UserID               int64           `json:"user_id"`
	Amount               decimal.Decimal `json:"amount"`
	Currency             string          `json:"currency"`
	Status               PaymentStatus   `json:"status"`
	Method               PaymentMethod   `json:"payment_method"`
	GatewayTransactionID *string         `json:"gateway_transaction_id,omitempty"`
	Related              Reference       `json:"related"`
	BonusEarned          int64           `json:"bonus_earned"`
	BonusSpent           int64           `json:"bonus_spent"`
	CreatedAt            time.Time       `json:"created_at"`
	UpdatedAt            time.Time       `json:"updated_at"`
}

// AmountScale is the number of decimal places payments.amount stores.
const AmountScale = 2

// MarshalJSON renders amount with exactly AmountScale decimal places.
func (p Payment) MarshalJSON() ([]byte, error) {
	type plain Payment
	return json.Marshal(struct {
		plain
		Amount string `json:"amount"`
	}{
		plain:  plain(p),
		Amount: p.Amount.StringFixed(AmountScale),
	})
}

type PaymentStatus string

const (
	PaymentPending  PaymentStatus = "pending"
	PaymentSuccess  PaymentStatus = "success"
	PaymentFailed   PaymentStatus = "failed"
	PaymentRefunded PaymentStatus = "refunded"
	PaymentPartial  PaymentStatus = "partial"
)

func (s PaymentStatus) Valid() bool {
	switch s {
	case PaymentPending, PaymentSuccess, PaymentFailed, PaymentRefunded, PaymentPartial:
		return true
	}
	return false
}

// paymentTransitions lists every status change the ledger accepts.
var paymentTransitions = map[PaymentStatus][]PaymentStatus{
	PaymentPending: {PaymentSuccess, PaymentFailed},
	PaymentSuccess: {PaymentRefunded},
}

// CanTransition reports whether a payment may move from s to next.
func (s PaymentStatus) CanTransition(next PaymentStatus) bool {
	for _, allowed := range paymentTransitions[s] {
		if allowed == next {
			return true
		}
	}
	return false
}

// Initial reports whether a payment may be inserted with this status.
func (s PaymentStatus) Initial() bool {
	return s == PaymentPending || s == PaymentSuccess || s == PaymentFailed
}

type PaymentMethod string

const (
	MethodCard         PaymentMethod = "card"
	MethodCash         PaymentMethod = "cash"
	MethodBankTransfer PaymentMethod = "bank_transfer"
	MethodBonusPoints  PaymentMethod = "bonus_points"
)

func (m PaymentMethod) Valid() bool {
	switch m {
	case MethodCard, MethodCash, MethodBankTransfer, MethodBonusPoints:
		return true
	}
	return false
}

// RefKind discriminates what a payment pays for.
type RefKind string

const (
	RefBookingParticipant RefKind = "booking_participant"
	RefOrder              RefKind = "order"
	RefTrainingPackage    RefKind = "training_package"
)

// Reference points a payment at exactly one paid-for entity.
type Reference struct {
	Kind RefKind `json:"type"`
	ID   int64   `json:"id"`
}

func (r Reference) Valid() bool {
	switch r.Kind {
	case RefBookingParticipant, RefOrder, RefTrainingPackage:
		return r.ID > 0
	}
	return false
}

// BonusPoints returns floor(amount * percent / 100). Negative inputs earn nothing.
func BonusPoints(amount decimal.Decimal, percent decimal.Decimal) int64 {
	if amount.Sign() <= 0 || percent.Sign() <= 0 {
		return 0
	}
	return amount.Mul(percent).Div(decimal.NewFromInt(100)).Floor().IntPart()
}
