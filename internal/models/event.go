package models

import (
	"time"

	"github.com/google/uuid"
)

type EventType string

const (
	EventPaymentCreated       EventType = "payment.created"
	EventPaymentStatusChanged EventType = "payment.status_changed"
	EventBonusEarned          EventType = "bonus.earned"
	EventBonusSpent           EventType = "bonus.spent"
	EventSessionUsed          EventType = "package.session_used"
	EventSessionReturned      EventType = "package.session_returned"
	EventPackageStatusChanged EventType = "package.status_changed"
	EventPackagesExpired      EventType = "packages.expired"
)

// LedgerEvent is published after the atomic unit that produced it commits.
type LedgerEvent struct {
	EventID    string    `json:"event_id"`
	Type       EventType `json:"event_type"`
	UserID     int64     `json:"user_id,omitempty"`
	PaymentID  *int64    `json:"payment_id,omitempty"`
	PackageID  *int64    `json:"package_id,omitempty"`
	Points     int64     `json:"points,omitempty"`
	Count      int64     `json:"count,omitempty"`
	Status     string    `json:"status,omitempty"`
	OccurredAt time.Time `json:"occurred_at"`
}

func NewLedgerEvent(t EventType, userID int64) LedgerEvent {
	return LedgerEvent{
		EventID:    uuid.NewString(),
		Type:       t,
		UserID:     userID,
		OccurredAt: time.Now().UTC(),
	}
}
