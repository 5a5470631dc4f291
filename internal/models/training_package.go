package models

import "time"

// UserTrainingPackage is a purchased bundle of training sessions.
type UserTrainingPackage struct {
	ID                  int64         `json:"id"`
	UserID              int64         `json:"user_id"`
	PackageDefinitionID int64         `json:"package_definition_id"`
	SessionsUsed        int32         `json:"sessions_used"`
	SessionsTotal       int32         `json:"sessions_total"`
	Status              PackageStatus `json:"status"`
	PurchaseDate        time.Time     `json:"purchase_date"`
	ExpirationDate      time.Time     `json:"expiration_date"`
}

type PackageStatus string

const (
	PackageActive    PackageStatus = "active"
	PackageCompleted PackageStatus = "completed"
	PackageExpired   PackageStatus = "expired"
	PackageCancelled PackageStatus = "cancelled"
)

func (s PackageStatus) Valid() bool {
	switch s {
	case PackageActive, PackageCompleted, PackageExpired, PackageCancelled:
		return true
	}
	return false
}

func (p *UserTrainingPackage) Exhausted() bool {
	return p.SessionsUsed >= p.SessionsTotal
}

func (p *UserTrainingPackage) Remaining() int32 {
	if p.Exhausted() {
		return 0
	}
	return p.SessionsTotal - p.SessionsUsed
}
