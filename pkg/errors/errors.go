package errors

import (
	"errors"
)

var (
	ErrPaymentNotFound             = errors.New("payment not found")
	ErrNilPayment                  = errors.New("payment is nil")
	ErrInvalidPayment              = errors.New("invalid payment")
	ErrInvalidReference            = errors.New("payment must reference exactly one entity")
	ErrInvalidStatusTransition     = errors.New("invalid status transition")
	ErrDuplicateGatewayTransaction = errors.New("gateway transaction id already used")
	ErrInsufficientBalance         = errors.New("insufficient bonus balance")
	ErrInvalidPoints               = errors.New("points must be positive")
	ErrPackageNotFound             = errors.New("training package not found")
	ErrNilPackage                  = errors.New("training package is nil")
	ErrInvalidPackage              = errors.New("invalid training package")
	ErrPackageSessionExhausted     = errors.New("no sessions left in package")
	ErrNoSessionToReturn           = errors.New("no used session to return")
	ErrNoUsablePackage             = errors.New("no usable package")
	ErrConcurrencyConflict         = errors.New("concurrent modification, retry")
	ErrInvalidInput                = errors.New("invalid input")
)
