package service

import (
	"context"
	stderrors "errors"
	"fmt"
	"log/slog"

	"github.com/honeynil/venue-ledger/internal/infrastructure/observability"
	"github.com/honeynil/venue-ledger/internal/models"
	"github.com/honeynil/venue-ledger/internal/repository"
	pkgerrors "github.com/honeynil/venue-ledger/pkg/errors"
	"github.com/shopspring/decimal"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
)

// PaymentLedger keeps payments and the bonus ledger consistent. Every
// exported mutation is a single atomic unit.
type PaymentLedger struct {
	tx       repository.Transactor
	payments repository.PaymentRepository
	balance  *BalanceAccessor
	events   EventPublisher
	retry    RetryConfig
}

func NewPaymentLedger(
	tx repository.Transactor,
	payments repository.PaymentRepository,
	balance *BalanceAccessor,
	events EventPublisher,
	retry RetryConfig,
) *PaymentLedger {
	return &PaymentLedger{
		tx:       tx,
		payments: payments,
		balance:  balance,
		events:   events,
		retry:    retry,
	}
}

func earnsBonus(p *models.Payment) bool {
	return p.Status == models.PaymentSuccess && p.Method != models.MethodBonusPoints
}

// CreateWithBonusEarning inserts the payment and, for a successful non-bonus
// payment, credits floor(amount*bonusPercent/100) points linked to it.
func (l *PaymentLedger) CreateWithBonusEarning(ctx context.Context, draft models.Payment, bonusPercent decimal.Decimal) (*models.Payment, error) {
	tracer := otel.Tracer("payment-ledger")
	ctx, span := tracer.Start(ctx, "CreateWithBonusEarning")
	defer span.End()

	draft.Amount = draft.Amount.Round(models.AmountScale)
	if err := validateDraft(draft, bonusPercent); err != nil {
		span.SetStatus(codes.Error, "invalid draft")
		slog.Error("invalid payment draft", "user_id", draft.UserID, "error", err)
		return nil, err
	}

	var created *models.Payment
	err := atomically(ctx, l.tx, l.retry, "create_with_bonus_earning", func(ctx context.Context) error {
		p := draft
		p.BonusEarned = 0
		p.BonusSpent = 0
		if earnsBonus(&p) {
			p.BonusEarned = models.BonusPoints(p.Amount, bonusPercent)
		}

		if err := l.payments.Create(ctx, &p); err != nil {
			return err
		}
		if p.BonusEarned > 0 {
			if _, err := l.balance.AppendEarn(ctx, p.UserID, p.BonusEarned, &p.ID, fmt.Sprintf("payment #%d", p.ID)); err != nil {
				return fmt.Errorf("failed to credit bonus: %w", err)
			}
		}
		created = &p
		return nil
	})
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "create failed")
		slog.Error("failed to create payment with bonus earning", "user_id", draft.UserID, "error", err)
		return nil, err
	}

	span.SetAttributes(attribute.Int64("payment_id", created.ID), attribute.Int64("bonus_earned", created.BonusEarned))
	events := []models.LedgerEvent{paymentEvent(models.EventPaymentCreated, created)}
	if created.BonusEarned > 0 {
		l.balance.invalidate(ctx, created.UserID)
		observability.BonusPoints.WithLabelValues(string(models.TypeEarned)).Add(float64(created.BonusEarned))
		events = append(events, bonusEvent(models.EventBonusEarned, created, created.BonusEarned))
	}
	publish(ctx, l.events, events...)

	slog.Info("payment created", "payment_id", created.ID, "user_id", created.UserID, "status", created.Status, "bonus_earned", created.BonusEarned)
	return created, nil
}

// CreateWithBonusSpending pays part or all of the draft with bonus points at
// 1 point per currency unit. It returns (nil, nil) when the user cannot
// cover pointsToSpend; nothing is written in that case.
func (l *PaymentLedger) CreateWithBonusSpending(ctx context.Context, draft models.Payment, pointsToSpend int64) (*models.Payment, error) {
	tracer := otel.Tracer("payment-ledger")
	ctx, span := tracer.Start(ctx, "CreateWithBonusSpending")
	defer span.End()
	span.SetAttributes(attribute.Int64("user_id", draft.UserID), attribute.Int64("points", pointsToSpend))

	if pointsToSpend < 0 {
		span.SetStatus(codes.Error, "negative points")
		return nil, pkgerrors.ErrInvalidPoints
	}
	draft.Amount = draft.Amount.Round(models.AmountScale)
	if err := validateDraft(draft, decimal.Zero); err != nil {
		span.SetStatus(codes.Error, "invalid draft")
		slog.Error("invalid payment draft", "user_id", draft.UserID, "error", err)
		return nil, err
	}
	if pointsToSpend > 0 && draft.Status == models.PaymentFailed {
		span.SetStatus(codes.Error, "spending on failed payment")
		return nil, fmt.Errorf("%w: cannot spend bonus points on a failed payment", pkgerrors.ErrInvalidPayment)
	}

	var created *models.Payment
	err := atomically(ctx, l.tx, l.retry, "create_with_bonus_spending", func(ctx context.Context) error {
		p := draft
		p.BonusEarned = 0
		p.BonusSpent = pointsToSpend
		if pointsToSpend > 0 {
			p.Amount = p.Amount.Sub(decimal.NewFromInt(pointsToSpend))
			if p.Amount.Sign() <= 0 {
				p.Amount = decimal.Zero
				p.Method = models.MethodBonusPoints
			}
		}

		if err := l.payments.Create(ctx, &p); err != nil {
			return err
		}
		if pointsToSpend > 0 {
			if _, err := l.balance.AppendSpend(ctx, p.UserID, pointsToSpend, &p.ID, fmt.Sprintf("order #%d", p.ID)); err != nil {
				return err
			}
		}
		created = &p
		return nil
	})
	if stderrors.Is(err, pkgerrors.ErrInsufficientBalance) {
		span.SetStatus(codes.Error, "insufficient balance")
		slog.Info("bonus spending declined", "user_id", draft.UserID, "points", pointsToSpend, "error", err)
		return nil, nil
	}
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "create failed")
		slog.Error("failed to create payment with bonus spending", "user_id", draft.UserID, "error", err)
		return nil, err
	}

	span.SetAttributes(attribute.Int64("payment_id", created.ID))
	events := []models.LedgerEvent{paymentEvent(models.EventPaymentCreated, created)}
	if pointsToSpend > 0 {
		l.balance.invalidate(ctx, created.UserID)
		observability.BonusPoints.WithLabelValues(string(models.TypeSpent)).Add(float64(pointsToSpend))
		events = append(events, bonusEvent(models.EventBonusSpent, created, pointsToSpend))
	}
	publish(ctx, l.events, events...)

	slog.Info("payment created with bonus spending", "payment_id", created.ID, "user_id", created.UserID, "amount", created.Amount.StringFixed(2), "points", pointsToSpend)
	return created, nil
}

// UpdateStatusWithBonusHandling moves a payment through its state machine.
// pending->success credits bonus points; pending->failed gives back the
// points the payment spent; success->refunded reverses what the payment
// actually earned and gives back the points it spent.
func (l *PaymentLedger) UpdateStatusWithBonusHandling(ctx context.Context, paymentID int64, newStatus models.PaymentStatus, bonusPercent decimal.Decimal) (*models.Payment, error) {
	tracer := otel.Tracer("payment-ledger")
	ctx, span := tracer.Start(ctx, "UpdateStatusWithBonusHandling")
	defer span.End()
	span.SetAttributes(attribute.Int64("payment_id", paymentID), attribute.String("new_status", string(newStatus)))

	if bonusPercent.IsNegative() {
		return nil, fmt.Errorf("%w: bonus percent must not be negative", pkgerrors.ErrInvalidInput)
	}

	var (
		updated  *models.Payment
		previous models.PaymentStatus
		earned   int64
		reversed int64
		returned int64
	)
	err := atomically(ctx, l.tx, l.retry, "update_payment_status", func(ctx context.Context) error {
		earned, reversed, returned = 0, 0, 0

		p, err := l.payments.GetByIDForUpdate(ctx, paymentID)
		if err != nil {
			return err
		}
		previous = p.Status
		if !p.Status.CanTransition(newStatus) {
			return fmt.Errorf("%w: %s -> %s", pkgerrors.ErrInvalidStatusTransition, p.Status, newStatus)
		}

		switch {
		case previous == models.PaymentPending && newStatus == models.PaymentSuccess:
			p.Status = newStatus
			if earnsBonus(p) {
				earned = models.BonusPoints(p.Amount, bonusPercent)
			}
			if earned > 0 {
				if _, err := l.balance.AppendEarn(ctx, p.UserID, earned, &p.ID, fmt.Sprintf("payment #%d", p.ID)); err != nil {
					return fmt.Errorf("failed to credit bonus: %w", err)
				}
				p.BonusEarned = earned
			}

		case previous == models.PaymentPending && newStatus == models.PaymentFailed:
			if p.BonusSpent > 0 {
				returned = p.BonusSpent
				if _, err := l.balance.AppendEarn(ctx, p.UserID, returned, &p.ID, fmt.Sprintf("failed order #%d", p.ID)); err != nil {
					return fmt.Errorf("failed to return spent bonus: %w", err)
				}
			}

		case previous == models.PaymentSuccess && newStatus == models.PaymentRefunded:
			if p.BonusEarned > 0 {
				reversed, err = l.balance.appendSpendUpTo(ctx, p.UserID, p.BonusEarned, &p.ID, fmt.Sprintf("refund of payment #%d", p.ID))
				if err != nil {
					return fmt.Errorf("failed to reverse bonus: %w", err)
				}
			}
			if p.BonusSpent > 0 {
				returned = p.BonusSpent
				if _, err := l.balance.AppendEarn(ctx, p.UserID, returned, &p.ID, fmt.Sprintf("refund of order #%d", p.ID)); err != nil {
					return fmt.Errorf("failed to return spent bonus: %w", err)
				}
			}
		}

		p.Status = newStatus
		if err := l.payments.UpdateStatus(ctx, p); err != nil {
			return err
		}
		updated = p
		return nil
	})
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "status update failed")
		slog.Error("failed to update payment status", "payment_id", paymentID, "new_status", newStatus, "error", err)
		return nil, err
	}

	statusEvent := paymentEvent(models.EventPaymentStatusChanged, updated)
	events := []models.LedgerEvent{statusEvent}
	if earned > 0 {
		observability.BonusPoints.WithLabelValues(string(models.TypeEarned)).Add(float64(earned))
		events = append(events, bonusEvent(models.EventBonusEarned, updated, earned))
	}
	if reversed > 0 {
		observability.BonusPoints.WithLabelValues(string(models.TypeSpent)).Add(float64(reversed))
		events = append(events, bonusEvent(models.EventBonusSpent, updated, reversed))
	}
	if returned > 0 {
		observability.BonusPoints.WithLabelValues(string(models.TypeEarned)).Add(float64(returned))
		events = append(events, bonusEvent(models.EventBonusEarned, updated, returned))
	}
	if earned > 0 || reversed > 0 || returned > 0 {
		l.balance.invalidate(ctx, updated.UserID)
	}
	publish(ctx, l.events, events...)

	slog.Info("payment status changed",
		"payment_id", updated.ID,
		"from", previous,
		"to", updated.Status,
		"earned", earned,
		"reversed", reversed,
		"returned", returned)
	return updated, nil
}

// GetPaymentBonusTransactions lists the ledger rows linked to the payment.
func (l *PaymentLedger) GetPaymentBonusTransactions(ctx context.Context, paymentID int64) ([]models.BonusTransaction, error) {
	tracer := otel.Tracer("payment-ledger")
	ctx, span := tracer.Start(ctx, "GetPaymentBonusTransactions")
	defer span.End()

	if _, err := l.payments.GetByID(ctx, paymentID); err != nil {
		span.RecordError(err)
		return nil, err
	}
	txs, err := l.balance.bonusRepo.ListByPayment(ctx, paymentID)
	if err != nil {
		span.RecordError(err)
		slog.Error("failed to list payment bonus transactions", "payment_id", paymentID, "error", err)
		return nil, err
	}
	return txs, nil
}

func (l *PaymentLedger) GetPayment(ctx context.Context, paymentID int64) (*models.Payment, error) {
	return l.payments.GetByID(ctx, paymentID)
}

func validateDraft(draft models.Payment, bonusPercent decimal.Decimal) error {
	if !draft.Status.Initial() {
		return fmt.Errorf("%w: payment cannot be created as %q", pkgerrors.ErrInvalidPayment, draft.Status)
	}
	if draft.Amount.IsNegative() {
		return fmt.Errorf("%w: amount must not be negative", pkgerrors.ErrInvalidPayment)
	}
	if !draft.Related.Valid() {
		return pkgerrors.ErrInvalidReference
	}
	if bonusPercent.IsNegative() {
		return fmt.Errorf("%w: bonus percent must not be negative", pkgerrors.ErrInvalidInput)
	}
	return nil
}

func paymentEvent(t models.EventType, p *models.Payment) models.LedgerEvent {
	e := models.NewLedgerEvent(t, p.UserID)
	e.PaymentID = int64Ptr(p.ID)
	e.Status = string(p.Status)
	return e
}

func bonusEvent(t models.EventType, p *models.Payment, points int64) models.LedgerEvent {
	e := models.NewLedgerEvent(t, p.UserID)
	e.PaymentID = int64Ptr(p.ID)
	e.Points = points
	return e
}
