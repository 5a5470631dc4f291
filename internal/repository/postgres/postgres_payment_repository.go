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

const (
	paymentColumns = `id, user_id, amount, currency, status, payment_method, gateway_transaction_id, related_type, related_id, bonus_earned, bonus_spent, created_at, updated_at`

	gatewayTransactionConstraint = "payments_gateway_transaction_id_key"
)

type PostgresPaymentRepository struct {
	db *sql.DB
}

func NewPostgresPaymentRepository(db *sql.DB) *PostgresPaymentRepository {
	return &PostgresPaymentRepository{db: db}
}

func (r *PostgresPaymentRepository) Create(ctx context.Context, p *models.Payment) (err error) {
	tracer := otel.Tracer("payment-repository")
	ctx, span := tracer.Start(ctx, "CreatePayment")
	defer span.End()
	defer observe(span, "CreatePayment", time.Now(), &err)

	if p == nil {
		err = pkgerrors.ErrNilPayment
		slog.Error("failed to create payment", "method", "Create", "error", err)
		return err
	}
	if err = validatePayment(p); err != nil {
		slog.Error("invalid payment", "method", "Create", "user_id", p.UserID, "error", err)
		return err
	}

	span.SetAttributes(
		attribute.Int64("user_id", p.UserID),
		attribute.String("amount", p.Amount.StringFixed(2)),
		attribute.String("status", string(p.Status)),
		attribute.String("payment_method", string(p.Method)),
	)

	query := `INSERT INTO payments (user_id, amount, currency, status, payment_method, gateway_transaction_id, related_type, related_id, bonus_earned, bonus_spent) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10) RETURNING id, created_at, updated_at`
	err = executor(ctx, r.db).QueryRowContext(ctx, query,
		p.UserID,
		p.Amount,
		p.Currency,
		p.Status,
		p.Method,
		nullString(p.GatewayTransactionID),
		p.Related.Kind,
		p.Related.ID,
		p.BonusEarned,
		p.BonusSpent,
	).Scan(&p.ID, &p.CreatedAt, &p.UpdatedAt)
	if isUniqueViolation(err, gatewayTransactionConstraint) {
		err = pkgerrors.ErrDuplicateGatewayTransaction
		slog.Error("duplicate gateway transaction", "method", "Create", "user_id", p.UserID, "error", err)
		return err
	}
	if err != nil {
		slog.Error("failed to create payment", "method", "Create", "user_id", p.UserID, "error", err)
		return fmt.Errorf("failed to create payment: %w", mapError(err))
	}

	slog.Info("payment created", "method", "Create", "id", p.ID, "user_id", p.UserID, "status", p.Status, "amount", p.Amount.StringFixed(2))
	return nil
}

func (r *PostgresPaymentRepository) GetByID(ctx context.Context, id int64) (*models.Payment, error) {
	return r.get(ctx, "GetPaymentByID", `SELECT `+paymentColumns+` FROM payments WHERE id = $1`, id)
}

func (r *PostgresPaymentRepository) GetByIDForUpdate(ctx context.Context, id int64) (*models.Payment, error) {
	return r.get(ctx, "GetPaymentByIDForUpdate", `SELECT `+paymentColumns+` FROM payments WHERE id = $1 FOR UPDATE`, id)
}

func (r *PostgresPaymentRepository) get(ctx context.Context, method, query string, id int64) (p *models.Payment, err error) {
	tracer := otel.Tracer("payment-repository")
	ctx, span := tracer.Start(ctx, method)
	span.SetAttributes(attribute.Int64("payment_id", id))
	defer span.End()
	defer observe(span, method, time.Now(), &err)

	p, err = scanPayment(executor(ctx, r.db).QueryRowContext(ctx, query, id))
	if stderrors.Is(err, sql.ErrNoRows) {
		err = pkgerrors.ErrPaymentNotFound
		slog.Error("payment not found", "method", method, "payment_id", id)
		return nil, err
	}
	if err != nil {
		slog.Error("failed to get payment", "method", method, "payment_id", id, "error", err)
		return nil, fmt.Errorf("failed to get payment: %w", mapError(err))
	}
	return p, nil
}

func (r *PostgresPaymentRepository) UpdateStatus(ctx context.Context, p *models.Payment) (err error) {
	tracer := otel.Tracer("payment-repository")
	ctx, span := tracer.Start(ctx, "UpdatePaymentStatus")
	defer span.End()
	defer observe(span, "UpdatePaymentStatus", time.Now(), &err)

	if p == nil {
		err = pkgerrors.ErrNilPayment
		return err
	}
	span.SetAttributes(attribute.Int64("payment_id", p.ID), attribute.String("status", string(p.Status)))

	query := `UPDATE payments SET status = $1, bonus_earned = $2, updated_at = NOW() WHERE id = $3 RETURNING updated_at`
	err = executor(ctx, r.db).QueryRowContext(ctx, query, p.Status, p.BonusEarned, p.ID).Scan(&p.UpdatedAt)
	if stderrors.Is(err, sql.ErrNoRows) {
		err = pkgerrors.ErrPaymentNotFound
		slog.Error("payment not found", "method", "UpdateStatus", "payment_id", p.ID)
		return err
	}
	if err != nil {
		slog.Error("failed to update payment status", "method", "UpdateStatus", "payment_id", p.ID, "error", err)
		return fmt.Errorf("failed to update payment status: %w", mapError(err))
	}

	slog.Info("payment status updated", "method", "UpdateStatus", "payment_id", p.ID, "status", p.Status)
	return nil
}

func scanPayment(row rowScanner) (*models.Payment, error) {
	var (
		p       models.Payment
		gateway sql.NullString
	)
	err := row.Scan(
		&p.ID,
		&p.UserID,
		&p.Amount,
		&p.Currency,
		&p.Status,
		&p.Method,
		&gateway,
		&p.Related.Kind,
		&p.Related.ID,
		&p.BonusEarned,
		&p.BonusSpent,
		&p.CreatedAt,
		&p.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	if gateway.Valid {
		p.GatewayTransactionID = &gateway.String
	}
	return &p, nil
}

func validatePayment(p *models.Payment) error {
	switch {
	case p.UserID <= 0:
		return fmt.Errorf("%w: user_id is required", pkgerrors.ErrInvalidPayment)
	case p.Amount.IsNegative():
		return fmt.Errorf("%w: amount must not be negative", pkgerrors.ErrInvalidPayment)
	case p.Currency == "":
		return fmt.Errorf("%w: currency is required", pkgerrors.ErrInvalidPayment)
	case !p.Status.Valid():
		return fmt.Errorf("%w: unknown status %q", pkgerrors.ErrInvalidPayment, p.Status)
	case !p.Method.Valid():
		return fmt.Errorf("%w: unknown payment method %q", pkgerrors.ErrInvalidPayment, p.Method)
	case !p.Related.Valid():
		return pkgerrors.ErrInvalidReference
	}
	return nil
}

func nullString(s *string) sql.NullString {
	if s == nil || *s == "" {
		return sql.NullString{}
	}
	return sql.NullString{String: *s, Valid: true}
}
