package repository

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"time"

	"github.com/honeynil/venue-ledger/internal/models"
	pkgerrors "github.com/honeynil/venue-ledger/pkg/errors"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
)

const bonusColumns = `id, user_id, transaction_type, points_change, description, payment_id, created_at`

type PostgresBonusRepository struct {
	db *sql.DB
}

func NewPostgresBonusRepository(db *sql.DB) *PostgresBonusRepository {
	return &PostgresBonusRepository{db: db}
}

func (r *PostgresBonusRepository) Create(ctx context.Context, tx *models.BonusTransaction) (err error) {
	tracer := otel.Tracer("bonus-repository")
	ctx, span := tracer.Start(ctx, "CreateBonusTransaction")
	defer span.End()
	defer observe(span, "CreateBonusTransaction", time.Now(), &err)

	if tx == nil {
		err = fmt.Errorf("%w: bonus transaction is nil", pkgerrors.ErrInvalidInput)
		slog.Error("failed to create bonus transaction", "method", "Create", "error", err)
		return err
	}
	if !tx.Type.Valid() {
		err = fmt.Errorf("%w: unknown transaction type %q", pkgerrors.ErrInvalidInput, tx.Type)
		slog.Error("invalid transaction type", "method", "Create", "type", tx.Type, "error", err)
		return err
	}
	if tx.PointsChange <= 0 {
		err = pkgerrors.ErrInvalidPoints
		slog.Error("points must be positive", "method", "Create", "points", tx.PointsChange, "error", err)
		return err
	}

	span.SetAttributes(
		attribute.Int64("user_id", tx.UserID),
		attribute.Int64("points", tx.PointsChange),
		attribute.String("type", string(tx.Type)),
	)

	var paymentID sql.NullInt64
	if tx.PaymentID != nil {
		paymentID = sql.NullInt64{Int64: *tx.PaymentID, Valid: true}
	}

	query := `INSERT INTO bonus_transactions (user_id, transaction_type, points_change, description, payment_id) VALUES ($1, $2, $3, $4, $5) RETURNING id, created_at`
	err = executor(ctx, r.db).QueryRowContext(ctx, query, tx.UserID, tx.Type, tx.PointsChange, tx.Description, paymentID).
		Scan(&tx.ID, &tx.CreatedAt)
	if err != nil {
		slog.Error("failed to create bonus transaction", "method", "Create", "user_id", tx.UserID, "type", tx.Type, "error", err)
		return fmt.Errorf("failed to create bonus transaction: %w", mapError(err))
	}

	slog.Info("bonus transaction created", "method", "Create", "id", tx.ID, "user_id", tx.UserID, "type", tx.Type, "points", tx.PointsChange)
	return nil
}

func (r *PostgresBonusRepository) GetBalance(ctx context.Context, userID int64) (balance int64, err error) {
	tracer := otel.Tracer("bonus-repository")
	ctx, span := tracer.Start(ctx, "GetBonusBalance")
	span.SetAttributes(attribute.Int64("user_id", userID))
	defer span.End()
	defer observe(span, "GetBonusBalance", time.Now(), &err)

	query := `
		SELECT COALESCE(SUM(
			CASE
				WHEN transaction_type = 'earned' THEN points_change
				ELSE -points_change
			END
		), 0) AS balance
		FROM bonus_transactions
		WHERE user_id = $1
	`
	err = executor(ctx, r.db).QueryRowContext(ctx, query, userID).Scan(&balance)
	if err != nil {
		slog.Error("failed to get bonus balance", "method", "GetBalance", "user_id", userID, "error", err)
		return 0, fmt.Errorf("failed to get bonus balance: %w", mapError(err))
	}

	slog.Debug("bonus balance retrieved", "method", "GetBalance", "user_id", userID, "balance", balance)
	return balance, nil
}

func (r *PostgresBonusRepository) LockUser(ctx context.Context, userID int64) (err error) {
	tracer := otel.Tracer("bonus-repository")
	ctx, span := tracer.Start(ctx, "LockBonusUser")
	span.SetAttributes(attribute.Int64("user_id", userID))
	defer span.End()
	defer observe(span, "LockBonusUser", time.Now(), &err)

	query := `SELECT pg_advisory_xact_lock(hashtextextended('bonus_balance:' || $1::text, 0))`
	if _, err = executor(ctx, r.db).ExecContext(ctx, query, userID); err != nil {
		slog.Error("failed to lock bonus balance", "method", "LockUser", "user_id", userID, "error", err)
		return fmt.Errorf("failed to lock bonus balance: %w", mapError(err))
	}
	return nil
}

func (r *PostgresBonusRepository) ListByPayment(ctx context.Context, paymentID int64) (txs []models.BonusTransaction, err error) {
	tracer := otel.Tracer("bonus-repository")
	ctx, span := tracer.Start(ctx, "ListBonusByPayment")
	span.SetAttributes(attribute.Int64("payment_id", paymentID))
	defer span.End()
	defer observe(span, "ListBonusByPayment", time.Now(), &err)

	query := `SELECT ` + bonusColumns + ` FROM bonus_transactions WHERE payment_id = $1 ORDER BY id`
	txs, err = r.list(ctx, query, paymentID)
	if err != nil {
		slog.Error("failed to list bonus transactions", "method", "ListByPayment", "payment_id", paymentID, "error", err)
		return nil, err
	}
	return txs, nil
}

func (r *PostgresBonusRepository) ListByUser(ctx context.Context, userID int64, limit, offset int) (txs []models.BonusTransaction, err error) {
	tracer := otel.Tracer("bonus-repository")
	ctx, span := tracer.Start(ctx, "ListBonusByUser")
	span.SetAttributes(attribute.Int64("user_id", userID))
	defer span.End()
	defer observe(span, "ListBonusByUser", time.Now(), &err)

	query := `SELECT ` + bonusColumns + ` FROM bonus_transactions WHERE user_id = $1 ORDER BY created_at DESC, id DESC LIMIT $2 OFFSET $3`
	txs, err = r.list(ctx, query, userID, limit, offset)
	if err != nil {
		slog.Error("failed to list bonus transactions", "method", "ListByUser", "user_id", userID, "error", err)
		return nil, err
	}
	return txs, nil
}

func (r *PostgresBonusRepository) list(ctx context.Context, query string, args ...any) ([]models.BonusTransaction, error) {
	rows, err := executor(ctx, r.db).QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query bonus transactions: %w", mapError(err))
	}
	defer rows.Close()

	txs := make([]models.BonusTransaction, 0)
	for rows.Next() {
		var (
			tx        models.BonusTransaction
			paymentID sql.NullInt64
		)
		if err := rows.Scan(&tx.ID, &tx.UserID, &tx.Type, &tx.PointsChange, &tx.Description, &paymentID, &tx.CreatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan bonus transaction: %w", err)
		}
		if paymentID.Valid {
			id := paymentID.Int64
			tx.PaymentID = &id
		}
		txs = append(txs, tx)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate bonus transactions: %w", err)
	}
	return txs, nil
}
