package service

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"github.com/honeynil/venue-ledger/internal/models"
	"github.com/honeynil/venue-ledger/internal/repository"
	pkgerrors "github.com/honeynil/venue-ledger/pkg/errors"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/codes"
)

// BalanceCache holds display balances. Misses are reported as errors.
type BalanceCache interface {
	Get(ctx context.Context, userID int64) (int64, error)
	Set(ctx context.Context, userID, balance int64) error
	Invalidate(ctx context.Context, userID int64) error
}

// BalanceAccessor reads and appends bonus ledger rows. The append methods
// must run with a ctx obtained from Transactor.WithinTx so the balance check
// and the insert share one transaction.
type BalanceAccessor struct {
	bonusRepo repository.BonusRepository
	cache     BalanceCache

	// generations counts invalidations per user so a read that overlapped
	// one does not put its value back into the cache.
	mu          sync.Mutex
	generations map[int64]uint64
}

func NewBalanceAccessor(bonusRepo repository.BonusRepository, cache BalanceCache) *BalanceAccessor {
	return &BalanceAccessor{
		bonusRepo:   bonusRepo,
		cache:       cache,
		generations: map[int64]uint64{},
	}
}

func (a *BalanceAccessor) generation(userID int64) uint64 {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.generations[userID]
}

func (a *BalanceAccessor) GetBalance(ctx context.Context, userID int64) (int64, error) {
	return a.bonusRepo.GetBalance(ctx, userID)
}

// CachedBalance serves read-only callers from the cache and falls back to
// the ledger sum on a miss. Commits made by other processes can still leave
// a stale entry behind for at most the cache TTL.
func (a *BalanceAccessor) CachedBalance(ctx context.Context, userID int64) (int64, error) {
	tracer := otel.Tracer("balance-accessor")
	ctx, span := tracer.Start(ctx, "CachedBalance")
	defer span.End()

	if a.cache != nil {
		if balance, err := a.cache.Get(ctx, userID); err == nil {
			slog.Debug("bonus balance fetched from cache", "user_id", userID, "balance", balance)
			return balance, nil
		}
	}

	gen := a.generation(userID)
	balance, err := a.bonusRepo.GetBalance(ctx, userID)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "failed to get balance")
		return 0, fmt.Errorf("failed to get bonus balance: %w", err)
	}

	if a.cache != nil && a.generation(userID) == gen {
		if err := a.cache.Set(ctx, userID, balance); err != nil {
			slog.Error("failed to cache bonus balance", "user_id", userID, "error", err)
		}
	}
	return balance, nil
}

func (a *BalanceAccessor) AppendEarn(ctx context.Context, userID, points int64, paymentID *int64, description string) (*models.BonusTransaction, error) {
	if points <= 0 {
		return nil, pkgerrors.ErrInvalidPoints
	}
	tx := &models.BonusTransaction{
		UserID:       userID,
		Type:         models.TypeEarned,
		PointsChange: points,
		Description:  description,
		PaymentID:    paymentID,
	}
	if err := a.bonusRepo.Create(ctx, tx); err != nil {
		return nil, err
	}
	return tx, nil
}

// AppendSpend fails with ErrInsufficientBalance when the user holds fewer
// than points. The per-user lock is held until the caller's transaction ends.
func (a *BalanceAccessor) AppendSpend(ctx context.Context, userID, points int64, paymentID *int64, description string) (*models.BonusTransaction, error) {
	if points <= 0 {
		return nil, pkgerrors.ErrInvalidPoints
	}
	balance, err := a.lockedBalance(ctx, userID)
	if err != nil {
		return nil, err
	}
	if balance < points {
		slog.Warn("insufficient bonus balance", "user_id", userID, "balance", balance, "points", points)
		return nil, fmt.Errorf("%w: have %d, need %d", pkgerrors.ErrInsufficientBalance, balance, points)
	}
	return a.insertSpend(ctx, userID, points, paymentID, description)
}

// appendSpendUpTo debits min(points, balance) and returns the amount debited.
func (a *BalanceAccessor) appendSpendUpTo(ctx context.Context, userID, points int64, paymentID *int64, description string) (int64, error) {
	if points <= 0 {
		return 0, pkgerrors.ErrInvalidPoints
	}
	balance, err := a.lockedBalance(ctx, userID)
	if err != nil {
		return 0, err
	}
	debit := min(points, balance)
	if debit < points {
		slog.Warn("bonus reversal exceeds balance, clamping", "user_id", userID, "balance", balance, "requested", points)
	}
	if debit <= 0 {
		return 0, nil
	}
	if _, err := a.insertSpend(ctx, userID, debit, paymentID, description); err != nil {
		return 0, err
	}
	return debit, nil
}

func (a *BalanceAccessor) lockedBalance(ctx context.Context, userID int64) (int64, error) {
	if err := a.bonusRepo.LockUser(ctx, userID); err != nil {
		return 0, err
	}
	return a.bonusRepo.GetBalance(ctx, userID)
}

func (a *BalanceAccessor) insertSpend(ctx context.Context, userID, points int64, paymentID *int64, description string) (*models.BonusTransaction, error) {
	tx := &models.BonusTransaction{
		UserID:       userID,
		Type:         models.TypeSpent,
		PointsChange: points,
		Description:  description,
		PaymentID:    paymentID,
	}
	if err := a.bonusRepo.Create(ctx, tx); err != nil {
		return nil, err
	}
	return tx, nil
}

// History returns the newest ledger rows first.
func (a *BalanceAccessor) History(ctx context.Context, userID int64, limit, offset int) ([]models.BonusTransaction, error) {
	if limit <= 0 {
		limit = 20
	}
	if limit > 100 {
		limit = 100
	}
	if offset < 0 {
		offset = 0
	}
	return a.bonusRepo.ListByUser(ctx, userID, limit, offset)
}

// invalidate drops cached balances after a commit.
func (a *BalanceAccessor) invalidate(ctx context.Context, userID int64) {
	if a.cache == nil {
		return
	}
	a.mu.Lock()
	a.generations[userID]++
	a.mu.Unlock()
	if err := a.cache.Invalidate(ctx, userID); err != nil {
		slog.Error("failed to invalidate cached bonus balance", "user_id", userID, "error", err)
	}
}
