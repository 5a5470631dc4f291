package service

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/honeynil/venue-ledger/internal/infrastructure/observability"
	"github.com/honeynil/venue-ledger/internal/models"
	"github.com/honeynil/venue-ledger/internal/repository"
	pkgerrors "github.com/honeynil/venue-ledger/pkg/errors"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
)

// SessionLedger tracks session credits of purchased training packages.
// Counter changes happen under the package row lock.
type SessionLedger struct {
	tx       repository.Transactor
	packages repository.PackageRepository
	events   EventPublisher
	retry    RetryConfig
	now      func() time.Time
}

func NewSessionLedger(tx repository.Transactor, packages repository.PackageRepository, events EventPublisher, retry RetryConfig) *SessionLedger {
	return &SessionLedger{
		tx:       tx,
		packages: packages,
		events:   events,
		retry:    retry,
		now:      time.Now,
	}
}

// UseSession consumes one credit. It returns (nil, nil) when the package has
// no credits left.
func (l *SessionLedger) UseSession(ctx context.Context, packageID int64) (*models.UserTrainingPackage, error) {
	tracer := otel.Tracer("session-ledger")
	ctx, span := tracer.Start(ctx, "UseSession")
	defer span.End()
	span.SetAttributes(attribute.Int64("package_id", packageID))

	var pkg *models.UserTrainingPackage
	err := atomically(ctx, l.tx, l.retry, "use_session", func(ctx context.Context) error {
		pkg = nil
		current, err := l.packages.GetByIDForUpdate(ctx, packageID)
		if err != nil {
			return err
		}
		if current.Exhausted() {
			return nil
		}

		current.SessionsUsed++
		if current.SessionsUsed == current.SessionsTotal && current.Status == models.PackageActive {
			current.Status = models.PackageCompleted
		}
		if err := l.packages.Update(ctx, current); err != nil {
			return err
		}
		pkg = current
		return nil
	})
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "use session failed")
		observability.SessionOperations.WithLabelValues("use", "error").Inc()
		slog.Error("failed to use session", "package_id", packageID, "error", err)
		return nil, err
	}
	if pkg == nil {
		observability.SessionOperations.WithLabelValues("use", "exhausted").Inc()
		slog.Info("package has no sessions left", "package_id", packageID, "error", pkgerrors.ErrPackageSessionExhausted)
		return nil, nil
	}

	observability.SessionOperations.WithLabelValues("use", "ok").Inc()
	publish(ctx, l.events, packageEvent(models.EventSessionUsed, pkg))
	slog.Info("session used", "package_id", pkg.ID, "user_id", pkg.UserID, "sessions_used", pkg.SessionsUsed, "sessions_total", pkg.SessionsTotal, "status", pkg.Status)
	return pkg, nil
}

// ReturnSession gives one credit back and reopens a completed package. It
// returns (nil, nil) when nothing has been used.
func (l *SessionLedger) ReturnSession(ctx context.Context, packageID int64) (*models.UserTrainingPackage, error) {
	tracer := otel.Tracer("session-ledger")
	ctx, span := tracer.Start(ctx, "ReturnSession")
	defer span.End()
	span.SetAttributes(attribute.Int64("package_id", packageID))

	var pkg *models.UserTrainingPackage
	err := atomically(ctx, l.tx, l.retry, "return_session", func(ctx context.Context) error {
		pkg = nil
		current, err := l.packages.GetByIDForUpdate(ctx, packageID)
		if err != nil {
			return err
		}
		if current.SessionsUsed <= 0 {
			return nil
		}

		current.SessionsUsed--
		if current.Status == models.PackageCompleted {
			current.Status = models.PackageActive
		}
		if err := l.packages.Update(ctx, current); err != nil {
			return err
		}
		pkg = current
		return nil
	})
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "return session failed")
		observability.SessionOperations.WithLabelValues("return", "error").Inc()
		slog.Error("failed to return session", "package_id", packageID, "error", err)
		return nil, err
	}
	if pkg == nil {
		observability.SessionOperations.WithLabelValues("return", "nothing_used").Inc()
		slog.Info("package has no used sessions", "package_id", packageID)
		return nil, nil
	}

	observability.SessionOperations.WithLabelValues("return", "ok").Inc()
	publish(ctx, l.events, packageEvent(models.EventSessionReturned, pkg))
	slog.Info("session returned", "package_id", pkg.ID, "user_id", pkg.UserID, "sessions_used", pkg.SessionsUsed, "status", pkg.Status)
	return pkg, nil
}

// MarkExpiredPackages flips every active package past its expiration date to
// expired in one statement and returns how many changed.
func (l *SessionLedger) MarkExpiredPackages(ctx context.Context) (int64, error) {
	tracer := otel.Tracer("session-ledger")
	ctx, span := tracer.Start(ctx, "MarkExpiredPackages")
	defer span.End()

	now := l.now()
	var affected int64
	err := atomically(ctx, l.tx, l.retry, "mark_expired_packages", func(ctx context.Context) error {
		n, err := l.packages.MarkExpired(ctx, now)
		if err != nil {
			return err
		}
		affected = n
		return nil
	})
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "expiration sweep failed")
		slog.Error("failed to mark expired packages", "error", err)
		return 0, err
	}

	span.SetAttributes(attribute.Int64("affected", affected))
	if affected > 0 {
		observability.PackagesExpired.Add(float64(affected))
		e := models.NewLedgerEvent(models.EventPackagesExpired, 0)
		e.Count = affected
		publish(ctx, l.events, e)
	}
	slog.Info("expired packages marked", "count", affected, "cutoff", now)
	return affected, nil
}

// FindUsablePackageForUser picks the active, non-exhausted, unexpired package
// that expires first. definitionID narrows the search when set.
func (l *SessionLedger) FindUsablePackageForUser(ctx context.Context, userID int64, definitionID *int64) (*models.UserTrainingPackage, error) {
	tracer := otel.Tracer("session-ledger")
	ctx, span := tracer.Start(ctx, "FindUsablePackageForUser")
	defer span.End()
	span.SetAttributes(attribute.Int64("user_id", userID))

	pkg, err := l.packages.FindUsable(ctx, userID, definitionID, l.now())
	if err != nil {
		span.RecordError(err)
		return nil, err
	}
	return pkg, nil
}

// CreatePackage records a purchase. The package starts active with no
// sessions used.
func (l *SessionLedger) CreatePackage(ctx context.Context, pkg *models.UserTrainingPackage) (*models.UserTrainingPackage, error) {
	if pkg == nil {
		return nil, pkgerrors.ErrNilPackage
	}
	created := *pkg
	created.SessionsUsed = 0
	created.Status = models.PackageActive
	if created.PurchaseDate.IsZero() {
		created.PurchaseDate = l.now()
	}

	err := atomically(ctx, l.tx, l.retry, "create_package", func(ctx context.Context) error {
		return l.packages.Create(ctx, &created)
	})
	if err != nil {
		slog.Error("failed to create package", "user_id", pkg.UserID, "error", err)
		return nil, err
	}
	publish(ctx, l.events, packageEvent(models.EventPackageStatusChanged, &created))
	return &created, nil
}

// CancelPackage cancels a package from any state.
func (l *SessionLedger) CancelPackage(ctx context.Context, packageID int64) (*models.UserTrainingPackage, error) {
	return l.setStatus(ctx, "cancel_package", packageID, func(pkg *models.UserTrainingPackage) error {
		pkg.Status = models.PackageCancelled
		return nil
	})
}

// ActivatePackage restores a cancelled package. An exhausted one comes back
// as completed.
func (l *SessionLedger) ActivatePackage(ctx context.Context, packageID int64) (*models.UserTrainingPackage, error) {
	return l.setStatus(ctx, "activate_package", packageID, func(pkg *models.UserTrainingPackage) error {
		if pkg.Status != models.PackageCancelled {
			return fmt.Errorf("%w: %s -> %s", pkgerrors.ErrInvalidStatusTransition, pkg.Status, models.PackageActive)
		}
		pkg.Status = models.PackageActive
		if pkg.Exhausted() {
			pkg.Status = models.PackageCompleted
		}
		return nil
	})
}

func (l *SessionLedger) GetPackage(ctx context.Context, packageID int64) (*models.UserTrainingPackage, error) {
	return l.packages.GetByID(ctx, packageID)
}

func (l *SessionLedger) setStatus(ctx context.Context, op string, packageID int64, apply func(pkg *models.UserTrainingPackage) error) (*models.UserTrainingPackage, error) {
	var pkg *models.UserTrainingPackage
	err := atomically(ctx, l.tx, l.retry, op, func(ctx context.Context) error {
		current, err := l.packages.GetByIDForUpdate(ctx, packageID)
		if err != nil {
			return err
		}
		if err := apply(current); err != nil {
			return err
		}
		if err := l.packages.Update(ctx, current); err != nil {
			return err
		}
		pkg = current
		return nil
	})
	if err != nil {
		slog.Error("failed to change package status", "operation", op, "package_id", packageID, "error", err)
		return nil, err
	}
	publish(ctx, l.events, packageEvent(models.EventPackageStatusChanged, pkg))
	slog.Info("package status changed", "operation", op, "package_id", pkg.ID, "status", pkg.Status)
	return pkg, nil
}

func packageEvent(t models.EventType, pkg *models.UserTrainingPackage) models.LedgerEvent {
	e := models.NewLedgerEvent(t, pkg.UserID)
	e.PackageID = int64Ptr(pkg.ID)
	e.Status = string(pkg.Status)
	return e
}
