package service

import (
	"context"
	"log/slog"

	"github.com/honeynil/venue-ledger/internal/models"
)

// EventPublisher ships committed ledger changes to downstream consumers.
type EventPublisher interface {
	Publish(ctx context.Context, event models.LedgerEvent) error
}

// publish is best-effort: the unit has already committed.
func publish(ctx context.Context, pub EventPublisher, events ...models.LedgerEvent) {
	if pub == nil {
		return
	}
	for _, e := range events {
		if err := pub.Publish(ctx, e); err != nil {
			slog.Error("failed to publish ledger event", "event_type", e.Type, "event_id", e.EventID, "error", err)
		}
	}
}

func int64Ptr(v int64) *int64 {
	return &v
}
