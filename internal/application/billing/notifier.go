package billing

import (
	"context"

	"go.uber.org/zap"

	"github.com/jobdeck/backend/internal/domain/billing"
	"github.com/jobdeck/backend/internal/domain/shared"
)

// SubscriptionNotifier turns committed subscription transitions into
// structured notification log entries, the hook point for an outbound
// delivery channel (email, push). Events arrive at-least-once; entries
// carry the event ID so downstream consumers can dedupe.
type SubscriptionNotifier struct {
	logger *zap.Logger
}

// NewSubscriptionNotifier creates the event handler
func NewSubscriptionNotifier(log *zap.Logger) *SubscriptionNotifier {
	return &SubscriptionNotifier{logger: log.Named("notifications")}
}

// EventTypes implements shared.EventHandler
func (n *SubscriptionNotifier) EventTypes() []string {
	return []string{
		billing.EventTypeSubscriptionStatusChanged,
		billing.EventTypeSubscriptionRenewed,
	}
}

// Handle implements shared.EventHandler
func (n *SubscriptionNotifier) Handle(ctx context.Context, event shared.DomainEvent) error {
	switch e := event.(type) {
	case *billing.SubscriptionStatusChangedEvent:
		n.logger.Info("subscription status changed",
			zap.String("event_id", e.EventID().String()),
			zap.String("user_id", e.UserID.String()),
			zap.String("subscription_id", e.SubscriptionID.String()),
			zap.String("old_status", string(e.OldStatus)),
			zap.String("new_status", string(e.NewStatus)),
			zap.Time("occurred_at", e.OccurredAt()))
	case *billing.SubscriptionRenewedEvent:
		n.logger.Info("subscription renewed",
			zap.String("event_id", e.EventID().String()),
			zap.String("user_id", e.UserID.String()),
			zap.String("subscription_id", e.SubscriptionID.String()),
			zap.Time("next_renewal", e.NextRenewal),
			zap.Time("occurred_at", e.OccurredAt()))
	}
	return nil
}
