package billing

import (
	"time"

	"github.com/google/uuid"
	"github.com/jobdeck/backend/internal/domain/shared"
)

// Event types emitted by the subscription aggregate
const (
	EventTypeSubscriptionStatusChanged = "subscription.status_changed"
	EventTypeSubscriptionRenewed       = "subscription.renewed"
)

// SubscriptionStatusChangedEvent is the notification contract for committed
// state transitions. Delivery is at-least-once; consumers must be idempotent.
type SubscriptionStatusChangedEvent struct {
	shared.BaseDomainEvent
	UserID         uuid.UUID          `json:"user_id"`
	SubscriptionID uuid.UUID          `json:"subscription_id"`
	OldStatus      SubscriptionStatus `json:"old_status"`
	NewStatus      SubscriptionStatus `json:"new_status"`
}

// NewSubscriptionStatusChangedEvent creates a status change event
func NewSubscriptionStatusChangedEvent(sub *Subscription, oldStatus, newStatus SubscriptionStatus) *SubscriptionStatusChangedEvent {
	return &SubscriptionStatusChangedEvent{
		BaseDomainEvent: shared.NewBaseDomainEvent(EventTypeSubscriptionStatusChanged, "Subscription", sub.ID),
		UserID:          sub.UserID,
		SubscriptionID:  sub.ID,
		OldStatus:       oldStatus,
		NewStatus:       newStatus,
	}
}

// SubscriptionRenewedEvent records a renewal-date advance on an active
// subscription (status does not change)
type SubscriptionRenewedEvent struct {
	shared.BaseDomainEvent
	UserID         uuid.UUID `json:"user_id"`
	SubscriptionID uuid.UUID `json:"subscription_id"`
	NextRenewal    time.Time `json:"next_renewal"`
}

// NewSubscriptionRenewedEvent creates a renewal event
func NewSubscriptionRenewedEvent(sub *Subscription, nextRenewal time.Time) *SubscriptionRenewedEvent {
	return &SubscriptionRenewedEvent{
		BaseDomainEvent: shared.NewBaseDomainEvent(EventTypeSubscriptionRenewed, "Subscription", sub.ID),
		UserID:          sub.UserID,
		SubscriptionID:  sub.ID,
		NextRenewal:     nextRenewal,
	}
}
