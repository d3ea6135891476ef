package billing

import (
	"time"

	"github.com/google/uuid"
	"github.com/jobdeck/backend/internal/domain/shared"
)

// SubscriptionStatus represents the lifecycle state of a subscription
type SubscriptionStatus string

const (
	SubscriptionStatusActive    SubscriptionStatus = "active"
	SubscriptionStatusSuspended SubscriptionStatus = "suspended"
	SubscriptionStatusCancelled SubscriptionStatus = "cancelled"
	SubscriptionStatusExpired   SubscriptionStatus = "expired"
)

// IsTerminal returns true for states that admit no further transitions
func (s SubscriptionStatus) IsTerminal() bool {
	return s == SubscriptionStatusCancelled || s == SubscriptionStatusExpired
}

// IsValid returns true if the status is a known value
func (s SubscriptionStatus) IsValid() bool {
	switch s {
	case SubscriptionStatusActive, SubscriptionStatusSuspended,
		SubscriptionStatusCancelled, SubscriptionStatusExpired:
		return true
	default:
		return false
	}
}

// Subscription is the aggregate root for a user's plan membership.
// At most one subscription per user is active at a time; the repository
// enforces this with a partial unique index, the service with its guards.
//
// RenewalDate is nil only in terminal states.
type Subscription struct {
	shared.BaseAggregateRoot
	UserID           uuid.UUID          `gorm:"type:uuid;not null;index"`
	PlanID           string             `gorm:"type:varchar(50);not null"`
	Status           SubscriptionStatus `gorm:"type:varchar(20);not null"`
	BillingCycle     BillingCycle       `gorm:"type:varchar(10);not null"`
	StartDate        time.Time          `gorm:"not null"`
	RenewalDate      *time.Time
	SuspendedAt      *time.Time
	CancelledAt      *time.Time
	CancelReason     string `gorm:"type:varchar(200)"`
	CustomerCode     string `gorm:"type:varchar(100);index"`
	SubscriptionCode string `gorm:"type:varchar(100);index"`
}

// TableName returns the table name for GORM
func (Subscription) TableName() string {
	return "subscriptions"
}

// NewSubscription activates a new subscription after a successful first payment
func NewSubscription(userID uuid.UUID, plan *Plan, customerCode, subscriptionCode string, now time.Time) (*Subscription, error) {
	if userID == uuid.Nil {
		return nil, shared.NewDomainError("INVALID_USER", "User ID cannot be empty")
	}
	if plan == nil {
		return nil, ErrPlanNotFound
	}

	renewal := advanceCycle(now, plan.Cycle)
	sub := &Subscription{
		BaseAggregateRoot: shared.NewBaseAggregateRoot(),
		UserID:            userID,
		PlanID:            plan.ID,
		Status:            SubscriptionStatusActive,
		BillingCycle:      plan.Cycle,
		StartDate:         now,
		RenewalDate:       &renewal,
		CustomerCode:      customerCode,
		SubscriptionCode:  subscriptionCode,
	}

	sub.AddDomainEvent(NewSubscriptionStatusChangedEvent(sub, "", SubscriptionStatusActive))

	return sub, nil
}

// Renew advances the renewal date by one billing cycle.
// Guard: the current renewal date must be due within the grace period,
// which makes stale renewal replays no-ops instead of double-advances.
func (s *Subscription) Renew(now time.Time, grace time.Duration) error {
	if s.Status != SubscriptionStatusActive {
		return ErrInvalidTransition
	}
	if s.RenewalDate == nil || s.RenewalDate.After(now.Add(grace)) {
		return ErrInvalidTransition
	}

	renewal := advanceCycle(*s.RenewalDate, s.BillingCycle)
	s.RenewalDate = &renewal
	s.touch()

	s.AddDomainEvent(NewSubscriptionRenewedEvent(s, renewal))

	return nil
}

// Suspend marks the subscription suspended after a failed renewal payment
func (s *Subscription) Suspend(now time.Time) error {
	if s.Status != SubscriptionStatusActive {
		return ErrInvalidTransition
	}

	s.Status = SubscriptionStatusSuspended
	s.SuspendedAt = &now
	s.touch()

	s.AddDomainEvent(NewSubscriptionStatusChangedEvent(s, SubscriptionStatusActive, SubscriptionStatusSuspended))

	return nil
}

// Recover returns a suspended subscription to active.
// Guard: the recovering payment must arrive within the recovery window,
// measured from the moment of suspension. Exactly at the boundary recovers.
func (s *Subscription) Recover(now time.Time, recoveryWindow time.Duration) error {
	if s.Status != SubscriptionStatusSuspended {
		return ErrInvalidTransition
	}
	if s.SuspendedAt == nil || now.After(s.SuspendedAt.Add(recoveryWindow)) {
		return ErrRecoveryWindowClosed
	}

	renewal := advanceCycle(now, s.BillingCycle)
	s.Status = SubscriptionStatusActive
	s.SuspendedAt = nil
	s.RenewalDate = &renewal
	s.touch()

	s.AddDomainEvent(NewSubscriptionStatusChangedEvent(s, SubscriptionStatusSuspended, SubscriptionStatusActive))

	return nil
}

// Expire moves a suspended subscription to expired once the recovery
// window has elapsed
func (s *Subscription) Expire() error {
	if s.Status != SubscriptionStatusSuspended {
		return ErrInvalidTransition
	}

	s.Status = SubscriptionStatusExpired
	s.RenewalDate = nil
	s.touch()

	s.AddDomainEvent(NewSubscriptionStatusChangedEvent(s, SubscriptionStatusSuspended, SubscriptionStatusExpired))

	return nil
}

// Cancel terminates the subscription at the user's request
func (s *Subscription) Cancel(reason string, now time.Time) error {
	if s.Status != SubscriptionStatusActive {
		return ErrInvalidTransition
	}

	oldStatus := s.Status
	s.Status = SubscriptionStatusCancelled
	s.CancelledAt = &now
	s.CancelReason = reason
	s.RenewalDate = nil
	s.touch()

	s.AddDomainEvent(NewSubscriptionStatusChangedEvent(s, oldStatus, SubscriptionStatusCancelled))

	return nil
}

// ForceStatus moves the subscription to an arbitrary state from any
// non-terminal state. Callers must audit every use.
func (s *Subscription) ForceStatus(target SubscriptionStatus, now time.Time) error {
	if !target.IsValid() {
		return shared.ErrInvalidInput
	}
	if s.Status.IsTerminal() {
		return ErrInvalidTransition
	}

	oldStatus := s.Status
	s.Status = target
	switch target {
	case SubscriptionStatusCancelled:
		s.CancelledAt = &now
		s.CancelReason = "forced"
		s.RenewalDate = nil
	case SubscriptionStatusExpired:
		s.RenewalDate = nil
	case SubscriptionStatusSuspended:
		s.SuspendedAt = &now
	case SubscriptionStatusActive:
		if s.RenewalDate == nil {
			renewal := advanceCycle(now, s.BillingCycle)
			s.RenewalDate = &renewal
		}
		s.SuspendedAt = nil
	}
	s.touch()

	s.AddDomainEvent(NewSubscriptionStatusChangedEvent(s, oldStatus, target))

	return nil
}

// IsActive returns true if the subscription is active
func (s *Subscription) IsActive() bool {
	return s.Status == SubscriptionStatusActive
}

// RecoveryDeadline returns the end of the recovery window, if suspended
func (s *Subscription) RecoveryDeadline(recoveryWindow time.Duration) *time.Time {
	if s.SuspendedAt == nil {
		return nil
	}
	deadline := s.SuspendedAt.Add(recoveryWindow)
	return &deadline
}

func (s *Subscription) touch() {
	s.UpdatedAt = time.Now()
	s.IncrementVersion()
}

// advanceCycle moves a date forward by one billing cycle
func advanceCycle(from time.Time, cycle BillingCycle) time.Time {
	if cycle == BillingCycleYearly {
		return from.AddDate(1, 0, 0)
	}
	return from.AddDate(0, 1, 0)
}
