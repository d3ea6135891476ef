package billing

import (
	"context"
	"time"

	"github.com/google/uuid"
)

// SubscriptionRepository persists subscription aggregates
type SubscriptionRepository interface {
	// FindByID loads a subscription, shared.ErrNotFound if absent
	FindByID(ctx context.Context, id uuid.UUID) (*Subscription, error)

	// FindActiveByUser returns the user's single active subscription,
	// shared.ErrNotFound if the user has none
	FindActiveByUser(ctx context.Context, userID uuid.UUID) (*Subscription, error)

	// FindLatestByUser returns the user's most recent subscription in any
	// state, shared.ErrNotFound if the user never subscribed
	FindLatestByUser(ctx context.Context, userID uuid.UUID) (*Subscription, error)

	// FindBySubscriptionCode resolves the provider's subscription handle
	FindBySubscriptionCode(ctx context.Context, code string) (*Subscription, error)

	// FindByCustomerCode resolves the provider's customer handle
	FindByCustomerCode(ctx context.Context, code string) (*Subscription, error)

	// FindSuspendedBefore lists subscriptions suspended strictly before
	// the cutoff, for the expiry sweep. Exclusive so the sweep never
	// touches a subscription whose recovery window is still open.
	FindSuspendedBefore(ctx context.Context, cutoff time.Time, limit int) ([]*Subscription, error)

	// Create inserts a new subscription
	Create(ctx context.Context, sub *Subscription) error

	// Save updates with an optimistic version check; returns
	// shared.ErrConcurrencyConflict when the stored version moved
	Save(ctx context.Context, sub *Subscription) error
}

// PaymentTransactionRepository persists payment attempts keyed by reference
type PaymentTransactionRepository interface {
	// CreateIfAbsent inserts the transaction unless its reference already
	// exists; returns (false, nil) on a duplicate reference
	CreateIfAbsent(ctx context.Context, tx *PaymentTransaction) (bool, error)

	// FindByReference loads a transaction, ErrTransactionNotFound if absent
	FindByReference(ctx context.Context, reference string) (*PaymentTransaction, error)

	// Save updates a transaction with an optimistic status guard: the write
	// only lands if the stored status still permits the transition
	Save(ctx context.Context, tx *PaymentTransaction) error
}

// UsageCounterRepository persists per-period usage counters
type UsageCounterRepository interface {
	// EnsureCounter inserts a zero counter for the period if none exists.
	// Concurrent callers all succeed; exactly one row results.
	EnsureCounter(ctx context.Context, counter *UsageCounter) error

	// IncrementWithinLimit atomically adds amount to the counter for
	// (userID, key, periodStart) only if the result stays at or under
	// ceiling. Returns (false, nil) when the increment would exceed it,
	// (false, ErrNotFound) when no counter row exists for the period.
	// A negative ceiling means unlimited.
	IncrementWithinLimit(ctx context.Context, userID uuid.UUID, key ResourceKey, periodStart time.Time, amount, ceiling int64) (bool, error)

	// FindCurrent loads the counter whose period contains now,
	// shared.ErrNotFound if none exists yet
	FindCurrent(ctx context.Context, userID uuid.UUID, key ResourceKey, periodStart time.Time) (*UsageCounter, error)

	// FindAllCurrent loads all of a user's counters for the given period
	// starts, for the usage summary read model
	FindAllCurrent(ctx context.Context, userID uuid.UUID) ([]*UsageCounter, error)
}
