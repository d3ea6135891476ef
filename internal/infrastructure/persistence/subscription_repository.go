package persistence

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/jobdeck/backend/internal/domain/billing"
	"github.com/jobdeck/backend/internal/domain/shared"
)

// GormSubscriptionRepository implements billing.SubscriptionRepository
type GormSubscriptionRepository struct {
	db *gorm.DB
}

// NewGormSubscriptionRepository creates a new subscription repository
func NewGormSubscriptionRepository(db *gorm.DB) *GormSubscriptionRepository {
	return &GormSubscriptionRepository{db: db}
}

// FindByID finds a subscription by ID
func (r *GormSubscriptionRepository) FindByID(ctx context.Context, id uuid.UUID) (*billing.Subscription, error) {
	var sub billing.Subscription
	if err := r.db.WithContext(ctx).First(&sub, "id = ?", id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, billing.ErrSubscriptionNotFound
		}
		return nil, err
	}
	return &sub, nil
}

// FindActiveByUser returns the user's single active subscription
func (r *GormSubscriptionRepository) FindActiveByUser(ctx context.Context, userID uuid.UUID) (*billing.Subscription, error) {
	var sub billing.Subscription
	if err := r.db.WithContext(ctx).
		First(&sub, "user_id = ? AND status = ?", userID, billing.SubscriptionStatusActive).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, billing.ErrSubscriptionNotFound
		}
		return nil, err
	}
	return &sub, nil
}

// FindLatestByUser returns the user's most recent subscription in any state
func (r *GormSubscriptionRepository) FindLatestByUser(ctx context.Context, userID uuid.UUID) (*billing.Subscription, error) {
	var sub billing.Subscription
	if err := r.db.WithContext(ctx).
		Where("user_id = ?", userID).
		Order("created_at DESC").
		First(&sub).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, billing.ErrSubscriptionNotFound
		}
		return nil, err
	}
	return &sub, nil
}

// FindBySubscriptionCode resolves the provider's subscription handle
func (r *GormSubscriptionRepository) FindBySubscriptionCode(ctx context.Context, code string) (*billing.Subscription, error) {
	return r.findByCode(ctx, "subscription_code = ?", code)
}

// FindByCustomerCode resolves the provider's customer handle. When a user
// has several historic subscriptions under one customer, the most recent
// non-terminal one wins.
func (r *GormSubscriptionRepository) FindByCustomerCode(ctx context.Context, code string) (*billing.Subscription, error) {
	return r.findByCode(ctx, "customer_code = ?", code)
}

func (r *GormSubscriptionRepository) findByCode(ctx context.Context, cond, code string) (*billing.Subscription, error) {
	if code == "" {
		return nil, billing.ErrSubscriptionNotFound
	}
	var sub billing.Subscription
	if err := r.db.WithContext(ctx).
		Where(cond, code).
		Where("status NOT IN ?", []billing.SubscriptionStatus{
			billing.SubscriptionStatusCancelled,
			billing.SubscriptionStatusExpired,
		}).
		Order("created_at DESC").
		First(&sub).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, billing.ErrSubscriptionNotFound
		}
		return nil, err
	}
	return &sub, nil
}

// FindSuspendedBefore lists subscriptions suspended strictly before the
// cutoff. Strict so that a subscription suspended exactly one recovery
// window ago is still recoverable, never swept.
func (r *GormSubscriptionRepository) FindSuspendedBefore(ctx context.Context, cutoff time.Time, limit int) ([]*billing.Subscription, error) {
	var subs []*billing.Subscription
	if err := r.db.WithContext(ctx).
		Where("status = ? AND suspended_at < ?", billing.SubscriptionStatusSuspended, cutoff).
		Order("suspended_at ASC").
		Limit(limit).
		Find(&subs).Error; err != nil {
		return nil, err
	}
	return subs, nil
}

// Create inserts a new subscription
func (r *GormSubscriptionRepository) Create(ctx context.Context, sub *billing.Subscription) error {
	if err := r.db.WithContext(ctx).Create(sub).Error; err != nil {
		if isUniqueViolation(err) {
			return shared.ErrAlreadyExists
		}
		return err
	}
	return nil
}

// Save updates a subscription with an optimistic version check. The
// aggregate increments Version on every mutation, so the row must still
// hold the previous version for the write to land.
func (r *GormSubscriptionRepository) Save(ctx context.Context, sub *billing.Subscription) error {
	result := r.db.WithContext(ctx).
		Model(sub).
		Where("id = ? AND version = ?", sub.ID, sub.Version-1).
		Select("*").
		Updates(sub)

	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return shared.ErrConcurrencyConflict
	}
	return nil
}

var _ billing.SubscriptionRepository = (*GormSubscriptionRepository)(nil)
