package persistence

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/jobdeck/backend/internal/domain/billing"
	"github.com/jobdeck/backend/internal/domain/shared"
)

// GormUsageCounterRepository implements billing.UsageCounterRepository.
// The quota invariant lives in one guarded UPDATE: the increment only
// lands when the resulting count stays at or under the ceiling, so of N
// concurrent attempts against capacity C exactly min(N, C) succeed.
type GormUsageCounterRepository struct {
	db *gorm.DB
}

// NewGormUsageCounterRepository creates a new usage counter repository
func NewGormUsageCounterRepository(db *gorm.DB) *GormUsageCounterRepository {
	return &GormUsageCounterRepository{db: db}
}

// EnsureCounter inserts a zero counter for the period if none exists.
// ON CONFLICT DO NOTHING on the (user, resource, period start) index
// lets concurrent callers all pass with exactly one row created.
func (r *GormUsageCounterRepository) EnsureCounter(ctx context.Context, counter *billing.UsageCounter) error {
	return r.db.WithContext(ctx).
		Clauses(clause.OnConflict{
			Columns: []clause.Column{
				{Name: "user_id"}, {Name: "resource_key"}, {Name: "period_start"},
			},
			DoNothing: true,
		}).
		Create(counter).Error
}

// IncrementWithinLimit atomically adds amount to the counter, guarded so
// the result never exceeds the ceiling. A negative ceiling is unlimited.
func (r *GormUsageCounterRepository) IncrementWithinLimit(ctx context.Context, userID uuid.UUID, key billing.ResourceKey, periodStart time.Time, amount, ceiling int64) (bool, error) {
	query := r.db.WithContext(ctx).
		Model(&billing.UsageCounter{}).
		Where("user_id = ? AND resource_key = ? AND period_start = ?", userID, key, periodStart)

	if ceiling >= 0 {
		query = query.Where("count + ? <= ?", amount, ceiling)
	}

	result := query.Updates(map[string]any{
		"count":      gorm.Expr("count + ?", amount),
		"updated_at": time.Now(),
	})
	if result.Error != nil {
		return false, result.Error
	}
	if result.RowsAffected > 0 {
		return true, nil
	}

	// Distinguish "ceiling reached" from "no counter row yet"
	var count int64
	if err := r.db.WithContext(ctx).
		Model(&billing.UsageCounter{}).
		Where("user_id = ? AND resource_key = ? AND period_start = ?", userID, key, periodStart).
		Count(&count).Error; err != nil {
		return false, err
	}
	if count == 0 {
		return false, shared.ErrNotFound
	}
	return false, nil
}

// FindCurrent loads the counter for the period
func (r *GormUsageCounterRepository) FindCurrent(ctx context.Context, userID uuid.UUID, key billing.ResourceKey, periodStart time.Time) (*billing.UsageCounter, error) {
	var counter billing.UsageCounter
	if err := r.db.WithContext(ctx).
		First(&counter, "user_id = ? AND resource_key = ? AND period_start = ?", userID, key, periodStart).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, shared.ErrNotFound
		}
		return nil, err
	}
	return &counter, nil
}

// FindAllCurrent loads all counters whose period contains now, for the
// usage summary read model
func (r *GormUsageCounterRepository) FindAllCurrent(ctx context.Context, userID uuid.UUID) ([]*billing.UsageCounter, error) {
	now := time.Now().UTC()
	var counters []*billing.UsageCounter
	if err := r.db.WithContext(ctx).
		Where("user_id = ? AND period_start <= ? AND period_end >= ?", userID, now, now).
		Order("resource_key ASC").
		Find(&counters).Error; err != nil {
		return nil, err
	}
	return counters, nil
}

var _ billing.UsageCounterRepository = (*GormUsageCounterRepository)(nil)
