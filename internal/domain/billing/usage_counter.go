package billing

import (
	"time"

	"github.com/google/uuid"
	"github.com/jobdeck/backend/internal/domain/shared"
)

// UsageCounter tracks consumption of one resource by one user within one
// period. The (UserID, ResourceKey, PeriodStart) tuple is unique; the
// repository's guarded increment keeps Count from ever exceeding the
// ceiling observed at increment time.
type UsageCounter struct {
	shared.BaseEntity
	UserID      uuid.UUID   `gorm:"type:uuid;not null;uniqueIndex:idx_usage_counter_period"`
	ResourceKey ResourceKey `gorm:"type:varchar(50);not null;uniqueIndex:idx_usage_counter_period"`
	Count       int64       `gorm:"not null;default:0"`
	PeriodStart time.Time   `gorm:"not null;uniqueIndex:idx_usage_counter_period"`
	PeriodEnd   time.Time   `gorm:"not null"`
}

// TableName returns the table name for GORM
func (UsageCounter) TableName() string {
	return "usage_counters"
}

// NewUsageCounter creates a zero counter for the period containing now
func NewUsageCounter(userID uuid.UUID, key ResourceKey, period ResetPeriod, now time.Time) *UsageCounter {
	start, end := PeriodBounds(period, now)
	return &UsageCounter{
		BaseEntity:  shared.NewBaseEntity(),
		UserID:      userID,
		ResourceKey: key,
		Count:       0,
		PeriodStart: start,
		PeriodEnd:   end,
	}
}

// Expired returns true once now has crossed the period end
func (c *UsageCounter) Expired(now time.Time) bool {
	return now.After(c.PeriodEnd)
}

// Remaining returns how many units are left under the given ceiling,
// or -1 for an unlimited ceiling
func (c *UsageCounter) Remaining(ceiling Ceiling) int64 {
	if ceiling.IsUnlimited() {
		return -1
	}
	remaining := ceiling.Limit - c.Count
	if remaining < 0 {
		return 0
	}
	return remaining
}

// PeriodBounds computes the UTC window containing now for a reset period.
// Daily windows are calendar days, monthly windows calendar months; the
// "never" period is a single open-ended window so lifetime counters share
// one row.
func PeriodBounds(period ResetPeriod, now time.Time) (time.Time, time.Time) {
	now = now.UTC()
	switch period {
	case ResetPeriodDaily:
		start := time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, time.UTC)
		return start, start.AddDate(0, 0, 1).Add(-time.Nanosecond)
	case ResetPeriodNever:
		start := time.Date(2000, 1, 1, 0, 0, 0, 0, time.UTC)
		end := time.Date(2100, 12, 31, 23, 59, 59, 0, time.UTC)
		return start, end
	default:
		start := time.Date(now.Year(), now.Month(), 1, 0, 0, 0, 0, time.UTC)
		return start, start.AddDate(0, 1, 0).Add(-time.Nanosecond)
	}
}
