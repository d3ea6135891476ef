package billing

import (
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPeriodBounds(t *testing.T) {
	t.Run("daily window is the calendar day in UTC", func(t *testing.T) {
		now := time.Date(2026, 8, 15, 23, 30, 0, 0, time.UTC)
		start, end := PeriodBounds(ResetPeriodDaily, now)

		assert.Equal(t, time.Date(2026, 8, 15, 0, 0, 0, 0, time.UTC), start)
		assert.True(t, end.Before(time.Date(2026, 8, 16, 0, 0, 0, 0, time.UTC)))
		assert.True(t, end.After(now))
	})

	t.Run("monthly window is the calendar month in UTC", func(t *testing.T) {
		now := time.Date(2026, 2, 28, 12, 0, 0, 0, time.UTC)
		start, end := PeriodBounds(ResetPeriodMonthly, now)

		assert.Equal(t, time.Date(2026, 2, 1, 0, 0, 0, 0, time.UTC), start)
		assert.True(t, end.Before(time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)))
	})

	t.Run("non-UTC input normalizes to the UTC day", func(t *testing.T) {
		loc := time.FixedZone("UTC+9", 9*3600)
		// 02:00 on Aug 16 in UTC+9 is still Aug 15 in UTC
		now := time.Date(2026, 8, 16, 2, 0, 0, 0, loc)
		start, _ := PeriodBounds(ResetPeriodDaily, now)
		assert.Equal(t, time.Date(2026, 8, 15, 0, 0, 0, 0, time.UTC), start)
	})

	t.Run("never shares one fixed window", func(t *testing.T) {
		s1, _ := PeriodBounds(ResetPeriodNever, time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC))
		s2, _ := PeriodBounds(ResetPeriodNever, time.Date(2030, 6, 1, 0, 0, 0, 0, time.UTC))
		assert.Equal(t, s1, s2)
	})
}

func TestNewUsageCounter(t *testing.T) {
	now := time.Date(2026, 8, 15, 10, 0, 0, 0, time.UTC)
	counter := NewUsageCounter(uuid.New(), ResourceJobApplications, ResetPeriodMonthly, now)

	assert.Equal(t, int64(0), counter.Count)
	assert.Equal(t, time.Date(2026, 8, 1, 0, 0, 0, 0, time.UTC), counter.PeriodStart)
	assert.False(t, counter.Expired(now))
}

func TestUsageCounterExpired(t *testing.T) {
	now := time.Date(2026, 8, 15, 10, 0, 0, 0, time.UTC)
	counter := NewUsageCounter(uuid.New(), ResourceAIRecommendations, ResetPeriodDaily, now)

	t.Run("within the period", func(t *testing.T) {
		assert.False(t, counter.Expired(now.Add(13 * time.Hour)))
	})

	t.Run("after the period end", func(t *testing.T) {
		assert.True(t, counter.Expired(time.Date(2026, 8, 16, 0, 0, 0, 0, time.UTC)))
	})
}

func TestUsageCounterRemaining(t *testing.T) {
	now := time.Date(2026, 8, 15, 10, 0, 0, 0, time.UTC)
	counter := NewUsageCounter(uuid.New(), ResourceJobApplications, ResetPeriodMonthly, now)

	t.Run("full allowance when untouched", func(t *testing.T) {
		assert.Equal(t, int64(20), counter.Remaining(Ceiling{Limit: 20, Period: ResetPeriodMonthly}))
	})

	t.Run("partially consumed", func(t *testing.T) {
		counter.Count = 15
		assert.Equal(t, int64(5), counter.Remaining(Ceiling{Limit: 20, Period: ResetPeriodMonthly}))
	})

	t.Run("never negative", func(t *testing.T) {
		counter.Count = 25
		assert.Equal(t, int64(0), counter.Remaining(Ceiling{Limit: 20, Period: ResetPeriodMonthly}))
	})

	t.Run("unlimited reports -1", func(t *testing.T) {
		counter.Count = 1_000_000
		assert.Equal(t, int64(-1), counter.Remaining(Ceiling{Limit: -1, Period: ResetPeriodMonthly}))
	})
}

func TestUsageCounterIndexTuple(t *testing.T) {
	// Two counters for the same user and resource in different months must
	// carry distinct PeriodStart values, otherwise the unique index would
	// collapse them into one row.
	userID := uuid.New()
	jan := NewUsageCounter(userID, ResourceJobAlerts, ResetPeriodMonthly, time.Date(2026, 1, 15, 0, 0, 0, 0, time.UTC))
	feb := NewUsageCounter(userID, ResourceJobAlerts, ResetPeriodMonthly, time.Date(2026, 2, 15, 0, 0, 0, 0, time.UTC))

	require.NotEqual(t, jan.PeriodStart, feb.PeriodStart)
}
