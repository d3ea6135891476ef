package integration

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jobdeck/backend/internal/domain/billing"
	"github.com/jobdeck/backend/internal/domain/shared"
	"github.com/jobdeck/backend/internal/infrastructure/persistence"
)

func proPlan() *billing.Plan {
	return &billing.Plan{
		ID:       "pro-monthly",
		Name:     "Pro",
		Cycle:    billing.BillingCycleMonthly,
		Price:    decimal.RequireFromString("19.99"),
		Currency: "USD",
		Ceilings: map[billing.ResourceKey]billing.Ceiling{
			billing.ResourceJobApplications: {Limit: -1, Period: billing.ResetPeriodMonthly},
		},
	}
}

// Twenty concurrent attempts against a capacity of five must grant
// exactly five, enforced by the guarded UPDATE alone.
func TestQuotaIncrementUnderConcurrency(t *testing.T) {
	tdb := NewTestDB(t)
	repo := persistence.NewGormUsageCounterRepository(tdb.DB)
	ctx := context.Background()

	userID := uuid.New()
	now := time.Now().UTC()
	counter := billing.NewUsageCounter(userID, billing.ResourceAIRecommendations, billing.ResetPeriodDaily, now)
	require.NoError(t, repo.EnsureCounter(ctx, counter))

	const (
		attempts = 20
		ceiling  = 5
	)

	var granted atomic.Int64
	var wg sync.WaitGroup
	for i := 0; i < attempts; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			ok, err := repo.IncrementWithinLimit(ctx,
				userID, billing.ResourceAIRecommendations, counter.PeriodStart, 1, ceiling)
			assert.NoError(t, err)
			if ok {
				granted.Add(1)
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, int64(ceiling), granted.Load())

	stored, err := repo.FindCurrent(ctx, userID, billing.ResourceAIRecommendations, counter.PeriodStart)
	require.NoError(t, err)
	assert.Equal(t, int64(ceiling), stored.Count)
}

// Concurrent inserts of the same checkout reference must produce exactly
// one row; every other attempt reports "already present" without error.
func TestPaymentReferenceIdempotency(t *testing.T) {
	tdb := NewTestDB(t)
	repo := persistence.NewGormPaymentTransactionRepository(tdb.DB)
	ctx := context.Background()

	userID := uuid.New()

	var created atomic.Int64
	var wg sync.WaitGroup
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			tx, err := billing.NewPaymentTransaction("JD_race_ref", userID, "pro-monthly", 1999, "USD")
			assert.NoError(t, err)
			ok, err := repo.CreateIfAbsent(ctx, tx)
			assert.NoError(t, err)
			if ok {
				created.Add(1)
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, int64(1), created.Load())

	stored, err := repo.FindByReference(ctx, "JD_race_ref")
	require.NoError(t, err)
	assert.Equal(t, billing.TransactionStatusPending, stored.Status)
}

// The partial unique index allows only one active subscription per user,
// regardless of how many terminal ones accumulate.
func TestOneActiveSubscriptionPerUser(t *testing.T) {
	tdb := NewTestDB(t)
	repo := persistence.NewGormSubscriptionRepository(tdb.DB)
	ctx := context.Background()

	userID := uuid.New()
	now := time.Now().UTC()

	first, err := billing.NewSubscription(userID, proPlan(), "CUS_1", "SUB_1", now)
	require.NoError(t, err)
	require.NoError(t, repo.Create(ctx, first))

	second, err := billing.NewSubscription(userID, proPlan(), "CUS_1", "SUB_2", now)
	require.NoError(t, err)
	err = repo.Create(ctx, second)
	assert.ErrorIs(t, err, shared.ErrAlreadyExists)

	// A cancelled subscription frees the slot
	require.NoError(t, first.Cancel("switching plans", now))
	require.NoError(t, repo.Save(ctx, first))

	third, err := billing.NewSubscription(userID, proPlan(), "CUS_1", "SUB_3", now)
	require.NoError(t, err)
	assert.NoError(t, repo.Create(ctx, third))
}

// Two writers holding the same version must not both win
func TestOptimisticLockOnSave(t *testing.T) {
	tdb := NewTestDB(t)
	repo := persistence.NewGormSubscriptionRepository(tdb.DB)
	ctx := context.Background()

	userID := uuid.New()
	now := time.Now().UTC()
	sub, err := billing.NewSubscription(userID, proPlan(), "CUS_2", "SUB_4", now)
	require.NoError(t, err)
	require.NoError(t, repo.Create(ctx, sub))

	copyA, err := repo.FindByID(ctx, sub.ID)
	require.NoError(t, err)
	copyB, err := repo.FindByID(ctx, sub.ID)
	require.NoError(t, err)

	require.NoError(t, copyA.Suspend(now))
	require.NoError(t, repo.Save(ctx, copyA))

	require.NoError(t, copyB.Cancel("stale writer", now))
	err = repo.Save(ctx, copyB)
	assert.ErrorIs(t, err, shared.ErrConcurrencyConflict)
}
