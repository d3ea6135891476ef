package persistence

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jobdeck/backend/internal/domain/billing"
)

func newPendingTx(t *testing.T, reference string) *billing.PaymentTransaction {
	t.Helper()
	tx, err := billing.NewPaymentTransaction(reference, uuid.New(), "pro-monthly", 1999, "USD")
	require.NoError(t, err)
	return tx
}

func TestPaymentTransactionRepositoryCreateIfAbsent(t *testing.T) {
	db := setupTestDB(t)
	repo := NewGormPaymentTransactionRepository(db)
	ctx := context.Background()

	t.Run("first insert wins", func(t *testing.T) {
		created, err := repo.CreateIfAbsent(ctx, newPendingTx(t, "JD_r1"))
		require.NoError(t, err)
		assert.True(t, created)
	})

	t.Run("duplicate reference reports false without error", func(t *testing.T) {
		first := newPendingTx(t, "JD_r2")
		created, err := repo.CreateIfAbsent(ctx, first)
		require.NoError(t, err)
		require.True(t, created)

		created, err = repo.CreateIfAbsent(ctx, newPendingTx(t, "JD_r2"))
		require.NoError(t, err)
		assert.False(t, created)

		// The original row is untouched
		found, err := repo.FindByReference(ctx, "JD_r2")
		require.NoError(t, err)
		assert.Equal(t, first.ID, found.ID)
	})
}

func TestPaymentTransactionRepositoryFindByReference(t *testing.T) {
	db := setupTestDB(t)
	repo := NewGormPaymentTransactionRepository(db)
	ctx := context.Background()

	t.Run("found", func(t *testing.T) {
		tx := newPendingTx(t, "JD_r3")
		_, err := repo.CreateIfAbsent(ctx, tx)
		require.NoError(t, err)

		found, err := repo.FindByReference(ctx, "JD_r3")
		require.NoError(t, err)
		assert.Equal(t, tx.ID, found.ID)
		assert.Equal(t, billing.TransactionStatusPending, found.Status)
	})

	t.Run("missing", func(t *testing.T) {
		_, err := repo.FindByReference(ctx, "JD_missing")
		assert.ErrorIs(t, err, billing.ErrTransactionNotFound)
	})
}

func TestPaymentTransactionRepositorySave(t *testing.T) {
	db := setupTestDB(t)
	repo := NewGormPaymentTransactionRepository(db)
	ctx := context.Background()
	now := time.Now().UTC()

	t.Run("settles a pending transaction", func(t *testing.T) {
		tx := newPendingTx(t, "JD_r4")
		_, err := repo.CreateIfAbsent(ctx, tx)
		require.NoError(t, err)

		require.NoError(t, tx.MarkSuccess(`{"status":"success"}`, "card", now))
		require.NoError(t, repo.Save(ctx, tx))

		found, err := repo.FindByReference(ctx, "JD_r4")
		require.NoError(t, err)
		assert.Equal(t, billing.TransactionStatusSuccess, found.Status)
		assert.NotNil(t, found.VerifiedAt)
	})

	t.Run("lost race against the same outcome is silent", func(t *testing.T) {
		tx := newPendingTx(t, "JD_r5")
		_, err := repo.CreateIfAbsent(ctx, tx)
		require.NoError(t, err)

		webhookCopy, err := repo.FindByReference(ctx, "JD_r5")
		require.NoError(t, err)
		verifyCopy, err := repo.FindByReference(ctx, "JD_r5")
		require.NoError(t, err)

		require.NoError(t, webhookCopy.MarkSuccess("{}", "card", now))
		require.NoError(t, repo.Save(ctx, webhookCopy))

		require.NoError(t, verifyCopy.MarkSuccess("{}", "card", now))
		assert.NoError(t, repo.Save(ctx, verifyCopy))
	})

	t.Run("lost race against a different outcome is rejected", func(t *testing.T) {
		tx := newPendingTx(t, "JD_r6")
		_, err := repo.CreateIfAbsent(ctx, tx)
		require.NoError(t, err)

		successCopy, err := repo.FindByReference(ctx, "JD_r6")
		require.NoError(t, err)
		failedCopy, err := repo.FindByReference(ctx, "JD_r6")
		require.NoError(t, err)

		require.NoError(t, successCopy.MarkSuccess("{}", "card", now))
		require.NoError(t, repo.Save(ctx, successCopy))

		require.NoError(t, failedCopy.MarkFailed("{}", now))
		err = repo.Save(ctx, failedCopy)
		assert.ErrorIs(t, err, billing.ErrInvalidTransition)

		// Success is never downgraded
		found, err := repo.FindByReference(ctx, "JD_r6")
		require.NoError(t, err)
		assert.Equal(t, billing.TransactionStatusSuccess, found.Status)
	})
}
