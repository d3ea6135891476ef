package billing

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"

	"github.com/jobdeck/backend/internal/domain/billing"
)

func TestSubscriptionNotifier(t *testing.T) {
	ctx := context.Background()

	plan, err := testCatalog(t).Get("pro-monthly")
	require.NoError(t, err)
	sub, err := billing.NewSubscription(uuid.New(), plan, "CUS_n", "SUB_n", time.Now().UTC())
	require.NoError(t, err)

	t.Run("subscribes to lifecycle events", func(t *testing.T) {
		notifier := NewSubscriptionNotifier(zap.NewNop())
		assert.Equal(t, []string{
			billing.EventTypeSubscriptionStatusChanged,
			billing.EventTypeSubscriptionRenewed,
		}, notifier.EventTypes())
	})

	t.Run("status change produces one notification entry", func(t *testing.T) {
		core, recorded := observer.New(zapcore.InfoLevel)
		notifier := NewSubscriptionNotifier(zap.New(core))

		event := billing.NewSubscriptionStatusChangedEvent(sub,
			billing.SubscriptionStatusActive, billing.SubscriptionStatusSuspended)
		require.NoError(t, notifier.Handle(ctx, event))

		entries := recorded.FilterMessage("subscription status changed").All()
		require.Len(t, entries, 1)
		fields := entries[0].ContextMap()
		assert.Equal(t, sub.UserID.String(), fields["user_id"])
		assert.Equal(t, sub.ID.String(), fields["subscription_id"])
		assert.Equal(t, string(billing.SubscriptionStatusActive), fields["old_status"])
		assert.Equal(t, string(billing.SubscriptionStatusSuspended), fields["new_status"])
	})

	t.Run("renewal produces one notification entry", func(t *testing.T) {
		core, recorded := observer.New(zapcore.InfoLevel)
		notifier := NewSubscriptionNotifier(zap.New(core))

		event := billing.NewSubscriptionRenewedEvent(sub, time.Now().UTC().AddDate(0, 1, 0))
		require.NoError(t, notifier.Handle(ctx, event))

		assert.Len(t, recorded.FilterMessage("subscription renewed").All(), 1)
	})
}
