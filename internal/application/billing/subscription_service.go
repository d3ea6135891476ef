package billing

import (
	"context"
	"errors"
	"fmt"
	"hash/fnv"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/jobdeck/backend/internal/domain/billing"
	"github.com/jobdeck/backend/internal/domain/shared"
	"github.com/jobdeck/backend/internal/infrastructure/logger"
)

// saveAttempts bounds the reload-and-retry loop on optimistic lock conflicts
const saveAttempts = 3

// lockStripes is the size of the per-user mutex pool. Webhook delivery and
// checkout verification can race on the same user; the stripe serializes
// them in-process, the version column serializes across instances.
const lockStripes = 64

// CheckoutInput starts a paid-plan checkout for a user
type CheckoutInput struct {
	UserID uuid.UUID
	PlanID string
	Email  string
}

// CheckoutResult carries the provider redirect for the client
type CheckoutResult struct {
	Reference   string `json:"reference"`
	RedirectURL string `json:"redirect_url"`
	AccessCode  string `json:"access_code,omitempty"`
}

// VerifyResult reports the settled state of a checkout attempt
type VerifyResult struct {
	Reference      string                    `json:"reference"`
	Status         billing.TransactionStatus `json:"status"`
	SubscriptionID *uuid.UUID                `json:"subscription_id,omitempty"`
}

// ForceStatusInput is an audited admin override of a subscription's state
type ForceStatusInput struct {
	SubscriptionID uuid.UUID
	Target         billing.SubscriptionStatus
	ActorID        uuid.UUID
	Reason         string
}

// SubscriptionServiceConfig contains configuration for SubscriptionService
type SubscriptionServiceConfig struct {
	RenewalGrace   time.Duration
	RecoveryWindow time.Duration
	SweepBatchSize int
}

// SubscriptionService owns the subscription state machine. All transitions
// funnel through ApplyGatewayEvent or the explicit commands below; nothing
// else mutates subscription rows.
type SubscriptionService struct {
	subs     billing.SubscriptionRepository
	txs      billing.PaymentTransactionRepository
	gateway  billing.PaymentGateway
	catalog  *billing.PlanCatalog
	eventBus shared.EventBus
	logger   *zap.Logger
	security *zap.Logger

	renewalGrace   time.Duration
	recoveryWindow time.Duration
	sweepBatchSize int

	now   func() time.Time
	locks [lockStripes]sync.Mutex
}

// NewSubscriptionService creates a new SubscriptionService
func NewSubscriptionService(
	subs billing.SubscriptionRepository,
	txs billing.PaymentTransactionRepository,
	gateway billing.PaymentGateway,
	catalog *billing.PlanCatalog,
	eventBus shared.EventBus,
	log *zap.Logger,
	cfg SubscriptionServiceConfig,
) *SubscriptionService {
	if cfg.SweepBatchSize <= 0 {
		cfg.SweepBatchSize = 100
	}
	return &SubscriptionService{
		subs:           subs,
		txs:            txs,
		gateway:        gateway,
		catalog:        catalog,
		eventBus:       eventBus,
		logger:         log,
		security:       logger.Security(log),
		renewalGrace:   cfg.RenewalGrace,
		recoveryWindow: cfg.RecoveryWindow,
		sweepBatchSize: cfg.SweepBatchSize,
		now:            func() time.Time { return time.Now().UTC() },
	}
}

// Plans returns the plan catalog in configuration order
func (s *SubscriptionService) Plans() []*billing.Plan {
	return s.catalog.All()
}

// Subscription returns the user's most recent subscription in any state
func (s *SubscriptionService) Subscription(ctx context.Context, userID uuid.UUID) (*billing.Subscription, error) {
	return s.subs.FindLatestByUser(ctx, userID)
}

// Checkout creates a pending payment transaction and a provider checkout
// session for it. The transaction row exists before the provider is called,
// so a webhook arriving ahead of our own HTTP response still finds it.
func (s *SubscriptionService) Checkout(ctx context.Context, input CheckoutInput) (*CheckoutResult, error) {
	plan, err := s.catalog.Get(input.PlanID)
	if err != nil {
		return nil, err
	}
	amount := plan.PriceMinorUnits()
	if amount <= 0 {
		// Free plans are the default entitlement; there is nothing to buy
		return nil, billing.ErrInvalidAmount
	}

	reference := newCheckoutReference()
	tx, err := billing.NewPaymentTransaction(reference, input.UserID, plan.ID, amount, plan.Currency)
	if err != nil {
		return nil, err
	}
	created, err := s.txs.CreateIfAbsent(ctx, tx)
	if err != nil {
		return nil, fmt.Errorf("failed to create payment transaction: %w", err)
	}
	if !created {
		return nil, shared.ErrAlreadyExists
	}

	resp, err := s.gateway.InitializeTransaction(ctx, billing.InitializeRequest{
		UserID:    input.UserID,
		PlanID:    plan.ID,
		Email:     input.Email,
		Amount:    amount,
		Currency:  plan.Currency,
		Reference: reference,
	})
	if err != nil {
		// The pending row stays behind; the provider never saw the
		// reference, so nothing can settle it
		s.logger.Error("checkout initialization failed",
			zap.String("reference", reference),
			zap.String("plan_id", plan.ID),
			zap.Error(err))
		return nil, err
	}

	s.logger.Info("checkout initialized",
		zap.String("reference", reference),
		zap.String("user_id", input.UserID.String()),
		zap.String("plan_id", plan.ID))

	return &CheckoutResult{
		Reference:   resp.Reference,
		RedirectURL: resp.RedirectURL,
		AccessCode:  resp.AccessCode,
	}, nil
}

// VerifyCheckout asks the provider for a transaction's outcome and applies
// it. Safe to call any number of times; a settled transaction short-circuits
// without touching the provider.
func (s *SubscriptionService) VerifyCheckout(ctx context.Context, reference string) (*VerifyResult, error) {
	tx, err := s.txs.FindByReference(ctx, reference)
	if err != nil {
		return nil, err
	}
	if tx.IsSettled() {
		return verifyResultFrom(tx), nil
	}

	resp, err := s.gateway.VerifyTransaction(ctx, reference)
	if err != nil {
		return nil, err
	}
	if resp.Kind == billing.EventKindUnknown {
		// Still pending at the provider
		return verifyResultFrom(tx), nil
	}

	event := &billing.WebhookEvent{
		Kind:         resp.Kind,
		Reference:    resp.Reference,
		CustomerCode: resp.CustomerCode,
		Amount:       resp.Amount,
		Currency:     resp.Currency,
		Channel:      resp.Channel,
		PaidAt:       resp.PaidAt,
		Raw:          resp.Raw,
		ReceivedAt:   s.now(),
	}
	if err := s.ApplyGatewayEvent(ctx, event); err != nil {
		return nil, err
	}

	tx, err = s.txs.FindByReference(ctx, reference)
	if err != nil {
		return nil, err
	}
	return verifyResultFrom(tx), nil
}

// ApplyGatewayEvent applies a verified provider event to the engine's state.
// Events for unknown references or subscriptions are acknowledged, not
// failed: the provider retries failures, and retrying cannot make an
// unknown entity known.
func (s *SubscriptionService) ApplyGatewayEvent(ctx context.Context, event *billing.WebhookEvent) error {
	switch event.Kind {
	case billing.EventKindPaymentSuccess, billing.EventKindPaymentFailed, billing.EventKindPaymentAbandoned:
		return s.applyCheckoutOutcome(ctx, event)
	case billing.EventKindRenewalSuccess, billing.EventKindPaymentRecovered:
		return s.applyRenewalSuccess(ctx, event)
	case billing.EventKindRenewalFailed:
		return s.applyRenewalFailure(ctx, event)
	default:
		s.logger.Debug("ignoring unhandled gateway event",
			zap.String("provider_type", event.ProviderType))
		return nil
	}
}

// Cancel terminates the user's active subscription at their request
func (s *SubscriptionService) Cancel(ctx context.Context, userID uuid.UUID, reason string) error {
	mu := s.lockFor(userID)
	mu.Lock()
	defer mu.Unlock()

	sub, err := s.subs.FindActiveByUser(ctx, userID)
	if err != nil {
		return err
	}
	now := s.now()
	err = s.mutateSubscription(ctx, sub, func(sub *billing.Subscription) (bool, error) {
		if err := sub.Cancel(reason, now); err != nil {
			return false, err
		}
		return true, nil
	})
	if err != nil {
		return err
	}

	s.logger.Info("subscription cancelled",
		zap.String("subscription_id", sub.ID.String()),
		zap.String("user_id", userID.String()))
	return nil
}

// ForceStatus moves a subscription to an arbitrary non-terminal-origin state.
// Every call lands in the security log with the acting admin.
func (s *SubscriptionService) ForceStatus(ctx context.Context, input ForceStatusInput) error {
	sub, err := s.subs.FindByID(ctx, input.SubscriptionID)
	if err != nil {
		return err
	}

	mu := s.lockFor(sub.UserID)
	mu.Lock()
	defer mu.Unlock()

	oldStatus := sub.Status
	now := s.now()
	err = s.mutateSubscription(ctx, sub, func(sub *billing.Subscription) (bool, error) {
		if err := sub.ForceStatus(input.Target, now); err != nil {
			return false, err
		}
		return true, nil
	})
	if err != nil {
		return err
	}

	s.security.Warn("subscription status forced",
		zap.String("subscription_id", input.SubscriptionID.String()),
		zap.String("user_id", sub.UserID.String()),
		zap.String("actor_id", input.ActorID.String()),
		zap.String("from", string(oldStatus)),
		zap.String("to", string(input.Target)),
		zap.String("reason", input.Reason))
	return nil
}

// ExpireOverdueSuspended moves subscriptions whose recovery window has
// elapsed to expired. Returns the number expired; called periodically by
// the sweep loop.
func (s *SubscriptionService) ExpireOverdueSuspended(ctx context.Context) (int, error) {
	cutoff := s.now().Add(-s.recoveryWindow)
	overdue, err := s.subs.FindSuspendedBefore(ctx, cutoff, s.sweepBatchSize)
	if err != nil {
		return 0, err
	}

	expired := 0
	for _, sub := range overdue {
		mu := s.lockFor(sub.UserID)
		mu.Lock()
		err := s.mutateSubscription(ctx, sub, func(sub *billing.Subscription) (bool, error) {
			if sub.Status != billing.SubscriptionStatusSuspended {
				// Recovered or forced elsewhere since the query ran
				return false, nil
			}
			if err := sub.Expire(); err != nil {
				return false, err
			}
			return true, nil
		})
		mu.Unlock()
		if err != nil {
			s.logger.Error("failed to expire suspended subscription",
				zap.String("subscription_id", sub.ID.String()),
				zap.Error(err))
			continue
		}
		if sub.Status == billing.SubscriptionStatusExpired {
			expired++
		}
	}

	if expired > 0 {
		s.logger.Info("expired overdue suspended subscriptions", zap.Int("count", expired))
	}
	return expired, nil
}

// applyCheckoutOutcome settles the referenced transaction and, on success,
// activates or recovers the payer's subscription
func (s *SubscriptionService) applyCheckoutOutcome(ctx context.Context, event *billing.WebhookEvent) error {
	tx, err := s.txs.FindByReference(ctx, event.Reference)
	if err != nil {
		if errors.Is(err, billing.ErrTransactionNotFound) {
			s.logger.Warn("payment event for unknown reference, acknowledging",
				zap.String("reference", event.Reference),
				zap.String("provider_type", event.ProviderType))
			return nil
		}
		return err
	}

	kind := event.Kind
	if kind == billing.EventKindPaymentSuccess && !s.amountMatches(tx, event) {
		s.security.Warn("payment amount mismatch, settling as failed",
			zap.String("reference", tx.Reference),
			zap.Int64("expected_amount", tx.Amount),
			zap.Int64("received_amount", event.Amount),
			zap.String("expected_currency", tx.Currency),
			zap.String("received_currency", event.Currency))
		kind = billing.EventKindPaymentFailed
	}

	now := s.now()
	paidAt := now
	if event.PaidAt != nil {
		paidAt = *event.PaidAt
	}

	switch kind {
	case billing.EventKindPaymentSuccess:
		err = tx.MarkSuccess(string(event.Raw), event.Channel, paidAt)
	case billing.EventKindPaymentFailed:
		err = tx.MarkFailed(string(event.Raw), now)
	case billing.EventKindPaymentAbandoned:
		err = tx.MarkAbandoned(now)
	}
	if err != nil {
		if errors.Is(err, billing.ErrInvalidTransition) {
			// Already settled differently; first outcome stands
			s.logger.Warn("conflicting settlement for settled transaction, acknowledging",
				zap.String("reference", tx.Reference),
				zap.String("status", string(tx.Status)))
			return nil
		}
		return err
	}

	if err := s.txs.Save(ctx, tx); err != nil {
		if errors.Is(err, billing.ErrInvalidTransition) {
			s.logger.Warn("lost settlement race to a different outcome, acknowledging",
				zap.String("reference", tx.Reference))
			return nil
		}
		return err
	}

	if kind != billing.EventKindPaymentSuccess {
		return nil
	}

	mu := s.lockFor(tx.UserID)
	mu.Lock()
	defer mu.Unlock()
	return s.activateFromPayment(ctx, tx, event)
}

// activateFromPayment grants the subscription a successful checkout paid
// for: recover a suspended one inside its window, otherwise start fresh
func (s *SubscriptionService) activateFromPayment(ctx context.Context, tx *billing.PaymentTransaction, event *billing.WebhookEvent) error {
	now := s.now()

	if active, err := s.subs.FindActiveByUser(ctx, tx.UserID); err == nil {
		// Replayed success or double payment; nothing to activate
		s.attachTransaction(ctx, tx, active.ID)
		return nil
	} else if !errors.Is(err, billing.ErrSubscriptionNotFound) {
		return err
	}

	latest, err := s.subs.FindLatestByUser(ctx, tx.UserID)
	if err != nil && !errors.Is(err, billing.ErrSubscriptionNotFound) {
		return err
	}
	if err == nil && latest.Status == billing.SubscriptionStatusSuspended {
		recoverErr := s.mutateSubscription(ctx, latest, func(sub *billing.Subscription) (bool, error) {
			if sub.Status != billing.SubscriptionStatusSuspended {
				return false, nil
			}
			if err := sub.Recover(now, s.recoveryWindow); err != nil {
				return false, err
			}
			return true, nil
		})
		if recoverErr == nil {
			if latest.Status == billing.SubscriptionStatusActive {
				s.attachTransaction(ctx, tx, latest.ID)
				s.logger.Info("subscription recovered by payment",
					zap.String("subscription_id", latest.ID.String()),
					zap.String("reference", tx.Reference))
			}
			return nil
		}
		if !errors.Is(recoverErr, billing.ErrRecoveryWindowClosed) {
			return recoverErr
		}
		// The window closed between suspension and this payment; the old
		// subscription expires and the payment funds a fresh one
		if err := s.mutateSubscription(ctx, latest, func(sub *billing.Subscription) (bool, error) {
			if sub.Status != billing.SubscriptionStatusSuspended {
				return false, nil
			}
			if err := sub.Expire(); err != nil {
				return false, err
			}
			return true, nil
		}); err != nil {
			return err
		}
	}

	plan, err := s.catalog.Get(tx.PlanID)
	if err != nil {
		return err
	}
	sub, err := billing.NewSubscription(tx.UserID, plan, event.CustomerCode, event.SubscriptionCode, now)
	if err != nil {
		return err
	}
	if err := s.subs.Create(ctx, sub); err != nil {
		if errors.Is(err, shared.ErrAlreadyExists) {
			// A concurrent activation won; the unique index holds the line
			s.logger.Warn("concurrent activation detected, acknowledging",
				zap.String("user_id", tx.UserID.String()))
			return nil
		}
		return err
	}
	s.publishEvents(ctx, sub)
	s.attachTransaction(ctx, tx, sub.ID)

	s.logger.Info("subscription activated",
		zap.String("subscription_id", sub.ID.String()),
		zap.String("user_id", tx.UserID.String()),
		zap.String("plan_id", plan.ID),
		zap.String("reference", tx.Reference))
	return nil
}

// applyRenewalSuccess advances an active subscription's renewal date or
// recovers a suspended one
func (s *SubscriptionService) applyRenewalSuccess(ctx context.Context, event *billing.WebhookEvent) error {
	sub, err := s.resolveSubscription(ctx, event)
	if err != nil || sub == nil {
		return err
	}

	mu := s.lockFor(sub.UserID)
	mu.Lock()
	defer mu.Unlock()

	now := s.now()
	err = s.mutateSubscription(ctx, sub, func(sub *billing.Subscription) (bool, error) {
		switch sub.Status {
		case billing.SubscriptionStatusActive:
			if err := sub.Renew(now, s.renewalGrace); err != nil {
				// A renewal not yet due is a stale replay, not a failure
				if errors.Is(err, billing.ErrInvalidTransition) {
					return false, nil
				}
				return false, err
			}
			return true, nil
		case billing.SubscriptionStatusSuspended:
			if err := sub.Recover(now, s.recoveryWindow); err != nil {
				if errors.Is(err, billing.ErrRecoveryWindowClosed) {
					if expireErr := sub.Expire(); expireErr != nil {
						return false, expireErr
					}
					return true, nil
				}
				return false, err
			}
			return true, nil
		default:
			// Terminal; the provider-side subscription is already dead here
			return false, nil
		}
	})
	return err
}

// applyRenewalFailure suspends the subscription and starts its recovery window
func (s *SubscriptionService) applyRenewalFailure(ctx context.Context, event *billing.WebhookEvent) error {
	sub, err := s.resolveSubscription(ctx, event)
	if err != nil || sub == nil {
		return err
	}

	mu := s.lockFor(sub.UserID)
	mu.Lock()
	defer mu.Unlock()

	now := s.now()
	err = s.mutateSubscription(ctx, sub, func(sub *billing.Subscription) (bool, error) {
		if sub.Status != billing.SubscriptionStatusActive {
			// Already suspended or terminal; replays change nothing
			return false, nil
		}
		if err := sub.Suspend(now); err != nil {
			return false, err
		}
		return true, nil
	})
	if err != nil {
		return err
	}

	if sub.Status == billing.SubscriptionStatusSuspended {
		s.logger.Warn("subscription suspended after failed renewal",
			zap.String("subscription_id", sub.ID.String()),
			zap.String("user_id", sub.UserID.String()),
			zap.Timep("recovery_deadline", sub.RecoveryDeadline(s.recoveryWindow)))
	}
	return nil
}

// resolveSubscription finds the subscription a renewal event refers to.
// Returns (nil, nil) when no match exists; such events are acknowledged.
func (s *SubscriptionService) resolveSubscription(ctx context.Context, event *billing.WebhookEvent) (*billing.Subscription, error) {
	if event.SubscriptionCode != "" {
		sub, err := s.subs.FindBySubscriptionCode(ctx, event.SubscriptionCode)
		if err == nil {
			return sub, nil
		}
		if !errors.Is(err, billing.ErrSubscriptionNotFound) {
			return nil, err
		}
	}
	if event.CustomerCode != "" {
		sub, err := s.subs.FindByCustomerCode(ctx, event.CustomerCode)
		if err == nil {
			return sub, nil
		}
		if !errors.Is(err, billing.ErrSubscriptionNotFound) {
			return nil, err
		}
	}

	s.logger.Warn("renewal event for unknown subscription, acknowledging",
		zap.String("provider_type", event.ProviderType),
		zap.String("subscription_code", event.SubscriptionCode),
		zap.String("customer_code", event.CustomerCode))
	return nil, nil
}

// mutateSubscription applies fn and saves, reloading and retrying when
// another instance won the version race. fn reporting (false, nil) means
// the reloaded state needs no change.
func (s *SubscriptionService) mutateSubscription(ctx context.Context, sub *billing.Subscription, fn func(*billing.Subscription) (bool, error)) error {
	for attempt := 0; attempt < saveAttempts; attempt++ {
		changed, err := fn(sub)
		if err != nil {
			return err
		}
		if !changed {
			return nil
		}

		err = s.subs.Save(ctx, sub)
		if err == nil {
			s.publishEvents(ctx, sub)
			return nil
		}
		if !errors.Is(err, shared.ErrConcurrencyConflict) {
			return err
		}

		fresh, loadErr := s.subs.FindByID(ctx, sub.ID)
		if loadErr != nil {
			return loadErr
		}
		*sub = *fresh
	}
	return shared.ErrConcurrencyConflict
}

func (s *SubscriptionService) attachTransaction(ctx context.Context, tx *billing.PaymentTransaction, subscriptionID uuid.UUID) {
	if tx.SubscriptionID != nil {
		return
	}
	tx.AttachSubscription(subscriptionID)
	if err := s.txs.Save(ctx, tx); err != nil {
		s.logger.Warn("failed to link transaction to subscription",
			zap.String("reference", tx.Reference),
			zap.Error(err))
	}
}

func (s *SubscriptionService) publishEvents(ctx context.Context, sub *billing.Subscription) {
	if s.eventBus == nil {
		return
	}
	events := sub.GetDomainEvents()
	if len(events) == 0 {
		return
	}
	if err := s.eventBus.Publish(ctx, events...); err != nil {
		s.logger.Error("failed to publish subscription events",
			zap.String("subscription_id", sub.ID.String()),
			zap.Error(err))
	}
	sub.ClearDomainEvents()
}

func (s *SubscriptionService) amountMatches(tx *billing.PaymentTransaction, event *billing.WebhookEvent) bool {
	if event.Amount > 0 && event.Amount != tx.Amount {
		return false
	}
	if event.Currency != "" && !strings.EqualFold(event.Currency, tx.Currency) {
		return false
	}
	return true
}

func (s *SubscriptionService) lockFor(userID uuid.UUID) *sync.Mutex {
	h := fnv.New32a()
	h.Write(userID[:])
	return &s.locks[h.Sum32()%lockStripes]
}

func verifyResultFrom(tx *billing.PaymentTransaction) *VerifyResult {
	return &VerifyResult{
		Reference:      tx.Reference,
		Status:         tx.Status,
		SubscriptionID: tx.SubscriptionID,
	}
}

func newCheckoutReference() string {
	return "JD_" + strings.ReplaceAll(uuid.NewString(), "-", "")
}
