package billing

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/jobdeck/backend/internal/domain/billing"
	"github.com/jobdeck/backend/internal/domain/shared"
)

// entitlementKeyPrefix namespaces per-user entitlement cache entries.
// Invalidation deletes everything under "entitlement:<user>".
const entitlementKeyPrefix = "entitlement:"

// actionResources maps authorization actions to the metered resource that
// gates them
var actionResources = map[string]billing.ResourceKey{
	"job.apply":    billing.ResourceJobApplications,
	"ai.recommend": billing.ResourceAIRecommendations,
	"alert.create": billing.ResourceJobAlerts,
}

// ResolveAction returns the resource key an action is gated by
func ResolveAction(action string) (billing.ResourceKey, bool) {
	key, ok := actionResources[action]
	return key, ok
}

// EntitlementDecision is the answer to "may this user perform this action".
// An allowed decision has already consumed one unit of the gating resource,
// so callers must only ask when they intend to act.
type EntitlementDecision struct {
	Allowed     bool                `json:"allowed"`
	PlanID      string              `json:"plan_id"`
	ResourceKey billing.ResourceKey `json:"resource_key"`
	Used        int64               `json:"used"`
	Limit       int64               `json:"limit"` // -1 unlimited, 0 not entitled
	Remaining   int64               `json:"remaining"`
	Reason      string              `json:"reason,omitempty"`
}

// Deny reasons surfaced in entitlement decisions
const (
	ReasonSubscriptionInactive = "subscription inactive"
	ReasonFeatureNotInPlan     = "plan does not include this feature"
	ReasonQuotaExceeded        = "quota exceeded for current period"
)

// EntitlementServiceConfig contains configuration for EntitlementService
type EntitlementServiceConfig struct {
	// CacheTTL bounds entitlement staleness after a missed invalidation
	CacheTTL time.Duration
	// FreePlanID is the catalog entry users without a subscription fall
	// back to
	FreePlanID string
}

// EntitlementService answers authorization questions from the cached view
// of a user's plan. Subscription transitions invalidate the cache through
// the event bus; the TTL is the backstop.
type EntitlementService struct {
	subs    billing.SubscriptionRepository
	catalog *billing.PlanCatalog
	cache   shared.Cache
	meter   *UsageMeterService
	logger  *zap.Logger

	cacheTTL   time.Duration
	freePlanID string
}

// NewEntitlementService creates a new EntitlementService
func NewEntitlementService(
	subs billing.SubscriptionRepository,
	catalog *billing.PlanCatalog,
	cache shared.Cache,
	meter *UsageMeterService,
	log *zap.Logger,
	cfg EntitlementServiceConfig,
) *EntitlementService {
	if cfg.FreePlanID == "" {
		cfg.FreePlanID = "free"
	}
	return &EntitlementService{
		subs:       subs,
		catalog:    catalog,
		cache:      cache,
		meter:      meter,
		logger:     log,
		cacheTTL:   cfg.CacheTTL,
		freePlanID: cfg.FreePlanID,
	}
}

// Authorize decides whether the user's effective plan covers the action and,
// when it does, consumes one unit of the gating resource through the usage
// meter. The allow decision and the increment are a single step; there is no
// separate "check" that could race with consumption.
func (s *EntitlementService) Authorize(ctx context.Context, userID uuid.UUID, action string) (*EntitlementDecision, error) {
	key, ok := ResolveAction(action)
	if !ok {
		return nil, shared.ErrInvalidInput
	}

	plan, err := s.EffectivePlan(ctx, userID)
	if err != nil {
		return nil, err
	}

	decision := &EntitlementDecision{
		PlanID:      plan.ID,
		ResourceKey: key,
	}
	ceiling, ok := plan.CeilingFor(key)
	if !ok || ceiling.Limit == 0 {
		// The free plan is never purchased, so landing on it means no
		// active subscription backs the user
		if plan.ID == s.freePlanID {
			decision.Reason = ReasonSubscriptionInactive
		} else {
			decision.Reason = ReasonFeatureNotInPlan
		}
		return decision, nil
	}

	usage, err := s.meter.CheckAndIncrement(ctx, userID, plan, key, 1)
	if err != nil {
		return nil, err
	}
	decision.Allowed = usage.Allowed
	decision.Used = usage.Used
	decision.Limit = usage.Limit
	decision.Remaining = usage.Remaining
	decision.Reason = usage.Reason
	return decision, nil
}

// Consume checks and increments a metered resource against the user's
// effective plan, batching amount units into one guarded increment
func (s *EntitlementService) Consume(ctx context.Context, userID uuid.UUID, key billing.ResourceKey, amount int64) (*UsageDecision, error) {
	if userID == uuid.Nil || !key.IsValid() {
		return nil, shared.ErrInvalidInput
	}
	plan, err := s.EffectivePlan(ctx, userID)
	if err != nil {
		return nil, err
	}
	return s.meter.CheckAndIncrement(ctx, userID, plan, key, amount)
}

// UsageSummary reports the user's consumption across every resource their
// effective plan meters
func (s *EntitlementService) UsageSummary(ctx context.Context, userID uuid.UUID) (*UsageSummary, error) {
	if userID == uuid.Nil {
		return nil, shared.ErrInvalidInput
	}
	plan, err := s.EffectivePlan(ctx, userID)
	if err != nil {
		return nil, err
	}
	return s.meter.Usage(ctx, userID, plan)
}

// EffectivePlan resolves the plan governing the user right now: the active
// subscription's plan, or the free plan when none exists. Cache-first.
func (s *EntitlementService) EffectivePlan(ctx context.Context, userID uuid.UUID) (*billing.Plan, error) {
	cacheKey := planCacheKey(userID)
	if raw, err := s.cache.Get(ctx, cacheKey); err != nil {
		s.logger.Warn("entitlement cache read failed", zap.Error(err))
	} else if raw != nil {
		if plan, err := s.catalog.Get(string(raw)); err == nil {
			return plan, nil
		}
		// A cached plan ID missing from the catalog means the catalog
		// changed under us; fall through to the repository
	}

	planID := s.freePlanID
	sub, err := s.subs.FindActiveByUser(ctx, userID)
	switch {
	case err == nil:
		planID = sub.PlanID
	case errors.Is(err, billing.ErrSubscriptionNotFound):
		// No subscription: the free plan applies
	default:
		return nil, err
	}

	plan, err := s.catalog.Get(planID)
	if err != nil {
		return nil, err
	}
	if err := s.cache.Set(ctx, cacheKey, []byte(plan.ID), s.cacheTTL); err != nil {
		s.logger.Warn("entitlement cache write failed", zap.Error(err))
	}
	return plan, nil
}

// Invalidate drops every cached entitlement for the user
func (s *EntitlementService) Invalidate(ctx context.Context, userID uuid.UUID) error {
	return s.cache.DeleteByPrefix(ctx, entitlementKeyPrefix+userID.String())
}

func planCacheKey(userID uuid.UUID) string {
	return entitlementKeyPrefix + userID.String() + ":plan"
}

// EntitlementCacheInvalidator drops a user's cached entitlements whenever
// their subscription changes state, so authorization converges within one
// request instead of one TTL
type EntitlementCacheInvalidator struct {
	entitlements *EntitlementService
	logger       *zap.Logger
}

// NewEntitlementCacheInvalidator creates the event handler
func NewEntitlementCacheInvalidator(entitlements *EntitlementService, log *zap.Logger) *EntitlementCacheInvalidator {
	return &EntitlementCacheInvalidator{entitlements: entitlements, logger: log}
}

// EventTypes implements shared.EventHandler
func (h *EntitlementCacheInvalidator) EventTypes() []string {
	return []string{billing.EventTypeSubscriptionStatusChanged}
}

// Handle implements shared.EventHandler
func (h *EntitlementCacheInvalidator) Handle(ctx context.Context, event shared.DomainEvent) error {
	changed, ok := event.(*billing.SubscriptionStatusChangedEvent)
	if !ok {
		return nil
	}
	if err := h.entitlements.Invalidate(ctx, changed.UserID); err != nil {
		h.logger.Error("failed to invalidate entitlement cache",
			zap.String("user_id", changed.UserID.String()),
			zap.Error(err))
		return err
	}
	return nil
}
