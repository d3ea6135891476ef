package billing

import (
	"context"
	"errors"
	"sort"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/jobdeck/backend/internal/domain/billing"
	"github.com/jobdeck/backend/internal/domain/shared"
)

// UsageDecision is the outcome of one consumption attempt
type UsageDecision struct {
	Allowed     bool                `json:"allowed"`
	ResourceKey billing.ResourceKey `json:"resource_key"`
	PlanID      string              `json:"plan_id"`
	Used        int64               `json:"used"`
	Limit       int64               `json:"limit"` // -1 unlimited
	Remaining   int64               `json:"remaining"`
	PeriodEnd   time.Time           `json:"period_end"`
	Reason      string              `json:"reason,omitempty"`
}

// UsageDetail is one resource's consumption in the user's usage summary
type UsageDetail struct {
	ResourceKey billing.ResourceKey `json:"resource_key"`
	Used        int64               `json:"used"`
	Limit       int64               `json:"limit"`
	Remaining   int64               `json:"remaining"`
	PeriodStart time.Time           `json:"period_start"`
	PeriodEnd   time.Time           `json:"period_end"`
}

// UsageSummary is the read model behind the usage endpoint
type UsageSummary struct {
	UserID    uuid.UUID     `json:"user_id"`
	PlanID    string        `json:"plan_id"`
	Resources []UsageDetail `json:"resources"`
}

// UsageMeterService enforces plan ceilings on metered resources. Callers
// resolve the governing plan first (EntitlementService owns that); the
// decision to grant is made by the repository's guarded increment, so under
// any interleaving of N concurrent requests against capacity C exactly
// min(N, C) are granted.
type UsageMeterService struct {
	counters billing.UsageCounterRepository
	logger   *zap.Logger
	now      func() time.Time
}

// NewUsageMeterService creates a new UsageMeterService
func NewUsageMeterService(
	counters billing.UsageCounterRepository,
	log *zap.Logger,
) *UsageMeterService {
	return &UsageMeterService{
		counters: counters,
		logger:   log,
		now:      func() time.Time { return time.Now().UTC() },
	}
}

// CheckAndIncrement consumes amount units of a resource if the plan's
// ceiling permits. Denials are reported in the decision, not as errors;
// errors mean the check itself could not run.
func (s *UsageMeterService) CheckAndIncrement(ctx context.Context, userID uuid.UUID, plan *billing.Plan, key billing.ResourceKey, amount int64) (*UsageDecision, error) {
	if userID == uuid.Nil || plan == nil {
		return nil, shared.ErrInvalidInput
	}
	if !key.IsValid() {
		return nil, shared.ErrInvalidInput
	}
	if amount <= 0 {
		amount = 1
	}

	decision := &UsageDecision{
		ResourceKey: key,
		PlanID:      plan.ID,
	}
	ceiling, ok := plan.CeilingFor(key)
	if !ok || ceiling.Limit == 0 {
		decision.Reason = ReasonFeatureNotInPlan
		return decision, nil
	}
	decision.Limit = ceiling.Limit

	now := s.now()
	periodStart, periodEnd := billing.PeriodBounds(ceiling.Period, now)
	decision.PeriodEnd = periodEnd

	granted, err := s.increment(ctx, userID, key, ceiling, periodStart, now, amount)
	if err != nil {
		return nil, err
	}

	counter, err := s.counters.FindCurrent(ctx, userID, key, periodStart)
	if err != nil {
		return nil, err
	}
	decision.Used = counter.Count
	decision.Remaining = counter.Remaining(ceiling)
	decision.Allowed = granted
	if !granted {
		decision.Reason = ReasonQuotaExceeded
		s.logger.Info("usage increment denied",
			zap.String("user_id", userID.String()),
			zap.String("resource_key", string(key)),
			zap.Int64("used", counter.Count),
			zap.Int64("limit", ceiling.Limit))
	}
	return decision, nil
}

// Usage returns the user's consumption across every resource the plan
// meters, including resources they have not touched this period
func (s *UsageMeterService) Usage(ctx context.Context, userID uuid.UUID, plan *billing.Plan) (*UsageSummary, error) {
	if userID == uuid.Nil || plan == nil {
		return nil, shared.ErrInvalidInput
	}

	now := s.now()
	summary := &UsageSummary{
		UserID:    userID,
		PlanID:    plan.ID,
		Resources: make([]UsageDetail, 0, len(plan.Ceilings)),
	}
	for key, ceiling := range plan.Ceilings {
		periodStart, periodEnd := billing.PeriodBounds(ceiling.Period, now)
		detail := UsageDetail{
			ResourceKey: key,
			Limit:       ceiling.Limit,
			PeriodStart: periodStart,
			PeriodEnd:   periodEnd,
		}

		counter, err := s.counters.FindCurrent(ctx, userID, key, periodStart)
		switch {
		case err == nil:
			detail.Used = counter.Count
			detail.Remaining = counter.Remaining(ceiling)
		case errors.Is(err, shared.ErrNotFound):
			// No row yet this period: nothing consumed
			zero := billing.UsageCounter{}
			detail.Remaining = zero.Remaining(ceiling)
		default:
			return nil, err
		}
		summary.Resources = append(summary.Resources, detail)
	}

	sort.Slice(summary.Resources, func(i, j int) bool {
		return summary.Resources[i].ResourceKey < summary.Resources[j].ResourceKey
	})
	return summary, nil
}

// increment performs the guarded increment, lazily materializing the
// period's counter row on first touch. The rollover is implicit: a new
// period means a new (user, resource, period_start) tuple.
func (s *UsageMeterService) increment(ctx context.Context, userID uuid.UUID, key billing.ResourceKey, ceiling billing.Ceiling, periodStart time.Time, now time.Time, amount int64) (bool, error) {
	granted, err := s.counters.IncrementWithinLimit(ctx, userID, key, periodStart, amount, ceiling.Limit)
	if err == nil {
		return granted, nil
	}
	if !errors.Is(err, shared.ErrNotFound) {
		return false, err
	}

	counter := billing.NewUsageCounter(userID, key, ceiling.Period, now)
	if err := s.counters.EnsureCounter(ctx, counter); err != nil {
		return false, err
	}
	return s.counters.IncrementWithinLimit(ctx, userID, key, periodStart, amount, ceiling.Limit)
}
