package billing

import (
	"strings"

	"github.com/jobdeck/backend/internal/domain/shared"
	"github.com/shopspring/decimal"
	"golang.org/x/text/currency"
)

// BillingCycle represents how often a subscription renews
type BillingCycle string

const (
	BillingCycleMonthly BillingCycle = "monthly"
	BillingCycleYearly  BillingCycle = "yearly"
)

// IsValid returns true if the billing cycle is a known value
func (c BillingCycle) IsValid() bool {
	return c == BillingCycleMonthly || c == BillingCycleYearly
}

// ResourceKey identifies a metered resource gated by plan ceilings
type ResourceKey string

const (
	ResourceJobApplications   ResourceKey = "job_applications"
	ResourceAIRecommendations ResourceKey = "ai_recommendations"
	ResourceJobAlerts         ResourceKey = "job_alerts"
)

// IsValid returns true if the resource key is a known value
func (k ResourceKey) IsValid() bool {
	switch k {
	case ResourceJobApplications, ResourceAIRecommendations, ResourceJobAlerts:
		return true
	default:
		return false
	}
}

// ResetPeriod determines the granularity of a resource's usage window
type ResetPeriod string

const (
	ResetPeriodDaily   ResetPeriod = "daily"
	ResetPeriodMonthly ResetPeriod = "monthly"
	ResetPeriodNever   ResetPeriod = "never"
)

// IsValid returns true if the reset period is a known value
func (p ResetPeriod) IsValid() bool {
	switch p {
	case ResetPeriodDaily, ResetPeriodMonthly, ResetPeriodNever:
		return true
	default:
		return false
	}
}

// Ceiling is a usage limit for one resource within one reset period.
// A limit of -1 means unlimited.
type Ceiling struct {
	Limit  int64       `mapstructure:"limit" json:"limit"`
	Period ResetPeriod `mapstructure:"period" json:"period"`
}

// IsUnlimited returns true if the ceiling imposes no limit
func (c Ceiling) IsUnlimited() bool {
	return c.Limit < 0
}

// Plan is an immutable catalog entry. Plans are loaded from configuration
// at startup and never mutated at runtime.
type Plan struct {
	ID       string                  `mapstructure:"id" json:"id"`
	Name     string                  `mapstructure:"name" json:"name"`
	Cycle    BillingCycle            `mapstructure:"cycle" json:"cycle"`
	Price    decimal.Decimal         `mapstructure:"-" json:"price"`
	Currency string                  `mapstructure:"currency" json:"currency"`
	Ceilings map[ResourceKey]Ceiling `mapstructure:"ceilings" json:"ceilings"`
}

// Validate checks the plan entry for catalog admission
func (p *Plan) Validate() error {
	if strings.TrimSpace(p.ID) == "" {
		return shared.NewDomainError("INVALID_PLAN", "Plan ID cannot be empty")
	}
	if !p.Cycle.IsValid() {
		return shared.NewDomainError("INVALID_PLAN", "Plan billing cycle must be monthly or yearly")
	}
	if p.Price.IsNegative() {
		return shared.NewDomainError("INVALID_PLAN", "Plan price cannot be negative")
	}
	if _, err := currency.ParseISO(p.Currency); err != nil {
		return shared.NewDomainError("INVALID_PLAN", "Plan currency must be a valid ISO 4217 code")
	}
	for key, ceiling := range p.Ceilings {
		if !key.IsValid() {
			return shared.NewDomainError("INVALID_PLAN", "Unknown resource key: "+string(key))
		}
		if !ceiling.Period.IsValid() {
			return shared.NewDomainError("INVALID_PLAN", "Invalid reset period for resource: "+string(key))
		}
		if ceiling.Limit < -1 {
			return shared.NewDomainError("INVALID_PLAN", "Ceiling limit must be -1 (unlimited) or non-negative")
		}
	}
	return nil
}

// PriceMinorUnits returns the plan price in minor units (e.g. cents, kobo)
func (p *Plan) PriceMinorUnits() int64 {
	return p.Price.Mul(decimal.NewFromInt(100)).IntPart()
}

// DisplayPrice formats the price with two decimal places for catalog
// responses. The currency code travels in its own field.
func (p *Plan) DisplayPrice() string {
	return p.Price.StringFixed(2)
}

// CeilingFor returns the ceiling for a resource, if the plan defines one
func (p *Plan) CeilingFor(key ResourceKey) (Ceiling, bool) {
	ceiling, ok := p.Ceilings[key]
	return ceiling, ok
}

// PlanCatalog is the read-only set of plans known at startup
type PlanCatalog struct {
	plans map[string]*Plan
	order []string
}

// NewPlanCatalog validates and indexes the configured plans
func NewPlanCatalog(plans []Plan) (*PlanCatalog, error) {
	if len(plans) == 0 {
		return nil, shared.NewDomainError("INVALID_PLAN", "Plan catalog cannot be empty")
	}

	catalog := &PlanCatalog{
		plans: make(map[string]*Plan, len(plans)),
		order: make([]string, 0, len(plans)),
	}
	for i := range plans {
		plan := plans[i]
		if err := plan.Validate(); err != nil {
			return nil, err
		}
		if _, exists := catalog.plans[plan.ID]; exists {
			return nil, shared.NewDomainError("INVALID_PLAN", "Duplicate plan ID: "+plan.ID)
		}
		catalog.plans[plan.ID] = &plan
		catalog.order = append(catalog.order, plan.ID)
	}
	return catalog, nil
}

// Get returns the plan with the given ID
func (c *PlanCatalog) Get(planID string) (*Plan, error) {
	plan, ok := c.plans[planID]
	if !ok {
		return nil, ErrPlanNotFound
	}
	return plan, nil
}

// All returns the plans in configuration order
func (c *PlanCatalog) All() []*Plan {
	out := make([]*Plan, 0, len(c.order))
	for _, id := range c.order {
		out = append(out, c.plans[id])
	}
	return out
}
