package handler

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	appbilling "github.com/jobdeck/backend/internal/application/billing"
	"github.com/jobdeck/backend/internal/domain/billing"
)

// BillingHandler exposes the plan catalog, checkout flow, subscription
// lifecycle, usage metering and entitlement checks
type BillingHandler struct {
	BaseHandler
	subscriptions *appbilling.SubscriptionService
	entitlements  *appbilling.EntitlementService
}

// NewBillingHandler creates a new BillingHandler
func NewBillingHandler(
	subscriptions *appbilling.SubscriptionService,
	entitlements *appbilling.EntitlementService,
) *BillingHandler {
	return &BillingHandler{
		subscriptions: subscriptions,
		entitlements:  entitlements,
	}
}

// RegisterRoutes registers billing routes on the API group
func (h *BillingHandler) RegisterRoutes(rg *gin.RouterGroup) {
	rg.GET("/plans", h.ListPlans)

	billingRoutes := rg.Group("/billing")
	{
		billingRoutes.POST("/checkout", h.Checkout)
		billingRoutes.GET("/checkout/:reference", h.VerifyCheckout)
		billingRoutes.GET("/subscription", h.GetSubscription)
		billingRoutes.POST("/subscription/cancel", h.CancelSubscription)
		billingRoutes.GET("/usage", h.GetUsage)
		billingRoutes.POST("/usage/:resource", h.ConsumeUsage)
		billingRoutes.GET("/entitlements", h.Authorize)
	}

	admin := rg.Group("/admin")
	{
		admin.POST("/subscriptions/:id/status", h.ForceStatus)
	}
}

// PlanResponse is the catalog entry shown to clients
type PlanResponse struct {
	ID       string                                  `json:"id"`
	Name     string                                  `json:"name"`
	Cycle    billing.BillingCycle                    `json:"cycle"`
	Price    string                                  `json:"price"`
	Currency string                                  `json:"currency"`
	Ceilings map[billing.ResourceKey]billing.Ceiling `json:"ceilings"`
}

// ListPlans returns the plan catalog
func (h *BillingHandler) ListPlans(c *gin.Context) {
	plans := h.subscriptions.Plans()
	out := make([]PlanResponse, 0, len(plans))
	for _, plan := range plans {
		out = append(out, PlanResponse{
			ID:       plan.ID,
			Name:     plan.Name,
			Cycle:    plan.Cycle,
			Price:    plan.DisplayPrice(),
			Currency: plan.Currency,
			Ceilings: plan.Ceilings,
		})
	}
	h.Success(c, out)
}

// CheckoutRequest starts a checkout for a paid plan
type CheckoutRequest struct {
	PlanID string `json:"plan_id" binding:"required"`
	Email  string `json:"email" binding:"required,email"`
}

// Checkout creates a provider checkout session for the authenticated user
func (h *BillingHandler) Checkout(c *gin.Context) {
	userID, err := getUserID(c)
	if err != nil {
		h.Unauthorized(c, err.Error())
		return
	}

	var req CheckoutRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		h.BindError(c, err)
		return
	}

	result, err := h.subscriptions.Checkout(c.Request.Context(), appbilling.CheckoutInput{
		UserID: userID,
		PlanID: req.PlanID,
		Email:  req.Email,
	})
	if err != nil {
		h.HandleError(c, err)
		return
	}
	h.Created(c, result)
}

// VerifyCheckout reports (and if needed settles) a checkout's outcome
func (h *BillingHandler) VerifyCheckout(c *gin.Context) {
	reference := c.Param("reference")
	result, err := h.subscriptions.VerifyCheckout(c.Request.Context(), reference)
	if err != nil {
		h.HandleError(c, err)
		return
	}
	h.Success(c, result)
}

// SubscriptionResponse is the lifecycle view of a subscription
type SubscriptionResponse struct {
	ID           uuid.UUID                  `json:"id"`
	PlanID       string                     `json:"plan_id"`
	Status       billing.SubscriptionStatus `json:"status"`
	BillingCycle billing.BillingCycle       `json:"billing_cycle"`
	StartDate    string                     `json:"start_date"`
	RenewalDate  *string                    `json:"renewal_date,omitempty"`
	SuspendedAt  *string                    `json:"suspended_at,omitempty"`
	CancelledAt  *string                    `json:"cancelled_at,omitempty"`
	CancelReason string                     `json:"cancel_reason,omitempty"`
}

// GetSubscription returns the authenticated user's latest subscription
func (h *BillingHandler) GetSubscription(c *gin.Context) {
	userID, err := getUserID(c)
	if err != nil {
		h.Unauthorized(c, err.Error())
		return
	}

	sub, err := h.subscriptions.Subscription(c.Request.Context(), userID)
	if err != nil {
		h.HandleError(c, err)
		return
	}
	h.Success(c, subscriptionResponseFrom(sub))
}

// CancelRequest carries the optional cancellation reason
type CancelRequest struct {
	Reason string `json:"reason" binding:"max=200"`
}

// CancelSubscription terminates the user's active subscription
func (h *BillingHandler) CancelSubscription(c *gin.Context) {
	userID, err := getUserID(c)
	if err != nil {
		h.Unauthorized(c, err.Error())
		return
	}

	var req CancelRequest
	if err := c.ShouldBindJSON(&req); err != nil && c.Request.ContentLength > 0 {
		h.BindError(c, err)
		return
	}

	if err := h.subscriptions.Cancel(c.Request.Context(), userID, req.Reason); err != nil {
		h.HandleError(c, err)
		return
	}
	h.Success(c, gin.H{"cancelled": true})
}

// GetUsage returns the user's consumption across metered resources
func (h *BillingHandler) GetUsage(c *gin.Context) {
	userID, err := getUserID(c)
	if err != nil {
		h.Unauthorized(c, err.Error())
		return
	}

	summary, err := h.entitlements.UsageSummary(c.Request.Context(), userID)
	if err != nil {
		h.HandleError(c, err)
		return
	}
	h.Success(c, summary)
}

// ConsumeRequest optionally batches several units into one consumption
type ConsumeRequest struct {
	Amount int64 `json:"amount" binding:"omitempty,min=1"`
}

// ConsumeUsage atomically checks and increments a metered resource.
// Denials answer 429 with the decision so clients can render the limit.
func (h *BillingHandler) ConsumeUsage(c *gin.Context) {
	userID, err := getUserID(c)
	if err != nil {
		h.Unauthorized(c, err.Error())
		return
	}

	var req ConsumeRequest
	if err := c.ShouldBindJSON(&req); err != nil && c.Request.ContentLength > 0 {
		h.BindError(c, err)
		return
	}

	key := billing.ResourceKey(c.Param("resource"))
	decision, err := h.entitlements.Consume(c.Request.Context(), userID, key, req.Amount)
	if err != nil {
		h.HandleError(c, err)
		return
	}
	if !decision.Allowed {
		c.JSON(http.StatusTooManyRequests, gin.H{"success": false, "data": decision})
		return
	}
	h.Success(c, decision)
}

// Authorize answers whether the user's plan covers an action. An allowed
// answer has already consumed one unit of the gating resource, so clients
// call this when they are about to act, not speculatively.
func (h *BillingHandler) Authorize(c *gin.Context) {
	userID, err := getUserID(c)
	if err != nil {
		h.Unauthorized(c, err.Error())
		return
	}

	action := c.Query("action")
	if action == "" {
		h.BadRequest(c, "action query parameter is required")
		return
	}

	decision, err := h.entitlements.Authorize(c.Request.Context(), userID, action)
	if err != nil {
		h.HandleError(c, err)
		return
	}
	h.Success(c, decision)
}

// ForceStatusRequest is the admin override payload
type ForceStatusRequest struct {
	Status string `json:"status" binding:"required"`
	Reason string `json:"reason" binding:"required,max=200"`
}

// ForceStatus moves a subscription to an arbitrary state. Requires the
// acting admin's ID; every call is audited.
func (h *BillingHandler) ForceStatus(c *gin.Context) {
	actorID, err := getActorID(c)
	if err != nil {
		h.Unauthorized(c, err.Error())
		return
	}

	subscriptionID, err := uuid.Parse(c.Param("id"))
	if err != nil {
		h.BadRequest(c, "invalid subscription ID")
		return
	}

	var req ForceStatusRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		h.BindError(c, err)
		return
	}

	err = h.subscriptions.ForceStatus(c.Request.Context(), appbilling.ForceStatusInput{
		SubscriptionID: subscriptionID,
		Target:         billing.SubscriptionStatus(req.Status),
		ActorID:        actorID,
		Reason:         req.Reason,
	})
	if err != nil {
		h.HandleError(c, err)
		return
	}
	h.Success(c, gin.H{"status": req.Status})
}

func subscriptionResponseFrom(sub *billing.Subscription) SubscriptionResponse {
	resp := SubscriptionResponse{
		ID:           sub.ID,
		PlanID:       sub.PlanID,
		Status:       sub.Status,
		BillingCycle: sub.BillingCycle,
		StartDate:    sub.StartDate.Format(time.RFC3339),
		CancelReason: sub.CancelReason,
	}
	if sub.RenewalDate != nil {
		formatted := sub.RenewalDate.Format(time.RFC3339)
		resp.RenewalDate = &formatted
	}
	if sub.SuspendedAt != nil {
		formatted := sub.SuspendedAt.Format(time.RFC3339)
		resp.SuspendedAt = &formatted
	}
	if sub.CancelledAt != nil {
		formatted := sub.CancelledAt.Format(time.RFC3339)
		resp.CancelledAt = &formatted
	}
	return resp
}
