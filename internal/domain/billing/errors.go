package billing

import "github.com/jobdeck/backend/internal/domain/shared"

// Errors in the engine's taxonomy. Signature and gateway failures originate
// in the gateway adapter; transition and amount errors in the aggregates.
var (
	ErrSignatureInvalid     = shared.NewDomainError("SIGNATURE_INVALID", "Webhook signature verification failed")
	ErrInvalidTransition    = shared.NewDomainError("INVALID_TRANSITION", "Event is not valid for the current subscription state")
	ErrGatewayUnavailable   = shared.NewDomainError("GATEWAY_UNAVAILABLE", "Payment gateway is unavailable")
	ErrGatewayRequestFailed = shared.NewDomainError("GATEWAY_REQUEST_FAILED", "Payment gateway rejected the request")
	ErrTransactionNotFound  = shared.NewDomainError("TRANSACTION_NOT_FOUND", "Payment transaction not found")
	ErrSubscriptionNotFound = shared.NewDomainError("SUBSCRIPTION_NOT_FOUND", "Subscription not found")
	ErrInvalidAmount        = shared.NewDomainError("INVALID_AMOUNT", "Amount does not match the plan price")
	ErrPlanNotFound         = shared.NewDomainError("PLAN_NOT_FOUND", "Plan not found in catalog")
	ErrRecoveryWindowClosed = shared.NewDomainError("RECOVERY_WINDOW_CLOSED", "Recovery window has elapsed")
)
