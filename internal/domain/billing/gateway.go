package billing

import (
	"context"
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

// EventKind is the internal vocabulary of payment events. Provider event
// strings are mapped into this set by the gateway adapter's translation
// table so the state machine never sees upstream vocabulary.
type EventKind string

const (
	EventKindPaymentSuccess   EventKind = "payment.success"
	EventKindPaymentFailed    EventKind = "payment.failed"
	EventKindPaymentAbandoned EventKind = "payment.abandoned"
	EventKindRenewalSuccess   EventKind = "renewal.success"
	EventKindRenewalFailed    EventKind = "renewal.failed"
	EventKindPaymentRecovered EventKind = "payment.recovered"
	// EventKindUnknown marks provider event types the engine does not
	// handle. They are acknowledged and ignored, never probed field by field.
	EventKindUnknown EventKind = "unknown"
)

// WebhookEvent is a verified, parsed gateway notification. It exists only
// for the duration of processing; dedup state lives in the cache layer.
type WebhookEvent struct {
	ProviderEventID  string
	Kind             EventKind
	ProviderType     string // original provider event string, for logging
	Reference        string
	CustomerCode     string
	SubscriptionCode string
	Amount           int64 // minor units
	Currency         string
	Channel          string
	PaidAt           *time.Time
	Raw              json.RawMessage
	ReceivedAt       time.Time
}

// InitializeRequest asks the provider to start a checkout session
type InitializeRequest struct {
	UserID   uuid.UUID
	PlanID   string
	Email    string
	Amount   int64 // minor units
	Currency string
	// Reference is self-generated so the transaction record can be
	// created before the provider call
	Reference string
}

// InitializeResponse carries the provider's checkout handle
type InitializeResponse struct {
	Reference   string
	RedirectURL string
	AccessCode  string
}

// VerifyResponse is the provider's synchronous view of a transaction
type VerifyResponse struct {
	Reference    string
	Kind         EventKind
	Amount       int64
	Currency     string
	Channel      string
	CustomerCode string
	PaidAt       *time.Time
	Raw          json.RawMessage
}

// PaymentGateway wraps the external payment provider. Implementations
// carry bounded timeouts on every call; a timeout leaves the transaction
// pending and is never treated as success.
type PaymentGateway interface {
	// InitializeTransaction starts a checkout and returns the redirect URL
	InitializeTransaction(ctx context.Context, req InitializeRequest) (*InitializeResponse, error)

	// VerifyTransaction queries the provider for a transaction's outcome.
	// Fails with ErrGatewayUnavailable (retryable) or ErrTransactionNotFound
	// (terminal).
	VerifyTransaction(ctx context.Context, reference string) (*VerifyResponse, error)

	// ParseWebhook verifies the signature over the raw payload and parses
	// the event. Returns ErrSignatureInvalid on mismatch; a forged payload
	// never reaches the state machine.
	ParseWebhook(rawBody []byte, signatureHeader string) (*WebhookEvent, error)
}
