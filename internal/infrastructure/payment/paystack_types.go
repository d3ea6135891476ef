package payment

import "encoding/json"

// paystackEnvelope is the common wrapper on every API response
type paystackEnvelope struct {
	Status  bool            `json:"status"`
	Message string          `json:"message"`
	Data    json.RawMessage `json:"data"`
}

// paystackInitializeRequest is the body for POST /transaction/initialize
type paystackInitializeRequest struct {
	Email       string            `json:"email"`
	Amount      int64             `json:"amount"` // minor units
	Currency    string            `json:"currency,omitempty"`
	Reference   string            `json:"reference"`
	CallbackURL string            `json:"callback_url,omitempty"`
	Metadata    map[string]string `json:"metadata,omitempty"`
}

// paystackInitializeData is the data payload of an initialize response
type paystackInitializeData struct {
	AuthorizationURL string `json:"authorization_url"`
	AccessCode       string `json:"access_code"`
	Reference        string `json:"reference"`
}

// paystackCustomer carries the customer handle in transaction payloads
type paystackCustomer struct {
	ID           int64  `json:"id"`
	Email        string `json:"email"`
	CustomerCode string `json:"customer_code"`
}

// paystackTransactionData is the data payload of a verify response and of
// charge webhook events
type paystackTransactionData struct {
	ID        int64             `json:"id"`
	Status    string            `json:"status"`
	Reference string            `json:"reference"`
	Amount    int64             `json:"amount"`
	Currency  string            `json:"currency"`
	Channel   string            `json:"channel"`
	PaidAt    string            `json:"paid_at"`
	Customer  *paystackCustomer `json:"customer"`
	Plan      json.RawMessage   `json:"plan"`
}

// paystackSubscriptionRef carries subscription identity in invoice events
type paystackSubscriptionRef struct {
	SubscriptionCode string `json:"subscription_code"`
	Status           string `json:"status"`
}

// paystackWebhookBody is the outer shape of every webhook delivery
type paystackWebhookBody struct {
	Event string `json:"event"`
	Data  struct {
		paystackTransactionData
		Subscription *paystackSubscriptionRef `json:"subscription"`
		Transaction  *paystackTransactionData `json:"transaction"`
	} `json:"data"`
}
