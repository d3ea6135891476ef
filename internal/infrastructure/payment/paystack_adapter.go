package payment

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha512"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/jobdeck/backend/internal/domain/billing"
)

const (
	paystackInitializePath = "/transaction/initialize"
	paystackVerifyPath     = "/transaction/verify/%s"

	// SignatureHeader is the header Paystack signs webhook deliveries with
	SignatureHeader = "x-paystack-signature"
)

// PaystackAdapter implements billing.PaymentGateway for Paystack
type PaystackAdapter struct {
	config     *PaystackConfig
	httpClient *http.Client
}

// NewPaystackAdapter creates a new Paystack adapter
func NewPaystackAdapter(config *PaystackConfig) (*PaystackAdapter, error) {
	if err := config.Validate(); err != nil {
		return nil, err
	}

	return &PaystackAdapter{
		config: config,
		httpClient: &http.Client{
			Timeout: config.Timeout,
		},
	}, nil
}

// InitializeTransaction starts a checkout session and returns the
// authorization URL the customer is redirected to
func (a *PaystackAdapter) InitializeTransaction(ctx context.Context, req billing.InitializeRequest) (*billing.InitializeResponse, error) {
	body := paystackInitializeRequest{
		Email:       req.Email,
		Amount:      req.Amount,
		Currency:    req.Currency,
		Reference:   req.Reference,
		CallbackURL: a.config.CallbackURL,
		Metadata: map[string]string{
			"user_id": req.UserID.String(),
			"plan_id": req.PlanID,
		},
	}
	bodyBytes, err := json.Marshal(body)
	if err != nil {
		return nil, fmt.Errorf("paystack: failed to marshal request: %w", err)
	}

	respBody, status, err := a.doRequest(ctx, http.MethodPost, paystackInitializePath, bodyBytes)
	if err != nil {
		return nil, err
	}
	envelope, err := parseEnvelope(respBody, status)
	if err != nil {
		return nil, err
	}

	var data paystackInitializeData
	if err := json.Unmarshal(envelope.Data, &data); err != nil {
		return nil, fmt.Errorf("paystack: failed to parse initialize response: %w", err)
	}

	return &billing.InitializeResponse{
		Reference:   data.Reference,
		RedirectURL: data.AuthorizationURL,
		AccessCode:  data.AccessCode,
	}, nil
}

// VerifyTransaction queries Paystack for a transaction's outcome
func (a *PaystackAdapter) VerifyTransaction(ctx context.Context, reference string) (*billing.VerifyResponse, error) {
	if reference == "" {
		return nil, billing.ErrTransactionNotFound
	}

	path := fmt.Sprintf(paystackVerifyPath, reference)
	respBody, status, err := a.doRequest(ctx, http.MethodGet, path, nil)
	if err != nil {
		return nil, err
	}
	if status == http.StatusNotFound {
		return nil, billing.ErrTransactionNotFound
	}
	envelope, err := parseEnvelope(respBody, status)
	if err != nil {
		return nil, err
	}

	var data paystackTransactionData
	if err := json.Unmarshal(envelope.Data, &data); err != nil {
		return nil, fmt.Errorf("paystack: failed to parse verify response: %w", err)
	}

	resp := &billing.VerifyResponse{
		Reference: data.Reference,
		Kind:      mapPaystackChargeStatus(data.Status),
		Amount:    data.Amount,
		Currency:  data.Currency,
		Channel:   data.Channel,
		Raw:       envelope.Data,
	}
	if data.Customer != nil {
		resp.CustomerCode = data.Customer.CustomerCode
	}
	if t, ok := parsePaystackTime(data.PaidAt); ok {
		resp.PaidAt = &t
	}

	return resp, nil
}

// ParseWebhook verifies the HMAC-SHA512 signature over the raw payload and
// parses the event. Verification happens before any field of the body is
// trusted.
func (a *PaystackAdapter) ParseWebhook(rawBody []byte, signatureHeader string) (*billing.WebhookEvent, error) {
	if !a.verifySignature(rawBody, signatureHeader) {
		return nil, billing.ErrSignatureInvalid
	}

	var body paystackWebhookBody
	if err := json.Unmarshal(rawBody, &body); err != nil {
		return nil, fmt.Errorf("paystack: failed to parse webhook body: %w", err)
	}

	// Invoice events nest the charge under data.transaction
	data := body.Data.paystackTransactionData
	if body.Data.Transaction != nil {
		data = *body.Data.Transaction
	}

	event := &billing.WebhookEvent{
		ProviderEventID: fmt.Sprintf("%s:%d", body.Event, data.ID),
		Kind:            mapPaystackEvent(body.Event),
		ProviderType:    body.Event,
		Reference:       data.Reference,
		Amount:          data.Amount,
		Currency:        data.Currency,
		Channel:         data.Channel,
		Raw:             json.RawMessage(rawBody),
		ReceivedAt:      time.Now().UTC(),
	}
	if data.Customer != nil {
		event.CustomerCode = data.Customer.CustomerCode
	}
	if body.Data.Subscription != nil {
		event.SubscriptionCode = body.Data.Subscription.SubscriptionCode
	}
	if t, ok := parsePaystackTime(data.PaidAt); ok {
		event.PaidAt = &t
	}

	return event, nil
}

// verifySignature recomputes the body HMAC and compares in constant time
func (a *PaystackAdapter) verifySignature(rawBody []byte, signatureHeader string) bool {
	if signatureHeader == "" {
		return false
	}

	mac := hmac.New(sha512.New, []byte(a.config.SecretKey))
	mac.Write(rawBody)
	expected := hex.EncodeToString(mac.Sum(nil))

	return hmac.Equal([]byte(expected), []byte(signatureHeader))
}

// doRequest performs an HTTP request to the Paystack API. Transport-level
// failures and timeouts map to ErrGatewayUnavailable; HTTP status handling
// is left to the caller via the returned status code.
func (a *PaystackAdapter) doRequest(ctx context.Context, method, path string, body []byte) ([]byte, int, error) {
	ctx, cancel := context.WithTimeout(ctx, a.config.Timeout)
	defer cancel()

	var reqBody io.Reader
	if body != nil {
		reqBody = bytes.NewReader(body)
	}

	req, err := http.NewRequestWithContext(ctx, method, a.config.BaseURL+path, reqBody)
	if err != nil {
		return nil, 0, fmt.Errorf("paystack: failed to create request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+a.config.SecretKey)
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")

	resp, err := a.httpClient.Do(req)
	if err != nil {
		return nil, 0, fmt.Errorf("%w: %v", billing.ErrGatewayUnavailable, err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, 0, fmt.Errorf("%w: %v", billing.ErrGatewayUnavailable, err)
	}

	return respBody, resp.StatusCode, nil
}

// parseEnvelope unwraps the common response envelope and turns API-level
// failures into typed errors
func parseEnvelope(respBody []byte, status int) (*paystackEnvelope, error) {
	var envelope paystackEnvelope
	if err := json.Unmarshal(respBody, &envelope); err != nil {
		return nil, fmt.Errorf("paystack: failed to parse response: %w", err)
	}

	if status >= 500 {
		return nil, fmt.Errorf("%w: HTTP %d", billing.ErrGatewayUnavailable, status)
	}
	if status >= 400 || !envelope.Status {
		return nil, fmt.Errorf("%w: %s", billing.ErrGatewayRequestFailed, envelope.Message)
	}

	return &envelope, nil
}

// mapPaystackEvent maps provider webhook event types to the internal
// vocabulary. Unlisted types map to the unknown variant and are
// acknowledged without processing.
func mapPaystackEvent(event string) billing.EventKind {
	switch event {
	case "charge.success":
		return billing.EventKindPaymentSuccess
	case "charge.failed":
		return billing.EventKindPaymentFailed
	case "charge.abandoned":
		return billing.EventKindPaymentAbandoned
	case "invoice.update":
		return billing.EventKindRenewalSuccess
	case "invoice.payment_failed":
		return billing.EventKindRenewalFailed
	case "charge.recovered":
		return billing.EventKindPaymentRecovered
	default:
		return billing.EventKindUnknown
	}
}

// mapPaystackChargeStatus maps a verify response status to the internal
// vocabulary
func mapPaystackChargeStatus(status string) billing.EventKind {
	switch status {
	case "success":
		return billing.EventKindPaymentSuccess
	case "failed":
		return billing.EventKindPaymentFailed
	case "abandoned":
		return billing.EventKindPaymentAbandoned
	default:
		return billing.EventKindUnknown
	}
}

func parsePaystackTime(value string) (time.Time, bool) {
	if value == "" {
		return time.Time{}, false
	}
	t, err := time.Parse(time.RFC3339, value)
	if err != nil {
		return time.Time{}, false
	}
	return t, true
}

// Ensure PaystackAdapter implements the gateway port
var _ billing.PaymentGateway = (*PaystackAdapter)(nil)
