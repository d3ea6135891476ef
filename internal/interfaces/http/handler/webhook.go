package handler

import (
	"errors"
	"io"
	"net/http"

	"github.com/gin-gonic/gin"

	appbilling "github.com/jobdeck/backend/internal/application/billing"
	"github.com/jobdeck/backend/internal/domain/billing"
	"github.com/jobdeck/backend/internal/infrastructure/payment"
)

// maxWebhookPayloadSize caps webhook bodies at 128KB; provider events are
// a few KB
const maxWebhookPayloadSize = 128 * 1024

// WebhookHandler receives payment provider notifications. The endpoint is
// unauthenticated; the HMAC signature over the raw body is the credential.
type WebhookHandler struct {
	BaseHandler
	processor *appbilling.WebhookProcessor
}

// NewWebhookHandler creates a new WebhookHandler
func NewWebhookHandler(processor *appbilling.WebhookProcessor) *WebhookHandler {
	return &WebhookHandler{processor: processor}
}

// RegisterRoutes registers webhook routes on the API group
func (h *WebhookHandler) RegisterRoutes(rg *gin.RouterGroup) {
	rg.POST("/webhooks/paystack", h.HandlePaystackWebhook)
}

// WebhookResponse acknowledges a webhook delivery
type WebhookResponse struct {
	Received  bool   `json:"received"`
	EventID   string `json:"event_id,omitempty"`
	EventType string `json:"event_type,omitempty"`
	Duplicate bool   `json:"duplicate,omitempty"`
	Message   string `json:"message,omitempty"`
}

// HandlePaystackWebhook verifies and processes one provider notification.
// Signature failures answer 401 and change nothing; processing failures
// answer 500 so the provider's retry schedule redelivers the event.
func (h *WebhookHandler) HandlePaystackWebhook(c *gin.Context) {
	payload, err := io.ReadAll(io.LimitReader(c.Request.Body, maxWebhookPayloadSize+1))
	if err != nil {
		c.JSON(http.StatusBadRequest, WebhookResponse{Message: "failed to read request body"})
		return
	}
	if len(payload) > maxWebhookPayloadSize {
		c.JSON(http.StatusRequestEntityTooLarge, WebhookResponse{Message: "payload too large"})
		return
	}

	signature := c.GetHeader(payment.SignatureHeader)
	if signature == "" {
		c.JSON(http.StatusUnauthorized, WebhookResponse{Message: "missing signature header"})
		return
	}

	result, err := h.processor.Process(c.Request.Context(), payload, signature)
	if err != nil {
		if errors.Is(err, billing.ErrSignatureInvalid) {
			c.JSON(http.StatusUnauthorized, WebhookResponse{Message: "signature verification failed"})
			return
		}
		// A 5xx keeps the provider retrying until the event applies
		c.JSON(http.StatusInternalServerError, WebhookResponse{Message: "event processing failed"})
		return
	}

	c.JSON(http.StatusOK, WebhookResponse{
		Received:  true,
		EventID:   result.ProviderEventID,
		EventType: result.EventType,
		Duplicate: result.Duplicate,
	})
}
