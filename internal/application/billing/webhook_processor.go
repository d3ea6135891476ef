package billing

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/jobdeck/backend/internal/domain/billing"
	"github.com/jobdeck/backend/internal/domain/shared"
	"github.com/jobdeck/backend/internal/infrastructure/logger"
)

// webhookDedupPrefix namespaces processed-event markers in the cache
const webhookDedupPrefix = "webhook:events:"

// GatewayEventApplier applies a verified provider event to engine state
type GatewayEventApplier interface {
	ApplyGatewayEvent(ctx context.Context, event *billing.WebhookEvent) error
}

// WebhookProcessorConfig contains configuration for WebhookProcessor
type WebhookProcessorConfig struct {
	// DedupTTL is how long a processed event ID blocks replays. It must
	// cover the provider's longest retry schedule.
	DedupTTL time.Duration
}

// WebhookProcessor is the single entry point for provider notifications:
// verify, dedupe, apply. Provider retries of an already-processed event are
// acknowledged without touching state.
type WebhookProcessor struct {
	gateway       billing.PaymentGateway
	cache         shared.Cache
	subscriptions GatewayEventApplier
	logger        *zap.Logger
	security      *zap.Logger
	dedupTTL      time.Duration
}

// NewWebhookProcessor creates a new WebhookProcessor
func NewWebhookProcessor(
	gateway billing.PaymentGateway,
	cache shared.Cache,
	subscriptions GatewayEventApplier,
	log *zap.Logger,
	cfg WebhookProcessorConfig,
) *WebhookProcessor {
	return &WebhookProcessor{
		gateway:       gateway,
		cache:         cache,
		subscriptions: subscriptions,
		logger:        log,
		security:      logger.Security(log),
		dedupTTL:      cfg.DedupTTL,
	}
}

// WebhookResult tells the HTTP layer how the event was disposed of. All
// three dispositions are acknowledged with success to stop provider retries.
type WebhookResult struct {
	ProviderEventID string `json:"provider_event_id,omitempty"`
	EventType       string `json:"event_type,omitempty"`
	Duplicate       bool   `json:"duplicate,omitempty"`
	Ignored         bool   `json:"ignored,omitempty"`
}

// Process handles one webhook delivery end to end. The reservation in the
// cache is taken before state changes and released again if persistence
// fails, so the provider's retry is not locked out by a half-applied event.
func (p *WebhookProcessor) Process(ctx context.Context, payload []byte, signature string) (*WebhookResult, error) {
	event, err := p.gateway.ParseWebhook(payload, signature)
	if err != nil {
		if errors.Is(err, billing.ErrSignatureInvalid) {
			p.security.Warn("webhook signature verification failed",
				zap.Int("payload_bytes", len(payload)))
		}
		return nil, err
	}

	result := &WebhookResult{
		ProviderEventID: event.ProviderEventID,
		EventType:       event.ProviderType,
	}

	if event.Kind == billing.EventKindUnknown {
		p.logger.Debug("ignoring unhandled webhook event type",
			zap.String("event_type", event.ProviderType))
		result.Ignored = true
		return result, nil
	}

	key := webhookDedupPrefix + event.ProviderEventID
	reserved, err := p.cache.SetIfAbsent(ctx, key, []byte("processing"), p.dedupTTL)
	if err != nil {
		// Fail closed: without the dedup store we cannot prove this event
		// is new, and the provider will retry
		return nil, fmt.Errorf("failed to reserve webhook event: %w", err)
	}
	if !reserved {
		p.logger.Info("duplicate webhook event, acknowledging",
			zap.String("provider_event_id", event.ProviderEventID),
			zap.String("event_type", event.ProviderType))
		result.Duplicate = true
		return result, nil
	}

	if err := p.subscriptions.ApplyGatewayEvent(ctx, event); err != nil {
		if delErr := p.cache.Delete(ctx, key); delErr != nil {
			p.logger.Error("failed to release webhook reservation",
				zap.String("provider_event_id", event.ProviderEventID),
				zap.Error(delErr))
		} else {
			p.security.Warn("webhook reservation rolled back",
				zap.String("provider_event_id", event.ProviderEventID),
				zap.String("event_type", event.ProviderType),
				zap.Error(err))
		}
		return nil, err
	}

	p.logger.Info("webhook event processed",
		zap.String("provider_event_id", event.ProviderEventID),
		zap.String("event_type", event.ProviderType),
		zap.String("reference", event.Reference))
	return result, nil
}
