package payment

import (
	"errors"
	"strings"
	"time"
)

// PaystackConfig contains configuration for the Paystack API
type PaystackConfig struct {
	// SecretKey is the sk_test_/sk_live_ API key, also the HMAC key for
	// webhook signature verification
	SecretKey string
	// BaseURL is the API base, overridable for tests
	BaseURL string
	// CallbackURL is where the customer lands after checkout
	CallbackURL string
	// Timeout bounds every API call
	Timeout time.Duration
}

// Errors for configuration validation
var (
	ErrPaystackMissingSecretKey = errors.New("paystack: missing secret key")
	ErrPaystackInvalidSecretKey = errors.New("paystack: secret key must start with sk_")
)

// Validate validates the configuration and applies defaults
func (c *PaystackConfig) Validate() error {
	if c.SecretKey == "" {
		return ErrPaystackMissingSecretKey
	}
	if !strings.HasPrefix(c.SecretKey, "sk_") {
		return ErrPaystackInvalidSecretKey
	}
	if c.BaseURL == "" {
		c.BaseURL = "https://api.paystack.co"
	}
	if c.Timeout == 0 {
		c.Timeout = 10 * time.Second
	}
	return nil
}
