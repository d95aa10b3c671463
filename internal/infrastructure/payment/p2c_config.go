package payment

import (
	"errors"
	"time"
)

const defaultP2CRequestTimeout = 10 * time.Second

// P2CConfig holds the connection settings for the P2C mobile payment
// provider. CallbackSecret is the shared HMAC key for webhook signatures
// and is distinct from the API key used on outbound requests.
type P2CConfig struct {
	BaseURL        string
	MerchantID     string
	APIKey         string
	CallbackSecret string
	RequestTimeout time.Duration
}

// Validate checks the configuration
func (c *P2CConfig) Validate() error {
	if c.BaseURL == "" {
		return errors.New("p2c: base URL is required")
	}
	if c.MerchantID == "" {
		return errors.New("p2c: merchant ID is required")
	}
	if c.APIKey == "" {
		return errors.New("p2c: API key is required")
	}
	if c.CallbackSecret == "" {
		return errors.New("p2c: callback secret is required")
	}
	if c.RequestTimeout <= 0 {
		c.RequestTimeout = defaultP2CRequestTimeout
	}
	return nil
}
