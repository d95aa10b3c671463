package payment

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/clinicops/backend/internal/domain/billing"
	"github.com/clinicops/backend/internal/domain/shared"
)

const (
	p2cChargePath = "/api/v1/charges"
	p2cQueryPath  = "/api/v1/charges/%s"
)

// P2CAdapter implements PaymentGateway for the P2C mobile payment provider.
// Requests are signed with HMAC-SHA256 over the method, path, timestamp and
// body. A provider that cannot be reached surfaces DEPENDENCY_UNAVAILABLE so
// callers can fall back to manual verification.
type P2CAdapter struct {
	config     *P2CConfig
	httpClient *http.Client
}

// NewP2CAdapter creates a new P2C adapter
func NewP2CAdapter(config *P2CConfig) (*P2CAdapter, error) {
	if err := config.Validate(); err != nil {
		return nil, err
	}

	return &P2CAdapter{
		config: config,
		httpClient: &http.Client{
			Timeout: config.RequestTimeout,
		},
	}, nil
}

// InitiateCharge starts a charge against the payer's phone number and
// returns the pending transaction handle.
func (a *P2CAdapter) InitiateCharge(ctx context.Context, orderID uuid.UUID, amount decimal.Decimal, phoneNumber string) (*billing.GatewayCharge, error) {
	body := p2cChargeRequest{
		MerchantID:  a.config.MerchantID,
		OrderID:     orderID.String(),
		Amount:      amount.StringFixed(2),
		Currency:    "VES",
		PhoneNumber: phoneNumber,
	}
	bodyBytes, err := json.Marshal(body)
	if err != nil {
		return nil, fmt.Errorf("p2c: failed to marshal request: %w", err)
	}

	respBody, err := a.doRequest(ctx, http.MethodPost, p2cChargePath, bodyBytes)
	if err != nil {
		return nil, err
	}

	var respData p2cChargeResponse
	if err := json.Unmarshal(respBody, &respData); err != nil {
		return nil, fmt.Errorf("p2c: failed to parse response: %w", err)
	}

	return chargeFromResponse(&respData), nil
}

// PollStatus queries the provider for the current status of a charge
func (a *P2CAdapter) PollStatus(ctx context.Context, transactionID string) (*billing.GatewayCharge, error) {
	if transactionID == "" {
		return nil, shared.ErrInvalidInput
	}

	path := fmt.Sprintf(p2cQueryPath, transactionID)

	respBody, err := a.doRequest(ctx, http.MethodGet, path, nil)
	if err != nil {
		return nil, err
	}

	var respData p2cChargeResponse
	if err := json.Unmarshal(respBody, &respData); err != nil {
		return nil, fmt.Errorf("p2c: failed to parse response: %w", err)
	}

	return chargeFromResponse(&respData), nil
}

// VerifyCallback checks the HMAC signature of a pushed notification against
// the callback secret and returns the decoded content.
func (a *P2CAdapter) VerifyCallback(payload []byte, signature string) (*billing.GatewayCallback, error) {
	if signature == "" {
		return nil, shared.NewDomainError("INVALID_SIGNATURE", "Callback signature is missing")
	}

	mac := hmac.New(sha256.New, []byte(a.config.CallbackSecret))
	mac.Write(payload)
	expected := hex.EncodeToString(mac.Sum(nil))

	if !hmac.Equal([]byte(expected), []byte(signature)) {
		return nil, shared.NewDomainError("INVALID_SIGNATURE", "Callback signature does not match")
	}

	var data p2cCallbackPayload
	if err := json.Unmarshal(payload, &data); err != nil {
		return nil, fmt.Errorf("p2c: failed to parse notification: %w", err)
	}
	if data.TransactionID == "" {
		return nil, fmt.Errorf("p2c: notification missing transaction_id")
	}

	callback := &billing.GatewayCallback{
		NotificationID: data.NotificationID,
		TransactionID:  data.TransactionID,
		Status:         mapP2CStatus(data.Status),
		Reference:      data.Reference,
	}

	if data.Amount != "" {
		amount, err := decimal.NewFromString(data.Amount)
		if err != nil {
			return nil, fmt.Errorf("p2c: invalid notification amount %q: %w", data.Amount, err)
		}
		callback.Amount = amount
	}
	if data.ReceivedAt != "" {
		if t, err := time.Parse(time.RFC3339, data.ReceivedAt); err == nil {
			callback.ReceivedAt = t
		}
	}

	return callback, nil
}

// doRequest performs a signed HTTP request against the provider
func (a *P2CAdapter) doRequest(ctx context.Context, method, path string, body []byte) ([]byte, error) {
	url := a.config.BaseURL + path

	var reqBody io.Reader
	if body != nil {
		reqBody = bytes.NewReader(body)
	}

	req, err := http.NewRequestWithContext(ctx, method, url, reqBody)
	if err != nil {
		return nil, fmt.Errorf("p2c: failed to create request: %w", err)
	}

	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")

	timestamp := strconv.FormatInt(time.Now().Unix(), 10)
	req.Header.Set("Authorization", a.authHeader(method, path, timestamp, body))

	resp, err := a.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", shared.ErrDependencyUnavailable, err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("p2c: failed to read response: %w", err)
	}

	// A provider-side failure is indistinguishable from an unreachable
	// provider for the caller: both route to the manual fallback.
	if resp.StatusCode >= 500 {
		return nil, fmt.Errorf("%w: HTTP %d", shared.ErrDependencyUnavailable, resp.StatusCode)
	}
	if resp.StatusCode >= 400 {
		var errResp p2cErrorResponse
		if err := json.Unmarshal(respBody, &errResp); err == nil && errResp.Code != "" {
			return nil, shared.NewDomainError("GATEWAY_REJECTED", fmt.Sprintf("Gateway rejected request: %s - %s", errResp.Code, errResp.Message))
		}
		return nil, shared.NewDomainError("GATEWAY_REJECTED", fmt.Sprintf("Gateway rejected request: HTTP %d", resp.StatusCode))
	}

	return respBody, nil
}

// authHeader signs the request with HMAC-SHA256 over method, path,
// timestamp and body.
func (a *P2CAdapter) authHeader(method, path, timestamp string, body []byte) string {
	mac := hmac.New(sha256.New, []byte(a.config.APIKey))
	fmt.Fprintf(mac, "%s\n%s\n%s\n", method, path, timestamp)
	mac.Write(body)
	signature := hex.EncodeToString(mac.Sum(nil))

	return fmt.Sprintf(`P2C-HMAC-SHA256 merchant="%s",timestamp="%s",signature="%s"`,
		a.config.MerchantID, timestamp, signature)
}

func chargeFromResponse(resp *p2cChargeResponse) *billing.GatewayCharge {
	charge := &billing.GatewayCharge{
		TransactionID: resp.TransactionID,
		Status:        mapP2CStatus(resp.Status),
		Reference:     resp.Reference,
	}
	if resp.CreatedAt != "" {
		if t, err := time.Parse(time.RFC3339, resp.CreatedAt); err == nil {
			charge.CreatedAt = t
		}
	}
	return charge
}

// Ensure P2CAdapter implements PaymentGateway interface
var _ billing.PaymentGateway = (*P2CAdapter)(nil)
