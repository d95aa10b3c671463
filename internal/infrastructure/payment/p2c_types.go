package payment

import "github.com/clinicops/backend/internal/domain/billing"

// p2cChargeRequest is the request body for initiating a charge
type p2cChargeRequest struct {
	MerchantID  string `json:"merchant_id"`
	OrderID     string `json:"order_id"`
	Amount      string `json:"amount"`
	Currency    string `json:"currency"`
	PhoneNumber string `json:"phone_number"`
}

// p2cChargeResponse is the provider's view of a charge, returned both when
// initiating and when querying.
type p2cChargeResponse struct {
	TransactionID string `json:"transaction_id"`
	Status        string `json:"status"`
	Reference     string `json:"reference"`
	CreatedAt     string `json:"created_at"`
}

// p2cCallbackPayload is the body of a pushed payment notification
type p2cCallbackPayload struct {
	NotificationID string `json:"notification_id"`
	TransactionID  string `json:"transaction_id"`
	Status         string `json:"status"`
	Reference      string `json:"reference"`
	Amount         string `json:"amount"`
	ReceivedAt     string `json:"received_at"`
}

// p2cErrorResponse represents an error response from the provider
type p2cErrorResponse struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// mapP2CStatus maps the provider's wire status to our status
func mapP2CStatus(status string) billing.GatewayChargeStatus {
	switch status {
	case "APPROVED":
		return billing.GatewayChargeConfirmed
	case "REJECTED", "FAILED", "EXPIRED":
		return billing.GatewayChargeFailed
	case "PENDING", "IN_PROGRESS":
		return billing.GatewayChargePending
	default:
		return billing.GatewayChargePending
	}
}
