package handler

import (
	billingapp "github.com/clinicops/backend/internal/application/billing"
	"github.com/clinicops/backend/internal/domain/billing"
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// PaymentHandler handles payment registration endpoints
type PaymentHandler struct {
	BaseHandler
	reconciliation *billingapp.ReconciliationService
	gateway        *billingapp.GatewayPaymentService
}

// NewPaymentHandler creates a new PaymentHandler
func NewPaymentHandler(
	reconciliation *billingapp.ReconciliationService,
	gateway *billingapp.GatewayPaymentService,
) *PaymentHandler {
	return &PaymentHandler{
		reconciliation: reconciliation,
		gateway:        gateway,
	}
}

// RegisterPaymentRequest represents a payment intent against a charge order
type RegisterPaymentRequest struct {
	Amount          float64 `json:"amount" binding:"required,gt=0" example:"350.00"`
	Method          string  `json:"method" binding:"required,oneof=CASH CARD TRANSFER MOBILE OTHER" example:"CASH"`
	ReferenceNumber string  `json:"reference_number" binding:"max=100"`
	BankName        string  `json:"bank_name" binding:"max=100"`
	IdempotencyKey  string  `json:"idempotency_key" binding:"max=100"`
}

// RegisterManualPaymentRequest represents a human-asserted payment
// confirmation recorded while the gateway is unreachable
type RegisterManualPaymentRequest struct {
	Amount          float64 `json:"amount" binding:"required,gt=0" example:"350.00"`
	ReferenceNumber string  `json:"reference_number" binding:"required,max=100"`
	BankName        string  `json:"bank_name" binding:"required,max=100"`
	Reason          string  `json:"reason" binding:"required,min=1,max=500" example:"Gateway offline, reference checked against bank portal"`
	IdempotencyKey  string  `json:"idempotency_key" binding:"max=100"`
}

// InitiateGatewayChargeRequest starts a gateway-backed mobile payment
type InitiateGatewayChargeRequest struct {
	Amount      float64 `json:"amount" binding:"required,gt=0" example:"350.00"`
	PhoneNumber string  `json:"phone_number" binding:"required,max=20" example:"0414-5551234"`
}

// RegisterRoutes registers payment routes
func (h *PaymentHandler) RegisterRoutes(rg *gin.RouterGroup) {
	group := rg.Group("/billing")
	{
		group.POST("/charge-orders/:id/payments", h.Register)
		group.POST("/charge-orders/:id/manual-payments", h.RegisterManual)
		group.POST("/charge-orders/:id/gateway-charges", h.InitiateGatewayCharge)
		group.POST("/payments/:id/poll", h.Poll)
	}
}

// Register validates and commits a confirmed payment against a charge order.
// Retried requests carrying the same idempotency key return the original
// result instead of double-charging.
func (h *PaymentHandler) Register(c *gin.Context) {
	institutionID, err := getInstitutionID(c)
	if err != nil {
		h.Unauthorized(c, "Institution identification required")
		return
	}

	orderID, err := uuid.Parse(c.Param("id"))
	if err != nil {
		h.BadRequest(c, "Invalid charge order ID format")
		return
	}

	var req RegisterPaymentRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		h.BadRequest(c, err.Error())
		return
	}

	result, err := h.reconciliation.RegisterPayment(c.Request.Context(), billingapp.RegisterPaymentRequest{
		InstitutionID:   institutionID,
		ChargeOrderID:   orderID,
		Amount:          decimal.NewFromFloat(req.Amount),
		Method:          billing.PaymentMethod(req.Method),
		ReferenceNumber: req.ReferenceNumber,
		BankName:        req.BankName,
		IdempotencyKey:  idempotencyKey(c, req.IdempotencyKey),
		Actor:           getActorID(c),
	})
	if err != nil {
		h.HandleDomainError(c, err)
		return
	}

	if result.AlreadyProcessed {
		h.Success(c, result)
		return
	}
	h.Created(c, result)
}

// RegisterManual records a manually verified payment. This is the fallback
// path when the gateway cannot confirm a mobile payment.
func (h *PaymentHandler) RegisterManual(c *gin.Context) {
	institutionID, err := getInstitutionID(c)
	if err != nil {
		h.Unauthorized(c, "Institution identification required")
		return
	}

	orderID, err := uuid.Parse(c.Param("id"))
	if err != nil {
		h.BadRequest(c, "Invalid charge order ID format")
		return
	}

	var req RegisterManualPaymentRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		h.BadRequest(c, err.Error())
		return
	}

	result, err := h.reconciliation.RegisterManualPayment(c.Request.Context(), billingapp.RegisterManualPaymentRequest{
		InstitutionID:   institutionID,
		ChargeOrderID:   orderID,
		Amount:          decimal.NewFromFloat(req.Amount),
		ReferenceNumber: req.ReferenceNumber,
		BankName:        req.BankName,
		Reason:          req.Reason,
		IdempotencyKey:  idempotencyKey(c, req.IdempotencyKey),
		Actor:           getActorID(c),
	})
	if err != nil {
		h.HandleDomainError(c, err)
		return
	}

	if result.AlreadyProcessed {
		h.Success(c, result)
		return
	}
	h.Created(c, result)
}

// InitiateGatewayCharge starts a gateway-backed mobile payment. The payment
// stays pending until the gateway confirms it via callback or polling.
func (h *PaymentHandler) InitiateGatewayCharge(c *gin.Context) {
	institutionID, err := getInstitutionID(c)
	if err != nil {
		h.Unauthorized(c, "Institution identification required")
		return
	}

	orderID, err := uuid.Parse(c.Param("id"))
	if err != nil {
		h.BadRequest(c, "Invalid charge order ID format")
		return
	}

	var req InitiateGatewayChargeRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		h.BadRequest(c, err.Error())
		return
	}

	payment, err := h.gateway.InitiateGatewayCharge(c.Request.Context(), billingapp.InitiateGatewayChargeRequest{
		InstitutionID: institutionID,
		ChargeOrderID: orderID,
		Amount:        decimal.NewFromFloat(req.Amount),
		PhoneNumber:   req.PhoneNumber,
		Actor:         getActorID(c),
	})
	if err != nil {
		h.HandleDomainError(c, err)
		return
	}

	h.Created(c, payment)
}

// Poll asks the gateway for the current status of a pending payment and
// settles it when the gateway reports a final state.
func (h *PaymentHandler) Poll(c *gin.Context) {
	institutionID, err := getInstitutionID(c)
	if err != nil {
		h.Unauthorized(c, "Institution identification required")
		return
	}

	paymentID, err := uuid.Parse(c.Param("id"))
	if err != nil {
		h.BadRequest(c, "Invalid payment ID format")
		return
	}

	result, err := h.gateway.PollPendingPayment(c.Request.Context(), institutionID, paymentID)
	if err != nil {
		h.HandleDomainError(c, err)
		return
	}

	h.Success(c, result)
}

// idempotencyKey resolves the key from the request body, falling back to the
// Idempotency-Key header.
func idempotencyKey(c *gin.Context, bodyKey string) string {
	if bodyKey != "" {
		return bodyKey
	}
	return c.GetHeader("Idempotency-Key")
}
