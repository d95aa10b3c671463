package handler

import (
	"time"

	billingapp "github.com/clinicops/backend/internal/application/billing"
	"github.com/clinicops/backend/internal/domain/billing"
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// ChargeOrderHandler handles charge order API endpoints
type ChargeOrderHandler struct {
	BaseHandler
	reconciliation *billingapp.ReconciliationService
	query          *billingapp.ChargeOrderQueryService
}

// NewChargeOrderHandler creates a new ChargeOrderHandler
func NewChargeOrderHandler(
	reconciliation *billingapp.ReconciliationService,
	query *billingapp.ChargeOrderQueryService,
) *ChargeOrderHandler {
	return &ChargeOrderHandler{
		reconciliation: reconciliation,
		query:          query,
	}
}

// ChargeItemRequest represents one billable line in a create request
type ChargeItemRequest struct {
	Code        string  `json:"code" binding:"required,min=1,max=50" example:"CONSULT-GEN"`
	Description string  `json:"description" binding:"max=200" example:"General consultation"`
	Quantity    int     `json:"quantity" binding:"required,gt=0" example:"1"`
	UnitPrice   float64 `json:"unit_price" binding:"required,gt=0" example:"350.00"`
}

// CreateChargeOrderRequest represents a request to issue a charge order
type CreateChargeOrderRequest struct {
	PatientID     string              `json:"patient_id" binding:"required,uuid"`
	AppointmentID string              `json:"appointment_id" binding:"required,uuid"`
	OrderNumber   string              `json:"order_number" binding:"max=50"`
	Items         []ChargeItemRequest `json:"items" binding:"required,min=1,dive"`
}

// VoidChargeOrderRequest represents a request to void a charge order
type VoidChargeOrderRequest struct {
	Reason string `json:"reason" binding:"required,min=1,max=500" example:"Duplicate order"`
}

// ListChargeOrdersRequest represents query parameters for listing charge orders
type ListChargeOrdersRequest struct {
	Page          int    `form:"page" binding:"omitempty,min=1"`
	PageSize      int    `form:"page_size" binding:"omitempty,min=1,max=100"`
	OrderBy       string `form:"order_by"`
	OrderDir      string `form:"order_dir" binding:"omitempty,oneof=asc desc"`
	Search        string `form:"search"`
	Status        string `form:"status" binding:"omitempty,oneof=OPEN PARTIALLY_PAID PAID VOID"`
	PatientID     string `form:"patient_id" binding:"omitempty,uuid"`
	AppointmentID string `form:"appointment_id" binding:"omitempty,uuid"`
	IssuedFrom    string `form:"issued_from" binding:"omitempty"`
	IssuedTo      string `form:"issued_to" binding:"omitempty"`
}

// RegisterRoutes registers charge order routes
func (h *ChargeOrderHandler) RegisterRoutes(rg *gin.RouterGroup) {
	orders := rg.Group("/billing/charge-orders")
	{
		orders.POST("", h.Create)
		orders.GET("", h.List)
		orders.GET("/:id", h.GetByID)
		orders.POST("/:id/void", h.Void)
		orders.GET("/:id/balance", h.GetBalance)
		orders.GET("/:id/payments", h.ListPayments)
		orders.GET("/:id/audit-events", h.ListAuditEvents)
	}
}

// Create issues a new charge order for a clinical encounter
func (h *ChargeOrderHandler) Create(c *gin.Context) {
	institutionID, err := getInstitutionID(c)
	if err != nil {
		h.Unauthorized(c, "Institution identification required")
		return
	}

	var req CreateChargeOrderRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		h.BadRequest(c, err.Error())
		return
	}

	patientID, err := uuid.Parse(req.PatientID)
	if err != nil {
		h.BadRequest(c, "Invalid patient ID format")
		return
	}
	appointmentID, err := uuid.Parse(req.AppointmentID)
	if err != nil {
		h.BadRequest(c, "Invalid appointment ID format")
		return
	}

	items := make([]billing.ChargeItem, len(req.Items))
	for i, item := range req.Items {
		unitPrice := decimal.NewFromFloat(item.UnitPrice)
		items[i] = billing.ChargeItem{
			Code:        item.Code,
			Description: item.Description,
			Quantity:    item.Quantity,
			UnitPrice:   unitPrice,
			Subtotal:    unitPrice.Mul(decimal.NewFromInt(int64(item.Quantity))),
		}
	}

	order, err := h.reconciliation.CreateChargeOrder(c.Request.Context(), billingapp.CreateChargeOrderRequest{
		InstitutionID: institutionID,
		PatientID:     patientID,
		AppointmentID: appointmentID,
		OrderNumber:   req.OrderNumber,
		Items:         items,
		Actor:         getActorID(c),
	})
	if err != nil {
		h.HandleDomainError(c, err)
		return
	}

	h.Created(c, order)
}

// GetByID returns a charge order with its reconciled balance
func (h *ChargeOrderHandler) GetByID(c *gin.Context) {
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

	view, err := h.query.GetChargeOrder(c.Request.Context(), institutionID, orderID)
	if err != nil {
		h.HandleDomainError(c, err)
		return
	}

	h.Success(c, view)
}

// List returns charge orders for the institution with filtering
func (h *ChargeOrderHandler) List(c *gin.Context) {
	institutionID, err := getInstitutionID(c)
	if err != nil {
		h.Unauthorized(c, "Institution identification required")
		return
	}

	req := ListChargeOrdersRequest{Page: 1, PageSize: 20}
	if err := c.ShouldBindQuery(&req); err != nil {
		h.BadRequest(c, err.Error())
		return
	}

	filter, err := buildChargeOrderFilter(req)
	if err != nil {
		h.BadRequest(c, err.Error())
		return
	}

	page, err := h.query.ListChargeOrders(c.Request.Context(), institutionID, filter)
	if err != nil {
		h.HandleDomainError(c, err)
		return
	}

	h.SuccessWithMeta(c, page.Items, page.Total, page.Page, page.PageSize)
}

// Void marks a charge order as void. Void is terminal.
func (h *ChargeOrderHandler) Void(c *gin.Context) {
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

	actor := getActorID(c)
	if actor == nil {
		h.BadRequest(c, "User identification required to void a charge order")
		return
	}

	var req VoidChargeOrderRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		h.BadRequest(c, err.Error())
		return
	}

	order, err := h.reconciliation.VoidChargeOrder(c.Request.Context(), billingapp.VoidChargeOrderRequest{
		InstitutionID: institutionID,
		ChargeOrderID: orderID,
		Actor:         *actor,
		Reason:        req.Reason,
	})
	if err != nil {
		h.HandleDomainError(c, err)
		return
	}

	h.Success(c, order)
}

// GetBalance returns the reconciled balance of a charge order
func (h *ChargeOrderHandler) GetBalance(c *gin.Context) {
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

	balance, err := h.reconciliation.GetBalance(c.Request.Context(), institutionID, orderID)
	if err != nil {
		h.HandleDomainError(c, err)
		return
	}

	h.Success(c, balance)
}

// ListPayments returns all payment records of a charge order
func (h *ChargeOrderHandler) ListPayments(c *gin.Context) {
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

	payments, err := h.query.ListPayments(c.Request.Context(), institutionID, orderID)
	if err != nil {
		h.HandleDomainError(c, err)
		return
	}

	h.Success(c, payments)
}

// ListAuditEvents returns the append-only history of a charge order
func (h *ChargeOrderHandler) ListAuditEvents(c *gin.Context) {
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

	events, err := h.reconciliation.ListAuditEvents(c.Request.Context(), institutionID, orderID)
	if err != nil {
		h.HandleDomainError(c, err)
		return
	}

	h.Success(c, events)
}

// buildChargeOrderFilter converts list query parameters to a domain filter
func buildChargeOrderFilter(req ListChargeOrdersRequest) (billing.ChargeOrderFilter, error) {
	filter := billing.ChargeOrderFilter{}
	filter.Page = req.Page
	filter.PageSize = req.PageSize
	filter.OrderBy = req.OrderBy
	filter.OrderDir = req.OrderDir
	filter.Search = req.Search

	if req.Status != "" {
		status := billing.ChargeOrderStatus(req.Status)
		filter.Status = &status
	}
	if req.PatientID != "" {
		patientID, err := uuid.Parse(req.PatientID)
		if err != nil {
			return filter, err
		}
		filter.PatientID = &patientID
	}
	if req.AppointmentID != "" {
		appointmentID, err := uuid.Parse(req.AppointmentID)
		if err != nil {
			return filter, err
		}
		filter.AppointmentID = &appointmentID
	}
	if req.IssuedFrom != "" {
		from, err := time.Parse(time.RFC3339, req.IssuedFrom)
		if err != nil {
			return filter, err
		}
		filter.IssuedFrom = &from
	}
	if req.IssuedTo != "" {
		to, err := time.Parse(time.RFC3339, req.IssuedTo)
		if err != nil {
			return filter, err
		}
		filter.IssuedTo = &to
	}

	return filter, nil
}
