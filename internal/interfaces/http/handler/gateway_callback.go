package handler

import (
	"errors"
	"io"
	"net/http"

	billingapp "github.com/clinicops/backend/internal/application/billing"
	"github.com/clinicops/backend/internal/interfaces/http/dto"
	"github.com/gin-gonic/gin"
)

// maxCallbackBodySize bounds gateway notification bodies
const maxCallbackBodySize = 64 * 1024

// GatewayCallbackHandler receives pushed payment notifications from the
// external P2C gateway. The endpoint is outside the institution scope: the
// notification is matched to its payment by gateway transaction ID, and the
// payment record carries the institution.
type GatewayCallbackHandler struct {
	BaseHandler
	gateway *billingapp.GatewayPaymentService
}

// NewGatewayCallbackHandler creates a new GatewayCallbackHandler
func NewGatewayCallbackHandler(gateway *billingapp.GatewayPaymentService) *GatewayCallbackHandler {
	return &GatewayCallbackHandler{gateway: gateway}
}

// RegisterRoutes registers the callback route
func (h *GatewayCallbackHandler) RegisterRoutes(rg *gin.RouterGroup) {
	rg.POST("/billing/gateway/callback", h.HandleCallback)
}

// HandleCallback verifies and processes a pushed gateway notification.
// Redelivered notifications are acknowledged without reprocessing, so the
// gateway can retry safely.
func (h *GatewayCallbackHandler) HandleCallback(c *gin.Context) {
	payload, err := io.ReadAll(io.LimitReader(c.Request.Body, maxCallbackBodySize))
	if err != nil {
		h.BadRequest(c, "Failed to read callback body")
		return
	}
	if len(payload) == 0 {
		h.BadRequest(c, "Callback body is empty")
		return
	}

	signature := c.GetHeader("X-Signature")

	result, err := h.gateway.ProcessCallback(c.Request.Context(), payload, signature)
	if err != nil {
		if errors.Is(err, billingapp.ErrCallbackVerificationFailed) {
			h.Error(c, http.StatusUnauthorized, dto.ErrCodeInvalidSignature, "Callback signature verification failed")
			return
		}
		if errors.Is(err, billingapp.ErrCallbackUnknownTransaction) {
			h.NotFound(c, "No pending payment for this transaction")
			return
		}
		h.HandleDomainError(c, err)
		return
	}

	h.Success(c, result)
}
