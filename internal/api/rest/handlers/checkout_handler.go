package handlers

import (
	"net/http"

	"github.com/Dhoini/Billing-engine/internal/domain"
	"github.com/Dhoini/Billing-engine/internal/service"
	"github.com/Dhoini/Billing-engine/pkg/logger"
	"github.com/Dhoini/Billing-engine/pkg/req"
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

// CheckoutBody тело запроса на покупку
type CheckoutBody struct {
	UserID          string `json:"user_id" validate:"required,uuid4"`
	Email           string `json:"email" validate:"required,email"`
	ProductID       string `json:"product_id" validate:"required"`
	GatewayID       string `json:"gateway_id" validate:"required"`
	PaymentMethodID string `json:"payment_method_id,omitempty"`
}

// RefundBody тело запроса на возврат
type RefundBody struct {
	TransactionID string  `json:"transaction_id" validate:"required,uuid4"`
	Amount        float64 `json:"amount,omitempty" validate:"gte=0"`
	Reason        string  `json:"reason,omitempty"`
}

// CheckoutHandler обработчик покупок
type CheckoutHandler struct {
	checkout service.CheckoutService
	log      *logger.Logger
	vlog     *zap.Logger
}

// NewCheckoutHandler создает обработчик покупок
func NewCheckoutHandler(checkout service.CheckoutService, log *logger.Logger, vlog *zap.Logger) *CheckoutHandler {
	return &CheckoutHandler{
		checkout: checkout,
		log:      log,
		vlog:     vlog,
	}
}

// Subscribe оформляет подписку на продукт
func (h *CheckoutHandler) Subscribe(c *gin.Context) {
	body, err := req.HandleBody[CheckoutBody](c.Writer, c.Request, h.vlog)
	if err != nil {
		return
	}

	result, err := h.checkout.Subscribe(c.Request.Context(), h.toRequest(body))
	if err != nil {
		respondError(c, h.log, err, "checkout.subscribe")
		return
	}

	status := http.StatusCreated
	if !result.Success {
		status = http.StatusAccepted // ждет подтверждения оплаты
	}
	c.JSON(status, result)
}

// Purchase проводит разовую покупку
func (h *CheckoutHandler) Purchase(c *gin.Context) {
	body, err := req.HandleBody[CheckoutBody](c.Writer, c.Request, h.vlog)
	if err != nil {
		return
	}

	result, err := h.checkout.Purchase(c.Request.Context(), h.toRequest(body))
	if err != nil {
		respondError(c, h.log, err, "checkout.purchase")
		return
	}

	status := http.StatusCreated
	if !result.Success {
		status = http.StatusAccepted
	}
	c.JSON(status, result)
}

// Refund проводит возврат по транзакции
func (h *CheckoutHandler) Refund(c *gin.Context) {
	body, err := req.HandleBody[RefundBody](c.Writer, c.Request, h.vlog)
	if err != nil {
		return
	}

	txID, err := uuid.Parse(body.TransactionID)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid transaction id"})
		return
	}

	result, err := h.checkout.Refund(c.Request.Context(), domain.RefundRequest{
		TransactionID: txID,
		Amount:        body.Amount,
		Reason:        body.Reason,
	})
	if err != nil {
		respondError(c, h.log, err, "checkout.refund")
		return
	}
	c.JSON(http.StatusOK, result)
}

// toRequest переводит тело запроса в параметры чекаута.
// UserID уже проверен валидатором.
func (h *CheckoutHandler) toRequest(body *CheckoutBody) service.CheckoutRequest {
	userID, _ := uuid.Parse(body.UserID)
	return service.CheckoutRequest{
		UserID:          userID,
		Email:           body.Email,
		ProductID:       body.ProductID,
		GatewayID:       body.GatewayID,
		PaymentMethodID: body.PaymentMethodID,
	}
}
