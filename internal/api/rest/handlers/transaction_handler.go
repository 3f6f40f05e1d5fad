package handlers

import (
	"net/http"

	"github.com/Dhoini/Billing-engine/internal/domain"
	"github.com/Dhoini/Billing-engine/internal/repository"
	"github.com/Dhoini/Billing-engine/internal/service"
	"github.com/Dhoini/Billing-engine/pkg/logger"
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
)

// TransactionHandler обработчик финансового журнала
type TransactionHandler struct {
	txs service.TransactionService
	log *logger.Logger
}

// NewTransactionHandler создает обработчик транзакций
func NewTransactionHandler(txs service.TransactionService, log *logger.Logger) *TransactionHandler {
	return &TransactionHandler{
		txs: txs,
		log: log,
	}
}

// List возвращает транзакции по фильтру из query-параметров
func (h *TransactionHandler) List(c *gin.Context) {
	filter := repository.TransactionFilter{}

	if raw := c.Query("user_id"); raw != "" {
		userID, err := uuid.Parse(raw)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid user id"})
			return
		}
		filter.UserID = &userID
	}
	if raw := c.Query("subscription_id"); raw != "" {
		subID, err := uuid.Parse(raw)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid subscription id"})
			return
		}
		filter.SubscriptionID = &subID
	}
	filter.Status = domain.TransactionStatus(c.Query("status"))
	filter.Type = domain.TransactionType(c.Query("type"))
	filter.GatewayID = c.Query("gateway_id")
	filter.ProductID = c.Query("product_id")
	filter.Limit = parseIntQuery(c, "limit", 50)
	filter.Offset = parseIntQuery(c, "offset", 0)

	txs, err := h.txs.List(c.Request.Context(), filter)
	if err != nil {
		respondError(c, h.log, err, "transactions.list")
		return
	}
	c.JSON(http.StatusOK, gin.H{"transactions": txs, "count": len(txs)})
}

// Get возвращает транзакцию по ID или по trans_num
func (h *TransactionHandler) Get(c *gin.Context) {
	raw := c.Param("id")

	if id, err := uuid.Parse(raw); err == nil {
		tx, err := h.txs.GetByID(c.Request.Context(), id)
		if err != nil {
			respondError(c, h.log, err, "transactions.get")
			return
		}
		c.JSON(http.StatusOK, tx)
		return
	}

	tx, err := h.txs.GetByTransNum(c.Request.Context(), raw)
	if err != nil {
		respondError(c, h.log, err, "transactions.getByTransNum")
		return
	}
	c.JSON(http.StatusOK, tx)
}
