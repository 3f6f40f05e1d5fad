package handlers

import (
	"net/http"
	"strconv"
	"time"

	"github.com/Dhoini/Billing-engine/internal/domain"
	"github.com/Dhoini/Billing-engine/internal/repository"
	"github.com/Dhoini/Billing-engine/internal/service"
	"github.com/Dhoini/Billing-engine/pkg/logger"
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
)

// SubscriptionHandler обработчик подписок
type SubscriptionHandler struct {
	subs service.SubscriptionService
	log  *logger.Logger
}

// NewSubscriptionHandler создает обработчик подписок
func NewSubscriptionHandler(subs service.SubscriptionService, log *logger.Logger) *SubscriptionHandler {
	return &SubscriptionHandler{
		subs: subs,
		log:  log,
	}
}

// List возвращает подписки по фильтру из query-параметров
func (h *SubscriptionHandler) List(c *gin.Context) {
	filter := repository.SubscriptionFilter{}

	if raw := c.Query("user_id"); raw != "" {
		userID, err := uuid.Parse(raw)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid user id"})
			return
		}
		filter.UserID = &userID
	}
	filter.Status = domain.SubscriptionStatus(c.Query("status"))
	filter.GatewayID = c.Query("gateway_id")
	filter.ProductID = c.Query("product_id")
	filter.Limit = parseIntQuery(c, "limit", 50)
	filter.Offset = parseIntQuery(c, "offset", 0)

	subs, err := h.subs.List(c.Request.Context(), filter)
	if err != nil {
		respondError(c, h.log, err, "subscriptions.list")
		return
	}
	c.JSON(http.StatusOK, gin.H{"subscriptions": subs, "count": len(subs)})
}

// Get возвращает подписку по ID
func (h *SubscriptionHandler) Get(c *gin.Context) {
	id, ok := h.parseID(c)
	if !ok {
		return
	}

	sub, err := h.subs.GetByID(c.Request.Context(), id)
	if err != nil {
		respondError(c, h.log, err, "subscriptions.get")
		return
	}
	c.JSON(http.StatusOK, sub)
}

// ListByUser возвращает активные подписки пользователя
func (h *SubscriptionHandler) ListByUser(c *gin.Context) {
	userID, err := uuid.Parse(c.Param("id"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid user id"})
		return
	}

	subs, err := h.subs.ListActiveByUser(c.Request.Context(), userID)
	if err != nil {
		respondError(c, h.log, err, "subscriptions.listByUser")
		return
	}
	c.JSON(http.StatusOK, gin.H{"subscriptions": subs, "count": len(subs)})
}

// Activate админская активация подписки (ручное подтверждение оплаты)
func (h *SubscriptionHandler) Activate(c *gin.Context) {
	id, ok := h.parseID(c)
	if !ok {
		return
	}

	sub, err := h.subs.Activate(c.Request.Context(), id, time.Now())
	if err != nil {
		respondError(c, h.log, err, "subscriptions.activate")
		return
	}
	c.JSON(http.StatusOK, sub)
}

// Cancel отменяет подписку
func (h *SubscriptionHandler) Cancel(c *gin.Context) {
	id, ok := h.parseID(c)
	if !ok {
		return
	}

	sub, err := h.subs.Cancel(c.Request.Context(), id)
	if err != nil {
		respondError(c, h.log, err, "subscriptions.cancel")
		return
	}
	c.JSON(http.StatusOK, sub)
}

// Suspend приостанавливает подписку
func (h *SubscriptionHandler) Suspend(c *gin.Context) {
	id, ok := h.parseID(c)
	if !ok {
		return
	}

	sub, err := h.subs.Suspend(c.Request.Context(), id)
	if err != nil {
		respondError(c, h.log, err, "subscriptions.suspend")
		return
	}
	c.JSON(http.StatusOK, sub)
}

// Reactivate возвращает подписку в строй с новым платежным якорем
func (h *SubscriptionHandler) Reactivate(c *gin.Context) {
	id, ok := h.parseID(c)
	if !ok {
		return
	}

	sub, err := h.subs.Reactivate(c.Request.Context(), id, time.Now())
	if err != nil {
		respondError(c, h.log, err, "subscriptions.reactivate")
		return
	}
	c.JSON(http.StatusOK, sub)
}

// Renew админское продление подписки без списания средств
func (h *SubscriptionHandler) Renew(c *gin.Context) {
	id, ok := h.parseID(c)
	if !ok {
		return
	}

	transNum := domain.NewTransNum("adm")
	sub, err := h.subs.Renew(c.Request.Context(), id, transNum, time.Now())
	if err != nil {
		respondError(c, h.log, err, "subscriptions.renew")
		return
	}
	c.JSON(http.StatusOK, sub)
}

// parseID разбирает :id из пути
func (h *SubscriptionHandler) parseID(c *gin.Context) (uuid.UUID, bool) {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid subscription id"})
		return uuid.Nil, false
	}
	return id, true
}

// parseIntQuery разбирает числовой query-параметр с дефолтом
func parseIntQuery(c *gin.Context, name string, def int) int {
	raw := c.Query(name)
	if raw == "" {
		return def
	}
	value, err := strconv.Atoi(raw)
	if err != nil || value < 0 {
		return def
	}
	return value
}
