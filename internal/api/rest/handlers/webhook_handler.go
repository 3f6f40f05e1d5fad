package handlers

import (
	"io"
	"net/http"

	"github.com/Dhoini/Billing-engine/internal/service"
	"github.com/Dhoini/Billing-engine/pkg/logger"
	"github.com/gin-gonic/gin"
)

// maxWebhookBodySize предел размера тела вебхука
const maxWebhookBodySize = 1 << 20 // 1 MiB

// WebhookHandler принимает вебхуки платежных провайдеров
type WebhookHandler struct {
	webhooks service.WebhookService
	log      *logger.Logger
}

// NewWebhookHandler создает обработчик вебхуков
func NewWebhookHandler(webhooks service.WebhookService, log *logger.Logger) *WebhookHandler {
	return &WebhookHandler{
		webhooks: webhooks,
		log:      log,
	}
}

// Handle принимает вебхук для шлюза из пути. Тело передается сервису
// сырым: подпись считается по байтам как есть.
func (h *WebhookHandler) Handle(c *gin.Context) {
	gatewayID := c.Param("gateway")

	payload, err := io.ReadAll(io.LimitReader(c.Request.Body, maxWebhookBodySize))
	if err != nil {
		h.log.Errorw("Failed to read webhook body", "gatewayID", gatewayID, "error", err)
		c.JSON(http.StatusBadRequest, gin.H{"error": "failed to read webhook body"})
		return
	}

	// Имя заголовка подписи знает шлюз, маршрут к провайдеру не привязан
	var sigHeader string
	if name := h.webhooks.SignatureHeader(gatewayID); name != "" {
		sigHeader = c.GetHeader(name)
	}
	status := h.webhooks.Handle(c.Request.Context(), gatewayID, payload, sigHeader)
	c.Status(status)
}
