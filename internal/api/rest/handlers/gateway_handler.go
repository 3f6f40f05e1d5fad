package handlers

import (
	"net/http"

	"github.com/Dhoini/Billing-engine/internal/gateway"
	"github.com/Dhoini/Billing-engine/pkg/logger"
	"github.com/Dhoini/Billing-engine/pkg/req"
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

// GatewaySettingsBody тело запроса на настройку шлюза
type GatewaySettingsBody struct {
	Settings map[string]string `json:"settings" validate:"required"`
}

// GatewayHandler админский обработчик управления шлюзами
type GatewayHandler struct {
	registry *gateway.Registry
	store    gateway.SettingsStore
	log      *logger.Logger
	vlog     *zap.Logger
}

// NewGatewayHandler создает обработчик шлюзов
func NewGatewayHandler(registry *gateway.Registry, store gateway.SettingsStore, log *logger.Logger, vlog *zap.Logger) *GatewayHandler {
	return &GatewayHandler{
		registry: registry,
		store:    store,
		log:      log,
		vlog:     vlog,
	}
}

// List возвращает сводку по зарегистрированным шлюзам
func (h *GatewayHandler) List(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"gateways": h.registry.List()})
}

// Configure валидирует и сохраняет настройки шлюза
func (h *GatewayHandler) Configure(c *gin.Context) {
	body, err := req.HandleBody[GatewaySettingsBody](c.Writer, c.Request, h.vlog)
	if err != nil {
		return
	}

	id := c.Param("id")
	if err := h.registry.Configure(c.Request.Context(), id, body.Settings, h.store); err != nil {
		respondError(c, h.log, err, "gateways.configure")
		return
	}

	h.log.Infow("Gateway configured", "gatewayID", id)
	c.JSON(http.StatusOK, gin.H{"status": "configured"})
}

// Enable включает шлюз
func (h *GatewayHandler) Enable(c *gin.Context) {
	id := c.Param("id")
	if err := h.registry.Enable(id); err != nil {
		respondError(c, h.log, err, "gateways.enable")
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "enabled"})
}

// Disable выключает шлюз
func (h *GatewayHandler) Disable(c *gin.Context) {
	id := c.Param("id")
	if err := h.registry.Disable(id); err != nil {
		respondError(c, h.log, err, "gateways.disable")
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "disabled"})
}
