package handlers

import (
	"context"
	"net/http"
	"time"

	"github.com/Dhoini/Billing-engine/internal/gateway"
	"github.com/gin-gonic/gin"
)

// Pinger проверяет доступность хранилища
type Pinger interface {
	Ping(ctx context.Context) error
}

// HealthHandler обработчик проверки готовности биллинга
type HealthHandler struct {
	db       Pinger
	registry *gateway.Registry
}

// NewHealthHandler создает обработчик проверки готовности
func NewHealthHandler(db Pinger, registry *gateway.Registry) *HealthHandler {
	return &HealthHandler{
		db:       db,
		registry: registry,
	}
}

// Check отвечает 200, пока доступна база; включенные шлюзы
// отдаются счетчиком для мониторинга
func (h *HealthHandler) Check(c *gin.Context) {
	status := "ok"
	code := http.StatusOK

	dbStatus := "up"
	if h.db != nil {
		if err := h.db.Ping(c.Request.Context()); err != nil {
			status = "degraded"
			code = http.StatusServiceUnavailable
			dbStatus = "down"
		}
	}

	enabled := 0
	if h.registry != nil {
		for _, info := range h.registry.List() {
			if info.Enabled {
				enabled++
			}
		}
	}

	c.JSON(code, gin.H{
		"status":           status,
		"database":         dbStatus,
		"gateways_enabled": enabled,
		"time":             time.Now().UTC().Format(time.RFC3339),
	})
}
