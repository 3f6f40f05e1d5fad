package handlers

import (
	"errors"
	"net/http"

	"github.com/Dhoini/Billing-engine/internal/domain"
	"github.com/Dhoini/Billing-engine/pkg/logger"
	"github.com/gin-gonic/gin"
)

// respondError переводит доменные ошибки в HTTP-статусы единообразно
// для всех обработчиков
func respondError(c *gin.Context, log *logger.Logger, err error, action string) {
	var (
		capErr  *domain.CapabilityError
		provErr *domain.ProviderError
		valErrs *domain.ValidationErrors
		tranErr *domain.TransitionError
	)

	switch {
	case errors.As(err, &valErrs):
		c.JSON(http.StatusUnprocessableEntity, gin.H{"error": "validation failed", "fields": valErrs.Fields()})
	case errors.As(err, &capErr):
		c.JSON(http.StatusBadRequest, gin.H{"error": capErr.Error()})
	case errors.As(err, &tranErr):
		c.JSON(http.StatusConflict, gin.H{"error": tranErr.Error()})
	case errors.Is(err, domain.ErrNotFound):
		c.JSON(http.StatusNotFound, gin.H{"error": "not found"})
	case errors.Is(err, domain.ErrGatewayNotFound):
		c.JSON(http.StatusNotFound, gin.H{"error": "gateway not found"})
	case errors.Is(err, domain.ErrGatewayDisabled):
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "gateway is disabled"})
	case errors.Is(err, domain.ErrDuplicate):
		c.JSON(http.StatusConflict, gin.H{"error": "already exists"})
	case errors.Is(err, domain.ErrStaleRenewal):
		c.JSON(http.StatusConflict, gin.H{"error": "renewal already applied"})
	case errors.Is(err, domain.ErrInvalidTransition):
		c.JSON(http.StatusConflict, gin.H{"error": "invalid status transition"})
	case errors.Is(err, domain.ErrInvalidInput):
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
	case errors.Is(err, domain.ErrTimeoutExceeded):
		c.JSON(http.StatusGatewayTimeout, gin.H{"error": "payment provider timed out"})
	case errors.As(err, &provErr):
		log.Errorw("Provider error", "action", action, "provider", provErr.Provider, "code", provErr.Code, "error", err)
		c.JSON(http.StatusBadGateway, gin.H{"error": "payment provider error"})
		return
	default:
		log.Errorw("Request failed", "action", action, "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal error"})
		return
	}

	log.Warnw("Request rejected", "action", action, "error", err)
}
