package rest

import (
	"github.com/Dhoini/Billing-engine/internal/api/rest/handlers"
	"github.com/Dhoini/Billing-engine/internal/api/rest/middleware"
	"github.com/Dhoini/Billing-engine/internal/gateway"
	"github.com/Dhoini/Billing-engine/internal/service"
	"github.com/Dhoini/Billing-engine/pkg/logger"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"
)

// Deps зависимости HTTP-слоя
type Deps struct {
	Checkout      service.CheckoutService
	Subscriptions service.SubscriptionService
	Transactions  service.TransactionService
	Webhooks      service.WebhookService
	Registry      *gateway.Registry
	SettingsStore gateway.SettingsStore
	DB            handlers.Pinger
	PromRegistry  *prometheus.Registry
	Log           *logger.Logger
	VLog          *zap.Logger
}

// SetupRouter настраивает маршрутизатор Gin с маршрутами и middleware
func SetupRouter(deps Deps) *gin.Engine {
	r := gin.New()

	r.Use(middleware.LoggerMiddleware(deps.Log))
	r.Use(gin.Recovery())

	healthHandler := handlers.NewHealthHandler(deps.DB, deps.Registry)
	r.GET("/health", healthHandler.Check)
	r.GET("/metrics", gin.WrapH(promhttp.HandlerFor(deps.PromRegistry, promhttp.HandlerOpts{})))

	checkoutHandler := handlers.NewCheckoutHandler(deps.Checkout, deps.Log, deps.VLog)
	subscriptionHandler := handlers.NewSubscriptionHandler(deps.Subscriptions, deps.Log)
	transactionHandler := handlers.NewTransactionHandler(deps.Transactions, deps.Log)
	gatewayHandler := handlers.NewGatewayHandler(deps.Registry, deps.SettingsStore, deps.Log, deps.VLog)
	webhookHandler := handlers.NewWebhookHandler(deps.Webhooks, deps.Log)

	v1 := r.Group("/api/v1")
	{
		checkout := v1.Group("/checkout")
		{
			checkout.POST("/subscription", checkoutHandler.Subscribe)
			checkout.POST("/payment", checkoutHandler.Purchase)
			checkout.POST("/refund", checkoutHandler.Refund)
		}

		subscriptions := v1.Group("/subscriptions")
		{
			subscriptions.GET("", subscriptionHandler.List)
			subscriptions.GET("/:id", subscriptionHandler.Get)
			subscriptions.POST("/:id/activate", subscriptionHandler.Activate)
			subscriptions.POST("/:id/cancel", subscriptionHandler.Cancel)
			subscriptions.POST("/:id/suspend", subscriptionHandler.Suspend)
			subscriptions.POST("/:id/reactivate", subscriptionHandler.Reactivate)
			subscriptions.POST("/:id/renew", subscriptionHandler.Renew)
		}

		v1.GET("/users/:id/subscriptions", subscriptionHandler.ListByUser)

		transactions := v1.Group("/transactions")
		{
			transactions.GET("", transactionHandler.List)
			transactions.GET("/:id", transactionHandler.Get)
		}

		gateways := v1.Group("/gateways")
		{
			gateways.GET("", gatewayHandler.List)
			gateways.PUT("/:id/settings", gatewayHandler.Configure)
			gateways.POST("/:id/enable", gatewayHandler.Enable)
			gateways.POST("/:id/disable", gatewayHandler.Disable)
		}
	}

	// Вебхуки на корневом уровне роутера
	webhooks := r.Group("/webhooks")
	{
		webhooks.POST("/:gateway", webhookHandler.Handle)
	}

	return r
}
