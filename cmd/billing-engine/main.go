package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/Dhoini/Billing-engine/internal/api/rest"
	"github.com/Dhoini/Billing-engine/internal/config"
	"github.com/Dhoini/Billing-engine/internal/db"
	"github.com/Dhoini/Billing-engine/internal/domain"
	"github.com/Dhoini/Billing-engine/internal/gateway"
	"github.com/Dhoini/Billing-engine/internal/gateway/stripe"
	"github.com/Dhoini/Billing-engine/internal/kafka"
	"github.com/Dhoini/Billing-engine/internal/metrics"
	"github.com/Dhoini/Billing-engine/internal/repository"
	"github.com/Dhoini/Billing-engine/internal/scheduler"
	"github.com/Dhoini/Billing-engine/internal/service"
	"github.com/Dhoini/Billing-engine/pkg/logger"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"
)

var log *logger.Logger

func init() {
	logLevel := logger.INFO
	if os.Getenv("DEBUG") == "true" {
		logLevel = logger.DEBUG
	}
	log = logger.New(logLevel)
}

func main() {
	log.Infow("Billing engine starting up...")

	// Загрузка конфигурации
	cfg, err := config.LoadConfig(".env")
	if err != nil {
		log.Fatalw("Failed to load configuration", "error", err)
	}

	if cfg.Stripe.APIKey == "" {
		log.Warnw("Stripe API key is not set, Stripe gateway will stay disabled")
	}

	// Устанавливаем режим Gin в зависимости от окружения
	if cfg.App.Env == "production" {
		gin.SetMode(gin.ReleaseMode)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Отдельный zap-логгер для декодирования/валидации тел запросов
	vlog, err := newZapLogger(cfg.App.Env)
	if err != nil {
		log.Fatalw("Failed to initialize request logger", "error", err)
	}
	defer func() { _ = vlog.Sync() }()

	// Подключаемся к базе данных
	dbClient, err := db.NewClient(ctx, cfg.Database.DSN, log)
	if err != nil {
		log.Fatalw("Failed to connect to database", "error", err)
	}
	defer dbClient.Close()
	log.Infow("Database connection established")

	if err := dbClient.EnsureSchema(ctx); err != nil {
		log.Fatalw("Failed to ensure database schema", "error", err)
	}

	// Инициализируем Prometheus и метрики биллинга
	promRegistry := prometheus.NewRegistry()
	billingMetrics := metrics.NewBillingMetrics(promRegistry, log)

	// Репозитории
	baseSubRepo := repository.NewPostgresSubscriptionRepository(dbClient.Pool, log)
	txRepo := repository.NewPostgresTransactionRepository(dbClient.Pool, log)
	reminderRepo := repository.NewPostgresReminderRepository(dbClient.Pool, log)
	settingsRepo := repository.NewSqlxGatewaySettingsRepository(dbClient.SQLX, log)

	// Redis-кеш не критичен: без него работаем напрямую с Postgres
	var subRepo repository.SubscriptionRepository = baseSubRepo
	redisCache, err := repository.NewRedisCacheRepository(cfg.Redis.Addr, cfg.Redis.Password, cfg.Redis.DB, log)
	if err != nil {
		log.Warnw("Failed to initialize Redis cache, continuing without caching", "error", err)
	} else {
		subRepo = repository.NewCachedSubscriptionRepository(baseSubRepo, redisCache, log)
		log.Infow("Using cached subscription repository")
		defer func() {
			if err := redisCache.Close(); err != nil {
				log.Errorw("Error closing Redis connection", "error", err)
			}
		}()
	}

	// Каталог продуктов из конфигурации
	catalog, err := service.NewStaticCatalog(buildProducts(cfg))
	if err != nil {
		log.Fatalw("Invalid product catalog", "error", err)
	}

	// Реестр платежных шлюзов
	registry := gateway.NewRegistry(log)

	manualGateway := gateway.NewManualGateway(log)
	if err := registry.Register(manualGateway); err != nil {
		log.Fatalw("Failed to register manual gateway", "error", err)
	}
	if err := registry.Register(stripe.New(log)); err != nil {
		log.Fatalw("Failed to register stripe gateway", "error", err)
	}

	// Сначала сохраненные настройки, затем конфигурация поверх
	if err := registry.LoadSettings(ctx, settingsRepo); err != nil {
		log.Warnw("Failed to load stored gateway settings", "error", err)
	}
	configureGateways(ctx, cfg, registry, settingsRepo)

	// Kafka: уведомления и события подписок; без нее пишем в лог
	var notifier service.Notifier = service.NewLogNotifier(log)
	var producer kafka.Producer
	if cfg.Kafka.Enabled {
		if err := kafka.EnsureTopics(cfg.Kafka.Brokers, log); err != nil {
			log.Warnw("Failed to ensure Kafka topics", "error", err)
		}
		producer, err = kafka.NewProducer(cfg.Kafka.Brokers, log)
		if err != nil {
			log.Errorw("Failed to initialize Kafka producer, continuing without event publishing", "error", err)
			producer = nil
		} else {
			notifier = kafka.NewNotifier(producer, log)
			log.Infow("Kafka producer initialized")
			defer func() {
				if err := producer.Close(); err != nil {
					log.Errorw("Error closing Kafka producer", "error", err)
				}
			}()
		}
	}

	// Сервисный слой
	roles := service.NewInMemoryRoleManager()
	subs := service.NewSubscriptionService(subRepo, txRepo, catalog, roles, notifier, log)
	if producer != nil {
		subs.Subscribe(kafka.EventObserver(producer, log))
	}
	txs := service.NewTransactionService(txRepo, log)
	checkout := service.NewCheckoutService(registry, catalog, subs, txs, billingMetrics, log)
	webhooks := service.NewWebhookService(registry, subRepo, subs, txs, billingMetrics, log)

	// Планировщик периодических задач. События о необходимости
	// продления уходят в Kafka, без нее остаются в логе.
	var publish scheduler.EventPublisher
	if producer != nil {
		publish = kafka.EventObserver(producer, log)
	} else {
		publish = func(event domain.SubscriptionEvent) {
			log.Infow("Subscription event", "kind", event.Kind, "subscription_id", event.SubscriptionID)
		}
	}
	jobs := scheduler.NewJobs(
		subRepo,
		reminderRepo,
		subs,
		manualGateway,
		notifier,
		publish,
		billingMetrics,
		cfg.Scheduler.ReminderLeadDays,
		log,
	)
	sched := scheduler.NewScheduler(jobs, scheduler.Config{
		RenewalSchedule:  cfg.Scheduler.RenewalSchedule,
		ExpirySchedule:   cfg.Scheduler.ExpirySchedule,
		ReminderSchedule: cfg.Scheduler.ReminderSchedule,
	}, log)
	if err := sched.Start(); err != nil {
		log.Fatalw("Failed to start scheduler", "error", err)
	}
	log.Infow("Scheduler started",
		"renewal", cfg.Scheduler.RenewalSchedule,
		"expiry", cfg.Scheduler.ExpirySchedule,
		"reminder", cfg.Scheduler.ReminderSchedule)

	// HTTP сервер
	router := rest.SetupRouter(rest.Deps{
		Checkout:      checkout,
		Subscriptions: subs,
		Transactions:  txs,
		Webhooks:      webhooks,
		Registry:      registry,
		SettingsStore: settingsRepo,
		DB:            dbClient.Pool,
		PromRegistry:  promRegistry,
		Log:           log,
		VLog:          vlog,
	})
	server := rest.NewServer(router, cfg.App.Port, log)

	go func() {
		if err := server.Start(); err != nil {
			log.Fatalw("Failed to start HTTP server", "error", err)
		}
	}()

	// Graceful shutdown
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	log.Infow("Shutdown signal received")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()

	// Ждем завершения уже запущенных джоб
	<-sched.Stop().Done()
	log.Infow("Scheduler stopped")

	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Errorw("HTTP server shutdown error", "error", err)
	} else {
		log.Infow("HTTP server gracefully stopped")
	}

	log.Infow("Cleanup finished. Goodbye!")
}

// configureGateways применяет настройки шлюзов из конфигурации.
// Шлюз без обязательных настроек остается отключенным.
func configureGateways(ctx context.Context, cfg *config.Config, registry *gateway.Registry, store gateway.SettingsStore) {
	manualSettings := map[string]string{"auto_complete": "false"}
	if cfg.Manual.AutoComplete {
		manualSettings["auto_complete"] = "true"
	}
	if err := registry.Configure(ctx, gateway.ManualGatewayID, manualSettings, store); err != nil {
		log.Errorw("Failed to configure manual gateway", "error", err)
	} else if err := registry.Enable(gateway.ManualGatewayID); err != nil {
		log.Errorw("Failed to enable manual gateway", "error", err)
	}

	if cfg.Stripe.APIKey == "" {
		return
	}
	stripeSettings := map[string]string{
		"api_key":        cfg.Stripe.APIKey,
		"webhook_secret": cfg.Stripe.WebhookSecret,
	}
	if err := registry.Configure(ctx, stripe.GatewayID, stripeSettings, store); err != nil {
		log.Errorw("Failed to configure stripe gateway", "error", err)
		return
	}
	if err := registry.Enable(stripe.GatewayID); err != nil {
		log.Errorw("Failed to enable stripe gateway", "error", err)
	}
}

// buildProducts собирает каталог из конфигурации
func buildProducts(cfg *config.Config) []service.Product {
	products := make([]service.Product, 0, len(cfg.Products))
	for _, p := range cfg.Products {
		products = append(products, service.Product{
			ID:       p.ID,
			Title:    p.Title,
			Price:    p.Price,
			TaxRate:  p.TaxRate,
			Currency: p.Currency,
			Period: domain.BillingPeriod{
				Count: p.PeriodCount,
				Unit:  domain.PeriodUnit(p.PeriodUnit),
			},
			Lifetime:      p.Lifetime,
			TrialDays:     p.TrialDays,
			Roles:         p.Roles,
			StripePriceID: p.StripePriceID,
		})
	}
	return products
}

// newZapLogger создает логгер для pkg/req и pkg/res
func newZapLogger(env string) (*zap.Logger, error) {
	if env == "production" {
		return zap.NewProduction()
	}
	return zap.NewDevelopment()
}
