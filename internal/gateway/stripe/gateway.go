package stripe

import (
	"context"
	"errors"
	"fmt"
	"math"

	"github.com/Dhoini/Billing-engine/internal/domain"
	"github.com/Dhoini/Billing-engine/internal/gateway"
	"github.com/Dhoini/Billing-engine/pkg/logger"

	"github.com/google/uuid"
	"github.com/stripe/stripe-go/v78"
	"github.com/stripe/stripe-go/v78/client"
)

const (
	// GatewayID идентификатор шлюза Stripe
	GatewayID = "stripe"

	// Ключ метаданных для связи Stripe Customer с локальным UserID
	metadataUserIDKey = "user_id"

	// Ключ метаданных PaymentData с ID цены в Stripe (заполняет каталог)
	metadataPriceIDKey = "stripe_price_id"
)

// Gateway платежный шлюз поверх Stripe API
type Gateway struct {
	client        *client.API
	webhookSecret string
	log           *logger.Logger
}

// New создает шлюз Stripe. До Configure шлюз не готов к работе.
func New(log *logger.Logger) *Gateway {
	return &Gateway{log: log}
}

// ID возвращает идентификатор шлюза
func (g *Gateway) ID() string { return GatewayID }

// Name возвращает название шлюза
func (g *Gateway) Name() string { return "Stripe" }

// Capabilities возвращает возможности шлюза
func (g *Gateway) Capabilities() gateway.Capabilities {
	return gateway.Capabilities{
		gateway.CapabilityPayments,
		gateway.CapabilitySubscriptions,
		gateway.CapabilityRefunds,
		gateway.CapabilityCancellation,
		gateway.CapabilityWebhooks,
	}
}

// SettingsSchema возвращает схему настроек шлюза
func (g *Gateway) SettingsSchema() gateway.SettingsSchema {
	return gateway.SettingsSchema{
		Fields: []gateway.SettingsField{
			{Key: "api_key", Title: "Stripe secret API key", Type: gateway.FieldTypeSecret, Required: true},
			{Key: "webhook_secret", Title: "Webhook signing secret", Type: gateway.FieldTypeSecret, Required: true},
		},
	}
}

// Configure применяет настройки и инициализирует клиент Stripe SDK
func (g *Gateway) Configure(settings map[string]string) error {
	if err := g.SettingsSchema().Validate(settings); err != nil {
		return err
	}

	sc := &client.API{}
	sc.Init(settings["api_key"], nil)
	g.client = sc
	g.webhookSecret = settings["webhook_secret"]
	return nil
}

// ValidatePaymentFields проверяет входные данные платежа. Email обязателен:
// без него нельзя завести клиента в Stripe.
func (g *Gateway) ValidatePaymentFields(data domain.PaymentData) error {
	errs := &domain.ValidationErrors{}
	if data.UserID == uuid.Nil {
		errs.Add("user_id", "user id is required")
	}
	if data.Email == "" {
		errs.Add("email", "email is required")
	}
	if data.Total <= 0 {
		errs.Add("total", "total must be positive")
	}
	if data.Currency == "" {
		errs.Add("currency", "currency is required")
	}
	if errs.HasErrors() {
		return errs
	}
	return nil
}

// ProcessPayment проводит разовый платеж через PaymentIntent.
// Отклонение карты не ошибка, а Success=false с сообщением; ошибки
// API Stripe возвращаются как ProviderError.
func (g *Gateway) ProcessPayment(ctx context.Context, data domain.PaymentData) (domain.PaymentResult, error) {
	if g.client == nil {
		return domain.PaymentResult{}, domain.ErrGatewayDisabled
	}

	customerID, err := g.getOrCreateCustomer(ctx, data.UserID.String(), data.Email)
	if err != nil {
		return domain.PaymentResult{}, err
	}

	params := &stripe.PaymentIntentParams{
		Amount:   stripe.Int64(toMinorUnits(data.Total)),
		Currency: stripe.String(data.Currency),
		Customer: stripe.String(customerID),
		Params: stripe.Params{
			Context: ctx,
		},
	}
	if data.PaymentMethodID != "" {
		params.PaymentMethod = stripe.String(data.PaymentMethodID)
		params.Confirm = stripe.Bool(true)
	}
	params.AddMetadata(metadataUserIDKey, data.UserID.String())
	params.AddMetadata("product_id", data.ProductID)

	intent, err := g.client.PaymentIntents.New(params)
	if err != nil {
		if declined, msg := isCardDeclined(err); declined {
			g.log.Warnw("Stripe payment declined", "userID", data.UserID, "message", msg)
			return domain.PaymentResult{Success: false, Message: msg}, nil
		}
		return domain.PaymentResult{}, g.providerErr("ProcessPayment", err)
	}

	g.log.Infow("Stripe payment intent created",
		"paymentIntentID", intent.ID,
		"status", string(intent.Status),
		"userID", data.UserID,
	)

	result := domain.PaymentResult{
		TransNum: intent.ID,
		Success:  intent.Status == stripe.PaymentIntentStatusSucceeded,
	}
	if !result.Success {
		result.Message = "payment requires confirmation"
	}
	return result, nil
}

// ProcessSubscription создает подписку в Stripe. Ключом идемпотентности
// служит локальный ID подписки: ретрай чекаута не плодит подписки у провайдера.
func (g *Gateway) ProcessSubscription(ctx context.Context, sub domain.Subscription, data domain.PaymentData) (domain.SubscriptionResult, error) {
	if g.client == nil {
		return domain.SubscriptionResult{}, domain.ErrGatewayDisabled
	}

	priceID := data.Metadata[metadataPriceIDKey]
	if priceID == "" {
		errs := &domain.ValidationErrors{}
		errs.Add(metadataPriceIDKey, "product has no Stripe price configured")
		return domain.SubscriptionResult{}, errs
	}

	customerID, err := g.getOrCreateCustomer(ctx, data.UserID.String(), data.Email)
	if err != nil {
		return domain.SubscriptionResult{}, err
	}

	params := &stripe.SubscriptionParams{
		Customer: stripe.String(customerID),
		Items: []*stripe.SubscriptionItemsParams{
			{Price: stripe.String(priceID)},
		},
		PaymentBehavior: stripe.String("default_incomplete"),
		Params: stripe.Params{
			IdempotencyKey: stripe.String(sub.ID.String()),
			Context:        ctx,
		},
	}
	if data.TrialDays > 0 {
		params.TrialPeriodDays = stripe.Int64(int64(data.TrialDays))
	}
	if data.PaymentMethodID != "" {
		params.DefaultPaymentMethod = stripe.String(data.PaymentMethodID)
	}
	params.AddExpand("latest_invoice.payment_intent")

	stripeSub, err := g.client.Subscriptions.New(params)
	if err != nil {
		return domain.SubscriptionResult{}, g.providerErr("ProcessSubscription", err)
	}

	g.log.Infow("Stripe subscription created",
		"stripeSubscriptionID", stripeSub.ID,
		"status", string(stripeSub.Status),
		"subscriptionID", sub.ID,
	)

	result := domain.SubscriptionResult{
		SubscriptionID: sub.ID,
		ExternalID:     stripeSub.ID,
		Success: stripeSub.Status == stripe.SubscriptionStatusActive ||
			stripeSub.Status == stripe.SubscriptionStatusTrialing,
	}

	if stripeSub.LatestInvoice != nil && stripeSub.LatestInvoice.PaymentIntent != nil {
		pi := stripeSub.LatestInvoice.PaymentIntent
		result.TransNum = pi.ID
		result.ClientSecret = pi.ClientSecret
		result.RequiresAction = pi.Status == stripe.PaymentIntentStatusRequiresAction ||
			pi.Status == stripe.PaymentIntentStatusRequiresPaymentMethod ||
			pi.Status == stripe.PaymentIntentStatusRequiresConfirmation
	} else {
		// Триал без первого платежа: инвойса нет, номер генерируем локально
		result.TransNum = domain.NewTransNum("st")
	}

	if !result.Success && result.RequiresAction {
		result.Message = "subscription requires payment confirmation"
	}
	return result, nil
}

// CancelSubscription отменяет подписку в Stripe немедленно. Уже
// удаленная подписка не считается ошибкой.
func (g *Gateway) CancelSubscription(ctx context.Context, sub domain.Subscription) error {
	if g.client == nil {
		return domain.ErrGatewayDisabled
	}
	if sub.ExternalID == "" {
		return nil
	}

	params := &stripe.SubscriptionCancelParams{
		Params: stripe.Params{Context: ctx},
	}

	_, err := g.client.Subscriptions.Cancel(sub.ExternalID, params)
	if err != nil {
		var stripeErr *stripe.Error
		if errors.As(err, &stripeErr) && stripeErr.Code == stripe.ErrorCodeResourceMissing {
			g.log.Warnw("Stripe subscription already cancelled or missing", "stripeSubscriptionID", sub.ExternalID)
			return nil
		}
		return g.providerErr("CancelSubscription", err)
	}

	g.log.Infow("Stripe subscription cancelled", "stripeSubscriptionID", sub.ExternalID)
	return nil
}

// ProcessRefund проводит возврат по PaymentIntent исходной транзакции
func (g *Gateway) ProcessRefund(ctx context.Context, tx domain.Transaction, req domain.RefundRequest) (domain.PaymentResult, error) {
	if g.client == nil {
		return domain.PaymentResult{}, domain.ErrGatewayDisabled
	}

	params := &stripe.RefundParams{
		PaymentIntent: stripe.String(tx.TransNum),
		Params: stripe.Params{
			Context: ctx,
		},
	}
	if req.Amount > 0 {
		params.Amount = stripe.Int64(toMinorUnits(req.Amount))
	}

	refund, err := g.client.Refunds.New(params)
	if err != nil {
		return domain.PaymentResult{}, g.providerErr("ProcessRefund", err)
	}

	g.log.Infow("Stripe refund created",
		"refundID", refund.ID,
		"paymentIntentID", tx.TransNum,
		"status", string(refund.Status),
	)

	return domain.PaymentResult{
		Success:  refund.Status == stripe.RefundStatusSucceeded || refund.Status == stripe.RefundStatusPending,
		TransNum: refund.ID,
	}, nil
}

// getOrCreateCustomer ищет клиента по userID в метаданных через Search
// API, при отсутствии создает нового
func (g *Gateway) getOrCreateCustomer(ctx context.Context, userID, email string) (string, error) {
	searchQuery := fmt.Sprintf("metadata['%s']:'%s'", metadataUserIDKey, userID)
	searchParams := &stripe.CustomerSearchParams{
		SearchParams: stripe.SearchParams{
			Query:   searchQuery,
			Limit:   stripe.Int64(1),
			Context: ctx,
		},
	}

	customers := g.client.Customers.Search(searchParams)
	if customers.Next() {
		customer := customers.Customer()
		g.log.Debugw("Found existing Stripe customer", "stripeCustomerID", customer.ID, "userID", userID)
		return customer.ID, nil
	}
	if err := customers.Err(); err != nil {
		return "", g.providerErr("SearchCustomers", err)
	}

	params := &stripe.CustomerParams{
		Email: stripe.String(email),
		Metadata: map[string]string{
			metadataUserIDKey: userID,
		},
	}
	params.Context = ctx

	cus, err := g.client.Customers.New(params)
	if err != nil {
		return "", g.providerErr("CreateCustomer", err)
	}

	g.log.Infow("Stripe customer created", "stripeCustomerID", cus.ID, "userID", userID)
	return cus.ID, nil
}

// providerErr логирует детали ошибки Stripe и оборачивает её в
// ProviderError; истекший дедлайн контекста помечается отдельно,
// чтобы транзакция осталась в ожидании
func (g *Gateway) providerErr(operation string, err error) error {
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
		g.log.Warnw("Stripe call timed out", "operation", operation, "error", err)
		return fmt.Errorf("stripe %s: %w", operation, domain.ErrTimeoutExceeded)
	}

	var stripeErr *stripe.Error
	if errors.As(err, &stripeErr) {
		g.log.Errorw("Stripe API error",
			"operation", operation,
			"type", string(stripeErr.Type),
			"code", string(stripeErr.Code),
			"param", stripeErr.Param,
			"message", stripeErr.Msg,
			"request_id", stripeErr.RequestID,
			"status_code", stripeErr.HTTPStatusCode,
		)
		return domain.NewProviderError(GatewayID, string(stripeErr.Code), stripeErr.Msg, err)
	}

	g.log.Errorw("Non-Stripe error during Stripe operation", "operation", operation, "error", err)
	return domain.NewProviderError(GatewayID, "", err.Error(), err)
}

// isCardDeclined распознает отклонение карты: это штатный исход
// платежа, а не ошибка провайдера
func isCardDeclined(err error) (bool, string) {
	var stripeErr *stripe.Error
	if errors.As(err, &stripeErr) && stripeErr.Type == stripe.ErrorTypeCard {
		return true, stripeErr.Msg
	}
	return false, ""
}

// toMinorUnits переводит сумму в минимальные единицы валюты
func toMinorUnits(amount float64) int64 {
	return int64(math.Round(amount * 100))
}
