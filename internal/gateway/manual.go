package gateway

import (
	"context"
	"time"

	"github.com/Dhoini/Billing-engine/internal/domain"
	"github.com/Dhoini/Billing-engine/pkg/logger"
	"github.com/google/uuid"
)

const (
	// ManualGatewayID идентификатор локального шлюза
	ManualGatewayID = "manual"

	manualTransNumPrefix = "mg"
)

// ManualGateway локальный шлюз без внешнего провайдера: банковские
// переводы, наличные, админские начисления. Все операции завершаются
// локально, вебхуков нет.
type ManualGateway struct {
	autoComplete bool
	log          *logger.Logger
}

// NewManualGateway создает локальный шлюз
func NewManualGateway(log *logger.Logger) *ManualGateway {
	return &ManualGateway{log: log}
}

// ID возвращает идентификатор шлюза
func (g *ManualGateway) ID() string { return ManualGatewayID }

// Name возвращает название шлюза
func (g *ManualGateway) Name() string { return "Manual / offline payments" }

// Capabilities возвращает возможности шлюза
func (g *ManualGateway) Capabilities() Capabilities {
	return Capabilities{
		CapabilityPayments,
		CapabilitySubscriptions,
		CapabilityRefunds,
		CapabilityCancellation,
	}
}

// SettingsSchema возвращает схему настроек шлюза
func (g *ManualGateway) SettingsSchema() SettingsSchema {
	return SettingsSchema{
		Fields: []SettingsField{
			{
				Key:     "auto_complete",
				Title:   "Complete payments immediately instead of leaving them pending",
				Type:    FieldTypeBool,
				Default: "true",
			},
		},
	}
}

// Configure применяет настройки шлюза
func (g *ManualGateway) Configure(settings map[string]string) error {
	if err := g.SettingsSchema().Validate(settings); err != nil {
		return err
	}
	g.autoComplete = settings["auto_complete"] == "true"
	return nil
}

// ValidatePaymentFields проверяет входные данные платежа
func (g *ManualGateway) ValidatePaymentFields(data domain.PaymentData) error {
	errs := &domain.ValidationErrors{}
	if data.UserID == uuid.Nil {
		errs.Add("user_id", "user id is required")
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

// ProcessPayment проводит разовый платеж локально. При auto_complete
// платеж сразу успешен, иначе остается в ожидании ручного подтверждения.
func (g *ManualGateway) ProcessPayment(ctx context.Context, data domain.PaymentData) (domain.PaymentResult, error) {
	transNum := domain.NewTransNum(manualTransNumPrefix)

	g.log.Infow("Manual payment processed",
		"transNum", transNum,
		"userID", data.UserID,
		"productID", data.ProductID,
		"total", data.Total,
		"autoComplete", g.autoComplete,
	)

	result := domain.PaymentResult{
		Success:  g.autoComplete,
		TransNum: transNum,
	}
	if !g.autoComplete {
		result.Message = "payment recorded, awaiting manual confirmation"
	}
	return result, nil
}

// ProcessSubscription создает подписку локально. Внешнего ID у
// провайдера нет, продления делает планировщик.
func (g *ManualGateway) ProcessSubscription(ctx context.Context, sub domain.Subscription, data domain.PaymentData) (domain.SubscriptionResult, error) {
	transNum := domain.NewTransNum(manualTransNumPrefix)

	g.log.Infow("Manual subscription processed",
		"transNum", transNum,
		"subscriptionID", sub.ID,
		"userID", data.UserID,
		"productID", data.ProductID,
		"autoComplete", g.autoComplete,
	)

	result := domain.SubscriptionResult{
		Success:        g.autoComplete,
		SubscriptionID: sub.ID,
		TransNum:       transNum,
	}
	if !g.autoComplete {
		result.Message = "subscription recorded, awaiting manual confirmation"
	}
	return result, nil
}

// CancelSubscription для локального шлюза отменять нечего
func (g *ManualGateway) CancelSubscription(ctx context.Context, sub domain.Subscription) error {
	g.log.Infow("Manual subscription cancelled", "subscriptionID", sub.ID)
	return nil
}

// ProcessRefund проводит возврат локально
func (g *ManualGateway) ProcessRefund(ctx context.Context, tx domain.Transaction, req domain.RefundRequest) (domain.PaymentResult, error) {
	transNum := domain.NewTransNum(manualTransNumPrefix)

	g.log.Infow("Manual refund processed",
		"transNum", transNum,
		"originalTransNum", tx.TransNum,
		"amount", req.Amount,
	)

	return domain.PaymentResult{
		Success:  true,
		TransNum: transNum,
	}, nil
}

// ChargeRenewal проводит локальное списание продления для планировщика.
// Отдельный метод, а не ProcessPayment: продление не проходит чекаут.
func (g *ManualGateway) ChargeRenewal(ctx context.Context, sub domain.Subscription, at time.Time) (domain.PaymentResult, error) {
	transNum := domain.NewTransNum(manualTransNumPrefix)

	g.log.Infow("Manual renewal charged",
		"transNum", transNum,
		"subscriptionID", sub.ID,
		"total", sub.Total,
		"dueAt", at,
	)

	return domain.PaymentResult{
		Success:  true,
		TransNum: transNum,
	}, nil
}
