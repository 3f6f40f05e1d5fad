package service

import (
	"context"
	"fmt"
	"time"

	"github.com/Dhoini/Billing-engine/internal/domain"
	"github.com/Dhoini/Billing-engine/internal/gateway"
	"github.com/Dhoini/Billing-engine/internal/metrics"
	"github.com/Dhoini/Billing-engine/pkg/logger"
	"github.com/google/uuid"
)

const stripePriceIDMetadataKey = "stripe_price_id"

// CheckoutRequest запрос на покупку продукта
type CheckoutRequest struct {
	UserID          uuid.UUID
	Email           string
	ProductID       string
	GatewayID       string
	PaymentMethodID string
}

// CheckoutService проводит покупки: каталог -> шлюз -> журналы.
// Сервис не трогает статусы напрямую, смены делает SubscriptionService.
type CheckoutService interface {
	// Subscribe оформляет подписку на продукт
	Subscribe(ctx context.Context, req CheckoutRequest) (domain.SubscriptionResult, error)

	// Purchase проводит разовую покупку без подписки
	Purchase(ctx context.Context, req CheckoutRequest) (domain.PaymentResult, error)

	// Refund проводит возврат по транзакции
	Refund(ctx context.Context, req domain.RefundRequest) (domain.PaymentResult, error)
}

type checkoutService struct {
	registry *gateway.Registry
	catalog  ProductCatalog
	subs     SubscriptionService
	txs      TransactionService
	metrics  metrics.BillingMetrics
	log      *logger.Logger
	now      func() time.Time
}

// NewCheckoutService создает сервис чекаута
func NewCheckoutService(
	registry *gateway.Registry,
	catalog ProductCatalog,
	subs SubscriptionService,
	txs TransactionService,
	m metrics.BillingMetrics,
	log *logger.Logger,
) CheckoutService {
	return &checkoutService{
		registry: registry,
		catalog:  catalog,
		subs:     subs,
		txs:      txs,
		metrics:  m,
		log:      log,
		now:      time.Now,
	}
}

// Subscribe оформляет подписку: локальная запись в pending, затем шлюз,
// затем транзакция и активация по результату
func (s *checkoutService) Subscribe(ctx context.Context, req CheckoutRequest) (domain.SubscriptionResult, error) {
	product, err := s.catalog.Get(req.ProductID)
	if err != nil {
		return domain.SubscriptionResult{}, err
	}

	// Шлюз проверяется до локальной записи: отказ по возможностям
	// не должен оставлять в журнале осиротевшую pending-подписку
	if err := s.registry.Check(req.GatewayID, gateway.CapabilitySubscriptions); err != nil {
		return domain.SubscriptionResult{}, err
	}

	sub := domain.Subscription{
		UserID:    req.UserID,
		ProductID: product.ID,
		GatewayID: req.GatewayID,
		Period:    product.Period,
		Price:     product.Price,
		TaxRate:   product.TaxRate,
		TaxAmount: product.TaxAmount(),
		Total:     product.Total(),
		Trial:     product.TrialDays > 0,
		TrialDays: product.TrialDays,
	}

	created, err := s.subs.Create(ctx, sub)
	if err != nil {
		return domain.SubscriptionResult{}, err
	}

	data := s.paymentData(req, product)
	result, err := s.registry.ProcessSubscription(ctx, req.GatewayID, created, data)
	if err != nil {
		s.metrics.IncCheckout(req.GatewayID, "subscription", "gateway_error")
		s.log.Errorw("Gateway rejected subscription checkout", "subscriptionID", created.ID, "gatewayID", req.GatewayID, "error", err)
		return domain.SubscriptionResult{}, err
	}
	result.SubscriptionID = created.ID

	if result.ExternalID != "" {
		if err := s.subs.UpdateExternalID(ctx, created.ID, result.ExternalID); err != nil {
			// Подписка у провайдера создана, а локально не привязана:
			// кандидат на сверку, наружу отдаем отказ
			s.metrics.IncReconciliationCandidate(req.GatewayID)
			s.log.Errorw("RECONCILIATION: provider subscription created but external id not recorded",
				"subscriptionID", created.ID,
				"externalID", result.ExternalID,
				"gatewayID", req.GatewayID,
				"error", err,
			)
			return domain.SubscriptionResult{}, fmt.Errorf("record external subscription id: %w", domain.ErrInternal)
		}
	}

	if result.TransNum != "" {
		status := domain.TransactionStatusPending
		if result.Success {
			status = domain.TransactionStatusComplete
		}
		if err := s.recordCheckoutTransaction(ctx, req, product, created.ID, result.TransNum, status); err != nil {
			s.metrics.IncReconciliationCandidate(req.GatewayID)
			s.log.Errorw("RECONCILIATION: provider charge succeeded but transaction not recorded",
				"transNum", result.TransNum,
				"subscriptionID", created.ID,
				"gatewayID", req.GatewayID,
				"error", err,
			)
			return domain.SubscriptionResult{}, fmt.Errorf("record checkout transaction: %w", domain.ErrInternal)
		}
	}

	if result.Success {
		if _, err := s.subs.Activate(ctx, created.ID, s.now()); err != nil {
			s.metrics.IncReconciliationCandidate(req.GatewayID)
			s.log.Errorw("RECONCILIATION: payment complete but subscription not activated",
				"subscriptionID", created.ID,
				"transNum", result.TransNum,
				"error", err,
			)
			return domain.SubscriptionResult{}, fmt.Errorf("activate subscription: %w", domain.ErrInternal)
		}
		s.metrics.IncCheckout(req.GatewayID, "subscription", "success")
	} else {
		s.metrics.IncCheckout(req.GatewayID, "subscription", "pending")
	}

	s.metrics.ObserveTransactionAmount(product.Total(), req.GatewayID, string(domain.TransactionTypePayment))
	return result, nil
}

// Purchase проводит разовую покупку
func (s *checkoutService) Purchase(ctx context.Context, req CheckoutRequest) (domain.PaymentResult, error) {
	product, err := s.catalog.Get(req.ProductID)
	if err != nil {
		return domain.PaymentResult{}, err
	}

	data := s.paymentData(req, product)
	result, err := s.registry.ProcessPayment(ctx, req.GatewayID, data)
	if err != nil {
		s.metrics.IncCheckout(req.GatewayID, "payment", "gateway_error")
		s.log.Errorw("Gateway rejected payment", "userID", req.UserID, "productID", req.ProductID, "gatewayID", req.GatewayID, "error", err)
		return domain.PaymentResult{}, err
	}

	if result.TransNum == "" {
		// Платеж не дошел до провайдера (отклонение карты), журналить нечего
		s.metrics.IncCheckout(req.GatewayID, "payment", "declined")
		return result, nil
	}

	status := domain.TransactionStatusPending
	outcome := "pending"
	if result.Success {
		status = domain.TransactionStatusComplete
		outcome = "success"
	}

	if err := s.recordCheckoutTransaction(ctx, req, product, uuid.Nil, result.TransNum, status); err != nil {
		s.metrics.IncReconciliationCandidate(req.GatewayID)
		s.log.Errorw("RECONCILIATION: provider charge succeeded but transaction not recorded",
			"transNum", result.TransNum,
			"gatewayID", req.GatewayID,
			"error", err,
		)
		return domain.PaymentResult{}, fmt.Errorf("record payment transaction: %w", domain.ErrInternal)
	}

	s.metrics.IncCheckout(req.GatewayID, "payment", outcome)
	s.metrics.ObserveTransactionAmount(product.Total(), req.GatewayID, string(domain.TransactionTypePayment))
	return result, nil
}

// Refund проводит возврат: шлюз, затем отметка исходной транзакции и
// запись транзакции возврата
func (s *checkoutService) Refund(ctx context.Context, req domain.RefundRequest) (domain.PaymentResult, error) {
	original, err := s.txs.GetByID(ctx, req.TransactionID)
	if err != nil {
		return domain.PaymentResult{}, err
	}

	if original.Status == domain.TransactionStatusRefunded {
		return domain.PaymentResult{Success: true, TransactionID: original.ID, TransNum: original.TransNum}, nil
	}
	if original.Status != domain.TransactionStatusComplete {
		return domain.PaymentResult{}, fmt.Errorf("transaction %s is %s, only complete transactions are refundable: %w",
			original.ID, original.Status, domain.ErrInvalidTransition)
	}
	if req.Amount > original.Total {
		errs := &domain.ValidationErrors{}
		errs.Add("amount", "refund amount exceeds the original transaction total")
		return domain.PaymentResult{}, errs
	}

	result, err := s.registry.ProcessRefund(ctx, original.GatewayID, original, req)
	if err != nil {
		s.log.Errorw("Gateway rejected refund", "transactionID", original.ID, "gatewayID", original.GatewayID, "error", err)
		return domain.PaymentResult{}, err
	}
	if !result.Success {
		return result, nil
	}

	if _, err := s.txs.UpdateStatus(ctx, original.ID, domain.TransactionStatusRefunded); err != nil {
		s.metrics.IncReconciliationCandidate(original.GatewayID)
		s.log.Errorw("RECONCILIATION: provider refunded but transaction not marked",
			"transactionID", original.ID,
			"refundTransNum", result.TransNum,
			"error", err,
		)
		return domain.PaymentResult{}, fmt.Errorf("mark transaction refunded: %w", domain.ErrInternal)
	}

	amount := req.Amount
	if amount == 0 {
		amount = original.Total
	}
	refundTx := domain.Transaction{
		TransNum:       result.TransNum,
		UserID:         original.UserID,
		ProductID:      original.ProductID,
		SubscriptionID: original.SubscriptionID,
		Amount:         amount,
		Total:          amount,
		Status:         domain.TransactionStatusComplete,
		Type:           domain.TransactionTypeRefund,
		GatewayID:      original.GatewayID,
	}
	if _, _, err := s.txs.RecordIfNew(ctx, refundTx); err != nil {
		s.log.Errorw("Failed to record refund transaction", "transNum", result.TransNum, "error", err)
	}

	s.metrics.ObserveTransactionAmount(amount, original.GatewayID, string(domain.TransactionTypeRefund))
	s.log.Infow("Refund completed", "transactionID", original.ID, "refundTransNum", result.TransNum, "amount", amount)
	return result, nil
}

// paymentData собирает данные платежа для шлюза
func (s *checkoutService) paymentData(req CheckoutRequest, product Product) domain.PaymentData {
	data := domain.PaymentData{
		UserID:          req.UserID,
		ProductID:       product.ID,
		GatewayID:       req.GatewayID,
		Email:           req.Email,
		Amount:          product.Price,
		TaxRate:         product.TaxRate,
		TaxAmount:       product.TaxAmount(),
		Total:           product.Total(),
		Currency:        product.Currency,
		Period:          product.Period,
		TrialDays:       product.TrialDays,
		PaymentMethodID: req.PaymentMethodID,
		Description:     product.Title,
	}
	if product.StripePriceID != "" {
		data.Metadata = map[string]string{stripePriceIDMetadataKey: product.StripePriceID}
	}
	return data
}

// recordCheckoutTransaction пишет транзакцию покупки
func (s *checkoutService) recordCheckoutTransaction(
	ctx context.Context,
	req CheckoutRequest,
	product Product,
	subscriptionID uuid.UUID,
	transNum string,
	status domain.TransactionStatus,
) error {
	tx := domain.Transaction{
		TransNum:       transNum,
		UserID:         req.UserID,
		ProductID:      product.ID,
		SubscriptionID: subscriptionID,
		Amount:         product.Price,
		TaxAmount:      product.TaxAmount(),
		Total:          product.Total(),
		Status:         status,
		Type:           domain.TransactionTypePayment,
		GatewayID:      req.GatewayID,
	}
	_, _, err := s.txs.RecordIfNew(ctx, tx)
	return err
}
