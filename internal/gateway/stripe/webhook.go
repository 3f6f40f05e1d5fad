package stripe

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/Dhoini/Billing-engine/internal/domain"

	"github.com/stripe/stripe-go/v78"
	"github.com/stripe/stripe-go/v78/webhook"
)

// SignatureHeader имя заголовка подписи вебхуков Stripe
func (g *Gateway) SignatureHeader() string {
	return "Stripe-Signature"
}

// ParseWebhook проверяет подпись вебхука и нормализует событие Stripe
// в ProviderEvent. Неизвестные типы не ошибка: возвращается событие
// ProviderEventUnknown, решать, что с ним делать, должен вызывающий.
func (g *Gateway) ParseWebhook(payload []byte, sigHeader string) (domain.ProviderEvent, error) {
	if g.webhookSecret == "" {
		return domain.ProviderEvent{}, domain.ErrGatewayDisabled
	}

	event, err := webhook.ConstructEvent(payload, sigHeader, g.webhookSecret)
	if err != nil {
		g.log.Warnw("Stripe webhook signature verification failed", "error", err)
		return domain.ProviderEvent{}, fmt.Errorf("stripe webhook: %w", domain.ErrWebhookValidationFailed)
	}

	out := domain.ProviderEvent{
		ID:         event.ID,
		GatewayID:  GatewayID,
		RawType:    string(event.Type),
		OccurredAt: time.Unix(event.Created, 0).UTC(),
	}

	switch string(event.Type) {
	case "invoice.paid", "invoice.payment_succeeded":
		out.Type = domain.ProviderEventInvoicePaid
		err = g.fillFromInvoice(&out, event.Data.Raw)

	case "invoice.payment_failed":
		out.Type = domain.ProviderEventInvoiceFailed
		err = g.fillFromInvoice(&out, event.Data.Raw)

	case "customer.subscription.deleted":
		out.Type = domain.ProviderEventSubscriptionDeleted
		err = g.fillFromSubscription(&out, event.Data.Raw)

	case "customer.subscription.updated":
		out.Type = domain.ProviderEventSubscriptionUpdated
		err = g.fillFromSubscription(&out, event.Data.Raw)

	case "charge.refunded":
		out.Type = domain.ProviderEventChargeRefunded
		err = g.fillFromCharge(&out, event.Data.Raw)

	case "payment_intent.succeeded":
		out.Type = domain.ProviderEventPaymentSucceeded
		err = g.fillFromPaymentIntent(&out, event.Data.Raw)

	case "payment_intent.payment_failed":
		out.Type = domain.ProviderEventPaymentFailed
		err = g.fillFromPaymentIntent(&out, event.Data.Raw)

	default:
		out.Type = domain.ProviderEventUnknown
	}

	if err != nil {
		g.log.Errorw("Failed to decode Stripe webhook payload", "eventID", event.ID, "type", string(event.Type), "error", err)
		return domain.ProviderEvent{}, fmt.Errorf("stripe webhook: decode %s: %w", string(event.Type), err)
	}

	return out, nil
}

// fillFromInvoice извлекает данные из событий инвойсов
func (g *Gateway) fillFromInvoice(out *domain.ProviderEvent, raw json.RawMessage) error {
	var inv stripe.Invoice
	if err := json.Unmarshal(raw, &inv); err != nil {
		return err
	}

	if inv.Subscription != nil {
		out.ExternalSubscriptionID = inv.Subscription.ID
	}
	if inv.PaymentIntent != nil {
		out.TransNum = inv.PaymentIntent.ID
	}
	if out.Type == domain.ProviderEventInvoicePaid {
		out.Amount = fromMinorUnits(inv.AmountPaid)
	} else {
		out.Amount = fromMinorUnits(inv.AmountDue)
	}
	return nil
}

// fillFromSubscription извлекает данные из событий подписок
func (g *Gateway) fillFromSubscription(out *domain.ProviderEvent, raw json.RawMessage) error {
	var sub stripe.Subscription
	if err := json.Unmarshal(raw, &sub); err != nil {
		return err
	}

	out.ExternalSubscriptionID = sub.ID
	out.ProviderStatus = string(sub.Status)
	return nil
}

// fillFromCharge извлекает данные из событий возвратов
func (g *Gateway) fillFromCharge(out *domain.ProviderEvent, raw json.RawMessage) error {
	var ch stripe.Charge
	if err := json.Unmarshal(raw, &ch); err != nil {
		return err
	}

	if ch.PaymentIntent != nil {
		out.TransNum = ch.PaymentIntent.ID
	}
	out.Amount = fromMinorUnits(ch.AmountRefunded)
	return nil
}

// fillFromPaymentIntent извлекает данные из событий платежей
func (g *Gateway) fillFromPaymentIntent(out *domain.ProviderEvent, raw json.RawMessage) error {
	var pi stripe.PaymentIntent
	if err := json.Unmarshal(raw, &pi); err != nil {
		return err
	}

	out.TransNum = pi.ID
	out.Amount = fromMinorUnits(pi.Amount)
	if pi.LastPaymentError != nil {
		out.Message = pi.LastPaymentError.Msg
	}
	return nil
}

// fromMinorUnits переводит сумму из минимальных единиц валюты
func fromMinorUnits(amount int64) float64 {
	return float64(amount) / 100
}
