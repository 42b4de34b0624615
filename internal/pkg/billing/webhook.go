package billing

import (
	"context"
	"encoding/json"
	"strings"

	"github.com/stripe/stripe-go/v82"
	"go.uber.org/zap"

	"github.com/omniai/payments/app/models"
)

// HandleWebhook authenticates and applies one provider notification.
//
// The signature is checked over the raw bytes before anything is parsed.
// Events are stored under their provider id with insert-or-ignore, so a
// redelivered event returns Duplicate without touching payment state. When
// applying the event fails for a reason a retry could fix, the stored event
// is dropped again and the error is returned so the provider redelivers.
func (s *Service) HandleWebhook(ctx context.Context, payload []byte, signatureHeader string) (*WebhookResult, error) {
	s.incr(ctx, StatReceived)

	if err := VerifyStripeWebhookSignature(payload, signatureHeader, s.cfg.WebhookSecret, s.cfg.WebhookTolerance); err != nil {
		switch KindOf(err) {
		case KindMissingSignature:
			s.incr(ctx, StatMissingSignature)
		case KindInvalidSignature:
			s.incr(ctx, StatInvalidSignature)
		}
		s.log.Warn("webhook rejected", zap.String("reason", string(KindOf(err))), zap.Error(err))
		return nil, err
	}

	var event stripe.Event
	if err := json.Unmarshal(payload, &event); err != nil {
		s.incr(ctx, StatMalformed)
		return nil, wrapError(KindMalformedPayload, err, "webhook payload is not a valid event")
	}
	if strings.TrimSpace(event.ID) == "" || strings.TrimSpace(string(event.Type)) == "" {
		s.incr(ctx, StatMalformed)
		return nil, newError(KindMalformedPayload, "webhook event id and type are required")
	}

	result := &WebhookResult{EventID: event.ID, EventType: string(event.Type)}

	created, stored, err := s.repo.CreateWebhookEventIfNotExists(ctx, &models.WebhookEvent{
		Provider:        models.BillingProviderStripe,
		ProviderEventID: event.ID,
		EventType:       string(event.Type),
		PayloadJSON:     string(payload),
		SignatureValid:  true,
	})
	if err != nil {
		s.incr(ctx, StatFailed)
		return nil, wrapError(KindInternal, err, "webhook event could not be recorded")
	}
	if !created {
		s.incr(ctx, StatDuplicate)
		s.log.Info("duplicate webhook ignored", zap.String("event_id", event.ID), zap.String("event_type", result.EventType))
		result.Duplicate = true
		return result, nil
	}

	handled, dispatchErr := s.dispatch(ctx, &event)
	if dispatchErr != nil && KindOf(dispatchErr) != KindMalformedPayload {
		s.incr(ctx, StatFailed)
		s.log.Error("webhook processing failed, releasing event for retry",
			zap.String("event_id", event.ID),
			zap.String("event_type", result.EventType),
			zap.Error(dispatchErr),
		)
		if err := s.repo.DeleteWebhookEvent(ctx, stored.ID); err != nil {
			s.log.Error("webhook event release failed", zap.Uint("webhook_event_id", stored.ID), zap.Error(err))
		}
		return nil, dispatchErr
	}

	// A data object we cannot use will not get better on retry: keep the
	// event with its error and acknowledge it.
	processingErr := ""
	if dispatchErr != nil {
		processingErr = dispatchErr.Error()
		handled = false
		s.incr(ctx, StatMalformed)
		s.log.Warn("webhook event data unusable", zap.String("event_id", event.ID), zap.Error(dispatchErr))
	}
	if err := s.repo.MarkWebhookProcessed(ctx, stored.ID, processingErr); err != nil {
		s.log.Warn("webhook event not marked processed", zap.Uint("webhook_event_id", stored.ID), zap.Error(err))
	}

	if !handled {
		s.incr(ctx, StatIgnored)
		result.Ignored = true
		return result, nil
	}
	s.incr(ctx, StatProcessed)
	s.log.Info("webhook processed", zap.String("event_id", event.ID), zap.String("event_type", result.EventType))
	return result, nil
}

// dispatch applies the event. handled is false for event types and objects
// this service does not act on.
func (s *Service) dispatch(ctx context.Context, event *stripe.Event) (handled bool, err error) {
	if event.Data == nil || len(event.Data.Raw) == 0 {
		return false, newError(KindMalformedPayload, "event %s has no data object", event.ID)
	}
	raw := event.Data.Raw

	switch event.Type {
	case stripe.EventTypeCheckoutSessionCompleted, stripe.EventTypeCheckoutSessionAsyncPaymentSucceeded:
		return s.onCheckoutCompleted(ctx, raw)
	case stripe.EventTypeCheckoutSessionAsyncPaymentFailed, stripe.EventTypeCheckoutSessionExpired:
		return s.onCheckoutFailed(ctx, raw, string(event.Type))
	case stripe.EventTypePaymentIntentPaymentFailed:
		return s.onPaymentIntentFailed(ctx, raw)
	case stripe.EventTypeInvoicePaymentFailed:
		return s.onInvoice(ctx, raw, models.SubscriptionStatusPastDue)
	case stripe.EventTypeInvoicePaid:
		return s.onInvoice(ctx, raw, models.SubscriptionStatusActive)
	case stripe.EventTypeCustomerSubscriptionUpdated:
		return s.onSubscriptionChanged(ctx, raw, false)
	case stripe.EventTypeCustomerSubscriptionDeleted:
		return s.onSubscriptionChanged(ctx, raw, true)
	case stripe.EventTypeChargeRefunded:
		return s.onChargeRefunded(ctx, raw)
	default:
		return false, nil
	}
}
