package controllers

import (
	"context"

	"github.com/gofiber/fiber/v2"
	"go.uber.org/zap"

	"github.com/omniai/payments/internal/pkg/billing"
	"github.com/omniai/payments/internal/pkg/metrics/counter"
)

// StripeSignatureHeader carries the webhook signature.
const StripeSignatureHeader = "Stripe-Signature"

type WebhookService interface {
	Config() billing.Config
	HandleWebhook(ctx context.Context, payload []byte, signatureHeader string) (*billing.WebhookResult, error)
}

type WebhookStatsStore interface {
	Snapshot(ctx context.Context) (*counter.Snapshot, error)
	Reset(ctx context.Context) error
}

var webhookEvents = []string{
	"checkout.session.completed",
	"checkout.session.async_payment_succeeded",
	"checkout.session.async_payment_failed",
	"checkout.session.expired",
	"payment_intent.payment_failed",
	"invoice.paid",
	"invoice.payment_failed",
	"customer.subscription.updated",
	"customer.subscription.deleted",
	"charge.refunded",
}

type WebhookController struct {
	svc   WebhookService
	stats WebhookStatsStore
	log   *zap.Logger
}

func NewWebhookController(svc WebhookService, stats WebhookStatsStore, log *zap.Logger) *WebhookController {
	if log == nil {
		log = zap.NewNop()
	}
	return &WebhookController{svc: svc, stats: stats, log: log}
}

// HandleWebhook verifies and processes a provider event. The raw body is
// passed through untouched; the signature covers its exact bytes.
func (wc *WebhookController) HandleWebhook(c *fiber.Ctx) error {
	payload := append([]byte(nil), c.Body()...)
	res, err := wc.svc.HandleWebhook(c.UserContext(), payload, c.Get(StripeSignatureHeader))
	if err != nil {
		kind := billing.KindOf(err)
		if StatusForKind(kind) >= fiber.StatusInternalServerError {
			wc.log.Error("webhook processing failed", zap.String("kind", string(kind)), zap.Error(err))
		} else {
			wc.log.Warn("webhook rejected",
				zap.String("kind", string(kind)),
				zap.String("ip", c.IP()),
				zap.Error(err),
			)
		}
		return renderError(c, err)
	}

	body := fiber.Map{
		"received":   true,
		"event_id":   res.EventID,
		"event_type": res.EventType,
	}
	if res.Duplicate {
		body["duplicate"] = true
	}
	if res.Ignored {
		body["ignored"] = true
	}
	return c.JSON(body)
}

func (wc *WebhookController) HandleWebhookHealth(c *fiber.Ctx) error {
	configured := wc.svc.Config().WebhookConfigured()
	status := "healthy"
	if !configured {
		status = "degraded"
	}
	return c.JSON(fiber.Map{
		"status":             status,
		"webhook_configured": configured,
		"features": fiber.Map{
			"signature_verification": true,
			"idempotent_processing":  true,
			"supported_events":       webhookEvents,
		},
	})
}

// HandleWebhookStats returns the webhook counters. Admin only.
func (wc *WebhookController) HandleWebhookStats(c *fiber.Ctx) error {
	snap, err := wc.stats.Snapshot(c.UserContext())
	if err != nil {
		wc.log.Error("webhook stats unavailable", zap.Error(err))
		return c.Status(fiber.StatusServiceUnavailable).JSON(fiber.Map{
			"error":   "stats_unavailable",
			"message": "webhook statistics are unavailable",
		})
	}
	return c.JSON(fiber.Map{"stats": snap})
}

func (wc *WebhookController) HandleResetWebhookStats(c *fiber.Ctx) error {
	if err := wc.stats.Reset(c.UserContext()); err != nil {
		wc.log.Error("webhook stats reset failed", zap.Error(err))
		return c.Status(fiber.StatusServiceUnavailable).JSON(fiber.Map{
			"error":   "stats_unavailable",
			"message": "webhook statistics are unavailable",
		})
	}
	wc.log.Info("webhook stats reset")
	return c.JSON(fiber.Map{"reset": true})
}
