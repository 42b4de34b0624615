package router

import (
	"strings"

	"github.com/gofiber/fiber/v2"
	"go.uber.org/zap"

	"github.com/omniai/payments/app/controllers"
	"github.com/omniai/payments/internal/pkg/middleware"
)

const (
	APIPrefix     = "/api"
	PaymentPrefix = "/payment/v2"
)

// ApiRouter mounts the JSON API: /api/auth, /api/payment/v2 and
// /api/admin/monitoring.
type ApiRouter struct {
	Payments   *controllers.PaymentController
	Webhooks   *controllers.WebhookController
	Auth       *controllers.AuthController
	Monitoring *controllers.MonitoringController
	Tokens     middleware.TokenParser
	// Users re-checks admin role and status on every admin request. Without
	// it the role in the token is trusted.
	Users     middleware.UserLookup
	RateLimit middleware.RateLimitConfig
	Log       *zap.Logger
}

func (h ApiRouter) InstallRouter(app *fiber.App) {
	log := h.Log
	if log == nil {
		log = zap.NewNop()
	}

	api := app.Group(APIPrefix)
	api.Get("/", func(ctx *fiber.Ctx) error {
		return ctx.Status(fiber.StatusOK).JSON(fiber.Map{
			"message": "OMNIAI payments API",
		})
	})

	authed := []fiber.Handler{middleware.BearerAuth(h.Tokens, log), middleware.RequireAuth}
	admin := []fiber.Handler{middleware.BearerAuth(h.Tokens, log), middleware.RequireAdmin}
	if h.Users != nil {
		admin = []fiber.Handler{middleware.BearerAuth(h.Tokens, log), middleware.RequireActiveAdmin(h.Users, log)}
	}

	if h.Auth != nil {
		a := api.Group("/auth")
		a.Post("/register", h.Auth.HandleRegister)
		a.Post("/login", h.Auth.HandleLogin)
	}

	rl := h.RateLimit
	if rl.Log == nil {
		rl.Log = log
	}
	if rl.Skip == nil {
		// provider retries must not be throttled
		rl.Skip = func(c *fiber.Ctx) bool {
			return strings.HasSuffix(c.Path(), "/webhook")
		}
	}
	pay := api.Group(PaymentPrefix, middleware.RateLimit(rl))

	pay.Get("/health", h.Payments.HandleHealth)
	pay.Get("/config", h.Payments.HandleConfig)
	pay.Get("/pricing", h.Payments.HandlePricing)
	pay.Post("/validate-amount", h.Payments.HandleValidateAmount)
	pay.Post("/create-checkout-session", append(authed, h.Payments.HandleCreateCheckoutSession)...)
	pay.Get("/subscription-status", append(authed, h.Payments.HandleSubscriptionStatus)...)
	pay.Get("/payment-history", append(authed, h.Payments.HandlePaymentHistory)...)
	pay.Post("/subscription/sync", append(authed, h.Payments.HandleSyncSubscription)...)

	pay.Post("/webhook", h.Webhooks.HandleWebhook)
	pay.Get("/webhook/health", h.Webhooks.HandleWebhookHealth)
	pay.Get("/webhook/stats", append(admin, h.Webhooks.HandleWebhookStats)...)
	pay.Post("/webhook/reset-stats", append(admin, h.Webhooks.HandleResetWebhookStats)...)

	if h.Monitoring != nil {
		mon := api.Group("/admin/monitoring", admin...)
		mon.Get("/status", h.Monitoring.HandleStatus)
		mon.Get("/health", h.Monitoring.HandleHealth)
		mon.Get("/metrics", h.Monitoring.HandleMetrics)
		mon.Get("/alerts", h.Monitoring.HandleAlerts)
		mon.Get("/dashboard", h.Monitoring.HandleDashboard)
	}

	api.Use(notFound)
}

func notFound(c *fiber.Ctx) error {
	return c.Status(fiber.StatusNotFound).JSON(fiber.Map{
		"error":   "not_found",
		"message": "no route for " + c.Method() + " " + c.Path(),
	})
}
