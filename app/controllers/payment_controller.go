package controllers

import (
	"context"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/omniai/payments/app/models"
	"github.com/omniai/payments/internal/pkg/billing"
	"github.com/omniai/payments/internal/pkg/usercontext"
)

// PaymentService is the part of billing.Service the payment API uses.
type PaymentService interface {
	Config() billing.Config
	Validator() *billing.Validator
	Pricing(ctx context.Context) (*billing.Pricing, error)
	CreateCheckoutSession(ctx context.Context, user *billing.Customer, req billing.CheckoutRequest) (*billing.CheckoutResult, error)
	SubscriptionStatus(ctx context.Context, userID uint) (*billing.SubscriptionStatus, error)
	PaymentHistory(ctx context.Context, userID uint, limit int) ([]models.PaymentTransaction, error)
	SyncSubscription(ctx context.Context, userID uint) (*models.UserSubscription, error)
}

var paymentFeatures = []string{
	"usd_only",
	"stripe_checkout",
	"subscriptions",
	"webhooks",
	"amount_validation",
}

type PaymentController struct {
	svc PaymentService
	log *zap.Logger
}

func NewPaymentController(svc PaymentService, log *zap.Logger) *PaymentController {
	if log == nil {
		log = zap.NewNop()
	}
	return &PaymentController{svc: svc, log: log}
}

type validateAmountRequest struct {
	Amount   *decimal.Decimal `json:"amount" validate:"required"`
	Currency string           `json:"currency" validate:"required"`
}

type checkoutRequest struct {
	PlanType       string `json:"plan_type" validate:"required"`
	BillingCycle   string `json:"billing_cycle" validate:"required"`
	Currency       string `json:"currency"`
	SubscriptionID uint   `json:"subscription_id"`
	SuccessURL     string `json:"success_url" validate:"omitempty,url"`
	CancelURL      string `json:"cancel_url" validate:"omitempty,url"`
}

func (pc *PaymentController) HandleHealth(c *fiber.Ctx) error {
	cfg := pc.svc.Config()
	return c.JSON(fiber.Map{
		"status":              "healthy",
		"currency":            cfg.Currency,
		"checkout_configured": cfg.CheckoutConfigured(),
		"webhook_configured":  cfg.WebhookConfigured(),
		"features":            paymentFeatures,
	})
}

// HandleConfig returns the public payment configuration for clients.
func (pc *PaymentController) HandleConfig(c *fiber.Ctx) error {
	cfg := pc.svc.Config()
	lo, hi := pc.svc.Validator().Bounds()
	return c.JSON(fiber.Map{
		"currency":             cfg.Currency,
		"usd_only":             true,
		"supported_currencies": []string{cfg.Currency},
		"min_amount":           money(lo),
		"max_amount":           money(hi),
		"publishable_key":      cfg.PublishableKey,
	})
}

func (pc *PaymentController) HandlePricing(c *fiber.Ctx) error {
	pricing, err := pc.svc.Pricing(c.UserContext())
	if err != nil {
		pc.log.Error("pricing lookup failed", zap.Error(err))
		return renderError(c, err)
	}

	plans := make(fiber.Map, len(pricing.Plans))
	for userType, pp := range pricing.Plans {
		tiers := make([]fiber.Map, 0, len(pp.Tiers))
		for i := range pp.Tiers {
			tiers = append(tiers, planView(&pp.Tiers[i]))
		}
		plans[userType] = fiber.Map{
			"monthly": money(pp.Monthly),
			"annual":  money(pp.Annual),
			"tiers":   tiers,
		}
	}
	return c.JSON(fiber.Map{
		"currency": pricing.Currency,
		"plans":    plans,
		"pricing":  plans,
	})
}

// HandleValidateAmount checks an amount and currency without side effects.
func (pc *PaymentController) HandleValidateAmount(c *fiber.Ctx) error {
	var req validateAmountRequest
	if err := c.BodyParser(&req); err != nil {
		return badRequest(c, "request body must be JSON with amount and currency")
	}
	if err := requestValidator.Struct(req); err != nil {
		return badRequest(c, validationMessage(err))
	}

	if err := pc.svc.Validator().ValidateAmount(*req.Amount, req.Currency); err != nil {
		return renderError(c, err, fiber.Map{"valid": false})
	}
	return c.JSON(fiber.Map{
		"valid":    true,
		"amount":   money(*req.Amount),
		"currency": req.Currency,
	})
}

func (pc *PaymentController) HandleCreateCheckoutSession(c *fiber.Ctx) error {
	uc := usercontext.GetUserContext(c)
	if !uc.IsLoggedIn {
		return renderError(c, billing.ErrUnauthorized)
	}

	var req checkoutRequest
	if err := c.BodyParser(&req); err != nil {
		return badRequest(c, "request body must be JSON")
	}
	if err := requestValidator.Struct(req); err != nil {
		return badRequest(c, validationMessage(err))
	}

	res, err := pc.svc.CreateCheckoutSession(c.UserContext(), &billing.Customer{
		UserID:   uc.UserID,
		Email:    uc.Email,
		UserType: uc.UserType,
	}, billing.CheckoutRequest{
		PlanType:       req.PlanType,
		BillingCycle:   req.BillingCycle,
		Currency:       req.Currency,
		SubscriptionID: req.SubscriptionID,
		SuccessURL:     req.SuccessURL,
		CancelURL:      req.CancelURL,
	})
	if err != nil {
		return renderError(c, err)
	}

	return c.JSON(fiber.Map{
		"checkout_url":  res.CheckoutURL,
		"session_id":    res.SessionID,
		"reference":     res.Reference,
		"plan_id":       res.PlanID,
		"plan_name":     res.PlanName,
		"billing_cycle": res.BillingCycle,
		"amount":        money(res.Amount),
		"currency":      res.Currency,
	})
}

func (pc *PaymentController) HandleSubscriptionStatus(c *fiber.Ctx) error {
	uc := usercontext.GetUserContext(c)
	if !uc.IsLoggedIn {
		return renderError(c, billing.ErrUnauthorized)
	}

	st, err := pc.svc.SubscriptionStatus(c.UserContext(), uc.UserID)
	if err != nil {
		return renderError(c, err)
	}

	view := userSubscriptionView(st.Subscription)
	view["entitled"] = st.Entitled
	view["features"] = st.Features
	if st.Plan != nil {
		view["plan"] = planView(st.Plan)
	}
	return c.JSON(fiber.Map{"subscription": view})
}

func (pc *PaymentController) HandlePaymentHistory(c *fiber.Ctx) error {
	uc := usercontext.GetUserContext(c)
	if !uc.IsLoggedIn {
		return renderError(c, billing.ErrUnauthorized)
	}

	limit := c.QueryInt("limit", billing.DefaultHistoryLimit)
	txs, err := pc.svc.PaymentHistory(c.UserContext(), uc.UserID, limit)
	if err != nil {
		return renderError(c, err)
	}

	payments := make([]fiber.Map, 0, len(txs))
	for i := range txs {
		payments = append(payments, transactionView(&txs[i]))
	}
	return c.JSON(fiber.Map{
		"payments": payments,
		"count":    len(payments),
	})
}

// HandleSyncSubscription refreshes the caller's subscription from the provider.
func (pc *PaymentController) HandleSyncSubscription(c *fiber.Ctx) error {
	uc := usercontext.GetUserContext(c)
	if !uc.IsLoggedIn {
		return renderError(c, billing.ErrUnauthorized)
	}

	us, err := pc.svc.SyncSubscription(c.UserContext(), uc.UserID)
	if err != nil {
		return renderError(c, err)
	}
	return c.JSON(fiber.Map{
		"synced":       true,
		"subscription": userSubscriptionView(us),
	})
}

func planView(p *models.Subscription) fiber.Map {
	return fiber.Map{
		"id":            p.ID,
		"name":          p.Name,
		"description":   p.Description,
		"user_type":     p.UserTypeApplicable,
		"price_monthly": money(p.PriceMonthly),
		"price_annual":  money(p.PriceAnnual),
		"currency":      p.Currency,
		"features":      p.Features,
	}
}

func userSubscriptionView(us *models.UserSubscription) fiber.Map {
	if us == nil {
		return fiber.Map{}
	}
	return fiber.Map{
		"id":                   us.ID,
		"subscription_id":      us.SubscriptionID,
		"status":               us.Status,
		"billing_cycle":        us.BillingCycle,
		"current_period_start": formatTimePtr(us.CurrentPeriodStart),
		"current_period_end":   formatTimePtr(us.CurrentPeriodEnd),
		"cancel_at_period_end": us.CancelAtPeriodEnd,
	}
}

func transactionView(tx *models.PaymentTransaction) fiber.Map {
	view := fiber.Map{
		"reference":     tx.Reference,
		"amount":        money(tx.Amount),
		"currency":      tx.Currency,
		"status":        tx.Status,
		"billing_cycle": tx.BillingCycle,
		"created_at":    tx.CreatedAt.UTC().Format(time.RFC3339),
	}
	if tx.Subscription != nil {
		view["plan_name"] = tx.Subscription.Name
	}
	if tx.FailureReason != "" {
		view["failure_reason"] = tx.FailureReason
	}
	return view
}
