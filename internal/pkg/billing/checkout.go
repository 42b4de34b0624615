package billing

import (
	"context"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/omniai/payments/app/models"
)

// CreateCheckoutSession validates the request, opens a hosted checkout page
// with the provider and records a pending transaction for it.
//
// Nothing reaches the provider unless currency and amount validate. When the
// provider call succeeds but the local insert fails, the session is still
// returned; the checkout.session.completed webhook recreates the row from
// the session metadata.
func (s *Service) CreateCheckoutSession(ctx context.Context, user *Customer, req CheckoutRequest) (*CheckoutResult, error) {
	if user == nil || user.UserID == 0 {
		return nil, newError(KindUnauthorized, "authentication required")
	}

	planType := normalizeUserType(req.PlanType)
	if !models.IsValidUserType(planType) {
		return nil, newError(KindInvalidPlan, "plan_type must be one of individual, company")
	}
	cycle := normalizeCycle(req.BillingCycle)
	if !models.IsValidBillingCycle(cycle) {
		return nil, newError(KindInvalidPlan, "billing_cycle must be one of monthly, annual")
	}

	currency := req.Currency
	if currency == "" {
		currency = s.cfg.Currency
	}
	if err := s.validator.ValidateCurrency(currency); err != nil {
		return nil, err
	}

	plan, err := s.resolvePlan(ctx, planType, req.SubscriptionID)
	if err != nil {
		return nil, err
	}
	amount, err := plan.PriceFor(cycle)
	if err != nil {
		return nil, wrapError(KindInvalidPlan, err, "plan %q has no %s price", plan.Name, cycle)
	}
	if err := s.validator.ValidateAmount(amount, currency); err != nil {
		return nil, err
	}

	if !s.cfg.CheckoutConfigured() {
		return nil, newError(KindNotConfigured, "payment provider is not configured")
	}

	ref := uuid.NewString()
	successURL := firstNonEmpty(req.SuccessURL, s.cfg.SuccessURL)
	cancelURL := firstNonEmpty(req.CancelURL, s.cfg.CancelURL)

	pctx, cancel := context.WithTimeout(ctx, s.cfg.ProviderTimeout)
	defer cancel()

	session, err := s.provider.CreateCheckoutSession(pctx, CheckoutSessionInput{
		IdempotencyKey:  ref,
		TransactionRef:  ref,
		UserID:          user.UserID,
		CustomerEmail:   user.Email,
		SubscriptionID:  plan.ID,
		PlanName:        plan.Name,
		PlanDescription: plan.Description,
		BillingCycle:    cycle,
		Amount:          amount,
		Currency:        currency,
		SuccessURL:      successURL,
		CancelURL:       cancelURL,
	})
	if err != nil {
		s.log.Error("checkout session creation failed",
			zap.Uint("user_id", user.UserID),
			zap.Uint("subscription_id", plan.ID),
			zap.String("billing_cycle", cycle),
			zap.Error(err),
		)
		if KindOf(err) == KindInternal {
			return nil, wrapError(KindProviderUnavailable, err, "payment provider unavailable")
		}
		return nil, err
	}

	tx := &models.PaymentTransaction{
		Reference:         ref,
		UserID:            user.UserID,
		SubscriptionID:    plan.ID,
		BillingCycle:      cycle,
		Amount:            amount,
		Currency:          currency,
		Status:            models.PaymentStatusPending,
		ProviderReference: session.ID,
	}
	if err := s.repo.CreateTransaction(ctx, tx); err != nil {
		s.log.Error("pending transaction not persisted, webhook will reconcile",
			zap.String("transaction_ref", ref),
			zap.String("session_id", session.ID),
			zap.Error(err),
		)
	}

	s.log.Info("checkout session created",
		zap.Uint("user_id", user.UserID),
		zap.String("transaction_ref", ref),
		zap.String("session_id", session.ID),
		zap.String("amount", amount.StringFixed(2)),
	)

	return &CheckoutResult{
		CheckoutURL:  session.URL,
		SessionID:    session.ID,
		Reference:    ref,
		PlanID:       plan.ID,
		PlanName:     plan.Name,
		BillingCycle: cycle,
		Amount:       amount,
		Currency:     currency,
	}, nil
}

// resolvePlan returns the requested active tier of planType, or the cheapest
// monthly tier when no tier is requested.
func (s *Service) resolvePlan(ctx context.Context, planType string, subscriptionID uint) (*models.Subscription, error) {
	plans, err := s.repo.ListActivePlans(ctx)
	if err != nil {
		return nil, err
	}
	tiers := plansForUserType(plans, planType)
	if subscriptionID != 0 {
		for i := range tiers {
			if tiers[i].ID == subscriptionID {
				return &tiers[i], nil
			}
		}
		return nil, newError(KindInvalidPlan, "subscription %d is not an active %s plan", subscriptionID, planType)
	}
	plan := cheapestPlan(tiers, models.BillingCycleMonthly)
	if plan == nil {
		return nil, newError(KindInvalidPlan, "no active %s plan is available", planType)
	}
	return plan, nil
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}
