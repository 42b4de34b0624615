package billing

import (
	"context"
	"errors"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/stripe/stripe-go/v82"
	"github.com/stripe/stripe-go/v82/checkout/session"
	"github.com/stripe/stripe-go/v82/invoice"
	"github.com/stripe/stripe-go/v82/subscription"
	"go.uber.org/zap"

	"github.com/omniai/payments/app/models"
)

// StripeProvider implements Provider on the Stripe API.
type StripeProvider struct {
	sessions      session.Client
	subscriptions subscription.Client
	invoices      invoice.Client
	log           *zap.Logger
}

// NewStripeProvider builds a client with its own backend so the HTTP timeout
// and the zero-retry policy do not leak into other stripe-go users.
func NewStripeProvider(cfg Config, log *zap.Logger) *StripeProvider {
	if log == nil {
		log = zap.NewNop()
	}
	backendCfg := &stripe.BackendConfig{
		HTTPClient:        &http.Client{Timeout: cfg.ProviderTimeout},
		MaxNetworkRetries: stripe.Int64(0),
		LeveledLogger:     log.Named("stripe").Sugar(),
	}
	if cfg.APIBaseURL != "" {
		backendCfg.URL = stripe.String(cfg.APIBaseURL)
	}
	backend := stripe.GetBackendWithConfig(stripe.APIBackend, backendCfg)

	return &StripeProvider{
		sessions:      session.Client{B: backend, Key: cfg.SecretKey},
		subscriptions: subscription.Client{B: backend, Key: cfg.SecretKey},
		invoices:      invoice.Client{B: backend, Key: cfg.SecretKey},
		log:           log,
	}
}

func (p *StripeProvider) CreateCheckoutSession(ctx context.Context, in CheckoutSessionInput) (*CheckoutSession, error) {
	metadata := map[string]string{
		MetaUserID:         strconv.FormatUint(uint64(in.UserID), 10),
		MetaSubscriptionID: strconv.FormatUint(uint64(in.SubscriptionID), 10),
		MetaBillingCycle:   in.BillingCycle,
		MetaTransactionRef: in.TransactionRef,
	}

	product := &stripe.CheckoutSessionLineItemPriceDataProductDataParams{
		Name: stripe.String(in.PlanName),
	}
	if in.PlanDescription != "" {
		product.Description = stripe.String(in.PlanDescription)
	}

	params := &stripe.CheckoutSessionParams{
		Mode:              stripe.String(string(stripe.CheckoutSessionModeSubscription)),
		SuccessURL:        stripe.String(in.SuccessURL),
		CancelURL:         stripe.String(in.CancelURL),
		ClientReferenceID: stripe.String(in.TransactionRef),
		LineItems: []*stripe.CheckoutSessionLineItemParams{
			{
				PriceData: &stripe.CheckoutSessionLineItemPriceDataParams{
					Currency:    stripe.String(strings.ToLower(in.Currency)),
					UnitAmount:  stripe.Int64(in.Amount.Shift(2).IntPart()),
					ProductData: product,
					Recurring: &stripe.CheckoutSessionLineItemPriceDataRecurringParams{
						Interval: stripe.String(providerInterval(in.BillingCycle)),
					},
				},
				Quantity: stripe.Int64(1),
			},
		},
		SubscriptionData: &stripe.CheckoutSessionSubscriptionDataParams{
			Metadata: metadata,
		},
	}
	if in.CustomerEmail != "" {
		params.CustomerEmail = stripe.String(in.CustomerEmail)
	}
	for k, v := range metadata {
		params.AddMetadata(k, v)
	}
	params.Context = ctx
	if in.IdempotencyKey != "" {
		params.SetIdempotencyKey(in.IdempotencyKey)
	}

	s, err := p.sessions.New(params)
	if err != nil {
		return nil, providerError("create checkout session", err)
	}
	return &CheckoutSession{ID: s.ID, URL: s.URL}, nil
}

func (p *StripeProvider) GetSubscription(ctx context.Context, providerSubscriptionID string) (*ProviderSubscription, error) {
	params := &stripe.SubscriptionParams{}
	params.Context = ctx
	sub, err := p.subscriptions.Get(providerSubscriptionID, params)
	if err != nil {
		var se *stripe.Error
		if errors.As(err, &se) && se.HTTPStatusCode == http.StatusNotFound {
			return nil, nil
		}
		return nil, providerError("get subscription", err)
	}
	return toProviderSubscription(sub), nil
}

func (p *StripeProvider) FindCustomerSubscription(ctx context.Context, providerCustomerID string) (*ProviderSubscription, error) {
	params := &stripe.SubscriptionListParams{
		Customer: stripe.String(providerCustomerID),
		Status:   stripe.String("all"),
	}
	params.Context = ctx
	params.Limit = stripe.Int64(1)
	params.Single = true

	it := p.subscriptions.List(params)
	for it.Next() {
		return toProviderSubscription(it.Subscription()), nil
	}
	if err := it.Err(); err != nil {
		return nil, providerError("list subscriptions", err)
	}
	return nil, nil
}

func (p *StripeProvider) InvoicePaymentIntent(ctx context.Context, invoiceID string) (string, error) {
	params := &stripe.InvoiceParams{}
	params.Context = ctx
	params.AddExpand("payments")
	inv, err := p.invoices.Get(invoiceID, params)
	if err != nil {
		return "", providerError("get invoice", err)
	}
	if inv.Payments == nil {
		return "", nil
	}
	for _, ip := range inv.Payments.Data {
		if ip == nil || ip.Payment == nil || ip.Payment.PaymentIntent == nil {
			continue
		}
		if ip.Payment.PaymentIntent.ID != "" {
			return ip.Payment.PaymentIntent.ID, nil
		}
	}
	return "", nil
}

func toProviderSubscription(sub *stripe.Subscription) *ProviderSubscription {
	if sub == nil {
		return nil
	}
	out := &ProviderSubscription{
		ID:                sub.ID,
		Status:            string(sub.Status),
		CancelAtPeriodEnd: sub.CancelAtPeriodEnd,
	}
	if sub.Customer != nil {
		out.CustomerID = sub.Customer.ID
	}
	// Billing periods live on the items since the 2025-03-31 API version.
	if sub.Items != nil {
		for _, item := range sub.Items.Data {
			if item == nil || item.CurrentPeriodEnd == 0 {
				continue
			}
			out.CurrentPeriodStart = unixTime(item.CurrentPeriodStart)
			out.CurrentPeriodEnd = unixTime(item.CurrentPeriodEnd)
			break
		}
	}
	return out
}

// localSubscriptionStatus folds Stripe's subscription states into ours.
func localSubscriptionStatus(providerStatus string) string {
	switch stripe.SubscriptionStatus(providerStatus) {
	case stripe.SubscriptionStatusActive, stripe.SubscriptionStatusTrialing:
		return models.SubscriptionStatusActive
	case stripe.SubscriptionStatusPastDue, stripe.SubscriptionStatusUnpaid, stripe.SubscriptionStatusPaused:
		return models.SubscriptionStatusPastDue
	case stripe.SubscriptionStatusCanceled, stripe.SubscriptionStatusIncompleteExpired:
		return models.SubscriptionStatusCanceled
	default:
		return models.SubscriptionStatusIncomplete
	}
}

func unixTime(sec int64) *time.Time {
	if sec == 0 {
		return nil
	}
	t := time.Unix(sec, 0).UTC()
	return &t
}

func providerError(op string, err error) error {
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
		return wrapError(KindProviderUnavailable, err, "payment provider timed out during %s", op)
	}
	var se *stripe.Error
	if errors.As(err, &se) && se.Msg != "" {
		return wrapError(KindProviderUnavailable, err, "payment provider rejected %s: %s", op, se.Msg)
	}
	return wrapError(KindProviderUnavailable, err, "payment provider unavailable during %s", op)
}
