package billing

import (
	"context"
	"time"

	"github.com/shopspring/decimal"
)

// CheckoutSessionInput is everything the provider needs to open a hosted
// checkout page for one plan purchase.
type CheckoutSessionInput struct {
	IdempotencyKey  string
	TransactionRef  string
	UserID          uint
	CustomerEmail   string
	SubscriptionID  uint
	PlanName        string
	PlanDescription string
	BillingCycle    string
	Amount          decimal.Decimal
	Currency        string
	SuccessURL      string
	CancelURL       string
}

type CheckoutSession struct {
	ID  string
	URL string
}

// ProviderSubscription is the provider-side view of a recurring subscription.
type ProviderSubscription struct {
	ID                 string
	CustomerID         string
	Status             string
	CurrentPeriodStart *time.Time
	CurrentPeriodEnd   *time.Time
	CancelAtPeriodEnd  bool
}

// Provider is the payment processor. Implementations must not retry on
// their own; callers bound every call with a context deadline.
type Provider interface {
	CreateCheckoutSession(ctx context.Context, in CheckoutSessionInput) (*CheckoutSession, error)
	GetSubscription(ctx context.Context, providerSubscriptionID string) (*ProviderSubscription, error)
	// FindCustomerSubscription returns the most recent subscription of the
	// customer, or nil when there is none.
	FindCustomerSubscription(ctx context.Context, providerCustomerID string) (*ProviderSubscription, error)
	// InvoicePaymentIntent returns the payment intent that paid the invoice,
	// or "" when the invoice has no payment.
	InvoicePaymentIntent(ctx context.Context, invoiceID string) (string, error)
}

// Metadata keys attached to checkout sessions and read back from webhooks.
const (
	MetaUserID         = "user_id"
	MetaSubscriptionID = "subscription_id"
	MetaBillingCycle   = "billing_cycle"
	MetaTransactionRef = "transaction_ref"
)
