package billing

import (
	"context"
	"time"

	"github.com/shopspring/decimal"

	"github.com/omniai/payments/app/models"
	"github.com/omniai/payments/internal/pkg/entitlements"
)

// Customer is the authenticated caller of a payment operation.
type Customer struct {
	UserID   uint
	Email    string
	UserType string
}

type CheckoutRequest struct {
	PlanType       string
	BillingCycle   string
	Currency       string
	SubscriptionID uint
	SuccessURL     string
	CancelURL      string
}

type CheckoutResult struct {
	CheckoutURL  string
	SessionID    string
	Reference    string
	PlanID       uint
	PlanName     string
	BillingCycle string
	Amount       decimal.Decimal
	Currency     string
}

// PlanPricing groups the active tiers of one audience. Monthly and Annual are
// the entry prices of the cheapest tier.
type PlanPricing struct {
	Monthly decimal.Decimal
	Annual  decimal.Decimal
	Tiers   []models.Subscription
}

type Pricing struct {
	Currency string
	Plans    map[string]PlanPricing
}

type SubscriptionStatus struct {
	Subscription *models.UserSubscription
	Plan         *models.Subscription
	Features     entitlements.Features
	Entitled     bool
}

type WebhookResult struct {
	EventID   string
	EventType string
	Duplicate bool
	Ignored   bool
}

// Webhook statistic fields.
const (
	StatReceived         = "received"
	StatProcessed        = "processed"
	StatDuplicate        = "duplicate"
	StatIgnored          = "ignored"
	StatInvalidSignature = "invalid_signature"
	StatMissingSignature = "missing_signature"
	StatMalformed        = "malformed"
	StatFailed           = "failed"
)

// Stats counts webhook outcomes.
type Stats interface {
	Incr(ctx context.Context, field string) error
}

// PaymentEvent is published after a payment or subscription transition.
type PaymentEvent struct {
	EventType      string    `json:"event_type"`
	TransactionRef string    `json:"transaction_ref,omitempty"`
	UserID         uint      `json:"user_id"`
	SubscriptionID uint      `json:"subscription_id"`
	Amount         string    `json:"amount,omitempty"`
	Currency       string    `json:"currency"`
	Status         string    `json:"status"`
	OccurredAt     time.Time `json:"occurred_at"`
}

type Publisher interface {
	Publish(ctx context.Context, ev PaymentEvent) error
}

type nopStats struct{}

func (nopStats) Incr(context.Context, string) error { return nil }

type nopPublisher struct{}

func (nopPublisher) Publish(context.Context, PaymentEvent) error { return nil }
