package models

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"
)

const (
	PaymentStatusPending   = "pending"
	PaymentStatusSucceeded = "succeeded"
	PaymentStatusFailed    = "failed"
	PaymentStatusRefunded  = "refunded"
)

// PaymentTransaction records one checkout attempt. Status only moves
// pending -> succeeded|failed and succeeded -> refunded.
type PaymentTransaction struct {
	ID                 uint            `gorm:"primaryKey" json:"id"`
	Reference          string          `gorm:"type:varchar(36);not null;uniqueIndex" json:"reference"`
	UserID             uint            `gorm:"not null;index:idx_payment_transactions_user_created,priority:1" json:"user_id"`
	SubscriptionID     uint            `gorm:"not null;index" json:"subscription_id"`
	Subscription       *Subscription   `gorm:"foreignKey:SubscriptionID" json:"subscription,omitempty"`
	BillingCycle       string          `gorm:"type:varchar(16);not null" json:"billing_cycle"`
	Amount             decimal.Decimal `gorm:"type:decimal(10,2);not null" json:"amount"`
	Currency           string          `gorm:"type:varchar(3);not null;default:'USD'" json:"currency"`
	Status             string          `gorm:"type:varchar(16);not null;default:'pending';index" json:"status"`
	ProviderReference  string          `gorm:"type:varchar(191);not null;uniqueIndex" json:"provider_reference"`
	ProviderPaymentRef string          `gorm:"type:varchar(191);index" json:"provider_payment_ref,omitempty"`
	FailureReason      string          `gorm:"type:text" json:"failure_reason,omitempty"`
	CreatedAt          time.Time       `gorm:"autoCreateTime;index:idx_payment_transactions_user_created,priority:2" json:"created_at"`
	UpdatedAt          time.Time       `gorm:"autoUpdateTime" json:"updated_at"`
}

func (t *PaymentTransaction) BeforeSave(tx *gorm.DB) error {
	return requireUSD(t.Currency)
}

func (t *PaymentTransaction) BeforeCreate(tx *gorm.DB) error {
	if t.Currency == "" {
		t.Currency = CurrencyUSD
	}
	if t.Reference == "" {
		t.Reference = uuid.NewString()
	}
	if t.Status == "" {
		t.Status = PaymentStatusPending
	}
	return nil
}

// IsFinal reports whether no further transition can leave this status.
func (t *PaymentTransaction) IsFinal() bool {
	return t.Status == PaymentStatusFailed || t.Status == PaymentStatusRefunded
}
