package models

import "time"

const (
	SubscriptionStatusActive     = "active"
	SubscriptionStatusPastDue    = "past_due"
	SubscriptionStatusCanceled   = "canceled"
	SubscriptionStatusIncomplete = "incomplete"
)

// UserSubscription is the plan a user currently holds, mirrored from the
// payment provider's subscription object.
type UserSubscription struct {
	ID                     uint          `gorm:"primaryKey" json:"id"`
	UserID                 uint          `gorm:"not null;index" json:"user_id"`
	SubscriptionID         uint          `gorm:"not null;index" json:"subscription_id"`
	Subscription           *Subscription `gorm:"foreignKey:SubscriptionID" json:"subscription,omitempty"`
	BillingCycle           string        `gorm:"type:varchar(16);not null" json:"billing_cycle"`
	Status                 string        `gorm:"type:varchar(32);not null;default:'incomplete';index" json:"status"`
	ProviderCustomerID     string        `gorm:"type:varchar(191);index" json:"provider_customer_id,omitempty"`
	ProviderSubscriptionID string        `gorm:"type:varchar(191);index" json:"provider_subscription_id,omitempty"`
	CurrentPeriodStart     *time.Time    `gorm:"type:timestamp;default:null" json:"current_period_start,omitempty"`
	CurrentPeriodEnd       *time.Time    `gorm:"type:timestamp;default:null" json:"current_period_end,omitempty"`
	CancelAtPeriodEnd      bool          `gorm:"default:false" json:"cancel_at_period_end"`
	CreatedAt              time.Time     `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt              time.Time     `gorm:"autoUpdateTime" json:"updated_at"`
}

// IsEntitling reports whether the subscription currently grants plan features.
func (us *UserSubscription) IsEntitling(now time.Time) bool {
	if us.Status != SubscriptionStatusActive && us.Status != SubscriptionStatusPastDue {
		return false
	}
	return us.CurrentPeriodEnd == nil || us.CurrentPeriodEnd.After(now)
}
