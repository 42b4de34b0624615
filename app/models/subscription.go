package models

import (
	"fmt"
	"time"

	"github.com/shopspring/decimal"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

const CurrencyUSD = "USD"

const (
	UserTypeIndividual = "individual"
	UserTypeCompany    = "company"
)

const (
	BillingCycleMonthly = "monthly"
	BillingCycleAnnual  = "annual"
)

// Subscription is a purchasable plan tier. Rows are seeded and retired by
// flipping IsActive, never deleted.
type Subscription struct {
	ID                 uint              `gorm:"primaryKey" json:"id"`
	Name               string            `gorm:"type:varchar(100);not null;uniqueIndex" json:"name"`
	Description        string            `gorm:"type:text" json:"description"`
	UserTypeApplicable string            `gorm:"type:varchar(20);not null;index:idx_subscriptions_type_active,priority:1" json:"user_type_applicable"`
	PriceMonthly       decimal.Decimal   `gorm:"type:decimal(10,2);not null" json:"price_monthly"`
	PriceAnnual        decimal.Decimal   `gorm:"type:decimal(10,2);not null" json:"price_annual"`
	Currency           string            `gorm:"type:varchar(3);not null;default:'USD'" json:"currency"`
	Features           datatypes.JSONMap `gorm:"type:json" json:"features"`
	IsActive           bool              `gorm:"default:true;index:idx_subscriptions_type_active,priority:2" json:"is_active"`
	CreatedAt          time.Time         `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt          time.Time         `gorm:"autoUpdateTime" json:"updated_at"`
}

func (s *Subscription) BeforeSave(tx *gorm.DB) error {
	return requireUSD(s.Currency)
}

func (s *Subscription) BeforeCreate(tx *gorm.DB) error {
	if s.Currency == "" {
		s.Currency = CurrencyUSD
	}
	return nil
}

// PriceFor returns the plan price for the given billing cycle.
func (s *Subscription) PriceFor(cycle string) (decimal.Decimal, error) {
	switch cycle {
	case BillingCycleMonthly:
		return s.PriceMonthly, nil
	case BillingCycleAnnual:
		return s.PriceAnnual, nil
	default:
		return decimal.Zero, fmt.Errorf("unknown billing cycle %q", cycle)
	}
}

// IsValidUserType reports whether t names a plan audience.
func IsValidUserType(t string) bool {
	return t == UserTypeIndividual || t == UserTypeCompany
}

// IsValidBillingCycle reports whether c names a supported billing cycle.
func IsValidBillingCycle(c string) bool {
	return c == BillingCycleMonthly || c == BillingCycleAnnual
}

// requireUSD accepts an unset currency so partial updates pass; creates
// default it to USD.
func requireUSD(currency string) error {
	if currency == "" || currency == CurrencyUSD {
		return nil
	}
	return fmt.Errorf("%w: got %q", ErrCurrencyNotUSD, currency)
}
