package billing

import (
	"github.com/shopspring/decimal"
)

// Validator checks currency codes and amounts against the configured bounds.
// It holds no state beyond the config and is safe for concurrent use.
// amountExponentLimit bounds the decimal exponent accepted before any
// rescaling, so "1e1000000" fails without materializing a huge integer.
const amountExponentLimit = 20

type Validator struct {
	currency string
	min      decimal.Decimal
	max      decimal.Decimal
}

func NewValidator(cfg Config) *Validator {
	return &Validator{
		currency: cfg.Currency,
		min:      cfg.MinAmount,
		max:      cfg.MaxAmount,
	}
}

// ValidateCurrency accepts only the configured code, compared exactly.
// "usd" and " USD" are rejected.
func (v *Validator) ValidateCurrency(code string) error {
	if code == v.currency {
		return nil
	}
	if code == "" {
		return newError(KindInvalidCurrency, "currency is required, only %s is supported", v.currency)
	}
	return newError(KindInvalidCurrency, "currency %q is not supported, only %s is accepted", code, v.currency)
}

// ValidateAmount checks the currency first, then rejects non-positive and
// sub-cent amounts, then enforces the inclusive [min, max] range.
// Exponents beyond amountExponentLimit are rejected up front.
func (v *Validator) ValidateAmount(amount decimal.Decimal, currency string) error {
	if err := v.ValidateCurrency(currency); err != nil {
		return err
	}
	if !amount.IsPositive() {
		return newError(KindInvalidAmount, "amount must be greater than zero")
	}
	if exp := amount.Exponent(); exp > amountExponentLimit {
		return v.outOfRange()
	} else if exp < -amountExponentLimit {
		return newError(KindInvalidAmount, "amount has more than two decimal places")
	}
	if !amount.Equal(amount.Round(2)) {
		return newError(KindInvalidAmount, "amount %s has more than two decimal places", amount.String())
	}
	if amount.LessThan(v.min) || amount.GreaterThan(v.max) {
		return v.outOfRange()
	}
	return nil
}

func (v *Validator) outOfRange() error {
	return newError(KindAmountOutOfRange, "amount must be between $%s and $%s %s",
		v.min.StringFixed(2), v.max.StringFixed(2), v.currency)
}

// Bounds returns the inclusive amount range.
func (v *Validator) Bounds() (min, max decimal.Decimal) {
	return v.min, v.max
}

func (v *Validator) Currency() string {
	return v.currency
}
