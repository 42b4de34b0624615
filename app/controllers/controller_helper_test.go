package controllers

import (
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"

	"github.com/omniai/payments/internal/pkg/billing"
)

func TestStatusForKind(t *testing.T) {
	tests := map[billing.Kind]int{
		billing.KindInvalidCurrency:     400,
		billing.KindInvalidAmount:       400,
		billing.KindInvalidPlan:         400,
		billing.KindMissingSignature:    400,
		billing.KindInvalidSignature:    400,
		billing.KindMalformedPayload:    400,
		billing.KindNoProviderCustomer:  400,
		billing.KindAmountOutOfRange:    422,
		billing.KindUnauthorized:        401,
		billing.KindForbidden:           403,
		billing.KindNotFound:            404,
		billing.KindRateLimited:         429,
		billing.KindProviderUnavailable: 502,
		billing.KindNotConfigured:       503,
		billing.KindInternal:            500,
		billing.Kind("something_new"):   500,
	}
	for kind, want := range tests {
		assert.Equal(t, want, StatusForKind(kind), string(kind))
	}
}

func TestFormatTimePtr(t *testing.T) {
	assert.Nil(t, formatTimePtr(nil))

	now := time.Date(2024, 5, 1, 12, 34, 56, 0, time.Local)
	formatted := formatTimePtr(&now)
	assert.IsType(t, "", formatted)
	assert.Equal(t, now.UTC().Format(time.RFC3339), formatted)
}

func TestMoney(t *testing.T) {
	assert.Equal(t, 99.99, money(decimal.RequireFromString("99.99")))
	assert.Equal(t, 10.01, money(decimal.RequireFromString("10.005")))
	assert.Equal(t, 1.0, money(decimal.RequireFromString("1")))
}
