package controllers

import (
	"errors"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/gofiber/fiber/v2"
	"github.com/shopspring/decimal"

	"github.com/omniai/payments/internal/pkg/billing"
)

var requestValidator = validator.New()

// StatusForKind maps a billing error kind to its HTTP status.
func StatusForKind(kind billing.Kind) int {
	switch kind {
	case billing.KindInvalidCurrency,
		billing.KindInvalidAmount,
		billing.KindInvalidPlan,
		billing.KindMissingSignature,
		billing.KindInvalidSignature,
		billing.KindMalformedPayload,
		billing.KindNoProviderCustomer:
		return fiber.StatusBadRequest
	case billing.KindAmountOutOfRange:
		return fiber.StatusUnprocessableEntity
	case billing.KindUnauthorized:
		return fiber.StatusUnauthorized
	case billing.KindForbidden:
		return fiber.StatusForbidden
	case billing.KindNotFound:
		return fiber.StatusNotFound
	case billing.KindRateLimited:
		return fiber.StatusTooManyRequests
	case billing.KindProviderUnavailable:
		return fiber.StatusBadGateway
	case billing.KindNotConfigured:
		return fiber.StatusServiceUnavailable
	default:
		return fiber.StatusInternalServerError
	}
}

// renderError writes {error, message} for err. Internal errors never leak
// their cause.
func renderError(c *fiber.Ctx, err error, extra ...fiber.Map) error {
	kind := billing.KindOf(err)
	body := fiber.Map{
		"error":   string(kind),
		"message": billing.MessageOf(err),
	}
	for _, m := range extra {
		for k, v := range m {
			body[k] = v
		}
	}
	return c.Status(StatusForKind(kind)).JSON(body)
}

func badRequest(c *fiber.Ctx, message string) error {
	return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
		"error":   "bad_request",
		"message": message,
	})
}

// validationMessage turns validator errors into "field: rule" pairs.
func validationMessage(err error) string {
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return err.Error()
	}
	parts := make([]string, 0, len(verrs))
	for _, fe := range verrs {
		parts = append(parts, strings.ToLower(fe.Field())+": "+fe.Tag())
	}
	return "invalid request: " + strings.Join(parts, ", ")
}

func money(d decimal.Decimal) float64 {
	return d.Round(2).InexactFloat64()
}

func formatTimePtr(t *time.Time) interface{} {
	if t == nil {
		return nil
	}
	return t.UTC().Format(time.RFC3339)
}
