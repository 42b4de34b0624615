package billing

import (
	"errors"
	"fmt"
)

// Kind classifies billing failures. The HTTP layer maps kinds to status codes.
type Kind string

const (
	KindInvalidCurrency     Kind = "invalid_currency"
	KindInvalidAmount       Kind = "invalid_amount"
	KindAmountOutOfRange    Kind = "amount_out_of_range"
	KindInvalidPlan         Kind = "invalid_plan"
	KindUnauthorized        Kind = "unauthorized"
	KindForbidden           Kind = "forbidden"
	KindMissingSignature    Kind = "missing_signature"
	KindInvalidSignature    Kind = "invalid_signature"
	KindMalformedPayload    Kind = "malformed_payload"
	KindNotFound            Kind = "not_found"
	KindNoProviderCustomer  Kind = "no_provider_customer"
	KindRateLimited         Kind = "rate_limited"
	KindProviderUnavailable Kind = "provider_unavailable"
	KindNotConfigured       Kind = "not_configured"
	KindInternal            Kind = "internal_error"
)

type Error struct {
	Kind    Kind
	Message string
	Err     error
}

func (e *Error) Error() string {
	msg := e.Message
	if msg == "" {
		msg = string(e.Kind)
	}
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", msg, e.Err)
	}
	return msg
}

func (e *Error) Unwrap() error {
	return e.Err
}

// Is matches any *Error of the same kind, so errors.Is(err, ErrInvalidAmount)
// holds for every invalid amount regardless of message.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return t.Kind == e.Kind
}

var (
	ErrInvalidCurrency     = &Error{Kind: KindInvalidCurrency}
	ErrInvalidAmount       = &Error{Kind: KindInvalidAmount}
	ErrAmountOutOfRange    = &Error{Kind: KindAmountOutOfRange}
	ErrInvalidPlan         = &Error{Kind: KindInvalidPlan}
	ErrUnauthorized        = &Error{Kind: KindUnauthorized}
	ErrForbidden           = &Error{Kind: KindForbidden}
	ErrMissingSignature    = &Error{Kind: KindMissingSignature}
	ErrInvalidSignature    = &Error{Kind: KindInvalidSignature}
	ErrMalformedPayload    = &Error{Kind: KindMalformedPayload}
	ErrNotFound            = &Error{Kind: KindNotFound}
	ErrNoProviderCustomer  = &Error{Kind: KindNoProviderCustomer}
	ErrProviderUnavailable = &Error{Kind: KindProviderUnavailable}
	ErrNotConfigured       = &Error{Kind: KindNotConfigured}
)

func newError(kind Kind, format string, args ...interface{}) *Error {
	return &Error{Kind: kind, Message: fmt.Sprintf(format, args...)}
}

func wrapError(kind Kind, err error, format string, args ...interface{}) *Error {
	return &Error{Kind: kind, Message: fmt.Sprintf(format, args...), Err: err}
}

// KindOf returns the kind of the first *Error in err's chain, or KindInternal.
func KindOf(err error) Kind {
	var be *Error
	if errors.As(err, &be) {
		return be.Kind
	}
	return KindInternal
}

// MessageOf returns a message safe to show to API clients.
func MessageOf(err error) string {
	var be *Error
	if errors.As(err, &be) {
		if be.Message != "" {
			return be.Message
		}
		return string(be.Kind)
	}
	return "internal error"
}
