package models

import "errors"

var (
	// ErrCurrencyNotUSD is returned by the save hooks of money-carrying models.
	ErrCurrencyNotUSD   = errors.New("only USD is supported")
	ErrPasswordTooShort = errors.New("password must be at least 8 characters")
)
