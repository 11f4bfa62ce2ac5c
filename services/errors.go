// services/errors.go
package services

import "errors"

var (
	ErrMissingSecret       = errors.New("webhook signature key not configured")
	ErrMissingSignature    = errors.New("missing webhook signature")
	ErrInvalidSignature    = errors.New("invalid webhook signature")
	ErrMalformedEvent      = errors.New("malformed webhook event")
	ErrNotFound            = errors.New("not found")
	ErrUnauthorized        = errors.New("unauthorized")
	ErrInvalidInput        = errors.New("invalid input")
	ErrGatewayUnavailable  = errors.New("payments platform unavailable")
	ErrDuplicateEvent      = errors.New("duplicate event")
	ErrWalletNotConfigured = errors.New("wallet signing not configured")
)
