// Package common defines shared constants and sentinel errors used across
// the bot's layers. Callers should use errors.Is to match these values.
package common

import "errors"

var (
	// Repository-level errors.
	ErrNotFound = errors.New("not found")

	// Validation errors (bad/inactive plan, missing parent order, unknown user).
	ErrValidation = errors.New("validation error")

	// Payment-signal matching errors.
	ErrNoMatch        = errors.New("no matching order")
	ErrAmbiguousMatch = errors.New("ambiguous match")

	// Provisioner errors.
	ErrProvisionerUnavailable = errors.New("provisioner unavailable")
	ErrProvisionerRejected    = errors.New("provisioner rejected request")

	// Renewal deleted the old credential but failed to create the new one.
	// Requires operator intervention.
	ErrRenewalFailed = errors.New("renewal failed without credential")

	// Order lifecycle errors.
	ErrOrderNotWaiting  = errors.New("order is not waiting")
	ErrDuplicateOrderID = errors.New("duplicate order id")

	// Ledger errors.
	ErrInsufficientBalance = errors.New("insufficient referral balance")

	// User-facing flow control.
	ErrTrialAlreadyUsed = errors.New("trial already used")
	ErrCooldown         = errors.New("user is on cooldown")

	// Auth errors.
	ErrUnauthorized   = errors.New("unauthorized")
	ErrInvalidToken   = errors.New("invalid token")
	ErrInvalidWebhook = errors.New("invalid webhook secret")
	ErrInternal       = errors.New("internal error")
)
