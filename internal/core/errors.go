package core

import (
	"errors"
	"fmt"
)

var (
	// ErrNotFound: unknown account/device/session/customer. Terminal for
	// the triggering request.
	ErrNotFound = errors.New("not_found")

	// ErrUnauthorized: ownership or role violation.
	ErrUnauthorized = errors.New("unauthorized")

	// ErrAccountInactive: account failed IsActive (disconnected, inactive,
	// or expired trial).
	ErrAccountInactive = errors.New("account_inactive")

	// ErrAlreadyCompleted: re-running a completed campaign.
	ErrAlreadyCompleted = errors.New("campaign_already_completed")

	// ErrConfigMissing: no usable vendor credentials, neither per-account
	// nor global.
	ErrConfigMissing = errors.New("whatsapp_config_missing")
)

// VendorError wraps a non-2xx or transport failure from a vendor API. The
// detail string is surfaced to the agent UI as-is.
type VendorError struct {
	Provider string
	Detail   string
}

func (e *VendorError) Error() string {
	return fmt.Sprintf("vendor %s: %s", e.Provider, e.Detail)
}
