package billing

import (
	"errors"
	"fmt"
)

var (
	// ErrInvalidRequest marks input rejected by request validation.
	ErrInvalidRequest = errors.New("invalid billing request")
	// ErrPlanNotFound is returned when a plan does not resolve against the plan catalog.
	ErrPlanNotFound = errors.New("plan not found")
	// ErrSubscriptionNotFound is returned when no subscription row exists.
	ErrSubscriptionNotFound = errors.New("subscription not found")
)

// Reasons wrapped by SignatureVerificationError.
var (
	ErrSignatureMissing   = errors.New("signature header missing")
	ErrSignatureMalformed = errors.New("signature header malformed")
	ErrSignatureMismatch  = errors.New("signature mismatch")
)

// SignatureVerificationError is returned when a webhook request cannot be
// authenticated. No callback is ever invoked for such a request.
type SignatureVerificationError struct {
	Provider ProviderID
	Reason   string
	Err      error
}

func (e *SignatureVerificationError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s webhook signature verification failed: %s: %v", e.Provider, e.Reason, e.Err)
	}
	return fmt.Sprintf("%s webhook signature verification failed: %s", e.Provider, e.Reason)
}

func (e *SignatureVerificationError) Unwrap() error { return e.Err }

// UnsupportedProviderError is returned when billing is invoked for a provider
// that has no registered implementation.
type UnsupportedProviderError struct {
	Provider ProviderID
}

func (e *UnsupportedProviderError) Error() string {
	if e.Provider == "" {
		return "billing provider is not configured"
	}
	return fmt.Sprintf("billing provider %q is not supported", string(e.Provider))
}

// ProviderRequestError wraps an error returned by the upstream provider API.
// Raw keeps the provider's original error for logging.
type ProviderRequestError struct {
	Provider   ProviderID
	Operation  string
	StatusCode int
	Raw        error
}

func (e *ProviderRequestError) Error() string {
	if e.StatusCode > 0 {
		return fmt.Sprintf("%s %s failed: status=%d: %v", e.Provider, e.Operation, e.StatusCode, e.Raw)
	}
	return fmt.Sprintf("%s %s failed: %v", e.Provider, e.Operation, e.Raw)
}

func (e *ProviderRequestError) Unwrap() error { return e.Raw }

// CustomerNotFoundError is returned when an account has no provider customer yet.
type CustomerNotFoundError struct {
	AccountID string
}

func (e *CustomerNotFoundError) Error() string {
	return fmt.Sprintf("no billing customer found for account %s", e.AccountID)
}
