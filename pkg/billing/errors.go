package billing

import (
	"errors"
	"fmt"
)

var (
	ErrVerificationFailed  = errors.New("webhook verification failed")
	ErrProviderUnavailable = errors.New("billing provider unavailable")

	ErrMissingAPIKey        = errors.New("billing provider API key is required")
	ErrMissingWebhookSecret = errors.New("billing provider webhook secret is required")
	ErrInvalidEnvironment   = errors.New("invalid billing provider environment")
	ErrMissingCustomerID    = errors.New("customer id is required")
	ErrMissingLister        = errors.New("subscription lister is required")
)

// VerificationReason classifies a rejected webhook delivery.
type VerificationReason string

const (
	ReasonBadSignature   VerificationReason = "bad_signature"
	ReasonStaleTimestamp VerificationReason = "stale_timestamp"
	ReasonMalformed      VerificationReason = "malformed"
)

// VerificationError reports why a delivery was rejected.
type VerificationError struct {
	Reason VerificationReason
	Err    error
}

func newVerificationError(reason VerificationReason, err error) *VerificationError {
	return &VerificationError{Reason: reason, Err: err}
}

func malformed(format string, args ...any) *VerificationError {
	return newVerificationError(ReasonMalformed, fmt.Errorf(format, args...))
}

func (e *VerificationError) Error() string {
	if e.Err == nil {
		return fmt.Sprintf("webhook verification failed: %s", e.Reason)
	}
	return fmt.Sprintf("webhook verification failed: %s: %v", e.Reason, e.Err)
}

func (e *VerificationError) Unwrap() []error {
	if e.Err == nil {
		return []error{ErrVerificationFailed}
	}
	return []error{ErrVerificationFailed, e.Err}
}

// Retryable reports whether the sender should redeliver. Malformed payloads
// will never parse, so they are acknowledged instead.
func (e *VerificationError) Retryable() bool {
	return e.Reason != ReasonMalformed
}
