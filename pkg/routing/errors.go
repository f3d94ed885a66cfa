package routing

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"mercator-hq/keyrelay/pkg/pool"
	"mercator-hq/keyrelay/pkg/providers"
)

// Common routing errors that can be checked with errors.Is().
var (
	// ErrAllProvidersFailed is returned when every tier failed.
	ErrAllProvidersFailed = errors.New("all providers failed")

	// ErrQuotaExhausted matches an AllProvidersFailedError whose final tier
	// failed with a quota error.
	ErrQuotaExhausted = errors.New("upstream quota exhausted")

	// ErrInvalidTier is returned for an unknown tier or chain shape name.
	ErrInvalidTier = errors.New("invalid routing tier")

	// ErrNoTiers is returned when a router is built without tiers.
	ErrNoTiers = errors.New("no routing tiers configured")
)

// Failure reasons reported per tier.
const (
	ReasonTimeout       = "timeout"
	ReasonTransport     = "transport_error"
	ReasonQuota         = "quota_exhausted"
	ReasonInvalidKey    = "invalid_key"
	ReasonUpstream      = "upstream_error"
	ReasonProtocol      = "protocol_error"
	ReasonNoArtifact    = "no_artifact"
	ReasonPoolExhausted = "pool_exhausted"
	ReasonCanceled      = "canceled"
	ReasonUnknown       = "error"
)

// AllProvidersFailedError is returned when every tier of the chain failed.
// It carries every tier's error, not only the last.
type AllProvidersFailedError struct {
	// Attempts holds one failed attempt per tier, in chain order.
	Attempts []TierAttempt

	// QuotaExhausted is set when the final tier failed with a quota error.
	QuotaExhausted bool
}

// Error implements the error interface.
func (e *AllProvidersFailedError) Error() string {
	parts := make([]string, 0, len(e.Attempts))
	for _, a := range e.Attempts {
		parts = append(parts, fmt.Sprintf("%s: %v", a.Tier, a.Error))
	}
	msg := fmt.Sprintf("all providers failed (%s)", strings.Join(parts, "; "))
	if e.QuotaExhausted {
		msg += ": upstream quota exhausted"
	}
	return msg
}

// Is implements error matching for errors.Is().
func (e *AllProvidersFailedError) Is(target error) bool {
	if target == ErrAllProvidersFailed {
		return true
	}
	return target == ErrQuotaExhausted && e.QuotaExhausted
}

// Unwrap returns every tier's error for error chain traversal.
func (e *AllProvidersFailedError) Unwrap() []error {
	errs := make([]error, 0, len(e.Attempts))
	for _, a := range e.Attempts {
		if a.Error != nil {
			errs = append(errs, a.Error)
		}
	}
	return errs
}

// Last returns the final tier's error.
func (e *AllProvidersFailedError) Last() error {
	if len(e.Attempts) == 0 {
		return nil
	}
	return e.Attempts[len(e.Attempts)-1].Error
}

// InvalidTierError is returned when a configured tier or shape name is not
// recognized.
type InvalidTierError struct {
	// Name is the invalid name.
	Name string

	// Available contains the valid names.
	Available []string
}

// Error implements the error interface.
func (e *InvalidTierError) Error() string {
	return fmt.Sprintf("invalid routing tier %q (available: %s)",
		e.Name, strings.Join(e.Available, ", "))
}

// Is implements error matching for errors.Is().
func (e *InvalidTierError) Is(target error) bool {
	return target == ErrInvalidTier
}

// Reason classifies a tier error into a short failure reason.
func Reason(err error) string {
	var (
		timeout    *providers.TimeoutError
		transport  *providers.TransportError
		auth       *providers.AuthError
		parse      *providers.ParseError
		upstream   *providers.ProviderError
		noArtifact *providers.NoArtifactError
	)

	switch {
	case err == nil:
		return ""
	case errors.As(err, &timeout), errors.Is(err, context.DeadlineExceeded):
		return ReasonTimeout
	case errors.Is(err, context.Canceled):
		return ReasonCanceled
	case errors.As(err, &transport):
		return ReasonTransport
	case providers.IsRateLimit(err):
		return ReasonQuota
	case errors.As(err, &auth):
		return ReasonInvalidKey
	case errors.As(err, &noArtifact):
		return ReasonNoArtifact
	case errors.As(err, &parse):
		return ReasonProtocol
	case errors.As(err, &upstream):
		return ReasonUpstream
	case errors.Is(err, pool.ErrNoAvailableKeys):
		return ReasonPoolExhausted
	default:
		return ReasonUnknown
	}
}
