package routing

import (
	"context"
	"time"

	"mercator-hq/keyrelay/pkg/providers"
)

// Tier names.
const (
	// TierDirect calls the primary provider with the caller key, else the
	// configured default key.
	TierDirect = "direct"

	// TierHosted calls the secondary hosted provider.
	TierHosted = "hosted"

	// TierPooled calls the primary provider with a validated caller key,
	// else a key from the pool.
	TierPooled = "pooled"
)

// Chain shapes.
const (
	// ShapeTwoTier is hosted, then pooled.
	ShapeTwoTier = "two-tier"

	// ShapeThreeTier is direct, then the two-tier chain.
	ShapeThreeTier = "three-tier"
)

// Tier is one provider attempt in the fallback chain.
// It is defined here to avoid import cycles with the tiers package.
type Tier interface {
	// Name identifies the tier in results, logs and metrics.
	Name() string

	// Attempt makes one attempt. A nil error with a generation lacking an
	// image is treated by the router as a failure of the tier.
	Attempt(ctx context.Context, req *Request) (*providers.Generation, error)
}

// Request is a single inbound generation request.
type Request struct {
	// Prompt is the text instruction.
	Prompt string

	// Image is an optional input image.
	Image *providers.InlineImage

	// CallerKey is an optional caller-supplied credential.
	CallerKey string
}

// GenerationRequest converts r for a provider call with key.
func (r *Request) GenerationRequest(key string) *providers.GenerationRequest {
	return &providers.GenerationRequest{Prompt: r.Prompt, Image: r.Image, APIKey: key}
}

// TierAttempt records one tier's outcome.
type TierAttempt struct {
	Tier     string        `json:"tier"`
	Success  bool          `json:"success"`
	Reason   string        `json:"reason,omitempty"`
	Error    error         `json:"-"`
	Status   int           `json:"status,omitempty"`
	Duration time.Duration `json:"duration"`
}

// Result is the outcome of routing one request. Exactly one Result is
// produced per Route call.
type Result struct {
	Success   bool   `json:"success"`
	Message   string `json:"message,omitempty"`
	ImageData string `json:"image_data,omitempty"`
	MimeType  string `json:"mime_type,omitempty"`

	// Tier is the name of the tier that succeeded.
	Tier string `json:"tier,omitempty"`

	// UsedFallback is true when the winning tier was not the first.
	UsedFallback bool `json:"used_fallback"`

	// FallbackReason explains why earlier tiers were passed over.
	FallbackReason string `json:"fallback_reason,omitempty"`

	Attempts []TierAttempt `json:"attempts"`

	// Err is an *AllProvidersFailedError when Success is false.
	Err error `json:"-"`

	// QuotaExhausted is set when the final tier failed with a quota error.
	QuotaExhausted bool `json:"quota_exhausted,omitempty"`

	// OriginalError is the first tier's error, kept for diagnostics when a
	// later tier took over or every tier failed.
	OriginalError error `json:"-"`
}

// RoutingStats contains statistics about routing decisions.
type RoutingStats struct {
	// TotalRequests is the total number of routed requests.
	TotalRequests int64 `json:"total_requests"`

	// Successes is the number of requests some tier served.
	Successes int64 `json:"successes"`

	// Failures is the number of requests every tier failed.
	Failures int64 `json:"failures"`

	// Fallbacks is the number of successes served by a later tier.
	Fallbacks int64 `json:"fallbacks"`

	// QuotaExhausted is the number of failures ending in a quota error.
	QuotaExhausted int64 `json:"quota_exhausted"`

	// WinsPerTier maps tier name to requests it served.
	WinsPerTier map[string]int64 `json:"wins_per_tier"`

	// FailuresPerTier maps tier name to failed attempts.
	FailuresPerTier map[string]int64 `json:"failures_per_tier"`

	// LastResetTime is when statistics were last reset.
	LastResetTime time.Time `json:"last_reset_time"`
}
