package routing

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"mercator-hq/keyrelay/pkg/providers"
)

// Observer receives routing events. It is satisfied by the metrics
// collector.
type Observer interface {
	ObserveTier(tier, reason string, success bool, duration time.Duration)
	ObserveRoute(success, usedFallback, quotaExhausted bool)
}

// Router serves generation requests by attempting an ordered list of tiers
// and stopping at the first one that returns an image. Tiers are attempted
// strictly in order; providers are never raced and partial results are
// never combined.
type Router struct {
	tiers    []Tier
	stats    *AtomicRoutingStats
	observer Observer
	logger   *slog.Logger
}

// NewRouter creates a router over tiers, in attempt order.
// The tiers should be created using the tiers package (e.g., tiers.Build).
func NewRouter(tiers ...Tier) (*Router, error) {
	if len(tiers) == 0 {
		return nil, ErrNoTiers
	}
	return &Router{
		tiers:  tiers,
		stats:  NewAtomicRoutingStats(),
		logger: slog.Default().With("component", "routing.router"),
	}, nil
}

// WithObserver attaches an observer and returns the router.
func (r *Router) WithObserver(o Observer) *Router {
	r.observer = o
	return r
}

// TierNames returns the chain in attempt order.
func (r *Router) TierNames() []string {
	names := make([]string, len(r.tiers))
	for i, t := range r.tiers {
		names[i] = t.Name()
	}
	return names
}

// Stats returns a snapshot of routing statistics.
func (r *Router) Stats() *RoutingStats {
	return r.stats.Snapshot()
}

// Route serves req. Expected upstream failures never surface as a Go error:
// they are reported in the result, with Err set to an
// *AllProvidersFailedError when no tier succeeded.
func (r *Router) Route(ctx context.Context, req *Request) *Result {
	res := &Result{Attempts: make([]TierAttempt, 0, len(r.tiers))}

	for i, tier := range r.tiers {
		start := time.Now()
		gen, err := tier.Attempt(ctx, req)
		if err == nil && !gen.HasArtifact() {
			msg := ""
			if gen != nil {
				msg = gen.Message
			}
			err = &providers.NoArtifactError{Provider: tier.Name(), Message: msg}
		}

		attempt := TierAttempt{
			Tier:     tier.Name(),
			Success:  err == nil,
			Reason:   Reason(err),
			Error:    err,
			Status:   providers.StatusCode(err),
			Duration: time.Since(start),
		}
		res.Attempts = append(res.Attempts, attempt)
		r.observeTier(attempt)

		if err != nil {
			r.logger.Warn("tier failed",
				"tier", tier.Name(),
				"reason", attempt.Reason,
				"status", attempt.Status,
				"duration", attempt.Duration,
				"error", err,
			)
			continue
		}

		res.Success = true
		res.Tier = tier.Name()
		res.Message = gen.Message
		res.ImageData = gen.ImageData
		res.MimeType = gen.MimeType
		res.UsedFallback = i > 0
		if res.UsedFallback {
			res.OriginalError = res.Attempts[0].Error
			res.FallbackReason = fallbackReason(res.Attempts[:i])
			r.logger.Info("request served by fallback tier",
				"tier", tier.Name(),
				"fallback_reason", res.FallbackReason,
			)
		}
		r.finish(res)
		return res
	}

	failed := &AllProvidersFailedError{Attempts: res.Attempts}
	if last := failed.Last(); last != nil && providers.IsRateLimit(last) {
		failed.QuotaExhausted = true
	}
	res.Err = failed
	res.QuotaExhausted = failed.QuotaExhausted
	res.OriginalError = res.Attempts[0].Error
	res.FallbackReason = fallbackReason(res.Attempts)

	r.logger.Error("all providers failed",
		"tiers", strings.Join(r.TierNames(), ","),
		"quota_exhausted", res.QuotaExhausted,
		"fallback_reason", res.FallbackReason,
	)
	r.finish(res)
	return res
}

func (r *Router) finish(res *Result) {
	r.stats.record(res)
	if r.observer != nil {
		r.observer.ObserveRoute(res.Success, res.UsedFallback, res.QuotaExhausted)
	}
}

func (r *Router) observeTier(a TierAttempt) {
	if r.observer != nil {
		r.observer.ObserveTier(a.Tier, a.Reason, a.Success, a.Duration)
	}
}

// fallbackReason renders failed attempts as "hosted: upstream_error (500)".
func fallbackReason(attempts []TierAttempt) string {
	parts := make([]string, 0, len(attempts))
	for _, a := range attempts {
		if a.Success {
			continue
		}
		if a.Status > 0 {
			parts = append(parts, fmt.Sprintf("%s: %s (%d)", a.Tier, a.Reason, a.Status))
		} else {
			parts = append(parts, fmt.Sprintf("%s: %s", a.Tier, a.Reason))
		}
	}
	return strings.Join(parts, "; ")
}
