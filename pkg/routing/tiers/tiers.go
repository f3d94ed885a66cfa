// Package tiers provides the fallback chain's tier strategies and builds
// chains from configuration.
package tiers

import (
	"context"
	"fmt"
	"log/slog"

	"mercator-hq/keyrelay/pkg/health"
	"mercator-hq/keyrelay/pkg/keys"
	"mercator-hq/keyrelay/pkg/providers"
	"mercator-hq/keyrelay/pkg/routing"
)

// KeySelector hands out pool keys. Satisfied by *pool.Selector.
type KeySelector interface {
	Select(ctx context.Context) (keys.KeyRecord, error)
}

// KeyValidator checks a key's validity and quota. Satisfied by
// *health.Checker.
type KeyValidator interface {
	Validate(ctx context.Context, secret string) health.Verdict
}

// Direct calls the primary provider with the caller key, or the provider's
// configured default key when the caller supplied none.
type Direct struct {
	gen providers.Generator
}

// NewDirect creates a direct tier.
func NewDirect(gen providers.Generator) *Direct {
	return &Direct{gen: gen}
}

// Name implements routing.Tier.
func (d *Direct) Name() string { return routing.TierDirect }

// Attempt implements routing.Tier.
func (d *Direct) Attempt(ctx context.Context, req *routing.Request) (*providers.Generation, error) {
	return d.gen.Generate(ctx, req.GenerationRequest(req.CallerKey))
}

// Hosted calls the secondary hosted provider, passing any caller key
// through untouched.
type Hosted struct {
	gen providers.Generator
}

// NewHosted creates a hosted tier.
func NewHosted(gen providers.Generator) *Hosted {
	return &Hosted{gen: gen}
}

// Name implements routing.Tier.
func (h *Hosted) Name() string { return routing.TierHosted }

// Attempt implements routing.Tier.
func (h *Hosted) Attempt(ctx context.Context, req *routing.Request) (*providers.Generation, error) {
	return h.gen.Generate(ctx, req.GenerationRequest(req.CallerKey))
}

// Pooled calls the primary provider with, in priority order, a caller key
// that passes validation, else a key from the pool. A caller key that fails
// validation is discarded and the pool is used instead.
type Pooled struct {
	gen       providers.Generator
	selector  KeySelector
	validator KeyValidator
	cache     *routing.VerdictCache
	logger    *slog.Logger
}

// NewPooled creates a pooled tier. cache may be nil.
func NewPooled(gen providers.Generator, selector KeySelector, validator KeyValidator, cache *routing.VerdictCache) *Pooled {
	return &Pooled{
		gen:       gen,
		selector:  selector,
		validator: validator,
		cache:     cache,
		logger:    slog.Default().With("component", "routing.pooled"),
	}
}

// Name implements routing.Tier.
func (p *Pooled) Name() string { return routing.TierPooled }

// Attempt implements routing.Tier.
func (p *Pooled) Attempt(ctx context.Context, req *routing.Request) (*providers.Generation, error) {
	key := ""
	if req.CallerKey != "" && p.callerKeyUsable(ctx, req.CallerKey) {
		key = req.CallerKey
	}

	if key == "" {
		rec, err := p.selector.Select(ctx)
		if err != nil {
			return nil, fmt.Errorf("failed to select pool key: %w", err)
		}
		key = rec.Secret
		p.logger.Debug("using pool key", "key_id", rec.ID, "key", keys.MaskSecret(rec.Secret))
	}

	return p.gen.Generate(ctx, req.GenerationRequest(key))
}

func (p *Pooled) callerKeyUsable(ctx context.Context, key string) bool {
	verdict, ok := p.cache.Get(key)
	if !ok {
		verdict = p.validator.Validate(ctx, key)
		p.cache.Set(key, verdict)
	}
	if verdict.Usable() {
		return true
	}
	p.logger.Info("discarding caller key that failed validation",
		"key", keys.MaskSecret(key),
		"code", verdict.Code,
	)
	return false
}
