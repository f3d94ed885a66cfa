package tracing

import (
	"context"

	"mercator-hq/keyrelay/pkg/health"
	"mercator-hq/keyrelay/pkg/providers"
	"mercator-hq/keyrelay/pkg/routing"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

// Span attribute keys.
const (
	AttrTier         = "keyrelay.tier"
	AttrReason       = "keyrelay.failure_reason"
	AttrHasArtifact  = "keyrelay.has_artifact"
	AttrStatusCode   = "http.status_code"
	AttrProbeSuccess = "keyrelay.probe.completed"
)

type tracedTier struct {
	routing.Tier
	tracer *Tracer
}

// TraceTier wraps a tier so every attempt runs in its own span.
func TraceTier(t *Tracer, tier routing.Tier) routing.Tier {
	if t == nil || !t.Enabled() {
		return tier
	}
	return &tracedTier{Tier: tier, tracer: t}
}

// TraceTiers wraps each tier with TraceTier.
func TraceTiers(t *Tracer, tiers []routing.Tier) []routing.Tier {
	out := make([]routing.Tier, len(tiers))
	for i, tier := range tiers {
		out[i] = TraceTier(t, tier)
	}
	return out
}

func (tt *tracedTier) Attempt(ctx context.Context, req *routing.Request) (*providers.Generation, error) {
	ctx, span := tt.tracer.Start(ctx, "tier."+tt.Name(),
		trace.WithSpanKind(trace.SpanKindClient),
		trace.WithAttributes(attribute.String(AttrTier, tt.Name())),
	)
	defer span.End()

	gen, err := tt.Tier.Attempt(ctx, req)
	span.SetAttributes(attribute.Bool(AttrHasArtifact, gen.HasArtifact()))
	if err != nil {
		span.SetAttributes(attribute.String(AttrReason, routing.Reason(err)))
	}
	SetStatus(span, err)
	return gen, err
}

type tracedProber struct {
	health.Prober
	tracer *Tracer
}

// TraceProber wraps a key prober so every probe runs in its own span. The
// key itself is never recorded.
func TraceProber(t *Tracer, p health.Prober) health.Prober {
	if t == nil || !t.Enabled() {
		return p
	}
	return &tracedProber{Prober: p, tracer: t}
}

func (tp *tracedProber) Probe(ctx context.Context, key string) (*providers.Response, error) {
	ctx, span := tp.tracer.Start(ctx, "health.probe", trace.WithSpanKind(trace.SpanKindClient))
	defer span.End()

	resp, err := tp.Prober.Probe(ctx, key)
	span.SetAttributes(attribute.Bool(AttrProbeSuccess, err == nil))
	if resp != nil {
		span.SetAttributes(attribute.Int(AttrStatusCode, resp.StatusCode))
	}
	SetStatus(span, err)
	return resp, err
}
