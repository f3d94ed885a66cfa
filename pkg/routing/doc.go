// Package routing implements the fallback router.
//
// A Router holds a single ordered list of Tier strategies and serves each
// request by attempting them in order until one returns an image. The
// two-tier chain is [hosted, pooled]; the three-tier chain puts direct in
// front. Arbitrary orders can be built with the tiers subpackage.
//
// Route never returns a Go error for upstream failures. The Result records
// which tier won, whether a fallback was used and why, and, when every tier
// failed, an *AllProvidersFailedError carrying each tier's error. A quota
// error at the final tier is flagged separately (QuotaExhausted,
// ErrQuotaExhausted) because the remedy differs from a generic failure.
package routing
