// Package readiness serves keyrelay's liveness, readiness and version
// endpoints. Components register named checks; the readiness endpoint runs
// them concurrently with a per-check timeout and answers 503 when any fails.
package readiness
