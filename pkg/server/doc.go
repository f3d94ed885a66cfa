// Package server provides the HTTP front end of the key relay.
//
// It exposes the fallback router as a generation endpoint, the key store and
// health checker as a management API, and the operational endpoints used by
// load balancers and Prometheus.
//
// # Routes
//
//   - POST /v1/generate - route a generation request through the fallback chain
//   - GET /api/keys - list keys with masked secrets
//   - POST /api/keys - add a key
//   - GET /api/keys/{id} - get one key
//   - DELETE /api/keys/{id} - delete a key
//   - POST /api/keys/{id}/toggle - flip a key's enabled flag
//   - POST /api/keys/{id}/check - probe one key and persist the verdict
//   - POST /api/keys/check - batch-check every key (?wait=false runs it in the background)
//   - GET /api/stats - routing counters, tier order and scheduler state
//   - GET /health, /ready, /version - liveness, readiness and build info
//   - GET /metrics - Prometheus exposition (path configurable)
//
// # Generation status codes
//
// A routed request answers 200 when some tier produced an image, 429 when
// every tier failed and the final one failed on quota, and 502 for any other
// all-tiers failure. The body is the routing result in every case.
//
// # Graceful Shutdown
//
// Start blocks until its context is cancelled, SIGINT or SIGTERM arrives,
// or Shutdown is called. Shutdown stops accepting connections, waits for
// in-flight requests and background batch runs up to ShutdownTimeout, then
// returns.
package server
