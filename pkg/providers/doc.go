// Package providers holds the pieces shared by every upstream image
// generator: a pooled HTTP client with per-attempt timeouts and optional
// proxying, provider-agnostic request and result types, and the error
// taxonomy the router and health checker inspect.
//
// # Error Taxonomy
//
// Upstream failures are reported as one of:
//
//   - *TimeoutError: the attempt exceeded its deadline
//   - *TransportError: DNS, connection or proxy failure
//   - *RateLimitError: HTTP 429, quota exhausted
//   - *AuthError: HTTP 401/403, credential rejected
//   - *ProviderError: any other non-2xx response
//   - *ParseError: a 2xx body that could not be decoded
//   - *NoArtifactError: a 2xx body without an image
//
// IsTransport distinguishes failures that say nothing about the credential
// used from those that do.
//
// # Concrete Providers
//
// Subpackages gemini and hosted adapt the wire formats of the primary
// generative service and the hosted endpoint. Both implement Generator.
package providers
