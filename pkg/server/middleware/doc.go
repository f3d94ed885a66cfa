// Package middleware provides the HTTP middleware chain used by the server:
// request IDs, access logging with metrics, panic recovery, CORS and request
// body limits.
//
// The server assembles the chain, outermost first, as:
//
//	Recovery -> RequestID -> Logging -> tracing -> CORS -> BodyLimit -> mux
//
// Recovery is outermost so that panics in any other middleware are caught.
// Logging sits inside RequestID so every access log line carries the ID.
package middleware
