// Package tracing provides OpenTelemetry spans for keyrelay.
//
// Spans are opened per HTTP request (HTTPMiddleware), per tier attempt
// (TraceTier) and per key probe (TraceProber). Incoming W3C traceparent
// headers are honoured. Spans are exported over OTLP/gRPC; when tracing is
// disabled every helper returns its input unchanged or a no-op span.
package tracing
