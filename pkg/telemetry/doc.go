// Package telemetry groups keyrelay's observability packages:
//
//   - logging: slog setup with request context and secret redaction
//   - metrics: Prometheus collector for pool, health, routing and HTTP
//   - tracing: OpenTelemetry spans for requests, tier attempts and probes
//   - readiness: liveness, readiness and version endpoints
package telemetry
