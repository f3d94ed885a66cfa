// Package logging configures keyrelay's slog output.
//
// Setup installs a JSON or text handler as the slog default. Components keep
// creating their loggers with slog.Default().With("component", ...), and the
// installed handler adds request and key IDs from the record's context and,
// when enabled, masks API keys:
//
//	logging.Setup(logging.FromConfig(&cfg.Telemetry.Logging))
//	slog.InfoContext(logging.WithRequestID(ctx, id), "routed", "tier", "pooled")
//
// Masking covers Google-style keys (AIza...), key= query parameters, bearer
// tokens, any attribute whose name marks it as a secret, and custom
// patterns from configuration.
package logging
