// Package metrics exposes keyrelay's Prometheus metrics.
//
// A Collector is handed to the pool selector, the health checker and the
// router as their observer, and to the HTTP server for request metrics.
// Metrics live in the collector's own registry and are served by Handler:
//
//	collector := metrics.NewCollector(&cfg.Telemetry.Metrics, nil)
//	mux.Handle(cfg.Telemetry.Metrics.Path, collector.Handler())
//
// Metric groups are pool, health, routing and http, each rendered as a
// subsystem under the configured namespace (default "keyrelay").
package metrics
