// Package observability records job lifecycle metrics with OpenTelemetry.
//
// [MetricsExtension] is an ext extension. Register it on the registry the
// orchestrator emits to:
//
//	reg := ext.NewRegistry(logger)
//	reg.Register(observability.NewMetricsExtension())
//
// Per-delivery handler metrics and spans live in the middleware package
// (middleware.Metrics, middleware.Tracing).
package observability
