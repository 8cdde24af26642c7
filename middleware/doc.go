// Package middleware provides composable middleware around job handler
// execution in the worker pool.
//
// A [Middleware] wraps the handler call for one broker delivery. Chains are
// built with [Chain]; the first middleware is the outermost wrapper.
//
//	chain := middleware.Chain(
//	    middleware.Recover(logger),
//	    middleware.Tracing(),
//	    middleware.Timeout(10*time.Minute),
//	)
//
// Built-in middleware:
//
//   - [Logging] logs each delivery and its result
//   - [Recover] turns handler panics into errors
//   - [Timeout] bounds a single delivery
//   - [Tracing] runs the delivery in an OpenTelemetry span
//   - [Metrics] records handler duration and execution counts
//
// Middleware must call next unless it deliberately short-circuits.
package middleware
