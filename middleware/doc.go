// Package middleware provides composable middleware around handler calls.
//
// A [Middleware] wraps one handler invocation. Middleware are composed with
// [Chain]; the first middleware in the list is the outermost wrapper.
//
//	chain := middleware.Chain(middleware.Logging(logger), middleware.Recover(logger))
//
// # Built-in Middleware
//
//   - [Logging]: logs each attempt and its outcome
//   - [Recover]: turns panics into *job.PanicError
//   - [Tracing]: wraps the call in an OpenTelemetry span
//   - [Metrics]: records duration and attempt counters by outcome
//
// No timeout is applied around the handler; it runs until it returns.
package middleware
