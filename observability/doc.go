// Package observability provides an OpenTelemetry metrics extension that
// counts job lifecycle events per queue.
//
// For per-attempt spans and histograms, see middleware.Tracing and
// middleware.Metrics.
package observability
