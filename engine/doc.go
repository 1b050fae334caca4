// Package engine wires the dispatcher's subsystems together and exposes
// the job operations: Create, Run, Sweep, Get, List and Count.
//
// The engine package sits above the job, worker, event and ext packages
// and below the application layer. The root delayed package holds only
// configuration and lifecycle, so subsystems can import it freely.
//
// # Building an Engine
//
//	d, err := delayed.New(
//	    delayed.WithStore(pgStore),
//	    delayed.WithConcurrency(20),
//	)
//
//	registry := job.MustRegistry(map[job.Queue]job.Handler{
//	    job.QueueEmailConfirm: job.HandlerFunc(sendConfirmation),
//	})
//
//	eng, err := engine.Build(d, pgStore, registry,
//	    engine.WithSignalBus(redisbus.New(rdb)),
//	    engine.WithQueueConfig(queue.Config{
//	        Queue:     job.QueueEmailConfirm,
//	        RateLimit: 50,
//	    }),
//	)
//
// # Creating Jobs
//
//	j, err := eng.Create(ctx, "order-1", job.QueueEmailConfirm)
//
//	// Delayed
//	j, err = eng.Create(ctx, "order-1", job.QueueEmailShipped, job.WithDelay(time.Hour))
//
// Create returns once the job is persisted. A signal is published in the
// background so a consumer runs the job promptly; the scheduled sweep
// picks up anything a lost signal missed.
//
// # Options
//
//   - [WithExtension] registers a lifecycle extension
//   - [WithMiddleware] adds a middleware to the execution chain
//   - [WithBackoff] sets the retry backoff strategy
//   - [WithQueueConfig] configures per-queue rate limits and concurrency
//   - [WithSignalBus] sets a cross-process signal bus
//   - [WithTracerProvider] sets the OpenTelemetry tracer provider
//   - [WithMeterProvider] sets the OpenTelemetry meter provider
package engine
