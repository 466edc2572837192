// Package httpserver runs the entitlement service's HTTP listener with
// graceful shutdown and readiness probes.
//
// Run binds the listener, closes Ready once connections are accepted and
// blocks until the context is cancelled or SIGINT/SIGTERM arrives. In-flight
// webhook deliveries get ShutdownTimeout to finish; a delivery cut off by the
// deadline is redelivered by the provider and deduplicated on arrival.
//
//	srv := httpserver.NewFromConfig(cfg, httpserver.WithLogger(log))
//	if err := srv.Run(ctx, router); err != nil {
//		log.Error("http server stopped", logger.Error(err))
//	}
//
// Liveness and Readiness build probe handlers. Readiness runs every named
// Check with a per-request deadline and reports which dependency failed.
package httpserver
