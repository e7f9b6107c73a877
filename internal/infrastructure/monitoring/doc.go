/*
Package monitoring provides performance monitoring and metrics collection.

# Overview

This package implements Prometheus-based metrics collection for the shell,
tracking the IPC HTTP surface, backend process lifecycle, liveness probes,
asset staging, and gateway denials.

# Usage

	// Create metrics collector
	metrics := monitoring.NewMetrics()

	// Add middleware to Gin router
	router.Use(monitoring.Middleware(metrics))

	// Record domain events
	metrics.SetBackendRunning(true)
	metrics.RecordProbe(latency, true)
	metrics.StagingCopies.Inc()

# Metrics Endpoint

Expose metrics via the standard Prometheus endpoint:

	import "github.com/prometheus/client_golang/prometheus/promhttp"
	router.GET("/metrics", gin.WrapH(promhttp.HandlerFor(metrics.Registry, promhttp.HandlerOpts{})))
*/
package monitoring
