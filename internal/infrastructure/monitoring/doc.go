/*
Package monitoring provides performance monitoring and metrics collection.

# Overview

This package implements Prometheus-based metrics collection for the gateway,
tracking HTTP requests, terminal sessions, the SSH connection pool, circuit
breakers, and WebSocket channels.

# Features

- HTTP request metrics (latency, throughput, size)
- Session lifecycle metrics (active, created, bytes in/out, truncations)
- Pool occupancy metrics (idle/in-use per target, wait time, dial outcomes)
- Circuit breaker state and transition metrics
- WebSocket channel and message metrics
- System metrics (uptime)

# Usage

	// Create metrics collector
	metrics := monitoring.NewMetrics()

	// Add middleware to Gin router
	router.Use(monitoring.Middleware(metrics))

	// Record domain metrics
	metrics.SetSessionsActive(5)
	metrics.IncSessionsTotal("local")

	// Time operations
	timer := monitoring.NewTimer(metrics, "pool", "acquire")
	// ... perform operation ...
	timer.Stop("success")

# Metrics Endpoint

Expose metrics via the standard Prometheus endpoint:

	import "github.com/prometheus/client_golang/prometheus/promhttp"
	router.GET("/metrics", gin.WrapH(promhttp.Handler()))
*/
package monitoring
