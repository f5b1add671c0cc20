/*
Package resilience provides circuit breaking for remote target health.

# Overview

This package implements the circuit breaker pattern to prevent repeated
connection attempts against targets that are down or unreachable. Every
remote target gets its own breaker via the Registry, so a dead host fails
fast without a network round-trip while healthy hosts are unaffected.

# Features

- Three-state circuit breaker (Closed, Open, Half-Open)
- Configurable failure thresholds and timeouts
- Automatic state transitions
- Per-target registry with no cross-target contention
- State change callbacks for monitoring
- Thread-safe operations

# Usage

	// One breaker per target, shared settings
	registry := resilience.NewRegistry(resilience.Settings{
		MaxRequests: 1,
		Interval:    60 * time.Second,
		Timeout:     30 * time.Second,
		ReadyToTrip: func(counts resilience.Counts) bool {
			return counts.ConsecutiveFailures >= 5
		},
		OnStateChange: func(name string, from, to resilience.State) {
			log.Printf("Circuit %s: %s -> %s", name, from, to)
		},
	})

	// Execute a dial through the target's breaker
	conn, err := registry.Do("deploy@host:22", func() (interface{}, error) {
		return dial(target)
	})

# States

- Closed: Normal operation, requests pass through
- Open: Target unhealthy, requests fail immediately
- Half-Open: Testing recovery, a bounded number of probes allowed

# Pattern

The circuit breaker transitions between states based on success/failure rates:

	Closed --[failures]-> Open --[timeout]-> Half-Open --[successes]-> Closed
	                                           |
	                                    [failure]
	                                           |
	                                           v
	                                         Open

The open to half-open transition is lazy: it happens on the first call after
the timeout elapses, not on a background timer.
*/
package resilience
