// Package sshpool maintains pooled SSH client connections keyed by target.
//
// Each target (user@host:port) owns a bounded set of live connections:
// borrowed connections are handed to callers, released connections are
// parked on an idle list for reuse. Borrow slots are guarded by a
// per-target semaphore, optionally capped across all targets, so a
// burst against one host cannot exhaust the process.
//
// Dials run through a per-target circuit breaker. When the breaker is
// open, Acquire fails immediately without waiting for a slot or
// touching the network. Idle connections are validated with an SSH
// keepalive round-trip before reuse and swept after an idle timeout;
// a background keepalive per connection detects peers that vanish
// while parked.
package sshpool
