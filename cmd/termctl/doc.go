// Package main is the termctl command line client for the termgate server.
//
// termctl manages terminal sessions over the REST API and attaches to
// live sessions over the WebSocket stream, turning the local terminal
// into a raw-mode window onto a remote shell.
//
// Commands:
//   - create: start a local or remote session
//   - ls:     list sessions with live/closed state
//   - attach: stream a session into the local terminal
//   - close:  terminate a session
//   - exec:   run a one-shot command on a remote target
//   - status: show pool, circuit, and uptime information
//   - keygen: generate an Ed25519 keypair for target auth
//
// Configuration:
//   - --server flag, TERMGATE_SERVER env var, or ~/.config/termgate/termctl.toml
//   - Flag beats env var beats config file beats the built-in default
//
// Usage:
//
//	# Start a local shell and attach to it
//	termctl create --attach
//
//	# Run a command on an inventory target
//	termctl exec db-1 -- uptime
//
//	# Attach to an existing session
//	termctl attach sess_01J9FZ3R8QWERTY
package main
