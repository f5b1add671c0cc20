// Package session manages interactive terminal sessions.
//
// A session is a live shell: local sessions run on a PTY via creack/pty,
// remote sessions run over a pooled SSH connection with a server-side
// PTY. Both kinds share one pipeline:
//
//	shell stdout → read loop → stream.Buffer → emit loop → Manager.Events()
//
// The read loop starts with the shell and drains PTY/SSH output into the
// session's bounded buffer. The emit loop starts on first attach and
// publishes drained chunks as ordered Events tagged with the owning
// channel. A small history buffer keeps the most recently emitted bytes
// so a later attach can replay the tail of the screen.
//
// Remote sessions record their target at create time but do not borrow
// a pooled connection until the first attach; exec traffic and pool
// warmup, not session creation, establish connections.
//
// Every exit path (explicit close, process exit, transport error,
// channel disconnect, idle reap, shutdown) funnels into one teardown
// guarded by sync.Once: it stops the shell, closes the buffer, waits for
// the emit loop to flush, publishes the closed event after all output,
// releases the pooled connection, and finalizes the transcript
// recording. Closed sessions stay in the registry (so writes to them
// fail with session_closed rather than session_not_found) until the
// reaper removes them.
package session
