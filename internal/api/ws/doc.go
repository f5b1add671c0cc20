// Package ws carries the message channel over WebSocket.
//
// Each accepted connection becomes a Channel: a read loop decodes
// protocol frames and drives the session manager, while a single writer
// pump drains a bounded outbound queue. All writes go through the pump,
// so frames for one channel are serialized. A Hub consumes the session
// manager's event stream and routes each event to the channel that owns
// the session, which keeps per-session ordering: connected, replay,
// live output, then closed.
//
// Multiple sessions multiplex over one channel by session_id. When the
// connection drops, every session the channel owns is closed.
//
// Abuse handling:
//   - malformed frames are answered with error frames; past the
//     configured threshold the channel closes with a policy violation
//   - input beyond the per-channel rate limit is dropped
//   - a client that cannot drain its queue is disconnected rather than
//     allowed to stall the hub
package ws
