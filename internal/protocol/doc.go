// Package protocol defines the message channel's wire format.
//
// Every frame is one JSON envelope discriminated by "type". The union is
// closed: each side rejects frames whose type it does not know, and a
// malformed frame is answered with an error frame instead of dropping
// the channel.
//
// Message Types (Client → Server):
//   - attach: subscribe the channel to a session's stream
//   - input: keystrokes for a session (base64 data)
//   - resize: change a session's terminal grid
//   - ping: keep-alive probe
//
// Message Types (Server → Client):
//   - connected: attach confirmed, replay follows as output
//   - output: session output (base64 data, truncated set after overflow)
//   - error: classified failure, with the session id when one applies
//   - closed: session ended, with reason and exit code when known
//   - pong: keep-alive answer
//
// Example Usage:
//
//	msg, err := protocol.DecodeClient(raw)
//	if err != nil {
//	    // answer with an error frame
//	}
//	switch m := msg.(type) {
//	case *protocol.Input:
//	    manager.Write(m.SessionID, m.Data)
//	}
package protocol
