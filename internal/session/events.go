package session

// EventType classifies manager events.
type EventType string

const (
	// EventAttached reports a channel claiming a session. Data carries
	// the replay tail, which must reach the client before any newer
	// output for that session.
	EventAttached EventType = "attached"
	// EventOutput carries a drained chunk of session output.
	EventOutput EventType = "output"
	// EventClosed is the final event for a session.
	EventClosed EventType = "closed"
	// EventError reports an abnormal session failure; a closed event
	// follows.
	EventError EventType = "error"
)

// Event is one entry in the manager-wide event stream. Events for a
// given session are ordered: attached, then output in emission order,
// then (optionally an error and) closed.
type Event struct {
	Type      EventType
	SessionID string
	Owner     string
	Data      []byte
	Truncated bool
	Reason    string
	ExitCode  *int
	Err       error
}
