package protocol

import (
	"errors"

	"github.com/bytedance/sonic"

	"github.com/GriffinCanCode/TermGate/internal/shared/errs"
)

// Client → server frame types.
const (
	TypeAttach = "attach"
	TypeInput  = "input"
	TypeResize = "resize"
	TypePing   = "ping"
)

// Server → client frame types.
const (
	TypeConnected = "connected"
	TypeOutput    = "output"
	TypeError     = "error"
	TypeClosed    = "closed"
	TypePong      = "pong"
)

// Attach subscribes the channel to a session's stream.
type Attach struct {
	Type      string `json:"type"`
	SessionID string `json:"session_id"`
}

// Input carries keystrokes for a session.
type Input struct {
	Type      string `json:"type"`
	SessionID string `json:"session_id"`
	Data      []byte `json:"data"`
}

// Resize changes a session's terminal grid.
type Resize struct {
	Type      string `json:"type"`
	SessionID string `json:"session_id"`
	Cols      uint16 `json:"cols"`
	Rows      uint16 `json:"rows"`
}

// Ping is a client keep-alive probe.
type Ping struct {
	Type string `json:"type"`
}

// Connected confirms an attach.
type Connected struct {
	Type      string `json:"type"`
	SessionID string `json:"session_id"`
}

// Output delivers session output. Truncated marks the first frame after
// the session's buffer overflowed and dropped data.
type Output struct {
	Type      string `json:"type"`
	SessionID string `json:"session_id"`
	Data      []byte `json:"data"`
	Truncated bool   `json:"truncated,omitempty"`
}

// Error reports a classified failure. SessionID is empty when the
// failure is not tied to one session.
type Error struct {
	Type      string `json:"type"`
	SessionID string `json:"session_id,omitempty"`
	Kind      string `json:"kind"`
	Message   string `json:"message"`
}

// Closed announces a session's end. ExitCode is nil when the shell was
// killed by a signal or never ran.
type Closed struct {
	Type      string `json:"type"`
	SessionID string `json:"session_id"`
	Reason    string `json:"reason"`
	ExitCode  *int   `json:"exit_code,omitempty"`
}

// Pong answers a ping.
type Pong struct {
	Type string `json:"type"`
}

func NewAttach(sessionID string) *Attach {
	return &Attach{Type: TypeAttach, SessionID: sessionID}
}

func NewInput(sessionID string, data []byte) *Input {
	return &Input{Type: TypeInput, SessionID: sessionID, Data: data}
}

func NewResize(sessionID string, cols, rows uint16) *Resize {
	return &Resize{Type: TypeResize, SessionID: sessionID, Cols: cols, Rows: rows}
}

func NewPing() *Ping {
	return &Ping{Type: TypePing}
}

func NewConnected(sessionID string) *Connected {
	return &Connected{Type: TypeConnected, SessionID: sessionID}
}

func NewOutput(sessionID string, data []byte, truncated bool) *Output {
	return &Output{Type: TypeOutput, SessionID: sessionID, Data: data, Truncated: truncated}
}

func NewError(sessionID string, kind errs.Kind, message string) *Error {
	return &Error{Type: TypeError, SessionID: sessionID, Kind: string(kind), Message: message}
}

// NewErrorFrom builds an error frame from a classified error, exposing
// the boundary message rather than the wrapped cause chain.
func NewErrorFrom(sessionID string, err error) *Error {
	var e *errs.Error
	if errors.As(err, &e) {
		return NewError(sessionID, e.Kind, e.Message)
	}
	return NewError(sessionID, errs.KindInternal, err.Error())
}

func NewClosed(sessionID, reason string, exitCode *int) *Closed {
	return &Closed{Type: TypeClosed, SessionID: sessionID, Reason: reason, ExitCode: exitCode}
}

func NewPong() *Pong {
	return &Pong{Type: TypePong}
}

// Encode renders a frame to its JSON wire form.
func Encode(msg interface{}) ([]byte, error) {
	return sonic.Marshal(msg)
}

// DecodeClient parses one client frame. The error is always
// KindProtocol so the channel can answer with an error frame.
func DecodeClient(raw []byte) (interface{}, error) {
	kind, err := frameType(raw)
	if err != nil {
		return nil, err
	}
	switch kind {
	case TypeAttach:
		var m Attach
		if err := unmarshalFrame(raw, &m, kind); err != nil {
			return nil, err
		}
		if m.SessionID == "" {
			return nil, errs.Protocol("attach requires session_id")
		}
		return &m, nil
	case TypeInput:
		var m Input
		if err := unmarshalFrame(raw, &m, kind); err != nil {
			return nil, err
		}
		if m.SessionID == "" {
			return nil, errs.Protocol("input requires session_id")
		}
		return &m, nil
	case TypeResize:
		var m Resize
		if err := unmarshalFrame(raw, &m, kind); err != nil {
			return nil, err
		}
		if m.SessionID == "" {
			return nil, errs.Protocol("resize requires session_id")
		}
		return &m, nil
	case TypePing:
		return NewPing(), nil
	default:
		return nil, errs.Newf(errs.KindProtocol, "unknown message type %q", kind)
	}
}

// DecodeServer parses one server frame for client-side consumers.
func DecodeServer(raw []byte) (interface{}, error) {
	kind, err := frameType(raw)
	if err != nil {
		return nil, err
	}
	switch kind {
	case TypeConnected:
		var m Connected
		if err := unmarshalFrame(raw, &m, kind); err != nil {
			return nil, err
		}
		if m.SessionID == "" {
			return nil, errs.Protocol("connected requires session_id")
		}
		return &m, nil
	case TypeOutput:
		var m Output
		if err := unmarshalFrame(raw, &m, kind); err != nil {
			return nil, err
		}
		if m.SessionID == "" {
			return nil, errs.Protocol("output requires session_id")
		}
		return &m, nil
	case TypeError:
		var m Error
		if err := unmarshalFrame(raw, &m, kind); err != nil {
			return nil, err
		}
		if m.Kind == "" {
			return nil, errs.Protocol("error frame requires kind")
		}
		return &m, nil
	case TypeClosed:
		var m Closed
		if err := unmarshalFrame(raw, &m, kind); err != nil {
			return nil, err
		}
		if m.SessionID == "" || m.Reason == "" {
			return nil, errs.Protocol("closed requires session_id and reason")
		}
		return &m, nil
	case TypePong:
		return NewPong(), nil
	default:
		return nil, errs.Newf(errs.KindProtocol, "unknown message type %q", kind)
	}
}

func frameType(raw []byte) (string, error) {
	var env struct {
		Type string `json:"type"`
	}
	if err := sonic.Unmarshal(raw, &env); err != nil {
		return "", errs.Wrap(errs.KindProtocol, "malformed message", err)
	}
	if env.Type == "" {
		return "", errs.Protocol("message missing type")
	}
	return env.Type, nil
}

func unmarshalFrame(raw []byte, into interface{}, kind string) error {
	if err := sonic.Unmarshal(raw, into); err != nil {
		return errs.Wrap(errs.KindProtocol, "malformed "+kind+" message", err)
	}
	return nil
}
