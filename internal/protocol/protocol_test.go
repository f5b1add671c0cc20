package protocol

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/GriffinCanCode/TermGate/internal/shared/errs"
)

func TestDecodeClient(t *testing.T) {
	t.Run("attach", func(t *testing.T) {
		msg, err := DecodeClient([]byte(`{"type":"attach","session_id":"sess_1"}`))
		require.NoError(t, err)
		m, ok := msg.(*Attach)
		require.True(t, ok)
		assert.Equal(t, "sess_1", m.SessionID)
	})

	t.Run("input decodes base64 data", func(t *testing.T) {
		msg, err := DecodeClient([]byte(`{"type":"input","session_id":"sess_1","data":"aGk="}`))
		require.NoError(t, err)
		m, ok := msg.(*Input)
		require.True(t, ok)
		assert.Equal(t, []byte("hi"), m.Data)
	})

	t.Run("resize", func(t *testing.T) {
		msg, err := DecodeClient([]byte(`{"type":"resize","session_id":"sess_1","cols":120,"rows":40}`))
		require.NoError(t, err)
		m, ok := msg.(*Resize)
		require.True(t, ok)
		assert.Equal(t, uint16(120), m.Cols)
		assert.Equal(t, uint16(40), m.Rows)
	})

	t.Run("ping", func(t *testing.T) {
		msg, err := DecodeClient([]byte(`{"type":"ping"}`))
		require.NoError(t, err)
		_, ok := msg.(*Ping)
		assert.True(t, ok)
	})

	t.Run("missing session_id", func(t *testing.T) {
		for _, raw := range []string{
			`{"type":"attach"}`,
			`{"type":"input","data":"aGk="}`,
			`{"type":"resize","cols":80,"rows":24}`,
		} {
			_, err := DecodeClient([]byte(raw))
			assert.Equal(t, errs.KindProtocol, errs.KindOf(err), "raw=%s", raw)
		}
	})

	t.Run("unknown type", func(t *testing.T) {
		_, err := DecodeClient([]byte(`{"type":"reboot"}`))
		require.Error(t, err)
		assert.Equal(t, errs.KindProtocol, errs.KindOf(err))
		assert.Contains(t, err.Error(), "reboot")
	})

	t.Run("missing type", func(t *testing.T) {
		_, err := DecodeClient([]byte(`{"session_id":"sess_1"}`))
		assert.Equal(t, errs.KindProtocol, errs.KindOf(err))
	})

	t.Run("malformed json", func(t *testing.T) {
		_, err := DecodeClient([]byte(`{"type":`))
		assert.Equal(t, errs.KindProtocol, errs.KindOf(err))
	})

	t.Run("server frame rejected", func(t *testing.T) {
		_, err := DecodeClient([]byte(`{"type":"output","session_id":"sess_1"}`))
		assert.Equal(t, errs.KindProtocol, errs.KindOf(err))
	})
}

func TestDecodeServer(t *testing.T) {
	t.Run("connected", func(t *testing.T) {
		msg, err := DecodeServer([]byte(`{"type":"connected","session_id":"sess_1"}`))
		require.NoError(t, err)
		m, ok := msg.(*Connected)
		require.True(t, ok)
		assert.Equal(t, "sess_1", m.SessionID)
	})

	t.Run("output", func(t *testing.T) {
		msg, err := DecodeServer([]byte(`{"type":"output","session_id":"sess_1","data":"aGk=","truncated":true}`))
		require.NoError(t, err)
		m, ok := msg.(*Output)
		require.True(t, ok)
		assert.Equal(t, []byte("hi"), m.Data)
		assert.True(t, m.Truncated)
	})

	t.Run("error frame", func(t *testing.T) {
		msg, err := DecodeServer([]byte(`{"type":"error","kind":"circuit_open","message":"circuit open: u@h:22"}`))
		require.NoError(t, err)
		m, ok := msg.(*Error)
		require.True(t, ok)
		assert.Equal(t, "circuit_open", m.Kind)
		assert.Empty(t, m.SessionID)
	})

	t.Run("closed with exit code", func(t *testing.T) {
		msg, err := DecodeServer([]byte(`{"type":"closed","session_id":"sess_1","reason":"exit","exit_code":3}`))
		require.NoError(t, err)
		m, ok := msg.(*Closed)
		require.True(t, ok)
		assert.Equal(t, "exit", m.Reason)
		require.NotNil(t, m.ExitCode)
		assert.Equal(t, 3, *m.ExitCode)
	})

	t.Run("closed without exit code", func(t *testing.T) {
		msg, err := DecodeServer([]byte(`{"type":"closed","session_id":"sess_1","reason":"shutdown"}`))
		require.NoError(t, err)
		m := msg.(*Closed)
		assert.Nil(t, m.ExitCode)
	})

	t.Run("pong", func(t *testing.T) {
		msg, err := DecodeServer([]byte(`{"type":"pong"}`))
		require.NoError(t, err)
		_, ok := msg.(*Pong)
		assert.True(t, ok)
	})

	t.Run("client frame rejected", func(t *testing.T) {
		_, err := DecodeServer([]byte(`{"type":"input","session_id":"sess_1"}`))
		assert.Equal(t, errs.KindProtocol, errs.KindOf(err))
	})
}

func TestEncodeWireShape(t *testing.T) {
	t.Run("output data is base64", func(t *testing.T) {
		raw, err := Encode(NewOutput("sess_1", []byte("hi"), false))
		require.NoError(t, err)
		s := string(raw)
		assert.Contains(t, s, `"type":"output"`)
		assert.Contains(t, s, `"aGk="`)
		assert.NotContains(t, s, "truncated", "false flag must be omitted")
	})

	t.Run("closed omits nil exit code", func(t *testing.T) {
		raw, err := Encode(NewClosed("sess_1", "idle_timeout", nil))
		require.NoError(t, err)
		assert.NotContains(t, string(raw), "exit_code")

		code := 7
		raw, err = Encode(NewClosed("sess_1", "exit", &code))
		require.NoError(t, err)
		assert.Contains(t, string(raw), `"exit_code":7`)
	})

	t.Run("round trip preserves input bytes", func(t *testing.T) {
		data := []byte{0x1b, '[', 'A', 0x00, 0xff}
		raw, err := Encode(NewInput("sess_1", data))
		require.NoError(t, err)
		msg, err := DecodeClient(raw)
		require.NoError(t, err)
		assert.Equal(t, data, msg.(*Input).Data)
	})
}

func TestNewErrorFrom(t *testing.T) {
	t.Run("classified error keeps kind and message", func(t *testing.T) {
		frame := NewErrorFrom("sess_1", errs.SessionClosed("sess_1"))
		assert.Equal(t, "session_closed", frame.Kind)
		assert.Equal(t, "session is closed: sess_1", frame.Message)
		assert.Equal(t, "sess_1", frame.SessionID)
	})

	t.Run("wrapped cause stays server side", func(t *testing.T) {
		err := errs.Wrap(errs.KindIO, "write input", assert.AnError)
		frame := NewErrorFrom("sess_1", err)
		assert.Equal(t, "io_error", frame.Kind)
		assert.Equal(t, "write input", frame.Message)
		assert.NotContains(t, frame.Message, assert.AnError.Error())
	})

	t.Run("unclassified error maps to internal", func(t *testing.T) {
		frame := NewErrorFrom("", assert.AnError)
		assert.Equal(t, "internal", frame.Kind)
	})
}
