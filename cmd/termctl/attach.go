package main

import (
	"fmt"
	"net/url"
	"os"
	"os/signal"
	"sync"
	"syscall"

	"github.com/gorilla/websocket"
	"golang.org/x/term"

	"github.com/GriffinCanCode/TermGate/internal/protocol"
)

// streamURL converts the REST base URL into the WebSocket endpoint.
func streamURL(base string) (string, error) {
	u, err := url.Parse(base)
	if err != nil {
		return "", fmt.Errorf("parse server URL: %w", err)
	}
	switch u.Scheme {
	case "http":
		u.Scheme = "ws"
	case "https":
		u.Scheme = "wss"
	case "ws", "wss":
	default:
		return "", fmt.Errorf("unsupported scheme %q in server URL", u.Scheme)
	}
	u.Path = "/stream"
	return u.String(), nil
}

// attachSession turns the local terminal into a window onto the
// session: stdin is forwarded raw, output is written to stdout, and
// SIGWINCH propagates the local grid size to the remote side.
func attachSession(cli *CLI, id string) error {
	wsURL, err := streamURL(cli.Server)
	if err != nil {
		return err
	}
	conn, _, err := websocket.DefaultDialer.Dial(wsURL, nil)
	if err != nil {
		return fmt.Errorf("dial %s: %w", wsURL, err)
	}
	defer conn.Close()

	// Gorilla connections support one concurrent writer; the stdin and
	// resize pumps share this.
	var writeMu sync.Mutex
	send := func(frame interface{}) error {
		raw, err := protocol.Encode(frame)
		if err != nil {
			return err
		}
		writeMu.Lock()
		defer writeMu.Unlock()
		return conn.WriteMessage(websocket.TextMessage, raw)
	}

	if err := send(protocol.NewAttach(id)); err != nil {
		return fmt.Errorf("attach: %w", err)
	}
	cols, rows := termSize()
	if err := send(protocol.NewResize(id, uint16(cols), uint16(rows))); err != nil {
		return fmt.Errorf("resize: %w", err)
	}

	restore, err := makeStdinRaw()
	if err != nil {
		return fmt.Errorf("enter raw mode: %w", err)
	}
	defer restore()

	// Stdin pump. Stops on local EOF or once the connection fails; the
	// session itself stays alive until its shell exits.
	go func() {
		buf := make([]byte, 32*1024)
		for {
			n, rerr := os.Stdin.Read(buf)
			if n > 0 {
				if serr := send(protocol.NewInput(id, append([]byte(nil), buf[:n]...))); serr != nil {
					return
				}
			}
			if rerr != nil {
				return
			}
		}
	}()

	sigCh := make(chan os.Signal, 4)
	signal.Notify(sigCh, syscall.SIGWINCH)
	defer signal.Stop(sigCh)
	go func() {
		for range sigCh {
			c, r := termSize()
			_ = send(protocol.NewResize(id, uint16(c), uint16(r)))
		}
	}()

	// Read loop. The server's control pings are answered by gorilla's
	// default handlers as long as this keeps reading.
	for {
		_, raw, rerr := conn.ReadMessage()
		if rerr != nil {
			restore()
			if websocket.IsCloseError(rerr, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				return nil
			}
			return fmt.Errorf("stream: %w", rerr)
		}
		frame, derr := protocol.DecodeServer(raw)
		if derr != nil {
			continue
		}
		switch f := frame.(type) {
		case *protocol.Output:
			if f.Truncated {
				fmt.Fprint(os.Stderr, "\r\n[output dropped: session buffer overflowed]\r\n")
			}
			_, _ = os.Stdout.Write(f.Data)
		case *protocol.Error:
			restore()
			return fmt.Errorf("%s (%s)", f.Message, f.Kind)
		case *protocol.Closed:
			restore()
			if f.ExitCode != nil {
				fmt.Fprintf(os.Stderr, "session %s closed: %s (exit %d)\n", f.SessionID, f.Reason, *f.ExitCode)
			} else {
				fmt.Fprintf(os.Stderr, "session %s closed: %s\n", f.SessionID, f.Reason)
			}
			return nil
		case *protocol.Connected, *protocol.Pong:
		}
	}
}

// makeStdinRaw switches stdin to raw mode and returns the restore
// function. A non-terminal stdin is left alone.
func makeStdinRaw() (func(), error) {
	fd := int(os.Stdin.Fd())
	if !term.IsTerminal(fd) {
		return func() {}, nil
	}
	oldState, err := term.MakeRaw(fd)
	if err != nil {
		return nil, err
	}
	return func() { _ = term.Restore(fd, oldState) }, nil
}

// termSize reports the local terminal grid, with a sane fallback when
// stdout is not a terminal.
func termSize() (cols, rows int) {
	fd := int(os.Stdout.Fd())
	if !term.IsTerminal(fd) {
		return 120, 30
	}
	c, r, err := term.GetSize(fd)
	if err != nil || c <= 0 || r <= 0 {
		return 120, 30
	}
	return c, r
}
