package session

import (
	"errors"
	"fmt"
	"os"
	"os/exec"

	"github.com/creack/pty"
)

// runner abstracts the shell end of a session: a local PTY process or a
// remote SSH channel.
type runner interface {
	read(p []byte) (int, error)
	write(p []byte) (int, error)
	resize(cols, rows uint16) error
	// stop forcibly ends the shell; read and wait unblock afterwards.
	stop()
	// wait blocks until the shell ends and reports the exit code when
	// the platform surfaces one. A non-nil error means the transport
	// failed, not that the command exited nonzero.
	wait() (*int, error)
}

// localRunner runs a shell on a local PTY.
type localRunner struct {
	cmd  *exec.Cmd
	ptmx *os.File
}

// startLocal launches the shell under a PTY with the given size.
// Defaults: shell falls back to $SHELL then /bin/bash, workdir to $HOME
// then /tmp.
func startLocal(shell, workdir string, env map[string]string, term string, cols, rows uint16) (*localRunner, error) {
	if shell == "" {
		shell = os.Getenv("SHELL")
		if shell == "" {
			shell = "/bin/bash"
		}
	}
	if workdir == "" {
		workdir = os.Getenv("HOME")
		if workdir == "" {
			workdir = "/tmp"
		}
	}

	cmd := exec.Command(shell)
	cmd.Dir = workdir
	cmd.Env = os.Environ()
	cmd.Env = append(cmd.Env, "TERM="+term)
	for key, value := range env {
		cmd.Env = append(cmd.Env, fmt.Sprintf("%s=%s", key, value))
	}

	ptmx, err := pty.StartWithSize(cmd, &pty.Winsize{Rows: rows, Cols: cols})
	if err != nil {
		return nil, fmt.Errorf("start pty: %w", err)
	}
	return &localRunner{cmd: cmd, ptmx: ptmx}, nil
}

func (r *localRunner) read(p []byte) (int, error) {
	return r.ptmx.Read(p)
}

func (r *localRunner) write(p []byte) (int, error) {
	return r.ptmx.Write(p)
}

func (r *localRunner) resize(cols, rows uint16) error {
	return pty.Setsize(r.ptmx, &pty.Winsize{Rows: rows, Cols: cols})
}

func (r *localRunner) stop() {
	if r.cmd.Process != nil {
		r.cmd.Process.Kill()
	}
	r.ptmx.Close()
}

func (r *localRunner) wait() (*int, error) {
	err := r.cmd.Wait()
	if r.cmd.ProcessState != nil {
		if code := r.cmd.ProcessState.ExitCode(); code >= 0 {
			return &code, nil
		}
	}
	if err != nil {
		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) {
			// Killed by signal: no exit code to report.
			return nil, nil
		}
		return nil, err
	}
	return nil, nil
}
