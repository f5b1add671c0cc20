package session

import (
	"context"
	"errors"
	"io"

	"golang.org/x/crypto/ssh"

	"github.com/GriffinCanCode/TermGate/internal/shared/errs"
	"github.com/GriffinCanCode/TermGate/internal/sshpool"
	"github.com/GriffinCanCode/TermGate/internal/target"
)

// remoteRunner runs a shell over a pooled SSH connection with a
// server-side PTY.
type remoteRunner struct {
	conn   *sshpool.Conn
	sess   *ssh.Session
	stdin  io.WriteCloser
	stdout io.Reader
}

// startRemote borrows a connection from the pool and starts an
// interactive shell on it. The borrowed connection is owned by the
// returned runner; the session releases it at teardown.
func startRemote(ctx context.Context, pool *sshpool.Pool, tgt target.Target, creds target.Credentials, shell, term string, cols, rows uint16) (*remoteRunner, error) {
	conn, err := pool.Acquire(ctx, tgt, creds)
	if err != nil {
		return nil, err
	}

	sess, err := conn.Client().NewSession()
	if err != nil {
		pool.Release(conn, false)
		return nil, errs.IO("open ssh session", err)
	}

	modes := ssh.TerminalModes{
		ssh.ECHO:          1,
		ssh.TTY_OP_ISPEED: 14400,
		ssh.TTY_OP_OSPEED: 14400,
	}
	if err := sess.RequestPty(term, int(rows), int(cols), modes); err != nil {
		sess.Close()
		pool.Release(conn, false)
		return nil, errs.IO("request pty", err)
	}

	stdin, err := sess.StdinPipe()
	if err != nil {
		sess.Close()
		pool.Release(conn, false)
		return nil, errs.IO("stdin pipe", err)
	}
	stdout, err := sess.StdoutPipe()
	if err != nil {
		sess.Close()
		pool.Release(conn, false)
		return nil, errs.IO("stdout pipe", err)
	}

	// Empty shell starts the account's login shell.
	if shell == "" {
		err = sess.Shell()
	} else {
		err = sess.Start(shell)
	}
	if err != nil {
		sess.Close()
		pool.Release(conn, false)
		return nil, errs.IO("start shell", err)
	}

	return &remoteRunner{conn: conn, sess: sess, stdin: stdin, stdout: stdout}, nil
}

func (r *remoteRunner) read(p []byte) (int, error) {
	return r.stdout.Read(p)
}

func (r *remoteRunner) write(p []byte) (int, error) {
	return r.stdin.Write(p)
}

func (r *remoteRunner) resize(cols, rows uint16) error {
	return r.sess.WindowChange(int(rows), int(cols))
}

func (r *remoteRunner) stop() {
	r.sess.Close()
}

func (r *remoteRunner) wait() (*int, error) {
	err := r.sess.Wait()
	if err == nil {
		code := 0
		return &code, nil
	}
	var exitErr *ssh.ExitError
	if errors.As(err, &exitErr) {
		code := exitErr.ExitStatus()
		return &code, nil
	}
	var missingErr *ssh.ExitMissingError
	if errors.As(err, &missingErr) {
		return nil, nil
	}
	return nil, err
}
