package sshpool

import (
	"bytes"
	"context"
	"errors"
	"time"

	"golang.org/x/crypto/ssh"

	"github.com/GriffinCanCode/TermGate/internal/infrastructure/monitoring"
	"github.com/GriffinCanCode/TermGate/internal/shared/errs"
	"github.com/GriffinCanCode/TermGate/internal/target"
)

// ExecResult carries the outcome of a one-shot remote command.
type ExecResult struct {
	Stdout   []byte        `json:"stdout"`
	Stderr   []byte        `json:"stderr"`
	ExitCode int           `json:"exit_code"`
	Duration time.Duration `json:"duration"`
}

// Execute borrows a connection, runs the command, and returns captured
// output with the remote exit status. A nonzero exit is a successful
// execution, not an error; the connection is returned to the pool.
// Transport failures discard the connection and surface as errors.
func (p *Pool) Execute(ctx context.Context, tgt target.Target, creds target.Credentials, command string) (*ExecResult, error) {
	status := "error"
	if p.metrics != nil {
		timer := monitoring.NewTimer(p.metrics, "pool", "exec")
		defer func() { timer.Stop(status) }()
	}

	conn, err := p.Acquire(ctx, tgt, creds)
	if err != nil {
		return nil, err
	}

	sess, err := conn.Client().NewSession()
	if err != nil {
		p.Release(conn, false)
		return nil, errs.IO("open exec session", err)
	}

	var stdout, stderr bytes.Buffer
	sess.Stdout = &stdout
	sess.Stderr = &stderr

	start := time.Now()
	done := make(chan error, 1)
	go func() { done <- sess.Run(command) }()

	var runErr error
	select {
	case runErr = <-done:
	case <-ctx.Done():
		sess.Close()
		<-done
		p.Release(conn, false)
		return nil, errs.Wrap(errs.KindIO, "command interrupted", ctx.Err())
	}
	sess.Close()

	res := &ExecResult{
		Stdout:   stdout.Bytes(),
		Stderr:   stderr.Bytes(),
		Duration: time.Since(start),
	}
	if runErr != nil {
		var exitErr *ssh.ExitError
		if errors.As(runErr, &exitErr) {
			res.ExitCode = exitErr.ExitStatus()
			p.Release(conn, true)
			status = "success"
			return res, nil
		}
		p.Release(conn, false)
		return nil, errs.IO("run command", runErr)
	}
	p.Release(conn, true)
	status = "success"
	return res, nil
}
