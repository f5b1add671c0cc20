package sshpool

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/crypto/ssh"

	"github.com/GriffinCanCode/TermGate/internal/target"
)

// keepaliveRequest is the OpenSSH global request used to probe liveness.
const keepaliveRequest = "keepalive@openssh.com"

// Conn is a pooled SSH connection. It is handed out by Pool.Acquire and
// must be returned with Pool.Release exactly once per borrow; extra
// releases are no-ops.
type Conn struct {
	id      string
	entry   *entry
	client  *ssh.Client
	target  target.Target
	created time.Time

	cancel context.CancelFunc
	dead   atomic.Bool
	once   sync.Once

	mu       sync.Mutex
	lastUsed time.Time
	released bool
	reserve  func()
}

// ID returns the connection's unique identifier.
func (c *Conn) ID() string {
	return c.id
}

// Client exposes the underlying SSH client for opening sessions.
func (c *Conn) Client() *ssh.Client {
	return c.client
}

// Target returns the target this connection is dialed to.
func (c *Conn) Target() target.Target {
	return c.target
}

// Created returns when the connection was established.
func (c *Conn) Created() time.Time {
	return c.created
}

// LastUsed returns when the connection was last released to the idle list.
func (c *Conn) LastUsed() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.lastUsed
}

// Dead reports whether the connection has been observed broken.
func (c *Conn) Dead() bool {
	return c.dead.Load()
}

// ping performs a keepalive round-trip to validate the connection.
func (c *Conn) ping() error {
	_, _, err := c.client.SendRequest(keepaliveRequest, true, nil)
	if err != nil {
		c.markDead()
	}
	return err
}

// markDead flags the connection broken and closes the transport so any
// blocked readers unwind.
func (c *Conn) markDead() {
	if c.dead.CompareAndSwap(false, true) {
		c.client.Close()
	}
}

// close tears the connection down. Idempotent.
func (c *Conn) close() {
	c.once.Do(func() {
		if c.cancel != nil {
			c.cancel()
		}
		c.dead.Store(true)
		c.client.Close()
	})
}

// keepalive probes the peer on a fixed interval until the connection is
// closed, marking it dead on the first failed round-trip.
func (c *Conn) keepalive(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if _, _, err := c.client.SendRequest(keepaliveRequest, true, nil); err != nil {
				c.markDead()
				return
			}
		}
	}
}
