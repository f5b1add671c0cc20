// Package stream provides the bounded output buffer between a session's
// producer (PTY or SSH read loop) and its consumer (the emit loop).
//
// Output is held as a list of immutable chunks, so appends never reallocate
// previously buffered data and a drain hands everything to the consumer in
// one copy. Memory held is proportional to unread output, never to the
// cumulative output of the session.
package stream

import (
	"context"
	"errors"
	"sync"
)

// ErrClosed is returned by Append on a closed buffer
var ErrClosed = errors.New("stream: buffer closed")

// DefaultMaxBytes caps a buffer when no explicit limit is configured (1 MB)
const DefaultMaxBytes = 1024 * 1024

// Policy selects the overflow behavior once the buffer is full
type Policy int

const (
	// DropOldest evicts the oldest buffered bytes and flags truncation
	DropOldest Policy = iota
	// Block makes Append wait until the consumer drains
	Block
)

// String returns the string representation of the policy
func (p Policy) String() string {
	switch p {
	case DropOldest:
		return "drop_oldest"
	case Block:
		return "block"
	default:
		return "unknown"
	}
}

// ParsePolicy converts a configuration string to a Policy
func ParsePolicy(s string) (Policy, error) {
	switch s {
	case "drop_oldest":
		return DropOldest, nil
	case "block":
		return Block, nil
	default:
		return DropOldest, errors.New("stream: unknown policy " + s)
	}
}

// Buffer is a thread-safe bounded chunk buffer for terminal output.
type Buffer struct {
	mu        sync.Mutex
	chunks    [][]byte
	size      int
	max       int
	policy    Policy
	truncated bool // data dropped since the last drain
	closed    bool

	notify chan struct{} // signaled (non-blocking) when data or close arrives
	space  chan struct{} // signaled (non-blocking) when a drain frees room
}

// New creates a buffer with the given byte limit and overflow policy.
// If max <= 0, DefaultMaxBytes is used.
func New(max int, policy Policy) *Buffer {
	if max <= 0 {
		max = DefaultMaxBytes
	}
	return &Buffer{
		max:    max,
		policy: policy,
		notify: make(chan struct{}, 1),
		space:  make(chan struct{}, 1),
	}
}

// Append adds a copy of p to the buffer.
//
// Under DropOldest a full buffer evicts its oldest bytes and marks the
// buffer truncated. Under Block the call waits for the consumer to drain,
// returning early if ctx is cancelled. Appending to a closed buffer
// returns ErrClosed.
func (b *Buffer) Append(ctx context.Context, p []byte) error {
	if len(p) == 0 {
		return nil
	}

	if b.policy == Block {
		return b.appendBlocking(ctx, p)
	}

	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return ErrClosed
	}

	// An append larger than the whole buffer keeps only its tail.
	if len(p) > b.max {
		p = p[len(p)-b.max:]
		b.truncated = true
	}

	chunk := make([]byte, len(p))
	copy(chunk, p)
	b.chunks = append(b.chunks, chunk)
	b.size += len(chunk)

	// Evict from the front until we fit. Re-slicing the head chunk is O(1);
	// its backing array is released once the chunk is fully consumed.
	for b.size > b.max {
		excess := b.size - b.max
		head := b.chunks[0]
		if len(head) <= excess {
			b.size -= len(head)
			b.chunks = b.chunks[1:]
		} else {
			b.chunks[0] = head[excess:]
			b.size -= excess
		}
		b.truncated = true
	}
	b.mu.Unlock()

	b.signal(b.notify)
	return nil
}

// appendBlocking appends p piecewise, waiting for drains when full
func (b *Buffer) appendBlocking(ctx context.Context, p []byte) error {
	for len(p) > 0 {
		n, err := b.appendUpTo(p)
		if err != nil {
			return err
		}
		if n > 0 {
			b.signal(b.notify)
			p = p[n:]
			continue
		}

		select {
		case <-b.space:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	return nil
}

// appendUpTo appends as much of p as fits, returning the bytes consumed
func (b *Buffer) appendUpTo(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed {
		return 0, ErrClosed
	}

	room := b.max - b.size
	if room == 0 {
		return 0, nil
	}
	n := len(p)
	if n > room {
		n = room
	}

	chunk := make([]byte, n)
	copy(chunk, p[:n])
	b.chunks = append(b.chunks, chunk)
	b.size += n
	return n, nil
}

// Drain removes and returns all buffered data in one contiguous slice,
// reporting whether any data was dropped since the previous drain.
func (b *Buffer) Drain() ([]byte, bool) {
	b.mu.Lock()
	if b.size == 0 {
		truncated := b.truncated
		b.truncated = false
		b.mu.Unlock()
		return nil, truncated
	}

	data := make([]byte, 0, b.size)
	for _, chunk := range b.chunks {
		data = append(data, chunk...)
	}
	b.chunks = nil
	b.size = 0
	truncated := b.truncated
	b.truncated = false
	b.mu.Unlock()

	b.signal(b.space)
	return data, truncated
}

// Tail returns up to max trailing bytes without consuming them.
// Used for replay when a client attaches to a running session.
func (b *Buffer) Tail(max int) []byte {
	b.mu.Lock()
	defer b.mu.Unlock()

	if max <= 0 || b.size == 0 {
		return nil
	}
	n := b.size
	if n > max {
		n = max
	}

	out := make([]byte, n)
	pos := n
	for i := len(b.chunks) - 1; i >= 0 && pos > 0; i-- {
		chunk := b.chunks[i]
		take := len(chunk)
		if take > pos {
			chunk = chunk[len(chunk)-pos:]
			take = pos
		}
		copy(out[pos-take:], chunk)
		pos -= take
	}
	return out
}

// Len returns the number of unread bytes
func (b *Buffer) Len() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.size
}

// Truncated reports whether data was dropped since the last drain
func (b *Buffer) Truncated() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.truncated
}

// Closed reports whether the buffer has been closed
func (b *Buffer) Closed() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.closed
}

// Close marks the buffer closed and wakes both producer and consumer.
// Buffered data remains drainable after close.
func (b *Buffer) Close() {
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return
	}
	b.closed = true
	b.mu.Unlock()

	b.signal(b.notify)
	b.signal(b.space)
}

// Notify returns the channel signaled when new data or a close arrives.
// Consumers select on it and then call Drain.
func (b *Buffer) Notify() <-chan struct{} {
	return b.notify
}

// signal performs a non-blocking send on a capacity-1 wakeup channel
func (b *Buffer) signal(ch chan struct{}) {
	select {
	case ch <- struct{}{}:
	default:
	}
}
