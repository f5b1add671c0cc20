package stream

import (
	"context"
	"fmt"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAppendDrain(t *testing.T) {
	b := New(1024, DropOldest)
	ctx := context.Background()

	require.NoError(t, b.Append(ctx, []byte("hello ")))
	require.NoError(t, b.Append(ctx, []byte("world")))
	assert.Equal(t, 11, b.Len())

	data, truncated := b.Drain()
	assert.Equal(t, "hello world", string(data))
	assert.False(t, truncated)
	assert.Equal(t, 0, b.Len())

	data, truncated = b.Drain()
	assert.Nil(t, data)
	assert.False(t, truncated)
}

func TestAppendCopiesInput(t *testing.T) {
	b := New(1024, DropOldest)
	ctx := context.Background()

	// Read loops reuse their scratch buffer between reads.
	scratch := []byte("first")
	require.NoError(t, b.Append(ctx, scratch))
	copy(scratch, "XXXXX")

	data, _ := b.Drain()
	assert.Equal(t, "first", string(data))
}

func TestDropOldestEviction(t *testing.T) {
	b := New(10, DropOldest)
	ctx := context.Background()

	require.NoError(t, b.Append(ctx, []byte("0123456789")))
	require.NoError(t, b.Append(ctx, []byte("AB")))

	assert.Equal(t, 10, b.Len())
	assert.True(t, b.Truncated())

	data, truncated := b.Drain()
	assert.Equal(t, "23456789AB", string(data))
	assert.True(t, truncated)

	// Flag resets once reported.
	require.NoError(t, b.Append(ctx, []byte("ok")))
	data, truncated = b.Drain()
	assert.Equal(t, "ok", string(data))
	assert.False(t, truncated)
}

func TestDropOldestAcrossChunks(t *testing.T) {
	b := New(6, DropOldest)
	ctx := context.Background()

	require.NoError(t, b.Append(ctx, []byte("aa")))
	require.NoError(t, b.Append(ctx, []byte("bb")))
	require.NoError(t, b.Append(ctx, []byte("cc")))
	require.NoError(t, b.Append(ctx, []byte("dd")))

	data, truncated := b.Drain()
	assert.Equal(t, "bbccdd", string(data))
	assert.True(t, truncated)
}

func TestOversizedAppendKeepsTail(t *testing.T) {
	b := New(4, DropOldest)
	ctx := context.Background()

	require.NoError(t, b.Append(ctx, []byte("0123456789")))

	data, truncated := b.Drain()
	assert.Equal(t, "6789", string(data))
	assert.True(t, truncated)
}

func TestBlockPolicyWaitsForDrain(t *testing.T) {
	b := New(4, Block)
	ctx := context.Background()

	require.NoError(t, b.Append(ctx, []byte("full")))

	done := make(chan error, 1)
	go func() {
		done <- b.Append(ctx, []byte("more"))
	}()

	select {
	case err := <-done:
		t.Fatalf("append should have blocked, returned %v", err)
	case <-time.After(50 * time.Millisecond):
	}

	data, _ := b.Drain()
	assert.Equal(t, "full", string(data))

	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(time.Second):
		t.Fatal("append did not unblock after drain")
	}

	data, _ = b.Drain()
	assert.Equal(t, "more", string(data))
}

func TestBlockPolicyNeverExceedsMax(t *testing.T) {
	b := New(4, Block)
	ctx := context.Background()

	done := make(chan error, 1)
	go func() {
		// Larger than the whole buffer: lands piecewise across drains.
		done <- b.Append(ctx, []byte("abcdefgh"))
	}()

	var got strings.Builder
	deadline := time.After(time.Second)
	for got.Len() < 8 {
		select {
		case <-b.Notify():
		case <-deadline:
			t.Fatal("timed out collecting blocked append")
		}
		assert.LessOrEqual(t, b.Len(), 4)
		data, truncated := b.Drain()
		assert.False(t, truncated)
		got.Write(data)
	}

	require.NoError(t, <-done)
	assert.Equal(t, "abcdefgh", got.String())
}

func TestBlockPolicyContextCancel(t *testing.T) {
	b := New(4, Block)
	require.NoError(t, b.Append(context.Background(), []byte("full")))

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() {
		done <- b.Append(ctx, []byte("more"))
	}()

	cancel()

	select {
	case err := <-done:
		assert.ErrorIs(t, err, context.Canceled)
	case <-time.After(time.Second):
		t.Fatal("cancelled append did not return")
	}
}

func TestClosedBufferRejectsAppends(t *testing.T) {
	b := New(1024, DropOldest)
	ctx := context.Background()

	require.NoError(t, b.Append(ctx, []byte("before")))
	b.Close()

	assert.True(t, b.Closed())
	assert.ErrorIs(t, b.Append(ctx, []byte("after")), ErrClosed)

	// Buffered data survives the close.
	data, _ := b.Drain()
	assert.Equal(t, "before", string(data))
}

func TestCloseUnblocksProducer(t *testing.T) {
	b := New(4, Block)
	ctx := context.Background()
	require.NoError(t, b.Append(ctx, []byte("full")))

	done := make(chan error, 1)
	go func() {
		done <- b.Append(ctx, []byte("more"))
	}()

	time.Sleep(20 * time.Millisecond)
	b.Close()

	select {
	case err := <-done:
		assert.ErrorIs(t, err, ErrClosed)
	case <-time.After(time.Second):
		t.Fatal("close did not unblock producer")
	}
}

func TestCloseIsIdempotent(t *testing.T) {
	b := New(1024, DropOldest)
	b.Close()
	b.Close()
	assert.True(t, b.Closed())
}

func TestTail(t *testing.T) {
	b := New(1024, DropOldest)
	ctx := context.Background()

	require.NoError(t, b.Append(ctx, []byte("one ")))
	require.NoError(t, b.Append(ctx, []byte("two ")))
	require.NoError(t, b.Append(ctx, []byte("three")))

	tests := []struct {
		name string
		max  int
		want string
	}{
		{"whole buffer", 100, "one two three"},
		{"within last chunk", 3, "ree"},
		{"across chunks", 7, "o three"},
		{"zero", 0, ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, string(b.Tail(tt.max)))
		})
	}

	// Tail does not consume.
	assert.Equal(t, 13, b.Len())
	data, _ := b.Drain()
	assert.Equal(t, "one two three", string(data))
}

func TestNotifyWakesConsumer(t *testing.T) {
	b := New(1024, DropOldest)

	go func() {
		time.Sleep(10 * time.Millisecond)
		_ = b.Append(context.Background(), []byte("data"))
	}()

	select {
	case <-b.Notify():
	case <-time.After(time.Second):
		t.Fatal("notify never fired")
	}

	data, _ := b.Drain()
	assert.Equal(t, "data", string(data))
}

func TestProducerConsumerOrdering(t *testing.T) {
	b := New(256, Block)
	ctx := context.Background()

	const chunks = 200
	go func() {
		for i := 0; i < chunks; i++ {
			if err := b.Append(ctx, []byte(fmt.Sprintf("%04d.", i))); err != nil {
				return
			}
		}
		b.Close()
	}()

	var got strings.Builder
	deadline := time.After(5 * time.Second)
	for {
		select {
		case <-b.Notify():
		case <-deadline:
			t.Fatal("timed out")
		}
		data, truncated := b.Drain()
		assert.False(t, truncated)
		got.Write(data)
		if b.Closed() && b.Len() == 0 {
			data, _ := b.Drain()
			got.Write(data)
			break
		}
	}

	var want strings.Builder
	for i := 0; i < chunks; i++ {
		fmt.Fprintf(&want, "%04d.", i)
	}
	assert.Equal(t, want.String(), got.String())
}

func TestParsePolicy(t *testing.T) {
	p, err := ParsePolicy("drop_oldest")
	require.NoError(t, err)
	assert.Equal(t, DropOldest, p)

	p, err = ParsePolicy("block")
	require.NoError(t, err)
	assert.Equal(t, Block, p)

	_, err = ParsePolicy("ring")
	assert.Error(t, err)
}

func TestDefaultMax(t *testing.T) {
	b := New(0, DropOldest)
	require.NoError(t, b.Append(context.Background(), make([]byte, DefaultMaxBytes)))
	assert.Equal(t, DefaultMaxBytes, b.Len())
	assert.False(t, b.Truncated())
}

func BenchmarkAppendDrain(b *testing.B) {
	buf := New(1024*1024, DropOldest)
	ctx := context.Background()
	chunk := make([]byte, 4096)

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		_ = buf.Append(ctx, chunk)
		if i%64 == 0 {
			buf.Drain()
		}
	}
}
