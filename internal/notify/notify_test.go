package notify

import (
	"io"
	"net/http"
	"net/http/httptest"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/bytedance/sonic"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/GriffinCanCode/TermGate/internal/infrastructure/config"
)

type capture struct {
	mu     sync.Mutex
	events []Event
}

func (c *capture) handler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		body, _ := io.ReadAll(r.Body)
		var ev Event
		if err := sonic.Unmarshal(body, &ev); err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		c.mu.Lock()
		c.events = append(c.events, ev)
		c.mu.Unlock()
		w.WriteHeader(http.StatusNoContent)
	}
}

func (c *capture) count() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.events)
}

func (c *capture) first() Event {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.events[0]
}

func testWebhookConfig(url string) config.WebhookConfig {
	return config.WebhookConfig{
		URL:      url,
		Timeout:  2 * time.Second,
		RetryMax: 2,
		Queue:    8,
	}
}

func TestDisabledIsNoop(t *testing.T) {
	n := New(testWebhookConfig(""), Options{})
	assert.False(t, n.Enabled())

	go n.Run()
	n.Publish(SessionClosedEvent("sess_1", "exit", nil))
	n.Close()
	n.Close()
}

func TestDeliverPostsEvent(t *testing.T) {
	cap := &capture{}
	srv := httptest.NewServer(cap.handler())
	defer srv.Close()

	n := New(testWebhookConfig(srv.URL), Options{})
	go n.Run()

	code := 3
	n.Publish(SessionClosedEvent("sess_42", "exit", &code))

	require.Eventually(t, func() bool { return cap.count() == 1 }, 3*time.Second, 20*time.Millisecond)
	ev := cap.first()
	assert.Equal(t, EventSessionClosed, ev.Type)
	assert.Equal(t, "sess_42", ev.SessionID)
	assert.Equal(t, "exit", ev.Reason)
	require.NotNil(t, ev.ExitCode)
	assert.Equal(t, 3, *ev.ExitCode)
	assert.False(t, ev.Time.IsZero())

	n.Close()
}

func TestRetriesServerErrors(t *testing.T) {
	var attempts atomic.Int32
	cap := &capture{}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if attempts.Add(1) <= 2 {
			http.Error(w, "not yet", http.StatusInternalServerError)
			return
		}
		cap.handler()(w, r)
	}))
	defer srv.Close()

	n := New(testWebhookConfig(srv.URL), Options{})
	go n.Run()

	ev, ok := CircuitEvent("deploy@db:22", "open")
	require.True(t, ok)
	n.Publish(ev)

	require.Eventually(t, func() bool { return cap.count() == 1 }, 5*time.Second, 20*time.Millisecond)
	assert.GreaterOrEqual(t, attempts.Load(), int32(3))
	assert.Equal(t, EventCircuitOpened, cap.first().Type)

	n.Close()
}

func TestCloseFlushesQueue(t *testing.T) {
	cap := &capture{}
	srv := httptest.NewServer(cap.handler())
	defer srv.Close()

	// Queue events before the worker starts so Close must flush them.
	n := New(testWebhookConfig(srv.URL), Options{})
	n.Publish(SessionClosedEvent("sess_a", "exit", nil))
	n.Publish(SessionClosedEvent("sess_b", "idle_timeout", nil))

	go n.Run()
	n.Close()

	assert.Equal(t, 2, cap.count())
}

func TestFullQueueDropsWithoutBlocking(t *testing.T) {
	cfg := testWebhookConfig("http://127.0.0.1:1/unreachable")
	cfg.Queue = 1

	// No worker is draining, so the second publish must hit the
	// overflow path and return immediately.
	n := New(cfg, Options{})
	finished := make(chan struct{})
	go func() {
		n.Publish(SessionClosedEvent("sess_1", "exit", nil))
		n.Publish(SessionClosedEvent("sess_2", "exit", nil))
		close(finished)
	}()

	select {
	case <-finished:
	case <-time.After(time.Second):
		t.Fatal("publish blocked on a full queue")
	}
}

func TestCircuitEventMapping(t *testing.T) {
	ev, ok := CircuitEvent("a@b:22", "open")
	require.True(t, ok)
	assert.Equal(t, EventCircuitOpened, ev.Type)
	assert.Equal(t, "a@b:22", ev.Target)

	ev, ok = CircuitEvent("a@b:22", "closed")
	require.True(t, ok)
	assert.Equal(t, EventCircuitClosed, ev.Type)

	_, ok = CircuitEvent("a@b:22", "half-open")
	assert.False(t, ok)
}
