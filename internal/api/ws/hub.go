package ws

import (
	"sync"

	"github.com/gorilla/websocket"

	"github.com/GriffinCanCode/TermGate/internal/infrastructure/logging"
	"github.com/GriffinCanCode/TermGate/internal/infrastructure/monitoring"
	"github.com/GriffinCanCode/TermGate/internal/protocol"
	"github.com/GriffinCanCode/TermGate/internal/session"
)

// Hub routes session events to the channels that own them.
type Hub struct {
	manager *session.Manager
	log     *logging.Logger
	metrics *monitoring.Metrics

	// onClosed, when set, observes every closed event including those
	// for unattached sessions. Set it before Run starts.
	onClosed func(session.Event)

	mu       sync.RWMutex
	channels map[string]*Channel

	done chan struct{}
}

func NewHub(manager *session.Manager, log *logging.Logger, metrics *monitoring.Metrics) *Hub {
	if log == nil {
		log = logging.NewNop()
	}
	return &Hub{
		manager:  manager,
		log:      log.Named("hub"),
		metrics:  metrics,
		channels: make(map[string]*Channel),
		done:     make(chan struct{}),
	}
}

// Run consumes the manager's event stream until it closes. Events whose
// owner has no registered channel are dropped; the session either was
// never attached or its channel is already gone.
func (h *Hub) Run() {
	for ev := range h.manager.Events() {
		h.route(ev)
	}
	h.log.Info("event stream drained")
	close(h.done)
}

// Done is closed after the event stream has fully drained.
func (h *Hub) Done() <-chan struct{} {
	return h.done
}

// OnSessionClosed registers an observer for closed events. Must be
// called before Run.
func (h *Hub) OnSessionClosed(fn func(session.Event)) {
	h.onClosed = fn
}

func (h *Hub) route(ev session.Event) {
	if ev.Type == session.EventClosed && h.onClosed != nil {
		h.onClosed(ev)
	}
	if ev.Owner == "" {
		return
	}
	c := h.channel(ev.Owner)
	if c == nil {
		return
	}
	switch ev.Type {
	case session.EventAttached:
		c.sendFrame(protocol.NewConnected(ev.SessionID), protocol.TypeConnected)
		if len(ev.Data) > 0 {
			c.sendFrame(protocol.NewOutput(ev.SessionID, ev.Data, false), protocol.TypeOutput)
		}
	case session.EventOutput:
		c.sendFrame(protocol.NewOutput(ev.SessionID, ev.Data, ev.Truncated), protocol.TypeOutput)
	case session.EventError:
		c.sendFrame(protocol.NewErrorFrom(ev.SessionID, ev.Err), protocol.TypeError)
	case session.EventClosed:
		c.sendFrame(protocol.NewClosed(ev.SessionID, ev.Reason, ev.ExitCode), protocol.TypeClosed)
	}
}

func (h *Hub) register(c *Channel) {
	h.mu.Lock()
	h.channels[c.id] = c
	h.mu.Unlock()
}

func (h *Hub) unregister(c *Channel) {
	h.mu.Lock()
	delete(h.channels, c.id)
	h.mu.Unlock()
}

func (h *Hub) channel(id string) *Channel {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.channels[id]
}

// CloseAll disconnects every channel, part of server shutdown.
func (h *Hub) CloseAll() {
	h.mu.Lock()
	chans := make([]*Channel, 0, len(h.channels))
	for _, c := range h.channels {
		chans = append(chans, c)
	}
	h.channels = make(map[string]*Channel)
	h.mu.Unlock()

	for _, c := range chans {
		c.close(websocket.CloseGoingAway, "server shutting down")
	}
	if len(chans) > 0 {
		h.log.Info("closed all channels")
	}
}
