package ws

import (
	"context"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/GriffinCanCode/TermGate/internal/infrastructure/config"
	"github.com/GriffinCanCode/TermGate/internal/infrastructure/logging"
	"github.com/GriffinCanCode/TermGate/internal/infrastructure/monitoring"
	"github.com/GriffinCanCode/TermGate/internal/protocol"
	"github.com/GriffinCanCode/TermGate/internal/session"
)

// Channel is one client connection multiplexing any number of sessions.
// The channel id doubles as the owner key in the session manager.
type Channel struct {
	id      string
	conn    *websocket.Conn
	cfg     config.WSConfig
	manager *session.Manager
	log     *logging.Logger
	metrics *monitoring.Metrics

	send chan []byte
	done chan struct{}
	once sync.Once

	limiter   *rate.Limiter
	malformed int
}

func newChannel(id string, conn *websocket.Conn, cfg config.WSConfig, manager *session.Manager, log *logging.Logger, metrics *monitoring.Metrics) *Channel {
	return &Channel{
		id:      id,
		conn:    conn,
		cfg:     cfg,
		manager: manager,
		log:     log.With(zap.String("channel_id", id)),
		metrics: metrics,
		send:    make(chan []byte, cfg.SendQueue),
		done:    make(chan struct{}),
		limiter: rate.NewLimiter(rate.Limit(cfg.InputPerSecond), cfg.InputBurst),
	}
}

// close shuts the connection down once. WriteControl is safe alongside
// the writer pump, so the close frame does not go through the queue.
func (c *Channel) close(code int, reason string) {
	c.once.Do(func() {
		close(c.done)
		msg := websocket.FormatCloseMessage(code, reason)
		c.conn.WriteControl(websocket.CloseMessage, msg, time.Now().Add(c.cfg.WriteTimeout))
		c.conn.Close()
	})
}

// enqueue hands a frame to the writer pump. A full queue means the
// client cannot drain its output; the channel closes rather than block
// the hub behind one slow consumer.
func (c *Channel) enqueue(frame []byte) bool {
	select {
	case <-c.done:
		return false
	default:
	}
	select {
	case c.send <- frame:
		return true
	default:
		c.log.Warn("send queue overflow, dropping channel")
		c.close(websocket.ClosePolicyViolation, "send queue overflow")
		return false
	}
}

func (c *Channel) sendFrame(msg interface{}, msgType string) {
	frame, err := protocol.Encode(msg)
	if err != nil {
		c.log.Error("encode frame", zap.String("frame_type", msgType), zap.Error(err))
		return
	}
	if c.enqueue(frame) {
		c.countFrame("out", msgType)
	}
}

func (c *Channel) sendError(sessionID string, err error) {
	c.sendFrame(protocol.NewErrorFrom(sessionID, err), protocol.TypeError)
}

func (c *Channel) countFrame(direction, msgType string) {
	if c.metrics != nil {
		c.metrics.RecordWSMessage(direction, msgType)
	}
}

// writePump owns every data write on the connection. It also sends
// transport-level pings so dead peers are detected even when idle.
func (c *Channel) writePump() {
	ping := time.NewTicker(pingPeriod(c.cfg.PongTimeout))
	defer ping.Stop()
	for {
		select {
		case frame := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(c.cfg.WriteTimeout))
			if err := c.conn.WriteMessage(websocket.TextMessage, frame); err != nil {
				c.close(websocket.CloseAbnormalClosure, "write failed")
				return
			}
		case <-ping.C:
			c.conn.SetWriteDeadline(time.Now().Add(c.cfg.WriteTimeout))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				c.close(websocket.CloseAbnormalClosure, "ping failed")
				return
			}
		case <-c.done:
			return
		}
	}
}

func pingPeriod(pongTimeout time.Duration) time.Duration {
	if pongTimeout <= 0 {
		pongTimeout = 60 * time.Second
	}
	return pongTimeout * 9 / 10
}

// readLoop decodes and dispatches client frames until the connection
// drops. ctx is the upgrade request's context; it cancels in-flight
// attach dials when the client goes away.
func (c *Channel) readLoop(ctx context.Context) {
	c.conn.SetReadLimit(c.cfg.MaxMessageBytes)
	c.conn.SetReadDeadline(time.Now().Add(c.cfg.PongTimeout))
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(c.cfg.PongTimeout))
	})
	for {
		_, raw, err := c.conn.ReadMessage()
		if err != nil {
			return
		}
		msg, err := protocol.DecodeClient(raw)
		if err != nil {
			c.malformed++
			c.sendError("", err)
			if c.malformed > c.cfg.AbuseThreshold {
				c.log.Warn("malformed message threshold exceeded",
					zap.Int("count", c.malformed))
				c.close(websocket.ClosePolicyViolation, "too many malformed messages")
				return
			}
			continue
		}
		c.dispatch(ctx, msg)
	}
}

func (c *Channel) dispatch(ctx context.Context, msg interface{}) {
	switch m := msg.(type) {
	case *protocol.Attach:
		c.countFrame("in", protocol.TypeAttach)
		if _, err := c.manager.Attach(ctx, m.SessionID, c.id); err != nil {
			c.sendError(m.SessionID, err)
		}
	case *protocol.Input:
		c.countFrame("in", protocol.TypeInput)
		// Over-rate input is dropped, not an error: interactive paste
		// bursts recover on their own.
		if !c.limiter.Allow() {
			return
		}
		if err := c.manager.Write(m.SessionID, m.Data); err != nil {
			c.sendError(m.SessionID, err)
		}
	case *protocol.Resize:
		c.countFrame("in", protocol.TypeResize)
		if err := c.manager.Resize(m.SessionID, m.Cols, m.Rows); err != nil {
			c.sendError(m.SessionID, err)
		}
	case *protocol.Ping:
		c.countFrame("in", protocol.TypePing)
		c.sendFrame(protocol.NewPong(), protocol.TypePong)
	}
}
