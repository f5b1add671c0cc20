package ws

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/GriffinCanCode/TermGate/internal/infrastructure/config"
	"github.com/GriffinCanCode/TermGate/internal/infrastructure/logging"
	"github.com/GriffinCanCode/TermGate/internal/infrastructure/monitoring"
	"github.com/GriffinCanCode/TermGate/internal/session"
	"github.com/GriffinCanCode/TermGate/internal/shared/id"
)

// Options configures the channel endpoint.
type Options struct {
	Config  config.WSConfig
	Manager *session.Manager
	Hub     *Hub
	Logger  *logging.Logger
	Metrics *monitoring.Metrics
}

// Handler upgrades HTTP requests into message channels.
type Handler struct {
	cfg      config.WSConfig
	manager  *session.Manager
	hub      *Hub
	log      *logging.Logger
	metrics  *monitoring.Metrics
	upgrader websocket.Upgrader
}

func NewHandler(opts Options) *Handler {
	log := opts.Logger
	if log == nil {
		log = logging.NewNop()
	}
	return &Handler{
		cfg:     opts.Config,
		manager: opts.Manager,
		hub:     opts.Hub,
		log:     log.Named("ws"),
		metrics: opts.Metrics,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  4096,
			WriteBufferSize: 4096,
			CheckOrigin: func(r *http.Request) bool {
				return true // origin policy is enforced upstream
			},
		},
	}
}

// HandleConnection serves one channel for the life of the connection.
// When the client drops, every session the channel owns is closed.
func (h *Handler) HandleConnection(c *gin.Context) {
	conn, err := h.upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		h.log.Warn("websocket upgrade failed", zap.Error(err))
		return
	}

	ch := newChannel(string(id.NewChannelID()), conn, h.cfg, h.manager, h.log, h.metrics)
	h.hub.register(ch)
	if h.metrics != nil {
		h.metrics.IncWSConnections()
	}
	h.log.Info("channel connected",
		zap.String("channel_id", ch.id),
		zap.String("remote", c.ClientIP()))

	go ch.writePump()
	ch.readLoop(c.Request.Context())

	ch.close(websocket.CloseNormalClosure, "")
	h.hub.unregister(ch)
	closed := h.manager.CloseOwned(ch.id, session.ReasonDisconnect)
	if h.metrics != nil {
		h.metrics.DecWSConnections()
	}
	h.log.Info("channel disconnected",
		zap.String("channel_id", ch.id),
		zap.Int("sessions_closed", closed))
}
