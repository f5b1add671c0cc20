package http

import (
	"context"
	"net/http"
	"time"

	"github.com/GriffinCanCode/TermGate/internal/api/middleware"
	"github.com/GriffinCanCode/TermGate/internal/infrastructure/logging"
	"github.com/GriffinCanCode/TermGate/internal/infrastructure/monitoring"
	"github.com/GriffinCanCode/TermGate/internal/infrastructure/resilience"
	"github.com/GriffinCanCode/TermGate/internal/session"
	"github.com/GriffinCanCode/TermGate/internal/shared/errs"
	"github.com/GriffinCanCode/TermGate/internal/sshpool"
	"github.com/GriffinCanCode/TermGate/internal/target"
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

// Version is reported by the root endpoint.
const Version = "0.3.0"

// Exec timeout bounds applied when the request does not set one or sets
// one past the cap.
const (
	defaultExecTimeout = 60 * time.Second
	maxExecTimeout     = 10 * time.Minute
)

// Options carries handler dependencies. Manager is required; Pool,
// Breakers, and Resolver may be nil when remote targets are not
// configured, in which case remote endpoints report internal errors.
type Options struct {
	Manager  *session.Manager
	Pool     *sshpool.Pool
	Breakers *resilience.Registry
	Resolver *target.Resolver
	Logger   *logging.Logger
	Metrics  *monitoring.Metrics
}

// Handlers contains all HTTP handlers.
type Handlers struct {
	manager  *session.Manager
	pool     *sshpool.Pool
	breakers *resilience.Registry
	resolver *target.Resolver
	log      *logging.Logger
	metrics  *monitoring.Metrics
	track    *OpTracker
	started  time.Time
}

// NewHandlers creates a new handler set.
func NewHandlers(opts Options) *Handlers {
	log := opts.Logger
	if log == nil {
		log = logging.NewNop()
	}
	return &Handlers{
		manager:  opts.Manager,
		pool:     opts.Pool,
		breakers: opts.Breakers,
		resolver: opts.Resolver,
		log:      log.Named("api"),
		metrics:  opts.Metrics,
		track:    NewOpTracker(opts.Metrics),
		started:  time.Now(),
	}
}

// Root handles the liveness check.
func (h *Handlers) Root(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status":  "online",
		"service": "termgate",
		"version": Version,
	})
}

// Health handles the detailed health check.
func (h *Handlers) Health(c *gin.Context) {
	live, tracked := h.manager.Counts()
	poolTargets := 0
	if h.pool != nil {
		poolTargets = len(h.pool.Stats())
	}
	c.JSON(http.StatusOK, gin.H{
		"status":         "healthy",
		"uptime_seconds": int64(time.Since(h.started).Seconds()),
		"sessions":       gin.H{"live": live, "tracked": tracked},
		"pool_targets":   poolTargets,
	})
}

type createSessionRequest struct {
	Kind        string              `json:"kind" binding:"required"`
	Shell       string              `json:"shell"`
	Workdir     string              `json:"workdir"`
	Env         map[string]string   `json:"env"`
	Cols        uint16              `json:"cols"`
	Rows        uint16              `json:"rows"`
	TargetName  string              `json:"target_name"`
	Target      *target.Target      `json:"target"`
	Credentials *target.Credentials `json:"credentials"`
}

// CreateSession creates a local or remote session.
func (h *Handlers) CreateSession(c *gin.Context) {
	done := h.track.Op("create_session")

	var req createSessionRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		h.respondError(c, errs.Wrap(errs.KindProtocol, "invalid request body", err))
		done("error")
		return
	}

	create := session.CreateRequest{
		Kind:    session.Kind(req.Kind),
		Shell:   req.Shell,
		Workdir: req.Workdir,
		Env:     req.Env,
		Cols:    req.Cols,
		Rows:    req.Rows,
	}
	if create.Kind == session.KindRemote {
		tgt, creds, err := h.resolveTarget(req.TargetName, req.Target, req.Credentials)
		if err != nil {
			h.respondError(c, err)
			done("error")
			return
		}
		create.Target = &tgt
		create.Creds = creds
	}

	info, err := h.manager.Create(c.Request.Context(), create)
	if err != nil {
		h.respondError(c, err)
		done("error")
		return
	}

	h.log.Info("session created",
		zap.String("session_id", info.ID),
		zap.String("kind", string(info.Kind)),
		zap.String("target", info.Target),
	)
	c.JSON(http.StatusCreated, info)
	done("success")
}

// ListSessions lists all tracked sessions.
func (h *Handlers) ListSessions(c *gin.Context) {
	sessions := h.manager.List()
	live, tracked := h.manager.Counts()

	c.JSON(http.StatusOK, gin.H{
		"sessions": sessions,
		"stats":    gin.H{"live": live, "tracked": tracked},
	})
}

// GetSession returns one session snapshot.
func (h *Handlers) GetSession(c *gin.Context) {
	info, err := h.manager.Get(c.Param("id"))
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, info)
}

// DeleteSession closes a session. Re-deleting is safe while the closed
// record lingers; an unknown or reaped session reports not found.
func (h *Handlers) DeleteSession(c *gin.Context) {
	done := h.track.Op("delete_session")

	id := c.Param("id")
	if err := h.manager.Close(id, session.ReasonClosedByUser); err != nil {
		h.respondError(c, err)
		done("error")
		return
	}

	h.log.Info("session closed", zap.String("session_id", id))
	c.JSON(http.StatusOK, gin.H{"closed": id})
	done("success")
}

type execRequest struct {
	TargetName  string              `json:"target_name"`
	Target      *target.Target      `json:"target"`
	Credentials *target.Credentials `json:"credentials"`
	Command     string              `json:"command" binding:"required"`
	TimeoutMS   int64               `json:"timeout_ms"`
}

type execResponse struct {
	Stdout     string `json:"stdout"`
	Stderr     string `json:"stderr"`
	ExitCode   int    `json:"exit_code"`
	DurationMS int64  `json:"duration_ms"`
}

// Exec runs a one-shot command on a remote target through the pool.
// A nonzero remote exit status is a successful call; transport and
// dial failures surface as errors.
func (h *Handlers) Exec(c *gin.Context) {
	done := h.track.Op("exec")

	var req execRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		h.respondError(c, errs.Wrap(errs.KindProtocol, "invalid request body", err))
		done("error")
		return
	}
	if h.pool == nil {
		h.respondError(c, errs.New(errs.KindInternal, "remote execution is not configured"))
		done("error")
		return
	}

	tgt, creds, err := h.resolveTarget(req.TargetName, req.Target, req.Credentials)
	if err != nil {
		h.respondError(c, err)
		done("error")
		return
	}

	timeout := time.Duration(req.TimeoutMS) * time.Millisecond
	if timeout <= 0 {
		timeout = defaultExecTimeout
	}
	if timeout > maxExecTimeout {
		timeout = maxExecTimeout
	}
	ctx, cancel := context.WithTimeout(c.Request.Context(), timeout)
	defer cancel()

	res, err := h.pool.Execute(ctx, tgt, creds, req.Command)
	if err != nil {
		h.respondError(c, err)
		done("error")
		return
	}

	c.JSON(http.StatusOK, execResponse{
		Stdout:     string(res.Stdout),
		Stderr:     string(res.Stderr),
		ExitCode:   res.ExitCode,
		DurationMS: res.Duration.Milliseconds(),
	})
	done("success")
}

// Status reports a point-in-time view of sessions, pool occupancy, and
// circuit breakers.
func (h *Handlers) Status(c *gin.Context) {
	live, tracked := h.manager.Counts()

	targets := []sshpool.TargetStats{}
	if h.pool != nil {
		targets = append(targets, h.pool.Stats()...)
	}
	circuits := []resilience.Info{}
	if h.breakers != nil {
		circuits = append(circuits, h.breakers.Snapshot()...)
	}

	body := gin.H{
		"uptime_seconds": int64(time.Since(h.started).Seconds()),
		"sessions":       gin.H{"live": live, "tracked": tracked},
		"targets":        targets,
		"circuits":       circuits,
	}
	if h.metrics != nil {
		snap := h.metrics.GetSnapshot()
		body["requests"] = gin.H{
			"total":  snap.TotalRequests,
			"errors": snap.TotalErrors,
			"avg_ms": h.metrics.AvgRequestSeconds() * 1000,
		}
	}
	c.JSON(http.StatusOK, body)
}

// resolveTarget turns request target fields into a dialable target.
// Inventory names and explicit targets are mutually exclusive; request
// credentials win over inventory credentials when both are set.
func (h *Handlers) resolveTarget(name string, explicit *target.Target, creds *target.Credentials) (target.Target, target.Credentials, error) {
	if h.resolver == nil {
		return target.Target{}, target.Credentials{}, errs.New(errs.KindInternal, "remote targets are not configured")
	}

	var reqCreds target.Credentials
	if creds != nil {
		reqCreds = *creds
	}

	switch {
	case name != "" && explicit != nil:
		return target.Target{}, target.Credentials{}, errs.New(errs.KindProtocol, "target and target_name are mutually exclusive")
	case name != "":
		tgt, invCreds, err := h.resolver.ByName(name)
		if err != nil {
			return target.Target{}, target.Credentials{}, errs.New(errs.KindProtocol, err.Error())
		}
		return tgt, reqCreds.Merge(invCreds), nil
	case explicit != nil:
		tgt, merged, err := h.resolver.Explicit(*explicit, reqCreds)
		if err != nil {
			return target.Target{}, target.Credentials{}, errs.New(errs.KindProtocol, err.Error())
		}
		return tgt, merged, nil
	default:
		return target.Target{}, target.Credentials{}, errs.New(errs.KindProtocol, "remote session requires target or target_name")
	}
}

// respondError maps a classified error onto an HTTP status and a stable
// JSON body. Wrapped causes stay out of the response.
func (h *Handlers) respondError(c *gin.Context, err error) {
	kind := errs.KindOf(err)
	status := errs.HTTPStatus(kind)
	if status >= http.StatusInternalServerError {
		h.log.Error("request failed",
			zap.String("path", c.FullPath()),
			zap.String("request_id", c.GetString(middleware.RequestIDKey)),
			zap.Error(err),
		)
	}
	c.AbortWithStatusJSON(status, gin.H{
		"error": errs.PublicMessage(err),
		"kind":  string(kind),
	})
}
