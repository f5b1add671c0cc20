package server

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/robfig/cron/v3"
	"go.uber.org/zap"

	apihttp "github.com/GriffinCanCode/TermGate/internal/api/http"
	"github.com/GriffinCanCode/TermGate/internal/api/middleware"
	"github.com/GriffinCanCode/TermGate/internal/api/ws"
	"github.com/GriffinCanCode/TermGate/internal/infrastructure/config"
	"github.com/GriffinCanCode/TermGate/internal/infrastructure/logging"
	"github.com/GriffinCanCode/TermGate/internal/infrastructure/monitoring"
	"github.com/GriffinCanCode/TermGate/internal/infrastructure/resilience"
	"github.com/GriffinCanCode/TermGate/internal/notify"
	"github.com/GriffinCanCode/TermGate/internal/session"
	"github.com/GriffinCanCode/TermGate/internal/sshpool"
	"github.com/GriffinCanCode/TermGate/internal/target"
)

// Server wraps the HTTP server and all gateway components.
type Server struct {
	cfg      *config.Config
	log      *logging.Logger
	metrics  *monitoring.Metrics
	breakers *resilience.Registry
	pool     *sshpool.Pool
	resolver *target.Resolver
	manager  *session.Manager
	notifier *notify.Notifier
	hub      *ws.Hub
	limiter  *middleware.Limiter
	router   *gin.Engine
	httpSrv  *http.Server
	jobs     *cron.Cron
}

// New assembles a server from configuration.
func New(cfg *config.Config) (*Server, error) {
	logger, err := logging.New(logging.Config{
		Level:       cfg.Logging.Level,
		Development: cfg.Logging.Development,
		OutputPaths: []string{"stdout"},
	})
	if err != nil {
		return nil, fmt.Errorf("init logging: %w", err)
	}

	logger.Info("initializing termgate",
		zap.String("host", cfg.Server.Host),
		zap.String("port", cfg.Server.Port),
		zap.String("version", apihttp.Version),
	)

	metrics := monitoring.NewMetrics()

	notifier := notify.New(cfg.Webhook, notify.Options{
		Logger:  logger,
		Metrics: metrics,
	})
	if notifier.Enabled() {
		logger.Info("lifecycle webhook enabled", zap.String("url", cfg.Webhook.URL))
	}

	breakers := resilience.NewRegistry(resilience.Settings{
		MaxRequests: cfg.Breaker.MaxProbes,
		Interval:    cfg.Breaker.Interval,
		Timeout:     cfg.Breaker.OpenTimeout,
		ReadyToTrip: func(c resilience.Counts) bool {
			return c.ConsecutiveFailures >= cfg.Breaker.FailureThreshold
		},
		OnStateChange: func(name string, from, to resilience.State) {
			logger.Warn("circuit state changed",
				zap.String("target", name),
				zap.String("from", from.String()),
				zap.String("to", to.String()),
			)
			metrics.SetBreakerState(name, int(to))
			metrics.RecordBreakerTransition(name, to.String())
			if ev, ok := notify.CircuitEvent(name, to.String()); ok {
				notifier.Publish(ev)
			}
		},
	})

	var inventory *target.Inventory
	if cfg.SSH.TargetsFile != "" {
		inventory, err = target.LoadInventory(cfg.SSH.TargetsFile)
		if err != nil {
			return nil, fmt.Errorf("load target inventory: %w", err)
		}
		logger.Info("target inventory loaded",
			zap.String("path", cfg.SSH.TargetsFile),
			zap.Int("targets", inventory.Len()),
		)
	}
	resolver := target.NewResolver(inventory, cfg.SSH.DefaultUser, cfg.SSH.DefaultPort,
		target.Credentials{KeyPath: cfg.SSH.KeyPath})

	pool := sshpool.New(sshpool.Options{
		Config:     cfg.Pool,
		KnownHosts: cfg.SSH.KnownHosts,
		Logger:     logger,
		Metrics:    metrics,
		Breakers:   breakers,
	})

	manager := session.NewManager(session.Options{
		Config:    cfg.Session,
		Recording: cfg.Recording,
		Pool:      pool,
		Logger:    logger,
		Metrics:   metrics,
	})

	hub := ws.NewHub(manager, logger, metrics)
	hub.OnSessionClosed(func(ev session.Event) {
		notifier.Publish(notify.SessionClosedEvent(ev.SessionID, ev.Reason, ev.ExitCode))
	})

	if !cfg.Logging.Development {
		gin.SetMode(gin.ReleaseMode)
	}
	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(middleware.RequestID())
	router.Use(monitoring.Middleware(metrics))
	router.Use(middleware.CORS(cfg.Server.CORSOrigins))

	limiter := middleware.NewLimiter(cfg.RateLimit)
	if cfg.RateLimit.Enabled {
		logger.Info("rate limiting enabled",
			zap.Int("rps", cfg.RateLimit.RequestsPerSecond),
			zap.Int("burst", cfg.RateLimit.Burst),
		)
		router.Use(limiter.Middleware())
	}

	handlers := apihttp.NewHandlers(apihttp.Options{
		Manager:  manager,
		Pool:     pool,
		Breakers: breakers,
		Resolver: resolver,
		Logger:   logger,
		Metrics:  metrics,
	})
	wsHandler := ws.NewHandler(ws.Options{
		Config:  cfg.WS,
		Manager: manager,
		Hub:     hub,
		Logger:  logger,
		Metrics: metrics,
	})

	router.GET("/", handlers.Root)
	router.GET("/health", handlers.Health)

	router.POST("/sessions", handlers.CreateSession)
	router.GET("/sessions", handlers.ListSessions)
	router.GET("/sessions/:id", handlers.GetSession)
	router.DELETE("/sessions/:id", handlers.DeleteSession)

	router.POST("/exec", handlers.Exec)
	router.GET("/status", handlers.Status)

	router.GET("/stream", wsHandler.HandleConnection)

	router.GET("/metrics", gin.WrapH(promhttp.Handler()))

	s := &Server{
		cfg:      cfg,
		log:      logger.Named("server"),
		metrics:  metrics,
		breakers: breakers,
		pool:     pool,
		resolver: resolver,
		manager:  manager,
		notifier: notifier,
		hub:      hub,
		limiter:  limiter,
		router:   router,
		httpSrv: &http.Server{
			Addr:              cfg.Server.Host + ":" + cfg.Server.Port,
			Handler:           router,
			ReadHeaderTimeout: 10 * time.Second,
		},
	}
	if err := s.startJanitor(); err != nil {
		return nil, err
	}

	go hub.Run()
	go notifier.Run()

	s.log.Info("server initialized")
	return s, nil
}

// Router exposes the gin engine, used by tests.
func (s *Server) Router() *gin.Engine {
	return s.router
}

// Run serves HTTP until the listener fails or Shutdown is called.
func (s *Server) Run() error {
	s.jobs.Start()
	s.log.Info("listening", zap.String("addr", s.httpSrv.Addr))
	if err := s.httpSrv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return err
	}
	return nil
}

// Shutdown stops intake and tears components down in dependency order:
// HTTP listener, janitor, channels, sessions, event stream, webhook
// queue, then the connection pool.
func (s *Server) Shutdown(ctx context.Context) error {
	s.log.Info("shutting down")

	if err := s.httpSrv.Shutdown(ctx); err != nil {
		s.log.Warn("http shutdown", zap.Error(err))
	}
	<-s.jobs.Stop().Done()

	// WebSocket connections are hijacked, http.Server.Shutdown does not
	// cover them.
	s.hub.CloseAll()

	if err := s.manager.Shutdown(ctx); err != nil {
		s.log.Warn("session shutdown", zap.Error(err))
	}
	<-s.hub.Done()

	s.notifier.Close()
	s.pool.Close()

	s.log.Info("shutdown complete")
	_ = s.log.Sync()
	return nil
}

// startJanitor schedules periodic maintenance: pool idle sweeps with a
// breaker gauge refresh, and idle-session reaping together with rate
// limiter bucket eviction.
func (s *Server) startJanitor() error {
	jobs := cron.New()

	if _, err := jobs.AddFunc(s.cfg.Janitor.PoolSweep, func() {
		swept := s.pool.SweepIdle(time.Now())
		if swept > 0 {
			s.log.Debug("idle connections swept", zap.Int("count", swept))
		}
		for _, info := range s.breakers.Snapshot() {
			s.metrics.SetBreakerState(info.Name, int(info.State))
		}
	}); err != nil {
		return fmt.Errorf("schedule pool sweep: %w", err)
	}

	if _, err := jobs.AddFunc(s.cfg.Janitor.SessionReap, func() {
		reaped := s.manager.ReapIdle(time.Now())
		if reaped > 0 {
			s.log.Info("idle sessions reaped", zap.Int("count", reaped))
		}
		s.limiter.Sweep(10 * time.Minute)
	}); err != nil {
		return fmt.Errorf("schedule session reap: %w", err)
	}

	s.jobs = jobs
	return nil
}
