package session

import (
	"context"
	"errors"
	"io"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"github.com/GriffinCanCode/TermGate/internal/infrastructure/config"
	"github.com/GriffinCanCode/TermGate/internal/infrastructure/logging"
	"github.com/GriffinCanCode/TermGate/internal/infrastructure/monitoring"
	"github.com/GriffinCanCode/TermGate/internal/shared/errs"
	"github.com/GriffinCanCode/TermGate/internal/shared/id"
	"github.com/GriffinCanCode/TermGate/internal/sshpool"
	"github.com/GriffinCanCode/TermGate/internal/stream"
)

const eventStreamDepth = 1024

// Options configures a Manager.
type Options struct {
	Config    config.SessionConfig
	Recording config.RecordingConfig
	Pool      *sshpool.Pool
	Logger    *logging.Logger
	Metrics   *monitoring.Metrics
}

// Manager owns every session and publishes their events on one stream.
// The consumer must drain Events() until it is closed by Shutdown.
type Manager struct {
	cfg     config.SessionConfig
	recCfg  config.RecordingConfig
	policy  stream.Policy
	pool    *sshpool.Pool
	log     *logging.Logger
	metrics *monitoring.Metrics

	sessions sync.Map // id → *Session
	active   atomic.Int64
	events   chan Event
	wg       sync.WaitGroup

	// drainMu orders session registration against Shutdown: wg.Add and
	// Store happen under the read side, Shutdown flips draining under
	// the write side, so no session can slip past the shutdown sweep.
	drainMu  sync.RWMutex
	draining bool
	shutOnce sync.Once
}

// NewManager creates a Manager.
func NewManager(opts Options) *Manager {
	log := opts.Logger
	if log == nil {
		log = logging.NewNop()
	}
	policy, err := stream.ParsePolicy(opts.Config.BufferPolicy)
	if err != nil {
		policy = stream.DropOldest
	}
	return &Manager{
		cfg:     opts.Config,
		recCfg:  opts.Recording,
		policy:  policy,
		pool:    opts.Pool,
		log:     log.Named("session"),
		metrics: opts.Metrics,
		events:  make(chan Event, eventStreamDepth),
	}
}

// Events returns the manager-wide event stream. It is closed by
// Shutdown after the last session's closed event.
func (m *Manager) Events() <-chan Event {
	return m.events
}

// Create registers a new session. Local sessions start their shell
// immediately; remote sessions record the resolved target and defer the
// pool borrow to the first attach.
func (m *Manager) Create(ctx context.Context, req CreateRequest) (*Info, error) {
	switch req.Kind {
	case KindLocal:
	case KindRemote:
		if req.Target == nil {
			return nil, errs.Protocol("remote session requires a target")
		}
		if m.pool == nil {
			return nil, errs.New(errs.KindInternal, "remote sessions are not configured")
		}
	default:
		return nil, errs.Newf(errs.KindProtocol, "unknown session kind %q", req.Kind)
	}
	if err := m.reserveSlot(); err != nil {
		return nil, err
	}

	cols, rows := req.Cols, req.Rows
	if cols == 0 {
		cols = m.cfg.Cols
	}
	if rows == 0 {
		rows = m.cfg.Rows
	}
	shell := req.Shell
	if shell == "" && req.Kind == KindLocal {
		shell = m.cfg.Shell
	}

	s := &Session{
		id:         string(id.NewSessionID()),
		kind:       req.Kind,
		shell:      shell,
		workdir:    req.Workdir,
		env:        req.Env,
		term:       m.cfg.Term,
		tgt:        req.Target,
		creds:      req.Creds,
		createdAt:  time.Now(),
		buf:        stream.New(m.cfg.BufferMaxBytes, m.policy),
		state:      StatePending,
		cols:       cols,
		rows:       rows,
		lastActive: time.Now(),
		emitDone:   make(chan struct{}),
	}
	if m.cfg.ReplayBytes > 0 {
		s.history = stream.New(m.cfg.ReplayBytes, stream.DropOldest)
	}
	if m.recCfg.Dir != "" {
		rec, err := newRecorder(m.recCfg.Dir, m.recCfg.Level, s.term, cols, rows, m.log)
		if err != nil {
			m.active.Add(-1)
			return nil, errs.IO("open session recording", err)
		}
		s.rec = rec
		s.recID = rec.id
	}

	if req.Kind == KindLocal {
		run, err := startLocal(s.shell, s.workdir, s.env, s.term, cols, rows)
		if err != nil {
			if s.rec != nil {
				s.rec.close()
			}
			m.active.Add(-1)
			return nil, errs.IO("start local shell", err)
		}
		s.run = run
		s.state = StateRunning
		s.readDone = make(chan struct{})
	}

	if err := m.register(s); err != nil {
		if s.run != nil {
			s.run.stop()
			go s.run.wait()
		}
		if s.rec != nil {
			s.rec.close()
		}
		m.active.Add(-1)
		return nil, err
	}
	m.gaugeActive()
	if m.metrics != nil {
		m.metrics.IncSessionsTotal(string(req.Kind))
	}

	if req.Kind == KindLocal {
		go m.readLoop(s)
		go m.monitor(s)
	}

	m.log.Info("session created",
		zap.String("session_id", s.id),
		zap.String("kind", string(s.kind)),
		zap.String("target", targetKey(s)),
		zap.Uint16("cols", cols),
		zap.Uint16("rows", rows))
	return s.Info(), nil
}

// Write sends input to a session's shell.
func (m *Manager) Write(sessionID string, data []byte) error {
	s, ok := m.load(sessionID)
	if !ok {
		return errs.SessionNotFound(sessionID)
	}
	s.mu.Lock()
	if s.state == StateClosed {
		s.mu.Unlock()
		return errs.SessionClosed(sessionID)
	}
	run := s.run
	s.mu.Unlock()
	if run == nil {
		return errs.Protocol("session has no shell yet; attach first")
	}

	if s.rec != nil {
		s.rec.record("i", data)
	}
	if _, err := run.write(data); err != nil {
		return errs.IO("write input", err)
	}
	s.touch()
	if m.metrics != nil {
		m.metrics.AddSessionBytesIn(len(data))
	}
	return nil
}

// Resize changes the terminal dimensions. Unknown and closed sessions
// are silent no-ops: close races resize, and making the race visible
// would punish well-behaved clients.
func (m *Manager) Resize(sessionID string, cols, rows uint16) error {
	if cols == 0 || rows == 0 || cols > maxDimension || rows > maxDimension {
		return errs.Newf(errs.KindProtocol, "invalid dimensions %dx%d", cols, rows)
	}
	s, ok := m.load(sessionID)
	if !ok {
		return nil
	}
	s.mu.Lock()
	if s.state != StateRunning {
		s.mu.Unlock()
		return nil
	}
	run := s.run
	s.cols, s.rows = cols, rows
	s.mu.Unlock()

	if err := run.resize(cols, rows); err != nil {
		return errs.IO("resize", err)
	}
	s.touch()
	return nil
}

// Attach binds the session to a channel, starting the remote shell on
// first attach. The replay tail and the connected notification are
// delivered through the event stream (EventAttached) so they cannot
// race newer output. A second attach takes the session over from the
// previous channel.
func (m *Manager) Attach(ctx context.Context, sessionID, owner string) (*Info, error) {
	s, ok := m.load(sessionID)
	if !ok {
		return nil, errs.SessionNotFound(sessionID)
	}
	if s.State() == StateClosed {
		return nil, errs.SessionClosed(sessionID)
	}
	if s.kind == KindRemote {
		if err := m.ensureStarted(ctx, s); err != nil {
			return nil, err
		}
	}

	s.mu.Lock()
	if s.state == StateClosed {
		s.mu.Unlock()
		return nil, errs.SessionClosed(sessionID)
	}
	prev := s.owner
	s.owner = owner
	s.lastActive = time.Now()
	if !s.emitStarted {
		s.emitStarted = true
		go m.emitLoop(s)
	}
	replay := s.replayTail(m.cfg.ReplayBytes)
	m.publish(Event{Type: EventAttached, SessionID: s.id, Owner: owner, Data: replay})
	info := s.infoLocked()
	s.mu.Unlock()

	m.log.Debug("session attached",
		zap.String("session_id", s.id),
		zap.String("owner", owner),
		zap.String("previous_owner", prev))
	return info, nil
}

// Close ends a session. Closing an already closed session is a no-op.
func (m *Manager) Close(sessionID, reason string) error {
	s, ok := m.load(sessionID)
	if !ok {
		return errs.SessionNotFound(sessionID)
	}
	m.teardown(s, reason, nil, nil)
	return nil
}

// CloseOwned ends every session owned by the channel. It returns the
// number of sessions closed.
func (m *Manager) CloseOwned(owner, reason string) int {
	closed := 0
	m.sessions.Range(func(_, value interface{}) bool {
		s := value.(*Session)
		if s.Owner() == owner && s.State() != StateClosed {
			m.teardown(s, reason, nil, nil)
			closed++
		}
		return true
	})
	return closed
}

// Get returns a session snapshot.
func (m *Manager) Get(sessionID string) (*Info, error) {
	s, ok := m.load(sessionID)
	if !ok {
		return nil, errs.SessionNotFound(sessionID)
	}
	return s.Info(), nil
}

// List returns snapshots of all sessions ordered by creation time.
func (m *Manager) List() []*Info {
	var infos []*Info
	m.sessions.Range(func(_, value interface{}) bool {
		infos = append(infos, value.(*Session).Info())
		return true
	})
	sort.Slice(infos, func(i, j int) bool {
		if infos[i].CreatedAt.Equal(infos[j].CreatedAt) {
			return infos[i].ID < infos[j].ID
		}
		return infos[i].CreatedAt.Before(infos[j].CreatedAt)
	})
	return infos
}

// Counts returns the number of live and tracked sessions.
func (m *Manager) Counts() (live, tracked int) {
	m.sessions.Range(func(_, _ interface{}) bool {
		tracked++
		return true
	})
	return int(m.active.Load()), tracked
}

// ReapIdle closes sessions idle past the configured timeout and drops
// closed sessions that have lingered as long. It returns the number of
// sessions closed.
func (m *Manager) ReapIdle(now time.Time) int {
	if m.cfg.IdleTimeout <= 0 {
		return 0
	}
	cutoff := now.Add(-m.cfg.IdleTimeout)
	reaped := 0
	m.sessions.Range(func(key, value interface{}) bool {
		s := value.(*Session)
		if !s.LastActive().Before(cutoff) {
			return true
		}
		if s.State() == StateClosed {
			m.sessions.Delete(key)
			return true
		}
		m.log.Info("reaping idle session",
			zap.String("session_id", s.id),
			zap.Time("last_active", s.LastActive()))
		m.teardown(s, ReasonIdle, nil, nil)
		reaped++
		return true
	})
	return reaped
}

// Shutdown closes every session, waits for their final events, and then
// closes the event stream. A second call returns immediately.
func (m *Manager) Shutdown(ctx context.Context) error {
	var err error
	m.shutOnce.Do(func() {
		m.drainMu.Lock()
		m.draining = true
		m.drainMu.Unlock()
		m.sessions.Range(func(_, value interface{}) bool {
			m.teardown(value.(*Session), ReasonShutdown, nil, nil)
			return true
		})

		done := make(chan struct{})
		go func() {
			m.wg.Wait()
			close(done)
		}()
		select {
		case <-done:
			close(m.events)
			m.log.Info("session manager stopped")
		case <-ctx.Done():
			err = errs.Wrap(errs.KindInternal, "session manager shutdown timed out", ctx.Err())
			m.log.Warn("session manager shutdown timed out; event stream left open")
		}
	})
	return err
}

func (m *Manager) load(sessionID string) (*Session, bool) {
	value, ok := m.sessions.Load(sessionID)
	if !ok {
		return nil, false
	}
	return value.(*Session), true
}

// reserveSlot claims one unit of the session cap.
func (m *Manager) reserveSlot() error {
	m.drainMu.RLock()
	defer m.drainMu.RUnlock()
	if m.draining {
		return errs.New(errs.KindInternal, "session manager is shutting down")
	}
	if int(m.active.Add(1)) > m.cfg.MaxSessions {
		m.active.Add(-1)
		return errs.ResourceExhausted("session limit reached")
	}
	return nil
}

// register makes the session visible and accounts it for shutdown.
func (m *Manager) register(s *Session) error {
	m.drainMu.RLock()
	defer m.drainMu.RUnlock()
	if m.draining {
		return errs.New(errs.KindInternal, "session manager is shutting down")
	}
	m.wg.Add(1)
	m.sessions.Store(s.id, s)
	return nil
}

// ensureStarted lazily starts a remote session's shell on first attach.
// A failed start tears the session down.
func (m *Manager) ensureStarted(ctx context.Context, s *Session) error {
	s.startMu.Lock()
	defer s.startMu.Unlock()

	s.mu.Lock()
	switch {
	case s.state == StateClosed:
		s.mu.Unlock()
		return errs.SessionClosed(s.id)
	case s.run != nil:
		s.mu.Unlock()
		return nil
	}
	cols, rows := s.cols, s.rows
	s.mu.Unlock()

	run, err := startRemote(ctx, m.pool, *s.tgt, s.creds, s.shell, s.term, cols, rows)
	if err != nil {
		m.teardown(s, ReasonConnectFailed, nil, err)
		return err
	}

	s.mu.Lock()
	s.run = run
	s.conn = run.conn
	s.state = StateRunning
	s.readDone = make(chan struct{})
	s.mu.Unlock()

	go m.readLoop(s)
	go m.monitor(s)
	m.log.Info("remote shell started",
		zap.String("session_id", s.id),
		zap.String("target", targetKey(s)),
		zap.String("conn_id", run.conn.ID()))
	return nil
}

// readLoop drains shell output into the session buffer until the shell
// ends or the buffer closes.
func (m *Manager) readLoop(s *Session) {
	defer close(s.readDone)
	buf := make([]byte, 32*1024)
	for {
		n, err := s.run.read(buf)
		if n > 0 {
			if s.rec != nil {
				s.rec.record("o", buf[:n])
			}
			if aerr := s.buf.Append(context.Background(), buf[:n]); aerr != nil {
				return
			}
			s.touch()
		}
		if err != nil {
			if !errors.Is(err, io.EOF) {
				m.log.Debug("session output ended",
					zap.String("session_id", s.id),
					zap.Error(err))
			}
			return
		}
	}
}

// monitor waits for the shell to end, lets the read loop drain the last
// output, and tears the session down with the exit code.
func (m *Manager) monitor(s *Session) {
	code, err := s.run.wait()
	<-s.readDone
	reason := ReasonExit
	if err != nil {
		reason = ReasonError
	}
	m.teardown(s, reason, code, err)
}

// emitLoop publishes buffered output as ordered events and mirrors the
// emitted bytes into the replay history. It exits once the buffer is
// closed and fully drained.
func (m *Manager) emitLoop(s *Session) {
	defer close(s.emitDone)
	for {
		<-s.buf.Notify()
		for {
			data, truncated := s.buf.Drain()
			if len(data) == 0 {
				break
			}
			s.mu.Lock()
			owner := s.owner
			s.lastActive = time.Now()
			s.mu.Unlock()
			m.publish(Event{
				Type:      EventOutput,
				SessionID: s.id,
				Owner:     owner,
				Data:      data,
				Truncated: truncated,
			})
			if s.history != nil {
				s.history.Append(context.Background(), data)
			}
			if m.metrics != nil {
				m.metrics.AddSessionBytesOut(len(data))
				if truncated {
					m.metrics.IncBufferTruncations()
				}
			}
		}
		if s.buf.Closed() && s.buf.Len() == 0 {
			return
		}
	}
}

// teardown is the only exit path for a session. It is safe to call from
// any goroutine and runs at most once.
func (m *Manager) teardown(s *Session, reason string, exitCode *int, cause error) {
	s.closeOnce.Do(func() {
		s.mu.Lock()
		s.state = StateClosed
		s.reason = reason
		s.exitCode = exitCode
		owner := s.owner
		emitStarted := s.emitStarted
		run := s.run
		conn := s.conn
		s.lastActive = time.Now()
		s.mu.Unlock()

		if run != nil {
			run.stop()
		}
		s.buf.Close()
		if emitStarted {
			<-s.emitDone
		}

		if cause != nil {
			m.publish(Event{Type: EventError, SessionID: s.id, Owner: owner, Err: cause})
		}
		m.publish(Event{
			Type:      EventClosed,
			SessionID: s.id,
			Owner:     owner,
			Reason:    reason,
			ExitCode:  exitCode,
		})

		if conn != nil {
			m.pool.Release(conn, cause == nil)
		}
		if s.rec != nil {
			s.rec.close()
		}

		m.active.Add(-1)
		m.gaugeActive()
		m.wg.Done()

		fields := []zap.Field{
			zap.String("session_id", s.id),
			zap.String("reason", reason),
		}
		if exitCode != nil {
			fields = append(fields, zap.Int("exit_code", *exitCode))
		}
		if cause != nil {
			fields = append(fields, zap.Error(cause))
		}
		m.log.Info("session closed", fields...)
	})
}

// publish sends an event to the stream. All publishers finish before
// Shutdown closes the channel, so a send never hits a closed channel.
func (m *Manager) publish(ev Event) {
	m.events <- ev
}

func (m *Manager) gaugeActive() {
	if m.metrics != nil {
		m.metrics.SetSessionsActive(int(m.active.Load()))
	}
}

func targetKey(s *Session) string {
	if s.tgt == nil {
		return ""
	}
	return s.tgt.Key()
}
