package sshpool

import (
	"context"
	"errors"
	"net"
	"sort"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/crypto/ssh"
	"golang.org/x/sync/semaphore"

	"github.com/GriffinCanCode/TermGate/internal/infrastructure/config"
	"github.com/GriffinCanCode/TermGate/internal/infrastructure/logging"
	"github.com/GriffinCanCode/TermGate/internal/infrastructure/monitoring"
	"github.com/GriffinCanCode/TermGate/internal/infrastructure/resilience"
	"github.com/GriffinCanCode/TermGate/internal/shared/errs"
	"github.com/GriffinCanCode/TermGate/internal/target"
)

// Wait policies for Acquire when a target is at its connection cap.
const (
	WaitPolicyWait = "wait"
	WaitPolicyFail = "fail"
)

const dialBackoff = 250 * time.Millisecond

// Options configures a Pool.
type Options struct {
	Config     config.PoolConfig
	KnownHosts string
	Logger     *logging.Logger
	Metrics    *monitoring.Metrics
	Breakers   *resilience.Registry
}

// Pool manages SSH connections grouped by target key.
type Pool struct {
	cfg        config.PoolConfig
	knownHosts string
	log        *logging.Logger
	metrics    *monitoring.Metrics
	breakers   *resilience.Registry
	global     *semaphore.Weighted

	mu      sync.Mutex
	entries map[string]*entry

	closed atomic.Bool
}

// entry tracks the connections for one target.
type entry struct {
	key    string
	target target.Target
	sem    *semaphore.Weighted

	mu     sync.Mutex
	idle   []*Conn
	inUse  int
	warmed bool
}

// TargetStats is a point-in-time view of one target's pool state.
type TargetStats struct {
	Target  string `json:"target"`
	Idle    int    `json:"idle"`
	InUse   int    `json:"in_use"`
	Breaker string `json:"breaker"`
}

// New creates a Pool.
func New(opts Options) *Pool {
	cfg := opts.Config
	if cfg.MaxPerTarget <= 0 {
		cfg.MaxPerTarget = 1
	}
	log := opts.Logger
	if log == nil {
		log = logging.NewNop()
	}
	breakers := opts.Breakers
	if breakers == nil {
		breakers = resilience.NewRegistry(resilience.Settings{})
	}
	p := &Pool{
		cfg:        cfg,
		knownHosts: opts.KnownHosts,
		log:        log.Named("sshpool"),
		metrics:    opts.Metrics,
		breakers:   breakers,
		entries:    make(map[string]*entry),
	}
	if cfg.MaxTotal > 0 {
		p.global = semaphore.NewWeighted(int64(cfg.MaxTotal))
	}
	return p
}

// Acquire borrows a connection for the target, dialing a fresh one when
// no validated idle connection exists. It fails fast with a circuit_open
// error when the target's breaker is open, and with pool_exhausted when
// the target is at capacity and the wait policy or timeout forbids
// waiting longer.
func (p *Pool) Acquire(ctx context.Context, tgt target.Target, creds target.Credentials) (*Conn, error) {
	if p.closed.Load() {
		return nil, errs.New(errs.KindInternal, "ssh pool is closed")
	}
	key := tgt.Key()
	if p.breakers.State(key) == resilience.StateOpen {
		return nil, errs.CircuitOpen(key)
	}

	ent := p.entry(key, tgt)
	p.maybeWarm(ent, creds)

	start := time.Now()
	release, err := p.reserve(ctx, ent)
	if err != nil {
		return nil, err
	}
	p.observeWait(key, time.Since(start))

	if conn := p.takeIdle(ent, release); conn != nil {
		return conn, nil
	}

	client, err := p.dial(ctx, key, ent.target, creds)
	if err != nil {
		release()
		return nil, err
	}
	return p.adopt(ent, client, release), nil
}

// Release returns a borrowed connection. Healthy connections go back on
// the idle list; unhealthy ones are closed. Releasing the same borrow
// twice is a no-op.
func (p *Pool) Release(conn *Conn, healthy bool) {
	if conn == nil {
		return
	}
	conn.mu.Lock()
	if conn.released {
		conn.mu.Unlock()
		return
	}
	conn.released = true
	conn.lastUsed = time.Now()
	reserve := conn.reserve
	conn.reserve = nil
	conn.mu.Unlock()

	ent := conn.entry
	keep := healthy && !conn.Dead() && !p.closed.Load()
	ent.mu.Lock()
	ent.inUse--
	if keep {
		ent.idle = append(ent.idle, conn)
	}
	idle, inUse := len(ent.idle), ent.inUse
	ent.mu.Unlock()

	if !keep {
		conn.close()
	}
	// Free the slot after parking so an unparked waiter finds the idle
	// connection instead of dialing a duplicate.
	if reserve != nil {
		reserve()
	}
	p.setGauges(ent.key, idle, inUse)
}

// SweepIdle closes idle connections that are dead or have been parked
// longer than the configured idle timeout. It returns the number of
// connections evicted.
func (p *Pool) SweepIdle(now time.Time) int {
	evicted := 0
	for _, ent := range p.snapshot() {
		var stale []*Conn
		ent.mu.Lock()
		kept := ent.idle[:0]
		for _, c := range ent.idle {
			if c.Dead() || p.expired(c, now) {
				stale = append(stale, c)
			} else {
				kept = append(kept, c)
			}
		}
		ent.idle = kept
		idle, inUse := len(ent.idle), ent.inUse
		ent.mu.Unlock()

		for _, c := range stale {
			c.close()
		}
		if len(stale) > 0 {
			evicted += len(stale)
			p.log.Debug("evicted idle ssh connections",
				zap.String("target", ent.key),
				zap.Int("count", len(stale)))
		}
		p.setGauges(ent.key, idle, inUse)
	}
	return evicted
}

// Stats reports idle and in-use counts plus breaker state per target,
// sorted by target key.
func (p *Pool) Stats() []TargetStats {
	entries := p.snapshot()
	stats := make([]TargetStats, 0, len(entries))
	for _, ent := range entries {
		ent.mu.Lock()
		s := TargetStats{
			Target: ent.key,
			Idle:   len(ent.idle),
			InUse:  ent.inUse,
		}
		ent.mu.Unlock()
		s.Breaker = p.breakers.State(ent.key).String()
		stats = append(stats, s)
	}
	sort.Slice(stats, func(i, j int) bool { return stats[i].Target < stats[j].Target })
	return stats
}

// Close discards every idle connection and marks the pool closed.
// Connections still borrowed are closed when released.
func (p *Pool) Close() {
	if !p.closed.CompareAndSwap(false, true) {
		return
	}
	p.mu.Lock()
	entries := p.entries
	p.entries = make(map[string]*entry)
	p.mu.Unlock()

	for _, ent := range entries {
		ent.mu.Lock()
		idle := ent.idle
		ent.idle = nil
		ent.mu.Unlock()
		for _, c := range idle {
			c.close()
		}
		p.setGauges(ent.key, 0, 0)
	}
	p.log.Info("ssh pool closed")
}

func (p *Pool) entry(key string, tgt target.Target) *entry {
	p.mu.Lock()
	defer p.mu.Unlock()
	if ent, ok := p.entries[key]; ok {
		return ent
	}
	ent := &entry{
		key:    key,
		target: tgt,
		sem:    semaphore.NewWeighted(int64(p.cfg.MaxPerTarget)),
	}
	p.entries[key] = ent
	return ent
}

func (p *Pool) snapshot() []*entry {
	p.mu.Lock()
	defer p.mu.Unlock()
	entries := make([]*entry, 0, len(p.entries))
	for _, ent := range p.entries {
		entries = append(entries, ent)
	}
	return entries
}

// reserve claims a borrow slot for the entry, honoring the wait policy,
// the acquire timeout, and the optional global cap. The returned func
// frees the slot and must be called exactly once.
func (p *Pool) reserve(ctx context.Context, ent *entry) (func(), error) {
	if p.cfg.WaitPolicy == WaitPolicyFail {
		if !ent.sem.TryAcquire(1) {
			return nil, errs.PoolExhausted(ent.key)
		}
		if p.global != nil && !p.global.TryAcquire(1) {
			ent.sem.Release(1)
			return nil, errs.PoolExhausted(ent.key)
		}
	} else {
		waitCtx, cancel := context.WithTimeout(ctx, p.cfg.AcquireTimeout)
		defer cancel()
		if err := ent.sem.Acquire(waitCtx, 1); err != nil {
			return nil, p.reserveErr(ctx, ent.key)
		}
		if p.global != nil {
			if err := p.global.Acquire(waitCtx, 1); err != nil {
				ent.sem.Release(1)
				return nil, p.reserveErr(ctx, ent.key)
			}
		}
	}
	return func() {
		ent.sem.Release(1)
		if p.global != nil {
			p.global.Release(1)
		}
	}, nil
}

func (p *Pool) reserveErr(ctx context.Context, key string) error {
	if err := ctx.Err(); err != nil {
		return errs.Wrap(errs.KindInternal, "acquire cancelled", err)
	}
	return errs.PoolExhausted(key)
}

// takeIdle pops idle connections until it finds one that is alive, not
// expired, and answers a keepalive. Stale connections are discarded.
func (p *Pool) takeIdle(ent *entry, release func()) *Conn {
	now := time.Now()
	for {
		ent.mu.Lock()
		n := len(ent.idle)
		if n == 0 {
			ent.mu.Unlock()
			return nil
		}
		conn := ent.idle[n-1]
		ent.idle = ent.idle[:n-1]
		ent.mu.Unlock()

		if conn.Dead() || p.expired(conn, now) || conn.ping() != nil {
			conn.close()
			p.log.Debug("discarded stale idle ssh connection",
				zap.String("target", ent.key),
				zap.String("conn_id", conn.ID()))
			continue
		}

		conn.mu.Lock()
		conn.released = false
		conn.reserve = release
		conn.mu.Unlock()

		ent.mu.Lock()
		ent.inUse++
		idle, inUse := len(ent.idle), ent.inUse
		ent.mu.Unlock()
		p.setGauges(ent.key, idle, inUse)
		return conn
	}
}

// adopt wraps a freshly dialed client in a Conn and registers it as
// borrowed.
func (p *Pool) adopt(ent *entry, client *ssh.Client, release func()) *Conn {
	conn := &Conn{
		id:      uuid.NewString(),
		entry:   ent,
		client:  client,
		target:  ent.target,
		created: time.Now(),
		reserve: release,
	}
	if p.cfg.KeepaliveInterval > 0 {
		ctx, cancel := context.WithCancel(context.Background())
		conn.cancel = cancel
		go conn.keepalive(ctx, p.cfg.KeepaliveInterval)
	}

	ent.mu.Lock()
	ent.inUse++
	idle, inUse := len(ent.idle), ent.inUse
	ent.mu.Unlock()
	p.setGauges(ent.key, idle, inUse)

	p.log.Debug("ssh connection established",
		zap.String("target", ent.key),
		zap.String("conn_id", conn.ID()))
	return conn
}

// dial establishes an SSH client, retrying transient failures with a
// linear backoff while the breaker permits. Every attempt is recorded
// as a breaker outcome.
func (p *Pool) dial(ctx context.Context, key string, tgt target.Target, creds target.Credentials) (*ssh.Client, error) {
	clientCfg, err := target.ClientConfig(tgt, creds, p.knownHosts, p.cfg.ConnectTimeout)
	if err != nil {
		return nil, errs.AuthFailed(key, err)
	}

	var lastErr error
	for attempt := 0; attempt <= p.cfg.DialRetries; attempt++ {
		if attempt > 0 {
			select {
			case <-ctx.Done():
				return nil, classifyDial(key, lastErr)
			case <-time.After(time.Duration(attempt) * dialBackoff):
			}
		}

		res, err := p.breakers.Do(key, func() (interface{}, error) {
			return p.dialOnce(ctx, tgt, clientCfg)
		})
		if err == nil {
			p.recordDial(key, "success")
			return res.(*ssh.Client), nil
		}
		if errors.Is(err, resilience.ErrCircuitOpen) || errors.Is(err, resilience.ErrTooManyRequests) {
			p.recordDial(key, "rejected")
			return nil, errs.CircuitOpen(key)
		}

		lastErr = err
		p.recordDial(key, "failure")
		p.log.Warn("ssh dial failed",
			zap.String("target", key),
			zap.Int("attempt", attempt+1),
			zap.Error(err))
		if isAuthErr(err) || ctx.Err() != nil {
			break
		}
	}
	return nil, classifyDial(key, lastErr)
}

// dialOnce performs a single TCP dial plus SSH handshake bounded by the
// connect timeout.
func (p *Pool) dialOnce(ctx context.Context, tgt target.Target, cfg *ssh.ClientConfig) (*ssh.Client, error) {
	dialCtx, cancel := context.WithTimeout(ctx, p.cfg.ConnectTimeout)
	defer cancel()

	dialer := net.Dialer{Timeout: p.cfg.ConnectTimeout}
	netConn, err := dialer.DialContext(dialCtx, "tcp", tgt.Addr())
	if err != nil {
		return nil, err
	}
	sshConn, chans, reqs, err := ssh.NewClientConn(netConn, tgt.Addr(), cfg)
	if err != nil {
		netConn.Close()
		return nil, err
	}
	return ssh.NewClient(sshConn, chans, reqs), nil
}

// maybeWarm spawns a one-time background fill toward the configured
// minimum idle count for the entry's target.
func (p *Pool) maybeWarm(ent *entry, creds target.Credentials) {
	if p.cfg.MinIdlePerTarget <= 0 {
		return
	}
	ent.mu.Lock()
	if ent.warmed {
		ent.mu.Unlock()
		return
	}
	ent.warmed = true
	ent.mu.Unlock()
	go p.warm(ent, creds)
}

func (p *Pool) warm(ent *entry, creds target.Credentials) {
	for {
		if p.closed.Load() {
			return
		}
		ent.mu.Lock()
		live := len(ent.idle) + ent.inUse
		ent.mu.Unlock()
		if live >= p.cfg.MinIdlePerTarget {
			return
		}

		release, err := p.reserve(context.Background(), ent)
		if err != nil {
			return
		}
		client, err := p.dial(context.Background(), ent.key, ent.target, creds)
		if err != nil {
			release()
			p.log.Warn("pool warmup dial failed",
				zap.String("target", ent.key),
				zap.Error(err))
			return
		}
		p.Release(p.adopt(ent, client, release), true)
	}
}

func (p *Pool) expired(c *Conn, now time.Time) bool {
	return p.cfg.IdleTimeout > 0 && now.Sub(c.LastUsed()) > p.cfg.IdleTimeout
}

func (p *Pool) recordDial(key, outcome string) {
	if p.metrics != nil {
		p.metrics.RecordPoolDial(key, outcome)
	}
}

func (p *Pool) observeWait(key string, d time.Duration) {
	if p.metrics != nil {
		p.metrics.ObservePoolWait(key, d)
	}
}

func (p *Pool) setGauges(key string, idle, inUse int) {
	if p.metrics != nil {
		p.metrics.SetPoolGauges(key, idle, inUse)
	}
}

// classifyDial maps a raw dial error onto the service error taxonomy.
func classifyDial(key string, err error) error {
	if err == nil {
		return errs.Newf(errs.KindInternal, "dial %s failed", key)
	}
	var serviceErr *errs.Error
	if errors.As(err, &serviceErr) {
		return err
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return errs.ConnectTimeout(key, err)
	}
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return errs.ConnectTimeout(key, err)
	}
	if isAuthErr(err) {
		return errs.AuthFailed(key, err)
	}
	return errs.IO("dial "+key, err)
}

// isAuthErr detects authentication and host key rejections, which are
// not worth retrying with the same credentials.
func isAuthErr(err error) bool {
	if err == nil {
		return false
	}
	msg := err.Error()
	return strings.Contains(msg, "unable to authenticate") ||
		strings.Contains(msg, "no supported methods remain") ||
		strings.Contains(msg, "knownhosts:")
}
