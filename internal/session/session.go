package session

import (
	"sync"
	"time"

	"github.com/GriffinCanCode/TermGate/internal/sshpool"
	"github.com/GriffinCanCode/TermGate/internal/stream"
	"github.com/GriffinCanCode/TermGate/internal/target"
)

// Kind distinguishes local PTY sessions from remote SSH sessions.
type Kind string

const (
	KindLocal  Kind = "local"
	KindRemote Kind = "remote"
)

// State is the lifecycle state of a session.
type State string

const (
	// StatePending means the session exists but its shell has not
	// started yet (remote sessions before the first attach).
	StatePending State = "pending"
	// StateRunning means the shell is live.
	StateRunning State = "running"
	// StateClosed means the session has ended; the record lingers
	// until reaped.
	StateClosed State = "closed"
)

// Close reasons reported in closed events.
const (
	ReasonExit          = "exit"
	ReasonError         = "error"
	ReasonClosedByUser  = "closed_by_client"
	ReasonDisconnect    = "channel_disconnect"
	ReasonIdle          = "idle_timeout"
	ReasonShutdown      = "shutdown"
	ReasonConnectFailed = "connect_failed"
)

// Maximum terminal dimension accepted by Resize.
const maxDimension = 500

// CreateRequest describes a session to create. For remote sessions the
// target must already be resolved and normalized.
type CreateRequest struct {
	Kind    Kind
	Shell   string
	Workdir string
	Env     map[string]string
	Cols    uint16
	Rows    uint16
	Target  *target.Target
	Creds   target.Credentials
}

// Info is the externally visible snapshot of a session.
type Info struct {
	ID          string    `json:"id"`
	Kind        Kind      `json:"kind"`
	State       State     `json:"state"`
	Shell       string    `json:"shell,omitempty"`
	Workdir     string    `json:"workdir,omitempty"`
	Target      string    `json:"target,omitempty"`
	Cols        uint16    `json:"cols"`
	Rows        uint16    `json:"rows"`
	Attached    bool      `json:"attached"`
	CreatedAt   time.Time `json:"created_at"`
	LastActive  time.Time `json:"last_active"`
	RecordingID string    `json:"recording_id,omitempty"`
	ExitCode    *int      `json:"exit_code,omitempty"`
	Reason      string    `json:"reason,omitempty"`
}

// Session is one terminal session. All mutable state is guarded by mu;
// run and conn are written once before the I/O goroutines start.
type Session struct {
	id        string
	kind      Kind
	shell     string
	workdir   string
	env       map[string]string
	term      string
	tgt       *target.Target
	creds     target.Credentials
	createdAt time.Time
	recID     string

	buf     *stream.Buffer
	history *stream.Buffer
	rec     *recorder

	startMu  sync.Mutex
	readDone chan struct{}

	mu          sync.Mutex
	state       State
	owner       string
	cols        uint16
	rows        uint16
	lastActive  time.Time
	run         runner
	conn        *sshpool.Conn
	exitCode    *int
	reason      string
	emitStarted bool

	emitDone  chan struct{}
	closeOnce sync.Once
}

// Owner returns the channel currently bound to the session, or "".
func (s *Session) Owner() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.owner
}

// State returns the session's lifecycle state.
func (s *Session) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// LastActive returns the time of the last input, output, or attach.
func (s *Session) LastActive() time.Time {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lastActive
}

func (s *Session) touch() {
	s.mu.Lock()
	s.lastActive = time.Now()
	s.mu.Unlock()
}

// replayTail returns the most recently emitted output for attach replay.
// Caller holds s.mu.
func (s *Session) replayTail(max int) []byte {
	if s.history == nil {
		return nil
	}
	return s.history.Tail(max)
}

// infoLocked snapshots the session. Caller holds s.mu.
func (s *Session) infoLocked() *Info {
	info := &Info{
		ID:          s.id,
		Kind:        s.kind,
		State:       s.state,
		Shell:       s.shell,
		Workdir:     s.workdir,
		Cols:        s.cols,
		Rows:        s.rows,
		Attached:    s.owner != "",
		CreatedAt:   s.createdAt,
		LastActive:  s.lastActive,
		RecordingID: s.recID,
		ExitCode:    s.exitCode,
		Reason:      s.reason,
	}
	if s.tgt != nil {
		info.Target = s.tgt.Key()
	}
	return info
}

// Info snapshots the session.
func (s *Session) Info() *Info {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.infoLocked()
}
