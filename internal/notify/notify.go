package notify

import (
	"fmt"
	"io"
	"net/http"
	"sync"
	"time"

	"github.com/bytedance/sonic"
	"github.com/hashicorp/go-retryablehttp"
	"go.uber.org/zap"

	"github.com/GriffinCanCode/TermGate/internal/infrastructure/config"
	"github.com/GriffinCanCode/TermGate/internal/infrastructure/logging"
	"github.com/GriffinCanCode/TermGate/internal/infrastructure/monitoring"
)

// Event types posted to the webhook.
const (
	EventSessionClosed = "session.closed"
	EventCircuitOpened = "circuit.opened"
	EventCircuitClosed = "circuit.closed"
)

// Event is one lifecycle notification.
type Event struct {
	Type      string    `json:"type"`
	Time      time.Time `json:"time"`
	SessionID string    `json:"session_id,omitempty"`
	Reason    string    `json:"reason,omitempty"`
	ExitCode  *int      `json:"exit_code,omitempty"`
	Target    string    `json:"target,omitempty"`
	State     string    `json:"state,omitempty"`
}

// SessionClosedEvent builds a session.closed event.
func SessionClosedEvent(sessionID, reason string, exitCode *int) Event {
	return Event{
		Type:      EventSessionClosed,
		Time:      time.Now().UTC(),
		SessionID: sessionID,
		Reason:    reason,
		ExitCode:  exitCode,
	}
}

// CircuitEvent maps a breaker transition to a webhook event. Transitions
// to half-open are probes and produce no event.
func CircuitEvent(target, state string) (Event, bool) {
	switch state {
	case "open":
		return Event{Type: EventCircuitOpened, Time: time.Now().UTC(), Target: target, State: state}, true
	case "closed":
		return Event{Type: EventCircuitClosed, Time: time.Now().UTC(), Target: target, State: state}, true
	}
	return Event{}, false
}

// Options carries notifier dependencies.
type Options struct {
	Logger  *logging.Logger
	Metrics *monitoring.Metrics
}

// Notifier posts lifecycle events from a single worker. Publish is safe
// from any goroutine and never blocks.
type Notifier struct {
	cfg     config.WebhookConfig
	enabled bool
	client  *retryablehttp.Client
	log     *logging.Logger
	metrics *monitoring.Metrics

	queue chan Event
	stop  chan struct{}
	done  chan struct{}
	once  sync.Once
}

// New creates a Notifier. An empty URL disables delivery; the notifier
// still accepts Publish/Run/Close so callers need no guards.
func New(cfg config.WebhookConfig, opts Options) *Notifier {
	log := opts.Logger
	if log == nil {
		log = logging.NewNop()
	}

	client := retryablehttp.NewClient()
	client.RetryMax = cfg.RetryMax
	client.RetryWaitMin = 500 * time.Millisecond
	client.RetryWaitMax = 5 * time.Second
	client.HTTPClient.Timeout = cfg.Timeout
	client.Logger = nil

	queue := cfg.Queue
	if queue <= 0 {
		queue = 1
	}
	return &Notifier{
		cfg:     cfg,
		enabled: cfg.URL != "",
		client:  client,
		log:     log.Named("notify"),
		metrics: opts.Metrics,
		queue:   make(chan Event, queue),
		stop:    make(chan struct{}),
		done:    make(chan struct{}),
	}
}

// Enabled reports whether a webhook URL is configured.
func (n *Notifier) Enabled() bool {
	return n.enabled
}

// Publish queues an event for delivery. A full queue drops the event.
func (n *Notifier) Publish(ev Event) {
	if !n.enabled {
		return
	}
	select {
	case <-n.stop:
		return
	default:
	}
	select {
	case n.queue <- ev:
	default:
		n.log.Warn("webhook queue full, dropping event", zap.String("type", ev.Type))
	}
}

// Run drains the queue until Close. Call it from its own goroutine.
func (n *Notifier) Run() {
	defer close(n.done)
	if !n.enabled {
		<-n.stop
		return
	}
	for {
		select {
		case ev := <-n.queue:
			n.deliver(ev)
		case <-n.stop:
			// Flush whatever was queued before the stop.
			for {
				select {
				case ev := <-n.queue:
					n.deliver(ev)
				default:
					return
				}
			}
		}
	}
}

// Close stops the worker after flushing queued events. Safe to call
// more than once.
func (n *Notifier) Close() {
	n.once.Do(func() { close(n.stop) })
	<-n.done
}

func (n *Notifier) deliver(ev Event) {
	start := time.Now()
	status := "success"
	if err := n.post(ev); err != nil {
		status = "error"
		n.log.Warn("webhook delivery failed",
			zap.String("type", ev.Type),
			zap.Error(err),
		)
	}
	if n.metrics != nil {
		n.metrics.RecordOp("notify", ev.Type, status, time.Since(start))
	}
}

func (n *Notifier) post(ev Event) error {
	body, err := sonic.Marshal(ev)
	if err != nil {
		return err
	}
	req, err := retryablehttp.NewRequest(http.MethodPost, n.cfg.URL, body)
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := n.client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	io.Copy(io.Discard, resp.Body)

	if resp.StatusCode >= http.StatusMultipleChoices {
		return fmt.Errorf("webhook returned status %d", resp.StatusCode)
	}
	return nil
}
