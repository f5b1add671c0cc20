// Package notify delivers lifecycle events to an optional webhook.
//
// When WEBHOOK_URL is set, a single worker drains a bounded queue and
// POSTs JSON events with bounded retries and backoff. Publishing never
// blocks: a full queue drops the event with a warning. With no URL
// configured every operation is a no-op.
//
// Event Types:
//   - session.closed: a session ended (reason, exit code when known)
//   - circuit.opened: a target's breaker tripped open
//   - circuit.closed: a target's breaker recovered
//
// Example Usage:
//
//	notifier := notify.New(cfg.Webhook, notify.Options{Logger: logger})
//	go notifier.Run()
//	defer notifier.Close()
//
//	notifier.Publish(notify.SessionClosedEvent("sess_01J...", "exit", &code))
package notify
