package notifier

import (
	"sync"
	"time"
)

// AlertKind identifies what happened.
type AlertKind string

const (
	AlertKindDegraded     AlertKind = "degraded"      // push lost, dashboard fell back to polling
	AlertKindRecovered    AlertKind = "recovered"     // push is live again
	AlertKindActionFailed AlertKind = "action_failed" // an operator action was rejected or errored
	AlertKindStartup      AlertKind = "startup"
)

// Severity drives color and emoji in the rendered alert.
type Severity string

const (
	SeverityInfo    Severity = "info"
	SeveritySuccess Severity = "success"
	SeverityWarning Severity = "warning"
	SeverityDanger  Severity = "danger"
)

// Field is one labelled value shown under the alert description.
type Field struct {
	Name  string
	Value string
}

// OpsAlert is an operational notification about the dashboard itself.
type OpsAlert struct {
	Kind        AlertKind
	Severity    Severity
	Title       string
	Description string
	Fields      []Field
	Timestamp   time.Time
}

// Notifier is the interface for sending ops alerts to various channels.
type Notifier interface {
	// SendOpsAlert delivers the alert. Failures are logged, not returned.
	SendOpsAlert(alert OpsAlert)

	// Close cleans up any resources.
	Close() error
}

// MultiNotifier broadcasts alerts to multiple notifiers.
type MultiNotifier struct {
	notifiers []Notifier
}

// NewMultiNotifier creates a new MultiNotifier with the given notifiers.
func NewMultiNotifier(notifiers ...Notifier) *MultiNotifier {
	var active []Notifier
	for _, n := range notifiers {
		if n != nil {
			active = append(active, n)
		}
	}
	return &MultiNotifier{notifiers: active}
}

// SendOpsAlert sends the alert to all registered notifiers.
func (m *MultiNotifier) SendOpsAlert(alert OpsAlert) {
	if alert.Timestamp.IsZero() {
		alert.Timestamp = time.Now()
	}
	for _, n := range m.notifiers {
		n.SendOpsAlert(alert)
	}
}

// Close closes all registered notifiers.
func (m *MultiNotifier) Close() error {
	var lastErr error
	for _, n := range m.notifiers {
		if err := n.Close(); err != nil {
			lastErr = err
		}
	}
	return lastErr
}

// Count returns the number of active notifiers.
func (m *MultiNotifier) Count() int {
	return len(m.notifiers)
}

// Throttled drops alerts of a kind seen less than Cooldown ago, so a
// flapping connection does not flood the channel.
type Throttled struct {
	next     Notifier
	cooldown time.Duration
	now      func() time.Time

	mu   sync.Mutex
	last map[AlertKind]time.Time
}

// NewThrottled wraps next. A non-positive cooldown disables throttling.
func NewThrottled(next Notifier, cooldown time.Duration) *Throttled {
	return &Throttled{
		next:     next,
		cooldown: cooldown,
		now:      time.Now,
		last:     make(map[AlertKind]time.Time),
	}
}

func (t *Throttled) SendOpsAlert(alert OpsAlert) {
	if t.cooldown > 0 {
		now := t.now()
		t.mu.Lock()
		prev, seen := t.last[alert.Kind]
		if seen && now.Sub(prev) < t.cooldown {
			t.mu.Unlock()
			return
		}
		t.last[alert.Kind] = now
		t.mu.Unlock()
	}
	t.next.SendOpsAlert(alert)
}

func (t *Throttled) Close() error {
	return t.next.Close()
}
