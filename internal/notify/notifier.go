// Package notify delivers down alerts through email, webhook and Kafka
// channels.
package notify

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"sync"
	"time"

	"github.com/1broseidon/beacon/internal/config"
	"github.com/1broseidon/beacon/internal/logging"
	"github.com/1broseidon/beacon/internal/metrics"
	"github.com/1broseidon/beacon/internal/retry"
	"github.com/1broseidon/beacon/pkg/models"
)

// Alert is the channel-independent content of one down notification
type Alert struct {
	MonitorID   int64
	MonitorName string
	Kind        models.MonitorKind
	Target      string
	Status      models.Status
	Details     string
	LatencyMS   *float64
	Timestamp   time.Time

	Subject string
	Body    string

	// Recipients are extra email addresses attached to the monitor.
	Recipients []string
}

// NewAlert builds the alert for a down result of m.
func NewAlert(m *models.Monitor, r *models.CheckResult) Alert {
	var body strings.Builder
	fmt.Fprintf(&body, "Time: %s\n", r.Timestamp.UTC().Format(time.RFC3339))
	fmt.Fprintf(&body, "Target: %s\n", m.Target)
	fmt.Fprintf(&body, "Type: %s\n", m.Kind)
	if r.Details != "" {
		fmt.Fprintf(&body, "Details: %s\n", r.Details)
	}

	alert := Alert{
		MonitorID:   m.ID,
		MonitorName: m.Name,
		Kind:        m.Kind,
		Target:      m.Target,
		Status:      r.Status,
		Details:     r.Details,
		LatencyMS:   r.LatencyMS,
		Timestamp:   r.Timestamp,
		Subject:     fmt.Sprintf("[Alert] %s is down", m.Name),
		Body:        body.String(),
	}
	if m.ContactEmail != "" {
		alert.Recipients = []string{m.ContactEmail}
	}
	return alert
}

// Channel delivers an alert through one transport
type Channel interface {
	Name() string
	Send(ctx context.Context, alert Alert) error
}

// Outcome is the delivery result of one channel
type Outcome struct {
	Channel  string
	Err      error
	Attempts int
}

// Notifier fans an alert out to every channel concurrently. A failing
// channel never affects the others.
type Notifier struct {
	channels []Channel
	policy   retry.Policy
	logger   *logging.Logger
	metrics  *metrics.Metrics
}

// DefaultPolicy gives every channel at most one retry.
var DefaultPolicy = retry.Policy{
	Attempts:  2,
	BaseDelay: 500 * time.Millisecond,
	MaxDelay:  2 * time.Second,
	Retryable: func(err error) bool {
		return !errors.Is(err, context.Canceled) && !errors.Is(err, context.DeadlineExceeded)
	},
}

// New creates a notifier over channels
func New(channels []Channel, policy retry.Policy, logger *logging.Logger, m *metrics.Metrics) *Notifier {
	return &Notifier{
		channels: channels,
		policy:   policy,
		logger:   logger.WithComponent(logging.ComponentNotify),
		metrics:  m,
	}
}

// FromConfig builds the enabled channels described by cfg.
func FromConfig(cfg config.NotificationConfig, logger *logging.Logger, m *metrics.Metrics) (*Notifier, error) {
	var channels []Channel

	if cfg.Email.Enabled {
		channels = append(channels, NewEmailChannel(cfg.Email, cfg.Timeout))
	}
	if cfg.Webhook.Enabled {
		wh, err := NewWebhookChannel(cfg.Webhook, cfg.Timeout)
		if err != nil {
			return nil, err
		}
		channels = append(channels, wh)
	}
	if cfg.Kafka.Enabled {
		channels = append(channels, NewKafkaChannel(cfg.Kafka.Brokers, cfg.Kafka.Topic))
	}

	n := New(channels, DefaultPolicy, logger, m)
	n.logger.WithFields(map[string]interface{}{
		"channels": n.Channels(),
	}).Info("Notification channels configured")
	return n, nil
}

// Channels returns the configured channel names
func (n *Notifier) Channels() []string {
	names := make([]string, 0, len(n.channels))
	for _, c := range n.channels {
		names = append(names, c.Name())
	}
	return names
}

// Notify sends the alert for a down result through every channel and
// returns one outcome per channel, in channel order.
func (n *Notifier) Notify(ctx context.Context, m *models.Monitor, r *models.CheckResult) []Outcome {
	alert := NewAlert(m, r)
	outcomes := make([]Outcome, len(n.channels))

	var wg sync.WaitGroup
	for i, c := range n.channels {
		wg.Add(1)
		go func(i int, c Channel) {
			defer wg.Done()
			outcomes[i] = n.deliver(ctx, c, alert)
		}(i, c)
	}
	wg.Wait()
	return outcomes
}

func (n *Notifier) deliver(ctx context.Context, c Channel, alert Alert) (out Outcome) {
	out.Channel = c.Name()
	defer func() {
		if r := recover(); r != nil {
			out.Err = fmt.Errorf("channel panic: %v", r)
		}
		n.metrics.RecordNotification(out.Channel, out.Err == nil)
		event := logging.EventAlertSent
		if out.Err != nil {
			event = logging.EventAlertFailed
		}
		n.logger.AlertEvent(event, alert.MonitorID, out.Channel, out.Attempts, out.Err)
	}()

	out.Err = n.policy.Do(ctx, func(ctx context.Context) error {
		out.Attempts++
		return c.Send(ctx, alert)
	})
	return out
}

// Close releases channels that hold connections.
func (n *Notifier) Close() error {
	var errs []error
	for _, c := range n.channels {
		if closer, ok := c.(io.Closer); ok {
			if err := closer.Close(); err != nil {
				errs = append(errs, fmt.Errorf("%s: %w", c.Name(), err))
			}
		}
	}
	return errors.Join(errs...)
}
