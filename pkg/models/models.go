// Package models defines core data structures for monitors and check results
// shared across the application.
package models

import (
	"fmt"
	"net/mail"
	"net/url"
	"strings"
	"time"
	"unicode"
)

// MonitorKind is the kind of check a monitor performs
type MonitorKind string

const (
	KindPing MonitorKind = "ping"
	KindHTTP MonitorKind = "http"
	KindDNS  MonitorKind = "dns"
	KindTCP  MonitorKind = "tcp"
)

// AllKinds returns every supported monitor kind.
func AllKinds() []MonitorKind {
	return []MonitorKind{KindPing, KindHTTP, KindDNS, KindTCP}
}

// Valid reports whether k is one of the supported kinds.
func (k MonitorKind) Valid() bool {
	switch k {
	case KindPing, KindHTTP, KindDNS, KindTCP:
		return true
	}
	return false
}

// Status represents the outcome of a check
type Status string

const (
	StatusUp      Status = "up"
	StatusDown    Status = "down"
	StatusUnknown Status = "unknown"
)

// StatusFromBool maps the persisted boolean status onto Status.
func StatusFromBool(up bool) Status {
	if up {
		return StatusUp
	}
	return StatusDown
}

// MaxIntervalSeconds is the longest supported check interval, one day.
const MaxIntervalSeconds = 86400

// Monitor represents a single user-configured target
type Monitor struct {
	ID              int64       `yaml:"id,omitempty" json:"id"`
	OwnerID         int64       `yaml:"ownerId,omitempty" json:"owner_id"`
	Name            string      `yaml:"name" json:"name"`
	Kind            MonitorKind `yaml:"kind" json:"kind"`
	Target          string      `yaml:"target" json:"target"`
	Port            *int        `yaml:"port,omitempty" json:"port,omitempty"`
	Keyword         string      `yaml:"keyword,omitempty" json:"keyword,omitempty"`
	ContactEmail    string      `yaml:"contactEmail,omitempty" json:"contact_email,omitempty"`
	IntervalSeconds int         `yaml:"intervalSeconds" json:"interval_seconds"`
	Enabled         bool        `yaml:"enabled" json:"enabled"`
	LastStatus      bool        `yaml:"-" json:"last_status"`
	LastCheckedAt   *time.Time  `yaml:"-" json:"last_checked_at,omitempty"`
	CreatedAt       time.Time   `yaml:"-" json:"created_at"`
	UpdatedAt       time.Time   `yaml:"-" json:"updated_at"`
}

// Interval returns the check interval as a duration.
func (m *Monitor) Interval() time.Duration {
	return time.Duration(m.IntervalSeconds) * time.Second
}

// PortValue returns the configured port or 0.
func (m *Monitor) PortValue() int {
	if m.Port == nil {
		return 0
	}
	return *m.Port
}

// KnownStatus returns the persisted last status, or StatusUnknown when the
// monitor has never been checked.
func (m *Monitor) KnownStatus() Status {
	if m.LastCheckedAt == nil {
		return StatusUnknown
	}
	return StatusFromBool(m.LastStatus)
}

// Validate checks the invariants every monitor must satisfy before it can be
// stored or scheduled.
func (m *Monitor) Validate() error {
	if strings.TrimSpace(m.Name) == "" {
		return &ValidationError{Field: "name", Reason: "is required"}
	}
	if len(m.Name) > 100 {
		return &ValidationError{Field: "name", Reason: "must be at most 100 characters"}
	}
	if strings.IndexFunc(m.Name, unicode.IsControl) >= 0 {
		return &ValidationError{Field: "name", Reason: "must not contain control characters"}
	}
	if !m.Kind.Valid() {
		return &ValidationError{Field: "kind", Reason: fmt.Sprintf("unsupported monitor type %q", m.Kind)}
	}
	if strings.TrimSpace(m.Target) == "" {
		return &ValidationError{Field: "target", Reason: "is required"}
	}
	if m.IntervalSeconds <= 0 {
		return &ValidationError{Field: "intervalSeconds", Reason: "must be greater than zero"}
	}
	if m.IntervalSeconds > MaxIntervalSeconds {
		return &ValidationError{Field: "intervalSeconds", Reason: fmt.Sprintf("must be at most %d", MaxIntervalSeconds)}
	}

	switch m.Kind {
	case KindTCP:
		if m.Port == nil {
			return &ValidationError{Field: "port", Reason: "is required for tcp monitors"}
		}
	case KindPing, KindDNS:
		if m.Port != nil {
			return &ValidationError{Field: "port", Reason: fmt.Sprintf("is not supported for %s monitors", m.Kind)}
		}
	}
	if m.Port != nil && (*m.Port < 1 || *m.Port > 65535) {
		return &ValidationError{Field: "port", Reason: "must be between 1 and 65535"}
	}

	if m.Kind == KindHTTP {
		if _, err := url.Parse(m.Target); err != nil {
			return &ValidationError{Field: "target", Reason: "is not a valid URL", Err: err}
		}
	}
	if m.ContactEmail != "" {
		addr, err := mail.ParseAddress(m.ContactEmail)
		if err != nil || addr.Name != "" || addr.Address != m.ContactEmail {
			return &ValidationError{Field: "contactEmail", Reason: "is not an email address", Err: err}
		}
	}
	return nil
}

// CheckResult is the immutable record of one check execution
type CheckResult struct {
	ID        string    `json:"id"`
	MonitorID int64     `json:"monitor_id"`
	Timestamp time.Time `json:"timestamp"`
	Status    Status    `json:"status"`
	LatencyMS *float64  `json:"latency_ms"`
	Details   string    `json:"details,omitempty"`
}

// IsUp reports whether the result is an up result.
func (r *CheckResult) IsUp() bool {
	return r.Status == StatusUp
}

// Milliseconds converts d into the latency representation used by results.
func Milliseconds(d time.Duration) *float64 {
	ms := float64(d) / float64(time.Millisecond)
	return &ms
}
