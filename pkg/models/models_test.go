package models

import (
	"encoding/json"
	"errors"
	"strings"
	"testing"
	"time"
)

func intPtr(v int) *int { return &v }

func TestMonitorValidate(t *testing.T) {
	base := func() Monitor {
		return Monitor{Name: "api", Kind: KindHTTP, Target: "example.com", IntervalSeconds: 60, Enabled: true}
	}

	tests := []struct {
		name   string
		mutate func(m *Monitor)
		field  string
	}{
		{"valid http", func(m *Monitor) {}, ""},
		{"http with port", func(m *Monitor) { m.Port = intPtr(8080) }, ""},
		{"missing name", func(m *Monitor) { m.Name = " " }, "name"},
		{"unknown kind", func(m *Monitor) { m.Kind = "smtp" }, "kind"},
		{"missing target", func(m *Monitor) { m.Target = "" }, "target"},
		{"zero interval", func(m *Monitor) { m.IntervalSeconds = 0 }, "intervalSeconds"},
		{"tcp without port", func(m *Monitor) { m.Kind = KindTCP }, "port"},
		{"tcp with port", func(m *Monitor) { m.Kind = KindTCP; m.Port = intPtr(5432) }, ""},
		{"tcp port out of range", func(m *Monitor) { m.Kind = KindTCP; m.Port = intPtr(70000) }, "port"},
		{"ping with port", func(m *Monitor) { m.Kind = KindPing; m.Port = intPtr(1) }, "port"},
		{"dns with port", func(m *Monitor) { m.Kind = KindDNS; m.Port = intPtr(53) }, "port"},
		{"bad contact email", func(m *Monitor) { m.ContactEmail = "nobody" }, "contactEmail"},
		{"contact email", func(m *Monitor) { m.ContactEmail = "owner@example.com" }, ""},
		{"contact email with display name", func(m *Monitor) { m.ContactEmail = "Owner <owner@example.com>" }, "contactEmail"},
		{"contact email with line break", func(m *Monitor) { m.ContactEmail = "owner@example.com\r\nBcc: x@evil.test" }, "contactEmail"},
		{"name with line break", func(m *Monitor) { m.Name = "web\r\nBcc: attacker@evil.test" }, "name"},
		{"name with tab", func(m *Monitor) { m.Name = "web\tapi" }, "name"},
		{"non-ascii name", func(m *Monitor) { m.Name = "Zürich gateway" }, ""},
		{"one day interval", func(m *Monitor) { m.IntervalSeconds = MaxIntervalSeconds }, ""},
		{"interval above one day", func(m *Monitor) { m.IntervalSeconds = MaxIntervalSeconds + 1 }, "intervalSeconds"},
		{"interval that would overflow", func(m *Monitor) { m.IntervalSeconds = 18446744079 }, "intervalSeconds"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			m := base()
			tt.mutate(&m)
			err := m.Validate()
			if tt.field == "" {
				if err != nil {
					t.Fatalf("expected valid monitor, got %v", err)
				}
				return
			}

			var verr *ValidationError
			if !errors.As(err, &verr) {
				t.Fatalf("expected ValidationError, got %v", err)
			}
			if verr.Field != tt.field {
				t.Fatalf("expected field %q, got %q", tt.field, verr.Field)
			}
			if !errors.Is(err, ErrInvalidMonitor) {
				t.Fatalf("expected error to match ErrInvalidMonitor")
			}
		})
	}
}

func TestKindsAreValid(t *testing.T) {
	for _, kind := range AllKinds() {
		if !kind.Valid() {
			t.Fatalf("kind %q reported invalid", kind)
		}
	}
	if MonitorKind("icmp").Valid() {
		t.Fatalf("expected unknown kind to be invalid")
	}
}

func TestKnownStatus(t *testing.T) {
	m := Monitor{LastStatus: true}
	if got := m.KnownStatus(); got != StatusUnknown {
		t.Fatalf("expected unknown before first check, got %s", got)
	}

	now := time.Now()
	m.LastCheckedAt = &now
	m.LastStatus = false
	if got := m.KnownStatus(); got != StatusDown {
		t.Fatalf("expected down, got %s", got)
	}
}

func TestCheckResultJSONKeepsNullLatency(t *testing.T) {
	result := CheckResult{
		ID:        "r1",
		MonitorID: 7,
		Timestamp: time.Unix(1_700_000_000, 0).UTC(),
		Status:    StatusDown,
		Details:   "no such host",
	}

	payload, err := json.Marshal(result)
	if err != nil {
		t.Fatalf("failed to marshal result: %v", err)
	}
	jsonStr := string(payload)
	for _, snippet := range []string{`"monitor_id":7`, `"status":"down"`, `"latency_ms":null`} {
		if !strings.Contains(jsonStr, snippet) {
			t.Fatalf("expected JSON payload to contain %s, got %s", snippet, jsonStr)
		}
	}

	result.LatencyMS = Milliseconds(1500 * time.Microsecond)
	if *result.LatencyMS != 1.5 {
		t.Fatalf("expected 1.5ms latency, got %v", *result.LatencyMS)
	}
}

func TestDurationJSONRoundTrip(t *testing.T) {
	var d Duration
	if err := json.Unmarshal([]byte(`"90s"`), &d); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if d.ToDuration() != 90*time.Second {
		t.Fatalf("expected 90s, got %s", d)
	}
	if err := json.Unmarshal([]byte(`"soon"`), &d); err == nil {
		t.Fatalf("expected error for invalid duration string")
	}
}
