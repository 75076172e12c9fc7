package models

import (
	"encoding/json"
	"fmt"
	"time"
)

// Duration wraps time.Duration so it serialises as "30s" style strings in
// JSON and YAML while still accepting raw nanosecond numbers.
type Duration time.Duration

func parseDuration(decode func(interface{}) error) (Duration, error) {
	var n int64
	if err := decode(&n); err == nil {
		return Duration(n), nil
	}
	var s string
	if err := decode(&s); err != nil {
		return 0, fmt.Errorf("duration must be a number or string: %w", err)
	}
	dur, err := time.ParseDuration(s)
	if err != nil {
		return 0, fmt.Errorf("invalid duration string %q: %w", s, err)
	}
	return Duration(dur), nil
}

// UnmarshalJSON implements json.Unmarshaler for Duration
func (d *Duration) UnmarshalJSON(b []byte) error {
	parsed, err := parseDuration(func(v interface{}) error { return json.Unmarshal(b, v) })
	if err != nil {
		return err
	}
	*d = parsed
	return nil
}

// MarshalJSON implements json.Marshaler for Duration
func (d Duration) MarshalJSON() ([]byte, error) {
	return json.Marshal(d.String())
}

// UnmarshalYAML implements yaml.Unmarshaler for Duration
func (d *Duration) UnmarshalYAML(unmarshal func(interface{}) error) error {
	parsed, err := parseDuration(unmarshal)
	if err != nil {
		return err
	}
	*d = parsed
	return nil
}

// MarshalYAML implements yaml.Marshaler for Duration
func (d Duration) MarshalYAML() (interface{}, error) {
	return d.String(), nil
}

func (d Duration) String() string {
	return time.Duration(d).String()
}

// ToDuration converts Duration to time.Duration
func (d Duration) ToDuration() time.Duration {
	return time.Duration(d)
}
