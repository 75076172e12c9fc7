package notify

import (
	"context"
	"encoding/json"
	"errors"
	"testing"

	"github.com/segmentio/kafka-go"
)

type fakeWriter struct {
	msgs   []kafka.Message
	err    error
	closed bool
}

func (f *fakeWriter) WriteMessages(ctx context.Context, msgs ...kafka.Message) error {
	if f.err != nil {
		return f.err
	}
	f.msgs = append(f.msgs, msgs...)
	return nil
}

func (f *fakeWriter) Close() error {
	f.closed = true
	return nil
}

func TestKafkaChannelPublishesKeyedEvent(t *testing.T) {
	w := &fakeWriter{}
	ch := &KafkaChannel{w: w, topic: "beacon.alerts"}

	m, r := downResult(42)
	if err := ch.Send(context.Background(), NewAlert(m, r)); err != nil {
		t.Fatalf("send failed: %v", err)
	}

	if len(w.msgs) != 1 {
		t.Fatalf("expected 1 message, got %d", len(w.msgs))
	}
	msg := w.msgs[0]
	if string(msg.Key) != "42" {
		t.Fatalf("expected key 42, got %q", msg.Key)
	}

	var event AlertEvent
	if err := json.Unmarshal(msg.Value, &event); err != nil {
		t.Fatalf("invalid event json: %v", err)
	}
	if event.MonitorID != 42 || event.Status != "down" || event.Subject != "[Alert] api is down" {
		t.Fatalf("unexpected event %+v", event)
	}
	if event.LatencyMS != nil {
		t.Fatalf("expected no latency, got %v", *event.LatencyMS)
	}

	if err := ch.Close(); err != nil || !w.closed {
		t.Fatalf("expected writer closed, err=%v", err)
	}
}

func TestKafkaChannelWrapsWriteErrors(t *testing.T) {
	broker := errors.New("leader not available")
	ch := &KafkaChannel{w: &fakeWriter{err: broker}, topic: "beacon.alerts"}

	m, r := downResult(1)
	if err := ch.Send(context.Background(), NewAlert(m, r)); !errors.Is(err, broker) {
		t.Fatalf("expected wrapped broker error, got %v", err)
	}
}
