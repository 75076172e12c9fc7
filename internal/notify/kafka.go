package notify

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"time"

	"github.com/segmentio/kafka-go"

	"github.com/1broseidon/beacon/pkg/models"
)

// AlertEvent is the JSON document published to Kafka
type AlertEvent struct {
	MonitorID   int64              `json:"monitor_id"`
	MonitorName string             `json:"monitor_name"`
	Kind        models.MonitorKind `json:"kind"`
	Target      string             `json:"target"`
	Status      models.Status      `json:"status"`
	Details     string             `json:"details,omitempty"`
	LatencyMS   *float64           `json:"latency_ms,omitempty"`
	Timestamp   time.Time          `json:"timestamp"`
	Subject     string             `json:"subject"`
}

type messageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// KafkaChannel publishes alerts keyed by monitor id, so every alert of one
// monitor lands on the same partition.
type KafkaChannel struct {
	w     messageWriter
	topic string
}

// NewKafkaChannel creates a channel writing to topic on brokers
func NewKafkaChannel(brokers []string, topic string) *KafkaChannel {
	return &KafkaChannel{
		w: &kafka.Writer{
			Addr:                   kafka.TCP(brokers...),
			Topic:                  topic,
			Balancer:               &kafka.Hash{},
			RequiredAcks:           kafka.RequireOne,
			AllowAutoTopicCreation: true,
		},
		topic: topic,
	}
}

func (k *KafkaChannel) Name() string { return "kafka" }

func alertMessage(alert Alert) (kafka.Message, error) {
	value, err := json.Marshal(AlertEvent{
		MonitorID:   alert.MonitorID,
		MonitorName: alert.MonitorName,
		Kind:        alert.Kind,
		Target:      alert.Target,
		Status:      alert.Status,
		Details:     alert.Details,
		LatencyMS:   alert.LatencyMS,
		Timestamp:   alert.Timestamp.UTC(),
		Subject:     alert.Subject,
	})
	if err != nil {
		return kafka.Message{}, fmt.Errorf("marshal alert event: %w", err)
	}
	return kafka.Message{
		Key:   []byte(strconv.FormatInt(alert.MonitorID, 10)),
		Value: value,
		Time:  alert.Timestamp,
	}, nil
}

func (k *KafkaChannel) Send(ctx context.Context, alert Alert) error {
	msg, err := alertMessage(alert)
	if err != nil {
		return err
	}
	if err := k.w.WriteMessages(ctx, msg); err != nil {
		return fmt.Errorf("kafka write to %s: %w", k.topic, err)
	}
	return nil
}

func (k *KafkaChannel) Close() error { return k.w.Close() }
