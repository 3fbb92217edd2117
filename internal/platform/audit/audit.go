// Package audit implements a fire-and-forget auditLog(action, meta)
// contract. When KAFKA_BROKERS is configured, events
// are published to a Kafka topic for downstream consumers; otherwise
// they fall back to a structured log line so the contract is always
// satisfiable in dev/test environments without a broker.
package audit

import (
	"context"
	"encoding/json"
	"time"

	"github.com/google/uuid"
	"github.com/nexnum/provider-core/internal/platform/logging"
	"github.com/segmentio/kafka-go"
)

// Logger is the fire-and-forget audit sink consumed by the
// Synchronizer and Router.
type Logger interface {
	Log(action string, meta map[string]interface{})
	Close() error
}

type event struct {
	ID        string                 `json:"id"`
	Action    string                 `json:"action"`
	Meta      map[string]interface{} `json:"meta"`
	Timestamp time.Time              `json:"timestamp"`
}

// kafkaLogger publishes audit events to a Kafka topic.
type kafkaLogger struct {
	writer *kafka.Writer
	log    *logging.Logger
}

// NewKafka creates a Kafka-backed audit Logger publishing to "provider-core.audit".
func NewKafka(brokers []string, log *logging.Logger) Logger {
	w := &kafka.Writer{
		Addr:         kafka.TCP(brokers...),
		Topic:        "provider-core.audit",
		Balancer:     &kafka.LeastBytes{},
		Async:        true,
		BatchTimeout: 50 * time.Millisecond,
	}
	return &kafkaLogger{writer: w, log: log}
}

func (k *kafkaLogger) Log(action string, meta map[string]interface{}) {
	ev := event{ID: uuid.NewString(), Action: action, Meta: meta, Timestamp: time.Now().UTC()}
	payload, err := json.Marshal(ev)
	if err != nil {
		k.log.WithError(err).Warn("failed to marshal audit event")
		return
	}
	// Async writer: errors surface via the writer's internal completion
	// callback path, not here. Best-effort, fire-and-forget.
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := k.writer.WriteMessages(ctx, kafka.Message{Value: payload}); err != nil {
			k.log.WithError(err).Warn("audit publish failed")
		}
	}()
}

func (k *kafkaLogger) Close() error {
	return k.writer.Close()
}

// logOnlyLogger satisfies the contract without a broker, used when
// KAFKA_BROKERS is unset.
type logOnlyLogger struct {
	log *logging.Logger
}

// NewLogOnly creates a Logger that only writes structured log lines.
func NewLogOnly(log *logging.Logger) Logger {
	return &logOnlyLogger{log: log}
}

func (l *logOnlyLogger) Log(action string, meta map[string]interface{}) {
	withID := make(map[string]interface{}, len(meta)+1)
	for k, v := range meta {
		withID[k] = v
	}
	withID["auditId"] = uuid.NewString()
	l.log.SyncEventLogger("audit", action, withID)
}

func (l *logOnlyLogger) Close() error { return nil }
