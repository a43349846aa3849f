// Package kafka provides a Kafka-based notifier for fire-and-forget dump
// status messages consumed by front-end fan-out services.
package kafka

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/IBM/sarama"
	"github.com/cenkalti/backoff"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/memharbor/memharbor/internal/domain/forensics"
	"github.com/memharbor/memharbor/pkg/common/logger"
)

var _ forensics.Notifier = (*Notifier)(nil)

// Config contains settings for connecting to Kafka and routing notifications.
type Config struct {
	// Brokers is a list of Kafka broker addresses to connect to.
	Brokers []string
	// Topic is the topic notifications are published to.
	Topic string
	// ClientID uniquely identifies this client to the Kafka cluster.
	ClientID string
}

// Notifier publishes dump notifications to a Kafka topic. Delivery is
// best-effort: failures are logged and dropped, never surfaced to callers.
type Notifier struct {
	producer sarama.SyncProducer
	topic    string

	logger *logger.Logger
	tracer trace.Tracer
}

// NewNotifier wraps an existing producer.
func NewNotifier(producer sarama.SyncProducer, topic string, log *logger.Logger, tracer trace.Tracer) *Notifier {
	return &Notifier{
		producer: producer,
		topic:    topic,
		logger:   log.With("component", "kafka_notifier"),
		tracer:   tracer,
	}
}

// ConnectNotifier creates a notifier with its own producer, retrying the
// broker connection with exponential backoff.
func ConnectNotifier(cfg *Config, log *logger.Logger, tracer trace.Tracer) (*Notifier, error) {
	producerConfig := sarama.NewConfig()
	producerConfig.Producer.RequiredAcks = sarama.WaitForAll
	producerConfig.Producer.Return.Successes = true
	producerConfig.Producer.Partitioner = sarama.NewHashPartitioner
	producerConfig.ClientID = cfg.ClientID

	var producer sarama.SyncProducer

	expBackoff := backoff.NewExponentialBackOff()
	expBackoff.MaxElapsedTime = 5 * time.Minute
	expBackoff.InitialInterval = 5 * time.Second

	operation := func() error {
		var err error
		producer, err = sarama.NewSyncProducer(cfg.Brokers, producerConfig)
		if err != nil {
			return fmt.Errorf("creating producer: %w", err)
		}
		return nil
	}

	if err := backoff.Retry(operation, expBackoff); err != nil {
		return nil, fmt.Errorf("failed to connect notifier after retries: %w", err)
	}

	return NewNotifier(producer, cfg.Topic, log, tracer), nil
}

// message is the wire shape consumed by the front-end fan-out.
type message struct {
	DumpID    string `json:"dump_id"`
	DumpName  string `json:"dump_name"`
	Message   string `json:"message"`
	Severity  int    `json:"severity"`
	Color     string `json:"color"`
	CreatedAt string `json:"created_at"`
}

// Notify publishes one notification, keyed by dump ID so messages about the
// same dump stay ordered within a partition.
func (n *Notifier) Notify(ctx context.Context, notification forensics.Notification) {
	ctx, span := n.tracer.Start(ctx, "kafka_notifier.notify",
		trace.WithSpanKind(trace.SpanKindProducer),
		trace.WithAttributes(
			attribute.String("dump_id", notification.DumpID.String()),
			attribute.Int("severity", int(notification.Severity)),
		))
	defer span.End()

	payload, err := json.Marshal(message{
		DumpID:    notification.DumpID.String(),
		DumpName:  notification.DumpName,
		Message:   notification.Message,
		Severity:  int(notification.Severity),
		Color:     severityColor(notification.Severity),
		CreatedAt: time.Now().UTC().Format(time.RFC3339),
	})
	if err != nil {
		span.RecordError(err)
		n.logger.Error(ctx, "failed to encode notification", "error", err)
		return
	}

	_, _, err = n.producer.SendMessage(&sarama.ProducerMessage{
		Topic: n.topic,
		Key:   sarama.StringEncoder(notification.DumpID.String()),
		Value: sarama.ByteEncoder(payload),
	})
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "publish failed")
		n.logger.Error(ctx, "failed to publish notification",
			"dump_id", notification.DumpID.String(),
			"error", err,
		)
	}
}

// Close shuts down the underlying producer.
func (n *Notifier) Close() error { return n.producer.Close() }

func severityColor(s forensics.Severity) string {
	switch s {
	case forensics.SeverityOK:
		return "#2ECC71"
	case forensics.SeveritySuccess:
		return "#45B39D"
	case forensics.SeverityWarning:
		return "#E67E22"
	case forensics.SeverityCritical:
		return "#FF0000"
	default:
		return "#95A5A6"
	}
}
