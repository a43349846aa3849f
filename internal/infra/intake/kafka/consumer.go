// Package kafka consumes dump analysis requests from a Kafka topic and hands
// them to the processing pipeline.
package kafka

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/IBM/sarama"
	"github.com/cenkalti/backoff"
	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/memharbor/memharbor/pkg/common/logger"
)

// ProcessFunc runs one dump analysis request end to end.
type ProcessFunc func(ctx context.Context, dumpID, userID uuid.UUID, password string, restartPlugins []string) error

// Config contains settings for connecting to Kafka and consuming requests.
type Config struct {
	// Brokers is a list of Kafka broker addresses to connect to.
	Brokers []string
	// Topic is the topic analysis requests are consumed from.
	Topic string
	// GroupID identifies the consumer group shared by worker replicas.
	GroupID string
	// ClientID uniquely identifies this client to the Kafka cluster.
	ClientID string
}

// Consumer reads analysis requests off a topic and runs them through the
// pipeline. Requests within a partition are processed in order; replicas in
// the same group split partitions between them.
type Consumer struct {
	group   sarama.ConsumerGroup
	topic   string
	process ProcessFunc

	logger *logger.Logger
	tracer trace.Tracer
}

// ConnectConsumer creates a consumer with its own group connection, retrying
// the broker connection with exponential backoff.
func ConnectConsumer(cfg *Config, process ProcessFunc, log *logger.Logger, tracer trace.Tracer) (*Consumer, error) {
	consumerConfig := sarama.NewConfig()
	consumerConfig.Consumer.Group.Rebalance.Strategy = sarama.NewBalanceStrategyRoundRobin()
	consumerConfig.Consumer.Offsets.Initial = sarama.OffsetOldest
	consumerConfig.ClientID = cfg.ClientID

	var group sarama.ConsumerGroup

	expBackoff := backoff.NewExponentialBackOff()
	expBackoff.MaxElapsedTime = 5 * time.Minute
	expBackoff.InitialInterval = 5 * time.Second

	operation := func() error {
		var err error
		group, err = sarama.NewConsumerGroup(cfg.Brokers, cfg.GroupID, consumerConfig)
		if err != nil {
			return fmt.Errorf("creating consumer group: %w", err)
		}
		return nil
	}

	if err := backoff.Retry(operation, expBackoff); err != nil {
		return nil, fmt.Errorf("failed to connect consumer after retries: %w", err)
	}

	return &Consumer{
		group:   group,
		topic:   cfg.Topic,
		process: process,
		logger:  log.With("component", "kafka_intake"),
		tracer:  tracer,
	}, nil
}

// Run consumes requests until the context is cancelled. Rebalances restart
// the session; the loop only exits on context cancellation.
func (c *Consumer) Run(ctx context.Context) error {
	handler := &requestHandler{process: c.process, logger: c.logger, tracer: c.tracer}

	for {
		if err := c.group.Consume(ctx, []string{c.topic}, handler); err != nil {
			c.logger.Error(ctx, "Error from consumer group", "error", err)
		}
		if ctx.Err() != nil {
			return ctx.Err()
		}
	}
}

// Close shuts down the consumer group.
func (c *Consumer) Close() error { return c.group.Close() }

// request is the wire shape of one analysis request.
type request struct {
	DumpID         uuid.UUID `json:"dump_id"`
	UserID         uuid.UUID `json:"user_id"`
	Password       string    `json:"password,omitempty"`
	RestartPlugins []string  `json:"restart_plugins,omitempty"`
}

// requestHandler implements sarama.ConsumerGroupHandler for analysis requests.
type requestHandler struct {
	process ProcessFunc

	logger *logger.Logger
	tracer trace.Tracer
}

func (h *requestHandler) Setup(sess sarama.ConsumerGroupSession) error {
	h.logger.Info(context.Background(),
		"Consumer group session setup",
		"generation_id", sess.GenerationID(),
		"member_id", sess.MemberID(),
	)
	return nil
}

func (h *requestHandler) Cleanup(sess sarama.ConsumerGroupSession) error {
	h.logger.Info(context.Background(),
		"Consumer group session cleanup",
		"generation_id", sess.GenerationID(),
		"member_id", sess.MemberID(),
	)
	return nil
}

// ConsumeClaim processes requests from an assigned partition one at a time.
// Every message is marked: malformed requests are dropped with a warning, and
// processing failures land on the dump record, so redelivery buys nothing.
func (h *requestHandler) ConsumeClaim(
	sess sarama.ConsumerGroupSession,
	claim sarama.ConsumerGroupClaim,
) error {
	for msg := range claim.Messages() {
		h.handleMessage(sess.Context(), msg)
		sess.MarkMessage(msg, "")
	}
	return nil
}

func (h *requestHandler) handleMessage(ctx context.Context, msg *sarama.ConsumerMessage) {
	ctx, span := h.tracer.Start(ctx, "kafka_intake.handle_request",
		trace.WithSpanKind(trace.SpanKindConsumer),
		trace.WithAttributes(
			attribute.String("topic", msg.Topic),
			attribute.Int64("offset", msg.Offset),
		))
	defer span.End()

	var req request
	if err := json.Unmarshal(msg.Value, &req); err != nil {
		span.RecordError(err)
		h.logger.Warn(ctx, "dropping malformed analysis request", "offset", msg.Offset, "error", err)
		return
	}
	if req.DumpID == uuid.Nil {
		h.logger.Warn(ctx, "dropping analysis request without dump id", "offset", msg.Offset)
		return
	}

	if err := h.process(ctx, req.DumpID, req.UserID, req.Password, req.RestartPlugins); err != nil {
		span.RecordError(err)
		h.logger.Error(ctx, "analysis request failed",
			"dump_id", req.DumpID.String(),
			"error", err,
		)
	}
}
