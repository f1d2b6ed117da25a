package consumer

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/confluentinc/confluent-kafka-go/v2/kafka"

	"github.com/weiawesome/blog-chat/internal/config"
	"github.com/weiawesome/blog-chat/internal/domain"
	"github.com/weiawesome/blog-chat/internal/repository"
	"github.com/weiawesome/blog-chat/pkg/log"
)

const maxAttempts = 3

var errPoison = errors.New("undecodable message")

// Consumer moves chat messages from Kafka into the message store. Offsets
// are stored only after a message was handled, so a crash redelivers it and
// the idempotent Append absorbs the duplicate.
type Consumer struct {
	consumer *kafka.Consumer
	topic    string
	groupID  string
	store    repository.MessageStore
	backoff  time.Duration
}

func NewConsumer(cfg config.KafkaConfig, store repository.MessageStore) (*Consumer, error) {
	c, err := kafka.NewConsumer(&kafka.ConfigMap{
		"bootstrap.servers":        cfg.Brokers,
		"group.id":                 cfg.GroupID,
		"auto.offset.reset":        "earliest",
		"enable.auto.commit":       true,
		"enable.auto.offset.store": false,
		"auto.commit.interval.ms":  5000,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create kafka consumer: %w", err)
	}

	return &Consumer{
		consumer: c,
		topic:    cfg.Topic,
		groupID:  cfg.GroupID,
		store:    store,
		backoff:  200 * time.Millisecond,
	}, nil
}

// Run polls until ctx is cancelled or Kafka reports a fatal error.
func (c *Consumer) Run(ctx context.Context) error {
	if err := c.consumer.Subscribe(c.topic, nil); err != nil {
		return fmt.Errorf("failed to subscribe to topic %s: %w", c.topic, err)
	}

	l := log.L()
	l.Info().Str("topic", c.topic).Str("group", c.groupID).Msg("kafka consumer started")

	for {
		select {
		case <-ctx.Done():
			l.Info().Msg("kafka consumer stopping")
			return nil
		default:
		}

		switch e := c.consumer.Poll(500).(type) {
		case nil:
		case *kafka.Message:
			c.process(ctx, e)
		case kafka.Error:
			l.Warn().Err(e).Int("code", int(e.Code())).Bool("fatal", e.IsFatal()).Msg("kafka error")
			if e.IsFatal() {
				return fmt.Errorf("fatal kafka error: %w", e)
			}
		case kafka.OffsetsCommitted:
			if e.Error != nil {
				l.Warn().Err(e.Error).Msg("offset commit failed")
			}
		}
	}
}

func (c *Consumer) process(ctx context.Context, m *kafka.Message) {
	l := log.L().With().
		Int32("partition", m.TopicPartition.Partition).
		Str("offset", m.TopicPartition.Offset.String()).
		Logger()

	msg, err := decode(m.Value)
	if err == nil {
		err = c.persist(ctx, msg)
	}
	switch {
	case err == nil:
		l.Debug().Str(log.FieldMessageID, msg.ID).Str(log.FieldRoom, msg.Room).Msg("message persisted")
	case ctx.Err() != nil:
		// Leave the offset unstored; the message is redelivered after restart.
		return
	default:
		l.Error().Err(err).Msg("dropping message")
	}

	if _, err := c.consumer.StoreMessage(m); err != nil {
		l.Warn().Err(err).Msg("failed to store offset")
	}
}

func (c *Consumer) persist(ctx context.Context, msg *domain.ChatMessage) error {
	var err error
	for attempt := 1; attempt <= maxAttempts; attempt++ {
		if err = c.store.Append(ctx, msg); err == nil {
			return nil
		}
		if errors.Is(err, domain.ErrInvalidMessage) || attempt == maxAttempts {
			break
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(c.backoff * time.Duration(attempt)):
		}
	}
	return fmt.Errorf("failed to persist message %s: %w", msg.ID, err)
}

func decode(value []byte) (*domain.ChatMessage, error) {
	var msg domain.ChatMessage
	if err := json.Unmarshal(value, &msg); err != nil {
		return nil, fmt.Errorf("%w: %v", errPoison, err)
	}
	if msg.ID == "" {
		return nil, fmt.Errorf("%w: missing id", errPoison)
	}
	return &msg, nil
}

func (c *Consumer) Close() error {
	return c.consumer.Close()
}
