package kafka

import (
	"context"
	"fmt"
	"time"

	"github.com/DRSN-tech/product-identity/internal/cfg"
	"github.com/DRSN-tech/product-identity/internal/domain"
	"github.com/DRSN-tech/product-identity/pkg/e"
	"github.com/DRSN-tech/product-identity/pkg/logger"
	"github.com/jimlawless/whereami"
	"github.com/segmentio/kafka-go"
)

// messageWriter - подмножество *kafka.Writer, нужное продюсеру.
type messageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// Producer публикует события группировки. Реализует usecase.EventPublisher.
// Запись асинхронная: ошибки доставки логируются в Completion.
type Producer struct {
	writer messageWriter
	logger logger.Logger
	cfg    *cfg.KafkaCfg
	now    func() time.Time
}

func NewProducer(logger logger.Logger, cfg *cfg.KafkaCfg) (*Producer, error) {
	writer := &kafka.Writer{
		Addr:         kafka.TCP(cfg.Brokers...),
		Topic:        cfg.EventsTopic,
		Balancer:     &kafka.Hash{},
		RequiredAcks: kafka.RequireOne,
		BatchSize:    10,
		BatchTimeout: 500 * time.Millisecond,
		WriteTimeout: 10 * time.Second,
		Async:        true,
		Completion: func(messages []kafka.Message, err error) {
			if err != nil {
				logger.Warnf("Kafka producer error (%d messages): %s", len(messages), err.Error())
			}
		},
	}

	return newProducer(writer, logger, cfg), nil
}

func newProducer(writer messageWriter, logger logger.Logger, cfg *cfg.KafkaCfg) *Producer {
	return &Producer{
		writer: writer,
		logger: logger,
		cfg:    cfg,
		now:    time.Now,
	}
}

func (p *Producer) PublishGroupCreated(ctx context.Context, group *domain.ProductGroup) error {
	return p.write(ctx, newGroupCreatedEvent(group, p.now().UTC()))
}

func (p *Producer) PublishImageAssigned(ctx context.Context, tenant, imageID, groupID string) error {
	return p.write(ctx, newImageAssignedEvent(tenant, imageID, groupID, p.now().UTC()))
}

func (p *Producer) write(ctx context.Context, ev GroupEvent) error {
	value, err := ev.encode()
	if err != nil {
		return e.Wrap(whereami.WhereAmI(), err)
	}

	if err := p.writer.WriteMessages(ctx, kafka.Message{
		Key:   ev.key(),
		Value: value,
		Headers: []kafka.Header{
			{Key: "event-type", Value: []byte(ev.EventType)},
		},
	}); err != nil {
		return e.Wrap(whereami.WhereAmI(), err)
	}

	return nil
}

// EnsureTopic создаёт топик, если его ещё нет.
func EnsureTopic(cfg *cfg.KafkaCfg, topic string, timeout time.Duration) error {
	conn, err := kafka.Dial(cfg.NetworkMode, cfg.Brokers[0])
	if err != nil {
		return e.Wrap(whereami.WhereAmI(), err)
	}
	defer conn.Close()

	partitions, err := conn.ReadPartitions(topic)
	if err == nil && len(partitions) > 0 {
		return nil
	}

	done := make(chan error, 1)
	go func() {
		err := conn.CreateTopics(kafka.TopicConfig{
			Topic:             topic,
			NumPartitions:     cfg.Partitions,
			ReplicationFactor: cfg.ReplicationFactor,
		})
		done <- err
	}()

	select {
	case err := <-done:
		if err != nil {
			return e.Wrap(whereami.WhereAmI(), fmt.Errorf("failed to create topic %s: %w", topic, err))
		}
		return nil
	case <-time.After(timeout):
		_ = conn.Close()
		return e.Wrap(whereami.WhereAmI(), fmt.Errorf("timeout: %v, topic: %s", timeout, topic))
	}
}

func (p *Producer) Close() error {
	return p.writer.Close()
}

// NopPublisher не публикует события; используется, когда Kafka отключена.
type NopPublisher struct{}

func (NopPublisher) PublishGroupCreated(context.Context, *domain.ProductGroup) error { return nil }

func (NopPublisher) PublishImageAssigned(context.Context, string, string, string) error { return nil }
