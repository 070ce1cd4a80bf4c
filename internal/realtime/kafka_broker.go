package realtime

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/segmentio/kafka-go"
)

// KafkaConfig holds the connection settings for the Kafka broker.
type KafkaConfig struct {
	Brokers       []string
	ConsumerGroup string
}

// KafkaBroker implements Broker on Apache Kafka. Event groups map to
// topics (the ":" in group names is replaced since Kafka forbids it).
// One shared producer, one consumer per subscription.
type KafkaBroker struct {
	config  KafkaConfig
	writer  *kafka.Writer
	mu      sync.Mutex
	readers map[string]*kafkaSubscription
	closed  bool
	ctx     context.Context
	cancel  context.CancelFunc
}

type kafkaSubscription struct {
	id      string
	reader  *kafka.Reader
	handler Handler
	cancel  context.CancelFunc
}

func NewKafkaBroker(config KafkaConfig) (*KafkaBroker, error) {
	if len(config.Brokers) == 0 {
		return nil, fmt.Errorf("at least one Kafka broker address is required")
	}
	if config.ConsumerGroup == "" {
		config.ConsumerGroup = "planhub-realtime"
	}

	ctx, cancel := context.WithCancel(context.Background())
	writer := &kafka.Writer{
		Addr:         kafka.TCP(config.Brokers...),
		Balancer:     &kafka.LeastBytes{},
		BatchTimeout: 10 * time.Millisecond,
		Async:        false,
	}

	return &KafkaBroker{
		config:  config,
		writer:  writer,
		readers: make(map[string]*kafkaSubscription),
		ctx:     ctx,
		cancel:  cancel,
	}, nil
}

func kafkaTopic(group string) string {
	return strings.ReplaceAll(group, ":", ".")
}

func (b *KafkaBroker) Publish(ctx context.Context, group string, msg BroadcastMessage) error {
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return fmt.Errorf("broker is closed")
	}
	b.mu.Unlock()

	value, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("marshal broadcast: %w", err)
	}

	// Keyed by group so all messages of one event land on one partition
	// and keep their order.
	err = b.writer.WriteMessages(ctx, kafka.Message{
		Topic: kafkaTopic(group),
		Key:   []byte(group),
		Value: value,
	})
	if err != nil {
		return fmt.Errorf("write to kafka: %w", err)
	}
	return nil
}

func (b *KafkaBroker) Subscribe(group string, handler Handler) (string, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed {
		return "", fmt.Errorf("broker is closed")
	}

	id := uuid.New().String()
	reader := kafka.NewReader(kafka.ReaderConfig{
		Brokers:  b.config.Brokers,
		Topic:    kafkaTopic(group),
		GroupID:  b.config.ConsumerGroup + "-" + id,
		MinBytes: 1,
		MaxBytes: 10e6,
		MaxWait:  500 * time.Millisecond,
	})

	subCtx, subCancel := context.WithCancel(b.ctx)
	sub := &kafkaSubscription{id: id, reader: reader, handler: handler, cancel: subCancel}
	b.readers[id] = sub
	go b.consumeLoop(subCtx, sub)
	return id, nil
}

func (b *KafkaBroker) Unsubscribe(_, id string) {
	b.mu.Lock()
	defer b.mu.Unlock()

	sub, ok := b.readers[id]
	if !ok {
		return
	}
	sub.cancel()
	sub.reader.Close() //nolint:errcheck
	delete(b.readers, id)
}

func (b *KafkaBroker) Close() error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed {
		return nil
	}
	b.closed = true
	b.cancel()

	var firstErr error
	for _, sub := range b.readers {
		sub.cancel()
		if err := sub.reader.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	if err := b.writer.Close(); err != nil && firstErr == nil {
		firstErr = err
	}
	return firstErr
}

func (b *KafkaBroker) consumeLoop(ctx context.Context, sub *kafkaSubscription) {
	for {
		m, err := sub.reader.ReadMessage(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			log.Printf("realtime: kafka consumer %s error: %v", sub.id, err)
			continue
		}

		var msg BroadcastMessage
		if err := json.Unmarshal(m.Value, &msg); err != nil {
			log.Printf("realtime: kafka consumer %s: unmarshal error: %v", sub.id, err)
			continue
		}
		sub.handler(msg)
	}
}
