package realtime

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"sync"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

// RedisBroker implements Broker over Redis Pub/Sub. Each group maps to one
// Redis channel; a per-group receive goroutine fans messages out to local
// handlers, so cross-process subscribers of the same group see the same
// order Redis delivered.
type RedisBroker struct {
	client *redis.Client

	mu     sync.Mutex
	groups map[string]*redisGroup
	closed bool
	ctx    context.Context
	cancel context.CancelFunc
}

type redisGroup struct {
	pubsub   *redis.PubSub
	handlers map[string]Handler
}

func NewRedisBroker(redisURL string) (*RedisBroker, error) {
	opts, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, fmt.Errorf("invalid redis url: %w", err)
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &RedisBroker{
		client: redis.NewClient(opts),
		groups: make(map[string]*redisGroup),
		ctx:    ctx,
		cancel: cancel,
	}, nil
}

func (b *RedisBroker) Publish(ctx context.Context, group string, msg BroadcastMessage) error {
	data, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("marshal broadcast: %w", err)
	}
	if err := b.client.Publish(ctx, group, data).Err(); err != nil {
		return fmt.Errorf("redis publish: %w", err)
	}
	return nil
}

func (b *RedisBroker) Subscribe(group string, handler Handler) (string, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed {
		return "", fmt.Errorf("broker is closed")
	}

	id := uuid.New().String()
	g, ok := b.groups[group]
	if !ok {
		g = &redisGroup{
			pubsub:   b.client.Subscribe(b.ctx, group),
			handlers: make(map[string]Handler),
		}
		b.groups[group] = g
		go b.receiveLoop(group, g.pubsub)
	}
	g.handlers[id] = handler
	return id, nil
}

func (b *RedisBroker) Unsubscribe(group, id string) {
	b.mu.Lock()
	defer b.mu.Unlock()

	g, ok := b.groups[group]
	if !ok {
		return
	}
	delete(g.handlers, id)
	if len(g.handlers) == 0 {
		g.pubsub.Close() //nolint:errcheck
		delete(b.groups, group)
	}
}

func (b *RedisBroker) Close() error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed {
		return nil
	}
	b.closed = true
	b.cancel()
	for _, g := range b.groups {
		g.pubsub.Close() //nolint:errcheck
	}
	b.groups = make(map[string]*redisGroup)
	return b.client.Close()
}

func (b *RedisBroker) receiveLoop(group string, pubsub *redis.PubSub) {
	ch := pubsub.Channel()
	for m := range ch {
		var msg BroadcastMessage
		if err := json.Unmarshal([]byte(m.Payload), &msg); err != nil {
			log.Printf("realtime: redis group %s: unmarshal error: %v", group, err)
			continue
		}

		b.mu.Lock()
		g, ok := b.groups[group]
		var handlers []Handler
		if ok {
			handlers = make([]Handler, 0, len(g.handlers))
			for _, h := range g.handlers {
				handlers = append(handlers, h)
			}
		}
		b.mu.Unlock()

		for _, h := range handlers {
			h(msg)
		}
	}
}
