package realtime

import (
	"context"
	"fmt"
	"sync"

	"github.com/google/uuid"
)

type subscription struct {
	id      string
	handler Handler
}

// MemoryBroker is a single-process Broker backed by Go channels. A single
// dispatch goroutine preserves publish order within every group. Suitable
// for development, tests and single-node deployments.
type MemoryBroker struct {
	mu      sync.RWMutex
	subs    map[string][]subscription // group -> subscriptions
	closed  bool
	eventCh chan groupMessage
	done    chan struct{}
}

type groupMessage struct {
	group string
	msg   BroadcastMessage
}

// NewMemoryBroker creates and starts a MemoryBroker. Call Close() to stop
// the dispatch goroutine.
func NewMemoryBroker() *MemoryBroker {
	b := &MemoryBroker{
		subs:    make(map[string][]subscription),
		eventCh: make(chan groupMessage, 1024),
		done:    make(chan struct{}),
	}
	go b.dispatch()
	return b
}

func (b *MemoryBroker) Publish(_ context.Context, group string, msg BroadcastMessage) error {
	b.mu.RLock()
	defer b.mu.RUnlock()

	if b.closed {
		return fmt.Errorf("broker is closed")
	}
	b.eventCh <- groupMessage{group: group, msg: msg}
	return nil
}

func (b *MemoryBroker) Subscribe(group string, handler Handler) (string, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed {
		return "", fmt.Errorf("broker is closed")
	}
	id := uuid.New().String()
	b.subs[group] = append(b.subs[group], subscription{id: id, handler: handler})
	return id, nil
}

func (b *MemoryBroker) Unsubscribe(group, id string) {
	b.mu.Lock()
	defer b.mu.Unlock()

	subs := b.subs[group]
	for i, s := range subs {
		if s.id == id {
			b.subs[group] = append(subs[:i], subs[i+1:]...)
			break
		}
	}
	if len(b.subs[group]) == 0 {
		delete(b.subs, group)
	}
}

// Close stops accepting publishes and waits for the dispatch goroutine to
// drain buffered messages. The mutex is released before the wait because
// dispatch still needs it to look up subscribers.
func (b *MemoryBroker) Close() error {
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return nil
	}
	b.closed = true
	close(b.eventCh)
	b.mu.Unlock()

	<-b.done
	return nil
}

// dispatch fans out published messages to the matching subscribers in
// arrival order.
func (b *MemoryBroker) dispatch() {
	defer close(b.done)

	for gm := range b.eventCh {
		b.mu.RLock()
		subs := b.subs[gm.group]
		handlers := make([]Handler, len(subs))
		for i, s := range subs {
			handlers[i] = s.handler
		}
		b.mu.RUnlock()

		for _, h := range handlers {
			h(gm.msg)
		}
	}
}
