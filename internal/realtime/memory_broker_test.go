package realtime

import (
	"context"
	"encoding/json"
	"sync"
	"sync/atomic"
	"testing"
	"time"
)

func TestMemoryBroker_PublishSubscribe(t *testing.T) {
	broker := NewMemoryBroker()
	defer broker.Close()

	var received BroadcastMessage
	done := make(chan struct{})

	_, err := broker.Subscribe(GroupName(1), func(msg BroadcastMessage) {
		received = msg
		close(done)
	})
	if err != nil {
		t.Fatalf("subscribe failed: %v", err)
	}

	msg := BroadcastMessage{
		Type:        "broadcast",
		MessageType: "chat.message",
		Payload:     json.RawMessage(`{"text":"hi"}`),
		SenderID:    7,
	}
	if err := broker.Publish(context.Background(), GroupName(1), msg); err != nil {
		t.Fatalf("publish failed: %v", err)
	}

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for message")
	}

	if received.MessageType != "chat.message" {
		t.Errorf("expected message type chat.message, got %q", received.MessageType)
	}
	if received.SenderID != 7 {
		t.Errorf("expected sender 7, got %d", received.SenderID)
	}
}

func TestMemoryBroker_GroupIsolation(t *testing.T) {
	broker := NewMemoryBroker()
	defer broker.Close()

	var count atomic.Int32
	done := make(chan struct{})

	if _, err := broker.Subscribe(GroupName(1), func(BroadcastMessage) {
		count.Add(1)
		close(done)
	}); err != nil {
		t.Fatalf("subscribe failed: %v", err)
	}
	if _, err := broker.Subscribe(GroupName(2), func(BroadcastMessage) {
		t.Error("subscriber of event 2 received a message for event 1")
	}); err != nil {
		t.Fatalf("subscribe failed: %v", err)
	}

	if err := broker.Publish(context.Background(), GroupName(1), BroadcastMessage{MessageType: "task.created"}); err != nil {
		t.Fatalf("publish failed: %v", err)
	}

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for message")
	}
	// give the wrong-group delivery a chance to surface
	time.Sleep(50 * time.Millisecond)

	if got := count.Load(); got != 1 {
		t.Errorf("expected 1 delivery, got %d", got)
	}
}

func TestMemoryBroker_PreservesPublishOrder(t *testing.T) {
	broker := NewMemoryBroker()
	defer broker.Close()

	const n = 50
	var mu sync.Mutex
	order := []string{}
	done := make(chan struct{})

	if _, err := broker.Subscribe(GroupName(1), func(msg BroadcastMessage) {
		mu.Lock()
		order = append(order, msg.MessageType)
		if len(order) == n {
			close(done)
		}
		mu.Unlock()
	}); err != nil {
		t.Fatalf("subscribe failed: %v", err)
	}

	expected := make([]string, n)
	for i := 0; i < n; i++ {
		mt := "update." + string(rune('a'+i%26)) + string(rune('a'+i/26))
		expected[i] = mt
		if err := broker.Publish(context.Background(), GroupName(1), BroadcastMessage{MessageType: mt}); err != nil {
			t.Fatalf("publish %d failed: %v", i, err)
		}
	}

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for messages")
	}

	mu.Lock()
	defer mu.Unlock()
	for i := range expected {
		if order[i] != expected[i] {
			t.Fatalf("message %d delivered out of order: got %q, want %q", i, order[i], expected[i])
		}
	}
}

func TestMemoryBroker_Unsubscribe(t *testing.T) {
	broker := NewMemoryBroker()
	defer broker.Close()

	var count atomic.Int32
	id, err := broker.Subscribe(GroupName(1), func(BroadcastMessage) {
		count.Add(1)
	})
	if err != nil {
		t.Fatalf("subscribe failed: %v", err)
	}

	if err := broker.Publish(context.Background(), GroupName(1), BroadcastMessage{MessageType: "a"}); err != nil {
		t.Fatalf("publish failed: %v", err)
	}
	waitFor(t, func() bool { return count.Load() == 1 })

	broker.Unsubscribe(GroupName(1), id)
	if err := broker.Publish(context.Background(), GroupName(1), BroadcastMessage{MessageType: "b"}); err != nil {
		t.Fatalf("publish failed: %v", err)
	}
	time.Sleep(50 * time.Millisecond)

	if got := count.Load(); got != 1 {
		t.Errorf("expected no delivery after unsubscribe, got %d total", got)
	}
}

func TestMemoryBroker_PublishAfterClose(t *testing.T) {
	broker := NewMemoryBroker()
	broker.Close()

	if err := broker.Publish(context.Background(), GroupName(1), BroadcastMessage{}); err == nil {
		t.Error("expected error publishing to a closed broker")
	}
	if _, err := broker.Subscribe(GroupName(1), func(BroadcastMessage) {}); err == nil {
		t.Error("expected error subscribing to a closed broker")
	}
}

func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatal("condition not met in time")
}

func TestMemoryBroker_CloseDrainsBufferedMessages(t *testing.T) {
	broker := NewMemoryBroker()

	var count atomic.Int32
	if _, err := broker.Subscribe(GroupName(1), func(BroadcastMessage) {
		time.Sleep(time.Millisecond)
		count.Add(1)
	}); err != nil {
		t.Fatalf("subscribe failed: %v", err)
	}

	const n = 20
	for i := 0; i < n; i++ {
		if err := broker.Publish(context.Background(), GroupName(1), BroadcastMessage{MessageType: "chat.message"}); err != nil {
			t.Fatalf("publish failed: %v", err)
		}
	}

	closed := make(chan struct{})
	go func() {
		broker.Close()
		close(closed)
	}()

	select {
	case <-closed:
	case <-time.After(2 * time.Second):
		t.Fatal("Close did not return with messages still buffered")
	}
	if got := count.Load(); got != n {
		t.Errorf("expected %d deliveries before Close returned, got %d", n, got)
	}
}
