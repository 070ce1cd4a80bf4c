package realtime

import (
	"encoding/json"
	"testing"
)

func newTestClient(t *testing.T, userID, eventID int64, maxSize int) (*Client, *MemoryBroker) {
	t.Helper()
	broker := NewMemoryBroker()
	t.Cleanup(func() { broker.Close() })
	hub := NewHub(broker)
	return NewClient(hub, broker, nil, userID, "tester", eventID, maxSize), broker
}

func drain(c *Client) [][]byte {
	out := [][]byte{}
	for {
		select {
		case msg := <-c.send:
			out = append(out, msg)
		default:
			return out
		}
	}
}

func TestHandleBroadcast_SuppressesOwnTyping(t *testing.T) {
	c, _ := newTestClient(t, 7, 1, 64*1024)

	c.HandleBroadcast(BroadcastMessage{
		MessageType: "chat.typing",
		Payload:     json.RawMessage(`{"event_id":1,"user_id":7}`),
		SenderID:    7,
	})
	if got := len(drain(c)); got != 0 {
		t.Errorf("own typing echo should be suppressed, got %d frames", got)
	}

	c.HandleBroadcast(BroadcastMessage{
		MessageType: "chat.typing",
		Payload:     json.RawMessage(`{"event_id":1,"user_id":8}`),
		SenderID:    8,
	})
	if got := len(drain(c)); got != 1 {
		t.Errorf("typing from another user should be delivered, got %d frames", got)
	}
}

func TestHandleBroadcast_ChatMessageNotSuppressed(t *testing.T) {
	// only typing is self-suppressed; the author still sees their own
	// chat messages
	c, _ := newTestClient(t, 7, 1, 64*1024)

	c.HandleBroadcast(BroadcastMessage{
		MessageType: "chat.message",
		Payload:     json.RawMessage(`{"text":"hi"}`),
		SenderID:    7,
	})

	frames := drain(c)
	if len(frames) != 1 {
		t.Fatalf("expected 1 frame, got %d", len(frames))
	}
	var frame clientFrame
	if err := json.Unmarshal(frames[0], &frame); err != nil {
		t.Fatalf("frame is not valid JSON: %v", err)
	}
	if frame.Type != "chat.message" {
		t.Errorf("expected type chat.message, got %q", frame.Type)
	}
}

func TestHandleBroadcast_DropsOversizeFrames(t *testing.T) {
	c, _ := newTestClient(t, 7, 1, 64)

	big := make([]byte, 256)
	for i := range big {
		big[i] = 'x'
	}
	payload, _ := json.Marshal(map[string]string{"text": string(big)})

	c.HandleBroadcast(BroadcastMessage{MessageType: "chat.message", Payload: payload})
	if got := len(drain(c)); got != 0 {
		t.Errorf("oversize frame should be dropped whole, got %d frames", got)
	}

	c.HandleBroadcast(BroadcastMessage{MessageType: "pong"})
	if got := len(drain(c)); got != 1 {
		t.Errorf("small frame should still be delivered, got %d frames", got)
	}
}

func TestEnqueue_NewestWinsOnOverflow(t *testing.T) {
	c, _ := newTestClient(t, 7, 1, 64*1024)

	for i := 0; i < sendQueueSize+10; i++ {
		data, _ := json.Marshal(clientFrame{Type: "task.updated", Payload: json.RawMessage(itoaJSON(i))})
		c.enqueue(data)
	}

	frames := drain(c)
	if len(frames) != sendQueueSize {
		t.Fatalf("queue should be bounded at %d, got %d", sendQueueSize, len(frames))
	}

	var last clientFrame
	if err := json.Unmarshal(frames[len(frames)-1], &last); err != nil {
		t.Fatalf("last frame is not valid JSON: %v", err)
	}
	want := itoaJSON(sendQueueSize + 9)
	if string(last.Payload) != want {
		t.Errorf("newest message must survive overflow: got %s, want %s", last.Payload, want)
	}
}

func TestEnqueue_AfterCloseIsDropped(t *testing.T) {
	c, _ := newTestClient(t, 7, 1, 64*1024)

	c.mu.Lock()
	c.closed = true
	close(c.send)
	c.mu.Unlock()

	// must not panic on the closed channel
	c.enqueue([]byte(`{"type":"pong"}`))
}

func itoaJSON(n int) string {
	b, _ := json.Marshal(n)
	return string(b)
}
