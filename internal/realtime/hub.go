package realtime

import (
	"context"
	"encoding/json"
	"log"
)

// Hub is the thin service-facing adapter over the broker. Services call
// Publish after their transaction commits; failures are logged and
// swallowed so a broker outage never rolls back committed state.
type Hub struct {
	broker Broker
}

func NewHub(broker Broker) *Hub {
	return &Hub{broker: broker}
}

// Publish broadcasts one observable change to every subscriber of the
// event's group.
func (h *Hub) Publish(ctx context.Context, eventID int64, messageType string, payload interface{}) {
	h.publish(ctx, eventID, messageType, payload, 0)
}

// PublishFrom is Publish with an originating user attached; connections
// use the sender id for self-echo suppression (typing only).
func (h *Hub) PublishFrom(ctx context.Context, eventID int64, messageType string, payload interface{}, senderID int64) {
	h.publish(ctx, eventID, messageType, payload, senderID)
}

func (h *Hub) publish(ctx context.Context, eventID int64, messageType string, payload interface{}, senderID int64) {
	raw, err := json.Marshal(payload)
	if err != nil {
		log.Printf("realtime: marshal %s payload for event %d: %v", messageType, eventID, err)
		return
	}
	msg := BroadcastMessage{
		Type:        "broadcast",
		MessageType: messageType,
		Payload:     raw,
		SenderID:    senderID,
	}
	if err := h.broker.Publish(ctx, GroupName(eventID), msg); err != nil {
		log.Printf("realtime: publish %s to event %d failed: %v", messageType, eventID, err)
	}
}
