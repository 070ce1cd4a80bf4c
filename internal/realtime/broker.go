// Package realtime carries committed mutations to connected WebSocket
// clients. Services publish through the Hub; the broker fans out to every
// subscriber of the event's group. The broker is advisory: a missed
// message costs a live update, never consistency.
package realtime

import (
	"context"
	"encoding/json"
	"fmt"
)

// GroupName builds the broker group for one event's subscribers.
func GroupName(eventID int64) string {
	return fmt.Sprintf("event:%d", eventID)
}

// BroadcastMessage is the envelope relayed through the broker. Subscribing
// connections unwrap it to the client-facing {type, payload} frame.
type BroadcastMessage struct {
	Type        string          `json:"type"` // always "broadcast"
	MessageType string          `json:"message_type"`
	Payload     json.RawMessage `json:"payload"`
	SenderID    int64           `json:"sender_id,omitempty"`
}

// Handler receives broadcast messages for a subscribed group.
type Handler func(msg BroadcastMessage)

// Broker is the pub/sub substrate. Implementations must deliver messages
// of one group to a single subscriber in publish order; MemoryBroker,
// RedisBroker and KafkaBroker are drop-in replacements selected at startup.
type Broker interface {
	// Publish sends a message to every subscriber of the group.
	Publish(ctx context.Context, group string, msg BroadcastMessage) error

	// Subscribe registers a handler for the group and returns a
	// subscription id for Unsubscribe.
	Subscribe(group string, handler Handler) (string, error)

	// Unsubscribe removes a previously registered handler.
	Unsubscribe(group, id string)

	// Close releases connections and stops dispatch goroutines.
	Close() error
}
