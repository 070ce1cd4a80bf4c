package realtime

import (
	"context"
	"encoding/json"
	"log"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"golang.org/x/time/rate"

	"github.com/planhub/backend/internal/metrics"
)

const (
	// writeWait is the maximum time allowed to write a message to the peer.
	writeWait = 10 * time.Second
	// pongWait is the maximum time to wait for a pong reply from the peer.
	pongWait = 60 * time.Second
	// pingPeriod must be less than pongWait.
	pingPeriod = (pongWait * 9) / 10
	// maxInboundSize caps client->server frames.
	maxInboundSize = 4096
	// sendQueueSize bounds the per-connection outbound queue.
	sendQueueSize = 256
)

// clientFrame is the JSON envelope on the wire in both directions.
type clientFrame struct {
	Type    string          `json:"type"`
	Payload json.RawMessage `json:"payload,omitempty"`
}

type typingPayload struct {
	EventID  int64  `json:"event_id"`
	UserID   int64  `json:"user_id"`
	UserName string `json:"user_name"`
}

// Client is one WebSocket connection subscribed to a single event group.
type Client struct {
	ID       string
	UserID   int64
	UserName string
	EventID  int64

	conn           *websocket.Conn
	send           chan []byte
	hub            *Hub
	broker         Broker
	subID          string
	maxMessageSize int

	// typing indicator limit: 1 event per second per connection
	typingLimiter *rate.Limiter

	mu     sync.Mutex
	closed bool
}

func NewClient(hub *Hub, broker Broker, conn *websocket.Conn, userID int64, userName string, eventID int64, maxMessageSize int) *Client {
	return &Client{
		ID:             uuid.New().String(),
		UserID:         userID,
		UserName:       userName,
		EventID:        eventID,
		conn:           conn,
		send:           make(chan []byte, sendQueueSize),
		hub:            hub,
		broker:         broker,
		maxMessageSize: maxMessageSize,
		typingLimiter:  rate.NewLimiter(rate.Limit(1), 1),
	}
}

// Subscribe attaches the client to its event group on the broker.
func (c *Client) Subscribe() error {
	id, err := c.broker.Subscribe(GroupName(c.EventID), c.HandleBroadcast)
	if err != nil {
		return err
	}
	c.subID = id
	return nil
}

func (c *Client) unsubscribe() {
	if c.subID != "" {
		c.broker.Unsubscribe(GroupName(c.EventID), c.subID)
		c.subID = ""
	}
}

// HandleBroadcast unwraps a broker envelope to the client frame and
// enqueues it. Typing events from the client's own user are suppressed;
// frames over the configured size cap are dropped whole.
func (c *Client) HandleBroadcast(msg BroadcastMessage) {
	if msg.MessageType == "chat.typing" && msg.SenderID != 0 && msg.SenderID == c.UserID {
		return
	}

	data, err := json.Marshal(clientFrame{Type: msg.MessageType, Payload: msg.Payload})
	if err != nil {
		log.Printf("ws: client %s: marshal %s frame: %v", c.ID, msg.MessageType, err)
		return
	}
	if len(data) > c.maxMessageSize {
		log.Printf("ws: client %s: %s frame exceeds max size (%d > %d), dropping",
			c.ID, msg.MessageType, len(data), c.maxMessageSize)
		return
	}
	c.enqueue(data)
}

// enqueue places data on the send queue. When the queue is full the oldest
// pending message is discarded so the newest state wins. Delivery racing a
// disconnect is dropped.
func (c *Client) enqueue(data []byte) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return
	}
	for {
		select {
		case c.send <- data:
			return
		default:
		}
		select {
		case <-c.send:
			metrics.DroppedMessages.Inc()
		default:
		}
	}
}

// ReadPump pumps messages from the WebSocket connection. It runs in its
// own goroutine per client and handles the ping and chat.typing client
// messages; anything else is logged and ignored.
func (c *Client) ReadPump() {
	defer func() {
		c.unsubscribe()
		c.mu.Lock()
		c.closed = true
		close(c.send)
		c.mu.Unlock()
		c.conn.Close()
		metrics.ActiveConnections.Dec()
	}()

	c.conn.SetReadLimit(maxInboundSize)
	c.conn.SetReadDeadline(time.Now().Add(pongWait)) //nolint:errcheck
	c.conn.SetPongHandler(func(string) error {
		c.conn.SetReadDeadline(time.Now().Add(pongWait)) //nolint:errcheck
		return nil
	})

	for {
		_, raw, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				log.Printf("ws: client %s read error: %v", c.ID, err)
			}
			return
		}

		var frame clientFrame
		if err := json.Unmarshal(raw, &frame); err != nil {
			log.Printf("ws: client %s sent invalid frame: %v", c.ID, err)
			continue
		}

		switch frame.Type {
		case "ping":
			pong, _ := json.Marshal(clientFrame{Type: "pong"})
			c.enqueue(pong)
		case "chat.typing":
			c.handleTyping(frame.Payload)
		default:
			log.Printf("ws: client %s: ignoring frame type %q", c.ID, frame.Type)
		}
	}
}

// handleTyping validates the payload's event id against the connection's
// event and broadcasts rate-limited typing indicators to the other
// subscribers. Excess and mismatched messages are dropped silently.
func (c *Client) handleTyping(raw json.RawMessage) {
	var payload struct {
		EventID int64 `json:"event_id"`
	}
	if err := json.Unmarshal(raw, &payload); err != nil || payload.EventID != c.EventID {
		return
	}
	if !c.typingLimiter.Allow() {
		return
	}

	c.hub.PublishFrom(context.Background(), c.EventID, "chat.typing", typingPayload{
		EventID:  c.EventID,
		UserID:   c.UserID,
		UserName: c.UserName,
	}, c.UserID)
}

// WritePump pumps queued messages to the WebSocket connection and keeps
// the connection alive with protocol pings.
func (c *Client) WritePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case msg, ok := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait)) //nolint:errcheck
			if !ok {
				c.conn.WriteMessage(websocket.CloseMessage, []byte{}) //nolint:errcheck
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, msg); err != nil {
				return
			}

		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait)) //nolint:errcheck
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
