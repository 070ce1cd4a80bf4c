package realtime

import (
	"context"
	"log"
	"net/http"
	"strconv"
	"time"

	"github.com/gorilla/mux"
	"github.com/gorilla/websocket"

	"github.com/planhub/backend/internal/auth"
	"github.com/planhub/backend/internal/metrics"
	"github.com/planhub/backend/internal/middleware"
)

// Close codes for a rejected handshake. The connection is upgraded first
// so a browser client can observe the code.
const (
	CloseBadEventID     = 4400
	CloseUnauthorized   = 4401
	CloseNotParticipant = 4403
)

// ParticipantResolver answers whether a user belongs to an event and with
// which display name; backed by the events store.
type ParticipantResolver interface {
	IsParticipant(ctx context.Context, eventID, userID int64) (bool, error)
	DisplayName(ctx context.Context, userID int64) (string, error)
	IsActiveUser(ctx context.Context, userID int64) (bool, error)
}

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin:     CheckOrigin,
}

// WSHandler upgrades HTTP connections to WebSocket, authorizes them against
// the event and spawns the read/write pumps.
type WSHandler struct {
	hub            *Hub
	broker         Broker
	jwtService     *auth.JWTService
	resolver       ParticipantResolver
	maxMessageSize int
}

func NewWSHandler(hub *Hub, broker Broker, jwtService *auth.JWTService, resolver ParticipantResolver, maxMessageSize int) *WSHandler {
	return &WSHandler{
		hub:            hub,
		broker:         broker,
		jwtService:     jwtService,
		resolver:       resolver,
		maxMessageSize: maxMessageSize,
	}
}

// RegisterRoutes wires the WebSocket endpoint.
func (h *WSHandler) RegisterRoutes(r *mux.Router) {
	r.HandleFunc("/ws/events/{event_id}/", h.ServeWS).Methods(http.MethodGet)
	r.HandleFunc("/ws/events/{event_id}", h.ServeWS).Methods(http.MethodGet)
}

// ServeWS upgrades GET /ws/events/{event_id}/ to a WebSocket connection.
// The access token is read from the Authorization header or the token
// query parameter. Rejections close with 4400 (bad event id), 4401
// (unauthenticated or inactive) or 4403 (not a participant).
func (h *WSHandler) ServeWS(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		// upgrader already wrote the error response.
		return
	}

	eventID, err := strconv.ParseInt(mux.Vars(r)["event_id"], 10, 64)
	if err != nil {
		closeWithCode(conn, CloseBadEventID, "invalid event id")
		return
	}

	token := middleware.BearerToken(r)
	if token == "" {
		closeWithCode(conn, CloseUnauthorized, "missing token")
		return
	}
	claims, err := h.jwtService.ValidateToken(token)
	if err != nil {
		closeWithCode(conn, CloseUnauthorized, "invalid token")
		return
	}

	ctx := r.Context()
	active, err := h.resolver.IsActiveUser(ctx, claims.UserID)
	if err != nil || !active {
		closeWithCode(conn, CloseUnauthorized, "inactive user")
		return
	}

	ok, err := h.resolver.IsParticipant(ctx, eventID, claims.UserID)
	if err != nil {
		log.Printf("ws: participant check for user %d event %d failed: %v", claims.UserID, eventID, err)
		closeWithCode(conn, CloseNotParticipant, "not a participant")
		return
	}
	if !ok {
		closeWithCode(conn, CloseNotParticipant, "not a participant")
		return
	}

	name, err := h.resolver.DisplayName(ctx, claims.UserID)
	if err != nil {
		name = claims.Email
	}

	client := NewClient(h.hub, h.broker, conn, claims.UserID, name, eventID, h.maxMessageSize)
	if err := client.Subscribe(); err != nil {
		log.Printf("ws: subscribe client %s to event %d failed: %v", client.ID, eventID, err)
		closeWithCode(conn, CloseUnauthorized, "subscription failed")
		return
	}

	metrics.ActiveConnections.Inc()
	log.Printf("ws: user %d connected to event %d (client=%s)", claims.UserID, eventID, client.ID)

	go client.WritePump()
	go client.ReadPump()
}

func closeWithCode(conn *websocket.Conn, code int, reason string) {
	msg := websocket.FormatCloseMessage(code, reason)
	conn.WriteControl(websocket.CloseMessage, msg, time.Now().Add(time.Second)) //nolint:errcheck
	conn.Close()
}
