package realtime

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/mux"
	"github.com/gorilla/websocket"

	"github.com/planhub/backend/internal/auth"
)

// fakeResolver is a ParticipantResolver over fixed maps.
type fakeResolver struct {
	participants map[int64]map[int64]bool // eventID -> userID -> member
	inactive     map[int64]bool
}

func (f *fakeResolver) IsParticipant(_ context.Context, eventID, userID int64) (bool, error) {
	return f.participants[eventID][userID], nil
}

func (f *fakeResolver) DisplayName(_ context.Context, userID int64) (string, error) {
	return "user", nil
}

func (f *fakeResolver) IsActiveUser(_ context.Context, userID int64) (bool, error) {
	return !f.inactive[userID], nil
}

func newTestGateway(t *testing.T) (*httptest.Server, *auth.JWTService, *MemoryBroker) {
	t.Helper()
	broker := NewMemoryBroker()
	t.Cleanup(func() { broker.Close() })

	jwtService := auth.NewJWTService("test-secret")
	resolver := &fakeResolver{
		participants: map[int64]map[int64]bool{1: {10: true, 11: true}},
		inactive:     map[int64]bool{99: true},
	}
	handler := NewWSHandler(NewHub(broker), broker, jwtService, resolver, 64*1024)

	r := mux.NewRouter()
	handler.RegisterRoutes(r)
	srv := httptest.NewServer(r)
	t.Cleanup(srv.Close)
	return srv, jwtService, broker
}

func wsURL(srv *httptest.Server, path string) string {
	return "ws" + strings.TrimPrefix(srv.URL, "http") + path
}

// dialAndReadClose connects and returns the close code delivered by the
// server during the rejection handshake.
func dialAndReadClose(t *testing.T, url string) int {
	t.Helper()
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		t.Fatalf("dial failed: %v", err)
	}
	defer conn.Close()

	conn.SetReadDeadline(time.Now().Add(2 * time.Second)) //nolint:errcheck
	_, _, err = conn.ReadMessage()
	closeErr, ok := err.(*websocket.CloseError)
	if !ok {
		t.Fatalf("expected a close error, got %v", err)
	}
	return closeErr.Code
}

func TestServeWS_RejectsMissingToken(t *testing.T) {
	srv, _, _ := newTestGateway(t)
	if code := dialAndReadClose(t, wsURL(srv, "/ws/events/1/")); code != CloseUnauthorized {
		t.Errorf("expected close code %d, got %d", CloseUnauthorized, code)
	}
}

func TestServeWS_RejectsInvalidToken(t *testing.T) {
	srv, _, _ := newTestGateway(t)
	if code := dialAndReadClose(t, wsURL(srv, "/ws/events/1/?token=garbage")); code != CloseUnauthorized {
		t.Errorf("expected close code %d, got %d", CloseUnauthorized, code)
	}
}

func TestServeWS_RejectsInactiveUser(t *testing.T) {
	srv, jwtService, _ := newTestGateway(t)
	token, err := jwtService.GenerateToken(99, "inactive@example.com")
	if err != nil {
		t.Fatalf("generate token: %v", err)
	}
	if code := dialAndReadClose(t, wsURL(srv, "/ws/events/1/?token="+token)); code != CloseUnauthorized {
		t.Errorf("expected close code %d, got %d", CloseUnauthorized, code)
	}
}

func TestServeWS_RejectsNonParticipant(t *testing.T) {
	srv, jwtService, _ := newTestGateway(t)
	token, err := jwtService.GenerateToken(42, "stranger@example.com")
	if err != nil {
		t.Fatalf("generate token: %v", err)
	}
	if code := dialAndReadClose(t, wsURL(srv, "/ws/events/1/?token="+token)); code != CloseNotParticipant {
		t.Errorf("expected close code %d, got %d", CloseNotParticipant, code)
	}
}

func TestServeWS_RejectsBadEventID(t *testing.T) {
	srv, jwtService, _ := newTestGateway(t)
	token, err := jwtService.GenerateToken(10, "member@example.com")
	if err != nil {
		t.Fatalf("generate token: %v", err)
	}
	if code := dialAndReadClose(t, wsURL(srv, "/ws/events/nope/?token="+token)); code != CloseBadEventID {
		t.Errorf("expected close code %d, got %d", CloseBadEventID, code)
	}
}

func dialParticipant(t *testing.T, srv *httptest.Server, jwtService *auth.JWTService, userID int64) *websocket.Conn {
	t.Helper()
	token, err := jwtService.GenerateToken(userID, "member@example.com")
	if err != nil {
		t.Fatalf("generate token: %v", err)
	}
	header := http.Header{"Authorization": {"Bearer " + token}}
	conn, _, err := websocket.DefaultDialer.Dial(wsURL(srv, "/ws/events/1/"), header)
	if err != nil {
		t.Fatalf("dial failed: %v", err)
	}
	t.Cleanup(func() { conn.Close() })
	return conn
}

func readFrame(t *testing.T, conn *websocket.Conn) clientFrame {
	t.Helper()
	conn.SetReadDeadline(time.Now().Add(2 * time.Second)) //nolint:errcheck
	_, raw, err := conn.ReadMessage()
	if err != nil {
		t.Fatalf("read failed: %v", err)
	}
	var frame clientFrame
	if err := json.Unmarshal(raw, &frame); err != nil {
		t.Fatalf("invalid frame %s: %v", raw, err)
	}
	return frame
}

func TestServeWS_PingPong(t *testing.T) {
	srv, jwtService, _ := newTestGateway(t)
	conn := dialParticipant(t, srv, jwtService, 10)

	if err := conn.WriteMessage(websocket.TextMessage, []byte(`{"type":"ping"}`)); err != nil {
		t.Fatalf("write failed: %v", err)
	}
	if frame := readFrame(t, conn); frame.Type != "pong" {
		t.Errorf("expected pong, got %q", frame.Type)
	}
}

func TestServeWS_TypingFanOutSkipsSender(t *testing.T) {
	srv, jwtService, _ := newTestGateway(t)
	sender := dialParticipant(t, srv, jwtService, 10)
	receiver := dialParticipant(t, srv, jwtService, 11)

	payload := `{"type":"chat.typing","payload":{"event_id":1}}`
	if err := sender.WriteMessage(websocket.TextMessage, []byte(payload)); err != nil {
		t.Fatalf("write failed: %v", err)
	}

	frame := readFrame(t, receiver)
	if frame.Type != "chat.typing" {
		t.Fatalf("expected chat.typing, got %q", frame.Type)
	}
	var typing typingPayload
	if err := json.Unmarshal(frame.Payload, &typing); err != nil {
		t.Fatalf("invalid typing payload: %v", err)
	}
	if typing.UserID != 10 || typing.EventID != 1 {
		t.Errorf("unexpected typing payload: %+v", typing)
	}

	// the sender gets no echo; a follow-up ping arriving first proves it
	if err := sender.WriteMessage(websocket.TextMessage, []byte(`{"type":"ping"}`)); err != nil {
		t.Fatalf("write failed: %v", err)
	}
	if frame := readFrame(t, sender); frame.Type != "pong" {
		t.Errorf("sender should receive pong, not a typing echo; got %q", frame.Type)
	}
}
