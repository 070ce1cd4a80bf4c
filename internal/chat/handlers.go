package chat

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"

	"github.com/gorilla/mux"

	"github.com/planhub/backend/internal/auth"
	"github.com/planhub/backend/internal/events"
	"github.com/planhub/backend/internal/httputil"
	"github.com/planhub/backend/internal/realtime"
)

// Service layers broadcasting over the store.
type Service struct {
	store *Store
	hub   *realtime.Hub
}

func NewService(store *Store, hub *realtime.Hub) *Service {
	return &Service{store: store, hub: hub}
}

func (s *Service) Store() *Store { return s.store }

// Send stores the message and fans it out. The broadcast is not
// self-suppressed: the author's connection receives it too.
func (s *Service) Send(ctx context.Context, eventID, authorID int64, text string) (*Message, error) {
	msg, err := s.store.Send(ctx, eventID, authorID, text)
	if err != nil {
		return nil, err
	}
	s.hub.Publish(ctx, eventID, "chat.message", msg)
	return msg, nil
}

// Handlers provides the chat HTTP endpoints.
type Handlers struct {
	svc    *Service
	events *events.Store
}

func NewHandlers(svc *Service, eventStore *events.Store) *Handlers {
	return &Handlers{svc: svc, events: eventStore}
}

// RegisterRoutes wires the authenticated chat endpoints.
func (h *Handlers) RegisterRoutes(r *mux.Router) {
	r.HandleFunc("/api/events/{id}/messages", h.List).Methods("GET")
	r.HandleFunc("/api/events/{id}/messages", h.Send).Methods("POST")
	r.HandleFunc("/api/messages/{id}", h.Delete).Methods("DELETE")
}

func (h *Handlers) requireParticipant(w http.ResponseWriter, r *http.Request, eventID int64) (*auth.Claims, events.Role, bool) {
	claims, ok := auth.ClaimsFromContext(r.Context())
	if !ok {
		httputil.WriteError(w, http.StatusUnauthorized, "authentication required")
		return nil, events.RoleNone, false
	}
	role, err := h.events.RoleOf(r.Context(), eventID, claims.UserID)
	if err != nil {
		httputil.WriteError(w, http.StatusInternalServerError, "internal error")
		return nil, events.RoleNone, false
	}
	if role == events.RoleNone {
		httputil.WriteError(w, http.StatusNotFound, "not found")
		return nil, events.RoleNone, false
	}
	return claims, role, true
}

func (h *Handlers) List(w http.ResponseWriter, r *http.Request) {
	eventID, err := strconv.ParseInt(mux.Vars(r)["id"], 10, 64)
	if err != nil {
		httputil.WriteError(w, http.StatusNotFound, "not found")
		return
	}
	if _, _, ok := h.requireParticipant(w, r, eventID); !ok {
		return
	}

	q := r.URL.Query()
	params := ListParams{}
	params.BeforeID, _ = strconv.ParseInt(q.Get("before_id"), 10, 64)
	params.AfterID, _ = strconv.ParseInt(q.Get("after_id"), 10, 64)
	params.PageSize, _ = strconv.Atoi(q.Get("page_size"))

	messages, err := h.svc.Store().List(r.Context(), eventID, params)
	if err != nil {
		httputil.WriteError(w, http.StatusInternalServerError, "failed to list messages")
		return
	}
	httputil.WriteJSON(w, http.StatusOK, messages)
}

func (h *Handlers) Send(w http.ResponseWriter, r *http.Request) {
	eventID, err := strconv.ParseInt(mux.Vars(r)["id"], 10, 64)
	if err != nil {
		httputil.WriteError(w, http.StatusNotFound, "not found")
		return
	}
	claims, _, ok := h.requireParticipant(w, r, eventID)
	if !ok {
		return
	}

	var in struct {
		Text string `json:"text"`
	}
	if err := json.NewDecoder(r.Body).Decode(&in); err != nil {
		httputil.WriteError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}

	msg, err := h.svc.Send(r.Context(), eventID, claims.UserID, in.Text)
	if err != nil {
		switch {
		case errors.Is(err, ErrEmptyText):
			httputil.WriteFieldErrors(w, map[string][]string{"text": {"text must not be empty"}})
		case errors.Is(err, ErrTextTooLong):
			httputil.WriteFieldErrors(w, map[string][]string{"text": {"text must be at most 4000 characters"}})
		case errors.Is(err, ErrRateLimited):
			httputil.WriteCode(w, http.StatusTooManyRequests, "rate_limited", "you are sending messages too fast")
		default:
			httputil.WriteError(w, http.StatusInternalServerError, "failed to send message")
		}
		return
	}
	httputil.WriteJSON(w, http.StatusCreated, msg)
}

// Delete removes a message. Authors may delete their own; organizers may
// delete any message in their event. No broadcast: clients tolerate
// disappearing ids on refresh.
func (h *Handlers) Delete(w http.ResponseWriter, r *http.Request) {
	messageID, err := strconv.ParseInt(mux.Vars(r)["id"], 10, 64)
	if err != nil {
		httputil.WriteError(w, http.StatusNotFound, "not found")
		return
	}
	msg, err := h.svc.Store().Get(r.Context(), messageID)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			httputil.WriteError(w, http.StatusNotFound, "message not found")
		} else {
			httputil.WriteError(w, http.StatusInternalServerError, "internal error")
		}
		return
	}
	claims, role, ok := h.requireParticipant(w, r, msg.EventID)
	if !ok {
		return
	}
	if msg.AuthorID != claims.UserID && role != events.RoleOrganizer {
		httputil.WriteCode(w, http.StatusForbidden, "forbidden", "only the author or an organizer can delete a message")
		return
	}
	if err := h.svc.Store().Delete(r.Context(), messageID); err != nil && !errors.Is(err, ErrNotFound) {
		httputil.WriteError(w, http.StatusInternalServerError, "failed to delete message")
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
