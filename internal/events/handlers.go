package events

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/gorilla/mux"

	"github.com/planhub/backend/internal/auth"
	"github.com/planhub/backend/internal/httputil"
)

// Handlers provides the event and participant HTTP endpoints.
type Handlers struct {
	store *Store
}

func NewHandlers(store *Store) *Handlers {
	return &Handlers{store: store}
}

// RegisterRoutes wires the endpoints onto an authenticated router.
func (h *Handlers) RegisterRoutes(r *mux.Router) {
	r.HandleFunc("/api/events", h.List).Methods("GET")
	r.HandleFunc("/api/events", h.Create).Methods("POST")
	r.HandleFunc("/api/events/{id}", h.Get).Methods("GET")
	r.HandleFunc("/api/events/{id}", h.Update).Methods("PATCH", "PUT")
	r.HandleFunc("/api/events/{id}", h.Delete).Methods("DELETE")
	r.HandleFunc("/api/events/{id}/participants", h.ListParticipants).Methods("GET")
	r.HandleFunc("/api/events/{id}/participants/{participant_id}", h.UpdateRole).Methods("PATCH")
	r.HandleFunc("/api/events/{id}/participants/{participant_id}", h.RemoveParticipant).Methods("DELETE")
}

type eventInput struct {
	Title       *string    `json:"title"`
	Description *string    `json:"description"`
	Category    *string    `json:"category"`
	Location    *string    `json:"location"`
	StartAt     *time.Time `json:"start_at"`
	EndAt       *time.Time `json:"end_at"`
}

func validateRange(startAt, endAt *time.Time) map[string][]string {
	if startAt != nil && endAt != nil && endAt.Before(*startAt) {
		return map[string][]string{"end_at": {"end_at must not be before start_at"}}
	}
	return nil
}

// pathID parses an integer path variable, returning false after writing a
// 404 when it is absent or malformed.
func pathID(w http.ResponseWriter, r *http.Request, name string) (int64, bool) {
	id, err := strconv.ParseInt(mux.Vars(r)[name], 10, 64)
	if err != nil {
		httputil.WriteError(w, http.StatusNotFound, "not found")
		return 0, false
	}
	return id, true
}

// authorize loads the event and checks the caller's role against the
// action. On denial it writes the response and returns ok=false.
func (h *Handlers) authorize(w http.ResponseWriter, r *http.Request, eventID int64, action Action) (*Event, *auth.Claims, bool) {
	claims, ok := auth.ClaimsFromContext(r.Context())
	if !ok {
		httputil.WriteError(w, http.StatusUnauthorized, "authentication required")
		return nil, nil, false
	}

	event, err := h.store.Get(r.Context(), eventID)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			httputil.WriteError(w, http.StatusNotFound, "event not found")
		} else {
			httputil.WriteError(w, http.StatusInternalServerError, "internal error")
		}
		return nil, nil, false
	}

	role, err := h.store.RoleOf(r.Context(), eventID, claims.UserID)
	if err != nil {
		httputil.WriteError(w, http.StatusInternalServerError, "internal error")
		return nil, nil, false
	}

	decision := Authorize(Principal{UserID: claims.UserID, Role: role}, event, action)
	if !decision.Allow {
		if decision.Code == "not_found" {
			httputil.WriteError(w, http.StatusNotFound, "event not found")
		} else {
			httputil.WriteCode(w, http.StatusForbidden, decision.Code, "insufficient role")
		}
		return nil, nil, false
	}
	event.MyRole = role
	return event, claims, true
}

func (h *Handlers) Create(w http.ResponseWriter, r *http.Request) {
	claims, ok := auth.ClaimsFromContext(r.Context())
	if !ok {
		httputil.WriteError(w, http.StatusUnauthorized, "authentication required")
		return
	}

	var in eventInput
	if err := json.NewDecoder(r.Body).Decode(&in); err != nil {
		httputil.WriteError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	if in.Title == nil || *in.Title == "" {
		httputil.WriteFieldErrors(w, map[string][]string{"title": {"title is required"}})
		return
	}
	if fields := validateRange(in.StartAt, in.EndAt); fields != nil {
		httputil.WriteFieldErrors(w, fields)
		return
	}

	e := &Event{Title: *in.Title, StartAt: in.StartAt, EndAt: in.EndAt}
	if in.Description != nil {
		e.Description = *in.Description
	}
	if in.Category != nil {
		e.Category = *in.Category
	}
	if in.Location != nil {
		e.Location = *in.Location
	}

	created, err := h.store.Create(r.Context(), claims.UserID, e)
	if err != nil {
		httputil.WriteError(w, http.StatusInternalServerError, "failed to create event")
		return
	}
	httputil.WriteJSON(w, http.StatusCreated, created)
}

func (h *Handlers) List(w http.ResponseWriter, r *http.Request) {
	claims, ok := auth.ClaimsFromContext(r.Context())
	if !ok {
		httputil.WriteError(w, http.StatusUnauthorized, "authentication required")
		return
	}
	events, err := h.store.ListForUser(r.Context(), claims.UserID)
	if err != nil {
		httputil.WriteError(w, http.StatusInternalServerError, "failed to list events")
		return
	}
	httputil.WriteJSON(w, http.StatusOK, events)
}

func (h *Handlers) Get(w http.ResponseWriter, r *http.Request) {
	eventID, ok := pathID(w, r, "id")
	if !ok {
		return
	}
	event, _, ok := h.authorize(w, r, eventID, ActionView)
	if !ok {
		return
	}
	httputil.WriteJSON(w, http.StatusOK, event)
}

func (h *Handlers) Update(w http.ResponseWriter, r *http.Request) {
	eventID, ok := pathID(w, r, "id")
	if !ok {
		return
	}
	event, _, ok := h.authorize(w, r, eventID, ActionManage)
	if !ok {
		return
	}

	var in eventInput
	if err := json.NewDecoder(r.Body).Decode(&in); err != nil {
		httputil.WriteError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	if in.Title != nil {
		if *in.Title == "" {
			httputil.WriteFieldErrors(w, map[string][]string{"title": {"title must not be empty"}})
			return
		}
		event.Title = *in.Title
	}
	if in.Description != nil {
		event.Description = *in.Description
	}
	if in.Category != nil {
		event.Category = *in.Category
	}
	if in.Location != nil {
		event.Location = *in.Location
	}
	if in.StartAt != nil {
		event.StartAt = in.StartAt
	}
	if in.EndAt != nil {
		event.EndAt = in.EndAt
	}
	if fields := validateRange(event.StartAt, event.EndAt); fields != nil {
		httputil.WriteFieldErrors(w, fields)
		return
	}

	updated, err := h.store.Update(r.Context(), event)
	if err != nil {
		httputil.WriteError(w, http.StatusInternalServerError, "failed to update event")
		return
	}
	updated.MyRole = event.MyRole
	httputil.WriteJSON(w, http.StatusOK, updated)
}

func (h *Handlers) Delete(w http.ResponseWriter, r *http.Request) {
	eventID, ok := pathID(w, r, "id")
	if !ok {
		return
	}
	if _, _, ok := h.authorize(w, r, eventID, ActionOwn); !ok {
		return
	}
	if err := h.store.Delete(r.Context(), eventID); err != nil {
		if errors.Is(err, ErrNotFound) {
			httputil.WriteError(w, http.StatusNotFound, "event not found")
			return
		}
		httputil.WriteError(w, http.StatusInternalServerError, "failed to delete event")
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handlers) ListParticipants(w http.ResponseWriter, r *http.Request) {
	eventID, ok := pathID(w, r, "id")
	if !ok {
		return
	}
	if _, _, ok := h.authorize(w, r, eventID, ActionManage); !ok {
		return
	}

	q := r.URL.Query()
	page, _ := strconv.Atoi(q.Get("page"))
	pageSize, _ := strconv.Atoi(q.Get("page_size"))
	orderBy := q.Get("ordering")
	if orderBy != "role" {
		orderBy = "name"
	}

	participants, total, err := h.store.ListParticipants(r.Context(), eventID, ParticipantListParams{
		Page:     page,
		PageSize: pageSize,
		OrderBy:  orderBy,
	})
	if err != nil {
		httputil.WriteError(w, http.StatusInternalServerError, "failed to list participants")
		return
	}
	httputil.WriteJSON(w, http.StatusOK, map[string]interface{}{
		"results": participants,
		"count":   total,
	})
}

func (h *Handlers) UpdateRole(w http.ResponseWriter, r *http.Request) {
	eventID, ok := pathID(w, r, "id")
	if !ok {
		return
	}
	participantID, ok := pathID(w, r, "participant_id")
	if !ok {
		return
	}
	_, claims, ok := h.authorize(w, r, eventID, ActionManage)
	if !ok {
		return
	}

	var in struct {
		Role Role `json:"role"`
	}
	if err := json.NewDecoder(r.Body).Decode(&in); err != nil {
		httputil.WriteError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	if in.Role != RoleOrganizer && in.Role != RoleMember {
		httputil.WriteFieldErrors(w, map[string][]string{"role": {"role must be organizer or member"}})
		return
	}

	p, err := h.store.UpdateRole(r.Context(), eventID, participantID, claims.UserID, in.Role)
	if err != nil {
		writeParticipantError(w, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, p)
}

func (h *Handlers) RemoveParticipant(w http.ResponseWriter, r *http.Request) {
	eventID, ok := pathID(w, r, "id")
	if !ok {
		return
	}
	participantID, ok := pathID(w, r, "participant_id")
	if !ok {
		return
	}
	_, claims, ok := h.authorize(w, r, eventID, ActionManage)
	if !ok {
		return
	}

	if err := h.store.RemoveParticipant(r.Context(), eventID, participantID, claims.UserID); err != nil {
		writeParticipantError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func writeParticipantError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, ErrNotFound):
		httputil.WriteError(w, http.StatusNotFound, "participant not found")
	case errors.Is(err, ErrSelfLastOrganizer):
		httputil.WriteCode(w, http.StatusForbidden, "self_last_organizer", "you are the only organizer of this event")
	case errors.Is(err, ErrLastOrganizer):
		httputil.WriteCode(w, http.StatusForbidden, "last_organizer", "an event must keep at least one organizer")
	default:
		httputil.WriteError(w, http.StatusInternalServerError, "internal error")
	}
}
