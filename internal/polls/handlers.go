package polls

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"

	"github.com/gorilla/mux"

	"github.com/planhub/backend/internal/auth"
	"github.com/planhub/backend/internal/events"
	"github.com/planhub/backend/internal/httputil"
)

// Handlers provides the poll HTTP endpoints.
type Handlers struct {
	svc    *Service
	events *events.Store
}

func NewHandlers(svc *Service, eventStore *events.Store) *Handlers {
	return &Handlers{svc: svc, events: eventStore}
}

// RegisterRoutes wires the authenticated poll endpoints.
func (h *Handlers) RegisterRoutes(r *mux.Router) {
	r.HandleFunc("/api/events/{id}/polls", h.Create).Methods("POST")
	r.HandleFunc("/api/events/{id}/polls", h.List).Methods("GET")
	r.HandleFunc("/api/polls/{id}", h.Get).Methods("GET")
	r.HandleFunc("/api/polls/{id}", h.Delete).Methods("DELETE")
	r.HandleFunc("/api/polls/{id}/vote", h.Vote).Methods("POST")
	r.HandleFunc("/api/polls/{id}/close", h.Close).Methods("POST")
}

func pathID(w http.ResponseWriter, r *http.Request, name string) (int64, bool) {
	id, err := strconv.ParseInt(mux.Vars(r)[name], 10, 64)
	if err != nil {
		httputil.WriteError(w, http.StatusNotFound, "not found")
		return 0, false
	}
	return id, true
}

func (h *Handlers) requireRole(w http.ResponseWriter, r *http.Request, eventID int64, action events.Action) (*auth.Claims, bool) {
	claims, ok := auth.ClaimsFromContext(r.Context())
	if !ok {
		httputil.WriteError(w, http.StatusUnauthorized, "authentication required")
		return nil, false
	}
	role, err := h.events.RoleOf(r.Context(), eventID, claims.UserID)
	if err != nil {
		httputil.WriteError(w, http.StatusInternalServerError, "internal error")
		return nil, false
	}
	d := events.Authorize(events.Principal{UserID: claims.UserID, Role: role}, nil, action)
	if !d.Allow {
		if d.Code == "not_found" {
			httputil.WriteError(w, http.StatusNotFound, "not found")
		} else {
			httputil.WriteCode(w, http.StatusForbidden, d.Code, "insufficient role")
		}
		return nil, false
	}
	return claims, true
}

// resolvePoll loads the poll and checks the caller's role in its event.
func (h *Handlers) resolvePoll(w http.ResponseWriter, r *http.Request, action events.Action) (*Poll, *auth.Claims, bool) {
	pollID, ok := pathID(w, r, "id")
	if !ok {
		return nil, nil, false
	}
	poll, err := h.svc.Store().Get(r.Context(), pollID)
	if err != nil {
		writePollError(w, err)
		return nil, nil, false
	}
	claims, ok := h.requireRole(w, r, poll.EventID, action)
	if !ok {
		return nil, nil, false
	}
	return poll, claims, true
}

func writePollError(w http.ResponseWriter, err error) {
	var verr *ValidationError
	switch {
	case errors.As(err, &verr):
		httputil.WriteCode(w, http.StatusBadRequest, verr.Code, verr.Message)
	case errors.Is(err, ErrVotingClosed):
		httputil.WriteCode(w, http.StatusBadRequest, "voting_closed", "voting is closed for this poll")
	case errors.Is(err, ErrNotFound):
		httputil.WriteError(w, http.StatusNotFound, "poll not found")
	default:
		httputil.WriteError(w, http.StatusInternalServerError, "internal error")
	}
}

func (h *Handlers) Create(w http.ResponseWriter, r *http.Request) {
	eventID, ok := pathID(w, r, "id")
	if !ok {
		return
	}
	claims, ok := h.requireRole(w, r, eventID, events.ActionManage)
	if !ok {
		return
	}

	var in CreateInput
	if err := json.NewDecoder(r.Body).Decode(&in); err != nil {
		httputil.WriteError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	dto, err := h.svc.Create(r.Context(), eventID, claims.UserID, in)
	if err != nil {
		writePollError(w, err)
		return
	}
	httputil.WriteJSON(w, http.StatusCreated, dto)
}

func (h *Handlers) List(w http.ResponseWriter, r *http.Request) {
	eventID, ok := pathID(w, r, "id")
	if !ok {
		return
	}
	claims, ok := h.requireRole(w, r, eventID, events.ActionView)
	if !ok {
		return
	}

	q := r.URL.Query()
	params := ListParams{}
	params.Page, _ = strconv.Atoi(q.Get("page"))
	params.PageSize, _ = strconv.Atoi(q.Get("page_size"))
	if raw := q.Get("is_closed"); raw != "" {
		closed := raw == "true" || raw == "1"
		params.IsClosed = &closed
	}

	polls, total, err := h.svc.Store().List(r.Context(), eventID, params)
	if err != nil {
		writePollError(w, err)
		return
	}
	results := make([]PollDTO, 0, len(polls))
	for i := range polls {
		dto, err := h.svc.Store().ReadDTO(r.Context(), &polls[i], claims.UserID)
		if err != nil {
			writePollError(w, err)
			return
		}
		results = append(results, *dto)
	}
	httputil.WriteJSON(w, http.StatusOK, map[string]interface{}{
		"results": results,
		"count":   total,
	})
}

func (h *Handlers) Get(w http.ResponseWriter, r *http.Request) {
	poll, claims, ok := h.resolvePoll(w, r, events.ActionView)
	if !ok {
		return
	}
	dto, err := h.svc.Store().ReadDTO(r.Context(), poll, claims.UserID)
	if err != nil {
		writePollError(w, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, dto)
}

func (h *Handlers) Vote(w http.ResponseWriter, r *http.Request) {
	poll, claims, ok := h.resolvePoll(w, r, events.ActionView)
	if !ok {
		return
	}
	var in struct {
		OptionIDs []int64 `json:"option_ids"`
	}
	if err := json.NewDecoder(r.Body).Decode(&in); err != nil {
		httputil.WriteError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	dto, err := h.svc.Vote(r.Context(), poll, claims.UserID, in.OptionIDs)
	if err != nil {
		writePollError(w, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, dto)
}

func (h *Handlers) Close(w http.ResponseWriter, r *http.Request) {
	poll, claims, ok := h.resolvePoll(w, r, events.ActionManage)
	if !ok {
		return
	}
	if _, err := h.svc.Close(r.Context(), poll); err != nil {
		writePollError(w, err)
		return
	}
	fresh, err := h.svc.Store().Get(r.Context(), poll.ID)
	if err != nil {
		writePollError(w, err)
		return
	}
	dto, err := h.svc.Store().ReadDTO(r.Context(), fresh, claims.UserID)
	if err != nil {
		writePollError(w, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, dto)
}

func (h *Handlers) Delete(w http.ResponseWriter, r *http.Request) {
	poll, _, ok := h.resolvePoll(w, r, events.ActionManage)
	if !ok {
		return
	}
	if err := h.svc.Delete(r.Context(), poll); err != nil {
		writePollError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
