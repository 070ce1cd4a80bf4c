package invites

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/gorilla/mux"

	"github.com/planhub/backend/internal/auth"
	"github.com/planhub/backend/internal/events"
	"github.com/planhub/backend/internal/httputil"
)

// Handlers provides the invite HTTP endpoints.
type Handlers struct {
	store    *Store
	events   *events.Store
	frontURL string
}

func NewHandlers(store *Store, eventStore *events.Store, frontURL string) *Handlers {
	return &Handlers{store: store, events: eventStore, frontURL: frontURL}
}

// RegisterRoutes wires the authenticated invite endpoints.
func (h *Handlers) RegisterRoutes(r *mux.Router) {
	r.HandleFunc("/api/events/{id}/invites", h.Create).Methods("POST")
	r.HandleFunc("/api/events/{id}/invites", h.List).Methods("GET")
	r.HandleFunc("/api/invites/accept", h.Accept).Methods("POST")
	r.HandleFunc("/api/invites/revoke", h.Revoke).Methods("POST")
}

// RegisterPublicRoutes wires endpoints that need no authentication.
func (h *Handlers) RegisterPublicRoutes(r *mux.Router) {
	r.HandleFunc("/api/invites/validate", h.Validate).Methods("GET")
}

type inviteDTO struct {
	Invite
	Status    Status `json:"status"`
	UsesLeft  *int   `json:"uses_left"`
	InviteURL string `json:"invite_url"`
}

func (h *Handlers) dto(i *Invite) inviteDTO {
	return inviteDTO{
		Invite:    *i,
		Status:    i.StatusAt(time.Now().UTC()),
		UsesLeft:  i.UsesLeft(),
		InviteURL: h.frontURL + "/join?token=" + i.Token,
	}
}

// requireOwner loads the event and verifies the caller owns it.
func (h *Handlers) requireOwner(w http.ResponseWriter, r *http.Request, eventID int64) (*auth.Claims, bool) {
	claims, ok := auth.ClaimsFromContext(r.Context())
	if !ok {
		httputil.WriteError(w, http.StatusUnauthorized, "authentication required")
		return nil, false
	}
	event, err := h.events.Get(r.Context(), eventID)
	if err != nil {
		if errors.Is(err, events.ErrNotFound) {
			httputil.WriteError(w, http.StatusNotFound, "event not found")
		} else {
			httputil.WriteError(w, http.StatusInternalServerError, "internal error")
		}
		return nil, false
	}
	role, err := h.events.RoleOf(r.Context(), eventID, claims.UserID)
	if err != nil {
		httputil.WriteError(w, http.StatusInternalServerError, "internal error")
		return nil, false
	}
	if d := events.Authorize(events.Principal{UserID: claims.UserID, Role: role}, event, events.ActionOwn); !d.Allow {
		if d.Code == "not_found" {
			httputil.WriteError(w, http.StatusNotFound, "event not found")
		} else {
			httputil.WriteCode(w, http.StatusForbidden, d.Code, "only the event owner can manage invites")
		}
		return nil, false
	}
	return claims, true
}

func (h *Handlers) Create(w http.ResponseWriter, r *http.Request) {
	eventID, err := strconv.ParseInt(mux.Vars(r)["id"], 10, 64)
	if err != nil {
		httputil.WriteError(w, http.StatusNotFound, "not found")
		return
	}
	if _, ok := h.requireOwner(w, r, eventID); !ok {
		return
	}

	var in struct {
		ExpiresInHours int `json:"expires_in_hours"`
		MaxUses        int `json:"max_uses"`
	}
	if err := json.NewDecoder(r.Body).Decode(&in); err != nil {
		httputil.WriteError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	if in.ExpiresInHours < 1 || in.ExpiresInHours > 168 {
		httputil.WriteFieldErrors(w, map[string][]string{"expires_in_hours": {"must be between 1 and 168"}})
		return
	}
	if in.MaxUses < 0 || in.MaxUses > 1000 {
		httputil.WriteFieldErrors(w, map[string][]string{"max_uses": {"must be between 0 and 1000"}})
		return
	}

	invite, err := h.store.Create(r.Context(), eventID, time.Duration(in.ExpiresInHours)*time.Hour, in.MaxUses)
	if err != nil {
		httputil.WriteError(w, http.StatusInternalServerError, "failed to create invite")
		return
	}
	httputil.WriteJSON(w, http.StatusCreated, h.dto(invite))
}

func (h *Handlers) List(w http.ResponseWriter, r *http.Request) {
	eventID, err := strconv.ParseInt(mux.Vars(r)["id"], 10, 64)
	if err != nil {
		httputil.WriteError(w, http.StatusNotFound, "not found")
		return
	}
	if _, ok := h.requireOwner(w, r, eventID); !ok {
		return
	}

	invites, err := h.store.ListForEvent(r.Context(), eventID)
	if err != nil {
		httputil.WriteError(w, http.StatusInternalServerError, "failed to list invites")
		return
	}
	dtos := make([]inviteDTO, 0, len(invites))
	for i := range invites {
		dtos = append(dtos, h.dto(&invites[i]))
	}
	httputil.WriteJSON(w, http.StatusOK, dtos)
}

// Validate reports the invite status without authentication. Unknown or
// missing tokens answer 200 with status not_found and null fields.
func (h *Handlers) Validate(w http.ResponseWriter, r *http.Request) {
	notFound := map[string]interface{}{
		"status": StatusNotFound, "event": nil, "uses_left": nil, "expires_at": nil,
	}

	token := r.URL.Query().Get("token")
	if token == "" {
		httputil.WriteJSON(w, http.StatusOK, notFound)
		return
	}
	invite, err := h.store.GetByToken(r.Context(), token)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			httputil.WriteJSON(w, http.StatusOK, notFound)
			return
		}
		httputil.WriteError(w, http.StatusInternalServerError, "internal error")
		return
	}
	event, err := h.events.Get(r.Context(), invite.EventID)
	if err != nil {
		httputil.WriteError(w, http.StatusInternalServerError, "internal error")
		return
	}

	httputil.WriteJSON(w, http.StatusOK, map[string]interface{}{
		"status": invite.StatusAt(time.Now().UTC()),
		"event": map[string]interface{}{
			"id":       event.ID,
			"title":    event.Title,
			"location": event.Location,
			"start_at": event.StartAt,
		},
		"uses_left":  invite.UsesLeft(),
		"expires_at": invite.ExpiresAt,
	})
}

func (h *Handlers) Accept(w http.ResponseWriter, r *http.Request) {
	claims, ok := auth.ClaimsFromContext(r.Context())
	if !ok {
		httputil.WriteError(w, http.StatusUnauthorized, "authentication required")
		return
	}

	var in struct {
		Token string `json:"token"`
	}
	if err := json.NewDecoder(r.Body).Decode(&in); err != nil || in.Token == "" {
		httputil.WriteError(w, http.StatusBadRequest, "token is required")
		return
	}

	result, err := h.store.Accept(r.Context(), in.Token, claims.UserID)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			httputil.WriteError(w, http.StatusNotFound, "invite not found")
			return
		}
		httputil.WriteError(w, http.StatusInternalServerError, "failed to accept invite")
		return
	}
	if result.AlreadyMember {
		httputil.WriteJSON(w, http.StatusOK, map[string]interface{}{
			"message":  "already_member",
			"event_id": result.EventID,
		})
		return
	}
	if result.Status != StatusOK {
		httputil.WriteCode(w, http.StatusBadRequest, string(result.Status), "invite is not usable")
		return
	}
	httputil.WriteJSON(w, http.StatusCreated, map[string]interface{}{
		"message":  "joined",
		"event_id": result.EventID,
	})
}

func (h *Handlers) Revoke(w http.ResponseWriter, r *http.Request) {
	var in struct {
		Token string `json:"token"`
	}
	if err := json.NewDecoder(r.Body).Decode(&in); err != nil || in.Token == "" {
		httputil.WriteError(w, http.StatusBadRequest, "token is required")
		return
	}

	invite, err := h.store.GetByToken(r.Context(), in.Token)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			httputil.WriteError(w, http.StatusNotFound, "invite not found")
			return
		}
		httputil.WriteError(w, http.StatusInternalServerError, "internal error")
		return
	}
	if _, ok := h.requireOwner(w, r, invite.EventID); !ok {
		return
	}
	if err := h.store.Revoke(r.Context(), invite.ID); err != nil && !errors.Is(err, ErrNotFound) {
		httputil.WriteError(w, http.StatusInternalServerError, "failed to revoke invite")
		return
	}
	httputil.WriteJSON(w, http.StatusOK, map[string]interface{}{"message": "revoked"})
}
