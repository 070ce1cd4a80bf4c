// Package users exposes the profile endpoints for the authenticated user.
package users

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/gorilla/mux"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/planhub/backend/internal/auth"
	"github.com/planhub/backend/internal/httputil"
)

// Handlers provides GET/PATCH /api/users/me.
type Handlers struct {
	pool *pgxpool.Pool
}

func NewHandlers(pool *pgxpool.Pool) *Handlers {
	return &Handlers{pool: pool}
}

// RegisterRoutes wires the profile endpoints onto an authenticated router.
func (h *Handlers) RegisterRoutes(r *mux.Router) {
	r.HandleFunc("/api/users/me", h.Me).Methods("GET")
	r.HandleFunc("/api/users/me", h.Update).Methods("PATCH")
}

type profile struct {
	ID                        int64   `json:"id"`
	Email                     string  `json:"email"`
	Name                      *string `json:"name"`
	AvatarURL                 *string `json:"avatar_url"`
	EmailNotificationsEnabled bool    `json:"email_notifications_enabled"`
}

const profileSelect = `SELECT id, email, name, avatar_url, email_notifications_enabled FROM users WHERE id = $1`

func (h *Handlers) get(r *http.Request, userID int64) (*profile, error) {
	var p profile
	err := h.pool.QueryRow(r.Context(), profileSelect, userID).
		Scan(&p.ID, &p.Email, &p.Name, &p.AvatarURL, &p.EmailNotificationsEnabled)
	if err != nil {
		return nil, err
	}
	return &p, nil
}

func (h *Handlers) Me(w http.ResponseWriter, r *http.Request) {
	claims, ok := auth.ClaimsFromContext(r.Context())
	if !ok {
		httputil.WriteError(w, http.StatusUnauthorized, "authentication required")
		return
	}
	p, err := h.get(r, claims.UserID)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			httputil.WriteError(w, http.StatusNotFound, "user not found")
		} else {
			httputil.WriteError(w, http.StatusInternalServerError, "internal error")
		}
		return
	}
	httputil.WriteJSON(w, http.StatusOK, p)
}

func (h *Handlers) Update(w http.ResponseWriter, r *http.Request) {
	claims, ok := auth.ClaimsFromContext(r.Context())
	if !ok {
		httputil.WriteError(w, http.StatusUnauthorized, "authentication required")
		return
	}

	var in struct {
		Name                      *string `json:"name"`
		AvatarURL                 *string `json:"avatar_url"`
		EmailNotificationsEnabled *bool   `json:"email_notifications_enabled"`
	}
	if err := json.NewDecoder(r.Body).Decode(&in); err != nil {
		httputil.WriteError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}

	_, err := h.pool.Exec(r.Context(),
		`UPDATE users
		 SET name = COALESCE($2, name),
		     avatar_url = COALESCE($3, avatar_url),
		     email_notifications_enabled = COALESCE($4, email_notifications_enabled)
		 WHERE id = $1`,
		claims.UserID, in.Name, in.AvatarURL, in.EmailNotificationsEnabled)
	if err != nil {
		httputil.WriteError(w, http.StatusInternalServerError, "failed to update profile")
		return
	}

	p, err := h.get(r, claims.UserID)
	if err != nil {
		httputil.WriteError(w, http.StatusInternalServerError, "internal error")
		return
	}
	httputil.WriteJSON(w, http.StatusOK, p)
}
