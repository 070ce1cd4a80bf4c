package auth

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/gorilla/mux"

	"github.com/planhub/backend/internal/httputil"
)

type Handlers struct {
	service *Service
}

func NewHandlers(service *Service) *Handlers {
	return &Handlers{service: service}
}

// RegisterRoutes registers public auth routes (no auth middleware required).
func (h *Handlers) RegisterRoutes(r *mux.Router) {
	api := r.PathPrefix("/api/auth").Subrouter()
	api.HandleFunc("/register", h.handleRegister).Methods("POST")
	api.HandleFunc("/resend-confirmation", h.handleResendConfirmation).Methods("POST")
	api.HandleFunc("/confirm", h.handleConfirm).Methods("GET")
	api.HandleFunc("/login", h.handleLogin).Methods("POST")
	api.HandleFunc("/refresh", h.handleRefresh).Methods("POST")
}

// RegisterProtectedRoutes registers auth routes that require authentication.
func (h *Handlers) RegisterProtectedRoutes(r *mux.Router) {
	r.HandleFunc("/api/auth/me", h.handleMe).Methods("GET")
}

type registerRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
	Name     string `json:"name"`
}

type emailRequest struct {
	Email string `json:"email"`
}

type loginRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

type refreshRequest struct {
	RefreshToken string `json:"refresh_token"`
}

type tokenResponse struct {
	AccessToken  string `json:"access_token"`
	RefreshToken string `json:"refresh_token,omitempty"`
}

func (h *Handlers) handleRegister(w http.ResponseWriter, r *http.Request) {
	var req registerRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		httputil.WriteError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if req.Email == "" || req.Password == "" {
		httputil.WriteError(w, http.StatusBadRequest, "email and password are required")
		return
	}

	_, err := h.service.Register(r.Context(), req.Email, req.Password, req.Name)
	switch {
	case errors.Is(err, ErrEmailTaken):
		httputil.WriteFieldErrors(w, map[string][]string{"email": {"A user with this email already exists."}})
		return
	case errors.Is(err, ErrWeakPassword):
		httputil.WriteFieldErrors(w, map[string][]string{"password": {"Password must be at least 8 characters."}})
		return
	case err != nil:
		httputil.WriteError(w, http.StatusBadRequest, err.Error())
		return
	}

	httputil.WriteJSON(w, http.StatusCreated, map[string]string{"message": "confirmation_sent"})
}

func (h *Handlers) handleResendConfirmation(w http.ResponseWriter, r *http.Request) {
	var req emailRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.Email == "" {
		httputil.WriteError(w, http.StatusBadRequest, "email is required")
		return
	}
	if err := h.service.ResendConfirmation(r.Context(), req.Email); err != nil {
		httputil.WriteError(w, http.StatusBadRequest, "failed to resend confirmation")
		return
	}
	httputil.WriteJSON(w, http.StatusOK, map[string]string{"message": "confirmation_sent"})
}

func (h *Handlers) handleConfirm(w http.ResponseWriter, r *http.Request) {
	token := r.URL.Query().Get("token")
	if token == "" {
		httputil.WriteFieldErrors(w, map[string][]string{"token": {"Token is required."}})
		return
	}

	err := h.service.Confirm(r.Context(), token)
	switch {
	case errors.Is(err, ErrSignatureExpired):
		httputil.WriteFieldErrors(w, map[string][]string{"token": {"Token has expired."}})
		return
	case errors.Is(err, ErrBadSignature):
		httputil.WriteFieldErrors(w, map[string][]string{"token": {"Invalid confirmation token."}})
		return
	case errors.Is(err, ErrUserNotFound):
		httputil.WriteFieldErrors(w, map[string][]string{"token": {"User not found."}})
		return
	case err != nil:
		httputil.WriteError(w, http.StatusInternalServerError, "unexpected error")
		return
	}

	httputil.WriteJSON(w, http.StatusOK, map[string]string{"message": "email_confirmed"})
}

func (h *Handlers) handleLogin(w http.ResponseWriter, r *http.Request) {
	var req loginRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		httputil.WriteError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if req.Email == "" || req.Password == "" {
		httputil.WriteError(w, http.StatusBadRequest, "email and password are required")
		return
	}

	accessToken, refreshToken, err := h.service.Login(r.Context(), req.Email, req.Password)
	switch {
	case errors.Is(err, ErrInactiveUser):
		httputil.WriteCode(w, http.StatusBadRequest, "inactive", "Account is not confirmed yet.")
		return
	case err != nil:
		httputil.WriteError(w, http.StatusUnauthorized, "invalid credentials")
		return
	}

	httputil.WriteJSON(w, http.StatusOK, tokenResponse{
		AccessToken:  accessToken,
		RefreshToken: refreshToken,
	})
}

func (h *Handlers) handleRefresh(w http.ResponseWriter, r *http.Request) {
	var req refreshRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.RefreshToken == "" {
		httputil.WriteError(w, http.StatusBadRequest, "refresh_token is required")
		return
	}

	accessToken, err := h.service.Refresh(r.Context(), req.RefreshToken)
	if err != nil {
		httputil.WriteError(w, http.StatusUnauthorized, "invalid refresh token")
		return
	}
	httputil.WriteJSON(w, http.StatusOK, tokenResponse{AccessToken: accessToken})
}

func (h *Handlers) handleMe(w http.ResponseWriter, r *http.Request) {
	claims, ok := ClaimsFromContext(r.Context())
	if !ok {
		httputil.WriteError(w, http.StatusUnauthorized, "unauthorized")
		return
	}
	user, err := h.service.GetUser(r.Context(), claims.UserID)
	if err != nil {
		httputil.WriteError(w, http.StatusNotFound, "user not found")
		return
	}
	httputil.WriteJSON(w, http.StatusOK, user)
}
