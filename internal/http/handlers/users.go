package handlers

import (
	"encoding/json"
	"errors"
	"net/http"
	"strings"

	"qrfare/backend/internal/auth"
	"qrfare/backend/internal/http/middleware"
	"qrfare/backend/internal/models"
	"qrfare/backend/internal/repository"
)

type registerUserRequest struct {
	Phone string `json:"phone" validate:"required,max=20"`
	Name  string `json:"name" validate:"omitempty,max=100"`
	Email string `json:"email" validate:"omitempty,max=150"`
}

type registerUserResponse struct {
	User    models.User `json:"user"`
	Created bool        `json:"created"`
}

// RegisterUser returns the user for a phone number, creating it when unknown,
// and starts a session for it.
func (h *Handler) RegisterUser(w http.ResponseWriter, r *http.Request) {
	logger := h.loggerForRequest(r)
	if h.users == nil {
		writeError(w, http.StatusServiceUnavailable, "user store unavailable")
		return
	}

	var req registerUserRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		logger.Warn("action", "action", "register_user", "status", "invalid_json")
		writeError(w, http.StatusBadRequest, "invalid json")
		return
	}
	req.Phone = strings.TrimSpace(req.Phone)
	req.Name = strings.TrimSpace(req.Name)
	req.Email = strings.TrimSpace(req.Email)
	if err := h.validator.Struct(req); err != nil {
		logger.Warn("action", "action", "register_user", "status", "invalid_payload")
		writeError(w, http.StatusBadRequest, "phone is required; name and email must be short")
		return
	}

	ctx, cancel := h.withTimeout(r.Context())
	defer cancel()
	user, created, err := h.users.RegisterUser(ctx, models.RegisterUserParams{
		Phone: req.Phone,
		Name:  req.Name,
		Email: req.Email,
	})
	if err != nil {
		logger.Error("action", "action", "register_user", "status", "db_error", "error", err)
		writeError(w, http.StatusInternalServerError, "db error")
		return
	}
	if err := h.setSessionCookie(w, user); err != nil {
		logger.Error("action", "action", "register_user", "status", "token_error", "error", err)
		writeError(w, http.StatusInternalServerError, "token error")
		return
	}

	status := http.StatusOK
	if created {
		status = http.StatusCreated
	}
	logger.Info("action", "action", "register_user", "status", "success", "user_id", user.ID, "created", created)
	writeJSON(w, status, registerUserResponse{User: user, Created: created})
}

// Me returns the user behind the session cookie.
func (h *Handler) Me(w http.ResponseWriter, r *http.Request) {
	logger := h.loggerForRequest(r)
	session, ok := middleware.SessionFromContext(r.Context())
	if !ok {
		logger.Warn("action", "action", "me", "status", "unauthorized")
		writeError(w, http.StatusUnauthorized, "unauthorized")
		return
	}
	if h.users == nil {
		writeJSON(w, http.StatusOK, models.User{ID: session.UserID, Phone: session.Phone})
		return
	}

	ctx, cancel := h.withTimeout(r.Context())
	defer cancel()
	user, err := h.users.GetUserByPhone(ctx, session.Phone)
	if errors.Is(err, repository.ErrUserNotFound) {
		logger.Warn("action", "action", "me", "status", "not_found")
		writeError(w, http.StatusNotFound, "user not found")
		return
	}
	if err != nil {
		logger.Error("action", "action", "me", "status", "db_error", "error", err)
		writeError(w, http.StatusInternalServerError, "db error")
		return
	}
	logger.Info("action", "action", "me", "status", "success")
	writeJSON(w, http.StatusOK, user)
}

func (h *Handler) setSessionCookie(w http.ResponseWriter, user models.User) error {
	if h.cfg == nil {
		return errors.New("session secret is not configured")
	}
	token, err := auth.SignSessionToken(h.cfg.SessionSecret, user.ID, user.Phone, h.now())
	if err != nil {
		return err
	}
	http.SetCookie(w, &http.Cookie{
		Name:     middleware.SessionCookieName,
		Value:    token,
		Path:     "/",
		MaxAge:   int(auth.SessionTTL.Seconds()),
		HttpOnly: true,
		Secure:   !h.cfg.IsDevelopment(),
		SameSite: http.SameSiteLaxMode,
	})
	return nil
}
