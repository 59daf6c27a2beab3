package handler

import (
	"errors"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/sakif/survey-access/internal/apperror"
	"github.com/sakif/survey-access/internal/model"
	"github.com/sakif/survey-access/internal/service"
)

// AuthHandler serves /api/auth: registration, login, approval and access
// token verification.
type AuthHandler struct {
	accounts Accounts
	logger   *slog.Logger
}

func NewAuthHandler(accounts Accounts, logger *slog.Logger) *AuthHandler {
	return &AuthHandler{accounts: accounts, logger: logger}
}

// ApproveResponse is returned by POST /api/auth/approve/{userId}.
type ApproveResponse struct {
	Message string      `json:"message"`
	User    *model.User `json:"user"`
}

// VerifyResponse is returned by GET /api/auth/verify-token/{token}.
type VerifyResponse struct {
	Valid   bool   `json:"valid"`
	UserID  string `json:"userId,omitempty"`
	Name    string `json:"name,omitempty"`
	Email   string `json:"email,omitempty"`
	Message string `json:"message,omitempty"`
}

// HandleRegister handles POST /api/auth/register.
func (h *AuthHandler) HandleRegister(w http.ResponseWriter, r *http.Request) {
	var in service.RegisterInput
	if err := decodeJSON(w, r, &in); err != nil {
		writeError(w, r, h.logger, err)
		return
	}

	if _, err := h.accounts.Register(r.Context(), in); err != nil {
		writeError(w, r, h.logger, err)
		return
	}

	writeJSON(w, http.StatusOK, MessageResponse{
		Message: "Registration successful. Please wait for admin approval.",
	})
}

// HandleLogin handles POST /api/auth/login.
func (h *AuthHandler) HandleLogin(w http.ResponseWriter, r *http.Request) {
	var in service.LoginInput
	if err := decodeJSON(w, r, &in); err != nil {
		writeError(w, r, h.logger, err)
		return
	}

	result, err := h.accounts.Login(r.Context(), in)
	if err != nil {
		writeError(w, r, h.logger, err)
		return
	}

	writeJSON(w, http.StatusOK, result)
}

// HandleApprove handles POST /api/auth/approve/{userId}. Admin only.
func (h *AuthHandler) HandleApprove(w http.ResponseWriter, r *http.Request) {
	user, err := h.accounts.Approve(r.Context(), chi.URLParam(r, "userId"))
	if err != nil {
		writeError(w, r, h.logger, err)
		return
	}

	writeJSON(w, http.StatusOK, ApproveResponse{
		Message: "User approved and email sent successfully",
		User:    user,
	})
}

// HandleVerifyToken handles GET /api/auth/verify-token/{token}. Every kind
// of bad token gets the same 401 reply.
func (h *AuthHandler) HandleVerifyToken(w http.ResponseWriter, r *http.Request) {
	identity, err := h.accounts.VerifyAccessToken(r.Context(), chi.URLParam(r, "token"))
	if err != nil {
		if errors.Is(err, apperror.ErrUnauthorized) {
			writeJSON(w, http.StatusUnauthorized, VerifyResponse{Valid: false, Message: "Invalid or expired token"})
			return
		}
		writeError(w, r, h.logger, err)
		return
	}

	writeJSON(w, http.StatusOK, VerifyResponse{
		Valid:  true,
		UserID: identity.ID,
		Name:   identity.Name,
		Email:  identity.Email,
	})
}
