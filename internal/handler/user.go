package handler

import (
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/sakif/survey-access/internal/apperror"
	"github.com/sakif/survey-access/internal/auth"
	"github.com/sakif/survey-access/internal/model"
)

// UserHandler serves /api/users.
type UserHandler struct {
	accounts Accounts
	logger   *slog.Logger
}

func NewUserHandler(accounts Accounts, logger *slog.Logger) *UserHandler {
	return &UserHandler{accounts: accounts, logger: logger}
}

// HandleMe handles GET /api/users/me.
func (h *UserHandler) HandleMe(w http.ResponseWriter, r *http.Request) {
	session, ok := auth.SessionFromContext(r.Context())
	if !ok {
		writeError(w, r, h.logger, apperror.Unauthorized("valid authentication required"))
		return
	}

	user, err := h.accounts.GetUserByID(r.Context(), session.UserID)
	if err != nil {
		writeError(w, r, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, user)
}

// HandleList handles GET /api/users. Admin only.
func (h *UserHandler) HandleList(w http.ResponseWriter, r *http.Request) {
	h.list(w, r, false)
}

// HandlePending handles GET /api/users/pending. Admin only.
func (h *UserHandler) HandlePending(w http.ResponseWriter, r *http.Request) {
	h.list(w, r, true)
}

func (h *UserHandler) list(w http.ResponseWriter, r *http.Request, pendingOnly bool) {
	users, err := h.accounts.ListUsers(r.Context(), pendingOnly)
	if err != nil {
		writeError(w, r, h.logger, err)
		return
	}
	if users == nil {
		users = []model.User{}
	}
	writeJSON(w, http.StatusOK, users)
}

// HandleDelete handles DELETE /api/users/{id}. Admin only.
func (h *UserHandler) HandleDelete(w http.ResponseWriter, r *http.Request) {
	if err := h.accounts.DeleteUser(r.Context(), chi.URLParam(r, "id")); err != nil {
		writeError(w, r, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, MessageResponse{Message: "User deleted"})
}
