package auth

import (
	"context"
	"errors"
	"net/http"
	"strings"

	"github.com/sakif/survey-access/internal/apperror"
	"github.com/sakif/survey-access/internal/model"
)

// HeaderToken is the custom header the survey frontend sends the session
// token in. "Authorization: Bearer <token>" is accepted as well.
const HeaderToken = "x-auth-token"

// Session is the authenticated caller of one request. The middleware builds
// it from the session token and hands it to handlers through the request
// context; nothing about the session lives outside the request.
type Session struct {
	UserID string
	Role   model.Role
}

// IsAdmin reports whether the session belongs to an administrator.
func (s Session) IsAdmin() bool {
	return s.Role == model.RoleAdmin
}

type contextKey string

const sessionKey contextKey = "session"

var errNoToken = errors.New("auth: no session token")

// RequireAuth rejects requests without a valid session token with 401 and
// stores the Session in the context for everything downstream.
func RequireAuth(tokens *TokenService) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			session, err := sessionFromRequest(r, tokens)
			if err != nil {
				writeAuthError(w, http.StatusUnauthorized, "unauthorized", "valid authentication required")
				return
			}

			next.ServeHTTP(w, r.WithContext(WithSession(r.Context(), session)))
		})
	}
}

// UserLookup reads the stored account behind a session.
type UserLookup interface {
	GetUserByID(ctx context.Context, id string) (*model.User, error)
}

// RequireRole must run after RequireAuth. The role claim is checked first,
// then the account is read again: a deleted account gets 401 and an account
// whose stored role differs gets 403, whatever the token says.
func RequireRole(users UserLookup, role model.Role) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			session, ok := SessionFromContext(r.Context())
			if !ok {
				writeAuthError(w, http.StatusUnauthorized, "unauthorized", "valid authentication required")
				return
			}
			if session.Role != role {
				writeAuthError(w, http.StatusForbidden, "forbidden", "access denied: admin privileges required")
				return
			}

			user, err := users.GetUserByID(r.Context(), session.UserID)
			switch {
			case errors.Is(err, apperror.ErrNotFound):
				writeAuthError(w, http.StatusUnauthorized, "unauthorized", "account no longer exists")
				return
			case err != nil:
				writeAuthError(w, http.StatusInternalServerError, "internal_error", "could not load account")
				return
			case user.Role != role:
				writeAuthError(w, http.StatusForbidden, "forbidden", "access denied: admin privileges required")
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

// WithSession returns a copy of ctx carrying session.
func WithSession(ctx context.Context, session Session) context.Context {
	return context.WithValue(ctx, sessionKey, session)
}

// SessionFromContext returns the request's Session, if any.
func SessionFromContext(ctx context.Context) (Session, bool) {
	s, ok := ctx.Value(sessionKey).(Session)
	return s, ok && s.UserID != ""
}

func sessionFromRequest(r *http.Request, tokens *TokenService) (Session, error) {
	token := strings.TrimSpace(r.Header.Get(HeaderToken))
	if token == "" {
		if h := r.Header.Get("Authorization"); strings.HasPrefix(h, "Bearer ") {
			token = strings.TrimSpace(strings.TrimPrefix(h, "Bearer "))
		}
	}
	if token == "" {
		return Session{}, errNoToken
	}
	return tokens.Validate(token)
}

func writeAuthError(w http.ResponseWriter, status int, kind, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_, _ = w.Write([]byte(`{"error":"` + kind + `","message":"` + message + `"}`))
}
