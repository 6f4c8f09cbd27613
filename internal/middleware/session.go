package middleware

import (
	"context"
	"net/http"
	"slices"

	"github.com/rs/zerolog/log"

	"github.com/studyforge/gateway/internal/config"
	apperrors "github.com/studyforge/gateway/internal/errors"
	"github.com/studyforge/gateway/internal/httputil"
	"github.com/studyforge/gateway/internal/model"
)

const (
	AdminSessionCookie = "admin_session"
	SessionMaxAge      = config.AdminSessionTTL
)

const AdminSessionContextKey contextKey = "adminSession"

func GetAdminSession(ctx context.Context) *model.AdminSession {
	if session, ok := ctx.Value(AdminSessionContextKey).(*model.AdminSession); ok {
		return session
	}
	return nil
}

func WithAdminSession(ctx context.Context, session *model.AdminSession) context.Context {
	return context.WithValue(ctx, AdminSessionContextKey, session)
}

type AdminSessionValidator interface {
	Configured() bool
	ValidateSession(ctx context.Context, token string) (*model.AdminSession, error)
}

// Admin Session Middleware

type AdminSessionMiddleware struct {
	sessions AdminSessionValidator
}

func NewAdminSessionMiddleware(sessions AdminSessionValidator) *AdminSessionMiddleware {
	return &AdminSessionMiddleware{sessions: sessions}
}

func (m *AdminSessionMiddleware) Handler(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !m.sessions.Configured() {
			writeJSON(w, http.StatusServiceUnavailable, map[string]string{
				"error": "Admin not configured",
			})
			return
		}

		cookie, err := r.Cookie(AdminSessionCookie)
		if err != nil || cookie.Value == "" {
			httputil.WriteError(w, apperrors.Unauthorized("Unauthorized"))
			return
		}

		session, err := m.sessions.ValidateSession(r.Context(), cookie.Value)
		if err != nil {
			log.Error().Err(err).Msg("admin session middleware: database error")
			httputil.WriteError(w, err)
			return
		}

		if session == nil {
			httputil.WriteError(w, apperrors.Unauthorized("Unauthorized"))
			return
		}

		next.ServeHTTP(w, r.WithContext(WithAdminSession(r.Context(), session)))
	})
}

// RequireRole admits only admin sessions holding one of roles. It must run
// after AdminSessionMiddleware.
func RequireRole(roles ...model.AdminRole) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			session := GetAdminSession(r.Context())
			if session == nil {
				httputil.WriteError(w, apperrors.Unauthorized("Unauthorized"))
				return
			}
			if !slices.Contains(roles, session.Role) {
				httputil.WriteError(w, apperrors.Forbidden("Insufficient role"))
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

func SetSessionCookie(w http.ResponseWriter, name, token string, path string, secure bool) {
	http.SetCookie(w, &http.Cookie{
		Name:     name,
		Value:    token,
		Path:     path,
		MaxAge:   int(SessionMaxAge.Seconds()),
		HttpOnly: true,
		Secure:   secure,
		SameSite: http.SameSiteLaxMode,
	})
}

func ClearSessionCookie(w http.ResponseWriter, name, path string) {
	http.SetCookie(w, &http.Cookie{
		Name:   name,
		Value:  "",
		Path:   path,
		MaxAge: -1,
	})
}
