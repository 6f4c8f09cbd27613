package middleware

import (
	"context"
	"net/http"
	"strings"

	"github.com/rs/zerolog/log"

	"github.com/studyforge/gateway/internal/audit"
	apperrors "github.com/studyforge/gateway/internal/errors"
	"github.com/studyforge/gateway/internal/httputil"
	"github.com/studyforge/gateway/internal/service"
)

type contextKey string

const GameCredentialContextKey contextKey = "gameCredential"

// GameKeyHeader carries the game credential secret.
const GameKeyHeader = "X-Game-Key"

func GetGameCredential(ctx context.Context) *service.VerifiedCredential {
	if cred, ok := ctx.Value(GameCredentialContextKey).(*service.VerifiedCredential); ok {
		return cred
	}
	return nil
}

func WithGameCredential(ctx context.Context, cred *service.VerifiedCredential) context.Context {
	return context.WithValue(ctx, GameCredentialContextKey, cred)
}

type CredentialVerifier interface {
	Verify(ctx context.Context, raw string) (*service.VerifiedCredential, error)
}

// GameAuthMiddleware authenticates game clients by credential secret.
type GameAuthMiddleware struct {
	verifier CredentialVerifier
}

func NewGameAuthMiddleware(verifier CredentialVerifier) *GameAuthMiddleware {
	return &GameAuthMiddleware{verifier: verifier}
}

func (m *GameAuthMiddleware) Handler(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		token := extractToken(r)
		if token == "" {
			m.reject(w, r, "missing")
			return
		}

		cred, err := m.verifier.Verify(r.Context(), token)
		if err != nil {
			if apperrors.HasCode(err, apperrors.ErrCodeInvalidCredential) {
				m.reject(w, r, "invalid")
				return
			}
			log.Error().Err(err).Msg("game auth middleware: verification failed")
			httputil.WriteError(w, err)
			return
		}

		next.ServeHTTP(w, r.WithContext(WithGameCredential(r.Context(), cred)))
	})
}

// reject answers every authentication failure identically.
func (m *GameAuthMiddleware) reject(w http.ResponseWriter, r *http.Request, reason string) {
	audit.LogFromRequest(r, audit.Event{
		Type:    audit.EventAuthFailure,
		Details: map[string]interface{}{"reason": reason, "path": r.URL.Path},
	})
	httputil.WriteError(w, apperrors.InvalidCredential())
}

func extractToken(r *http.Request) string {
	if token := strings.TrimSpace(r.Header.Get(GameKeyHeader)); token != "" {
		return token
	}

	authHeader := r.Header.Get("Authorization")
	if strings.HasPrefix(authHeader, "Bearer ") {
		return strings.TrimSpace(strings.TrimPrefix(authHeader, "Bearer "))
	}

	return ""
}
