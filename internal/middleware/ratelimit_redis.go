package middleware

import (
	"context"
	"net/http"
	"strconv"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/studyforge/gateway/internal/audit"
	"github.com/studyforge/gateway/internal/clock"
	"github.com/studyforge/gateway/internal/config"
	apperrors "github.com/studyforge/gateway/internal/errors"
	"github.com/studyforge/gateway/internal/httputil"
	"github.com/studyforge/gateway/internal/model"
	"github.com/studyforge/gateway/internal/service"
)

const rateLimitWindow = 60 * time.Second

type RateLimitScope string

const (
	RateLimitScopeGame RateLimitScope = "game"
	RateLimitScopeAI   RateLimitScope = "ai"
)

// Limiter is satisfied by service.RateLimiter.
type Limiter interface {
	CheckLimit(ctx context.Context, scope, subject string, limit int, window time.Duration) service.RateLimitResult
}

// RedisRateLimitMiddleware limits authenticated game traffic per credential. The
// per-minute limit comes from the security policy for the scope.
type RedisRateLimitMiddleware struct {
	limiter Limiter
	policy  service.PolicyReader
	scope   RateLimitScope
	clock   clock.Clock
}

func NewRedisRateLimitMiddleware(limiter Limiter, policy service.PolicyReader, scope RateLimitScope, clk clock.Clock) *RedisRateLimitMiddleware {
	return &RedisRateLimitMiddleware{
		limiter: limiter,
		policy:  policy,
		scope:   scope,
		clock:   clk,
	}
}

func (m *RedisRateLimitMiddleware) limit(ctx context.Context) int {
	snapshot, err := m.policy.Get(ctx)
	if err != nil {
		log.Warn().Err(err).Msg("policy unavailable, using cached rate limits")
	}
	limit := limitForScope(snapshot, m.scope)
	if limit <= 0 {
		limit = config.DefaultRateLimitPerMin
	}
	return limit
}

func limitForScope(p model.PolicySnapshot, scope RateLimitScope) int {
	if scope == RateLimitScopeAI {
		return p.RateLimits.AIRequestsPerMinute
	}
	return p.RateLimits.GameRequestsPerMinute
}

func (m *RedisRateLimitMiddleware) Handler(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		cred := GetGameCredential(r.Context())
		if cred == nil {
			next.ServeHTTP(w, r)
			return
		}

		limit := m.limit(r.Context())
		res := m.limiter.CheckLimit(r.Context(), string(m.scope), cred.CredentialID, limit, rateLimitWindow)

		w.Header().Set("X-RateLimit-Limit", strconv.Itoa(res.Limit))
		w.Header().Set("X-RateLimit-Remaining", strconv.Itoa(res.Remaining))
		w.Header().Set("X-RateLimit-Reset", strconv.FormatInt(res.ResetAt.Unix(), 10))

		if !res.Allowed {
			audit.LogFromRequest(r, audit.Event{
				Type:         audit.EventRateLimitExceed,
				GameID:       cred.GameID,
				CredentialID: cred.CredentialID,
				Details:      map[string]interface{}{"scope": string(m.scope), "limit": limit},
			})
			w.Header().Set("Retry-After", strconv.Itoa(retryAfterSeconds(res.ResetAt, m.clock.Now())))
			httputil.WriteError(w, apperrors.RateLimitExceeded())
			return
		}

		next.ServeHTTP(w, r)
	})
}

func retryAfterSeconds(resetAt, now time.Time) int {
	secs := int(resetAt.Sub(now).Seconds()) + 1
	if secs < 1 {
		return 1
	}
	return secs
}
