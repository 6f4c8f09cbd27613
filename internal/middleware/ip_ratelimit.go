package middleware

import (
	"net/http"
	"strconv"
	"time"

	"github.com/studyforge/gateway/internal/audit"
	"github.com/studyforge/gateway/internal/clock"
	apperrors "github.com/studyforge/gateway/internal/errors"
)

// IPRateLimitMiddleware limits unauthenticated traffic per client address.
type IPRateLimitMiddleware struct {
	limiter Limiter
	clock   clock.Clock
	limit   int
	window  time.Duration
	prefix  string
}

func NewIPRateLimitMiddleware(limiter Limiter, clk clock.Clock, limit int, window time.Duration, prefix string) *IPRateLimitMiddleware {
	return &IPRateLimitMiddleware{
		limiter: limiter,
		clock:   clk,
		limit:   limit,
		window:  window,
		prefix:  prefix,
	}
}

func (m *IPRateLimitMiddleware) Handler(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ip := audit.ClientIP(r)

		res := m.limiter.CheckLimit(r.Context(), "ip:"+m.prefix, ip, m.limit, m.window)
		if !res.Allowed {
			w.Header().Set("Retry-After", strconv.Itoa(retryAfterSeconds(res.ResetAt, m.clock.Now())))
			writeError(w, apperrors.RateLimitExceeded())
			return
		}

		next.ServeHTTP(w, r)
	})
}
