package middleware

import (
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/studyforge/gateway/internal/audit"
	"github.com/studyforge/gateway/internal/clock"
	apperrors "github.com/studyforge/gateway/internal/errors"
	"github.com/studyforge/gateway/internal/model"
	"github.com/studyforge/gateway/internal/service"
)

const loginCleanupPeriod = 5 * time.Minute

type loginAttempt struct {
	count       int
	windowStart time.Time
}

// LoginRateLimiter locks a client address out of admin login once it has
// made loginLockout.maxAttempts attempts within loginLockout.lockoutMinutes.
type LoginRateLimiter struct {
	policy service.PolicyReader
	clock  clock.Clock

	mu          sync.Mutex
	attempts    map[string]*loginAttempt
	lastCleanup time.Time
}

func NewLoginRateLimiter(policy service.PolicyReader, clk clock.Clock) *LoginRateLimiter {
	return &LoginRateLimiter{
		policy:      policy,
		clock:       clk,
		attempts:    make(map[string]*loginAttempt),
		lastCleanup: clk.Now(),
	}
}

func (l *LoginRateLimiter) cleanup(now time.Time, window time.Duration) {
	if now.Sub(l.lastCleanup) < loginCleanupPeriod {
		return
	}
	l.lastCleanup = now

	for ip, attempt := range l.attempts {
		if now.Sub(attempt.windowStart) > window {
			delete(l.attempts, ip)
		}
	}
}

// isAllowed records an attempt for ip. When denied it also returns how long
// until the lockout ends.
func (l *LoginRateLimiter) isAllowed(ip string, lockout model.LoginLockoutPolicy) (bool, time.Duration) {
	window := time.Duration(lockout.LockoutMinutes) * time.Minute

	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.clock.Now()
	l.cleanup(now, window)

	attempt, exists := l.attempts[ip]
	if !exists {
		l.attempts[ip] = &loginAttempt{
			count:       1,
			windowStart: now,
		}
		return true, 0
	}

	if now.Sub(attempt.windowStart) > window {
		attempt.count = 1
		attempt.windowStart = now
		return true, 0
	}

	if attempt.count >= lockout.MaxAttempts {
		return false, window - now.Sub(attempt.windowStart)
	}

	attempt.count++
	return true, 0
}

func (l *LoginRateLimiter) Handler(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		snapshot, err := l.policy.Get(r.Context())
		if err != nil {
			log.Warn().Err(err).Msg("policy unavailable, using cached login lockout")
		}

		ip := audit.ClientIP(r)
		allowed, wait := l.isAllowed(ip, snapshot.LoginLockout)
		if !allowed {
			audit.LogFromRequest(r, audit.Event{
				Type:    audit.EventRateLimitExceed,
				Details: map[string]interface{}{"scope": "admin_login"},
			})
			w.Header().Set("Retry-After", strconv.Itoa(int(wait.Seconds())+1))
			writeError(w, apperrors.RateLimitExceeded())
			return
		}

		next.ServeHTTP(w, r)
	})
}
