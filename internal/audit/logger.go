package audit

import (
	"context"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

type EventType string

const (
	EventCredentialIssue     EventType = "credential_issue"
	EventCredentialRevoke    EventType = "credential_revoke"
	EventCredentialRevokeAll EventType = "credential_revoke_all"
	EventAuthFailure         EventType = "auth_failure"
	EventGameDisable         EventType = "game_disable"
	EventLogFlag             EventType = "log_flag"
	EventPolicyUpdate        EventType = "policy_update"
	EventLoginSuccess        EventType = "admin_login_success"
	EventLoginFailure        EventType = "admin_login_failure"
	EventLogout              EventType = "admin_logout"
	EventRateLimitExceed     EventType = "rate_limit_exceeded"
	EventCSRFFailure         EventType = "csrf_failure"
)

type Event struct {
	Type         EventType
	Actor        string
	GameID       string
	CredentialID string
	IP           string
	UserAgent    string
	Details      map[string]interface{}
}

func Log(ctx context.Context, event Event) {
	logger := log.With().
		Str("audit", "security").
		Str("event_type", string(event.Type)).
		Time("timestamp", time.Now()).
		Logger()

	if event.Actor != "" {
		logger = logger.With().Str("actor", event.Actor).Logger()
	}
	if event.GameID != "" {
		logger = logger.With().Str("game_id", event.GameID).Logger()
	}
	if event.CredentialID != "" {
		logger = logger.With().Str("credential_id", event.CredentialID).Logger()
	}
	if event.IP != "" {
		logger = logger.With().Str("ip", event.IP).Logger()
	}
	if event.UserAgent != "" {
		logger = logger.With().Str("user_agent", event.UserAgent).Logger()
	}

	logEvent := logger.Info()
	for k, v := range event.Details {
		logEvent = addField(logEvent, k, v)
	}
	logEvent.Msg("security audit event")
}

func addField(e *zerolog.Event, key string, value interface{}) *zerolog.Event {
	switch v := value.(type) {
	case string:
		return e.Str(key, v)
	case int:
		return e.Int(key, v)
	case int64:
		return e.Int64(key, v)
	case bool:
		return e.Bool(key, v)
	default:
		return e.Interface(key, v)
	}
}

func LogFromRequest(r *http.Request, event Event) {
	event.IP = ClientIP(r)
	event.UserAgent = r.UserAgent()
	Log(r.Context(), event)
}

// ClientIP returns the first X-Forwarded-For hop, then X-Real-IP, then the
// host part of RemoteAddr.
func ClientIP(r *http.Request) string {
	if forwarded := r.Header.Get("X-Forwarded-For"); forwarded != "" {
		first, _, _ := strings.Cut(forwarded, ",")
		return strings.TrimSpace(first)
	}
	if realIP := r.Header.Get("X-Real-IP"); realIP != "" {
		return realIP
	}
	if host, _, err := net.SplitHostPort(r.RemoteAddr); err == nil {
		return host
	}
	return r.RemoteAddr
}
