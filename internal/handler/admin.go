package handler

import (
	"context"
	"encoding/json"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog/log"

	"github.com/studyforge/gateway/internal/audit"
	apperrors "github.com/studyforge/gateway/internal/errors"
	"github.com/studyforge/gateway/internal/middleware"
	"github.com/studyforge/gateway/internal/model"
	"github.com/studyforge/gateway/internal/service"
)

type AdminAuthenticator interface {
	Login(ctx context.Context, password string) (string, error)
	Logout(ctx context.Context, token string) error
}

type CredentialAdmin interface {
	List(ctx context.Context, gameID string) ([]model.GameCredential, error)
	Issue(ctx context.Context, gameID string, env model.Environment) (*service.IssuedCredential, error)
	Revoke(ctx context.Context, id string) (*model.GameCredential, error)
	RevokeMany(ctx context.Context, ids []string) (int64, error)
	RevokeAll(ctx context.Context, gameID string) (int64, error)
}

type AuditAdmin interface {
	RecentLogs(ctx context.Context, limit int) ([]model.AIInteractionLog, error)
	Spikes(ctx context.Context, threshold *int) ([]model.TokenSpike, error)
	SpikeThreshold() int
	Flagged(ctx context.Context, limit, offset int) ([]model.AIInteractionLog, error)
	SetFlag(ctx context.Context, id string, flagged bool, reason *string) (*model.AIInteractionLog, error)
	DisableGame(ctx context.Context, gameID string) (*service.DisableGameResult, error)
}

type PolicyAdmin interface {
	Get(ctx context.Context) (model.PolicySnapshot, error)
	Update(ctx context.Context, partial json.RawMessage) (model.PolicySnapshot, error)
	Invalidate()
}

type AdminHandler struct {
	auth              AdminAuthenticator
	credentials       CredentialAdmin
	audit             AuditAdmin
	policy            PolicyAdmin
	notifications     http.Handler
	sessionMiddleware func(http.Handler) http.Handler
	loginRateLimiter  func(http.Handler) http.Handler
	isProduction      bool
}

type AdminHandlerConfig struct {
	Auth              AdminAuthenticator
	Credentials       CredentialAdmin
	Audit             AuditAdmin
	Policy            PolicyAdmin
	Notifications     http.Handler
	SessionMiddleware func(http.Handler) http.Handler
	LoginRateLimiter  func(http.Handler) http.Handler
	IsProduction      bool
}

func NewAdminHandler(cfg AdminHandlerConfig) *AdminHandler {
	passthrough := func(next http.Handler) http.Handler { return next }
	h := &AdminHandler{
		auth:              cfg.Auth,
		credentials:       cfg.Credentials,
		audit:             cfg.Audit,
		policy:            cfg.Policy,
		notifications:     cfg.Notifications,
		sessionMiddleware: cfg.SessionMiddleware,
		loginRateLimiter:  cfg.LoginRateLimiter,
		isProduction:      cfg.IsProduction,
	}
	if h.sessionMiddleware == nil {
		h.sessionMiddleware = passthrough
	}
	if h.loginRateLimiter == nil {
		h.loginRateLimiter = passthrough
	}
	return h
}

func (h *AdminHandler) Routes() chi.Router {
	r := chi.NewRouter()

	r.With(h.loginRateLimiter).Post("/login", h.Login)
	r.Post("/logout", h.Logout)

	r.Group(func(r chi.Router) {
		r.Use(h.sessionMiddleware)
		r.Use(middleware.RequireRole(model.AdminRoleAdmin))

		// Credentials
		r.Get("/games/{gameId}/credentials", h.ListCredentials)
		r.Post("/games/{gameId}/credentials", h.IssueCredential)
		r.Post("/games/{gameId}/credentials/revoke-all", h.RevokeAllCredentials)
		r.Post("/credentials/{id}/revoke", h.RevokeCredential)
		r.Post("/credentials/revoke", h.RevokeCredentials)

		// Games
		r.Post("/games/{gameId}/disable", h.DisableGame)

		// Audit
		r.Get("/audit/logs", h.RecentLogs)
		r.Get("/audit/spikes", h.Spikes)
		r.Get("/audit/flagged", h.Flagged)
		r.Patch("/audit/logs/{id}/flag", h.SetFlag)

		// Policy
		r.Get("/policy", h.GetPolicy)
		r.Patch("/policy", h.UpdatePolicy)
		r.Post("/policy/invalidate", h.InvalidatePolicy)

		if h.notifications != nil {
			r.Get("/notifications/{recipientId}/stream", h.notifications.ServeHTTP)
		}
	})

	return r
}

func actor(r *http.Request) string {
	if session := middleware.GetAdminSession(r.Context()); session != nil {
		return "admin:" + session.ID
	}
	return ""
}

func (h *AdminHandler) Login(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Password string `json:"password"`
	}
	if err := decodeJSON(r, &req, false); err != nil || req.Password == "" {
		writeError(w, apperrors.MissingRequired("password"))
		return
	}

	token, err := h.auth.Login(r.Context(), req.Password)
	if err != nil {
		log.Error().Err(err).Msg("admin login error")
		writeError(w, err)
		return
	}

	if token == "" {
		audit.LogFromRequest(r, audit.Event{Type: audit.EventLoginFailure})
		writeError(w, apperrors.Unauthorized("Invalid password"))
		return
	}

	audit.LogFromRequest(r, audit.Event{Type: audit.EventLoginSuccess})
	middleware.SetSessionCookie(w, middleware.AdminSessionCookie, token, "/admin", h.isProduction)
	writeJSON(w, http.StatusOK, map[string]bool{"success": true})
}

func (h *AdminHandler) Logout(w http.ResponseWriter, r *http.Request) {
	cookie, err := r.Cookie(middleware.AdminSessionCookie)
	if err == nil && cookie.Value != "" {
		if err := h.auth.Logout(r.Context(), cookie.Value); err != nil {
			log.Warn().Err(err).Msg("failed to delete admin session")
		}
		audit.LogFromRequest(r, audit.Event{Type: audit.EventLogout})
	}

	middleware.ClearSessionCookie(w, middleware.AdminSessionCookie, "/admin")
	writeJSON(w, http.StatusOK, map[string]bool{"success": true})
}

func (h *AdminHandler) ListCredentials(w http.ResponseWriter, r *http.Request) {
	creds, err := h.credentials.List(r.Context(), chi.URLParam(r, "gameId"))
	if err != nil {
		writeError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"items": creds,
		"total": len(creds),
	})
}

func (h *AdminHandler) IssueCredential(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Environment model.Environment `json:"environment"`
	}
	if err := decodeJSON(r, &req, false); err != nil {
		writeError(w, err)
		return
	}

	gameID := chi.URLParam(r, "gameId")
	issued, err := h.credentials.Issue(r.Context(), gameID, req.Environment)
	if err != nil {
		writeError(w, err)
		return
	}

	audit.LogFromRequest(r, audit.Event{
		Type:         audit.EventCredentialIssue,
		Actor:        actor(r),
		GameID:       gameID,
		CredentialID: issued.Credential.ID,
		Details: map[string]interface{}{
			"environment": string(issued.Credential.Environment),
			"prefix":      issued.Credential.KeyPrefix,
		},
	})
	writeJSON(w, http.StatusCreated, issued)
}

func (h *AdminHandler) RevokeCredential(w http.ResponseWriter, r *http.Request) {
	cred, err := h.credentials.Revoke(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, err)
		return
	}

	audit.LogFromRequest(r, audit.Event{
		Type:         audit.EventCredentialRevoke,
		Actor:        actor(r),
		GameID:       cred.GameID,
		CredentialID: cred.ID,
	})
	writeJSON(w, http.StatusOK, cred)
}

func (h *AdminHandler) RevokeCredentials(w http.ResponseWriter, r *http.Request) {
	var req struct {
		IDs []string `json:"ids"`
	}
	if err := decodeJSON(r, &req, false); err != nil {
		writeError(w, err)
		return
	}
	if len(req.IDs) == 0 {
		writeError(w, apperrors.MissingRequired("ids"))
		return
	}

	n, err := h.credentials.RevokeMany(r.Context(), req.IDs)
	if err != nil {
		writeError(w, err)
		return
	}

	audit.LogFromRequest(r, audit.Event{
		Type:    audit.EventCredentialRevoke,
		Actor:   actor(r),
		Details: map[string]interface{}{"requested": len(req.IDs), "revoked": n},
	})
	writeJSON(w, http.StatusOK, map[string]int64{"revoked": n})
}

func (h *AdminHandler) RevokeAllCredentials(w http.ResponseWriter, r *http.Request) {
	gameID := chi.URLParam(r, "gameId")
	n, err := h.credentials.RevokeAll(r.Context(), gameID)
	if err != nil {
		writeError(w, err)
		return
	}

	audit.LogFromRequest(r, audit.Event{
		Type:    audit.EventCredentialRevokeAll,
		Actor:   actor(r),
		GameID:  gameID,
		Details: map[string]interface{}{"revoked": n},
	})
	writeJSON(w, http.StatusOK, map[string]int64{"revoked": n})
}

func (h *AdminHandler) DisableGame(w http.ResponseWriter, r *http.Request) {
	gameID := chi.URLParam(r, "gameId")
	result, err := h.audit.DisableGame(r.Context(), gameID)
	if err != nil {
		writeError(w, err)
		return
	}

	audit.LogFromRequest(r, audit.Event{
		Type:    audit.EventGameDisable,
		Actor:   actor(r),
		GameID:  gameID,
		Details: map[string]interface{}{"revoked": result.RevokedCredentials},
	})
	writeJSON(w, http.StatusOK, result)
}

func (h *AdminHandler) RecentLogs(w http.ResponseWriter, r *http.Request) {
	p, err := ParsePagination(r)
	if err != nil {
		writeError(w, err)
		return
	}

	logs, err := h.audit.RecentLogs(r.Context(), p.Limit)
	if err != nil {
		writeError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{"items": logs, "total": len(logs)})
}

func (h *AdminHandler) Spikes(w http.ResponseWriter, r *http.Request) {
	threshold, err := optionalInt(r, "threshold")
	if err != nil {
		writeError(w, err)
		return
	}

	spikes, err := h.audit.Spikes(r.Context(), threshold)
	if err != nil {
		writeError(w, err)
		return
	}

	effective := h.audit.SpikeThreshold()
	if threshold != nil {
		effective = *threshold
	}
	writeJSON(w, http.StatusOK, map[string]any{"items": spikes, "total": len(spikes), "threshold": effective})
}

func (h *AdminHandler) Flagged(w http.ResponseWriter, r *http.Request) {
	p, err := ParsePagination(r)
	if err != nil {
		writeError(w, err)
		return
	}

	logs, err := h.audit.Flagged(r.Context(), p.Limit, p.Offset)
	if err != nil {
		writeError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"items":  logs,
		"limit":  p.Limit,
		"offset": p.Offset,
	})
}

func (h *AdminHandler) SetFlag(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Flagged *bool   `json:"flagged"`
		Reason  *string `json:"reason"`
	}
	if err := decodeJSON(r, &req, false); err != nil {
		writeError(w, err)
		return
	}
	if req.Flagged == nil {
		writeError(w, apperrors.MissingRequired("flagged"))
		return
	}

	entry, err := h.audit.SetFlag(r.Context(), chi.URLParam(r, "id"), *req.Flagged, req.Reason)
	if err != nil {
		writeError(w, err)
		return
	}

	audit.LogFromRequest(r, audit.Event{
		Type:    audit.EventLogFlag,
		Actor:   actor(r),
		GameID:  entry.GameID,
		Details: map[string]interface{}{"logId": entry.ID, "flagged": entry.Flagged},
	})
	writeJSON(w, http.StatusOK, entry)
}

func (h *AdminHandler) GetPolicy(w http.ResponseWriter, r *http.Request) {
	snapshot, err := h.policy.Get(r.Context())
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, snapshot)
}

func (h *AdminHandler) UpdatePolicy(w http.ResponseWriter, r *http.Request) {
	var partial json.RawMessage
	if err := decodeJSON(r, &partial, false); err != nil {
		writeError(w, err)
		return
	}

	snapshot, err := h.policy.Update(r.Context(), partial)
	if err != nil {
		writeError(w, err)
		return
	}

	audit.LogFromRequest(r, audit.Event{
		Type:    audit.EventPolicyUpdate,
		Actor:   actor(r),
		Details: map[string]interface{}{"change": string(partial)},
	})
	writeJSON(w, http.StatusOK, snapshot)
}

func (h *AdminHandler) InvalidatePolicy(w http.ResponseWriter, r *http.Request) {
	h.policy.Invalidate()
	writeJSON(w, http.StatusOK, map[string]bool{"success": true})
}
