package handler

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	apperrors "github.com/studyforge/gateway/internal/errors"
	"github.com/studyforge/gateway/internal/middleware"
	"github.com/studyforge/gateway/internal/model"
	"github.com/studyforge/gateway/internal/service"
)

type SessionManager interface {
	Start(ctx context.Context, gameID, participantID string) (*model.GameSession, error)
	End(ctx context.Context, gameID, sessionID string, score *float64) (*model.GameSession, error)
}

type EventRecorder interface {
	Record(ctx context.Context, gameID, sessionID, eventType string, payload json.RawMessage) (*service.RecordedEvent, error)
}

type AIGenerator interface {
	Generate(ctx context.Context, in service.GenerateInput) (*service.GenerateResult, error)
}

// GameHandler serves the game-facing API. Every route expects a verified
// credential in the request context.
type GameHandler struct {
	sessions SessionManager
	events   EventRecorder
	ai       AIGenerator
	aiLimit  func(http.Handler) http.Handler
}

func NewGameHandler(sessions SessionManager, events EventRecorder, ai AIGenerator, aiLimit func(http.Handler) http.Handler) *GameHandler {
	if aiLimit == nil {
		aiLimit = func(next http.Handler) http.Handler { return next }
	}
	return &GameHandler{
		sessions: sessions,
		events:   events,
		ai:       ai,
		aiLimit:  aiLimit,
	}
}

func (h *GameHandler) Routes() chi.Router {
	r := chi.NewRouter()

	r.Post("/sessions/start", h.StartSession)
	r.Post("/sessions/{sessionId}/end", h.EndSession)
	r.Post("/events", h.RecordEvent)
	r.With(h.aiLimit).Post("/ai/generate", h.Generate)

	return r
}

func gameID(r *http.Request) (string, bool) {
	cred := middleware.GetGameCredential(r.Context())
	if cred == nil {
		return "", false
	}
	return cred.GameID, true
}

// POST /api/v1/sessions/start
func (h *GameHandler) StartSession(w http.ResponseWriter, r *http.Request) {
	game, ok := gameID(r)
	if !ok {
		writeError(w, apperrors.InvalidCredential())
		return
	}

	var req struct {
		ParticipantID string `json:"participantId"`
	}
	if err := decodeJSON(r, &req, false); err != nil {
		writeError(w, err)
		return
	}

	session, err := h.sessions.Start(r.Context(), game, req.ParticipantID)
	if err != nil {
		writeError(w, err)
		return
	}

	writeJSON(w, http.StatusCreated, map[string]any{
		"sessionId": session.ID,
		"startTime": session.StartTime.Format(time.RFC3339Nano),
	})
}

// POST /api/v1/sessions/{sessionId}/end
func (h *GameHandler) EndSession(w http.ResponseWriter, r *http.Request) {
	game, ok := gameID(r)
	if !ok {
		writeError(w, apperrors.InvalidCredential())
		return
	}

	var req struct {
		Score *float64 `json:"score"`
	}
	if err := decodeJSON(r, &req, true); err != nil {
		writeError(w, err)
		return
	}

	session, err := h.sessions.End(r.Context(), game, chi.URLParam(r, "sessionId"), req.Score)
	if err != nil {
		writeError(w, err)
		return
	}

	var endTime any
	if session.EndTime != nil {
		endTime = session.EndTime.Format(time.RFC3339Nano)
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"sessionId": session.ID,
		"endTime":   endTime,
		"score":     session.Score,
	})
}

// POST /api/v1/events
func (h *GameHandler) RecordEvent(w http.ResponseWriter, r *http.Request) {
	game, ok := gameID(r)
	if !ok {
		writeError(w, apperrors.InvalidCredential())
		return
	}

	var req struct {
		SessionID string          `json:"sessionId"`
		EventType string          `json:"eventType"`
		Payload   json.RawMessage `json:"payload"`
	}
	if err := decodeJSON(r, &req, false); err != nil {
		writeError(w, err)
		return
	}

	recorded, err := h.events.Record(r.Context(), game, req.SessionID, req.EventType, req.Payload)
	if err != nil {
		writeError(w, err)
		return
	}

	writeJSON(w, http.StatusCreated, recorded)
}

// POST /api/v1/ai/generate
func (h *GameHandler) Generate(w http.ResponseWriter, r *http.Request) {
	game, ok := gameID(r)
	if !ok {
		writeError(w, apperrors.InvalidCredential())
		return
	}

	var req struct {
		SessionID    string          `json:"sessionId"`
		Prompt       string          `json:"prompt"`
		SystemPrompt string          `json:"systemPrompt"`
		Model        string          `json:"model"`
		Provider     string          `json:"provider"`
		Temperature  *float64        `json:"temperature"`
		MaxTokens    *int            `json:"maxTokens"`
		Metadata     json.RawMessage `json:"metadata"`
	}
	if err := decodeJSON(r, &req, false); err != nil {
		writeError(w, err)
		return
	}
	if string(req.Metadata) == "null" {
		req.Metadata = nil
	}

	result, err := h.ai.Generate(r.Context(), service.GenerateInput{
		GameID:       game,
		SessionID:    req.SessionID,
		Prompt:       req.Prompt,
		SystemPrompt: req.SystemPrompt,
		Model:        req.Model,
		Provider:     req.Provider,
		Temperature:  req.Temperature,
		MaxTokens:    req.MaxTokens,
		Metadata:     req.Metadata,
	})
	if err != nil {
		writeError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, result)
}
