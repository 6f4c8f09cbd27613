package model

import (
	"encoding/json"
	"time"
)

type AIInteractionLog struct {
	ID               string          `db:"id" json:"id"`
	GameID           string          `db:"game_id" json:"gameId"`
	SessionID        string          `db:"session_id" json:"sessionId"`
	ParticipantID    string          `db:"participant_id" json:"participantId"`
	EventType        AIEventType     `db:"event_type" json:"eventType"`
	Model            string          `db:"model" json:"model"`
	Provider         string          `db:"provider" json:"provider"`
	ModelVersion     string          `db:"model_version" json:"modelVersion"`
	PromptTokens     int             `db:"prompt_tokens" json:"promptTokens"`
	CompletionTokens int             `db:"completion_tokens" json:"completionTokens"`
	LatencyMs        int64           `db:"latency_ms" json:"latencyMs"`
	Flagged          bool            `db:"flagged" json:"flagged"`
	FlagReason       *string         `db:"flag_reason" json:"flagReason,omitempty"`
	Payload          json.RawMessage `db:"payload" json:"payload"`
	Metadata         json.RawMessage `db:"metadata" json:"metadata"`
	CreatedAt        time.Time       `db:"created_at" json:"createdAt"`
}

// AILogPayload is stored in ai_interaction_logs.payload.
type AILogPayload struct {
	Prompt       string `json:"prompt"`
	SystemPrompt string `json:"systemPrompt,omitempty"`
	Response     string `json:"response,omitempty"`
	FinishReason string `json:"finishReason,omitempty"`
	Error        string `json:"error,omitempty"`
}

type CreateAILogParams struct {
	GameID           string
	SessionID        string
	ParticipantID    string
	EventType        AIEventType
	Model            string
	Provider         string
	ModelVersion     string
	PromptTokens     int
	CompletionTokens int
	LatencyMs        int64
	Flagged          bool
	FlagReason       *string
	Payload          json.RawMessage
	Metadata         json.RawMessage
}

// TokenSpike is one (session, game) group with more requests than the threshold.
type TokenSpike struct {
	SessionID        string    `db:"session_id" json:"sessionId"`
	GameID           string    `db:"game_id" json:"gameId"`
	RequestCount     int       `db:"request_count" json:"requestCount"`
	PromptTokens     int64     `db:"prompt_tokens" json:"promptTokens"`
	CompletionTokens int64     `db:"completion_tokens" json:"completionTokens"`
	FirstSeen        time.Time `db:"first_seen" json:"firstSeen"`
	LastSeen         time.Time `db:"last_seen" json:"lastSeen"`
}
