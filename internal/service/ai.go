package service

import (
	"context"
	"encoding/json"
	"strings"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/studyforge/gateway/internal/clock"
	"github.com/studyforge/gateway/internal/config"
	apperrors "github.com/studyforge/gateway/internal/errors"
	"github.com/studyforge/gateway/internal/model"
	"github.com/studyforge/gateway/internal/provider"
	"github.com/studyforge/gateway/internal/repository"
)

// ShortResponseFlagReason is recorded when the automatic safety check flags a reply.
const ShortResponseFlagReason = "Response empty or below minimum length"

type AIConfig struct {
	DefaultProvider   string
	DefaultModel      string
	ProviderTimeout   time.Duration
	MinResponseLength int
}

type GenerateInput struct {
	GameID       string
	SessionID    string
	Prompt       string
	SystemPrompt string
	Model        string
	Provider     string
	Temperature  *float64
	MaxTokens    *int
	Metadata     json.RawMessage
}

type Usage struct {
	PromptTokens     int   `json:"promptTokens"`
	CompletionTokens int   `json:"completionTokens"`
	TotalTokens      int   `json:"totalTokens"`
	LatencyMs        int64 `json:"latencyMs"`
}

type GenerateResult struct {
	Response string  `json:"response"`
	Usage    Usage   `json:"usage"`
	LogID    *string `json:"logId"`
}

// AIService proxies prompts to a registered provider and records exactly one
// audit row per attempted call.
type AIService struct {
	sessions SessionResolver
	registry *provider.Registry
	logs     repository.AILogRepository
	clock    clock.Clock
	cfg      AIConfig
}

func NewAIService(
	sessions SessionResolver,
	registry *provider.Registry,
	logs repository.AILogRepository,
	clk clock.Clock,
	cfg AIConfig,
) *AIService {
	return &AIService{
		sessions: sessions,
		registry: registry,
		logs:     logs,
		clock:    clk,
		cfg:      cfg,
	}
}

func (s *AIService) Generate(ctx context.Context, in GenerateInput) (*GenerateResult, error) {
	if err := validateGenerateInput(in); err != nil {
		return nil, err
	}

	providerName := in.Provider
	if providerName == "" {
		providerName = s.cfg.DefaultProvider
	}
	p, ok := s.registry.Get(providerName)
	if !ok {
		return nil, apperrors.UnsupportedProvider(providerName).WithDetails(map[string]any{
			"field":     "provider",
			"supported": s.registry.Names(),
		})
	}

	session, err := s.sessions.Resolve(ctx, in.GameID, in.SessionID)
	if err != nil {
		return nil, err
	}

	modelName := in.Model
	if modelName == "" {
		modelName = s.cfg.DefaultModel
	}

	messages := make([]provider.Message, 0, 2)
	if in.SystemPrompt != "" {
		messages = append(messages, provider.Message{Role: provider.RoleSystem, Content: in.SystemPrompt})
	}
	messages = append(messages, provider.Message{Role: provider.RoleUser, Content: in.Prompt})

	callCtx, cancel := context.WithTimeout(ctx, s.cfg.ProviderTimeout)
	start := s.clock.Now()
	resp, callErr := p.Generate(callCtx, provider.Request{
		Model:       modelName,
		Messages:    messages,
		Temperature: in.Temperature,
		MaxTokens:   in.MaxTokens,
	})
	latency := s.clock.Now().Sub(start).Milliseconds()
	cancel()

	params := model.CreateAILogParams{
		GameID:        in.GameID,
		SessionID:     session.SessionID,
		ParticipantID: session.ParticipantID,
		Model:         modelName,
		Provider:      providerName,
		LatencyMs:     latency,
		Metadata:      in.Metadata,
	}

	if callErr != nil {
		detail := callErr.Error()
		params.EventType = model.AIEventError
		params.Flagged = true
		params.FlagReason = &detail
		params.Payload = encodeAIPayload(model.AILogPayload{
			Prompt:       in.Prompt,
			SystemPrompt: in.SystemPrompt,
			Error:        detail,
		})
		if _, err := s.writeLog(ctx, params); err != nil {
			log.Error().Err(err).
				Str("sessionId", session.SessionID).
				Str("provider", providerName).
				Msg("failed to record ai_error log")
		}
		return nil, apperrors.Upstream(providerName, callErr)
	}

	flagged := len(strings.TrimSpace(resp.Text)) < s.cfg.MinResponseLength
	params.EventType = model.AIEventSuggestion
	params.ModelVersion = resp.Model
	params.PromptTokens = resp.PromptTokens
	params.CompletionTokens = resp.CompletionTokens
	params.Flagged = flagged
	if flagged {
		reason := ShortResponseFlagReason
		params.FlagReason = &reason
	}
	params.Payload = encodeAIPayload(model.AILogPayload{
		Prompt:       in.Prompt,
		SystemPrompt: in.SystemPrompt,
		Response:     resp.Text,
		FinishReason: resp.FinishReason,
	})

	result := &GenerateResult{
		Response: resp.Text,
		Usage: Usage{
			PromptTokens:     resp.PromptTokens,
			CompletionTokens: resp.CompletionTokens,
			TotalTokens:      resp.PromptTokens + resp.CompletionTokens,
			LatencyMs:        latency,
		},
	}

	entry, err := s.writeLog(ctx, params)
	if err != nil {
		log.Error().Err(err).
			Str("sessionId", session.SessionID).
			Str("provider", providerName).
			Msg("failed to record ai_suggestion log")
		return result, nil
	}
	result.LogID = &entry.ID
	return result, nil
}

// writeLog runs on a context that outlives the request so a disconnecting
// client cannot drop the audit row.
func (s *AIService) writeLog(ctx context.Context, params model.CreateAILogParams) (*model.AIInteractionLog, error) {
	logCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), config.AuditWriteTimeout)
	defer cancel()
	return s.logs.Create(logCtx, params)
}

func validateGenerateInput(in GenerateInput) error {
	if in.SessionID == "" {
		return apperrors.MissingRequired("sessionId")
	}
	if strings.TrimSpace(in.Prompt) == "" {
		return apperrors.MissingRequired("prompt")
	}
	if in.Temperature != nil && (*in.Temperature < 0 || *in.Temperature > 2) {
		return apperrors.InvalidInput("temperature", "must be between 0 and 2")
	}
	if in.MaxTokens != nil && *in.MaxTokens <= 0 {
		return apperrors.InvalidInput("maxTokens", "must be positive")
	}
	if len(in.Metadata) > 0 {
		var obj map[string]json.RawMessage
		if err := json.Unmarshal(in.Metadata, &obj); err != nil {
			return apperrors.InvalidInput("metadata", "must be a JSON object")
		}
	}
	return nil
}

func encodeAIPayload(p model.AILogPayload) json.RawMessage {
	data, err := json.Marshal(p)
	if err != nil {
		return json.RawMessage(`{}`)
	}
	return data
}
