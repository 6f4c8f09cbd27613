package provider

import (
	"context"
	"fmt"
	"strings"

	"github.com/openai/openai-go"
	"github.com/openai/openai-go/option"
)

const OpenAIName = "openai"

type OpenAIConfig struct {
	APIKey  string
	BaseURL string
}

// OpenAI calls the chat completions endpoint through openai-go.
type OpenAI struct {
	client openai.Client
}

var _ Provider = (*OpenAI)(nil)

func NewOpenAI(cfg OpenAIConfig) *OpenAI {
	opts := []option.RequestOption{
		option.WithAPIKey(cfg.APIKey),
		// The caller owns timeouts and the audit trail records each attempt once.
		option.WithMaxRetries(0),
	}
	if base := strings.TrimSpace(cfg.BaseURL); base != "" {
		if !strings.HasSuffix(base, "/") {
			base += "/"
		}
		opts = append(opts, option.WithBaseURL(base))
	}
	return &OpenAI{client: openai.NewClient(opts...)}
}

func (p *OpenAI) Name() string {
	return OpenAIName
}

func (p *OpenAI) Generate(ctx context.Context, req Request) (*Response, error) {
	if strings.TrimSpace(req.Model) == "" {
		return nil, fmt.Errorf("model is required")
	}

	messages := make([]openai.ChatCompletionMessageParamUnion, 0, len(req.Messages))
	for _, m := range req.Messages {
		switch m.Role {
		case RoleSystem:
			messages = append(messages, openai.SystemMessage(m.Content))
		case RoleUser:
			messages = append(messages, openai.UserMessage(m.Content))
		default:
			return nil, fmt.Errorf("unsupported message role %q", m.Role)
		}
	}

	params := openai.ChatCompletionNewParams{
		Model:    openai.ChatModel(req.Model),
		Messages: messages,
	}
	if req.Temperature != nil {
		params.Temperature = openai.Float(*req.Temperature)
	}
	if req.MaxTokens != nil {
		params.MaxTokens = openai.Int(int64(*req.MaxTokens))
	}

	completion, err := p.client.Chat.Completions.New(ctx, params)
	if err != nil {
		return nil, fmt.Errorf("openai chat completion: %w", err)
	}
	if len(completion.Choices) == 0 {
		return nil, fmt.Errorf("openai chat completion returned no choices")
	}

	choice := completion.Choices[0]
	return &Response{
		Text:             choice.Message.Content,
		Model:            completion.Model,
		PromptTokens:     int(completion.Usage.PromptTokens),
		CompletionTokens: int(completion.Usage.CompletionTokens),
		FinishReason:     string(choice.FinishReason),
	}, nil
}
