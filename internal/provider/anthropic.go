package provider

import (
	"context"
	"errors"
	"strings"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"

	ragerr "github.com/zoterag/zoterag/internal/errors"
)

const anthropicDefaultModel = "claude-3-5-sonnet-20241022"

// anthropicProvider wraps the official SDK.
type anthropicProvider struct {
	apiKey string
	client anthropic.Client
}

var _ Provider = (*anthropicProvider)(nil)

// newAnthropicProvider builds the provider. BaseURL is honored when
// set so tests can point the SDK at a local server.
func newAnthropicProvider(creds Credentials) *anthropicProvider {
	opts := []option.RequestOption{option.WithAPIKey(creds.APIKey)}
	if creds.BaseURL != "" {
		opts = append(opts, option.WithBaseURL(creds.BaseURL))
	}
	return &anthropicProvider{apiKey: creds.APIKey, client: anthropic.NewClient(opts...)}
}

func (p *anthropicProvider) ID() string { return Anthropic }

func (p *anthropicProvider) DefaultModel() string { return anthropicDefaultModel }

func (p *anthropicProvider) Info() Info {
	return Info{
		ID:                Anthropic,
		Label:             "Anthropic",
		DefaultModel:      anthropicDefaultModel,
		SupportsStreaming: true,
		RequiresAPIKey:    true,
	}
}

func (p *anthropicProvider) requireKey() error {
	if p.apiKey == "" {
		return ragerr.New(ragerr.ErrCodeAuth, "Anthropic API key is required", nil).
			WithSuggestion("set an API key for the anthropic provider")
	}
	return nil
}

// Validate issues a one-token completion, the cheapest call that
// actually exercises the key.
func (p *anthropicProvider) Validate(ctx context.Context) error {
	if err := p.requireKey(); err != nil {
		return err
	}
	_, err := p.client.Messages.New(ctx, anthropic.MessageNewParams{
		Model:     anthropic.Model(anthropicDefaultModel),
		MaxTokens: 1,
		Messages: []anthropic.MessageParam{
			anthropic.NewUserMessage(anthropic.NewTextBlock("Hi")),
		},
	})
	if err != nil {
		return p.classify(err)
	}
	return nil
}

// ListModels returns the known model generations. The listing is
// static so it works offline and without burning quota.
func (p *anthropicProvider) ListModels(_ context.Context) ([]ModelInfo, error) {
	return []ModelInfo{
		{ID: "claude-3-5-sonnet-20241022", Name: "Claude 3.5 Sonnet", Description: "Most intelligent model, best for complex reasoning", ContextLength: 200000},
		{ID: "claude-3-5-haiku-20241022", Name: "Claude 3.5 Haiku", Description: "Fastest model, good for simple tasks", ContextLength: 200000},
		{ID: "claude-3-opus-20240229", Name: "Claude 3 Opus", Description: "Previous flagship model, highly capable", ContextLength: 200000},
		{ID: "claude-3-sonnet-20240229", Name: "Claude 3 Sonnet", Description: "Balanced performance and speed", ContextLength: 200000},
		{ID: "claude-3-haiku-20240307", Name: "Claude 3 Haiku", Description: "Fast and efficient", ContextLength: 200000},
	}, nil
}

// Chat sends the conversation through the Messages API. The system
// prompt travels in its own field; the API rejects system roles inside
// the message list.
func (p *anthropicProvider) Chat(ctx context.Context, messages []Message, params Params) (ChatResponse, error) {
	if err := p.requireKey(); err != nil {
		return ChatResponse{}, err
	}

	system, rest := ToAnthropic(messages)
	if len(rest) == 0 {
		return ChatResponse{}, ragerr.ValidationError("at least one non-system message is required", nil)
	}

	model := params.Model
	if model == "" {
		model = anthropicDefaultModel
	}
	maxTokens := params.MaxTokens
	if maxTokens <= 0 {
		maxTokens = 512
	}

	conv := make([]anthropic.MessageParam, 0, len(rest))
	for _, m := range rest {
		block := anthropic.NewTextBlock(m.Content)
		if m.Role == RoleAssistant {
			conv = append(conv, anthropic.NewAssistantMessage(block))
		} else {
			conv = append(conv, anthropic.NewUserMessage(block))
		}
	}

	req := anthropic.MessageNewParams{
		Model:       anthropic.Model(model),
		MaxTokens:   int64(maxTokens),
		Messages:    conv,
		Temperature: anthropic.Float(params.Temperature),
	}
	if system != "" {
		req.System = []anthropic.TextBlockParam{{Text: system}}
	}

	mapped := MapParams(params.Options(), Anthropic)
	if v, ok := mapped["top_p"].(float64); ok {
		req.TopP = anthropic.Float(v)
	}
	if v, ok := mapped["top_k"].(int); ok {
		req.TopK = anthropic.Int(int64(v))
	}

	msg, err := p.client.Messages.New(ctx, req)
	if err != nil {
		return ChatResponse{}, p.classify(err)
	}

	var parts []string
	for _, block := range msg.Content {
		if block.Type == "text" {
			parts = append(parts, block.Text)
		}
	}

	out := ChatResponse{Content: strings.Join(parts, " "), Model: string(msg.Model)}
	if msg.Usage.InputTokens > 0 || msg.Usage.OutputTokens > 0 {
		out.Usage = &Usage{
			PromptTokens:     int(msg.Usage.InputTokens),
			CompletionTokens: int(msg.Usage.OutputTokens),
		}
	}
	return out, nil
}

// classify maps SDK failures onto the error taxonomy.
func (p *anthropicProvider) classify(err error) error {
	var apiErr *anthropic.Error
	if errors.As(err, &apiErr) {
		return classifyStatus("Anthropic", apiErr.StatusCode, apiErr.Error(), err)
	}
	return classifyMessage("Anthropic", err)
}
