package provider

import (
	"context"
	"errors"
	"fmt"
	"math"
	"slices"
	"strings"

	openai "github.com/sashabaranov/go-openai"

	ragerr "github.com/zoterag/zoterag/internal/errors"
)

// compatConfig describes one backend that speaks the OpenAI chat
// protocol. Six providers share the compatProvider implementation and
// differ only in this table.
type compatConfig struct {
	id           string
	label        string
	defaultModel string
	baseURL      string
	requiresKey  bool

	// dummyKey is sent when the backend ignores authentication but
	// the client insists on a token (LM Studio).
	dummyKey string

	// normalizeV1 forces the base URL to end in /v1. LM Studio users
	// tend to configure the bare host.
	normalizeV1 bool

	// sendFrequencyPenalty emits the frequency_penalty field, using
	// defaultFrequencyPenalty when the canonical params carry no
	// repetition penalty. Some backends (Mistral) reject the field.
	sendFrequencyPenalty    bool
	defaultFrequencyPenalty float64

	// listDescription is stamped on dynamically discovered models.
	listDescription string

	// listLimit caps dynamic listings; OpenRouter serves hundreds of
	// models and the first page is the useful one. 0 means no cap.
	listLimit int

	// curated is preferred over the raw listing, filtered down to the
	// models the account can actually reach; curatedMatch is the
	// substring fallback when none of the curated ids are live.
	curated      []ModelInfo
	curatedMatch string

	// fallback is returned when dynamic discovery fails; staticOnly
	// skips discovery entirely for backends without a models
	// endpoint.
	fallback   []ModelInfo
	staticOnly bool

	// emptyListErr turns an empty model listing into a validation
	// failure (LM Studio with no model loaded).
	emptyListErr string
}

// compatProvider implements Provider for any OpenAI-compatible
// backend.
type compatProvider struct {
	cfg    compatConfig
	creds  Credentials
	client *openai.Client
}

var _ Provider = (*compatProvider)(nil)

func newCompatProvider(cfg compatConfig, creds Credentials) *compatProvider {
	base := strings.TrimRight(creds.BaseURL, "/")
	if base == "" {
		base = cfg.baseURL
	}
	if cfg.normalizeV1 && !strings.HasSuffix(base, "/v1") {
		base = strings.TrimRight(base, "/") + "/v1"
	}

	key := creds.APIKey
	if key == "" {
		key = cfg.dummyKey
	}

	clientCfg := openai.DefaultConfig(key)
	clientCfg.BaseURL = base
	return &compatProvider{
		cfg:    cfg,
		creds:  creds,
		client: openai.NewClientWithConfig(clientCfg),
	}
}

func (p *compatProvider) ID() string { return p.cfg.id }

func (p *compatProvider) DefaultModel() string { return p.cfg.defaultModel }

func (p *compatProvider) Info() Info {
	return Info{
		ID:                p.cfg.id,
		Label:             p.cfg.label,
		DefaultModel:      p.cfg.defaultModel,
		SupportsStreaming: true,
		RequiresAPIKey:    p.cfg.requiresKey,
	}
}

func (p *compatProvider) requireKey() error {
	if p.cfg.requiresKey && p.creds.APIKey == "" {
		return ragerr.New(ragerr.ErrCodeAuth,
			fmt.Sprintf("%s API key is required", p.cfg.label), nil).
			WithSuggestion(fmt.Sprintf("set an API key for the %s provider", p.cfg.id))
	}
	return nil
}

// Validate lists models as the cheapest authenticated round-trip.
// Backends without a models endpoint get a one-token completion
// instead.
func (p *compatProvider) Validate(ctx context.Context) error {
	if err := p.requireKey(); err != nil {
		return err
	}

	if p.cfg.staticOnly {
		_, err := p.Chat(ctx, []Message{{Role: RoleUser, Content: "Hi"}}, Params{MaxTokens: 1})
		return err
	}

	list, err := p.client.ListModels(ctx)
	if err != nil {
		return p.classify(err)
	}
	if p.cfg.emptyListErr != "" && len(list.Models) == 0 {
		return ragerr.DataError(p.cfg.emptyListErr, nil)
	}
	return nil
}

// ListModels discovers models dynamically where the backend supports
// it. Providers with a curated list keep its order and drop entries
// the account cannot reach; providers with a static fallback degrade
// to it instead of failing.
func (p *compatProvider) ListModels(ctx context.Context) ([]ModelInfo, error) {
	if err := p.requireKey(); err != nil {
		return nil, err
	}
	if p.cfg.staticOnly {
		return slices.Clone(p.cfg.fallback), nil
	}

	list, err := p.client.ListModels(ctx)
	if err != nil {
		if len(p.cfg.fallback) > 0 {
			return slices.Clone(p.cfg.fallback), nil
		}
		return nil, p.classify(err)
	}

	if len(p.cfg.curated) > 0 {
		return p.curatedModels(list.Models), nil
	}

	models := make([]ModelInfo, 0, len(list.Models))
	for _, m := range list.Models {
		models = append(models, ModelInfo{
			ID:          m.ID,
			Name:        m.ID,
			Description: p.cfg.listDescription,
		})
		if p.cfg.listLimit > 0 && len(models) >= p.cfg.listLimit {
			break
		}
	}
	return models, nil
}

func (p *compatProvider) curatedModels(available []openai.Model) []ModelInfo {
	live := make(map[string]bool, len(available))
	for _, m := range available {
		live[m.ID] = true
	}

	var models []ModelInfo
	for _, m := range p.cfg.curated {
		if live[m.ID] {
			models = append(models, m)
		}
	}
	if len(models) > 0 {
		return models
	}
	for _, m := range available {
		if strings.Contains(m.ID, p.cfg.curatedMatch) {
			models = append(models, ModelInfo{ID: m.ID, Name: m.ID})
		}
	}
	return models
}

// Chat sends the conversation through the chat completions endpoint.
func (p *compatProvider) Chat(ctx context.Context, messages []Message, params Params) (ChatResponse, error) {
	if err := p.requireKey(); err != nil {
		return ChatResponse{}, err
	}

	model := params.Model
	if model == "" {
		model = p.cfg.defaultModel
	}
	if model == "" {
		return ChatResponse{}, ragerr.New(ragerr.ErrCodeModelUnknown,
			fmt.Sprintf("no model selected for %s", p.cfg.label), nil).
			WithSuggestion("load a model and select it explicitly")
	}

	mapped := MapParams(params.Options(), p.cfg.id)

	req := openai.ChatCompletionRequest{
		Model:       model,
		Messages:    toOpenAIMessages(ToOpenAI(messages)),
		Temperature: wireTemperature(params.Temperature),
	}
	if params.MaxTokens > 0 {
		req.MaxTokens = params.MaxTokens
	}
	if v, ok := floatOption(mapped, "top_p"); ok {
		req.TopP = v
	}
	if p.cfg.sendFrequencyPenalty {
		fp := float32(p.cfg.defaultFrequencyPenalty)
		if v, ok := floatOption(mapped, "frequency_penalty"); ok {
			fp = v
		}
		req.FrequencyPenalty = fp
	}

	resp, err := p.client.CreateChatCompletion(ctx, req)
	if err != nil {
		return ChatResponse{}, p.classify(err)
	}
	if len(resp.Choices) == 0 {
		return ChatResponse{}, ragerr.ConnectionError(
			fmt.Sprintf("%s returned no choices", p.cfg.label), nil)
	}

	out := ChatResponse{Content: resp.Choices[0].Message.Content, Model: resp.Model}
	if out.Model == "" {
		out.Model = model
	}
	if resp.Usage.PromptTokens > 0 || resp.Usage.CompletionTokens > 0 {
		out.Usage = &Usage{
			PromptTokens:     resp.Usage.PromptTokens,
			CompletionTokens: resp.Usage.CompletionTokens,
		}
	}
	return out, nil
}

// classify maps client errors onto the error taxonomy. The client
// reports API-level failures as APIError with a status code and
// transport failures as raw errors.
func (p *compatProvider) classify(err error) error {
	var apiErr *openai.APIError
	if errors.As(err, &apiErr) {
		return classifyStatus(p.cfg.label, apiErr.HTTPStatusCode, apiErr.Message, err)
	}

	var reqErr *openai.RequestError
	if errors.As(err, &reqErr) {
		return classifyStatus(p.cfg.label, reqErr.HTTPStatusCode, reqErr.Error(), err)
	}

	return classifyMessage(p.cfg.label, err)
}

func toOpenAIMessages(messages []Message) []openai.ChatCompletionMessage {
	out := make([]openai.ChatCompletionMessage, len(messages))
	for i, m := range messages {
		out[i] = openai.ChatCompletionMessage{Role: m.Role, Content: m.Content}
	}
	return out
}

// wireTemperature keeps an explicit temperature 0 on the wire. The
// client omits zero-valued floats when marshaling, which would hand
// the call the backend default instead of the deterministic setting
// extraction calls rely on.
func wireTemperature(t float64) float32 {
	if t == 0 {
		return math.SmallestNonzeroFloat32
	}
	return float32(t)
}

func floatOption(opts map[string]any, key string) (float32, bool) {
	v, ok := opts[key]
	if !ok {
		return 0, false
	}
	f, ok := v.(float64)
	if !ok {
		return 0, false
	}
	return float32(f), true
}

func openAIConfig() compatConfig {
	return compatConfig{
		id:                   OpenAI,
		label:                "OpenAI",
		defaultModel:         "gpt-4o-mini",
		baseURL:              "https://api.openai.com/v1",
		requiresKey:          true,
		sendFrequencyPenalty: true,
		curated: []ModelInfo{
			{ID: "gpt-4o", Name: "GPT-4o", Description: "Most capable model, best for complex reasoning", ContextLength: 128000},
			{ID: "gpt-4o-mini", Name: "GPT-4o Mini", Description: "Fast and affordable, good for most tasks", ContextLength: 128000},
			{ID: "gpt-4-turbo", Name: "GPT-4 Turbo", Description: "Previous generation flagship model", ContextLength: 128000},
			{ID: "gpt-3.5-turbo", Name: "GPT-3.5 Turbo", Description: "Fast and economical", ContextLength: 16385},
		},
		curatedMatch: "gpt",
	}
}

func lmStudioConfig() compatConfig {
	return compatConfig{
		id:                      LMStudio,
		label:                   "LM Studio (Local)",
		defaultModel:            "",
		baseURL:                 "http://localhost:1234/v1",
		dummyKey:                "lm-studio",
		normalizeV1:             true,
		sendFrequencyPenalty:    true,
		defaultFrequencyPenalty: 0.3,
		listDescription:         "Local model via LM Studio",
		emptyListErr:            "LM Studio is running but no models are loaded. Please load a model in LM Studio before using it.",
	}
}

func mistralConfig() compatConfig {
	return compatConfig{
		id:           Mistral,
		label:        "Mistral",
		defaultModel: "mistral-large-latest",
		baseURL:      "https://api.mistral.ai/v1",
		requiresKey:  true,
		fallback: []ModelInfo{
			{ID: "mistral-large-latest", Name: "Mistral Large (Latest)", Description: "Most capable Mistral model", ContextLength: 128000},
			{ID: "mistral-medium-latest", Name: "Mistral Medium (Latest)", Description: "Balanced performance", ContextLength: 32000},
			{ID: "mistral-small-latest", Name: "Mistral Small (Latest)", Description: "Fast and efficient", ContextLength: 32000},
			{ID: "open-mistral-nemo", Name: "Mistral Nemo", Description: "Open source model", ContextLength: 128000},
			{ID: "open-mixtral-8x7b", Name: "Mixtral 8x7B", Description: "Mixture of experts model", ContextLength: 32000},
		},
	}
}

func groqConfig() compatConfig {
	return compatConfig{
		id:                      Groq,
		label:                   "Groq",
		defaultModel:            "llama-3.3-70b-versatile",
		baseURL:                 "https://api.groq.com/openai/v1",
		requiresKey:             true,
		sendFrequencyPenalty:    true,
		defaultFrequencyPenalty: 0.3,
		fallback: []ModelInfo{
			{ID: "llama-3.3-70b-versatile", Name: "Llama 3.3 70B", Description: "Most capable Llama model", ContextLength: 32768},
			{ID: "llama-3.1-8b-instant", Name: "Llama 3.1 8B", Description: "Fast and efficient", ContextLength: 131072},
		},
	}
}

func openRouterConfig() compatConfig {
	return compatConfig{
		id:                      OpenRouter,
		label:                   "OpenRouter",
		defaultModel:            "anthropic/claude-3.5-sonnet",
		baseURL:                 "https://openrouter.ai/api/v1",
		requiresKey:             true,
		sendFrequencyPenalty:    true,
		defaultFrequencyPenalty: 0.3,
		listLimit:               20,
		fallback: []ModelInfo{
			{ID: "anthropic/claude-3.5-sonnet", Name: "Claude 3.5 Sonnet", Description: "Via OpenRouter", ContextLength: 200000},
			{ID: "openai/gpt-4-turbo", Name: "GPT-4 Turbo", Description: "Via OpenRouter", ContextLength: 128000},
		},
	}
}

func perplexityConfig() compatConfig {
	return compatConfig{
		id:           Perplexity,
		label:        "Perplexity",
		defaultModel: "sonar-pro",
		baseURL:      "https://api.perplexity.ai",
		requiresKey:  true,
		staticOnly:   true,
		fallback: []ModelInfo{
			{ID: "sonar-pro", Name: "Sonar Pro", Description: "Web-augmented model for complex queries", ContextLength: 200000},
			{ID: "sonar", Name: "Sonar", Description: "Fast web-augmented model", ContextLength: 128000},
		},
	}
}
