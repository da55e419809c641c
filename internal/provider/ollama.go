package provider

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	ragerr "github.com/zoterag/zoterag/internal/errors"
)

// DefaultOllamaURL is where a stock Ollama install listens.
const DefaultOllamaURL = "http://localhost:11434"

const (
	ollamaProbeTimeout = 3 * time.Second
	ollamaListTimeout  = 5 * time.Second

	// ollamaChatTimeout is generous because a cold model load can
	// precede the first token.
	ollamaChatTimeout = 120 * time.Second
)

// ollamaProvider talks to a local Ollama server over its native HTTP
// API. There is no API key; the base URL is the only credential.
type ollamaProvider struct {
	baseURL string
	client  *http.Client
}

var _ Provider = (*ollamaProvider)(nil)

func newOllamaProvider(creds Credentials) *ollamaProvider {
	base := strings.TrimRight(creds.BaseURL, "/")
	if base == "" {
		base = DefaultOllamaURL
	}
	return &ollamaProvider{baseURL: base, client: &http.Client{}}
}

func (p *ollamaProvider) ID() string { return Ollama }

func (p *ollamaProvider) DefaultModel() string { return "llama3.2" }

func (p *ollamaProvider) Info() Info {
	return Info{
		ID:                Ollama,
		Label:             "Ollama (Local)",
		DefaultModel:      p.DefaultModel(),
		SupportsStreaming: true,
		RequiresAPIKey:    false,
	}
}

// Validate probes /api/tags with a short timeout.
func (p *ollamaProvider) Validate(ctx context.Context) error {
	probeCtx, cancel := context.WithTimeout(ctx, ollamaProbeTimeout)
	defer cancel()
	_, err := p.tags(probeCtx)
	return err
}

// ListModels returns the locally installed models. The bare name
// before the tag doubles as display name and the model family as
// description.
func (p *ollamaProvider) ListModels(ctx context.Context) ([]ModelInfo, error) {
	listCtx, cancel := context.WithTimeout(ctx, ollamaListTimeout)
	defer cancel()

	tags, err := p.tags(listCtx)
	if err != nil {
		return nil, err
	}

	models := make([]ModelInfo, 0, len(tags.Models))
	for _, m := range tags.Models {
		models = append(models, ModelInfo{
			ID:          m.Name,
			Name:        strings.SplitN(m.Name, ":", 2)[0],
			Description: m.Details.Family,
		})
	}
	return models, nil
}

func (p *ollamaProvider) tags(ctx context.Context) (*ollamaTags, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, p.baseURL+"/api/tags", nil)
	if err != nil {
		return nil, ragerr.InternalError("build tags request", err)
	}

	resp, err := p.client.Do(req)
	if err != nil {
		return nil, ragerr.ConnectionError(
			fmt.Sprintf("cannot connect to Ollama at %s", p.baseURL), err).
			WithSuggestion("make sure Ollama is running (try 'ollama serve')")
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(resp.Body)
		return nil, ragerr.ConnectionError(
			fmt.Sprintf("Ollama at %s answered status %d: %s",
				p.baseURL, resp.StatusCode, strings.TrimSpace(string(body))), nil)
	}

	var tags ollamaTags
	if err := json.NewDecoder(resp.Body).Decode(&tags); err != nil {
		return nil, ragerr.ConnectionError("decode Ollama tags response", err)
	}
	return &tags, nil
}

// Chat calls /api/chat without streaming. Sampling options travel in
// the options object under Ollama's native names; the token budget is
// num_predict there.
func (p *ollamaProvider) Chat(ctx context.Context, messages []Message, params Params) (ChatResponse, error) {
	model := params.Model
	if model == "" {
		model = p.DefaultModel()
	}

	options := MapParams(params.Options(), Ollama)
	if params.MaxTokens > 0 {
		options["num_predict"] = params.MaxTokens
	}

	body, err := json.Marshal(ollamaChatRequest{
		Model:    model,
		Messages: ToOpenAI(messages),
		Stream:   false,
		Options:  options,
	})
	if err != nil {
		return ChatResponse{}, ragerr.InternalError("marshal chat request", err)
	}

	chatCtx, cancel := context.WithTimeout(ctx, ollamaChatTimeout)
	defer cancel()

	req, err := http.NewRequestWithContext(chatCtx, http.MethodPost, p.baseURL+"/api/chat", bytes.NewReader(body))
	if err != nil {
		return ChatResponse{}, ragerr.InternalError("build chat request", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := p.client.Do(req)
	if err != nil {
		if chatCtx.Err() == context.DeadlineExceeded {
			return ChatResponse{}, ragerr.New(ragerr.ErrCodeTimeout,
				fmt.Sprintf("Ollama did not answer within %s; the model may be slow or not responding",
					ollamaChatTimeout), err)
		}
		return ChatResponse{}, ragerr.ConnectionError(
			fmt.Sprintf("cannot connect to Ollama at %s", p.baseURL), err).
			WithSuggestion("make sure Ollama is running (try 'ollama serve')")
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusOK {
		respBody, _ := io.ReadAll(resp.Body)
		return ChatResponse{}, ollamaStatusError(resp.StatusCode, model, respBody)
	}

	var result ollamaChatResponse
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return ChatResponse{}, ragerr.ConnectionError("decode Ollama chat response", err)
	}

	out := ChatResponse{Content: result.Message.Content, Model: model}
	if result.PromptEvalCount > 0 || result.EvalCount > 0 {
		out.Usage = &Usage{
			PromptTokens:     result.PromptEvalCount,
			CompletionTokens: result.EvalCount,
		}
	}
	return out, nil
}

// ollamaStatusError classifies a non-200 chat response.
func ollamaStatusError(status int, model string, body []byte) error {
	msg := strings.TrimSpace(string(body))
	switch {
	case status == http.StatusNotFound:
		return ragerr.New(ragerr.ErrCodeModelUnknown,
			fmt.Sprintf("model %q not found", model), nil).
			WithSuggestion(fmt.Sprintf("pull it first with: ollama pull %s", model))
	case status == http.StatusTooManyRequests:
		return ragerr.New(ragerr.ErrCodeRateLimited,
			fmt.Sprintf("Ollama rate limited the request: %s", msg), nil)
	case status >= 500:
		return ragerr.ConnectionError(
			fmt.Sprintf("Ollama server error %d: %s", status, msg), nil)
	default:
		return ragerr.InternalError(
			fmt.Sprintf("Ollama chat failed with status %d: %s", status, msg), nil)
	}
}

type ollamaChatRequest struct {
	Model    string         `json:"model"`
	Messages []Message      `json:"messages"`
	Stream   bool           `json:"stream"`
	Options  map[string]any `json:"options,omitempty"`
}

type ollamaChatResponse struct {
	Message         Message `json:"message"`
	PromptEvalCount int     `json:"prompt_eval_count"`
	EvalCount       int     `json:"eval_count"`
}

type ollamaTags struct {
	Models []ollamaTagModel `json:"models"`
}

type ollamaTagModel struct {
	Name    string           `json:"name"`
	Details ollamaTagDetails `json:"details"`
}

type ollamaTagDetails struct {
	Family string `json:"family"`
}
