package provider

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"slices"
	"strings"
	"time"

	ragerr "github.com/zoterag/zoterag/internal/errors"
)

// geminiBaseURL is the Generative Language API root.
const geminiBaseURL = "https://generativelanguage.googleapis.com/v1beta"

const (
	geminiProbeTimeout = 10 * time.Second

	// geminiChatTimeout is longer than the other backends because
	// long-context Gemini calls regularly take over a minute.
	geminiChatTimeout = 120 * time.Second
)

// geminiProvider talks to Google's Generative Language REST API
// directly.
type geminiProvider struct {
	apiKey  string
	baseURL string
	client  *http.Client
}

var _ Provider = (*geminiProvider)(nil)

func newGeminiProvider(creds Credentials) *geminiProvider {
	base := strings.TrimRight(creds.BaseURL, "/")
	if base == "" {
		base = geminiBaseURL
	}
	return &geminiProvider{apiKey: creds.APIKey, baseURL: base, client: &http.Client{}}
}

func (p *geminiProvider) ID() string { return Google }

func (p *geminiProvider) DefaultModel() string { return "gemini-1.5-pro-latest" }

func (p *geminiProvider) Info() Info {
	return Info{
		ID:                Google,
		Label:             "Google",
		DefaultModel:      p.DefaultModel(),
		SupportsStreaming: true,
		RequiresAPIKey:    true,
	}
}

func (p *geminiProvider) requireKey() error {
	if p.apiKey == "" {
		return ragerr.New(ragerr.ErrCodeAuth, "Google API key is required", nil).
			WithSuggestion("set an API key for the google provider")
	}
	return nil
}

// Validate lists models, the cheapest authenticated call the API
// offers.
func (p *geminiProvider) Validate(ctx context.Context) error {
	if err := p.requireKey(); err != nil {
		return err
	}
	probeCtx, cancel := context.WithTimeout(ctx, geminiProbeTimeout)
	defer cancel()
	_, err := p.fetchModels(probeCtx)
	return err
}

// ListModels discovers models dynamically and degrades to the static
// generation list when discovery fails.
func (p *geminiProvider) ListModels(ctx context.Context) ([]ModelInfo, error) {
	if err := p.requireKey(); err != nil {
		return nil, err
	}

	models, err := p.fetchModels(ctx)
	if err != nil {
		slog.Debug("gemini model discovery failed, using static list",
			slog.String("error", err.Error()))
		return geminiFallbackModels(), nil
	}
	return models, nil
}

func (p *geminiProvider) fetchModels(ctx context.Context) ([]ModelInfo, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, p.baseURL+"/models?pageSize=100", nil)
	if err != nil {
		return nil, ragerr.InternalError("build models request", err)
	}
	req.Header.Set("x-goog-api-key", p.apiKey)

	resp, err := p.client.Do(req)
	if err != nil {
		return nil, ragerr.ConnectionError("cannot reach Google Gemini", err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(resp.Body)
		return nil, geminiStatusError(resp.StatusCode, body)
	}

	var list geminiModelList
	if err := json.NewDecoder(resp.Body).Decode(&list); err != nil {
		return nil, ragerr.ConnectionError("decode Gemini models response", err)
	}

	models := make([]ModelInfo, 0, len(list.Models))
	for _, m := range list.Models {
		if !slices.Contains(m.SupportedGenerationMethods, "generateContent") {
			continue
		}
		id := strings.TrimPrefix(m.Name, "models/")
		name := m.DisplayName
		if name == "" {
			name = id
		}
		models = append(models, ModelInfo{
			ID:            id,
			Name:          name,
			Description:   m.Description,
			ContextLength: m.InputTokenLimit,
		})
	}
	return models, nil
}

// Chat posts to :generateContent. The REST endpoint takes the whole
// conversation at once, so single-shot and multi-turn collapse into
// the same request shape. Safety thresholds are disabled: scholarly
// passages about violence or medicine trip the default filters.
func (p *geminiProvider) Chat(ctx context.Context, messages []Message, params Params) (ChatResponse, error) {
	if err := p.requireKey(); err != nil {
		return ChatResponse{}, err
	}

	systemInstruction, contents := ToGemini(messages)
	if len(contents) == 0 {
		return ChatResponse{}, ragerr.ValidationError("at least one non-system message is required", nil)
	}

	model := params.Model
	if model == "" {
		model = p.DefaultModel()
	}

	mapped := MapParams(params.Options(), Google)
	genCfg := geminiGenerationConfig{
		Temperature: params.Temperature,
		TopP:        0.95,
		TopK:        40,
	}
	if params.MaxTokens > 0 {
		genCfg.MaxOutputTokens = params.MaxTokens
	}
	if v, ok := mapped["top_p"].(float64); ok {
		genCfg.TopP = v
	}
	if v, ok := mapped["top_k"].(int); ok {
		genCfg.TopK = v
	}

	reqBody := geminiGenerateRequest{
		Contents:         contents,
		GenerationConfig: genCfg,
		SafetySettings:   geminiSafetyOff(),
	}
	if systemInstruction != "" {
		reqBody.SystemInstruction = &GeminiContent{Parts: []GeminiPart{{Text: systemInstruction}}}
	}

	body, err := json.Marshal(reqBody)
	if err != nil {
		return ChatResponse{}, ragerr.InternalError("marshal chat request", err)
	}

	chatCtx, cancel := context.WithTimeout(ctx, geminiChatTimeout)
	defer cancel()

	u := fmt.Sprintf("%s/models/%s:generateContent", p.baseURL, model)
	req, err := http.NewRequestWithContext(chatCtx, http.MethodPost, u, bytes.NewReader(body))
	if err != nil {
		return ChatResponse{}, ragerr.InternalError("build chat request", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("x-goog-api-key", p.apiKey)

	resp, err := p.client.Do(req)
	if err != nil {
		if chatCtx.Err() == context.DeadlineExceeded {
			return ChatResponse{}, ragerr.New(ragerr.ErrCodeTimeout,
				fmt.Sprintf("Google Gemini did not answer within %s", geminiChatTimeout), err)
		}
		return ChatResponse{}, ragerr.ConnectionError("cannot reach Google Gemini", err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusOK {
		respBody, _ := io.ReadAll(resp.Body)
		return ChatResponse{}, geminiStatusError(resp.StatusCode, respBody)
	}

	var result geminiGenerateResponse
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return ChatResponse{}, ragerr.ConnectionError("decode Gemini response", err)
	}

	content := result.text()
	if content == "" {
		return ChatResponse{}, ragerr.InternalError("no content in Google Gemini response", nil)
	}

	out := ChatResponse{Content: content, Model: model}
	if result.UsageMetadata != nil &&
		(result.UsageMetadata.PromptTokenCount > 0 || result.UsageMetadata.CandidatesTokenCount > 0) {
		out.Usage = &Usage{
			PromptTokens:     result.UsageMetadata.PromptTokenCount,
			CompletionTokens: result.UsageMetadata.CandidatesTokenCount,
		}
	}
	return out, nil
}

// geminiStatusError classifies a non-200 response. Gemini reports
// invalid keys as 400 and quota exhaustion sometimes as 403, so the
// body matters as much as the status.
func geminiStatusError(status int, body []byte) error {
	msg := strings.TrimSpace(string(body))
	lower := strings.ToLower(msg)
	switch {
	case status == http.StatusTooManyRequests || strings.Contains(lower, "quota"):
		return ragerr.New(ragerr.ErrCodeRateLimited,
			fmt.Sprintf("Google Gemini rate limit reached: %s", msg), nil).
			WithSuggestion("wait a moment and retry")
	case status == http.StatusUnauthorized || status == http.StatusForbidden ||
		strings.Contains(msg, "API_KEY_INVALID"):
		return ragerr.New(ragerr.ErrCodeAuth,
			fmt.Sprintf("Google Gemini rejected the API key: %s", msg), nil).
			WithSuggestion("check the configured API key")
	case status == http.StatusNotFound:
		return ragerr.New(ragerr.ErrCodeModelUnknown,
			fmt.Sprintf("Google Gemini: %s", msg), nil)
	case mentionsContextLength(lower) ||
		(status == http.StatusBadRequest && strings.Contains(lower, "token")):
		return ragerr.New(ragerr.ErrCodeContextLength,
			fmt.Sprintf("Google Gemini: %s", msg), nil).
			WithSuggestion("shorten the conversation or pick a model with a larger context window")
	case status >= 500:
		return ragerr.ConnectionError(
			fmt.Sprintf("Google Gemini server error %d: %s", status, msg), nil)
	default:
		return ragerr.InternalError(
			fmt.Sprintf("Google Gemini request failed with status %d: %s", status, msg), nil)
	}
}

// geminiSafetyOff disables all four safety filters.
func geminiSafetyOff() []geminiSafetySetting {
	categories := []string{
		"HARM_CATEGORY_HARASSMENT",
		"HARM_CATEGORY_HATE_SPEECH",
		"HARM_CATEGORY_SEXUALLY_EXPLICIT",
		"HARM_CATEGORY_DANGEROUS_CONTENT",
	}
	settings := make([]geminiSafetySetting, len(categories))
	for i, c := range categories {
		settings[i] = geminiSafetySetting{Category: c, Threshold: "BLOCK_NONE"}
	}
	return settings
}

// geminiFallbackModels is the static generation list used when
// discovery fails.
func geminiFallbackModels() []ModelInfo {
	return []ModelInfo{
		{ID: "gemini-1.5-pro-latest", Name: "Gemini 1.5 Pro (Latest)", Description: "Most capable model, auto-updated", ContextLength: 2000000},
		{ID: "gemini-1.5-flash-latest", Name: "Gemini 1.5 Flash (Latest)", Description: "Fast and versatile, auto-updated", ContextLength: 1000000},
		{ID: "gemini-1.5-pro", Name: "Gemini 1.5 Pro (Stable)", Description: "Most capable stable model", ContextLength: 2000000},
		{ID: "gemini-1.5-flash", Name: "Gemini 1.5 Flash (Stable)", Description: "Fast and versatile stable model", ContextLength: 1000000},
		{ID: "gemini-2.0-flash-exp", Name: "Gemini 2.0 Flash (Experimental)", Description: "Latest experimental model", ContextLength: 1000000},
		{ID: "gemini-pro", Name: "Gemini Pro (Legacy)", Description: "Earlier Gemini model", ContextLength: 32000},
	}
}

type geminiModelList struct {
	Models []geminiModelEntry `json:"models"`
}

type geminiModelEntry struct {
	Name                       string   `json:"name"`
	DisplayName                string   `json:"displayName"`
	Description                string   `json:"description"`
	InputTokenLimit            int      `json:"inputTokenLimit"`
	SupportedGenerationMethods []string `json:"supportedGenerationMethods"`
}

type geminiGenerateRequest struct {
	SystemInstruction *GeminiContent         `json:"systemInstruction,omitempty"`
	Contents          []GeminiContent        `json:"contents"`
	GenerationConfig  geminiGenerationConfig `json:"generationConfig"`
	SafetySettings    []geminiSafetySetting  `json:"safetySettings"`
}

type geminiGenerationConfig struct {
	Temperature     float64 `json:"temperature"`
	MaxOutputTokens int     `json:"maxOutputTokens,omitempty"`
	TopP            float64 `json:"topP"`
	TopK            int     `json:"topK"`
}

type geminiSafetySetting struct {
	Category  string `json:"category"`
	Threshold string `json:"threshold"`
}

type geminiGenerateResponse struct {
	Candidates    []geminiCandidate    `json:"candidates"`
	UsageMetadata *geminiUsageMetadata `json:"usageMetadata"`
}

type geminiCandidate struct {
	Content      GeminiContent `json:"content"`
	FinishReason string        `json:"finishReason"`
}

type geminiUsageMetadata struct {
	PromptTokenCount     int `json:"promptTokenCount"`
	CandidatesTokenCount int `json:"candidatesTokenCount"`
}

func (r *geminiGenerateResponse) text() string {
	if len(r.Candidates) == 0 {
		return ""
	}
	var parts []string
	for _, part := range r.Candidates[0].Content.Parts {
		if part.Text != "" {
			parts = append(parts, part.Text)
		}
	}
	return strings.Join(parts, "")
}
