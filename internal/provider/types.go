// Package provider abstracts the language model backends the assistant
// can talk to. Nine providers share one interface: a local Ollama
// server, four OpenAI-compatible backends built on one client, the
// Anthropic SDK, a native Gemini client, and two more OpenAI-compatible
// cloud gateways. Message adaptation, parameter mapping and response
// validation are standalone pure functions so each backend quirk stays
// testable without a network.
package provider

import "context"

// Provider identifiers. These are wire-stable: they key credentials in
// settings files and route API requests.
const (
	Ollama     = "ollama"
	LMStudio   = "lmstudio"
	OpenAI     = "openai"
	Anthropic  = "anthropic"
	Mistral    = "mistral"
	Google     = "google"
	Groq       = "groq"
	OpenRouter = "openrouter"
	Perplexity = "perplexity"
)

// Message roles.
const (
	RoleSystem    = "system"
	RoleUser      = "user"
	RoleAssistant = "assistant"
)

// Message is one turn of a conversation in the canonical shape. The
// adapters translate it into each backend's native message format.
type Message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// Usage reports token accounting when the backend provides it.
type Usage struct {
	PromptTokens     int `json:"prompt_tokens"`
	CompletionTokens int `json:"completion_tokens"`
}

// ChatResponse is the normalized completion from any provider.
type ChatResponse struct {
	Content string `json:"content"`
	Model   string `json:"model"`
	Usage   *Usage `json:"usage,omitempty"`

	// Issues lists response validation findings. Validation never
	// fails a chat call: the content is returned either way and the
	// caller decides what to do with the findings.
	Issues []string `json:"issues,omitempty"`
}

// ModelInfo describes one model a provider can serve.
type ModelInfo struct {
	ID            string `json:"id"`
	Name          string `json:"name"`
	Description   string `json:"description,omitempty"`
	ContextLength int    `json:"context_length,omitempty"`
}

// Params are the canonical generation parameters. Each backend spells
// them differently; MapParams translates. A zero sampling value means
// unset and is omitted, except Temperature, which is always sent
// because 0 is a deliberate choice for extraction calls.
type Params struct {
	// Model overrides the provider's default model when non-empty.
	Model string

	Temperature       float64
	MaxTokens         int
	TopP              float64
	TopK              int
	RepetitionPenalty float64
}

// Options renders the sampling parameters under their canonical keys,
// ready for MapParams. Model and MaxTokens are handled structurally by
// each provider and never travel through the options map.
func (p Params) Options() map[string]any {
	opts := map[string]any{
		"temperature": p.Temperature,
	}
	if p.TopP > 0 {
		opts["top_p"] = p.TopP
	}
	if p.TopK > 0 {
		opts["top_k"] = p.TopK
	}
	if p.RepetitionPenalty > 0 {
		opts["repetition_penalty"] = p.RepetitionPenalty
	}
	return opts
}

// Credentials hold what a backend needs to accept requests. Local
// servers take a base URL, cloud providers an API key; OpenRouter-style
// gateways accept both.
type Credentials struct {
	APIKey  string `json:"api_key,omitempty"`
	BaseURL string `json:"base_url,omitempty"`
}

// Info is the static metadata a provider reports about itself.
type Info struct {
	ID                string `json:"id"`
	Label             string `json:"label"`
	DefaultModel      string `json:"default_model"`
	SupportsStreaming bool   `json:"supports_streaming"`
	RequiresAPIKey    bool   `json:"requires_api_key"`
}

// Provider is one chat backend. Credentials are bound at construction;
// all methods honor the context for cancellation and timeouts.
type Provider interface {
	ID() string
	Info() Info
	DefaultModel() string

	// Validate makes a cheap authenticated round-trip. Nil means the
	// backend is reachable and the credentials work.
	Validate(ctx context.Context) error

	// ListModels returns the models the backend can serve, dynamically
	// discovered where the API supports it and a static list otherwise.
	ListModels(ctx context.Context) ([]ModelInfo, error)

	// Chat generates a completion. params.Model falls back to the
	// provider default when empty.
	Chat(ctx context.Context, messages []Message, params Params) (ChatResponse, error)
}
