package provider

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	ragerr "github.com/zoterag/zoterag/internal/errors"
)

func TestOllama_Metadata(t *testing.T) {
	p := newOllamaProvider(Credentials{})

	assert.Equal(t, Ollama, p.ID())
	assert.Equal(t, "llama3.2", p.DefaultModel())

	info := p.Info()
	assert.Equal(t, "Ollama (Local)", info.Label)
	assert.True(t, info.SupportsStreaming)
	assert.False(t, info.RequiresAPIKey)
}

func TestOllama_BaseURLDefaultsAndTrimsSlash(t *testing.T) {
	assert.Equal(t, DefaultOllamaURL, newOllamaProvider(Credentials{}).baseURL)
	assert.Equal(t, "http://box:11434",
		newOllamaProvider(Credentials{BaseURL: "http://box:11434/"}).baseURL)
}

func TestOllama_ListModels(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/api/tags", r.URL.Path)
		_ = json.NewEncoder(w).Encode(map[string]any{
			"models": []map[string]any{
				{"name": "llama3.2:latest", "details": map[string]any{"family": "llama"}},
				{"name": "qwen2.5:7b", "details": map[string]any{"family": "qwen2"}},
			},
		})
	}))
	defer srv.Close()

	p := newOllamaProvider(Credentials{BaseURL: srv.URL})
	models, err := p.ListModels(context.Background())
	require.NoError(t, err)

	require.Len(t, models, 2)
	assert.Equal(t, ModelInfo{ID: "llama3.2:latest", Name: "llama3.2", Description: "llama"}, models[0])
	assert.Equal(t, ModelInfo{ID: "qwen2.5:7b", Name: "qwen2.5", Description: "qwen2"}, models[1])
}

func TestOllama_ValidateConnectionRefused(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	srv.Close()

	p := newOllamaProvider(Credentials{BaseURL: srv.URL})
	err := p.Validate(context.Background())

	require.Error(t, err)
	assert.Equal(t, ragerr.ErrCodeConnection, ragerr.GetCode(err))
	assert.Contains(t, err.Error(), "cannot connect to Ollama")
}

func TestOllama_ChatSendsNativeOptionsAndParsesUsage(t *testing.T) {
	var got map[string]any
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/api/chat", r.URL.Path)
		require.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		_ = json.NewEncoder(w).Encode(map[string]any{
			"message": map[string]any{
				"role":    "assistant",
				"content": "Attention weighs encoder states by decoder relevance so the model can use distant context.",
			},
			"prompt_eval_count": 42,
			"eval_count":        17,
		})
	}))
	defer srv.Close()

	p := newOllamaProvider(Credentials{BaseURL: srv.URL})
	resp, err := p.Chat(context.Background(), []Message{
		{Role: RoleSystem, Content: "Be brief."},
		{Role: RoleUser, Content: "What is attention?"},
	}, Params{Temperature: 0.35, MaxTokens: 2000, TopP: 0.9, TopK: 50, RepetitionPenalty: 1.15})
	require.NoError(t, err)

	assert.Equal(t, "llama3.2", got["model"])
	assert.Equal(t, false, got["stream"])

	options, ok := got["options"].(map[string]any)
	require.True(t, ok)
	assert.Equal(t, 0.35, options["temperature"])
	assert.Equal(t, 0.9, options["top_p"])
	assert.Equal(t, float64(50), options["top_k"])
	assert.Equal(t, 1.15, options["repeat_penalty"])
	assert.Equal(t, float64(2000), options["num_predict"])
	assert.NotContains(t, options, "repetition_penalty")

	msgs, ok := got["messages"].([]any)
	require.True(t, ok)
	require.Len(t, msgs, 2)

	assert.Contains(t, resp.Content, "Attention weighs")
	assert.Equal(t, "llama3.2", resp.Model)
	require.NotNil(t, resp.Usage)
	assert.Equal(t, 42, resp.Usage.PromptTokens)
	assert.Equal(t, 17, resp.Usage.CompletionTokens)
}

func TestOllama_ChatOmitsUsageWhenServerSendsNone(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewEncoder(w).Encode(map[string]any{
			"message": map[string]any{"role": "assistant", "content": "A mechanism that weighs context tokens."},
		})
	}))
	defer srv.Close()

	p := newOllamaProvider(Credentials{BaseURL: srv.URL})
	resp, err := p.Chat(context.Background(), []Message{{Role: RoleUser, Content: "hi"}}, Params{})
	require.NoError(t, err)

	assert.Nil(t, resp.Usage)
}

func TestOllama_ChatModelNotFound(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, `{"error":"model 'missing' not found"}`, http.StatusNotFound)
	}))
	defer srv.Close()

	p := newOllamaProvider(Credentials{BaseURL: srv.URL})
	_, err := p.Chat(context.Background(), []Message{{Role: RoleUser, Content: "hi"}}, Params{Model: "missing"})

	require.Error(t, err)
	assert.Equal(t, ragerr.ErrCodeModelUnknown, ragerr.GetCode(err))
	assert.Contains(t, err.Error(), `"missing"`)
}

func TestOllama_ChatServerErrorIsConnectionError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "out of memory", http.StatusInternalServerError)
	}))
	defer srv.Close()

	p := newOllamaProvider(Credentials{BaseURL: srv.URL})
	_, err := p.Chat(context.Background(), []Message{{Role: RoleUser, Content: "hi"}}, Params{})

	require.Error(t, err)
	assert.Equal(t, ragerr.ErrCodeConnection, ragerr.GetCode(err))
}
