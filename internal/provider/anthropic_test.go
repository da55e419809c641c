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

func anthropicMessageHandler(t *testing.T, got *map[string]any, blocks ...map[string]any) http.HandlerFunc {
	t.Helper()
	return func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/v1/messages", r.URL.Path)
		require.Equal(t, "sk-ant-test", r.Header.Get("X-Api-Key"))
		require.NoError(t, json.NewDecoder(r.Body).Decode(got))
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(map[string]any{
			"id":          "msg_01",
			"type":        "message",
			"role":        "assistant",
			"model":       "claude-3-5-sonnet-20241022",
			"content":     blocks,
			"stop_reason": "end_turn",
			"usage":       map[string]any{"input_tokens": 30, "output_tokens": 12},
		})
	}
}

func TestAnthropic_Metadata(t *testing.T) {
	p := newAnthropicProvider(Credentials{})

	assert.Equal(t, Anthropic, p.ID())
	assert.Equal(t, "claude-3-5-sonnet-20241022", p.DefaultModel())

	info := p.Info()
	assert.Equal(t, "Anthropic", info.Label)
	assert.True(t, info.RequiresAPIKey)
}

func TestAnthropic_RequiresAPIKey(t *testing.T) {
	p := newAnthropicProvider(Credentials{})

	err := p.Validate(context.Background())
	require.Error(t, err)
	assert.Equal(t, ragerr.ErrCodeAuth, ragerr.GetCode(err))
	assert.Contains(t, err.Error(), "Anthropic API key is required")

	_, err = p.Chat(context.Background(), []Message{{Role: RoleUser, Content: "hi"}}, Params{})
	assert.Equal(t, ragerr.ErrCodeAuth, ragerr.GetCode(err))
}

func TestAnthropic_ListModelsStatic(t *testing.T) {
	p := newAnthropicProvider(Credentials{APIKey: "k"})
	models, err := p.ListModels(context.Background())
	require.NoError(t, err)

	require.Len(t, models, 5)
	assert.Equal(t, "claude-3-5-sonnet-20241022", models[0].ID)
	assert.Equal(t, "claude-3-haiku-20240307", models[4].ID)
	for _, m := range models {
		assert.Equal(t, 200000, m.ContextLength, m.ID)
	}
}

func TestAnthropic_ValidateMakesOneTokenCall(t *testing.T) {
	var got map[string]any
	srv := httptest.NewServer(anthropicMessageHandler(t, &got,
		map[string]any{"type": "text", "text": "Hi"}))
	defer srv.Close()

	p := newAnthropicProvider(Credentials{APIKey: "sk-ant-test", BaseURL: srv.URL})
	require.NoError(t, p.Validate(context.Background()))

	assert.Equal(t, "claude-3-5-sonnet-20241022", got["model"])
	assert.Equal(t, float64(1), got["max_tokens"])
}

func TestAnthropic_ChatSplitsSystemAndMapsParams(t *testing.T) {
	var got map[string]any
	srv := httptest.NewServer(anthropicMessageHandler(t, &got,
		map[string]any{"type": "text", "text": "Attention weighs encoder states."}))
	defer srv.Close()

	p := newAnthropicProvider(Credentials{APIKey: "sk-ant-test", BaseURL: srv.URL})
	resp, err := p.Chat(context.Background(), []Message{
		{Role: RoleSystem, Content: "Be brief."},
		{Role: RoleUser, Content: "What is attention?"},
		{Role: RoleAssistant, Content: "A weighting mechanism."},
		{Role: RoleUser, Content: "Expand on that."},
	}, Params{Temperature: 0.35, MaxTokens: 2000, TopP: 0.9, TopK: 50, RepetitionPenalty: 1.15})
	require.NoError(t, err)

	assert.Equal(t, "claude-3-5-sonnet-20241022", got["model"])
	assert.Equal(t, float64(2000), got["max_tokens"])
	assert.InDelta(t, 0.35, got["temperature"].(float64), 1e-9)
	assert.InDelta(t, 0.9, got["top_p"].(float64), 1e-9)
	assert.Equal(t, float64(50), got["top_k"])
	assert.NotContains(t, got, "repetition_penalty")

	system := got["system"].([]any)
	require.Len(t, system, 1)
	assert.Equal(t, "Be brief.", system[0].(map[string]any)["text"])

	msgs := got["messages"].([]any)
	require.Len(t, msgs, 3)
	assert.Equal(t, "user", msgs[0].(map[string]any)["role"])
	assert.Equal(t, "assistant", msgs[1].(map[string]any)["role"])
	assert.Equal(t, "user", msgs[2].(map[string]any)["role"])

	assert.Equal(t, "Attention weighs encoder states.", resp.Content)
	assert.Equal(t, "claude-3-5-sonnet-20241022", resp.Model)
	require.NotNil(t, resp.Usage)
	assert.Equal(t, 30, resp.Usage.PromptTokens)
	assert.Equal(t, 12, resp.Usage.CompletionTokens)
}

func TestAnthropic_ChatOmitsSystemFieldWithoutSystemMessage(t *testing.T) {
	var got map[string]any
	srv := httptest.NewServer(anthropicMessageHandler(t, &got,
		map[string]any{"type": "text", "text": "An answer without any system prompt involved."}))
	defer srv.Close()

	p := newAnthropicProvider(Credentials{APIKey: "sk-ant-test", BaseURL: srv.URL})
	_, err := p.Chat(context.Background(),
		[]Message{{Role: RoleUser, Content: "hi"}}, Params{MaxTokens: 100})
	require.NoError(t, err)

	assert.NotContains(t, got, "system")
}

func TestAnthropic_ChatJoinsTextBlocks(t *testing.T) {
	var got map[string]any
	srv := httptest.NewServer(anthropicMessageHandler(t, &got,
		map[string]any{"type": "text", "text": "Part one."},
		map[string]any{"type": "tool_use", "id": "tu_1", "name": "search", "input": map[string]any{}},
		map[string]any{"type": "text", "text": "Part two."}))
	defer srv.Close()

	p := newAnthropicProvider(Credentials{APIKey: "sk-ant-test", BaseURL: srv.URL})
	resp, err := p.Chat(context.Background(),
		[]Message{{Role: RoleUser, Content: "hi"}}, Params{MaxTokens: 100})
	require.NoError(t, err)

	assert.Equal(t, "Part one. Part two.", resp.Content)
}

func TestAnthropic_ChatRejectsSystemOnlyConversation(t *testing.T) {
	p := newAnthropicProvider(Credentials{APIKey: "k"})
	_, err := p.Chat(context.Background(),
		[]Message{{Role: RoleSystem, Content: "only system"}}, Params{})

	require.Error(t, err)
	assert.Contains(t, err.Error(), "non-system message")
	assert.Equal(t, ragerr.CategoryValidation, ragerr.GetCategory(err))
}

func TestAnthropic_AuthErrorClassified(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusUnauthorized)
		_, _ = w.Write([]byte(`{"type":"error","error":{"type":"authentication_error","message":"invalid x-api-key"}}`))
	}))
	defer srv.Close()

	p := newAnthropicProvider(Credentials{APIKey: "sk-bad", BaseURL: srv.URL})
	_, err := p.Chat(context.Background(), []Message{{Role: RoleUser, Content: "hi"}}, Params{})

	require.Error(t, err)
	assert.Equal(t, ragerr.ErrCodeAuth, ragerr.GetCode(err))
}
