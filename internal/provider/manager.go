package provider

import (
	"context"
	"log/slog"
	"sync"
)

// Manager holds the active provider selection plus per-provider
// credentials and routes chat traffic. It is the chat client the RAG
// controller talks to.
type Manager struct {
	mu          sync.RWMutex
	activeID    string
	activeModel string
	creds       map[string]Credentials

	// build is swapped in tests to inject stub providers.
	build func(id string, creds Credentials) (Provider, error)
}

// NewManager starts with Ollama active, matching a fresh local setup
// that has no API keys yet.
func NewManager() *Manager {
	return &Manager{
		activeID: Ollama,
		creds:    make(map[string]Credentials),
		build:    New,
	}
}

// SetActive selects the provider (and optionally a model) subsequent
// chat calls use. An empty model means the provider default.
func (m *Manager) SetActive(id, model string) error {
	if !Known(id) {
		return unknownProviderError(id)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.activeID = id
	m.activeModel = model
	return nil
}

// Active returns the current provider id and model selection.
func (m *Manager) Active() (id, model string) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.activeID, m.activeModel
}

// SetCredentials stores the credentials used when constructing id.
func (m *Manager) SetCredentials(id string, creds Credentials) error {
	if !Known(id) {
		return unknownProviderError(id)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.creds[id] = creds
	return nil
}

// Credentials returns the stored credentials for id, zero when none
// were set.
func (m *Manager) Credentials(id string) Credentials {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.creds[id]
}

// Chat routes the conversation to the active provider. When the
// caller does not pick a model, the active model selection applies
// and the provider default after that.
func (m *Manager) Chat(ctx context.Context, messages []Message, params Params) (ChatResponse, error) {
	m.mu.RLock()
	id := m.activeID
	activeModel := m.activeModel
	m.mu.RUnlock()

	if params.Model == "" {
		params.Model = activeModel
	}
	return m.ChatWith(ctx, id, messages, params)
}

// ChatWith routes to an explicit provider, leaving the active
// selection untouched. The active model does not apply here; it
// belongs to the active provider.
func (m *Manager) ChatWith(ctx context.Context, id string, messages []Message, params Params) (ChatResponse, error) {
	p, err := m.provider(id)
	if err != nil {
		return ChatResponse{}, err
	}

	resp, err := p.Chat(ctx, messages, params)
	if err != nil {
		return ChatResponse{}, err
	}

	if ok, issues := ValidateChatResponse(resp.Content, id); !ok {
		slog.Warn("model response flagged",
			slog.String("provider", id),
			slog.String("model", resp.Model),
			slog.Any("issues", issues))
		resp.Issues = issues
	}
	return resp, nil
}

// ListModels lists the models of the named provider using its stored
// credentials.
func (m *Manager) ListModels(ctx context.Context, id string) ([]ModelInfo, error) {
	p, err := m.provider(id)
	if err != nil {
		return nil, err
	}
	return p.ListModels(ctx)
}

// Validate checks the named provider's credentials and reachability.
func (m *Manager) Validate(ctx context.Context, id string) error {
	p, err := m.provider(id)
	if err != nil {
		return err
	}
	return p.Validate(ctx)
}

// ActiveContextLength reports the context window of the active model
// from the provider's model listing, 0 when unknown. Retrieval uses
// it to widen candidate pools on large-context models.
func (m *Manager) ActiveContextLength(ctx context.Context) int {
	m.mu.RLock()
	id := m.activeID
	model := m.activeModel
	m.mu.RUnlock()

	p, err := m.provider(id)
	if err != nil {
		return 0
	}
	if model == "" {
		model = p.DefaultModel()
	}

	models, err := p.ListModels(ctx)
	if err != nil {
		return 0
	}
	for _, mi := range models {
		if mi.ID == model {
			return mi.ContextLength
		}
	}
	return 0
}

func (m *Manager) provider(id string) (Provider, error) {
	m.mu.RLock()
	creds := m.creds[id]
	build := m.build
	m.mu.RUnlock()
	return build(id, creds)
}
