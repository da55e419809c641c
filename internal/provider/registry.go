package provider

import (
	"fmt"
	"strings"

	ragerr "github.com/zoterag/zoterag/internal/errors"
)

type registryEntry struct {
	id    string
	build func(Credentials) Provider
}

// registry holds the provider constructors in listing order. Local
// backends come first because they work without any credentials.
var registry = []registryEntry{
	{Ollama, func(c Credentials) Provider { return newOllamaProvider(c) }},
	{LMStudio, func(c Credentials) Provider { return newCompatProvider(lmStudioConfig(), c) }},
	{OpenAI, func(c Credentials) Provider { return newCompatProvider(openAIConfig(), c) }},
	{Anthropic, func(c Credentials) Provider { return newAnthropicProvider(c) }},
	{Mistral, func(c Credentials) Provider { return newCompatProvider(mistralConfig(), c) }},
	{Google, func(c Credentials) Provider { return newGeminiProvider(c) }},
	{Groq, func(c Credentials) Provider { return newCompatProvider(groqConfig(), c) }},
	{OpenRouter, func(c Credentials) Provider { return newCompatProvider(openRouterConfig(), c) }},
	{Perplexity, func(c Credentials) Provider { return newCompatProvider(perplexityConfig(), c) }},
}

// New constructs the provider registered under id. Construction never
// touches the network; credential problems surface on the first call.
func New(id string, creds Credentials) (Provider, error) {
	for _, e := range registry {
		if e.id == id {
			return e.build(creds), nil
		}
	}
	return nil, unknownProviderError(id)
}

// Known reports whether id names a registered provider.
func Known(id string) bool {
	for _, e := range registry {
		if e.id == id {
			return true
		}
	}
	return false
}

// IDs returns the registered provider ids in listing order.
func IDs() []string {
	ids := make([]string, len(registry))
	for i, e := range registry {
		ids[i] = e.id
	}
	return ids
}

// Infos returns the static metadata of every registered provider in
// listing order.
func Infos() []Info {
	infos := make([]Info, len(registry))
	for i, e := range registry {
		infos[i] = e.build(Credentials{}).Info()
	}
	return infos
}

func availableIDs() string {
	return strings.Join(IDs(), ", ")
}

func unknownProviderError(id string) error {
	return ragerr.New(ragerr.ErrCodeProviderUnknown,
		fmt.Sprintf("unknown provider %q (available: %s)", id, availableIDs()), nil)
}
