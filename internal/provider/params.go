package provider

// openAIFamily lists the providers that speak the OpenAI chat
// protocol. They share one parameter spelling.
var openAIFamily = map[string]bool{
	OpenAI:     true,
	LMStudio:   true,
	Mistral:    true,
	Groq:       true,
	OpenRouter: true,
	Perplexity: true,
}

// MapParams translates canonical sampling options into the spelling
// the given backend expects. Ollama calls the repetition penalty
// repeat_penalty; the OpenAI protocol spells it frequency_penalty and
// has no top_k; Anthropic and Gemini keep top_k but have no repetition
// penalty at all. Keys the mapping does not know pass through
// unchanged, and the input map is never mutated.
func MapParams(opts map[string]any, providerID string) map[string]any {
	mapped := make(map[string]any, len(opts))
	for k, v := range opts {
		mapped[k] = v
	}

	switch {
	case providerID == Ollama:
		if v, ok := mapped["repetition_penalty"]; ok {
			delete(mapped, "repetition_penalty")
			mapped["repeat_penalty"] = v
		}
	case openAIFamily[providerID]:
		if v, ok := mapped["repetition_penalty"]; ok {
			delete(mapped, "repetition_penalty")
			mapped["frequency_penalty"] = v
		}
		delete(mapped, "top_k")
	case providerID == Anthropic, providerID == Google:
		delete(mapped, "repetition_penalty")
	}
	return mapped
}
