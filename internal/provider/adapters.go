package provider

// ToOpenAI adapts canonical messages for OpenAI-compatible backends.
// The wire shape matches the canonical shape, so this is a copy.
func ToOpenAI(messages []Message) []Message {
	out := make([]Message, len(messages))
	copy(out, messages)
	return out
}

// ToAnthropic splits the system prompt out of the conversation. The
// Anthropic API takes system text in its own field and rejects system
// roles inside the message list. When several system messages are
// present the last one wins.
func ToAnthropic(messages []Message) (system string, rest []Message) {
	rest = make([]Message, 0, len(messages))
	for _, m := range messages {
		if m.Role == RoleSystem {
			system = m.Content
			continue
		}
		rest = append(rest, m)
	}
	return system, rest
}

// GeminiContent is one conversation turn in the Gemini REST shape.
type GeminiContent struct {
	Role  string       `json:"role,omitempty"`
	Parts []GeminiPart `json:"parts"`
}

// GeminiPart wraps one text fragment.
type GeminiPart struct {
	Text string `json:"text"`
}

// ToGemini adapts canonical messages for the Gemini API: the system
// prompt becomes a system instruction, the assistant role is renamed
// to "model" and content is wrapped in parts.
func ToGemini(messages []Message) (systemInstruction string, contents []GeminiContent) {
	contents = make([]GeminiContent, 0, len(messages))
	for _, m := range messages {
		switch m.Role {
		case RoleSystem:
			systemInstruction = m.Content
		case RoleAssistant:
			contents = append(contents, GeminiContent{
				Role:  "model",
				Parts: []GeminiPart{{Text: m.Content}},
			})
		default:
			contents = append(contents, GeminiContent{
				Role:  "user",
				Parts: []GeminiPart{{Text: m.Content}},
			})
		}
	}
	return systemInstruction, contents
}
