package chat

import (
	"context"
	"log/slog"
	"strings"
	"unicode/utf8"

	"github.com/zoterag/zoterag/internal/provider"
)

// Follow-up cues. Pronouns match as standalone words; the phrase lists
// match as plain substrings.
var (
	pronounWords   = []string{"it", "they", "them", "that", "this", "these", "those", "its", "their"}
	formalAnaphora = []string{"said", "such", "aforementioned", "the former", "the latter"}
	ellipsisCues   = []string{
		"what about", "how about", "and", "also", "additionally",
		"the above", "the previous", "earlier", "you mentioned",
		"as mentioned", "like you said",
	}
	comparisonCues = []string{
		"overlap", "relationship", "compare", "contrast", "versus", "vs",
		"difference", "similar", "relate", "connection", "between",
	}
)

// ShouldCondense reports whether a query leans on conversation context
// and needs rewriting before retrieval. Always false on the first user
// turn. After that, pronouns, formal anaphora and elliptical openers
// trigger it outright; comparative wording triggers it only for short
// queries, which are the ones likely to omit their comparison target.
func ShouldCondense(query string, history []provider.Message) bool {
	users := 0
	for _, m := range history {
		if m.Role == provider.RoleUser {
			users++
		}
	}
	if users == 0 {
		return false
	}

	q := strings.ToLower(strings.TrimSpace(query))

	for _, w := range pronounWords {
		if strings.HasPrefix(q, w+" ") || strings.Contains(q, " "+w+" ") || strings.HasSuffix(q, " "+w) {
			return true
		}
	}
	for _, cue := range formalAnaphora {
		if strings.Contains(q, cue) {
			return true
		}
	}
	for _, cue := range ellipsisCues {
		if strings.Contains(q, cue) {
			return true
		}
	}
	if len(strings.Fields(q)) < 8 {
		for _, cue := range comparisonCues {
			if strings.Contains(q, cue) {
				return true
			}
		}
	}
	return false
}

// condenseParams favor a faithful rewrite: low temperature, short output.
var condenseParams = provider.Params{Temperature: 0.2, MaxTokens: 150, TopP: 0.9, TopK: 40, RepetitionPenalty: 1.1}

// maxHistoryChars bounds the conversation excerpt in the rewrite prompt.
const maxHistoryChars = 1500

// The prompt asks for extraction rather than issuing new instructions,
// which keeps models from replying with acknowledgements.
const condensePrompt = `You are converting a follow-up question into a standalone question by incorporating relevant context from the conversation history.

## Task

Given a conversation history and a follow-up question, rephrase the follow-up into a standalone question that:
1. **Replaces pronouns** (it, they, that, these) with specific nouns
2. **Includes implicit context** needed to understand the question
3. **Maintains the original intent** exactly
4. **Is suitable for semantic search** (clear, self-contained)

## Rules

- **Output ONLY the standalone question** - no explanations, no preamble
- **Keep the question format** - if input is a question, output is a question
- **Preserve key terms** from the follow-up exactly
- **Don't add information** not implied by the history
- **Be concise** - only add necessary context

## Examples

**Conversation:**
User: What is multi-task learning in NLP?
Assistant: Multi-task learning (MTL) in NLP is a training paradigm where...

**Follow-up:** Is there an overlap with causal approaches?
**Standalone:** Is there an overlap between multi-task learning in NLP and causal inference approaches?

---

**Conversation:**
User: How does BERT handle contextualized embeddings?
Assistant: BERT generates contextualized embeddings through...

**Follow-up:** What about GPT?
**Standalone:** How does GPT handle contextualized embeddings?

---

**Conversation:**
User: What are the main challenges in few-shot learning?
Assistant: The main challenges include limited training data...

**Follow-up:** Can you elaborate on the data efficiency issue?
**Standalone:** Can you elaborate on the data efficiency challenges in few-shot learning?

---

Now do the same for the conversation below.`

// Condenser rewrites context-dependent follow-ups into standalone
// retrieval queries. Follow-ups like "is there overlap?" retrieve the
// wrong passages verbatim; the rewrite restores the missing topic from
// the conversation.
type Condenser struct {
	client ChatClient
}

// NewCondenser returns a condenser backed by the given chat client.
func NewCondenser(client ChatClient) *Condenser {
	return &Condenser{client: client}
}

// Condense rewrites query into a standalone question using recent
// history. It degrades to the original query whenever the model call
// fails or produces something that does not look like a question of
// sensible length.
func (c *Condenser) Condense(ctx context.Context, query string, history []provider.Message) string {
	lines := historyLines(history)
	if len(lines) == 0 {
		return query
	}

	prompt := condensePrompt +
		"\n\n## Conversation History\n\n" + strings.Join(lines, "\n") +
		"\n\n## Follow-up Question\n\n" + query +
		"\n\n## Standalone Question"

	resp, err := c.client.Chat(ctx, []provider.Message{
		{Role: provider.RoleUser, Content: prompt},
	}, condenseParams)
	if err != nil {
		slog.Debug("query condensation failed, keeping original",
			slog.String("error", err.Error()))
		return query
	}

	standalone := strings.TrimSpace(resp.Content)
	if n := utf8.RuneCountInString(standalone); n < 5 || n > 300 {
		slog.Debug("condensed query malformed, keeping original", slog.Int("length", n))
		return query
	}

	standalone = strings.Trim(standalone, `"'`)
	if lower := strings.ToLower(standalone); strings.HasPrefix(lower, "standalone question:") {
		standalone = strings.TrimSpace(standalone[len("standalone question:"):])
	}
	if standalone == "" {
		return query
	}

	slog.Debug("query condensed",
		slog.String("original", query),
		slog.String("standalone", standalone))
	return standalone
}

// historyLines renders the last exchanges as compact "User:" and
// "Assistant:" lines. At most the six most recent conversation messages
// are considered, each capped at 500 characters, and rendering stops
// once the total would pass the budget.
func historyLines(history []provider.Message) []string {
	conv := make([]provider.Message, 0, len(history))
	for _, m := range history {
		if m.Role == provider.RoleUser || m.Role == provider.RoleAssistant {
			conv = append(conv, m)
		}
	}
	if len(conv) > 6 {
		conv = conv[len(conv)-6:]
	}

	var lines []string
	total := 0
	for _, m := range conv {
		prefix := "User:"
		if m.Role == provider.RoleAssistant {
			prefix = "Assistant:"
		}
		line := prefix + " " + truncateRunes(m.Content, 500)
		if total+len(line) > maxHistoryChars {
			break
		}
		lines = append(lines, line)
		total += len(line)
	}
	return lines
}
