package chat

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/zoterag/zoterag/internal/provider"
)

func shortHistory() []provider.Message {
	return []provider.Message{
		{Role: provider.RoleSystem, Content: "assistant persona"},
		{Role: provider.RoleUser, Content: "What is multi-task learning in NLP?"},
		{Role: provider.RoleAssistant, Content: "Multi-task learning trains shared encoders across objectives."},
	}
}

func TestShouldCondense_NeverOnFirstTurn(t *testing.T) {
	seeded := []provider.Message{{Role: provider.RoleSystem, Content: "assistant persona"}}

	assert.False(t, ShouldCondense("what about it", seeded))
	assert.False(t, ShouldCondense("what about it", nil))
}

func TestShouldCondense_Cues(t *testing.T) {
	history := shortHistory()

	tests := []struct {
		name  string
		query string
		want  bool
	}{
		{"pronoun prefix", "it applies to low-resource settings", true},
		{"pronoun infix", "does the method break when they grow", true},
		{"pronoun suffix", "give me more detail on these", true},
		{"formal anaphora", "how was the aforementioned model trained", true},
		{"elliptical opener", "what about diffusion models", true},
		// The phrase cues match at substring level, inside words too.
		{"cue inside a word", "understanding regularization", true},
		{"short comparison", "overlap with causal methods?", true},
		{"long comparison", "how do researchers compare retrieval quality across multiple large benchmark corpora", false},
		{"fresh topic", "define transformer positional encodings", false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, ShouldCondense(tt.query, history))
		})
	}
}

func TestCondense_RewritesFollowUp(t *testing.T) {
	client := &scriptedClient{replies: []chatReply{
		reply("Standalone Question: How does GPT handle contextualized embeddings?"),
	}}
	c := NewCondenser(client)

	got := c.Condense(context.Background(), "What about GPT?", shortHistory())

	assert.Equal(t, "How does GPT handle contextualized embeddings?", got)

	require.Len(t, client.calls, 1)
	call := client.calls[0]
	assert.Equal(t, condenseParams, call.params)
	require.Len(t, call.messages, 1)
	prompt := call.messages[0].Content
	assert.Contains(t, prompt, "## Conversation History")
	assert.Contains(t, prompt, "User: What is multi-task learning in NLP?")
	assert.Contains(t, prompt, "## Follow-up Question\n\nWhat about GPT?")
	assert.True(t, strings.HasSuffix(prompt, "## Standalone Question"))
}

func TestCondense_StripsSurroundingQuotes(t *testing.T) {
	client := &scriptedClient{replies: []chatReply{
		reply(`"Is there overlap between multi-task learning and causal inference?"`),
	}}
	c := NewCondenser(client)

	got := c.Condense(context.Background(), "Is there an overlap?", shortHistory())

	assert.Equal(t, "Is there overlap between multi-task learning and causal inference?", got)
}

func TestCondense_NoUsableHistorySkipsModel(t *testing.T) {
	client := &scriptedClient{}
	c := NewCondenser(client)

	seeded := []provider.Message{{Role: provider.RoleSystem, Content: "assistant persona"}}
	got := c.Condense(context.Background(), "what about it", seeded)

	assert.Equal(t, "what about it", got)
	assert.Empty(t, client.calls)
}

func TestCondense_ClientErrorKeepsOriginal(t *testing.T) {
	client := &scriptedClient{replies: []chatReply{
		replyErr(errors.New("provider down")),
	}}
	c := NewCondenser(client)

	got := c.Condense(context.Background(), "what about GPT?", shortHistory())

	assert.Equal(t, "what about GPT?", got)
}

func TestCondense_RejectsDegenerateRewrites(t *testing.T) {
	tests := []struct {
		name     string
		response string
	}{
		{"too short", "Ok"},
		{"too long", strings.Repeat("x", 301)},
		{"empty", "   "},
		{"prefix only", `"Standalone question:"`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			client := &scriptedClient{replies: []chatReply{reply(tt.response)}}
			c := NewCondenser(client)

			got := c.Condense(context.Background(), "what about GPT?", shortHistory())

			assert.Equal(t, "what about GPT?", got)
		})
	}
}

func TestHistoryLines_WindowAndPrefixes(t *testing.T) {
	history := []provider.Message{{Role: provider.RoleSystem, Content: "persona"}}
	for i := 1; i <= 8; i++ {
		role := provider.RoleUser
		if i%2 == 0 {
			role = provider.RoleAssistant
		}
		history = append(history, provider.Message{Role: role, Content: "m" + string(rune('0'+i))})
	}

	lines := historyLines(history)

	require.Len(t, lines, 6)
	assert.Equal(t, "User: m3", lines[0])
	assert.Equal(t, "Assistant: m4", lines[1])
	assert.Equal(t, "Assistant: m8", lines[5])
}

func TestHistoryLines_StopsAtCharBudget(t *testing.T) {
	long := strings.Repeat("x", 400)
	history := []provider.Message{
		{Role: provider.RoleUser, Content: long},
		{Role: provider.RoleAssistant, Content: long},
		{Role: provider.RoleUser, Content: long},
		{Role: provider.RoleAssistant, Content: long},
	}

	// Lines run 406 and 411 chars. The fourth would push the total
	// past 1500, so rendering stops after three.
	lines := historyLines(history)

	require.Len(t, lines, 3)
	assert.True(t, strings.HasPrefix(lines[0], "User: "))
	assert.True(t, strings.HasPrefix(lines[1], "Assistant: "))
}

func TestHistoryLines_TruncatesLongMessages(t *testing.T) {
	history := []provider.Message{
		{Role: provider.RoleUser, Content: strings.Repeat("y", 600)},
	}

	lines := historyLines(history)

	require.Len(t, lines, 1)
	assert.Equal(t, len("User: ")+500, len(lines[0]))
}
