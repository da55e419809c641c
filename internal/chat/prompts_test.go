package chat

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSystemPrompt_LayersAllSections(t *testing.T) {
	prompt := SystemPrompt()

	for _, marker := range []string{
		"expert academic research assistant",
		"## Citation and Grounding Requirements",
		"## Structured Reasoning Process",
		"## Response Structure",
		"## Quality Checklist (Internal)",
	} {
		assert.Contains(t, prompt, marker)
	}
	assert.Equal(t, 1, strings.Count(prompt, "## Core Responsibilities"))
}

func TestBuildAnswerPrompt_EmbedsNumberedEvidence(t *testing.T) {
	snippets := []Snippet{
		{
			CitationID: 1,
			Snippet:    "Attention relates encoder and decoder states.",
			Title:      "Attention Is All You Need",
			Year:       2017,
			Authors:    "Vaswani, Shazeer",
			Page:       3,
		},
		{
			CitationID: 2,
			Snippet:    "Residual connections ease optimization.",
		},
	}

	prompt := BuildAnswerPrompt("How do transformers work?", snippets)

	assert.True(t, strings.HasPrefix(prompt, "How do transformers work?\n\n---\n\n**Relevant Context from Library:**"))
	assert.Contains(t, prompt, "[1] Attention Is All You Need, p. 3\nVaswani, Shazeer (2017)\nAttention relates encoder and decoder states.")
	// Missing bibliographic fields fall back rather than rendering empty.
	assert.Contains(t, prompt, "[2] Untitled\nUnknown\nResidual connections ease optimization.")
	assert.True(t, strings.HasSuffix(prompt, answerInstructions))
}

func TestBuildAnswerPrompt_OmitsPageAndYearWhenUnknown(t *testing.T) {
	prompt := BuildAnswerPrompt("q?", []Snippet{{
		CitationID: 1,
		Snippet:    "text",
		Title:      "Cruel Optimism",
		Authors:    "Berlant",
	}})

	assert.Contains(t, prompt, "[1] Cruel Optimism\nBerlant\ntext")
	assert.NotContains(t, prompt, "p. 0")
	assert.NotContains(t, prompt, "(0)")
}

func TestBuildAnswerPrompt_NoSnippetsFallsBack(t *testing.T) {
	prompt := BuildAnswerPrompt("What is affect theory?", nil)

	assert.Contains(t, prompt, "## Research Question\n\nWhat is affect theory?")
	assert.Contains(t, prompt, "No relevant passages were found in the Zotero library")
	assert.NotContains(t, prompt, "Relevant Context from Library")
}

func TestBuildTitlePrompt_TruncatesLongInputs(t *testing.T) {
	question := strings.Repeat("q", 350)
	answer := strings.Repeat("a", 350)

	prompt := BuildTitlePrompt(question, answer)

	assert.Contains(t, prompt, strings.Repeat("q", 300))
	assert.NotContains(t, prompt, strings.Repeat("q", 301))
	assert.Contains(t, prompt, strings.Repeat("a", 300))
	assert.NotContains(t, prompt, strings.Repeat("a", 301))
	assert.True(t, strings.HasSuffix(prompt, "**Title:**"))
}

func TestTruncateRunes_MultibyteSafe(t *testing.T) {
	assert.Equal(t, "héll", truncateRunes("héllo wörld", 4))
	assert.Equal(t, "abc", truncateRunes("abc", 10))
	assert.Equal(t, "", truncateRunes("", 5))
}

func TestGenerationPresets(t *testing.T) {
	require.Equal(t, 0.35, StandardParams.Temperature)
	require.Equal(t, 2000, StandardParams.MaxTokens)
	require.Equal(t, 0.7, TitleParams.Temperature)
	require.Equal(t, 30, TitleParams.MaxTokens)
}
