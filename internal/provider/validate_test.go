package provider

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestValidateChatResponse_CleanAnswerPasses(t *testing.T) {
	content := "Attention weighs encoder states by their relevance to the decoder position, which lets the model use distant tokens directly."

	ok, issues := ValidateChatResponse(content, OpenAI)

	assert.True(t, ok)
	assert.Empty(t, issues)
}

func TestValidateChatResponse_MetaOpener(t *testing.T) {
	ok, issues := ValidateChatResponse(
		"I'm ready to help with your research questions whenever you are.", Ollama)

	assert.False(t, ok)
	require.Len(t, issues, 1)
	assert.Contains(t, issues[0], "meta-response")
}

func TestValidateChatResponse_TriviallyShort(t *testing.T) {
	ok, issues := ValidateChatResponse("Yes.", OpenAI)

	assert.False(t, ok)
	require.Len(t, issues, 1)
	assert.Contains(t, issues[0], "short")
}

func TestValidateChatResponse_EmptyContent(t *testing.T) {
	ok, issues := ValidateChatResponse("   ", OpenAI)

	assert.False(t, ok)
	require.Len(t, issues, 1)
}

func TestValidateChatResponse_ErrorMarker(t *testing.T) {
	content := "The retrieval pipeline reported Error: connection refused while fetching the context for this query."

	ok, issues := ValidateChatResponse(content, Ollama)

	assert.False(t, ok)
	require.Len(t, issues, 1)
	assert.Contains(t, issues[0], "error marker")
}

func TestValidateChatResponse_CitationDumpOnWebProvider(t *testing.T) {
	dump := strings.Repeat("Smith, J., Jones, K., Attention Models. J. Mach. Learn., 12, 45. ", 5)

	okWeb, issuesWeb := ValidateChatResponse(dump, Perplexity)
	assert.False(t, okWeb)
	require.Len(t, issuesWeb, 1)
	assert.Contains(t, issuesWeb[0], "citation dump")

	// The same density is fine on providers that do not augment with
	// web results.
	okPlain, issuesPlain := ValidateChatResponse(dump, OpenAI)
	assert.True(t, okPlain)
	assert.Empty(t, issuesPlain)
}

func TestValidateChatResponse_ProseOnWebProviderPasses(t *testing.T) {
	content := "Retrieval augmented generation grounds the model by injecting library passages into the prompt so citations refer to actual sources rather than invented ones."

	ok, issues := ValidateChatResponse(content, Perplexity)

	assert.True(t, ok)
	assert.Empty(t, issues)
}

func TestValidateChatResponse_CollectsMultipleIssues(t *testing.T) {
	ok, issues := ValidateChatResponse("I understand.", Ollama)

	assert.False(t, ok)
	assert.Len(t, issues, 2)
}
