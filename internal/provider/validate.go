package provider

import (
	"fmt"
	"strings"
)

// metaOpeners are acknowledgement phrases a model emits when it
// responds to the instruction block instead of the question.
var metaOpeners = []string{
	"i'm ready",
	"i am ready",
	"i understand",
	"i'll help",
	"i will help",
	"how can i help",
	"i'm here to help",
	"sure, i can help",
	"as an ai",
}

// minUsefulRunes is the shortest completion that can plausibly answer
// a research question.
const minUsefulRunes = 20

// webAugmented marks providers whose completions can degrade into raw
// web citation dumps.
var webAugmented = map[string]bool{
	Perplexity: true,
}

// ValidateChatResponse checks a completion for known failure modes:
// meta-responses that acknowledge instructions instead of answering,
// trivially short content, embedded error markers and, for
// web-augmented backends, raw citation dumps. Findings never fail the
// call; the caller logs them and keeps the content.
func ValidateChatResponse(content, providerID string) (bool, []string) {
	var issues []string

	trimmed := strings.TrimSpace(content)
	lower := strings.ToLower(trimmed)

	if len([]rune(trimmed)) < minUsefulRunes {
		issues = append(issues, "response is empty or trivially short")
	}

	for _, opener := range metaOpeners {
		if strings.HasPrefix(lower, opener) {
			issues = append(issues, fmt.Sprintf("meta-response opener %q", opener))
			break
		}
	}

	if strings.Contains(trimmed, "Error:") || strings.Contains(trimmed, "Exception:") {
		issues = append(issues, "response contains an error marker")
	}

	if webAugmented[providerID] && looksLikeCitationDump(trimmed) {
		issues = append(issues, "response looks like a raw citation dump")
	}

	return len(issues) == 0, issues
}

// looksLikeCitationDump flags text whose period and comma density is
// far above prose. Reference lists run one or more separators per
// word; answers in sentences sit well under half that.
func looksLikeCitationDump(s string) bool {
	words := strings.Fields(s)
	if len(words) < 20 {
		return false
	}
	seps := strings.Count(s, ".") + strings.Count(s, ",")
	return float64(seps)/float64(len(words)) > 0.6
}
