package cmd

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestExcerpt_CollapsesWhitespace(t *testing.T) {
	got := excerpt("neural\n\tnetworks   are\nuniversal", 200)

	assert.Equal(t, "neural networks are universal", got)
}

func TestExcerpt_TruncatesAtWordBoundary(t *testing.T) {
	text := strings.Repeat("word ", 100)

	got := excerpt(text, 50)

	assert.LessOrEqual(t, len(got), 54, "Excerpt should stay near the limit")
	assert.True(t, strings.HasSuffix(got, "..."), "Truncated excerpt should end with ellipsis")
	for _, w := range strings.Fields(strings.TrimSuffix(got, "...")) {
		assert.Equal(t, "word", w, "Truncation should not cut inside a word")
	}
}

func TestExcerpt_ShortTextUnchanged(t *testing.T) {
	got := excerpt("short", 50)

	assert.Equal(t, "short", got)
}
