package index

import (
	"strings"
	"unicode"

	"github.com/zoterag/zoterag/internal/pdfx"
)

// Default chunking parameters, tuned for academic PDFs: buckets large
// enough to hold a full argument, with enough overlap that a concept
// split across two chunks stays retrievable from both.
const (
	DefaultChunkSize = 800
	DefaultOverlap   = 200
)

// Fragment is one chunk of page text, bound to the 1-based page it was
// cut from.
type Fragment struct {
	Text string
	Page int
}

// ChunkerOptions configures the chunker.
type ChunkerOptions struct {
	ChunkSize int // maximum characters per chunk (default: DefaultChunkSize)
	Overlap   int // overlap budget in characters, carried as Overlap/5 words (default: DefaultOverlap)
}

// Chunker splits page text into retrieval-sized fragments. Splits
// happen at sentence boundaries; a single sentence longer than the
// chunk size becomes its own oversized fragment rather than being cut
// mid-sentence.
type Chunker struct {
	options ChunkerOptions
}

// NewChunker creates a chunker with default options.
func NewChunker() *Chunker {
	return NewChunkerWithOptions(ChunkerOptions{})
}

// NewChunkerWithOptions creates a chunker with custom options.
func NewChunkerWithOptions(opts ChunkerOptions) *Chunker {
	if opts.ChunkSize <= 0 {
		opts.ChunkSize = DefaultChunkSize
	}
	if opts.Overlap <= 0 {
		opts.Overlap = DefaultOverlap
	}
	return &Chunker{options: opts}
}

// ChunkPages chunks each page independently, so no fragment ever spans
// a page boundary and overlap never leaks across pages. Pages without
// extractable text yield no fragments.
func (c *Chunker) ChunkPages(pages []pdfx.Page) []Fragment {
	var frags []Fragment
	for _, page := range pages {
		for _, text := range c.chunkText(page.Text) {
			frags = append(frags, Fragment{Text: text, Page: page.Num})
		}
	}
	return frags
}

// chunkText accumulates sentences into buckets of at most ChunkSize
// characters. When a bucket overflows, the last Overlap/5 words are
// carried into the next one.
func (c *Chunker) chunkText(text string) []string {
	if strings.TrimSpace(text) == "" {
		return nil
	}

	carry := c.options.Overlap / 5

	var chunks []string
	current := ""
	for _, sentence := range splitSentences(text) {
		if len(current)+len(sentence) <= c.options.ChunkSize {
			current += sentence + " "
			continue
		}

		if flushed := strings.TrimSpace(current); flushed != "" {
			chunks = append(chunks, flushed)
		}

		if len(chunks) > 0 && carry > 0 {
			words := strings.Fields(current)
			if carry < len(words) {
				words = words[len(words)-carry:]
			}
			current = strings.Join(words, " ") + " " + sentence + " "
		} else {
			current = sentence + " "
		}
	}
	if flushed := strings.TrimSpace(current); flushed != "" {
		chunks = append(chunks, flushed)
	}
	return chunks
}

// splitSentences splits after '.', '!' or '?' followed by whitespace,
// consuming the whitespace run. "Mr. Smith" splits after "Mr." just
// like any other sentence end; precision does not matter here, only
// that buckets break at plausible boundaries.
func splitSentences(text string) []string {
	var sentences []string
	runes := []rune(text)
	start := 0
	i := 0
	for i < len(runes) {
		r := runes[i]
		if (r == '.' || r == '!' || r == '?') && i+1 < len(runes) && unicode.IsSpace(runes[i+1]) {
			sentences = append(sentences, string(runes[start:i+1]))
			i++
			for i < len(runes) && unicode.IsSpace(runes[i]) {
				i++
			}
			start = i
			continue
		}
		i++
	}
	if start < len(runes) {
		sentences = append(sentences, string(runes[start:]))
	}
	return sentences
}
