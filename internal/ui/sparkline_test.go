package ui

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestSparkline_Empty(t *testing.T) {
	s := NewSparkline(10)
	assert.Equal(t, strings.Repeat(" ", 10), s.Render(10))
	assert.Equal(t, 0, s.Count())
}

func TestSparkline_RendersSamples(t *testing.T) {
	s := NewSparkline(10)
	s.Add(1)
	s.Add(4)
	s.Add(8)

	out := []rune(s.Render(10))
	assert.Len(t, out, 10)
	// Highest sample renders the full block, trailing slots stay blank.
	assert.Equal(t, '█', out[2])
	assert.Equal(t, ' ', out[3])
}

func TestSparkline_ScalesToWindowMax(t *testing.T) {
	s := NewSparkline(4)
	s.Add(2)
	s.Add(2)
	s.Add(2)
	s.Add(2)

	// All equal values scale to the full block.
	assert.Equal(t, strings.Repeat("█", 4), s.Render(4))
}

func TestSparkline_RingEviction(t *testing.T) {
	s := NewSparkline(3)
	for i := 1; i <= 5; i++ {
		s.Add(float64(i))
	}

	// Only the last three samples remain: 3, 4, 5.
	out := []rune(s.Render(3))
	assert.Len(t, out, 3)
	assert.Equal(t, '█', out[2], "newest sample is the window max")
	assert.Equal(t, 5, s.Count())
}

func TestSparkline_NarrowWidth(t *testing.T) {
	s := NewSparkline(10)
	for i := 0; i < 10; i++ {
		s.Add(float64(i + 1))
	}

	out := []rune(s.Render(4))
	assert.Len(t, out, 4, "render clips to the requested width")
	assert.Equal(t, '█', out[3])
}

func TestSparkline_DefaultCapacity(t *testing.T) {
	s := NewSparkline(0)
	assert.Len(t, []rune(s.Render(0)), 60)
}
