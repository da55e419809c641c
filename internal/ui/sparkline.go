package ui

import "strings"

// sparkChars are eight block characters from low to full height.
var sparkChars = []rune{'▁', '▂', '▃', '▄', '▅', '▆', '▇', '█'}

// Sparkline keeps a ring buffer of throughput samples and renders them
// as a row of block characters scaled against the window maximum.
type Sparkline struct {
	samples []float64
	head    int
	count   int
}

// NewSparkline creates a sparkline holding up to capacity samples.
func NewSparkline(capacity int) *Sparkline {
	if capacity <= 0 {
		capacity = 60
	}
	return &Sparkline{samples: make([]float64, capacity)}
}

// Add appends a sample, evicting the oldest when full.
func (s *Sparkline) Add(value float64) {
	s.samples[s.head] = value
	s.head = (s.head + 1) % len(s.samples)
	s.count++
}

// Count returns how many samples have been added.
func (s *Sparkline) Count() int {
	return s.count
}

// Render draws the most recent samples, oldest first, padded with
// spaces to the requested width.
func (s *Sparkline) Render(width int) string {
	if width <= 0 || width > len(s.samples) {
		width = len(s.samples)
	}

	held := s.count
	if held > len(s.samples) {
		held = len(s.samples)
	}
	shown := held
	if shown > width {
		shown = width
	}

	// Oldest shown sample's ring position.
	start := s.head - shown
	if start < 0 {
		start += len(s.samples)
	}

	max := 0.0
	for i := 0; i < shown; i++ {
		if v := s.samples[(start+i)%len(s.samples)]; v > max {
			max = v
		}
	}

	var sb strings.Builder
	sb.Grow(width * 3)
	for i := 0; i < shown; i++ {
		v := s.samples[(start+i)%len(s.samples)]
		idx := 0
		if max > 0 {
			idx = int(v / max * float64(len(sparkChars)-1))
			if idx < 0 {
				idx = 0
			}
			if idx >= len(sparkChars) {
				idx = len(sparkChars) - 1
			}
		}
		sb.WriteRune(sparkChars[idx])
	}
	for i := shown; i < width; i++ {
		sb.WriteRune(' ')
	}
	return sb.String()
}
