package index

import (
	"fmt"
	"sync"
	"time"
)

// Mode selects what an indexing job rebuilds.
type Mode string

const (
	// ModeFull reindexes every item, clearing the collection and the
	// keyword index first.
	ModeFull Mode = "full"
	// ModeIncremental indexes only items with no chunks in the
	// collection yet.
	ModeIncremental Mode = "incremental"
)

// Status is an immutable snapshot of an indexing job.
//
// ProcessedItems counts every item the job has moved past, including
// skipped ones; SkippedItems is the subset that was skipped.
type Status struct {
	InProgress     bool      `json:"in_progress"`
	Mode           string    `json:"mode,omitempty"`
	TotalItems     int       `json:"total_items"`
	ProcessedItems int       `json:"processed_items"`
	SkippedItems   int       `json:"skipped_items"`
	SkipReasons    []string  `json:"skip_reasons"`
	StartTime      time.Time `json:"start_time,omitzero"`
	ElapsedSeconds float64   `json:"elapsed_seconds"`

	// EtaSeconds extrapolates the per-item rate over the remaining
	// items. Zero until the first item completes and after the job
	// ends.
	EtaSeconds float64 `json:"eta_seconds"`
}

// Progress tracks a running indexing job. Safe for concurrent use.
type Progress struct {
	mu sync.RWMutex

	inProgress  bool
	mode        Mode
	totalItems  int
	processed   int
	skipped     int
	skipReasons []string
	startTime   time.Time
	endTime     time.Time

	// now is stubbed in tests.
	now func() time.Time
}

// NewProgress creates an idle progress tracker.
func NewProgress() *Progress {
	return &Progress{now: time.Now}
}

func (p *Progress) begin(mode Mode) {
	p.mu.Lock()
	defer p.mu.Unlock()

	p.inProgress = true
	p.mode = mode
	p.totalItems = 0
	p.processed = 0
	p.skipped = 0
	p.skipReasons = nil
	p.startTime = p.now()
	p.endTime = time.Time{}
}

func (p *Progress) setTotal(n int) {
	p.mu.Lock()
	defer p.mu.Unlock()

	p.totalItems = n
}

func (p *Progress) itemDone() {
	p.mu.Lock()
	defer p.mu.Unlock()

	p.processed++
}

func (p *Progress) itemSkipped(itemID, reason string) {
	p.mu.Lock()
	defer p.mu.Unlock()

	p.processed++
	p.skipped++
	p.skipReasons = append(p.skipReasons, fmt.Sprintf("%s: %s", itemID, reason))
}

func (p *Progress) finish() {
	p.mu.Lock()
	defer p.mu.Unlock()

	p.inProgress = false
	p.endTime = p.now()
}

// Snapshot returns an immutable copy of the current state. While a job
// runs, ETA is elapsed/processed extrapolated over the remaining
// items, available once at least one item has been handled.
func (p *Progress) Snapshot() Status {
	p.mu.RLock()
	defer p.mu.RUnlock()

	reasons := make([]string, len(p.skipReasons))
	copy(reasons, p.skipReasons)

	s := Status{
		InProgress:     p.inProgress,
		Mode:           string(p.mode),
		TotalItems:     p.totalItems,
		ProcessedItems: p.processed,
		SkippedItems:   p.skipped,
		SkipReasons:    reasons,
		StartTime:      p.startTime,
	}
	if p.startTime.IsZero() {
		return s
	}

	end := p.endTime
	if p.inProgress {
		end = p.now()
	}
	s.ElapsedSeconds = end.Sub(p.startTime).Seconds()

	if p.inProgress && p.processed > 0 {
		remaining := p.totalItems - p.processed
		if remaining > 0 {
			s.EtaSeconds = s.ElapsedSeconds / float64(p.processed) * float64(remaining)
		}
	}
	return s
}
