package ui

import (
	"sync"
	"time"

	"github.com/zoterag/zoterag/internal/index"
)

// Tracker accumulates indexer status snapshots for the TUI: latest
// counts plus derived speed metrics and a throughput history. Safe for
// concurrent use.
type Tracker struct {
	mu     sync.RWMutex
	status index.Status

	// Speed derivation between snapshots.
	lastProcessed int
	lastSample    time.Time
	currentSpeed  float64
	avgSpeed      float64
	peakSpeed     float64
	samples       int
	spark         *Sparkline

	// Smoothed ETA so per-item variance doesn't make it jump around.
	lastETA time.Duration

	errors   []ErrorEvent
	warnings []ErrorEvent
}

// SpeedStats are items/sec metrics for display.
type SpeedStats struct {
	Current float64
	Avg     float64
	Peak    float64
}

// TrackerStats is a display snapshot.
type TrackerStats struct {
	Status     index.Status
	Progress   float64
	ETA        time.Duration
	Speed      SpeedStats
	ErrorCount int
	WarnCount  int
}

// NewTracker creates an empty tracker.
func NewTracker() *Tracker {
	return &Tracker{
		lastSample: time.Now(),
		spark:      NewSparkline(60),
	}
}

// Update records a status snapshot and derives speed from the
// processed-item delta. Samples closer together than 500ms only
// refresh the counts, keeping the speed series stable.
func (t *Tracker) Update(status index.Status) {
	t.mu.Lock()
	defer t.mu.Unlock()

	t.status = status

	now := time.Now()
	elapsed := now.Sub(t.lastSample)
	if elapsed < 500*time.Millisecond {
		return
	}
	delta := status.ProcessedItems - t.lastProcessed
	if delta > 0 {
		speed := float64(delta) / elapsed.Seconds()
		t.currentSpeed = speed
		t.samples++
		if t.samples == 1 {
			t.avgSpeed = speed
		} else {
			t.avgSpeed = 0.2*speed + 0.8*t.avgSpeed
		}
		if speed > t.peakSpeed {
			t.peakSpeed = speed
		}
		t.spark.Add(speed)
	}
	t.lastProcessed = status.ProcessedItems
	t.lastSample = now
}

// AddError records an error or warning.
func (t *Tracker) AddError(event ErrorEvent) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if event.IsWarn {
		t.warnings = append(t.warnings, event)
	} else {
		t.errors = append(t.errors, event)
	}
}

// etaSmoothingFactor weights new ETA values against the previous one.
const etaSmoothingFactor = 0.3

// Stats returns a display snapshot. The indexer's raw ETA is smoothed
// exponentially; slow PDFs would otherwise whip it around.
func (t *Tracker) Stats() TrackerStats {
	t.mu.Lock()
	defer t.mu.Unlock()

	progress := 0.0
	if t.status.TotalItems > 0 {
		progress = float64(t.status.ProcessedItems) / float64(t.status.TotalItems)
		if progress > 1.0 {
			progress = 1.0
		}
	}

	raw := time.Duration(t.status.EtaSeconds * float64(time.Second))
	eta := raw
	if raw > 0 && t.lastETA > 0 {
		eta = time.Duration(etaSmoothingFactor*float64(raw) +
			(1-etaSmoothingFactor)*float64(t.lastETA))
	}
	t.lastETA = eta

	return TrackerStats{
		Status:     t.status,
		Progress:   progress,
		ETA:        eta,
		Speed:      SpeedStats{Current: t.currentSpeed, Avg: t.avgSpeed, Peak: t.peakSpeed},
		ErrorCount: len(t.errors),
		WarnCount:  len(t.warnings),
	}
}

// SpeedStats returns the current speed metrics.
func (t *Tracker) SpeedStats() SpeedStats {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return SpeedStats{Current: t.currentSpeed, Avg: t.avgSpeed, Peak: t.peakSpeed}
}

// RenderSparkline renders the throughput history at the given width.
func (t *Tracker) RenderSparkline(width int) string {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.spark.Render(width)
}
