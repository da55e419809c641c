package ui

import (
	"context"
	"fmt"
	"os"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/charmbracelet/bubbles/progress"
	"github.com/charmbracelet/bubbles/spinner"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"github.com/zoterag/zoterag/internal/index"
)

// TUIRenderer shows live indexing progress with bubbletea.
type TUIRenderer struct {
	mu      sync.Mutex
	cfg     Config
	program *tea.Program
	model   *indexModel
	tracker *Tracker
	cancel  context.CancelFunc
	started bool
	done    chan struct{}
}

// NewTUIRenderer creates a TUI renderer. Fails when the output is not
// a TTY so NewRenderer can fall back to plain output.
func NewTUIRenderer(cfg Config) (*TUIRenderer, error) {
	if !IsTTY(cfg.Output) {
		return nil, fmt.Errorf("output is not a TTY")
	}

	tracker := NewTracker()
	model := newIndexModel(tracker, cfg.Library)
	if cfg.NoColor || DetectNoColor() {
		model.styles = NoColorStyles()
	}

	return &TUIRenderer{
		cfg:     cfg,
		tracker: tracker,
		model:   model,
		done:    make(chan struct{}),
	}, nil
}

// Start implements Renderer.
func (r *TUIRenderer) Start(ctx context.Context) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.started {
		return nil
	}
	_, r.cancel = context.WithCancel(ctx)

	var opts []tea.ProgramOption
	if f, ok := r.cfg.Output.(*os.File); ok {
		opts = append(opts, tea.WithOutput(f))
	}
	opts = append(opts, tea.WithAltScreen())

	r.program = tea.NewProgram(r.model, opts...)
	r.started = true

	go func() {
		defer close(r.done)
		_, _ = r.program.Run()
	}()

	return nil
}

// Update implements Renderer.
func (r *TUIRenderer) Update(status index.Status) {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.tracker.Update(status)
	if r.program != nil {
		r.program.Send(statusMsg(status))
	}
}

// AddError implements Renderer.
func (r *TUIRenderer) AddError(event ErrorEvent) {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.tracker.AddError(event)
	if r.program != nil {
		r.program.Send(errorMsg(event))
	}
}

// Complete implements Renderer.
func (r *TUIRenderer) Complete(summary Summary) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.program != nil {
		r.program.Send(completeMsg(summary))
	}
}

// Stop implements Renderer.
func (r *TUIRenderer) Stop() error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.cancel != nil {
		r.cancel()
	}
	if r.program != nil {
		r.program.Quit()
		select {
		case <-r.done:
		case <-time.After(2 * time.Second):
			// Don't hang the process on an unresponsive terminal.
		}
	}
	return nil
}

// Message types for bubbletea.
type statusMsg index.Status
type errorMsg ErrorEvent
type completeMsg Summary
type tickMsg time.Time

// indexModel is the bubbletea model for an indexing run.
type indexModel struct {
	tracker     *Tracker
	library     string
	width       int
	height      int
	quitting    bool
	complete    bool
	summary     Summary
	spinner     spinner.Model
	progressBar progress.Model
	styles      Styles
}

func newIndexModel(tracker *Tracker, library string) *indexModel {
	s := spinner.New()
	s.Spinner = spinner.Dot
	s.Style = lipgloss.NewStyle().Foreground(lipgloss.Color(ColorTeal))

	p := progress.New(
		progress.WithSolidFill(ColorTeal),
		progress.WithWidth(50),
		progress.WithoutPercentage(),
	)

	return &indexModel{
		tracker:     tracker,
		library:     library,
		spinner:     s,
		progressBar: p,
		styles:      DefaultStyles(),
		width:       80,
		height:      24,
	}
}

// Init implements tea.Model.
func (m *indexModel) Init() tea.Cmd {
	return tea.Batch(m.spinner.Tick, tickCmd())
}

func tickCmd() tea.Cmd {
	return tea.Tick(100*time.Millisecond, func(t time.Time) tea.Msg {
		return tickMsg(t)
	})
}

// Update implements tea.Model.
func (m *indexModel) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyMsg:
		switch msg.String() {
		case "ctrl+c", "q":
			m.quitting = true
			return m, tea.Quit
		}

	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.height = msg.Height
		m.progressBar.Width = msg.Width - 20
		if m.progressBar.Width < 20 {
			m.progressBar.Width = 20
		}

	case statusMsg, errorMsg:
		// State lives in the tracker; the next tick redraws.
		return m, nil

	case completeMsg:
		m.complete = true
		m.summary = Summary(msg)
		return m, tea.Quit

	case tickMsg:
		return m, tickCmd()

	case spinner.TickMsg:
		var cmd tea.Cmd
		m.spinner, cmd = m.spinner.Update(msg)
		return m, cmd
	}

	return m, nil
}

// View implements tea.Model.
func (m *indexModel) View() string {
	if m.quitting {
		return "Cancelled.\n"
	}
	if m.complete {
		return m.renderComplete()
	}

	contentWidth := m.width - 4
	if contentWidth < 40 {
		contentWidth = 40
	}

	sections := []string{
		m.renderProgress(),
		m.renderSpeed(),
		m.renderDivider(contentWidth),
		m.renderSparkline(contentWidth),
	}
	content := strings.Join(sections, "\n")

	title := "zoterag indexer"
	if m.library != "" {
		title = "zoterag indexer · " + m.library
	}
	panel := m.wrapInPanel(title, content, contentWidth)

	return panel + "\n" + m.renderStatusBar()
}

func (m *indexModel) renderProgress() string {
	stats := m.tracker.Stats()

	if stats.Status.TotalItems == 0 {
		return fmt.Sprintf("%s Reading library...\n%s",
			m.spinner.View(),
			m.styles.Dim.Render("Preparing"))
	}

	bar := m.progressBar.ViewAs(stats.Progress)
	pct := m.styles.Active.Render(fmt.Sprintf("%3.0f%%", stats.Progress*100))

	countLine := fmt.Sprintf("%d / %d items", stats.Status.ProcessedItems, stats.Status.TotalItems)
	if stats.Status.SkippedItems > 0 {
		countLine += fmt.Sprintf(" · %d skipped", stats.Status.SkippedItems)
	}

	return fmt.Sprintf("%s  %s\n%s", bar, pct, m.styles.Label.Render(countLine))
}

func (m *indexModel) renderSpeed() string {
	stats := m.tracker.Stats()

	var parts []string
	speed := fmt.Sprintf("Speed: %.1f/s", stats.Speed.Current)
	if stats.Speed.Avg > 0 {
		speed += fmt.Sprintf(" (avg: %.1f, peak: %.1f)", stats.Speed.Avg, stats.Speed.Peak)
	}
	parts = append(parts, m.styles.Speed.Render(speed))

	if stats.ETA > 0 {
		parts = append(parts, m.styles.Label.Render("ETA: "+formatDuration(stats.ETA)))
	}

	return strings.Join(parts, m.styles.Dim.Render("  ·  "))
}

func (m *indexModel) renderSparkline(width int) string {
	sparkWidth := width - 10
	if sparkWidth < 10 {
		sparkWidth = 10
	}
	spark := m.tracker.RenderSparkline(sparkWidth)
	return m.styles.Sparkline.Render(spark) + " " + m.styles.Dim.Render("items/s")
}

func (m *indexModel) renderDivider(width int) string {
	return m.styles.Border.Render(strings.Repeat("─", width))
}

func (m *indexModel) wrapInPanel(title, content string, width int) string {
	panel := lipgloss.NewStyle().
		Border(lipgloss.RoundedBorder()).
		BorderForeground(lipgloss.Color(ColorDarkGray)).
		Padding(0, 1).
		Width(width)

	return lipgloss.JoinVertical(lipgloss.Left,
		m.styles.Header.Render(title),
		panel.Render(content),
	)
}

func (m *indexModel) renderStatusBar() string {
	stats := m.tracker.Stats()
	var parts []string

	if stats.WarnCount > 0 {
		parts = append(parts, m.styles.Warning.Render(fmt.Sprintf("⚠ %d warnings", stats.WarnCount)))
	}
	if stats.ErrorCount > 0 {
		parts = append(parts, m.styles.Error.Render(fmt.Sprintf("✗ %d errors", stats.ErrorCount)))
	}
	if len(parts) == 0 {
		return m.styles.Dim.Render("q to quit")
	}

	separator := m.styles.Dim.Render("  │  ")
	return strings.Join(parts, separator) + m.styles.Dim.Render("  │  q to quit")
}

func (m *indexModel) renderComplete() string {
	contentWidth := m.width - 4
	if contentWidth < 40 {
		contentWidth = 40
	}

	var lines []string
	lines = append(lines, m.styles.Success.Render("✓ Indexing complete"))
	lines = append(lines, "")

	lines = append(lines, fmt.Sprintf("%s  %s",
		m.styles.Label.Render("Indexed:"),
		m.styles.Active.Render(fmt.Sprintf("%d of %d items", m.summary.Indexed, m.summary.Total))))
	lines = append(lines, fmt.Sprintf("%s %s",
		m.styles.Label.Render("Duration:"),
		m.styles.Active.Render(formatDuration(m.summary.Duration))))

	if speed := m.tracker.SpeedStats(); speed.Avg > 0 {
		lines = append(lines, fmt.Sprintf("%s    %s",
			m.styles.Label.Render("Speed:"),
			m.styles.Speed.Render(fmt.Sprintf("%.1f items/sec", speed.Avg))))
	}

	if m.summary.Skipped > 0 {
		lines = append(lines, "")
		lines = append(lines, m.styles.Warning.Render(fmt.Sprintf("⚠ %d skipped", m.summary.Skipped)))
		reasons := make([]string, 0, len(m.summary.Reasons))
		for reason := range m.summary.Reasons {
			reasons = append(reasons, reason)
		}
		sort.Strings(reasons)
		for _, reason := range reasons {
			lines = append(lines, m.styles.Dim.Render(
				fmt.Sprintf("  %s: %d", reason, m.summary.Reasons[reason])))
		}
	}

	content := strings.Join(lines, "\n")
	panel := lipgloss.NewStyle().
		Border(lipgloss.RoundedBorder()).
		BorderForeground(lipgloss.Color(ColorTeal)).
		Padding(1, 2).
		Width(contentWidth)

	return panel.Render(content) + "\n"
}

// formatDuration formats a duration for display.
func formatDuration(d time.Duration) string {
	d = d.Round(time.Second)
	if d < time.Minute {
		return fmt.Sprintf("%ds", int(d.Seconds()))
	}
	if d < time.Hour {
		mins := int(d.Minutes())
		secs := int(d.Seconds()) % 60
		if secs == 0 {
			return fmt.Sprintf("%dm", mins)
		}
		return fmt.Sprintf("%dm %ds", mins, secs)
	}
	h := int(d.Hours())
	mins := int(d.Minutes()) % 60
	return fmt.Sprintf("%dh %dm", h, mins)
}

var _ Renderer = (*TUIRenderer)(nil)
