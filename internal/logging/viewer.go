package logging

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"regexp"
	"sort"
	"strings"
	"time"
)

// LogEntry is one parsed line of the JSON service log.
type LogEntry struct {
	Time    time.Time      `json:"time"`
	Level   string         `json:"level"`
	Msg     string         `json:"msg"`
	Attrs   map[string]any `json:"-"`
	Raw     string         `json:"-"`
	IsValid bool           `json:"-"`
}

// ViewerConfig filters and styles viewer output.
type ViewerConfig struct {
	// Level drops entries below this level when non-empty.
	Level string
	// Pattern drops lines it does not match when non-nil.
	Pattern *regexp.Regexp
	// NoColor disables ANSI level colors.
	NoColor bool
}

// Viewer reads, filters, and formats service log files for zoterag-logs.
type Viewer struct {
	config ViewerConfig
	out    io.Writer
}

// NewViewer returns a Viewer printing to out.
func NewViewer(cfg ViewerConfig, out io.Writer) *Viewer {
	return &Viewer{config: cfg, out: out}
}

// Tail returns the matching entries among the last n lines of the file.
// Lines are kept in a fixed window while scanning, so tailing a large
// log does not load it whole.
func (v *Viewer) Tail(path string, n int) ([]LogEntry, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open log file: %w", err)
	}
	defer func() { _ = file.Close() }()

	window := make([]string, 0, n)
	scanner := bufio.NewScanner(file)
	scanner.Buffer(make([]byte, 1<<20), 1<<20)
	for scanner.Scan() {
		if len(window) == n {
			window = append(window[1:], scanner.Text())
		} else {
			window = append(window, scanner.Text())
		}
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("read log file: %w", err)
	}

	var entries []LogEntry
	for _, line := range window {
		if entry := v.parseLine(line); v.matchesFilter(entry) {
			entries = append(entries, entry)
		}
	}
	return entries, nil
}

// Follow streams new matching entries to the channel until the context
// ends. It survives rotation: when the file shrinks under the read
// offset, the fresh file is picked up from the start.
func (v *Viewer) Follow(ctx context.Context, path string, entries chan<- LogEntry) error {
	file, err := os.Open(path)
	if err != nil {
		return fmt.Errorf("open log file: %w", err)
	}
	defer func() { _ = file.Close() }()

	offset, err := file.Seek(0, io.SeekEnd)
	if err != nil {
		return fmt.Errorf("seek log file: %w", err)
	}
	reader := bufio.NewReader(file)

	ticker := time.NewTicker(100 * time.Millisecond)
	defer ticker.Stop()

	// Holds a line the writer has not finished yet.
	var pending string

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
		}

		if info, err := os.Stat(path); err == nil && info.Size() < offset {
			// Rotated out from under us.
			_ = file.Close()
			file, err = os.Open(path)
			if err != nil {
				return fmt.Errorf("reopen log file: %w", err)
			}
			offset = 0
			pending = ""
			reader.Reset(file)
		}

		for {
			chunk, err := reader.ReadString('\n')
			offset += int64(len(chunk))
			if err != nil {
				pending += chunk
				break
			}

			line := strings.TrimSuffix(pending+chunk, "\n")
			pending = ""
			if line == "" {
				continue
			}
			entry := v.parseLine(line)
			if !v.matchesFilter(entry) {
				continue
			}
			select {
			case entries <- entry:
			case <-ctx.Done():
				return nil
			}
		}
	}
}

// FormatEntry renders one entry as "HH:MM:SS.mmm LEVEL msg k=v ...".
// Attributes print in key order so repeated runs line up. Lines that
// were not JSON come back raw.
func (v *Viewer) FormatEntry(entry LogEntry) string {
	if !entry.IsValid {
		return entry.Raw
	}

	var sb strings.Builder
	sb.WriteString(entry.Time.Format("15:04:05.000"))
	sb.WriteString(" ")
	sb.WriteString(v.formatLevel(entry.Level))
	sb.WriteString(" ")
	sb.WriteString(entry.Msg)

	keys := make([]string, 0, len(entry.Attrs))
	for k := range entry.Attrs {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		fmt.Fprintf(&sb, " %s=%v", k, entry.Attrs[k])
	}
	return sb.String()
}

// Print writes the formatted entries to the viewer's output.
func (v *Viewer) Print(entries []LogEntry) {
	for _, entry := range entries {
		_, _ = fmt.Fprintln(v.out, v.FormatEntry(entry))
	}
}

func (v *Viewer) parseLine(line string) LogEntry {
	entry := LogEntry{Raw: line}

	var fields map[string]any
	if err := json.Unmarshal([]byte(line), &fields); err != nil {
		return entry
	}
	entry.IsValid = true
	entry.Attrs = make(map[string]any, len(fields))

	for k, val := range fields {
		switch k {
		case "time":
			if s, ok := val.(string); ok {
				if parsed, err := time.Parse(time.RFC3339Nano, s); err == nil {
					entry.Time = parsed
				}
			}
		case "level":
			if s, ok := val.(string); ok {
				entry.Level = s
			}
		case "msg":
			if s, ok := val.(string); ok {
				entry.Msg = s
			}
		default:
			entry.Attrs[k] = val
		}
	}
	return entry
}

func (v *Viewer) matchesFilter(entry LogEntry) bool {
	if v.config.Level != "" && LevelFromString(entry.Level) < LevelFromString(v.config.Level) {
		return false
	}
	if v.config.Pattern != nil && !v.config.Pattern.MatchString(entry.Raw) {
		return false
	}
	return true
}

var levelColors = map[string]string{
	"debug": "\033[90m",
	"info":  "\033[32m",
	"warn":  "\033[33m",
	"error": "\033[31m",
}

func (v *Viewer) formatLevel(level string) string {
	padded := strings.ToUpper(level)
	if len(padded) > 5 {
		padded = padded[:5]
	}
	padded = fmt.Sprintf("%-5s", padded)

	color, ok := levelColors[strings.ToLower(level)]
	if v.config.NoColor || !ok {
		return padded
	}
	return color + padded + "\033[0m"
}
