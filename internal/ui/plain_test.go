package ui

import (
	"bytes"
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/zoterag/zoterag/internal/index"
)

func TestPlainRenderer_Update(t *testing.T) {
	buf := &bytes.Buffer{}
	r := NewPlainRenderer(NewConfig(buf))
	require.NoError(t, r.Start(context.Background()))

	r.Update(index.Status{
		InProgress:     true,
		Mode:           string(index.ModeIncremental),
		TotalItems:     100,
		ProcessedItems: 50,
		SkippedItems:   2,
	})

	output := buf.String()
	assert.Contains(t, output, "Indexing (incremental), 100 items")
	assert.Contains(t, output, "[50/100]")
	assert.Contains(t, output, "2 skipped")
}

func TestPlainRenderer_SuppressesRepeats(t *testing.T) {
	buf := &bytes.Buffer{}
	r := NewPlainRenderer(NewConfig(buf))

	status := index.Status{Mode: "full", TotalItems: 10, ProcessedItems: 3}
	r.Update(status)
	r.Update(status)
	r.Update(status)

	lines := strings.Count(buf.String(), "[3/10]")
	assert.Equal(t, 1, lines, "identical snapshots must print once")
}

func TestPlainRenderer_SkipsZeroTotal(t *testing.T) {
	buf := &bytes.Buffer{}
	r := NewPlainRenderer(NewConfig(buf))

	r.Update(index.Status{InProgress: true})

	assert.NotContains(t, buf.String(), "[")
}

func TestPlainRenderer_ShowsETA(t *testing.T) {
	buf := &bytes.Buffer{}
	r := NewPlainRenderer(NewConfig(buf))

	r.Update(index.Status{
		Mode: "full", TotalItems: 100, ProcessedItems: 25, EtaSeconds: 90,
	})

	assert.Contains(t, buf.String(), "eta 1m 30s")
}

func TestPlainRenderer_AddError(t *testing.T) {
	buf := &bytes.Buffer{}
	r := NewPlainRenderer(NewConfig(buf))

	r.AddError(ErrorEvent{Item: "ABCD1234", Err: errors.New("pdf is encrypted")})
	r.AddError(ErrorEvent{Err: errors.New("embedder offline"), IsWarn: true})

	output := buf.String()
	assert.Contains(t, output, "ERROR: ABCD1234: pdf is encrypted")
	assert.Contains(t, output, "WARN: embedder offline")
}

func TestPlainRenderer_Complete(t *testing.T) {
	buf := &bytes.Buffer{}
	r := NewPlainRenderer(NewConfig(buf))

	r.Complete(Summary{
		Mode:     index.ModeFull,
		Indexed:  87,
		Skipped:  3,
		Total:    90,
		Reasons:  map[string]int{"no_pdf": 2, "extract_failed": 1},
		Duration: 4*time.Minute + 12*time.Second,
	})
	require.NoError(t, r.Stop())

	output := buf.String()
	assert.Contains(t, output, "Indexed 87 of 90 items in 4m 12s")
	assert.Contains(t, output, "(3 skipped)")
	assert.Contains(t, output, "no_pdf")
	assert.Contains(t, output, "extract_failed")
}

func TestPlainRenderer_CompleteWithoutSkips(t *testing.T) {
	buf := &bytes.Buffer{}
	r := NewPlainRenderer(NewConfig(buf))

	r.Complete(Summary{Indexed: 5, Total: 5, Duration: 30 * time.Second})

	output := buf.String()
	assert.Contains(t, output, "Indexed 5 of 5 items in 30s")
	assert.NotContains(t, output, "skipped")
}

func TestPlainRenderer_NoANSICodes(t *testing.T) {
	buf := &bytes.Buffer{}
	r := NewPlainRenderer(NewConfig(buf))

	r.Update(index.Status{Mode: "full", TotalItems: 10, ProcessedItems: 1})
	r.Complete(Summary{Indexed: 10, Total: 10, Duration: time.Second})

	assert.NotContains(t, buf.String(), "\x1b[", "plain output must carry no escape codes")
}
