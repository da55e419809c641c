package ui

import (
	"bytes"
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func sampleStatus() StatusInfo {
	return StatusInfo{
		Profile:         "default",
		ZoteroItems:     120,
		IndexedItems:    118,
		TotalChunks:     3521,
		NewItems:        2,
		NeedsSync:       true,
		EmbeddingModel:  "bge-base",
		CollectionName:  "zotero_lib_bge-base",
		MetadataVersion: "2",
		Health:          "ok",
		DataDir:         "/home/u/.zoterag/profiles/default/data",
		DataSize:        45 * 1024 * 1024,
	}
}

func TestStatusRenderer_Render(t *testing.T) {
	buf := &bytes.Buffer{}
	r := NewStatusRenderer(buf, true)

	require.NoError(t, r.Render(sampleStatus()))

	output := buf.String()
	assert.Contains(t, output, "Library Status · default")
	assert.Contains(t, output, "Zotero items:  120")
	assert.Contains(t, output, "Indexed items: 118")
	assert.Contains(t, output, "Chunks:        3521")
	assert.Contains(t, output, "New items:     2")
	assert.Contains(t, output, "needs sync")
	assert.Contains(t, output, "bge-base")
	assert.Contains(t, output, "zotero_lib_bge-base")
	assert.Contains(t, output, "45.0 MB")
}

func TestStatusRenderer_UpToDate(t *testing.T) {
	buf := &bytes.Buffer{}
	r := NewStatusRenderer(buf, true)

	info := sampleStatus()
	info.NeedsSync = false
	info.NewItems = 0
	require.NoError(t, r.Render(info))

	output := buf.String()
	assert.Contains(t, output, "up to date")
	assert.NotContains(t, output, "New items")
}

func TestStatusRenderer_HealthMessage(t *testing.T) {
	buf := &bytes.Buffer{}
	r := NewStatusRenderer(buf, true)

	info := sampleStatus()
	info.Health = "dimension_mismatch"
	info.HealthMessage = "index has 384 dims, model bge-base expects 768"
	require.NoError(t, r.Render(info))

	output := buf.String()
	assert.Contains(t, output, "dimension_mismatch")
	assert.Contains(t, output, "expects 768")
}

func TestStatusRenderer_JSON(t *testing.T) {
	buf := &bytes.Buffer{}
	r := NewStatusRenderer(buf, true)

	require.NoError(t, r.RenderJSON(sampleStatus()))

	var decoded StatusInfo
	require.NoError(t, json.Unmarshal(buf.Bytes(), &decoded))
	assert.Equal(t, "default", decoded.Profile)
	assert.Equal(t, 3521, decoded.TotalChunks)
	assert.True(t, decoded.NeedsSync)
}

func TestFormatTime(t *testing.T) {
	now := time.Now()
	tests := []struct {
		name string
		t    time.Time
		want string
	}{
		{"just now", now.Add(-10 * time.Second), "just now"},
		{"minutes", now.Add(-5 * time.Minute), "5 minutes ago"},
		{"one hour", now.Add(-90 * time.Minute), "1 hour ago"},
		{"days", now.Add(-49 * time.Hour), "2 days ago"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, formatTime(tt.t))
		})
	}

	old := now.Add(-30 * 24 * time.Hour)
	assert.Equal(t, old.Format("2006-01-02 15:04"), formatTime(old))
}

func TestFormatBytes(t *testing.T) {
	assert.Equal(t, "512 B", FormatBytes(512))
	assert.Equal(t, "1.5 KB", FormatBytes(1536))
	assert.Equal(t, "2.0 MB", FormatBytes(2*1024*1024))
	gib := float64(1024 * 1024 * 1024)
	assert.Equal(t, "1.2 GB", FormatBytes(int64(1.2*gib)))
}
