package store

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func v2Meta() map[string]any {
	return map[string]any{
		"item_id": "ABCD1234", "chunk_idx": float64(0),
		"year": float64(2017), "tags": []any{"ml"}, "collections": []any{},
	}
}

func v1Meta() map[string]any {
	return map[string]any{
		"item_id": "ABCD1234", "chunk_idx": float64(0),
		"year": "2017",
	}
}

func TestDetectVersion(t *testing.T) {
	tests := []struct {
		name  string
		metas []map[string]any
		want  MetadataVersion
	}{
		{"no chunks", nil, MetadataVersionNone},
		{"all v2", []map[string]any{v2Meta(), v2Meta()}, MetadataV2},
		{"all v1", []map[string]any{v1Meta(), v1Meta()}, MetadataV1},
		{"majority v2", []map[string]any{v2Meta(), v2Meta(), v1Meta()}, MetadataV2},
		{"tie reads as v1", []map[string]any{v2Meta(), v1Meta()}, MetadataV1},
		{
			"missing year key is still v2",
			[]map[string]any{{"tags": []any{}, "collections": []any{}}},
			MetadataV2,
		},
		{
			"string year is v1",
			[]map[string]any{{"year": "2017", "tags": []any{}, "collections": []any{}}},
			MetadataV1,
		},
		{
			"missing tags is v1",
			[]map[string]any{{"year": float64(2017), "collections": []any{}}},
			MetadataV1,
		},
		{
			"missing collections is v1",
			[]map[string]any{{"year": float64(2017), "tags": []any{}}},
			MetadataV1,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, detectVersion(tt.metas))
		})
	}
}

func TestMetadataVersion_String(t *testing.T) {
	assert.Equal(t, "none", MetadataVersionNone.String())
	assert.Equal(t, "v1", MetadataV1.String())
	assert.Equal(t, "v2", MetadataV2.String())
}

func TestMetadataVersion_EmptyCollection(t *testing.T) {
	c := testCollection(t)

	version, err := c.MetadataVersion(context.Background())
	require.NoError(t, err)
	assert.Equal(t, MetadataVersionNone, version)
}

func TestMetadataVersion_FreshIndexIsV2(t *testing.T) {
	c := seededCollection(t)

	version, err := c.MetadataVersion(context.Background())
	require.NoError(t, err)
	assert.Equal(t, MetadataV2, version)
}

func TestMetadataVersion_CacheInvalidatedByWrites(t *testing.T) {
	c := seededCollection(t)
	ctx := context.Background()

	version, err := c.MetadataVersion(ctx)
	require.NoError(t, err)
	require.Equal(t, MetadataV2, version)

	// Rewrite every chunk into the legacy shape.
	ids := []string{"ABCD1234:0", "EFGH5678:0", "IJKL9012:0"}
	metas := []map[string]any{v1Meta(), v1Meta(), v1Meta()}
	require.NoError(t, c.UpdateMetas(ctx, ids, metas))

	version, err = c.MetadataVersion(ctx)
	require.NoError(t, err)
	assert.Equal(t, MetadataV1, version)
}
