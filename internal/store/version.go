package store

import (
	"context"
)

// MetadataVersion identifies the metadata generation a collection was
// indexed with.
type MetadataVersion int

const (
	// MetadataVersionNone means the collection holds no chunks yet.
	MetadataVersionNone MetadataVersion = 0

	// MetadataV1 is the legacy shape: string or missing year, no tags
	// or collections keys. Filtering refuses it.
	MetadataV1 MetadataVersion = 1

	// MetadataV2 is the current shape: integer year with -1 for
	// unknown, tags and collections always present.
	MetadataV2 MetadataVersion = 2
)

func (v MetadataVersion) String() string {
	switch v {
	case MetadataV1:
		return "v1"
	case MetadataV2:
		return "v2"
	}
	return "none"
}

// versionSampleSize bounds how many chunks detection inspects.
const versionSampleSize = 10

// MetadataVersion samples chunk metadata and majority-votes the
// version. The result is cached until the next write.
func (c *Collection) MetadataVersion(ctx context.Context) (MetadataVersion, error) {
	c.verMu.Lock()
	defer c.verMu.Unlock()
	if c.cachedVer != nil {
		return *c.cachedVer, nil
	}

	metas, err := c.SampleMetas(ctx, versionSampleSize)
	if err != nil {
		return MetadataVersionNone, err
	}

	version := detectVersion(metas)
	c.cachedVer = &version
	return version, nil
}

// detectVersion votes across sampled metadata. A strict majority of v2
// shapes is required; ties read as v1 so filtering stays refused until
// migration finishes.
func detectVersion(metas []map[string]any) MetadataVersion {
	if len(metas) == 0 {
		return MetadataVersionNone
	}

	votes := 0
	for _, meta := range metas {
		if isV2Meta(meta) {
			votes++
		}
	}
	if votes*2 > len(metas) {
		return MetadataV2
	}
	return MetadataV1
}

// isV2Meta checks one metadata map: year must be absent or numeric,
// and the tags and collections keys must exist.
func isV2Meta(meta map[string]any) bool {
	if year, ok := meta["year"]; ok {
		switch year.(type) {
		case float64, int, int64:
		default:
			return false
		}
	}
	if _, ok := meta["tags"]; !ok {
		return false
	}
	if _, ok := meta["collections"]; !ok {
		return false
	}
	return true
}
