// Package profile manages isolated user profiles. Each profile owns
// its settings and index data under its own directory, so switching
// profiles swaps the entire working set: provider credentials, model
// selection, and the indexed collection.
package profile

import (
	"fmt"
	"regexp"
	"strings"
	"time"

	ragerr "github.com/zoterag/zoterag/internal/errors"
	"github.com/zoterag/zoterag/internal/provider"
)

// Version is the profile metadata format version.
const Version = "1.0"

const (
	profileFileName  = "profile.json"
	settingsFileName = "settings.json"
	activeFileName   = "active.json"
	dataDirName      = "data"
)

const maxIDLength = 64

var validIDPattern = regexp.MustCompile(`^[a-zA-Z0-9_-]+$`)

// ValidateID checks that a profile id is usable as a directory name.
func ValidateID(id string) error {
	if id == "" {
		return ragerr.New(ragerr.ErrCodeInvalidName, "profile id cannot be empty", nil)
	}
	if len(id) > maxIDLength {
		return ragerr.New(ragerr.ErrCodeInvalidName,
			fmt.Sprintf("profile id too long (max %d chars)", maxIDLength), nil)
	}
	if !validIDPattern.MatchString(id) {
		return ragerr.New(ragerr.ErrCodeInvalidName,
			"profile id can only contain letters, numbers, hyphens, and underscores", nil)
	}
	return nil
}

// Profile is the metadata stored in profile.json.
type Profile struct {
	ID          string    `json:"id"`
	Name        string    `json:"name"`
	Description string    `json:"description"`
	CreatedAt   time.Time `json:"createdAt"`
	UpdatedAt   time.Time `json:"updatedAt"`
	Version     string    `json:"version"`
}

// ProviderConfig is one provider's entry in a profile's settings.
type ProviderConfig struct {
	Enabled     bool                 `json:"enabled"`
	Credentials provider.Credentials `json:"credentials"`
}

// Settings is the per-profile configuration document. Zero values mean
// "use the application default".
type Settings struct {
	ActiveProviderID string                    `json:"activeProviderId,omitempty"`
	ActiveModel      string                    `json:"activeModel,omitempty"`
	EmbeddingModel   string                    `json:"embeddingModel,omitempty"`
	ZoteroPath       string                    `json:"zoteroPath,omitempty"`
	Providers        map[string]ProviderConfig `json:"providers,omitempty"`
}

// activeMarker is the content of active.json.
type activeMarker struct {
	ActiveProfileID string    `json:"activeProfileId"`
	SwitchedAt      time.Time `json:"switchedAt"`
}

// maskRune replaces hidden API key characters in display output.
const maskRune = "•"

// MaskKey hides an API key for display, keeping the last three
// characters so users can tell stored keys apart.
func MaskKey(key string) string {
	if key == "" {
		return ""
	}
	if len(key) <= 3 {
		return strings.Repeat(maskRune, len(key))
	}
	return strings.Repeat(maskRune, len(key)-3) + key[len(key)-3:]
}

// IsMaskedKey reports whether a submitted API key value is a masked
// placeholder rather than a real key. Saving a masked value must keep
// the stored key, otherwise round-tripping the settings form would
// destroy it.
func IsMaskedKey(v string) bool {
	return v == "***" || strings.Contains(v, maskRune)
}

// Masked returns a deep copy of the settings with every API key
// replaced by its display form.
func (s Settings) Masked() Settings {
	if len(s.Providers) == 0 {
		return s
	}
	out := s
	out.Providers = make(map[string]ProviderConfig, len(s.Providers))
	for id, pc := range s.Providers {
		pc.Credentials.APIKey = MaskKey(pc.Credentials.APIKey)
		out.Providers[id] = pc
	}
	return out
}
