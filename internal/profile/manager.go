package profile

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"

	ragerr "github.com/zoterag/zoterag/internal/errors"
)

// DefaultID is the profile created automatically on first run.
const DefaultID = "default"

// Manager handles profile lifecycle operations. All profiles live
// under a single root directory, one subdirectory per profile, with
// the active profile recorded in active.json at the root.
type Manager struct {
	root string
	mu   sync.Mutex
}

// NewManager creates a profile manager rooted at the given directory.
// Creates the directory if it doesn't exist.
func NewManager(root string) (*Manager, error) {
	if root == "" {
		return nil, ragerr.ConfigError("profiles directory is required", nil)
	}
	if err := os.MkdirAll(root, 0755); err != nil {
		return nil, ragerr.InternalError("create profiles directory", err)
	}
	return &Manager{root: root}, nil
}

// Root returns the profiles root directory.
func (m *Manager) Root() string {
	return m.root
}

// Dir returns the directory a profile's files live in.
func (m *Manager) Dir(id string) string {
	return filepath.Join(m.root, id)
}

// DataDir returns the directory a profile's index data lives in.
// The directory itself is created lazily when the index opens.
func (m *Manager) DataDir(id string) string {
	return filepath.Join(m.root, id, dataDirName)
}

// Exists reports whether a profile directory with metadata exists.
func (m *Manager) Exists(id string) bool {
	_, err := os.Stat(filepath.Join(m.root, id, profileFileName))
	return err == nil
}

// EnsureDefault creates the default profile if it doesn't exist and
// makes it active when no profile is active yet. Called on startup so
// every command has a working profile to run against.
func (m *Manager) EnsureDefault() (*Profile, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if !m.exists(DefaultID) {
		if _, err := m.create(DefaultID, "Default", "Default profile"); err != nil {
			return nil, err
		}
	}
	if _, err := os.Stat(filepath.Join(m.root, activeFileName)); os.IsNotExist(err) {
		if err := m.writeActive(DefaultID); err != nil {
			return nil, err
		}
	}
	return m.load(DefaultID)
}

// Create makes a new profile directory with its metadata file.
// Fails if a profile with the same id already exists.
func (m *Manager) Create(id, name, description string) (*Profile, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.create(id, name, description)
}

func (m *Manager) create(id, name, description string) (*Profile, error) {
	if err := ValidateID(id); err != nil {
		return nil, err
	}
	if m.exists(id) {
		return nil, ragerr.New(ragerr.ErrCodeInvalidName,
			fmt.Sprintf("profile %q already exists", id), nil)
	}
	if name == "" {
		name = id
	}

	now := time.Now().UTC()
	p := &Profile{
		ID:          id,
		Name:        name,
		Description: description,
		CreatedAt:   now,
		UpdatedAt:   now,
		Version:     Version,
	}
	if err := os.MkdirAll(m.Dir(id), 0755); err != nil {
		return nil, ragerr.InternalError("create profile directory", err)
	}
	if err := writeJSONAtomic(filepath.Join(m.Dir(id), profileFileName), p, 0644); err != nil {
		return nil, err
	}
	return p, nil
}

// Get loads one profile's metadata.
func (m *Manager) Get(id string) (*Profile, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.load(id)
}

// List returns all profiles sorted by id. Directories without a
// readable profile.json are skipped rather than failing the whole
// listing.
func (m *Manager) List() ([]Profile, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	entries, err := os.ReadDir(m.root)
	if err != nil {
		if os.IsNotExist(err) {
			return []Profile{}, nil
		}
		return nil, ragerr.InternalError("read profiles directory", err)
	}

	profiles := make([]Profile, 0, len(entries))
	for _, entry := range entries {
		if !entry.IsDir() {
			continue
		}
		p, err := m.load(entry.Name())
		if err != nil {
			continue
		}
		profiles = append(profiles, *p)
	}
	sort.Slice(profiles, func(i, j int) bool { return profiles[i].ID < profiles[j].ID })
	return profiles, nil
}

// UpdateInfo carries optional profile metadata changes. Nil fields are
// left unchanged.
type UpdateInfo struct {
	Name        *string `json:"name"`
	Description *string `json:"description"`
}

// Update changes a profile's name and/or description.
func (m *Manager) Update(id string, upd UpdateInfo) (*Profile, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	p, err := m.load(id)
	if err != nil {
		return nil, err
	}
	if upd.Name != nil {
		if *upd.Name == "" {
			return nil, ragerr.New(ragerr.ErrCodeInvalidName, "profile name cannot be empty", nil)
		}
		p.Name = *upd.Name
	}
	if upd.Description != nil {
		p.Description = *upd.Description
	}
	p.UpdatedAt = time.Now().UTC()
	if err := writeJSONAtomic(filepath.Join(m.Dir(id), profileFileName), p, 0644); err != nil {
		return nil, err
	}
	return p, nil
}

// Delete removes a profile and all of its data, including the index.
// The active profile is refused unless force is set; a forced delete
// of the active profile falls back to the default profile.
func (m *Manager) Delete(id string, force bool) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if !m.exists(id) {
		return ragerr.New(ragerr.ErrCodeProfileNotFound,
			fmt.Sprintf("profile %q not found", id), nil)
	}

	active, _ := m.activeID()
	if id == active && !force {
		return ragerr.ValidationError(
			fmt.Sprintf("profile %q is active; switch profiles first or force the delete", id), nil).
			WithSuggestion("Run 'zoterag profiles use <other>' or pass --force")
	}

	if err := os.RemoveAll(m.Dir(id)); err != nil {
		return ragerr.InternalError("delete profile directory", err)
	}

	if id == active {
		if id != DefaultID && m.exists(DefaultID) {
			return m.writeActive(DefaultID)
		}
		if err := os.Remove(filepath.Join(m.root, activeFileName)); err != nil && !os.IsNotExist(err) {
			return ragerr.InternalError("clear active profile marker", err)
		}
	}
	return nil
}

// Activate marks a profile as the active one.
func (m *Manager) Activate(id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if !m.exists(id) {
		return ragerr.New(ragerr.ErrCodeProfileNotFound,
			fmt.Sprintf("profile %q not found", id), nil)
	}
	return m.writeActive(id)
}

// Active returns the id of the active profile. Falls back to the
// default profile when the marker is missing or points at a profile
// that no longer exists.
func (m *Manager) Active() (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	id, err := m.activeID()
	if err == nil && m.exists(id) {
		return id, nil
	}
	if m.exists(DefaultID) {
		return DefaultID, nil
	}
	return "", ragerr.New(ragerr.ErrCodeProfileNotFound,
		"no active profile", nil).
		WithSuggestion("Run 'zoterag profiles create <id>' to create one")
}

func (m *Manager) activeID() (string, error) {
	data, err := os.ReadFile(filepath.Join(m.root, activeFileName))
	if err != nil {
		return "", err
	}
	var marker activeMarker
	if err := json.Unmarshal(data, &marker); err != nil {
		return "", err
	}
	return marker.ActiveProfileID, nil
}

func (m *Manager) writeActive(id string) error {
	marker := activeMarker{ActiveProfileID: id, SwitchedAt: time.Now().UTC()}
	return writeJSONAtomic(filepath.Join(m.root, activeFileName), marker, 0644)
}

// Settings loads a profile's settings. A missing settings file is not
// an error; it yields zero settings, meaning application defaults.
func (m *Manager) Settings(id string) (Settings, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if !m.exists(id) {
		return Settings{}, ragerr.New(ragerr.ErrCodeProfileNotFound,
			fmt.Sprintf("profile %q not found", id), nil)
	}
	return m.loadSettings(id)
}

// SaveSettings persists a profile's settings. Masked API key values
// submitted back from a settings form keep the previously stored key
// instead of overwriting it with the mask.
func (m *Manager) SaveSettings(id string, s Settings) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if !m.exists(id) {
		return ragerr.New(ragerr.ErrCodeProfileNotFound,
			fmt.Sprintf("profile %q not found", id), nil)
	}

	prev, err := m.loadSettings(id)
	if err != nil {
		return err
	}
	for pid, pc := range s.Providers {
		if IsMaskedKey(pc.Credentials.APIKey) {
			pc.Credentials.APIKey = prev.Providers[pid].Credentials.APIKey
			s.Providers[pid] = pc
		}
	}

	// Settings hold API keys, so keep them out of group/other reach.
	return writeJSONAtomic(filepath.Join(m.Dir(id), settingsFileName), s, 0600)
}

func (m *Manager) loadSettings(id string) (Settings, error) {
	data, err := os.ReadFile(filepath.Join(m.Dir(id), settingsFileName))
	if os.IsNotExist(err) {
		return Settings{}, nil
	}
	if err != nil {
		return Settings{}, ragerr.InternalError("read profile settings", err)
	}
	var s Settings
	if err := json.Unmarshal(data, &s); err != nil {
		return Settings{}, ragerr.DataError(fmt.Sprintf("parse settings for profile %q: %v", id, err), err)
	}
	return s, nil
}

func (m *Manager) exists(id string) bool {
	_, err := os.Stat(filepath.Join(m.root, id, profileFileName))
	return err == nil
}

func (m *Manager) load(id string) (*Profile, error) {
	data, err := os.ReadFile(filepath.Join(m.root, id, profileFileName))
	if os.IsNotExist(err) {
		return nil, ragerr.New(ragerr.ErrCodeProfileNotFound,
			fmt.Sprintf("profile %q not found", id), nil)
	}
	if err != nil {
		return nil, ragerr.InternalError("read profile metadata", err)
	}
	var p Profile
	if err := json.Unmarshal(data, &p); err != nil {
		return nil, ragerr.DataError(fmt.Sprintf("parse metadata for profile %q: %v", id, err), err)
	}
	if p.ID == "" {
		p.ID = id
	}
	return &p, nil
}

// writeJSONAtomic writes v as indented JSON via a temp file and
// rename, so a crash mid-write never leaves a truncated file behind.
func writeJSONAtomic(path string, v any, perm os.FileMode) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return ragerr.InternalError("marshal profile file", err)
	}
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, perm); err != nil {
		return ragerr.InternalError("write profile file", err)
	}
	if err := os.Rename(tmp, path); err != nil {
		_ = os.Remove(tmp)
		return ragerr.InternalError("save profile file", err)
	}
	return nil
}
