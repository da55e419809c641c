package profile

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	ragerr "github.com/zoterag/zoterag/internal/errors"
	"github.com/zoterag/zoterag/internal/provider"
)

func testManager(t *testing.T) *Manager {
	t.Helper()
	m, err := NewManager(filepath.Join(t.TempDir(), "profiles"))
	require.NoError(t, err)
	return m
}

func TestNewManager_CreatesRoot(t *testing.T) {
	root := filepath.Join(t.TempDir(), "nested", "profiles")
	m, err := NewManager(root)
	require.NoError(t, err)
	assert.DirExists(t, root)
	assert.Equal(t, root, m.Root())
}

func TestNewManager_EmptyRoot(t *testing.T) {
	_, err := NewManager("")
	require.Error(t, err)
}

func TestEnsureDefault(t *testing.T) {
	m := testManager(t)

	p, err := m.EnsureDefault()
	require.NoError(t, err)
	assert.Equal(t, DefaultID, p.ID)
	assert.Equal(t, "Default", p.Name)
	assert.Equal(t, Version, p.Version)
	assert.False(t, p.CreatedAt.IsZero())

	active, err := m.Active()
	require.NoError(t, err)
	assert.Equal(t, DefaultID, active)

	// Idempotent: a second call keeps the existing profile.
	again, err := m.EnsureDefault()
	require.NoError(t, err)
	assert.Equal(t, p.CreatedAt, again.CreatedAt)
}

func TestEnsureDefault_KeepsExistingActive(t *testing.T) {
	m := testManager(t)
	_, err := m.EnsureDefault()
	require.NoError(t, err)

	_, err = m.Create("work", "Work", "")
	require.NoError(t, err)
	require.NoError(t, m.Activate("work"))

	_, err = m.EnsureDefault()
	require.NoError(t, err)

	active, err := m.Active()
	require.NoError(t, err)
	assert.Equal(t, "work", active)
}

func TestCreate(t *testing.T) {
	m := testManager(t)

	p, err := m.Create("research", "Research", "PhD library")
	require.NoError(t, err)
	assert.Equal(t, "research", p.ID)
	assert.Equal(t, "Research", p.Name)
	assert.Equal(t, "PhD library", p.Description)
	assert.FileExists(t, filepath.Join(m.Dir("research"), "profile.json"))
}

func TestCreate_EmptyNameDefaultsToID(t *testing.T) {
	m := testManager(t)
	p, err := m.Create("lab", "", "")
	require.NoError(t, err)
	assert.Equal(t, "lab", p.Name)
}

func TestCreate_Duplicate(t *testing.T) {
	m := testManager(t)
	_, err := m.Create("research", "", "")
	require.NoError(t, err)

	_, err = m.Create("research", "", "")
	require.Error(t, err)
	assert.Equal(t, ragerr.ErrCodeInvalidName, ragerr.GetCode(err))
}

func TestCreate_InvalidID(t *testing.T) {
	m := testManager(t)
	_, err := m.Create("../escape", "", "")
	require.Error(t, err)
	assert.Equal(t, ragerr.ErrCodeInvalidName, ragerr.GetCode(err))
}

func TestGet_NotFound(t *testing.T) {
	m := testManager(t)
	_, err := m.Get("missing")
	require.Error(t, err)
	assert.Equal(t, ragerr.ErrCodeProfileNotFound, ragerr.GetCode(err))
}

func TestList(t *testing.T) {
	m := testManager(t)
	_, err := m.Create("beta", "", "")
	require.NoError(t, err)
	_, err = m.Create("alpha", "", "")
	require.NoError(t, err)

	// Junk at the root that must not break listing.
	require.NoError(t, os.MkdirAll(m.Dir("stray"), 0755))
	require.NoError(t, os.WriteFile(filepath.Join(m.Root(), "notes.txt"), []byte("x"), 0644))

	profiles, err := m.List()
	require.NoError(t, err)
	require.Len(t, profiles, 2)
	assert.Equal(t, "alpha", profiles[0].ID)
	assert.Equal(t, "beta", profiles[1].ID)
}

func TestList_EmptyRoot(t *testing.T) {
	m := testManager(t)
	profiles, err := m.List()
	require.NoError(t, err)
	assert.Empty(t, profiles)
}

func TestUpdate(t *testing.T) {
	m := testManager(t)
	created, err := m.Create("research", "Research", "old")
	require.NoError(t, err)

	name := "Research 2.0"
	p, err := m.Update("research", UpdateInfo{Name: &name})
	require.NoError(t, err)
	assert.Equal(t, "Research 2.0", p.Name)
	assert.Equal(t, "old", p.Description)
	assert.True(t, !p.UpdatedAt.Before(created.UpdatedAt))

	desc := ""
	p, err = m.Update("research", UpdateInfo{Description: &desc})
	require.NoError(t, err)
	assert.Equal(t, "Research 2.0", p.Name)
	assert.Equal(t, "", p.Description)
}

func TestUpdate_EmptyNameRejected(t *testing.T) {
	m := testManager(t)
	_, err := m.Create("research", "Research", "")
	require.NoError(t, err)

	empty := ""
	_, err = m.Update("research", UpdateInfo{Name: &empty})
	require.Error(t, err)
}

func TestDelete(t *testing.T) {
	m := testManager(t)
	_, err := m.EnsureDefault()
	require.NoError(t, err)
	_, err = m.Create("scratch", "", "")
	require.NoError(t, err)

	require.NoError(t, m.Delete("scratch", false))
	assert.False(t, m.Exists("scratch"))
	assert.NoDirExists(t, m.Dir("scratch"))
}

func TestDelete_ActiveRefused(t *testing.T) {
	m := testManager(t)
	_, err := m.EnsureDefault()
	require.NoError(t, err)
	_, err = m.Create("work", "", "")
	require.NoError(t, err)
	require.NoError(t, m.Activate("work"))

	err = m.Delete("work", false)
	require.Error(t, err)
	assert.Equal(t, ragerr.CategoryValidation, ragerr.GetCategory(err))
	assert.True(t, m.Exists("work"))
}

func TestDelete_ActiveForcedFallsBackToDefault(t *testing.T) {
	m := testManager(t)
	_, err := m.EnsureDefault()
	require.NoError(t, err)
	_, err = m.Create("work", "", "")
	require.NoError(t, err)
	require.NoError(t, m.Activate("work"))

	require.NoError(t, m.Delete("work", true))
	assert.False(t, m.Exists("work"))

	active, err := m.Active()
	require.NoError(t, err)
	assert.Equal(t, DefaultID, active)
}

func TestDelete_NotFound(t *testing.T) {
	m := testManager(t)
	err := m.Delete("missing", false)
	require.Error(t, err)
	assert.Equal(t, ragerr.ErrCodeProfileNotFound, ragerr.GetCode(err))
}

func TestActivate(t *testing.T) {
	m := testManager(t)
	_, err := m.Create("work", "", "")
	require.NoError(t, err)

	require.NoError(t, m.Activate("work"))
	active, err := m.Active()
	require.NoError(t, err)
	assert.Equal(t, "work", active)

	err = m.Activate("missing")
	require.Error(t, err)
	assert.Equal(t, ragerr.ErrCodeProfileNotFound, ragerr.GetCode(err))
}

func TestActive_FallsBackToDefault(t *testing.T) {
	m := testManager(t)
	_, err := m.EnsureDefault()
	require.NoError(t, err)
	_, err = m.Create("work", "", "")
	require.NoError(t, err)
	require.NoError(t, m.Activate("work"))

	// Marker pointing at a profile removed behind the manager's back.
	require.NoError(t, os.RemoveAll(m.Dir("work")))

	active, err := m.Active()
	require.NoError(t, err)
	assert.Equal(t, DefaultID, active)
}

func TestActive_NoProfiles(t *testing.T) {
	m := testManager(t)
	_, err := m.Active()
	require.Error(t, err)
	assert.Equal(t, ragerr.ErrCodeProfileNotFound, ragerr.GetCode(err))
}

func TestSettings_MissingFileIsZero(t *testing.T) {
	m := testManager(t)
	_, err := m.Create("work", "", "")
	require.NoError(t, err)

	s, err := m.Settings("work")
	require.NoError(t, err)
	assert.Equal(t, Settings{}, s)
}

func TestSaveSettings_RoundTrip(t *testing.T) {
	m := testManager(t)
	_, err := m.Create("work", "", "")
	require.NoError(t, err)

	in := Settings{
		ActiveProviderID: "openai",
		ActiveModel:      "gpt-4o-mini",
		EmbeddingModel:   "bge-base",
		ZoteroPath:       "/home/u/Zotero",
		Providers: map[string]ProviderConfig{
			"openai": {Enabled: true, Credentials: provider.Credentials{APIKey: "sk-live-abc"}},
		},
	}
	require.NoError(t, m.SaveSettings("work", in))

	out, err := m.Settings("work")
	require.NoError(t, err)
	assert.Equal(t, in, out)
}

func TestSaveSettings_MaskedKeyKeepsStored(t *testing.T) {
	m := testManager(t)
	_, err := m.Create("work", "", "")
	require.NoError(t, err)

	require.NoError(t, m.SaveSettings("work", Settings{
		Providers: map[string]ProviderConfig{
			"openai": {Enabled: true, Credentials: provider.Credentials{APIKey: "sk-live-abc"}},
		},
	}))

	// A settings form round-trips the masked display value.
	require.NoError(t, m.SaveSettings("work", Settings{
		ActiveProviderID: "openai",
		Providers: map[string]ProviderConfig{
			"openai": {Enabled: true, Credentials: provider.Credentials{APIKey: MaskKey("sk-live-abc")}},
		},
	}))

	out, err := m.Settings("work")
	require.NoError(t, err)
	assert.Equal(t, "sk-live-abc", out.Providers["openai"].Credentials.APIKey)
	assert.Equal(t, "openai", out.ActiveProviderID)
}

func TestSaveSettings_NewKeyOverwrites(t *testing.T) {
	m := testManager(t)
	_, err := m.Create("work", "", "")
	require.NoError(t, err)

	require.NoError(t, m.SaveSettings("work", Settings{
		Providers: map[string]ProviderConfig{
			"openai": {Credentials: provider.Credentials{APIKey: "sk-old"}},
		},
	}))
	require.NoError(t, m.SaveSettings("work", Settings{
		Providers: map[string]ProviderConfig{
			"openai": {Credentials: provider.Credentials{APIKey: "sk-new"}},
		},
	}))

	out, err := m.Settings("work")
	require.NoError(t, err)
	assert.Equal(t, "sk-new", out.Providers["openai"].Credentials.APIKey)
}

func TestDataDir(t *testing.T) {
	m := testManager(t)
	assert.Equal(t, filepath.Join(m.Root(), "work", "data"), m.DataDir("work"))
}
