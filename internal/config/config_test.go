package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	ragerr "github.com/zoterag/zoterag/internal/errors"
)

// isolateConfigDir points the user config at a temp directory so tests
// never touch the real ~/.config/zoterag.
func isolateConfigDir(t *testing.T) string {
	t.Helper()
	dir := t.TempDir()
	t.Setenv("XDG_CONFIG_HOME", dir)
	// Neutralize any ZOTERAG_* overrides leaking from the environment.
	for _, key := range []string{
		"ZOTERAG_ZOTERO_DIR", "ZOTERAG_DATA_DIR", "ZOTERAG_EMBEDDING_MODEL",
		"ZOTERAG_BM25_BACKEND", "ZOTERAG_PROVIDER", "ZOTERAG_MODEL",
		"ZOTERAG_OLLAMA_HOST", "ZOTERAG_LMSTUDIO_URL", "ZOTERAG_HOST",
		"ZOTERAG_PORT", "ZOTERAG_LOG_LEVEL",
	} {
		t.Setenv(key, "")
	}
	return filepath.Join(dir, "zoterag")
}

func TestNew_Defaults(t *testing.T) {
	cfg := New()
	require.NotNil(t, cfg)

	assert.Equal(t, CurrentVersion, cfg.Version)

	assert.Equal(t, "~/Zotero", cfg.Library.ZoteroDir)
	assert.Equal(t, "~/.zoterag", cfg.Library.DataDir)

	assert.Equal(t, "bge-base", cfg.Index.EmbeddingModel)
	assert.Equal(t, 800, cfg.Index.ChunkChars)
	assert.Equal(t, 200, cfg.Index.OverlapChars)
	assert.Equal(t, 16, cfg.Index.EmbedBatchSize)
	assert.Equal(t, 1000, cfg.Index.MigrationBatchSize)

	assert.Equal(t, 60, cfg.Search.RRFConstant)
	assert.Equal(t, "sqlite", cfg.Search.BM25Backend)
	assert.Equal(t, 3, cfg.Search.FilteredMultiplier)
	assert.Equal(t, 2, cfg.Search.UnfilteredMultiplier)

	assert.Equal(t, 20, cfg.Chat.MaxHistoryMessages)
	assert.Equal(t, 12000, cfg.Chat.MaxHistoryChars)
	assert.Equal(t, 2000, cfg.Chat.MaxTokens)

	assert.Equal(t, "ollama", cfg.Provider.Active)
	assert.Equal(t, "", cfg.Provider.Model)
	assert.Equal(t, "http://localhost:11434", cfg.Provider.OllamaHost)
	assert.Equal(t, "http://localhost:1234", cfg.Provider.LMStudioBaseURL)

	assert.Equal(t, "127.0.0.1", cfg.Server.Host)
	assert.Equal(t, 8000, cfg.Server.PortMin)
	assert.Equal(t, 8009, cfg.Server.PortMax)

	assert.Equal(t, "info", cfg.Logging.Level)

	assert.NoError(t, cfg.Validate())
}

func TestLoad_NoFilesReturnsDefaults(t *testing.T) {
	isolateConfigDir(t)

	cfg, err := Load("")
	require.NoError(t, err)

	assert.Equal(t, 800, cfg.Index.ChunkChars)
	assert.Equal(t, "ollama", cfg.Provider.Active)
	// Tilde paths are expanded during Load.
	assert.NotContains(t, cfg.Library.DataDir, "~")
}

func TestLoad_ExplicitFileNotFound(t *testing.T) {
	isolateConfigDir(t)

	_, err := Load(filepath.Join(t.TempDir(), "missing.yaml"))
	require.Error(t, err)
	assert.Equal(t, ragerr.ErrCodeConfigNotFound, ragerr.GetCode(err))
}

func TestLoad_PartialFileMergesOverDefaults(t *testing.T) {
	isolateConfigDir(t)

	path := filepath.Join(t.TempDir(), "config.yaml")
	content := `index:
  chunk_chars: 1200
provider:
  active: groq
`
	require.NoError(t, os.WriteFile(path, []byte(content), 0644))

	cfg, err := Load(path)
	require.NoError(t, err)

	// Overridden fields take the file's values.
	assert.Equal(t, 1200, cfg.Index.ChunkChars)
	assert.Equal(t, "groq", cfg.Provider.Active)

	// Absent fields keep defaults.
	assert.Equal(t, 200, cfg.Index.OverlapChars)
	assert.Equal(t, 60, cfg.Search.RRFConstant)
	assert.Equal(t, "http://localhost:11434", cfg.Provider.OllamaHost)
}

func TestLoad_UserConfigApplied(t *testing.T) {
	configDir := isolateConfigDir(t)

	require.NoError(t, os.MkdirAll(configDir, 0755))
	content := `search:
  bm25_backend: bleve
`
	require.NoError(t, os.WriteFile(filepath.Join(configDir, "config.yaml"), []byte(content), 0644))

	cfg, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, "bleve", cfg.Search.BM25Backend)
}

func TestLoad_ExplicitOverridesUserConfig(t *testing.T) {
	configDir := isolateConfigDir(t)

	require.NoError(t, os.MkdirAll(configDir, 0755))
	userCfg := `provider:
  active: openai
`
	require.NoError(t, os.WriteFile(filepath.Join(configDir, "config.yaml"), []byte(userCfg), 0644))

	explicit := filepath.Join(t.TempDir(), "override.yaml")
	require.NoError(t, os.WriteFile(explicit, []byte("provider:\n  active: mistral\n"), 0644))

	cfg, err := Load(explicit)
	require.NoError(t, err)
	assert.Equal(t, "mistral", cfg.Provider.Active)
}

func TestLoad_EnvOverridesFile(t *testing.T) {
	isolateConfigDir(t)

	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte("provider:\n  active: openai\n"), 0644))

	t.Setenv("ZOTERAG_PROVIDER", "anthropic")
	t.Setenv("ZOTERAG_PORT", "8123")

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, "anthropic", cfg.Provider.Active)
	// Explicit port pins the probe range.
	assert.Equal(t, 8123, cfg.Server.PortMin)
	assert.Equal(t, 8123, cfg.Server.PortMax)
}

func TestLoad_InvalidPortEnvIgnored(t *testing.T) {
	isolateConfigDir(t)
	t.Setenv("ZOTERAG_PORT", "notaport")

	cfg, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, 8000, cfg.Server.PortMin)
	assert.Equal(t, 8009, cfg.Server.PortMax)
}

func TestLoad_MalformedYAML(t *testing.T) {
	isolateConfigDir(t)

	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte("provider: [unclosed"), 0644))

	_, err := Load(path)
	require.Error(t, err)
	assert.Equal(t, ragerr.ErrCodeConfigInvalid, ragerr.GetCode(err))
}

func TestValidate_Violations(t *testing.T) {
	tests := []struct {
		name     string
		mutate   func(*Config)
		wantCode string
	}{
		{
			"chunk too small",
			func(c *Config) { c.Index.ChunkChars = 50 },
			ragerr.ErrCodeConfigInvalid,
		},
		{
			"overlap not below chunk size",
			func(c *Config) { c.Index.OverlapChars = 800 },
			ragerr.ErrCodeConfigInvalid,
		},
		{
			"rrf constant zero",
			func(c *Config) { c.Search.RRFConstant = 0 },
			ragerr.ErrCodeConfigInvalid,
		},
		{
			"unknown bm25 backend",
			func(c *Config) { c.Search.BM25Backend = "lucene" },
			ragerr.ErrCodeConfigInvalid,
		},
		{
			"unknown provider",
			func(c *Config) { c.Provider.Active = "bard" },
			ragerr.ErrCodeProviderUnknown,
		},
		{
			"inverted port range",
			func(c *Config) { c.Server.PortMin = 9000; c.Server.PortMax = 8000 },
			ragerr.ErrCodeConfigInvalid,
		},
		{
			"port out of range",
			func(c *Config) { c.Server.PortMax = 70000 },
			ragerr.ErrCodeConfigInvalid,
		},
		{
			"unknown log level",
			func(c *Config) { c.Logging.Level = "trace" },
			ragerr.ErrCodeConfigInvalid,
		},
		{
			"empty embedding model",
			func(c *Config) { c.Index.EmbeddingModel = "" },
			ragerr.ErrCodeConfigInvalid,
		},
		{
			"history too small",
			func(c *Config) { c.Chat.MaxHistoryMessages = 1 },
			ragerr.ErrCodeConfigInvalid,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := New()
			tt.mutate(cfg)
			err := cfg.Validate()
			require.Error(t, err)
			assert.Equal(t, tt.wantCode, ragerr.GetCode(err))
		})
	}
}

func TestValidate_AllProvidersAccepted(t *testing.T) {
	for id := range ValidProviders {
		cfg := New()
		cfg.Provider.Active = id
		assert.NoError(t, cfg.Validate(), "provider %s", id)
	}
}

func TestWriteYAML_RoundTrip(t *testing.T) {
	isolateConfigDir(t)

	cfg := New()
	cfg.Index.ChunkChars = 900
	cfg.Provider.Active = "openrouter"

	path := filepath.Join(t.TempDir(), "nested", "config.yaml")
	require.NoError(t, cfg.WriteYAML(path))

	loaded, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, 900, loaded.Index.ChunkChars)
	assert.Equal(t, "openrouter", loaded.Provider.Active)
}

func TestDerivedPaths(t *testing.T) {
	cfg := New()
	cfg.Library.ZoteroDir = "/data/zotero"
	cfg.Library.DataDir = "/data/zoterag"

	assert.Equal(t, filepath.Join("/data/zotero", "zotero.sqlite"), cfg.ZoteroDBPath())
	assert.Equal(t, filepath.Join("/data/zotero", "storage"), cfg.ZoteroStorageDir())
	assert.Equal(t, filepath.Join("/data/zoterag", "profiles"), cfg.ProfilesDir())
}

func TestExpandTilde(t *testing.T) {
	home, err := os.UserHomeDir()
	require.NoError(t, err)

	assert.Equal(t, filepath.Join(home, "Zotero"), ExpandTilde("~/Zotero"))
	assert.Equal(t, home, ExpandTilde("~"))
	assert.Equal(t, "/abs/path", ExpandTilde("/abs/path"))
	assert.Equal(t, "", ExpandTilde(""))
	// ~user expansion is not supported.
	assert.Equal(t, "~other/x", ExpandTilde("~other/x"))
}

func TestGetUserConfigDir_HonorsXDG(t *testing.T) {
	dir := t.TempDir()
	t.Setenv("XDG_CONFIG_HOME", dir)

	assert.Equal(t, filepath.Join(dir, "zoterag"), GetUserConfigDir())
	assert.Equal(t, filepath.Join(dir, "zoterag", "config.yaml"), GetUserConfigPath())
}

func TestMergeNewDefaults_NoConfig(t *testing.T) {
	isolateConfigDir(t)

	added, err := MergeNewDefaults()
	require.NoError(t, err)
	assert.Empty(t, added)
}

func TestMergeNewDefaults_AddsMissingSections(t *testing.T) {
	configDir := isolateConfigDir(t)

	require.NoError(t, os.MkdirAll(configDir, 0755))
	// A config from an older schema: no chat section, search missing a key.
	content := `version: 1
search:
  rrf_constant: 90
provider:
  active: groq
`
	path := filepath.Join(configDir, "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0644))

	added, err := MergeNewDefaults()
	require.NoError(t, err)

	assert.Contains(t, added, "chat")
	assert.Contains(t, added, "search.bm25_backend")
	assert.NotContains(t, added, "search.rrf_constant")

	// Existing values survive the merge and the file still loads.
	cfg, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, 90, cfg.Search.RRFConstant)
	assert.Equal(t, "groq", cfg.Provider.Active)
	assert.Equal(t, 20, cfg.Chat.MaxHistoryMessages)

	// The previous file was backed up.
	backups, err := ListUserConfigBackups()
	require.NoError(t, err)
	assert.NotEmpty(t, backups)
}

func TestMergeNewDefaults_UpToDateConfigUntouched(t *testing.T) {
	configDir := isolateConfigDir(t)

	require.NoError(t, os.MkdirAll(configDir, 0755))
	require.NoError(t, New().WriteYAML(filepath.Join(configDir, "config.yaml")))

	added, err := MergeNewDefaults()
	require.NoError(t, err)
	assert.Empty(t, added)

	backups, err := ListUserConfigBackups()
	require.NoError(t, err)
	assert.Empty(t, backups)
}
