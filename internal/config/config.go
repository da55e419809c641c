// Package config loads and validates zoterag configuration.
//
// Configuration is resolved in layers, each overriding the previous one:
//
//  1. Built-in defaults (New)
//  2. The user config file (~/.config/zoterag/config.yaml)
//  3. An explicit file passed on the command line
//  4. ZOTERAG_* environment variables
//
// API keys are never read from YAML. Providers resolve keys from the
// environment or from the profile settings store.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"

	"gopkg.in/yaml.v3"

	ragerr "github.com/zoterag/zoterag/internal/errors"
)

// CurrentVersion is the config schema version written by WriteYAML.
const CurrentVersion = 1

// Config is the root configuration tree.
type Config struct {
	Version  int            `yaml:"version" json:"version"`
	Library  LibraryConfig  `yaml:"library" json:"library"`
	Index    IndexConfig    `yaml:"index" json:"index"`
	Search   SearchConfig   `yaml:"search" json:"search"`
	Chat     ChatConfig     `yaml:"chat" json:"chat"`
	Provider ProviderConfig `yaml:"provider" json:"provider"`
	Server   ServerConfig   `yaml:"server" json:"server"`
	Logging  LoggingConfig  `yaml:"logging" json:"logging"`
}

// LibraryConfig locates the Zotero library and the zoterag data directory.
type LibraryConfig struct {
	// ZoteroDir contains zotero.sqlite and the storage/ attachment tree.
	ZoteroDir string `yaml:"zotero_dir" json:"zotero_dir"`

	// DataDir contains profiles, vector indexes, BM25 indexes, and logs.
	DataDir string `yaml:"data_dir" json:"data_dir"`
}

// IndexConfig controls chunking and embedding during indexing.
type IndexConfig struct {
	// EmbeddingModel is the registry id of the embedding model.
	// The vector collection and BM25 index are named after it, so
	// changing it starts a fresh index rather than corrupting the old one.
	EmbeddingModel string `yaml:"embedding_model" json:"embedding_model"`

	// ChunkChars is the soft maximum chunk size in characters.
	ChunkChars int `yaml:"chunk_chars" json:"chunk_chars"`

	// OverlapChars controls sentence overlap carried between adjacent
	// chunks. The carried prefix is OverlapChars/5 words.
	OverlapChars int `yaml:"overlap_chars" json:"overlap_chars"`

	// EmbedBatchSize is the number of chunks embedded per backend call.
	EmbedBatchSize int `yaml:"embed_batch_size" json:"embed_batch_size"`

	// MigrationBatchSize is the number of chunks rewritten per batch
	// during metadata schema migration.
	MigrationBatchSize int `yaml:"migration_batch_size" json:"migration_batch_size"`
}

// SearchConfig controls hybrid retrieval.
type SearchConfig struct {
	// RRFConstant is the k in 1/(k+rank) reciprocal rank fusion.
	RRFConstant int `yaml:"rrf_constant" json:"rrf_constant"`

	// BM25Backend selects the sparse index backend: "sqlite" or "bleve".
	BM25Backend string `yaml:"bm25_backend" json:"bm25_backend"`

	// FilteredMultiplier widens candidate retrieval when part of the
	// active filter must be applied client-side.
	FilteredMultiplier int `yaml:"filtered_multiplier" json:"filtered_multiplier"`

	// UnfilteredMultiplier widens candidate retrieval otherwise.
	UnfilteredMultiplier int `yaml:"unfiltered_multiplier" json:"unfiltered_multiplier"`
}

// ChatConfig controls conversation history and answer generation.
type ChatConfig struct {
	// MaxHistoryMessages caps non-system messages kept per session.
	MaxHistoryMessages int `yaml:"max_history_messages" json:"max_history_messages"`

	// MaxHistoryChars caps total history size passed to the model.
	MaxHistoryChars int `yaml:"max_history_chars" json:"max_history_chars"`

	// MaxTokens is the generation budget for answers.
	MaxTokens int `yaml:"max_tokens" json:"max_tokens"`
}

// ProviderConfig selects the language model backend.
//
// Only local backend addresses live here. Hosted providers read their
// API keys from the environment (OPENAI_API_KEY and friends) or from
// profile settings.
type ProviderConfig struct {
	// Active is the provider id: ollama, lmstudio, openai, anthropic,
	// mistral, google, groq, openrouter, or perplexity.
	Active string `yaml:"active" json:"active"`

	// Model overrides the provider's default model when non-empty.
	Model string `yaml:"model" json:"model"`

	// OllamaHost is the Ollama server address.
	OllamaHost string `yaml:"ollama_host" json:"ollama_host"`

	// LMStudioBaseURL is the LM Studio server address. A missing /v1
	// suffix is added by the provider.
	LMStudioBaseURL string `yaml:"lmstudio_base_url" json:"lmstudio_base_url"`
}

// ServerConfig controls the local HTTP API.
type ServerConfig struct {
	// Host is the bind address. The server is single-user and local,
	// so this stays on loopback unless deliberately changed.
	Host string `yaml:"host" json:"host"`

	// PortMin and PortMax bound the probe range: the server binds the
	// first free port in [PortMin, PortMax].
	PortMin int `yaml:"port_min" json:"port_min"`
	PortMax int `yaml:"port_max" json:"port_max"`
}

// LoggingConfig controls the service log.
type LoggingConfig struct {
	// Level is one of debug, info, warn, error.
	Level string `yaml:"level" json:"level"`

	// File overrides the default log path when non-empty.
	File string `yaml:"file" json:"file"`
}

// New returns a Config populated with defaults. The result validates.
func New() *Config {
	return &Config{
		Version: CurrentVersion,
		Library: LibraryConfig{
			ZoteroDir: "~/Zotero",
			DataDir:   "~/.zoterag",
		},
		Index: IndexConfig{
			EmbeddingModel:     "bge-base",
			ChunkChars:         800,
			OverlapChars:       200,
			EmbedBatchSize:     16,
			MigrationBatchSize: 1000,
		},
		Search: SearchConfig{
			RRFConstant:          60,
			BM25Backend:          "sqlite",
			FilteredMultiplier:   3,
			UnfilteredMultiplier: 2,
		},
		Chat: ChatConfig{
			MaxHistoryMessages: 20,
			MaxHistoryChars:    12000,
			MaxTokens:          2000,
		},
		Provider: ProviderConfig{
			Active:          "ollama",
			Model:           "",
			OllamaHost:      "http://localhost:11434",
			LMStudioBaseURL: "http://localhost:1234",
		},
		Server: ServerConfig{
			Host:    "127.0.0.1",
			PortMin: 8000,
			PortMax: 8009,
		},
		Logging: LoggingConfig{
			Level: "info",
		},
	}
}

// Load resolves the effective configuration. explicit may be empty; when
// set it names a config file that overrides the user config.
func Load(explicit string) (*Config, error) {
	cfg := New()

	if userPath := GetUserConfigPath(); fileExists(userPath) {
		if err := cfg.loadYAML(userPath); err != nil {
			return nil, err
		}
	}

	if explicit != "" {
		if !fileExists(explicit) {
			return nil, ragerr.New(ragerr.ErrCodeConfigNotFound,
				fmt.Sprintf("config file not found: %s", explicit), nil).
				WithDetail("path", explicit)
		}
		if err := cfg.loadYAML(explicit); err != nil {
			return nil, err
		}
	}

	cfg.applyEnvOverrides()
	cfg.expandPaths()

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// loadYAML merges settings from path into c. Only fields present in the
// file override; absent fields keep their current values.
func (c *Config) loadYAML(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return ragerr.New(ragerr.ErrCodeConfigNotFound,
			fmt.Sprintf("read config: %v", err), err).WithDetail("path", path)
	}

	var in Config
	if err := yaml.Unmarshal(data, &in); err != nil {
		return ragerr.ConfigError(fmt.Sprintf("parse %s: %v", path, err), err).
			WithDetail("path", path).
			WithSuggestion("fix the YAML syntax or delete the file to regenerate defaults")
	}

	c.mergeWith(&in)
	return nil
}

// mergeWith copies non-zero fields from in over c. Zero values in the
// file are indistinguishable from absent fields, which is acceptable for
// this schema: no meaningful setting here has a zero value.
func (c *Config) mergeWith(in *Config) {
	if in.Version != 0 {
		c.Version = in.Version
	}

	if in.Library.ZoteroDir != "" {
		c.Library.ZoteroDir = in.Library.ZoteroDir
	}
	if in.Library.DataDir != "" {
		c.Library.DataDir = in.Library.DataDir
	}

	if in.Index.EmbeddingModel != "" {
		c.Index.EmbeddingModel = in.Index.EmbeddingModel
	}
	if in.Index.ChunkChars != 0 {
		c.Index.ChunkChars = in.Index.ChunkChars
	}
	if in.Index.OverlapChars != 0 {
		c.Index.OverlapChars = in.Index.OverlapChars
	}
	if in.Index.EmbedBatchSize != 0 {
		c.Index.EmbedBatchSize = in.Index.EmbedBatchSize
	}
	if in.Index.MigrationBatchSize != 0 {
		c.Index.MigrationBatchSize = in.Index.MigrationBatchSize
	}

	if in.Search.RRFConstant != 0 {
		c.Search.RRFConstant = in.Search.RRFConstant
	}
	if in.Search.BM25Backend != "" {
		c.Search.BM25Backend = in.Search.BM25Backend
	}
	if in.Search.FilteredMultiplier != 0 {
		c.Search.FilteredMultiplier = in.Search.FilteredMultiplier
	}
	if in.Search.UnfilteredMultiplier != 0 {
		c.Search.UnfilteredMultiplier = in.Search.UnfilteredMultiplier
	}

	if in.Chat.MaxHistoryMessages != 0 {
		c.Chat.MaxHistoryMessages = in.Chat.MaxHistoryMessages
	}
	if in.Chat.MaxHistoryChars != 0 {
		c.Chat.MaxHistoryChars = in.Chat.MaxHistoryChars
	}
	if in.Chat.MaxTokens != 0 {
		c.Chat.MaxTokens = in.Chat.MaxTokens
	}

	if in.Provider.Active != "" {
		c.Provider.Active = in.Provider.Active
	}
	if in.Provider.Model != "" {
		c.Provider.Model = in.Provider.Model
	}
	if in.Provider.OllamaHost != "" {
		c.Provider.OllamaHost = in.Provider.OllamaHost
	}
	if in.Provider.LMStudioBaseURL != "" {
		c.Provider.LMStudioBaseURL = in.Provider.LMStudioBaseURL
	}

	if in.Server.Host != "" {
		c.Server.Host = in.Server.Host
	}
	if in.Server.PortMin != 0 {
		c.Server.PortMin = in.Server.PortMin
	}
	if in.Server.PortMax != 0 {
		c.Server.PortMax = in.Server.PortMax
	}

	if in.Logging.Level != "" {
		c.Logging.Level = in.Logging.Level
	}
	if in.Logging.File != "" {
		c.Logging.File = in.Logging.File
	}
}

// applyEnvOverrides applies ZOTERAG_* environment variables. Invalid
// numeric values are ignored rather than failing startup.
func (c *Config) applyEnvOverrides() {
	if v := os.Getenv("ZOTERAG_ZOTERO_DIR"); v != "" {
		c.Library.ZoteroDir = v
	}
	if v := os.Getenv("ZOTERAG_DATA_DIR"); v != "" {
		c.Library.DataDir = v
	}
	if v := os.Getenv("ZOTERAG_EMBEDDING_MODEL"); v != "" {
		c.Index.EmbeddingModel = v
	}
	if v := os.Getenv("ZOTERAG_BM25_BACKEND"); v != "" {
		c.Search.BM25Backend = v
	}
	if v := os.Getenv("ZOTERAG_PROVIDER"); v != "" {
		c.Provider.Active = v
	}
	if v := os.Getenv("ZOTERAG_MODEL"); v != "" {
		c.Provider.Model = v
	}
	if v := os.Getenv("ZOTERAG_OLLAMA_HOST"); v != "" {
		c.Provider.OllamaHost = v
	}
	if v := os.Getenv("ZOTERAG_LMSTUDIO_URL"); v != "" {
		c.Provider.LMStudioBaseURL = v
	}
	if v := os.Getenv("ZOTERAG_HOST"); v != "" {
		c.Server.Host = v
	}
	if v := os.Getenv("ZOTERAG_PORT"); v != "" {
		// An explicit port pins the probe range to a single port.
		if p, err := strconv.Atoi(v); err == nil {
			c.Server.PortMin = p
			c.Server.PortMax = p
		}
	}
	if v := os.Getenv("ZOTERAG_LOG_LEVEL"); v != "" {
		c.Logging.Level = v
	}
}

// expandPaths resolves ~ in configured directories.
func (c *Config) expandPaths() {
	c.Library.ZoteroDir = ExpandTilde(c.Library.ZoteroDir)
	c.Library.DataDir = ExpandTilde(c.Library.DataDir)
	if c.Logging.File != "" {
		c.Logging.File = ExpandTilde(c.Logging.File)
	}
}

// ValidProviders lists the provider ids accepted by Provider.Active.
var ValidProviders = map[string]bool{
	"ollama":     true,
	"lmstudio":   true,
	"openai":     true,
	"anthropic":  true,
	"mistral":    true,
	"google":     true,
	"groq":       true,
	"openrouter": true,
	"perplexity": true,
}

var validBM25Backends = map[string]bool{
	"sqlite": true,
	"bleve":  true,
}

var validLogLevels = map[string]bool{
	"debug": true,
	"info":  true,
	"warn":  true,
	"error": true,
}

// Validate checks ranges and enumerations. It returns a coded config
// error describing the first violation.
func (c *Config) Validate() error {
	if c.Library.ZoteroDir == "" {
		return invalid("library.zotero_dir must not be empty")
	}
	if c.Library.DataDir == "" {
		return invalid("library.data_dir must not be empty")
	}

	if c.Index.EmbeddingModel == "" {
		return invalid("index.embedding_model must not be empty")
	}
	if c.Index.ChunkChars < 100 {
		return invalid(fmt.Sprintf("index.chunk_chars must be >= 100, got %d", c.Index.ChunkChars))
	}
	if c.Index.OverlapChars < 0 || c.Index.OverlapChars >= c.Index.ChunkChars {
		return invalid(fmt.Sprintf("index.overlap_chars must be in [0, chunk_chars), got %d", c.Index.OverlapChars))
	}
	if c.Index.EmbedBatchSize < 1 {
		return invalid(fmt.Sprintf("index.embed_batch_size must be >= 1, got %d", c.Index.EmbedBatchSize))
	}
	if c.Index.MigrationBatchSize < 1 {
		return invalid(fmt.Sprintf("index.migration_batch_size must be >= 1, got %d", c.Index.MigrationBatchSize))
	}

	if c.Search.RRFConstant < 1 {
		return invalid(fmt.Sprintf("search.rrf_constant must be >= 1, got %d", c.Search.RRFConstant))
	}
	if !validBM25Backends[c.Search.BM25Backend] {
		return invalid(fmt.Sprintf("search.bm25_backend must be sqlite or bleve, got %q", c.Search.BM25Backend))
	}
	if c.Search.FilteredMultiplier < 1 || c.Search.UnfilteredMultiplier < 1 {
		return invalid("search candidate multipliers must be >= 1")
	}

	if c.Chat.MaxHistoryMessages < 2 {
		return invalid(fmt.Sprintf("chat.max_history_messages must be >= 2, got %d", c.Chat.MaxHistoryMessages))
	}
	if c.Chat.MaxHistoryChars < 1000 {
		return invalid(fmt.Sprintf("chat.max_history_chars must be >= 1000, got %d", c.Chat.MaxHistoryChars))
	}
	if c.Chat.MaxTokens < 1 {
		return invalid(fmt.Sprintf("chat.max_tokens must be >= 1, got %d", c.Chat.MaxTokens))
	}

	if !ValidProviders[c.Provider.Active] {
		return ragerr.New(ragerr.ErrCodeProviderUnknown,
			fmt.Sprintf("unknown provider %q", c.Provider.Active), nil).
			WithSuggestion("run 'zoterag providers' to list available providers")
	}

	if c.Server.Host == "" {
		return invalid("server.host must not be empty")
	}
	if c.Server.PortMin < 1 || c.Server.PortMax > 65535 || c.Server.PortMin > c.Server.PortMax {
		return invalid(fmt.Sprintf("server port range [%d, %d] is invalid", c.Server.PortMin, c.Server.PortMax))
	}

	if !validLogLevels[c.Logging.Level] {
		return invalid(fmt.Sprintf("logging.level must be debug, info, warn, or error, got %q", c.Logging.Level))
	}

	return nil
}

func invalid(msg string) error {
	return ragerr.ConfigError(msg, nil)
}

// ZoteroDBPath returns the path of the Zotero SQLite database.
func (c *Config) ZoteroDBPath() string {
	return filepath.Join(c.Library.ZoteroDir, "zotero.sqlite")
}

// ZoteroStorageDir returns the Zotero attachment storage directory.
func (c *Config) ZoteroStorageDir() string {
	return filepath.Join(c.Library.ZoteroDir, "storage")
}

// ProfilesDir returns the directory holding per-profile state.
func (c *Config) ProfilesDir() string {
	return filepath.Join(c.Library.DataDir, "profiles")
}

// WriteYAML writes c to path, creating parent directories as needed.
func (c *Config) WriteYAML(path string) error {
	data, err := yaml.Marshal(c)
	if err != nil {
		return ragerr.InternalError("marshal config", err)
	}

	header := "# zoterag configuration\n# Generated by 'zoterag config init'. Edit freely; unknown keys are ignored.\n\n"

	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return ragerr.ConfigError(fmt.Sprintf("create config directory: %v", err), err)
	}
	if err := os.WriteFile(path, append([]byte(header), data...), 0644); err != nil {
		return ragerr.ConfigError(fmt.Sprintf("write config: %v", err), err)
	}
	return nil
}

// GetUserConfigDir returns the per-user config directory, honoring
// XDG_CONFIG_HOME.
func GetUserConfigDir() string {
	if xdg := os.Getenv("XDG_CONFIG_HOME"); xdg != "" {
		return filepath.Join(xdg, "zoterag")
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return filepath.Join(os.TempDir(), "zoterag")
	}
	return filepath.Join(home, ".config", "zoterag")
}

// GetUserConfigPath returns the user config file path.
func GetUserConfigPath() string {
	return filepath.Join(GetUserConfigDir(), "config.yaml")
}

// UserConfigExists reports whether the user config file exists.
func UserConfigExists() bool {
	return fileExists(GetUserConfigPath())
}

// MergeNewDefaults adds settings introduced since the user config was
// written, keeping all existing values. The previous file is backed up
// first. Returns the dotted paths of added keys, sorted.
func MergeNewDefaults() ([]string, error) {
	path := GetUserConfigPath()
	if !fileExists(path) {
		return nil, nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, ragerr.ConfigError(fmt.Sprintf("read config: %v", err), err)
	}

	var user map[string]any
	if err := yaml.Unmarshal(data, &user); err != nil {
		return nil, ragerr.ConfigError(fmt.Sprintf("parse config: %v", err), err)
	}
	if user == nil {
		user = map[string]any{}
	}

	defYAML, err := yaml.Marshal(New())
	if err != nil {
		return nil, ragerr.InternalError("marshal defaults", err)
	}
	var defaults map[string]any
	if err := yaml.Unmarshal(defYAML, &defaults); err != nil {
		return nil, ragerr.InternalError("parse defaults", err)
	}

	added := mergeMissing(user, defaults, "")
	if len(added) == 0 {
		return nil, nil
	}

	if _, err := BackupUserConfig(); err != nil {
		return nil, err
	}

	out, err := yaml.Marshal(user)
	if err != nil {
		return nil, ragerr.InternalError("marshal merged config", err)
	}
	if err := os.WriteFile(path, out, 0644); err != nil {
		return nil, ragerr.ConfigError(fmt.Sprintf("write merged config: %v", err), err)
	}

	sort.Strings(added)
	return added, nil
}

// mergeMissing copies keys present in src but absent from dst, recursing
// into maps present on both sides. Returns the dotted paths added.
func mergeMissing(dst, src map[string]any, prefix string) []string {
	var added []string
	for key, val := range src {
		dotted := key
		if prefix != "" {
			dotted = prefix + "." + key
		}

		cur, ok := dst[key]
		if !ok {
			dst[key] = val
			added = append(added, dotted)
			continue
		}

		srcMap, srcIsMap := val.(map[string]any)
		dstMap, dstIsMap := cur.(map[string]any)
		if srcIsMap && dstIsMap {
			added = append(added, mergeMissing(dstMap, srcMap, dotted)...)
		}
	}
	return added
}

// ExpandTilde resolves a leading ~ to the user's home directory.
func ExpandTilde(path string) string {
	if path == "" || path[0] != '~' {
		return path
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return path
	}
	if path == "~" {
		return home
	}
	if strings.HasPrefix(path, "~/") {
		return filepath.Join(home, path[2:])
	}
	return path
}

func fileExists(path string) bool {
	info, err := os.Stat(path)
	return err == nil && !info.IsDir()
}
