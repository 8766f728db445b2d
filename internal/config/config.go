// Package config defines the daemon configuration, its on-disk layout under
// <project>/.oak/ci/, and the live accessor used by long-running services so
// that configuration edits take effect without a restart.
package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"oakci/internal/logging"
)

// Env variable names recognized by the daemon and CLI.
const (
	EnvAuthToken  = "OAK_AUTH_TOKEN"
	EnvBaseURL    = "OAK_BASE_URL"
	EnvCLICommand = "OAK_CI_CLI_COMMAND"
)

// ProviderConfig describes one embedding backend in the provider chain.
type ProviderConfig struct {
	Type       string `json:"type"` // ollama | openai | genai | hash
	Model      string `json:"model,omitempty"`
	BaseURL    string `json:"base_url,omitempty"`
	APIKey     string `json:"api_key,omitempty"`
	Dimensions int    `json:"dimensions,omitempty"`
	MaxChars   int    `json:"max_chars,omitempty"`
}

// ServerConfig controls the HTTP API.
type ServerConfig struct {
	Host           string   `json:"host"`
	Port           int      `json:"port"`
	AuthToken      string   `json:"auth_token,omitempty"`
	MaxBodyBytes   int64    `json:"max_body_bytes"`
	AllowedOrigins []string `json:"allowed_origins"`
}

// EmbeddingConfig is the ordered provider chain; Primary is always first.
type EmbeddingConfig struct {
	Primary   ProviderConfig   `json:"primary"`
	Fallbacks []ProviderConfig `json:"fallbacks"`
}

// IndexerConfig controls code indexing and the file watcher.
type IndexerConfig struct {
	Extensions                []string `json:"extensions"`
	IgnoreDirs                []string `json:"ignore_dirs"`
	TargetChunkLines          int      `json:"target_chunk_lines"`
	ChunkOverlapLines         int      `json:"chunk_overlap_lines"`
	UpsertBatchSize           int      `json:"upsert_batch_size"`
	WatchEnabled              bool     `json:"watch_enabled"`
	DebounceMS                int      `json:"debounce_ms"`
	MinReindexIntervalSeconds int      `json:"min_reindex_interval_seconds"`
}

// ProcessorConfig controls the background activity processor and its LLM.
type ProcessorConfig struct {
	Enabled                bool    `json:"enabled"`
	Provider               string  `json:"provider"` // openai-compatible endpoint
	Model                  string  `json:"model"`
	BaseURL                string  `json:"base_url"`
	APIKey                 string  `json:"api_key,omitempty"`
	TimeoutSeconds         int     `json:"timeout_seconds"`
	CycleSeconds           int     `json:"cycle_seconds"`
	BatchesPerCycle        int     `json:"batches_per_cycle"`
	MinSessionActivities   int     `json:"min_session_activities"`
	StaleSessionMinutes    int     `json:"stale_session_minutes"`
	ContextTokenBudget     int     `json:"context_token_budget"`
	ResolveThreshold       float64 `json:"resolve_threshold"`
	ResolveThresholdShared float64 `json:"resolve_threshold_shared_context"`
	AutoResolveCandidates  int     `json:"auto_resolve_candidates"`
}

// GovernanceConfig controls rule evaluation and audit retention.
type GovernanceConfig struct {
	EnforcementMode string `json:"enforcement_mode"` // observe | enforce
	RetentionDays   int    `json:"retention_days"`
	RulesPath       string `json:"rules_path,omitempty"`
}

// BackupConfig controls the periodic history backup.
type BackupConfig struct {
	Enabled           bool `json:"enabled"`
	IntervalMinutes   int  `json:"interval_minutes"`
	IncludeActivities bool `json:"include_activities"`
}

// CIConfig is the full daemon configuration.
type CIConfig struct {
	ProjectRoot string           `json:"-"`
	Server      ServerConfig     `json:"server"`
	Embedding   EmbeddingConfig  `json:"embedding"`
	Indexer     IndexerConfig    `json:"indexer"`
	Processor   ProcessorConfig  `json:"processor"`
	Governance  GovernanceConfig `json:"governance"`
	Backup      BackupConfig     `json:"backup"`
	Logging     logging.Config   `json:"logging"`
}

// Default returns the configuration used when no config file exists.
func Default(projectRoot string) *CIConfig {
	return &CIConfig{
		ProjectRoot: projectRoot,
		Server: ServerConfig{
			Host:         "127.0.0.1",
			Port:         37465,
			MaxBodyBytes: 2 << 20, // 2 MiB
			AllowedOrigins: []string{
				"http://localhost:37465",
				"http://127.0.0.1:37465",
			},
		},
		Embedding: EmbeddingConfig{
			Primary: ProviderConfig{
				Type:       "ollama",
				Model:      "embeddinggemma",
				BaseURL:    "http://localhost:11434",
				Dimensions: 768,
				MaxChars:   8000,
			},
			Fallbacks: []ProviderConfig{
				{Type: "hash", Dimensions: 768, MaxChars: 8000},
			},
		},
		Indexer: IndexerConfig{
			Extensions: []string{
				".go", ".py", ".js", ".jsx", ".ts", ".tsx", ".rs",
				".java", ".rb", ".c", ".h", ".cpp", ".hpp", ".cs",
				".md", ".json", ".yaml", ".yml", ".toml", ".sql", ".sh",
			},
			IgnoreDirs: []string{
				".git", ".oak", "node_modules", "vendor", "dist",
				"build", "target", "__pycache__", ".venv", ".idea",
			},
			TargetChunkLines:          120,
			ChunkOverlapLines:         20,
			UpsertBatchSize:           64,
			WatchEnabled:              true,
			DebounceMS:                1000,
			MinReindexIntervalSeconds: 30,
		},
		Processor: ProcessorConfig{
			Enabled:                true,
			Provider:               "openai",
			Model:                  "gpt-4o-mini",
			BaseURL:                "https://api.openai.com/v1",
			TimeoutSeconds:         120,
			CycleSeconds:           30,
			BatchesPerCycle:        10,
			MinSessionActivities:   3,
			StaleSessionMinutes:    30,
			ContextTokenBudget:     4000,
			ResolveThreshold:       0.87,
			ResolveThresholdShared: 0.80,
			AutoResolveCandidates:  10,
		},
		Governance: GovernanceConfig{
			EnforcementMode: "observe",
			RetentionDays:   30,
		},
		Backup: BackupConfig{
			Enabled:         true,
			IntervalMinutes: 60,
		},
		Logging: logging.Config{Level: "info"},
	}
}

// Load reads the config file, layering it over defaults and applying env
// overrides. A missing file is not an error.
func Load(projectRoot string) (*CIConfig, error) {
	cfg := Default(projectRoot)

	data, err := os.ReadFile(Path(projectRoot))
	if err != nil {
		if os.IsNotExist(err) {
			cfg.applyEnv()
			return cfg, nil
		}
		return nil, fmt.Errorf("failed to read config: %w", err)
	}
	if err := json.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}
	cfg.ProjectRoot = projectRoot
	cfg.applyEnv()
	return cfg, nil
}

// Save writes the config file atomically.
func (c *CIConfig) Save() error {
	if err := os.MkdirAll(CIDir(c.ProjectRoot), 0o755); err != nil {
		return fmt.Errorf("failed to create ci directory: %w", err)
	}
	data, err := json.MarshalIndent(c, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}
	tmp := Path(c.ProjectRoot) + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return fmt.Errorf("failed to write config: %w", err)
	}
	return os.Rename(tmp, Path(c.ProjectRoot))
}

func (c *CIConfig) applyEnv() {
	if tok := os.Getenv(EnvAuthToken); tok != "" {
		c.Server.AuthToken = tok
	}
}

// CLICommand returns the CLI binary name used in self-restart and
// version-mismatch hints.
func CLICommand() string {
	if cmd := os.Getenv(EnvCLICommand); cmd != "" {
		return cmd
	}
	return "oakci"
}

// Accessor returns the current configuration snapshot. Services hold an
// Accessor rather than a *CIConfig so edits made through the API take effect
// on their next read.
type Accessor func() *CIConfig

// Static wraps a fixed config in an Accessor, for tests and one-shot commands.
func Static(cfg *CIConfig) Accessor {
	return func() *CIConfig { return cfg }
}

// NewFileAccessor returns an Accessor that re-reads the config file with a
// short TTL cache.
func NewFileAccessor(projectRoot string) Accessor {
	var (
		mu     sync.Mutex
		cached *CIConfig
		readAt time.Time
		ttl    = 2 * time.Second
	)
	return func() *CIConfig {
		mu.Lock()
		defer mu.Unlock()
		if cached != nil && time.Since(readAt) < ttl {
			return cached
		}
		cfg, err := Load(projectRoot)
		if err != nil {
			logging.Get(logging.CategoryBoot).Warn("config reload failed, keeping previous: %v", err)
			if cached != nil {
				return cached
			}
			cfg = Default(projectRoot)
		}
		cached = cfg
		readAt = time.Now()
		return cached
	}
}

// Path layout under <project>/.oak/.

// CIDir returns <project>/.oak/ci.
func CIDir(root string) string { return filepath.Join(root, ".oak", "ci") }

// Path returns the config file path.
func Path(root string) string { return filepath.Join(CIDir(root), "config.json") }

// DBPath returns the activity store database path.
func DBPath(root string) string { return filepath.Join(CIDir(root), "activities.db") }

// VectorDir returns the vector store directory.
func VectorDir(root string) string { return filepath.Join(CIDir(root), "chroma") }

// VectorDBPath returns the vector store database path.
func VectorDBPath(root string) string { return filepath.Join(VectorDir(root), "vectors.db") }

// PIDPath returns the daemon pid file path.
func PIDPath(root string) string { return filepath.Join(CIDir(root), "daemon.pid") }

// StampPath returns the installed-CLI version stamp file path.
func StampPath(root string) string { return filepath.Join(CIDir(root), "cli_version") }

// BackupDir returns <project>/.oak/ci-history.
func BackupDir(root string) string { return filepath.Join(root, ".oak", "ci-history") }

// CloudRelayDir returns the cloud relay scaffold directory.
func CloudRelayDir(root string) string { return filepath.Join(CIDir(root), "cloud-relay") }

// GovernanceRulesPath returns the governance rules file path, honoring an
// override from the config.
func (c *CIConfig) GovernanceRulesPath() string {
	if c.Governance.RulesPath != "" {
		return c.Governance.RulesPath
	}
	return filepath.Join(CIDir(c.ProjectRoot), "governance.yaml")
}
