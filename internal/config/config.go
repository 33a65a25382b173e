package config

import (
	"encoding/json"
	"errors"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"time"
)

// Analysis modes recognized in config.json.
const (
	ModeHeuristic = "heuristic"
	ModeCloudAI   = "cloudAI"
	ModeLocalAI   = "localAI"
)

// Storage backends.
const (
	StorageSQLite = "sqlite"
	StorageRedis  = "redis"
)

// Config holds application configuration.
type Config struct {
	// AnalysisMode selects the classifier: heuristic, cloudAI or localAI.
	AnalysisMode string `json:"analysis_mode,omitempty"`

	// Model is the text (and, for cloud, multimodal) model name.
	Model string `json:"model,omitempty"`

	// VisionModel is used for per-image descriptions in the two-stage pipeline.
	// Defaults to Model when empty.
	VisionModel string `json:"vision_model,omitempty"`

	// Credential is the API key for the hosted model. FEEDLENS_API_KEY or
	// OPENAI_API_KEY are used when this is empty.
	Credential string `json:"credential,omitempty"`

	// LocalEndpoint is the base URL of a locally-hosted OpenAI-compatible server
	// (for example http://localhost:11434/v1).
	LocalEndpoint string `json:"local_endpoint,omitempty"`

	// CloudEndpoint overrides the hosted API base URL. Empty means the client default.
	CloudEndpoint string `json:"cloud_endpoint,omitempty"`

	// StructuredOutput requests JSON-schema constrained output from the cloud backend.
	StructuredOutput bool `json:"structured_output,omitempty"`

	AITimeoutMs     int `json:"ai_timeout_ms,omitempty"`
	VisionTimeoutMs int `json:"vision_timeout_ms,omitempty"`

	// Per-request item caps. Items beyond the cap are left out of AI analysis.
	MaxItemsCloud  int `json:"max_items_cloud,omitempty"`
	MaxItemsLocal  int `json:"max_items_local,omitempty"`
	MaxItemsVision int `json:"max_items_vision,omitempty"`

	// DescriptionMaxChars bounds each stage-1 image description.
	DescriptionMaxChars int `json:"description_max_chars,omitempty"`

	// FieldMaxChars bounds each platform field (title, description, transcript)
	// before it is flattened into caption text.
	FieldMaxChars int `json:"field_max_chars,omitempty"`

	FinalizeGraceMs int `json:"finalize_grace_ms,omitempty"`
	SettleDelayMs   int `json:"settle_delay_ms,omitempty"`
	ForceClearMs    int `json:"force_clear_ms,omitempty"`

	// HistoryLimit caps the number of session ids kept in the history list.
	HistoryLimit int `json:"history_limit,omitempty"`

	// Storage selects the key-value backend: sqlite (default) or redis.
	Storage       string `json:"storage,omitempty"`
	RedisAddr     string `json:"redis_addr,omitempty"`
	RedisPassword string `json:"redis_password,omitempty"`
	RedisDB       int    `json:"redis_db,omitempty"`

	// DBMaxOpenConns limits the maximum number of open database connections.
	// If set to 1, all database access is serialized (reduces "database is locked" errors).
	// 0 means use sql.DB default (unlimited). Only set if you experience contention.
	DBMaxOpenConns int `json:"db_max_open_conns,omitempty"`

	// DBMaxIdleConns limits the maximum number of idle database connections.
	// 0 means use sql.DB default. Typically set equal to DBMaxOpenConns.
	DBMaxIdleConns int `json:"db_max_idle_conns,omitempty"`

	// DisabledTools is a list of MCP tool names to exclude from registration.
	// Unknown tool names are logged as warnings.
	DisabledTools []string `json:"disabled_tools,omitempty"`

	// DisabledTypes is a list of tool groups to disable entirely.
	// Known types: "session", "stats".
	DisabledTypes []string `json:"disabled_types,omitempty"`

	// AllowedPaths is an allowlist of directories for export.
	// Paths outside ~/.feedlens/exports require either being in this list or AllowUnsafePaths=true.
	AllowedPaths []string `json:"allowed_paths,omitempty"`

	// AllowUnsafePaths disables directory restrictions for export.
	// Symlink and extension checks still apply.
	AllowUnsafePaths bool `json:"allow_unsafe_paths,omitempty"`
}

// DefaultConfig returns the default configuration.
func DefaultConfig() *Config {
	return &Config{
		AnalysisMode:        ModeHeuristic,
		Model:               "gpt-4o-mini",
		AITimeoutMs:         30_000,
		VisionTimeoutMs:     60_000,
		MaxItemsCloud:       50,
		MaxItemsLocal:       15,
		MaxItemsVision:      10,
		DescriptionMaxChars: 300,
		FieldMaxChars:       500,
		FinalizeGraceMs:     5_000,
		SettleDelayMs:       1_000,
		ForceClearMs:        120_000,
		HistoryLimit:        100,
		Storage:             StorageSQLite,
	}
}

// Load loads configuration from baseDir/config.json.
// Returns default config if the file doesn't exist.
// The baseDir parameter allows tests to use t.TempDir() instead of ~/.feedlens.
func Load(baseDir string) (*Config, error) {
	cfg, err := loadFile(filepath.Join(baseDir, "config.json"))
	if err != nil {
		return nil, err
	}
	if cfg.Credential == "" {
		cfg.Credential = credentialFromEnv()
	}
	return cfg, nil
}

func credentialFromEnv() string {
	if v := strings.TrimSpace(os.Getenv("FEEDLENS_API_KEY")); v != "" {
		return v
	}
	return strings.TrimSpace(os.Getenv("OPENAI_API_KEY"))
}

// loadFileRaw loads configuration from a specific file path.
// Returns zero-valued config if the file doesn't exist (not defaults).
func loadFileRaw(configPath string) (*Config, error) {
	data, err := os.ReadFile(configPath)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return &Config{}, nil
		}
		return nil, err
	}

	cfg := &Config{}
	if err := json.Unmarshal(data, cfg); err != nil {
		return nil, err
	}

	return cfg, nil
}

// loadFile loads configuration from a specific file path.
// Returns default config if the file doesn't exist.
func loadFile(configPath string) (*Config, error) {
	cfg, err := loadFileRaw(configPath)
	if err != nil {
		return nil, err
	}
	return Merge(DefaultConfig(), cfg), nil
}

// Merge combines base and overlay configs.
// Overlay values take precedence for scalars; arrays are merged and deduplicated.
func Merge(base, overlay *Config) *Config {
	result := &Config{}

	result.AnalysisMode = pickString(overlay.AnalysisMode, base.AnalysisMode)
	result.Model = pickString(overlay.Model, base.Model)
	result.VisionModel = pickString(overlay.VisionModel, base.VisionModel)
	result.Credential = pickString(overlay.Credential, base.Credential)
	result.LocalEndpoint = pickString(overlay.LocalEndpoint, base.LocalEndpoint)
	result.CloudEndpoint = pickString(overlay.CloudEndpoint, base.CloudEndpoint)
	result.Storage = pickString(overlay.Storage, base.Storage)
	result.RedisAddr = pickString(overlay.RedisAddr, base.RedisAddr)
	result.RedisPassword = pickString(overlay.RedisPassword, base.RedisPassword)

	result.AITimeoutMs = pickInt(overlay.AITimeoutMs, base.AITimeoutMs)
	result.VisionTimeoutMs = pickInt(overlay.VisionTimeoutMs, base.VisionTimeoutMs)
	result.MaxItemsCloud = pickInt(overlay.MaxItemsCloud, base.MaxItemsCloud)
	result.MaxItemsLocal = pickInt(overlay.MaxItemsLocal, base.MaxItemsLocal)
	result.MaxItemsVision = pickInt(overlay.MaxItemsVision, base.MaxItemsVision)
	result.DescriptionMaxChars = pickInt(overlay.DescriptionMaxChars, base.DescriptionMaxChars)
	result.FieldMaxChars = pickInt(overlay.FieldMaxChars, base.FieldMaxChars)
	result.FinalizeGraceMs = pickInt(overlay.FinalizeGraceMs, base.FinalizeGraceMs)
	result.SettleDelayMs = pickInt(overlay.SettleDelayMs, base.SettleDelayMs)
	result.ForceClearMs = pickInt(overlay.ForceClearMs, base.ForceClearMs)
	result.HistoryLimit = pickInt(overlay.HistoryLimit, base.HistoryLimit)
	result.RedisDB = pickInt(overlay.RedisDB, base.RedisDB)
	result.DBMaxOpenConns = pickInt(overlay.DBMaxOpenConns, base.DBMaxOpenConns)
	result.DBMaxIdleConns = pickInt(overlay.DBMaxIdleConns, base.DBMaxIdleConns)

	// Booleans: overlay wins if true, else base
	result.StructuredOutput = base.StructuredOutput || overlay.StructuredOutput
	result.AllowUnsafePaths = base.AllowUnsafePaths || overlay.AllowUnsafePaths

	// Arrays: merge and deduplicate
	result.AllowedPaths = mergeStringSlice(base.AllowedPaths, overlay.AllowedPaths)
	result.DisabledTools = mergeStringSlice(base.DisabledTools, overlay.DisabledTools)
	result.DisabledTypes = mergeStringSlice(base.DisabledTypes, overlay.DisabledTypes)

	return result
}

// EffectiveMode returns the analysis mode that will actually run.
// A cloud mode without a credential, a local mode without a usable http(s)
// endpoint, and any unrecognized mode all collapse to heuristic.
func (c *Config) EffectiveMode() string {
	switch c.AnalysisMode {
	case ModeCloudAI:
		if strings.TrimSpace(c.Credential) == "" {
			return ModeHeuristic
		}
		return ModeCloudAI
	case ModeLocalAI:
		if !validEndpoint(c.LocalEndpoint) {
			return ModeHeuristic
		}
		return ModeLocalAI
	default:
		return ModeHeuristic
	}
}

// EffectiveVisionModel returns VisionModel, falling back to Model.
func (c *Config) EffectiveVisionModel() string {
	if c.VisionModel != "" {
		return c.VisionModel
	}
	return c.Model
}

func (c *Config) AITimeout() time.Duration { return ms(c.AITimeoutMs) }
func (c *Config) VisionTimeout() time.Duration { return ms(c.VisionTimeoutMs) }
func (c *Config) FinalizeGrace() time.Duration { return ms(c.FinalizeGraceMs) }
func (c *Config) SettleDelay() time.Duration { return ms(c.SettleDelayMs) }
func (c *Config) ForceClear() time.Duration { return ms(c.ForceClearMs) }

func ms(v int) time.Duration {
	return time.Duration(v) * time.Millisecond
}

func validEndpoint(raw string) bool {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return false
	}
	u, err := url.Parse(raw)
	if err != nil {
		return false
	}
	return (u.Scheme == "http" || u.Scheme == "https") && u.Host != ""
}

func pickString(overlay, base string) string {
	if strings.TrimSpace(overlay) != "" {
		return overlay
	}
	return base
}

func pickInt(overlay, base int) int {
	if overlay != 0 {
		return overlay
	}
	return base
}

// mergeStringSlice combines two slices, trims whitespace, and removes duplicates.
func mergeStringSlice(a, b []string) []string {
	seen := make(map[string]bool)
	result := make([]string, 0, len(a)+len(b))

	for _, s := range a {
		s = strings.TrimSpace(s)
		if s != "" && !seen[s] {
			seen[s] = true
			result = append(result, s)
		}
	}
	for _, s := range b {
		s = strings.TrimSpace(s)
		if s != "" && !seen[s] {
			seen[s] = true
			result = append(result, s)
		}
	}

	if len(result) == 0 {
		return nil
	}
	return result
}
