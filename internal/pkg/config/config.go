package config

import (
	"os"
	"regexp"
	"strings"

	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/v2"
)

type Config struct {
	Compiler  CompilerConfig  `koanf:"compiler"`
	Images    ImagesConfig    `koanf:"images"`
	Files     FilesConfig     `koanf:"files"`
	Models    ModelsConfig    `koanf:"models"`
	Storage   StorageConfig   `koanf:"storage"`
	Logging   LoggingConfig   `koanf:"logging"`
	Telemetry TelemetryConfig `koanf:"telemetry"`
}

type CompilerConfig struct {
	// ToolPolicy selects how assistant tool blocks are emitted:
	// prefer_result, independent or replay.
	ToolPolicy     string `koanf:"tool_policy"`
	MaxConcurrency int    `koanf:"max_concurrency"` // Per-message block materialization limit
}

type ImagesConfig struct {
	InlineRemote bool   `koanf:"inline_remote"` // Fetch http(s) images and embed them as base64
	MaxSize      int64  `koanf:"max_size"`      // Maximum fetched image size in bytes
	FetchTimeout string `koanf:"fetch_timeout"` // Duration string like "30s"
}

type FilesConfig struct {
	MaxInlineSize  int64 `koanf:"max_inline_size"`  // Largest document embedded natively
	MaxExtractSize int64 `koanf:"max_extract_size"` // Largest document read for text extraction
}

// ModelsConfig holds the model capability tables. Empty tables use the
// built-in defaults.
type ModelsConfig struct {
	Vision           MatcherConfig    `koanf:"vision"`
	ImageEnhancement MatcherConfig    `koanf:"image_enhancement"`
	NativeFiles      []NativeFileRule `koanf:"native_files"`
}

type MatcherConfig struct {
	Prefixes []string `koanf:"prefixes"`
	Exact    []string `koanf:"exact"`
	Patterns []string `koanf:"patterns"` // Regular expressions, matched case-insensitively
}

// IsZero reports whether no rule is configured.
func (m MatcherConfig) IsZero() bool {
	return len(m.Prefixes) == 0 && len(m.Exact) == 0 && len(m.Patterns) == 0
}

type NativeFileRule struct {
	Match      MatcherConfig `koanf:"match"`
	Mode       string        `koanf:"mode"`        // inline or handle
	MediaTypes []string      `koanf:"media_types"` // Empty means any media type
}

type StorageConfig struct {
	Type   string       `koanf:"type"` // sqlite, json
	SQLite SQLiteConfig `koanf:"sqlite"`
}

type SQLiteConfig struct {
	Path string `koanf:"path"`
}

type LoggingConfig struct {
	Level  string `koanf:"level"`  // debug, info, warn, error
	Format string `koanf:"format"` // json, text
}

type TelemetryConfig struct {
	Enabled     bool   `koanf:"enabled"`
	ServiceName string `koanf:"service_name"`
}

var envVarPattern = regexp.MustCompile(`\$\{([^}]+)\}`)

// Load reads config.yaml from the working directory, then POLY_ environment
// variables.
func Load() (*Config, error) {
	return LoadFile("config.yaml")
}

// LoadFile reads the given YAML file (if present), then POLY_ environment
// variables, which override file values.
func LoadFile(path string) (*Config, error) {
	k := koanf.New(".")

	if path != "" {
		if err := k.Load(file.Provider(path), yaml.Parser()); err != nil {
			// File not found is OK, we'll use env vars
			if !os.IsNotExist(err) {
				return nil, err
			}
		}
	}

	// Load environment variables (can override file config)
	if err := k.Load(env.Provider("POLY_", ".", func(s string) string {
		return strings.Replace(strings.ToLower(strings.TrimPrefix(s, "POLY_")), "__", ".", -1)
	}), nil); err != nil {
		return nil, err
	}

	setDefaults(k)

	var cfg Config
	if err := k.Unmarshal("", &cfg); err != nil {
		return nil, err
	}

	cfg.Storage.SQLite.Path = substituteEnvVars(cfg.Storage.SQLite.Path)

	return &cfg, nil
}

func setDefaults(k *koanf.Koanf) {
	defaults := map[string]any{
		"compiler.tool_policy":     "prefer_result",
		"compiler.max_concurrency": 4,
		"images.max_size":          20 * 1024 * 1024,
		"images.fetch_timeout":     "30s",
		"files.max_inline_size":    32 * 1024 * 1024,
		"files.max_extract_size":   8 * 1024 * 1024,
		"storage.type":             "json",
		"logging.level":            "info",
		"logging.format":           "json",
		"telemetry.service_name":   "polyglot-chat-compiler",
	}
	for key, value := range defaults {
		if !k.Exists(key) {
			k.Set(key, value)
		}
	}
}

func substituteEnvVars(s string) string {
	return envVarPattern.ReplaceAllStringFunc(s, func(match string) string {
		// Extract variable name from ${VAR_NAME}
		varName := envVarPattern.FindStringSubmatch(match)[1]
		return os.Getenv(varName)
	})
}
