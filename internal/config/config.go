// Package config loads and defaults rewind's config.toml and layers .env
// overrides on top of it, following the teacher's "fill defaults, then log
// what was filled" LoadConfig pattern.
package config

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/BurntSushi/toml"
	"github.com/joho/godotenv"
	"github.com/rs/zerolog/log"
)

// PerceptionConfig tunes C1's sliding window and screenshot rate limiter.
type PerceptionConfig struct {
	WindowSeconds        int `toml:"window_seconds"`
	SweepIntervalSeconds int `toml:"sweep_interval_seconds"`
	ScreenshotIntervalMS int `toml:"screenshot_interval_ms"`
	PHashThreshold       int `toml:"phash_threshold"`
}

// ImageOptimizerConfig tunes C2's compressor and region cropper.
type ImageOptimizerConfig struct {
	CompressionLevel string `toml:"compression_level"` // ultra|aggressive|balanced|quality
	RegionCropEnabled bool   `toml:"region_crop_enabled"`
	RegionCropMargin int    `toml:"region_crop_margin"`
}

// AgentsConfig tunes the periodic timers of C4-C9.
type AgentsConfig struct {
	EventIntervalSeconds            int `toml:"event_interval_seconds"`
	SessionIntervalSeconds          int `toml:"session_interval_seconds"`
	KnowledgeMergeIntervalSeconds   int `toml:"knowledge_merge_interval_seconds"`
	KnowledgeCatchupIntervalSeconds int `toml:"knowledge_catchup_interval_seconds"`
	TodoMergeIntervalSeconds        int `toml:"todo_merge_interval_seconds"`
	MinEventActions                 int `toml:"min_event_actions"`
	MinEventDurationSeconds         int `toml:"min_event_duration_seconds"`
}

// RetentionConfig tunes C10's hard-delete cleanup pass.
type RetentionConfig struct {
	Days int `toml:"days"`
}

// ImageCacheConfig tunes the shared LRU image cache.
type ImageCacheConfig struct {
	Capacity int `toml:"capacity"`
}

// DatabaseConfig locates the embedded store file.
type DatabaseConfig struct {
	Path string `toml:"path"`
}

// LLMConfig configures the provider-agnostic LLM client.
type LLMConfig struct {
	Provider              string `toml:"provider"`
	APIURL                string `toml:"api_url"`
	APIKey                string `toml:"api_key"`
	Model                 string `toml:"model"`
	ConnectTimeoutSeconds int    `toml:"connect_timeout_seconds"`
	ReadTimeoutSeconds    int    `toml:"read_timeout_seconds"`
	MaxRetries            int    `toml:"max_retries"`
}

// OTelConfig configures tracing export.
type OTelConfig struct {
	Enabled     bool   `toml:"enabled"`
	Endpoint    string `toml:"endpoint"`
	ServiceName string `toml:"service_name"`
}

// Config is the root of config.toml (spec.md §6.5).
type Config struct {
	Host          string                `toml:"host"`
	Port          int                   `toml:"port"`
	DataDir       string                `toml:"data_dir"`
	LogLevel      string                `toml:"log_level"`
	LogPath       string                `toml:"log_path"`
	Database      DatabaseConfig        `toml:"database"`
	Perception    PerceptionConfig      `toml:"perception"`
	ImageOptimizer ImageOptimizerConfig `toml:"image_optimizer"`
	Agents        AgentsConfig          `toml:"agents"`
	Retention     RetentionConfig       `toml:"retention"`
	ImageCache    ImageCacheConfig      `toml:"image_cache"`
	LLM           LLMConfig             `toml:"llm"`
	OTel          OTelConfig            `toml:"otel"`
}

// LoadConfig reads path (a config.toml; an empty path means
// $REWIND_DATA_DIR/config.toml, or config.toml in the default data
// directory), fills every unset field with a documented default, and
// overlays a sibling .env file if present. A missing file is not an error.
// Of the defaults it applies, only the data directory is logged.
func LoadConfig(path string) (*Config, error) {
	if path == "" {
		dir := os.Getenv("REWIND_DATA_DIR")
		if dir == "" {
			dir = defaultDataDir()
		}
		path = filepath.Join(dir, "config.toml")
	}
	var cfg Config
	if path != "" {
		if _, err := toml.DecodeFile(path, &cfg); err != nil {
			if !os.IsNotExist(err) {
				return nil, fmt.Errorf("parse config %s: %w", path, err)
			}
			log.Warn().Str("path", path).Msg("config_file_missing_using_defaults")
		}
	}

	applyDefaults(&cfg)

	envPath := filepath.Join(filepath.Dir(path), ".env")
	if path != "" {
		if err := godotenv.Load(envPath); err == nil {
			log.Debug().Str("path", envPath).Msg("env_overlay_loaded")
		}
	}
	applyEnvOverrides(&cfg)

	return &cfg, nil
}

func applyDefaults(cfg *Config) {
	if cfg.DataDir == "" {
		cfg.DataDir = defaultDataDir()
		log.Debug().Str("data_dir", cfg.DataDir).Msg("config_default_applied")
	}
	if cfg.LogLevel == "" {
		cfg.LogLevel = "info"
	}
	if cfg.LogPath == "" {
		cfg.LogPath = filepath.Join(cfg.DataDir, "logs", "rewind.log")
	}
	if cfg.Database.Path == "" {
		cfg.Database.Path = filepath.Join(cfg.DataDir, "rewind.db")
	}
	if cfg.Perception.WindowSeconds == 0 {
		cfg.Perception.WindowSeconds = 20
	}
	if cfg.Perception.SweepIntervalSeconds == 0 {
		cfg.Perception.SweepIntervalSeconds = 5
	}
	if cfg.Perception.ScreenshotIntervalMS == 0 {
		cfg.Perception.ScreenshotIntervalMS = 200
	}
	if cfg.Perception.PHashThreshold == 0 {
		cfg.Perception.PHashThreshold = 5
	}
	if cfg.ImageOptimizer.CompressionLevel == "" {
		cfg.ImageOptimizer.CompressionLevel = "aggressive"
	}
	if cfg.ImageOptimizer.RegionCropMargin == 0 {
		cfg.ImageOptimizer.RegionCropMargin = 16
	}
	if cfg.Agents.EventIntervalSeconds == 0 {
		cfg.Agents.EventIntervalSeconds = 600
	}
	if cfg.Agents.SessionIntervalSeconds == 0 {
		cfg.Agents.SessionIntervalSeconds = 1800
	}
	if cfg.Agents.KnowledgeMergeIntervalSeconds == 0 {
		cfg.Agents.KnowledgeMergeIntervalSeconds = 1200
	}
	if cfg.Agents.KnowledgeCatchupIntervalSeconds == 0 {
		cfg.Agents.KnowledgeCatchupIntervalSeconds = 300
	}
	if cfg.Agents.TodoMergeIntervalSeconds == 0 {
		cfg.Agents.TodoMergeIntervalSeconds = 1200
	}
	if cfg.Agents.MinEventActions == 0 {
		cfg.Agents.MinEventActions = 2
	}
	if cfg.Agents.MinEventDurationSeconds == 0 {
		cfg.Agents.MinEventDurationSeconds = 120
	}
	if cfg.Retention.Days == 0 {
		cfg.Retention.Days = 30
	}
	if cfg.ImageCache.Capacity == 0 {
		cfg.ImageCache.Capacity = 500
	}
	if cfg.LLM.ConnectTimeoutSeconds == 0 {
		cfg.LLM.ConnectTimeoutSeconds = 10
	}
	if cfg.LLM.ReadTimeoutSeconds == 0 {
		cfg.LLM.ReadTimeoutSeconds = 60
	}
	if cfg.LLM.MaxRetries == 0 {
		cfg.LLM.MaxRetries = 2
	}
	if cfg.OTel.ServiceName == "" {
		cfg.OTel.ServiceName = "rewindd"
	}
}

func applyEnvOverrides(cfg *Config) {
	if v := os.Getenv("REWIND_LLM_API_KEY"); v != "" {
		cfg.LLM.APIKey = v
	}
	if v := os.Getenv("OPENAI_API_KEY"); v != "" && cfg.LLM.APIKey == "" {
		cfg.LLM.APIKey = v
	}
	if v := os.Getenv("REWIND_DATA_DIR"); v != "" {
		cfg.DataDir = v
	}
}

func defaultDataDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ".rewind"
	}
	return filepath.Join(home, ".local", "share", "rewind")
}
