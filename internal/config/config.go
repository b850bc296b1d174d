// Package config loads the agent configuration from YAML with environment
// variable overrides. Defaults are usable out of the box; a config file is
// only needed to change provider URLs or tuning knobs.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Config holds all fridge-order-agent configuration.
type Config struct {
	// Workspace is the root directory for sessions, logs, and the database.
	Workspace string `yaml:"workspace"`

	Providers ProvidersConfig `yaml:"providers"`
	Browser   BrowserConfig   `yaml:"browser"`
	LLM       LLMConfig       `yaml:"llm"`
	Storage   StorageConfig   `yaml:"storage"`
	Server    ServerConfig    `yaml:"server"`
	Logging   LoggingConfig   `yaml:"logging"`
}

// ProvidersConfig holds per-storefront base URLs.
type ProvidersConfig struct {
	Getir  ProviderConfig `yaml:"getir"`
	Migros ProviderConfig `yaml:"migros"`
	Akbal  ProviderConfig `yaml:"akbal"`
}

// ProviderConfig describes one storefront.
type ProviderConfig struct {
	BaseURL   string `yaml:"base_url"`
	SearchURL string `yaml:"search_url"`
}

// BrowserConfig configures the rod browser bootstrap.
type BrowserConfig struct {
	Headless            bool   `yaml:"headless"`
	ChromeBin           string `yaml:"chrome_bin"`
	ViewportWidth       int    `yaml:"viewport_width"`
	ViewportHeight      int    `yaml:"viewport_height"`
	NavigationTimeoutMs int    `yaml:"navigation_timeout_ms"`
	// SessionDir stores one serialized session blob per provider.
	SessionDir string `yaml:"session_dir"`
	UserAgent  string `yaml:"user_agent"`
	Locale     string `yaml:"locale"`
	TimezoneID string `yaml:"timezone_id"`
}

// NavigationTimeout returns the navigation timeout as a duration.
func (c BrowserConfig) NavigationTimeout() time.Duration {
	if c.NavigationTimeoutMs <= 0 {
		return 30 * time.Second
	}
	return time.Duration(c.NavigationTimeoutMs) * time.Millisecond
}

// LLMConfig configures the reasoning service client.
type LLMConfig struct {
	APIKey    string `yaml:"api_key"`
	BaseURL   string `yaml:"base_url"`
	Model     string `yaml:"model"`
	Timeout   string `yaml:"timeout"`
	MaxTokens int    `yaml:"max_tokens"`
	// Referer/Title identify the app to OpenRouter rankings.
	SiteURL  string `yaml:"site_url"`
	SiteName string `yaml:"site_name"`
}

// TimeoutDuration parses the timeout, defaulting to 60s.
func (c LLMConfig) TimeoutDuration() time.Duration {
	if c.Timeout == "" {
		return 60 * time.Second
	}
	d, err := time.ParseDuration(c.Timeout)
	if err != nil || d <= 0 {
		return 60 * time.Second
	}
	return d
}

// StorageConfig configures the SQLite store.
type StorageConfig struct {
	DatabasePath string `yaml:"database_path"`
}

// ServerConfig configures the HTTP surface.
type ServerConfig struct {
	Addr string `yaml:"addr"`
}

// LoggingConfig configures the category file logger.
type LoggingConfig struct {
	Debug bool `yaml:"debug"`
}

// Default returns the baked-in defaults.
func Default() Config {
	home, _ := os.UserHomeDir()
	workspace := filepath.Join(home, ".fridge-order-agent")
	return Config{
		Workspace: workspace,
		Providers: ProvidersConfig{
			Getir: ProviderConfig{
				BaseURL:   "https://getir.com",
				SearchURL: "https://getir.com/arama",
			},
			Migros: ProviderConfig{
				BaseURL:   "https://www.migros.com.tr",
				SearchURL: "https://www.migros.com.tr/arama",
			},
			Akbal: ProviderConfig{
				BaseURL:   "https://www.akbalmarket.com.tr",
				SearchURL: "https://www.akbalmarket.com.tr/catalogsearch/result/",
			},
		},
		Browser: BrowserConfig{
			Headless:            false,
			ViewportWidth:       1920,
			ViewportHeight:      1080,
			NavigationTimeoutMs: 30000,
			SessionDir:          filepath.Join(workspace, "sessions"),
			UserAgent:           "Mozilla/5.0 (Macintosh; Intel Mac OS X 10_15_7) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/120.0.0.0 Safari/537.36",
			Locale:              "tr-TR",
			TimezoneID:          "Europe/Istanbul",
		},
		LLM: LLMConfig{
			BaseURL:   "https://openrouter.ai/api/v1",
			Model:     "meta-llama/llama-3.1-405b-instruct:free",
			Timeout:   "60s",
			MaxTokens: 500,
			SiteURL:   "https://github.com/atakdnz/fridge-order-agent",
			SiteName:  "FridgeOrderAgent",
		},
		Storage: StorageConfig{
			DatabasePath: filepath.Join(workspace, "fridge.db"),
		},
		Server: ServerConfig{
			Addr: ":5000",
		},
	}
}

// Load reads the config file at path (if it exists), merges it over the
// defaults, and applies environment overrides. An empty path loads
// defaults + env only.
func Load(path string) (Config, error) {
	cfg := Default()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			if !os.IsNotExist(err) {
				return cfg, fmt.Errorf("read config %s: %w", path, err)
			}
		} else if err := yaml.Unmarshal(data, &cfg); err != nil {
			return cfg, fmt.Errorf("parse config %s: %w", path, err)
		}
	}

	cfg.applyEnvOverrides()

	if cfg.Browser.SessionDir == "" {
		cfg.Browser.SessionDir = filepath.Join(cfg.Workspace, "sessions")
	}
	if cfg.Storage.DatabasePath == "" {
		cfg.Storage.DatabasePath = filepath.Join(cfg.Workspace, "fridge.db")
	}
	return cfg, nil
}

func (c *Config) applyEnvOverrides() {
	if key := os.Getenv("OPENROUTER_API_KEY"); key != "" {
		c.LLM.APIKey = key
	}
	if model := os.Getenv("OPENROUTER_MODEL"); model != "" {
		c.LLM.Model = model
	}
	if url := os.Getenv("OPENROUTER_BASE_URL"); url != "" {
		c.LLM.BaseURL = url
	}
	if db := os.Getenv("FRIDGE_DB"); db != "" {
		c.Storage.DatabasePath = db
	}
	if ws := os.Getenv("FRIDGE_WORKSPACE"); ws != "" {
		c.Workspace = ws
	}
	if addr := os.Getenv("FRIDGE_ADDR"); addr != "" {
		c.Server.Addr = addr
	}
	if v := os.Getenv("HEADLESS"); v != "" {
		c.Browser.Headless = strings.EqualFold(v, "true") || v == "1"
	}
	if v := os.Getenv("BROWSER_TIMEOUT"); v != "" {
		if secs, err := strconv.Atoi(v); err == nil && secs > 0 {
			c.Browser.NavigationTimeoutMs = secs * 1000
		}
	}
	if v := os.Getenv("FRIDGE_DEBUG"); v != "" {
		c.Logging.Debug = strings.EqualFold(v, "true") || v == "1"
	}
}
