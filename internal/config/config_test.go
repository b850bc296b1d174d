package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefault(t *testing.T) {
	cfg := Default()
	assert.Equal(t, "https://getir.com", cfg.Providers.Getir.BaseURL)
	assert.Equal(t, "https://www.migros.com.tr/arama", cfg.Providers.Migros.SearchURL)
	assert.Equal(t, ":5000", cfg.Server.Addr)
	assert.False(t, cfg.Browser.Headless)
	assert.Equal(t, 30*time.Second, cfg.Browser.NavigationTimeout())
	assert.Equal(t, 60*time.Second, cfg.LLM.TimeoutDuration())
	assert.NotEmpty(t, cfg.Storage.DatabasePath)
}

func TestLoadFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	yaml := `
workspace: /tmp/fridge-test
browser:
  headless: true
  navigation_timeout_ms: 5000
llm:
  model: some/other-model
server:
  addr: ":8080"
`
	require.NoError(t, os.WriteFile(path, []byte(yaml), 0o644))

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "/tmp/fridge-test", cfg.Workspace)
	assert.True(t, cfg.Browser.Headless)
	assert.Equal(t, 5*time.Second, cfg.Browser.NavigationTimeout())
	assert.Equal(t, "some/other-model", cfg.LLM.Model)
	assert.Equal(t, ":8080", cfg.Server.Addr)
	// Untouched fields keep their defaults.
	assert.Equal(t, "https://getir.com", cfg.Providers.Getir.BaseURL)
}

func TestLoadMissingFileUsesDefaults(t *testing.T) {
	cfg, err := Load(filepath.Join(t.TempDir(), "nope.yaml"))
	require.NoError(t, err)
	assert.Equal(t, ":5000", cfg.Server.Addr)
}

func TestEnvOverrides(t *testing.T) {
	t.Setenv("OPENROUTER_API_KEY", "sk-or-test")
	t.Setenv("OPENROUTER_MODEL", "env/model")
	t.Setenv("HEADLESS", "true")
	t.Setenv("BROWSER_TIMEOUT", "45")
	t.Setenv("FRIDGE_ADDR", ":9999")

	cfg, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, "sk-or-test", cfg.LLM.APIKey)
	assert.Equal(t, "env/model", cfg.LLM.Model)
	assert.True(t, cfg.Browser.Headless)
	assert.Equal(t, 45*time.Second, cfg.Browser.NavigationTimeout())
	assert.Equal(t, ":9999", cfg.Server.Addr)
}

func TestTimeoutDurationFallback(t *testing.T) {
	assert.Equal(t, 60*time.Second, LLMConfig{Timeout: "bogus"}.TimeoutDuration())
	assert.Equal(t, 90*time.Second, LLMConfig{Timeout: "90s"}.TimeoutDuration())
}
