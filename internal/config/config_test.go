package config

import (
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestInitAndLoad(t *testing.T) {
	path := filepath.Join(t.TempDir(), "shipbot.toml")
	require.NoError(t, InitConfig(path))
	assert.Error(t, InitConfig(path), "refuses to overwrite")

	cfg, err := LoadConfig(path)
	require.NoError(t, err)
	assert.Equal(t, "shipbot", cfg.General.Self)
	assert.Equal(t, "https://shipbot.example.com", cfg.General.Home)
	assert.Equal(t, "your-github-token", cfg.ProviderString("token"))
	assert.Equal(t, 5, cfg.Answer.Ceiling)
	assert.Equal(t, 30*time.Second, cfg.Runner.Timeout)
	assert.Equal(t, "1m", cfg.Engine["interval"])
	assert.Equal(t, "talk_logs", cfg.Log.Dir, "default kept")
	require.NoError(t, Validate(cfg))
}

func TestEnvOverrides(t *testing.T) {
	path := filepath.Join(t.TempDir(), "shipbot.toml")
	require.NoError(t, InitConfig(path))
	t.Setenv("SHIPBOT_API__RUNNER_SECRET", "from-env")
	t.Setenv("SHIPBOT_GENERAL__SELF", "releasebot")

	cfg, err := LoadConfig(path)
	require.NoError(t, err)
	assert.Equal(t, "from-env", cfg.API.RunnerSecret)
	assert.Equal(t, "releasebot", cfg.General.Self)
}

func TestDefaultsWithoutFile(t *testing.T) {
	cfg, err := LoadConfig(filepath.Join(t.TempDir(), "missing.toml"))
	require.NoError(t, err)
	assert.Equal(t, "github", cfg.General.Provider)
	assert.Equal(t, 8080, cfg.API.Port)
	assert.Error(t, Validate(cfg), "no provider section")
}

func TestValidate(t *testing.T) {
	valid := func() *Config {
		cfg := &Config{}
		cfg.General.Self = "shipbot"
		cfg.General.Provider = "gitlab"
		cfg.Providers = map[string]map[string]interface{}{
			"gitlab": {"url": "https://gitlab.example.com", "token": "glpat"},
		}
		cfg.Answer.Ceiling = 5
		return cfg
	}
	require.NoError(t, Validate(valid()))

	tests := []struct {
		name   string
		mutate func(*Config)
	}{
		{"no self", func(c *Config) { c.General.Self = "" }},
		{"unknown provider", func(c *Config) {
			c.General.Provider = "bitbucket"
			c.Providers["bitbucket"] = map[string]interface{}{}
		}},
		{"gitlab without url", func(c *Config) { delete(c.Providers["gitlab"], "url") }},
		{"zero ceiling", func(c *Config) { c.Answer.Ceiling = 0 }},
		{"runner without secret", func(c *Config) { c.Runner.URL = "http://runner" }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := valid()
			tt.mutate(cfg)
			assert.Error(t, Validate(cfg))
		})
	}
}
