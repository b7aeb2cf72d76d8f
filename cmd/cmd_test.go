package cmd

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/shipbot/internal/config"
)

func TestCheckRequiredConfig(t *testing.T) {
	cfg := &config.Config{}
	cfg.General.Provider = "github"
	cfg.Providers = map[string]map[string]interface{}{"github": {"token": "ghp_abcdefghijkl"}}
	cfg.Runner.URL = "https://runner.example.com"

	result := CheckRequiredConfig(cfg)
	assert.Equal(t, []string{"api.runner_secret"}, result.Missing)
	assert.Equal(t, "gh****kl", result.Present["providers.github.token"])
	assert.Equal(t, "local", result.Mode)
	assert.Len(t, result.Warnings, 2)

	cfg.API.RunnerSecret = "s"
	cfg.Database.URL = "postgres://localhost/shipbot"
	result = CheckRequiredConfig(cfg)
	assert.Empty(t, result.Missing)
	assert.Equal(t, "****", result.Present["api.runner_secret"])
	assert.Equal(t, "river", result.Mode)
}

func TestLoadEnvFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), ".env")
	require.NoError(t, os.WriteFile(path, []byte("# comment\nexport SHIPBOT_TEST_A=\"one\"\nSHIPBOT_TEST_B='two'\nbroken\n"), 0o644))
	t.Setenv("SHIPBOT_TEST_A", "")
	t.Setenv("SHIPBOT_TEST_B", "")

	require.NoError(t, LoadEnvFile(path))
	assert.Equal(t, "one", os.Getenv("SHIPBOT_TEST_A"))
	assert.Equal(t, "two", os.Getenv("SHIPBOT_TEST_B"))

	assert.Error(t, LoadEnvFile(filepath.Join(t.TempDir(), "missing")))
}

func TestMaskSecret(t *testing.T) {
	assert.Equal(t, "****", maskSecret("short"))
	assert.Equal(t, "ab****yz", maskSecret("abcdefghijxyz"))
}
