package cmd

import (
	"bufio"
	"fmt"
	"os"
	"sort"
	"strings"

	"github.com/urfave/cli/v2"

	"github.com/shipbot/internal/config"
)

// EnvCommand returns the command that checks the deployment environment.
func EnvCommand() *cli.Command {
	return &cli.Command{
		Name:  "env",
		Usage: "Inspect the deployment environment",
		Subcommands: []*cli.Command{
			{
				Name:  "check",
				Usage: "Check that secrets and endpoints are configured",
				Flags: []cli.Flag{
					&cli.StringFlag{
						Name:  "env-file",
						Usage: "Load environment variables from `FILE` first",
					},
				},
				Action: runEnvCheck,
			},
		},
	}
}

func runEnvCheck(c *cli.Context) error {
	if path := c.String("env-file"); path != "" {
		if err := LoadEnvFile(path); err != nil {
			return fmt.Errorf("failed to load %s: %w", path, err)
		}
	}
	cfg, err := config.LoadConfig(c.String("config"))
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}
	result := CheckRequiredConfig(cfg)
	PrintConfigCheck(result)
	if len(result.Missing) > 0 {
		return fmt.Errorf("%d required settings are missing", len(result.Missing))
	}
	return nil
}

// ConfigCheckResult holds the result of configuration validation
type ConfigCheckResult struct {
	Missing  []string          // Required settings that are missing
	Present  map[string]string // Settings that are set (masked values)
	Warnings []string          // Non-fatal warnings
	Mode     string            // "river" with a database, "local" without
}

// CheckRequiredConfig checks the secrets and endpoints of a loaded
// configuration, wherever they came from (file or SHIPBOT_ variables).
func CheckRequiredConfig(cfg *config.Config) *ConfigCheckResult {
	result := &ConfigCheckResult{
		Missing:  []string{},
		Present:  make(map[string]string),
		Warnings: []string{},
		Mode:     "local",
	}

	check := func(key, val string, required bool) {
		switch {
		case val != "":
			result.Present[key] = maskSecret(val)
		case required:
			result.Missing = append(result.Missing, key)
		}
	}

	check(fmt.Sprintf("providers.%s.token", cfg.General.Provider), cfg.ProviderString("token"), true)
	check("api.runner_secret", cfg.API.RunnerSecret, cfg.Runner.URL != "")
	check("database.url", cfg.Database.URL, false)
	check("api.webhook_secret", cfg.API.WebhookSecret, false)

	if cfg.Database.URL != "" {
		result.Mode = "river"
	} else {
		result.Warnings = append(result.Warnings, "no database.url: talks are kept in memory and lost on restart")
	}
	if cfg.API.WebhookSecret == "" {
		result.Warnings = append(result.Warnings, "no api.webhook_secret: webhook deliveries are not authenticated")
	}
	if cfg.Runner.URL == "" {
		result.Warnings = append(result.Warnings, "no runner.url: requests are never dispatched")
	}

	return result
}

// PrintConfigCheck prints the configuration check results
func PrintConfigCheck(result *ConfigCheckResult) {
	fmt.Println("=== Configuration Check ===")
	fmt.Printf("Mode: %s\n", result.Mode)
	fmt.Println("")

	if len(result.Missing) > 0 {
		fmt.Println("❌ Missing required settings:")
		for _, v := range result.Missing {
			fmt.Printf("   - %s\n", v)
		}
		fmt.Println("")
	}

	if len(result.Present) > 0 {
		keys := make([]string, 0, len(result.Present))
		for k := range result.Present {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		fmt.Println("✓ Configured settings:")
		for _, k := range keys {
			fmt.Printf("   - %s = %s\n", k, result.Present[k])
		}
		fmt.Println("")
	}

	for _, w := range result.Warnings {
		fmt.Printf("⚠ Warning: %s\n", w)
	}

	if len(result.Missing) == 0 {
		fmt.Println("✓ All required configuration is present")
	}

	fmt.Println("============================")
}

// maskSecret masks a secret value for display, showing only first and last 2 chars
func maskSecret(value string) string {
	if len(value) <= 8 {
		return "****"
	}
	return value[:2] + "****" + value[len(value)-2:]
}

// LoadEnvFile loads environment variables from a file, overwriting existing ones.
func LoadEnvFile(filename string) error {
	file, err := os.Open(filename)
	if err != nil {
		return err
	}
	defer file.Close()

	scanner := bufio.NewScanner(file)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		line = strings.TrimPrefix(line, "export ")

		key, value, ok := strings.Cut(line, "=")
		if !ok {
			continue
		}
		key = strings.TrimSpace(key)
		value = strings.TrimSpace(value)

		// Remove quotes if present
		if len(value) >= 2 && ((value[0] == '"' && value[len(value)-1] == '"') || (value[0] == '\'' && value[len(value)-1] == '\'')) {
			value = value[1 : len(value)-1]
		}

		if err := os.Setenv(key, value); err != nil {
			return fmt.Errorf("failed to set env var %s: %w", key, err)
		}
	}

	return scanner.Err()
}
