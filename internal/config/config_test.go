package config

import (
	"errors"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"cloud.google.com/go/civil"

	"devstatus/internal/domain"
)

func TestLoadConfigFromEnvWithDefaults(t *testing.T) {
	t.Setenv("CONFIG_PATH", filepath.Join(t.TempDir(), "missing-config.yaml"))
	t.Setenv("TIMEZONE", "")
	t.Setenv("STATS_TABLES", "a_stats_daily, b_stats_daily,")

	cfg := LoadConfig()

	if cfg.AWSRegion != "us-east-1" {
		t.Fatalf("unexpected region default: %q", cfg.AWSRegion)
	}
	if cfg.AthenaCatalog != "dynamodb" || cfg.AthenaDatabase != "default" {
		t.Fatalf("unexpected athena context: %q/%q", cfg.AthenaCatalog, cfg.AthenaDatabase)
	}
	if cfg.DBPath != "./devstatus.db" {
		t.Fatalf("unexpected db path default: %q", cfg.DBPath)
	}
	if cfg.Thresholds != domain.DefaultThresholds {
		t.Fatalf("unexpected thresholds: %+v", cfg.Thresholds)
	}
	if len(cfg.StatsTables) != 2 || cfg.StatsTables[1] != "b_stats_daily" {
		t.Fatalf("unexpected stats tables: %v", cfg.StatsTables)
	}
	if cfg.MaxParallelGroups != 4 {
		t.Fatalf("unexpected max parallel groups: %d", cfg.MaxParallelGroups)
	}
	if cfg.Location == nil || cfg.Location.String() != "UTC" {
		t.Fatalf("unexpected location: %v", cfg.Location)
	}
	if cfg.SlackConfigured() {
		t.Fatal("slack should not be configured")
	}
}

func TestLoadConfigYAMLAndEnvOverride(t *testing.T) {
	cfgPath := filepath.Join(t.TempDir(), "config.yaml")
	content := `
slack_bot_token: "yaml-bot"
slack_app_token: "yaml-app"
athena_output_location: "s3://yaml-bucket/"
submit_queries: true
threshold_variant: "8/9/38"
stats_tables:
  - one_stats_daily
  - two_stats_daily
timezone: "America/Chicago"
team_name: "YAML Fleet"
`
	if err := os.WriteFile(cfgPath, []byte(content), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}
	t.Setenv("CONFIG_PATH", cfgPath)
	t.Setenv("TEAM_NAME", "Env Fleet")
	t.Setenv("YELLOW_MAX_DAYS", "45")

	cfg := LoadConfig()

	if !cfg.SlackConfigured() {
		t.Fatal("expected slack to be configured")
	}
	if cfg.TeamName != "Env Fleet" {
		t.Fatalf("expected env override for team name, got %q", cfg.TeamName)
	}
	want := domain.Thresholds{GreenMaxDays: 8, YellowMaxDays: 45}
	if cfg.Thresholds != want {
		t.Fatalf("thresholds = %+v, want %+v", cfg.Thresholds, want)
	}
	if len(cfg.StatsTables) != 2 || cfg.StatsTables[0] != "one_stats_daily" {
		t.Fatalf("unexpected stats tables: %v", cfg.StatsTables)
	}
	if cfg.Location.String() != "America/Chicago" {
		t.Fatalf("unexpected location: %v", cfg.Location)
	}
}

func validConfig() Config {
	cfg := Config{Timezone: "UTC"}
	applyDefaults(&cfg)
	return cfg
}

func TestValidateRejects(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
		want   string
	}{
		{"unknown variant", func(c *Config) { c.ThresholdVariant = "1/2/3" }, "threshold_variant"},
		{"partial slack", func(c *Config) { c.SlackBotToken = "xoxb" }, "partial Slack config"},
		{"submit without s3", func(c *Config) { c.SubmitQueries = true; c.AthenaOutputLocation = "/tmp/out" }, "athena_output_location"},
		{"llm without key", func(c *Config) { c.LLMSummaryEnabled = true }, "anthropic_api_key"},
		{"bad reference date", func(c *Config) { c.ReferenceDate = "15/03/2024" }, "reference_date"},
		{"bad timezone", func(c *Config) { c.Timezone = "Mars/Olympus" }, "invalid timezone"},
		{"bad parallelism", func(c *Config) { c.MaxParallelGroups = -1 }, "max_parallel_groups"},
		{"bad timeout", func(c *Config) { c.ExternalHTTPTimeoutSeconds = 2 }, "external_http_timeout_seconds"},
	}
	for _, tt := range tests {
		cfg := validConfig()
		tt.mutate(&cfg)
		err := Validate(&cfg)
		if err == nil || !strings.Contains(err.Error(), tt.want) {
			t.Fatalf("%s: Validate() = %v, want error containing %q", tt.name, err, tt.want)
		}
	}
}

func TestValidateRejectsInvertedThresholds(t *testing.T) {
	cfg := validConfig()
	green := 40
	cfg.GreenMaxDays = &green
	if err := Validate(&cfg); !errors.Is(err, domain.ErrInvalidThresholds) {
		t.Fatalf("expected ErrInvalidThresholds, got %v", err)
	}
}

func TestLoadConfigAcceptsZeroGreenDays(t *testing.T) {
	cfgPath := filepath.Join(t.TempDir(), "config.yaml")
	content := `
timezone: "UTC"
green_max_days: 0
yellow_max_days: 30
`
	if err := os.WriteFile(cfgPath, []byte(content), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}
	t.Setenv("CONFIG_PATH", cfgPath)
	t.Setenv("GREEN_MAX_DAYS", "")
	t.Setenv("YELLOW_MAX_DAYS", "")

	cfg := LoadConfig()
	want := domain.Thresholds{GreenMaxDays: 0, YellowMaxDays: 30}
	if cfg.Thresholds != want {
		t.Fatalf("thresholds = %+v, want %+v", cfg.Thresholds, want)
	}
}

func TestEnvZeroGreenDaysOverridesVariant(t *testing.T) {
	t.Setenv("CONFIG_PATH", filepath.Join(t.TempDir(), "missing-config.yaml"))
	t.Setenv("THRESHOLD_VARIANT", "8/9/38")
	t.Setenv("GREEN_MAX_DAYS", "0")
	t.Setenv("YELLOW_MAX_DAYS", "")

	cfg := LoadConfig()
	want := domain.Thresholds{GreenMaxDays: 0, YellowMaxDays: 38}
	if cfg.Thresholds != want {
		t.Fatalf("thresholds = %+v, want %+v", cfg.Thresholds, want)
	}
}

func TestToday(t *testing.T) {
	cfg := validConfig()
	if err := Validate(&cfg); err != nil {
		t.Fatalf("Validate failed: %v", err)
	}
	now := time.Date(2024, 3, 15, 23, 30, 0, 0, time.UTC)
	if got := cfg.Today(now); got != (civil.Date{Year: 2024, Month: time.March, Day: 15}) {
		t.Fatalf("Today() = %s", got)
	}

	cfg.ReferenceDate = "2024-01-02"
	if got := cfg.Today(now); got.String() != "2024-01-02" {
		t.Fatalf("pinned Today() = %s", got)
	}
}

func TestLoadConfigInvalidIntEnvExits(t *testing.T) {
	if os.Getenv("DEVSTATUS_CONFIG_SUBPROCESS") == "1" {
		t.Setenv("CONFIG_PATH", filepath.Join(t.TempDir(), "missing.yaml"))
		t.Setenv("GREEN_MAX_DAYS", "seven")
		_ = LoadConfig()
		return
	}

	cmd := exec.Command(os.Args[0], "-test.run=TestLoadConfigInvalidIntEnvExits")
	cmd.Env = append(os.Environ(), "DEVSTATUS_CONFIG_SUBPROCESS=1")
	err := cmd.Run()
	var exitErr *exec.ExitError
	if !errors.As(err, &exitErr) {
		t.Fatalf("expected subprocess to exit with failure, got %v", err)
	}
}
