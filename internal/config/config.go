package config

import (
	"fmt"
	"log"
	"os"
	"strconv"
	"strings"
	"time"

	"cloud.google.com/go/civil"
	"gopkg.in/yaml.v3"

	"devstatus/internal/domain"
)

const defaultExternalHTTPTimeoutSeconds = 60

var defaultStatsTables = []string{
	"mi_dev_spi_moe_mo1_stats_daily",
	"mi_dev_onegascom_kgsuti_kgsdg_stats_daily",
	"mi_dev_onegascom_onguti_ongdg_stats_daily",
	"mi_dev_onegascom_tgsuti_tgsdg_stats_daily",
	"mi_dev_spi_alb_ala_stats_daily",
	"mi_dev_spi_mow_mow_stats_daily",
	"mi_dev_spi_sput_spiredg_stats_daily",
}

type Config struct {
	SlackBotToken string `yaml:"slack_bot_token"`
	SlackAppToken string `yaml:"slack_app_token"`

	AWSRegion            string   `yaml:"aws_region"`
	AthenaCatalog        string   `yaml:"athena_catalog"`
	AthenaDatabase       string   `yaml:"athena_database"`
	AthenaWorkGroup      string   `yaml:"athena_workgroup"`
	AthenaOutputLocation string   `yaml:"athena_output_location"`
	DevicesTable         string   `yaml:"devices_table"`
	CommissionDatesTable string   `yaml:"commission_dates_table"`
	StatsTables          []string `yaml:"stats_tables"`
	SubmitQueries        bool     `yaml:"submit_queries"`
	// PerDeviceQueries makes the Athena queries return one row per device.
	PerDeviceQueries     bool     `yaml:"per_device_queries"`

	// ThresholdVariant selects a preset ("7/8/37" or "8/9/38"); the explicit
	// day fields below override it when set, including to 0.
	ThresholdVariant             string `yaml:"threshold_variant"`
	GreenMaxDays                 *int   `yaml:"green_max_days"`
	YellowMaxDays                *int   `yaml:"yellow_max_days"`
	IgnorePreCommissionTelemetry bool   `yaml:"ignore_pre_commission_telemetry"`
	// ReferenceDate pins the "as of" date (YYYY-MM-DD). Empty means today in Timezone.
	ReferenceDate string `yaml:"reference_date"`

	DBPath                     string `yaml:"db_path"`
	InventoryPath              string `yaml:"inventory_path"`
	ReportOutputDir            string `yaml:"report_output_dir"`
	ReportChannelID            string `yaml:"report_channel_id"`
	StatusSchedule             string `yaml:"status_schedule"`
	MaxParallelGroups          int    `yaml:"max_parallel_groups"`
	ExternalHTTPTimeoutSeconds int    `yaml:"external_http_timeout_seconds"`

	LLMSummaryEnabled bool   `yaml:"llm_summary_enabled"`
	LLMModel          string `yaml:"llm_model"`
	AnthropicAPIKey   string `yaml:"anthropic_api_key"`

	// Timezone decides which calendar day "today" is. Telemetry timestamps are
	// truncated to UTC days (here and in the generated SQL), so any zone other
	// than the default UTC can shift ages by one day around midnight.
	Timezone string `yaml:"timezone"`
	TeamName string `yaml:"team_name"`

	Thresholds domain.Thresholds `yaml:"-"` // resolved from ThresholdVariant and day overrides
	Location   *time.Location    `yaml:"-"` // computed from Timezone, not from YAML
}

func LoadConfig() Config {
	var cfg Config

	configPath := "config.yaml"
	if envPath := os.Getenv("CONFIG_PATH"); envPath != "" {
		configPath = envPath
	}
	if data, err := os.ReadFile(configPath); err == nil {
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			log.Fatalf("Error parsing %s: %v", configPath, err)
		}
		log.Printf("Loaded config from %s", configPath)
	}

	envOverride(&cfg.SlackBotToken, "SLACK_BOT_TOKEN")
	envOverride(&cfg.SlackAppToken, "SLACK_APP_TOKEN")
	envOverride(&cfg.AWSRegion, "AWS_REGION")
	envOverride(&cfg.AthenaCatalog, "ATHENA_CATALOG")
	envOverride(&cfg.AthenaDatabase, "ATHENA_DATABASE")
	envOverrideAllowEmpty(&cfg.AthenaWorkGroup, "ATHENA_WORKGROUP")
	envOverride(&cfg.AthenaOutputLocation, "ATHENA_OUTPUT_LOCATION")
	envOverride(&cfg.DevicesTable, "DEVICES_TABLE")
	envOverride(&cfg.CommissionDatesTable, "COMMISSION_DATES_TABLE")
	envOverrideList(&cfg.StatsTables, "STATS_TABLES")
	envOverrideBool(&cfg.SubmitQueries, "SUBMIT_QUERIES")
	envOverrideBool(&cfg.PerDeviceQueries, "PER_DEVICE_QUERIES")
	envOverride(&cfg.ThresholdVariant, "THRESHOLD_VARIANT")
	envOverrideIntPtr(&cfg.GreenMaxDays, "GREEN_MAX_DAYS")
	envOverrideIntPtr(&cfg.YellowMaxDays, "YELLOW_MAX_DAYS")
	envOverrideBool(&cfg.IgnorePreCommissionTelemetry, "IGNORE_PRE_COMMISSION_TELEMETRY")
	envOverrideAllowEmpty(&cfg.ReferenceDate, "REFERENCE_DATE")
	envOverride(&cfg.DBPath, "DB_PATH")
	envOverride(&cfg.InventoryPath, "INVENTORY_PATH")
	envOverride(&cfg.ReportOutputDir, "REPORT_OUTPUT_DIR")
	envOverride(&cfg.ReportChannelID, "REPORT_CHANNEL_ID")
	envOverrideAllowEmpty(&cfg.StatusSchedule, "STATUS_SCHEDULE")
	envOverrideInt(&cfg.MaxParallelGroups, "MAX_PARALLEL_GROUPS")
	envOverrideInt(&cfg.ExternalHTTPTimeoutSeconds, "EXTERNAL_HTTP_TIMEOUT_SECONDS")
	envOverrideBool(&cfg.LLMSummaryEnabled, "LLM_SUMMARY_ENABLED")
	envOverride(&cfg.LLMModel, "LLM_MODEL")
	envOverride(&cfg.AnthropicAPIKey, "ANTHROPIC_API_KEY")
	envOverride(&cfg.Timezone, "TIMEZONE")
	envOverride(&cfg.TeamName, "TEAM_NAME")

	applyDefaults(&cfg)
	if err := Validate(&cfg); err != nil {
		log.Fatalf("%v", err)
	}
	return cfg
}

func applyDefaults(cfg *Config) {
	if cfg.AWSRegion == "" {
		cfg.AWSRegion = "us-east-1"
	}
	if cfg.AthenaCatalog == "" {
		cfg.AthenaCatalog = "dynamodb"
	}
	if cfg.AthenaDatabase == "" {
		cfg.AthenaDatabase = "default"
	}
	if cfg.DevicesTable == "" {
		cfg.DevicesTable = "custexp_list_devices"
	}
	if cfg.CommissionDatesTable == "" {
		cfg.CommissionDatesTable = "custexp_commission_dates"
	}
	if len(cfg.StatsTables) == 0 {
		cfg.StatsTables = append([]string(nil), defaultStatsTables...)
	}
	if cfg.ThresholdVariant == "" {
		cfg.ThresholdVariant = domain.DefaultThresholds.String()
	}
	if cfg.DBPath == "" {
		cfg.DBPath = "./devstatus.db"
	}
	if cfg.ReportOutputDir == "" {
		cfg.ReportOutputDir = "./reports"
	}
	if cfg.MaxParallelGroups == 0 {
		cfg.MaxParallelGroups = 4
	}
	if cfg.ExternalHTTPTimeoutSeconds == 0 {
		cfg.ExternalHTTPTimeoutSeconds = defaultExternalHTTPTimeoutSeconds
	}
	if cfg.LLMModel == "" {
		cfg.LLMModel = "claude-sonnet-4-5"
	}
	if cfg.Timezone == "" {
		cfg.Timezone = "UTC"
	}
	if cfg.TeamName == "" {
		cfg.TeamName = "Device Fleet"
	}
}

// Validate resolves computed fields (Thresholds, Location) and rejects
// inconsistent settings.
func Validate(cfg *Config) error {
	th, err := resolveThresholds(cfg.ThresholdVariant, cfg.GreenMaxDays, cfg.YellowMaxDays)
	if err != nil {
		return err
	}
	cfg.Thresholds = th

	if strings.EqualFold(cfg.Timezone, "Local") {
		cfg.Location = time.Local
	} else {
		loc, err := time.LoadLocation(cfg.Timezone)
		if err != nil {
			return fmt.Errorf("invalid timezone '%s': %v", cfg.Timezone, err)
		}
		cfg.Location = loc
	}

	if cfg.ReferenceDate != "" {
		if _, err := civil.ParseDate(cfg.ReferenceDate); err != nil {
			return fmt.Errorf("invalid reference_date '%s': %v", cfg.ReferenceDate, err)
		}
	}
	if !cfg.SlackConfigured() && (cfg.SlackBotToken != "" || cfg.SlackAppToken != "") {
		return fmt.Errorf("partial Slack config: slack_bot_token and slack_app_token are required together")
	}
	if cfg.SubmitQueries && !strings.HasPrefix(cfg.AthenaOutputLocation, "s3://") {
		return fmt.Errorf("athena_output_location must be an s3:// URI when submit_queries is enabled, got '%s'", cfg.AthenaOutputLocation)
	}
	if cfg.LLMSummaryEnabled && cfg.AnthropicAPIKey == "" {
		return fmt.Errorf("anthropic_api_key is required when llm_summary_enabled=true")
	}
	if cfg.MaxParallelGroups < 1 {
		return fmt.Errorf("invalid max_parallel_groups '%d': must be >= 1", cfg.MaxParallelGroups)
	}
	if cfg.ExternalHTTPTimeoutSeconds < 5 {
		return fmt.Errorf("invalid external_http_timeout_seconds '%d': must be >= 5", cfg.ExternalHTTPTimeoutSeconds)
	}
	return nil
}

func resolveThresholds(variant string, greenMax, yellowMax *int) (domain.Thresholds, error) {
	var th domain.Thresholds
	switch strings.TrimSpace(variant) {
	case domain.DefaultThresholds.String(), "":
		th = domain.DefaultThresholds
	case domain.ExtendedThresholds.String():
		th = domain.ExtendedThresholds
	default:
		return th, fmt.Errorf("threshold_variant must be '%s' or '%s', got '%s'",
			domain.DefaultThresholds, domain.ExtendedThresholds, variant)
	}
	if greenMax != nil {
		th.GreenMaxDays = *greenMax
	}
	if yellowMax != nil {
		th.YellowMaxDays = *yellowMax
	}
	if err := th.Validate(); err != nil {
		return th, err
	}
	return th, nil
}

func envOverride(field *string, envKey string) {
	if val := os.Getenv(envKey); val != "" {
		*field = val
	}
}

func envOverrideAllowEmpty(field *string, envKey string) {
	if val, ok := os.LookupEnv(envKey); ok {
		*field = val
	}
}

func envOverrideInt(field *int, envKey string) {
	if val := os.Getenv(envKey); val != "" {
		parsed, err := strconv.Atoi(val)
		if err != nil {
			log.Fatalf("invalid %s '%s': %v", envKey, val, err)
		}
		*field = parsed
	}
}

// envOverrideIntPtr sets field only when envKey is present, so "0" is a value
// and not "unset".
func envOverrideIntPtr(field **int, envKey string) {
	if val := os.Getenv(envKey); val != "" {
		parsed, err := strconv.Atoi(val)
		if err != nil {
			log.Fatalf("invalid %s '%s': %v", envKey, val, err)
		}
		*field = &parsed
	}
}

func envOverrideBool(field *bool, envKey string) {
	if val := os.Getenv(envKey); val != "" {
		*field = strings.EqualFold(val, "true") || val == "1"
	}
}

func envOverrideList(field *[]string, envKey string) {
	if val := os.Getenv(envKey); val != "" {
		*field = nil
		for _, item := range strings.Split(val, ",") {
			item = strings.TrimSpace(item)
			if item != "" {
				*field = append(*field, item)
			}
		}
	}
}

func (c Config) SlackConfigured() bool {
	return c.SlackBotToken != "" && c.SlackAppToken != ""
}

// Today returns the reference date for a run started at now.
func (c Config) Today(now time.Time) civil.Date {
	if c.ReferenceDate != "" {
		if d, err := civil.ParseDate(c.ReferenceDate); err == nil {
			return d
		}
	}
	loc := c.Location
	if loc == nil {
		loc = time.Local
	}
	return civil.DateOf(now.In(loc))
}
