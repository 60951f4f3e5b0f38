// Package config loads the bridge configuration: a YAML file for everything
// an operator edits (field mappings, completion labels, form texts, message
// templates, schedules) and environment variables for credentials.
package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/caarlos0/env/v11"
	"gopkg.in/yaml.v3"

	"github.com/ticketbridge-io/ticketbridge/internal/mapping"
)

// Config is the top-level bridge configuration.
type Config struct {
	Bridge  BridgeConfig  `yaml:"bridge"`
	Slack   SlackConfig   `yaml:"slack"`
	Notion  NotionConfig  `yaml:"notion"`
	Notify  NotifyConfig  `yaml:"notify"`
	State   StateConfig   `yaml:"state"`
	Time    TimeConfig    `yaml:"time"`
	API     APIConfig     `yaml:"api"`
	Schemas SchemasConfig `yaml:"schemas"`

	// Secrets come from the environment, never from the file.
	Secrets Secrets `yaml:"-"`
}

// BridgeConfig holds process-level settings.
type BridgeConfig struct {
	DataDir     string `yaml:"data_dir"`
	Schedule    string `yaml:"schedule"`     // cron expression or @every form
	PollWorkers int    `yaml:"poll_workers"` // concurrent tickets per cycle
	MaxDepth    int    `yaml:"max_depth"`    // payload traversal bound
}

// SlackConfig holds the intake side settings.
type SlackConfig struct {
	SlashCommand string         `yaml:"slash_command"`
	TeamChannel  string         `yaml:"team_channel"`
	Form         FormConfig     `yaml:"form"`
	Messages     SubmitMessages `yaml:"messages"`
}

// FormConfig drives the intake modal layout.
type FormConfig struct {
	Title           string            `yaml:"title"`
	Greeting        string            `yaml:"greeting"`
	TitlePrompt     string            `yaml:"title_prompt"`
	LinkPrompt      string            `yaml:"link_prompt"`
	DetailsPrompt   string            `yaml:"details_prompt"`
	DueDatePrompt   string            `yaml:"due_date_prompt"`
	MinDaysUntilDue int               `yaml:"min_days_until_due"`
	Categories      map[string]string `yaml:"categories"` // value → display text
}

// SubmitMessages are the post-submission confirmations.
type SubmitMessages struct {
	SuccessUser string `yaml:"success_user"`
	SuccessTeam string `yaml:"success_team"`
	FailUser    string `yaml:"fail_user"`
	FailTeam    string `yaml:"fail_team"`
}

// NotionConfig holds record-store settings.
type NotionConfig struct {
	BaseURL    string `yaml:"base_url"`
	DatabaseID string `yaml:"database_id"`
	Version    string `yaml:"version"`
	PageSize   int    `yaml:"page_size"`
}

// NotifyConfig drives transition notifications.
type NotifyConfig struct {
	CompletionLabels []string `yaml:"completion_labels"`
	UserTemplate     string   `yaml:"user_template"`
	TeamTemplate     string   `yaml:"team_template"`
	RatePerSecond    float64  `yaml:"rate_per_second"`
}

// StateConfig selects and configures the persistence backend.
type StateConfig struct {
	Backend string   `yaml:"backend"` // "sqlite" (default) or "s3"
	S3      S3Config `yaml:"s3"`
}

// S3Config holds object-store settings for the s3 backend.
type S3Config struct {
	Bucket   string `yaml:"bucket"`
	Region   string `yaml:"region"`
	Endpoint string `yaml:"endpoint"`
	Prefix   string `yaml:"prefix"`
}

// TimeConfig controls display formatting of external timestamps.
type TimeConfig struct {
	Timezone string `yaml:"timezone"`
	Layout   string `yaml:"layout"`
}

// APIConfig holds the ops HTTP server settings.
type APIConfig struct {
	Host string `yaml:"host"`
	Port int    `yaml:"port"`
}

// SchemasConfig holds the field mappings for both external schemas.
type SchemasConfig struct {
	Form    []mapping.FieldMapping `yaml:"form"`
	Records []mapping.FieldMapping `yaml:"records"`
}

// Secrets are credentials sourced from the environment.
type Secrets struct {
	SlackBotToken string `env:"SLACK_BOT_TOKEN,required"`
	SlackAppToken string `env:"SLACK_APP_TOKEN,required"`
	NotionToken   string `env:"NOTION_TOKEN,required"`
	APIKey        string `env:"BRIDGE_API_KEY"`
}

// Load reads and validates configuration from a YAML file plus the
// environment. Validation failures are startup-fatal.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("config: read %s: %w", path, err)
	}

	cfg := defaults()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("config: parse %s: %w", path, err)
	}

	if err := env.Parse(&cfg.Secrets); err != nil {
		return nil, fmt.Errorf("config: environment: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func defaults() *Config {
	return &Config{
		Bridge: BridgeConfig{
			DataDir:     "/data",
			Schedule:    "@every 10m",
			PollWorkers: 4,
		},
		Notion: NotionConfig{
			PageSize: 100,
		},
		Notify: NotifyConfig{
			RatePerSecond: 1,
		},
		State: StateConfig{
			Backend: "sqlite",
		},
		Time: TimeConfig{
			Timezone: "UTC",
			Layout:   "2006-01-02 15:04:05",
		},
		API: APIConfig{
			Host: "0.0.0.0",
			Port: 8080,
		},
	}
}

// Registry builds the validated field-mapping registry from the schemas
// section.
func (c *Config) Registry() (*mapping.Registry, error) {
	return mapping.NewRegistry(map[mapping.Schema][]mapping.FieldMapping{
		mapping.SchemaForm:    c.Schemas.Form,
		mapping.SchemaRecords: c.Schemas.Records,
	})
}

// Location resolves the configured display timezone.
func (c *Config) Location() (*time.Location, error) {
	loc, err := time.LoadLocation(c.Time.Timezone)
	if err != nil {
		return nil, fmt.Errorf("config: time.timezone: %w", err)
	}
	return loc, nil
}

// Validate checks for required fields. Mapping-specific validation happens
// in Registry; both must pass before the process starts serving.
func (c *Config) Validate() error {
	var errs []string

	if c.Bridge.DataDir == "" {
		errs = append(errs, "bridge.data_dir is required")
	}
	if c.Bridge.Schedule == "" {
		errs = append(errs, "bridge.schedule is required")
	}
	if c.Slack.SlashCommand == "" {
		errs = append(errs, "slack.slash_command is required")
	}
	if c.Slack.TeamChannel == "" {
		errs = append(errs, "slack.team_channel is required")
	}
	if c.Notion.DatabaseID == "" {
		errs = append(errs, "notion.database_id is required")
	}
	if len(c.Notify.CompletionLabels) == 0 {
		errs = append(errs, "notify.completion_labels must name at least one status")
	}
	if c.Notify.UserTemplate == "" || c.Notify.TeamTemplate == "" {
		errs = append(errs, "notify.user_template and notify.team_template are required")
	}
	if len(c.Schemas.Form) == 0 {
		errs = append(errs, "schemas.form must define at least one field mapping")
	}
	if len(c.Schemas.Records) == 0 {
		errs = append(errs, "schemas.records must define at least one field mapping")
	}
	switch c.State.Backend {
	case "sqlite":
	case "s3":
		if c.State.S3.Bucket == "" {
			errs = append(errs, "state.s3.bucket is required for the s3 backend")
		}
	default:
		errs = append(errs, fmt.Sprintf("state.backend must be sqlite or s3, got %q", c.State.Backend))
	}

	if len(errs) > 0 {
		return fmt.Errorf("config validation failed:\n  - %s", strings.Join(errs, "\n  - "))
	}
	return nil
}
