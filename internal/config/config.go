// Package config provides configuration loading, validation, and management
// for the survey bot. It reads an optional YAML file, applies BOT_*
// environment overrides and validates the result.
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

// ErrConfiguration wraps every error returned by LoadConfig.
var ErrConfiguration = errors.New("configuration error")

// Config holds the complete application configuration.
type Config struct {
	Logger    LoggerConfig    `mapstructure:"logger"`
	Database  DatabaseConfig  `mapstructure:"database"`
	Server    ServerConfig    `mapstructure:"server"`
	Messenger MessengerConfig `mapstructure:"messenger"`
	Lookup    LookupConfig    `mapstructure:"lookup"`
	Survey    SurveyConfig    `mapstructure:"survey"`
	Scheduler SchedulerConfig `mapstructure:"scheduler"`
}

// LoggerConfig holds logging settings.
type LoggerConfig struct {
	Level string `mapstructure:"level" validate:"oneof=debug info warn error"`
	JSON  bool   `mapstructure:"json"`
}

// DatabaseConfig holds the SQLite settings.
type DatabaseConfig struct {
	Path string `mapstructure:"path" validate:"required"`
}

// ServerConfig holds the HTTP listener settings.
type ServerConfig struct {
	Addr             string        `mapstructure:"addr" validate:"required"`
	ReadTimeout      time.Duration `mapstructure:"read_timeout" validate:"min=1s"`
	WriteTimeout     time.Duration `mapstructure:"write_timeout" validate:"min=1s"`
	ShutdownTimeout  time.Duration `mapstructure:"shutdown_timeout" validate:"min=1s"`
	LINECallbackPath string        `mapstructure:"line_callback_path" validate:"required,startswith=/"`
}

// MessengerConfig selects the messaging platform and holds its credentials.
type MessengerConfig struct {
	Platform string         `mapstructure:"platform" validate:"oneof=line telegram"`
	LINE     LINEConfig     `mapstructure:"line"`
	Telegram TelegramConfig `mapstructure:"telegram"`
}

// LINEConfig holds the LINE channel credentials.
type LINEConfig struct {
	ChannelSecret      string `mapstructure:"channel_secret"`
	ChannelAccessToken string `mapstructure:"channel_access_token"`
}

// TelegramConfig holds the Telegram bot settings.
type TelegramConfig struct {
	Token         string `mapstructure:"token"`
	WebhookURL    string `mapstructure:"webhook_url" validate:"omitempty,url"`
	WebhookPath   string `mapstructure:"webhook_path" validate:"required,startswith=/"`
	WebhookSecret string `mapstructure:"webhook_secret"`
}

// LookupConfig selects the answer lookup backend.
type LookupConfig struct {
	Backend           string       `mapstructure:"backend" validate:"oneof=keyword gemini"`
	KnowledgeBasePath string       `mapstructure:"knowledge_base_path" validate:"required"`
	MaxChoices        int          `mapstructure:"max_choices" validate:"min=1,max=13"`
	Gemini            GeminiConfig `mapstructure:"gemini"`
}

// GeminiConfig holds the Gemini API settings used by the gemini lookup backend.
type GeminiConfig struct {
	APIKey            string  `mapstructure:"api_key"`
	ModelName         string  `mapstructure:"model_name" validate:"required"`
	Temperature       float32 `mapstructure:"temperature" validate:"min=0,max=2"`
	MaxRetries        int     `mapstructure:"max_retries" validate:"min=0"`
	RetryDelaySeconds int     `mapstructure:"retry_delay_seconds" validate:"min=0"`
	SystemInstruction string  `mapstructure:"system_instruction"`
}

// SurveyConfig holds the conversation settings and user-facing texts.
type SurveyConfig struct {
	Affirmative        string         `mapstructure:"affirmative" validate:"required"`
	Negative           string         `mapstructure:"negative" validate:"required"`
	PreSurveyURL       string         `mapstructure:"pre_survey_url"`
	PostSurveyURL      string         `mapstructure:"post_survey_url"`
	Version            string         `mapstructure:"version" validate:"required"`
	UTCOffset          time.Duration  `mapstructure:"utc_offset"`
	EventTimeout       time.Duration  `mapstructure:"event_timeout" validate:"min=1s"`
	WebhookConcurrency int            `mapstructure:"webhook_concurrency" validate:"min=1"`
	ReminderLookback   time.Duration  `mapstructure:"reminder_lookback" validate:"min=1m"`
	Messages           SurveyMessages `mapstructure:"messages"`
}

// SurveyMessages holds every text sent to participants. {research_id} and
// {survey_url} are substituted where they appear.
type SurveyMessages struct {
	Welcome            []string `mapstructure:"welcome" validate:"min=1"`
	ResearchIDAccepted string   `mapstructure:"research_id_accepted" validate:"required"`
	PreSurveyRetry     string   `mapstructure:"pre_survey_retry" validate:"required"`
	QAInstructions     string   `mapstructure:"qa_instructions" validate:"required"`
	QAFallback         string   `mapstructure:"qa_fallback" validate:"required"`
	Disambiguation     string   `mapstructure:"disambiguation" validate:"required"`
	PostSurvey         []string `mapstructure:"post_survey" validate:"min=1"`
	Closing            []string `mapstructure:"closing" validate:"min=1"`
	Reminder           string   `mapstructure:"reminder" validate:"required"`
	BeforeLastDay      string   `mapstructure:"before_last_day" validate:"required"`
	ConfirmText        string   `mapstructure:"confirm_text" validate:"required"`
	ConfirmAltText     string   `mapstructure:"confirm_alt_text" validate:"required"`
	Help               string   `mapstructure:"help" validate:"required"`
}

// SchedulerConfig holds the scheduled task settings keyed by task name.
type SchedulerConfig struct {
	Tasks map[string]TaskConfig `mapstructure:"tasks"`
}

// TaskConfig configures one scheduled task. Schedule is a cron expression
// with a leading seconds field.
type TaskConfig struct {
	Enabled  bool   `mapstructure:"enabled"`
	Schedule string `mapstructure:"schedule"`
}

// Location returns the zone used for participant-facing timestamps.
func (c SurveyConfig) Location() *time.Location {
	return time.FixedZone(fmt.Sprintf("UTC%+d", int(c.UTCOffset.Hours())), int(c.UTCOffset.Seconds()))
}

// LoadConfig loads a .env file if present, then the YAML file at path (which
// may be missing), applies BOT_* environment overrides and validates the
// result.
func LoadConfig(path string) (*Config, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("%w: failed to load .env file: %v", ErrConfiguration, err)
	}

	v := viper.New()
	setDefaults(v)

	v.SetEnvPrefix("BOT")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if path != "" {
		v.SetConfigFile(path)
		v.SetConfigType("yaml")
		if err := v.ReadInConfig(); err != nil {
			var notFound viper.ConfigFileNotFoundError
			if !errors.As(err, &notFound) && !errors.Is(err, fs.ErrNotExist) {
				return nil, fmt.Errorf("%w: failed to read config file %s: %v", ErrConfiguration, path, err)
			}
		}
	}

	cfg := &Config{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("%w: failed to parse config: %v", ErrConfiguration, err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrConfiguration, err)
	}

	return cfg, nil
}

// Validate checks struct tags and the cross-field rules.
func (c *Config) Validate() error {
	validate := validator.New(validator.WithRequiredStructEnabled())
	validate.RegisterStructValidation(validateMessenger, MessengerConfig{})
	validate.RegisterStructValidation(validateLookup, LookupConfig{})
	return validate.Struct(c)
}

// validateMessenger requires the credentials of the selected platform.
func validateMessenger(sl validator.StructLevel) {
	m := sl.Current().Interface().(MessengerConfig)
	switch m.Platform {
	case "line":
		if m.LINE.ChannelSecret == "" {
			sl.ReportError(m.LINE.ChannelSecret, "LINE.ChannelSecret", "ChannelSecret", "required_for_platform", m.Platform)
		}
		if m.LINE.ChannelAccessToken == "" {
			sl.ReportError(m.LINE.ChannelAccessToken, "LINE.ChannelAccessToken", "ChannelAccessToken", "required_for_platform", m.Platform)
		}
	case "telegram":
		if m.Telegram.Token == "" {
			sl.ReportError(m.Telegram.Token, "Telegram.Token", "Token", "required_for_platform", m.Platform)
		}
		if m.Telegram.WebhookURL == "" {
			sl.ReportError(m.Telegram.WebhookURL, "Telegram.WebhookURL", "WebhookURL", "required_for_platform", m.Platform)
		}
	}
}

func validateLookup(sl validator.StructLevel) {
	l := sl.Current().Interface().(LookupConfig)
	if l.Backend == "gemini" && l.Gemini.APIKey == "" {
		sl.ReportError(l.Gemini.APIKey, "Gemini.APIKey", "APIKey", "required_for_backend", l.Backend)
	}
}
