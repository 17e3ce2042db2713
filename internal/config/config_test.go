package config_test

import (
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/edgard/surveybot/internal/config"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatalf("failed to write config file: %v", err)
	}
	return path
}

func TestLoadConfigDefaults(t *testing.T) {
	t.Setenv("BOT_MESSENGER_LINE_CHANNEL_SECRET", "secret")
	t.Setenv("BOT_MESSENGER_LINE_CHANNEL_ACCESS_TOKEN", "token")

	cfg, err := config.LoadConfig(filepath.Join(t.TempDir(), "missing.yaml"))
	if err != nil {
		t.Fatalf("LoadConfig() error = %v", err)
	}

	if cfg.Messenger.Platform != "line" {
		t.Errorf("platform = %q, want line", cfg.Messenger.Platform)
	}
	if cfg.Messenger.LINE.ChannelSecret != "secret" {
		t.Errorf("channel secret not read from environment: %q", cfg.Messenger.LINE.ChannelSecret)
	}
	if cfg.Server.LINECallbackPath != "/callback" {
		t.Errorf("callback path = %q", cfg.Server.LINECallbackPath)
	}
	if cfg.Survey.Affirmative != "はい" || cfg.Survey.Version != "sample" {
		t.Errorf("unexpected survey defaults: %+v", cfg.Survey)
	}
	if cfg.Survey.ReminderLookback != 24*time.Hour {
		t.Errorf("reminder lookback = %v", cfg.Survey.ReminderLookback)
	}
	if len(cfg.Survey.Messages.Closing) != 3 || len(cfg.Survey.Messages.PostSurvey) != 2 {
		t.Errorf("unexpected closing/post survey defaults: %d/%d",
			len(cfg.Survey.Messages.Closing), len(cfg.Survey.Messages.PostSurvey))
	}
	sweep, ok := cfg.Scheduler.Tasks["reminder_sweep"]
	if !ok || !sweep.Enabled || sweep.Schedule != "0 * * * * *" {
		t.Errorf("reminder_sweep task = %+v (present=%v)", sweep, ok)
	}

	_, offset := time.Date(2025, 1, 1, 0, 0, 0, 0, cfg.Survey.Location()).Zone()
	if offset != 9*60*60 {
		t.Errorf("location offset = %d, want %d", offset, 9*60*60)
	}
}

func TestLoadConfigFileAndEnvOverride(t *testing.T) {
	path := writeConfig(t, `
logger:
  level: debug
  json: true
messenger:
  platform: telegram
  telegram:
    token: "123:abc"
    webhook_url: "https://example.com/telegram"
survey:
  version: from-file
  event_timeout: 45s
  messages:
    closing:
      - "bye"
scheduler:
  tasks:
    sql_maintenance:
      enabled: false
`)
	t.Setenv("BOT_SURVEY_VERSION", "from-env")

	cfg, err := config.LoadConfig(path)
	if err != nil {
		t.Fatalf("LoadConfig() error = %v", err)
	}

	if cfg.Logger.Level != "debug" || !cfg.Logger.JSON {
		t.Errorf("logger = %+v", cfg.Logger)
	}
	if cfg.Messenger.Platform != "telegram" || cfg.Messenger.Telegram.Token != "123:abc" {
		t.Errorf("messenger = %+v", cfg.Messenger)
	}
	if cfg.Survey.Version != "from-env" {
		t.Errorf("version = %q, want env override", cfg.Survey.Version)
	}
	if cfg.Survey.EventTimeout != 45*time.Second {
		t.Errorf("event timeout = %v", cfg.Survey.EventTimeout)
	}
	if len(cfg.Survey.Messages.Closing) != 1 || cfg.Survey.Messages.Closing[0] != "bye" {
		t.Errorf("closing = %v", cfg.Survey.Messages.Closing)
	}
	if cfg.Scheduler.Tasks["sql_maintenance"].Enabled {
		t.Errorf("sql_maintenance should be disabled")
	}
	if !cfg.Scheduler.Tasks["reminder_sweep"].Enabled {
		t.Errorf("reminder_sweep should keep its default")
	}
}

func TestLoadConfigValidation(t *testing.T) {
	testCases := []struct {
		name    string
		content string
	}{
		{
			name:    "line credentials missing",
			content: "messenger:\n  platform: line\n",
		},
		{
			name:    "telegram webhook url missing",
			content: "messenger:\n  platform: telegram\n  telegram:\n    token: \"1:a\"\n",
		},
		{
			name: "gemini backend without api key",
			content: `
messenger:
  line:
    channel_secret: s
    channel_access_token: t
lookup:
  backend: gemini
`,
		},
		{
			name: "unknown log level",
			content: `
logger:
  level: verbose
messenger:
  line:
    channel_secret: s
    channel_access_token: t
`,
		},
		{
			name: "too many choices",
			content: `
messenger:
  line:
    channel_secret: s
    channel_access_token: t
lookup:
  max_choices: 20
`,
		},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := config.LoadConfig(writeConfig(t, tc.content))
			if !errors.Is(err, config.ErrConfiguration) {
				t.Fatalf("expected ErrConfiguration, got %v", err)
			}
		})
	}
}
