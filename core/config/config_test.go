package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

const minimalYAML = `
telegram:
  token: "123:abc"
qna:
  host: "https://kb.example.com/qnamaker/"
  endpoint_key: "shared"
categories:
  - label: "Redmine関連"
    knowledge_base_id: "kb-2"
  - label: "社内情報"
    dialog_id: "internalDialog"
    knowledge_base_id: "kb-3"
    host: "https://other.example.com"
    endpoint_key: "own"
`

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o600))
	return path
}

func TestLoadAppliesDefaults(t *testing.T) {
	cfg, err := Load(writeConfig(t, minimalYAML))
	require.NoError(t, err)

	require.Equal(t, RunModeLongpoll, cfg.Telegram.RunMode)
	require.Equal(t, DefaultWelcomeText, cfg.Bot.WelcomeText)
	require.Equal(t, DefaultFirstWelcomeText, cfg.Bot.FirstWelcomeText)
	require.Equal(t, DefaultMenuPrompt, cfg.Bot.MenuPrompt)
	require.Equal(t, DefaultErrorText, cfg.Bot.ErrorText)
	require.Equal(t, 15, cfg.Bot.TurnTimeoutSeconds)

	require.Equal(t, "https://kb.example.com/qnamaker", cfg.QnA.Host)
	require.Equal(t, 3, cfg.QnA.Top)
	require.InDelta(t, 0.3, cfg.QnA.ScoreThreshold, 1e-9)
	require.Equal(t, 10, cfg.QnA.TimeoutSeconds)

	require.Len(t, cfg.Categories, 2)
	first := cfg.Categories[0]
	require.Equal(t, "faq1Dialog", first.DialogID)
	require.Equal(t, "https://kb.example.com/qnamaker", first.Host)
	require.Equal(t, "shared", first.EndpointKey)
	require.Equal(t, DefaultPromptText, first.PromptText)
	require.Equal(t, DefaultNoAnswerText, first.NoAnswerText)
	require.Equal(t, DefaultFailureText, first.FailureText)

	second := cfg.Categories[1]
	require.Equal(t, "internalDialog", second.DialogID)
	require.Equal(t, "https://other.example.com", second.Host)
	require.Equal(t, "own", second.EndpointKey)

	require.Equal(t, StateMemory, cfg.State.Backend)
	require.Equal(t, "qnabot", cfg.State.KeyPrefix)
}

func TestLoadEnvOverridesFile(t *testing.T) {
	t.Setenv("BOT_TOKEN", "999:env")
	t.Setenv("QNA_ENDPOINT_KEY", "from-env")
	t.Setenv("STATE_BACKEND", "redis")
	t.Setenv("REDIS_URL", "redis://cache:6379/1")

	cfg, err := Load(writeConfig(t, minimalYAML))
	require.NoError(t, err)
	require.Equal(t, "999:env", cfg.Telegram.Token)
	require.Equal(t, "from-env", cfg.Categories[0].EndpointKey)
	require.Equal(t, "own", cfg.Categories[1].EndpointKey)
	require.Equal(t, StateRedis, cfg.State.Backend)
	require.Equal(t, "redis://cache:6379/1", cfg.State.RedisURL)
}

func TestLoadMissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "nope.yaml"))
	require.ErrorIs(t, err, os.ErrNotExist)
}

func valid() *Config {
	return &Config{
		Telegram:   TelegramConfig{Token: "t"},
		QnA:        QnAConfig{Host: "https://kb", EndpointKey: "k"},
		Categories: []CategoryConfig{{Label: "A", KnowledgeBaseID: "kb"}},
	}
}

func TestNormalizeRejectsInvalid(t *testing.T) {
	cases := map[string]func(*Config){
		"no token":          func(c *Config) { c.Telegram.Token = "" },
		"bad run mode":      func(c *Config) { c.Telegram.RunMode = "carrier-pigeon" },
		"webhook no url":    func(c *Config) { c.Telegram.RunMode = RunModeWebhook },
		"bad exclusion":     func(c *Config) { c.RateLimit.ExcludeUpdates = []string{"callback"} },
		"threshold > 1":     func(c *Config) { c.QnA.ScoreThreshold = 1.5 },
		"negative retries":  func(c *Config) { c.QnA.Retries = -1 },
		"no kb id":          func(c *Config) { c.Categories[0].KnowledgeBaseID = "" },
		"no key":            func(c *Config) { c.QnA.EndpointKey = "" },
		"no host":           func(c *Config) { c.QnA.Host = "" },
		"blank label":       func(c *Config) { c.Categories[0].Label = " " },
		"duplicate label":   func(c *Config) { c.Categories = append(c.Categories, c.Categories[0]) },
		"unknown backend":   func(c *Config) { c.State.Backend = "etcd" },
		"redis without url": func(c *Config) { c.State.Backend = StateRedis },
		"postgres no host":  func(c *Config) { c.State.Backend = StatePostgres },
		"negative ttl":      func(c *Config) { c.State.TTLSeconds = -1 },
	}
	for name, mutate := range cases {
		t.Run(name, func(t *testing.T) {
			cfg := valid()
			mutate(cfg)
			require.Error(t, Normalize(cfg))
		})
	}
	require.Error(t, Normalize(nil))
}

func TestNormalizeDefaultsAndAliases(t *testing.T) {
	cfg := valid()
	cfg.Categories = nil
	cfg.Telegram.RunMode = "polling"
	cfg.Bot.FirstWelcomeText = "-"
	cfg.RateLimit.ExcludeUpdates = []string{" Members "}
	// Default categories need their own knowledge base ids.
	require.Error(t, Normalize(cfg))

	cfg = valid()
	cfg.Telegram.RunMode = "polling"
	cfg.Bot.FirstWelcomeText = "-"
	cfg.RateLimit.ExcludeUpdates = []string{" Members "}
	cfg.State.Backend = "Postgres"
	cfg.Database = DatabaseConfig{Host: "db", Name: "qnabot"}
	require.NoError(t, Normalize(cfg))
	require.Equal(t, RunModeLongpoll, cfg.Telegram.RunMode)
	require.Empty(t, cfg.Bot.FirstWelcomeText)
	require.Equal(t, []string{UpdateMembers}, cfg.RateLimit.ExcludeUpdates)
	require.Equal(t, StatePostgres, cfg.State.Backend)
	require.Equal(t, "5432", cfg.Database.Port)
	require.Equal(t, "disable", cfg.Database.SSLMode)
	require.Equal(t, 5, cfg.Database.MaxConnections)
	require.Equal(t, "migrations", cfg.Database.MigrationsDir)
}
