package config

import (
	"fmt"
	"os"
	"strings"

	"github.com/kelseyhightower/envconfig"
	"gopkg.in/yaml.v3"
)

// TelegramConfig holds Telegram bot related settings.
type TelegramConfig struct {
	Token   string `yaml:"token" envconfig:"BOT_TOKEN"`
	RunMode string `yaml:"run_mode" envconfig:"TELEGRAM_RUN_MODE"`
	// LongPollTimeoutSeconds defines long polling timeout; 0 -> default
	LongPollTimeoutSeconds int `yaml:"longpoll_timeout_seconds" envconfig:"TELEGRAM_LONGPOLL_TIMEOUT_SECONDS"`
}

// WebhookConfig specifies webhook settings.
type WebhookConfig struct {
	URL    string `yaml:"url" envconfig:"WEBHOOK_URL"`
	Listen string `yaml:"listen" envconfig:"WEBHOOK_LISTEN"`
	Port   int    `yaml:"port" envconfig:"WEBHOOK_PORT"`
}

// LoggingConfig defines logging related configuration.
type LoggingConfig struct {
	Level  string `yaml:"level" envconfig:"LOG_LEVEL"`
	Format string `yaml:"format" envconfig:"LOG_FORMAT"`
	// Dir and BotFile, when both set, add a file sink next to stdout.
	Dir     string `yaml:"dir"`
	BotFile string `yaml:"bot_file"`
}

const (
	// RunModeWebhook selects webhook mode for Telegram updates.
	RunModeWebhook = "webhook"
	// RunModeLongpoll selects long-polling mode for Telegram updates.
	RunModeLongpoll = "longpoll"
)

const (
	// UpdateMessage identifies message updates for rate limit exclusions.
	UpdateMessage = "message"
	// UpdateMembers identifies member join updates for rate limit exclusions.
	UpdateMembers = "members"
	// UpdateOther identifies any other update kind for rate limit exclusions.
	UpdateOther = "other"
)

// RateLimitConfig holds settings for rate limiting.
// ExcludeUpdates accepts update kinds to bypass limiting:
// - "message": standard text messages
// - "members": users joining a chat
// - "other": media and anything else
type RateLimitConfig struct {
	IntervalMS     int      `yaml:"interval_ms" envconfig:"RATE_LIMIT_INTERVAL_MS"`
	ExcludeUpdates []string `yaml:"exclude_updates" envconfig:"RATE_LIMIT_EXCLUDE_UPDATES"`
}

// BotConfig carries user-facing texts and per-turn limits.
type BotConfig struct {
	// WelcomeText is sent for every member added to a conversation.
	WelcomeText string `yaml:"welcome_text"`
	// FirstWelcomeText is sent once per user on the first message; "%s" is replaced by the user's name.
	FirstWelcomeText string `yaml:"first_welcome_text"`
	MenuPrompt       string `yaml:"menu_prompt"`
	MenuRetry        string `yaml:"menu_retry"`
	ErrorText        string `yaml:"error_text"`

	TurnTimeoutSeconds int `yaml:"turn_timeout_seconds" envconfig:"BOT_TURN_TIMEOUT_SECONDS"`
}

// QnAConfig holds defaults shared by every knowledge base binding.
type QnAConfig struct {
	Host           string  `yaml:"host" envconfig:"QNA_HOST"`
	EndpointKey    string  `yaml:"endpoint_key" envconfig:"QNA_ENDPOINT_KEY"`
	Top            int     `yaml:"top" envconfig:"QNA_TOP"`
	ScoreThreshold float64 `yaml:"score_threshold" envconfig:"QNA_SCORE_THRESHOLD"`
	TimeoutSeconds int     `yaml:"timeout_seconds" envconfig:"QNA_TIMEOUT_SECONDS"`
	Retries        int     `yaml:"retries" envconfig:"QNA_RETRIES"`
	// CacheSize enables an in-process answer cache per knowledge base; 0 disables it.
	CacheSize int `yaml:"cache_size" envconfig:"QNA_CACHE_SIZE"`
}

// CategoryConfig binds one menu label to one FAQ dialog and knowledge base.
type CategoryConfig struct {
	Label           string `yaml:"label"`
	DialogID        string `yaml:"dialog_id"`
	KnowledgeBaseID string `yaml:"knowledge_base_id"`
	// Host and EndpointKey override the shared QnA settings when set.
	Host         string `yaml:"host"`
	EndpointKey  string `yaml:"endpoint_key"`
	PromptText   string `yaml:"prompt_text"`
	NoAnswerText string `yaml:"no_answer_text"`
	FailureText  string `yaml:"failure_text"`
}

const (
	// StateMemory keeps dialog and user state in process memory.
	StateMemory = "memory"
	// StatePostgres stores state in PostgreSQL.
	StatePostgres = "postgres"
	// StateRedis stores state in Redis.
	StateRedis = "redis"
)

// StateConfig selects and configures the state store backend.
type StateConfig struct {
	Backend    string `yaml:"backend" envconfig:"STATE_BACKEND"`
	RedisURL   string `yaml:"redis_url" envconfig:"REDIS_URL"`
	KeyPrefix  string `yaml:"key_prefix" envconfig:"STATE_KEY_PREFIX"`
	TTLSeconds int    `yaml:"ttl_seconds" envconfig:"STATE_TTL_SECONDS"`
}

// DatabaseConfig holds PostgreSQL connection settings.
type DatabaseConfig struct {
	Host           string `yaml:"host" envconfig:"DB_HOST"`
	Port           string `yaml:"port" envconfig:"DB_PORT"`
	User           string `yaml:"user" envconfig:"DB_USER"`
	Password       string `yaml:"password" envconfig:"DB_PASSWORD"`
	Name           string `yaml:"name" envconfig:"DB_NAME"`
	SSLMode        string `yaml:"sslmode" envconfig:"DB_SSLMODE"`
	MaxConnections int    `yaml:"max_connections" envconfig:"DB_MAX_CONNECTIONS"`
	MigrationsDir  string `yaml:"migrations_dir" envconfig:"DB_MIGRATIONS_DIR"`
}

// Config aggregates the whole bot configuration.
type Config struct {
	Telegram   TelegramConfig   `yaml:"telegram"`
	Webhook    WebhookConfig    `yaml:"webhook"`
	Logging    LoggingConfig    `yaml:"logging"`
	RateLimit  RateLimitConfig  `yaml:"rate_limit"`
	Bot        BotConfig        `yaml:"bot"`
	QnA        QnAConfig        `yaml:"qna"`
	Categories []CategoryConfig `yaml:"categories"`
	State      StateConfig      `yaml:"state"`
	Database   DatabaseConfig   `yaml:"database"`
}

// Default texts mirror the assistant deployed by the support team.
const (
	DefaultWelcomeText      = "こんにちは。ユーザーサポートチームのChatbotちゃんです！"
	DefaultFirstWelcomeText = "%sさん、はじめまして！"
	DefaultMenuPrompt       = "下記に関しては、私が案内できますよ！何について聞きたいか、選んでください。"
	DefaultMenuRetry        = "I'm sorry, that wasn't a valid response. Please select one of the options"
	DefaultErrorText        = "Sorry, it looks like something went wrong."
	DefaultPromptText       = "聞きたいことを記入してください。"
	DefaultNoAnswerText     = "Sorry, I don't know the answer to that one."
	DefaultFailureText      = "Sorry, I couldn't look that up right now. Please try again later."
)

// DefaultCategories returns the menu shipped when none is configured.
func DefaultCategories() []CategoryConfig {
	return []CategoryConfig{
		{Label: "アナウンス関連", DialogID: "faq1Dialog"},
		{Label: "Redmine関連", DialogID: "faq2Dialog"},
		{Label: "社内情報", DialogID: "faq3Dialog"},
	}
}

// Load reads configuration from a YAML file and environment variables.
func Load(path string) (*Config, error) {
	var cfg Config

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("failed to parse YAML config: %w", err)
	}
	if err := envconfig.Process("", &cfg); err != nil {
		return nil, fmt.Errorf("failed to process env: %w", err)
	}

	if err := Normalize(&cfg); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Normalize performs basic validation of required configuration fields and adjusts defaults.
func Normalize(cfg *Config) error {
	if cfg == nil {
		return fmt.Errorf("nil config")
	}

	if cfg.Telegram.Token == "" {
		return fmt.Errorf("telegram token is required")
	}

	if err := normalizeRunMode(cfg); err != nil {
		return err
	}
	if err := normalizeRateLimit(cfg); err != nil {
		return err
	}
	normalizeBot(&cfg.Bot)
	if err := normalizeQnA(cfg); err != nil {
		return err
	}
	return normalizeState(cfg)
}

func normalizeRunMode(cfg *Config) error {
	rm := strings.ToLower(strings.TrimSpace(cfg.Telegram.RunMode))
	if rm == "" {
		rm = RunModeLongpoll
	}
	if rm == "polling" { // accept alias
		rm = RunModeLongpoll
	}
	switch rm {
	case RunModeWebhook:
		if strings.TrimSpace(cfg.Webhook.URL) == "" {
			return fmt.Errorf("webhook.url is required when telegram.run_mode is 'webhook'")
		}
		if strings.TrimSpace(cfg.Webhook.Listen) == "" {
			return fmt.Errorf("webhook.listen is required when telegram.run_mode is 'webhook'")
		}
		if cfg.Webhook.Port <= 0 {
			return fmt.Errorf("webhook.port must be > 0 when telegram.run_mode is 'webhook'")
		}
	case RunModeLongpoll:
		if cfg.Telegram.LongPollTimeoutSeconds < 0 {
			return fmt.Errorf("telegram.longpoll_timeout_seconds must be >= 0")
		}
	default:
		return fmt.Errorf("invalid telegram.run_mode %q; allowed: webhook, longpoll", cfg.Telegram.RunMode)
	}
	cfg.Telegram.RunMode = rm
	return nil
}

func normalizeRateLimit(cfg *Config) error {
	allowed := map[string]struct{}{
		UpdateMessage: {},
		UpdateMembers: {},
		UpdateOther:   {},
	}
	for i, v := range cfg.RateLimit.ExcludeUpdates {
		key := strings.ToLower(strings.TrimSpace(v))
		if key == "" {
			continue
		}
		if _, ok := allowed[key]; !ok {
			return fmt.Errorf("invalid rate_limit.exclude_updates value %q; allowed: message, members, other", v)
		}
		cfg.RateLimit.ExcludeUpdates[i] = key
	}
	return nil
}

func normalizeBot(b *BotConfig) {
	if strings.TrimSpace(b.WelcomeText) == "" {
		b.WelcomeText = DefaultWelcomeText
	}
	// FirstWelcomeText may be deliberately blank ("-") to keep the first turn silent.
	switch strings.TrimSpace(b.FirstWelcomeText) {
	case "":
		b.FirstWelcomeText = DefaultFirstWelcomeText
	case "-":
		b.FirstWelcomeText = ""
	}
	if strings.TrimSpace(b.MenuPrompt) == "" {
		b.MenuPrompt = DefaultMenuPrompt
	}
	if strings.TrimSpace(b.MenuRetry) == "" {
		b.MenuRetry = DefaultMenuRetry
	}
	if strings.TrimSpace(b.ErrorText) == "" {
		b.ErrorText = DefaultErrorText
	}
	if b.TurnTimeoutSeconds <= 0 {
		b.TurnTimeoutSeconds = 15
	}
}

func normalizeQnA(cfg *Config) error {
	q := &cfg.QnA
	q.Host = strings.TrimRight(strings.TrimSpace(q.Host), "/")
	if q.Top <= 0 {
		q.Top = 3
	}
	if q.ScoreThreshold < 0 || q.ScoreThreshold > 1 {
		return fmt.Errorf("qna.score_threshold must be within [0, 1]")
	}
	if q.ScoreThreshold == 0 {
		q.ScoreThreshold = 0.3
	}
	if q.TimeoutSeconds <= 0 {
		q.TimeoutSeconds = 10
	}
	if q.Retries < 0 {
		return fmt.Errorf("qna.retries must be >= 0")
	}
	if q.CacheSize < 0 {
		return fmt.Errorf("qna.cache_size must be >= 0")
	}

	if len(cfg.Categories) == 0 {
		cfg.Categories = DefaultCategories()
	}
	labels := make(map[string]struct{}, len(cfg.Categories))
	ids := make(map[string]struct{}, len(cfg.Categories))
	for i := range cfg.Categories {
		c := &cfg.Categories[i]
		c.Label = strings.TrimSpace(c.Label)
		c.DialogID = strings.TrimSpace(c.DialogID)
		if c.Label == "" {
			return fmt.Errorf("categories[%d].label is required", i)
		}
		if c.DialogID == "" {
			c.DialogID = fmt.Sprintf("faq%dDialog", i+1)
		}
		if _, dup := labels[c.Label]; dup {
			return fmt.Errorf("categories[%d].label %q is duplicated", i, c.Label)
		}
		if _, dup := ids[c.DialogID]; dup {
			return fmt.Errorf("categories[%d].dialog_id %q is duplicated", i, c.DialogID)
		}
		labels[c.Label] = struct{}{}
		ids[c.DialogID] = struct{}{}

		c.Host = strings.TrimRight(strings.TrimSpace(c.Host), "/")
		if c.Host == "" {
			c.Host = q.Host
		}
		if strings.TrimSpace(c.EndpointKey) == "" {
			c.EndpointKey = q.EndpointKey
		}
		if c.Host == "" {
			return fmt.Errorf("categories[%d]: qna host is required (set qna.host or categories[%d].host)", i, i)
		}
		if strings.TrimSpace(c.KnowledgeBaseID) == "" {
			return fmt.Errorf("categories[%d].knowledge_base_id is required", i)
		}
		if strings.TrimSpace(c.EndpointKey) == "" {
			return fmt.Errorf("categories[%d]: qna endpoint key is required (set QNA_ENDPOINT_KEY or categories[%d].endpoint_key)", i, i)
		}
		if strings.TrimSpace(c.PromptText) == "" {
			c.PromptText = DefaultPromptText
		}
		if strings.TrimSpace(c.NoAnswerText) == "" {
			c.NoAnswerText = DefaultNoAnswerText
		}
		if strings.TrimSpace(c.FailureText) == "" {
			c.FailureText = DefaultFailureText
		}
	}
	return nil
}

func normalizeState(cfg *Config) error {
	s := &cfg.State
	backend := strings.ToLower(strings.TrimSpace(s.Backend))
	if backend == "" {
		backend = StateMemory
	}
	s.Backend = backend
	if s.TTLSeconds < 0 {
		return fmt.Errorf("state.ttl_seconds must be >= 0")
	}
	if strings.TrimSpace(s.KeyPrefix) == "" {
		s.KeyPrefix = "qnabot"
	}

	switch backend {
	case StateMemory:
	case StateRedis:
		if strings.TrimSpace(s.RedisURL) == "" {
			return fmt.Errorf("state.redis_url is required when state.backend is 'redis'")
		}
	case StatePostgres:
		db := &cfg.Database
		if strings.TrimSpace(db.Host) == "" || strings.TrimSpace(db.Name) == "" {
			return fmt.Errorf("database.host and database.name are required when state.backend is 'postgres'")
		}
		if db.Port == "" {
			db.Port = "5432"
		}
		if db.SSLMode == "" {
			db.SSLMode = "disable"
		}
		if db.MaxConnections <= 0 {
			db.MaxConnections = 5
		}
		if db.MigrationsDir == "" {
			db.MigrationsDir = "migrations"
		}
	default:
		return fmt.Errorf("invalid state.backend %q; allowed: memory, postgres, redis", s.Backend)
	}
	return nil
}
