package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

const (
	ModeAll     = "ALL"
	ModeWebhook = "WEBHOOK"
	ModeWorker  = "WORKER"

	ProviderGemini       = "gemini"
	ProviderOpenAICompat = "openai_compat"
)

var (
	ErrMissingModelAPIKey   = errors.New("MODEL_API_KEY is required")
	ErrMissingOperatorKey   = errors.New("OPERATOR_SECRET is required")
	ErrMissingDatabaseDSN   = errors.New("DB_DSN is required")
	ErrMissingKnowledgePath = errors.New("KNOWLEDGE_PATH is required")
	ErrInvalidMaxAttempts   = errors.New("MODEL_MAX_ATTEMPTS must be > 0")
)

type Config struct {
	AppMode        string
	OwnerID        string
	OperatorSecret string
	Location       *time.Location

	Telegram  TelegramConfig
	HTTP      HTTPConfig
	Model     ModelConfig
	Redis     RedisConfig
	DB        DBConfig
	Worker    WorkerConfig
	Rate      RateConfig
	Admin     AdminConfig
	Session   SessionConfig
	Knowledge KnowledgeConfig
	Speech    SpeechConfig
	Log       LogConfig
}

type TelegramConfig struct {
	BotToken    string
	DevPolling  bool
	PublicURL   string
	SecretPath  string
	SecretToken string
}

// Enabled reports whether a bot token was configured.
func (t TelegramConfig) Enabled() bool {
	return t.BotToken != ""
}

type HTTPConfig struct {
	ListenAddr  string
	HealthPath  string
	MetricsPath string
	ReadTimeout time.Duration
}

type ModelConfig struct {
	Provider      string
	BaseURL       string
	APIKey        string
	Model         string
	SearchTool    string
	ClientTimeout time.Duration
	MaxAttempts   int
	BackoffBase   time.Duration
}

type RedisConfig struct {
	Addr        string
	Password    string
	DB          int
	KeyPrefix   string
	QueueStream string
	QueueGroup  string
	QueueBlock  time.Duration
	UpdateTTL   time.Duration
}

type DBConfig struct {
	Driver      string
	DSN         string
	AutoMigrate bool
}

type WorkerConfig struct {
	Concurrency  int
	MaxRetries   int
	ConsumerName string
}

type RateConfig struct {
	PerHour int64
}

type AdminConfig struct {
	SessionTTL time.Duration
}

type SessionConfig struct {
	IdleTTL time.Duration
}

type KnowledgeConfig struct {
	Path string
}

type SpeechConfig struct {
	Voices       []string
	DefaultVoice string
}

type LogConfig struct {
	Level string
}

// Load reads an optional .env file and then the process environment.
func Load() (*Config, error) {
	_ = godotenv.Load()

	cfg := &Config{
		AppMode:        strings.ToUpper(mustEnv("APP_MODE", ModeAll)),
		OwnerID:        mustEnv("BOT_OWNER_ID", "campus-bot-v1"),
		OperatorSecret: mustEnv("OPERATOR_SECRET", ""),
		Telegram: TelegramConfig{
			BotToken:    mustEnv("BOT_TOKEN", ""),
			DevPolling:  mustBool("DEV_POLLING", false),
			PublicURL:   mustEnv("WEBHOOK_URL", ""),
			SecretPath:  strings.Trim(mustEnv("WEBHOOK_SECRET_PATH", "telegram"), "/"),
			SecretToken: mustEnv("WEBHOOK_SECRET_TOKEN", ""),
		},
		HTTP: HTTPConfig{
			ListenAddr:  mustEnv("HTTP_LISTEN_ADDR", ":8080"),
			HealthPath:  mustEnv("HEALTH_PATH", "/healthz"),
			MetricsPath: mustEnv("METRICS_PATH", "/metrics"),
			ReadTimeout: mustDuration("HTTP_READ_TIMEOUT", 15*time.Second),
		},
		Model: ModelConfig{
			Provider:      strings.ToLower(mustEnv("MODEL_PROVIDER", ProviderGemini)),
			BaseURL:       mustEnv("MODEL_BASE_URL", "https://generativelanguage.googleapis.com/v1beta"),
			APIKey:        mustEnv("MODEL_API_KEY", ""),
			Model:         mustEnv("MODEL_NAME", "gemini-2.5-flash-preview-09-2025"),
			// "web_search" for services that name the tool that way
			SearchTool:    mustEnv("MODEL_SEARCH_TOOL", "google_search"),
			ClientTimeout: mustDuration("MODEL_TIMEOUT", 60*time.Second),
			MaxAttempts:   mustInt("MODEL_MAX_ATTEMPTS", 3),
			BackoffBase:   mustDuration("MODEL_BACKOFF_BASE", time.Second),
		},
		Redis: RedisConfig{
			Addr:        mustEnv("REDIS_ADDR", "127.0.0.1:6379"),
			Password:    mustEnv("REDIS_PASSWORD", ""),
			DB:          mustInt("REDIS_DB", 0),
			KeyPrefix:   mustEnv("REDIS_KEY_PREFIX", "campusbot:"),
			QueueStream: mustEnv("QUEUE_STREAM", "campusbot:turns"),
			QueueGroup:  mustEnv("QUEUE_GROUP", "campusbot-workers"),
			QueueBlock:  mustDuration("QUEUE_BLOCK", 5*time.Second),
			UpdateTTL:   mustDuration("UPDATE_DEDUPE_TTL", 6*time.Hour),
		},
		DB: DBConfig{
			Driver:      strings.ToLower(mustEnv("DB_DRIVER", "sqlite")),
			DSN:         mustEnv("DB_DSN", "file:campusbot.db?_pragma=busy_timeout(5000)"),
			AutoMigrate: mustBool("AUTO_MIGRATE", true),
		},
		Worker: WorkerConfig{
			Concurrency:  mustInt("WORKER_CONCURRENCY", 4),
			MaxRetries:   mustInt("WORKER_MAX_RETRIES", 2),
			ConsumerName: mustEnv("WORKER_CONSUMER_NAME", hostnameOr("worker")),
		},
		Rate: RateConfig{
			PerHour: int64(mustInt("RATE_LIMIT_PER_HOUR", 60)),
		},
		Admin: AdminConfig{
			SessionTTL: mustDuration("ADMIN_SESSION_TTL", 30*time.Minute),
		},
		Session: SessionConfig{
			IdleTTL: mustDuration("SESSION_IDLE_TTL", 2*time.Hour),
		},
		Knowledge: KnowledgeConfig{
			Path: mustEnv("KNOWLEDGE_PATH", "data/campus_data.json"),
		},
		Speech: SpeechConfig{
			Voices:       mustList("SPEECH_VOICES"),
			DefaultVoice: mustEnv("SPEECH_DEFAULT_VOICE", ""),
		},
		Log: LogConfig{
			Level: strings.ToLower(mustEnv("LOG_LEVEL", "info")),
		},
	}

	loc, err := time.LoadLocation(mustEnv("TZ_NAME", "Local"))
	if err != nil {
		return nil, fmt.Errorf("load TZ_NAME: %w", err)
	}
	cfg.Location = loc

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) Validate() error {
	if c.Model.APIKey == "" {
		return ErrMissingModelAPIKey
	}
	if c.OperatorSecret == "" {
		return ErrMissingOperatorKey
	}
	if c.DB.DSN == "" {
		return ErrMissingDatabaseDSN
	}
	if c.Knowledge.Path == "" {
		return ErrMissingKnowledgePath
	}
	if c.Model.MaxAttempts <= 0 {
		return ErrInvalidMaxAttempts
	}
	if c.AppMode != ModeAll && c.AppMode != ModeWebhook && c.AppMode != ModeWorker {
		return fmt.Errorf("unsupported APP_MODE %q", c.AppMode)
	}
	if c.Model.Provider != ProviderGemini && c.Model.Provider != ProviderOpenAICompat {
		return fmt.Errorf("unsupported MODEL_PROVIDER %q", c.Model.Provider)
	}
	return nil
}

func mustEnv(key string, def string) string {
	if v := os.Getenv(key); v != "" {
		return strings.TrimSpace(v)
	}
	return def
}

func mustInt(key string, def int) int {
	v := mustEnv(key, "")
	if v == "" {
		return def
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return def
	}
	return n
}

func mustBool(key string, def bool) bool {
	v := mustEnv(key, "")
	if v == "" {
		return def
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return def
	}
	return b
}

func mustDuration(key string, def time.Duration) time.Duration {
	v := mustEnv(key, "")
	if v == "" {
		return def
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return def
	}
	return d
}

func mustList(key string) []string {
	v := mustEnv(key, "")
	if v == "" {
		return nil
	}
	out := make([]string, 0)
	for _, part := range strings.Split(v, ",") {
		if p := strings.TrimSpace(part); p != "" {
			out = append(out, p)
		}
	}
	return out
}

func hostnameOr(def string) string {
	h, err := os.Hostname()
	if err != nil || strings.TrimSpace(h) == "" {
		return def
	}
	return h
}
