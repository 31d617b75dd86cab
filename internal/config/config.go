package config

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"

	"mail-pilot/internal/domain"
)

const productionBasePath = "/mail-pilot"

// Config is the process configuration. Environment variables are read only here.
type Config struct {
	AppEnv          string
	Port            string
	BasePath        string
	AllowedOrigin   string
	Mode            domain.Mode
	MinPromptLength int

	WebhookURL     string
	WebhookTimeout time.Duration

	OpenAIAPIKey  string
	OpenAIBaseURL string
	OpenAIModel   string

	ParamPrefix     string
	TranscriptTable string
	TranscriptTTL   time.Duration
	LogFormat       string
}

// Load reads an optional .env file and then the environment.
func Load() (Config, error) {
	_ = godotenv.Load()
	return fromLookup(os.LookupEnv)
}

func fromLookup(lookup func(string) (string, bool)) (Config, error) {
	get := func(key, def string) string {
		if v, ok := lookup(key); ok && strings.TrimSpace(v) != "" {
			return strings.TrimSpace(v)
		}
		return def
	}

	mode, err := domain.ParseMode(get("MAIL_PILOT_MODE", string(domain.ModeExtract)))
	if err != nil {
		return Config{}, fmt.Errorf("config: %w", err)
	}

	appEnv := get("APP_ENV", "development")
	basePath := get("BASE_PATH", "")
	if basePath == "" && appEnv == "production" {
		basePath = productionBasePath
	}

	minLen, err := envInt("MIN_PROMPT_LENGTH", get("MIN_PROMPT_LENGTH", ""), mode.DefaultMinPromptLength())
	if err != nil {
		return Config{}, err
	}
	webhookTimeout, err := envDuration("WEBHOOK_TIMEOUT", get("WEBHOOK_TIMEOUT", ""), 0)
	if err != nil {
		return Config{}, err
	}
	transcriptTTL, err := envDuration("TRANSCRIPT_TTL", get("TRANSCRIPT_TTL", ""), time.Hour)
	if err != nil {
		return Config{}, err
	}

	cfg := Config{
		AppEnv:          appEnv,
		Port:            get("PORT", "8080"),
		BasePath:        normalizeBasePath(basePath),
		AllowedOrigin:   get("ALLOWED_ORIGIN", "*"),
		Mode:            mode,
		MinPromptLength: minLen,
		WebhookURL:      get("WEBHOOK_URL", ""),
		WebhookTimeout:  webhookTimeout,
		OpenAIAPIKey:    get("OPENAI_API_KEY", ""),
		OpenAIBaseURL:   get("OPENAI_BASE_URL", ""),
		OpenAIModel:     get("OPENAI_MODEL", "gpt-4o-mini"),
		ParamPrefix:     strings.TrimRight(get("PARAM_PREFIX", ""), "/"),
		TranscriptTable: get("TRANSCRIPT_TABLE", ""),
		TranscriptTTL:   transcriptTTL,
		LogFormat:       get("LOG_FORMAT", "text"),
	}
	if cfg.MinPromptLength < 1 {
		return Config{}, errors.New("config: MIN_PROMPT_LENGTH must be at least 1")
	}
	return cfg, nil
}

// NeedsParamStore reports whether a secret must be resolved from SSM.
func (c Config) NeedsParamStore() bool {
	if c.WebhookURL == "" {
		return true
	}
	return c.Mode == domain.ModeExtract && c.OpenAIAPIKey == ""
}

// NewLogger returns the process logger in the configured format.
func (c Config) NewLogger() *slog.Logger {
	if c.LogFormat == "json" {
		return slog.New(slog.NewJSONHandler(os.Stdout, nil))
	}
	return slog.New(slog.NewTextHandler(os.Stdout, nil))
}

func normalizeBasePath(p string) string {
	p = strings.TrimSpace(p)
	if p == "" || p == "/" {
		return ""
	}
	if !strings.HasPrefix(p, "/") {
		p = "/" + p
	}
	return strings.TrimRight(p, "/")
}

func envInt(key, v string, def int) (int, error) {
	if v == "" {
		return def, nil
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return 0, fmt.Errorf("config: %s must be an integer: %w", key, err)
	}
	return n, nil
}

func envDuration(key, v string, def time.Duration) (time.Duration, error) {
	if v == "" {
		return def, nil
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return 0, fmt.Errorf("config: %s must be a duration like 30s: %w", key, err)
	}
	if d < 0 {
		return 0, fmt.Errorf("config: %s must not be negative", key)
	}
	return d, nil
}
