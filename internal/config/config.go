package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// Config contains all runtime settings for the task assistant service.
type Config struct {
	BindAddr                 string
	ShutdownTimeout          time.Duration
	SessionInactivityTimeout time.Duration
	MetricsNamespace         string
	LogLevel                 string

	AllowAnyOrigin bool

	StoreDriver string
	DatabaseURL string
	SQLitePath  string

	ModelProvider         string
	ModelFallbackProvider string
	ModelTimeout          time.Duration
	ModelTemperature      float64
	ModelMaxTokens        int

	OpenAIAPIKey  string
	OpenAIModel   string
	OpenAIBaseURL string

	GeminiAPIKey string
	GeminiModel  string

	ModelHTTPURL string

	HistoryLimit     int
	ContextTaskLimit int
	HintRulesFile    string
	StrictNameMatch  bool
}

// Load reads environment variables and applies safe defaults.
func Load() (Config, error) {
	cfg := Config{
		BindAddr:         envOrDefault("APP_BIND_ADDR", ":8080"),
		MetricsNamespace: envOrDefault("APP_METRICS_NAMESPACE", "taskpilot"),
		LogLevel:         envOrDefault("LOG_LEVEL", "info"),
		AllowAnyOrigin:   false,
		StoreDriver:      strings.ToLower(stringsTrimSpace("STORE_DRIVER")),
		DatabaseURL:      stringsTrimSpace("DATABASE_URL"),
		SQLitePath:       envOrDefault("SQLITE_PATH", "taskpilot.db"),
		ModelProvider:    envOrDefault("MODEL_PROVIDER", "auto"),
		// Empty means "no secondary provider".
		ModelFallbackProvider: stringsTrimSpace("MODEL_FALLBACK_PROVIDER"),
		OpenAIAPIKey:          stringsTrimSpace("OPENAI_API_KEY"),
		OpenAIModel:           envOrDefault("OPENAI_MODEL", "gpt-4o-mini"),
		OpenAIBaseURL:         stringsTrimSpace("OPENAI_BASE_URL"),
		GeminiAPIKey:          stringsTrimSpace("GEMINI_API_KEY"),
		GeminiModel:           envOrDefault("GEMINI_MODEL", "gemini-1.5-flash"),
		ModelHTTPURL:          stringsTrimSpace("MODEL_HTTP_URL"),
		HintRulesFile:         stringsTrimSpace("HINT_RULES_FILE"),
		// Low temperature keeps the model on the action-block format.
		ModelTemperature:         0.1,
		ModelMaxTokens:           1000,
		ModelTimeout:             45 * time.Second,
		HistoryLimit:             5,
		ContextTaskLimit:         20,
		ShutdownTimeout:          15 * time.Second,
		SessionInactivityTimeout: 30 * time.Minute,
	}
	if cfg.StoreDriver == "" {
		cfg.StoreDriver = "memory"
		if cfg.DatabaseURL != "" {
			cfg.StoreDriver = "postgres"
		}
	}

	var err error
	cfg.ShutdownTimeout, err = durationFromEnv("APP_SHUTDOWN_TIMEOUT", cfg.ShutdownTimeout)
	if err != nil {
		return Config{}, err
	}
	cfg.SessionInactivityTimeout, err = durationFromEnv("APP_SESSION_INACTIVITY_TIMEOUT", cfg.SessionInactivityTimeout)
	if err != nil {
		return Config{}, err
	}
	cfg.ModelTimeout, err = durationFromEnv("MODEL_TIMEOUT", cfg.ModelTimeout)
	if err != nil {
		return Config{}, err
	}
	cfg.ModelTemperature, err = floatFromEnv("MODEL_TEMPERATURE", cfg.ModelTemperature)
	if err != nil {
		return Config{}, err
	}
	cfg.ModelMaxTokens, err = intFromEnv("MODEL_MAX_TOKENS", cfg.ModelMaxTokens)
	if err != nil {
		return Config{}, err
	}
	cfg.HistoryLimit, err = intFromEnv("HISTORY_LIMIT", cfg.HistoryLimit)
	if err != nil {
		return Config{}, err
	}
	cfg.ContextTaskLimit, err = intFromEnv("CONTEXT_TASK_LIMIT", cfg.ContextTaskLimit)
	if err != nil {
		return Config{}, err
	}
	cfg.AllowAnyOrigin, err = boolFromEnv("APP_ALLOW_ANY_ORIGIN", cfg.AllowAnyOrigin)
	if err != nil {
		return Config{}, err
	}
	cfg.StrictNameMatch, err = boolFromEnv("STRICT_NAME_MATCH", cfg.StrictNameMatch)
	if err != nil {
		return Config{}, err
	}

	if cfg.SessionInactivityTimeout < 5*time.Second {
		return Config{}, fmt.Errorf("APP_SESSION_INACTIVITY_TIMEOUT must be at least 5s")
	}
	if cfg.ModelTimeout <= 0 {
		return Config{}, fmt.Errorf("MODEL_TIMEOUT must be positive")
	}
	if cfg.ModelMaxTokens <= 0 {
		return Config{}, fmt.Errorf("MODEL_MAX_TOKENS must be positive")
	}
	if cfg.HistoryLimit <= 0 {
		return Config{}, fmt.Errorf("HISTORY_LIMIT must be positive")
	}
	if cfg.ContextTaskLimit < 0 {
		return Config{}, fmt.Errorf("CONTEXT_TASK_LIMIT must be >= 0")
	}
	switch cfg.StoreDriver {
	case "memory", "sqlite":
	case "postgres":
		if cfg.DatabaseURL == "" {
			return Config{}, fmt.Errorf("STORE_DRIVER=postgres requires DATABASE_URL")
		}
	default:
		return Config{}, fmt.Errorf("invalid STORE_DRIVER: %q (expected memory|postgres|sqlite)", cfg.StoreDriver)
	}

	return cfg, nil
}

func envOrDefault(key, fallback string) string {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	return v
}

func stringsTrimSpace(key string) string {
	return strings.TrimSpace(os.Getenv(key))
}

func durationFromEnv(key string, fallback time.Duration) (time.Duration, error) {
	v := stringsTrimSpace(key)
	if v == "" {
		return fallback, nil
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return 0, fmt.Errorf("%s parse error: %w", key, err)
	}
	return d, nil
}

func intFromEnv(key string, fallback int) (int, error) {
	v := stringsTrimSpace(key)
	if v == "" {
		return fallback, nil
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return 0, fmt.Errorf("%s parse error: %w", key, err)
	}
	return n, nil
}

func floatFromEnv(key string, fallback float64) (float64, error) {
	v := stringsTrimSpace(key)
	if v == "" {
		return fallback, nil
	}
	f, err := strconv.ParseFloat(v, 64)
	if err != nil {
		return 0, fmt.Errorf("%s parse error: %w", key, err)
	}
	return f, nil
}

func boolFromEnv(key string, fallback bool) (bool, error) {
	v := strings.ToLower(stringsTrimSpace(key))
	if v == "" {
		return fallback, nil
	}
	switch v {
	case "1", "true", "t", "yes", "y", "on":
		return true, nil
	case "0", "false", "f", "no", "n", "off":
		return false, nil
	default:
		return false, fmt.Errorf("%s parse error: expected bool", key)
	}
}
