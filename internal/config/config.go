package config

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strconv"
	"strings"

	"github.com/joho/godotenv"
)

// Cache modes.
const (
	CacheModeLocal = "local"
	CacheModeQueue = "queue"
)

// LLM providers.
const (
	ProviderAnthropic = "anthropic"
	ProviderGemini    = "gemini"
	ProviderOllama    = "ollama"
)

type Config struct {
	Port        string
	Environment string
	LogLevel    slog.Level
	// Debug reports internal error messages to clients.
	Debug bool

	LLMProvider     string
	ModelName       string
	AnthropicAPIKey string
	GeminiAPIKey    string
	OllamaURL       string
	ImageModelName  string
	ImagesEnabled   bool
	GenerateRetries int
	ContentRating   string

	RedisURL      string
	LocalDBPath   string
	MongoURI      string
	MongoDatabase string

	CacheMode      string
	WorkerPoolSize int
	WorkerID       string
}

// Load reads the configuration from the environment. Values in a .env file
// in the working directory are used when present.
func Load() (*Config, error) {
	_ = godotenv.Load()

	cfg := &Config{
		Port:        getEnv("PORT", "8080"),
		Environment: getEnv("ENVIRONMENT", "development"),
		LogLevel:    parseLogLevel(getEnv("LOG_LEVEL", "info")),
		Debug:       getEnvBool("DEBUG", false),

		LLMProvider:     strings.ToLower(getEnv("LLM_PROVIDER", ProviderAnthropic)),
		ModelName:       getEnv("MODEL_NAME", ""),
		AnthropicAPIKey: getEnv("ANTHROPIC_API_KEY", ""),
		GeminiAPIKey:    getEnv("GEMINI_API_KEY", ""),
		OllamaURL:       getEnv("OLLAMA_URL", "http://localhost:11434"),
		ImageModelName:  getEnv("IMAGE_MODEL_NAME", "imagen-3.0-generate-002"),
		ImagesEnabled:   getEnvBool("IMAGES_ENABLED", false),
		GenerateRetries: getEnvInt("GENERATE_RETRIES", 2),
		ContentRating:   getEnv("CONTENT_RATING", "PG13"),

		RedisURL:      getEnv("REDIS_URL", ""),
		LocalDBPath:   getEnv("LOCAL_DB_PATH", "gamemaster.db"),
		MongoURI:      getEnv("MONGODB_URI", ""),
		MongoDatabase: getEnv("MONGODB_DATABASE", "gamemaster"),

		CacheMode:      strings.ToLower(getEnv("CACHE_MODE", CacheModeLocal)),
		WorkerPoolSize: getEnvInt("WORKER_POOL_SIZE", 8),
		WorkerID:       getEnv("WORKER_ID", ""),
	}
	if cfg.ModelName == "" {
		cfg.ModelName = defaultModel(cfg.LLMProvider)
	}
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func defaultModel(provider string) string {
	switch provider {
	case ProviderGemini:
		return "gemini-2.0-flash"
	case ProviderOllama:
		return "llama3.1"
	default:
		return "claude-3-5-haiku-latest"
	}
}

func (c *Config) validate() error {
	switch c.LLMProvider {
	case ProviderAnthropic:
		if c.AnthropicAPIKey == "" {
			return errors.New("ANTHROPIC_API_KEY is required when using the anthropic provider")
		}
	case ProviderGemini:
		if c.GeminiAPIKey == "" {
			return errors.New("GEMINI_API_KEY is required when using the gemini provider")
		}
	case ProviderOllama:
	default:
		return fmt.Errorf("invalid LLM provider %q, supported: anthropic, gemini, ollama", c.LLMProvider)
	}
	if c.ImagesEnabled && c.GeminiAPIKey == "" {
		return errors.New("GEMINI_API_KEY is required when images are enabled")
	}
	switch c.CacheMode {
	case CacheModeLocal:
	case CacheModeQueue:
		if c.RedisURL == "" {
			return errors.New("REDIS_URL is required in queue cache mode")
		}
	default:
		return fmt.Errorf("invalid cache mode %q, supported: local, queue", c.CacheMode)
	}
	if c.LocalDBPath == "" && c.MongoURI == "" {
		return errors.New("either LOCAL_DB_PATH or MONGODB_URI must be set")
	}
	return nil
}

func parseLogLevel(level string) slog.Level {
	switch strings.ToLower(level) {
	case "debug":
		return slog.LevelDebug
	case "info":
		return slog.LevelInfo
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvBool(key string, defaultValue bool) bool {
	v, err := strconv.ParseBool(os.Getenv(key))
	if err != nil {
		return defaultValue
	}
	return v
}

func getEnvInt(key string, defaultValue int) int {
	v, err := strconv.Atoi(os.Getenv(key))
	if err != nil || v <= 0 {
		return defaultValue
	}
	return v
}
