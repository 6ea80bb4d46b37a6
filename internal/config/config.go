package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

type Config struct {
	Server    ServerConfig
	Database  DatabaseConfig
	Redis     RedisConfig
	Auth      AuthConfig
	LLM       LLMConfig
	RateLimit RateLimitConfig
	Tests     TestsConfig
}

type ServerConfig struct {
	Host        string
	Port        int
	CORSOrigins []string
}

type DatabaseConfig struct {
	URL      string
	MaxConns int
	MinConns int
}

type RedisConfig struct {
	Addr     string
	Password string
	DB       int
}

type AuthConfig struct {
	JWTSecret     string
	AccessTTL     time.Duration
	RefreshTTL    time.Duration
	APIKeyHeader  string
	AdminEmail    string
	AdminPassword string
}

type LLMConfig struct {
	OpenAIKey        string
	AnthropicKey     string
	GeminiKey        string
	OllamaURL        string
	DefaultProvider  string
	DefaultModel     string
	FallbackProvider string
	MaxRetries       int
	EmbeddingModel   string
}

type RateLimitConfig struct {
	RPS             float64
	Burst           int
	AIPerIPPerHour  int
	AIPerUserPerDay int
}

type TestsConfig struct {
	RunConcurrency int
}

func Load() (*Config, error) {
	port, err := getEnvInt("SERVER_PORT", 8000)
	if err != nil {
		return nil, fmt.Errorf("invalid SERVER_PORT: %w", err)
	}

	maxConns, err := getEnvInt("DB_MAX_CONNS", 20)
	if err != nil {
		return nil, fmt.Errorf("invalid DB_MAX_CONNS: %w", err)
	}

	minConns, err := getEnvInt("DB_MIN_CONNS", 2)
	if err != nil {
		return nil, fmt.Errorf("invalid DB_MIN_CONNS: %w", err)
	}

	redisDB, err := getEnvInt("REDIS_DB", 0)
	if err != nil {
		return nil, fmt.Errorf("invalid REDIS_DB: %w", err)
	}

	accessMin, err := getEnvInt("JWT_ACCESS_EXPIRES_MIN", 15)
	if err != nil {
		return nil, fmt.Errorf("invalid JWT_ACCESS_EXPIRES_MIN: %w", err)
	}

	refreshDays, err := getEnvInt("JWT_REFRESH_EXPIRES_DAYS", 7)
	if err != nil {
		return nil, fmt.Errorf("invalid JWT_REFRESH_EXPIRES_DAYS: %w", err)
	}

	maxRetries, err := getEnvInt("LLM_MAX_RETRIES", 3)
	if err != nil {
		return nil, fmt.Errorf("invalid LLM_MAX_RETRIES: %w", err)
	}

	rps, err := getEnvFloat("RATE_LIMIT_RPS", 20)
	if err != nil {
		return nil, fmt.Errorf("invalid RATE_LIMIT_RPS: %w", err)
	}

	burst, err := getEnvInt("RATE_LIMIT_BURST", 40)
	if err != nil {
		return nil, fmt.Errorf("invalid RATE_LIMIT_BURST: %w", err)
	}

	aiPerIP, err := getEnvInt("AI_MAX_REQUESTS_PER_IP_PER_HOUR", 10)
	if err != nil {
		return nil, fmt.Errorf("invalid AI_MAX_REQUESTS_PER_IP_PER_HOUR: %w", err)
	}

	aiPerUser, err := getEnvInt("AI_MAX_REQUESTS_PER_USER_PER_DAY", 50)
	if err != nil {
		return nil, fmt.Errorf("invalid AI_MAX_REQUESTS_PER_USER_PER_DAY: %w", err)
	}

	concurrency, err := getEnvInt("TEST_RUN_CONCURRENCY", 4)
	if err != nil {
		return nil, fmt.Errorf("invalid TEST_RUN_CONCURRENCY: %w", err)
	}
	if concurrency < 1 {
		concurrency = 1
	}

	cfg := &Config{
		Server: ServerConfig{
			Host:        getEnv("SERVER_HOST", "0.0.0.0"),
			Port:        port,
			CORSOrigins: splitList(getEnv("CORS_ORIGINS", "http://localhost:3000")),
		},
		Database: DatabaseConfig{
			URL:      getEnv("DATABASE_URL", ""),
			MaxConns: maxConns,
			MinConns: minConns,
		},
		Redis: RedisConfig{
			Addr:     getEnv("REDIS_ADDR", "localhost:6379"),
			Password: getEnv("REDIS_PASSWORD", ""),
			DB:       redisDB,
		},
		Auth: AuthConfig{
			JWTSecret:     getEnv("JWT_SECRET", ""),
			AccessTTL:     time.Duration(accessMin) * time.Minute,
			RefreshTTL:    time.Duration(refreshDays) * 24 * time.Hour,
			APIKeyHeader:  getEnv("API_KEY_HEADER", "X-API-Key"),
			AdminEmail:    getEnv("ADMIN_EMAIL", ""),
			AdminPassword: getEnv("ADMIN_PASSWORD", ""),
		},
		LLM: LLMConfig{
			OpenAIKey:        getEnv("OPENAI_API_KEY", ""),
			AnthropicKey:     getEnv("ANTHROPIC_API_KEY", ""),
			GeminiKey:        getEnv("GEMINI_API_KEY", ""),
			OllamaURL:        getEnv("OLLAMA_URL", "http://localhost:11434"),
			DefaultProvider:  getEnv("LLM_DEFAULT_PROVIDER", "gemini"),
			DefaultModel:     getEnv("LLM_DEFAULT_MODEL", "gemini-2.5-flash"),
			FallbackProvider: getEnv("LLM_FALLBACK_PROVIDER", ""),
			MaxRetries:       maxRetries,
			EmbeddingModel:   getEnv("LLM_EMBEDDING_MODEL", "text-embedding-3-small"),
		},
		RateLimit: RateLimitConfig{
			RPS:             rps,
			Burst:           burst,
			AIPerIPPerHour:  aiPerIP,
			AIPerUserPerDay: aiPerUser,
		},
		Tests: TestsConfig{
			RunConcurrency: concurrency,
		},
	}

	return cfg, nil
}

func (c *Config) Addr() string {
	return fmt.Sprintf("%s:%d", c.Server.Host, c.Server.Port)
}

func (c *Config) Validate() error {
	var missing []string
	if c.Database.URL == "" {
		missing = append(missing, "DATABASE_URL")
	}
	if c.Auth.JWTSecret == "" {
		missing = append(missing, "JWT_SECRET")
	}
	if len(missing) > 0 {
		return fmt.Errorf("missing required env vars: %s", strings.Join(missing, ", "))
	}
	return nil
}

func getEnv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func getEnvInt(key string, fallback int) (int, error) {
	v := os.Getenv(key)
	if v == "" {
		return fallback, nil
	}
	return strconv.Atoi(v)
}

func getEnvFloat(key string, fallback float64) (float64, error) {
	v := os.Getenv(key)
	if v == "" {
		return fallback, nil
	}
	return strconv.ParseFloat(v, 64)
}

func splitList(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if p := strings.TrimSpace(part); p != "" {
			out = append(out, p)
		}
	}
	return out
}
