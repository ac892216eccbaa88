package config

import (
	"os"
	"strconv"
	"strings"
	"time"
)

type Config struct {
	Port           string
	Environment    string
	LogLevel       string
	AllowedOrigins []string
	JWTSecret      string
	Registry       RegistryConfig
	Redis          RedisConfig
	Translate      TranslateConfig
	Records        RecordsConfig
}

// RegistryConfig selects the room registry backend.
// "memory" serves a single instance, "redis" shares membership between instances.
type RegistryConfig struct {
	Backend string
}

type RedisConfig struct {
	Host     string
	Port     string
	Password string
	DB       int
}

type TranslateConfig struct {
	Endpoint string
	Timeout  time.Duration
}

type RecordsConfig struct {
	BaseURL string
	Timeout time.Duration
}

func Load() *Config {
	// Parse allowed origins (comma-separated)
	origins := splitList(getEnv("ALLOWED_ORIGINS", "http://localhost:3000,http://localhost:5173"))

	return &Config{
		Port:           getEnv("PORT", "8080"),
		Environment:    getEnv("ENVIRONMENT", "development"),
		LogLevel:       getEnv("LOG_LEVEL", "info"),
		AllowedOrigins: origins,
		JWTSecret:      getEnv("JWT_SECRET", "change-me-in-production"),
		Registry: RegistryConfig{
			Backend: getEnv("REGISTRY_BACKEND", "memory"),
		},
		Redis: RedisConfig{
			Host:     getEnv("REDIS_HOST", "localhost"),
			Port:     getEnv("REDIS_PORT", "6379"),
			Password: getEnv("REDIS_PASSWORD", ""),
			DB:       getEnvInt("REDIS_DB", 0),
		},
		Translate: TranslateConfig{
			Endpoint: getEnv("TRANSLATE_ENDPOINT", "https://translate.googleapis.com/translate_a/single"),
			Timeout:  getEnvDuration("TRANSLATE_TIMEOUT", 5*time.Second),
		},
		Records: RecordsConfig{
			BaseURL: getEnv("RECORDS_BASE_URL", "http://localhost:8000"),
			Timeout: getEnvDuration("RECORDS_TIMEOUT", 5*time.Second),
		},
	}
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if n, err := strconv.Atoi(value); err == nil {
			return n
		}
	}
	return defaultValue
}

func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if d, err := time.ParseDuration(value); err == nil {
			return d
		}
	}
	return defaultValue
}

func splitList(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}
