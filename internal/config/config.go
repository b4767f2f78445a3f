// Package config loads the gateway configuration from the environment.
// Missing credentials never abort startup; the dependent component
// degrades to its documented fail-closed or fallback behavior instead.
package config

import (
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
)

type Config struct {
	Port string

	// Safety classifier.
	SafetyAPIKey  string
	SafetyBaseURL string
	SafetyModel   string

	// Downstream generation provider.
	GenerationBaseURL string
	GenerationAPIKey  string

	// Referrer transformer.
	BadDomains    string
	TextGenBaseURL string

	// Placeholder image hosting.
	ImageHostURL    string
	ImageHostAPIKey string

	// Persistence.
	StatsFile           string
	ResolutionCacheFile string

	// Result cache.
	CacheBackend string // "memory" or "redis"
	RedisAddr    string
	CacheTTL     time.Duration

	CoalescerMaxEntries int
}

// Load reads the environment, honoring a .env file when present.
func Load() Config {
	// Missing .env is the normal production case.
	_ = godotenv.Load()

	return Config{
		Port: getenv("PORT", "8080"),

		SafetyAPIKey:  os.Getenv("SAFETY_API_KEY"),
		SafetyBaseURL: getenv("SAFETY_BASE_URL", "https://api.openai.com"),
		SafetyModel:   getenv("SAFETY_MODEL", "gpt-4o-mini"),

		GenerationBaseURL: getenv("GENERATION_BASE_URL", "https://api.openai.com"),
		GenerationAPIKey:  os.Getenv("GENERATION_API_KEY"),

		BadDomains:     os.Getenv("BAD_DOMAINS"),
		TextGenBaseURL: os.Getenv("TEXTGEN_BASE_URL"),

		ImageHostURL:    os.Getenv("IMAGE_HOST_URL"),
		ImageHostAPIKey: os.Getenv("IMAGE_HOST_API_KEY"),

		StatsFile:           getenv("STATS_FILE", "data/user-stats.json"),
		ResolutionCacheFile: getenv("RESOLUTION_CACHE_FILE", "data/resolution-cache.json"),

		CacheBackend: getenv("CACHE_BACKEND", "memory"),
		RedisAddr:    getenv("REDIS_ADDR", "127.0.0.1:6379"),
		CacheTTL:     getenvDuration("CACHE_TTL", 5*time.Minute),

		CoalescerMaxEntries: getenvInt("COALESCER_MAX_ENTRIES", 256),
	}
}

// getenv returns the value of the environment variable key or def if not set.
func getenv(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func getenvInt(key string, def int) int {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return def
}

func getenvDuration(key string, def time.Duration) time.Duration {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			return d
		}
	}
	return def
}
