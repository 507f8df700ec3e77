package config

import (
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// Journal backends for conversion saga state.
const (
	JournalMemory = "memory"
	JournalRedis  = "redis"
	JournalMySQL  = "mysql"
)

type Settings struct {
	ApiBaseURL      string
	RequestTimeout  time.Duration
	RateLimitPerSec int

	StaleTime  time.Duration
	MaxRetries int
	BaseDelay  time.Duration
	MaxDelay   time.Duration
	// second-level cache lifetime in redis; 0 disables it
	SharedCacheTTL time.Duration

	JournalBackend string
	LinkMaxRetries int

	PubSubTopic string
}

func init() {
	// Load env from .env
	godotenv.Load()
}

// LoadSettings reads the session settings from the environment.
//
//	API_BASE_URL                 (default http://localhost:8080)
//	API_TIMEOUT_SECONDS          (default 30)
//	API_RATE_LIMIT_PER_SEC       (default 20)
//	QUERY_STALE_TIME_MS          (default 30000)
//	QUERY_MAX_RETRIES            (default 3)
//	QUERY_BASE_DELAY_MS          (default 1000)
//	QUERY_MAX_DELAY_MS           (default 30000)
//	SHARED_CACHE_TTL_SECONDS     (default 0, disabled)
//	CONVERSION_JOURNAL           (memory|redis|mysql, default memory)
//	CONVERSION_LINK_MAX_RETRIES  (default 3)
//	PUBSUB_TOPIC
func LoadSettings() Settings {
	baseURL := strings.TrimSpace(os.Getenv("API_BASE_URL"))
	if baseURL == "" {
		baseURL = "http://localhost:8080"
	}
	journal := strings.ToLower(strings.TrimSpace(os.Getenv("CONVERSION_JOURNAL")))
	switch journal {
	case JournalRedis, JournalMySQL:
	default:
		journal = JournalMemory
	}

	return Settings{
		ApiBaseURL:      strings.TrimRight(baseURL, "/"),
		RequestTimeout:  time.Duration(intFromEnv("API_TIMEOUT_SECONDS", 30)) * time.Second,
		RateLimitPerSec: intFromEnv("API_RATE_LIMIT_PER_SEC", 20),
		StaleTime:       time.Duration(intFromEnv("QUERY_STALE_TIME_MS", 30000)) * time.Millisecond,
		MaxRetries:      intFromEnv("QUERY_MAX_RETRIES", 3),
		BaseDelay:       time.Duration(intFromEnv("QUERY_BASE_DELAY_MS", 1000)) * time.Millisecond,
		MaxDelay:        time.Duration(intFromEnv("QUERY_MAX_DELAY_MS", 30000)) * time.Millisecond,
		SharedCacheTTL:  time.Duration(intFromEnv("SHARED_CACHE_TTL_SECONDS", 0)) * time.Second,
		JournalBackend:  journal,
		LinkMaxRetries:  intFromEnv("CONVERSION_LINK_MAX_RETRIES", 3),
		PubSubTopic:     strings.TrimSpace(os.Getenv("PUBSUB_TOPIC")),
	}
}

func intFromEnv(key string, def int) int {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return def
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return def
	}
	return n
}

func boolFromEnv(key string, def bool) bool {
	v := strings.ToLower(strings.TrimSpace(os.Getenv(key)))
	if v == "" {
		return def
	}
	return v == "1" || v == "true" || v == "yes" || v == "y"
}

func min(a, b int) int {
	if a < b {
		return a
	}
	return b
}

// connectBackoff is the sleep between connection attempts: 2^attempt seconds, capped at 30s.
func connectBackoff(attempt int) time.Duration {
	sleep := time.Second * time.Duration(1<<min(attempt, 5))
	if sleep > 30*time.Second {
		sleep = 30 * time.Second
	}
	return sleep
}
