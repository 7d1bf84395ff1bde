// Package config loads server configuration from environment variables.
package config

import (
	"os"
	"strconv"
	"time"
)

// Config holds gateway configuration.
type Config struct {
	ListenAddr string
	LogLevel   string

	// PolicyPath is the YAML policy document watched for reloads.
	PolicyPath string

	// DBDriver is "postgres" or "sqlite"; DBDSN is the matching DSN.
	DBDriver string
	DBDSN    string

	// RedisAddr enables the shared rate limiter and review queue when set.
	RedisAddr string

	GraphURL    string
	GraphAPIKey string
	WeaviateURL string

	// APIKey gates every endpoint; JWTSecret additionally enables bearer
	// token auth when set.
	APIKey    string
	JWTSecret string

	OTLPEndpoint string

	// HTTPRatePerSec and HTTPBurst bound per-IP request rates at the edge,
	// before the per-source policy limits apply.
	HTTPRatePerSec int
	HTTPBurst      int

	// PromoteInterval is how often the shadow promotion sweep runs;
	// OutboxPollInterval how often the outbox worker polls for due intents.
	PromoteInterval    time.Duration
	OutboxPollInterval time.Duration
}

// Load reads configuration from environment variables, with local-development
// defaults for everything but the API key.
func Load() *Config {
	return &Config{
		ListenAddr:         getenv("CLAIMGATE_LISTEN", ":8080"),
		LogLevel:           getenv("CLAIMGATE_LOG_LEVEL", "INFO"),
		PolicyPath:         getenv("CLAIMGATE_POLICY", "policy.yaml"),
		DBDriver:           getenv("CLAIMGATE_DB_DRIVER", "sqlite"),
		DBDSN:              getenv("CLAIMGATE_DB_DSN", "file:claimgate.db?_pragma=journal_mode(WAL)"),
		RedisAddr:          os.Getenv("CLAIMGATE_REDIS_ADDR"),
		GraphURL:           getenv("CLAIMGATE_GRAPH_URL", "http://localhost:7200"),
		GraphAPIKey:        os.Getenv("CLAIMGATE_GRAPH_API_KEY"),
		WeaviateURL:        os.Getenv("CLAIMGATE_WEAVIATE_URL"),
		APIKey:             os.Getenv("CLAIMGATE_API_KEY"),
		JWTSecret:          os.Getenv("CLAIMGATE_JWT_SECRET"),
		OTLPEndpoint:       os.Getenv("CLAIMGATE_OTLP_ENDPOINT"),
		HTTPRatePerSec:     getint("CLAIMGATE_HTTP_RPS", 50),
		HTTPBurst:          getint("CLAIMGATE_HTTP_BURST", 100),
		PromoteInterval:    getduration("CLAIMGATE_PROMOTE_INTERVAL", time.Minute),
		OutboxPollInterval: getduration("CLAIMGATE_OUTBOX_POLL", 2*time.Second),
	}
}

func getenv(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func getint(key string, def int) int {
	v := os.Getenv(key)
	if v == "" {
		return def
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return def
	}
	return n
}

func getduration(key string, def time.Duration) time.Duration {
	v := os.Getenv(key)
	if v == "" {
		return def
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return def
	}
	return d
}
