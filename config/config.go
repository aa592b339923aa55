package config

import (
	"encoding/json"
	"fmt"
	"log"
	"os"
	"strconv"
	"time"

	"github.com/tidwall/jsonc"
)

type Config struct {
	// Server configuration
	Port        string
	Environment string

	// Authority (ticket backend) configuration
	AuthorityBaseURL string
	AuthorityToken   string
	AuthorityTimeout time.Duration

	// Circuit breaker in front of the authority
	BreakerMinRequests  int
	BreakerFailureRatio float64
	BreakerInterval     time.Duration
	BreakerTimeout      time.Duration

	// Scanner configuration
	ScanRate          int // frames per second
	CameraSnapshotURL string
	ScannerDevice     string

	// Redis configuration
	RedisURL string

	// Manual entry limiter
	ManualEntryLimit  int
	ManualEntryWindow time.Duration

	// Sessions
	SessionIdleTTL time.Duration

	// PubNub configuration
	PubNubPublishKey   string
	PubNubSubscribeKey string
	PubNubSecretKey    string
	PubNubUserID       string

	// Monitoring
	EnableMetrics bool
	MetricsPort   string
}

// LoadConfig reads configuration from the environment. When GATE_CONFIG_FILE
// names a JSON file (comments and trailing commas allowed) its keys, spelled
// like the environment variables, fill in whatever the environment leaves unset.
func LoadConfig() *Config {
	file := map[string]string{}
	if path := os.Getenv("GATE_CONFIG_FILE"); path != "" {
		values, err := readFile(path)
		if err != nil {
			log.Printf("config: ignoring %s: %v", path, err)
		} else {
			file = values
		}
	}
	return load(file)
}

func load(file map[string]string) *Config {
	env := source{file: file}

	return &Config{
		// Server
		Port:        env.getEnv("PORT", "8090"),
		Environment: env.getEnv("ENVIRONMENT", "development"),

		// Authority
		AuthorityBaseURL: env.getEnv("AUTHORITY_BASE_URL", "http://localhost:8080/api/v1"),
		AuthorityToken:   env.getEnv("AUTHORITY_TOKEN", ""),
		AuthorityTimeout: env.getEnvAsDuration("AUTHORITY_TIMEOUT", "8s"),

		// Circuit breaker
		BreakerMinRequests:  env.getEnvAsInt("BREAKER_MIN_REQUESTS", 20),
		BreakerFailureRatio: env.getEnvAsFloat("BREAKER_FAILURE_RATIO", 0.6),
		BreakerInterval:     env.getEnvAsDuration("BREAKER_INTERVAL", "1m"),
		BreakerTimeout:      env.getEnvAsDuration("BREAKER_TIMEOUT", "30s"),

		// Scanner
		ScanRate:          env.getEnvAsInt("SCAN_RATE", 10),
		CameraSnapshotURL: env.getEnv("CAMERA_SNAPSHOT_URL", ""),
		ScannerDevice:     env.getEnv("SCANNER_DEVICE", ""),

		// Redis
		RedisURL: env.getEnv("REDIS_URL", ""),

		// Manual entry
		ManualEntryLimit:  env.getEnvAsInt("MANUAL_ENTRY_LIMIT", 20),
		ManualEntryWindow: env.getEnvAsDuration("MANUAL_ENTRY_WINDOW", "1m"),

		// Sessions
		SessionIdleTTL: env.getEnvAsDuration("SESSION_IDLE_TTL", "30m"),

		// PubNub
		PubNubPublishKey:   env.getEnv("PUBNUB_PUBLISH_KEY", ""),
		PubNubSubscribeKey: env.getEnv("PUBNUB_SUBSCRIBE_KEY", ""),
		PubNubSecretKey:    env.getEnv("PUBNUB_SECRET_KEY", ""),
		PubNubUserID:       env.getEnv("PUBNUB_USER_ID", "gate-verifier"),

		// Monitoring
		EnableMetrics: env.getEnvAsBool("ENABLE_METRICS", true),
		MetricsPort:   env.getEnv("METRICS_PORT", "9090"),
	}
}

func readFile(path string) (map[string]string, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	var raw map[string]any
	if err := json.Unmarshal(jsonc.ToJSON(data), &raw); err != nil {
		return nil, fmt.Errorf("parse: %w", err)
	}

	values := make(map[string]string, len(raw))
	for k, v := range raw {
		if v == nil {
			continue
		}
		values[k] = fmt.Sprint(v)
	}
	return values, nil
}

type source struct {
	file map[string]string
}

func (s source) getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	if value := s.file[key]; value != "" {
		return value
	}
	return defaultValue
}

func (s source) getEnvAsInt(key string, defaultValue int) int {
	valueStr := s.getEnv(key, "")
	if value, err := strconv.Atoi(valueStr); err == nil {
		return value
	}
	return defaultValue
}

func (s source) getEnvAsFloat(key string, defaultValue float64) float64 {
	valueStr := s.getEnv(key, "")
	if value, err := strconv.ParseFloat(valueStr, 64); err == nil {
		return value
	}
	return defaultValue
}

func (s source) getEnvAsBool(key string, defaultValue bool) bool {
	valueStr := s.getEnv(key, "")
	if value, err := strconv.ParseBool(valueStr); err == nil {
		return value
	}
	return defaultValue
}

func (s source) getEnvAsDuration(key string, defaultValue string) time.Duration {
	valueStr := s.getEnv(key, defaultValue)
	if duration, err := time.ParseDuration(valueStr); err == nil {
		return duration
	}
	// If parsing fails, try to parse default value
	duration, _ := time.ParseDuration(defaultValue)
	return duration
}
