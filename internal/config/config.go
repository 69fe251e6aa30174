// Package config handles application configuration from environment variables.
package config

import (
	"fmt"
	"net/url"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
)

// Config holds all tunables recognized by the farming client, per the
// global configuration options it reads.
type Config struct {
	// IPCPassword turns on auth middleware on the (out-of-scope) IPC
	// front-end when non-empty. Carried here only because it is part of
	// the shared config surface; this module never reads it itself.
	IPCPassword string

	// LoadBalancingDelay staggers the Active Matcher's initial timer
	// delay across accounts, in seconds.
	LoadBalancingDelay time.Duration
	// InventoryLimiterDelay is the background delay before the global
	// inventory-fetch semaphore is released, in seconds.
	InventoryLimiterDelay time.Duration
	// WebLimiterDelay is the background delay before a per-host rate
	// guard is released, in milliseconds. Zero bypasses rate limiting
	// entirely.
	WebLimiterDelay time.Duration
	// ConnectionTimeout bounds every outgoing HTTP request, in seconds.
	ConnectionTimeout time.Duration
	// WebProxy is an optional proxy URI applied to all outgoing requests.
	WebProxy string
	// StatisticsServer is the base URL of the matching directory server
	// (announce/heartbeat/bots listing).
	StatisticsServer string

	LogLevel  string
	LogFormat string

	// DatabaseURL enables the optional Postgres-backed announcement
	// store. Empty uses the in-memory store. Tried-partner bookkeeping is
	// always kept in memory; no Postgres store reads or writes it.
	DatabaseURL string

	OTLPEndpoint string
}

// Tunable constants, per the platform's current limits.
const (
	MaxMatchedBotsHard               = 40
	MaxMatchedBotsSoft               = 20
	MaxMatchingRounds                = 10
	MinAnnouncementCheckTTL          = 6 * time.Hour
	MinHeartBeatTTL                  = 10 * time.Minute
	MinItemsCount                    = 100
	MinPersonaStateTTL               = 8 * time.Hour
	MaxItemsInSingleInventoryRequest = 5000
	ActiveMatchPeriod                = 8 * time.Hour
	InterRoundDelay                  = 5 * time.Minute
	ActiveMatchInitialBaseDelay      = time.Hour
	// MaxItemsPerTrade bounds the combined give+receive asset count of a
	// single trade-offer submission.
	MaxItemsPerTrade = 255
	// MaxTradesPerAccount bounds how many sub-trades a single call to
	// trade submission may split into when forceSingleOffer is false.
	MaxTradesPerAccount = 5
	// CommunityInventoryAppID and CommunityInventoryContextID identify
	// the single inventory container (trading cards, foils, emoticons,
	// backgrounds from every game) that announce and matcher both read.
	CommunityInventoryAppID     = 753
	CommunityInventoryContextID = 6
)

const (
	defaultConnectionTimeout     = 30 * time.Second
	defaultLoadBalancingDelay    = 0 * time.Second
	defaultInventoryLimiterDelay = 1 * time.Second
	defaultWebLimiterDelay       = 1000 * time.Millisecond
	defaultLogLevel              = "info"
	defaultLogFormat             = "text"
)

// Load reads configuration from environment variables, loading a local
// .env file first if one is present.
func Load() (*Config, error) {
	_ = godotenv.Load()

	cfg := &Config{
		IPCPassword:           os.Getenv("IPC_PASSWORD"),
		LoadBalancingDelay:    getEnvSeconds("LOAD_BALANCING_DELAY", defaultLoadBalancingDelay),
		InventoryLimiterDelay: getEnvSeconds("INVENTORY_LIMITER_DELAY", defaultInventoryLimiterDelay),
		WebLimiterDelay:       getEnvMillis("WEB_LIMITER_DELAY", defaultWebLimiterDelay),
		ConnectionTimeout:     getEnvSeconds("CONNECTION_TIMEOUT", defaultConnectionTimeout),
		WebProxy:              os.Getenv("WEB_PROXY"),
		StatisticsServer:      getEnv("STATISTICS_SERVER", "https://stats.platform.example"),
		LogLevel:              getEnv("LOG_LEVEL", defaultLogLevel),
		LogFormat:             getEnv("LOG_FORMAT", defaultLogFormat),
		DatabaseURL:           os.Getenv("DATABASE_URL"),
		OTLPEndpoint:          os.Getenv("OTEL_EXPORTER_OTLP_ENDPOINT"),
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks that configuration is internally consistent.
func (c *Config) Validate() error {
	if c.ConnectionTimeout <= 0 {
		return fmt.Errorf("CONNECTION_TIMEOUT must be positive, got %v", c.ConnectionTimeout)
	}
	if c.WebProxy != "" {
		if _, err := url.Parse(c.WebProxy); err != nil {
			return fmt.Errorf("WEB_PROXY is not a valid URI: %w", err)
		}
	}
	if _, err := url.Parse(c.StatisticsServer); err != nil {
		return fmt.Errorf("STATISTICS_SERVER is not a valid URI: %w", err)
	}
	return nil
}

// SessionValidityWindow is one-sixth of the configured connection
// timeout, per the Web Client's preemptive session probe cache.
func (c *Config) SessionValidityWindow() time.Duration {
	return c.ConnectionTimeout / 6
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvSeconds(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if i, err := strconv.ParseInt(value, 10, 64); err == nil {
			return time.Duration(i) * time.Second
		}
	}
	return defaultValue
}

func getEnvMillis(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if i, err := strconv.ParseInt(value, 10, 64); err == nil {
			return time.Duration(i) * time.Millisecond
		}
	}
	return defaultValue
}
