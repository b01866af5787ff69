// config.go - Configuration for the pickup daemon.
//
// Values are resolved defaults < JSON config file < environment. A .env file
// is honored when present so local runs need no exported variables.

package main

import (
	"encoding/json"
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"

	"anonpickup/internal/pickup"
)

// Config represents the daemon configuration.
type Config struct {
	// Server
	ListenAddr string `json:"listen_addr"`

	// Protocol policy
	Owner                 string `json:"owner"`
	PlatformFeeBps        uint32 `json:"platform_fee_bps"`
	MaxPickupDays         int    `json:"max_pickup_days"`
	ProofFreshnessSeconds int    `json:"proof_freshness_seconds"`

	// Proving system artifacts
	KeyDir string `json:"key_dir"`

	// Persistence; empty selects the in-memory repository
	DatabaseURL string `json:"database_url"`

	// Logging
	LogLevel string `json:"log_level"`
	LogFile  string `json:"log_file"`

	// Rate limiting
	RateLimitPerMinute int `json:"rate_limit_per_minute"`
}

// DefaultConfig returns the default configuration.
func DefaultConfig() *Config {
	return &Config{
		ListenAddr:            ":8080",
		Owner:                 "owner",
		PlatformFeeBps:        100,
		MaxPickupDays:         14,
		ProofFreshnessSeconds: 600,
		KeyDir:                "keys",
		LogLevel:              "info",
		RateLimitPerMinute:    120,
	}
}

// LoadConfig resolves the configuration from defaults, an optional JSON file,
// and the environment.
func LoadConfig(configPath string) (*Config, error) {
	_ = godotenv.Load()

	cfg := DefaultConfig()
	if configPath != "" {
		if _, err := os.Stat(configPath); err == nil {
			f, err := os.Open(configPath)
			if err != nil {
				return nil, fmt.Errorf("open config file: %w", err)
			}
			defer f.Close()
			if err := json.NewDecoder(f).Decode(cfg); err != nil {
				return nil, fmt.Errorf("decode config file: %w", err)
			}
		}
	}

	cfg.ListenAddr = getEnv("LISTEN_ADDR", cfg.ListenAddr)
	cfg.Owner = getEnv("OWNER_ADDRESS", cfg.Owner)
	cfg.PlatformFeeBps = uint32(getEnvInt("PLATFORM_FEE_BPS", int(cfg.PlatformFeeBps)))
	cfg.MaxPickupDays = getEnvInt("MAX_PICKUP_DAYS", cfg.MaxPickupDays)
	cfg.ProofFreshnessSeconds = getEnvInt("PROOF_FRESHNESS_SECONDS", cfg.ProofFreshnessSeconds)
	cfg.KeyDir = getEnv("KEY_DIR", cfg.KeyDir)
	cfg.DatabaseURL = getEnv("DATABASE_URL", cfg.DatabaseURL)
	cfg.LogLevel = getEnv("LOG_LEVEL", cfg.LogLevel)
	cfg.LogFile = getEnv("LOG_FILE", cfg.LogFile)
	cfg.RateLimitPerMinute = getEnvInt("RATE_LIMIT_PER_MINUTE", cfg.RateLimitPerMinute)

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks ranges and delegates protocol policy to the registry config.
func (c *Config) Validate() error {
	if c.ListenAddr == "" {
		return fmt.Errorf("listen_addr must not be empty")
	}
	if c.RateLimitPerMinute <= 0 {
		return fmt.Errorf("rate_limit_per_minute must be positive")
	}
	return c.RegistryConfig().Validate()
}

// RegistryConfig maps the daemon configuration onto registry policy.
func (c *Config) RegistryConfig() pickup.Config {
	return pickup.Config{
		Owner:          pickup.Address(c.Owner),
		PlatformFeeBps: c.PlatformFeeBps,
		MaxPickupDays:  c.MaxPickupDays,
		ProofFreshness: time.Duration(c.ProofFreshnessSeconds) * time.Second,
	}
}

func getEnv(key, fallback string) string {
	if v, ok := os.LookupEnv(key); ok {
		return v
	}
	return fallback
}

func getEnvInt(key string, fallback int) int {
	if v, ok := os.LookupEnv(key); ok {
		if i, err := strconv.Atoi(v); err == nil {
			return i
		}
	}
	return fallback
}
