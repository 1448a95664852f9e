package config

import (
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/labstack/gommon/log"
)

// Provider names match the upstream registry APIs queried by the workers.
const (
	ProviderReceitaWS = "receitaws"
	ProviderCNPJWS    = "cnpjws"
	ProviderCNPJaOpen = "cnpja_open"
)

type ProviderConfig struct {
	Name           string
	Enabled        bool
	LimitPerMinute int
}

type Config struct {
	DatabaseURL string
	BindAddress string

	Providers []ProviderConfig

	MaxConcurrent    int
	MaxRetries       int
	AutoRestartQueue bool

	CooldownBase      time.Duration
	CooldownMax       time.Duration
	SafetyFactorLow   float64
	SafetyFactorHigh  float64
	SafetyThreshold   int

	PerRequestWait time.Duration
	HTTPTimeout    time.Duration

	RefillInterval time.Duration
	ReaperInterval time.Duration
	StuckThreshold time.Duration
}

// Load reads the environment into a Config. Every key has a default so the
// service boots with an empty environment (sqlite file, all providers on).
func Load() *Config {
	return &Config{
		DatabaseURL: os.Getenv("DATABASE_URL"),
		BindAddress: envString("BIND_ADDRESS", ":7070"),

		Providers: []ProviderConfig{
			loadProvider(ProviderReceitaWS, 3),
			loadProvider(ProviderCNPJWS, 3),
			loadProvider(ProviderCNPJaOpen, 5),
		},

		MaxConcurrent:    envInt("MAX_CONCURRENT_PROCESSING", 4),
		MaxRetries:       envInt("MAX_RETRY_ATTEMPTS", 3),
		AutoRestartQueue: envBool("AUTO_RESTART_QUEUE", true),

		CooldownBase:     envSeconds("API_COOLDOWN_AFTER_RATE_LIMIT", 60),
		CooldownMax:      envSeconds("API_COOLDOWN_MAX", 300),
		SafetyFactorLow:  envFloat("SAFETY_FACTOR_LOW", 0.7),
		SafetyFactorHigh: envFloat("SAFETY_FACTOR_HIGH", 0.8),
		SafetyThreshold:  envInt("SAFETY_THRESHOLD", 3),

		PerRequestWait: envSeconds("PER_REQUEST_WAIT", 30),
		HTTPTimeout:    envSeconds("PROVIDER_HTTP_TIMEOUT", 30),

		RefillInterval: envSeconds("QUEUE_REFILL_INTERVAL", 30),
		ReaperInterval: envSeconds("QUEUE_REAPER_INTERVAL", 60),
		StuckThreshold: envSeconds("QUEUE_STUCK_THRESHOLD", 180),
	}
}

// EnabledProviders filters the configured providers down to the active set.
func (c *Config) EnabledProviders() []ProviderConfig {
	var enabled []ProviderConfig
	for _, p := range c.Providers {
		if p.Enabled && p.LimitPerMinute > 0 {
			enabled = append(enabled, p)
		}
	}
	return enabled
}

func loadProvider(name string, defaultLimit int) ProviderConfig {
	key := strings.ToUpper(name)
	return ProviderConfig{
		Name:           name,
		Enabled:        envBool("PROVIDER_"+key+"_ENABLED", true),
		LimitPerMinute: envInt("PROVIDER_"+key+"_LIMIT", defaultLimit),
	}
}

func envString(key, fallback string) string {
	if val := os.Getenv(key); val != "" {
		return val
	}
	return fallback
}

func envBool(key string, fallback bool) bool {
	val := os.Getenv(key)
	if val == "" {
		return fallback
	}

	parsed, err := strconv.ParseBool(strings.ToLower(val))
	if err != nil {
		log.Warnf("invalid boolean for %s: %q, using default %v", key, val, fallback)
		return fallback
	}
	return parsed
}

func envInt(key string, fallback int) int {
	val := os.Getenv(key)
	if val == "" {
		return fallback
	}

	parsed, err := strconv.Atoi(val)
	if err != nil {
		log.Warnf("invalid integer for %s: %q, using default %d", key, val, fallback)
		return fallback
	}
	return parsed
}

func envFloat(key string, fallback float64) float64 {
	val := os.Getenv(key)
	if val == "" {
		return fallback
	}

	parsed, err := strconv.ParseFloat(val, 64)
	if err != nil {
		log.Warnf("invalid float for %s: %q, using default %.2f", key, val, fallback)
		return fallback
	}
	return parsed
}

func envSeconds(key string, fallback int) time.Duration {
	return time.Duration(envInt(key, fallback)) * time.Second
}
