// Package config provides environment based configuration for the gateway.
package config

import (
	"os"
	"strconv"
	"time"
)

// Config holds the gateway configuration.
type Config struct {
	// Server settings
	Addr string

	// Provider credentials. Empty keys leave that provider out of the
	// failover chain.
	AnthropicAPIKey string
	OpenAIAPIKey    string

	// Catalog files
	AgentCatalogPath string
	PolicyPath       string

	// Pipeline tuning
	LatencyBudget    time.Duration
	SilenceTimeout   time.Duration
	InterventionWait time.Duration
	MaxTurns         int

	// Session lifecycle
	SessionTTL time.Duration

	// Logging
	LogLevel  string
	LogFormat string
}

// Load loads configuration from environment variables.
func Load() *Config {
	return &Config{
		Addr:             getEnv("ADDR", ":8080"),
		AnthropicAPIKey:  getEnv("ANTHROPIC_API_KEY", ""),
		OpenAIAPIKey:     getEnv("OPENAI_API_KEY", ""),
		AgentCatalogPath: getEnv("AGENT_CATALOG_PATH", "agents.json"),
		PolicyPath:       getEnv("POLICY_PATH", ""),
		LatencyBudget:    time.Duration(getEnvInt("LATENCY_BUDGET_MS", 2500)) * time.Millisecond,
		SilenceTimeout:   time.Duration(getEnvInt("SILENCE_TIMEOUT_MS", 15000)) * time.Millisecond,
		InterventionWait: time.Duration(getEnvInt("INTERVENTION_WAIT_MS", 10000)) * time.Millisecond,
		MaxTurns:         getEnvInt("MAX_TURNS", 50),
		SessionTTL:       time.Duration(getEnvInt("SESSION_TTL_MS", 1800000)) * time.Millisecond,
		LogLevel:         getEnv("LOG_LEVEL", "info"),
		LogFormat:        getEnv("LOG_FORMAT", "json"),
	}
}

func getEnv(key, defaultVal string) string {
	if val := os.Getenv(key); val != "" {
		return val
	}
	return defaultVal
}

func getEnvInt(key string, defaultVal int) int {
	if val := os.Getenv(key); val != "" {
		if intVal, err := strconv.Atoi(val); err == nil {
			return intVal
		}
	}
	return defaultVal
}
