// Package config provides application configuration.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// Config holds all application configuration.
type Config struct {
	Port            string
	FrontendURL     string
	DBPath          string
	Call            CallConfig
	LLM             LLMConfig
	RateLimit       RateLimitConfig
	MaxRequestBody  int64
	ConversationLog ConversationLogConfig
}

// CallConfig controls the dialogue and the lifetime of idle calls.
type CallConfig struct {
	MaxTurns        int
	IdleTTL         time.Duration
	SweepInterval   time.Duration
	RecordRetention time.Duration
}

// LLMConfig selects the text generation backend.
type LLMConfig struct {
	Provider    string
	Model       string
	APIKey      string
	BaseURL     string
	Addr        string
	Temperature float64
	MaxTokens   int
	Timeout     time.Duration
}

// RateLimitConfig caps requests per caller.
type RateLimitConfig struct {
	RequestsPerWindow int
	WindowDuration    time.Duration
}

// ConversationLogConfig controls JSON conversation logging.
type ConversationLogConfig struct {
	Enabled       bool
	Dir           string
	GlobalEnabled bool
	GlobalPath    string
	QueueSize     int
}

var knownProviders = map[string]bool{"groq": true, "openai": true, "gemini": true, "grpc": true}

// Load reads configuration from environment variables.
func Load() (*Config, error) {
	provider := strings.ToLower(strings.TrimSpace(getEnv("LLM_PROVIDER", "groq")))

	cfg := &Config{
		Port:           getEnv("PORT", "8000"),
		FrontendURL:    getEnv("FRONTEND_URL", ""),
		DBPath:         getEnv("DB_PATH", "./data/coldcall.db"),
		MaxRequestBody: int64(getEnvInt("MAX_REQUEST_BODY_BYTES", 64<<10)),
		Call: CallConfig{
			MaxTurns:        getEnvInt("MAX_TURNS", 6),
			IdleTTL:         getEnvDuration("CALL_IDLE_TTL", 30*time.Minute),
			SweepInterval:   getEnvDuration("CALL_SWEEP_INTERVAL", time.Minute),
			RecordRetention: getEnvDuration("CALL_RECORD_RETENTION", 7*24*time.Hour),
		},
		LLM: LLMConfig{
			Provider:    provider,
			Model:       getEnv("LLM_MODEL", ""),
			APIKey:      apiKeyFor(provider),
			BaseURL:     getEnv("LLM_BASE_URL", ""),
			Addr:        getEnv("GENERATOR_ADDR", ""),
			Temperature: getEnvFloat("LLM_TEMPERATURE", 0.4),
			MaxTokens:   getEnvInt("LLM_MAX_TOKENS", 150),
			Timeout:     getEnvDuration("LLM_TIMEOUT", 20*time.Second),
		},
		RateLimit: RateLimitConfig{
			RequestsPerWindow: getEnvInt("RATE_LIMIT_REQUESTS", 30),
			WindowDuration:    getEnvDuration("RATE_LIMIT_WINDOW", time.Minute),
		},
		ConversationLog: ConversationLogConfig{
			Enabled:       getEnvBool("CONVERSATION_LOG_ENABLED", true),
			Dir:           getEnv("CONVERSATION_LOG_DIR", "./data/logs/calls"),
			GlobalEnabled: getEnvBool("CONVERSATION_LOG_GLOBAL_ENABLED", false),
			GlobalPath:    getEnv("CONVERSATION_LOG_GLOBAL_PATH", "./data/logs/calls/all.ndjson"),
			QueueSize:     getEnvInt("CONVERSATION_LOG_QUEUE_SIZE", 1000),
		},
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return cfg, nil
}

// apiKeyFor prefers LLM_API_KEY and falls back to the provider's own variable.
func apiKeyFor(provider string) string {
	if key := getEnv("LLM_API_KEY", ""); key != "" {
		return key
	}
	switch provider {
	case "groq":
		return getEnv("GROQ_API_KEY", "")
	case "openai":
		return getEnv("OPENAI_API_KEY", "")
	case "gemini":
		if key := getEnv("GEMINI_API_KEY", ""); key != "" {
			return key
		}
		return getEnv("GOOGLE_API_KEY", "")
	}
	return ""
}

// Validate checks that all required configuration fields are set.
func (c *Config) Validate() error {
	if c.Port == "" {
		return fmt.Errorf("PORT cannot be empty")
	}
	if c.DBPath == "" {
		return fmt.Errorf("DB_PATH cannot be empty")
	}
	if c.Call.MaxTurns <= 0 {
		return fmt.Errorf("MAX_TURNS must be > 0")
	}
	if c.Call.IdleTTL <= 0 || c.Call.SweepInterval <= 0 || c.Call.RecordRetention <= 0 {
		return fmt.Errorf("CALL_IDLE_TTL, CALL_SWEEP_INTERVAL and CALL_RECORD_RETENTION must be > 0")
	}
	if !knownProviders[c.LLM.Provider] {
		return fmt.Errorf("LLM_PROVIDER %q is not supported", c.LLM.Provider)
	}
	if c.LLM.MaxTokens <= 0 {
		return fmt.Errorf("LLM_MAX_TOKENS must be > 0")
	}
	if c.RateLimit.RequestsPerWindow <= 0 || c.RateLimit.WindowDuration <= 0 {
		return fmt.Errorf("RATE_LIMIT_REQUESTS and RATE_LIMIT_WINDOW must be > 0")
	}
	if c.MaxRequestBody <= 0 {
		return fmt.Errorf("MAX_REQUEST_BODY_BYTES must be > 0")
	}
	if c.ConversationLog.Dir == "" {
		return fmt.Errorf("CONVERSATION_LOG_DIR cannot be empty")
	}
	if c.ConversationLog.GlobalPath == "" {
		return fmt.Errorf("CONVERSATION_LOG_GLOBAL_PATH cannot be empty")
	}
	if c.ConversationLog.QueueSize <= 0 {
		return fmt.Errorf("CONVERSATION_LOG_QUEUE_SIZE must be > 0")
	}
	return nil
}

// IsDevelopment returns true if running in development mode.
func (c *Config) IsDevelopment() bool {
	return c.FrontendURL == "" ||
		strings.Contains(c.FrontendURL, "localhost") ||
		strings.Contains(c.FrontendURL, "127.0.0.1")
}

// AllowedOrigins returns the CORS origins for the configured frontend.
func (c *Config) AllowedOrigins() []string {
	if c.IsDevelopment() {
		return []string{"*"}
	}
	return []string{c.FrontendURL}
}

func getEnv(key, fallback string) string {
	if value, ok := os.LookupEnv(key); ok {
		return value
	}
	return fallback
}

func getEnvBool(key string, fallback bool) bool {
	value, ok := os.LookupEnv(key)
	if !ok {
		return fallback
	}
	switch strings.ToLower(strings.TrimSpace(value)) {
	case "1", "true", "yes", "on":
		return true
	case "0", "false", "no", "off":
		return false
	default:
		return fallback
	}
}

func getEnvInt(key string, fallback int) int {
	value, ok := os.LookupEnv(key)
	if !ok {
		return fallback
	}
	n, err := strconv.Atoi(strings.TrimSpace(value))
	if err != nil {
		return fallback
	}
	return n
}

func getEnvFloat(key string, fallback float64) float64 {
	value, ok := os.LookupEnv(key)
	if !ok {
		return fallback
	}
	f, err := strconv.ParseFloat(strings.TrimSpace(value), 64)
	if err != nil {
		return fallback
	}
	return f
}

func getEnvDuration(key string, fallback time.Duration) time.Duration {
	value, ok := os.LookupEnv(key)
	if !ok {
		return fallback
	}
	d, err := time.ParseDuration(strings.TrimSpace(value))
	if err != nil {
		return fallback
	}
	return d
}
