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
	Port              string
	FrontendURL       string
	DBPath            string
	SessionTTL        time.Duration
	SnapshotRetention time.Duration
	// RestoreTimeline seeds new sessions with the permanent messages of the
	// learner's previous session on the same video.
	RestoreTimeline bool
	QuizBankPath    string
	GRPCHealthAddr  string

	Playback PlaybackConfig
	SSE      SSEConfig
	Limits   LimitsConfig
}

// PlaybackConfig tunes pause verification and the coordinator timing.
type PlaybackConfig struct {
	PauseVerifyAttempts int
	PauseVerifyInterval time.Duration
	PlayRetryDelay      time.Duration
	CountdownSeconds    int
	ResumeGuardWindow   time.Duration
	CommandRetryDelay   time.Duration
}

// SSEConfig controls the snapshot stream.
type SSEConfig struct {
	KeepaliveInterval time.Duration
	RetryDelay        time.Duration
}

// LimitsConfig bounds client input.
type LimitsConfig struct {
	MaxRequestBodySize int64
	RateLimitRequests  int
	RateLimitWindow    time.Duration
}

// Load reads configuration from environment variables.
func Load() (*Config, error) {
	cfg := &Config{
		Port:              getEnv("PORT", "8080"),
		FrontendURL:       getEnv("FRONTEND_URL", ""),
		DBPath:            getEnv("DB_PATH", "./data/videoagent.db"),
		SessionTTL:        getEnvDuration("SESSION_TTL", 60*time.Minute),
		SnapshotRetention: getEnvDuration("SNAPSHOT_RETENTION", 7*24*time.Hour),
		RestoreTimeline:   getEnvBool("RESTORE_TIMELINE", true),
		QuizBankPath:      getEnv("QUIZ_BANK_PATH", ""),
		GRPCHealthAddr:    getEnv("GRPC_HEALTH_ADDR", ""),
		Playback: PlaybackConfig{
			PauseVerifyAttempts: getEnvInt("PAUSE_VERIFY_ATTEMPTS", 10),
			PauseVerifyInterval: getEnvDuration("PAUSE_VERIFY_INTERVAL", 50*time.Millisecond),
			PlayRetryDelay:      getEnvDuration("PLAY_RETRY_DELAY", 100*time.Millisecond),
			CountdownSeconds:    getEnvInt("COUNTDOWN_SECONDS", 3),
			ResumeGuardWindow:   getEnvDuration("RESUME_GUARD_WINDOW", 500*time.Millisecond),
			CommandRetryDelay:   getEnvDuration("COMMAND_RETRY_DELAY", 100*time.Millisecond),
		},
		SSE: SSEConfig{
			KeepaliveInterval: getEnvDuration("SSE_KEEPALIVE_INTERVAL", 10*time.Second),
			RetryDelay:        getEnvDuration("SSE_RETRY_DELAY", 5*time.Second),
		},
		Limits: LimitsConfig{
			MaxRequestBodySize: int64(getEnvInt("MAX_REQUEST_BODY_SIZE", 1<<20)),
			RateLimitRequests:  getEnvInt("RATE_LIMIT_REQUESTS", 60),
			RateLimitWindow:    getEnvDuration("RATE_LIMIT_WINDOW", time.Minute),
		},
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return cfg, nil
}

// Validate checks that all required configuration fields are set.
func (c *Config) Validate() error {
	if c.Port == "" {
		return fmt.Errorf("PORT cannot be empty")
	}
	if c.DBPath == "" {
		return fmt.Errorf("DB_PATH cannot be empty")
	}
	if c.SessionTTL <= 0 {
		return fmt.Errorf("SESSION_TTL must be > 0")
	}
	if c.Playback.PauseVerifyAttempts <= 0 {
		return fmt.Errorf("PAUSE_VERIFY_ATTEMPTS must be > 0")
	}
	if c.Playback.PauseVerifyInterval <= 0 {
		return fmt.Errorf("PAUSE_VERIFY_INTERVAL must be > 0")
	}
	if c.Playback.CountdownSeconds <= 0 {
		return fmt.Errorf("COUNTDOWN_SECONDS must be > 0")
	}
	if c.Playback.ResumeGuardWindow <= 0 {
		return fmt.Errorf("RESUME_GUARD_WINDOW must be > 0")
	}
	if c.SSE.KeepaliveInterval <= 0 {
		return fmt.Errorf("SSE_KEEPALIVE_INTERVAL must be > 0")
	}
	if c.Limits.MaxRequestBodySize <= 0 {
		return fmt.Errorf("MAX_REQUEST_BODY_SIZE must be > 0")
	}
	if c.Limits.RateLimitRequests <= 0 || c.Limits.RateLimitWindow <= 0 {
		return fmt.Errorf("RATE_LIMIT_REQUESTS and RATE_LIMIT_WINDOW must be > 0")
	}
	return nil
}

// IsDevelopment returns true if running in development mode.
func (c *Config) IsDevelopment() bool {
	return c.FrontendURL == "" ||
		strings.Contains(c.FrontendURL, "localhost") ||
		strings.Contains(c.FrontendURL, "127.0.0.1")
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

// getEnvDuration accepts Go durations ("90s") or plain seconds ("90").
func getEnvDuration(key string, fallback time.Duration) time.Duration {
	value, ok := os.LookupEnv(key)
	if !ok {
		return fallback
	}
	value = strings.TrimSpace(value)
	if d, err := time.ParseDuration(value); err == nil {
		return d
	}
	if n, err := strconv.Atoi(value); err == nil {
		return time.Duration(n) * time.Second
	}
	return fallback
}
