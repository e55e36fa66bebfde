// Package config loads server settings from environment variables.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// Config holds all configuration values for the server.
type Config struct {
	// HTTP port of the control API
	Port int

	// Browser launch: docker, remote or local
	BrowserMode  string
	BrowserWSURL string
	BrowserImage string
	Headless     bool

	// Credential bundle exported from a logged-in browser
	CookiesPath string

	// Service entry point and workspace used when a batch names none
	ServiceBaseURL     string
	DefaultWorkspaceID string

	// Optional YAML overlay for selectors and label texts
	UIProfilePath string

	// Root for run directories, cookie exports and the checkpoint store
	DataDir string

	GenerationTimeout  time.Duration
	PollInterval       time.Duration
	QueueLimit         int
	QueueWaitTimeout   time.Duration
	QueuePollInterval  time.Duration
	SessionIdleTimeout time.Duration

	// upscaled, original or blob
	DownloadQuality string

	// Submission budget per workspace
	SubmitsPerHour int
	SubmitBurst    int

	LLMAPIKey  string
	LLMBaseURL string
	LLMModel   string

	LogLevel string
}

// Load reads configuration from environment variables.
func Load() (*Config, error) {
	cfg := &Config{
		BrowserMode:     env("BROWSER_MODE", "docker"),
		BrowserWSURL:    os.Getenv("BROWSER_WS_URL"),
		BrowserImage:    env("BROWSER_IMAGE", "browserless/chrome:latest"),
		CookiesPath:     env("COOKIES_PATH", "cookies.json"),
		ServiceBaseURL:  os.Getenv("SERVICE_BASE_URL"),
		UIProfilePath:   os.Getenv("UI_PROFILE_PATH"),
		DataDir:         env("DATA_DIR", "data"),
		DownloadQuality: env("DOWNLOAD_QUALITY", "original"),
		LLMAPIKey:       os.Getenv("LLM_API_KEY"),
		LLMBaseURL:      env("LLM_BASE_URL", "https://api.openai.com/v1"),
		LLMModel:        env("LLM_MODEL", "gpt-4o-mini"),
		LogLevel:        env("LOG_LEVEL", "info"),

		DefaultWorkspaceID: os.Getenv("DEFAULT_WORKSPACE_ID"),
	}

	var err error
	if cfg.Port, err = envInt("PORT", 8080); err != nil {
		return nil, err
	}
	if cfg.Headless, err = envBool("HEADLESS", true); err != nil {
		return nil, err
	}
	if cfg.QueueLimit, err = envInt("QUEUE_LIMIT", 5); err != nil {
		return nil, err
	}
	if cfg.SubmitsPerHour, err = envInt("SUBMITS_PER_HOUR", 60); err != nil {
		return nil, err
	}
	if cfg.SubmitBurst, err = envInt("SUBMIT_BURST", 5); err != nil {
		return nil, err
	}
	if cfg.GenerationTimeout, err = envDuration("GENERATION_TIMEOUT", 7*time.Minute); err != nil {
		return nil, err
	}
	if cfg.PollInterval, err = envDuration("POLL_INTERVAL", 4*time.Second); err != nil {
		return nil, err
	}
	if cfg.QueueWaitTimeout, err = envDuration("QUEUE_WAIT_TIMEOUT", 5*time.Minute); err != nil {
		return nil, err
	}
	if cfg.QueuePollInterval, err = envDuration("QUEUE_POLL_INTERVAL", 10*time.Second); err != nil {
		return nil, err
	}
	if cfg.SessionIdleTimeout, err = envDuration("SESSION_IDLE_TIMEOUT", 15*time.Minute); err != nil {
		return nil, err
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks value ranges and combinations
func (c *Config) Validate() error {
	switch c.BrowserMode {
	case "docker", "local":
	case "remote":
		if c.BrowserWSURL == "" {
			return fmt.Errorf("BROWSER_WS_URL is required when BROWSER_MODE=remote")
		}
	default:
		return fmt.Errorf("invalid BROWSER_MODE %q: want docker, remote or local", c.BrowserMode)
	}
	switch c.DownloadQuality {
	case "upscaled", "original", "blob":
	default:
		return fmt.Errorf("invalid DOWNLOAD_QUALITY %q: want upscaled, original or blob", c.DownloadQuality)
	}
	if c.Port <= 0 || c.Port > 65535 {
		return fmt.Errorf("invalid PORT: %d", c.Port)
	}
	if c.QueueLimit < 1 {
		return fmt.Errorf("QUEUE_LIMIT must be at least 1")
	}
	if c.SubmitsPerHour < 1 || c.SubmitBurst < 1 {
		return fmt.Errorf("SUBMITS_PER_HOUR and SUBMIT_BURST must be at least 1")
	}
	for name, d := range map[string]time.Duration{
		"GENERATION_TIMEOUT":   c.GenerationTimeout,
		"POLL_INTERVAL":        c.PollInterval,
		"QUEUE_WAIT_TIMEOUT":   c.QueueWaitTimeout,
		"QUEUE_POLL_INTERVAL":  c.QueuePollInterval,
		"SESSION_IDLE_TIMEOUT": c.SessionIdleTimeout,
	} {
		if d <= 0 {
			return fmt.Errorf("%s must be positive", name)
		}
	}
	return nil
}

func env(key, def string) string {
	if v := strings.TrimSpace(os.Getenv(key)); v != "" {
		return v
	}
	return def
}

func envInt(key string, def int) (int, error) {
	v := os.Getenv(key)
	if v == "" {
		return def, nil
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return 0, fmt.Errorf("invalid %s: %w", key, err)
	}
	return n, nil
}

func envBool(key string, def bool) (bool, error) {
	v := os.Getenv(key)
	if v == "" {
		return def, nil
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return false, fmt.Errorf("invalid %s: %w", key, err)
	}
	return b, nil
}

func envDuration(key string, def time.Duration) (time.Duration, error) {
	v := os.Getenv(key)
	if v == "" {
		return def, nil
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return 0, fmt.Errorf("invalid %s: %w", key, err)
	}
	return d, nil
}
