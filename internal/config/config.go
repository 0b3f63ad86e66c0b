package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// Config contains all runtime settings for the bubble service.
type Config struct {
	BindAddr                 string
	ShutdownTimeout          time.Duration
	SessionInactivityTimeout time.Duration
	JanitorInterval          time.Duration
	MetricsNamespace         string

	AllowAnyOrigin bool

	LogLevel  string
	LogFormat string

	ReadingWPM      int
	MinPause        time.Duration
	MaxPause        time.Duration
	CharsPerLine    int
	LinesPerBubble  int
	MinCharsPerLine int

	DatabaseURL string
}

// Load reads environment variables and applies safe defaults.
func Load() (Config, error) {
	cfg := Config{
		BindAddr:                 envOrDefault("APP_BIND_ADDR", ":8080"),
		MetricsNamespace:         envOrDefault("APP_METRICS_NAMESPACE", "bubbles"),
		AllowAnyOrigin:           false,
		LogLevel:                 strings.ToLower(envOrDefault("APP_LOG_LEVEL", "info")),
		LogFormat:                strings.ToLower(envOrDefault("APP_LOG_FORMAT", "json")),
		DatabaseURL:              stringsTrimSpace("DATABASE_URL"),
		ShutdownTimeout:          15 * time.Second,
		SessionInactivityTimeout: 10 * time.Minute,
		JanitorInterval:          5 * time.Second,
		ReadingWPM:               200,
		MinPause:                 1500 * time.Millisecond,
		MaxPause:                 8 * time.Second,
		// Width of the whole stage; the resolver splits it per entity and bubble.
		CharsPerLine:    80,
		LinesPerBubble:  3,
		MinCharsPerLine: 12,
	}
	var err error
	cfg.ShutdownTimeout, err = durationFromEnv("APP_SHUTDOWN_TIMEOUT", cfg.ShutdownTimeout)
	if err != nil {
		return Config{}, err
	}
	cfg.SessionInactivityTimeout, err = durationFromEnv("APP_SESSION_INACTIVITY_TIMEOUT", cfg.SessionInactivityTimeout)
	if err != nil {
		return Config{}, err
	}
	cfg.JanitorInterval, err = durationFromEnv("APP_JANITOR_INTERVAL", cfg.JanitorInterval)
	if err != nil {
		return Config{}, err
	}
	cfg.AllowAnyOrigin, err = boolFromEnv("APP_ALLOW_ANY_ORIGIN", cfg.AllowAnyOrigin)
	if err != nil {
		return Config{}, err
	}

	cfg.ReadingWPM, err = intFromEnv("BUBBLE_READING_WPM", cfg.ReadingWPM)
	if err != nil {
		return Config{}, err
	}
	cfg.MinPause, err = durationFromEnv("BUBBLE_MIN_PAUSE", cfg.MinPause)
	if err != nil {
		return Config{}, err
	}
	cfg.MaxPause, err = durationFromEnv("BUBBLE_MAX_PAUSE", cfg.MaxPause)
	if err != nil {
		return Config{}, err
	}
	cfg.CharsPerLine, err = intFromEnv("BUBBLE_CHARS_PER_LINE", cfg.CharsPerLine)
	if err != nil {
		return Config{}, err
	}
	cfg.LinesPerBubble, err = intFromEnv("BUBBLE_LINES_PER_BUBBLE", cfg.LinesPerBubble)
	if err != nil {
		return Config{}, err
	}
	cfg.MinCharsPerLine, err = intFromEnv("BUBBLE_MIN_CHARS_PER_LINE", cfg.MinCharsPerLine)
	if err != nil {
		return Config{}, err
	}

	if err := cfg.validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func (c Config) validate() error {
	if c.SessionInactivityTimeout < 5*time.Second {
		return fmt.Errorf("APP_SESSION_INACTIVITY_TIMEOUT must be at least 5s")
	}
	if c.JanitorInterval <= 0 {
		return fmt.Errorf("APP_JANITOR_INTERVAL must be positive")
	}
	switch c.LogLevel {
	case "trace", "debug", "info", "warn", "error", "disabled":
	default:
		return fmt.Errorf("APP_LOG_LEVEL %q is not a known level", c.LogLevel)
	}
	switch c.LogFormat {
	case "json", "console":
	default:
		return fmt.Errorf("APP_LOG_FORMAT must be json or console")
	}
	if c.ReadingWPM <= 0 {
		return fmt.Errorf("BUBBLE_READING_WPM must be positive")
	}
	if c.MinPause <= 0 {
		return fmt.Errorf("BUBBLE_MIN_PAUSE must be positive")
	}
	if c.MaxPause < c.MinPause {
		return fmt.Errorf("BUBBLE_MAX_PAUSE must be >= BUBBLE_MIN_PAUSE")
	}
	if c.CharsPerLine <= 0 {
		return fmt.Errorf("BUBBLE_CHARS_PER_LINE must be positive")
	}
	if c.LinesPerBubble <= 0 {
		return fmt.Errorf("BUBBLE_LINES_PER_BUBBLE must be positive")
	}
	if c.MinCharsPerLine <= 0 || c.MinCharsPerLine > c.CharsPerLine {
		return fmt.Errorf("BUBBLE_MIN_CHARS_PER_LINE must be in 1..BUBBLE_CHARS_PER_LINE")
	}
	return nil
}

func envOrDefault(key, fallback string) string {
	v := stringsTrimSpace(key)
	if v == "" {
		return fallback
	}
	return v
}

func stringsTrimSpace(key string) string {
	return strings.TrimSpace(os.Getenv(key))
}

func durationFromEnv(key string, fallback time.Duration) (time.Duration, error) {
	v := stringsTrimSpace(key)
	if v == "" {
		return fallback, nil
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return 0, fmt.Errorf("%s parse error: %w", key, err)
	}
	return d, nil
}

func intFromEnv(key string, fallback int) (int, error) {
	v := stringsTrimSpace(key)
	if v == "" {
		return fallback, nil
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return 0, fmt.Errorf("%s parse error: %w", key, err)
	}
	return n, nil
}

func boolFromEnv(key string, fallback bool) (bool, error) {
	v := strings.ToLower(stringsTrimSpace(key))
	if v == "" {
		return fallback, nil
	}
	switch v {
	case "1", "true", "t", "yes", "y", "on":
		return true, nil
	case "0", "false", "f", "no", "n", "off":
		return false, nil
	default:
		return false, fmt.Errorf("%s parse error: expected bool", key)
	}
}
