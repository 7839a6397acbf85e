package config

import (
	"fmt"
	"log/slog"
	"net"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

type Config struct {
	// Bind address shared by both fixtures (IPv6 wildcard)
	Host string `env:"FIXTURE_HOST" default:"::"`

	// TCP fixture
	TCPPort           int           `env:"TCP_PORT" default:"50000"`
	TCPBacklog        int           `env:"TCP_BACKLOG" default:"5"`
	TCPReadBuffer     int           `env:"TCP_READ_BUFFER" default:"1024"`
	TCPEchoSettle     time.Duration `env:"TCP_ECHO_SETTLE" default:"1s"`
	TCPTriggerPort    int           `env:"TCP_TRIGGER_PORT" default:"7"`
	TCPTriggerRounds  int           `env:"TCP_TRIGGER_ROUNDS" default:"2"`
	TCPTriggerTimeout time.Duration `env:"TCP_TRIGGER_TIMEOUT" default:"5s"`
	TCPAcceptRate     float64       `env:"TCP_ACCEPT_RATE" default:"0"`

	// UDP fixture
	UDPPort          int           `env:"UDP_PORT" default:"50001"`
	UDPAltReplyPort  int           `env:"UDP_ALT_REPLY_PORT" default:"60000"`
	UDPReplyCount    int           `env:"UDP_REPLY_COUNT" default:"5"`
	UDPReplyInterval time.Duration `env:"UDP_REPLY_INTERVAL" default:"1s"`
	UDPIngressRate   float64       `env:"UDP_INGRESS_RATE" default:"0"`

	// Status API
	StatusPort      int    `env:"STATUS_PORT" default:"0"`
	StatusJWTSecret string `env:"STATUS_JWT_SECRET"`

	// Exchange journal
	JournalSize   int    `env:"JOURNAL_SIZE" default:"256"`
	RedisURL      string `env:"REDIS_URL"`
	RedisPassword string `env:"REDIS_PASSWORD"`
	DatabaseURL   string `env:"DATABASE_URL"`

	// Logging
	LogLevel  string `env:"LOG_LEVEL" default:"info"`
	LogFormat string `env:"LOG_FORMAT" default:"json"`
}

// MaxReadBuffer is the largest single read either fixture performs.
const MaxReadBuffer = 4096

// LoadConfig loads configuration from environment variables
func LoadConfig() (*Config, error) {
	// .env is optional; the fixtures run fine on defaults
	if err := godotenv.Load(".env"); err != nil && !os.IsNotExist(err) {
		return nil, fmt.Errorf("failed to load .env: %w", err)
	}

	config := Default()

	if err := loadEnvString(&config.Host, "FIXTURE_HOST", config.Host); err != nil {
		return nil, err
	}

	// TCP
	if err := loadEnvInt(&config.TCPPort, "TCP_PORT", config.TCPPort); err != nil {
		return nil, err
	}
	if err := loadEnvInt(&config.TCPBacklog, "TCP_BACKLOG", config.TCPBacklog); err != nil {
		return nil, err
	}
	if err := loadEnvInt(&config.TCPReadBuffer, "TCP_READ_BUFFER", config.TCPReadBuffer); err != nil {
		return nil, err
	}
	if err := loadEnvDuration(&config.TCPEchoSettle, "TCP_ECHO_SETTLE", config.TCPEchoSettle); err != nil {
		return nil, err
	}
	if err := loadEnvInt(&config.TCPTriggerPort, "TCP_TRIGGER_PORT", config.TCPTriggerPort); err != nil {
		return nil, err
	}
	if err := loadEnvInt(&config.TCPTriggerRounds, "TCP_TRIGGER_ROUNDS", config.TCPTriggerRounds); err != nil {
		return nil, err
	}
	if err := loadEnvDuration(&config.TCPTriggerTimeout, "TCP_TRIGGER_TIMEOUT", config.TCPTriggerTimeout); err != nil {
		return nil, err
	}
	if err := loadEnvFloat(&config.TCPAcceptRate, "TCP_ACCEPT_RATE", config.TCPAcceptRate); err != nil {
		return nil, err
	}

	// UDP
	if err := loadEnvInt(&config.UDPPort, "UDP_PORT", config.UDPPort); err != nil {
		return nil, err
	}
	if err := loadEnvInt(&config.UDPAltReplyPort, "UDP_ALT_REPLY_PORT", config.UDPAltReplyPort); err != nil {
		return nil, err
	}
	if err := loadEnvInt(&config.UDPReplyCount, "UDP_REPLY_COUNT", config.UDPReplyCount); err != nil {
		return nil, err
	}
	if err := loadEnvDuration(&config.UDPReplyInterval, "UDP_REPLY_INTERVAL", config.UDPReplyInterval); err != nil {
		return nil, err
	}
	if err := loadEnvFloat(&config.UDPIngressRate, "UDP_INGRESS_RATE", config.UDPIngressRate); err != nil {
		return nil, err
	}

	// Status API
	if err := loadEnvInt(&config.StatusPort, "STATUS_PORT", config.StatusPort); err != nil {
		return nil, err
	}
	if err := loadEnvString(&config.StatusJWTSecret, "STATUS_JWT_SECRET", ""); err != nil {
		return nil, err
	}

	// Journal
	if err := loadEnvInt(&config.JournalSize, "JOURNAL_SIZE", config.JournalSize); err != nil {
		return nil, err
	}
	if err := loadEnvString(&config.RedisURL, "REDIS_URL", ""); err != nil {
		return nil, err
	}
	if err := loadEnvString(&config.RedisPassword, "REDIS_PASSWORD", ""); err != nil {
		return nil, err
	}
	if err := loadEnvString(&config.DatabaseURL, "DATABASE_URL", ""); err != nil {
		return nil, err
	}

	// Logging
	if err := loadEnvString(&config.LogLevel, "LOG_LEVEL", config.LogLevel); err != nil {
		return nil, err
	}
	if err := loadEnvString(&config.LogFormat, "LOG_FORMAT", config.LogFormat); err != nil {
		return nil, err
	}

	if err := config.Validate(); err != nil {
		return nil, err
	}
	return config, nil
}

// Default returns the fixture defaults without reading the environment.
func Default() *Config {
	return &Config{
		Host:              "::",
		TCPPort:           50000,
		TCPBacklog:        5,
		TCPReadBuffer:     1024,
		TCPEchoSettle:     time.Second,
		TCPTriggerPort:    7,
		TCPTriggerRounds:  2,
		TCPTriggerTimeout: 5 * time.Second,
		UDPPort:           50001,
		UDPAltReplyPort:   60000,
		UDPReplyCount:     5,
		UDPReplyInterval:  time.Second,
		JournalSize:       256,
		LogLevel:          "info",
		LogFormat:         "json",
	}
}

// Helper functions for type conversion and validation
func loadEnvString(target *string, key, defaultValue string) error {
	if value := os.Getenv(key); value != "" {
		*target = value
	} else {
		*target = defaultValue
	}
	return nil
}

func loadEnvInt(target *int, key string, defaultValue int) error {
	if value := os.Getenv(key); value != "" {
		parsed, err := strconv.Atoi(value)
		if err != nil {
			return fmt.Errorf("invalid integer value for %s: %w", key, err)
		}
		*target = parsed
	} else {
		*target = defaultValue
	}
	return nil
}

func loadEnvFloat(target *float64, key string, defaultValue float64) error {
	if value := os.Getenv(key); value != "" {
		parsed, err := strconv.ParseFloat(value, 64)
		if err != nil {
			return fmt.Errorf("invalid number value for %s: %w", key, err)
		}
		*target = parsed
	} else {
		*target = defaultValue
	}
	return nil
}

func loadEnvDuration(target *time.Duration, key string, defaultValue time.Duration) error {
	if value := os.Getenv(key); value != "" {
		parsed, err := time.ParseDuration(value)
		if err != nil {
			return fmt.Errorf("invalid duration value for %s: %w", key, err)
		}
		*target = parsed
	} else {
		*target = defaultValue
	}
	return nil
}

// Validate performs validation on the loaded configuration
func (c *Config) Validate() error {
	var errors []string

	if net.ParseIP(c.Host) == nil {
		errors = append(errors, "FIXTURE_HOST must be an IP address")
	}

	// port 0 lets the kernel pick; tests rely on it
	ports := []struct {
		name  string
		value int
	}{
		{"TCP_PORT", c.TCPPort},
		{"UDP_PORT", c.UDPPort},
		{"STATUS_PORT", c.StatusPort},
	}
	for _, p := range ports {
		if p.value < 0 || p.value > 65535 {
			errors = append(errors, fmt.Sprintf("%s must be between 0 and 65535", p.name))
		}
	}
	if c.TCPTriggerPort < 1 || c.TCPTriggerPort > 65535 {
		errors = append(errors, "TCP_TRIGGER_PORT must be between 1 and 65535")
	}
	if c.UDPAltReplyPort < 1 || c.UDPAltReplyPort > 65535 {
		errors = append(errors, "UDP_ALT_REPLY_PORT must be between 1 and 65535")
	}

	if c.TCPReadBuffer < 1 || c.TCPReadBuffer > MaxReadBuffer {
		errors = append(errors, fmt.Sprintf("TCP_READ_BUFFER must be between 1 and %d", MaxReadBuffer))
	}
	if c.TCPBacklog < 1 {
		errors = append(errors, "TCP_BACKLOG must be positive")
	}
	if c.TCPTriggerRounds < 1 {
		errors = append(errors, "TCP_TRIGGER_ROUNDS must be positive")
	}
	if c.UDPReplyCount < 1 {
		errors = append(errors, "UDP_REPLY_COUNT must be positive")
	}
	if c.TCPEchoSettle < 0 || c.UDPReplyInterval < 0 || c.TCPTriggerTimeout < 0 {
		errors = append(errors, "durations must not be negative")
	}
	if c.TCPAcceptRate < 0 || c.UDPIngressRate < 0 {
		errors = append(errors, "rate limits must not be negative")
	}
	if c.JournalSize < 1 {
		errors = append(errors, "JOURNAL_SIZE must be positive")
	}

	validLogLevels := []string{"debug", "info", "warn", "error"}
	if !contains(validLogLevels, c.LogLevel) {
		errors = append(errors, fmt.Sprintf("LOG_LEVEL must be one of: %s", strings.Join(validLogLevels, ", ")))
	}
	validLogFormats := []string{"text", "json"}
	if !contains(validLogFormats, c.LogFormat) {
		errors = append(errors, fmt.Sprintf("LOG_FORMAT must be one of: %s", strings.Join(validLogFormats, ", ")))
	}

	if len(errors) > 0 {
		return fmt.Errorf("configuration validation failed: %s", strings.Join(errors, "; "))
	}
	return nil
}

// TCPAddr returns the TCP fixture listen address.
func (c *Config) TCPAddr() string {
	return net.JoinHostPort(c.Host, strconv.Itoa(c.TCPPort))
}

// UDPAddr returns the UDP fixture bind address.
func (c *Config) UDPAddr() string {
	return net.JoinHostPort(c.Host, strconv.Itoa(c.UDPPort))
}

// StatusEnabled reports whether the status API should be started.
func (c *Config) StatusEnabled() bool {
	return c.StatusPort != 0
}

// NewLogger builds the process logger from LOG_LEVEL and LOG_FORMAT.
func (c *Config) NewLogger() *slog.Logger {
	var level slog.Level
	switch c.LogLevel {
	case "debug":
		level = slog.LevelDebug
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	default:
		level = slog.LevelInfo
	}

	opts := &slog.HandlerOptions{Level: level}
	if c.LogFormat == "text" {
		return slog.New(slog.NewTextHandler(os.Stdout, opts))
	}
	return slog.New(slog.NewJSONHandler(os.Stdout, opts))
}

// Helper function to check if slice contains a string
func contains(slice []string, item string) bool {
	for _, s := range slice {
		if s == item {
			return true
		}
	}
	return false
}
