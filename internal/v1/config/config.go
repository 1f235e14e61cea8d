package config

import (
	"fmt"
	"log/slog"
	"os"
	"strconv"
	"strings"
	"time"
)

// Config holds validated environment configuration.
type Config struct {
	// Required variables
	Port string

	// Media engine
	AnnouncedIP string
	RTCMinPort  uint16
	RTCMaxPort  uint16

	// Unconnected transports are reclaimed after this timeout.
	TransportTimeout time.Duration

	// Optional variables with defaults
	GoEnv           string
	LogLevel        string
	DevelopmentMode bool
	AllowedOrigins  string

	// Tracing
	OtelEnabled       bool
	OtelCollectorAddr string

	// Rate Limits
	RateLimitWsIP string
}

// ValidateEnv validates all environment variables and returns a Config object.
// Returns an error if any required variable is missing or invalid.
func ValidateEnv() (*Config, error) {
	cfg := &Config{}
	var errs []string

	// Required: PORT (valid port number)
	cfg.Port = os.Getenv("PORT")
	if cfg.Port == "" {
		errs = append(errs, "PORT is required")
	} else {
		port, err := strconv.Atoi(cfg.Port)
		if err != nil || port < 1 || port > 65535 {
			errs = append(errs, fmt.Sprintf("PORT must be a valid port number between 1 and 65535 (got '%s')", cfg.Port))
		}
	}

	// Optional: ANNOUNCED_IP (defaults to loopback)
	cfg.AnnouncedIP = getEnvOrDefault("ANNOUNCED_IP", "127.0.0.1")

	// Optional: RTC port range (defaults 10000-59999)
	minPort, err := parsePort(getEnvOrDefault("RTC_MIN_PORT", "10000"))
	if err != nil {
		errs = append(errs, fmt.Sprintf("RTC_MIN_PORT: %v", err))
	}
	maxPort, err := parsePort(getEnvOrDefault("RTC_MAX_PORT", "59999"))
	if err != nil {
		errs = append(errs, fmt.Sprintf("RTC_MAX_PORT: %v", err))
	}
	if err == nil && minPort > maxPort {
		errs = append(errs, fmt.Sprintf("RTC_MIN_PORT (%d) must not exceed RTC_MAX_PORT (%d)", minPort, maxPort))
	}
	cfg.RTCMinPort = minPort
	cfg.RTCMaxPort = maxPort

	// Optional: TRANSPORT_TIMEOUT (defaults to 30 minutes)
	timeoutStr := getEnvOrDefault("TRANSPORT_TIMEOUT", "30m")
	timeout, err := time.ParseDuration(timeoutStr)
	if err != nil || timeout <= 0 {
		errs = append(errs, fmt.Sprintf("TRANSPORT_TIMEOUT must be a positive duration (got '%s')", timeoutStr))
	}
	cfg.TransportTimeout = timeout

	// Optional: GO_ENV (defaults to "production")
	cfg.GoEnv = getEnvOrDefault("GO_ENV", "production")

	// Optional: LOG_LEVEL (defaults to "info")
	cfg.LogLevel = getEnvOrDefault("LOG_LEVEL", "info")

	cfg.DevelopmentMode = os.Getenv("DEVELOPMENT_MODE") == "true"
	cfg.AllowedOrigins = os.Getenv("ALLOWED_ORIGINS")

	// Tracing (optional)
	cfg.OtelEnabled = os.Getenv("OTEL_ENABLED") == "true"
	if cfg.OtelEnabled {
		cfg.OtelCollectorAddr = os.Getenv("OTEL_COLLECTOR_ADDR")
		if cfg.OtelCollectorAddr == "" {
			cfg.OtelCollectorAddr = "localhost:4317"
			slog.Warn("OTEL_COLLECTOR_ADDR not set, using default", "addr", cfg.OtelCollectorAddr)
		} else if !isValidHostPort(cfg.OtelCollectorAddr) {
			errs = append(errs, fmt.Sprintf("OTEL_COLLECTOR_ADDR must be in format 'host:port' (got '%s')", cfg.OtelCollectorAddr))
		}
	}

	// Rate Limits (M = Minute, H = Hour)
	cfg.RateLimitWsIP = getEnvOrDefault("RATE_LIMIT_WS_IP", "100-M")

	if len(errs) > 0 {
		return nil, fmt.Errorf("environment validation failed:\n  - %s", strings.Join(errs, "\n  - "))
	}

	logValidatedConfig(cfg)

	return cfg, nil
}

// parsePort parses a port number in the valid range.
func parsePort(s string) (uint16, error) {
	port, err := strconv.Atoi(s)
	if err != nil || port < 1 || port > 65535 {
		return 0, fmt.Errorf("must be a valid port number between 1 and 65535 (got '%s')", s)
	}
	return uint16(port), nil
}

// isValidHostPort checks if a string is in the format "host:port".
func isValidHostPort(addr string) bool {
	parts := strings.Split(addr, ":")
	if len(parts) != 2 {
		return false
	}

	port, err := strconv.Atoi(parts[1])
	if err != nil || port < 1 || port > 65535 {
		return false
	}

	return parts[0] != ""
}

// logValidatedConfig logs the validated configuration.
func logValidatedConfig(cfg *Config) {
	slog.Info("Environment configuration validated successfully")
	slog.Info("Configuration",
		"port", cfg.Port,
		"announced_ip", cfg.AnnouncedIP,
		"rtc_min_port", cfg.RTCMinPort,
		"rtc_max_port", cfg.RTCMaxPort,
		"transport_timeout", cfg.TransportTimeout,
		"go_env", cfg.GoEnv,
		"log_level", cfg.LogLevel,
		"development_mode", cfg.DevelopmentMode,
		"otel_enabled", cfg.OtelEnabled,
		"rate_limit_ws_ip", cfg.RateLimitWsIP,
	)
}

// getEnvOrDefault returns the value of the environment variable or a default value if not set.
func getEnvOrDefault(key, defaultValue string) string {
	if value, exists := os.LookupEnv(key); exists {
		return value
	}
	return defaultValue
}
