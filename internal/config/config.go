package config

import (
	"fmt"
	"log/slog"
	"os"
	"strconv"
	"strings"
	"time"
)

// Config holds validated environment configuration for the chat server.
type Config struct {
	// Port is the WebSocket/HTTP listen port.
	Port string

	// MetricsAddr is the listen address for the /health and /metrics
	// HTTP surface, separate from Port so it can sit behind a different
	// network policy (scrape-only, internal).
	MetricsAddr string

	// HandshakeTimeout bounds how long a connection may sit between
	// accept and a successfully parsed Login frame before it is dropped
	// (spec §9 open question, resolved in this server's favor of a
	// concrete default).
	HandshakeTimeout time.Duration

	// GatewayBufferSize sizes the channel AppGateway merges Commands
	// into before App drains it (spec §5 "unbounded", approximated).
	GatewayBufferSize int

	GoEnv    string
	LogLevel string
}

// ValidateEnv validates all environment variables and returns a Config.
// Returns an error if any required variable is invalid; unset optional
// variables take documented defaults.
func ValidateEnv() (*Config, error) {
	cfg := &Config{}
	var errs []string

	cfg.Port = getEnvOrDefault("MARAIN_PORT", "8080")
	if port, err := strconv.Atoi(cfg.Port); err != nil || port < 1 || port > 65535 {
		errs = append(errs, fmt.Sprintf("MARAIN_PORT must be a valid port number between 1 and 65535 (got '%s')", cfg.Port))
	}

	cfg.MetricsAddr = getEnvOrDefault("MARAIN_METRICS_ADDR", ":9090")
	if !isValidHostPort(cfg.MetricsAddr) {
		errs = append(errs, fmt.Sprintf("MARAIN_METRICS_ADDR must be in format 'host:port' (got '%s')", cfg.MetricsAddr))
	}

	handshakeTimeoutSecs := getEnvOrDefault("MARAIN_HANDSHAKE_TIMEOUT_SECONDS", "10")
	secs, err := strconv.Atoi(handshakeTimeoutSecs)
	if err != nil || secs < 1 {
		errs = append(errs, fmt.Sprintf("MARAIN_HANDSHAKE_TIMEOUT_SECONDS must be a positive integer (got '%s')", handshakeTimeoutSecs))
	} else {
		cfg.HandshakeTimeout = time.Duration(secs) * time.Second
	}

	bufSizeStr := getEnvOrDefault("MARAIN_GATEWAY_BUFFER_SIZE", "256")
	bufSize, err := strconv.Atoi(bufSizeStr)
	if err != nil || bufSize < 1 {
		errs = append(errs, fmt.Sprintf("MARAIN_GATEWAY_BUFFER_SIZE must be a positive integer (got '%s')", bufSizeStr))
	} else {
		cfg.GatewayBufferSize = bufSize
	}

	cfg.GoEnv = getEnvOrDefault("GO_ENV", "production")
	cfg.LogLevel = getEnvOrDefault("LOG_LEVEL", "info")

	if len(errs) > 0 {
		return nil, fmt.Errorf("environment validation failed:\n  - %s", strings.Join(errs, "\n  - "))
	}

	logValidatedConfig(cfg)
	return cfg, nil
}

// isValidHostPort checks if a string is in the format "host:port" (a bare
// ":port" with an empty host, as net/http listeners commonly use, is
// accepted).
func isValidHostPort(addr string) bool {
	idx := strings.LastIndex(addr, ":")
	if idx < 0 {
		return false
	}
	portPart := addr[idx+1:]
	port, err := strconv.Atoi(portPart)
	return err == nil && port >= 1 && port <= 65535
}

func logValidatedConfig(cfg *Config) {
	slog.Info("environment configuration validated",
		"port", cfg.Port,
		"metrics_addr", cfg.MetricsAddr,
		"handshake_timeout", cfg.HandshakeTimeout,
		"gateway_buffer_size", cfg.GatewayBufferSize,
		"go_env", cfg.GoEnv,
		"log_level", cfg.LogLevel,
	)
}

func getEnvOrDefault(key, defaultValue string) string {
	if value, exists := os.LookupEnv(key); exists {
		return value
	}
	return defaultValue
}
