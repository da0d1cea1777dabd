// Package config loads observer configuration from environment variables,
// with an optional YAML profile for signal thresholds and server settings.
package config

import "os"

// Config holds server configuration.
type Config struct {
	Port           string
	LogLevel       string
	GatewayBaseURL string
	StreamID       string
	ArchivePath    string
	RedisAddr      string
	RedisChannel   string
	OTLPEndpoint   string
	TelemetryOn    bool
	ProfilePath    string
}

// Load loads configuration from environment variables.
func Load() *Config {
	port := os.Getenv("OBSERVER_PORT")
	if port == "" {
		port = "8020"
	}

	logLevel := os.Getenv("OBSERVER_LOG_LEVEL")
	if logLevel == "" {
		logLevel = "INFO"
	}

	gatewayURL := os.Getenv("OBSERVER_GATEWAY_BASE_URL")
	if gatewayURL == "" {
		gatewayURL = "http://127.0.0.1:8010"
	}

	streamID := os.Getenv("OBSERVER_STREAM_ID")
	if streamID == "" {
		streamID = "default"
	}

	otlpEndpoint := os.Getenv("OBSERVER_OTLP_ENDPOINT")
	if otlpEndpoint == "" {
		otlpEndpoint = "localhost:4317"
	}

	return &Config{
		Port:           port,
		LogLevel:       logLevel,
		GatewayBaseURL: gatewayURL,
		StreamID:       streamID,
		ArchivePath:    os.Getenv("OBSERVER_ARCHIVE_PATH"),
		RedisAddr:      os.Getenv("OBSERVER_REDIS_ADDR"),
		RedisChannel:   envOr("OBSERVER_REDIS_CHANNEL", "observer:signals"),
		OTLPEndpoint:   otlpEndpoint,
		TelemetryOn:    os.Getenv("OBSERVER_TELEMETRY") == "true",
		ProfilePath:    os.Getenv("OBSERVER_PROFILE"),
	}
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}
