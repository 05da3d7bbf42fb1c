package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// Config holds all configuration for the application
type Config struct {
	Port           string
	AllowedOrigins []string
	LogLevel       string

	RulesetPath   string // YAML ruleset; empty = load from the store

	AgentStaleAfter  time.Duration
	RoutingInterval  time.Duration
	PriorityInterval time.Duration
	SnapshotInterval time.Duration
	FallbackAfter    time.Duration // unrouted and backup-queue items go to voicemail after this; 0 disables

	BusinessTimezone string
	BusinessStart    string
	BusinessEnd      string
	HolidaySet       string

	MQTTBroker   string // empty = events are not published
	MQTTClientID string
	MQTTUsername string
	MQTTPassword string
	MQTTPrefix   string

	DialRate         float64
	DialMaxLines     int
	CallbackCampaign string
	DefaultMenu      string // IVR menu for inbound voice calls without one
}

// Load loads configuration from environment variables
func Load() (*Config, error) {
	// Try to load .env file (ignore error if it doesn't exist)
	_ = godotenv.Load()

	config := &Config{
		Port:             getEnv("PORT", "8080"),
		AllowedOrigins:   strings.Split(getEnv("ALLOWED_ORIGINS", "http://localhost:5173"), ","),
		LogLevel:         getEnv("LOG_LEVEL", "info"),
		RulesetPath:      getEnv("RULESET_PATH", ""),
		BusinessTimezone: getEnv("BUSINESS_HOURS_TZ", "UTC"),
		BusinessStart:    getEnv("BUSINESS_HOURS_START", "09:00"),
		BusinessEnd:      getEnv("BUSINESS_HOURS_END", "17:00"),
		HolidaySet:       getEnv("BUSINESS_HOLIDAYS", ""),
		MQTTBroker:       getEnv("MQTT_BROKER", ""),
		MQTTClientID:     getEnv("MQTT_CLIENT_ID", "contactcore"),
		MQTTUsername:     getEnv("MQTT_USERNAME", ""),
		MQTTPassword:     getEnv("MQTT_PASSWORD", ""),
		MQTTPrefix:       getEnv("MQTT_PREFIX", "contactcore"),
		CallbackCampaign: getEnv("CALLBACK_CAMPAIGN", ""),
		DefaultMenu:      getEnv("IVR_DEFAULT_MENU", ""),
	}

	var err error
	if config.AgentStaleAfter, err = getDuration("AGENT_STALE_AFTER", 6*time.Second); err != nil {
		return nil, err
	}
	if config.RoutingInterval, err = getDuration("ROUTING_INTERVAL", time.Second); err != nil {
		return nil, err
	}
	if config.PriorityInterval, err = getDuration("PRIORITY_INTERVAL", 5*time.Second); err != nil {
		return nil, err
	}
	if config.SnapshotInterval, err = getDuration("SNAPSHOT_INTERVAL", time.Second); err != nil {
		return nil, err
	}
	if config.FallbackAfter, err = getDuration("OVERFLOW_FALLBACK_AFTER", 5*time.Minute); err != nil {
		return nil, err
	}
	if config.FallbackAfter < 0 {
		return nil, fmt.Errorf("OVERFLOW_FALLBACK_AFTER must not be negative")
	}

	if config.DialRate, err = strconv.ParseFloat(getEnv("DIALER_RATE", "5"), 64); err != nil {
		return nil, fmt.Errorf("invalid DIALER_RATE: %w", err)
	}
	if config.DialMaxLines, err = strconv.Atoi(getEnv("DIALER_MAX_LINES", "20")); err != nil {
		return nil, fmt.Errorf("invalid DIALER_MAX_LINES: %w", err)
	}

	if config.RoutingInterval <= 0 || config.PriorityInterval <= 0 || config.SnapshotInterval <= 0 {
		return nil, fmt.Errorf("intervals must be positive")
	}

	// Trim spaces from allowed origins
	for i, origin := range config.AllowedOrigins {
		config.AllowedOrigins[i] = strings.TrimSpace(origin)
	}

	return config, nil
}

// getEnv gets an environment variable with a fallback default value
func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

// getDuration accepts Go duration strings ("1500ms") or plain seconds ("6")
func getDuration(key string, defaultValue time.Duration) (time.Duration, error) {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue, nil
	}
	if secs, err := strconv.Atoi(value); err == nil {
		return time.Duration(secs) * time.Second, nil
	}
	d, err := time.ParseDuration(value)
	if err != nil {
		return 0, fmt.Errorf("invalid %s: %w", key, err)
	}
	return d, nil
}
