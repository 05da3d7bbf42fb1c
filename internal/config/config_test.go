package config

import (
	"os"
	"testing"
	"time"
)

func TestLoad(t *testing.T) {
	tests := []struct {
		name    string
		env     map[string]string
		wantErr bool
		check   func(*testing.T, *Config)
	}{
		{
			name: "default values",
			env:  map[string]string{},
			check: func(t *testing.T, cfg *Config) {
				if cfg.Port != "8080" {
					t.Errorf("expected port 8080, got %s", cfg.Port)
				}
				if cfg.LogLevel != "info" {
					t.Errorf("expected log level info, got %s", cfg.LogLevel)
				}
				if cfg.AgentStaleAfter != 6*time.Second {
					t.Errorf("expected AgentStaleAfter 6s, got %v", cfg.AgentStaleAfter)
				}
				if cfg.RoutingInterval != time.Second {
					t.Errorf("expected RoutingInterval 1s, got %v", cfg.RoutingInterval)
				}
				if cfg.MQTTBroker != "" {
					t.Errorf("expected no MQTT broker, got %s", cfg.MQTTBroker)
				}
				if cfg.FallbackAfter != 5*time.Minute {
					t.Errorf("expected FallbackAfter 5m, got %v", cfg.FallbackAfter)
				}
			},
		},
		{
			name: "overflow fallback disabled",
			env:  map[string]string{"OVERFLOW_FALLBACK_AFTER": "0"},
			check: func(t *testing.T, cfg *Config) {
				if cfg.FallbackAfter != 0 {
					t.Errorf("expected FallbackAfter 0, got %v", cfg.FallbackAfter)
				}
			},
		},
		{
			name:    "negative overflow fallback",
			env:     map[string]string{"OVERFLOW_FALLBACK_AFTER": "-1m"},
			wantErr: true,
		},
		{
			name: "custom values",
			env: map[string]string{
				"PORT":              "9000",
				"LOG_LEVEL":         "debug",
				"AGENT_STALE_AFTER": "10",
				"PRIORITY_INTERVAL": "2500ms",
				"DIALER_RATE":       "2.5",
				"DIALER_MAX_LINES":  "40",
				"MQTT_BROKER":       "tcp://broker:1883",
				"CALLBACK_CAMPAIGN": "callbacks",
				"IVR_DEFAULT_MENU":  "main",
				"ALLOWED_ORIGINS":   "http://example.com, http://test.com",
			},
			check: func(t *testing.T, cfg *Config) {
				if cfg.Port != "9000" {
					t.Errorf("expected port 9000, got %s", cfg.Port)
				}
				if cfg.AgentStaleAfter != 10*time.Second {
					t.Errorf("expected AgentStaleAfter 10s, got %v", cfg.AgentStaleAfter)
				}
				if cfg.PriorityInterval != 2500*time.Millisecond {
					t.Errorf("expected PriorityInterval 2.5s, got %v", cfg.PriorityInterval)
				}
				if cfg.DialRate != 2.5 {
					t.Errorf("expected DialRate 2.5, got %v", cfg.DialRate)
				}
				if cfg.DialMaxLines != 40 {
					t.Errorf("expected DialMaxLines 40, got %d", cfg.DialMaxLines)
				}
				if cfg.CallbackCampaign != "callbacks" {
					t.Errorf("expected callback campaign, got %s", cfg.CallbackCampaign)
				}
				if cfg.DefaultMenu != "main" {
					t.Errorf("expected default menu main, got %s", cfg.DefaultMenu)
				}
				if len(cfg.AllowedOrigins) != 2 || cfg.AllowedOrigins[1] != "http://test.com" {
					t.Errorf("expected 2 trimmed origins, got %v", cfg.AllowedOrigins)
				}
			},
		},
		{
			name:    "invalid AGENT_STALE_AFTER",
			env:     map[string]string{"AGENT_STALE_AFTER": "soon"},
			wantErr: true,
		},
		{
			name:    "invalid DIALER_RATE",
			env:     map[string]string{"DIALER_RATE": "fast"},
			wantErr: true,
		},
		{
			name:    "non-positive interval",
			env:     map[string]string{"ROUTING_INTERVAL": "0"},
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			// Clear environment
			os.Clearenv()

			// Set test environment variables
			for k, v := range tt.env {
				os.Setenv(k, v)
			}

			cfg, err := Load()

			if tt.wantErr {
				if err == nil {
					t.Errorf("expected error, got nil")
				}
				return
			}

			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}

			if tt.check != nil {
				tt.check(t, cfg)
			}
		})
	}
}
