package config

import (
	"testing"
	"time"
)

// TestAPIBaseFrom verifies the REST base URL derivation from relay URLs
func TestAPIBaseFrom(t *testing.T) {
	tests := []struct {
		relayURL string
		want     string
	}{
		{"wss://relay.sheetlink.app/realtime", "https://relay.sheetlink.app"},
		{"ws://localhost:4000/realtime", "http://localhost:4000"},
		{"wss://relay.sheetlink.app/realtime/websocket", "https://relay.sheetlink.app"},
		{"https://relay.sheetlink.app", "https://relay.sheetlink.app"},
	}

	for _, tt := range tests {
		if got := apiBaseFrom(tt.relayURL); got != tt.want {
			t.Errorf("apiBaseFrom(%q) = %q, expected %q", tt.relayURL, got, tt.want)
		}
	}
}

// TestAPIBase verifies an explicit base URL wins over derivation
func TestAPIBase(t *testing.T) {
	cfg := &Config{RelayURL: "wss://relay.sheetlink.app/realtime"}
	if got := cfg.APIBase(); got != "https://relay.sheetlink.app" {
		t.Errorf("Expected derived base, got %q", got)
	}

	cfg.APIBaseURL = "https://staging.sheetlink.app"
	if got := cfg.APIBase(); got != "https://staging.sheetlink.app" {
		t.Errorf("Expected explicit base, got %q", got)
	}
}

// TestIntervalDefaults verifies zero-value intervals fall back to the defaults
func TestIntervalDefaults(t *testing.T) {
	cfg := &Config{}

	if got := cfg.Heartbeat(); got != 30*time.Second {
		t.Errorf("Expected 30s heartbeat, got %v", got)
	}
	if got := cfg.ReconnectDelay(); got != 3*time.Second {
		t.Errorf("Expected 3s reconnect delay, got %v", got)
	}
	if got := cfg.Keepalive(); got != 60*time.Second {
		t.Errorf("Expected 60s keepalive, got %v", got)
	}
	if got := cfg.AutoDrain(); got != 5*time.Minute {
		t.Errorf("Expected 5m auto drain, got %v", got)
	}
}

// TestIntervalOverrides verifies configured intervals are honored
func TestIntervalOverrides(t *testing.T) {
	cfg := &Config{Intervals: IntervalsConfig{
		HeartbeatSeconds: 10,
		ReconnectSeconds: 1,
		KeepaliveSeconds: 15,
		AutoDrainMinutes: 2,
	}}

	if got := cfg.Heartbeat(); got != 10*time.Second {
		t.Errorf("Expected 10s heartbeat, got %v", got)
	}
	if got := cfg.ReconnectDelay(); got != time.Second {
		t.Errorf("Expected 1s reconnect delay, got %v", got)
	}
	if got := cfg.Keepalive(); got != 15*time.Second {
		t.Errorf("Expected 15s keepalive, got %v", got)
	}
	if got := cfg.AutoDrain(); got != 2*time.Minute {
		t.Errorf("Expected 2m auto drain, got %v", got)
	}
}
