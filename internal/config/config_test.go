package config

import (
	"os"
	"testing"
	"time"
)

func TestLoadDefaults(t *testing.T) {
	// Clear env to test defaults
	for _, key := range []string{
		"SHELLRELAY_CHANNEL",
		"SHELLRELAY_BROKER",
		"SHELLRELAY_MQTT_QOS",
		"SHELLRELAY_ROWS",
		"SHELLRELAY_COLS",
		"SHELLRELAY_RESTART_DELAY_MS",
		"SHELLRELAY_RESTART_MAX_DELAY_MS",
	} {
		os.Unsetenv(key)
	}

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load() returned error: %v", err)
	}

	if cfg.Channel != "shell" {
		t.Errorf("expected channel shell, got %s", cfg.Channel)
	}
	if cfg.Broker != "localhost:1883" {
		t.Errorf("expected broker localhost:1883, got %s", cfg.Broker)
	}
	if cfg.QoS != 1 {
		t.Errorf("expected QoS 1, got %d", cfg.QoS)
	}
	if cfg.Rows != 24 || cfg.Cols != 80 {
		t.Errorf("expected 80x24, got %dx%d", cfg.Cols, cfg.Rows)
	}
	if cfg.RestartDelay != 2*time.Second {
		t.Errorf("expected restart delay 2s, got %s", cfg.RestartDelay)
	}
	if cfg.KeepAlive != 5*time.Second {
		t.Errorf("expected keep-alive 5s, got %s", cfg.KeepAlive)
	}
}

func TestLoadFromEnv(t *testing.T) {
	t.Setenv("SHELLRELAY_CHANNEL", "lab/box1")
	t.Setenv("SHELLRELAY_BROKER", "nats://broker:4222")
	t.Setenv("SHELLRELAY_SHELL", "/bin/zsh")
	t.Setenv("SHELLRELAY_MQTT_QOS", "0")
	t.Setenv("SHELLRELAY_RESTART_DELAY_MS", "250")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load() returned error: %v", err)
	}

	if cfg.Channel != "lab/box1" {
		t.Errorf("expected channel lab/box1, got %s", cfg.Channel)
	}
	if cfg.Broker != "nats://broker:4222" {
		t.Errorf("expected nats broker, got %s", cfg.Broker)
	}
	if cfg.Shell != "/bin/zsh" {
		t.Errorf("expected shell /bin/zsh, got %s", cfg.Shell)
	}
	if cfg.QoS != 0 {
		t.Errorf("expected QoS 0, got %d", cfg.QoS)
	}
	if cfg.RestartDelay != 250*time.Millisecond {
		t.Errorf("expected restart delay 250ms, got %s", cfg.RestartDelay)
	}
}

func TestLoadInvalid(t *testing.T) {
	cases := map[string]string{
		"SHELLRELAY_ROWS":             "not-a-number",
		"SHELLRELAY_MQTT_QOS":         "3",
		"SHELLRELAY_COLS":             "70000",
		"SHELLRELAY_CONNECT_ATTEMPTS": "0",
	}
	for key, value := range cases {
		t.Run(key, func(t *testing.T) {
			t.Setenv(key, value)
			if _, err := Load(); err == nil {
				t.Fatalf("expected error for %s=%s, got nil", key, value)
			}
		})
	}
}
