package config

import (
	"fmt"
	"os"
	"strconv"
	"time"
)

// Config holds configuration shared by the shellrelay agent and controller.
// Values come from SHELLRELAY_* environment variables and become the
// defaults of the corresponding command-line flags.
type Config struct {
	Channel string // channel prefix both peers agree on
	Broker  string // broker address, scheme selects the transport

	// Broker credentials and session options
	BrokerUsername  string
	BrokerPassword  string
	ClientID        string // empty = generated per process
	QoS             int    // MQTT only
	KeepAlive       time.Duration
	ConnectAttempts int

	// Agent
	Shell           string // empty = auto-detect
	Rows            int
	Cols            int
	RestartDelay    time.Duration
	RestartMaxDelay time.Duration
	MetricsAddr     string // empty = disabled

	// Controller
	LogFile string
}

// Load reads configuration from environment variables with sensible defaults.
func Load() (*Config, error) {
	cfg := &Config{
		Channel: envOrDefault("SHELLRELAY_CHANNEL", "shell"),
		Broker:  envOrDefault("SHELLRELAY_BROKER", "localhost:1883"),

		BrokerUsername: os.Getenv("SHELLRELAY_BROKER_USERNAME"),
		BrokerPassword: os.Getenv("SHELLRELAY_BROKER_PASSWORD"),
		ClientID:       os.Getenv("SHELLRELAY_CLIENT_ID"),

		Shell:       os.Getenv("SHELLRELAY_SHELL"),
		MetricsAddr: os.Getenv("SHELLRELAY_METRICS_ADDR"),
		LogFile:     os.Getenv("SHELLRELAY_LOG_FILE"),
	}

	ints := []struct {
		key      string
		fallback int
		dst      *int
	}{
		{"SHELLRELAY_MQTT_QOS", 1, &cfg.QoS},
		{"SHELLRELAY_CONNECT_ATTEMPTS", 5, &cfg.ConnectAttempts},
		{"SHELLRELAY_ROWS", 24, &cfg.Rows},
		{"SHELLRELAY_COLS", 80, &cfg.Cols},
	}
	for _, v := range ints {
		n, err := envOrDefaultInt(v.key, v.fallback)
		if err != nil {
			return nil, err
		}
		*v.dst = n
	}

	keepAlive, err := envOrDefaultInt("SHELLRELAY_KEEPALIVE_SEC", 5)
	if err != nil {
		return nil, err
	}
	cfg.KeepAlive = time.Duration(keepAlive) * time.Second

	delay, err := envOrDefaultInt("SHELLRELAY_RESTART_DELAY_MS", 2000)
	if err != nil {
		return nil, err
	}
	cfg.RestartDelay = time.Duration(delay) * time.Millisecond

	maxDelay, err := envOrDefaultInt("SHELLRELAY_RESTART_MAX_DELAY_MS", 30000)
	if err != nil {
		return nil, err
	}
	cfg.RestartMaxDelay = time.Duration(maxDelay) * time.Millisecond

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks value ranges. It is called by Load and again by the
// commands after flags have been applied.
func (c *Config) Validate() error {
	if c.Channel == "" {
		return fmt.Errorf("channel prefix must not be empty")
	}
	if c.Broker == "" {
		return fmt.Errorf("broker address must not be empty")
	}
	if c.QoS < 0 || c.QoS > 2 {
		return fmt.Errorf("invalid MQTT QoS %d: must be 0, 1 or 2", c.QoS)
	}
	if c.ConnectAttempts < 1 {
		return fmt.Errorf("invalid connect attempts %d: must be at least 1", c.ConnectAttempts)
	}
	if c.Rows < 1 || c.Rows > 0xFFFF || c.Cols < 1 || c.Cols > 0xFFFF {
		return fmt.Errorf("invalid terminal size %dx%d", c.Cols, c.Rows)
	}
	if c.RestartDelay <= 0 || c.RestartMaxDelay < c.RestartDelay {
		return fmt.Errorf("invalid restart delay %s (max %s)", c.RestartDelay, c.RestartMaxDelay)
	}
	return nil
}

func envOrDefault(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func envOrDefaultInt(key string, fallback int) (int, error) {
	v := os.Getenv(key)
	if v == "" {
		return fallback, nil
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return 0, fmt.Errorf("invalid %s %q: %w", key, v, err)
	}
	return n, nil
}
