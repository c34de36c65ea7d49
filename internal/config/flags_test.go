package config

import (
	"testing"
	"time"

	"github.com/spf13/pflag"
)

func TestFlagsOverrideEnv(t *testing.T) {
	t.Setenv("SHELLRELAY_CHANNEL", "from-env")
	t.Setenv("SHELLRELAY_BROKER", "nats://env:4222")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	fs := pflag.NewFlagSet("test", pflag.ContinueOnError)
	cfg.BindSharedFlags(fs)
	cfg.BindAgentFlags(fs)
	cfg.BindControllerFlags(fs)

	err = fs.Parse([]string{"-c", "lab", "--rows", "40", "--restart-delay", "500ms", "--log-file", "/tmp/relay.log"})
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}

	if cfg.Channel != "lab" {
		t.Errorf("Channel = %q, want flag value", cfg.Channel)
	}
	if cfg.Broker != "nats://env:4222" {
		t.Errorf("Broker = %q, want env value", cfg.Broker)
	}
	if cfg.Rows != 40 || cfg.Cols != 80 {
		t.Errorf("size = %dx%d", cfg.Cols, cfg.Rows)
	}
	if cfg.RestartDelay != 500*time.Millisecond {
		t.Errorf("RestartDelay = %s", cfg.RestartDelay)
	}
	if cfg.LogFile != "/tmp/relay.log" {
		t.Errorf("LogFile = %q", cfg.LogFile)
	}
	if err := cfg.Validate(); err != nil {
		t.Errorf("Validate: %v", err)
	}
}

func TestTransportOptions(t *testing.T) {
	cfg := &Config{
		Broker:          "tcp://broker:1883",
		BrokerUsername:  "u",
		BrokerPassword:  "p",
		QoS:             2,
		KeepAlive:       7 * time.Second,
		ConnectAttempts: 3,
	}
	opts := cfg.TransportOptions("agent")
	if opts.Broker != cfg.Broker || opts.Role != "agent" || opts.QoS != 2 ||
		opts.Username != "u" || opts.Password != "p" || opts.KeepAlive != 7*time.Second || opts.ConnectAttempts != 3 {
		t.Errorf("unexpected options %+v", opts)
	}
}
