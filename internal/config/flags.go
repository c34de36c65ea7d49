package config

import (
	"github.com/spf13/pflag"

	"github.com/opensandbox/shellrelay/internal/transport"
)

// BindSharedFlags registers the flags both binaries accept. The loaded
// values are the defaults, so a flag wins over its environment variable.
func (c *Config) BindSharedFlags(fs *pflag.FlagSet) {
	fs.StringVarP(&c.Channel, "channel", "c", c.Channel, "channel prefix shared by agent and controller")
	fs.StringVarP(&c.Broker, "broker", "b", c.Broker, "broker address: host:port, tcp://, ssl://, ws://, nats:// or redis://")
	fs.StringVar(&c.BrokerUsername, "username", c.BrokerUsername, "broker username")
	fs.StringVar(&c.BrokerPassword, "password", c.BrokerPassword, "broker password")
	fs.StringVar(&c.ClientID, "client-id", c.ClientID, "broker client id (default: generated)")
	fs.IntVar(&c.QoS, "qos", c.QoS, "MQTT quality of service (0, 1 or 2)")
	fs.IntVar(&c.ConnectAttempts, "connect-attempts", c.ConnectAttempts, "broker connection attempts at startup")
}

// BindAgentFlags registers the agent-only flags.
func (c *Config) BindAgentFlags(fs *pflag.FlagSet) {
	fs.StringVarP(&c.Shell, "shell", "s", c.Shell, "shell command line (default: /bin/bash -i, else /bin/sh -i)")
	fs.IntVar(&c.Rows, "rows", c.Rows, "initial terminal rows")
	fs.IntVar(&c.Cols, "cols", c.Cols, "initial terminal columns")
	fs.DurationVar(&c.RestartDelay, "restart-delay", c.RestartDelay, "delay before restarting an exited shell")
	fs.DurationVar(&c.RestartMaxDelay, "restart-max-delay", c.RestartMaxDelay, "cap of the restart delay while the shell keeps failing")
	fs.StringVar(&c.MetricsAddr, "metrics-addr", c.MetricsAddr, "address for /metrics and /healthz (empty: disabled)")
}

// BindControllerFlags registers the controller-only flags.
func (c *Config) BindControllerFlags(fs *pflag.FlagSet) {
	fs.StringVar(&c.LogFile, "log-file", c.LogFile, "write logs here while attached (default: discard)")
}

// TransportOptions returns the dial options for a peer in the given role.
func (c *Config) TransportOptions(role string) transport.Options {
	return transport.Options{
		Broker:          c.Broker,
		ClientID:        c.ClientID,
		Role:            role,
		Username:        c.BrokerUsername,
		Password:        c.BrokerPassword,
		QoS:             byte(c.QoS),
		KeepAlive:       c.KeepAlive,
		ConnectAttempts: c.ConnectAttempts,
	}
}
