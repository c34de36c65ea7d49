// shellrelay-agent runs an interactive shell on a PTY and relays it over a
// publish/subscribe broker. The shell is restarted whenever it exits.
//
// Build: CGO_ENABLED=0 go build -o shellrelay-agent ./cmd/agent
package main

import (
	"context"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/opensandbox/shellrelay/internal/agent"
	"github.com/opensandbox/shellrelay/internal/config"
	"github.com/opensandbox/shellrelay/internal/metrics"
	"github.com/opensandbox/shellrelay/internal/transport"
	"github.com/opensandbox/shellrelay/pkg/types"
)

const version = "0.1.0"

func main() {
	log.SetFlags(log.Ltime | log.Lmicroseconds)
	if err := execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func execute() error {
	cfg, err := config.Load()
	if err != nil {
		return err
	}

	rootCmd := &cobra.Command{
		Use:   "shellrelay-agent",
		Short: "Serve an interactive shell over a publish/subscribe broker",
		Long: `shellrelay-agent runs a shell on a pseudo-terminal and relays it over a broker.

Keystrokes arrive on <channel>/in, output is published on <channel>/out, window
sizes arrive on <channel>/resize and lifecycle events are published on
<channel>/status. Attach to it with shellrelay.`,
		Version:       version,
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return run(cmd.Context(), cfg)
		},
	}
	cfg.BindSharedFlags(rootCmd.Flags())
	cfg.BindAgentFlags(rootCmd.Flags())

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Graceful shutdown
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGTERM, syscall.SIGINT, syscall.SIGHUP)
	defer signal.Stop(sigCh)
	go func() {
		select {
		case sig := <-sigCh:
			log.Printf("agent: received %v, shutting down", sig)
			cancel()
		case <-ctx.Done():
		}
	}()

	return rootCmd.ExecuteContext(ctx)
}

func run(ctx context.Context, cfg *config.Config) error {
	if err := cfg.Validate(); err != nil {
		return err
	}
	log.Printf("shellrelay-agent %s starting", version)

	t, err := transport.Dial(ctx, cfg.TransportOptions("agent"))
	if err != nil {
		return err
	}
	defer t.Close()

	command := agent.ParseShell(cfg.Shell)
	sup := agent.NewSupervisor(t, transport.NewChannels(cfg.Channel), agent.Options{
		Command: command,
		Size:    types.ResizeEvent{Rows: uint16(cfg.Rows), Cols: uint16(cfg.Cols)},
		Backoff: agent.Backoff{Initial: cfg.RestartDelay, Max: cfg.RestartMaxDelay},
	})

	if cfg.MetricsAddr != "" {
		stop := metrics.StartServer(cfg.MetricsAddr, sup.Health)
		defer stop()
	}

	log.Printf("agent: relaying %q on channel %s via %s", command, cfg.Channel, cfg.Broker)
	return sup.Run(ctx)
}
