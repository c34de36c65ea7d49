package cmd

import (
	"context"
	"fmt"
	"io"
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/opensandbox/shellrelay/internal/config"
	"github.com/opensandbox/shellrelay/internal/controller"
	"github.com/opensandbox/shellrelay/internal/transport"
)

const version = "0.1.0"

// Execute runs the root command. SIGINT, SIGTERM and SIGHUP end the session
// and restore the terminal.
func Execute() error {
	cfg, err := config.Load()
	if err != nil {
		return err
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGTERM, syscall.SIGINT, syscall.SIGHUP)
	defer signal.Stop(sigCh)
	go func() {
		select {
		case sig := <-sigCh:
			log.Printf("controller: received %v, detaching", sig)
			cancel()
		case <-ctx.Done():
		}
	}()

	return newRootCmd(cfg).ExecuteContext(ctx)
}

func newRootCmd(cfg *config.Config) *cobra.Command {
	rootCmd := &cobra.Command{
		Use:   "shellrelay",
		Short: "Attach this terminal to a remote shell over a publish/subscribe broker",
		Long: `shellrelay attaches the local terminal to a shell served by shellrelay-agent.

Both sides talk only to the broker, never to each other, and must agree on the
channel prefix. The terminal is in raw mode while attached; press Ctrl+Q to
detach. Only one controller should be attached to a channel at a time.`,
		Version:       version,
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return attach(cmd.Context(), cfg)
		},
	}
	cfg.BindSharedFlags(rootCmd.PersistentFlags())
	cfg.BindControllerFlags(rootCmd.PersistentFlags())
	rootCmd.AddCommand(newExecCmd(cfg))
	return rootCmd
}

func attach(ctx context.Context, cfg *config.Config) error {
	if err := cfg.Validate(); err != nil {
		return err
	}
	tty, err := controller.OpenTTY()
	if err != nil {
		return fmt.Errorf("open terminal: %w", err)
	}

	t, err := transport.Dial(ctx, cfg.TransportOptions("controller"))
	if err != nil {
		return err
	}
	defer t.Close()

	restoreLog, err := redirectLog(cfg.LogFile)
	if err != nil {
		return err
	}
	defer restoreLog()

	fmt.Fprintf(os.Stderr, "Attached to %s via %s. Press Ctrl+Q to detach.\r\n", cfg.Channel, cfg.Broker)
	bridge := controller.NewBridge(t, cfg.Channel, tty, controller.Options{})
	err = bridge.Attach(ctx)
	fmt.Fprintln(os.Stderr, "\r\nDetached.")
	return err
}

// redirectLog keeps log output off the raw-mode terminal: it goes to path,
// or nowhere when path is empty.
func redirectLog(path string) (restore func(), err error) {
	var w io.Writer = io.Discard
	var f *os.File
	if path != "" {
		f, err = os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o600)
		if err != nil {
			return nil, fmt.Errorf("open log file: %w", err)
		}
		w = f
	}
	prev := log.Writer()
	log.SetOutput(w)
	return func() {
		log.SetOutput(prev)
		if f != nil {
			f.Close()
		}
	}, nil
}
