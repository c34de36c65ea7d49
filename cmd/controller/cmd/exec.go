package cmd

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/opensandbox/shellrelay/internal/config"
	"github.com/opensandbox/shellrelay/internal/transport"
	"github.com/opensandbox/shellrelay/pkg/client"
)

func newExecCmd(cfg *config.Config) *cobra.Command {
	var (
		idle    time.Duration
		timeout time.Duration
	)
	execCmd := &cobra.Command{
		Use:   "exec <command> [args...]",
		Short: "Type one command line into the remote shell and print its output",
		Long: `Send a command line to the shell on the channel and print everything the
shell outputs until it has been quiet for --idle. The output is the raw
terminal stream, including the echoed command and the prompt.
Example: shellrelay exec -c lab uname -a`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := cfg.Validate(); err != nil {
				return err
			}
			ctx := cmd.Context()
			if timeout > 0 {
				var cancel context.CancelFunc
				ctx, cancel = context.WithTimeout(ctx, timeout)
				defer cancel()
			}

			t, err := transport.Dial(ctx, cfg.TransportOptions("controller"))
			if err != nil {
				return err
			}
			defer t.Close()

			sess, err := client.Open(ctx, t, cfg.Channel)
			if err != nil {
				return err
			}
			defer sess.Close()

			err = sess.Exec(ctx, strings.Join(args, " "), cmd.OutOrStdout(), idle)
			if errors.Is(err, context.DeadlineExceeded) {
				return fmt.Errorf("output still flowing after %s", timeout)
			}
			return err
		},
	}
	// Everything after the command name belongs to the remote command.
	execCmd.Flags().SetInterspersed(false)
	execCmd.Flags().DurationVar(&idle, "idle", time.Second, "stop after the output has been quiet this long")
	execCmd.Flags().DurationVar(&timeout, "timeout", 30*time.Second, "give up after this long (0: no limit)")
	return execCmd
}
