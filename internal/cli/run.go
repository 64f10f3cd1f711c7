package cli

import (
	"context"
	"errors"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
)

// NewRunCommand creates the run command.
func NewRunCommand(rootOpts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "run",
		Short: "Watch connectivity and sync in the background until interrupted",
		Long: `Probe the remote store every probe_interval and keep the local cache in
sync with it. Queued changes are replayed as soon as the remote store becomes
reachable and then every sync interval while it stays reachable.

Stops on SIGINT or SIGTERM.`,
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signal.NotifyContext(cmdContext(cmd), os.Interrupt, syscall.SIGTERM)
			defer stop()
			cmd.SetContext(ctx)

			return withEnv(cmd, rootOpts, func(ctx context.Context, e *env) error {
				return e.run(ctx)
			})
		},
	}
}

// run starts the sync manager and, unless offline, the probe loop. It
// returns nil once ctx is cancelled.
func (e *env) run(ctx context.Context) error {
	if err := e.sync.Start(ctx); err != nil {
		return e.out.Fail("failed to start sync", err)
	}
	slog.Info("sync manager started",
		"interval", e.cfg.Sync.Interval,
		"max_retries", e.sync.MaxRetries(),
		"online", e.monitor.IsOnline(),
	)

	if e.offline {
		<-ctx.Done()
	} else {
		err := e.monitor.Run(ctx, e.clock, e.cfg.Sync.ProbeInterval, e.probe)
		if err != nil && !errors.Is(err, context.Canceled) && !errors.Is(err, context.DeadlineExceeded) {
			return e.out.Fail("connectivity monitor stopped", err)
		}
	}

	slog.Info("shutting down")
	return nil
}
