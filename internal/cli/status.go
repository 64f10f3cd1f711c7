package cli

import (
	"context"

	"github.com/spf13/cobra"
)

// NewStatusCommand creates the status command.
func NewStatusCommand(rootOpts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:           "status",
		Short:         "Show connectivity, sync and queue state",
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEnv(cmd, rootOpts, func(ctx context.Context, e *env) error {
				st, err := e.sync.Status(ctx)
				if err != nil {
					return e.out.Fail("failed to read sync status", err)
				}
				qs, err := e.sync.QueueStatus(ctx)
				if err != nil {
					return e.out.Fail("failed to read queue status", err)
				}
				return e.out.Success(statusView{Sync: st, Queue: queueStatusView(qs)})
			})
		},
	}
}

// NewSyncCommand creates the sync command.
func NewSyncCommand(rootOpts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "sync",
		Short: "Replay queued changes against the remote store now",
		Long: `Run one sync pass: replay every queued change oldest first, then refresh
the local cache from the remote store once the queue is empty.

Fails with E007 when the remote store is unreachable.`,
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEnv(cmd, rootOpts, func(ctx context.Context, e *env) error {
				report, err := e.sync.ManualSync(ctx)
				if err != nil {
					return e.out.Fail("sync failed", err)
				}
				return e.out.Success(drainView(report))
			})
		},
	}
}

// NewStockCommand creates the stock command.
func NewStockCommand(rootOpts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "stock [product-id]",
		Short: "Show remaining stock",
		Long: `Show remaining stock: nominal stock minus the quantity of every invoice
item referencing the product. Remaining stock may be negative.`,
		Args:          cobra.MaximumNArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEnv(cmd, rootOpts, func(ctx context.Context, e *env) error {
				if len(args) == 1 {
					n, err := e.svc.RemainingStock(ctx, args[0])
					if err != nil {
						return e.out.Fail("failed to compute remaining stock", err)
					}
					return e.out.Success(stockView{{ProductID: args[0], Remaining: n}})
				}
				all, err := e.svc.RemainingStockAll(ctx)
				if err != nil {
					return e.out.Fail("failed to compute remaining stock", err)
				}
				return e.out.Success(newStockView(all))
			})
		},
	}
}
