package cli

import (
	"context"
	"fmt"
	"strconv"

	"github.com/spf13/cobra"

	"github.com/roach88/invsync/internal/service"
)

// NewQueueCommand creates the queue command group.
func NewQueueCommand(rootOpts *RootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "queue",
		Short: "Inspect and manage the mutation queue",
		Long: `Inspect and manage changes recorded while the remote store was unreachable.

Items are replayed oldest first. An item that fails max_retries times is moved
to the dead-letter list, from where it can be retried by id.`,
	}
	cmd.AddCommand(newQueueListCommand(rootOpts))
	cmd.AddCommand(newQueueStatusCommand(rootOpts))
	cmd.AddCommand(newQueueClearFailedCommand(rootOpts))
	cmd.AddCommand(newQueueRetryCommand(rootOpts))
	cmd.AddCommand(newQueueDeadCommand(rootOpts))
	return cmd
}

func newQueueListCommand(rootOpts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:           "list",
		Short:         "List queued changes in replay order",
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEnv(cmd, rootOpts, func(ctx context.Context, e *env) error {
				items, err := e.queue.List(ctx)
				if err != nil {
					return e.out.Fail("failed to list queue", err)
				}
				return e.out.Success(queueView(items))
			})
		},
	}
}

func newQueueStatusCommand(rootOpts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:           "status",
		Short:         "Count queued changes by retry state",
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEnv(cmd, rootOpts, func(ctx context.Context, e *env) error {
				st, err := e.sync.QueueStatus(ctx)
				if err != nil {
					return e.out.Fail("failed to read queue status", err)
				}
				return e.out.Success(queueStatusView(st))
			})
		},
	}
}

type clearedView struct {
	Removed int `json:"removed"`
}

func (v clearedView) String() string {
	return fmt.Sprintf("Removed %d failed item(s)", v.Removed)
}

func newQueueClearFailedCommand(rootOpts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:           "clear-failed",
		Short:         "Discard dead letters and items at the retry ceiling",
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEnv(cmd, rootOpts, func(ctx context.Context, e *env) error {
				n, err := e.sync.ClearFailedItems(ctx)
				if err != nil {
					return e.out.Fail("failed to clear failed items", err)
				}
				return e.out.Success(clearedView{Removed: n})
			})
		},
	}
}

type retryView struct {
	ID     int64 `json:"id"`
	Synced bool  `json:"synced"`
}

func (v retryView) String() string {
	if v.Synced {
		return fmt.Sprintf("Synced #%d", v.ID)
	}
	return fmt.Sprintf("Reset retries of #%d", v.ID)
}

func newQueueRetryCommand(rootOpts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:           "retry <queue-id>",
		Short:         "Reset an item's retries and, when online, replay it now",
		Args:          cobra.ExactArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEnv(cmd, rootOpts, func(ctx context.Context, e *env) error {
				id, err := strconv.ParseInt(args[0], 10, 64)
				if err != nil {
					return e.out.Fail("failed to retry item", fmt.Errorf("%w: queue id %q", service.ErrInvalidInput, args[0]))
				}
				synced, err := e.sync.RetrySpecificItem(ctx, id)
				if err != nil {
					return e.out.Fail("failed to retry item", err)
				}
				return e.out.Success(retryView{ID: id, Synced: synced})
			})
		},
	}
}

func newQueueDeadCommand(rootOpts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:           "dead",
		Short:         "List dead-lettered changes",
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEnv(cmd, rootOpts, func(ctx context.Context, e *env) error {
				dead, err := e.sync.DeadLetters(ctx)
				if err != nil {
					return e.out.Fail("failed to list dead letters", err)
				}
				return e.out.Success(deadLettersView(dead))
			})
		},
	}
}
