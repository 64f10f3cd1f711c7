package cli

import (
	"fmt"
	"slices"

	"github.com/spf13/cobra"

	"github.com/roach88/invsync/internal/clock"
	"github.com/roach88/invsync/internal/model"
)

// RootOptions holds global flags for all commands.
type RootOptions struct {
	Verbose      bool
	Format       string // "json" | "text"
	ConfigPath   string
	Database     string
	RemoteDriver string
	RemoteDSN    string
	Offline      bool

	// IDs and Clock override id generation and time (for testing).
	// Nil means UUIDv7 keys and the wall clock.
	IDs   model.IDGenerator
	Clock clock.Clock
}

// ValidFormats defines the allowed output formats.
var ValidFormats = []string{"text", "json"}

// NewRootCommand creates the root command for the invsync CLI.
func NewRootCommand() *cobra.Command {
	return newRootCommand(&RootOptions{})
}

func newRootCommand(opts *RootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "invsync",
		Short: "invsync - offline-first products and invoices",
		Long: `Manage products and invoices against a remote relational store, keeping
working while it is unreachable.

Changes made offline are recorded in a durable queue and replayed, in order,
once the remote store is reachable again.`,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			if !isValidFormat(opts.Format) {
				return fmt.Errorf("invalid format %q: must be one of %v", opts.Format, ValidFormats)
			}
			return nil
		},
	}

	// Global flags
	flags := cmd.PersistentFlags()
	flags.BoolVarP(&opts.Verbose, "verbose", "v", false, "verbose output")
	flags.StringVar(&opts.Format, "format", "text", "output format (json|text)")
	flags.StringVarP(&opts.ConfigPath, "config", "c", "", "path to YAML config file")
	flags.StringVar(&opts.Database, "db", "", "path to local SQLite database (overrides config)")
	flags.StringVar(&opts.RemoteDriver, "remote-driver", "", "remote driver: sqlite3, mysql or pgx (overrides config)")
	flags.StringVar(&opts.RemoteDSN, "remote-dsn", "", "remote data source name (overrides config)")
	flags.BoolVar(&opts.Offline, "offline", false, "do not contact the remote store")

	cmd.AddCommand(NewRunCommand(opts))
	cmd.AddCommand(NewStatusCommand(opts))
	cmd.AddCommand(NewSyncCommand(opts))
	cmd.AddCommand(NewQueueCommand(opts))
	cmd.AddCommand(NewProductCommand(opts))
	cmd.AddCommand(NewInvoiceCommand(opts))
	cmd.AddCommand(NewStockCommand(opts))

	return cmd
}

// isValidFormat checks if the format is one of the allowed values.
func isValidFormat(format string) bool {
	return slices.Contains(ValidFormats, format)
}
