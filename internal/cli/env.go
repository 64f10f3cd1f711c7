package cli

import (
	"context"
	"log/slog"

	"github.com/spf13/cobra"

	"github.com/roach88/invsync/internal/clock"
	"github.com/roach88/invsync/internal/config"
	"github.com/roach88/invsync/internal/connectivity"
	"github.com/roach88/invsync/internal/model"
	"github.com/roach88/invsync/internal/queue"
	"github.com/roach88/invsync/internal/remote"
	"github.com/roach88/invsync/internal/service"
	"github.com/roach88/invsync/internal/stock"
	"github.com/roach88/invsync/internal/store"
	"github.com/roach88/invsync/internal/syncer"
)

// env is everything a command needs, wired from config and flags.
type env struct {
	cfg     config.Config
	out     *OutputFormatter
	clock   clock.Clock
	store   *store.Store
	remote  *remote.SQL
	monitor *connectivity.Monitor
	queue   *queue.Queue
	stock   *stock.Engine
	svc     *service.Service
	sync    *syncer.Manager

	offline  bool
	migrated bool
}

func cmdContext(cmd *cobra.Command) context.Context {
	if ctx := cmd.Context(); ctx != nil {
		return ctx
	}
	return context.Background()
}

// openEnv loads config, installs the slog handler, opens both stores and
// probes the remote once to set the initial connectivity state.
func openEnv(cmd *cobra.Command, opts *RootOptions) (*env, error) {
	out := &OutputFormatter{
		Format:    opts.Format,
		Writer:    cmd.OutOrStdout(),
		ErrWriter: cmd.ErrOrStderr(),
		Verbose:   opts.Verbose,
	}

	cfg, err := config.Load(opts.ConfigPath)
	if err != nil {
		_ = out.Error(ErrCodeConfig, err.Error(), nil)
		return nil, WrapExitError(ExitCommandError, "failed to load config", err)
	}
	if opts.Database != "" {
		cfg.Database = opts.Database
	}
	if opts.RemoteDriver != "" {
		cfg.Remote.Driver = opts.RemoteDriver
	}
	if opts.RemoteDSN != "" {
		cfg.Remote.DSN = opts.RemoteDSN
	}
	if err := setupLogging(cmd, cfg, opts.Verbose); err != nil {
		return nil, WrapExitError(ExitCommandError, "failed to configure logging", err)
	}

	clk := opts.Clock
	if clk == nil {
		clk = clock.Real{}
	}
	ids := opts.IDs
	if ids == nil {
		ids = model.UUIDv7Generator{}
	}

	slog.Debug("opening database", "path", cfg.Database)
	st, err := store.Open(cfg.Database)
	if err != nil {
		_ = out.Error(ErrCodeStorage, err.Error(), nil)
		return nil, WrapExitError(ExitCommandError, "failed to open database", err)
	}
	r, err := remote.OpenSQL(cfg.Remote.Driver, cfg.Remote.DSN, cfg.Remote.Timeout)
	if err != nil {
		st.Close()
		_ = out.Error(ErrCodeConfig, err.Error(), nil)
		return nil, WrapExitError(ExitCommandError, "failed to open remote store", err)
	}

	e := &env{
		cfg:     cfg,
		out:     out,
		clock:   clk,
		store:   st,
		remote:  r,
		monitor: connectivity.NewMonitor(false),
		offline: opts.Offline,
	}
	e.queue = queue.New(st, clk)
	e.stock = stock.New(st)
	e.svc = service.New(st, e.queue, e.stock, r, e.monitor,
		service.WithIDs(ids),
		service.WithClock(clk),
	)
	e.sync = syncer.New(st, e.queue, e.stock, r, e.monitor,
		syncer.WithClock(clk),
		syncer.WithInterval(cfg.Sync.Interval),
		syncer.WithMaxRetries(cfg.Sync.MaxRetries),
	)

	if !e.offline {
		ctx := cmdContext(cmd)
		if err := e.probe(ctx); err != nil {
			slog.Warn("remote store unreachable, working offline", "error", err)
		} else {
			e.monitor.Set(true)
		}
	}
	return e, nil
}

// probe pings the remote, creating its tables on first success.
func (e *env) probe(ctx context.Context) error {
	if err := e.remote.Ping(ctx); err != nil {
		return err
	}
	if !e.migrated {
		if err := e.remote.Migrate(ctx); err != nil {
			return err
		}
		e.migrated = true
	}
	return nil
}

func (e *env) Close() {
	e.sync.Stop()
	e.monitor.Close()
	if err := e.remote.Close(); err != nil {
		slog.Error("error closing remote store", "error", err)
	}
	if err := e.store.Close(); err != nil {
		slog.Error("error closing database", "error", err)
	}
}

func setupLogging(cmd *cobra.Command, cfg config.Config, verbose bool) error {
	level, err := cfg.SlogLevel()
	if err != nil {
		return err
	}
	if verbose {
		level = slog.LevelDebug
	}
	handlerOpts := &slog.HandlerOptions{Level: level}

	var handler slog.Handler
	if cfg.Log.Format == "json" {
		handler = slog.NewJSONHandler(cmd.ErrOrStderr(), handlerOpts)
	} else {
		handler = slog.NewTextHandler(cmd.ErrOrStderr(), handlerOpts)
	}
	slog.SetDefault(slog.New(handler))
	return nil
}

func isRemote(err error) bool { return remote.IsRemote(err) }

// withEnv opens an env, runs fn and closes it.
func withEnv(cmd *cobra.Command, opts *RootOptions, fn func(ctx context.Context, e *env) error) error {
	e, err := openEnv(cmd, opts)
	if err != nil {
		return err
	}
	defer e.Close()
	return fn(cmdContext(cmd), e)
}
