package cli

import (
	"context"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"snapfleet/internal/api"
	"snapfleet/internal/journal"
	"snapfleet/internal/recovery"
)

// ServeOptions holds flags for the serve command.
type ServeOptions struct {
	*RootOptions
	Addr     string
	Scenario ScenarioFlags
	Journal  string
	Watchdog bool
}

// NewServeCommand creates the serve command.
func NewServeCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &ServeOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "serve [flags] -- <node command> [args...]",
		Short: "Start the HTTP/WebSocket API",
		Long: `Serve exposes presets, run control, node status, captured lines and
metrics over HTTP, and streams events on /ws. Cluster flags set the base
configuration every started preset runs with.

Example:
  snapfleet serve --addr :8080 --journal runs.db -- java -jar node.jar`,
		Args:          cobra.ArbitraryArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return serve(opts, cmd, args)
		},
	}

	cmd.Flags().StringVar(&opts.Addr, "addr", ":8080", "listen address")
	opts.Scenario.bind(cmd)
	cmd.Flags().StringVar(&opts.Journal, "journal", "", "record runs in this SQLite journal")
	cmd.Flags().BoolVar(&opts.Watchdog, "watchdog", false, "restore nodes that exit on their own")

	return cmd
}

func serve(opts *ServeOptions, cmd *cobra.Command, args []string) error {
	base, err := opts.Scenario.build(cmd, args)
	if err != nil {
		return WrapExitError(ExitCommandError, "invalid configuration", err)
	}
	if err := base.Cluster.Validate(); err != nil {
		return WrapExitError(ExitCommandError, "invalid configuration", err)
	}

	cfg := api.Config{
		Addr:    opts.Addr,
		Cluster: base.Cluster,
		Timing:  base.Timing,
	}
	if opts.Watchdog {
		wcfg := recovery.DefaultConfig()
		wcfg.AutoRestore = true
		cfg.Watchdog = &wcfg
	}
	if opts.Journal != "" {
		j, err := journal.Open(opts.Journal)
		if err != nil {
			return WrapExitError(ExitCommandError, "failed to open journal", err)
		}
		defer j.Close()
		cfg.Journal = j
	}

	parentCtx := cmd.Context()
	if parentCtx == nil {
		parentCtx = context.Background()
	}
	ctx, stop := signal.NotifyContext(parentCtx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := api.NewServer(cfg).Start(ctx); err != nil {
		return WrapExitError(ExitCommandError, "server error", err)
	}
	return nil
}
