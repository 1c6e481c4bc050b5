package cli

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"snapfleet/internal/journal"
	"snapfleet/internal/logger"
	"snapfleet/internal/metrics"
	"snapfleet/internal/node"
	"snapfleet/internal/output"
	"snapfleet/internal/recovery"
	"snapfleet/internal/scenario"
)

// RunOptions holds flags for the run command.
type RunOptions struct {
	*RootOptions
	Scenario    ScenarioFlags
	Outfile     string
	Journal     string
	KeepStorage bool
	Follow      bool
	Watchdog    bool
	MaxRetries  int

	// Launcher overrides how node processes are started (for testing).
	Launcher node.Launcher
}

// NewRunCommand creates the run command.
func NewRunCommand(rootOpts *RootOptions) *cobra.Command {
	return newRunCommand(&RunOptions{RootOptions: rootOpts})
}

func newRunCommand(opts *RunOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "run [flags] [-- <node command> [args...]]",
		Short: "Run a scenario against a fleet of node processes",
		Long: `Run launches one process per node, applies the scenario's steps in order
and tears every process down at the end, even when the run is interrupted.

The node id is appended to the node command as its last argument. The
command can also come from the scenario file's cluster.command.

Example:
  snapfleet run --preset smoke -- java -jar node.jar
  snapfleet run --preset n-nodes --seed 7 --outfile outfile -- ./node
  snapfleet run --scenario crash.yaml --journal runs.db --follow`,
		Args:          cobra.ArbitraryArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runScenario(opts, cmd, args)
		},
	}

	opts.Scenario.bind(cmd)
	cmd.Flags().StringVarP(&opts.Outfile, "outfile", "o", "", "write the combined output log to this file")
	cmd.Flags().StringVar(&opts.Journal, "journal", "", "record the run in this SQLite journal")
	cmd.Flags().BoolVar(&opts.KeepStorage, "keep-storage", false, "do not clear the storage root before the run")
	cmd.Flags().BoolVarP(&opts.Follow, "follow", "f", false, "print captured lines to stderr as they arrive")
	cmd.Flags().BoolVar(&opts.Watchdog, "watchdog", false, "restore nodes that exit on their own")
	cmd.Flags().IntVar(&opts.MaxRetries, "max-retries", recovery.DefaultConfig().MaxRetries, "watchdog restore attempts per node (0 = unlimited)")

	return cmd
}

func runScenario(opts *RunOptions, cmd *cobra.Command, command []string) error {
	f := opts.formatter(cmd)

	s, err := opts.Scenario.build(cmd, command)
	if err != nil {
		return WrapExitError(ExitCommandError, "invalid scenario", err)
	}
	if err := s.Validate(); err != nil {
		return WrapExitError(ExitCommandError, "invalid scenario", err)
	}

	parentCtx := cmd.Context()
	if parentCtx == nil {
		parentCtx = context.Background()
	}
	ctx, cancel := context.WithCancel(parentCtx)
	defer cancel()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
	defer signal.Stop(sigChan)

	go func() {
		select {
		case sig := <-sigChan:
			logger.Warn("", "Received %s, tearing down the fleet", sig)
			cancel()
		case <-ctx.Done():
		}
	}()

	runID := scenario.NewRunID()
	m := metrics.New()
	aggOpts := []output.Option{output.WithMetrics(m)}

	if opts.Outfile != "" {
		out, err := os.Create(opts.Outfile)
		if err != nil {
			return WrapExitError(ExitCommandError, "failed to create outfile", err)
		}
		defer out.Close()
		aggOpts = append(aggOpts, output.WithOutfile(out))
	}

	var j *journal.Journal
	if opts.Journal != "" {
		j, err = journal.Open(opts.Journal)
		if err != nil {
			return WrapExitError(ExitCommandError, "failed to open journal", err)
		}
		defer j.Close()
		if err := j.BeginRun(ctx, runID, s.Name, s.Cluster.NodeCount, time.Now()); err != nil {
			return WrapExitError(ExitCommandError, "failed to record run", err)
		}
		aggOpts = append(aggOpts, output.WithSink(j.Sink(runID)))
	}

	agg := output.New(aggOpts...)
	followDone := make(chan struct{})
	if opts.Follow {
		go func() {
			defer close(followDone)
			_ = agg.NewReader().Follow(context.WithoutCancel(ctx), func(l output.LogLine) {
				fmt.Fprintln(cmd.ErrOrStderr(), l.String())
			})
		}()
	} else {
		close(followDone)
	}

	engineOpts := []scenario.Option{
		scenario.WithRunID(runID),
		scenario.WithAggregator(agg),
		scenario.WithMetrics(m),
		scenario.WithKeepStorage(opts.KeepStorage),
	}
	if opts.Launcher != nil {
		engineOpts = append(engineOpts, scenario.WithLauncher(opts.Launcher))
	}
	if opts.Watchdog {
		wcfg := recovery.DefaultConfig()
		wcfg.AutoRestore = true
		wcfg.MaxRetries = opts.MaxRetries
		engineOpts = append(engineOpts, scenario.WithWatchdog(wcfg))
	}

	f.VerboseLog("run %s: scenario %s, %d nodes, command %v", runID, s.Name, s.Cluster.NodeCount, s.Cluster.Command)
	engine := scenario.New(s, engineOpts...)
	result, runErr := engine.Run(ctx)
	agg.Close()
	<-followDone

	if j != nil && result != nil {
		if err := j.FinishRun(context.WithoutCancel(ctx), result); err != nil {
			logger.Error("", "Journal: %v", err)
		}
	}
	if result != nil {
		if err := f.Success(result, result.Report()); err != nil {
			return WrapExitError(ExitCommandError, "failed to write result", err)
		}
	}

	switch {
	case runErr != nil && errors.Is(runErr, context.Canceled):
		return WrapExitError(ExitFailure, "run interrupted", runErr)
	case runErr != nil:
		return WrapExitError(ExitCommandError, "run aborted", runErr)
	case result.HasUnexpected():
		return NewExitError(ExitFailure, fmt.Sprintf("%d step action(s) failed unexpectedly", result.Unexpected))
	}
	return nil
}
