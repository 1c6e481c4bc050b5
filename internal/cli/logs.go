package cli

import (
	"errors"
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"snapfleet/internal/journal"
	"snapfleet/internal/output"
)

// LogsOptions holds flags for the logs command.
type LogsOptions struct {
	*RootOptions
	Journal  string
	RunID    string
	Node     int
	After    uint64
	Limit    int
	ListRuns bool
}

// NewLogsCommand creates the logs command.
func NewLogsCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &LogsOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "logs --journal <db>",
		Short: "Show captured output of a recorded run",
		Long: `Logs reads a run journal written by 'snapfleet run --journal'. Without
--run the most recent run is shown.

Example:
  snapfleet logs --journal runs.db
  snapfleet logs --journal runs.db --node 3
  snapfleet logs --journal runs.db --runs`,
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return showLogs(opts, cmd)
		},
	}

	cmd.Flags().StringVar(&opts.Journal, "journal", "", "path to the SQLite journal (required)")
	cmd.Flags().StringVar(&opts.RunID, "run", "", "run id (default: latest)")
	cmd.Flags().IntVar(&opts.Node, "node", 0, "only lines of this node (-1 for harness lines)")
	cmd.Flags().Uint64Var(&opts.After, "after", 0, "only lines with a larger sequence number")
	cmd.Flags().IntVar(&opts.Limit, "limit", 0, "maximum number of lines (0 = all)")
	cmd.Flags().BoolVar(&opts.ListRuns, "runs", false, "list recorded runs instead of lines")
	_ = cmd.MarkFlagRequired("journal")

	return cmd
}

// RunLogs is the JSON form of the logs command.
type RunLogs struct {
	Run   journal.Run      `json:"run"`
	Lines []output.LogLine `json:"lines"`
}

func showLogs(opts *LogsOptions, cmd *cobra.Command) error {
	ctx := cmd.Context()
	f := opts.formatter(cmd)

	j, err := journal.Open(opts.Journal)
	if err != nil {
		return WrapExitError(ExitCommandError, "failed to open journal", err)
	}
	defer j.Close()

	if opts.ListRuns {
		runs, err := j.Runs(ctx, opts.Limit)
		if err != nil {
			return WrapExitError(ExitCommandError, "failed to list runs", err)
		}
		var b strings.Builder
		for _, r := range runs {
			status := "running"
			switch {
			case r.Aborted:
				status = "aborted"
			case r.Finished():
				status = fmt.Sprintf("ok=%d dead=%d unexpected=%d", r.Succeeded, r.ExpectedDead, r.Unexpected)
			}
			fmt.Fprintf(&b, "%s  %s  %-30s %3d nodes  %s\n",
				r.ID, r.StartedAt.Local().Format("2006-01-02 15:04:05"), r.Scenario, r.NodeCount, status)
		}
		return f.Success(runs, strings.TrimRight(b.String(), "\n"))
	}

	var run journal.Run
	if opts.RunID != "" {
		run, err = j.GetRun(ctx, opts.RunID)
	} else {
		run, err = j.LatestRun(ctx)
	}
	if errors.Is(err, journal.ErrNotFound) {
		return WrapExitError(ExitCommandError, "no such run", err)
	}
	if err != nil {
		return WrapExitError(ExitCommandError, "failed to read run", err)
	}

	q := journal.LineQuery{RunID: run.ID, AfterSeq: opts.After, Limit: opts.Limit}
	if cmd.Flags().Changed("node") {
		node := opts.Node
		q.Source = &node
	}
	lines, err := j.Lines(ctx, q)
	if err != nil {
		return WrapExitError(ExitCommandError, "failed to read lines", err)
	}

	texts := make([]string, len(lines))
	for i, l := range lines {
		texts[i] = l.String()
	}
	f.VerboseLog("run %s (%s): %d lines", run.ID, run.Scenario, len(lines))
	return f.Success(RunLogs{Run: run, Lines: lines}, strings.Join(texts, "\n"))
}
