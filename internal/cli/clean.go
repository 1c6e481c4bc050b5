package cli

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"snapfleet/internal/config"
	"snapfleet/internal/journal"
	"snapfleet/internal/storage"
)

// CleanOptions holds flags for the clean command.
type CleanOptions struct {
	*RootOptions
	Storage string
	DryRun  bool
	Journal string
	RunID   string
}

// CleanResult is the JSON form of the clean command.
type CleanResult struct {
	Storage    string              `json:"storage"`
	Nodes      []storage.NodeUsage `json:"nodes"`
	Removed    bool                `json:"removed"`
	DeletedRun string              `json:"deleted_run,omitempty"`
}

// NewCleanCommand creates the clean command.
func NewCleanCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &CleanOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "clean",
		Short: "Remove persisted node state (and optionally a journaled run)",
		Long: `Clean removes the storage root nodes persist snapshots under. With
--dry-run it only lists what each node has stored. With --journal and
--run it also deletes that run from the journal.

Example:
  snapfleet clean --storage storage_folder --dry-run
  snapfleet clean --journal runs.db --run 0190c1d2-...`,
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return clean(opts, cmd)
		},
	}

	cmd.Flags().StringVar(&opts.Storage, "storage", config.DefaultCluster().StorageRoot, "storage root to remove")
	cmd.Flags().BoolVar(&opts.DryRun, "dry-run", false, "only list stored node state")
	cmd.Flags().StringVar(&opts.Journal, "journal", "", "journal to delete --run from")
	cmd.Flags().StringVar(&opts.RunID, "run", "", "run id to delete from the journal")
	cmd.MarkFlagsRequiredTogether("journal", "run")

	return cmd
}

func clean(opts *CleanOptions, cmd *cobra.Command) error {
	area := storage.New(opts.Storage)
	usage, err := area.Usage()
	if err != nil {
		return WrapExitError(ExitCommandError, "failed to read storage", err)
	}

	res := CleanResult{Storage: area.Root(), Nodes: usage}
	var b strings.Builder
	for _, u := range usage {
		fmt.Fprintf(&b, "  %s:%d  %d files, %d bytes\n", u.Host, u.Port, u.Files, u.Bytes)
	}

	if !opts.DryRun {
		if err := area.Clear(); err != nil {
			return WrapExitError(ExitCommandError, "failed to clear storage", err)
		}
		res.Removed = true
		fmt.Fprintf(&b, "removed %s (%d node directories)\n", area.Root(), len(usage))
	} else {
		fmt.Fprintf(&b, "%s holds %d node directories (dry run)\n", area.Root(), len(usage))
	}

	if opts.Journal != "" {
		j, err := journal.Open(opts.Journal)
		if err != nil {
			return WrapExitError(ExitCommandError, "failed to open journal", err)
		}
		defer j.Close()
		if !opts.DryRun {
			if err := j.DeleteRun(cmd.Context(), opts.RunID); err != nil {
				return WrapExitError(ExitCommandError, "failed to delete run", err)
			}
			res.DeletedRun = opts.RunID
			fmt.Fprintf(&b, "deleted run %s\n", opts.RunID)
		}
	}

	return opts.formatter(cmd).Success(res, strings.TrimRight(b.String(), "\n"))
}
