package cli

import (
	"github.com/spf13/cobra"

	"snapfleet/internal/scenario"
)

// PlanOptions holds flags for the plan command.
type PlanOptions struct {
	*RootOptions
	Scenario ScenarioFlags
}

// PlanOutput is the JSON form of a plan.
type PlanOutput struct {
	Scenario string `json:"scenario"`
	Nodes    int    `json:"nodes"`
	Steps    int    `json:"steps"`
	Plan     string `json:"plan"`
	Valid    bool   `json:"valid"`
	Problem  string `json:"problem,omitempty"`
}

// NewPlanCommand creates the plan command.
func NewPlanCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &PlanOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "plan [flags] [-- <node command> [args...]]",
		Short: "Show the steps of a scenario without running it",
		Long: `Plan resolves a preset or scenario file with the given overrides and
prints its steps, the delays they resolve to and the minimum run time.
Nothing is launched. A missing node command is reported but does not
fail the plan.

Example:
  snapfleet plan --preset multiple-snapshots --timing-scale 0.1`,
		Args:          cobra.ArbitraryArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			s, err := opts.Scenario.build(cmd, args)
			if err != nil {
				return WrapExitError(ExitCommandError, "invalid scenario", err)
			}
			out := PlanOutput{
				Scenario: s.Name,
				Nodes:    s.Cluster.NodeCount,
				Steps:    len(s.Steps),
				Plan:     scenario.Plan(s),
				Valid:    true,
			}
			text := out.Plan
			if err := s.Validate(); err != nil {
				out.Valid = false
				out.Problem = err.Error()
				text += "not runnable as given: " + err.Error() + "\n"
			}
			return opts.formatter(cmd).Success(out, text)
		},
	}
	opts.Scenario.bind(cmd)
	return cmd
}
