package cli

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"snapfleet/internal/scenario"
)

// PresetSummary describes one preset scenario.
type PresetSummary struct {
	Name        string `json:"name"`
	Description string `json:"description"`
	NodeCount   int    `json:"node_count"`
	Steps       int    `json:"steps"`
}

// NewPresetsCommand creates the presets command.
func NewPresetsCommand(rootOpts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:           "presets",
		Short:         "List preset scenarios",
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			var (
				list []PresetSummary
				b    strings.Builder
			)
			b.WriteString("Preset scenarios:\n\n")
			for _, name := range scenario.ListPresets() {
				p, _ := scenario.GetPreset(name)
				list = append(list, PresetSummary{
					Name:        name,
					Description: p.Description,
					NodeCount:   p.Cluster.NodeCount,
					Steps:       len(p.Steps),
				})
				fmt.Fprintf(&b, "  %-30s %3d nodes  %s\n", name, p.Cluster.NodeCount, p.Description)
			}
			return rootOpts.formatter(cmd).Success(list, strings.TrimRight(b.String(), "\n"))
		},
	}
}
