package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"snapfleet/internal/config"
	"snapfleet/internal/scenario"
)

// ScenarioFlags selects a scenario and overrides its cluster and timing.
type ScenarioFlags struct {
	Preset      string
	File        string
	Nodes       int
	Host        string
	BasePort    int
	Endowment   int
	Storage     string
	Seed        int64
	TimingScale float64
}

func (f *ScenarioFlags) bind(cmd *cobra.Command) {
	fl := cmd.Flags()
	fl.StringVarP(&f.Preset, "preset", "p", "", "preset scenario name (see 'snapfleet presets')")
	fl.StringVarP(&f.File, "scenario", "s", "", "scenario file (YAML/JSON)")
	fl.IntVarP(&f.Nodes, "nodes", "n", 0, "number of nodes")
	fl.StringVar(&f.Host, "host", "", "host the nodes bind to")
	fl.IntVar(&f.BasePort, "base-port", 0, "port of node 0; node i uses base-port+i")
	fl.IntVar(&f.Endowment, "endowment", 0, "initial resource endowment per node")
	fl.StringVar(&f.Storage, "storage", "", "storage root the nodes persist under")
	fl.Int64Var(&f.Seed, "seed", 0, "random seed for target selection")
	fl.Float64Var(&f.TimingScale, "timing-scale", 0, "multiply every delay by this factor")
	cmd.MarkFlagsMutuallyExclusive("preset", "scenario")
}

// build resolves the scenario: file, then preset, then the smoke preset.
// Flags given on the command line override both; a non-empty command
// replaces the node executable.
func (f *ScenarioFlags) build(cmd *cobra.Command, command []string) (scenario.Scenario, error) {
	var (
		s   scenario.Scenario
		err error
	)
	switch {
	case f.File != "":
		s, err = scenario.LoadFile(f.File)
		if err != nil {
			return s, err
		}
	case f.Preset != "":
		var ok bool
		s, ok = scenario.GetPreset(f.Preset)
		if !ok {
			return s, &config.Error{Field: "preset", Reason: fmt.Sprintf("unknown preset %q (available: %v)", f.Preset, scenario.ListPresets())}
		}
	default:
		s, _ = scenario.GetPreset("smoke")
	}

	changed := cmd.Flags().Changed
	if changed("nodes") {
		s.Cluster.NodeCount = f.Nodes
	}
	if changed("host") {
		s.Cluster.Host = f.Host
	}
	if changed("base-port") {
		s.Cluster.BasePort = f.BasePort
	}
	if changed("endowment") {
		s.Cluster.ResourceEndowment = f.Endowment
	}
	if changed("storage") {
		s.Cluster.StorageRoot = f.Storage
	}
	if changed("seed") {
		seed := f.Seed
		s.Cluster.RandomSeed = &seed
	}
	if changed("timing-scale") {
		if f.TimingScale < 0 {
			return s, &config.Error{Field: "timing_scale", Reason: "must be non-negative"}
		}
		s.Timing = s.Timing.Scale(f.TimingScale)
	}
	if len(command) > 0 {
		s.Cluster.Command = append([]string(nil), command...)
	}
	return s, nil
}
