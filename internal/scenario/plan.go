package scenario

import (
	"fmt"
	"strings"
	"time"

	"snapfleet/internal/config"
)

// Plan renders the steps of s without launching anything, together with
// the delays each step resolves to and a lower bound of the run time.
func Plan(s Scenario) string {
	c := s.Cluster
	var b strings.Builder
	fmt.Fprintf(&b, "scenario: %s\n", s.Name)
	if s.Description != "" {
		fmt.Fprintf(&b, "description: %s\n", s.Description)
	}
	fmt.Fprintf(&b, "cluster: %d nodes on %s:%d-%d, endowment %d, storage %s\n",
		c.NodeCount, c.Host, c.Port(0), c.Port(c.NodeCount-1), c.ResourceEndowment, c.StorageRoot)
	if c.RandomSeed != nil {
		fmt.Fprintf(&b, "seed: %d\n", *c.RandomSeed)
	}
	b.WriteString("steps:\n")

	counts := map[string]int{}
	var total time.Duration
	for i, st := range s.Steps {
		n := targetCount(st, c, counts)
		if st.Bind != "" {
			counts[st.Bind] = n
		}
		d := stepDuration(st, n, s.Timing, c)
		total += d

		line := fmt.Sprintf("  %2d. %s", i+1, st)
		var notes []string
		if !st.Stagger.IsZero() {
			notes = append(notes, "stagger "+describeDelay(st.Stagger, s.Timing))
		}
		if st.Chaos != nil {
			notes = append(notes, describeChaos(st.Chaos, s.Timing))
		}
		if !st.DelayAfter.IsZero() {
			notes = append(notes, "then wait "+describeDelay(st.DelayAfter, s.Timing))
		}
		if len(notes) > 0 {
			line += " (" + strings.Join(notes, ", ") + ")"
		}
		b.WriteString(line + "\n")
	}
	fmt.Fprintf(&b, "minimum duration: %v\n", total)
	return b.String()
}

func describeDelay(d Delay, t config.Timing) string {
	if d.Key == "" {
		return d.String()
	}
	return fmt.Sprintf("%s=%v", d.Key, d.Resolve(t))
}

func describeChaos(c *ChaosConfig, t config.Timing) string {
	attacks := make([]string, len(c.Attacks))
	for i, a := range c.Attacks {
		attacks[i] = a.String()
	}
	s := fmt.Sprintf("%v every %v, %d target(s), attacks %s", c.Duration, c.Interval, c.TargetCount, strings.Join(attacks, "/"))
	if c.SpareSeed {
		s += ", seed spared"
	}
	if !c.RestoreAfter.IsZero() {
		s += ", restore after " + describeDelay(c.RestoreAfter, t)
	}
	return s
}

func targetCount(st Step, c config.Cluster, counts map[string]int) int {
	if !st.Action.perNode() {
		return 0
	}
	switch st.Targets.Kind {
	case SelectAll, "":
		return c.NodeCount
	case SelectAllButSeed:
		return c.NodeCount - 1
	case SelectIDs:
		return len(st.Targets.IDs)
	case SelectRandom, SelectRandomNonSeed:
		return 1
	case SelectRandomDistinct:
		return st.Targets.Count
	case SelectRef:
		return counts[st.Targets.Ref]
	}
	return 0
}

func stepDuration(st Step, n int, t config.Timing, c config.Cluster) time.Duration {
	var d time.Duration
	switch st.Action {
	case ActionChaos:
		if st.Chaos != nil {
			d = st.Chaos.Duration
		}
	case ActionTeardown:
		if c.NodeCount > 1 {
			d = time.Duration(c.NodeCount-1) * t.DisconnectStagger
		}
		d += t.TeardownGrace
	case ActionBootstrap:
		per := t.SpawnStagger + t.InitStagger + t.JoinStagger
		d = time.Duration(n) * per
		if n > 0 {
			// シードはjoinしない
			d -= t.JoinStagger
		}
	}
	if n > 1 {
		d += time.Duration(n-1) * st.Stagger.Resolve(t)
	}
	return d + st.DelayAfter.Resolve(t)
}
