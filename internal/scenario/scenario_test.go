package scenario

import (
	"context"
	"errors"
	"math/rand"
	"os"
	"strings"
	"testing"
	"time"

	"github.com/sebdah/goldie/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"snapfleet/internal/chaos"
	"snapfleet/internal/config"
	"snapfleet/internal/events"
	"snapfleet/internal/fleet"
	"snapfleet/internal/node"
	"snapfleet/internal/output"
	"snapfleet/internal/recovery"
	"snapfleet/internal/testnode"
)

func TestMain(m *testing.M) {
	if testnode.IsFakeNode() {
		os.Exit(testnode.Main())
	}
	os.Exit(m.Run())
}

func fastTiming() config.Timing {
	return config.Timing{WriteTimeout: 5 * time.Second}
}

func testScenario(t *testing.T, n int, steps ...Step) Scenario {
	t.Helper()
	cluster := config.DefaultCluster()
	cluster.NodeCount = n
	cluster.StorageRoot = t.TempDir()
	cluster.Command = testnode.Command()
	seed := int64(42)
	cluster.RandomSeed = &seed
	return Scenario{Name: t.Name(), Cluster: cluster, Timing: fastTiming(), Steps: steps}
}

func testEngine(t *testing.T, s Scenario, opts ...Option) (*Engine, *output.Aggregator) {
	t.Helper()
	agg := output.New()
	t.Cleanup(agg.Close)
	launcher := &node.ExecLauncher{
		Command: s.Cluster.Command,
		Env:     testnode.Env(testnode.EnvStorage + "=" + s.Cluster.StorageRoot),
	}
	opts = append([]Option{WithLauncher(launcher), WithAggregator(agg)}, opts...)
	return New(s, opts...), agg
}

func nodeLines(agg *output.Aggregator, source, generation int) []string {
	var out []string
	for _, l := range agg.Lines() {
		if l.Source == source && l.Generation == generation {
			out = append(out, l.Text)
		}
	}
	return out
}

func TestPresets(t *testing.T) {
	want := map[string]int{
		"bootstrap":                     3,
		"smoke":                         3,
		"n-nodes":                       20,
		"multiple-snapshots":            40,
		"snap-disconnect-crash-restore": 40,
		"chaos":                         5,
	}
	require.Len(t, ListPresets(), len(want))

	for _, name := range ListPresets() {
		t.Run(name, func(t *testing.T) {
			s, ok := GetPreset(name)
			require.True(t, ok)
			assert.Equal(t, name, s.Name)
			assert.NotEmpty(t, s.Description)
			assert.Equal(t, want[name], s.Cluster.NodeCount)
			assert.Equal(t, ActionTeardown, s.Steps[len(s.Steps)-1].Action)

			err := s.Validate()
			assert.ErrorIs(t, err, config.ErrConfiguration, "presets carry no node command")

			s.Cluster.Command = []string{"/bin/cat"}
			assert.NoError(t, s.Validate())
		})
	}

	_, ok := GetPreset("nope")
	assert.False(t, ok)
}

func TestPresetsAreIndependentCopies(t *testing.T) {
	a, _ := GetPreset("smoke")
	a.Steps[0].Action = ActionWait
	b, _ := GetPreset("smoke")
	assert.Equal(t, ActionBootstrap, b.Steps[0].Action)
}

func TestScenarioValidate(t *testing.T) {
	base := func(steps ...Step) Scenario {
		s := Scenario{Name: "v", Cluster: config.DefaultCluster(), Timing: config.DefaultTiming(), Steps: steps}
		s.Cluster.Command = []string{"/bin/cat"}
		return s
	}

	tests := []struct {
		name  string
		s     Scenario
		field string
	}{
		{"no steps", base(), "steps"},
		{"unknown action", base(Step{Action: "explode"}), "steps[0].action"},
		{"id out of range", base(Step{Action: ActionCrash, Targets: IDs(0, 3)}), "steps[0].targets.ids"},
		{"empty ids", base(Step{Action: ActionCrash, Targets: IDs()}), "steps[0].targets.ids"},
		{"too many distinct", base(Step{Action: ActionSnapshot, Targets: RandomDistinct(4)}), "steps[0].targets.count"},
		{"zero distinct", base(Step{Action: ActionSnapshot, Targets: RandomDistinct(0)}), "steps[0].targets.count"},
		{"unbound ref", base(Step{Action: ActionRestore, Targets: Ref("victim")}), "steps[0].targets.ref"},
		{"ref bound later", base(
			Step{Action: ActionRestore, Targets: Ref("victim")},
			Step{Action: ActionCrash, Targets: Random(), Bind: "victim"},
		), "steps[0].targets.ref"},
		{"join includes seed", base(Step{Action: ActionJoin, Targets: All()}), "steps[0].targets"},
		{"chaos without parameters", base(Step{Action: ActionChaos}), "steps[0].chaos"},
		{"unknown selector", base(Step{Action: ActionSnapshot, Targets: Targets{Kind: "every-other"}}), "steps[0].targets.kind"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.s.Validate()
			require.ErrorIs(t, err, config.ErrConfiguration)
			var cerr *config.Error
			require.ErrorAs(t, err, &cerr)
			assert.Equal(t, tt.field, cerr.Field)
		})
	}

	single := base(Step{Action: ActionCrash, Targets: RandomNonSeed()})
	single.Cluster.NodeCount = 1
	assert.ErrorIs(t, single.Validate(), config.ErrConfiguration)

	ok := base(
		Step{Action: ActionCrash, Targets: Random(), Bind: "victim"},
		Step{Action: ActionRestore, Targets: Ref("victim")},
		Step{Action: ActionWait, DelayAfter: Fixed(time.Second)},
		Step{Action: ActionTeardown},
	)
	assert.NoError(t, ok.Validate())
}

func TestTargetsResolve(t *testing.T) {
	cluster := config.DefaultCluster()
	cluster.NodeCount = 5
	rnd := rand.New(rand.NewSource(1))
	bindings := map[string][]int{"victim": {3}}

	resolve := func(tg Targets) []int {
		ids, err := tg.Resolve(cluster, rnd, bindings)
		require.NoError(t, err, tg.String())
		return ids
	}

	assert.Equal(t, []int{0, 1, 2, 3, 4}, resolve(All()))
	assert.Equal(t, []int{0, 1, 2, 3, 4}, resolve(Targets{}))
	assert.Equal(t, []int{1, 2, 3, 4}, resolve(AllButSeed()))
	assert.Equal(t, []int{1, 4}, resolve(IDs(4, 1)))
	assert.Equal(t, []int{3}, resolve(Ref("victim")))

	for range 200 {
		ids := resolve(Random())
		require.Len(t, ids, 1)
		assert.True(t, ids[0] >= 0 && ids[0] < 5)

		ids = resolve(RandomNonSeed())
		require.Len(t, ids, 1)
		assert.NotEqual(t, config.SeedID, ids[0])

		ids = resolve(RandomDistinct(2))
		require.Len(t, ids, 2)
		assert.NotEqual(t, ids[0], ids[1])
	}

	_, err := Ref("missing").Resolve(cluster, rnd, bindings)
	assert.Error(t, err)
	_, err = RandomDistinct(6).Resolve(cluster, rnd, bindings)
	assert.ErrorIs(t, err, chaos.ErrNotEnoughCandidates)
}

func TestTargetsString(t *testing.T) {
	assert.Equal(t, "all", All().String())
	assert.Equal(t, "all-but-seed", AllButSeed().String())
	assert.Equal(t, "ids[1,2]", IDs(1, 2).String())
	assert.Equal(t, "random-distinct(2)", RandomDistinct(2).String())
	assert.Equal(t, "ref(victim)", Ref("victim").String())
	assert.Equal(t, "crash random as victim", Step{Action: ActionCrash, Targets: Random(), Bind: "victim"}.String())
	assert.Equal(t, "teardown", Step{Action: ActionTeardown}.String())
}

func TestParseDelay(t *testing.T) {
	timing := config.DefaultTiming()

	d, err := ParseDelay("settle_delay")
	require.NoError(t, err)
	assert.Equal(t, Named("settle_delay"), d)
	assert.Equal(t, timing.SettleDelay, d.Resolve(timing))
	assert.Equal(t, timing.SettleDelay/2, d.Resolve(timing.Scale(0.5)))

	d, err = ParseDelay(" 1.5s ")
	require.NoError(t, err)
	assert.Equal(t, Fixed(1500*time.Millisecond), d)

	d, err = ParseDelay("")
	require.NoError(t, err)
	assert.True(t, d.IsZero())
	assert.Equal(t, "-", d.String())

	for _, bad := range []string{"soon", "-1s", "write_timeout"} {
		_, err := ParseDelay(bad)
		assert.Error(t, err, bad)
	}
}

func TestClassify(t *testing.T) {
	comm := &fleet.OpError{Op: "snapshot", NodeID: 1, Err: fleet.ErrCommunicationFailure}
	refused := &fleet.OpError{Op: "join", NodeID: 1, Err: fleet.ErrInvalidTransition}

	assert.Equal(t, OutcomeSucceeded, Classify(node.StateJoined, nil))
	assert.Equal(t, OutcomeExpectedDeadTarget, Classify(node.StateCrashed, comm))
	assert.Equal(t, OutcomeExpectedDeadTarget, Classify(node.StateStopped, refused))
	assert.Equal(t, OutcomeUnexpectedFailure, Classify(node.StateExited, comm), "a node that died on its own was not killed by the scenario")
	assert.Equal(t, OutcomeUnexpectedFailure, Classify(node.StateExited, refused))
	assert.Equal(t, OutcomeUnexpectedFailure, Classify(node.StateJoined, comm))
	assert.Equal(t, OutcomeUnexpectedFailure, Classify(node.StateSpawned, refused))
	assert.Equal(t, OutcomeUnexpectedFailure, Classify(node.StateCrashed, errors.New("boom")))

	text, err := OutcomeExpectedDeadTarget.MarshalText()
	require.NoError(t, err)
	assert.Equal(t, "expected-dead-target", string(text))
}

func TestSummarize(t *testing.T) {
	steps := []Step{
		{Action: ActionBootstrap, Targets: All()},
		{Action: ActionSnapshot, Targets: IDs(1, 2)},
	}
	outcomes := []StepOutcome{
		{Step: 1, Action: ActionSpawn, Kind: OutcomeSucceeded},
		{Step: 1, Action: ActionJoin, Kind: OutcomeUnexpectedFailure},
		{Step: 2, Action: ActionSnapshot, Kind: OutcomeSucceeded},
		{Step: 2, Action: ActionSnapshot, Kind: OutcomeExpectedDeadTarget},
	}
	assert.Equal(t, []StepSummary{
		{Step: 1, Action: ActionBootstrap, Succeeded: 1, Unexpected: 1},
		{Step: 2, Action: ActionSnapshot, Succeeded: 1, ExpectedDead: 1},
	}, summarize(steps, outcomes))
}

func TestPlan(t *testing.T) {
	s, _ := GetPreset("smoke")
	g := goldie.New(t,
		goldie.WithFixtureDir("testdata/golden"),
		goldie.WithNameSuffix(".golden"),
	)
	g.Assert(t, "plan_smoke", []byte(Plan(s)))
}

func TestPlanChaosAndRefs(t *testing.T) {
	s, _ := GetPreset("chaos")
	plan := Plan(s)
	assert.Contains(t, plan, "chaos (30s every 5s, 1 target(s), attacks crash/disconnect/snapshot, seed spared, restore after crash_to_restore=10s")

	s, _ = GetPreset("multiple-snapshots")
	plan = Plan(s)
	assert.Contains(t, plan, "snapshot random-distinct(2)")
	assert.Contains(t, plan, "restore ref(victim)")
	assert.Contains(t, plan, "stagger join_stagger=1s")
}

func TestLoadFileYAML(t *testing.T) {
	s, err := LoadFile("testdata/custom.yaml")
	require.NoError(t, err)

	assert.Equal(t, "custom-crash", s.Name)
	assert.Equal(t, 4, s.Cluster.NodeCount)
	assert.Equal(t, 12000, s.Cluster.BasePort)
	require.NotNil(t, s.Cluster.RandomSeed)
	assert.Equal(t, int64(7), *s.Cluster.RandomSeed)
	assert.Equal(t, time.Second, s.Timing.SettleDelay)
	assert.Equal(t, 5*time.Second, s.Timing.CrashToRestore)

	require.Len(t, s.Steps, 5)
	assert.Equal(t, Step{Action: ActionBootstrap, Targets: All(), DelayAfter: Named("settle_delay")}, s.Steps[0])
	assert.Equal(t, Step{Action: ActionCrash, Targets: RandomNonSeed(), Bind: "victim", DelayAfter: Fixed(250 * time.Millisecond)}, s.Steps[1])
	assert.Equal(t, Ref("victim"), s.Steps[2].Targets)

	cc := s.Steps[3].Chaos
	require.NotNil(t, cc)
	assert.Equal(t, 3*time.Second, cc.Duration)
	assert.Equal(t, 500*time.Millisecond, cc.Interval)
	assert.Equal(t, 1, cc.TargetCount)
	assert.Equal(t, []chaos.AttackType{chaos.AttackSnapshot, chaos.AttackDisconnect}, cc.Attacks)
	assert.Equal(t, Named("crash_to_restore"), cc.RestoreAfter)

	s.Cluster.Command = []string{"/bin/cat"}
	assert.NoError(t, s.Validate())
}

func TestLoadFilePresetBase(t *testing.T) {
	s, err := LoadFile("testdata/preset.json")
	require.NoError(t, err)

	preset, _ := GetPreset("n-nodes")
	assert.Equal(t, "n-nodes", s.Name)
	assert.Equal(t, 6, s.Cluster.NodeCount)
	assert.Equal(t, []string{"/usr/bin/node-bin", "--verbose"}, s.Cluster.Command)
	assert.Equal(t, preset.Steps, s.Steps)
	assert.NoError(t, s.Validate())
}

func TestLoadFileErrors(t *testing.T) {
	_, err := LoadFile("testdata/typo.yaml")
	assert.ErrorIs(t, err, config.ErrConfiguration)

	_, err = LoadFile("testdata/missing.yaml")
	assert.ErrorIs(t, err, config.ErrConfiguration)

	_, err = File{Preset: "nope"}.Scenario()
	assert.ErrorIs(t, err, config.ErrConfiguration)

	_, err = File{Steps: []StepFile{{Action: "wait", Delay: "later"}}}.Scenario()
	assert.ErrorIs(t, err, config.ErrConfiguration)

	_, err = File{Steps: []StepFile{{Action: "chaos", Chaos: &ChaosFile{Duration: "1s", Attacks: []string{"meteor"}}}}}.Scenario()
	assert.ErrorIs(t, err, config.ErrConfiguration)
}

func TestEngineSnapshotCrashRestore(t *testing.T) {
	s := testScenario(t, 3,
		Step{Action: ActionBootstrap, Targets: All()},
		Step{Action: ActionSnapshot, Targets: IDs(1), DelayAfter: Fixed(300 * time.Millisecond)},
		Step{Action: ActionCrash, Targets: IDs(1)},
		Step{Action: ActionRestore, Targets: IDs(1), DelayAfter: Fixed(300 * time.Millisecond)},
	)
	bus := events.NewBusWithBuffer(64)
	engine, agg := testEngine(t, s, WithEventBus(bus))

	result, err := engine.Run(context.Background())
	require.NoError(t, err)
	assert.False(t, engine.IsRunning())
	assert.NotEmpty(t, result.RunID)
	assert.Equal(t, int64(42), result.Seed)
	assert.False(t, result.HasUnexpected(), result.Report())
	assert.Equal(t, 0, result.ExpectedDead)
	// spawn*3, initialize*3, join*2, snapshot, crash, restore
	assert.Equal(t, 11, result.Succeeded)

	require.Len(t, result.FinalNodes, 3)
	for i, info := range result.FinalNodes {
		assert.Equal(t, i, info.ID)
		assert.Equal(t, 10000+i, info.Port)
		assert.True(t, info.State.Live(), "node %d is %s", i, info.State)
	}
	assert.Equal(t, 2, result.FinalNodes[1].Generation)
	assert.True(t, result.FinalNodes[1].Restored)

	assert.Eventually(t, func() bool {
		return len(nodeLines(agg, 1, 2)) >= 3
	}, 5*time.Second, 10*time.Millisecond)
	lines := nodeLines(agg, 1, 2)
	assert.Equal(t, "node 1 up", lines[0])
	assert.Equal(t, "initialized localhost:10001 endowment=1000", lines[1])
	assert.Equal(t, "restore ok", lines[2])

	assert.Equal(t, uint64(4), result.Metrics.Spawns)
	assert.Equal(t, uint64(1), result.Metrics.Crashes)
	assert.Equal(t, uint64(1), result.Metrics.Restores)

	_, err = os.Stat(s.Cluster.StorageRoot + "/localhost_10001/1/state")
	assert.NoError(t, err, "snapshot should persist before the crash")

	f := engine.Fleet()
	for _, info := range f.Nodes() {
		assert.True(t, info.State.Dead(), "node %d left %s after run", info.ID, info.State)
	}
}

func TestEngineDeadTargetIsExpected(t *testing.T) {
	s := testScenario(t, 2,
		Step{Action: ActionBootstrap, Targets: All()},
		Step{Action: ActionCrash, Targets: IDs(1)},
		Step{Action: ActionSnapshot, Targets: IDs(1)},
		Step{Action: ActionDisconnect, Targets: IDs(1)},
	)
	engine, _ := testEngine(t, s)

	result, err := engine.Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 2, result.ExpectedDead)
	assert.Equal(t, 0, result.Unexpected)
	assert.Equal(t, node.StateCrashed, result.FinalNodes[1].State)

	require.Len(t, result.Steps, 4)
	assert.Equal(t, StepSummary{Step: 3, Action: ActionSnapshot, ExpectedDead: 1}, result.Steps[2])
}

func TestEngineUnexpectedFailureIsReported(t *testing.T) {
	s := testScenario(t, 2,
		Step{Action: ActionSpawn, Targets: All()},
		Step{Action: ActionJoin, Targets: IDs(1)},
		Step{Action: ActionInitialize, Targets: All()},
	)
	bus := events.NewBusWithBuffer(64)
	ch := bus.Subscribe()
	engine, agg := testEngine(t, s, WithEventBus(bus))

	result, err := engine.Run(context.Background())
	require.NoError(t, err, "unexpected failures do not abort the run")
	assert.True(t, result.HasUnexpected())
	assert.Equal(t, 1, result.Unexpected)
	assert.Equal(t, 4, result.Succeeded)
	assert.Contains(t, result.Report(), "UNEXPECTED FAILURES")

	var found bool
	for _, o := range result.Outcomes {
		if o.Kind == OutcomeUnexpectedFailure {
			found = true
			assert.Equal(t, ActionJoin, o.Action)
			assert.Equal(t, 1, o.NodeID)
			assert.ErrorIs(t, o.Err, fleet.ErrInvalidTransition)
		}
	}
	assert.True(t, found)

	var warned bool
	for _, l := range agg.Lines() {
		if l.Source == output.HarnessSource && strings.HasPrefix(l.Text, "warning: step 2 join on node 1") {
			warned = true
		}
	}
	assert.True(t, warned)

	timeout := time.After(2 * time.Second)
	for {
		select {
		case e := <-ch:
			if e.Type == events.EventUnexpectedFailure {
				assert.Equal(t, 1, e.NodeID)
				return
			}
		case <-timeout:
			t.Fatal("no unexpected failure event")
		}
	}
}

func TestEngineSpawnFailureAborts(t *testing.T) {
	s := testScenario(t, 2, Step{Action: ActionBootstrap, Targets: All()})
	s.Cluster.Command = []string{"/nonexistent/snapfleet-node"}
	engine := New(s)

	result, err := engine.Run(context.Background())
	require.Error(t, err)
	assert.ErrorIs(t, err, fleet.ErrSpawnFailure)
	require.NotNil(t, result)
	assert.True(t, result.Aborted)
	assert.Contains(t, result.Error, "spawn")
}

func TestEngineRejectsInvalidScenario(t *testing.T) {
	s := testScenario(t, 2, Step{Action: ActionCrash, Targets: IDs(5)})
	result, err := New(s).Run(context.Background())
	assert.ErrorIs(t, err, config.ErrConfiguration)
	assert.Nil(t, result)
}

func TestEngineStop(t *testing.T) {
	s := testScenario(t, 2,
		Step{Action: ActionBootstrap, Targets: All()},
		Step{Action: ActionWait, DelayAfter: Fixed(time.Minute)},
	)
	engine, _ := testEngine(t, s)

	go func() {
		assert.Eventually(t, func() bool {
			step, _ := engine.Progress()
			return step == 2
		}, 5*time.Second, 10*time.Millisecond)
		engine.Stop()
	}()

	start := time.Now()
	result, err := engine.Run(context.Background())
	assert.ErrorIs(t, err, context.Canceled)
	assert.Less(t, time.Since(start), 30*time.Second)
	require.NotNil(t, result)
	assert.True(t, result.Aborted)

	for _, info := range engine.Fleet().Nodes() {
		assert.True(t, info.State.Dead(), "node %d left %s after stop", info.ID, info.State)
	}
}

func TestEngineChaosStep(t *testing.T) {
	s := testScenario(t, 3,
		Step{Action: ActionBootstrap, Targets: All()},
		Step{Action: ActionChaos, Chaos: &ChaosConfig{
			Duration:    500 * time.Millisecond,
			Interval:    50 * time.Millisecond,
			TargetCount: 1,
			Attacks:     []chaos.AttackType{chaos.AttackSnapshot},
			SpareSeed:   true,
		}},
	)
	engine, _ := testEngine(t, s)

	result, err := engine.Run(context.Background())
	require.NoError(t, err)
	require.NotNil(t, result.Chaos)
	assert.Greater(t, result.Chaos.TotalAttacks, uint64(0))
	assert.Equal(t, 0, result.Unexpected)

	var snapshots int
	for _, o := range result.Outcomes {
		if o.Step == 2 {
			assert.Equal(t, ActionSnapshot, o.Action)
			assert.NotEqual(t, config.SeedID, o.NodeID)
			snapshots++
		}
	}
	assert.Greater(t, snapshots, 0)
	assert.Contains(t, result.Report(), "CHAOS STATISTICS")
}

func TestEngineWatchdogRestoresExitedNode(t *testing.T) {
	s := testScenario(t, 2,
		Step{Action: ActionBootstrap, Targets: All()},
		Step{Action: ActionWait, DelayAfter: Fixed(1500 * time.Millisecond)},
	)
	agg := output.New()
	t.Cleanup(agg.Close)
	// ノード1はinitializeとjoinを受け取ると終了する
	launcher := &node.ExecLauncher{
		Command: s.Cluster.Command,
		Env:     testnode.Env(testnode.EnvExitAfter + "=2"),
	}
	engine := New(s,
		WithLauncher(launcher),
		WithAggregator(agg),
		WithWatchdog(recoveryConfigForTest()),
	)

	result, err := engine.Run(context.Background())
	require.NoError(t, err)
	require.NotNil(t, result.Watchdog)
	assert.Greater(t, result.Watchdog.DetectedExits, uint64(0))
	assert.Greater(t, result.Watchdog.TotalRecoveries, uint64(0))
}

func TestEngineSelfExitedTargetIsUnexpected(t *testing.T) {
	s := testScenario(t, 2,
		Step{Action: ActionBootstrap, Targets: All(), DelayAfter: Fixed(500 * time.Millisecond)},
		Step{Action: ActionSnapshot, Targets: IDs(1)},
		Step{Action: ActionCrash, Targets: IDs(0)},
		Step{Action: ActionSnapshot, Targets: IDs(0)},
	)
	agg := output.New()
	t.Cleanup(agg.Close)
	// ノード1はinitializeとjoinを受け取ると自ら終了する
	launcher := &node.ExecLauncher{
		Command: s.Cluster.Command,
		Env:     testnode.Env(testnode.EnvExitAfter + "=2"),
	}
	engine := New(s, WithLauncher(launcher), WithAggregator(agg))

	result, err := engine.Run(context.Background())
	require.NoError(t, err)
	assert.True(t, result.HasUnexpected())
	assert.Equal(t, 1, result.Unexpected, result.Report())
	assert.Equal(t, 1, result.ExpectedDead, "snapshot of the crashed seed is expected")

	var exited, crashed StepOutcome
	for _, o := range result.Outcomes {
		switch {
		case o.Step == 2:
			exited = o
		case o.Step == 4:
			crashed = o
		}
	}
	assert.Equal(t, OutcomeUnexpectedFailure, exited.Kind)
	assert.Equal(t, 1, exited.NodeID)
	assert.ErrorIs(t, exited.Err, fleet.ErrCommunicationFailure)
	assert.Equal(t, OutcomeExpectedDeadTarget, crashed.Kind)
	assert.Contains(t, result.Report(), "UNEXPECTED FAILURES")
}

func recoveryConfigForTest() recovery.Config {
	return recovery.Config{
		CheckInterval: 50 * time.Millisecond,
		MaxRetries:    2,
		AutoRestore:   true,
	}
}

func TestResultReport(t *testing.T) {
	r := &Result{
		RunID:        "run-1",
		ScenarioName: "smoke",
		NodeCount:    2,
		Succeeded:    3,
		Steps:        []StepSummary{{Step: 1, Action: ActionBootstrap, Succeeded: 3}},
		FinalNodes: []node.Info{
			{ID: 0, Port: 10000, State: node.StateJoined, Generation: 1},
			{ID: 1, Port: 10001, State: node.StateCrashed, Generation: 1},
		},
	}
	report := r.Report()
	assert.Contains(t, report, "SCENARIO REPORT: smoke")
	assert.Contains(t, report, "run-1")
	assert.Contains(t, report, "node-1:")
	assert.Contains(t, report, "crashed")
	assert.NotContains(t, report, "UNEXPECTED FAILURES")
	assert.NotContains(t, report, "CHAOS STATISTICS")
}
