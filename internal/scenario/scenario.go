package scenario

import (
	"context"
	"errors"
	"fmt"
	"math/rand"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"snapfleet/internal/chaos"
	"snapfleet/internal/config"
	"snapfleet/internal/events"
	"snapfleet/internal/fleet"
	"snapfleet/internal/logger"
	"snapfleet/internal/metrics"
	"snapfleet/internal/node"
	"snapfleet/internal/output"
	"snapfleet/internal/recovery"
)

// Scenario はクラスタ設定・待機時間・ステップ列の組
type Scenario struct {
	Name        string
	Description string
	Cluster     config.Cluster
	Timing      config.Timing
	Steps       []Step
}

// Validate checks cluster, timing and steps, including target ids and
// distinct counts against the node count.
func (s Scenario) Validate() error {
	if err := s.Cluster.Validate(); err != nil {
		return err
	}
	if err := s.Timing.Validate(); err != nil {
		return err
	}
	if err := validateSteps(s.Steps); err != nil {
		return err
	}
	n := s.Cluster.NodeCount
	for i, st := range s.Steps {
		if !st.Action.perNode() {
			continue
		}
		field := fmt.Sprintf("steps[%d].targets", i)
		switch st.Targets.Kind {
		case SelectIDs:
			for _, id := range st.Targets.IDs {
				if id < 0 || id >= n {
					return &config.Error{Field: field + ".ids", Reason: fmt.Sprintf("node %d outside 0..%d", id, n-1)}
				}
			}
		case SelectRandomDistinct:
			if st.Targets.Count > n {
				return &config.Error{Field: field + ".count", Reason: fmt.Sprintf("%d distinct nodes requested from %d", st.Targets.Count, n)}
			}
		case SelectRandomNonSeed:
			if n < 2 {
				return &config.Error{Field: field, Reason: "random-non-seed needs at least 2 nodes"}
			}
		}
		if st.Action == ActionJoin && st.Targets.Kind == SelectAll {
			return &config.Error{Field: field, Reason: "join cannot target the seed; use all-but-seed"}
		}
	}
	return nil
}

// Option はEngineの設定を変更する
type Option func(*Engine)

// WithLauncher はノードの起動方法を差し替える
func WithLauncher(l node.Launcher) Option {
	return func(e *Engine) { e.launcher = l }
}

// WithAggregator は出力集約器を指定する
func WithAggregator(a *output.Aggregator) Option {
	return func(e *Engine) { e.agg = a }
}

// WithEventBus はイベントバスを指定する
func WithEventBus(b *events.Bus) Option {
	return func(e *Engine) { e.eventBus = b }
}

// WithMetrics はメトリクスを指定する
func WithMetrics(m *metrics.Metrics) Option {
	return func(e *Engine) { e.metrics = m }
}

// WithWatchdog は終了監視を有効にする
func WithWatchdog(cfg recovery.Config) Option {
	return func(e *Engine) { e.watchdogCfg = &cfg }
}

// WithKeepStorage は開始時のストレージ削除を省略する
func WithKeepStorage(keep bool) Option {
	return func(e *Engine) { e.keepStorage = keep }
}

// WithRunID は実行IDを指定する（ジャーナルと対応させるため）
func WithRunID(id string) Option {
	return func(e *Engine) { e.fixedRunID = id }
}

// NewRunID は時刻順に並ぶ実行IDを生成する
func NewRunID() string {
	return uuid.Must(uuid.NewV7()).String()
}

// Result はシナリオ実行結果
type Result struct {
	RunID        string        `json:"run_id"`
	ScenarioName string        `json:"scenario"`
	Description  string        `json:"description,omitempty"`
	Seed         int64         `json:"seed"`
	NodeCount    int           `json:"node_count"`
	StartTime    time.Time     `json:"start_time"`
	EndTime      time.Time     `json:"end_time"`
	Duration     time.Duration `json:"duration"`

	Outcomes     []StepOutcome `json:"outcomes"`
	Steps        []StepSummary `json:"steps"`
	Succeeded    int           `json:"succeeded"`
	ExpectedDead int           `json:"expected_dead"`
	Unexpected   int           `json:"unexpected"`

	FinalNodes []node.Info      `json:"final_nodes"`
	Metrics    metrics.Snapshot `json:"metrics"`
	Chaos      *chaos.Stats     `json:"chaos,omitempty"`
	Watchdog   *recovery.Stats  `json:"watchdog,omitempty"`

	Aborted bool   `json:"aborted"`
	Error   string `json:"error,omitempty"`
}

// HasUnexpected は想定外の失敗があったかを返す
func (r *Result) HasUnexpected() bool {
	return r.Unexpected > 0
}

// Report は結果をフォーマットして返す
func (r *Result) Report() string {
	var b strings.Builder
	fmt.Fprintf(&b, `
================================================================================
                         SCENARIO REPORT: %s
================================================================================

EXECUTION SUMMARY
-----------------
  Run ID:         %s
  Seed:           %d
  Nodes:          %d
  Start Time:     %s
  End Time:       %s
  Duration:       %v
  Aborted:        %v

STEP OUTCOMES
-------------
  Succeeded:          %d
  Expected dead:      %d
  Unexpected:         %d

`,
		r.ScenarioName,
		r.RunID,
		r.Seed,
		r.NodeCount,
		r.StartTime.Format("2006-01-02 15:04:05"),
		r.EndTime.Format("2006-01-02 15:04:05"),
		r.Duration.Round(time.Millisecond),
		r.Aborted,
		r.Succeeded,
		r.ExpectedDead,
		r.Unexpected,
	)

	for _, s := range r.Steps {
		fmt.Fprintf(&b, "  step %-3d %-12s ok=%-4d dead=%-4d unexpected=%d\n",
			s.Step, s.Action, s.Succeeded, s.ExpectedDead, s.Unexpected)
	}

	if r.Unexpected > 0 {
		b.WriteString("\nUNEXPECTED FAILURES\n-------------------\n")
		for _, o := range r.Outcomes {
			if o.Kind == OutcomeUnexpectedFailure {
				fmt.Fprintf(&b, "  step %d %s node %d: %s\n", o.Step, o.Action, o.NodeID, o.Error)
			}
		}
	}

	fmt.Fprintf(&b, `
PROCESS METRICS
---------------
  Spawns:           %d
  Crashes:          %d
  Restores:         %d
  Unexpected Exits: %d
  Commands:         %d
  Write Failures:   %d
  Avg Write:        %v
  P99 Write:        %v
  Output Lines:     %d
`,
		r.Metrics.Spawns,
		r.Metrics.Crashes,
		r.Metrics.Restores,
		r.Metrics.UnexpectedExits,
		r.Metrics.Writes,
		r.Metrics.WriteFailures,
		r.Metrics.AverageWriteLatency.Round(time.Microsecond),
		r.Metrics.P99WriteLatency.Round(time.Microsecond),
		r.Metrics.TotalLines,
	)

	if r.Chaos != nil {
		fmt.Fprintf(&b, `
CHAOS STATISTICS
----------------
  Total Attacks:    %d
  Restores:         %d
`, r.Chaos.TotalAttacks, r.Chaos.Restores)
	}

	if r.Watchdog != nil {
		fmt.Fprintf(&b, `
RECOVERY STATISTICS
-------------------
  Detected Exits:     %d
  Total Recoveries:   %d
  Successful:         %d
  Failed:             %d
`, r.Watchdog.DetectedExits, r.Watchdog.TotalRecoveries, r.Watchdog.SuccessRecoveries, r.Watchdog.FailedRecoveries)
	}

	b.WriteString("\nFINAL NODE STATUS\n-----------------\n")
	for _, n := range r.FinalNodes {
		fmt.Fprintf(&b, "  %-20s %-13s port=%d gen=%d\n", logger.Node(n.ID)+":", n.State, n.Port, n.Generation)
	}

	if r.Error != "" {
		fmt.Fprintf(&b, "\nERROR: %s\n", r.Error)
	}
	b.WriteString("\n================================================================================")
	return b.String()
}

// Engine はシナリオ実行エンジン
type Engine struct {
	scenario    Scenario
	launcher    node.Launcher
	agg         *output.Aggregator
	eventBus    *events.Bus
	metrics     *metrics.Metrics
	watchdogCfg *recovery.Config
	keepStorage bool
	fixedRunID  string

	mu         sync.RWMutex
	running    bool
	runID      string
	step       int
	cancel     context.CancelFunc
	fleet      *fleet.Fleet
	outcomes   []StepOutcome
	monkey     *chaos.Monkey
	watchdog   *recovery.Watchdog
	chaosStats *chaos.Stats
}

// New は新しいEngineを作成する
func New(s Scenario, opts ...Option) *Engine {
	e := &Engine{scenario: s}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Scenario は実行対象のシナリオを返す
func (e *Engine) Scenario() Scenario {
	return e.scenario
}

// Run executes every step in order and tears the fleet down at the end,
// also when a step fails fatally or ctx is cancelled. Spawn and
// configuration errors abort the run; the partial Result is still returned
// once the fleet exists.
func (e *Engine) Run(ctx context.Context) (*Result, error) {
	if err := e.scenario.Validate(); err != nil {
		return nil, err
	}

	e.mu.Lock()
	if e.running {
		e.mu.Unlock()
		return nil, errors.New("scenario is already running")
	}
	ctx, cancel := context.WithCancel(ctx)
	e.running = true
	e.cancel = cancel
	e.runID = e.fixedRunID
	if e.runID == "" {
		e.runID = NewRunID()
	}
	e.step = 0
	e.outcomes = nil
	e.chaosStats = nil
	runID := e.runID
	e.mu.Unlock()

	defer func() {
		cancel()
		e.mu.Lock()
		e.running = false
		e.cancel = nil
		e.mu.Unlock()
	}()

	sc := e.scenario
	rnd, seed := chaos.NewRand(sc.Cluster.RandomSeed)

	opts := []fleet.Option{fleet.WithTiming(sc.Timing), fleet.WithEventBus(e.eventBus)}
	if e.launcher != nil {
		opts = append(opts, fleet.WithLauncher(e.launcher))
	}
	if e.metrics != nil {
		opts = append(opts, fleet.WithMetrics(e.metrics))
	}
	if e.agg != nil {
		opts = append(opts, fleet.WithAggregator(e.agg))
	}
	f, err := fleet.New(sc.Cluster, opts...)
	if err != nil {
		return nil, err
	}
	e.mu.Lock()
	e.fleet = f
	e.mu.Unlock()

	// 異常終了時もプロセスを残さない
	defer func() { _ = f.TeardownAll(context.WithoutCancel(ctx)) }()

	result := &Result{
		RunID:        runID,
		ScenarioName: sc.Name,
		Description:  sc.Description,
		Seed:         seed,
		NodeCount:    sc.Cluster.NodeCount,
		StartTime:    time.Now(),
	}

	logger.Info("", "=== Scenario '%s' started (run %s, seed %d) ===", sc.Name, runID, seed)
	f.Output().Emit("scenario %s started: run %s, seed %d, %d nodes", sc.Name, runID, seed, sc.Cluster.NodeCount)

	runErr := e.setup(f)
	if runErr == nil {
		e.startWatchdog(ctx, f)
		runErr = e.execute(ctx, f, rnd)
		e.stopWatchdog()
	}

	result.FinalNodes = f.Nodes()
	if err := f.TeardownAll(context.WithoutCancel(ctx)); err != nil {
		logger.Warn("", "Teardown: %v", err)
	}

	e.collectResults(f, result)
	if runErr != nil {
		result.Aborted = true
		result.Error = runErr.Error()
		logger.Error("", "=== Scenario '%s' aborted: %v ===", sc.Name, runErr)
		f.Output().Emit("scenario %s aborted: %v", sc.Name, runErr)
		return result, runErr
	}

	logger.Info("", "=== Scenario '%s' completed (%d unexpected failures) ===", sc.Name, result.Unexpected)
	f.Output().Emit("scenario %s completed", sc.Name)
	return result, nil
}

func (e *Engine) setup(f *fleet.Fleet) error {
	if e.keepStorage {
		return nil
	}
	return f.Prepare()
}

func (e *Engine) startWatchdog(ctx context.Context, f *fleet.Fleet) {
	if e.watchdogCfg == nil {
		return
	}
	w := recovery.New(f, *e.watchdogCfg)
	w.SetEventBus(e.eventBus)
	w.Start(ctx)
	e.mu.Lock()
	e.watchdog = w
	e.mu.Unlock()
}

func (e *Engine) stopWatchdog() {
	e.mu.RLock()
	w := e.watchdog
	e.mu.RUnlock()
	if w != nil {
		w.Stop()
	}
}

func (e *Engine) execute(ctx context.Context, f *fleet.Fleet, rnd *rand.Rand) error {
	steps := e.scenario.Steps
	bindings := make(map[string][]int)

	for i, step := range steps {
		idx := i + 1
		if err := ctx.Err(); err != nil {
			return err
		}
		e.mu.Lock()
		e.step = idx
		e.mu.Unlock()

		logger.Info("", "Step %d/%d: %s", idx, len(steps), step)
		f.Output().Emit("step %d/%d: %s", idx, len(steps), step)
		e.eventBus.Publish(events.NewStepStartedEvent(idx, string(step.Action)))

		if err := e.runStep(ctx, f, rnd, idx, step, bindings); err != nil {
			return fmt.Errorf("step %d (%s): %w", idx, step.Action, err)
		}
		e.eventBus.Publish(events.NewStepFinishedEvent(idx, string(step.Action)))

		if err := sleep(ctx, step.DelayAfter.Resolve(e.scenario.Timing)); err != nil {
			return err
		}
	}
	return nil
}

func (e *Engine) runStep(ctx context.Context, f *fleet.Fleet, rnd *rand.Rand, idx int, step Step, bindings map[string][]int) error {
	switch step.Action {
	case ActionWait:
		return nil
	case ActionTeardown:
		if err := f.TeardownAll(ctx); err != nil {
			logger.Warn("", "Teardown step: %v", err)
		}
		return nil
	case ActionChaos:
		return e.runChaos(ctx, f, rnd, idx, step)
	}

	ids, err := step.Targets.Resolve(e.scenario.Cluster, rnd, bindings)
	if err != nil {
		return fmt.Errorf("%w: %v", config.ErrConfiguration, err)
	}
	if step.Bind != "" {
		bindings[step.Bind] = ids
	}

	stagger := step.Stagger.Resolve(e.scenario.Timing)
	for j, id := range ids {
		if j > 0 {
			if err := sleep(ctx, stagger); err != nil {
				return err
			}
		}
		if step.Action == ActionBootstrap {
			if err := e.bootstrapNode(ctx, f, idx, id); err != nil {
				return err
			}
			continue
		}
		if err := e.apply(f, idx, step.Action, id); err != nil {
			return err
		}
	}
	return nil
}

// bootstrapNode brings one node up the way the setup script does: spawn,
// initialize and, except for the seed, join.
func (e *Engine) bootstrapNode(ctx context.Context, f *fleet.Fleet, idx, id int) error {
	t := e.scenario.Timing
	if err := e.apply(f, idx, ActionSpawn, id); err != nil {
		return err
	}
	if err := sleep(ctx, t.SpawnStagger); err != nil {
		return err
	}
	if err := e.apply(f, idx, ActionInitialize, id); err != nil {
		return err
	}
	if err := sleep(ctx, t.InitStagger); err != nil {
		return err
	}
	if id == config.SeedID {
		return nil
	}
	if err := e.apply(f, idx, ActionJoin, id); err != nil {
		return err
	}
	return sleep(ctx, t.JoinStagger)
}

// apply runs one fleet call and records its outcome. Only fatal errors are
// returned.
func (e *Engine) apply(f *fleet.Fleet, idx int, action Action, id int) error {
	before := f.State(id)

	var err error
	switch action {
	case ActionSpawn:
		err = f.Spawn(id)
	case ActionInitialize:
		err = f.Initialize(id)
	case ActionJoin:
		err = f.Join(id)
	case ActionSnapshot:
		err = f.Snapshot(id)
	case ActionDisconnect:
		err = f.Disconnect(id)
	case ActionCrash:
		err = f.Crash(id)
	case ActionRestore:
		err = f.Restore(id)
	default:
		return fmt.Errorf("%w: action %s is not a node action", config.ErrConfiguration, action)
	}

	e.record(f, newOutcome(idx, action, id, before, err))
	if errors.Is(err, fleet.ErrSpawnFailure) {
		return err
	}
	return nil
}

func (e *Engine) record(f *fleet.Fleet, o StepOutcome) {
	e.mu.Lock()
	e.outcomes = append(e.outcomes, o)
	e.mu.Unlock()

	switch o.Kind {
	case OutcomeExpectedDeadTarget:
		logger.Info(logger.Node(o.NodeID), "Step %d %s hit a dead node: %v", o.Step, o.Action, o.Err)
	case OutcomeUnexpectedFailure:
		logger.Warn(logger.Node(o.NodeID), "Step %d %s failed unexpectedly: %v", o.Step, o.Action, o.Err)
		e.eventBus.Publish(events.NewUnexpectedFailureEvent(o.NodeID, o.Step, string(o.Action), o.Err))
		f.Output().Emit("warning: step %d %s on node %d failed: %v", o.Step, o.Action, o.NodeID, o.Err)
	}
}

func (e *Engine) runChaos(ctx context.Context, f *fleet.Fleet, rnd *rand.Rand, idx int, step Step) error {
	cc := step.Chaos
	cfg := chaos.Config{
		Interval:     cc.Interval,
		TargetCount:  cc.TargetCount,
		AttackTypes:  cc.Attacks,
		RestoreAfter: cc.RestoreAfter.Resolve(e.scenario.Timing),
		SpareSeed:    cc.SpareSeed,
	}
	m := chaos.New(f, cfg, rnd)
	m.SetReporter(func(action string, id int, before node.State, err error) {
		e.record(f, newOutcome(idx, Action(action), id, before, err))
	})

	e.mu.Lock()
	e.monkey = m
	e.mu.Unlock()

	m.Start(ctx)
	sleepErr := sleep(ctx, cc.Duration)
	m.Stop()

	stats := m.Stats()
	e.mu.Lock()
	e.monkey = nil
	if e.chaosStats == nil {
		e.chaosStats = &chaos.Stats{ByType: map[string]uint64{}}
	}
	e.chaosStats.TotalAttacks += stats.TotalAttacks
	e.chaosStats.Restores += stats.Restores
	for k, v := range stats.ByType {
		e.chaosStats.ByType[k] += v
	}
	e.mu.Unlock()
	return sleepErr
}

// collectResults は結果を収集する
func (e *Engine) collectResults(f *fleet.Fleet, result *Result) {
	result.EndTime = time.Now()
	result.Duration = result.EndTime.Sub(result.StartTime)
	result.Metrics = f.Metrics().Snapshot()

	e.mu.RLock()
	defer e.mu.RUnlock()
	result.Outcomes = append([]StepOutcome(nil), e.outcomes...)
	result.Steps = summarize(e.scenario.Steps, result.Outcomes)
	for _, o := range result.Outcomes {
		switch o.Kind {
		case OutcomeSucceeded:
			result.Succeeded++
		case OutcomeExpectedDeadTarget:
			result.ExpectedDead++
		case OutcomeUnexpectedFailure:
			result.Unexpected++
		}
	}
	if e.chaosStats != nil {
		stats := *e.chaosStats
		result.Chaos = &stats
	}
	if e.watchdog != nil {
		stats := e.watchdog.Stats()
		result.Watchdog = &stats
	}
}

// Stop は実行中のシナリオを中断する
func (e *Engine) Stop() {
	e.mu.RLock()
	cancel := e.cancel
	e.mu.RUnlock()
	if cancel != nil {
		cancel()
	}
}

// IsRunning は実行中かどうかを返す
func (e *Engine) IsRunning() bool {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.running
}

// RunID は現在（または直前）の実行IDを返す
func (e *Engine) RunID() string {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.runID
}

// Progress は実行中のステップ番号と総ステップ数を返す
func (e *Engine) Progress() (step, total int) {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.step, len(e.scenario.Steps)
}

// Fleet は現在（または直前）のフリートを返す
func (e *Engine) Fleet() *fleet.Fleet {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.fleet
}

// Outcomes はこれまでの結果のコピーを返す
func (e *Engine) Outcomes() []StepOutcome {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return append([]StepOutcome(nil), e.outcomes...)
}

// ChaosStats は実行中のカオス統計を返す
func (e *Engine) ChaosStats() *chaos.Stats {
	e.mu.RLock()
	defer e.mu.RUnlock()
	if e.monkey != nil {
		stats := e.monkey.Stats()
		return &stats
	}
	if e.chaosStats == nil {
		return nil
	}
	stats := *e.chaosStats
	return &stats
}

// WatchdogStats は終了監視の統計を返す
func (e *Engine) WatchdogStats() *recovery.Stats {
	e.mu.RLock()
	defer e.mu.RUnlock()
	if e.watchdog == nil {
		return nil
	}
	stats := e.watchdog.Stats()
	return &stats
}

func sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
