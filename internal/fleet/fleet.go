// Package fleet manages the fixed set of node processes for one run.
package fleet

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"snapfleet/internal/config"
	"snapfleet/internal/events"
	"snapfleet/internal/logger"
	"snapfleet/internal/metrics"
	"snapfleet/internal/node"
	"snapfleet/internal/output"
	"snapfleet/internal/protocol"
	"snapfleet/internal/storage"
	"snapfleet/internal/worker"
)

// reapTimeout bounds how long Crash and TeardownAll wait for a killed
// process to be reaped.
const reapTimeout = 5 * time.Second

// Option はFleetの設定を変更する
type Option func(*Fleet)

// WithTiming はタイミング設定を指定する
func WithTiming(t config.Timing) Option {
	return func(f *Fleet) { f.timing = t }
}

// WithLauncher はプロセス起動方法を差し替える
func WithLauncher(l node.Launcher) Option {
	return func(f *Fleet) { f.launcher = l }
}

// WithAggregator は出力集約先を指定する
func WithAggregator(a *output.Aggregator) Option {
	return func(f *Fleet) { f.agg = a }
}

// WithEventBus はイベントバスを指定する
func WithEventBus(b *events.Bus) Option {
	return func(f *Fleet) { f.bus = b }
}

// WithMetrics はメトリクス収集先を指定する
func WithMetrics(m *metrics.Metrics) Option {
	return func(f *Fleet) { f.metrics = m }
}

// Fleet はノードIDごとに1つのHandleを持つ。ハンドルの集合はNewで固定され、
// 操作はすべてIDで指定する。ハンドルはパッケージの外に出さない。
// 同じIDへの操作はノード単位のロックで直列化されるので、ウォッチドッグの
// Restoreとエンジンのステップが同じノード上で交錯することはない。
// 異なるIDの操作は並行に進む
type Fleet struct {
	cfg      config.Cluster
	timing   config.Timing
	launcher node.Launcher
	storage  *storage.Area
	agg      *output.Aggregator
	bus      *events.Bus
	metrics  *metrics.Metrics

	ctx     context.Context
	cancel  context.CancelFunc
	handles []*node.Handle
	locks   []sync.Mutex
}

// New は設定を検証してフリートを作成する。プロセスはまだ起動しない
func New(cfg config.Cluster, opts ...Option) (*Fleet, error) {
	f := &Fleet{
		cfg:    cfg,
		timing: config.DefaultTiming(),
	}
	for _, opt := range opts {
		opt(f)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if f.launcher == nil {
		f.launcher = &node.ExecLauncher{Command: cfg.Command}
	}
	if err := f.timing.Validate(); err != nil {
		return nil, err
	}
	if f.metrics == nil {
		f.metrics = metrics.New()
	}
	if f.agg == nil {
		f.agg = output.New(output.WithMetrics(f.metrics))
	}

	f.storage = storage.New(cfg.StorageRoot)
	f.ctx, f.cancel = context.WithCancel(context.Background())
	f.handles = make([]*node.Handle, cfg.NodeCount)
	f.locks = make([]sync.Mutex, cfg.NodeCount)
	for _, id := range cfg.IDs() {
		f.handles[id] = node.New(id, cfg.Port(id), f.timing.WriteTimeout)
	}
	return f, nil
}

// Config はクラスタ設定を返す
func (f *Fleet) Config() config.Cluster { return f.cfg }

// Timing はタイミング設定を返す
func (f *Fleet) Timing() config.Timing { return f.timing }

// Output は出力集約器を返す
func (f *Fleet) Output() *output.Aggregator { return f.agg }

// Metrics はメトリクスを返す
func (f *Fleet) Metrics() *metrics.Metrics { return f.metrics }

// Storage は共有ストレージ領域を返す
func (f *Fleet) Storage() *storage.Area { return f.storage }

// EventBus はイベントバスを返す（未設定ならnil）
func (f *Fleet) EventBus() *events.Bus { return f.bus }

func (f *Fleet) handle(op string, id int) (*node.Handle, error) {
	if id < 0 || id >= len(f.handles) {
		sentinel := ErrCommunicationFailure
		if op == "spawn" {
			sentinel = ErrSpawnFailure
		}
		return nil, &OpError{Op: op, NodeID: id, State: node.StateUnborn,
			Err: fmt.Errorf("%w: no node with id %d (fleet size %d)", sentinel, id, len(f.handles))}
	}
	return f.handles[id], nil
}

// acquire はidのハンドルを返し、そのノードの操作ロックを取る
func (f *Fleet) acquire(op string, id int) (*node.Handle, func(), error) {
	h, err := f.handle(op, id)
	if err != nil {
		return nil, nil, err
	}
	f.locks[id].Lock()
	return h, f.locks[id].Unlock, nil
}

func (f *Fleet) publish(e events.Event) {
	f.bus.Publish(e)
}

// Prepare は共有ストレージ領域を空にする。パスが存在しなくてもエラーにしない
func (f *Fleet) Prepare() error {
	if err := f.storage.Clear(); err != nil {
		return err
	}
	logger.Info("", "Cleared storage %s", f.storage.Root())
	f.agg.Emit("cleared storage %s", f.storage.Root())
	return nil
}

// Spawn はidのプロセスを起動する。標準出力と標準エラーはソースidとして
// 集約される
func (f *Fleet) Spawn(id int) error {
	h, unlock, err := f.acquire("spawn", id)
	if err != nil {
		return err
	}
	defer unlock()
	return f.spawn(h)
}

func (f *Fleet) spawn(h *node.Handle) error {
	id := h.ID()
	state := h.State()
	if err := h.Spawn(f.ctx, f.launcher, f.agg, f.onExit); err != nil {
		if errors.Is(err, ErrInvalidTransition) && state.Live() {
			err = fmt.Errorf("%w: node %d is already running", ErrSpawnFailure, id)
		}
		return &OpError{Op: "spawn", NodeID: id, State: state, Err: err}
	}
	f.metrics.RecordSpawn()
	info := h.Info()
	f.publish(events.NewNodeSpawnedEvent(id, info.Generation, info.PID))
	f.agg.Emit("spawned node %d (pid %d)", id, info.PID)
	return nil
}

// send writes cmd after checking that the handle is in one of accept, then
// moves it to next. A dead handle yields ErrCommunicationFailure, any other
// mismatch ErrInvalidTransition.
func (f *Fleet) send(op string, h *node.Handle, cmd protocol.Command, accept func(node.State) bool, next node.State) error {
	state := h.State()
	if !accept(state) {
		sentinel := ErrInvalidTransition
		if state.Dead() {
			sentinel = ErrCommunicationFailure
		}
		return &OpError{Op: op, NodeID: h.ID(), State: state,
			Err: fmt.Errorf("%w: %s not accepted while %s", sentinel, cmd.Kind, state)}
	}

	start := time.Now()
	err := h.Send(cmd)
	f.metrics.RecordWrite(string(cmd.Kind), time.Since(start), err)
	if err != nil {
		return &OpError{Op: op, NodeID: h.ID(), State: state, Err: err}
	}
	logger.Debug(logger.Node(h.ID()), "Sent %q", cmd.String())
	f.publish(events.NewCommandSentEvent(h.ID(), cmd.String()))

	if next != state {
		if err := h.Transition(next); err != nil {
			return &OpError{Op: op, NodeID: h.ID(), State: h.State(), Err: err}
		}
	}
	return nil
}

func isState(s node.State) func(node.State) bool {
	return func(got node.State) bool { return got == s }
}

// Initialize は "initialize, <host>, <port>, <endowment>" を送る
func (f *Fleet) Initialize(id int) error {
	h, unlock, err := f.acquire("initialize", id)
	if err != nil {
		return err
	}
	defer unlock()
	return f.initialize(h)
}

func (f *Fleet) initialize(h *node.Handle) error {
	cmd := protocol.Command{
		Kind:      protocol.KindInitialize,
		Host:      f.cfg.Host,
		Port:      h.Port(),
		Endowment: f.cfg.ResourceEndowment,
	}
	return f.send("initialize", h, cmd, isState(node.StateSpawned), node.StateInitialized)
}

// Join は "join, <seedHost>, <seedPort>" を送る。シードノード自身はjoinしない
func (f *Fleet) Join(id int) error {
	h, unlock, err := f.acquire("join", id)
	if err != nil {
		return err
	}
	defer unlock()
	if id == config.SeedID {
		return &OpError{Op: "join", NodeID: id, State: h.State(),
			Err: fmt.Errorf("%w: the seed node cannot join itself", ErrInvalidTransition)}
	}
	cmd := protocol.Command{Kind: protocol.KindJoin, Host: f.cfg.Host, Port: f.cfg.SeedPort()}
	return f.send("join", h, cmd, isState(node.StateInitialized), node.StateJoined)
}

// Snapshot はノードに状態の永続化を指示する。状態は遷移しない
func (f *Fleet) Snapshot(id int) error {
	h, unlock, err := f.acquire("snapshot", id)
	if err != nil {
		return err
	}
	defer unlock()
	return f.send("snapshot", h, protocol.Command{Kind: protocol.KindSnapshot}, node.State.Accepting, h.State())
}

// Disconnect はノードの通信を止める。プロセスは動き続ける
func (f *Fleet) Disconnect(id int) error {
	h, unlock, err := f.acquire("disconnect", id)
	if err != nil {
		return err
	}
	defer unlock()
	return f.send("disconnect", h, protocol.Command{Kind: protocol.KindDisconnect}, node.State.Accepting, node.StateDisconnected)
}

// Crash はプロセスを強制終了する。コマンドは送らない
func (f *Fleet) Crash(id int) error {
	h, unlock, err := f.acquire("crash", id)
	if err != nil {
		return err
	}
	defer unlock()
	state := h.State()
	if err := h.Kill(node.StateCrashed); err != nil {
		return &OpError{Op: "crash", NodeID: id, State: state, Err: err}
	}
	f.reap(h)

	f.metrics.RecordCrash()
	f.publish(events.NewNodeCrashedEvent(id, h.Generation()))
	logger.Info(logger.Node(id), "Crashed")
	f.agg.Emit("crashed node %d", id)
	return nil
}

func (f *Fleet) reap(h *node.Handle) {
	ctx, cancel := context.WithTimeout(context.Background(), reapTimeout)
	defer cancel()
	if err := h.Wait(ctx); err != nil {
		logger.Warn(logger.Node(h.ID()), "Process not reaped after kill: %v", err)
	}
}

// Restore は停止したノードを同じIDとポートで復旧する
// （spawn、initialize、restoreの順）。稼働中のノードにはrestore行だけを送り、
// 状態は変えない
func (f *Fleet) Restore(id int) error {
	h, unlock, err := f.acquire("restore", id)
	if err != nil {
		return err
	}
	defer unlock()
	state := h.State()
	restore := protocol.Command{Kind: protocol.KindRestore}

	if state.Live() {
		return f.send("restore", h, restore, node.State.Live, state)
	}
	if !state.Dead() {
		return &OpError{Op: "restore", NodeID: id, State: state,
			Err: fmt.Errorf("%w: nothing to restore while %s", ErrInvalidTransition, state)}
	}

	if err := h.Transition(node.StateRestoring); err != nil {
		return &OpError{Op: "restore", NodeID: id, State: state, Err: err}
	}
	if err := f.spawn(h); err != nil {
		return err
	}
	if err := f.initialize(h); err != nil {
		return err
	}
	if err := f.send("restore", h, restore, node.State.Live, node.StateInitialized); err != nil {
		return err
	}

	f.metrics.RecordRestore()
	f.publish(events.NewNodeRestoredEvent(id, h.Generation()))
	logger.Info(logger.Node(id), "Restored generation=%d", h.Generation())
	return nil
}

// TeardownAll はコマンドを受け付けるノードをすべてdisconnectし、猶予時間を
// 待ってから残っているプロセスをkillする。停止済みのノードは飛ばすので、
// 2回呼んでも問題ない
func (f *Fleet) TeardownAll(ctx context.Context) error {
	disconnected := 0
	for _, h := range f.handles {
		if !h.State().Accepting() {
			continue
		}
		if disconnected > 0 {
			_ = sleep(ctx, f.timing.DisconnectStagger)
		}
		f.locks[h.ID()].Lock()
		err := h.Send(protocol.Command{Kind: protocol.KindDisconnect})
		f.locks[h.ID()].Unlock()
		if err != nil {
			logger.Debug(logger.Node(h.ID()), "Teardown disconnect failed: %v", err)
			continue
		}
		disconnected++
	}

	if f.LiveCount() == 0 {
		return nil
	}
	if disconnected > 0 {
		if err := sleep(ctx, f.timing.TeardownGrace); err != nil {
			logger.Warn("", "Teardown grace cut short: %v", err)
		}
	}

	// 停止は並行に行い、ctxが切れていても全プロセスを止める
	pool := worker.NewPool(f.LiveCount())
	pool.Start(context.WithoutCancel(ctx))
	for _, h := range f.handles {
		if !h.State().Live() {
			continue
		}
		_ = pool.Submit(func() error {
			f.locks[h.ID()].Lock()
			defer f.locks[h.ID()].Unlock()
			if err := h.Kill(node.StateStopped); err != nil {
				if errors.Is(err, ErrCommunicationFailure) {
					return nil
				}
				return err
			}
			f.reap(h)
			f.publish(events.NewNodeStoppedEvent(h.ID(), h.Generation()))
			logger.Info(logger.Node(h.ID()), "Stopped")
			return nil
		})
	}
	err := pool.Stop()
	f.agg.Emit("teardown complete")
	return err
}

// Close はフリートを停止してコンテキストを解放する。以降は使用できない
func (f *Fleet) Close(ctx context.Context) error {
	err := f.TeardownAll(ctx)
	f.cancel()
	return err
}

func (f *Fleet) onExit(info node.Info, err error) {
	logger.Warn(logger.Node(info.ID), "Process exited unexpectedly: %v", err)
	f.metrics.RecordExit()
	f.publish(events.NewNodeExitedEvent(info.ID, info.Generation, err))
	f.agg.Emit("node %d exited unexpectedly: %v", info.ID, err)
}

// Nodes は全ハンドルのコピーをID順で返す
func (f *Fleet) Nodes() []node.Info {
	infos := make([]node.Info, len(f.handles))
	for i, h := range f.handles {
		infos[i] = h.Info()
	}
	return infos
}

// Node は1つのハンドルのコピーを返す
func (f *Fleet) Node(id int) (node.Info, bool) {
	if id < 0 || id >= len(f.handles) {
		return node.Info{}, false
	}
	return f.handles[id].Info(), true
}

// State はidの状態を返す。未知のIDならStateUnborn
func (f *Fleet) State(id int) node.State {
	if id < 0 || id >= len(f.handles) {
		return node.StateUnborn
	}
	return f.handles[id].State()
}

// Size はノード数を返す
func (f *Fleet) Size() int {
	return len(f.handles)
}

// LiveCount は稼働中のノード数を返す
func (f *Fleet) LiveCount() int {
	count := 0
	for _, h := range f.handles {
		if h.State().Live() {
			count++
		}
	}
	return count
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
