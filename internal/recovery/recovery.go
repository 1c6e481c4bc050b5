package recovery

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"snapfleet/internal/events"
	"snapfleet/internal/logger"
	"snapfleet/internal/node"
)

// Target is the fleet surface the watchdog needs.
type Target interface {
	Nodes() []node.Info
	Restore(id int) error
}

// Config はWatchdogの設定
type Config struct {
	CheckInterval time.Duration // 状態確認の間隔
	RecoveryDelay time.Duration // 検出から復旧までの待機時間
	MaxRetries    int           // 最大リトライ回数（0で無制限）
	AutoRestore   bool          // 終了したノードを自動で復旧する
}

// DefaultConfig はデフォルト設定を返す
func DefaultConfig() Config {
	return Config{
		CheckInterval: 1 * time.Second,
		RecoveryDelay: 2 * time.Second,
		MaxRetries:    3,
		AutoRestore:   false,
	}
}

// NodeState はノードごとの追跡状態
type NodeState struct {
	DetectedAt time.Time
	Generation int
	RetryCount int
	GaveUp     bool
}

// Stats は検出・復旧の統計
type Stats struct {
	DetectedExits     uint64 `json:"detected_exits"`
	TotalRecoveries   uint64 `json:"total_recoveries"`
	SuccessRecoveries uint64 `json:"success_recoveries"`
	FailedRecoveries  uint64 `json:"failed_recoveries"`
	CurrentlyExited   int    `json:"currently_exited"`
}

// Watchdog polls the fleet for nodes that ended on their own (state
// exited). Crashed and stopped nodes are left alone: the harness killed
// them on purpose.
type Watchdog struct {
	config   Config
	target   Target
	eventBus *events.Bus

	running atomic.Bool
	ctx     context.Context
	cancel  context.CancelFunc
	wg      sync.WaitGroup

	mu         sync.RWMutex
	nodeStates map[int]*NodeState
	stats      Stats
}

// New は新しいWatchdogを作成する
func New(t Target, config Config) *Watchdog {
	return &Watchdog{
		config:     config,
		target:     t,
		nodeStates: make(map[int]*NodeState),
	}
}

// SetEventBus はイベントバスを設定する
func (w *Watchdog) SetEventBus(bus *events.Bus) {
	w.eventBus = bus
}

// Start は監視を開始する
func (w *Watchdog) Start(ctx context.Context) {
	if w.running.Swap(true) {
		return
	}

	w.ctx, w.cancel = context.WithCancel(ctx)

	w.wg.Add(1)
	go w.checkLoop()

	logger.Info("", "Watchdog started (interval: %v, delay: %v, auto-restore: %v)",
		w.config.CheckInterval, w.config.RecoveryDelay, w.config.AutoRestore)
}

// Stop は監視を停止する
func (w *Watchdog) Stop() {
	if !w.running.Swap(false) {
		return
	}

	w.cancel()
	w.wg.Wait()

	stats := w.Stats()
	logger.Info("", "Watchdog stopped (exits: %d, recoveries: %d success, %d failed)",
		stats.DetectedExits, stats.SuccessRecoveries, stats.FailedRecoveries)
}

func (w *Watchdog) checkLoop() {
	defer w.wg.Done()

	ticker := time.NewTicker(w.config.CheckInterval)
	defer ticker.Stop()

	for {
		select {
		case <-w.ctx.Done():
			return
		case <-ticker.C:
			w.Check(time.Now())
		}
	}
}

// Check inspects every node once. It is what the loop runs on each tick.
func (w *Watchdog) Check(now time.Time) {
	for _, info := range w.target.Nodes() {
		if info.State == node.StateExited {
			w.handleExited(info, now)
			continue
		}
		w.handleOther(info)
	}
}

// handleOther は終了状態でなくなったノードの追跡を解除する
func (w *Watchdog) handleOther(info node.Info) {
	w.mu.Lock()
	defer w.mu.Unlock()

	state, ok := w.nodeStates[info.ID]
	if !ok {
		return
	}
	if info.State.Live() && state.RetryCount > 0 && !state.GaveUp {
		w.stats.SuccessRecoveries++
		logger.Info(logger.Node(info.ID), "Watchdog: node recovered (generation %d)", info.Generation)
	}
	w.stats.CurrentlyExited--
	delete(w.nodeStates, info.ID)
}

// handleExited は自発的に終了したノードを処理する
func (w *Watchdog) handleExited(info node.Info, now time.Time) {
	w.mu.Lock()
	state, ok := w.nodeStates[info.ID]
	if !ok || state.Generation != info.Generation {
		// 復旧直後に再び終了した場合もリトライ回数は引き継ぐ
		if !ok {
			state = &NodeState{}
			w.nodeStates[info.ID] = state
			w.stats.CurrentlyExited++
		}
		state.DetectedAt = now
		state.Generation = info.Generation
		w.stats.DetectedExits++
		w.mu.Unlock()
		logger.Warn(logger.Node(info.ID), "Watchdog: detected exited node (%s)", info.ExitError)
		return
	}

	if !w.config.AutoRestore || state.GaveUp {
		w.mu.Unlock()
		return
	}
	if now.Sub(state.DetectedAt) < w.config.RecoveryDelay {
		w.mu.Unlock()
		return
	}
	if w.config.MaxRetries > 0 && state.RetryCount >= w.config.MaxRetries {
		state.GaveUp = true
		w.mu.Unlock()
		logger.Error(logger.Node(info.ID), "Watchdog: giving up after %d attempts", w.config.MaxRetries)
		return
	}

	state.RetryCount++
	state.DetectedAt = now
	w.stats.TotalRecoveries++
	attempt := state.RetryCount
	w.mu.Unlock()

	w.eventBus.Publish(events.NewRecoveryStartedEvent(info.ID, attempt))

	if err := w.target.Restore(info.ID); err != nil {
		w.mu.Lock()
		w.stats.FailedRecoveries++
		w.mu.Unlock()
		logger.Error(logger.Node(info.ID), "Watchdog: restore failed: %v", err)
		w.eventBus.Publish(events.NewRecoveryFailedEvent(info.ID, attempt, err))
		return
	}
	logger.Info(logger.Node(info.ID), "Watchdog: restored (attempt %d)", attempt)
}

// IsRunning は実行中かどうかを返す
func (w *Watchdog) IsRunning() bool {
	return w.running.Load()
}

// Stats は統計を返す
func (w *Watchdog) Stats() Stats {
	w.mu.RLock()
	defer w.mu.RUnlock()
	return w.stats
}

// Tracked は追跡中のノード状態のコピーを返す
func (w *Watchdog) Tracked() map[int]NodeState {
	w.mu.RLock()
	defer w.mu.RUnlock()
	out := make(map[int]NodeState, len(w.nodeStates))
	for id, s := range w.nodeStates {
		out[id] = *s
	}
	return out
}

// ResetStats は統計をリセットする
func (w *Watchdog) ResetStats() {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.stats = Stats{}
}
