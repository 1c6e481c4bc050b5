package chaos

import (
	"context"
	"math/rand"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"snapfleet/internal/config"
	"snapfleet/internal/logger"
	"snapfleet/internal/node"
)

// AttackType は障害の種類を表す
type AttackType int

const (
	AttackCrash AttackType = iota
	AttackDisconnect
	AttackSnapshot
)

func (a AttackType) String() string {
	switch a {
	case AttackCrash:
		return "crash"
	case AttackDisconnect:
		return "disconnect"
	case AttackSnapshot:
		return "snapshot"
	default:
		return "unknown"
	}
}

// ParseAttackType は文字列から攻撃タイプを得る
func ParseAttackType(s string) (AttackType, bool) {
	for _, a := range []AttackType{AttackCrash, AttackDisconnect, AttackSnapshot} {
		if a.String() == s {
			return a, true
		}
	}
	return 0, false
}

// Target is the fleet surface the monkey drives.
type Target interface {
	Nodes() []node.Info
	Crash(id int) error
	Restore(id int) error
	Disconnect(id int) error
	Snapshot(id int) error
}

// Reporter receives every operation the monkey performs, with the node
// state observed right before it. action is "crash", "restore",
// "disconnect" or "snapshot".
type Reporter func(action string, id int, before node.State, err error)

// Config はChaosMonkeyの設定
type Config struct {
	Interval     time.Duration // 攻撃間隔
	TargetCount  int           // 1回の攻撃対象数
	AttackTypes  []AttackType  // 有効な攻撃タイプ
	RestoreAfter time.Duration // クラッシュから自動復旧までの時間（0で復旧しない）
	SpareSeed    bool          // シードノードを対象から外す
}

// DefaultConfig はデフォルト設定を返す
func DefaultConfig() Config {
	return Config{
		Interval:     5 * time.Second,
		TargetCount:  1,
		AttackTypes:  []AttackType{AttackCrash, AttackDisconnect, AttackSnapshot},
		RestoreAfter: 10 * time.Second,
		SpareSeed:    true,
	}
}

// Stats はカオス攻撃の統計情報
type Stats struct {
	TotalAttacks uint64            `json:"total_attacks"`
	ByType       map[string]uint64 `json:"attacks_by_type"`
	Restores     uint64            `json:"restores"`
}

// Monkey injects faults into a fleet at a fixed interval. Attacks and
// scheduled restores run on a single goroutine, so commands are still
// issued one at a time.
type Monkey struct {
	config   Config
	target   Target
	rnd      *rand.Rand
	reporter Reporter

	running atomic.Bool
	parent  context.Context
	ctx     context.Context
	cancel  context.CancelFunc
	wg      sync.WaitGroup

	mu           sync.RWMutex
	attackCount  uint64
	attackByType map[AttackType]uint64
	restores     uint64
	lastAttack   time.Time
	crashedAt    map[int]time.Time
}

// New は新しいChaosMonkeyを作成する
func New(t Target, cfg Config, rnd *rand.Rand) *Monkey {
	if rnd == nil {
		rnd, _ = NewRand(nil)
	}
	return &Monkey{
		config:       cfg,
		target:       t,
		rnd:          rnd,
		attackByType: make(map[AttackType]uint64),
		crashedAt:    make(map[int]time.Time),
	}
}

// SetReporter は操作結果の通知先を設定する
func (m *Monkey) SetReporter(r Reporter) {
	m.reporter = r
}

// Start はカオス注入を開始する
func (m *Monkey) Start(ctx context.Context) {
	if m.running.Swap(true) {
		return
	}

	m.parent = ctx
	m.ctx, m.cancel = context.WithCancel(ctx)
	m.wg.Add(1)
	go m.loop()

	logger.Info("", "ChaosMonkey started (interval: %v, targets: %d)",
		m.config.Interval, m.config.TargetCount)
}

// Stop はカオス注入を停止し、復旧待ちのノードを復旧する。
// Startに渡したctxがキャンセル済みなら復旧せず、落としたノードはそのまま残す
func (m *Monkey) Stop() {
	if !m.running.Swap(false) {
		return
	}

	m.cancel()
	m.wg.Wait()
	if m.parent.Err() == nil {
		m.restoreDue(true)
	} else if pending := m.PendingRestores(); len(pending) > 0 {
		logger.Info("", "ChaosMonkey: run cancelled, leaving %d crashed node(s) down", len(pending))
	}

	logger.Info("", "ChaosMonkey stopped (total attacks: %d)", m.AttackCount())
}

func (m *Monkey) loop() {
	defer m.wg.Done()

	attack := time.NewTicker(m.config.Interval)
	defer attack.Stop()

	tick := m.config.RestoreAfter / 4
	if tick <= 0 || tick > 500*time.Millisecond {
		tick = 500 * time.Millisecond
	}
	restore := time.NewTicker(tick)
	defer restore.Stop()

	for {
		select {
		case <-m.ctx.Done():
			return
		case <-attack.C:
			m.attack()
		case <-restore.C:
			m.restoreDue(false)
		}
	}
}

// attack は攻撃を1回実行する
func (m *Monkey) attack() {
	targets := m.selectTargets()
	if len(targets) == 0 {
		return
	}
	attackType := m.selectAttackType()

	for _, id := range targets {
		m.executeAttack(id, attackType)
	}

	m.mu.Lock()
	m.attackCount++
	m.lastAttack = time.Now()
	m.mu.Unlock()
}

// selectTargets は命令を受け付ける状態のノードから対象を選ぶ
func (m *Monkey) selectTargets() []int {
	var candidates []int
	for _, info := range m.target.Nodes() {
		if !info.State.Accepting() {
			continue
		}
		if m.config.SpareSeed && info.ID == config.SeedID {
			continue
		}
		candidates = append(candidates, info.ID)
	}
	if len(candidates) == 0 {
		return nil
	}

	count := m.config.TargetCount
	if count < 1 {
		count = 1
	}
	if count > len(candidates) {
		count = len(candidates)
	}
	picked, err := PickDistinct(m.rnd, candidates, count)
	if err != nil {
		return nil
	}
	return picked
}

func (m *Monkey) selectAttackType() AttackType {
	if len(m.config.AttackTypes) == 0 {
		return AttackCrash
	}
	return m.config.AttackTypes[m.rnd.Intn(len(m.config.AttackTypes))]
}

func (m *Monkey) stateOf(id int) node.State {
	for _, info := range m.target.Nodes() {
		if info.ID == id {
			return info.State
		}
	}
	return node.StateUnborn
}

func (m *Monkey) report(action string, id int, before node.State, err error) {
	if m.reporter != nil {
		m.reporter(action, id, before, err)
	}
}

// executeAttack は指定された攻撃を実行する
func (m *Monkey) executeAttack(id int, attackType AttackType) {
	before := m.stateOf(id)
	var err error
	switch attackType {
	case AttackCrash:
		err = m.target.Crash(id)
		if err == nil && m.config.RestoreAfter > 0 {
			m.mu.Lock()
			m.crashedAt[id] = time.Now()
			m.mu.Unlock()
		}
	case AttackDisconnect:
		err = m.target.Disconnect(id)
	case AttackSnapshot:
		err = m.target.Snapshot(id)
	}
	m.report(attackType.String(), id, before, err)

	if err != nil {
		logger.Warn(logger.Node(id), "ChaosMonkey: %s failed: %v", attackType, err)
		return
	}
	logger.Warn(logger.Node(id), "ChaosMonkey: %s", attackType)

	m.mu.Lock()
	m.attackByType[attackType]++
	m.mu.Unlock()
}

// restoreDue はRestoreAfterを過ぎたノードを復旧する。allなら経過時間を問わない
func (m *Monkey) restoreDue(all bool) {
	now := time.Now()
	m.mu.Lock()
	var due []int
	for id, at := range m.crashedAt {
		if all || now.Sub(at) >= m.config.RestoreAfter {
			due = append(due, id)
			delete(m.crashedAt, id)
		}
	}
	m.mu.Unlock()
	sort.Ints(due)

	for _, id := range due {
		before := m.stateOf(id)
		err := m.target.Restore(id)
		m.report("restore", id, before, err)
		if err != nil {
			logger.Warn(logger.Node(id), "ChaosMonkey: restore failed: %v", err)
			continue
		}
		logger.Info(logger.Node(id), "ChaosMonkey: restored")
		m.mu.Lock()
		m.restores++
		m.mu.Unlock()
	}
}

// IsRunning は実行中かどうかを返す
func (m *Monkey) IsRunning() bool {
	return m.running.Load()
}

// AttackCount は攻撃回数を返す
func (m *Monkey) AttackCount() uint64 {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.attackCount
}

// PendingRestores は復旧待ちのノードIDを返す
func (m *Monkey) PendingRestores() []int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	ids := make([]int, 0, len(m.crashedAt))
	for id := range m.crashedAt {
		ids = append(ids, id)
	}
	sort.Ints(ids)
	return ids
}

// Stats は攻撃統計を返す
func (m *Monkey) Stats() Stats {
	m.mu.RLock()
	defer m.mu.RUnlock()

	byType := make(map[string]uint64)
	for t, count := range m.attackByType {
		byType[t.String()] = count
	}
	return Stats{
		TotalAttacks: m.attackCount,
		ByType:       byType,
		Restores:     m.restores,
	}
}
