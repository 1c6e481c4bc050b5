package metrics

import (
	"sort"
	"sync"
	"sync/atomic"
	"time"
)

// Metrics はハーネスの操作統計を収集する
type Metrics struct {
	writes        atomic.Uint64
	writeFailures atomic.Uint64
	writeNs       atomic.Uint64
	spawns        atomic.Uint64
	crashes       atomic.Uint64
	restores      atomic.Uint64
	exits         atomic.Uint64

	mu                sync.RWMutex
	startTime         time.Time
	commands          map[string]uint64
	lines             map[int]uint64
	latencies         []time.Duration
	maxLatencySamples int
}

// New は新しいメトリクスを作成する
func New() *Metrics {
	return &Metrics{
		startTime:         time.Now(),
		commands:          make(map[string]uint64),
		lines:             make(map[int]uint64),
		latencies:         make([]time.Duration, 0, 256),
		maxLatencySamples: 4096,
	}
}

// RecordWrite は標準入力への書き込み結果を記録する
func (m *Metrics) RecordWrite(command string, latency time.Duration, err error) {
	if m == nil {
		return
	}
	m.writes.Add(1)
	m.writeNs.Add(uint64(latency.Nanoseconds()))
	if err != nil {
		m.writeFailures.Add(1)
		return
	}

	m.mu.Lock()
	m.commands[command]++
	if len(m.latencies) < m.maxLatencySamples {
		m.latencies = append(m.latencies, latency)
	}
	m.mu.Unlock()
}

// RecordLine はノード出力の1行を記録する
func (m *Metrics) RecordLine(source int) {
	if m == nil {
		return
	}
	m.mu.Lock()
	m.lines[source]++
	m.mu.Unlock()
}

// RecordSpawn はプロセス起動を記録する
func (m *Metrics) RecordSpawn() {
	if m != nil {
		m.spawns.Add(1)
	}
}

// RecordCrash はハーネスによる強制終了を記録する
func (m *Metrics) RecordCrash() {
	if m != nil {
		m.crashes.Add(1)
	}
}

// RecordRestore は復旧を記録する
func (m *Metrics) RecordRestore() {
	if m != nil {
		m.restores.Add(1)
	}
}

// RecordExit は想定外のプロセス終了を記録する
func (m *Metrics) RecordExit() {
	if m != nil {
		m.exits.Add(1)
	}
}

// AverageWriteLatency は平均書き込み時間を返す
func (m *Metrics) AverageWriteLatency() time.Duration {
	total := m.writes.Load()
	if total == 0 {
		return 0
	}
	return time.Duration(m.writeNs.Load() / total)
}

// P99WriteLatency は書き込み時間のP99を返す（サンプルベース）
func (m *Metrics) P99WriteLatency() time.Duration {
	m.mu.RLock()
	defer m.mu.RUnlock()

	if len(m.latencies) == 0 {
		return 0
	}

	sorted := make([]time.Duration, len(m.latencies))
	copy(sorted, m.latencies)
	sort.Slice(sorted, func(i, j int) bool {
		return sorted[i] < sorted[j]
	})

	idx := int(float64(len(sorted)) * 0.99)
	if idx >= len(sorted) {
		idx = len(sorted) - 1
	}
	return sorted[idx]
}

// Snapshot はメトリクスのスナップショット
type Snapshot struct {
	Writes              uint64            `json:"writes"`
	WriteFailures       uint64            `json:"write_failures"`
	CommandsSent        map[string]uint64 `json:"commands_sent"`
	LinesCaptured       map[int]uint64    `json:"lines_captured"`
	TotalLines          uint64            `json:"total_lines"`
	Spawns              uint64            `json:"spawns"`
	Crashes             uint64            `json:"crashes"`
	Restores            uint64            `json:"restores"`
	UnexpectedExits     uint64            `json:"unexpected_exits"`
	AverageWriteLatency time.Duration     `json:"average_write_latency"`
	P99WriteLatency     time.Duration     `json:"p99_write_latency"`
	Elapsed             time.Duration     `json:"elapsed"`
}

// Snapshot は現在のメトリクスのスナップショットを返す
func (m *Metrics) Snapshot() Snapshot {
	m.mu.RLock()
	commands := make(map[string]uint64, len(m.commands))
	for k, v := range m.commands {
		commands[k] = v
	}
	lines := make(map[int]uint64, len(m.lines))
	var total uint64
	for k, v := range m.lines {
		lines[k] = v
		total += v
	}
	m.mu.RUnlock()

	return Snapshot{
		Writes:              m.writes.Load(),
		WriteFailures:       m.writeFailures.Load(),
		CommandsSent:        commands,
		LinesCaptured:       lines,
		TotalLines:          total,
		Spawns:              m.spawns.Load(),
		Crashes:             m.crashes.Load(),
		Restores:            m.restores.Load(),
		UnexpectedExits:     m.exits.Load(),
		AverageWriteLatency: m.AverageWriteLatency(),
		P99WriteLatency:     m.P99WriteLatency(),
		Elapsed:             time.Since(m.startTime),
	}
}
