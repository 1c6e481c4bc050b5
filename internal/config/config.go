package config

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

// ErrConfiguration は不正なクラスタ設定を表す
var ErrConfiguration = errors.New("configuration error")

// Error は検証に失敗したフィールドを保持する
type Error struct {
	Field  string
	Reason string
}

func (e *Error) Error() string {
	return fmt.Sprintf("configuration error: %s %s", e.Field, e.Reason)
}

// Is により errors.Is(err, ErrConfiguration) が成立する
func (e *Error) Is(target error) bool {
	return target == ErrConfiguration
}

func invalid(field, format string, args ...any) error {
	return &Error{Field: field, Reason: fmt.Sprintf(format, args...)}
}

// SeedID はクラスタの起点となるノードID
const SeedID = 0

// Cluster は1回の実行で不変のクラスタパラメータ
type Cluster struct {
	NodeCount         int      // ノード数
	Host              string   // ノードがバインドするホスト
	BasePort          int      // ノード0のポート、以降連番
	ResourceEndowment int      // ノードごとの初期リソース量
	StorageRoot       string   // ノードが永続化に使うディレクトリ
	Command           []string // 実行ファイルと固定引数（ノードIDは末尾に付与）
	RandomSeed        *int64   // ランダム選択の再現用シード
}

// DefaultCluster はデフォルト設定を返す
func DefaultCluster() Cluster {
	return Cluster{
		NodeCount:         3,
		Host:              "localhost",
		BasePort:          10000,
		ResourceEndowment: 1000,
		StorageRoot:       "storage_folder",
	}
}

// Port はノードIDに対応するポートを返す
func (c Cluster) Port(id int) int {
	return c.BasePort + id
}

// SeedPort はシードノードのポートを返す
func (c Cluster) SeedPort() int {
	return c.Port(SeedID)
}

// IDs は全ノードIDを昇順で返す
func (c Cluster) IDs() []int {
	ids := make([]int, c.NodeCount)
	for i := range ids {
		ids[i] = i
	}
	return ids
}

// Validate は設定を検証する
func (c Cluster) Validate() error {
	if c.NodeCount < 1 {
		return invalid("node_count", "must be at least 1 (got %d)", c.NodeCount)
	}
	if strings.TrimSpace(c.Host) == "" {
		return invalid("host", "must not be empty")
	}
	if c.BasePort < 1 || c.BasePort > 65535 {
		return invalid("base_port", "must be between 1 and 65535 (got %d)", c.BasePort)
	}
	if last := c.BasePort + c.NodeCount - 1; last > 65535 {
		return invalid("base_port", "port range ends at %d, beyond 65535", last)
	}
	if c.ResourceEndowment < 0 {
		return invalid("resource_endowment", "must be non-negative (got %d)", c.ResourceEndowment)
	}
	if strings.TrimSpace(c.StorageRoot) == "" {
		return invalid("storage_root", "must not be empty")
	}
	if len(c.Command) == 0 || strings.TrimSpace(c.Command[0]) == "" {
		return invalid("command", "must name the node executable")
	}
	return nil
}

// Timing はシナリオが使う待機時間の一覧
//
// ノードは同期的な応答を返さないため、ここにある値はすべて経験則による
// 目安であり、収束や永続化の完了を保証しない。
type Timing struct {
	SpawnStagger      time.Duration // プロセス起動の間隔
	InitStagger       time.Duration // initialize送信の間隔
	JoinStagger       time.Duration // join送信の間隔
	SettleDelay       time.Duration // ブートストラップ後の収束待ち
	StepDelay         time.Duration // 障害注入ステップ後の待機
	CrashToRestore    time.Duration // クラッシュから復旧までの待機
	RestoreSettle     time.Duration // 復旧後の待機
	DisconnectStagger time.Duration // 終了時のdisconnect送信間隔
	TeardownGrace     time.Duration // disconnect後、強制終了までの猶予
	WriteTimeout      time.Duration // 標準入力への書き込み期限
}

// DefaultTiming はデフォルトの待機時間を返す
func DefaultTiming() Timing {
	return Timing{
		SpawnStagger:      50 * time.Millisecond,
		InitStagger:       50 * time.Millisecond,
		JoinStagger:       1 * time.Second,
		SettleDelay:       10 * time.Second,
		StepDelay:         5 * time.Second,
		CrashToRestore:    10 * time.Second,
		RestoreSettle:     10 * time.Second,
		DisconnectStagger: 1 * time.Second,
		TeardownGrace:     1 * time.Second,
		WriteTimeout:      5 * time.Second,
	}
}

// Validate は待機時間を検証する
func (t Timing) Validate() error {
	fields := map[string]time.Duration{
		"spawn_stagger":      t.SpawnStagger,
		"init_stagger":       t.InitStagger,
		"join_stagger":       t.JoinStagger,
		"settle_delay":       t.SettleDelay,
		"step_delay":         t.StepDelay,
		"crash_to_restore":   t.CrashToRestore,
		"restore_settle":     t.RestoreSettle,
		"disconnect_stagger": t.DisconnectStagger,
		"teardown_grace":     t.TeardownGrace,
	}
	for name, d := range fields {
		if d < 0 {
			return invalid("timing."+name, "must be non-negative (got %v)", d)
		}
	}
	if t.WriteTimeout <= 0 {
		return invalid("timing.write_timeout", "must be positive (got %v)", t.WriteTimeout)
	}
	return nil
}

// Scale は全ての待機時間に係数を掛ける（書き込み期限は除く）
func (t Timing) Scale(f float64) Timing {
	scale := func(d time.Duration) time.Duration {
		return time.Duration(float64(d) * f)
	}
	return Timing{
		SpawnStagger:      scale(t.SpawnStagger),
		InitStagger:       scale(t.InitStagger),
		JoinStagger:       scale(t.JoinStagger),
		SettleDelay:       scale(t.SettleDelay),
		StepDelay:         scale(t.StepDelay),
		CrashToRestore:    scale(t.CrashToRestore),
		RestoreSettle:     scale(t.RestoreSettle),
		DisconnectStagger: scale(t.DisconnectStagger),
		TeardownGrace:     scale(t.TeardownGrace),
		WriteTimeout:      t.WriteTimeout,
	}
}

// TimingKeys は名前で参照できる待機時間の一覧（設定ファイルのキーと同じ）
func TimingKeys() []string {
	return []string{
		"spawn_stagger", "init_stagger", "join_stagger", "settle_delay", "step_delay",
		"crash_to_restore", "restore_settle", "disconnect_stagger", "teardown_grace",
	}
}

// Lookup は名前に対応する待機時間を返す
func (t Timing) Lookup(name string) (time.Duration, bool) {
	switch name {
	case "spawn_stagger":
		return t.SpawnStagger, true
	case "init_stagger":
		return t.InitStagger, true
	case "join_stagger":
		return t.JoinStagger, true
	case "settle_delay":
		return t.SettleDelay, true
	case "step_delay":
		return t.StepDelay, true
	case "crash_to_restore":
		return t.CrashToRestore, true
	case "restore_settle":
		return t.RestoreSettle, true
	case "disconnect_stagger":
		return t.DisconnectStagger, true
	case "teardown_grace":
		return t.TeardownGrace, true
	}
	return 0, false
}
