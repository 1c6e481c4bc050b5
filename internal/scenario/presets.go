package scenario

import (
	"time"

	"snapfleet/internal/chaos"
	"snapfleet/internal/config"
)

func presetScenario(name, description string, nodes int, steps []Step) Scenario {
	cluster := config.DefaultCluster()
	cluster.NodeCount = nodes
	return Scenario{
		Name:        name,
		Description: description,
		Cluster:     cluster,
		Timing:      config.DefaultTiming(),
		Steps:       steps,
	}
}

// BootstrapScenario はクラスタを構築して終了するだけのシナリオを返す
func BootstrapScenario() Scenario {
	return presetScenario("bootstrap", "Form a cluster and tear it down", 3, []Step{
		{Action: ActionBootstrap, Targets: All(), DelayAfter: Named("settle_delay")},
		{Action: ActionTeardown},
	})
}

// SmokeScenario はノード1のsnapshot→crash→restoreを確認する
func SmokeScenario() Scenario {
	return presetScenario("smoke", "Snapshot, crash and restore node 1 of a 3-node cluster", 3, []Step{
		{Action: ActionBootstrap, Targets: All(), DelayAfter: Named("settle_delay")},
		{Action: ActionSnapshot, Targets: IDs(1), DelayAfter: Named("step_delay")},
		{Action: ActionCrash, Targets: IDs(1), DelayAfter: Named("crash_to_restore")},
		{Action: ActionRestore, Targets: IDs(1), DelayAfter: Named("restore_settle")},
		{Action: ActionTeardown},
	})
}

// NNodesScenario は20ノードで起動・初期化・参加を段階的に行い、
// ランダムなノードのsnapshotとcrash/restoreを行う
func NNodesScenario() Scenario {
	return presetScenario("n-nodes", "Phased bring-up of 20 nodes, one snapshot and one crash/restore", 20, []Step{
		{Action: ActionSpawn, Targets: All(), Stagger: Named("spawn_stagger")},
		{Action: ActionInitialize, Targets: All(), Stagger: Named("init_stagger")},
		{Action: ActionJoin, Targets: AllButSeed(), Stagger: Named("join_stagger"), DelayAfter: Named("step_delay")},
		{Action: ActionSnapshot, Targets: Random(), DelayAfter: Named("step_delay")},
		{Action: ActionCrash, Targets: Random(), Bind: "victim"},
		{Action: ActionRestore, Targets: Ref("victim"), DelayAfter: Named("step_delay")},
		{Action: ActionTeardown},
	})
}

// MultipleSnapshotsScenario は40ノードで2つの異なるノードから同時にsnapshotを取る
func MultipleSnapshotsScenario() Scenario {
	return presetScenario("multiple-snapshots", "Concurrent snapshots from two distinct nodes of 40, then crash/restore", 40, []Step{
		{Action: ActionSpawn, Targets: All(), Stagger: Named("spawn_stagger"), DelayAfter: Named("step_delay")},
		{Action: ActionInitialize, Targets: All(), Stagger: Named("init_stagger"), DelayAfter: Named("step_delay")},
		{Action: ActionJoin, Targets: AllButSeed(), Stagger: Named("join_stagger"), DelayAfter: Named("settle_delay")},
		{Action: ActionSnapshot, Targets: RandomDistinct(2), DelayAfter: Named("settle_delay")},
		{Action: ActionCrash, Targets: Random(), Bind: "victim", DelayAfter: Named("crash_to_restore")},
		{Action: ActionRestore, Targets: Ref("victim"), DelayAfter: Named("restore_settle")},
		{Action: ActionTeardown},
	})
}

// SnapDisconnectCrashRestoreScenario は40ノードでsnapshot、disconnect、
// crash、restoreを順に行う
func SnapDisconnectCrashRestoreScenario() Scenario {
	return presetScenario("snap-disconnect-crash-restore", "Snapshot, disconnect, crash and restore on random nodes of 40", 40, []Step{
		{Action: ActionBootstrap, Targets: All(), DelayAfter: Named("settle_delay")},
		{Action: ActionSnapshot, Targets: Random(), DelayAfter: Named("step_delay")},
		{Action: ActionDisconnect, Targets: Random(), DelayAfter: Named("step_delay")},
		{Action: ActionCrash, Targets: Random(), Bind: "victim", DelayAfter: Named("crash_to_restore")},
		{Action: ActionRestore, Targets: Ref("victim"), DelayAfter: Named("restore_settle")},
		{Action: ActionTeardown},
	})
}

// ChaosScenario はChaosMonkeyで一定時間ランダムな障害を注入する
func ChaosScenario() Scenario {
	return presetScenario("chaos", "Random crash, disconnect and snapshot injection for 30s", 5, []Step{
		{Action: ActionBootstrap, Targets: All(), DelayAfter: Named("settle_delay")},
		{Action: ActionChaos, Chaos: &ChaosConfig{
			Duration:     30 * time.Second,
			Interval:     5 * time.Second,
			TargetCount:  1,
			Attacks:      []chaos.AttackType{chaos.AttackCrash, chaos.AttackDisconnect, chaos.AttackSnapshot},
			RestoreAfter: Named("crash_to_restore"),
			SpareSeed:    true,
		}, DelayAfter: Named("restore_settle")},
		{Action: ActionTeardown},
	})
}

var presets = map[string]func() Scenario{
	"bootstrap":                     BootstrapScenario,
	"smoke":                         SmokeScenario,
	"n-nodes":                       NNodesScenario,
	"multiple-snapshots":            MultipleSnapshotsScenario,
	"snap-disconnect-crash-restore": SnapDisconnectCrashRestoreScenario,
	"chaos":                         ChaosScenario,
}

// GetPreset は名前からプリセットシナリオを取得する
func GetPreset(name string) (Scenario, bool) {
	if fn, ok := presets[name]; ok {
		return fn(), true
	}
	return Scenario{}, false
}

// ListPresets は利用可能なプリセット名を返す
func ListPresets() []string {
	return []string{"bootstrap", "smoke", "n-nodes", "multiple-snapshots", "snap-disconnect-crash-restore", "chaos"}
}
