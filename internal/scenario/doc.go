// Package scenario はノード群に対する時間付きの操作列を実行する。
//
// シナリオはクラスタ設定、待機時間、ステップ列からなる。ステップは
// 対象ノードの選び方（全ノード、シード以外、ID指定、ランダム、以前の
// ステップで束縛したノード）と、実行後の待機時間を持つ。エンジンは
// ステップを1つずつ順に実行し、明示的な待機以外では停止しない。
//
// # 結果の分類
//
// 各ノードへの操作は次のいずれかに分類される。
//
//   - succeeded: 成功
//   - expected-dead-target: 既に停止しているノードへの操作が失敗した
//   - unexpected-failure: 生存しているはずのノードへの操作が失敗した
//
// 想定外の失敗は警告として記録し、実行は継続する。プロセスの起動失敗と
// 設定エラーのみ実行を中断する。中断時もノードはすべて停止される。
//
// # プリセットシナリオ
//
//   - bootstrap: クラスタ構築のみ
//   - smoke: 3ノードでsnapshot、crash、restore
//   - n-nodes: 20ノードの段階的起動とcrash/restore
//   - multiple-snapshots: 40ノードで2ノードから同時snapshot
//   - snap-disconnect-crash-restore: 40ノードで4種の障害を順に注入
//   - chaos: ChaosMonkeyによるランダムな障害注入
//
// # 使用例
//
//	s, _ := scenario.GetPreset("smoke")
//	s.Cluster.Command = []string{"java", "-jar", "node.jar"}
//	engine := scenario.New(s)
//	result, err := engine.Run(ctx)
//	if err != nil {
//	    log.Fatal(err)
//	}
//	fmt.Println(result.Report())
package scenario
