// Package chaos はノードの選択と障害注入を提供する。
//
// 選択関数（PickOne、PickOneExcluding、PickDistinct）は乱数源を引数に取る
// 純粋関数で、同じシードからは同じ選択結果が得られる。
//
// Monkeyは一定間隔でフリートに障害を注入する。
//
// # 障害タイプ
//
// - Crash: プロセスを強制終了し、RestoreAfter経過後に復旧する
// - Disconnect: disconnectコマンドを送る（プロセスは生存）
// - Snapshot: snapshotコマンドを送る
//
// # 使用例
//
//	rnd, seed := chaos.NewRand(cfg.RandomSeed)
//	ids, err := chaos.PickDistinct(rnd, cfg.IDs(), 2)
//
//	monkey := chaos.New(f, chaos.DefaultConfig(), rnd)
//	monkey.Start(ctx)
//	defer monkey.Stop()
package chaos
