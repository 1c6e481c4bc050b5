// Package recovery はノードプロセスの自発的な終了を監視する。
//
// Watchdogは一定間隔でフリートの状態を確認し、ハーネスが停止させていない
// のに終了したノード（exited）を検出して警告する。AutoRestoreを有効に
// すると、RecoveryDelay経過後に同じIDとポートで復旧を試みる。
//
// クラッシュ（crashed）やteardownによる停止（stopped）は意図した終了の
// ため対象外。
//
// # 使用例
//
//	cfg := recovery.DefaultConfig()
//	cfg.AutoRestore = true
//
//	w := recovery.New(f, cfg)
//	w.SetEventBus(bus)
//	w.Start(ctx)
//	defer w.Stop()
package recovery
