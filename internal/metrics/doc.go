// Package metrics counts what the harness did during a run.
//
// It tracks protocol lines written per command kind, stdin write failures
// and latency, output lines captured per node, and process lifecycle
// events (spawns, crashes, restores, unexpected exits). A nil *Metrics is
// accepted by every Record method so components can run without one.
//
// # Basic Usage
//
//	m := metrics.New()
//	start := time.Now()
//	err := write(line)
//	m.RecordWrite("snapshot", time.Since(start), err)
//
//	snap := m.Snapshot()
//	fmt.Printf("writes=%d failures=%d p99=%v\n",
//	    snap.Writes, snap.WriteFailures, snap.P99WriteLatency)
//
// # Thread Safety
//
// Counters are atomic and maps are mutex-guarded; all methods are safe for
// concurrent use.
package metrics
