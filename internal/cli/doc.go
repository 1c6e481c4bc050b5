// Package cli implements the snapfleet command line: run, presets, plan,
// logs, clean, serve and version. Commands return *ExitError so main can
// map failures to exit codes (0 ok, 1 unexpected step failures or an
// interrupted run, 2 bad input or an aborted run).
package cli
