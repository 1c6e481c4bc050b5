// Package journal persists runs to SQLite: one row per run, every captured
// output line, and the outcome of every step action. A Sink plugs the
// journal into an output.Aggregator so lines are stored as they arrive.
package journal
