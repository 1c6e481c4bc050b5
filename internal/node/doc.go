// Package node wraps one external node process and its lifecycle state.
//
// A Handle owns the process currently standing in for a node id: it starts
// the process through a Launcher, pipes combined stdout and stderr into an
// output.Aggregator, writes protocol lines to stdin with a deadline and reaps
// the process from a dedicated waiter goroutine.
//
// # Lifecycle
//
//	unborn -> spawned -> initialized -> joined
//	initialized|joined|disconnected -> disconnected
//	any live state -> crashed|stopped (harness kill) or exited (on its own)
//	crashed|exited|stopped -> restoring -> spawned
//
// The process-level state of the node (membership, stored entities) is not
// visible here; State only reflects what the harness has done.
package node
