// Package fleet is the process fleet: it owns one node.Handle per node id
// and exposes the harness operations (spawn, initialize, join, snapshot,
// disconnect, crash, restore, teardown) keyed by id.
//
// # Basic Usage
//
//	f, err := fleet.New(cfg, fleet.WithTiming(timing), fleet.WithEventBus(bus))
//	if err != nil {
//	    return err
//	}
//	defer f.Close(ctx)
//
//	_ = f.Prepare()
//	for _, id := range cfg.IDs() {
//	    _ = f.Spawn(id)
//	    _ = f.Initialize(id)
//	}
//
// # Errors
//
// Every failure is an *OpError wrapping one of ErrSpawnFailure,
// ErrCommunicationFailure or ErrInvalidTransition. Operations on a node
// that is already dead report ErrCommunicationFailure, which callers treat
// as an expected outcome after a crash.
//
// # Ownership
//
// Only the fleet clears the storage area, and only in Prepare. Process
// output is captured by the fleet's output.Aggregator under the node id.
package fleet
