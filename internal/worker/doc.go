// Package worker provides a bounded goroutine pool for fan-out work that
// must finish before the caller moves on, such as killing every live node
// during teardown.
//
// # Basic Usage
//
//	pool := worker.NewPool(8)
//	pool.Start(ctx)
//	for _, h := range handles {
//	    _ = pool.Submit(func() error {
//	        return h.Kill(node.StateStopped)
//	    })
//	}
//	err := pool.Stop() // waits for every submitted job, joins their errors
//
// Submit blocks while the queue is full. Cancelling the context passed to
// Start abandons jobs that have not started yet.
package worker
