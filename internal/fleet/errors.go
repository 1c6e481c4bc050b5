package fleet

import (
	"fmt"

	"snapfleet/internal/node"
)

// 呼び出し側は errors.Is で判定する
var (
	ErrSpawnFailure         = node.ErrSpawnFailure
	ErrCommunicationFailure = node.ErrCommunicationFailure
	ErrInvalidTransition    = node.ErrInvalidTransition
)

// OpError records which fleet operation failed on which node and in which
// state the node was when the operation started.
type OpError struct {
	Op     string
	NodeID int
	State  node.State
	Err    error
}

func (e *OpError) Error() string {
	return fmt.Sprintf("%s node %d (%s): %v", e.Op, e.NodeID, e.State, e.Err)
}

func (e *OpError) Unwrap() error {
	return e.Err
}
