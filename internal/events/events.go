// Package events provides an event bus for fleet lifecycle and scenario
// progress notifications.
package events

import "time"

// EventType represents the type of event
type EventType string

const (
	// EventNodeSpawned is emitted when a node process is started
	EventNodeSpawned EventType = "node_spawned"
	// EventCommandSent is emitted when a protocol line is written to a node
	EventCommandSent EventType = "command_sent"
	// EventNodeCrashed is emitted when the harness kills a node process
	EventNodeCrashed EventType = "node_crashed"
	// EventNodeRestored is emitted when a replacement process has been
	// initialized and told to restore
	EventNodeRestored EventType = "node_restored"
	// EventNodeExited is emitted when a node process ends on its own
	EventNodeExited EventType = "node_exited"
	// EventNodeStopped is emitted when teardown terminates a node process
	EventNodeStopped EventType = "node_stopped"
	// EventStepStarted is emitted before a scenario step runs
	EventStepStarted EventType = "step_started"
	// EventStepFinished is emitted after a scenario step and its outcomes
	EventStepFinished EventType = "step_finished"
	// EventUnexpectedFailure is emitted when an operation against a
	// supposedly live node fails
	EventUnexpectedFailure EventType = "unexpected_failure"
	// EventRecoveryStarted is emitted when the watchdog begins restoring an
	// exited node
	EventRecoveryStarted EventType = "recovery_started"
	// EventRecoveryFailed is emitted when a watchdog restore attempt fails
	EventRecoveryFailed EventType = "recovery_failed"
)

// NoNode is used as NodeID for events that do not concern a single node
const NoNode = -1

// Event represents a fleet or scenario event
type Event struct {
	Type      EventType `json:"type"`
	Timestamp time.Time `json:"timestamp"`
	NodeID    int       `json:"node_id"`
	Data      EventData `json:"data,omitempty"`
}

// EventData contains event-specific data
type EventData struct {
	Command    string `json:"command,omitempty"`
	Action     string `json:"action,omitempty"`
	Step       int    `json:"step,omitempty"`
	Generation int    `json:"generation,omitempty"`
	PID        int    `json:"pid,omitempty"`
	Attempt    int    `json:"attempt,omitempty"`
	Error      string `json:"error,omitempty"`
}

func newEvent(t EventType, nodeID int, data EventData) Event {
	return Event{
		Type:      t,
		Timestamp: time.Now(),
		NodeID:    nodeID,
		Data:      data,
	}
}

// NewNodeSpawnedEvent creates a node spawned event
func NewNodeSpawnedEvent(nodeID, generation, pid int) Event {
	return newEvent(EventNodeSpawned, nodeID, EventData{Generation: generation, PID: pid})
}

// NewCommandSentEvent creates a command sent event
func NewCommandSentEvent(nodeID int, command string) Event {
	return newEvent(EventCommandSent, nodeID, EventData{Command: command})
}

// NewNodeCrashedEvent creates a node crashed event
func NewNodeCrashedEvent(nodeID, generation int) Event {
	return newEvent(EventNodeCrashed, nodeID, EventData{Generation: generation})
}

// NewNodeRestoredEvent creates a node restored event
func NewNodeRestoredEvent(nodeID, generation int) Event {
	return newEvent(EventNodeRestored, nodeID, EventData{Generation: generation})
}

// NewNodeExitedEvent creates a node exited event
func NewNodeExitedEvent(nodeID, generation int, err error) Event {
	return newEvent(EventNodeExited, nodeID, EventData{Generation: generation, Error: errString(err)})
}

// NewNodeStoppedEvent creates a node stopped event
func NewNodeStoppedEvent(nodeID, generation int) Event {
	return newEvent(EventNodeStopped, nodeID, EventData{Generation: generation})
}

// NewStepStartedEvent creates a step started event
func NewStepStartedEvent(step int, action string) Event {
	return newEvent(EventStepStarted, NoNode, EventData{Step: step, Action: action})
}

// NewStepFinishedEvent creates a step finished event
func NewStepFinishedEvent(step int, action string) Event {
	return newEvent(EventStepFinished, NoNode, EventData{Step: step, Action: action})
}

// NewUnexpectedFailureEvent creates an unexpected failure event
func NewUnexpectedFailureEvent(nodeID, step int, action string, err error) Event {
	return newEvent(EventUnexpectedFailure, nodeID, EventData{Step: step, Action: action, Error: errString(err)})
}

// NewRecoveryStartedEvent creates a recovery started event
func NewRecoveryStartedEvent(nodeID, attempt int) Event {
	return newEvent(EventRecoveryStarted, nodeID, EventData{Attempt: attempt})
}

// NewRecoveryFailedEvent creates a recovery failed event
func NewRecoveryFailedEvent(nodeID, attempt int, err error) Event {
	return newEvent(EventRecoveryFailed, nodeID, EventData{Attempt: attempt, Error: errString(err)})
}

func errString(err error) string {
	if err == nil {
		return ""
	}
	return err.Error()
}
