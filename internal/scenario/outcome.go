package scenario

import (
	"errors"
	"fmt"
	"time"

	"snapfleet/internal/fleet"
	"snapfleet/internal/node"
)

// OutcomeKind classifies the result of one fleet call.
type OutcomeKind int

const (
	OutcomeSucceeded OutcomeKind = iota
	// OutcomeExpectedDeadTarget: the node was already dead before the call,
	// so the failure is what fault injection is supposed to produce.
	OutcomeExpectedDeadTarget
	// OutcomeUnexpectedFailure: the call failed against a node the harness
	// believed to be alive.
	OutcomeUnexpectedFailure
)

func (k OutcomeKind) String() string {
	switch k {
	case OutcomeSucceeded:
		return "succeeded"
	case OutcomeExpectedDeadTarget:
		return "expected-dead-target"
	case OutcomeUnexpectedFailure:
		return "unexpected-failure"
	default:
		return "unknown"
	}
}

// MarshalText は分類を文字列として出力する
func (k OutcomeKind) MarshalText() ([]byte, error) {
	return []byte(k.String()), nil
}

// UnmarshalText は文字列から分類を復元する
func (k *OutcomeKind) UnmarshalText(text []byte) error {
	for _, c := range []OutcomeKind{OutcomeSucceeded, OutcomeExpectedDeadTarget, OutcomeUnexpectedFailure} {
		if c.String() == string(text) {
			*k = c
			return nil
		}
	}
	return fmt.Errorf("unknown outcome %q", text)
}

// StepOutcome is the result of applying one step action to one node.
type StepOutcome struct {
	Step   int         `json:"step"`
	Action Action      `json:"action"`
	NodeID int         `json:"node_id"`
	Kind   OutcomeKind `json:"kind"`
	Error  string      `json:"error,omitempty"`
	At     time.Time   `json:"at"`
	Err    error       `json:"-"`
}

// Classify は呼び出し前の状態からfleet呼び出しの結果を分類する。
// 期待どおりの失敗は、シナリオ自身がcrashまたはteardownで止めたノードへの
// 呼び出しだけ。自ら終了したノード(Exited)への失敗は想定外として扱う
func Classify(before node.State, err error) OutcomeKind {
	if err == nil {
		return OutcomeSucceeded
	}
	if before.Killed() && (errors.Is(err, fleet.ErrCommunicationFailure) || errors.Is(err, fleet.ErrInvalidTransition)) {
		return OutcomeExpectedDeadTarget
	}
	return OutcomeUnexpectedFailure
}

func newOutcome(step int, action Action, id int, before node.State, err error) StepOutcome {
	o := StepOutcome{
		Step:   step,
		Action: action,
		NodeID: id,
		Kind:   Classify(before, err),
		At:     time.Now(),
		Err:    err,
	}
	if err != nil {
		o.Error = err.Error()
	}
	return o
}

// StepSummary counts outcomes of one step.
type StepSummary struct {
	Step         int    `json:"step"`
	Action       Action `json:"action"`
	Succeeded    int    `json:"succeeded"`
	ExpectedDead int    `json:"expected_dead"`
	Unexpected   int    `json:"unexpected"`
}

// summarize groups outcomes by step. Composite steps such as bootstrap are
// reported under the step's own action.
func summarize(steps []Step, outcomes []StepOutcome) []StepSummary {
	var out []StepSummary
	index := map[int]int{}
	for _, o := range outcomes {
		i, ok := index[o.Step]
		if !ok {
			i = len(out)
			index[o.Step] = i
			action := o.Action
			if o.Step >= 1 && o.Step <= len(steps) {
				action = steps[o.Step-1].Action
			}
			out = append(out, StepSummary{Step: o.Step, Action: action})
		}
		switch o.Kind {
		case OutcomeSucceeded:
			out[i].Succeeded++
		case OutcomeExpectedDeadTarget:
			out[i].ExpectedDead++
		case OutcomeUnexpectedFailure:
			out[i].Unexpected++
		}
	}
	return out
}
