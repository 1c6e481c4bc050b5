package scenario

import (
	"fmt"
	"math/rand"
	"sort"
	"strconv"
	"strings"
	"time"

	"snapfleet/internal/chaos"
	"snapfleet/internal/config"
)

// Action is what a step does to its targets.
type Action string

const (
	ActionSpawn      Action = "spawn"
	ActionInitialize Action = "initialize"
	ActionJoin       Action = "join"
	ActionSnapshot   Action = "snapshot"
	ActionDisconnect Action = "disconnect"
	ActionCrash      Action = "crash"
	ActionRestore    Action = "restore"
	ActionTeardown   Action = "teardown"
	// ActionBootstrap spawns, initializes and joins each target in turn.
	ActionBootstrap Action = "bootstrap"
	// ActionWait only sleeps DelayAfter.
	ActionWait Action = "wait"
	// ActionChaos runs a chaos monkey against the fleet for a while.
	ActionChaos Action = "chaos"
)

// Actions は全アクションを返す
func Actions() []Action {
	return []Action{
		ActionSpawn, ActionInitialize, ActionJoin, ActionSnapshot, ActionDisconnect,
		ActionCrash, ActionRestore, ActionTeardown, ActionBootstrap, ActionWait, ActionChaos,
	}
}

func (a Action) valid() bool {
	for _, known := range Actions() {
		if a == known {
			return true
		}
	}
	return false
}

// perNode reports whether the action is applied to resolved target ids.
func (a Action) perNode() bool {
	switch a {
	case ActionTeardown, ActionWait, ActionChaos:
		return false
	}
	return true
}

// SelectorKind names a target selection rule.
type SelectorKind string

const (
	SelectAll            SelectorKind = "all"
	SelectAllButSeed     SelectorKind = "all-but-seed"
	SelectIDs            SelectorKind = "ids"
	SelectRandom         SelectorKind = "random"
	SelectRandomNonSeed  SelectorKind = "random-non-seed"
	SelectRandomDistinct SelectorKind = "random-distinct"
	SelectRef            SelectorKind = "ref"
)

// Targets selects node ids for a step. All and AllButSeed yield ascending
// ids; random selectors yield ids in draw order.
type Targets struct {
	Kind  SelectorKind `yaml:"kind" json:"kind"`
	IDs   []int        `yaml:"ids,omitempty" json:"ids,omitempty"`
	Count int          `yaml:"count,omitempty" json:"count,omitempty"`
	Ref   string       `yaml:"ref,omitempty" json:"ref,omitempty"`
}

// All は全ノードを選ぶ
func All() Targets { return Targets{Kind: SelectAll} }

// AllButSeed はシード以外の全ノードを選ぶ
func AllButSeed() Targets { return Targets{Kind: SelectAllButSeed} }

// IDs は指定したノードを選ぶ
func IDs(ids ...int) Targets { return Targets{Kind: SelectIDs, IDs: ids} }

// Random は1ノードを一様に選ぶ
func Random() Targets { return Targets{Kind: SelectRandom} }

// RandomNonSeed はシード以外から1ノードを選ぶ
func RandomNonSeed() Targets { return Targets{Kind: SelectRandomNonSeed} }

// RandomDistinct は互いに異なるk個のノードを選ぶ
func RandomDistinct(k int) Targets { return Targets{Kind: SelectRandomDistinct, Count: k} }

// Ref は以前のステップで束縛したノードを選ぶ
func Ref(name string) Targets { return Targets{Kind: SelectRef, Ref: name} }

func (t Targets) String() string {
	switch t.Kind {
	case SelectIDs:
		parts := make([]string, len(t.IDs))
		for i, id := range t.IDs {
			parts[i] = strconv.Itoa(id)
		}
		return "ids[" + strings.Join(parts, ",") + "]"
	case SelectRandomDistinct:
		return fmt.Sprintf("random-distinct(%d)", t.Count)
	case SelectRef:
		return "ref(" + t.Ref + ")"
	case "":
		return "-"
	default:
		return string(t.Kind)
	}
}

// Resolve turns the selector into concrete ids.
func (t Targets) Resolve(cluster config.Cluster, rnd *rand.Rand, bindings map[string][]int) ([]int, error) {
	all := cluster.IDs()
	nonSeed := make([]int, 0, len(all))
	for _, id := range all {
		if id != config.SeedID {
			nonSeed = append(nonSeed, id)
		}
	}

	switch t.Kind {
	case SelectAll, "":
		return all, nil
	case SelectAllButSeed:
		return nonSeed, nil
	case SelectIDs:
		ids := append([]int(nil), t.IDs...)
		sort.Ints(ids)
		return ids, nil
	case SelectRandom:
		id, err := chaos.PickOne(rnd, all)
		return []int{id}, err
	case SelectRandomNonSeed:
		id, err := chaos.PickOneExcluding(rnd, all, config.SeedID)
		return []int{id}, err
	case SelectRandomDistinct:
		return chaos.PickDistinct(rnd, all, t.Count)
	case SelectRef:
		ids, ok := bindings[t.Ref]
		if !ok {
			return nil, fmt.Errorf("target ref %q is not bound", t.Ref)
		}
		return append([]int(nil), ids...), nil
	}
	return nil, fmt.Errorf("unknown target selector %q", t.Kind)
}

// Delay is either a fixed duration or the name of a Timing field, so preset
// and file scenarios follow timing overrides and scaling.
type Delay struct {
	Fixed time.Duration
	Key   string
}

// Fixed は固定の待機時間
func Fixed(d time.Duration) Delay { return Delay{Fixed: d} }

// Named はTimingの項目を参照する待機時間
func Named(key string) Delay { return Delay{Key: key} }

// ParseDelay accepts a timing key ("settle_delay") or a duration ("1.5s").
func ParseDelay(s string) (Delay, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return Delay{}, nil
	}
	if _, ok := config.DefaultTiming().Lookup(s); ok {
		return Named(s), nil
	}
	d, err := time.ParseDuration(s)
	if err != nil {
		return Delay{}, fmt.Errorf("delay %q is neither a timing key nor a duration", s)
	}
	if d < 0 {
		return Delay{}, fmt.Errorf("delay %q is negative", s)
	}
	return Fixed(d), nil
}

// Resolve は実際の待機時間を返す
func (d Delay) Resolve(t config.Timing) time.Duration {
	if d.Key != "" {
		v, _ := t.Lookup(d.Key)
		return v
	}
	return d.Fixed
}

// IsZero は待機なしかどうかを返す
func (d Delay) IsZero() bool {
	return d.Key == "" && d.Fixed == 0
}

func (d Delay) String() string {
	if d.Key != "" {
		return d.Key
	}
	if d.Fixed == 0 {
		return "-"
	}
	return d.Fixed.String()
}

// ChaosConfig configures an ActionChaos step.
type ChaosConfig struct {
	Duration     time.Duration
	Interval     time.Duration
	TargetCount  int
	Attacks      []chaos.AttackType
	RestoreAfter Delay
	SpareSeed    bool
}

// Step is one entry of a scenario.
type Step struct {
	Action     Action
	Targets    Targets
	DelayAfter Delay
	// Stagger is slept between the targets of this step.
	Stagger Delay
	// Bind remembers the resolved ids under a name for later Ref targets.
	Bind  string
	Chaos *ChaosConfig
}

func (s Step) String() string {
	var b strings.Builder
	b.WriteString(string(s.Action))
	if s.Action.perNode() {
		b.WriteString(" " + s.Targets.String())
	}
	if s.Bind != "" {
		b.WriteString(" as " + s.Bind)
	}
	return b.String()
}

// validateSteps checks actions, selectors and that every ref is bound by an
// earlier step.
func validateSteps(steps []Step) error {
	if len(steps) == 0 {
		return &config.Error{Field: "steps", Reason: "must not be empty"}
	}
	bound := map[string]bool{}
	for i, s := range steps {
		field := fmt.Sprintf("steps[%d]", i)
		if !s.Action.valid() {
			return &config.Error{Field: field + ".action", Reason: fmt.Sprintf("unknown action %q", s.Action)}
		}
		if s.Action.perNode() {
			if err := validateTargets(field+".targets", s.Targets, bound); err != nil {
				return err
			}
		}
		if s.Action == ActionChaos {
			if s.Chaos == nil || s.Chaos.Duration <= 0 || s.Chaos.Interval <= 0 {
				return &config.Error{Field: field + ".chaos", Reason: "needs a positive duration and interval"}
			}
		}
		if s.Bind != "" {
			bound[s.Bind] = true
		}
	}
	return nil
}

func validateTargets(field string, t Targets, bound map[string]bool) error {
	switch t.Kind {
	case SelectAll, SelectAllButSeed, SelectRandom, SelectRandomNonSeed, "":
		return nil
	case SelectIDs:
		if len(t.IDs) == 0 {
			return &config.Error{Field: field + ".ids", Reason: "must not be empty"}
		}
		return nil
	case SelectRandomDistinct:
		if t.Count < 1 {
			return &config.Error{Field: field + ".count", Reason: "must be at least 1"}
		}
		return nil
	case SelectRef:
		if !bound[t.Ref] {
			return &config.Error{Field: field + ".ref", Reason: fmt.Sprintf("%q is not bound by an earlier step", t.Ref)}
		}
		return nil
	}
	return &config.Error{Field: field + ".kind", Reason: fmt.Sprintf("unknown selector %q", t.Kind)}
}
