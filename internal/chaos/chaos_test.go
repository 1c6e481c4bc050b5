package chaos

import (
	"context"
	"errors"
	"sort"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"snapfleet/internal/node"
)

// fakeTarget はプロセスを持たないフリート
type fakeTarget struct {
	mu     sync.Mutex
	states map[int]node.State
	calls  []string
}

func newFakeTarget(n int) *fakeTarget {
	ft := &fakeTarget{states: make(map[int]node.State)}
	for i := 0; i < n; i++ {
		ft.states[i] = node.StateJoined
	}
	ft.states[0] = node.StateInitialized
	return ft
}

func (f *fakeTarget) Nodes() []node.Info {
	f.mu.Lock()
	defer f.mu.Unlock()
	infos := make([]node.Info, 0, len(f.states))
	for id, s := range f.states {
		infos = append(infos, node.Info{ID: id, State: s})
	}
	sort.Slice(infos, func(i, j int) bool { return infos[i].ID < infos[j].ID })
	return infos
}

func (f *fakeTarget) Crash(id int) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, "crash")
	if f.states[id].Dead() {
		return node.ErrCommunicationFailure
	}
	f.states[id] = node.StateCrashed
	return nil
}

func (f *fakeTarget) Restore(id int) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, "restore")
	f.states[id] = node.StateInitialized
	return nil
}

func (f *fakeTarget) Disconnect(id int) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, "disconnect")
	f.states[id] = node.StateDisconnected
	return nil
}

func (f *fakeTarget) Snapshot(id int) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, "snapshot")
	return nil
}

func (f *fakeTarget) state(id int) node.State {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.states[id]
}

func seeded(seed int64) *int64 { return &seed }

func TestPickDistinctMinimumCardinality(t *testing.T) {
	for seed := int64(0); seed < 500; seed++ {
		r, _ := NewRand(seeded(seed))
		got, err := PickDistinct(r, []int{0, 1}, 2)
		require.NoError(t, err)
		sort.Ints(got)
		assert.Equal(t, []int{0, 1}, got, "seed %d", seed)
	}
}

func TestPickDistinctRejectsImpossible(t *testing.T) {
	r, _ := NewRand(seeded(1))

	_, err := PickDistinct(r, []int{0, 1}, 3)
	assert.True(t, errors.Is(err, ErrNotEnoughCandidates))

	_, err = PickDistinct(r, []int{4, 4, 4}, 2)
	assert.True(t, errors.Is(err, ErrNotEnoughCandidates), "duplicates do not count twice")

	got, err := PickDistinct(r, []int{3, 5}, 0)
	require.NoError(t, err)
	assert.Empty(t, got)
}

func TestPickersAreReproducible(t *testing.T) {
	ids := []int{0, 1, 2, 3, 4, 5, 6, 7}
	draw := func() []int {
		r, _ := NewRand(seeded(42))
		one, err := PickOne(r, ids)
		require.NoError(t, err)
		other, err := PickOneExcluding(r, ids, 0)
		require.NoError(t, err)
		many, err := PickDistinct(r, ids, 4)
		require.NoError(t, err)
		return append([]int{one, other}, many...)
	}
	assert.Equal(t, draw(), draw())
}

func TestPickOneExcluding(t *testing.T) {
	r, _ := NewRand(seeded(7))
	for i := 0; i < 200; i++ {
		got, err := PickOneExcluding(r, []int{0, 1, 2}, 0)
		require.NoError(t, err)
		assert.NotEqual(t, 0, got)
	}

	_, err := PickOneExcluding(r, []int{0}, 0)
	assert.True(t, errors.Is(err, ErrNotEnoughCandidates))

	_, err = PickOne(r, nil)
	assert.True(t, errors.Is(err, ErrNotEnoughCandidates))
}

func TestNewRandReportsSeed(t *testing.T) {
	_, s := NewRand(seeded(99))
	assert.Equal(t, int64(99), s)

	_, s = NewRand(nil)
	assert.NotZero(t, s)
}

func TestAttackTypeString(t *testing.T) {
	for _, a := range []AttackType{AttackCrash, AttackDisconnect, AttackSnapshot} {
		parsed, ok := ParseAttackType(a.String())
		require.True(t, ok)
		assert.Equal(t, a, parsed)
	}
	assert.Equal(t, "unknown", AttackType(9).String())
	_, ok := ParseAttackType("suspend")
	assert.False(t, ok)
}

func TestMonkeyCrashesAndRestores(t *testing.T) {
	ft := newFakeTarget(3)
	r, _ := NewRand(seeded(3))
	m := New(ft, Config{
		Interval:     10 * time.Millisecond,
		TargetCount:  1,
		AttackTypes:  []AttackType{AttackCrash},
		RestoreAfter: 20 * time.Millisecond,
		SpareSeed:    true,
	}, r)

	var (
		mu      sync.Mutex
		actions []string
	)
	m.SetReporter(func(action string, id int, before node.State, err error) {
		mu.Lock()
		defer mu.Unlock()
		assert.NotEqual(t, 0, id, "seed is spared")
		actions = append(actions, action)
	})

	m.Start(context.Background())
	assert.True(t, m.IsRunning())
	require.Eventually(t, func() bool {
		return m.Stats().Restores > 0
	}, 5*time.Second, 5*time.Millisecond)
	m.Stop()
	assert.False(t, m.IsRunning())

	assert.Empty(t, m.PendingRestores())
	for id := 0; id < 3; id++ {
		assert.False(t, ft.state(id).Dead(), "node %d left dead after Stop", id)
	}
	assert.Equal(t, node.StateInitialized, ft.state(0))

	stats := m.Stats()
	assert.GreaterOrEqual(t, stats.TotalAttacks, uint64(1))
	assert.GreaterOrEqual(t, stats.ByType["crash"], uint64(1))

	mu.Lock()
	defer mu.Unlock()
	assert.Contains(t, actions, "crash")
	assert.Contains(t, actions, "restore")
}

func TestMonkeyStopAfterCancelSkipsRestore(t *testing.T) {
	ft := newFakeTarget(3)
	r, _ := NewRand(seeded(5))
	m := New(ft, Config{
		Interval:     10 * time.Millisecond,
		TargetCount:  1,
		AttackTypes:  []AttackType{AttackCrash},
		RestoreAfter: time.Hour,
		SpareSeed:    true,
	}, r)

	ctx, cancel := context.WithCancel(context.Background())
	m.Start(ctx)
	require.Eventually(t, func() bool {
		return len(m.PendingRestores()) > 0
	}, 5*time.Second, 5*time.Millisecond)
	cancel()
	m.Stop()

	assert.Equal(t, uint64(0), m.Stats().Restores)
	assert.NotEmpty(t, m.PendingRestores())
	ft.mu.Lock()
	defer ft.mu.Unlock()
	assert.NotContains(t, ft.calls, "restore")
}

func TestMonkeyStopIsIdempotent(t *testing.T) {
	m := New(newFakeTarget(2), DefaultConfig(), nil)
	m.Stop()
	m.Start(context.Background())
	m.Start(context.Background())
	m.Stop()
	m.Stop()
	assert.Equal(t, uint64(0), m.AttackCount())
}

func TestSelectTargetsSkipsDeadNodes(t *testing.T) {
	ft := newFakeTarget(4)
	ft.states[1] = node.StateCrashed
	ft.states[2] = node.StateExited
	r, _ := NewRand(seeded(5))
	m := New(ft, Config{TargetCount: 3, SpareSeed: true}, r)

	assert.Equal(t, []int{3}, m.selectTargets())

	m.config.SpareSeed = false
	got := m.selectTargets()
	sort.Ints(got)
	assert.Equal(t, []int{0, 3}, got)
}
