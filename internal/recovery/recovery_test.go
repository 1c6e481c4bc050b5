package recovery

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"snapfleet/internal/events"
	"snapfleet/internal/node"
)

type fakeFleet struct {
	mu       sync.Mutex
	infos    []node.Info
	restores int
	fail     error
}

func (f *fakeFleet) Nodes() []node.Info {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]node.Info, len(f.infos))
	copy(out, f.infos)
	return out
}

func (f *fakeFleet) Restore(id int) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.restores++
	if f.fail != nil {
		return f.fail
	}
	f.infos[id].State = node.StateInitialized
	f.infos[id].Generation++
	return nil
}

func (f *fakeFleet) set(id int, s node.State) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.infos[id].State = s
}

func newFakeFleet(n int) *fakeFleet {
	f := &fakeFleet{}
	for i := 0; i < n; i++ {
		f.infos = append(f.infos, node.Info{ID: i, State: node.StateJoined, Generation: 1})
	}
	return f
}

func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig()
	assert.Equal(t, time.Second, cfg.CheckInterval)
	assert.False(t, cfg.AutoRestore)
}

func TestDetectOnlyDoesNotRestore(t *testing.T) {
	f := newFakeFleet(3)
	w := New(f, DefaultConfig())
	now := time.Now()

	f.set(1, node.StateExited)
	f.set(2, node.StateCrashed)
	w.Check(now)
	w.Check(now.Add(time.Minute))

	stats := w.Stats()
	assert.Equal(t, uint64(1), stats.DetectedExits)
	assert.Equal(t, 1, stats.CurrentlyExited)
	assert.Equal(t, 0, f.restores)

	tracked := w.Tracked()
	require.Contains(t, tracked, 1)
	assert.NotContains(t, tracked, 2, "crashed nodes were killed on purpose")
}

func TestAutoRestoreAfterDelay(t *testing.T) {
	f := newFakeFleet(2)
	bus := events.NewBus()
	defer bus.Close()
	sub := bus.Subscribe()

	w := New(f, Config{CheckInterval: time.Second, RecoveryDelay: 2 * time.Second, MaxRetries: 3, AutoRestore: true})
	w.SetEventBus(bus)
	now := time.Now()

	f.set(1, node.StateExited)
	w.Check(now)
	w.Check(now.Add(time.Second))
	assert.Equal(t, 0, f.restores, "still inside the recovery delay")

	w.Check(now.Add(3 * time.Second))
	assert.Equal(t, 1, f.restores)

	w.Check(now.Add(4 * time.Second))
	stats := w.Stats()
	assert.Equal(t, uint64(1), stats.TotalRecoveries)
	assert.Equal(t, uint64(1), stats.SuccessRecoveries)
	assert.Equal(t, 0, stats.CurrentlyExited)
	assert.Empty(t, w.Tracked())

	e := <-sub
	assert.Equal(t, events.EventRecoveryStarted, e.Type)
	assert.Equal(t, 1, e.NodeID)
	assert.Equal(t, 1, e.Data.Attempt)
}

func TestGivesUpAfterMaxRetries(t *testing.T) {
	f := newFakeFleet(1)
	f.fail = errors.New("spawn failure")
	w := New(f, Config{RecoveryDelay: time.Second, MaxRetries: 2, AutoRestore: true})
	now := time.Now()

	f.set(0, node.StateExited)
	w.Check(now)
	for i := 1; i <= 5; i++ {
		w.Check(now.Add(time.Duration(i) * 2 * time.Second))
	}

	assert.Equal(t, 2, f.restores)
	stats := w.Stats()
	assert.Equal(t, uint64(2), stats.FailedRecoveries)
	assert.True(t, w.Tracked()[0].GaveUp)
}

func TestRetryCountSurvivesRepeatedExit(t *testing.T) {
	f := newFakeFleet(1)
	w := New(f, Config{RecoveryDelay: time.Second, MaxRetries: 5, AutoRestore: true})
	now := time.Now()

	f.set(0, node.StateExited)
	w.Check(now)
	w.Check(now.Add(2 * time.Second))
	require.Equal(t, 1, f.restores)

	// 復旧直後に再び終了（生存状態を観測しないまま）
	f.set(0, node.StateExited)
	w.Check(now.Add(3 * time.Second))

	tracked := w.Tracked()[0]
	assert.Equal(t, 1, tracked.RetryCount)
	assert.Equal(t, 2, tracked.Generation)
	assert.Equal(t, uint64(2), w.Stats().DetectedExits)
}

func TestStartStop(t *testing.T) {
	f := newFakeFleet(2)
	w := New(f, Config{CheckInterval: 5 * time.Millisecond, AutoRestore: true})

	w.Start(context.Background())
	w.Start(context.Background())
	assert.True(t, w.IsRunning())

	f.set(1, node.StateExited)
	require.Eventually(t, func() bool {
		return w.Stats().SuccessRecoveries == 1
	}, 5*time.Second, 5*time.Millisecond)

	w.Stop()
	w.Stop()
	assert.False(t, w.IsRunning())

	w.ResetStats()
	assert.Equal(t, Stats{}, w.Stats())
}
