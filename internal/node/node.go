package node

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"
	"sync"
	"time"

	"snapfleet/internal/logger"
	"snapfleet/internal/output"
	"snapfleet/internal/protocol"
)

var (
	// ErrSpawnFailure は子プロセスを起動できなかったことを示す
	ErrSpawnFailure = errors.New("spawn failure")
	// ErrCommunicationFailure はプロセスへの書き込みが失敗したことを示す
	ErrCommunicationFailure = errors.New("communication failure")
	// ErrInvalidTransition は現在の状態では操作できないことを示す
	ErrInvalidTransition = errors.New("invalid transition")
)

// ExitFunc はハーネスが稼働中とみなしていたプロセスが終了したときに
// 待機ゴルーチンから呼ばれる
type ExitFunc func(info Info, err error)

// Info はある時点のハンドルのコピー
type Info struct {
	ID          int       `json:"id"`
	Port        int       `json:"port"`
	State       State     `json:"state"`
	Generation  int       `json:"generation"`
	Restored    bool      `json:"restored"`
	PID         int       `json:"pid,omitempty"`
	StartedAt   time.Time `json:"started_at"`
	ExitedAt    time.Time `json:"exited_at"`
	ExitError   string    `json:"exit_error,omitempty"`
	LastCommand string    `json:"last_command,omitempty"`
}

type instance struct {
	gen   int
	cmd   *exec.Cmd
	stdin *os.File
	done  chan struct{}
}

// Handle は1つのノードIDを表す現在のプロセスを追跡する。ハンドルは
// プロセスより長く生き、Restoreはインスタンスだけを差し替えてIDとポートを保つ
type Handle struct {
	id           int
	port         int
	writeTimeout time.Duration

	mu          sync.RWMutex
	state       State
	generation  int
	inst        *instance
	startedAt   time.Time
	exitedAt    time.Time
	exitErr     error
	lastCommand string
}

// New は未起動のハンドルを作成する
func New(id, port int, writeTimeout time.Duration) *Handle {
	return &Handle{
		id:           id,
		port:         port,
		writeTimeout: writeTimeout,
		state:        StateUnborn,
	}
}

// ID はノードIDを返す
func (h *Handle) ID() int {
	return h.id
}

// Port はノードのポートを返す
func (h *Handle) Port() int {
	return h.port
}

// State は現在の状態を返す
func (h *Handle) State() State {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.state
}

// Generation は起動回数を返す
func (h *Handle) Generation() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.generation
}

// Info はハンドルのスナップショットを返す
func (h *Handle) Info() Info {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.infoLocked()
}

func (h *Handle) infoLocked() Info {
	info := Info{
		ID:          h.id,
		Port:        h.port,
		State:       h.state,
		Generation:  h.generation,
		Restored:    h.generation > 1,
		StartedAt:   h.startedAt,
		ExitedAt:    h.exitedAt,
		LastCommand: h.lastCommand,
	}
	if h.inst != nil && h.inst.cmd.Process != nil {
		info.PID = h.inst.cmd.Process.Pid
	}
	if h.exitErr != nil {
		info.ExitError = h.exitErr.Error()
	}
	return info
}

func (h *Handle) transitionErrLocked(to State) error {
	return fmt.Errorf("%w: node %d %s -> %s", ErrInvalidTransition, h.id, h.state, to)
}

// Spawn は新しいインスタンスを起動する。標準出力と標準エラーはソースidとして
// aggに送られ、標準入力はインスタンスが終わるまでSend用に開いたまま
func (h *Handle) Spawn(ctx context.Context, l Launcher, agg *output.Aggregator, onExit ExitFunc) error {
	h.mu.Lock()
	defer h.mu.Unlock()

	if !CanTransition(h.state, StateSpawned) {
		return h.transitionErrLocked(StateSpawned)
	}
	err := h.startLocked(ctx, l, agg, onExit)
	if err != nil && h.state == StateRestoring {
		h.state = StateExited
		h.exitedAt = time.Now()
		h.exitErr = err
	}
	return err
}

func (h *Handle) startLocked(ctx context.Context, l Launcher, agg *output.Aggregator, onExit ExitFunc) error {
	cmd, err := l.BuildCommand(ctx, h.id)
	if err != nil {
		return fmt.Errorf("%w: node %d: %w", ErrSpawnFailure, h.id, err)
	}

	stdinR, stdinW, err := os.Pipe()
	if err != nil {
		return fmt.Errorf("%w: node %d: stdin pipe: %w", ErrSpawnFailure, h.id, err)
	}
	outR, outW, err := os.Pipe()
	if err != nil {
		_ = stdinR.Close()
		_ = stdinW.Close()
		return fmt.Errorf("%w: node %d: output pipe: %w", ErrSpawnFailure, h.id, err)
	}
	cmd.Stdin = stdinR
	cmd.Stdout = outW
	cmd.Stderr = outW

	if err := cmd.Start(); err != nil {
		for _, f := range []*os.File{stdinR, stdinW, outR, outW} {
			_ = f.Close()
		}
		return fmt.Errorf("%w: node %d: %w", ErrSpawnFailure, h.id, err)
	}
	// 子プロセス側の端は親では不要
	_ = stdinR.Close()
	_ = outW.Close()

	gen := h.generation + 1
	if agg != nil {
		if err := agg.Attach(h.id, gen, outR); err != nil {
			_ = stdinW.Close()
			_ = killProcess(cmd)
			_ = cmd.Wait()
			return fmt.Errorf("%w: node %d: %w", ErrSpawnFailure, h.id, err)
		}
	} else {
		go func() {
			_, _ = io.Copy(io.Discard, outR)
			_ = outR.Close()
		}()
	}

	inst := &instance{gen: gen, cmd: cmd, stdin: stdinW, done: make(chan struct{})}
	h.inst = inst
	h.generation = gen
	h.state = StateSpawned
	h.startedAt = time.Now()
	h.exitedAt = time.Time{}
	h.exitErr = nil
	h.lastCommand = ""

	logger.Info(logger.Node(h.id), "Spawned pid=%d generation=%d", cmd.Process.Pid, gen)
	go h.wait(inst, onExit)
	return nil
}

func (h *Handle) wait(inst *instance, onExit ExitFunc) {
	err := inst.cmd.Wait()
	_ = inst.stdin.Close()

	h.mu.Lock()
	unexpected := false
	if h.inst == inst {
		h.exitedAt = time.Now()
		h.exitErr = err
		if h.state.Live() {
			h.state = StateExited
			unexpected = true
		}
	}
	info := h.infoLocked()
	h.mu.Unlock()

	if unexpected && onExit != nil {
		onExit(info, err)
	}
	close(inst.done)
}

// Send は稼働中のインスタンスにプロトコル行を1行書く。期限切れを含め、
// 失敗はすべて通信失敗として返す
func (h *Handle) Send(cmd protocol.Command) error {
	h.mu.RLock()
	inst, state := h.inst, h.state
	h.mu.RUnlock()

	if inst == nil || !state.Live() {
		return fmt.Errorf("%w: node %d is %s", ErrCommunicationFailure, h.id, state)
	}
	if h.writeTimeout > 0 {
		_ = inst.stdin.SetWriteDeadline(time.Now().Add(h.writeTimeout))
	}
	if _, err := io.WriteString(inst.stdin, cmd.Line()); err != nil {
		return fmt.Errorf("%w: node %d: write %s: %w", ErrCommunicationFailure, h.id, cmd.Kind, err)
	}

	h.mu.Lock()
	if h.inst == inst {
		h.lastCommand = cmd.String()
	}
	h.mu.Unlock()
	return nil
}

// Transition はプロセスに触れずに正当な遷移だけを行う
func (h *Handle) Transition(to State) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	if !CanTransition(h.state, to) {
		return h.transitionErrLocked(to)
	}
	h.state = to
	return nil
}

// Kill は稼働中のインスタンスにSIGKILLを送り、to（CrashedかStopped）を
// 新しい状態として記録する。グループリーダーならプロセスグループ全体を
// killする。停止済みのインスタンスへのKillは通信失敗
func (h *Handle) Kill(to State) error {
	if to != StateCrashed && to != StateStopped {
		return fmt.Errorf("%w: node %d cannot be killed into %s", ErrInvalidTransition, h.id, to)
	}

	h.mu.Lock()
	if h.inst == nil || !h.state.Live() {
		state := h.state
		h.mu.Unlock()
		return fmt.Errorf("%w: node %d is already %s", ErrCommunicationFailure, h.id, state)
	}
	inst := h.inst
	h.state = to
	h.mu.Unlock()

	_ = inst.stdin.Close()
	if err := killProcess(inst.cmd); err != nil && !errors.Is(err, os.ErrProcessDone) {
		return fmt.Errorf("kill node %d: %w", h.id, err)
	}
	return nil
}

// Wait は現在のインスタンスが回収されるまで待つ
func (h *Handle) Wait(ctx context.Context) error {
	h.mu.RLock()
	inst := h.inst
	h.mu.RUnlock()
	if inst == nil {
		return nil
	}
	select {
	case <-inst.done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
