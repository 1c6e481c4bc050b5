package worker

import (
	"context"
	"errors"
	"runtime"
	"sync"
	"sync/atomic"

	"snapfleet/internal/logger"
)

// ErrPoolStopped is returned by Submit after Stop or cancellation.
var ErrPoolStopped = errors.New("worker pool stopped")

// Job はワーカーが実行するジョブを表す。返したエラーはStopでまとめて返される
type Job func() error

// PoolConfig はワーカープールの設定
type PoolConfig struct {
	NumWorkers  int // ワーカー数（0でCPU数）
	QueueFactor int // キューサイズ = NumWorkers * QueueFactor
}

// DefaultPoolConfig はデフォルト設定を返す
func DefaultPoolConfig() PoolConfig {
	return PoolConfig{
		NumWorkers:  0,
		QueueFactor: 4,
	}
}

// Pool は固定数のゴルーチンでジョブを並行実行する
type Pool struct {
	numWorkers int
	jobs       chan Job
	wg         sync.WaitGroup
	ctx        context.Context
	cancel     context.CancelFunc
	started    bool
	stopped    bool
	mu         sync.Mutex

	errMu     sync.Mutex
	errs      []error
	completed atomic.Uint64
	failed    atomic.Uint64
}

// NewPool は新しいワーカープールを作成する
// numWorkers が 0 の場合は CPU 数を使用
func NewPool(numWorkers int) *Pool {
	config := DefaultPoolConfig()
	config.NumWorkers = numWorkers
	return NewPoolWithConfig(config)
}

// NewPoolWithConfig は設定を指定してワーカープールを作成する
func NewPoolWithConfig(config PoolConfig) *Pool {
	numWorkers := config.NumWorkers
	if numWorkers <= 0 {
		numWorkers = runtime.NumCPU()
	}
	queueFactor := config.QueueFactor
	if queueFactor <= 0 {
		queueFactor = 4
	}
	return &Pool{
		numWorkers: numWorkers,
		jobs:       make(chan Job, numWorkers*queueFactor),
	}
}

// Start はワーカープールを起動する。ctxがキャンセルされると未着手のジョブは捨てられる
func (p *Pool) Start(ctx context.Context) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.started || p.stopped {
		return
	}

	p.ctx, p.cancel = context.WithCancel(ctx)
	p.started = true

	for range p.numWorkers {
		p.wg.Add(1)
		go p.worker()
	}

	logger.Debug("", "WorkerPool started with %d workers", p.numWorkers)
}

func (p *Pool) worker() {
	defer p.wg.Done()

	for {
		select {
		case <-p.ctx.Done():
			return
		case job, ok := <-p.jobs:
			if !ok {
				return
			}
			p.run(job)
		}
	}
}

func (p *Pool) run(job Job) {
	defer func() {
		if r := recover(); r != nil {
			logger.Error("", "Worker job panicked: %v", r)
			p.fail(errors.New("worker job panicked"))
		}
	}()
	if err := job(); err != nil {
		p.fail(err)
		return
	}
	p.completed.Add(1)
}

func (p *Pool) fail(err error) {
	p.failed.Add(1)
	p.errMu.Lock()
	p.errs = append(p.errs, err)
	p.errMu.Unlock()
}

// Submit はジョブをキューに入れる。キューが満杯なら空くまで待つ
func (p *Pool) Submit(job Job) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if !p.started || p.stopped {
		return ErrPoolStopped
	}

	// 先にコンテキストをチェック
	if p.ctx.Err() != nil {
		return ErrPoolStopped
	}
	select {
	case <-p.ctx.Done():
		return ErrPoolStopped
	case p.jobs <- job:
		return nil
	}
}

// Stop はキューを閉じ、投入済みのジョブがすべて終わるのを待つ。
// ジョブが返したエラーをまとめて返す
func (p *Pool) Stop() error {
	p.mu.Lock()
	if !p.started || p.stopped {
		p.mu.Unlock()
		return nil
	}
	p.stopped = true
	close(p.jobs)
	p.mu.Unlock()

	p.wg.Wait()
	p.cancel()

	logger.Debug("", "WorkerPool stopped (%d completed, %d failed)", p.completed.Load(), p.failed.Load())

	p.errMu.Lock()
	defer p.errMu.Unlock()
	return errors.Join(p.errs...)
}

// NumWorkers はワーカー数を返す
func (p *Pool) NumWorkers() int {
	return p.numWorkers
}

// QueueSize は現在のキューサイズを返す
func (p *Pool) QueueSize() int {
	return len(p.jobs)
}

// Completed はエラーなく終わったジョブ数を返す
func (p *Pool) Completed() uint64 {
	return p.completed.Load()
}

// Failed はエラーかpanicで終わったジョブ数を返す
func (p *Pool) Failed() uint64 {
	return p.failed.Load()
}
