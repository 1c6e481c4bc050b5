package output

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"sync"

	"snapfleet/internal/logger"
	"snapfleet/internal/metrics"
)

// HarnessSource はノードではなくハーネス自身が出した行のソース
const HarnessSource = -1

// ErrClosed はClose後のAttachが返す
var ErrClosed = errors.New("output: aggregator closed")

// LogLine は取り込んだ1行。Seqは取り込み時に振られ、全ソースを通して
// 単調増加する。異なるノード間の実時間の順序は表さない
type LogLine struct {
	Seq        uint64 `json:"seq"`
	Source     int    `json:"source"`
	Generation int    `json:"generation"`
	Text       string `json:"text"`
}

// Tag は集約ファイルに出力するソース表記を返す
func (l LogLine) Tag() string {
	if l.Source == HarnessSource {
		return "[harness]"
	}
	return fmt.Sprintf("[node %d]", l.Source)
}

func (l LogLine) String() string {
	return l.Tag() + " " + l.Text
}

// LineSink は取り込んだ全行をSeq順に受け取る
type LineSink interface {
	WriteLine(line LogLine) error
}

// Option はAggregatorの設定を変更する
type Option func(*Aggregator)

// WithOutfile は全行をソース付きでwにも書き出す
func WithOutfile(w io.Writer) Option {
	return func(a *Aggregator) { a.out = w }
}

// WithSink はLineSinkを追加する
func WithSink(s LineSink) Option {
	return func(a *Aggregator) { a.sinks = append(a.sinks, s) }
}

// WithMetrics はソースごとの行数を記録する
func WithMetrics(m *metrics.Metrics) Option {
	return func(a *Aggregator) { a.metrics = m }
}

// Aggregator は複数ソースの出力を1つの追記専用の記録にまとめる。
// ソースごとに取り込み用のゴルーチンを持つ。出力ファイルとシンクへの
// 書き込みは1つの配送ゴルーチンがSeq順に行い、取り込みを止めない
type Aggregator struct {
	mu      sync.Mutex
	lines   []LogLine
	seq     uint64
	notify  chan struct{}
	active  int
	closed  bool
	drained bool
	pending []LogLine

	out     io.Writer
	sinks   []LineSink
	metrics *metrics.Metrics

	// deliverMu は配送の取り出しと書き込みをまとめて直列化する
	deliverMu sync.Mutex
	sinkErr   bool
	wake      chan struct{}
	stop      chan struct{}
	delivered chan struct{}
	stopOnce  sync.Once

	wg sync.WaitGroup
}

// New は空のAggregatorを作成する
func New(opts ...Option) *Aggregator {
	a := &Aggregator{notify: make(chan struct{})}
	for _, opt := range opts {
		opt(a)
	}
	if a.delivers() {
		a.wake = make(chan struct{}, 1)
		a.stop = make(chan struct{})
		a.delivered = make(chan struct{})
		go a.deliverLoop()
	}
	return a
}

func (a *Aggregator) delivers() bool {
	return a.out != nil || len(a.sinks) > 0
}

// Attach はrをsourceとして取り込み始める。以降rはAggregatorが所有し、
// ストリームの終端で閉じる
func (a *Aggregator) Attach(source, generation int, r io.ReadCloser) error {
	a.mu.Lock()
	if a.closed {
		a.mu.Unlock()
		_ = r.Close()
		return ErrClosed
	}
	a.active++
	a.wg.Add(1)
	a.mu.Unlock()

	go a.capture(source, generation, r)
	return nil
}

func (a *Aggregator) capture(source, generation int, r io.ReadCloser) {
	defer a.wg.Done()
	defer func() {
		_ = r.Close()
		a.mu.Lock()
		a.active--
		a.broadcastLocked()
		a.mu.Unlock()
	}()

	br := bufio.NewReader(r)
	for {
		text, err := br.ReadString('\n')
		if text != "" {
			a.append(source, generation, strings.TrimRight(text, "\r\n"))
		}
		if err != nil {
			if !errors.Is(err, io.EOF) && !errors.Is(err, io.ErrClosedPipe) {
				logger.Debug(logger.Node(source), "output stream ended: %v", err)
			}
			return
		}
	}
}

// Emit はハーネスの行を記録する
func (a *Aggregator) Emit(format string, args ...any) {
	a.append(HarnessSource, 0, fmt.Sprintf(format, args...))
}

func (a *Aggregator) append(source, generation int, text string) {
	a.mu.Lock()
	a.seq++
	line := LogLine{Seq: a.seq, Source: source, Generation: generation, Text: text}
	a.lines = append(a.lines, line)
	deliver := a.delivers()
	if deliver {
		a.pending = append(a.pending, line)
	}
	drained := a.drained
	a.metrics.RecordLine(source)
	a.broadcastLocked()
	a.mu.Unlock()

	switch {
	case !deliver:
	case drained:
		// 配送ゴルーチンは終了済みなので呼び出し側で書く
		a.flush()
	default:
		select {
		case a.wake <- struct{}{}:
		default:
		}
	}
}

func (a *Aggregator) deliverLoop() {
	defer close(a.delivered)
	for {
		select {
		case <-a.wake:
			a.flush()
		case <-a.stop:
			a.flush()
			return
		}
	}
}

// flush は溜まった行を出力ファイルとシンクに書き出す
func (a *Aggregator) flush() {
	a.deliverMu.Lock()
	defer a.deliverMu.Unlock()

	a.mu.Lock()
	batch := a.pending
	a.pending = nil
	a.mu.Unlock()

	for _, line := range batch {
		if a.out != nil {
			if _, err := io.WriteString(a.out, line.String()+"\n"); err != nil {
				a.reportSinkErr(err)
			}
		}
		for _, s := range a.sinks {
			if err := s.WriteLine(line); err != nil {
				a.reportSinkErr(err)
			}
		}
	}
}

// reportSinkErr は最初の失敗だけをログに出す。deliverMuを保持して呼ぶ
func (a *Aggregator) reportSinkErr(err error) {
	if a.sinkErr {
		return
	}
	a.sinkErr = true
	logger.Warn("", "output sink failed, further sink errors suppressed: %v", err)
}

func (a *Aggregator) broadcastLocked() {
	close(a.notify)
	a.notify = make(chan struct{})
}

// Len は取り込んだ行数を返す
func (a *Aggregator) Len() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return len(a.lines)
}

// Active は取り込み中のソース数を返す
func (a *Aggregator) Active() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.active
}

// Lines はこれまでに取り込んだ全行のコピーを返す
func (a *Aggregator) Lines() []LogLine {
	a.mu.Lock()
	defer a.mu.Unlock()
	out := make([]LogLine, len(a.lines))
	copy(out, a.lines)
	return out
}

// Since はSeqがafterより大きい行を最大limit件返す。
// limitが0以下なら上限なし
func (a *Aggregator) Since(after uint64, limit int) []LogLine {
	a.mu.Lock()
	defer a.mu.Unlock()

	if after >= uint64(len(a.lines)) {
		return nil
	}
	rest := a.lines[after:]
	if limit > 0 && len(rest) > limit {
		rest = rest[:limit]
	}
	out := make([]LogLine, len(rest))
	copy(out, rest)
	return out
}

// Close は新しいソースの受け付けを止め、取り込み中のソースが終端に
// 達するのを待つ。ソースはプロセスの終了で終わる。戻った時点で
// 出力ファイルとシンクへの書き込みも終わっている
func (a *Aggregator) Close() {
	a.mu.Lock()
	a.closed = true
	a.mu.Unlock()

	a.wg.Wait()

	if a.delivers() {
		a.stopOnce.Do(func() {
			a.mu.Lock()
			a.drained = true
			a.mu.Unlock()
			close(a.stop)
		})
		<-a.delivered
	}

	a.mu.Lock()
	a.broadcastLocked()
	a.mu.Unlock()
}

// NewReader は先頭行の手前に位置するカーソルを返す
func (a *Aggregator) NewReader() *Reader {
	return &Reader{agg: a}
}

// NewReaderAt は指定したSeqの行の次から再開するカーソルを返す
func (a *Aggregator) NewReaderAt(seq uint64) *Reader {
	return &Reader{agg: a, next: seq}
}

// Reader はAggregatorを読み進めるカーソル。Positionを保存しておけば
// NewReaderAtで再開できる。並行利用には対応しない
type Reader struct {
	agg  *Aggregator
	next uint64
}

// Next は全ソースを通して次の行を返す。新しい行がなければfalseを返す
// （エラーではない）
func (r *Reader) Next() (LogLine, bool) {
	r.agg.mu.Lock()
	defer r.agg.mu.Unlock()

	if r.next >= uint64(len(r.agg.lines)) {
		return LogLine{}, false
	}
	line := r.agg.lines[r.next]
	r.next++
	return line, true
}

// Position は最後に返した行のSeqを返す
func (r *Reader) Position() uint64 {
	return r.next
}

// Wait は新しい行が来るかソースが終わるかctxが終わるまで待つ。
// Close済みで全ソースが終わり、すべて読み終えていればio.EOFを返す
func (r *Reader) Wait(ctx context.Context) error {
	r.agg.mu.Lock()
	if r.next < uint64(len(r.agg.lines)) {
		r.agg.mu.Unlock()
		return nil
	}
	if r.agg.closed && r.agg.active == 0 {
		r.agg.mu.Unlock()
		return io.EOF
	}
	ch := r.agg.notify
	r.agg.mu.Unlock()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-ch:
		return nil
	}
}

// Follow はClose後に読み尽くすかctxが終わるまで、各行をfnに渡す
func (r *Reader) Follow(ctx context.Context, fn func(LogLine)) error {
	for {
		for {
			line, ok := r.Next()
			if !ok {
				break
			}
			fn(line)
		}
		if err := r.Wait(ctx); err != nil {
			if errors.Is(err, io.EOF) {
				return nil
			}
			return err
		}
	}
}
