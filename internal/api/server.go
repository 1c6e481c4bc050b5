package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"golang.org/x/net/websocket"

	"snapfleet/internal/chaos"
	"snapfleet/internal/config"
	"snapfleet/internal/events"
	"snapfleet/internal/journal"
	"snapfleet/internal/logger"
	"snapfleet/internal/metrics"
	"snapfleet/internal/node"
	"snapfleet/internal/output"
	"snapfleet/internal/recovery"
	"snapfleet/internal/scenario"
)

// Config はAPIサーバーの設定
type Config struct {
	Addr     string
	Cluster  config.Cluster   // プリセットに上書きする基本設定（コマンド、ストレージ等）
	Timing   config.Timing    // 開始リクエストで倍率を掛ける前の待機時間
	Watchdog *recovery.Config // nilなら終了監視なし
	Journal  *journal.Journal // nilなら記録しない
	Launcher node.Launcher    // nilならCluster.Commandを実行する
}

// Server はAPIサーバー
type Server struct {
	cfg    Config
	router *chi.Mux
	bus    *events.Bus

	mu         sync.RWMutex
	ctx        context.Context
	running    bool
	engine     *scenario.Engine
	agg        *output.Aggregator
	metrics    *metrics.Metrics
	lastResult *scenario.Result
	done       chan struct{}
	wsClients  map[*websocket.Conn]bool

	server *http.Server
}

// NewServer は新しいAPIサーバーを作成する
func NewServer(cfg Config) *Server {
	s := &Server{
		cfg:       cfg,
		bus:       events.NewBus(),
		ctx:       context.Background(),
		wsClients: make(map[*websocket.Conn]bool),
	}
	s.router = s.routes()
	return s
}

func (s *Server) routes() *chi.Mux {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(requestLogger)
	r.Use(middleware.Recoverer)

	r.Route("/api", func(r chi.Router) {
		r.Use(middleware.Timeout(30 * time.Second))
		r.Get("/status", s.handleStatus)
		r.Get("/nodes", s.handleNodes)
		r.Get("/logs", s.handleLogs)
		r.Get("/metrics", s.handleMetrics)
		r.Get("/presets", s.handlePresets)
		r.Get("/result", s.handleResult)
		r.Post("/scenario/start", s.handleScenarioStart)
		r.Post("/scenario/stop", s.handleScenarioStop)
	})
	r.Handle("/ws", websocket.Handler(s.handleWebSocket))
	return r
}

func requestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		start := time.Now()
		next.ServeHTTP(ww, r)
		logger.Debug("", "%s %s -> %d (%v) [%s]", r.Method, r.URL.Path, ww.Status(),
			time.Since(start).Round(time.Microsecond), middleware.GetReqID(r.Context()))
	})
}

// Handler はルーターを返す
func (s *Server) Handler() http.Handler {
	return s.router
}

// EventBus はサーバーのイベントバスを返す
func (s *Server) EventBus() *events.Bus {
	return s.bus
}

// Start はサーバーを開始する。ctxが終了すると実行中のシナリオも停止する
func (s *Server) Start(ctx context.Context) error {
	s.mu.Lock()
	s.ctx = ctx
	s.server = &http.Server{
		Addr:              s.cfg.Addr,
		Handler:           s.router,
		ReadHeaderTimeout: 10 * time.Second,
	}
	srv := s.server
	s.mu.Unlock()

	go s.forwardEvents(ctx)
	go s.broadcastLoop(ctx)

	logger.Info("", "API Server starting on http://%s", s.cfg.Addr)

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
	}()

	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	s.Wait()
	return nil
}

// Wait は実行中のシナリオの終了を待つ
func (s *Server) Wait() {
	s.mu.RLock()
	done := s.done
	s.mu.RUnlock()
	if done != nil {
		<-done
	}
}

// StatusResponse はステータスレスポンス
type StatusResponse struct {
	Running      bool   `json:"running"`
	RunID        string `json:"run_id,omitempty"`
	ScenarioName string `json:"scenario_name,omitempty"`
	Step         int    `json:"step"`
	TotalSteps   int    `json:"total_steps"`
	NodeCount    int    `json:"node_count"`
	LiveNodes    int    `json:"live_nodes"`
	DeadNodes    int    `json:"dead_nodes"`
	Unexpected   int    `json:"unexpected"`
}

func (s *Server) status() StatusResponse {
	s.mu.RLock()
	defer s.mu.RUnlock()

	resp := StatusResponse{Running: s.running}
	if s.engine == nil {
		return resp
	}
	resp.RunID = s.engine.RunID()
	resp.ScenarioName = s.engine.Scenario().Name
	resp.Step, resp.TotalSteps = s.engine.Progress()
	for _, o := range s.engine.Outcomes() {
		if o.Kind == scenario.OutcomeUnexpectedFailure {
			resp.Unexpected++
		}
	}
	if f := s.engine.Fleet(); f != nil {
		for _, info := range f.Nodes() {
			resp.NodeCount++
			switch {
			case info.State.Live():
				resp.LiveNodes++
			case info.State.Dead():
				resp.DeadNodes++
			}
		}
	}
	return resp
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	s.writeJSON(w, http.StatusOK, s.status())
}

func (s *Server) handleNodes(w http.ResponseWriter, r *http.Request) {
	s.mu.RLock()
	engine := s.engine
	s.mu.RUnlock()

	nodes := []node.Info{}
	if engine != nil {
		if f := engine.Fleet(); f != nil {
			nodes = f.Nodes()
		}
	}
	s.writeJSON(w, http.StatusOK, nodes)
}

// LogsResponse はログ取得レスポンス
type LogsResponse struct {
	Lines []output.LogLine `json:"lines"`
	Next  uint64           `json:"next"`
}

func (s *Server) handleLogs(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	after, err := queryUint(q.Get("after"), 0)
	if err != nil {
		s.writeError(w, http.StatusBadRequest, "after: "+err.Error())
		return
	}
	limit, err := queryUint(q.Get("limit"), 500)
	if err != nil {
		s.writeError(w, http.StatusBadRequest, "limit: "+err.Error())
		return
	}
	var source *int
	if raw := q.Get("node"); raw != "" {
		id, err := strconv.Atoi(raw)
		if err != nil {
			s.writeError(w, http.StatusBadRequest, "node: "+err.Error())
			return
		}
		source = &id
	}

	s.mu.RLock()
	agg := s.agg
	s.mu.RUnlock()

	resp := LogsResponse{Lines: []output.LogLine{}, Next: after}
	if agg != nil {
		for _, l := range agg.Since(after, 0) {
			resp.Next = l.Seq
			if source != nil && l.Source != *source {
				continue
			}
			resp.Lines = append(resp.Lines, l)
			if limit > 0 && uint64(len(resp.Lines)) >= limit {
				break
			}
		}
	}
	s.writeJSON(w, http.StatusOK, resp)
}

func queryUint(raw string, def uint64) (uint64, error) {
	if raw == "" {
		return def, nil
	}
	return strconv.ParseUint(raw, 10, 64)
}

// MetricsResponse はメトリクスレスポンス
type MetricsResponse struct {
	Process  metrics.Snapshot `json:"process"`
	Chaos    *chaos.Stats     `json:"chaos,omitempty"`
	Watchdog *recovery.Stats  `json:"watchdog,omitempty"`
	Events   EventStats       `json:"events"`
}

// EventStats はイベントバスの統計
type EventStats struct {
	Subscribers int    `json:"subscribers"`
	Published   uint64 `json:"published"`
	Dropped     uint64 `json:"dropped"`
}

func (s *Server) handleMetrics(w http.ResponseWriter, r *http.Request) {
	s.mu.RLock()
	engine, m := s.engine, s.metrics
	s.mu.RUnlock()

	resp := MetricsResponse{
		Events: EventStats{
			Subscribers: s.bus.SubscriberCount(),
			Published:   s.bus.Published(),
			Dropped:     s.bus.Dropped(),
		},
	}
	if m != nil {
		resp.Process = m.Snapshot()
	}
	if engine != nil {
		resp.Chaos = engine.ChaosStats()
		resp.Watchdog = engine.WatchdogStats()
	}
	s.writeJSON(w, http.StatusOK, resp)
}

// PresetInfo はプリセット情報
type PresetInfo struct {
	Name        string `json:"name"`
	Description string `json:"description"`
	NodeCount   int    `json:"node_count"`
	Steps       int    `json:"steps"`
}

func (s *Server) handlePresets(w http.ResponseWriter, r *http.Request) {
	var presets []PresetInfo
	for _, name := range scenario.ListPresets() {
		p, _ := scenario.GetPreset(name)
		presets = append(presets, PresetInfo{
			Name:        p.Name,
			Description: p.Description,
			NodeCount:   p.Cluster.NodeCount,
			Steps:       len(p.Steps),
		})
	}
	s.writeJSON(w, http.StatusOK, presets)
}

func (s *Server) handleResult(w http.ResponseWriter, r *http.Request) {
	s.mu.RLock()
	result := s.lastResult
	s.mu.RUnlock()
	if result == nil {
		s.writeError(w, http.StatusNotFound, "no completed run")
		return
	}
	s.writeJSON(w, http.StatusOK, result)
}

// ScenarioRequest はシナリオ開始リクエスト
type ScenarioRequest struct {
	Preset      string  `json:"preset"`
	Nodes       int     `json:"nodes,omitempty"`
	Seed        *int64  `json:"seed,omitempty"`
	TimingScale float64 `json:"timing_scale,omitempty"`
}

// StartResponse はシナリオ開始レスポンス
type StartResponse struct {
	Status   string `json:"status"`
	RunID    string `json:"run_id"`
	Scenario string `json:"scenario"`
}

func (s *Server) buildScenario(req ScenarioRequest) (scenario.Scenario, error) {
	sc, ok := scenario.GetPreset(req.Preset)
	if !ok {
		return scenario.Scenario{}, &config.Error{Field: "preset", Reason: "unknown preset " + strconv.Quote(req.Preset)}
	}
	nodes := sc.Cluster.NodeCount
	sc.Cluster = s.cfg.Cluster
	sc.Cluster.NodeCount = nodes
	if req.Nodes > 0 {
		sc.Cluster.NodeCount = req.Nodes
	}
	if req.Seed != nil {
		seed := *req.Seed
		sc.Cluster.RandomSeed = &seed
	}
	sc.Timing = s.cfg.Timing
	if req.TimingScale < 0 {
		return scenario.Scenario{}, &config.Error{Field: "timing_scale", Reason: "must be non-negative"}
	}
	if req.TimingScale > 0 {
		sc.Timing = sc.Timing.Scale(req.TimingScale)
	}
	return sc, sc.Validate()
}

func (s *Server) handleScenarioStart(w http.ResponseWriter, r *http.Request) {
	var req ScenarioRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	sc, err := s.buildScenario(req)
	if err != nil {
		s.writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	s.mu.Lock()
	if s.running {
		s.mu.Unlock()
		s.writeError(w, http.StatusConflict, "scenario already running")
		return
	}

	runID := scenario.NewRunID()
	m := metrics.New()
	aggOpts := []output.Option{output.WithMetrics(m)}
	if s.cfg.Journal != nil {
		if err := s.cfg.Journal.BeginRun(r.Context(), runID, sc.Name, sc.Cluster.NodeCount, time.Now()); err != nil {
			s.mu.Unlock()
			s.writeError(w, http.StatusInternalServerError, err.Error())
			return
		}
		aggOpts = append(aggOpts, output.WithSink(s.cfg.Journal.Sink(runID)))
	}
	agg := output.New(aggOpts...)

	opts := []scenario.Option{
		scenario.WithRunID(runID),
		scenario.WithAggregator(agg),
		scenario.WithMetrics(m),
		scenario.WithEventBus(s.bus),
	}
	if s.cfg.Watchdog != nil {
		opts = append(opts, scenario.WithWatchdog(*s.cfg.Watchdog))
	}
	if s.cfg.Launcher != nil {
		opts = append(opts, scenario.WithLauncher(s.cfg.Launcher))
	}
	engine := scenario.New(sc, opts...)

	s.engine = engine
	s.agg = agg
	s.metrics = m
	s.running = true
	s.done = make(chan struct{})
	ctx, done := s.ctx, s.done
	s.mu.Unlock()

	go s.run(ctx, engine, agg, done)

	s.writeJSON(w, http.StatusAccepted, StartResponse{Status: "started", RunID: runID, Scenario: sc.Name})
}

func (s *Server) run(ctx context.Context, engine *scenario.Engine, agg *output.Aggregator, done chan struct{}) {
	defer close(done)

	result, err := engine.Run(ctx)
	agg.Close()
	if err != nil {
		logger.Error("", "Scenario failed: %v", err)
	}
	if result != nil {
		logger.Info("", "Scenario completed: %d succeeded, %d expected dead, %d unexpected",
			result.Succeeded, result.ExpectedDead, result.Unexpected)
		if s.cfg.Journal != nil {
			if jerr := s.cfg.Journal.FinishRun(context.WithoutCancel(ctx), result); jerr != nil {
				logger.Error("", "Journal: %v", jerr)
			}
		}
	}

	s.mu.Lock()
	s.running = false
	s.lastResult = result
	s.mu.Unlock()

	msg := map[string]any{"type": "scenario_complete", "result": result}
	if err != nil {
		msg["error"] = err.Error()
	}
	s.broadcast(msg)
}

func (s *Server) handleScenarioStop(w http.ResponseWriter, r *http.Request) {
	s.mu.RLock()
	running, engine := s.running, s.engine
	s.mu.RUnlock()
	if !running {
		s.writeError(w, http.StatusConflict, "no scenario running")
		return
	}
	engine.Stop()
	s.writeJSON(w, http.StatusAccepted, map[string]string{"status": "stop requested", "run_id": engine.RunID()})
}

// WebSocket handling
func (s *Server) handleWebSocket(ws *websocket.Conn) {
	s.mu.Lock()
	s.wsClients[ws] = true
	s.mu.Unlock()

	defer func() {
		s.mu.Lock()
		delete(s.wsClients, ws)
		s.mu.Unlock()
		_ = ws.Close()
	}()

	s.sendTo(ws, map[string]any{"type": "status", "status": s.status()})

	// 切断されるまで読み捨てる
	for {
		var msg string
		if err := websocket.Message.Receive(ws, &msg); err != nil {
			break
		}
	}
}

func (s *Server) sendTo(ws *websocket.Conn, data any) {
	jsonData, err := json.Marshal(data)
	if err != nil {
		return
	}
	_ = websocket.Message.Send(ws, string(jsonData))
}

func (s *Server) broadcast(data any) {
	s.mu.RLock()
	clients := make([]*websocket.Conn, 0, len(s.wsClients))
	for ws := range s.wsClients {
		clients = append(clients, ws)
	}
	s.mu.RUnlock()

	jsonData, err := json.Marshal(data)
	if err != nil {
		return
	}
	for _, ws := range clients {
		_ = websocket.Message.Send(ws, string(jsonData))
	}
}

// streamedEvents はWebSocketへ転送するイベント種別。command_sentは/api/logsで追える
var streamedEvents = []events.EventType{
	events.EventNodeSpawned,
	events.EventNodeCrashed,
	events.EventNodeRestored,
	events.EventNodeExited,
	events.EventNodeStopped,
	events.EventStepStarted,
	events.EventStepFinished,
	events.EventUnexpectedFailure,
	events.EventRecoveryStarted,
	events.EventRecoveryFailed,
}

func (s *Server) forwardEvents(ctx context.Context) {
	ch := s.bus.Subscribe(streamedEvents...)
	defer s.bus.Unsubscribe(ch)
	for {
		select {
		case <-ctx.Done():
			return
		case e, ok := <-ch:
			if !ok {
				return
			}
			s.broadcast(map[string]any{"type": "event", "event": e})
		}
	}
}

func (s *Server) broadcastLoop(ctx context.Context) {
	ticker := time.NewTicker(1 * time.Second)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.mu.RLock()
			running := s.running
			s.mu.RUnlock()
			if !running {
				continue
			}
			s.broadcast(map[string]any{"type": "status", "status": s.status()})
		}
	}
}

type errorResponse struct {
	Error string `json:"error"`
}

func (s *Server) writeError(w http.ResponseWriter, code int, msg string) {
	s.writeJSON(w, code, errorResponse{Error: msg})
}

func (s *Server) writeJSON(w http.ResponseWriter, code int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		logger.Error("", "Failed to encode JSON: %v", err)
	}
}
