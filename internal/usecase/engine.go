package usecase

import (
	"context"
	"errors"
	"fmt"
	"runtime/debug"
	"sync"
	"sync/atomic"
	"time"

	"AgentFlow/internal/domain/models"
	domrepo "AgentFlow/internal/domain/repository"
	domsvc "AgentFlow/internal/domain/service"
	"AgentFlow/internal/service/ledger"
	"AgentFlow/pkg/cache"
	"AgentFlow/pkg/logger"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

const defaultApprovalTimeout = 15 * time.Minute

// Timer is the handle of an armed approval timer.
type Timer interface {
	Stop() bool
}

// Invalidator is told when pipelines change so trigger snapshots are refreshed.
type Invalidator interface {
	Invalidate()
}

// EngineConfig tunes the execution engine.
type EngineConfig struct {
	MaxConcurrent           int
	LeaseTTL                time.Duration
	NodeTimeout             time.Duration
	PollInterval            time.Duration
	SweepInterval           time.Duration
	ApprovalChannels        []string
	DeactivateAfterFailures int
}

// Engine runs pipeline graphs and owns the execution state machine.
// Only the holder of an execution's lease mutates it.
type Engine struct {
	store     domrepo.ExecutionStore
	catalog   domrepo.CatalogStore
	agents    domsvc.AgentRegistry
	ledger    *ledger.Ledger
	locks     cache.Service
	events    domrepo.EventPublisher
	metrics   domrepo.Metrics
	logger    *logger.Logger
	cfg       EngineConfig
	notifiers map[string]domsvc.ApprovalNotifier
	registry  Invalidator
	now       func() time.Time
	afterFunc func(time.Duration, func()) Timer

	sem     chan struct{}
	wg      sync.WaitGroup
	baseCtx context.Context

	timersMu sync.Mutex
	timers   map[string]Timer
}

// EngineOption configures an Engine.
type EngineOption func(*Engine)

// WithEngineClock replaces the time source.
func WithEngineClock(now func() time.Time) EngineOption {
	return func(e *Engine) { e.now = now }
}

// WithAfterFunc replaces time.AfterFunc for approval timers.
func WithAfterFunc(f func(time.Duration, func()) Timer) EngineOption {
	return func(e *Engine) { e.afterFunc = f }
}

// WithNotifiers registers approval channels by name.
func WithNotifiers(ns ...domsvc.ApprovalNotifier) EngineOption {
	return func(e *Engine) {
		for _, n := range ns {
			e.notifiers[n.Channel()] = n
		}
	}
}

// WithInvalidator is called after the engine deactivates a pipeline.
func WithInvalidator(r Invalidator) EngineOption {
	return func(e *Engine) { e.registry = r }
}

func NewEngine(
	store domrepo.ExecutionStore,
	catalog domrepo.CatalogStore,
	agents domsvc.AgentRegistry,
	costs *ledger.Ledger,
	locks cache.Service,
	events domrepo.EventPublisher,
	metrics domrepo.Metrics,
	lgr *logger.Logger,
	cfg EngineConfig,
	opts ...EngineOption,
) *Engine {
	if cfg.MaxConcurrent <= 0 {
		cfg.MaxConcurrent = 1
	}
	if cfg.LeaseTTL <= 0 {
		cfg.LeaseTTL = 5 * time.Minute
	}
	if cfg.NodeTimeout <= 0 {
		cfg.NodeTimeout = 2 * time.Minute
	}
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = 30 * time.Second
	}
	if cfg.SweepInterval <= 0 {
		cfg.SweepInterval = cfg.LeaseTTL
	}
	e := &Engine{
		store:     store,
		catalog:   catalog,
		agents:    agents,
		ledger:    costs,
		locks:     locks,
		events:    events,
		metrics:   metrics,
		logger:    lgr,
		cfg:       cfg,
		notifiers: make(map[string]domsvc.ApprovalNotifier),
		now:       time.Now,
		afterFunc: func(d time.Duration, f func()) Timer { return time.AfterFunc(d, f) },
		sem:       make(chan struct{}, cfg.MaxConcurrent),
		baseCtx:   context.Background(),
		timers:    make(map[string]Timer),
	}
	for _, o := range opts {
		o(e)
	}
	return e
}

// Start sets the context continuations and timers run under and starts the
// sweep of abandoned executions.
func (e *Engine) Start(ctx context.Context) {
	e.baseCtx = ctx
	go func() {
		ticker := time.NewTicker(e.cfg.SweepInterval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				if _, err := e.Sweep(ctx); err != nil {
					e.logger.Warn("execution sweep failed", logger.Error(err))
				}
			}
		}
	}()
}

// Submit creates the execution for a request and runs it until it finishes or
// suspends. Redelivered requests resume the existing execution.
func (e *Engine) Submit(ctx context.Context, req *models.ExecutionRequest) (string, error) {
	p, err := e.catalog.GetPipeline(ctx, req.PipelineID)
	if err != nil {
		return "", fmt.Errorf("load pipeline %s: %w", req.PipelineID, err)
	}
	if !p.IsActive && req.TriggerMode != models.TriggerManual {
		e.logger.Info("pipeline inactive, request dropped",
			logger.String("pipeline_id", p.ID),
			logger.String("symbol", req.Symbol))
		e.metrics.PipelineSkipped("inactive")
		return "", nil
	}
	id := req.ID
	if id == "" {
		id = uuid.NewString()
	}
	if _, err := e.store.Get(ctx, id); err != nil {
		if !errors.Is(err, models.ErrNotFound) {
			return "", err
		}
		exec := models.NewExecution(id, p, req, e.now())
		if err := e.store.Create(ctx, exec); err != nil {
			return "", fmt.Errorf("create execution: %w", err)
		}
		e.publish(ctx, exec, "")
		e.logger.Info("execution created",
			logger.String("execution_id", id),
			logger.String("pipeline_id", p.ID),
			logger.String("symbol", exec.Symbol),
			logger.String("trigger_mode", string(exec.TriggerMode)))
	}

	select {
	case e.sem <- struct{}{}:
	case <-ctx.Done():
		return id, ctx.Err()
	}
	defer func() { <-e.sem }()
	return id, e.run(ctx, id)
}

// spawn continues an execution in the background.
func (e *Engine) spawn(id string) {
	e.wg.Add(1)
	go func() {
		defer e.wg.Done()
		select {
		case e.sem <- struct{}{}:
		case <-e.baseCtx.Done():
			return
		}
		defer func() { <-e.sem }()
		err := e.run(e.baseCtx, id)
		switch {
		case err == nil, errors.Is(err, context.Canceled):
		case errors.Is(err, models.ErrExecutionBusy):
			e.logger.Info("execution owned elsewhere, left to the sweep", logger.String("execution_id", id))
		default:
			e.logger.Error("execution continuation failed", logger.String("execution_id", id), logger.Error(err))
		}
	}()
}

// Wait blocks until background continuations return or ctx ends.
func (e *Engine) Wait(ctx context.Context) error {
	done := make(chan struct{})
	go func() {
		e.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Shutdown stops approval timers and waits for continuations. Timers are
// re-armed from persisted deadlines by Recover.
func (e *Engine) Shutdown(ctx context.Context) error {
	e.timersMu.Lock()
	for id, t := range e.timers {
		t.Stop()
		delete(e.timers, id)
	}
	e.timersMu.Unlock()
	return e.Wait(ctx)
}

func lockKey(id string) string  { return cache.GenerateKey("exec:lock", id) }
func pauseKey(id string) string { return cache.GenerateKey("exec:pause", id) }

// execLease is one holder's claim on an execution. The token makes renewal and
// release no-ops once another holder has taken over an expired lease.
type execLease struct {
	e     *Engine
	id    string
	token string
	lost  atomic.Bool
	done  chan struct{}
	once  sync.Once
}

// acquire takes exclusive ownership of an execution.
func (e *Engine) acquire(ctx context.Context, id string) (*execLease, error) {
	token := uuid.NewString()
	ok, err := e.locks.AcquireLease(ctx, lockKey(id), token, e.cfg.LeaseTTL)
	if err != nil {
		return nil, fmt.Errorf("lease %s: %w", id, err)
	}
	if !ok {
		return nil, fmt.Errorf("execution %s: %w", id, models.ErrExecutionBusy)
	}
	return &execLease{e: e, id: id, token: token, done: make(chan struct{})}, nil
}

// lease takes ownership for a short command and returns its release.
func (e *Engine) lease(ctx context.Context, id string) (func(), error) {
	l, err := e.acquire(ctx, id)
	if err != nil {
		return nil, err
	}
	return l.release, nil
}

// renew extends the lease and reports whether it is still held. A backend
// error leaves the current answer unchanged.
func (l *execLease) renew(ctx context.Context) bool {
	if l.lost.Load() {
		return false
	}
	ok, err := l.e.locks.RenewLease(ctx, lockKey(l.id), l.token, l.e.cfg.LeaseTTL)
	if err != nil {
		l.e.logger.Warn("lease renewal failed", logger.String("execution_id", l.id), logger.Error(err))
		return true
	}
	if !ok {
		l.lost.Store(true)
		l.e.logger.Error("execution lease lost", logger.String("execution_id", l.id))
	}
	return ok
}

// keepAlive renews the lease in the background until release.
func (l *execLease) keepAlive(ctx context.Context) {
	every := l.e.cfg.LeaseTTL / 3
	go func() {
		ticker := time.NewTicker(every)
		defer ticker.Stop()
		for {
			select {
			case <-l.done:
				return
			case <-ctx.Done():
				return
			case <-ticker.C:
				if !l.renew(ctx) {
					return
				}
			}
		}
	}()
}

func (l *execLease) release() {
	l.once.Do(func() {
		close(l.done)
		if err := l.e.locks.ReleaseLease(context.Background(), lockKey(l.id), l.token); err != nil {
			l.e.logger.Warn("lease release failed", logger.String("execution_id", l.id), logger.Error(err))
		}
	})
}

// run drives the DAG of one execution from its persisted state.
func (e *Engine) run(ctx context.Context, id string) (err error) {
	l, err := e.acquire(ctx, id)
	if err != nil {
		return err
	}
	defer l.release()
	l.keepAlive(ctx)
	defer func() {
		if r := recover(); r != nil {
			e.logger.Error("engine runner panic",
				logger.String("execution_id", id),
				logger.Any("panic", r),
				logger.String("stack", string(debug.Stack())))
			err = fmt.Errorf("execution %s runner panic: %v", id, r)
		}
	}()

	exec, err := e.store.Get(ctx, id)
	if err != nil {
		return err
	}
	p, err := e.catalog.GetPipeline(ctx, exec.PipelineID)
	if err != nil {
		if errors.Is(err, models.ErrNotFound) && (exec.Status == models.StatusPending || exec.Status == models.StatusRunning) {
			return e.fail(ctx, exec, nil, "pipeline no longer exists")
		}
		return err
	}

	switch exec.Status {
	case models.StatusPending:
		if err := exec.TransitionTo(models.StatusRunning, e.now()); err != nil {
			return err
		}
		if err := e.persist(ctx, exec, ""); err != nil {
			return err
		}
	case models.StatusRunning:
	default:
		return nil
	}

	order, err := p.Graph.TopologicalOrder()
	if err != nil {
		return e.fail(ctx, exec, p, err.Error())
	}
	for _, node := range order {
		st := exec.NodeState(node.ID)
		if st == nil {
			return e.fail(ctx, exec, p, fmt.Sprintf("node %s has no state in this execution", node.ID))
		}
		switch st.Status {
		case models.AgentCompleted, models.AgentSkipped:
			continue
		case models.AgentRunning:
			// The previous owner died mid-node; side effects must not be replayed.
			st.Status = models.AgentFailed
			st.ErrorMessage = "interrupted by restart"
			return e.fail(ctx, exec, p, fmt.Sprintf("node %s interrupted by restart", node.ID))
		case models.AgentFailed:
			return e.fail(ctx, exec, p, fmt.Sprintf("node %s failed earlier", node.ID))
		}
		if !l.renew(ctx) {
			return fmt.Errorf("execution %s before node %s: %w", id, node.ID, models.ErrLeaseLost)
		}
		if paused, err := e.honorPause(ctx, exec); err != nil || paused {
			return err
		}
		stop, err := e.runNode(ctx, l, exec, p, node, st)
		if err != nil || stop {
			return err
		}
	}

	final := models.StatusCompleted
	if exec.Monitor != nil {
		final = models.StatusMonitoring
	}
	if err := exec.TransitionTo(final, e.now()); err != nil {
		return err
	}
	if err := e.persist(ctx, exec, ""); err != nil {
		return err
	}
	e.logger.Info("execution graph finished",
		logger.String("execution_id", exec.ID),
		logger.String("status", string(exec.Status)),
		logger.Stringer("cost_total", exec.CostTotal))
	if final.IsTerminal() {
		e.finish(ctx, exec, p)
	}
	return nil
}

// runNode invokes one node. stop reports that the runner must return because
// the execution suspended or ended.
func (e *Engine) runNode(ctx context.Context, l *execLease, exec *models.Execution, p *models.Pipeline, node models.NodeSpec, st *models.AgentState) (stop bool, err error) {
	agent, err := e.agents.Lookup(node.AgentType)
	if err != nil {
		st.Status = models.AgentFailed
		st.ErrorMessage = err.Error()
		return true, e.fail(ctx, exec, p, fmt.Sprintf("node %s: %v", node.ID, err))
	}
	placer, isPlacer := agent.(domsvc.TradePlacer)
	isPlacer = isPlacer && placer.PlacesTrades()
	if isPlacer && p.RequiresApprovalFor(exec.Mode) && !approvedFor(exec, node.ID) {
		return true, e.requestApproval(ctx, exec, p, st)
	}

	started := e.now()
	st.Status = models.AgentRunning
	st.StartedAt = &started
	st.ErrorMessage = ""
	exec.UpdatedAt = started
	if err := e.persist(ctx, exec, node.ID); err != nil {
		return true, err
	}

	res, err := e.invoke(ctx, agent, e.agentInput(exec, p, node))
	if !l.renew(ctx) {
		// The new holder sees this node as running and fails it on its turn.
		e.logger.Error("node result discarded after lease loss",
			logger.String("execution_id", exec.ID),
			logger.String("node_id", node.ID),
			logger.Any("output", res.Output))
		return true, fmt.Errorf("execution %s node %s: %w", exec.ID, node.ID, models.ErrLeaseLost)
	}
	if err != nil {
		st.Status = models.AgentFailed
		st.ErrorMessage = err.Error()
		done := e.now()
		st.CompletedAt = &done
		e.logger.Warn("agent node failed",
			logger.String("execution_id", exec.ID),
			logger.String("node_id", node.ID),
			logger.String("agent_type", node.AgentType),
			logger.Error(err))
		return true, e.fail(ctx, exec, p, fmt.Sprintf("node %s failed: %v", node.ID, err))
	}

	done := e.now()
	st.Output = res.Output
	st.Cost = res.Cost
	st.Status = models.AgentCompleted
	st.CompletedAt = &done
	e.ledger.RecordCost(ctx, exec, node.ID, node.AgentType, res.Cost)
	if isPlacer {
		e.watchPosition(exec, res.Output, done)
	}
	if err := e.ledger.CheckBudget(exec); err != nil {
		return true, e.fail(ctx, exec, p, err.Error())
	}
	exec.UpdatedAt = done
	return false, e.persist(ctx, exec, node.ID)
}

func (e *Engine) agentInput(exec *models.Execution, p *models.Pipeline, node models.NodeSpec) domsvc.AgentInput {
	outputs := exec.Outputs()
	inputs := make(map[string]map[string]any)
	for _, pred := range p.Graph.Predecessors(node.ID) {
		if out, ok := outputs[pred]; ok {
			inputs[pred] = out
		}
	}
	var remaining *decimal.Decimal
	if exec.BudgetCap != nil {
		r := exec.BudgetCap.Sub(exec.CostTotal)
		remaining = &r
	}
	return domsvc.AgentInput{
		ExecutionID:     exec.ID,
		PipelineID:      exec.PipelineID,
		NodeID:          node.ID,
		Symbol:          exec.Symbol,
		Mode:            exec.Mode,
		Signal:          exec.Signal,
		Config:          node.Config,
		Inputs:          inputs,
		RemainingBudget: remaining,
	}
}

// invoke calls the agent under the node timeout; a panic becomes a node failure.
func (e *Engine) invoke(ctx context.Context, agent domsvc.Agent, in domsvc.AgentInput) (res domsvc.AgentResult, err error) {
	nctx, cancel := context.WithTimeout(ctx, e.cfg.NodeTimeout)
	defer cancel()
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("agent %s panic: %v", agent.Type(), r)
		}
	}()
	return agent.Run(nctx, in)
}

func (e *Engine) watchPosition(exec *models.Execution, out map[string]any, now time.Time) {
	open, _ := out[domsvc.OutputOpen].(bool)
	orderID, _ := out[domsvc.OutputOrderID].(string)
	if !open || orderID == "" {
		return
	}
	broker, _ := out[domsvc.OutputBroker].(string)
	exec.Monitor = &models.MonitorState{
		OrderID:    orderID,
		Broker:     broker,
		NextPollAt: now.Add(e.cfg.PollInterval),
	}
}

func approvedFor(exec *models.Execution, nodeID string) bool {
	a := exec.Approval
	return a != nil && a.NodeID == nodeID && a.Status == models.ApprovalApproved
}

// honorPause pauses the execution between nodes when a pause was requested.
func (e *Engine) honorPause(ctx context.Context, exec *models.Execution) (bool, error) {
	requested, err := e.locks.Exists(ctx, pauseKey(exec.ID))
	if err != nil || !requested {
		return false, nil
	}
	_ = e.locks.Delete(ctx, pauseKey(exec.ID))
	if err := exec.TransitionTo(models.StatusPaused, e.now()); err != nil {
		return false, nil
	}
	e.logger.Info("execution paused", logger.String("execution_id", exec.ID))
	return true, e.persist(ctx, exec, "")
}

func (e *Engine) requestApproval(ctx context.Context, exec *models.Execution, p *models.Pipeline, st *models.AgentState) error {
	now := e.now()
	timeout := p.ApprovalTimeout()
	if timeout <= 0 {
		timeout = defaultApprovalTimeout
	}
	channels := p.ApprovalChannels
	if len(channels) == 0 {
		channels = e.cfg.ApprovalChannels
	}
	st.Status = models.AgentAwaitingApproval
	exec.Approval = &models.Approval{
		Status:      models.ApprovalPending,
		NodeID:      st.NodeID,
		Channels:    channels,
		RequestedAt: now,
		ExpiresAt:   now.Add(timeout),
	}
	if err := exec.TransitionTo(models.StatusAwaitingApproval, now); err != nil {
		return err
	}
	if err := e.persist(ctx, exec, st.NodeID); err != nil {
		return err
	}
	for _, ch := range channels {
		n, ok := e.notifiers[ch]
		if !ok {
			e.logger.Warn("unknown approval channel", logger.String("execution_id", exec.ID), logger.String("channel", ch))
			continue
		}
		if err := n.RequestApproval(ctx, exec, p); err != nil {
			e.logger.Warn("approval notification failed",
				logger.String("execution_id", exec.ID),
				logger.String("channel", ch),
				logger.Error(err))
		}
	}
	e.armTimer(exec.ID, timeout)
	e.logger.Info("execution awaiting approval",
		logger.String("execution_id", exec.ID),
		logger.String("node_id", st.NodeID),
		logger.Duration("timeout_ms", timeout))
	return nil
}

func (e *Engine) armTimer(id string, d time.Duration) {
	e.timersMu.Lock()
	defer e.timersMu.Unlock()
	if old, ok := e.timers[id]; ok {
		old.Stop()
	}
	e.timers[id] = e.afterFunc(d, func() {
		if err := e.ExpireApproval(e.baseCtx, id); err != nil {
			e.logger.Warn("approval expiry failed", logger.String("execution_id", id), logger.Error(err))
		}
	})
}

func (e *Engine) stopTimer(id string) {
	e.timersMu.Lock()
	defer e.timersMu.Unlock()
	if t, ok := e.timers[id]; ok {
		t.Stop()
		delete(e.timers, id)
	}
}

// fail ends the execution as failed and skips every node not yet started.
func (e *Engine) fail(ctx context.Context, exec *models.Execution, p *models.Pipeline, msg string) error {
	exec.ErrorMessage = msg
	exec.SkipPending()
	if err := exec.TransitionTo(models.StatusFailed, e.now()); err != nil {
		return err
	}
	if err := e.persist(ctx, exec, ""); err != nil {
		return err
	}
	e.logger.Warn("execution failed",
		logger.String("execution_id", exec.ID),
		logger.String("pipeline_id", exec.PipelineID),
		logger.String("reason", msg))
	e.finish(ctx, exec, p)
	return nil
}

// persist saves the execution and publishes the transition.
func (e *Engine) persist(ctx context.Context, exec *models.Execution, nodeID string) error {
	if err := e.store.Save(ctx, exec); err != nil {
		return fmt.Errorf("save execution %s: %w", exec.ID, err)
	}
	e.publish(ctx, exec, nodeID)
	return nil
}

func (e *Engine) publish(ctx context.Context, exec *models.Execution, nodeID string) {
	if e.events == nil {
		return
	}
	ev := &models.ExecutionEvent{
		ExecutionID: exec.ID,
		PipelineID:  exec.PipelineID,
		Symbol:      exec.Symbol,
		Status:      exec.Status,
		NodeID:      nodeID,
		Version:     exec.Version,
		Execution:   exec.Clone(),
		At:          e.now(),
	}
	if err := e.events.PublishExecution(ctx, ev); err != nil {
		e.logger.Warn("publish execution event failed", logger.String("execution_id", exec.ID), logger.Error(err))
	}
}

func failureKey(pipelineID string) string { return cache.GenerateKey("pipeline:failures", pipelineID) }

// finish runs the bookkeeping of a terminal execution.
func (e *Engine) finish(ctx context.Context, exec *models.Execution, p *models.Pipeline) {
	e.stopTimer(exec.ID)
	e.ledger.Release(exec.ID)
	start := exec.CreatedAt
	if exec.StartedAt != nil {
		start = *exec.StartedAt
	}
	end := e.now()
	if exec.CompletedAt != nil {
		end = *exec.CompletedAt
	}
	e.metrics.ExecutionFinished(string(exec.Status), string(exec.TriggerMode), end.Sub(start).Seconds())

	switch exec.Status {
	case models.StatusCompleted:
		_ = e.locks.Delete(ctx, failureKey(exec.PipelineID))
	case models.StatusFailed:
		e.countFailure(ctx, exec, p)
	}
}

func (e *Engine) countFailure(ctx context.Context, exec *models.Execution, p *models.Pipeline) {
	n, err := e.locks.Increment(ctx, failureKey(exec.PipelineID))
	if err != nil {
		e.logger.Warn("failure counter unavailable", logger.String("pipeline_id", exec.PipelineID), logger.Error(err))
		return
	}
	limit := e.cfg.DeactivateAfterFailures
	if limit <= 0 || n < int64(limit) || p == nil || !p.IsActive {
		e.logger.Info("pipeline execution failed",
			logger.String("pipeline_id", exec.PipelineID),
			logger.Int64("consecutive_failures", n))
		return
	}
	p.IsActive = false
	p.UpdatedAt = e.now()
	if err := e.catalog.SavePipeline(ctx, p); err != nil {
		e.logger.Error("pipeline deactivation failed", logger.String("pipeline_id", p.ID), logger.Error(err))
		return
	}
	_ = e.locks.Delete(ctx, failureKey(p.ID))
	if e.registry != nil {
		e.registry.Invalidate()
	}
	e.logger.Warn("pipeline deactivated after repeated failures",
		logger.String("pipeline_id", p.ID),
		logger.Int64("consecutive_failures", n))
}

// Pause stops an execution at the next node boundary. A running execution whose
// runner holds the lease gets a pause request that the runner honors.
func (e *Engine) Pause(ctx context.Context, id string) (*models.Execution, error) {
	exec, err := e.store.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if exec.Status == models.StatusPaused {
		return exec, nil
	}
	if !models.CanTransition(exec.Status, models.StatusPaused) {
		return nil, fmt.Errorf("%w: cannot pause %s execution", models.ErrInvalidTransition, exec.Status)
	}
	release, err := e.lease(ctx, id)
	if errors.Is(err, models.ErrExecutionBusy) {
		if err := e.locks.Set(ctx, pauseKey(id), "1", e.cfg.LeaseTTL); err != nil {
			return nil, err
		}
		e.logger.Info("pause requested", logger.String("execution_id", id))
		return exec, nil
	}
	if err != nil {
		return nil, err
	}
	defer release()

	if exec, err = e.store.Get(ctx, id); err != nil {
		return nil, err
	}
	if exec.Status == models.StatusPaused {
		return exec, nil
	}
	if err := exec.TransitionTo(models.StatusPaused, e.now()); err != nil {
		return nil, err
	}
	if err := e.persist(ctx, exec, ""); err != nil {
		return nil, err
	}
	e.logger.Info("execution paused", logger.String("execution_id", id))
	return exec, nil
}

// Resume continues a paused execution where it stopped.
func (e *Engine) Resume(ctx context.Context, id string) (*models.Execution, error) {
	release, err := e.lease(ctx, id)
	if err != nil {
		return nil, err
	}
	exec, err := e.store.Get(ctx, id)
	if err != nil {
		release()
		return nil, err
	}
	_ = e.locks.Delete(ctx, pauseKey(id))
	switch exec.Status {
	case models.StatusRunning, models.StatusMonitoring, models.StatusCommunicationError:
		release()
		return exec, nil
	case models.StatusPaused:
	default:
		release()
		return nil, fmt.Errorf("%w: cannot resume %s execution", models.ErrInvalidTransition, exec.Status)
	}

	to := models.StatusRunning
	if exec.PausedFrom == models.StatusMonitoring || exec.PausedFrom == models.StatusCommunicationError {
		to = models.StatusMonitoring
		if exec.Monitor != nil {
			exec.Monitor.NextPollAt = e.now()
		}
	}
	if err := exec.TransitionTo(to, e.now()); err != nil {
		release()
		return nil, err
	}
	if err := e.persist(ctx, exec, ""); err != nil {
		release()
		return nil, err
	}
	release()
	e.logger.Info("execution resumed", logger.String("execution_id", id), logger.String("status", string(to)))
	if to == models.StatusRunning {
		e.spawn(id)
	}
	return exec, nil
}

// Cancel ends a pending or paused execution. Executions that may hold an open
// broker position can only be paused.
func (e *Engine) Cancel(ctx context.Context, id string) (*models.Execution, error) {
	release, err := e.lease(ctx, id)
	if err != nil {
		return nil, err
	}
	defer release()
	exec, err := e.store.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	switch exec.Status {
	case models.StatusCancelled:
		return exec, nil
	case models.StatusPending:
	case models.StatusPaused:
		if exec.PausedFrom == models.StatusMonitoring || exec.PausedFrom == models.StatusCommunicationError {
			return nil, fmt.Errorf("%w: execution has an open position", models.ErrNotCancellable)
		}
	default:
		return nil, fmt.Errorf("%w: status %s", models.ErrNotCancellable, exec.Status)
	}
	exec.SkipPending()
	exec.ErrorMessage = "cancelled by user"
	if err := exec.TransitionTo(models.StatusCancelled, e.now()); err != nil {
		return nil, err
	}
	if err := e.persist(ctx, exec, ""); err != nil {
		return nil, err
	}
	_ = e.locks.Delete(ctx, pauseKey(id))
	e.finish(ctx, exec, nil)
	e.logger.Info("execution cancelled", logger.String("execution_id", id))
	return exec, nil
}

// Decide applies a human approval decision. A second decision fails with
// ErrAlreadyDecided.
func (e *Engine) Decide(ctx context.Context, id string, approve bool, decidedBy string) (*models.Execution, error) {
	release, err := e.lease(ctx, id)
	if err != nil {
		return nil, err
	}
	exec, err := e.store.Get(ctx, id)
	if err != nil {
		release()
		return nil, err
	}
	if exec.Approval == nil {
		release()
		return nil, models.ErrNotAwaitingApproval
	}
	if exec.Approval.Status != models.ApprovalPending {
		release()
		return nil, fmt.Errorf("%w: %s", models.ErrAlreadyDecided, exec.Approval.Status)
	}
	if exec.Status != models.StatusAwaitingApproval {
		release()
		return nil, models.ErrNotAwaitingApproval
	}
	now := e.now()
	if !now.Before(exec.Approval.ExpiresAt) {
		err := e.expire(ctx, exec)
		release()
		if err != nil {
			return nil, err
		}
		return exec, models.ErrApprovalExpired
	}

	e.stopTimer(id)
	exec.Approval.DecidedAt = &now
	exec.Approval.DecidedBy = decidedBy
	if !approve {
		exec.Approval.Status = models.ApprovalRejected
		exec.ErrorMessage = "approval rejected"
		exec.SkipPending()
		if err := exec.TransitionTo(models.StatusCancelled, now); err != nil {
			release()
			return nil, err
		}
		if err := e.persist(ctx, exec, exec.Approval.NodeID); err != nil {
			release()
			return nil, err
		}
		e.finish(ctx, exec, nil)
		release()
		e.logger.Info("approval rejected", logger.String("execution_id", id), logger.String("decided_by", decidedBy))
		return exec, nil
	}

	exec.Approval.Status = models.ApprovalApproved
	if st := exec.NodeState(exec.Approval.NodeID); st != nil {
		st.Status = models.AgentPending
	}
	if err := exec.TransitionTo(models.StatusRunning, now); err != nil {
		release()
		return nil, err
	}
	if err := e.persist(ctx, exec, exec.Approval.NodeID); err != nil {
		release()
		return nil, err
	}
	release()
	e.logger.Info("approval granted", logger.String("execution_id", id), logger.String("decided_by", decidedBy))
	e.spawn(id)
	return exec, nil
}

// ExpireApproval cancels an execution whose approval window elapsed without a
// decision. Called early it re-arms the timer for the remaining time.
func (e *Engine) ExpireApproval(ctx context.Context, id string) error {
	release, err := e.lease(ctx, id)
	if errors.Is(err, models.ErrExecutionBusy) {
		e.armTimer(id, time.Second)
		return nil
	}
	if err != nil {
		return err
	}
	defer release()
	exec, err := e.store.Get(ctx, id)
	if err != nil {
		return err
	}
	if exec.Status != models.StatusAwaitingApproval || exec.Approval == nil || exec.Approval.Status != models.ApprovalPending {
		return nil
	}
	if left := exec.Approval.ExpiresAt.Sub(e.now()); left > 0 {
		e.armTimer(id, left)
		return nil
	}
	return e.expire(ctx, exec)
}

// expire treats an elapsed approval window as a rejection.
func (e *Engine) expire(ctx context.Context, exec *models.Execution) error {
	now := e.now()
	exec.Approval.Status = models.ApprovalExpired
	exec.Approval.DecidedAt = &now
	exec.ErrorMessage = "approval timed out"
	exec.SkipPending()
	if err := exec.TransitionTo(models.StatusCancelled, now); err != nil {
		return err
	}
	if err := e.persist(ctx, exec, exec.Approval.NodeID); err != nil {
		return err
	}
	e.finish(ctx, exec, nil)
	e.logger.Info("approval expired", logger.String("execution_id", exec.ID))
	return nil
}

// Sweep re-admits pending and running executions nobody has touched for a
// full lease period and whose lease is free. This covers work a crashed
// process left behind while its lease was still live at Recover time.
func (e *Engine) Sweep(ctx context.Context) (int, error) {
	execs, err := e.store.ListByStatus(ctx, models.StatusPending, models.StatusRunning)
	if err != nil {
		return 0, fmt.Errorf("list unfinished executions: %w", err)
	}
	cutoff := e.now().Add(-e.cfg.LeaseTTL)
	spawned := 0
	for _, exec := range execs {
		if exec.UpdatedAt.After(cutoff) {
			continue
		}
		held, err := e.locks.Exists(ctx, lockKey(exec.ID))
		if err != nil {
			e.logger.Warn("lease lookup failed", logger.String("execution_id", exec.ID), logger.Error(err))
			continue
		}
		if held {
			continue
		}
		e.logger.Info("re-admitting abandoned execution",
			logger.String("execution_id", exec.ID),
			logger.String("status", string(exec.Status)))
		e.spawn(exec.ID)
		spawned++
	}
	return spawned, nil
}

// Recover re-admits executions left in flight by a previous process. Monitored
// executions are picked up by the monitor from their next poll time. An
// execution whose old lease is still live is left to Sweep.
func (e *Engine) Recover(ctx context.Context) (int, error) {
	execs, err := e.store.ListByStatus(ctx, models.StatusPending, models.StatusRunning, models.StatusAwaitingApproval)
	if err != nil {
		return 0, fmt.Errorf("list unfinished executions: %w", err)
	}
	now := e.now()
	for _, exec := range execs {
		switch exec.Status {
		case models.StatusPending, models.StatusRunning:
			e.spawn(exec.ID)
		case models.StatusAwaitingApproval:
			if exec.Approval == nil || exec.Approval.Status != models.ApprovalPending {
				continue
			}
			if left := exec.Approval.ExpiresAt.Sub(now); left > 0 {
				e.armTimer(exec.ID, left)
				continue
			}
			if err := e.ExpireApproval(ctx, exec.ID); err != nil {
				e.logger.Warn("recover approval expiry failed", logger.String("execution_id", exec.ID), logger.Error(err))
			}
		}
	}
	e.logger.Info("executions recovered", logger.Int("count", len(execs)))
	return len(execs), nil
}
