package workflow

import (
	"container/heap"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/thoughtpilot/ghostplane/pkg/config"
	"github.com/thoughtpilot/ghostplane/pkg/recovery"
)

// ErrUnknownWorkflow reports a submit against an unregistered workflow.
type ErrUnknownWorkflow struct {
	Name string
}

func (e *ErrUnknownWorkflow) Error() string {
	return fmt.Sprintf("unknown workflow %q", e.Name)
}

// ErrQueueFull reports that the queue stayed full past the submit wait.
type ErrQueueFull struct{}

func (e *ErrQueueFull) Error() string { return "workflow queue is full" }

// queueItem orders requests by priority (higher first), then FIFO.
type queueItem struct {
	request *Request
	seq     int64
	index   int
}

type requestQueue []*queueItem

func (q requestQueue) Len() int { return len(q) }
func (q requestQueue) Less(i, j int) bool {
	if q[i].request.Priority != q[j].request.Priority {
		return q[i].request.Priority > q[j].request.Priority
	}
	return q[i].seq < q[j].seq
}
func (q requestQueue) Swap(i, j int) {
	q[i], q[j] = q[j], q[i]
	q[i].index = i
	q[j].index = j
}
func (q *requestQueue) Push(x any) {
	item := x.(*queueItem)
	item.index = len(*q)
	*q = append(*q, item)
}
func (q *requestQueue) Pop() any {
	old := *q
	n := len(old)
	item := old[n-1]
	old[n-1] = nil
	*q = old[:n-1]
	return item
}

// Engine runs workflows with a fixed worker pool over a bounded
// priority queue.
type Engine struct {
	cfg    config.WorkflowConfig
	logger *slog.Logger

	mu        sync.Mutex
	recovery  *recovery.Manager
	workflows map[string]Workflow
	queue     requestQueue
	seq       int64
	active    map[string]*Request
	completed map[string]*Request
	order     []string // completion order, for history trimming
	stats     Stats
	totalTime float64

	slots chan struct{}

	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// NewEngine creates an engine with no workflows registered.
func NewEngine(cfg config.WorkflowConfig) *Engine {
	if cfg.QueueCapacity <= 0 {
		cfg.QueueCapacity = 100
	}
	if cfg.WorkerCount <= 0 {
		cfg.WorkerCount = 2
	}
	return &Engine{
		cfg:       cfg,
		logger:    slog.Default().With("component", "workflow-engine"),
		workflows: make(map[string]Workflow),
		active:    make(map[string]*Request),
		completed: make(map[string]*Request),
		slots:     make(chan struct{}, cfg.QueueCapacity),
	}
}

// SetRecovery installs the recovery manager consulted when a request
// fails after step retries are exhausted. May be nil.
func (e *Engine) SetRecovery(m *recovery.Manager) {
	e.mu.Lock()
	e.recovery = m
	e.mu.Unlock()
}

// RegisterWorkflow installs or replaces a workflow.
func (e *Engine) RegisterWorkflow(w Workflow) {
	e.mu.Lock()
	e.workflows[w.Name] = w
	e.mu.Unlock()
	e.logger.Info("Workflow registered", "workflow", w.Name, "steps", len(w.Steps))
}

// Workflows lists the registered workflow names.
func (e *Engine) Workflows() []string {
	e.mu.Lock()
	defer e.mu.Unlock()

	names := make([]string, 0, len(e.workflows))
	for name := range e.workflows {
		names = append(names, name)
	}
	return names
}

// Start launches the worker pool.
func (e *Engine) Start(ctx context.Context) {
	if e.cancel != nil {
		return
	}
	ctx, e.cancel = context.WithCancel(ctx)

	for i := 0; i < e.cfg.WorkerCount; i++ {
		e.wg.Add(1)
		go e.worker(ctx, i)
	}
	e.logger.Info("Workflow engine started", "workers", e.cfg.WorkerCount)
}

// Stop signals the workers to exit and waits for them.
func (e *Engine) Stop() {
	if e.cancel == nil {
		return
	}
	e.cancel()
	e.wg.Wait()
	e.logger.Info("Workflow engine stopped")
}

// Submit enqueues a request and returns its ID. Blocks up to the
// configured submit wait when the queue is full.
func (e *Engine) Submit(workflowName string, payload map[string]any, priority int) (string, error) {
	e.mu.Lock()
	_, known := e.workflows[workflowName]
	e.mu.Unlock()
	if !known {
		return "", &ErrUnknownWorkflow{Name: workflowName}
	}

	select {
	case e.slots <- struct{}{}:
	case <-time.After(e.cfg.SubmitWait):
		return "", &ErrQueueFull{}
	}

	now := time.Now().UTC()
	req := &Request{
		ID:       fmt.Sprintf("%s_%d_%s", workflowName, now.UnixMilli(), uuid.NewString()[:8]),
		Workflow: workflowName,
		Status:   StatusPending,
		Payload:  payload,
		Results:  make(map[string]any),
		Priority: priority,
		CreatedAt: now,
	}

	e.mu.Lock()
	e.seq++
	heap.Push(&e.queue, &queueItem{request: req, seq: e.seq})
	e.active[req.ID] = req
	e.stats.Submitted++
	e.mu.Unlock()

	e.logger.Info("Workflow request submitted",
		"request_id", req.ID, "workflow", workflowName, "priority", priority)
	return req.ID, nil
}

// Cancel marks a still-pending request cancelled. Running requests
// cannot be cancelled.
func (e *Engine) Cancel(requestID string) bool {
	e.mu.Lock()
	defer e.mu.Unlock()

	req, ok := e.active[requestID]
	if !ok || req.Status != StatusPending {
		return false
	}
	req.Status = StatusCancelled
	e.stats.Cancelled++
	return true
}

func (e *Engine) worker(ctx context.Context, id int) {
	defer e.wg.Done()

	for {
		req := e.dequeue()
		if req == nil {
			select {
			case <-ctx.Done():
				return
			case <-time.After(e.cfg.PollInterval):
			}
			continue
		}

		<-e.slots
		e.mu.Lock()
		cancelled := req.Status == StatusCancelled
		e.mu.Unlock()
		if cancelled {
			e.finish(req)
			continue
		}
		e.execute(ctx, req)
	}
}

func (e *Engine) dequeue() *Request {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.queue.Len() == 0 {
		return nil
	}
	item := heap.Pop(&e.queue).(*queueItem)
	return item.request
}

// execute runs every step of the request's workflow in order.
func (e *Engine) execute(ctx context.Context, req *Request) {
	e.mu.Lock()
	workflow, ok := e.workflows[req.Workflow]
	started := time.Now().UTC()
	req.StartedAt = &started
	req.Status = StatusProcessing
	e.mu.Unlock()

	if !ok {
		e.fail(ctx, req, fmt.Sprintf("workflow %q disappeared before execution", req.Workflow))
		return
	}

	skipped := make(map[string]bool)
	for _, step := range workflow.Steps {
		if e.shouldSkip(step, req, skipped) {
			skipped[step.ID] = true
			e.mu.Lock()
			req.SkippedSteps = append(req.SkippedSteps, step.ID)
			e.mu.Unlock()
			e.logger.Warn("Workflow step skipped, dependency missing",
				"request_id", req.ID, "step", step.ID)
			continue
		}

		result, err := e.runStep(ctx, step, req)
		if err != nil {
			e.fail(ctx, req, fmt.Sprintf("step %s failed: %v", step.ID, err))
			return
		}

		e.mu.Lock()
		req.Results[step.ID] = result
		e.mu.Unlock()
	}

	e.mu.Lock()
	req.Status = StatusCompleted
	e.mu.Unlock()
	e.finish(req)
	e.logger.Info("Workflow request completed",
		"request_id", req.ID, "skipped_steps", len(skipped))
}

// shouldSkip reports whether a required dependency of the step produced
// no result.
func (e *Engine) shouldSkip(step Step, req *Request, skipped map[string]bool) bool {
	if step.DependencyType == DependencyOptional {
		return false
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	for _, dep := range step.Dependencies {
		if skipped[dep] {
			return true
		}
		if _, ok := req.Results[dep]; !ok {
			return true
		}
	}
	return false
}

// runStep executes one step with retries. The per-step timeout, when
// set, bounds each attempt.
func (e *Engine) runStep(ctx context.Context, step Step, req *Request) (any, error) {
	maxRetries := step.MaxRetries
	if maxRetries <= 0 {
		maxRetries = e.cfg.MaxRetries
	}

	var lastErr error
	for attempt := 0; attempt <= maxRetries; attempt++ {
		if attempt > 0 {
			select {
			case <-ctx.Done():
				return nil, ctx.Err()
			case <-time.After(e.cfg.RetryDelay):
			}
			e.logger.Warn("Retrying workflow step",
				"request_id", req.ID, "step", step.ID, "attempt", attempt)
		}

		stepCtx := ctx
		var cancel context.CancelFunc
		if step.Timeout > 0 {
			stepCtx, cancel = context.WithTimeout(ctx, step.Timeout)
		}
		result, err := step.Handler(stepCtx, req.Payload, e.resultsSnapshot(req))
		if cancel != nil {
			cancel()
		}
		if err == nil {
			return result, nil
		}
		lastErr = err
	}
	return nil, lastErr
}

func (e *Engine) resultsSnapshot(req *Request) map[string]any {
	e.mu.Lock()
	defer e.mu.Unlock()
	out := make(map[string]any, len(req.Results))
	for k, v := range req.Results {
		out[k] = v
	}
	return out
}

func (e *Engine) fail(ctx context.Context, req *Request, reason string) {
	e.mu.Lock()
	req.Status = StatusFailed
	req.Error = reason
	rec := e.recovery
	e.mu.Unlock()
	e.finish(req)
	e.logger.Error("Workflow request failed", "request_id", req.ID, "error", reason)
	if rec != nil {
		// Step retries are exhausted at this point; the manager only
		// classifies, records, and escalates or restarts.
		rec.Handle(ctx, "workflow:"+req.Workflow, errors.New(reason), nil)
	}
}

// finish moves the request from active to the bounded completed map and
// updates statistics.
func (e *Engine) finish(req *Request) {
	now := time.Now().UTC()

	e.mu.Lock()
	defer e.mu.Unlock()

	req.CompletedAt = &now
	if req.StartedAt != nil {
		req.ProcessingTime = now.Sub(*req.StartedAt).Seconds()
	}

	delete(e.active, req.ID)
	e.completed[req.ID] = req
	e.order = append(e.order, req.ID)
	if limit := e.cfg.CompletedHistory; limit > 0 && len(e.order) > limit {
		evict := e.order[0]
		e.order = e.order[1:]
		delete(e.completed, evict)
	}

	switch req.Status {
	case StatusCompleted:
		e.stats.Completed++
		e.totalTime += req.ProcessingTime
	case StatusFailed:
		e.stats.Failed++
	}
}

// GetRequest returns the request by ID, active or completed.
func (e *Engine) GetRequest(requestID string) (*Request, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()

	if req, ok := e.active[requestID]; ok {
		copied := *req
		return &copied, true
	}
	if req, ok := e.completed[requestID]; ok {
		copied := *req
		return &copied, true
	}
	return nil, false
}

// GetStats returns engine statistics.
func (e *Engine) GetStats() Stats {
	e.mu.Lock()
	defer e.mu.Unlock()

	stats := e.stats
	stats.QueueDepth = e.queue.Len()
	stats.ActiveRequests = len(e.active)
	stats.Workflows = len(e.workflows)
	if stats.Completed > 0 {
		stats.AverageProcessingTime = e.totalTime / float64(stats.Completed)
	}
	return stats
}
