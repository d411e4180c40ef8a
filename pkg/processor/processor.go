// Package processor is the unified asynchronous request processor: one
// bounded priority queue and worker pool serving every request type,
// with per-type handlers registered at composition time.
package processor

import (
	"container/heap"
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/thoughtpilot/ghostplane/pkg/config"
	"github.com/thoughtpilot/ghostplane/pkg/recovery"
)

// RequestType names a kind of processable request.
type RequestType string

// Built-in request types. Further types may be registered at runtime.
const (
	TypeWebhook       RequestType = "webhook"
	TypePatch         RequestType = "patch"
	TypeSummary       RequestType = "summary"
	TypeSlackCommand  RequestType = "slack_command"
	TypeSlackEvent    RequestType = "slack_event"
	TypeHealthCheck   RequestType = "health_check"
	TypeResourceCheck RequestType = "resource_check"
	TypeProcessCheck  RequestType = "process_check"
)

// ResultStatus is a processing lifecycle state.
type ResultStatus string

// Result statuses.
const (
	StatusPending    ResultStatus = "pending"
	StatusProcessing ResultStatus = "processing"
	StatusCompleted  ResultStatus = "completed"
	StatusFailed     ResultStatus = "failed"
	StatusTimeout    ResultStatus = "timeout"
)

// Handler processes one request payload.
type Handler func(ctx context.Context, payload map[string]any) (any, error)

// ProcessingResult is the tracked state of one request.
type ProcessingResult struct {
	RequestID      string       `json:"request_id"`
	Type           RequestType  `json:"type"`
	Status         ResultStatus `json:"status"`
	Result         any          `json:"result,omitempty"`
	Error          string       `json:"error,omitempty"`
	RetryCount     int          `json:"retry_count"`
	ProcessingTime float64      `json:"processing_time_seconds"`
	Timestamp      time.Time    `json:"timestamp"`
}

// Stats summarizes processor activity.
type Stats struct {
	TotalRequests         int64   `json:"total_requests"`
	Completed             int64   `json:"completed"`
	Failed                int64   `json:"failed"`
	TimedOut              int64   `json:"timed_out"`
	Retried               int64   `json:"retried"`
	QueueDepth            int     `json:"queue_depth"`
	ActiveWorkers         int     `json:"active_workers"`
	AverageProcessingTime float64 `json:"average_processing_time_seconds"`
	RegisteredTypes       int     `json:"registered_types"`
}

// ErrUnknownType reports a submit for a type with no handler.
type ErrUnknownType struct {
	Type RequestType
}

func (e *ErrUnknownType) Error() string {
	return fmt.Sprintf("no handler registered for request type %q", e.Type)
}

// ErrQueueFull reports that the queue stayed full past the submit wait.
type ErrQueueFull struct{}

func (e *ErrQueueFull) Error() string { return "processor queue is full" }

type task struct {
	id       string
	typ      RequestType
	payload  map[string]any
	priority int
	retries  int
	seq      int64
	index    int
}

type taskQueue []*task

func (q taskQueue) Len() int { return len(q) }
func (q taskQueue) Less(i, j int) bool {
	if q[i].priority != q[j].priority {
		return q[i].priority > q[j].priority
	}
	return q[i].seq < q[j].seq
}
func (q taskQueue) Swap(i, j int) {
	q[i], q[j] = q[j], q[i]
	q[i].index = i
	q[j].index = j
}
func (q *taskQueue) Push(x any) {
	t := x.(*task)
	t.index = len(*q)
	*q = append(*q, t)
}
func (q *taskQueue) Pop() any {
	old := *q
	n := len(old)
	t := old[n-1]
	old[n-1] = nil
	*q = old[:n-1]
	return t
}

// Processor runs the worker pool. Safe for concurrent use.
type Processor struct {
	cfg    config.ProcessorConfig
	logger *slog.Logger

	mu        sync.Mutex
	handlers  map[RequestType]Handler
	queue     taskQueue
	seq       int64
	results   map[string]*ProcessingResult
	order     []string
	stats     Stats
	totalTime float64
	busy      int
	recovery  *recovery.Manager

	slots chan struct{}

	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// NewProcessor creates a processor with no handlers registered.
func NewProcessor(cfg config.ProcessorConfig) *Processor {
	if cfg.QueueCapacity <= 0 {
		cfg.QueueCapacity = 100
	}
	if cfg.WorkerCount <= 0 {
		cfg.WorkerCount = 3
	}
	return &Processor{
		cfg:      cfg,
		logger:   slog.Default().With("component", "unified-processor"),
		handlers: make(map[RequestType]Handler),
		results:  make(map[string]*ProcessingResult),
		slots:    make(chan struct{}, cfg.QueueCapacity),
	}
}

// SetRecovery installs the recovery manager consulted when a request
// fails permanently. May be nil.
func (p *Processor) SetRecovery(m *recovery.Manager) {
	p.mu.Lock()
	p.recovery = m
	p.mu.Unlock()
}

// RegisterHandler installs or replaces the handler for a request type.
func (p *Processor) RegisterHandler(typ RequestType, h Handler) {
	p.mu.Lock()
	p.handlers[typ] = h
	p.mu.Unlock()
	p.logger.Info("Processor handler registered", "type", typ)
}

// Types lists the registered request types.
func (p *Processor) Types() []RequestType {
	p.mu.Lock()
	defer p.mu.Unlock()

	types := make([]RequestType, 0, len(p.handlers))
	for t := range p.handlers {
		types = append(types, t)
	}
	return types
}

// Start launches the worker pool.
func (p *Processor) Start(ctx context.Context) {
	if p.cancel != nil {
		return
	}
	ctx, p.cancel = context.WithCancel(ctx)

	for i := 0; i < p.cfg.WorkerCount; i++ {
		p.wg.Add(1)
		go p.worker(ctx)
	}
	p.logger.Info("Unified processor started", "workers", p.cfg.WorkerCount)
}

// Stop signals the workers to exit and waits for them.
func (p *Processor) Stop() {
	if p.cancel == nil {
		return
	}
	p.cancel()
	p.wg.Wait()
	p.logger.Info("Unified processor stopped")
}

// Submit enqueues a request and returns its ID. Blocks up to the
// configured submit wait when the queue is full.
func (p *Processor) Submit(typ RequestType, payload map[string]any, priority int) (string, error) {
	p.mu.Lock()
	_, known := p.handlers[typ]
	p.mu.Unlock()
	if !known {
		return "", &ErrUnknownType{Type: typ}
	}

	select {
	case p.slots <- struct{}{}:
	case <-time.After(p.cfg.SubmitWait):
		return "", &ErrQueueFull{}
	}

	id := uuid.NewString()
	now := time.Now().UTC()

	p.mu.Lock()
	p.seq++
	heap.Push(&p.queue, &task{id: id, typ: typ, payload: payload, priority: priority, seq: p.seq})
	p.trackLocked(&ProcessingResult{
		RequestID: id,
		Type:      typ,
		Status:    StatusPending,
		Timestamp: now,
	})
	p.stats.TotalRequests++
	p.mu.Unlock()

	return id, nil
}

// trackLocked records a result and trims the history ring. Caller holds
// p.mu.
func (p *Processor) trackLocked(r *ProcessingResult) {
	if _, exists := p.results[r.RequestID]; !exists {
		p.order = append(p.order, r.RequestID)
		if limit := p.cfg.ResultHistory; limit > 0 && len(p.order) > limit {
			evict := p.order[0]
			p.order = p.order[1:]
			delete(p.results, evict)
		}
	}
	p.results[r.RequestID] = r
}

func (p *Processor) worker(ctx context.Context) {
	defer p.wg.Done()

	for {
		t := p.dequeue()
		if t == nil {
			select {
			case <-ctx.Done():
				return
			case <-time.After(p.cfg.PollInterval):
			}
			continue
		}
		<-p.slots
		p.process(ctx, t)
	}
}

func (p *Processor) dequeue() *task {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.queue.Len() == 0 {
		return nil
	}
	return heap.Pop(&p.queue).(*task)
}

// process runs one task under the per-request timeout. Failures
// re-enqueue until retries are exhausted; timeouts do not retry.
func (p *Processor) process(ctx context.Context, t *task) {
	p.mu.Lock()
	handler := p.handlers[t.typ]
	result := p.results[t.id]
	if result != nil {
		result.Status = StatusProcessing
		result.RetryCount = t.retries
	}
	p.busy++
	p.mu.Unlock()

	defer func() {
		p.mu.Lock()
		p.busy--
		p.mu.Unlock()
	}()

	if handler == nil || result == nil {
		p.logger.Error("Dropping task with no handler or tracking entry",
			"request_id", t.id, "type", t.typ)
		return
	}

	started := time.Now()
	reqCtx, cancel := context.WithTimeout(ctx, p.cfg.RequestTimeout)
	defer cancel()

	type outcome struct {
		value any
		err   error
	}
	ch := make(chan outcome, 1)
	go func() {
		value, err := handler(reqCtx, t.payload)
		ch <- outcome{value: value, err: err}
	}()

	select {
	case <-reqCtx.Done():
		p.mu.Lock()
		result.Status = StatusTimeout
		result.Error = fmt.Sprintf("request timed out after %s", p.cfg.RequestTimeout)
		result.ProcessingTime = time.Since(started).Seconds()
		p.stats.TimedOut++
		p.mu.Unlock()
		p.logger.Warn("Request timed out", "request_id", t.id, "type", t.typ)

	case o := <-ch:
		elapsed := time.Since(started).Seconds()
		if o.err != nil {
			p.handleFailure(ctx, t, result, o.err, elapsed)
			return
		}
		p.mu.Lock()
		result.Status = StatusCompleted
		result.Result = o.value
		result.ProcessingTime = elapsed
		p.stats.Completed++
		p.totalTime += elapsed
		p.mu.Unlock()
	}
}

func (p *Processor) handleFailure(ctx context.Context, t *task, result *ProcessingResult, err error, elapsed float64) {
	p.mu.Lock()

	if t.retries < p.cfg.MaxRetries {
		t.retries++
		p.seq++
		t.seq = p.seq
		result.Status = StatusPending
		result.RetryCount = t.retries
		result.Error = err.Error()
		p.stats.Retried++

		select {
		case p.slots <- struct{}{}:
			heap.Push(&p.queue, t)
			p.mu.Unlock()
			p.logger.Warn("Request re-enqueued after failure",
				"request_id", t.id, "retry", t.retries, "error", err)
			return
		default:
			// No room to retry; fall through to failed.
		}
	}

	result.Status = StatusFailed
	result.Error = err.Error()
	result.ProcessingTime = elapsed
	p.stats.Failed++
	rec := p.recovery
	p.mu.Unlock()

	p.logger.Error("Request failed", "request_id", t.id, "type", t.typ, "error", err)
	if rec != nil {
		// The processor has already retried; the manager only
		// classifies, records, and escalates or restarts.
		rec.Handle(ctx, "processor:"+string(t.typ), err, nil)
	}
}

// GetResult returns the tracked result for a request ID.
func (p *Processor) GetResult(requestID string) (*ProcessingResult, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()

	result, ok := p.results[requestID]
	if !ok {
		return nil, false
	}
	copied := *result
	return &copied, true
}

// GetStats returns processor statistics.
func (p *Processor) GetStats() Stats {
	p.mu.Lock()
	defer p.mu.Unlock()

	stats := p.stats
	stats.QueueDepth = p.queue.Len()
	stats.ActiveWorkers = p.busy
	stats.RegisteredTypes = len(p.handlers)
	if stats.Completed > 0 {
		stats.AverageProcessingTime = p.totalTime / float64(stats.Completed)
	}
	return stats
}
