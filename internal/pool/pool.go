// Package pool runs CPU-bound assembly tasks on a small set of persistent
// workers with a caller-configurable concurrency ceiling.
//
// All bookkeeping (queue, worker states, active count) is owned by a single
// manager goroutine; workers communicate exclusively over channels. A task
// failure or panic resolves that task with a nil result and leaves the
// worker and the pool running.
package pool

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync/atomic"
	"time"
)

const (
	// MinConcurrency and MaxConcurrency bound the worker ceiling.
	MinConcurrency = 1
	MaxConcurrency = 10

	// idlePollInterval is how often OnIdle re-checks pool state. Idle
	// detection is a bounded-latency poll, not an event; callers tolerate
	// roughly this much delay before observing idleness.
	idlePollInterval = 100 * time.Millisecond
)

var (
	// ErrQueueFull is returned by Submit when the intake buffer is full.
	ErrQueueFull = errors.New("pool queue full")

	// ErrStopped is returned by Submit after the pool context ended.
	ErrStopped = errors.New("pool stopped")
)

// Task is one unit of work. Run executes on a pool worker.
type Task struct {
	ID  string
	Run func(ctx context.Context) (any, error)
}

// Result is the outcome of one task. Value is nil when the task failed.
type Result struct {
	TaskID string
	Value  any
	Err    error
}

// Callback receives a task's result. It is invoked on the worker goroutine
// that ran the task and must be safe for concurrent use.
type Callback func(Result)

type submission struct {
	task Task
	cb   Callback
}

// workerState tracks one persistent worker from the manager's side.
type workerState int

const (
	workerFree workerState = iota
	workerBusy
)

type worker struct {
	id     int
	taskCh chan submission
}

// Pool dispatches tasks to persistent workers, never exceeding the current
// concurrency ceiling. Workers are created lazily up to the ceiling and
// reused for the pool's lifetime.
type Pool struct {
	logger *slog.Logger

	submitCh chan submission
	doneCh   chan int // worker id reporting completion
	setCh    chan int // concurrency changes

	queued   atomic.Int32
	inFlight atomic.Int32
	stopped  atomic.Bool

	initialConcurrency int
	queueSize          int
}

// Config configures a new Pool.
type Config struct {
	Logger      *slog.Logger
	Concurrency int // clamped to [MinConcurrency, MaxConcurrency]
	QueueSize   int // intake buffer (default 1024)
}

// New creates a pool. Start must be called before Submit.
func New(cfg Config) *Pool {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}

	queueSize := cfg.QueueSize
	if queueSize <= 0 {
		queueSize = 1024
	}

	return &Pool{
		logger:             logger.With("component", "pool"),
		submitCh:           make(chan submission, queueSize),
		doneCh:             make(chan int),
		setCh:              make(chan int),
		initialConcurrency: clampConcurrency(cfg.Concurrency),
		queueSize:          queueSize,
	}
}

func clampConcurrency(n int) int {
	if n < MinConcurrency {
		return MinConcurrency
	}
	if n > MaxConcurrency {
		return MaxConcurrency
	}
	return n
}

// Start runs the manager loop until ctx is cancelled. Call in a goroutine.
func (p *Pool) Start(ctx context.Context) {
	p.logger.Debug("pool starting", "concurrency", p.initialConcurrency)

	concurrency := p.initialConcurrency
	var (
		queue   []submission
		workers []*worker
		states  []workerState
		active  int
	)

	dispatch := func() {
		for active < concurrency && len(queue) > 0 {
			// Pick any free worker, lazily creating up to the ceiling.
			idx := -1
			for i, st := range states {
				if st == workerFree {
					idx = i
					break
				}
			}
			if idx == -1 {
				if len(workers) >= concurrency {
					return
				}
				w := &worker{id: len(workers), taskCh: make(chan submission)}
				workers = append(workers, w)
				states = append(states, workerFree)
				go p.runWorker(ctx, w)
				idx = w.id
			}

			sub := queue[0]
			queue = queue[1:]

			states[idx] = workerBusy
			active++
			p.inFlight.Add(1)
			p.queued.Add(-1)
			select {
			case workers[idx].taskCh <- sub:
			case <-ctx.Done():
				// The worker may already have exited; drop the task and
				// let the main loop observe cancellation.
				p.inFlight.Add(-1)
				return
			}
		}
	}

	for {
		select {
		case <-ctx.Done():
			p.stopped.Store(true)
			p.logger.Debug("pool stopping", "abandoned", len(queue))
			return

		case sub := <-p.submitCh:
			queue = append(queue, sub)
			dispatch()

		case id := <-p.doneCh:
			states[id] = workerFree
			active--
			p.inFlight.Add(-1)
			dispatch()

		case n := <-p.setCh:
			// Takes effect for subsequent dispatch decisions only;
			// in-flight work is never preempted.
			concurrency = n
			p.logger.Debug("concurrency updated", "concurrency", n)
			dispatch()
		}
	}
}

// runWorker executes tasks sent to one persistent worker.
func (p *Pool) runWorker(ctx context.Context, w *worker) {
	for {
		select {
		case <-ctx.Done():
			return
		case sub := <-w.taskCh:
			res := p.runTask(ctx, sub.task)
			if sub.cb != nil {
				sub.cb(res)
			}
			select {
			case p.doneCh <- w.id:
			case <-ctx.Done():
				return
			}
		}
	}
}

// runTask executes one task, converting panics into failed results so a bad
// task never takes down its worker.
func (p *Pool) runTask(ctx context.Context, task Task) (res Result) {
	res = Result{TaskID: task.ID}
	defer func() {
		if r := recover(); r != nil {
			res.Value = nil
			res.Err = fmt.Errorf("task panicked: %v", r)
			p.logger.Error("task panicked", "task_id", task.ID, "panic", r)
		}
	}()

	value, err := task.Run(ctx)
	if err != nil {
		p.logger.Debug("task failed", "task_id", task.ID, "error", err)
		res.Err = err
		return res
	}
	res.Value = value
	return res
}

// Submit queues a task. The callback fires exactly once, with a nil Value
// when the task failed. There is no retry inside the pool; retry, if
// wanted, is the caller's job.
func (p *Pool) Submit(task Task, cb Callback) error {
	if p.stopped.Load() {
		return ErrStopped
	}
	// Count before the send so an idle check never sees the gap between
	// handoff and accounting.
	p.queued.Add(1)
	select {
	case p.submitCh <- submission{task: task, cb: cb}:
		return nil
	default:
		p.queued.Add(-1)
		return ErrQueueFull
	}
}

// SetConcurrency updates the worker ceiling for subsequent dispatches.
// Values outside [MinConcurrency, MaxConcurrency] are clamped.
func (p *Pool) SetConcurrency(n int) {
	if p.stopped.Load() {
		return
	}
	p.setCh <- clampConcurrency(n)
}

// InFlight returns the number of tasks currently executing.
func (p *Pool) InFlight() int {
	return int(p.inFlight.Load())
}

// QueueDepth returns the number of submitted tasks not yet dispatched.
func (p *Pool) QueueDepth() int {
	return int(p.queued.Load())
}

// OnIdle blocks until the queue is empty and no worker is active, polling
// at a fixed interval, or until ctx is cancelled.
func (p *Pool) OnIdle(ctx context.Context) error {
	ticker := time.NewTicker(idlePollInterval)
	defer ticker.Stop()

	for {
		if p.queued.Load() == 0 && p.inFlight.Load() == 0 {
			return nil
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
	}
}
