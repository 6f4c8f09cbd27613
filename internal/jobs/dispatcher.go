package jobs

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog/log"
)

// Task is a unit of detached work. The context carries the per-task timeout
// and is never tied to the request that scheduled it.
type Task func(ctx context.Context) error

type queuedTask struct {
	name string
	fn   Task
}

// Dispatcher runs detached tasks on a bounded worker pool. Dispatch never
// blocks the caller: when the queue is full the task is dropped.
type Dispatcher struct {
	queue   chan queuedTask
	workers int
	timeout time.Duration

	mu      sync.RWMutex
	stopped bool
	wg      sync.WaitGroup
	dropped atomic.Int64
}

func NewDispatcher(workers, queueSize int, timeout time.Duration) *Dispatcher {
	if workers < 1 {
		workers = 1
	}
	if queueSize < 1 {
		queueSize = 1
	}
	return &Dispatcher{
		queue:   make(chan queuedTask, queueSize),
		workers: workers,
		timeout: timeout,
	}
}

func (d *Dispatcher) Start() {
	for i := 0; i < d.workers; i++ {
		d.wg.Add(1)
		go d.work()
	}
	log.Info().Int("workers", d.workers).Int("queue", cap(d.queue)).Msg("detached task dispatcher started")
}

// Dispatch enqueues fn and reports whether it was accepted.
func (d *Dispatcher) Dispatch(name string, fn Task) bool {
	d.mu.RLock()
	defer d.mu.RUnlock()

	if d.stopped {
		d.dropped.Add(1)
		log.Warn().Str("task", name).Msg("dispatcher stopped, dropping task")
		return false
	}

	select {
	case d.queue <- queuedTask{name: name, fn: fn}:
		return true
	default:
		d.dropped.Add(1)
		log.Warn().Str("task", name).Msg("detached task queue full, dropping task")
		return false
	}
}

// Dropped returns how many tasks were rejected since creation.
func (d *Dispatcher) Dropped() int64 {
	return d.dropped.Load()
}

// Stop rejects new tasks and waits for queued ones to finish.
func (d *Dispatcher) Stop() {
	d.mu.Lock()
	if d.stopped {
		d.mu.Unlock()
		return
	}
	d.stopped = true
	close(d.queue)
	d.mu.Unlock()

	d.wg.Wait()
	log.Info().Msg("detached task dispatcher stopped")
}

func (d *Dispatcher) work() {
	defer d.wg.Done()
	for task := range d.queue {
		d.run(task)
	}
}

func (d *Dispatcher) run(task queuedTask) {
	ctx, cancel := context.WithTimeout(context.Background(), d.timeout)
	defer cancel()

	defer func() {
		if p := recover(); p != nil {
			log.Error().Str("task", task.name).Interface("panic", p).Msg("detached task panicked")
		}
	}()

	if err := task.fn(ctx); err != nil {
		log.Warn().Err(err).Str("task", task.name).Msg("detached task failed")
	}
}
