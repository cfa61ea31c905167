// Package queue runs predictions through a bounded FIFO served by a fixed
// number of workers, reporting each waiting job's position as it moves.
package queue

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/samcharles93/longask/internal/logger"
)

var (
	ErrQueueFull = errors.New("queue: full")
	ErrClosed    = errors.New("queue: closed")
)

// Task is the unit of work. ctx is the submitter's context.
type Task func(ctx context.Context) error

type EventKind string

const (
	Estimation    EventKind = "estimation"
	ProcessStarts EventKind = "process_starts"
)

// Event describes a job's place in the queue. Rank is zero-based among
// waiting jobs.
type Event struct {
	Kind      EventKind
	Rank      int
	QueueSize int
	ETA       time.Duration
}

type Stats struct {
	Pending   int
	Running   int
	Processed int
	Workers   int
	AvgTime   time.Duration
}

type job struct {
	ctx    context.Context
	task   Task
	notify func(Event)
	done   chan error
}

type Queue struct {
	mu        sync.Mutex
	cond      *sync.Cond
	pending   []*job
	maxSize   int
	workers   int
	running   int
	processed int
	avg       time.Duration
	closed    bool
	wg        sync.WaitGroup
	log       logger.Logger
}

// New starts workers goroutines. maxSize bounds the number of waiting jobs;
// zero or less means unbounded.
func New(workers, maxSize int, log logger.Logger) *Queue {
	if workers <= 0 {
		workers = 1
	}
	if log == nil {
		log = logger.Discard()
	}
	q := &Queue{
		maxSize: maxSize,
		workers: workers,
		log:     log.With(logger.ComponentKey, "queue"),
	}
	q.cond = sync.NewCond(&q.mu)
	q.wg.Add(workers)
	for range workers {
		go q.worker()
	}
	return q
}

// Submit enqueues task and blocks until it has run or ctx is done. notify,
// when set, receives position updates and must not block.
func (q *Queue) Submit(ctx context.Context, task Task, notify func(Event)) error {
	j := &job{ctx: ctx, task: task, notify: notify, done: make(chan error, 1)}

	q.mu.Lock()
	if q.closed {
		q.mu.Unlock()
		return ErrClosed
	}
	if q.maxSize > 0 && len(q.pending) >= q.maxSize {
		q.mu.Unlock()
		return ErrQueueFull
	}
	q.pending = append(q.pending, j)
	events := q.positionsLocked()
	q.cond.Signal()
	q.mu.Unlock()
	deliver(events)

	select {
	case err := <-j.done:
		return err
	case <-ctx.Done():
		if q.remove(j) {
			q.log.Debug("waiting job cancelled")
		}
		return ctx.Err()
	}
}

// Stats returns a snapshot of the queue.
func (q *Queue) Stats() Stats {
	q.mu.Lock()
	defer q.mu.Unlock()
	return Stats{
		Pending:   len(q.pending),
		Running:   q.running,
		Processed: q.processed,
		Workers:   q.workers,
		AvgTime:   q.avg,
	}
}

// Close stops accepting jobs, lets queued and running jobs finish, and waits
// for the workers until ctx is done.
func (q *Queue) Close(ctx context.Context) error {
	q.mu.Lock()
	q.closed = true
	q.cond.Broadcast()
	q.mu.Unlock()

	done := make(chan struct{})
	go func() {
		q.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (q *Queue) worker() {
	defer q.wg.Done()
	for {
		j := q.next()
		if j == nil {
			return
		}
		q.run(j)
	}
}

func (q *Queue) next() *job {
	q.mu.Lock()
	for len(q.pending) == 0 && !q.closed {
		q.cond.Wait()
	}
	if len(q.pending) == 0 {
		q.mu.Unlock()
		return nil
	}
	j := q.pending[0]
	q.pending[0] = nil
	q.pending = q.pending[1:]
	q.running++
	events := q.positionsLocked()
	q.mu.Unlock()

	deliver(events)
	return j
}

func (q *Queue) run(j *job) {
	if err := j.ctx.Err(); err != nil {
		q.finish(0, false)
		j.done <- err
		return
	}
	if j.notify != nil {
		j.notify(Event{Kind: ProcessStarts})
	}

	start := time.Now()
	err := q.safeRun(j)
	elapsed := time.Since(start)
	q.finish(elapsed, true)
	q.log.Debug("job done", "took", elapsed, "error", err)
	j.done <- err
}

func (q *Queue) safeRun(j *job) (err error) {
	defer func() {
		if r := recover(); r != nil {
			q.log.Error("task panic", "panic", r)
			err = errors.New("queue: task panicked")
		}
	}()
	return j.task(j.ctx)
}

func (q *Queue) finish(elapsed time.Duration, ran bool) {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.running--
	if !ran {
		return
	}
	q.processed++
	if q.avg == 0 {
		q.avg = elapsed
	} else {
		// Exponential moving average, weight 1/4 on the newest job.
		q.avg = (3*q.avg + elapsed) / 4
	}
}

func (q *Queue) remove(target *job) bool {
	q.mu.Lock()
	idx := -1
	for i, j := range q.pending {
		if j == target {
			idx = i
			break
		}
	}
	if idx < 0 {
		q.mu.Unlock()
		return false
	}
	q.pending = append(q.pending[:idx], q.pending[idx+1:]...)
	events := q.positionsLocked()
	q.mu.Unlock()
	deliver(events)
	return true
}

type delivery struct {
	notify func(Event)
	ev     Event
}

func (q *Queue) positionsLocked() []delivery {
	out := make([]delivery, 0, len(q.pending))
	for i, j := range q.pending {
		if j.notify == nil {
			continue
		}
		ev := Event{Kind: Estimation, Rank: i, QueueSize: len(q.pending)}
		if q.avg > 0 {
			ev.ETA = time.Duration(i/q.workers+1) * q.avg
		}
		out = append(out, delivery{notify: j.notify, ev: ev})
	}
	return out
}

func deliver(events []delivery) {
	for _, d := range events {
		d.notify(d.ev)
	}
}
