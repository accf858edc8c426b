// Package dispatch serializes mutating operations per room. Each room
// gets a lazily created ordered mailbox drained one task at a time by
// whichever worker from a shared bounded pool picks it up, so rooms
// that are mostly idle never hold a worker.
package dispatch

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"relay/internal/observability/metrics"
)

var ErrQueueFull = errors.New("dispatch: room queue full")

// Task is one unit of per-room work. It receives the dispatcher's base
// context: enqueued tasks are never cancelled mid-flight.
type Task func(ctx context.Context) (any, error)

type result struct {
	value any
	err   error
}

type job struct {
	task Task
	done chan result // buffered; nil result channel is never used
}

type mailbox struct {
	mu         sync.Mutex
	queue      []*job
	running    bool
	lastActive time.Time
}

type Options struct {
	Workers       int
	QueueCapacity int
	IdleAfter     time.Duration
}

type Dispatcher struct {
	mu    sync.Mutex
	rooms map[uuid.UUID]*mailbox

	workers  chan struct{}
	queueCap int
	idle     time.Duration

	baseCtx context.Context
	now     func() time.Time
	logger  *slog.Logger
}

func New(ctx context.Context, opts Options, logger *slog.Logger) *Dispatcher {
	if opts.Workers <= 0 {
		opts.Workers = 32
	}
	if opts.QueueCapacity <= 0 {
		opts.QueueCapacity = 2048
	}
	if opts.IdleAfter <= 0 {
		opts.IdleAfter = 5 * time.Minute
	}
	return &Dispatcher{
		rooms:    make(map[uuid.UUID]*mailbox),
		workers:  make(chan struct{}, opts.Workers),
		queueCap: opts.QueueCapacity,
		idle:     opts.IdleAfter,
		baseCtx:  ctx,
		now:      time.Now,
		logger:   logger,
	}
}

// Execute enqueues the task for the room and returns without waiting
// for it to run. A saturated room queue yields ErrQueueFull instead of
// dropping or reordering anything.
func (d *Dispatcher) Execute(roomID uuid.UUID, task Task) error {
	return d.enqueue(roomID, &job{task: task, done: make(chan result, 1)})
}

// ExecuteAndWait enqueues the task and blocks until it completes,
// returning its result or failure. Cancelling ctx abandons the wait
// but not the task: once enqueued, it will still run in order.
func (d *Dispatcher) ExecuteAndWait(ctx context.Context, roomID uuid.UUID, task Task) (any, error) {
	j := &job{task: task, done: make(chan result, 1)}
	if err := d.enqueue(roomID, j); err != nil {
		return nil, err
	}
	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case res := <-j.done:
		return res.value, res.err
	}
}

func (d *Dispatcher) enqueue(roomID uuid.UUID, j *job) error {
	d.mu.Lock()
	m, ok := d.rooms[roomID]
	if !ok {
		m = &mailbox{}
		d.rooms[roomID] = m
	}
	m.mu.Lock()
	d.mu.Unlock()

	if len(m.queue) >= d.queueCap {
		m.mu.Unlock()
		metrics.RoomQueueRejectionsTotal.Inc()
		return ErrQueueFull
	}
	m.queue = append(m.queue, j)
	m.lastActive = d.now()
	wake := !m.running
	if wake {
		m.running = true
	}
	m.mu.Unlock()

	if wake {
		go d.drain(m)
	}
	return nil
}

// drain holds one worker slot while the mailbox has work, then gives
// it back so idle rooms never pin a worker.
func (d *Dispatcher) drain(m *mailbox) {
	d.workers <- struct{}{}
	defer func() { <-d.workers }()

	for {
		m.mu.Lock()
		if len(m.queue) == 0 {
			m.running = false
			m.lastActive = d.now()
			m.mu.Unlock()
			return
		}
		j := m.queue[0]
		m.queue = m.queue[1:]
		m.mu.Unlock()

		d.run(j)
	}
}

func (d *Dispatcher) run(j *job) {
	defer func() {
		if r := recover(); r != nil {
			d.logger.Error("room task panicked", "panic", r)
			metrics.RoomTasksTotal.WithLabelValues("panic").Inc()
			j.done <- result{err: errors.New("dispatch: task panicked")}
		}
	}()

	value, err := j.task(d.baseCtx)
	if err != nil {
		metrics.RoomTasksTotal.WithLabelValues("error").Inc()
	} else {
		metrics.RoomTasksTotal.WithLabelValues("ok").Inc()
	}
	j.done <- result{value: value, err: err}
}

// SweepIdle removes mailbox structures for rooms whose backlog is
// empty and that have been untouched past the idle threshold, so
// long-tail low-traffic rooms do not leak memory. Returns the count
// reclaimed.
func (d *Dispatcher) SweepIdle() int {
	cutoff := d.now().Add(-d.idle)

	d.mu.Lock()
	defer d.mu.Unlock()

	reclaimed := 0
	for roomID, m := range d.rooms {
		m.mu.Lock()
		if !m.running && len(m.queue) == 0 && m.lastActive.Before(cutoff) {
			delete(d.rooms, roomID)
			reclaimed++
		}
		m.mu.Unlock()
	}
	return reclaimed
}

// Run sweeps idle rooms on a fixed interval until ctx is cancelled.
func (d *Dispatcher) Run(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if n := d.SweepIdle(); n > 0 {
				d.logger.Debug("idle room sweep", "reclaimed", n)
			}
		}
	}
}

// Rooms returns the number of live mailbox structures.
func (d *Dispatcher) Rooms() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.rooms)
}
