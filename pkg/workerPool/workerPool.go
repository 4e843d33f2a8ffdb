// Package workerpool runs jobs on a fixed set of goroutines. Jobs are grouped
// into rooms; a room collects the errors of its own jobs so several callers
// can share one pool.
package workerpool

import (
	"runtime"
	"sync"

	"github.com/pkg/errors"
	"go.uber.org/multierr"
)

// ErrClosed is returned when submitting to a closed pool.
var ErrClosed = errors.New("worker pool is closed")

type Config struct {
	WorkerCount  int
	GlobalBuffer int
}

type WorkerPool struct {
	config    Config
	taskQueue chan task
	workers   sync.WaitGroup

	mu     sync.RWMutex
	closed bool
}

type task struct {
	run  func() error
	room *Room
}

// Room tracks a group of jobs submitted to the pool.
type Room struct {
	wp *WorkerPool
	wg sync.WaitGroup

	mu  sync.Mutex
	err error
}

func NewWorkerPool(config Config) *WorkerPool {
	if config.WorkerCount < 1 {
		config.WorkerCount = runtime.NumCPU() * 3
	}

	if config.GlobalBuffer < 1 {
		config.GlobalBuffer = 10000
	}

	wp := &WorkerPool{
		config:    config,
		taskQueue: make(chan task, config.GlobalBuffer),
	}

	wp.workers.Add(config.WorkerCount)
	for i := 0; i < config.WorkerCount; i++ {
		go wp.worker()
	}

	return wp
}

func (wp *WorkerPool) worker() {
	defer wp.workers.Done()
	for t := range wp.taskQueue {
		t.room.finish(t.run())
	}
}

func (wp *WorkerPool) CreateRoom() *Room {
	return &Room{wp: wp}
}

// Close stops the workers after the queued jobs have run.
func (wp *WorkerPool) Close() {
	wp.mu.Lock()
	if !wp.closed {
		wp.closed = true
		close(wp.taskQueue)
	}
	wp.mu.Unlock()
	wp.workers.Wait()
}

// Run executes all jobs on the pool and returns their combined errors.
func (wp *WorkerPool) Run(jobs []func() error) error {
	room := wp.CreateRoom()
	for _, job := range jobs {
		if err := room.NewTaskWaitForFreeSlot(job); err != nil {
			return multierr.Append(err, room.Wait())
		}
	}
	return room.Wait()
}

// NewTaskWaitForFreeSlot queues a job, blocking while the global buffer is
// full.
func (ro *Room) NewTaskWaitForFreeSlot(job func() error) error {
	ro.wp.mu.RLock()
	defer ro.wp.mu.RUnlock()
	if ro.wp.closed {
		return ErrClosed
	}

	ro.wg.Add(1)
	ro.wp.taskQueue <- task{run: job, room: ro}
	return nil
}

// NewTask queues a job or fails immediately when the global buffer is full.
func (ro *Room) NewTask(job func() error) error {
	if len(ro.wp.taskQueue) == cap(ro.wp.taskQueue) {
		return errors.New("global buffer is full, wait for some tasks to finish or increase the buffer size")
	}
	return ro.NewTaskWaitForFreeSlot(job)
}

func (ro *Room) finish(err error) {
	if err != nil {
		ro.mu.Lock()
		ro.err = multierr.Append(ro.err, err)
		ro.mu.Unlock()
	}
	ro.wg.Done()
}

// Wait blocks until every job of the room has run and returns their errors.
func (ro *Room) Wait() error {
	ro.wg.Wait()
	ro.mu.Lock()
	defer ro.mu.Unlock()
	return ro.err
}
