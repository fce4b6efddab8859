// Copyright 2022 Medusa. All rights reserved.
// Use of this source code is governed by Apache v2 license
// license that can be found in the LICENSE file.

package medusa

import (
	"runtime"
	"sync"

	"github.com/medusa-re/medusa/log"
)

// TaskStatus is the lifecycle state of a task.
type TaskStatus uint8

const (
	// TaskPending means the task sits in the queue.
	TaskPending TaskStatus = iota

	// TaskRunning means a worker is executing the task.
	TaskRunning

	// TaskDone means the task finished, successfully or not.
	TaskDone

	// TaskCancelled means the task was dropped before execution.
	TaskCancelled
)

// String implements Stringer.
func (s TaskStatus) String() string {
	switch s {
	case TaskPending:
		return "pending"
	case TaskRunning:
		return "running"
	case TaskDone:
		return "done"
	case TaskCancelled:
		return "cancelled"
	default:
		return "unknown"
	}
}

// Task is a unit of deferred analysis work.
type Task struct {
	name string
	work func()

	mu     sync.Mutex
	status TaskStatus
}

// NewTask wraps a closure into a named task.
func NewTask(name string, work func()) *Task {
	return &Task{name: name, work: work}
}

// Name returns the task name.
func (t *Task) Name() string {
	return t.name
}

// Status returns the current lifecycle state.
func (t *Task) Status() TaskStatus {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.status
}

func (t *Task) setStatus(s TaskStatus) {
	t.mu.Lock()
	t.status = s
	t.mu.Unlock()
}

// TaskManager is a FIFO work queue drained by a fixed pool of workers.
// Tasks submitted from one goroutine execute in submission order
// relative to each other; tasks submitted concurrently carry no mutual
// order.
type TaskManager struct {
	onDone  func(*Task)
	workers int
	logger  *log.Helper

	mu      sync.Mutex
	notEmpty *sync.Cond
	idle     *sync.Cond
	queue    []*Task
	busy     int
	running  bool
	wg       sync.WaitGroup
}

// NewTaskManager returns a stopped manager. onDone, when non-nil, is
// invoked after each executed task. The worker count defaults to the
// available hardware parallelism, minimum one.
func NewTaskManager(onDone func(*Task)) *TaskManager {
	workers := runtime.NumCPU()
	if workers < 1 {
		workers = 1
	}
	tm := &TaskManager{
		onDone:  onDone,
		workers: workers,
	}
	tm.notEmpty = sync.NewCond(&tm.mu)
	tm.idle = sync.NewCond(&tm.mu)
	return tm
}

// SetLogger installs the logger used for task failures.
func (tm *TaskManager) SetLogger(logger *log.Helper) {
	tm.logger = logger
}

// Start spawns the workers. Starting a running manager is a no-op.
func (tm *TaskManager) Start() {
	tm.mu.Lock()
	defer tm.mu.Unlock()
	if tm.running {
		return
	}
	tm.running = true
	tm.wg.Add(tm.workers)
	for i := 0; i < tm.workers; i++ {
		go tm.worker()
	}
}

// AddTask appends a task to the queue. Submitting to a stopped manager
// fails with ErrNotRunning.
func (tm *TaskManager) AddTask(task *Task) error {
	tm.mu.Lock()
	defer tm.mu.Unlock()
	if !tm.running {
		return ErrNotRunning
	}
	tm.queue = append(tm.queue, task)
	tm.notEmpty.Signal()
	return nil
}

// Wait blocks until the queue is empty and no worker is executing.
func (tm *TaskManager) Wait() {
	tm.mu.Lock()
	defer tm.mu.Unlock()
	for len(tm.queue) > 0 || tm.busy > 0 {
		tm.idle.Wait()
	}
}

// Stop cancels pending tasks, lets running ones complete, joins the
// workers and leaves the manager stopped.
func (tm *TaskManager) Stop() {
	tm.mu.Lock()
	if !tm.running {
		tm.mu.Unlock()
		return
	}
	tm.running = false
	for _, task := range tm.queue {
		task.setStatus(TaskCancelled)
	}
	tm.queue = nil
	tm.notEmpty.Broadcast()
	tm.mu.Unlock()

	tm.wg.Wait()

	tm.mu.Lock()
	tm.idle.Broadcast()
	tm.mu.Unlock()
}

// worker pops tasks until the manager stops.
func (tm *TaskManager) worker() {
	defer tm.wg.Done()
	for {
		tm.mu.Lock()
		for tm.running && len(tm.queue) == 0 {
			tm.notEmpty.Wait()
		}
		if !tm.running {
			tm.mu.Unlock()
			return
		}
		task := tm.queue[0]
		tm.queue = tm.queue[1:]
		tm.busy++
		tm.mu.Unlock()

		tm.execute(task)

		tm.mu.Lock()
		tm.busy--
		if len(tm.queue) == 0 && tm.busy == 0 {
			tm.idle.Broadcast()
		}
		tm.mu.Unlock()
	}
}

// execute runs one task, containing panics so a failing task cannot take
// the worker pool down.
func (tm *TaskManager) execute(task *Task) {
	task.setStatus(TaskRunning)
	func() {
		// Keep draining the queue even though a task blew up.
		defer func() {
			if e := recover(); e != nil && tm.logger != nil {
				tm.logger.Errorf("task %q failed, reason: %v", task.Name(), e)
			}
		}()
		task.work()
	}()
	task.setStatus(TaskDone)
	if tm.onDone != nil {
		tm.onDone(task)
	}
}
