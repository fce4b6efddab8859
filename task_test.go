// Copyright 2022 Medusa. All rights reserved.
// Use of this source code is governed by Apache v2 license
// license that can be found in the LICENSE file.

package medusa

import (
	"runtime"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTaskManagerCounter(t *testing.T) {
	var mu sync.Mutex
	counter := 0

	tasks := make([]*Task, 0, 1000)
	tm := NewTaskManager(nil)
	tm.Start()
	defer tm.Stop()

	for i := 0; i < 1000; i++ {
		task := NewTask("increment", func() {
			mu.Lock()
			counter++
			mu.Unlock()
		})
		tasks = append(tasks, task)
		require.NoError(t, tm.AddTask(task))
	}
	tm.Wait()

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, 1000, counter)
	for _, task := range tasks {
		assert.Equal(t, TaskDone, task.Status())
	}
}

func TestTaskManagerNotRunning(t *testing.T) {
	tm := NewTaskManager(nil)
	err := tm.AddTask(NewTask("too early", func() {}))
	require.ErrorIs(t, err, ErrNotRunning)

	tm.Start()
	require.NoError(t, tm.AddTask(NewTask("ok", func() {})))
	tm.Stop()

	err = tm.AddTask(NewTask("too late", func() {}))
	require.ErrorIs(t, err, ErrNotRunning)
}

func TestTaskManagerCompletionCallback(t *testing.T) {
	var done int32
	tm := NewTaskManager(func(task *Task) {
		assert.Equal(t, TaskDone, task.Status())
		atomic.AddInt32(&done, 1)
	})
	tm.Start()
	defer tm.Stop()

	for i := 0; i < 10; i++ {
		require.NoError(t, tm.AddTask(NewTask("unit", func() {})))
	}
	tm.Wait()
	assert.EqualValues(t, 10, atomic.LoadInt32(&done))
}

func TestTaskManagerPanicContainment(t *testing.T) {
	var executed int32
	tm := NewTaskManager(nil)
	tm.Start()
	defer tm.Stop()

	require.NoError(t, tm.AddTask(NewTask("boom", func() {
		panic("broken provider")
	})))
	require.NoError(t, tm.AddTask(NewTask("survivor", func() {
		atomic.AddInt32(&executed, 1)
	})))
	tm.Wait()

	assert.EqualValues(t, 1, atomic.LoadInt32(&executed))
}

func TestTaskManagerStopCancelsPending(t *testing.T) {
	tm := NewTaskManager(nil)
	tm.Start()

	// Pin every worker on a blocker so the flood below stays queued.
	workers := runtime.NumCPU()
	if workers < 1 {
		workers = 1
	}
	release := make(chan struct{})
	var started sync.WaitGroup
	started.Add(workers)
	blockers := make([]*Task, 0, workers)
	for i := 0; i < workers; i++ {
		task := NewTask("blocker", func() {
			started.Done()
			<-release
		})
		blockers = append(blockers, task)
		require.NoError(t, tm.AddTask(task))
	}
	started.Wait()

	pending := make([]*Task, 0, 64)
	for i := 0; i < 64; i++ {
		task := NewTask("pending", func() {})
		pending = append(pending, task)
		require.NoError(t, tm.AddTask(task))
	}

	stopDone := make(chan struct{})
	go func() {
		tm.Stop()
		close(stopDone)
	}()
	require.Eventually(t, func() bool {
		tm.mu.Lock()
		defer tm.mu.Unlock()
		return !tm.running
	}, time.Second, time.Millisecond)
	close(release)
	<-stopDone

	for _, task := range blockers {
		assert.Equal(t, TaskDone, task.Status())
	}
	for _, task := range pending {
		assert.Equal(t, TaskCancelled, task.Status())
	}
}

func TestTaskManagerWaitIdle(t *testing.T) {
	tm := NewTaskManager(nil)
	tm.Start()
	defer tm.Stop()

	for i := 0; i < 100; i++ {
		require.NoError(t, tm.AddTask(NewTask("spin", func() {})))
	}
	tm.Wait()

	tm.mu.Lock()
	defer tm.mu.Unlock()
	assert.Empty(t, tm.queue)
	assert.Zero(t, tm.busy)
}
