package scheduler

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/docstream/corpusd/internal/logger"
)

type blockingTask struct {
	started chan struct{}
	release chan struct{}
	runs    atomic.Int32
}

func (t *blockingTask) Name() string     { return "blocking" }
func (t *blockingTask) Schedule() string { return "@every 1s" }
func (t *blockingTask) Run(ctx context.Context) {
	t.runs.Add(1)
	close(t.started)
	<-t.release
}

func TestRunGuardedSkipsOverlappingTicks(t *testing.T) {
	task := &blockingTask{
		started: make(chan struct{}),
		release: make(chan struct{}),
	}
	s := New([]Task{task}, logger.New(&logger.Config{Level: "error", Format: "text"}))

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		s.runGuarded(task)
	}()
	<-task.started

	// second tick while the first is still running
	s.runGuarded(task)
	assert.EqualValues(t, 1, task.runs.Load(), "overlapping tick must be skipped")

	close(task.release)
	wg.Wait()
}

type countingTask struct {
	runs atomic.Int32
}

func (t *countingTask) Name() string            { return "counting" }
func (t *countingTask) Schedule() string        { return "@every 1s" }
func (t *countingTask) Run(ctx context.Context) { t.runs.Add(1) }

func TestRunGuardedSequentialRuns(t *testing.T) {
	task := &countingTask{}
	s := New([]Task{task}, logger.New(&logger.Config{Level: "error", Format: "text"}))

	s.runGuarded(task)
	s.runGuarded(task)
	assert.EqualValues(t, 2, task.runs.Load())
}

func TestStopCancelsInFlightRuns(t *testing.T) {
	task := &cancelAwareTask{done: make(chan struct{})}
	s := New([]Task{task}, logger.New(&logger.Config{Level: "error", Format: "text"}))

	go s.runGuarded(task)

	select {
	case <-task.done:
	case <-time.After(time.Second):
		t.Fatal("task never observed start")
	}

	finished := make(chan struct{})
	go func() {
		s.Stop()
		close(finished)
	}()

	select {
	case <-finished:
	case <-time.After(time.Second):
		t.Fatal("Stop did not return after cancelling the task")
	}
}

type cancelAwareTask struct {
	done chan struct{}
}

func (t *cancelAwareTask) Name() string     { return "cancel-aware" }
func (t *cancelAwareTask) Schedule() string { return "@every 1s" }
func (t *cancelAwareTask) Run(ctx context.Context) {
	close(t.done)
	<-ctx.Done()
}
