// Package scheduler runs named tasks on cron schedules with an overlap
// guard: a tick is skipped while the previous run of the same task is still
// in flight.
package scheduler

import (
	"context"
	"fmt"
	"sync"

	mapset "github.com/deckarep/golang-set/v2"
	cron "github.com/robfig/cron"

	"github.com/docstream/corpusd/internal/logger"
)

// Task is a unit of recurring work.
type Task interface {
	Name() string
	Schedule() string
	Run(ctx context.Context)
}

// Scheduler drives registered tasks until Stop is called.
type Scheduler struct {
	cron    *cron.Cron
	tasks   []Task
	running mapset.Set[string]
	mu      sync.Mutex
	log     *logger.Logger

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

func New(tasks []Task, log *logger.Logger) *Scheduler {
	ctx, cancel := context.WithCancel(context.Background())
	return &Scheduler{
		cron:    cron.New(),
		tasks:   tasks,
		running: mapset.NewSet[string](),
		log:     log,
		ctx:     ctx,
		cancel:  cancel,
	}
}

// Start registers every task with the cron and begins ticking.
func (s *Scheduler) Start() error {
	for _, task := range s.tasks {
		task := task
		err := s.cron.AddFunc(task.Schedule(), func() {
			s.runGuarded(task)
		})
		if err != nil {
			return fmt.Errorf("failed to schedule task %s: %w", task.Name(), err)
		}
	}
	s.cron.Start()
	s.log.Infof("scheduler started with %d tasks", len(s.tasks))
	return nil
}

func (s *Scheduler) runGuarded(task Task) {
	s.mu.Lock()
	if s.running.Contains(task.Name()) {
		s.mu.Unlock()
		s.log.WithField("task", task.Name()).Debug("previous run still in flight, skipping tick")
		return
	}
	s.running.Add(task.Name())
	s.mu.Unlock()

	s.wg.Add(1)
	defer s.wg.Done()
	defer func() {
		s.mu.Lock()
		s.running.Remove(task.Name())
		s.mu.Unlock()
	}()

	if s.ctx.Err() != nil {
		return
	}
	task.Run(s.ctx)
}

// Stop halts ticking, cancels in-flight runs and waits for them to return.
func (s *Scheduler) Stop() {
	s.cron.Stop()
	s.cancel()
	s.wg.Wait()
	s.log.Info("scheduler stopped")
}
